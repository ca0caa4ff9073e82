// Package hub implements broadcast groups: the set of connections
// subscribed to one game's state updates. Membership is derived
// bookkeeping owned by the gateway layer; it can always be rebuilt
// from connection-to-game mappings and is not linearizable with the
// game store. Convergence comes from full-snapshot broadcasts.
package hub

import (
	"log"
	"sync"
)

// Subscriber is anything that can receive a fanned-out message. The
// gateway's connection wrapper satisfies it.
type Subscriber interface {
	WriteJSON(v any) error
}

// Hub maps game ids to their broadcast groups.
type Hub struct {
	mu     sync.RWMutex
	groups map[string]map[Subscriber]struct{}
}

func NewHub() *Hub {
	return &Hub{groups: make(map[string]map[Subscriber]struct{})}
}

// Join adds the subscriber to the game's group.
func (h *Hub) Join(gameID string, sub Subscriber) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[gameID]
	if !ok {
		group = make(map[Subscriber]struct{})
		h.groups[gameID] = group
	}
	group[sub] = struct{}{}
}

// Leave removes the subscriber from the game's group. Idempotent;
// empty groups are dropped to keep the map from growing unbounded.
func (h *Hub) Leave(gameID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()

	group, ok := h.groups[gameID]
	if !ok {
		return
	}
	delete(group, sub)
	if len(group) == 0 {
		delete(h.groups, gameID)
	}
}

// Broadcast fans one message out to every current member of the
// game's group, the sender included. Delivery continues past
// individual write failures; a slow or dead subscriber never blocks
// the rest of the group.
func (h *Hub) Broadcast(gameID string, v any) {
	h.mu.RLock()
	members := make([]Subscriber, 0, len(h.groups[gameID]))
	for sub := range h.groups[gameID] {
		members = append(members, sub)
	}
	h.mu.RUnlock()

	for _, sub := range members {
		if err := sub.WriteJSON(v); err != nil {
			log.Printf("broadcast write failed: game=%s err=%v", gameID, err)
		}
	}
}

// GroupSize reports the current member count for a game's group.
func (h *Hub) GroupSize(gameID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups[gameID])
}

// Stats reports group counters for the health endpoint.
func (h *Hub) Stats() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	subscribers := 0
	for _, group := range h.groups {
		subscribers += len(group)
	}
	return map[string]int{
		"groups":      len(h.groups),
		"subscribers": subscribers,
	}
}
