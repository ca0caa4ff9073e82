package gateway

import (
	"log"
	"time"

	"rally/internal/game"
	"rally/internal/history"
	"rally/internal/hub"
	"rally/pkg/types"
)

// MatchRecorder receives finished matches for durable storage. The
// call is fire-and-forget: implementations must not block, and their
// failures never affect the in-memory transition that already happened.
type MatchRecorder interface {
	Record(history.Match)
}

// Resolver converts departures (abrupt disconnects and explicit
// leaves) into deterministic session outcomes, and finalizes every
// finished game the same way regardless of how it ended.
type Resolver struct {
	store    *game.Store
	hub      *hub.Hub
	recorder MatchRecorder
	grace    time.Duration
}

// NewResolver builds a resolver. recorder may be nil when history
// persistence is disabled. grace is how long a finished game stays in
// the store so in-flight broadcasts land before the id turns
// unresolvable.
func NewResolver(store *game.Store, h *hub.Hub, recorder MatchRecorder, grace time.Duration) *Resolver {
	if grace <= 0 {
		grace = 5 * time.Second
	}
	return &Resolver{store: store, hub: h, recorder: recorder, grace: grace}
}

// HandleDeparture applies the departure policy for one connection
// leaving one game:
//
//   - waiting game, no second occupant: delete immediately, no forfeit
//   - playing game, departing identity is an occupant: other occupant
//     wins with a forced decisive score
//   - spectator departure or already-finished game: no state change
func (r *Resolver) HandleDeparture(gameID, playerID string, reason types.FinishReason) {
	if r.store.DeleteIfAbandoned(gameID) {
		log.Printf("deleted abandoned game: id=%s player=%s", gameID, playerID)
		return
	}

	snap, winner, ok := r.store.Forfeit(gameID, playerID)
	if !ok {
		return
	}

	log.Printf("game forfeited: id=%s departed=%s winner=%s reason=%s",
		gameID, playerID, winner.ID, reason)

	r.finish(snap, winner, reason)
}

// FinishedByScore finalizes a game that just reached the winning
// threshold through a score update. The snapshot must already be in
// its terminal state.
func (r *Resolver) FinishedByScore(snap types.GameSnapshot) {
	if snap.Status != types.StatusFinished {
		return
	}
	r.finish(snap, snapshotWinner(snap), "")
}

// finish broadcasts the terminal event, records the match, and
// schedules the store deletion after the grace window. The broadcast
// happens before anything else so every group member sees the outcome
// while the session is still resolvable.
func (r *Resolver) finish(snap types.GameSnapshot, winner types.Player, reason types.FinishReason) {
	env, err := types.NewEnvelope(types.EventGameFinished, types.GameFinished{
		Winner: winner.Username,
		Score1: snap.Score1,
		Score2: snap.Score2,
		Reason: reason,
	})
	if err != nil {
		log.Printf("failed to encode gameFinished: id=%s err=%v", snap.ID, err)
	} else {
		r.hub.Broadcast(snap.ID, env)
	}

	if r.recorder != nil && snap.Player2 != nil {
		var duration time.Duration
		if snap.StartedAt != nil {
			duration = time.Since(*snap.StartedAt)
		}
		r.recorder.Record(history.Match{
			Player1ID: snap.Player1.ID,
			Player2ID: snap.Player2.ID,
			WinnerID:  winner.ID,
			Score1:    snap.Score1,
			Score2:    snap.Score2,
			Duration:  duration,
		})
	}

	gameID := snap.ID
	time.AfterFunc(r.grace, func() {
		if r.store.Delete(gameID) {
			log.Printf("deleted finished game: id=%s", gameID)
		}
	})
}

// snapshotWinner picks the occupant with the higher score. A reported
// tie goes to the second occupant; arbitrary, but deterministic and
// documented.
func snapshotWinner(snap types.GameSnapshot) types.Player {
	if snap.Score1 > snap.Score2 || snap.Player2 == nil {
		return snap.Player1
	}
	return *snap.Player2
}
