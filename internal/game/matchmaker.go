package game

import (
	"sync"
	"time"

	"rally/pkg/types"
)

// Matchmaker pairs players into games. Its mutex serializes every
// occupancy decision, so two requests racing for the same waiting slot
// resolve cleanly: one wins, the other falls through to creation. The
// one-active-game-per-player invariant lives here, not on the entity.
type Matchmaker struct {
	store *Store
	mu    sync.Mutex
}

func NewMatchmaker(store *Store) *Matchmaker {
	return &Matchmaker{store: store}
}

// FindOrCreate returns a game the player can play in. joined is false
// only when a brand-new waiting game had to be created; re-entering an
// owned game (page reload) and filling a waiting slot both report true.
func (m *Matchmaker) FindOrCreate(player types.Player) (types.GameSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Idempotent re-entry: the player already owns a live game.
	if snap, ok := m.activeGameFor(player.ID, ""); ok {
		return snap, true
	}

	// Any waiting game with an open slot and a different first occupant
	// will do; scan order carries no fairness guarantee.
	for _, g := range m.store.candidates() {
		if snap, err := g.join(player); err == nil {
			return snap, true
		}
	}

	return m.store.Create(player), false
}

// Join targets one specific waiting game, with the same occupancy and
// identity checks as the matchmaking scan.
func (m *Matchmaker) Join(gameID string, player types.Player) (types.GameSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.store.lookup(gameID)
	if !ok {
		return types.GameSnapshot{}, ErrNotFound
	}

	// A different live game already owned by the player blocks the
	// join. The target itself is excluded so that re-joining one's own
	// game surfaces as SelfJoin below, not as this conflict.
	if _, owns := m.activeGameFor(player.ID, gameID); owns {
		return types.GameSnapshot{}, ErrAlreadyInGame
	}

	return g.join(player)
}

// activeGameFor finds the non-finished game the player occupies, if
// any, skipping excludeID.
func (m *Matchmaker) activeGameFor(playerID, excludeID string) (types.GameSnapshot, bool) {
	for _, g := range m.store.candidates() {
		snap := g.Snapshot()
		if snap.ID == excludeID || snap.Status == types.StatusFinished {
			continue
		}
		if snap.HasPlayer(playerID) {
			return snap, true
		}
	}
	return types.GameSnapshot{}, false
}

// join fills the second slot and starts the game. The status recheck
// under the game lock guards against a concurrent finish or forfeit
// between lookup and fill.
func (g *Game) join(player types.Player) (types.GameSnapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.status == types.StatusFinished {
		return types.GameSnapshot{}, ErrNotFound
	}
	if g.player1.ID == player.ID {
		return types.GameSnapshot{}, ErrSelfJoin
	}
	if g.player2 != nil {
		return types.GameSnapshot{}, ErrAlreadyOccupied
	}
	if g.status != types.StatusWaiting {
		return types.GameSnapshot{}, ErrNotWaiting
	}

	p2 := player
	g.player2 = &p2
	g.status = types.StatusPlaying
	now := time.Now()
	g.startedAt = &now
	return g.snapshotLocked(), nil
}

// candidates returns the current games for scanning.
func (s *Store) candidates() []*Game {
	s.mu.RLock()
	defer s.mu.RUnlock()
	games := make([]*Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	return games
}
