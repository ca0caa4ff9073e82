package game

import (
	"sync"

	"github.com/google/uuid"

	"rally/pkg/types"
)

// Store is the in-memory registry of active games and the single
// serialization point for game mutation. The store mutex guards only
// the id map; each game carries its own lock, so read-modify-write
// sequences on one game never block updates to another.
//
// Lock order is always store.mu before game.mu.
type Store struct {
	mu    sync.RWMutex
	games map[string]*Game
}

func NewStore() *Store {
	return &Store{games: make(map[string]*Game)}
}

// Create registers a new waiting game with the given player as sole
// occupant.
func (s *Store) Create(player types.Player) types.GameSnapshot {
	g := newGame(uuid.New().String(), player)

	s.mu.Lock()
	s.games[g.id] = g
	s.mu.Unlock()

	return g.Snapshot()
}

// Get returns a snapshot of the game, or ok=false if the id is unknown.
// Unknown and already-deleted ids are indistinguishable.
func (s *Store) Get(id string) (types.GameSnapshot, bool) {
	g, ok := s.lookup(id)
	if !ok {
		return types.GameSnapshot{}, false
	}
	return g.Snapshot(), true
}

// ListActive returns snapshots of every game that has not finished.
func (s *Store) ListActive() []types.GameSnapshot {
	s.mu.RLock()
	games := make([]*Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	s.mu.RUnlock()

	active := make([]types.GameSnapshot, 0, len(games))
	for _, g := range games {
		snap := g.Snapshot()
		if snap.Status != types.StatusFinished {
			active = append(active, snap)
		}
	}
	return active
}

// Delete removes the game from the registry. Reports whether anything
// was deleted.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[id]; !ok {
		return false
	}
	delete(s.games, id)
	return true
}

// UpdatePaddle moves the caller's own paddle. Spectators get a no-op
// that still returns the current snapshot. Returns ok=false for
// unknown or finished games; the event is silently dropped upstream.
func (s *Store) UpdatePaddle(id, playerID string, paddleY float64) (types.GameSnapshot, bool) {
	g, ok := s.lookup(id)
	if !ok {
		return types.GameSnapshot{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == types.StatusFinished {
		return types.GameSnapshot{}, false
	}

	switch {
	case g.player1.ID == playerID:
		g.paddle1Y = paddleY
	case g.player2 != nil && g.player2.ID == playerID:
		g.paddle2Y = paddleY
	}
	return g.snapshotLocked(), true
}

// UpdateBall overwrites the ball kinematics. Ball authority belongs to
// a client; the server stores what it is told.
func (s *Store) UpdateBall(id string, x, y, speedX, speedY float64) (types.GameSnapshot, bool) {
	g, ok := s.lookup(id)
	if !ok {
		return types.GameSnapshot{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == types.StatusFinished {
		return types.GameSnapshot{}, false
	}

	g.ballX = x
	g.ballY = y
	g.ballSpeedX = speedX
	g.ballSpeedY = speedY
	return g.snapshotLocked(), true
}

// UpdateScore overwrites both scores as reported and finishes the game
// when either side reaches the winning threshold. The reported pair is
// preserved exactly; there is no monotonicity check.
func (s *Store) UpdateScore(id string, score1, score2 int) (types.GameSnapshot, bool) {
	g, ok := s.lookup(id)
	if !ok {
		return types.GameSnapshot{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status == types.StatusFinished {
		return types.GameSnapshot{}, false
	}

	g.score1 = score1
	g.score2 = score2
	if score1 >= WinningScore || score2 >= WinningScore {
		g.finishLocked()
	}
	return g.snapshotLocked(), true
}

// Forfeit ends a playing game because the given occupant departed. The
// remaining occupant wins with a forced decisive score regardless of
// the score at departure. Returns ok=false when the game is unknown,
// not playing, or the departing identity is a spectator.
func (s *Store) Forfeit(id, departingID string) (snap types.GameSnapshot, winner types.Player, ok bool) {
	g, okFound := s.lookup(id)
	if !okFound {
		return types.GameSnapshot{}, types.Player{}, false
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.status != types.StatusPlaying || g.player2 == nil {
		return types.GameSnapshot{}, types.Player{}, false
	}

	switch departingID {
	case g.player1.ID:
		winner = *g.player2
		g.score1, g.score2 = 0, WinningScore
	case g.player2.ID:
		winner = g.player1
		g.score1, g.score2 = WinningScore, 0
	default:
		return types.GameSnapshot{}, types.Player{}, false
	}

	g.finishLocked()
	return g.snapshotLocked(), winner, true
}

// DeleteIfAbandoned removes a waiting game that never got a second
// occupant. No forfeit is recorded; no game was played.
func (s *Store) DeleteIfAbandoned(id string) bool {
	g, ok := s.lookup(id)
	if !ok {
		return false
	}

	g.mu.Lock()
	abandoned := g.status == types.StatusWaiting && g.player2 == nil
	g.mu.Unlock()

	if !abandoned {
		return false
	}
	return s.Delete(id)
}

// Stats reports registry counters for the health endpoint.
func (s *Store) Stats() map[string]int {
	s.mu.RLock()
	games := make([]*Game, 0, len(s.games))
	for _, g := range s.games {
		games = append(games, g)
	}
	s.mu.RUnlock()

	stats := map[string]int{"games": len(games)}
	for _, g := range games {
		switch g.Snapshot().Status {
		case types.StatusWaiting:
			stats["waiting"]++
		case types.StatusPlaying:
			stats["playing"]++
		case types.StatusFinished:
			stats["finished"]++
		}
	}
	return stats
}

func (s *Store) lookup(id string) (*Game, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.games[id]
	return g, ok
}
