package game

import "errors"

// Matchmaking and state machine error types. Callers distinguish
// conflicts from not-found so the UI can say "you already have an
// active match" instead of "match missing".
var (
	ErrNotFound        = errors.New("game not found")
	ErrAlreadyOccupied = errors.New("game already has two players")
	ErrSelfJoin        = errors.New("cannot join a game you created")
	ErrNotWaiting      = errors.New("game is no longer accepting players")
	ErrAlreadyInGame   = errors.New("player already has an active game")
)

// IsConflict reports whether err belongs to the occupancy-conflict
// family, as opposed to not-found or invalid-state.
func IsConflict(err error) bool {
	return errors.Is(err, ErrAlreadyOccupied) ||
		errors.Is(err, ErrSelfJoin) ||
		errors.Is(err, ErrAlreadyInGame)
}
