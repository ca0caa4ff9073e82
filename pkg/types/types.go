package types

import (
	"time"
)

// GameStatus is the lifecycle state of a game. Transitions only move
// forward: WAITING -> PLAYING -> FINISHED.
type GameStatus string

const (
	StatusWaiting  GameStatus = "WAITING"
	StatusPlaying  GameStatus = "PLAYING"
	StatusFinished GameStatus = "FINISHED"
)

// Player is an authenticated identity. It is immutable; games hold it
// by value and never modify it.
type Player struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// GameSnapshot is the wire representation of a game's full state. It is
// what gets broadcast as gameState and returned from the REST API. The
// snapshot is a copy; holding one never aliases live game state.
type GameSnapshot struct {
	ID        string     `json:"id"`
	Player1   Player     `json:"player1"`
	Player2   *Player    `json:"player2"`
	Status    GameStatus `json:"status"`
	Score1    int        `json:"score1"`
	Score2    int        `json:"score2"`
	CreatedAt time.Time  `json:"createdAt"`
	StartedAt *time.Time `json:"startedAt"`

	Paddle1Y   float64 `json:"paddle1Y"`
	Paddle2Y   float64 `json:"paddle2Y"`
	BallX      float64 `json:"ballX"`
	BallY      float64 `json:"ballY"`
	BallSpeedX float64 `json:"ballSpeedX"`
	BallSpeedY float64 `json:"ballSpeedY"`
}

// HasPlayer reports whether the given participant occupies one of the
// snapshot's two player slots.
func (s *GameSnapshot) HasPlayer(playerID string) bool {
	if s.Player1.ID == playerID {
		return true
	}
	return s.Player2 != nil && s.Player2.ID == playerID
}

// FinishReason tags a gameFinished event. Absent for a normal
// score-limit finish.
type FinishReason string

const (
	ReasonDisconnect FinishReason = "disconnect"
	ReasonForfeit    FinishReason = "forfeit"
)

// GameFinished is the payload broadcast when a game reaches its
// terminal state. Winner carries the winning player's username.
type GameFinished struct {
	Winner string       `json:"winner"`
	Score1 int          `json:"score1"`
	Score2 int          `json:"score2"`
	Reason FinishReason `json:"reason,omitempty"`
}
