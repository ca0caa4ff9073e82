package game

import (
	"sync"
	"time"

	"rally/pkg/types"
)

// WinningScore ends the game when either side reaches it.
const WinningScore = 10

// Initial court geometry, mirrored by the client renderer.
const (
	initialPaddleY  = 250
	initialBallX    = 400
	initialBallY    = 300
	initialBallSpdX = 5
	initialBallSpdY = 3
)

// Game is the authoritative session entity. The Store owns every Game
// exclusively; everything outside this package sees only snapshots.
// All field access goes through mu, giving each game its own
// serialization point independent of other games.
type Game struct {
	mu sync.Mutex

	id        string
	player1   types.Player
	player2   *types.Player
	status    types.GameStatus
	score1    int
	score2    int
	createdAt time.Time
	startedAt *time.Time

	paddle1Y   float64
	paddle2Y   float64
	ballX      float64
	ballY      float64
	ballSpeedX float64
	ballSpeedY float64
}

func newGame(id string, player types.Player) *Game {
	return &Game{
		id:        id,
		player1:   player,
		status:    types.StatusWaiting,
		createdAt: time.Now(),

		paddle1Y:   initialPaddleY,
		paddle2Y:   initialPaddleY,
		ballX:      initialBallX,
		ballY:      initialBallY,
		ballSpeedX: initialBallSpdX,
		ballSpeedY: initialBallSpdY,
	}
}

// snapshotLocked copies the full state. Callers must hold mu.
func (g *Game) snapshotLocked() types.GameSnapshot {
	snap := types.GameSnapshot{
		ID:         g.id,
		Player1:    g.player1,
		Status:     g.status,
		Score1:     g.score1,
		Score2:     g.score2,
		CreatedAt:  g.createdAt,
		Paddle1Y:   g.paddle1Y,
		Paddle2Y:   g.paddle2Y,
		BallX:      g.ballX,
		BallY:      g.ballY,
		BallSpeedX: g.ballSpeedX,
		BallSpeedY: g.ballSpeedY,
	}
	if g.player2 != nil {
		p2 := *g.player2
		snap.Player2 = &p2
	}
	if g.startedAt != nil {
		t := *g.startedAt
		snap.StartedAt = &t
	}
	return snap
}

// Snapshot returns a consistent copy of the game state.
func (g *Game) Snapshot() types.GameSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.snapshotLocked()
}

// finishLocked moves the game to its terminal state. Status never moves
// backward, so a finished game stays finished. Callers must hold mu.
func (g *Game) finishLocked() {
	g.status = types.StatusFinished
}
