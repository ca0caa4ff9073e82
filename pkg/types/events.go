package types

import "encoding/json"

// Inbound event names accepted over the websocket.
const (
	EventJoinGame    = "joinGame"
	EventPaddleMove  = "paddleMove"
	EventBallUpdate  = "ballUpdate"
	EventScoreUpdate = "scoreUpdate"
	EventLeaveGame   = "leaveGame"
)

// Outbound event names pushed to broadcast groups.
const (
	EventGameState    = "gameState"
	EventGameFinished = "gameFinished"
)

// Envelope frames every websocket message in both directions.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals a payload into an outbound envelope. Marshal
// errors surface to the caller; payloads are plain structs so in
// practice they never fail.
func NewEnvelope(event string, payload any) (*Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Event: event, Data: data}, nil
}

// JoinGamePayload subscribes the connection to a game's broadcast group.
type JoinGamePayload struct {
	GameID string `json:"gameId"`
}

// PaddleMovePayload moves the sender's own paddle.
type PaddleMovePayload struct {
	GameID  string  `json:"gameId"`
	PaddleY float64 `json:"paddleY"`
}

// BallUpdatePayload overwrites ball kinematics. Ball authority is
// delegated to one client; the server relays without validating physics.
type BallUpdatePayload struct {
	GameID     string  `json:"gameId"`
	BallX      float64 `json:"ballX"`
	BallY      float64 `json:"ballY"`
	BallSpeedX float64 `json:"ballSpeedX"`
	BallSpeedY float64 `json:"ballSpeedY"`
}

// ScoreUpdatePayload overwrites both scores as reported by the client.
type ScoreUpdatePayload struct {
	GameID string `json:"gameId"`
	Score1 int    `json:"score1"`
	Score2 int    `json:"score2"`
}

// LeaveGamePayload routes an explicit leave to the forfeit resolver.
type LeaveGamePayload struct {
	GameID string `json:"gameId"`
}
