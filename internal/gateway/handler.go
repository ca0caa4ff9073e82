package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rally/internal/auth"
	"rally/internal/game"
	"rally/internal/hub"
	"rally/pkg/types"
)

// Options carries the transport tuning knobs from configuration.
type Options struct {
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	SendBuffer   int
}

func (o Options) withDefaults() Options {
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.SendBuffer <= 0 {
		o.SendBuffer = 100
	}
	return o
}

// Handler terminates websocket connections: it authenticates the
// handshake, tracks connection-to-player and connection-to-game
// mappings, and relays gameplay events between clients and the game
// store, broadcasting the resulting snapshot to the session's group
// after every mutation.
type Handler struct {
	upgrader websocket.Upgrader
	verifier auth.Verifier
	store    *game.Store
	hub      *hub.Hub
	registry *Registry
	resolver *Resolver
	opts     Options
}

func NewHandler(verifier auth.Verifier, store *game.Store, h *hub.Hub, registry *Registry, resolver *Resolver, opts Options) *Handler {
	return &Handler{
		upgrader: websocket.Upgrader{
			HandshakeTimeout: 10 * time.Second,
			CheckOrigin:      func(r *http.Request) bool { return true },
		},
		verifier: verifier,
		store:    store,
		hub:      h,
		registry: registry,
		resolver: resolver,
		opts:     opts.withDefaults(),
	}
}

// HandleWebSocket upgrades the request and authenticates the bearer
// credential supplied at handshake time. An absent or invalid
// credential drops the connection silently: the socket closes without
// a session-layer error, since there is no identity to report against.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = auth.BearerToken(r.Header.Get("Authorization"))
	}
	player, authErr := h.verifier.Verify(token)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("websocket upgrade failed: %v", err)
		return
	}

	if authErr != nil {
		log.Printf("websocket auth failed: %v", authErr)
		_ = ws.Close()
		return
	}

	conn := NewConnection(ws, h.opts.SendBuffer, h.opts.WriteTimeout)
	conn.SetPlayer(player)

	if err := h.registry.Register(conn); err != nil {
		log.Printf("connection registration failed: player=%s err=%v", player.ID, err)
		_ = conn.Close()
		return
	}

	log.Printf("client connected: player=%s username=%s", player.ID, player.Username)
	go h.readLoop(conn)
}

// readLoop is the per-connection execution context: it pumps inbound
// events in order and turns the read error that ends it into the
// disconnect path. Liveness comes from the ping/pong deadline; a
// client that stops responding is reaped here, which triggers the
// forfeit resolver exactly like an abrupt close.
func (h *Handler) readLoop(conn *Connection) {
	player := conn.Player()

	defer func() {
		h.registry.Unregister(conn)
		if gameID := conn.GameID(); gameID != "" {
			h.resolver.HandleDeparture(gameID, player.ID, types.ReasonDisconnect)
			h.hub.Leave(gameID, conn)
		}
		_ = conn.Close()
		log.Printf("client disconnected: player=%s", player.ID)
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout)); err != nil {
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return conn.conn.SetReadDeadline(time.Now().Add(h.opts.ReadTimeout))
	})

	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ticker.C:
				deadline := time.Now().Add(h.opts.WriteTimeout)
				if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					return
				}
			case <-conn.ctx.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("websocket read error: player=%s err=%v", player.ID, err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var env types.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Printf("malformed event dropped: player=%s err=%v", player.ID, err)
			continue
		}
		h.dispatch(conn, &env)
	}
}

// dispatch routes one inbound event. Gameplay events are
// fire-and-forget: updates against unknown or finished games are
// silently dropped, the sender resynchronizes from the next broadcast.
func (h *Handler) dispatch(conn *Connection, env *types.Envelope) {
	if !conn.IsAuthenticated() {
		return
	}
	playerID := conn.Player().ID

	switch env.Event {
	case types.EventJoinGame:
		var p types.JoinGamePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.GameID == "" {
			return
		}
		h.handleJoin(conn, p.GameID)

	case types.EventPaddleMove:
		var p types.PaddleMovePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if snap, ok := h.store.UpdatePaddle(p.GameID, playerID, p.PaddleY); ok {
			h.broadcastState(snap)
		}

	case types.EventBallUpdate:
		var p types.BallUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		if snap, ok := h.store.UpdateBall(p.GameID, p.BallX, p.BallY, p.BallSpeedX, p.BallSpeedY); ok {
			h.broadcastState(snap)
		}

	case types.EventScoreUpdate:
		var p types.ScoreUpdatePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return
		}
		snap, ok := h.store.UpdateScore(p.GameID, p.Score1, p.Score2)
		if !ok {
			return
		}
		h.broadcastState(snap)
		if snap.Status == types.StatusFinished {
			h.resolver.FinishedByScore(snap)
		}

	case types.EventLeaveGame:
		var p types.LeaveGamePayload
		if err := json.Unmarshal(env.Data, &p); err != nil || p.GameID == "" {
			return
		}
		h.resolver.HandleDeparture(p.GameID, playerID, types.ReasonForfeit)
		h.hub.Leave(p.GameID, conn)
		if conn.GameID() == p.GameID {
			conn.SetGameID("")
		}

	default:
		log.Printf("unknown event dropped: player=%s event=%s", playerID, env.Event)
	}
}

// handleJoin subscribes the connection to the game's broadcast group,
// replacing any previous subscription, and pushes the current snapshot
// to the whole group so every member resynchronizes.
func (h *Handler) handleJoin(conn *Connection, gameID string) {
	if prev := conn.GameID(); prev != "" && prev != gameID {
		h.hub.Leave(prev, conn)
	}
	h.hub.Join(gameID, conn)
	conn.SetGameID(gameID)

	log.Printf("client joined game: player=%s game=%s", conn.Player().ID, gameID)

	if snap, ok := h.store.Get(gameID); ok {
		h.broadcastState(snap)
	}
}

func (h *Handler) broadcastState(snap types.GameSnapshot) {
	env, err := types.NewEnvelope(types.EventGameState, snap)
	if err != nil {
		log.Printf("failed to encode gameState: id=%s err=%v", snap.ID, err)
		return
	}
	h.hub.Broadcast(snap.ID, env)
}
