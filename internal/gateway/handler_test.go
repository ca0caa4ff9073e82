package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"rally/internal/auth"
	"rally/internal/game"
	"rally/internal/hub"
	"rally/pkg/types"
)

type wsFixture struct {
	store    *game.Store
	mm       *game.Matchmaker
	verifier *auth.JWTVerifier
	server   *httptest.Server
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()

	store := game.NewStore()
	verifier := auth.NewJWTVerifier("test-secret")
	broadcastHub := hub.NewHub()
	registry := NewRegistry()
	resolver := NewResolver(store, broadcastHub, nil, 50*time.Millisecond)

	handler := NewHandler(verifier, store, broadcastHub, registry, resolver, Options{
		PingInterval: time.Second,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: time.Second,
		SendBuffer:   16,
	})

	server := httptest.NewServer(http.HandlerFunc(handler.HandleWebSocket))
	t.Cleanup(server.Close)

	return &wsFixture{
		store:    store,
		mm:       game.NewMatchmaker(store),
		verifier: verifier,
		server:   server,
	}
}

func (f *wsFixture) dial(t *testing.T, player types.Player) *websocket.Conn {
	t.Helper()

	token, err := f.verifier.Issue(player, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=" + url.QueryEscape(token)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func sendEvent(t *testing.T, conn *websocket.Conn, event string, payload any) {
	t.Helper()
	env, err := types.NewEnvelope(event, payload)
	if err != nil {
		t.Fatalf("encode %s: %v", event, err)
	}
	if err := conn.WriteJSON(env); err != nil {
		t.Fatalf("send %s: %v", event, err)
	}
}

func readEnvelope(t *testing.T, conn *websocket.Conn) types.Envelope {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(2 * time.Second)); err != nil {
		t.Fatalf("set read deadline: %v", err)
	}
	var env types.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	return env
}

func readGameState(t *testing.T, conn *websocket.Conn) types.GameSnapshot {
	t.Helper()
	env := readEnvelope(t, conn)
	if env.Event != types.EventGameState {
		t.Fatalf("expected gameState, got %s", env.Event)
	}
	var snap types.GameSnapshot
	if err := json.Unmarshal(env.Data, &snap); err != nil {
		t.Fatalf("decode gameState: %v", err)
	}
	return snap
}

// readUntilFinished skips gameState broadcasts until gameFinished lands.
func readUntilFinished(t *testing.T, conn *websocket.Conn) types.GameFinished {
	t.Helper()
	for i := 0; i < 20; i++ {
		env := readEnvelope(t, conn)
		if env.Event != types.EventGameFinished {
			continue
		}
		var gf types.GameFinished
		if err := json.Unmarshal(env.Data, &gf); err != nil {
			t.Fatalf("decode gameFinished: %v", err)
		}
		return gf
	}
	t.Fatal("gameFinished never arrived")
	return types.GameFinished{}
}

func TestWebSocketRejectsInvalidToken(t *testing.T) {
	f := newWSFixture(t)

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "?token=garbage"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		// Handshake refusal is also acceptable.
		return
	}
	defer conn.Close()

	// The socket upgrades but drops without ever delivering an event.
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("expected unauthenticated socket to be closed")
	}
}

func TestGameplayFlow(t *testing.T) {
	f := newWSFixture(t)

	alice := types.Player{ID: "p1", Username: "alice"}
	bob := types.Player{ID: "p2", Username: "bob"}

	created, _ := f.mm.FindOrCreate(alice)
	if _, err := f.mm.Join(created.ID, bob); err != nil {
		t.Fatalf("setup join failed: %v", err)
	}

	c1 := f.dial(t, alice)
	c2 := f.dial(t, bob)

	// Each join pushes the snapshot to the whole group.
	sendEvent(t, c1, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	readGameState(t, c1)

	sendEvent(t, c2, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	readGameState(t, c1)
	snap := readGameState(t, c2)
	if snap.Status != types.StatusPlaying {
		t.Fatalf("expected PLAYING snapshot, got %s", snap.Status)
	}

	// A paddle move from one side reaches both sides.
	sendEvent(t, c1, types.EventPaddleMove, types.PaddleMovePayload{GameID: created.ID, PaddleY: 123})
	for _, c := range []*websocket.Conn{c1, c2} {
		snap := readGameState(t, c)
		if snap.Paddle1Y != 123 {
			t.Errorf("expected paddle1Y=123, got %v", snap.Paddle1Y)
		}
	}

	// Ball kinematics relay the same way.
	sendEvent(t, c2, types.EventBallUpdate, types.BallUpdatePayload{
		GameID: created.ID, BallX: 42, BallY: 17, BallSpeedX: -5, BallSpeedY: 3,
	})
	for _, c := range []*websocket.Conn{c1, c2} {
		snap := readGameState(t, c)
		if snap.BallX != 42 || snap.BallY != 17 {
			t.Errorf("expected ball at 42,17, got %v,%v", snap.BallX, snap.BallY)
		}
	}

	// Reaching the threshold finishes the game: state broadcast first,
	// then the terminal event.
	sendEvent(t, c1, types.EventScoreUpdate, types.ScoreUpdatePayload{GameID: created.ID, Score1: 10, Score2: 4})
	for _, c := range []*websocket.Conn{c1, c2} {
		snap := readGameState(t, c)
		if snap.Status != types.StatusFinished {
			t.Errorf("expected FINISHED snapshot, got %s", snap.Status)
		}
		gf := readUntilFinished(t, c)
		if gf.Winner != "alice" || gf.Score1 != 10 || gf.Score2 != 4 {
			t.Errorf("unexpected finish: %+v", gf)
		}
		if gf.Reason != "" {
			t.Errorf("score-limit finish must carry no reason, got %q", gf.Reason)
		}
	}
}

func TestDisconnectForfeitsGame(t *testing.T) {
	f := newWSFixture(t)

	alice := types.Player{ID: "p1", Username: "alice"}
	bob := types.Player{ID: "p2", Username: "bob"}

	created, _ := f.mm.FindOrCreate(alice)
	if _, err := f.mm.Join(created.ID, bob); err != nil {
		t.Fatalf("setup join failed: %v", err)
	}

	c1 := f.dial(t, alice)
	c2 := f.dial(t, bob)

	sendEvent(t, c1, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	readGameState(t, c1)
	sendEvent(t, c2, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	readGameState(t, c1)
	readGameState(t, c2)

	// Abrupt close; no leaveGame, no close frame.
	_ = c1.Close()

	gf := readUntilFinished(t, c2)
	if gf.Winner != "bob" {
		t.Errorf("expected remaining player to win, got %q", gf.Winner)
	}
	if gf.Score1 != 0 || gf.Score2 != game.WinningScore {
		t.Errorf("expected forced 0-%d, got %d-%d", game.WinningScore, gf.Score1, gf.Score2)
	}
	if gf.Reason != types.ReasonDisconnect {
		t.Errorf("expected disconnect reason, got %q", gf.Reason)
	}
}

func TestLeaveGameForfeits(t *testing.T) {
	f := newWSFixture(t)

	alice := types.Player{ID: "p1", Username: "alice"}
	bob := types.Player{ID: "p2", Username: "bob"}

	created, _ := f.mm.FindOrCreate(alice)
	if _, err := f.mm.Join(created.ID, bob); err != nil {
		t.Fatalf("setup join failed: %v", err)
	}

	c1 := f.dial(t, alice)
	c2 := f.dial(t, bob)

	sendEvent(t, c1, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	readGameState(t, c1)
	sendEvent(t, c2, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	readGameState(t, c1)
	readGameState(t, c2)

	sendEvent(t, c2, types.EventLeaveGame, types.LeaveGamePayload{GameID: created.ID})

	gf := readUntilFinished(t, c1)
	if gf.Winner != "alice" {
		t.Errorf("expected remaining player to win, got %q", gf.Winner)
	}
	if gf.Reason != types.ReasonForfeit {
		t.Errorf("expected forfeit reason, got %q", gf.Reason)
	}
}

func TestDisconnectDeletesAbandonedWaitingGame(t *testing.T) {
	f := newWSFixture(t)

	alice := types.Player{ID: "p1", Username: "alice"}
	created, _ := f.mm.FindOrCreate(alice)

	c1 := f.dial(t, alice)
	sendEvent(t, c1, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	readGameState(t, c1)

	_ = c1.Close()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := f.store.Get(created.ID); !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("abandoned waiting game was not deleted after disconnect")
}

func TestMalformedEventsAreDropped(t *testing.T) {
	f := newWSFixture(t)

	alice := types.Player{ID: "p1", Username: "alice"}
	created, _ := f.mm.FindOrCreate(alice)

	c1 := f.dial(t, alice)

	// Garbage and unknown events must not kill the connection.
	if err := c1.WriteMessage(websocket.TextMessage, []byte("{not json")); err != nil {
		t.Fatalf("send garbage: %v", err)
	}
	if err := c1.WriteMessage(websocket.TextMessage, []byte(`{"event":"teleport","data":{}}`)); err != nil {
		t.Fatalf("send unknown event: %v", err)
	}

	sendEvent(t, c1, types.EventJoinGame, types.JoinGamePayload{GameID: created.ID})
	snap := readGameState(t, c1)
	if snap.ID != created.ID {
		t.Errorf("expected snapshot for %s, got %s", created.ID, snap.ID)
	}
}
