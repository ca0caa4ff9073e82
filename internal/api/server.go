// Package api exposes the synchronous request/response surface:
// matchmaking, session lookup, match history, and health. Gameplay
// itself never flows through here; that is the websocket gateway's
// job.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"rally/internal/auth"
	"rally/internal/game"
	"rally/internal/history"
	"rally/pkg/types"
)

type contextKey string

const playerKey contextKey = "player"

// Server handles the JSON API. The recorder is optional; history
// endpoints answer 404 when persistence is disabled.
type Server struct {
	verifier   auth.Verifier
	store      *game.Store
	matchmaker *game.Matchmaker
	recorder   *history.Recorder
	handler    http.Handler
}

func NewServer(verifier auth.Verifier, store *game.Store, matchmaker *game.Matchmaker, recorder *history.Recorder) *Server {
	s := &Server{
		verifier:   verifier,
		store:      store,
		matchmaker: matchmaker,
		recorder:   recorder,
	}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)

	g := r.PathPrefix("/api/games").Subrouter()
	g.Use(s.authMiddleware)
	g.HandleFunc("", s.listGames).Methods(http.MethodGet)
	g.HandleFunc("/find-or-create", s.findOrCreate).Methods(http.MethodPost)
	g.HandleFunc("/{id}", s.getGame).Methods(http.MethodGet)
	g.HandleFunc("/{id}/join", s.joinGame).Methods(http.MethodPost)

	h := r.PathPrefix("/api/history").Subrouter()
	h.Use(s.authMiddleware)
	h.HandleFunc("", s.playerHistory).Methods(http.MethodGet)

	s.handler = cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler(r)

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// authMiddleware derives the participant identity from the bearer
// credential and rejects everything else with 401.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		player, err := s.verifier.Verify(auth.BearerToken(r.Header.Get("Authorization")))
		if err != nil {
			s.sendError(w, http.StatusUnauthorized, "invalid or missing credentials")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), playerKey, player)))
	})
}

func playerFrom(r *http.Request) types.Player {
	player, _ := r.Context().Value(playerKey).(types.Player)
	return player
}

// FindOrCreateResponse reports the game the player should navigate to.
// Joined is false only when a brand-new waiting game was created.
type FindOrCreateResponse struct {
	Game   types.GameSnapshot `json:"game"`
	Joined bool               `json:"joined"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (s *Server) findOrCreate(w http.ResponseWriter, r *http.Request) {
	player := playerFrom(r)
	snap, joined := s.matchmaker.FindOrCreate(player)
	log.Printf("find-or-create: player=%s game=%s joined=%t", player.ID, snap.ID, joined)
	s.sendJSON(w, http.StatusOK, FindOrCreateResponse{Game: snap, Joined: joined})
}

func (s *Server) joinGame(w http.ResponseWriter, r *http.Request) {
	player := playerFrom(r)
	gameID := mux.Vars(r)["id"]

	snap, err := s.matchmaker.Join(gameID, player)
	if err != nil {
		s.sendGameError(w, err)
		return
	}
	log.Printf("explicit join: player=%s game=%s", player.ID, gameID)
	s.sendJSON(w, http.StatusOK, snap)
}

func (s *Server) getGame(w http.ResponseWriter, r *http.Request) {
	snap, ok := s.store.Get(mux.Vars(r)["id"])
	if !ok {
		s.sendError(w, http.StatusNotFound, "game not found")
		return
	}
	s.sendJSON(w, http.StatusOK, snap)
}

func (s *Server) listGames(w http.ResponseWriter, r *http.Request) {
	games := s.store.ListActive()
	if games == nil {
		games = []types.GameSnapshot{}
	}
	s.sendJSON(w, http.StatusOK, games)
}

func (s *Server) playerHistory(w http.ResponseWriter, r *http.Request) {
	if s.recorder == nil {
		s.sendError(w, http.StatusNotFound, "match history is disabled")
		return
	}
	matches, err := s.recorder.PlayerHistory(r.Context(), playerFrom(r).ID, 10)
	if err != nil {
		log.Printf("history query failed: %v", err)
		s.sendError(w, http.StatusInternalServerError, "failed to load history")
		return
	}
	if matches == nil {
		matches = []history.Match{}
	}
	s.sendJSON(w, http.StatusOK, matches)
}

func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	code := http.StatusOK
	historyStatus := "disabled"
	if s.recorder != nil {
		historyStatus = "healthy"
		if err := s.recorder.HealthCheck(ctx); err != nil {
			status = "unhealthy"
			code = http.StatusServiceUnavailable
			historyStatus = err.Error()
		}
	}

	s.sendJSON(w, code, map[string]any{
		"status":    status,
		"timestamp": time.Now(),
		"games":     s.store.Stats(),
		"history":   historyStatus,
	})
}

// sendGameError maps the matchmaking error taxonomy onto HTTP status
// codes. Conflicts are distinguishable from not-found so the UI can
// say "you already have an active match" rather than "match missing".
func (s *Server) sendGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, game.ErrNotFound):
		s.sendError(w, http.StatusNotFound, err.Error())
	case game.IsConflict(err):
		s.sendError(w, http.StatusConflict, err.Error())
	case errors.Is(err, game.ErrNotWaiting):
		s.sendError(w, http.StatusConflict, err.Error())
	default:
		s.sendError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) sendJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, code int, message string) {
	s.sendJSON(w, code, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}
