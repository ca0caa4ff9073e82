// Package app wires the components together and owns their lifecycle.
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"rally/internal/api"
	"rally/internal/auth"
	"rally/internal/config"
	"rally/internal/game"
	"rally/internal/gateway"
	"rally/internal/history"
	"rally/internal/hub"
)

// Application coordinates the store, matchmaker, gateway, API, and the
// optional history recorder behind one HTTP server.
type Application struct {
	cfg        *config.Config
	recorder   *history.Recorder
	httpServer *http.Server
}

// New constructs the application in dependency order: history store,
// game store, matchmaker, hub, resolver, gateway, API.
func New(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	var recorder *history.Recorder
	if cfg.History.Enabled {
		var err error
		if recorder, err = history.NewRecorder(cfg.History.Path); err != nil {
			return nil, fmt.Errorf("initialize history recorder: %w", err)
		}
	}

	verifier := auth.NewJWTVerifier(cfg.Auth.Secret)
	store := game.NewStore()
	matchmaker := game.NewMatchmaker(store)
	broadcastHub := hub.NewHub()
	registry := gateway.NewRegistry()

	// The resolver takes the recorder through an interface; a nil
	// *Recorder must stay a nil interface value.
	var matchRecorder gateway.MatchRecorder
	if recorder != nil {
		matchRecorder = recorder
	}
	resolver := gateway.NewResolver(store, broadcastHub, matchRecorder, cfg.Game.FinishedGrace)

	wsHandler := gateway.NewHandler(verifier, store, broadcastHub, registry, resolver, gateway.Options{
		PingInterval: cfg.WebSocket.PingInterval,
		ReadTimeout:  cfg.WebSocket.ReadTimeout,
		WriteTimeout: cfg.WebSocket.WriteTimeout,
		SendBuffer:   cfg.WebSocket.SendBuffer,
	})
	apiServer := api.NewServer(verifier, store, matchmaker, recorder)

	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	return &Application{
		cfg:      cfg,
		recorder: recorder,
		httpServer: &http.Server{
			Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
			Handler:      mux,
			ReadTimeout:  cfg.HTTP.ReadTimeout,
			WriteTimeout: cfg.HTTP.WriteTimeout,
		},
	}, nil
}

// Start runs the HTTP server and returns once it is accepting
// connections or has failed to start.
func (a *Application) Start(ctx context.Context) error {
	log.Printf("starting rally on %s", a.httpServer.Addr)

	errCh := make(chan error, 1)
	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-time.After(100 * time.Millisecond):
		log.Printf("rally started")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop shuts down in reverse order: HTTP first, then the history
// recorder so queued match results get flushed.
func (a *Application) Stop(ctx context.Context) error {
	log.Printf("shutting down rally")

	if err := a.httpServer.Shutdown(ctx); err != nil {
		log.Printf("http shutdown error: %v", err)
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			log.Printf("history shutdown error: %v", err)
		}
	}

	log.Printf("shutdown complete")
	return nil
}
