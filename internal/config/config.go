// Package config carries the system-wide settings with precedence
// file > environment > defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	HTTP      HTTPConfig
	WebSocket WebSocketConfig
	Auth      AuthConfig
	History   HistoryConfig
	Game      GameConfig
}

type HTTPConfig struct {
	Host         string        `env:"RALLY_HTTP_HOST"`
	Port         int           `env:"RALLY_HTTP_PORT"`
	ReadTimeout  time.Duration `env:"RALLY_HTTP_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"RALLY_HTTP_WRITE_TIMEOUT"`
}

type WebSocketConfig struct {
	PingInterval time.Duration `env:"RALLY_WS_PING_INTERVAL"`
	ReadTimeout  time.Duration `env:"RALLY_WS_READ_TIMEOUT"`
	WriteTimeout time.Duration `env:"RALLY_WS_WRITE_TIMEOUT"`
	SendBuffer   int           `env:"RALLY_WS_SEND_BUFFER"`
}

type AuthConfig struct {
	// Secret signs and verifies the HS256 bearer tokens. The default
	// only exists for local development.
	Secret string `env:"RALLY_AUTH_SECRET"`
}

type HistoryConfig struct {
	Enabled bool   `env:"RALLY_HISTORY_ENABLED"`
	Path    string `env:"RALLY_HISTORY_PATH"`
}

type GameConfig struct {
	// FinishedGrace is how long a finished game stays resolvable so
	// in-flight broadcasts land before deletion.
	FinishedGrace time.Duration `env:"RALLY_GAME_FINISHED_GRACE"`
}

func DefaultConfig() *Config {
	return &Config{
		HTTP: HTTPConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		},
		WebSocket: WebSocketConfig{
			PingInterval: 30 * time.Second,
			ReadTimeout:  60 * time.Second,
			WriteTimeout: 10 * time.Second,
			SendBuffer:   100,
		},
		Auth: AuthConfig{
			Secret: "dev-secret-change-me",
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "./rally.db",
		},
		Game: GameConfig{
			FinishedGrace: 5 * time.Second,
		},
	}
}

func (c *Config) Validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http port must be between 1 and 65535")
	}
	if c.HTTP.Host == "" {
		return fmt.Errorf("http host cannot be empty")
	}
	if c.HTTP.ReadTimeout <= 0 || c.HTTP.WriteTimeout <= 0 {
		return fmt.Errorf("http timeouts must be positive")
	}
	if c.WebSocket.PingInterval <= 0 || c.WebSocket.ReadTimeout <= 0 || c.WebSocket.WriteTimeout <= 0 {
		return fmt.Errorf("websocket timings must be positive")
	}
	if c.WebSocket.ReadTimeout <= c.WebSocket.PingInterval {
		return fmt.Errorf("websocket read timeout must exceed the ping interval")
	}
	if c.WebSocket.SendBuffer <= 0 {
		return fmt.Errorf("websocket send buffer must be positive")
	}
	if c.Auth.Secret == "" {
		return fmt.Errorf("auth secret cannot be empty")
	}
	if c.History.Enabled && c.History.Path == "" {
		return fmt.Errorf("history path cannot be empty when history is enabled")
	}
	if c.Game.FinishedGrace <= 0 {
		return fmt.Errorf("finished grace must be positive")
	}
	return nil
}

// LoadFromEnv overlays environment variables onto the defaults.
func LoadFromEnv() (*Config, error) {
	cfg := DefaultConfig()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env config: %w", err)
	}
	return cfg, nil
}

// configFile is the JSON shape; durations are strings ("30s").
type configFile struct {
	HTTP *struct {
		Host         string `json:"host"`
		Port         int    `json:"port"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
	} `json:"http"`
	WebSocket *struct {
		PingInterval string `json:"ping_interval"`
		ReadTimeout  string `json:"read_timeout"`
		WriteTimeout string `json:"write_timeout"`
		SendBuffer   int    `json:"send_buffer"`
	} `json:"websocket"`
	Auth *struct {
		Secret string `json:"secret"`
	} `json:"auth"`
	History *struct {
		Enabled *bool  `json:"enabled"`
		Path    string `json:"path"`
	} `json:"history"`
	Game *struct {
		FinishedGrace string `json:"finished_grace"`
	} `json:"game"`
}

// LoadFromFile overlays a JSON config file onto the given base config.
func LoadFromFile(path string, base *Config) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}

	var f configFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}

	cfg := *base
	if f.HTTP != nil {
		if f.HTTP.Host != "" {
			cfg.HTTP.Host = f.HTTP.Host
		}
		if f.HTTP.Port > 0 {
			cfg.HTTP.Port = f.HTTP.Port
		}
		overlayDuration(&cfg.HTTP.ReadTimeout, f.HTTP.ReadTimeout)
		overlayDuration(&cfg.HTTP.WriteTimeout, f.HTTP.WriteTimeout)
	}
	if f.WebSocket != nil {
		overlayDuration(&cfg.WebSocket.PingInterval, f.WebSocket.PingInterval)
		overlayDuration(&cfg.WebSocket.ReadTimeout, f.WebSocket.ReadTimeout)
		overlayDuration(&cfg.WebSocket.WriteTimeout, f.WebSocket.WriteTimeout)
		if f.WebSocket.SendBuffer > 0 {
			cfg.WebSocket.SendBuffer = f.WebSocket.SendBuffer
		}
	}
	if f.Auth != nil && f.Auth.Secret != "" {
		cfg.Auth.Secret = f.Auth.Secret
	}
	if f.History != nil {
		if f.History.Enabled != nil {
			cfg.History.Enabled = *f.History.Enabled
		}
		if f.History.Path != "" {
			cfg.History.Path = f.History.Path
		}
	}
	if f.Game != nil {
		overlayDuration(&cfg.Game.FinishedGrace, f.Game.FinishedGrace)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", path, err)
	}
	return &cfg, nil
}

// Load resolves the effective configuration: defaults, then
// environment, then the optional file named by RALLY_CONFIG_FILE.
func Load() (*Config, error) {
	cfg, err := LoadFromEnv()
	if err != nil {
		return nil, err
	}
	if path := os.Getenv("RALLY_CONFIG_FILE"); path != "" {
		if cfg, err = LoadFromFile(path, cfg); err != nil {
			return nil, err
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func overlayDuration(dst *time.Duration, raw string) {
	if raw == "" {
		return
	}
	if d, err := time.ParseDuration(raw); err == nil {
		*dst = d
	}
}
