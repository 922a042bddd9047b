package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultSession string    `toml:"default_session"`
	LogLevel       string    `toml:"log_level"`
	Server         Server    `toml:"server"`
	Transport      Transport `toml:"transport"`
	Sync           Sync      `toml:"sync"`
	Upload         Upload    `toml:"upload"`
	Metrics        Metrics   `toml:"metrics"`
}

// Server locates the backend.
type Server struct {
	BaseURL        string   `toml:"base_url"`
	WSURL          string   `toml:"ws_url"`
	RequestTimeout Duration `toml:"request_timeout"`
}

// Transport tunes the realtime connection.
type Transport struct {
	ReconnectInterval    Duration `toml:"reconnect_interval"`
	HeartbeatInterval    Duration `toml:"heartbeat_interval"`
	Backoff              string   `toml:"backoff"`
	MaxReconnectInterval Duration `toml:"max_reconnect_interval"`
	DialTimeout          Duration `toml:"dial_timeout"`
}

// Sync tunes the orchestrator.
type Sync struct {
	HistoryLimit  int      `toml:"history_limit"`
	TypingTimeout Duration `toml:"typing_timeout"`
}

// Upload limits file sends.
type Upload struct {
	MaxBytes int64 `toml:"max_bytes"`
}

// Metrics configures the prometheus endpoint. Empty Addr disables it.
type Metrics struct {
	Addr string `toml:"addr"`
}

// Backoff strategies.
const (
	BackoffConstant    = "constant"
	BackoffExponential = "exponential"
)

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		Server: Server{
			BaseURL:        "http://localhost:8000/api",
			RequestTimeout: Duration(10 * time.Second),
		},
		Transport: Transport{
			ReconnectInterval:    Duration(3 * time.Second),
			HeartbeatInterval:    Duration(30 * time.Second),
			Backoff:              BackoffConstant,
			MaxReconnectInterval: Duration(time.Minute),
			DialTimeout:          Duration(10 * time.Second),
		},
		Sync: Sync{
			HistoryLimit:  50,
			TypingTimeout: Duration(3 * time.Second),
		},
		Upload: Upload{
			MaxBytes: 5 * 1024 * 1024,
		},
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadOrDefault decodes path over Default. A missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate rejects settings the daemon cannot run with.
func (c *Config) Validate() error {
	if _, err := url.Parse(c.Server.BaseURL); err != nil || c.Server.BaseURL == "" {
		return fmt.Errorf("server.base_url %q is not a valid URL", c.Server.BaseURL)
	}
	if c.Transport.ReconnectInterval <= 0 {
		return errors.New("transport.reconnect_interval must be positive")
	}
	if c.Transport.HeartbeatInterval <= 0 {
		return errors.New("transport.heartbeat_interval must be positive")
	}
	switch c.Transport.Backoff {
	case BackoffConstant, BackoffExponential:
	default:
		return fmt.Errorf("transport.backoff %q: want %q or %q", c.Transport.Backoff, BackoffConstant, BackoffExponential)
	}
	if c.Sync.HistoryLimit <= 0 {
		return errors.New("sync.history_limit must be positive")
	}
	if c.Upload.MaxBytes <= 0 {
		return errors.New("upload.max_bytes must be positive")
	}
	return nil
}

// RealtimeURL returns ws_url, or derives it from base_url by switching the
// scheme to ws/wss and replacing the /api suffix with /ws/chat.
func (s Server) RealtimeURL() (string, error) {
	if s.WSURL != "" {
		return s.WSURL, nil
	}
	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimSuffix(strings.TrimSuffix(u.Path, "/"), "/api") + "/ws/chat"
	return u.String(), nil
}

// Duration is a time.Duration written as a string such as "3s" in TOML.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}
