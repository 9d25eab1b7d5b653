// Package config provides configuration management for joulia-live.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds the joulia-live configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Store    StoreConfig    `toml:"store"`
	Stream   StreamConfig   `toml:"stream"`
	LongPoll LongPollConfig `toml:"longpoll"`
	Auth     AuthConfig     `toml:"auth"`
	Fleet    FleetConfig    `toml:"fleet"`
	Log      LogConfig      `toml:"log"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Host            string `toml:"host"`
	Port            int    `toml:"port"`
	Quiet           bool   `toml:"quiet"`            // Disable request logging
	ShutdownTimeout string `toml:"shutdown_timeout"` // e.g. "5s"

	// AllowedOrigins lists extra browser origins (host patterns such as
	// "dash.joulia.io" or "*.joulia.io") that may open the streaming
	// socket. The server's own host is always allowed.
	AllowedOrigins []string `toml:"allowed_origins,omitempty"`
}

// StoreConfig selects and tunes the measurement store.
type StoreConfig struct {
	Driver        string `toml:"driver"` // memory, duckdb or sqlite
	Path          string `toml:"path"`
	BatchSize     int    `toml:"batch_size"`
	FlushInterval string `toml:"flush_interval"`
}

// StreamConfig tunes the streaming endpoint.
type StreamConfig struct {
	ChunkSize      int    `toml:"chunk_size"`      // Rows per backlog frame
	SendQueue      int    `toml:"send_queue"`      // Frames buffered per connection
	BacklogWorkers int    `toml:"backlog_workers"` // Concurrent backlog queries
	PingInterval   string `toml:"ping_interval"`
}

// LongPollConfig tunes the recipe instance long-poll endpoints.
type LongPollConfig struct {
	Timeout string `toml:"timeout"`
}

// AuthConfig points at the credential file.
type AuthConfig struct {
	Credentials   string `toml:"credentials"`
	SessionCookie string `toml:"session_cookie"`
	Watch         bool   `toml:"watch"` // Reload credentials when the file changes
}

// FleetConfig points at the brewery catalog file.
type FleetConfig struct {
	Path string `toml:"path"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	File    string `toml:"file"`
	Verbose bool   `toml:"verbose"`
}

func parseDuration(s string, def time.Duration) time.Duration {
	if s != "" {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			return d
		}
	}
	return def
}

// ShutdownDuration returns the graceful shutdown timeout (default: 5s).
func (c ServerConfig) ShutdownDuration() time.Duration {
	return parseDuration(c.ShutdownTimeout, 5*time.Second)
}

// FlushDuration returns the batch flush interval (default: 50ms).
func (c StoreConfig) FlushDuration() time.Duration {
	return parseDuration(c.FlushInterval, 50*time.Millisecond)
}

// PingDuration returns the WebSocket keepalive interval (default: 30s).
func (c StreamConfig) PingDuration() time.Duration {
	return parseDuration(c.PingInterval, 30*time.Second)
}

// TimeoutDuration returns the long-poll timeout (default: 10m).
func (c LongPollConfig) TimeoutDuration() time.Duration {
	return parseDuration(c.Timeout, 10*time.Minute)
}

// Dir returns the path to the .joulia-live directory.
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".joulia-live"), nil
}

// Path returns the path to the main config file.
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Default returns a configuration with every default set. File paths are
// left empty and resolved against Dir by Resolve.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:            "localhost",
			Port:            8790,
			ShutdownTimeout: "5s",
		},
		Store: StoreConfig{
			Driver:        "duckdb",
			BatchSize:     100,
			FlushInterval: "50ms",
		},
		Stream: StreamConfig{
			ChunkSize:      1000,
			SendQueue:      256,
			BacklogWorkers: 8,
			PingInterval:   "30s",
		},
		LongPoll: LongPollConfig{Timeout: "10m"},
		Auth: AuthConfig{
			SessionCookie: "sessionid",
			Watch:         true,
		},
	}
}

// Load reads the configuration at path, or at Path() when path is empty.
// A missing file yields the defaults. Keys absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	if path == "" {
		p, err := Path()
		if err != nil {
			return Config{}, err
		}
		path = p
	}

	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Default(), nil
		}
		return Config{}, fmt.Errorf("load config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes cfg to path, or to Path() when path is empty.
func Save(path string, cfg Config) error {
	if path == "" {
		p, err := Path()
		if err != nil {
			return err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return os.WriteFile(path, buf.Bytes(), 0600)
}

// Resolve fills empty file paths with their defaults under Dir.
func (c Config) Resolve() (Config, error) {
	if c.Store.Path != "" && c.Auth.Credentials != "" && c.Fleet.Path != "" {
		return c, nil
	}
	dir, err := Dir()
	if err != nil {
		return c, fmt.Errorf("resolve config dir: %w", err)
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case "sqlite":
			c.Store.Path = filepath.Join(dir, "live.sqlite")
		default:
			c.Store.Path = filepath.Join(dir, "live.duckdb")
		}
	}
	if c.Auth.Credentials == "" {
		c.Auth.Credentials = filepath.Join(dir, "credentials.toml")
	}
	if c.Fleet.Path == "" {
		c.Fleet.Path = filepath.Join(dir, "fleet.toml")
	}
	return c, nil
}
