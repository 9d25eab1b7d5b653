package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	data := `
[server]
port = 9000

[store]
driver = "sqlite"

[longpoll]
timeout = "30s"
`
	if err := os.WriteFile(path, []byte(data), 0600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 || cfg.Server.Host != "localhost" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Store.Driver != "sqlite" || cfg.Store.BatchSize != 100 {
		t.Errorf("store = %+v", cfg.Store)
	}
	if got := cfg.LongPoll.TimeoutDuration(); got != 30*time.Second {
		t.Errorf("TimeoutDuration = %v, want 30s", got)
	}
	if got := cfg.Stream.ChunkSize; got != 1000 {
		t.Errorf("ChunkSize = %d, want 1000", got)
	}
}

func TestLoadInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[server\nport = "), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.toml")
	cfg := Default()
	cfg.Fleet.Path = "/srv/fleet.toml"
	cfg.Log.Verbose = true

	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff(cfg, got); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
}

func TestDurationDefaults(t *testing.T) {
	var cfg Config
	if got := cfg.LongPoll.TimeoutDuration(); got != 10*time.Minute {
		t.Errorf("TimeoutDuration = %v, want 10m", got)
	}
	if got := cfg.Stream.PingDuration(); got != 30*time.Second {
		t.Errorf("PingDuration = %v, want 30s", got)
	}
	cfg.Store.FlushInterval = "bogus"
	if got := cfg.Store.FlushDuration(); got != 50*time.Millisecond {
		t.Errorf("FlushDuration = %v, want 50ms", got)
	}
	if got := cfg.Server.ShutdownDuration(); got != 5*time.Second {
		t.Errorf("ShutdownDuration = %v, want 5s", got)
	}
}

func TestResolve(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	cfg := Default()
	cfg.Store.Driver = "sqlite"
	cfg, err := cfg.Resolve()
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	dir := filepath.Join(home, ".joulia-live")
	want := map[string]string{
		"store":       filepath.Join(dir, "live.sqlite"),
		"credentials": filepath.Join(dir, "credentials.toml"),
		"fleet":       filepath.Join(dir, "fleet.toml"),
	}
	got := map[string]string{
		"store":       cfg.Store.Path,
		"credentials": cfg.Auth.Credentials,
		"fleet":       cfg.Fleet.Path,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("resolved paths mismatch (-want +got):\n%s", diff)
	}
}
