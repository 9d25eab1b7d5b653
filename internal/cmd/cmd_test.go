package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/joulia/joulia-live/internal/config"
	"github.com/joulia/joulia-live/internal/store"
	"github.com/joulia/joulia-live/internal/version"
)

// run executes the root command with args against a temporary home
// directory and returns what it printed.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	configPath, outputJSON, configForce = "", false, false

	var out bytes.Buffer
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func TestHashPassword(t *testing.T) {
	out, err := run(t, "malt and hops\n", "hash-password")
	if err != nil {
		t.Fatalf("hash-password: %v", err)
	}
	hash := strings.TrimSpace(out)
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("malt and hops")); err != nil {
		t.Errorf("printed hash does not match the password: %v", err)
	}

	if _, err := run(t, "\n", "hash-password"); err == nil {
		t.Error("expected an error for an empty password")
	}
}

func TestVersionJSON(t *testing.T) {
	out, err := run(t, "", "version", "--json")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	var info version.Info
	if err := json.Unmarshal([]byte(out), &info); err != nil {
		t.Fatalf("decode %q: %v", out, err)
	}
	if info.Name != "joulia-live" || info.Version == "" {
		t.Errorf("info = %+v", info)
	}
}

func TestStatusNotRunning(t *testing.T) {
	out, err := run(t, "", "status")
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if !strings.Contains(out, "Not running") {
		t.Errorf("status output = %q", out)
	}

	out, err = run(t, "", "status", "--json")
	if err != nil {
		t.Fatalf("status --json: %v", err)
	}
	if strings.TrimSpace(out) != "[]" {
		t.Errorf("status --json = %q, want []", out)
	}
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	if _, err := run(t, "", "config", "init", "--config", path); err != nil {
		t.Fatalf("config init: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != config.Default().Server.Port {
		t.Errorf("port = %d, want default", cfg.Server.Port)
	}

	if _, err := run(t, "", "config", "init", "--config", path); err == nil {
		t.Error("expected init to refuse overwriting")
	}
	if _, err := run(t, "", "config", "init", "--config", path, "--force"); err != nil {
		t.Errorf("config init --force: %v", err)
	}

	out, err := run(t, "", "config", "show", "--config", path)
	if err != nil {
		t.Fatalf("config show: %v", err)
	}
	if !strings.Contains(out, "[server]") || !strings.Contains(out, "credentials.toml") {
		t.Errorf("config show output missing sections or resolved paths:\n%s", out)
	}
}

const testFleet = `
[[companies]]
id = 1
name = "Hop Works"

[[breweries]]
id = 1
name = "Main Street"
company = 1

[[brewhouses]]
id = 7
name = "Brewhouse 7"
brewery = 1

[[sensors]]
id = 5
name = "Mash Tun"
brewhouse = 7

[[recipe_instances]]
id = 41
brewhouse = 7
`

const testCredentials = `
[[users]]
id = 1
username = "brewer"
companies = [1]

[[tokens]]
key = "brewer-token"
user = 1
`

func TestBuildService(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Store.Driver = store.DriverMemory
	cfg.Fleet.Path = filepath.Join(dir, "fleet.toml")
	cfg.Auth.Credentials = filepath.Join(dir, "credentials.toml")
	cfg.Auth.Watch = false
	for path, body := range map[string]string{cfg.Fleet.Path: testFleet, cfg.Auth.Credentials: testCredentials} {
		if err := os.WriteFile(path, []byte(body), 0600); err != nil {
			t.Fatal(err)
		}
	}

	svc, err := buildService(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildService: %v", err)
	}
	defer svc.Close()

	st, err := svc.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if st.Store.Driver != store.DriverMemory {
		t.Errorf("store driver = %q, want memory", st.Store.Driver)
	}

	cfg.Fleet.Path = filepath.Join(dir, "missing.toml")
	if _, err := buildService(context.Background(), cfg); err == nil {
		t.Error("expected an error for a missing fleet file")
	}
}

func TestApplyServeFlags(t *testing.T) {
	t.Cleanup(func() {
		for _, name := range []string{"port", "store"} {
			serveCmd.Flags().Lookup(name).Changed = false
		}
		servePort, serveStore = 0, ""
	})
	if err := serveCmd.Flags().Parse([]string{"--port", "9100", "--store", "sqlite"}); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	applyServeFlags(serveCmd, &cfg)
	if cfg.Server.Port != 9100 || cfg.Store.Driver != "sqlite" {
		t.Errorf("server = %+v store = %+v", cfg.Server, cfg.Store)
	}
	if cfg.Server.Host != config.Default().Server.Host {
		t.Errorf("host changed to %q without a flag", cfg.Server.Host)
	}
}
