package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if !cfg.Ledger.Enabled || cfg.Ledger.Path == "" {
		t.Errorf("ledger defaults = %+v", cfg.Ledger)
	}
	if cfg.Ledger.RetentionDays != 90 {
		t.Errorf("RetentionDays = %d, want 90", cfg.Ledger.RetentionDays)
	}
	if !cfg.Store.Enabled || !strings.HasSuffix(cfg.Store.Path, "state.db") {
		t.Errorf("store defaults = %+v", cfg.Store)
	}
	if cfg.Serve.Addr() != "127.0.0.1:7878" {
		t.Errorf("Serve.Addr() = %q", cfg.Serve.Addr())
	}
	if cfg.Watch.Debounce() != 500*time.Millisecond {
		t.Errorf("Watch.Debounce() = %v", cfg.Watch.Debounce())
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("Validate(Default()) = %v", errs)
	}
}

func TestDefaultPath(t *testing.T) {
	t.Setenv("ACE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "")

	path := DefaultPath()
	if !strings.HasSuffix(path, filepath.Join(".config", "ace", "config.toml")) {
		t.Errorf("DefaultPath() = %q", path)
	}
}

func TestDefaultPathWithXDG(t *testing.T) {
	t.Setenv("ACE_CONFIG", "")
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	if got := DefaultPath(); got != "/custom/config/ace/config.toml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestDefaultPathWithEnv(t *testing.T) {
	t.Setenv("ACE_CONFIG", "/etc/ace.toml")
	if got := DefaultPath(); got != "/etc/ace.toml" {
		t.Errorf("DefaultPath() = %q", got)
	}
}

func TestLoadNonExistent(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Serve.Port != 7878 {
		t.Errorf("Port = %d, want default", cfg.Serve.Port)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[ledger]
enabled = false
retention_days = 30

[store]
path = "/var/lib/ace/state.db"

[watch]
dir = "/srv/inbox"
debounce_ms = 250
processed_dir = "/srv/done"

[serve]
port = 9000

[output]
format = "json"
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Ledger.Enabled || cfg.Ledger.RetentionDays != 30 {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}
	if cfg.Ledger.Path == "" {
		t.Error("unset ledger.path should keep its default")
	}
	if cfg.Store.Path != "/var/lib/ace/state.db" || !cfg.Store.Enabled {
		t.Errorf("store = %+v", cfg.Store)
	}
	if cfg.Watch.Dir != "/srv/inbox" || cfg.Watch.DebounceMs != 250 || cfg.Watch.ProcessedDir != "/srv/done" {
		t.Errorf("watch = %+v", cfg.Watch)
	}
	if cfg.Serve.Port != 9000 || cfg.Serve.Host != "127.0.0.1" {
		t.Errorf("serve = %+v", cfg.Serve)
	}
	if cfg.Output.Format != FormatJSON || cfg.Output.Color != ColorAuto {
		t.Errorf("output = %+v", cfg.Output)
	}
}

func TestLoadFromFileInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[serve\nport = "), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Load() of invalid TOML expected error")
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte("[serve]\nport = 9000\n"), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("ACE_LEDGER_PATH", "/tmp/ledger.jsonl")
	t.Setenv("ACE_DB_PATH", "/tmp/ace.db")
	t.Setenv("ACE_WATCH_DIR", "/tmp/inbox")
	t.Setenv("ACE_SERVE_PORT", "8181")
	t.Setenv("ACE_OUTPUT_FORMAT", "JSON")
	t.Setenv("ACE_NO_COLOR", "1")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Ledger.Path != "/tmp/ledger.jsonl" {
		t.Errorf("Ledger.Path = %q", cfg.Ledger.Path)
	}
	if cfg.Store.Path != "/tmp/ace.db" {
		t.Errorf("Store.Path = %q", cfg.Store.Path)
	}
	if cfg.Watch.Dir != "/tmp/inbox" {
		t.Errorf("Watch.Dir = %q", cfg.Watch.Dir)
	}
	if cfg.Serve.Port != 8181 {
		t.Errorf("Serve.Port = %d, env should beat TOML", cfg.Serve.Port)
	}
	if cfg.Output.Format != FormatJSON || cfg.Output.Color != ColorNever {
		t.Errorf("Output = %+v", cfg.Output)
	}
}

func TestLoadIgnoresBadPortEnv(t *testing.T) {
	t.Setenv("ACE_SERVE_PORT", "not-a-port")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Serve.Port != 7878 {
		t.Errorf("Port = %d, want default", cfg.Serve.Port)
	}
}

func TestLoadExpandsHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("Cannot get user home dir")
	}
	t.Setenv("ACE_DB_PATH", "~/ace/state.db")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if want := filepath.Join(home, "ace", "state.db"); cfg.Store.Path != want {
		t.Errorf("Store.Path = %q, want %q", cfg.Store.Path, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"ledger path", func(c *Config) { c.Ledger.Path = "" }, "ledger.path"},
		{"retention", func(c *Config) { c.Ledger.RetentionDays = -1 }, "ledger.retention_days"},
		{"store path", func(c *Config) { c.Store.Path = "" }, "store.path"},
		{"debounce", func(c *Config) { c.Watch.DebounceMs = -5 }, "watch.debounce_ms"},
		{"processed dir", func(c *Config) { c.Watch.ProcessedDir = c.Watch.Dir + "/" }, "watch.processed_dir"},
		{"port", func(c *Config) { c.Serve.Port = 70000 }, "serve.port"},
		{"format", func(c *Config) { c.Output.Format = "xml" }, "output.format"},
		{"color", func(c *Config) { c.Output.Color = "sometimes" }, "output.color"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			errs := Validate(cfg)
			if len(errs) != 1 {
				t.Fatalf("Validate() = %v, want one error", errs)
			}
			if !strings.HasPrefix(errs[0].Error(), tc.field) {
				t.Errorf("error %q should name %s", errs[0], tc.field)
			}
		})
	}

	t.Run("disabled sinks need no path", func(t *testing.T) {
		cfg := Default()
		cfg.Ledger.Enabled, cfg.Ledger.Path = false, ""
		cfg.Store.Enabled, cfg.Store.Path = false, ""
		if errs := Validate(cfg); len(errs) != 0 {
			t.Errorf("Validate() = %v", errs)
		}
	})

	if errs := Validate(nil); len(errs) != 1 {
		t.Errorf("Validate(nil) = %v", errs)
	}
}

func TestPrintRoundTrips(t *testing.T) {
	cfg := Default()
	cfg.Watch.ProcessedDir = "/srv/done"

	var buf bytes.Buffer
	if err := Print(cfg, &buf); err != nil {
		t.Fatalf("Print() error: %v", err)
	}

	var decoded Config
	if _, err := toml.Decode(buf.String(), &decoded); err != nil {
		t.Fatalf("Print() output is not valid TOML: %v\n%s", err, buf.String())
	}
	if decoded != *cfg {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", decoded, *cfg)
	}
}

func TestCreateDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")

	got, err := CreateDefault(path)
	if err != nil {
		t.Fatalf("CreateDefault() error: %v", err)
	}
	if got != path {
		t.Errorf("CreateDefault() = %q, want %q", got, path)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() of created config error: %v", err)
	}
	if errs := Validate(cfg); len(errs) != 0 {
		t.Errorf("created config invalid: %v", errs)
	}

	if _, err := CreateDefault(path); err == nil {
		t.Error("CreateDefault() over existing file expected error")
	}
}
