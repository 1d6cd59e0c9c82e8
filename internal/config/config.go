// Package config loads ace's TOML configuration.
//
// Precedence is Env > TOML > Default: Load starts from Default, overlays the
// config file if present, then applies ACE_* environment overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/Dicoangelo/meta-vengine-sub001/internal/util"
)

// Config is the root configuration.
type Config struct {
	Ledger LedgerConfig `toml:"ledger" json:"ledger"`
	Store  StoreConfig  `toml:"store" json:"store"`
	Watch  WatchConfig  `toml:"watch" json:"watch"`
	Serve  ServeConfig  `toml:"serve" json:"serve"`
	Output OutputConfig `toml:"output" json:"output"`
}

// LedgerConfig configures the JSONL verdict ledger.
type LedgerConfig struct {
	Enabled       bool   `toml:"enabled" json:"enabled"`
	Path          string `toml:"path" json:"path"`
	RetentionDays int    `toml:"retention_days" json:"retention_days"`
}

// StoreConfig configures the SQLite verdict store.
type StoreConfig struct {
	Enabled bool   `toml:"enabled" json:"enabled"`
	Path    string `toml:"path" json:"path"`
}

// WatchConfig configures the inbox watcher.
type WatchConfig struct {
	Dir          string `toml:"dir" json:"dir"`
	DebounceMs   int    `toml:"debounce_ms" json:"debounce_ms"`
	ProcessedDir string `toml:"processed_dir" json:"processed_dir"` // empty leaves files in place
}

// Debounce returns the debounce interval as a duration.
func (w WatchConfig) Debounce() time.Duration {
	return time.Duration(w.DebounceMs) * time.Millisecond
}

// ServeConfig configures the HTTP API.
type ServeConfig struct {
	Host string `toml:"host" json:"host"`
	Port int    `toml:"port" json:"port"`
}

// Addr returns host:port.
func (s ServeConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// OutputConfig configures CLI rendering.
type OutputConfig struct {
	Format string `toml:"format" json:"format"` // text, json
	Color  string `toml:"color" json:"color"`   // auto, always, never
}

// Output formats and color modes.
const (
	FormatText  = "text"
	FormatJSON  = "json"
	ColorAuto   = "auto"
	ColorAlways = "always"
	ColorNever  = "never"
)

// DefaultDir returns the directory holding ace's config and data.
func DefaultDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ace")
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		home = os.TempDir()
	}
	return filepath.Join(home, ".config", "ace")
}

// DefaultPath returns the config file path: $ACE_CONFIG, then
// $XDG_CONFIG_HOME/ace/config.toml, then ~/.config/ace/config.toml.
func DefaultPath() string {
	if env := os.Getenv("ACE_CONFIG"); env != "" {
		return util.ExpandPath(env)
	}
	return filepath.Join(DefaultDir(), "config.toml")
}

// Default returns the built-in configuration.
func Default() *Config {
	dir := DefaultDir()
	return &Config{
		Ledger: LedgerConfig{
			Enabled:       true,
			Path:          filepath.Join(dir, "verdicts.jsonl"),
			RetentionDays: 90,
		},
		Store: StoreConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "state.db"),
		},
		Watch: WatchConfig{
			Dir:        filepath.Join(dir, "inbox"),
			DebounceMs: 500,
		},
		Serve: ServeConfig{
			Host: "127.0.0.1",
			Port: 7878,
		},
		Output: OutputConfig{
			Format: FormatText,
			Color:  ColorAuto,
		},
	}
}

// Load reads the config at path (DefaultPath when empty). A missing file is
// not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	applyEnvOverrides(cfg)
	expandPaths(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if p := os.Getenv("ACE_LEDGER_PATH"); p != "" {
		cfg.Ledger.Path = p
	}
	if p := os.Getenv("ACE_DB_PATH"); p != "" {
		cfg.Store.Path = p
	}
	if dir := os.Getenv("ACE_WATCH_DIR"); dir != "" {
		cfg.Watch.Dir = dir
	}
	if port := os.Getenv("ACE_SERVE_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			cfg.Serve.Port = n
		}
	}
	if format := os.Getenv("ACE_OUTPUT_FORMAT"); format != "" {
		cfg.Output.Format = strings.ToLower(format)
	}
	if noColor := os.Getenv("ACE_NO_COLOR"); noColor == "1" || noColor == "true" {
		cfg.Output.Color = ColorNever
	}
}

func expandPaths(cfg *Config) {
	cfg.Ledger.Path = util.ExpandPath(cfg.Ledger.Path)
	cfg.Store.Path = util.ExpandPath(cfg.Store.Path)
	cfg.Watch.Dir = util.ExpandPath(cfg.Watch.Dir)
	cfg.Watch.ProcessedDir = util.ExpandPath(cfg.Watch.ProcessedDir)
}

// Validate reports every problem in cfg.
func Validate(cfg *Config) []error {
	if cfg == nil {
		return []error{fmt.Errorf("config is nil")}
	}

	var errs []error

	if cfg.Ledger.Enabled && cfg.Ledger.Path == "" {
		errs = append(errs, fmt.Errorf("ledger.path: required when the ledger is enabled"))
	}
	if cfg.Ledger.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("ledger.retention_days: must be >= 0, got %d", cfg.Ledger.RetentionDays))
	}
	if cfg.Store.Enabled && cfg.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path: required when the store is enabled"))
	}
	if cfg.Watch.DebounceMs < 0 {
		errs = append(errs, fmt.Errorf("watch.debounce_ms: must be >= 0, got %d", cfg.Watch.DebounceMs))
	}
	if cfg.Watch.ProcessedDir != "" && filepath.Clean(cfg.Watch.ProcessedDir) == filepath.Clean(cfg.Watch.Dir) {
		errs = append(errs, fmt.Errorf("watch.processed_dir: must differ from watch.dir"))
	}
	if cfg.Serve.Port < 1 || cfg.Serve.Port > 65535 {
		errs = append(errs, fmt.Errorf("serve.port: must be 1-65535, got %d", cfg.Serve.Port))
	}

	switch cfg.Output.Format {
	case FormatText, FormatJSON:
	default:
		errs = append(errs, fmt.Errorf("output.format: must be %q or %q, got %q", FormatText, FormatJSON, cfg.Output.Format))
	}
	switch cfg.Output.Color {
	case ColorAuto, ColorAlways, ColorNever:
	default:
		errs = append(errs, fmt.Errorf("output.color: must be auto, always, or never, got %q", cfg.Output.Color))
	}

	return errs
}

// Print writes cfg as a commented TOML file.
func Print(cfg *Config, w io.Writer) error {
	fmt.Fprintln(w, "# ace (session-outcome consensus) configuration")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# Append-only JSONL log of every verdict")
	fmt.Fprintln(w, "[ledger]")
	fmt.Fprintf(w, "enabled = %t\n", cfg.Ledger.Enabled)
	fmt.Fprintf(w, "path = %q\n", cfg.Ledger.Path)
	fmt.Fprintf(w, "retention_days = %d\n", cfg.Ledger.RetentionDays)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# SQLite store holding the latest verdict per session")
	fmt.Fprintln(w, "[store]")
	fmt.Fprintf(w, "enabled = %t\n", cfg.Store.Enabled)
	fmt.Fprintf(w, "path = %q\n", cfg.Store.Path)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# Inbox watched by `ace watch`")
	fmt.Fprintln(w, "[watch]")
	fmt.Fprintf(w, "dir = %q\n", cfg.Watch.Dir)
	fmt.Fprintf(w, "debounce_ms = %d\n", cfg.Watch.DebounceMs)
	if cfg.Watch.ProcessedDir != "" {
		fmt.Fprintf(w, "processed_dir = %q\n", cfg.Watch.ProcessedDir)
	} else {
		fmt.Fprintln(w, "# processed_dir = \"~/.config/ace/processed\"")
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# HTTP API served by `ace serve`")
	fmt.Fprintln(w, "[serve]")
	fmt.Fprintf(w, "host = %q\n", cfg.Serve.Host)
	fmt.Fprintf(w, "port = %d\n", cfg.Serve.Port)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "# format: text, json; color: auto, always, never")
	fmt.Fprintln(w, "[output]")
	fmt.Fprintf(w, "format = %q\n", cfg.Output.Format)
	_, err := fmt.Fprintf(w, "color = %q\n", cfg.Output.Color)
	return err
}

// CreateDefault writes the default config to path (DefaultPath when empty)
// and returns the path written. It refuses to overwrite an existing file.
func CreateDefault(path string) (string, error) {
	if path == "" {
		path = DefaultPath()
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}

	if _, err := os.Stat(path); err == nil {
		return "", fmt.Errorf("config file already exists: %s", path)
	}

	var buffer strings.Builder
	if err := Print(Default(), &buffer); err != nil {
		return "", err
	}

	if err := util.AtomicWriteFile(path, []byte(buffer.String()), 0644); err != nil {
		return "", err
	}

	return path, nil
}
