// Package config manages offlog configuration and the data directory layout.
// Settings come from config.toml in the data directory, then OFFLOG_*
// environment variables, then command-line flags.
package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	ConfigFile     = "config.toml"
	BoltFile       = "offlog.db"
	SQLiteFile     = "offlog.sqlite"
	BlobsDir       = "blobs"
	DataDirEnv     = "OFFLOG_DATA_DIR"
	DriverBolt     = "bbolt"
	DriverSQLite   = "sqlite"
	DefaultSyncTag = "replay-queued-mutations"
)

// Duration is a time.Duration written as a string ("30s") in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(b []byte) error {
	v, err := time.ParseDuration(string(b))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config is the full offlog configuration.
type Config struct {
	Proxy    ProxyConfig   `toml:"proxy"`
	Control  ControlConfig `toml:"control"`
	Store    StoreConfig   `toml:"store"`
	Log      LogConfig     `toml:"log"`
	Sync     SyncConfig    `toml:"sync"`
	Replay   ReplayConfig  `toml:"replay"`
	Webhooks WebhookConfig `toml:"webhooks"`

	dataDir string
}

// ProxyConfig configures the intercepting reverse proxy.
type ProxyConfig struct {
	Listen     string `toml:"listen"`
	Upstream   string `toml:"upstream"`
	PathPrefix string `toml:"path_prefix"`
}

// ControlConfig configures the control API.
type ControlConfig struct {
	Listen string `toml:"listen"`
	URL    string `toml:"url,omitempty"` // client side; derived from Listen when empty
	Token  string `toml:"token,omitempty"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `toml:"driver"` // bbolt or sqlite
}

// LogConfig configures the slog handler. An empty format picks text on a
// terminal and JSON otherwise.
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format,omitempty"`
}

// SyncConfig configures deferred-retry registrations.
type SyncConfig struct {
	Tag            string   `toml:"tag"`
	MaxAttempts    int      `toml:"max_attempts"`
	InitialBackoff Duration `toml:"initial_backoff"`
	MaxBackoff     Duration `toml:"max_backoff"`
	ProbeURL       string   `toml:"probe_url,omitempty"` // defaults to the upstream
}

// ReplayConfig configures mutation replays.
type ReplayConfig struct {
	Timeout           Duration `toml:"timeout"` // 0 leaves timing to the transport
	IdempotencyHeader string   `toml:"idempotency_header,omitempty"`
}

// WebhookConfig lists URLs notified after drains.
type WebhookConfig struct {
	URLs []string `toml:"urls,omitempty"`
}

// DefaultDataDir returns $OFFLOG_DATA_DIR or ~/.offlog.
func DefaultDataDir() string {
	if v := os.Getenv(DataDirEnv); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".offlog"
	}
	return filepath.Join(home, ".offlog")
}

// Default returns the built-in configuration for dataDir.
func Default(dataDir string) *Config {
	return &Config{
		Proxy: ProxyConfig{
			Listen:     "127.0.0.1:8730",
			Upstream:   "http://127.0.0.1:3000",
			PathPrefix: "/api/log-food",
		},
		Control: ControlConfig{
			Listen: "127.0.0.1:8731",
		},
		Store: StoreConfig{Driver: DriverBolt},
		Log:   LogConfig{Level: "info"},
		Sync: SyncConfig{
			Tag:            DefaultSyncTag,
			MaxAttempts:    5,
			InitialBackoff: Duration{time.Second},
			MaxBackoff:     Duration{5 * time.Minute},
		},
		dataDir: dataDir,
	}
}

// Load reads config.toml from dataDir on top of the defaults and applies
// environment overrides. A missing file is not an error.
func Load(dataDir string) (*Config, error) {
	cfg := Default(dataDir)

	data, err := os.ReadFile(cfg.ConfigPath())
	switch {
	case err == nil:
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Initialize writes a default config.toml into dataDir. It refuses to
// overwrite an existing file unless force is set.
func Initialize(dataDir string, force bool) (*Config, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	cfg := Default(dataDir)
	if _, err := os.Stat(cfg.ConfigPath()); err == nil && !force {
		return nil, fmt.Errorf("config already exists at %s", cfg.ConfigPath())
	}
	if err := cfg.Save(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes the configuration to config.toml.
func (c *Config) Save() error {
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(c.ConfigPath(), data, 0600)
}

// Encode returns the configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	return toml.Marshal(c)
}

// ApplyEnv overrides settings from OFFLOG_* variables found by lookup.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	str := map[string]*string{
		"OFFLOG_PROXY_LISTEN":       &c.Proxy.Listen,
		"OFFLOG_UPSTREAM":           &c.Proxy.Upstream,
		"OFFLOG_PATH_PREFIX":        &c.Proxy.PathPrefix,
		"OFFLOG_CONTROL_LISTEN":     &c.Control.Listen,
		"OFFLOG_CONTROL_URL":        &c.Control.URL,
		"OFFLOG_CONTROL_TOKEN":      &c.Control.Token,
		"OFFLOG_STORE_DRIVER":       &c.Store.Driver,
		"OFFLOG_LOG_LEVEL":          &c.Log.Level,
		"OFFLOG_LOG_FORMAT":         &c.Log.Format,
		"OFFLOG_SYNC_TAG":           &c.Sync.Tag,
		"OFFLOG_SYNC_PROBE_URL":     &c.Sync.ProbeURL,
		"OFFLOG_IDEMPOTENCY_HEADER": &c.Replay.IdempotencyHeader,
	}
	for key, dst := range str {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}

	if v, ok := lookup("OFFLOG_SYNC_MAX_ATTEMPTS"); ok && v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("OFFLOG_SYNC_MAX_ATTEMPTS: %w", err)
		}
		c.Sync.MaxAttempts = n
	}
	if v, ok := lookup("OFFLOG_REPLAY_TIMEOUT"); ok && v != "" {
		if err := c.Replay.Timeout.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("OFFLOG_REPLAY_TIMEOUT: %w", err)
		}
	}
	if v, ok := lookup("OFFLOG_WEBHOOK_URLS"); ok && v != "" {
		c.Webhooks.URLs = SplitList(v)
	}
	return nil
}

// Validate checks the configuration for values the daemon cannot use.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverBolt, DriverSQLite:
	default:
		return fmt.Errorf("invalid store driver %q (want %s or %s)", c.Store.Driver, DriverBolt, DriverSQLite)
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "", "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	u, err := url.Parse(c.Proxy.Upstream)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream URL %q", c.Proxy.Upstream)
	}
	if !strings.HasPrefix(c.Proxy.PathPrefix, "/") {
		return fmt.Errorf("path prefix must start with /: %q", c.Proxy.PathPrefix)
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync max_attempts must be positive")
	}
	return nil
}

// DataDir returns the data directory.
func (c *Config) DataDir() string {
	return c.dataDir
}

// ConfigPath returns the path to config.toml.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.dataDir, ConfigFile)
}

// DatabasePath returns the database file for the configured driver.
func (c *Config) DatabasePath() string {
	if c.Store.Driver == DriverSQLite {
		return filepath.Join(c.dataDir, SQLiteFile)
	}
	return filepath.Join(c.dataDir, BoltFile)
}

// BlobsPath returns the capture blob directory.
func (c *Config) BlobsPath() string {
	return filepath.Join(c.dataDir, BlobsDir)
}

// ProbeURL returns the reachability probe target.
func (c *Config) ProbeURL() string {
	if c.Sync.ProbeURL != "" {
		return c.Sync.ProbeURL
	}
	return c.Proxy.Upstream
}

// ControlURL returns the base URL clients use to reach the control API.
func (c *Config) ControlURL() string {
	if c.Control.URL != "" {
		return strings.TrimRight(c.Control.URL, "/")
	}
	host, port, err := net.SplitHostPort(c.Control.Listen)
	if err != nil {
		return "http://" + c.Control.Listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// SplitList splits a comma-separated list, dropping blanks.
func SplitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
