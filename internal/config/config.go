// Package config handles configuration loading and defaults for bwmond.
//
// Configuration is a single YAML file with documented defaults. Environment
// variables are expanded before parsing, so paths like $HOME/.bwmon work in
// the file. A missing config file is not an error; the daemon runs on
// defaults.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// Defaults
// =============================================================================

const (
	// DefaultListenAddress is the default HTTP listen address.
	// Override via config: server.listen
	DefaultListenAddress = "0.0.0.0:5000"

	// DefaultDataDirName is the data directory under $HOME used when
	// data_dir is not configured. Holds the database, the allow-list and
	// the saving toggle.
	DefaultDataDirName = ".bwmon"

	// DefaultDatabaseFile is the SQLite database file inside the data dir.
	DefaultDatabaseFile = "network_data.db"

	// DefaultAllowListFile is the allow-list file inside the data dir.
	// One sender address per line, matched verbatim.
	DefaultAllowListFile = "server_list.txt"

	// DefaultSavingToggleFile is the persistence toggle file inside the
	// data dir. Saving is on iff its trimmed content is "enabled".
	DefaultSavingToggleFile = "db_saving_status.txt"

	// DefaultDrainTimeoutSec is how long to wait for in-flight requests
	// during shutdown before the listener is torn down. Follows the
	// Kubernetes convention (terminationGracePeriodSeconds = 30s).
	DefaultDrainTimeoutSec = 30

	// DefaultHistoryWindowHours is the window applied to history queries
	// that do not specify one.
	DefaultHistoryWindowHours = 24
)

// =============================================================================
// Config
// =============================================================================

// Config is the complete bwmond configuration.
type Config struct {
	// DataDir is the root directory for the database and policy files.
	DataDir string `yaml:"data_dir"`

	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	Policy  PolicyConfig  `yaml:"policy"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP transport.
type ServerConfig struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen"`

	// DrainTimeoutSec bounds graceful shutdown.
	DrainTimeoutSec int `yaml:"drain_timeout_sec"`
}

// DrainTimeout returns the shutdown drain bound as a duration.
func (c *ServerConfig) DrainTimeout() time.Duration {
	return time.Duration(c.DrainTimeoutSec) * time.Second
}

// StorageConfig configures the sample store.
type StorageConfig struct {
	// Path is the SQLite database file. Defaults to {DataDir}/network_data.db.
	Path string `yaml:"path"`

	// DefaultWindowHours is the history window when the caller omits one.
	DefaultWindowHours int `yaml:"default_window_hours"`
}

// PolicyConfig configures the access policy backing files.
type PolicyConfig struct {
	// AllowListPath is the allow-list file. Defaults to {DataDir}/server_list.txt.
	AllowListPath string `yaml:"allow_list"`

	// SavingTogglePath is the saving toggle file.
	// Defaults to {DataDir}/db_saving_status.txt.
	SavingTogglePath string `yaml:"saving_toggle"`

	// Watch enables logging of external edits to the policy files.
	Watch bool `yaml:"watch"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// JSON switches output to JSON records.
	JSON bool `yaml:"json"`
}

// Default returns a Config with all defaults applied.
func Default() *Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	cfg := &Config{
		DataDir: filepath.Join(home, DefaultDataDirName),
		Server: ServerConfig{
			Listen:          DefaultListenAddress,
			DrainTimeoutSec: DefaultDrainTimeoutSec,
		},
		Storage: StorageConfig{
			DefaultWindowHours: DefaultHistoryWindowHours,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
		Policy: PolicyConfig{
			Watch: true,
		},
	}
	return cfg
}

// Load loads configuration from a YAML file, applying defaults for any
// field the file leaves unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	// Expand environment variables before parsing
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyDerived()
	return cfg, nil
}

// applyDerived fills in paths derived from DataDir.
func (c *Config) applyDerived() {
	if c.Storage.Path == "" {
		c.Storage.Path = filepath.Join(c.DataDir, DefaultDatabaseFile)
	}
	if c.Policy.AllowListPath == "" {
		c.Policy.AllowListPath = filepath.Join(c.DataDir, DefaultAllowListFile)
	}
	if c.Policy.SavingTogglePath == "" {
		c.Policy.SavingTogglePath = filepath.Join(c.DataDir, DefaultSavingToggleFile)
	}
	if c.Storage.DefaultWindowHours <= 0 {
		c.Storage.DefaultWindowHours = DefaultHistoryWindowHours
	}
	if c.Server.DrainTimeoutSec <= 0 {
		c.Server.DrainTimeoutSec = DefaultDrainTimeoutSec
	}
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListenAddress
	}
}

// Bootstrap creates the data directory if it does not exist. The database
// and policy files are created lazily by their owners.
func (c *Config) Bootstrap() error {
	c.applyDerived()
	if err := os.MkdirAll(c.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	return nil
}

// LogLevel parses the configured level, defaulting to info.
func (c *Config) LogLevel() slog.Level {
	switch c.Logging.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
