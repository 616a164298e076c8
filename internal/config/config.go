// Package config loads nebula configuration: defaults, then an optional YAML
// file, then NEBULA_* environment overrides, then validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nebula-protocol/nebula/internal/fingerprint"
	"github.com/nebula-protocol/nebula/internal/storage"
	"github.com/nebula-protocol/nebula/internal/syncer"
)

// FileName is the config file inside a project's data directory
const FileName = "config.yaml"

// Config is the full nebula configuration
type Config struct {
	// ProjectID identifies this instance's project. Default: the working
	// directory's base name.
	ProjectID string `yaml:"project_id"`

	// DataDir holds per-project stores for `nebula serve`
	// (<data_dir>/<project_id>/project_memory.db) and seed packs.
	DataDir string `yaml:"data_dir"`

	// DBPath pins the single-project store used by CLI commands. Empty means
	// discover it (NEBULA_DB_PATH, then .nebula/*.db).
	DBPath string `yaml:"db_path"`

	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Control   ControlConfig   `yaml:"control"`
	Matching  MatchingConfig  `yaml:"matching"`
	Sync      SyncConfig      `yaml:"sync"`
	Retention RetentionConfig `yaml:"retention"`
}

// LogConfig controls the slog handler
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error (default: info)
	Format string `yaml:"format"` // text or json (default: text)
}

// ServerConfig controls the HTTP façade
type ServerConfig struct {
	Addr            string        `yaml:"addr"`             // Default: 127.0.0.1:7420
	Token           string        `yaml:"token"`            // Bearer token; empty disables auth
	ReadTimeout     time.Duration `yaml:"read_timeout"`     // Default: 15s
	WriteTimeout    time.Duration `yaml:"write_timeout"`    // Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"` // Default: 10s
}

// ControlConfig controls the local unix-socket transport
type ControlConfig struct {
	Enabled    bool   `yaml:"enabled"`     // Default: true
	SocketPath string `yaml:"socket_path"` // Default: <data_dir>/nebula.sock
}

// MatchingConfig controls fuzzy similarity search
type MatchingConfig struct {
	SimilarityFloor float64 `yaml:"similarity_floor"` // Default: 0.6
	CandidateCap    int     `yaml:"candidate_cap"`    // Default: 500
	MaxLimit        int     `yaml:"max_limit"`        // Default: 50
}

// SyncConfig controls the sync engine and its central aggregator
type SyncConfig struct {
	AutoSync        bool          `yaml:"auto_sync"`        // Run the background engine (default: false)
	CentralEndpoint string        `yaml:"central_endpoint"` // Aggregator base URL
	CentralToken    string        `yaml:"central_token"`    // Bearer token for the aggregator
	Interval        time.Duration `yaml:"interval"`         // Default: 5m
	BatchSize       int           `yaml:"batch_size"`       // Default: 100
	PullLimit       int           `yaml:"pull_limit"`       // Default: 500
	MaxAttempts     int           `yaml:"max_attempts"`     // Default: 5
	InitialBackoff  time.Duration `yaml:"initial_backoff"`  // Default: 1s
	MaxBackoff      time.Duration `yaml:"max_backoff"`      // Default: 60s
	ShutdownGrace   time.Duration `yaml:"shutdown_grace"`   // Default: 5s
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	matching := fingerprint.DefaultConfig()
	engine := syncer.DefaultConfig()
	return &Config{
		DataDir: storage.DataDirName,
		Log:     LogConfig{Level: "info", Format: "text"},
		Server: ServerConfig{
			Addr:            "127.0.0.1:7420",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Control: ControlConfig{Enabled: true},
		Matching: MatchingConfig{
			SimilarityFloor: matching.SimilarityFloor,
			CandidateCap:    matching.CandidateCap,
			MaxLimit:        matching.MaxLimit,
		},
		Sync: SyncConfig{
			Interval:       engine.Interval,
			BatchSize:      engine.BatchSize,
			PullLimit:      engine.PullLimit,
			MaxAttempts:    engine.Retry.MaxAttempts,
			InitialBackoff: engine.Retry.InitialBackoff,
			MaxBackoff:     engine.Retry.MaxBackoff,
			ShutdownGrace:  engine.ShutdownGrace,
		},
		Retention: DefaultRetentionConfig(),
	}
}

// DefaultPath returns the config file location for a project directory
func DefaultPath(projectDir string) string {
	return filepath.Join(projectDir, storage.DataDirName, FileName)
}

// Load builds the configuration from path (optional) and the environment.
// A missing file is an error only when required is true.
func Load(path string, required bool) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := cfg.decode(data); err != nil {
				return nil, fmt.Errorf("failed to parse %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !required:
		default:
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if cfg.ProjectID == "" {
		if wd, err := os.Getwd(); err == nil && storage.ValidateProjectID(filepath.Base(wd)) == nil {
			cfg.ProjectID = filepath.Base(wd)
		}
	}
	if cfg.Control.SocketPath == "" {
		cfg.Control.SocketPath = filepath.Join(cfg.DataDir, "nebula.sock")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// applyEnv overrides file values with NEBULA_* environment variables
//
// Environment variables:
//   - NEBULA_PROJECT_ID, NEBULA_DATA_DIR, NEBULA_DB_PATH
//   - NEBULA_LOG_LEVEL, NEBULA_LOG_FORMAT
//   - NEBULA_ADDR, NEBULA_API_TOKEN, NEBULA_CONTROL_ENABLED, NEBULA_CONTROL_SOCKET
//   - NEBULA_SIMILARITY_FLOOR, NEBULA_CANDIDATE_CAP
//   - NEBULA_AUTO_SYNC, NEBULA_CENTRAL_ENDPOINT, NEBULA_CENTRAL_TOKEN,
//     NEBULA_SYNC_INTERVAL, NEBULA_SYNC_BATCH_SIZE, NEBULA_SYNC_MAX_ATTEMPTS
//   - NEBULA_EVENT_RETENTION_DAYS, NEBULA_EVENT_CLEANUP_ENABLED
func (c *Config) applyEnv() error {
	parsers := []func() error{
		func() error { return parseEnvString("NEBULA_PROJECT_ID", &c.ProjectID) },
		func() error { return parseEnvString("NEBULA_DATA_DIR", &c.DataDir) },
		func() error { return parseEnvString(storage.EnvDBPath, &c.DBPath) },
		func() error { return parseEnvString("NEBULA_LOG_LEVEL", &c.Log.Level) },
		func() error { return parseEnvString("NEBULA_LOG_FORMAT", &c.Log.Format) },
		func() error { return parseEnvString("NEBULA_ADDR", &c.Server.Addr) },
		func() error { return parseEnvString("NEBULA_API_TOKEN", &c.Server.Token) },
		func() error { return parseEnvBool("NEBULA_CONTROL_ENABLED", &c.Control.Enabled) },
		func() error { return parseEnvString("NEBULA_CONTROL_SOCKET", &c.Control.SocketPath) },
		func() error { return parseEnvFloat("NEBULA_SIMILARITY_FLOOR", &c.Matching.SimilarityFloor) },
		func() error { return parseEnvInt("NEBULA_CANDIDATE_CAP", &c.Matching.CandidateCap) },
		func() error { return parseEnvBool("NEBULA_AUTO_SYNC", &c.Sync.AutoSync) },
		func() error { return parseEnvString("NEBULA_CENTRAL_ENDPOINT", &c.Sync.CentralEndpoint) },
		func() error { return parseEnvString("NEBULA_CENTRAL_TOKEN", &c.Sync.CentralToken) },
		func() error { return parseEnvDuration("NEBULA_SYNC_INTERVAL", &c.Sync.Interval) },
		func() error { return parseEnvInt("NEBULA_SYNC_BATCH_SIZE", &c.Sync.BatchSize) },
		func() error { return parseEnvInt("NEBULA_SYNC_MAX_ATTEMPTS", &c.Sync.MaxAttempts) },
		func() error { return parseEnvInt("NEBULA_EVENT_RETENTION_DAYS", &c.Retention.RetentionDays) },
		func() error { return parseEnvBool("NEBULA_EVENT_CLEANUP_ENABLED", &c.Retention.CleanupEnabled) },
	}
	for _, parse := range parsers {
		if err := parse(); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks if the configuration has valid values. An auto-sync
// config without an endpoint is valid: the engine reports it as a fatal
// config error at startup while local operations keep working.
func (c *Config) Validate() error {
	if c.ProjectID != "" {
		if err := storage.ValidateProjectID(c.ProjectID); err != nil {
			return fmt.Errorf("project_id: %w", err)
		}
	}
	if c.DataDir == "" {
		return fmt.Errorf("data_dir must not be empty")
	}
	if _, err := c.Log.slogLevel(); err != nil {
		return err
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		return fmt.Errorf("log.format must be 'text' or 'json' (got %q)", c.Log.Format)
	}
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 || c.Server.ShutdownTimeout <= 0 {
		return fmt.Errorf("server timeouts must be positive")
	}
	if err := c.Fingerprint().Validate(); err != nil {
		return fmt.Errorf("matching: %w", err)
	}
	if err := c.Engine().Validate(); err != nil {
		return fmt.Errorf("sync: %w", err)
	}
	if err := c.Retention.Validate(); err != nil {
		return fmt.Errorf("retention: %w", err)
	}
	return nil
}

// Fingerprint returns the matcher configuration
func (c *Config) Fingerprint() fingerprint.Config {
	return fingerprint.Config{
		SimilarityFloor: c.Matching.SimilarityFloor,
		CandidateCap:    c.Matching.CandidateCap,
		MaxLimit:        c.Matching.MaxLimit,
	}
}

// Engine returns the sync engine configuration
func (c *Config) Engine() syncer.Config {
	cfg := syncer.DefaultConfig()
	cfg.Enabled = c.Sync.AutoSync
	cfg.Endpoint = c.Sync.CentralEndpoint
	cfg.Interval = c.Sync.Interval
	cfg.BatchSize = c.Sync.BatchSize
	cfg.PullLimit = c.Sync.PullLimit
	cfg.ShutdownGrace = c.Sync.ShutdownGrace
	cfg.Retry.MaxAttempts = c.Sync.MaxAttempts
	cfg.Retry.InitialBackoff = c.Sync.InitialBackoff
	cfg.Retry.MaxBackoff = c.Sync.MaxBackoff
	return cfg
}

// StorePath returns the database for project id under DataDir
func (c *Config) StorePath(id string) (string, error) {
	return storage.ProjectDBPath(c.DataDir, id)
}

// String returns a human-readable representation of the config with
// secrets masked
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{ProjectID: %s, DataDir: %s, Addr: %s, Auth: %t, Control: %t, "+
			"SimilarityFloor: %.2f, AutoSync: %t, Endpoint: %s, %s}",
		c.ProjectID, c.DataDir, c.Server.Addr, c.Server.Token != "", c.Control.Enabled,
		c.Matching.SimilarityFloor, c.Sync.AutoSync, c.Sync.CentralEndpoint, c.Retention,
	)
}

func (l LogConfig) slogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(l.Level))); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error (got %q)", l.Level)
	}
	return level, nil
}

// NewLogger builds the process logger writing to w
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.slogLevel()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}
