package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ProjectID = "web"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Matching.SimilarityFloor != 0.6 {
		t.Errorf("SimilarityFloor = %v, want 0.6", cfg.Matching.SimilarityFloor)
	}
	if cfg.Sync.AutoSync {
		t.Errorf("AutoSync should default to false")
	}
	if cfg.Sync.MaxAttempts != 5 || cfg.Sync.InitialBackoff != time.Second || cfg.Sync.MaxBackoff != time.Minute {
		t.Errorf("unexpected retry defaults: %+v", cfg.Sync)
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	path := writeConfig(t, `
project_id: web
data_dir: /var/lib/nebula
matching:
  similarity_floor: 0.7
sync:
  auto_sync: true
  central_endpoint: https://central.example.com
  interval: 2m
retention:
  retention_days: 30
  retention_critical_days: 90
  global_limit_events: 5000
  cleanup_interval_hours: 12
  cleanup_enabled: true
`)
	t.Setenv("NEBULA_SIMILARITY_FLOOR", "0.8")
	t.Setenv("NEBULA_SYNC_INTERVAL", "30s")
	t.Setenv("NEBULA_API_TOKEN", "s3cret")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.ProjectID != "web" {
		t.Errorf("ProjectID = %q, want web", cfg.ProjectID)
	}
	if cfg.Matching.SimilarityFloor != 0.8 {
		t.Errorf("SimilarityFloor = %v, want env override 0.8", cfg.Matching.SimilarityFloor)
	}
	if cfg.Sync.Interval != 30*time.Second {
		t.Errorf("Interval = %v, want 30s", cfg.Sync.Interval)
	}
	if !cfg.Sync.AutoSync || cfg.Sync.CentralEndpoint != "https://central.example.com" {
		t.Errorf("sync not loaded from file: %+v", cfg.Sync)
	}
	if cfg.Retention.GlobalLimitEvents != 5000 {
		t.Errorf("GlobalLimitEvents = %d, want 5000", cfg.Retention.GlobalLimitEvents)
	}
	if cfg.Control.SocketPath != filepath.Join("/var/lib/nebula", "nebula.sock") {
		t.Errorf("SocketPath = %q", cfg.Control.SocketPath)
	}

	engine := cfg.Engine()
	if !engine.Enabled || engine.Interval != 30*time.Second || engine.Retry.MaxAttempts != 5 {
		t.Errorf("unexpected engine config: %+v", engine)
	}
	if cfg.Fingerprint().SimilarityFloor != 0.8 {
		t.Errorf("fingerprint floor not propagated")
	}

	s := cfg.String()
	if strings.Contains(s, "s3cret") {
		t.Errorf("String() leaked the API token: %s", s)
	}
	if !strings.Contains(s, "Auth: true") {
		t.Errorf("String() = %s, want Auth: true", s)
	}
}

func TestLoadMissingFile(t *testing.T) {
	t.Setenv("NEBULA_PROJECT_ID", "web")
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	if _, err := Load(missing, false); err != nil {
		t.Errorf("optional missing file should load defaults: %v", err)
	}
	if _, err := Load(missing, true); err == nil {
		t.Errorf("required missing file should fail")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "unknown field",
			body:    "project_id: web\nsimilarity: 0.5\n",
			wantErr: "failed to parse",
		},
		{
			name:    "floor out of range",
			body:    "project_id: web\nmatching:\n  similarity_floor: 1.5\n",
			wantErr: "similarity_floor",
		},
		{
			name:    "bad env float",
			body:    "project_id: web\n",
			env:     map[string]string{"NEBULA_SIMILARITY_FLOOR": "high"},
			wantErr: "NEBULA_SIMILARITY_FLOOR",
		},
		{
			name:    "bad env duration",
			body:    "project_id: web\n",
			env:     map[string]string{"NEBULA_SYNC_INTERVAL": "often"},
			wantErr: "NEBULA_SYNC_INTERVAL",
		},
		{
			name:    "bad project id",
			body:    "project_id: ../etc\n",
			wantErr: "project_id",
		},
		{
			name:    "bad log level",
			body:    "project_id: web\nlog:\n  level: loud\n",
			wantErr: "log.level",
		},
		{
			name:    "bad log format",
			body:    "project_id: web\nlog:\n  format: xml\n",
			wantErr: "log.format",
		},
		{
			name:    "too many attempts",
			body:    "project_id: web\nsync:\n  max_attempts: 50\n",
			wantErr: "max_attempts",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load(writeConfig(t, tt.body), true)
			if err == nil {
				t.Fatalf("expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestAutoSyncWithoutEndpointIsValid(t *testing.T) {
	t.Setenv("NEBULA_PROJECT_ID", "web")
	t.Setenv("NEBULA_AUTO_SYNC", "true")
	cfg, err := Load("", false)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Engine().Enabled || cfg.Engine().Endpoint != "" {
		t.Errorf("unexpected engine config: %+v", cfg.Engine())
	}
}

func TestStorePath(t *testing.T) {
	cfg := DefaultConfig()
	cfg.DataDir = "/data"
	got, err := cfg.StorePath("web")
	if err != nil {
		t.Fatalf("StorePath: %v", err)
	}
	if want := filepath.Join("/data", "web", "project_memory.db"); got != want {
		t.Errorf("StorePath = %q, want %q", got, want)
	}
	if _, err := cfg.StorePath("../escape"); err == nil {
		t.Errorf("expected invalid project id to fail")
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := LogConfig{Level: "debug", Format: "json"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("hello", "k", "v")
	if !strings.Contains(buf.String(), `"msg":"hello"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}

	buf.Reset()
	logger, err = LogConfig{Level: "warn", Format: "text"}.NewLogger(&buf)
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info should be filtered at warn level, got %q", buf.String())
	}
}

func TestRetentionConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*RetentionConfig)
		wantErr bool
	}{
		{"defaults", func(*RetentionConfig) {}, false},
		{"zero days", func(c *RetentionConfig) { c.RetentionDays = 0 }, true},
		{"critical shorter than regular", func(c *RetentionConfig) { c.RetentionCriticalDays = 30 }, true},
		{"limit too small", func(c *RetentionConfig) { c.GlobalLimitEvents = 10 }, true},
		{"limit too large", func(c *RetentionConfig) { c.GlobalLimitEvents = 2000000 }, true},
		{"interval too long", func(c *RetentionConfig) { c.CleanupIntervalHours = 200 }, true},
		{"disabled is fine", func(c *RetentionConfig) { c.CleanupEnabled = false }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultRetentionConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRetentionCutoffs(t *testing.T) {
	now := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cfg := DefaultRetentionConfig()
	regular, critical := cfg.Cutoffs(now)
	if want := now.AddDate(0, 0, -90); !regular.Equal(want) {
		t.Errorf("regular cutoff = %v, want %v", regular, want)
	}
	if want := now.AddDate(0, 0, -365); !critical.Equal(want) {
		t.Errorf("critical cutoff = %v, want %v", critical, want)
	}
	if cfg.CleanupInterval() != 24*time.Hour {
		t.Errorf("CleanupInterval = %v", cfg.CleanupInterval())
	}
}
