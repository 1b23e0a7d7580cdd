package config

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_ValidFile(t *testing.T) {
	path := writeConfig(t, "bastion.yaml", `
engine:
  load_defaults: false
  default_strategy: most_specific
  cache:
    ttl: 30s

propagation:
  transport: redis
  reconcile_schedule: "*/5 * * * *"
  redis:
    url: redis://localhost:6379/0

source:
  type: file
  path: ./policies
  watch: true

audit:
  backend: sqlite
  sqlite:
    path: ./audit.db

telemetry:
  logging:
    level: debug
    format: text
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Engine.LoadDefaults {
		t.Error("expected load_defaults false")
	}
	if cfg.Engine.DefaultStrategy != "most_specific" {
		t.Errorf("expected strategy %q, got %q", "most_specific", cfg.Engine.DefaultStrategy)
	}
	if !cfg.Engine.Cache.Enabled {
		t.Error("expected cache to stay enabled when only ttl is set")
	}
	if cfg.Engine.Cache.TTL != 30*time.Second {
		t.Errorf("expected cache ttl %v, got %v", 30*time.Second, cfg.Engine.Cache.TTL)
	}
	if cfg.Engine.Cache.MaxEntries != DefaultEngineCacheMaxEntries {
		t.Errorf("expected cache max entries %d, got %d", DefaultEngineCacheMaxEntries, cfg.Engine.Cache.MaxEntries)
	}
	if cfg.Propagation.Redis.ChannelPrefix != DefaultRedisChannelPrefix {
		t.Errorf("expected channel prefix %q, got %q", DefaultRedisChannelPrefix, cfg.Propagation.Redis.ChannelPrefix)
	}
	if cfg.Propagation.ReconcileSchedule != "*/5 * * * *" {
		t.Errorf("expected reconcile schedule %q, got %q", "*/5 * * * *", cfg.Propagation.ReconcileSchedule)
	}
	if !cfg.Audit.SQLite.WALMode {
		t.Error("expected sqlite wal mode to default to true")
	}
	if !cfg.Server.Enabled || !cfg.Telemetry.Metrics.Enabled || !cfg.Telemetry.Logging.Redact {
		t.Error("expected boolean defaults to survive decoding")
	}
	if cfg.Telemetry.Logging.Level != "debug" {
		t.Errorf("expected logging level %q, got %q", "debug", cfg.Telemetry.Logging.Level)
	}
}

func TestLoadConfig_EmptyScheduleDisablesReconciler(t *testing.T) {
	path := writeConfig(t, "bastion.yaml", "propagation:\n  reconcile_schedule: \"\"\n")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.Propagation.ReconcileSchedule != "" {
		t.Errorf("expected empty reconcile schedule, got %q", cfg.Propagation.ReconcileSchedule)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
	if !strings.Contains(err.Error(), "failed to read configuration file") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoadConfig_MalformedYAML(t *testing.T) {
	path := writeConfig(t, "bastion.yaml", "engine:\n  cache: [unclosed\n")

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected error for malformed YAML")
	}
	if !strings.Contains(err.Error(), "failed to parse configuration file") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoadConfig_ValidationFailure(t *testing.T) {
	path := writeConfig(t, "bastion.yaml", `
source:
  type: file
propagation:
  transport: kafka
`)

	_, err := LoadConfig(path)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Errors) != 2 {
		t.Errorf("expected 2 field errors, got %d: %v", len(verr.Errors), verr.Errors)
	}
}

func TestLoadConfigWithEnvOverrides(t *testing.T) {
	path := writeConfig(t, "bastion.yaml", `
server:
  listen_address: "127.0.0.1:8181"
telemetry:
  logging:
    level: info
`)

	t.Setenv("BASTION_SERVER_LISTEN_ADDRESS", "0.0.0.0:9000")
	t.Setenv("BASTION_TELEMETRY_LOGGING_LEVEL", "warn")
	t.Setenv("BASTION_ENGINE_CACHE_ENABLED", "false")
	t.Setenv("BASTION_ENGINE_CACHE_TTL", "2m")
	t.Setenv("BASTION_PROPAGATION_WORKERS", "8")
	t.Setenv("BASTION_SERVER_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("BASTION_TELEMETRY_TRACING_SAMPLE_RATIO", "0.25")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Server.ListenAddress != "0.0.0.0:9000" {
		t.Errorf("expected listen address %q, got %q", "0.0.0.0:9000", cfg.Server.ListenAddress)
	}
	if cfg.Telemetry.Logging.Level != "warn" {
		t.Errorf("expected logging level %q, got %q", "warn", cfg.Telemetry.Logging.Level)
	}
	if cfg.Engine.Cache.Enabled {
		t.Error("expected cache disabled by environment")
	}
	if cfg.Engine.Cache.TTL != 2*time.Minute {
		t.Errorf("expected cache ttl %v, got %v", 2*time.Minute, cfg.Engine.Cache.TTL)
	}
	if cfg.Propagation.Workers != 8 {
		t.Errorf("expected 8 workers, got %d", cfg.Propagation.Workers)
	}
	if got := cfg.Server.CORS.AllowedOrigins; len(got) != 2 || got[1] != "https://b.example" {
		t.Errorf("expected two trimmed origins, got %v", got)
	}
	if cfg.Telemetry.Tracing.SampleRatio != 0.25 {
		t.Errorf("expected sample ratio 0.25, got %v", cfg.Telemetry.Tracing.SampleRatio)
	}
}

func TestLoadConfigWithEnvOverrides_InvalidValuesIgnored(t *testing.T) {
	path := writeConfig(t, "bastion.yaml", "history:\n  max_per_policy: 7\n")

	t.Setenv("BASTION_HISTORY_MAX_PER_POLICY", "lots")
	t.Setenv("BASTION_ENGINE_CACHE_TTL", "soon")
	t.Setenv("BASTION_SERVER_ENABLED", "perhaps")

	cfg, err := LoadConfigWithEnvOverrides(path)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}
	if cfg.History.MaxPerPolicy != 7 {
		t.Errorf("expected max per policy 7, got %d", cfg.History.MaxPerPolicy)
	}
	if cfg.Engine.Cache.TTL != DefaultEngineCacheTTL {
		t.Errorf("expected cache ttl %v, got %v", DefaultEngineCacheTTL, cfg.Engine.Cache.TTL)
	}
	if !cfg.Server.Enabled {
		t.Error("expected server to stay enabled")
	}
}

func TestLoadConfigWithEnvOverrides_RevalidatesOverrides(t *testing.T) {
	path := writeConfig(t, "bastion.yaml", "{}\n")
	t.Setenv("BASTION_AUDIT_BACKEND", "carbon-copy")

	_, err := LoadConfigWithEnvOverrides(path)
	if err == nil || !strings.Contains(err.Error(), "after environment overrides") {
		t.Errorf("expected validation error after overrides, got %v", err)
	}
}
