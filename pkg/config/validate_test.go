package config

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestValidate_ValidConfig(t *testing.T) {
	if err := Validate(Default()); err != nil {
		t.Errorf("expected valid config to pass validation, got error: %v", err)
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	err := Validate(&Config{})
	if err == nil {
		t.Fatal("expected validation to fail")
	}

	var verr ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Errors) < 2 {
		t.Errorf("expected multiple errors, got %d", len(verr.Errors))
	}
	if !strings.Contains(verr.Error(), "validation failed with") {
		t.Errorf("error message should mention multiple errors: %s", verr.Error())
	}
}

func TestValidate_Fields(t *testing.T) {
	tests := []struct {
		name       string
		mutate     func(*Config)
		errorField string
	}{
		{"unknown strategy", func(c *Config) { c.Engine.DefaultStrategy = "coin_flip" }, "engine.default_strategy"},
		{"zero cache ttl", func(c *Config) { c.Engine.Cache.TTL = 0 }, "engine.cache.ttl"},
		{"negative history cap", func(c *Config) { c.History.MaxPerPolicy = -1 }, "history.max_per_policy"},
		{"unknown codec", func(c *Config) { c.History.Codec = "gob" }, "history.codec"},
		{"bad cron", func(c *Config) { c.Propagation.ReconcileSchedule = "whenever" }, "propagation.reconcile_schedule"},
		{"scheduled without stale", func(c *Config) { c.Propagation.StaleAfter = 0 }, "propagation.stale_after"},
		{"http without url", func(c *Config) { c.Propagation.Transport = "http" }, "propagation.http.base_url"},
		{"http bad url", func(c *Config) {
			c.Propagation.Transport = "http"
			c.Propagation.HTTP.BaseURL = "not a url"
		}, "propagation.http.base_url"},
		{"redis without url", func(c *Config) { c.Propagation.Transport = "redis" }, "propagation.redis.url"},
		{"unknown transport", func(c *Config) { c.Propagation.Transport = "kafka" }, "propagation.transport"},
		{"negative violations capacity", func(c *Config) { c.Violations.Capacity = -5 }, "violations.capacity"},
		{"unknown audit backend", func(c *Config) { c.Audit.Backend = "paper" }, "audit.backend"},
		{"sqlite audit without path", func(c *Config) {
			c.Audit.Backend = "sqlite"
			c.Audit.SQLite.Path = ""
		}, "audit.sqlite.path"},
		{"file source without path", func(c *Config) { c.Source.Type = "file" }, "source.path"},
		{"watch on sqlite source", func(c *Config) {
			c.Source = SourceConfig{Type: "sqlite", Path: "p.db", Watch: true}
		}, "source.watch"},
		{"unknown source", func(c *Config) { c.Source.Type = "etcd" }, "source.type"},
		{"git source without repository", func(c *Config) { c.Source.Type = "git" }, "source.git.repository"},
		{"git token auth without token", func(c *Config) {
			c.Source.Type = "git"
			c.Source.Git.Repository = "https://example.com/policies.git"
			c.Source.Git.Auth.Type = "token"
		}, "source.git.auth.token"},
		{"git unknown auth", func(c *Config) {
			c.Source.Type = "git"
			c.Source.Git.Repository = "https://example.com/policies.git"
			c.Source.Git.Auth.Type = "kerberos"
		}, "source.git.auth.type"},
		{"server without address", func(c *Config) { c.Server.ListenAddress = "" }, "server.listen_address"},
		{"negative read timeout", func(c *Config) { c.Server.ReadTimeout = -time.Second }, "server.read_timeout"},
		{"huge body", func(c *Config) { c.Server.MaxBodyBytes = 1 << 30 }, "server.max_body_bytes"},
		{"tls without cert", func(c *Config) { c.Security.TLS.Enabled = true }, "security.tls.cert_file"},
		{"tls 1.1", func(c *Config) {
			c.Security.TLS = TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem", MinVersion: "1.1"}
		}, "security.tls.min_version"},
		{"mtls without tls", func(c *Config) {
			c.Security.TLS.MTLS.Enabled = true
			c.Security.TLS.MTLS.ClientCAFile = "ca.pem"
		}, "security.tls.mtls.enabled"},
		{"mtls unknown identity", func(c *Config) {
			c.Security.TLS.MTLS.Enabled = true
			c.Security.TLS.MTLS.IdentitySource = "email"
		}, "security.tls.mtls.identity_source"},
		{"file secrets without path", func(c *Config) {
			c.Security.Secrets.Providers = []SecretProviderConfig{{Type: "file"}}
		}, "security.secrets.providers[0].path"},
		{"unknown secret provider", func(c *Config) {
			c.Security.Secrets.Providers = []SecretProviderConfig{{Type: "vault"}}
		}, "security.secrets.providers[0].type"},
		{"auth without keys", func(c *Config) { c.Security.Authentication.Enabled = true }, "security.authentication.keys"},
		{"auth key without actor", func(c *Config) {
			c.Security.Authentication.Enabled = true
			c.Security.Authentication.Keys = []APIKeyConfig{{Key: "k"}}
		}, "security.authentication.keys[0].actor"},
		{"bad log level", func(c *Config) { c.Telemetry.Logging.Level = "loud" }, "telemetry.logging.level"},
		{"bad log format", func(c *Config) { c.Telemetry.Logging.Format = "xml" }, "telemetry.logging.format"},
		{"relative metrics path", func(c *Config) { c.Telemetry.Metrics.Path = "metrics" }, "telemetry.metrics.path"},
		{"tracing without endpoint", func(c *Config) { c.Telemetry.Tracing.Enabled = true }, "telemetry.tracing.endpoint"},
		{"unknown sampler", func(c *Config) { c.Telemetry.Tracing.Sampler = "sometimes" }, "telemetry.tracing.sampler"},
		{"ratio above one", func(c *Config) { c.Telemetry.Tracing.SampleRatio = 1.5 }, "telemetry.tracing.sample_ratio"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)

			err := Validate(cfg)
			if err == nil {
				t.Fatalf("expected validation error for %s", tt.errorField)
			}
			var verr ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T", err)
			}
			found := false
			for _, fe := range verr.Errors {
				if fe.Field == tt.errorField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on field %q, got %v", tt.errorField, verr.Errors)
			}
		})
	}
}

func TestValidate_DisabledSectionsSkipChecks(t *testing.T) {
	cfg := Default()
	cfg.Server.Enabled = false
	cfg.Server.ListenAddress = ""
	cfg.Engine.Cache = CacheConfig{}
	cfg.Propagation.ReconcileSchedule = ""
	cfg.Propagation.StaleAfter = 0

	if err := Validate(cfg); err != nil {
		t.Errorf("expected disabled sections to skip validation, got %v", err)
	}
}
