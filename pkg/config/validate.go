package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"

	"mercator-hq/bastion/pkg/policy"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "server.listen_address").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateEngine(&cfg.Engine)...)
	if cfg.History.MaxPerPolicy < 0 {
		errs = append(errs, FieldError{
			Field:   "history.max_per_policy",
			Message: "max per policy must be non-negative",
		})
	}
	if cfg.History.Codec != "json" && cfg.History.Codec != "yaml" {
		errs = append(errs, FieldError{
			Field:   "history.codec",
			Message: fmt.Sprintf("unknown codec %q (want json or yaml)", cfg.History.Codec),
		})
	}
	errs = append(errs, validatePropagation(&cfg.Propagation)...)
	if cfg.Violations.Capacity < 0 {
		errs = append(errs, FieldError{
			Field:   "violations.capacity",
			Message: "capacity must be non-negative",
		})
	}
	errs = append(errs, validateAudit(&cfg.Audit)...)
	errs = append(errs, validateSource(&cfg.Source)...)
	errs = append(errs, validateServer(&cfg.Server)...)
	errs = append(errs, validateSecurity(&cfg.Security)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateEngine validates engine configuration.
func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	if cfg.DefaultStrategy == "" {
		errs = append(errs, FieldError{
			Field:   "engine.default_strategy",
			Message: "default strategy is required",
		})
	} else if !policy.ResolutionStrategy(cfg.DefaultStrategy).Valid() {
		errs = append(errs, FieldError{
			Field:   "engine.default_strategy",
			Message: fmt.Sprintf("invalid strategy %q", cfg.DefaultStrategy),
		})
	}

	if cfg.Cache.Enabled {
		if cfg.Cache.TTL <= 0 {
			errs = append(errs, FieldError{
				Field:   "engine.cache.ttl",
				Message: "cache ttl must be positive when the cache is enabled",
			})
		}
		if cfg.Cache.MaxEntries <= 0 {
			errs = append(errs, FieldError{
				Field:   "engine.cache.max_entries",
				Message: "cache max entries must be positive when the cache is enabled",
			})
		}
	}

	return errs
}

// validatePropagation validates propagation configuration.
func validatePropagation(cfg *PropagationConfig) []FieldError {
	var errs []FieldError

	if cfg.Workers < 0 {
		errs = append(errs, FieldError{
			Field:   "propagation.workers",
			Message: "workers must be non-negative",
		})
	}
	if cfg.QueueSize < 0 {
		errs = append(errs, FieldError{
			Field:   "propagation.queue_size",
			Message: "queue size must be non-negative",
		})
	}
	if cfg.PushTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "propagation.push_timeout",
			Message: "push timeout must be positive",
		})
	}

	if cfg.ReconcileSchedule != "" {
		if _, err := cron.ParseStandard(cfg.ReconcileSchedule); err != nil {
			errs = append(errs, FieldError{
				Field:   "propagation.reconcile_schedule",
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
		if cfg.StaleAfter <= 0 {
			errs = append(errs, FieldError{
				Field:   "propagation.stale_after",
				Message: "stale after must be positive when reconciliation is scheduled",
			})
		}
	}

	switch cfg.Transport {
	case "memory":
	case "http":
		if cfg.HTTP.BaseURL == "" {
			errs = append(errs, FieldError{
				Field:   "propagation.http.base_url",
				Message: "base url is required when transport is 'http'",
			})
		} else if u, err := url.Parse(cfg.HTTP.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, FieldError{
				Field:   "propagation.http.base_url",
				Message: fmt.Sprintf("invalid url %q", cfg.HTTP.BaseURL),
			})
		}
	case "redis":
		if cfg.Redis.URL == "" {
			errs = append(errs, FieldError{
				Field:   "propagation.redis.url",
				Message: "redis url is required when transport is 'redis'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "propagation.transport",
			Message: fmt.Sprintf("invalid transport %q: must be 'memory', 'http', or 'redis'", cfg.Transport),
		})
	}

	return errs
}

// validateAudit validates audit configuration.
func validateAudit(cfg *AuditConfig) []FieldError {
	var errs []FieldError

	validBackends := map[string]bool{"log": true, "sqlite": true, "memory": true}
	if !validBackends[cfg.Backend] {
		errs = append(errs, FieldError{
			Field:   "audit.backend",
			Message: fmt.Sprintf("invalid backend %q: must be 'log', 'sqlite', or 'memory'", cfg.Backend),
		})
	}

	if cfg.Backend == "sqlite" {
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.path",
				Message: "sqlite path is required when backend is 'sqlite'",
			})
		}
		if cfg.SQLite.MaxOpenConns < 0 {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.max_open_conns",
				Message: "max open connections must be non-negative",
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{
				Field:   "audit.sqlite.busy_timeout",
				Message: "busy timeout must be positive",
			})
		}
	}

	return errs
}

// validateSource validates configuration store settings.
func validateSource(cfg *SourceConfig) []FieldError {
	var errs []FieldError

	switch cfg.Type {
	case "none":
	case "file", "sqlite":
		if cfg.Path == "" {
			errs = append(errs, FieldError{
				Field:   "source.path",
				Message: fmt.Sprintf("path is required when type is '%s'", cfg.Type),
			})
		}
		if cfg.Watch && cfg.Type == "sqlite" {
			errs = append(errs, FieldError{
				Field:   "source.watch",
				Message: "watch is only supported for file and git sources",
			})
		}
	case "git":
		errs = append(errs, validateGitSource(&cfg.Git)...)
	default:
		errs = append(errs, FieldError{
			Field:   "source.type",
			Message: fmt.Sprintf("invalid type %q: must be 'none', 'file', 'sqlite', or 'git'", cfg.Type),
		})
	}

	if cfg.Debounce < 0 {
		errs = append(errs, FieldError{
			Field:   "source.debounce",
			Message: "debounce must be positive",
		})
	}

	return errs
}

func validateGitSource(cfg *GitSourceConfig) []FieldError {
	var errs []FieldError

	if cfg.Repository == "" {
		errs = append(errs, FieldError{
			Field:   "source.git.repository",
			Message: "repository is required when type is 'git'",
		})
	}
	if cfg.Depth < 0 {
		errs = append(errs, FieldError{
			Field:   "source.git.depth",
			Message: "depth must not be negative",
		})
	}
	if cfg.PollInterval < 0 || cfg.Timeout < 0 {
		errs = append(errs, FieldError{
			Field:   "source.git.poll_interval",
			Message: "poll interval and timeout must be positive",
		})
	}

	switch cfg.Auth.Type {
	case "none":
	case "token":
		if cfg.Auth.Token == "" {
			errs = append(errs, FieldError{
				Field:   "source.git.auth.token",
				Message: "token is required when auth type is 'token'",
			})
		}
	case "ssh":
		if cfg.Auth.SSHKeyPath == "" {
			errs = append(errs, FieldError{
				Field:   "source.git.auth.ssh_key_path",
				Message: "ssh_key_path is required when auth type is 'ssh'",
			})
		}
	default:
		errs = append(errs, FieldError{
			Field:   "source.git.auth.type",
			Message: fmt.Sprintf("invalid auth type %q: must be 'none', 'token', or 'ssh'", cfg.Auth.Type),
		})
	}

	return errs
}

// validateServer validates admin server configuration.
func validateServer(cfg *ServerConfig) []FieldError {
	var errs []FieldError

	if !cfg.Enabled {
		return errs
	}

	if cfg.ListenAddress == "" {
		errs = append(errs, FieldError{
			Field:   "server.listen_address",
			Message: "listen address is required",
		})
	}

	// Validate timeouts are positive
	if cfg.ReadTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.read_timeout",
			Message: "read timeout must be positive",
		})
	}
	if cfg.WriteTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.write_timeout",
			Message: "write timeout must be positive",
		})
	}
	if cfg.IdleTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.idle_timeout",
			Message: "idle timeout must be positive",
		})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{
			Field:   "server.shutdown_timeout",
			Message: "shutdown timeout must be positive",
		})
	}

	if cfg.MaxBodyBytes < 0 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes must be non-negative",
		})
	}
	if cfg.MaxBodyBytes > 64*1024*1024 {
		errs = append(errs, FieldError{
			Field:   "server.max_body_bytes",
			Message: "max body bytes exceeds reasonable limit (64MB)",
		})
	}

	return errs
}

// validateSecurity validates TLS, secrets and authentication configuration.
func validateSecurity(cfg *SecurityConfig) []FieldError {
	var errs []FieldError

	if cfg.TLS.Enabled {
		if cfg.TLS.CertFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.cert_file",
				Message: "TLS certificate file is required when TLS is enabled",
			})
		}
		if cfg.TLS.KeyFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.key_file",
				Message: "TLS key file is required when TLS is enabled",
			})
		}
		if cfg.TLS.MinVersion != "1.2" && cfg.TLS.MinVersion != "1.3" {
			errs = append(errs, FieldError{
				Field:   "security.tls.min_version",
				Message: fmt.Sprintf("unsupported TLS version %q (want 1.2 or 1.3)", cfg.TLS.MinVersion),
			})
		}
		if cfg.TLS.ReloadInterval < 0 {
			errs = append(errs, FieldError{
				Field:   "security.tls.cert_reload_interval",
				Message: "reload interval must be positive",
			})
		}
	}

	if cfg.TLS.MTLS.Enabled {
		if cfg.TLS.MTLS.ClientCAFile == "" {
			errs = append(errs, FieldError{
				Field:   "security.tls.mtls.client_ca_file",
				Message: "mTLS client CA file is required when mTLS is enabled",
			})
		}
		if !cfg.TLS.Enabled {
			errs = append(errs, FieldError{
				Field:   "security.tls.mtls.enabled",
				Message: "mTLS requires TLS to be enabled (security.tls.enabled must be true)",
			})
		}
		switch cfg.TLS.MTLS.ClientAuthType {
		case "require", "request", "verify_if_given":
		default:
			errs = append(errs, FieldError{
				Field:   "security.tls.mtls.client_auth_type",
				Message: fmt.Sprintf("unknown client auth type %q", cfg.TLS.MTLS.ClientAuthType),
			})
		}
		switch cfg.TLS.MTLS.IdentitySource {
		case "subject.CN", "subject.OU", "subject.O", "SAN":
		default:
			errs = append(errs, FieldError{
				Field:   "security.tls.mtls.identity_source",
				Message: fmt.Sprintf("unknown identity source %q", cfg.TLS.MTLS.IdentitySource),
			})
		}
	}

	for i, p := range cfg.Secrets.Providers {
		field := fmt.Sprintf("security.secrets.providers[%d]", i)
		switch p.Type {
		case "env":
		case "file":
			if p.Path == "" {
				errs = append(errs, FieldError{
					Field:   field + ".path",
					Message: "path is required for the file provider",
				})
			}
		default:
			errs = append(errs, FieldError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown secret provider %q (want env or file)", p.Type),
			})
		}
	}
	if cfg.Secrets.Cache.Enabled && cfg.Secrets.Cache.TTL < 0 {
		errs = append(errs, FieldError{
			Field:   "security.secrets.cache.ttl",
			Message: "cache TTL must be positive",
		})
	}

	if !cfg.Authentication.Enabled {
		return errs
	}
	if len(cfg.Authentication.Keys) == 0 {
		errs = append(errs, FieldError{
			Field:   "security.authentication.keys",
			Message: "at least one API key is required when authentication is enabled",
		})
	}
	for i, k := range cfg.Authentication.Keys {
		field := fmt.Sprintf("security.authentication.keys[%d]", i)
		if k.Key == "" {
			errs = append(errs, FieldError{Field: field + ".key", Message: "key is required"})
		}
		if k.Actor == "" {
			errs = append(errs, FieldError{Field: field + ".actor", Message: "actor is required"})
		}
	}
	for i, src := range cfg.Authentication.Sources {
		field := fmt.Sprintf("security.authentication.sources[%d]", i)
		if src.Type != "header" && src.Type != "query" {
			errs = append(errs, FieldError{
				Field:   field + ".type",
				Message: fmt.Sprintf("unknown source type %q (want header or query)", src.Type),
			})
		}
		if src.Name == "" {
			errs = append(errs, FieldError{Field: field + ".name", Message: "name is required"})
		}
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	// Validate logging level
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if cfg.Logging.Level == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: "logging level is required",
		})
	} else if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid logging level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Logging.Level),
		})
	}

	// Validate logging format
	validFormats := map[string]bool{"json": true, "text": true}
	if cfg.Logging.Format == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: "logging format is required",
		})
	} else if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid logging format %q: must be 'json' or 'text'", cfg.Logging.Format),
		})
	}

	// Validate metrics prometheus path
	if cfg.Metrics.Enabled && cfg.Metrics.Path == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path is required when metrics are enabled",
		})
	}
	if cfg.Metrics.Path != "" && cfg.Metrics.Path[0] != '/' {
		errs = append(errs, FieldError{
			Field:   "telemetry.metrics.path",
			Message: "metrics path must start with /",
		})
	}

	// Validate tracing configuration
	if cfg.Tracing.Enabled && cfg.Tracing.Endpoint == "" {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.endpoint",
			Message: "tracing endpoint is required when tracing is enabled",
		})
	}
	validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
	if cfg.Tracing.Sampler != "" && !validSamplers[cfg.Tracing.Sampler] {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sampler",
			Message: fmt.Sprintf("invalid sampler %q: must be 'always', 'never', or 'ratio'", cfg.Tracing.Sampler),
		})
	}
	if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1.0 {
		errs = append(errs, FieldError{
			Field:   "telemetry.tracing.sample_ratio",
			Message: "sample ratio must be between 0.0 and 1.0",
		})
	}

	return errs
}
