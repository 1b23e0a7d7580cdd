package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"mercator-hq/bastion/pkg/audit"
	"mercator-hq/bastion/pkg/cli"
	"mercator-hq/bastion/pkg/config"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/engine"
	"mercator-hq/bastion/pkg/policy/git"
	"mercator-hq/bastion/pkg/policy/propagation"
	"mercator-hq/bastion/pkg/policy/source"
	"mercator-hq/bastion/pkg/policy/violation"
	"mercator-hq/bastion/pkg/security/auth"
	"mercator-hq/bastion/pkg/security/secrets"
	securitytls "mercator-hq/bastion/pkg/security/tls"
	"mercator-hq/bastion/pkg/server"
	"mercator-hq/bastion/pkg/telemetry/health"
)

// engineConfig maps the file configuration onto the engine settings.
func engineConfig(cfg *config.Config) engine.Config {
	return engine.Config{
		LoadDefaults:    cfg.Engine.LoadDefaults,
		DefaultStrategy: policy.ResolutionStrategy(cfg.Engine.DefaultStrategy),
		Cache: engine.CacheConfig{
			Enabled:    cfg.Engine.Cache.Enabled,
			TTL:        cfg.Engine.Cache.TTL,
			MaxEntries: cfg.Engine.Cache.MaxEntries,
		},
		MaxHistoryPerPolicy: cfg.History.MaxPerPolicy,
		Propagation: propagation.Config{
			Workers:     cfg.Propagation.Workers,
			QueueSize:   cfg.Propagation.QueueSize,
			PushTimeout: cfg.Propagation.PushTimeout,
		},
		ReconcileSchedule: cfg.Propagation.ReconcileSchedule,
		StaleAfter:        cfg.Propagation.StaleAfter,
		ViolationCapacity: cfg.Violations.Capacity,
		WatchSource:       cfg.Source.Watch,
	}
}

// newAuditSink builds the configured audit sink. Backends backed by a
// database also return a health check.
func newAuditSink(cfg *config.AuditConfig, logger *slog.Logger) (audit.Sink, health.CheckFunc, error) {
	switch cfg.Backend {
	case "log":
		return audit.NewLogSink(logger), nil, nil
	case "memory":
		return audit.NewMemorySink(), nil, nil
	case "sqlite":
		sink, err := audit.NewSQLiteSink(&audit.SQLiteConfig{
			Path:         cfg.SQLite.Path,
			MaxOpenConns: cfg.SQLite.MaxOpenConns,
			WALMode:      cfg.SQLite.WALMode,
			BusyTimeout:  cfg.SQLite.BusyTimeout,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create SQLite audit sink: %w", err)
		}
		return sink, sink.Ping, nil
	default:
		return nil, nil, cli.NewConfigError("audit.backend", fmt.Sprintf("unsupported backend %q", cfg.Backend))
	}
}

// newTransport builds the propagation transport. The returned closer is
// nil for transports holding no connection.
func newTransport(ctx context.Context, cfg *config.PropagationConfig) (propagation.Transport, io.Closer, error) {
	switch cfg.Transport {
	case "memory":
		return propagation.NewMemory(), nil, nil
	case "http":
		t, err := propagation.NewHTTPTransport(cfg.HTTP.BaseURL, cfg.PushTimeout, cfg.HTTP.Headers)
		if err != nil {
			return nil, nil, cli.NewConfigError("propagation.http", err.Error())
		}
		return t, nil, nil
	case "redis":
		t, err := propagation.NewRedisTransport(ctx, cfg.Redis.URL, cfg.Redis.ChannelPrefix)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect redis transport: %w", err)
		}
		return t, t, nil
	default:
		return nil, nil, cli.NewConfigError("propagation.transport", fmt.Sprintf("unsupported transport %q", cfg.Transport))
	}
}

// newSource builds the configuration store. A nil source means none is
// configured.
func newSource(cfg *config.SourceConfig, logger *slog.Logger) (source.Source, io.Closer, error) {
	switch cfg.Type {
	case "none", "":
		return nil, nil, nil
	case "file":
		return source.NewFileSource(cfg.Path, cfg.Debounce, logger), nil, nil
	case "sqlite":
		src, err := source.NewSQLiteSource(cfg.Path, cfg.BusyTimeout, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open SQLite source: %w", err)
		}
		return src, src, nil
	case "git":
		src, err := git.NewSource(&cfg.Git, logger)
		if err != nil {
			return nil, nil, cli.NewConfigError("source.git", err.Error())
		}
		return src, nil, nil
	default:
		return nil, nil, cli.NewConfigError("source.type", fmt.Sprintf("unsupported source %q", cfg.Type))
	}
}

// logNotifier reports remediation requests through the logger. External
// side effects are left to the services consuming the audit stream.
func logNotifier(logger *slog.Logger) violation.Notifier {
	return violation.NotifierFunc(func(ctx context.Context, v policy.Violation) error {
		logger.WarnContext(ctx, "remediation requested",
			"violation_id", v.ID,
			"policy_id", v.PolicyID,
			"remediation", string(v.Remediation),
			"severity", v.Severity.String(),
		)
		return nil
	})
}

// resolveSecrets replaces ${secret:name} references in the settings that
// carry credentials.
func resolveSecrets(ctx context.Context, cfg *config.Config, mgr *secrets.Manager) error {
	var err error
	if cfg.Propagation.Redis.URL, err = mgr.Resolve(ctx, cfg.Propagation.Redis.URL); err != nil {
		return cli.NewConfigError("propagation.redis.url", err.Error())
	}
	gitAuth := &cfg.Source.Git.Auth
	if gitAuth.Token, err = mgr.Resolve(ctx, gitAuth.Token); err != nil {
		return cli.NewConfigError("source.git.auth.token", err.Error())
	}
	if gitAuth.SSHKeyPassphrase, err = mgr.Resolve(ctx, gitAuth.SSHKeyPassphrase); err != nil {
		return cli.NewConfigError("source.git.auth.ssh_key_passphrase", err.Error())
	}
	for name, value := range cfg.Propagation.HTTP.Headers {
		resolved, err := mgr.Resolve(ctx, value)
		if err != nil {
			return cli.NewConfigError("propagation.http.headers."+name, err.Error())
		}
		cfg.Propagation.HTTP.Headers[name] = resolved
	}
	return nil
}

// securityOptions builds the admin server's authentication and TLS options.
func securityOptions(ctx context.Context, cfg *config.SecurityConfig, mgr *secrets.Manager, logger *slog.Logger) ([]server.Option, error) {
	var opts []server.Option
	if cfg.Authentication.Enabled {
		validator, err := auth.FromConfig(ctx, &cfg.Authentication, mgr)
		if err != nil {
			return nil, cli.NewConfigError("security.authentication", err.Error())
		}
		opts = append(opts, server.WithAuth(auth.NewAPIKeyMiddleware(validator, cfg.Authentication.Sources, logger)))
		logger.Info("API key authentication enabled", "actors", validator.Actors())
	}

	tlsCfg, err := securitytls.NewServerConfig(ctx, &cfg.TLS, logger)
	if err != nil {
		return nil, cli.NewConfigError("security.tls", err.Error())
	}
	if tlsCfg != nil {
		identity := ""
		if cfg.TLS.MTLS.Enabled {
			identity = cfg.TLS.MTLS.IdentitySource
		}
		opts = append(opts, server.WithTLS(tlsCfg, identity))
	}
	return opts, nil
}
