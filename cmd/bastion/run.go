package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"mercator-hq/bastion/pkg/cli"
	"mercator-hq/bastion/pkg/config"
	"mercator-hq/bastion/pkg/policy/codec"
	"mercator-hq/bastion/pkg/policy/engine"
	"mercator-hq/bastion/pkg/security/secrets"
	"mercator-hq/bastion/pkg/server"
	"mercator-hq/bastion/pkg/telemetry/health"
	"mercator-hq/bastion/pkg/telemetry/logging"
	"mercator-hq/bastion/pkg/telemetry/metrics"
	"mercator-hq/bastion/pkg/telemetry/tracing"
)

// cacheGaugeInterval is how often the cache size gauge is refreshed.
const cacheGaugeInterval = 15 * time.Second

var runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the policy engine and its admin API",
	Long: `Start the policy engine with the specified configuration.

The engine loads the built-in policies and the configured policy source,
then serves the admin API until interrupted. SIGINT and SIGTERM trigger a
graceful shutdown that drains pending propagation.

Examples:
  # Start with default config
  bastion run

  # Start with custom config
  bastion run --config /etc/bastion/config.yaml

  # Override listen address
  bastion run --listen 0.0.0.0:8181

  # Validate config without starting
  bastion run --dry-run`,
	RunE: runEngine,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "validate config without starting")
}

func runEngine(cmd *cobra.Command, args []string) error {
	if err := config.Initialize(cfgFile); err != nil {
		return cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	cfg := config.GetConfig()

	if runFlags.listenAddress != "" {
		cfg.Server.ListenAddress = runFlags.listenAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}

	logger, err := logging.New(logging.FromConfig(cfg.Telemetry.Logging, os.Stdout))
	if err != nil {
		return cli.NewConfigError("telemetry.logging", err.Error())
	}
	slog.SetDefault(logger)

	out := cmd.OutOrStdout()
	if runFlags.dryRun {
		fmt.Fprintln(out, "✓ Configuration valid")
		return nil
	}

	ctx, stop := cli.SignalContext(cmd.Context())
	defer stop()

	eng, srv, cleanup, err := buildRuntime(ctx, cfg, logger)
	defer cleanup()
	if err != nil {
		return err
	}

	printBanner(out, cfg, eng)

	if srv == nil {
		logger.Info("admin server disabled, waiting for shutdown signal")
		<-ctx.Done()
	} else if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := eng.Shutdown(shutdownCtx); err != nil {
		logger.Error("engine shutdown failed", "error", err)
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(out, "✓ Engine stopped")
	return nil
}

// buildRuntime wires the engine and its collaborators from cfg and
// initializes the engine. cleanup releases whatever was built, also on
// error, and must always be called.
func buildRuntime(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*engine.Engine, *server.Server, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	closeWith := func(name string, c io.Closer) {
		closers = append(closers, func() {
			if err := c.Close(); err != nil {
				logger.Warn("close failed", "component", name, "error", err)
			}
		})
	}

	tracing.Version = Version
	tr, err := tracing.New(&cfg.Telemetry.Tracing)
	if err != nil {
		return nil, nil, cleanup, cli.NewConfigError("telemetry.tracing", err.Error())
	}
	closers = append(closers, func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tr.Shutdown(sctx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	})

	mgr, err := secrets.FromConfig(&cfg.Security.Secrets, logger)
	if err != nil {
		return nil, nil, cleanup, cli.NewConfigError("security.secrets", err.Error())
	}
	closeWith("secrets", mgr)
	if err := resolveSecrets(ctx, cfg, mgr); err != nil {
		return nil, nil, cleanup, err
	}

	checker := health.New(0)
	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithTracer(tr.Tracer()),
		engine.WithNotifier(logNotifier(logger)),
	}

	var collector *metrics.Collector
	if cfg.Telemetry.Metrics.Enabled {
		collector = metrics.NewCollector(&cfg.Telemetry.Metrics, prometheus.NewRegistry())
		opts = append(opts, engine.WithMetrics(collector), engine.WithPropagationObserver(collector))
	}

	sink, ping, err := newAuditSink(&cfg.Audit, logger)
	if err != nil {
		return nil, nil, cleanup, err
	}
	closeWith("audit", sink)
	if ping != nil {
		checker.RegisterCheck("audit", ping)
	}
	opts = append(opts, engine.WithAuditSink(sink))

	transport, tclose, err := newTransport(ctx, &cfg.Propagation)
	if err != nil {
		return nil, nil, cleanup, err
	}
	if tclose != nil {
		closeWith("transport", tclose)
	}
	opts = append(opts, engine.WithTransport(transport))

	src, sclose, err := newSource(&cfg.Source, logger)
	if err != nil {
		return nil, nil, cleanup, err
	}
	if sclose != nil {
		closeWith("source", sclose)
	}
	if src != nil {
		opts = append(opts, engine.WithSource(src))
	}

	cdc, err := codec.New(cfg.History.Codec)
	if err != nil {
		return nil, nil, cleanup, cli.NewConfigError("history.codec", err.Error())
	}
	opts = append(opts, engine.WithCodec(cdc))

	eng, err := engine.New(engineConfig(cfg), opts...)
	if err != nil {
		return nil, nil, cleanup, cli.NewConfigError("engine", err.Error())
	}
	if err := eng.Init(ctx); err != nil {
		return nil, nil, cleanup, cli.NewCommandError("run", err)
	}
	checker.RegisterCheck("engine", health.ReadyCheck(eng.Ready))

	if collector != nil {
		gctx, cancel := context.WithCancel(ctx)
		closers = append(closers, cancel)
		go reportCacheSize(gctx, eng, collector)
	}

	if !cfg.Server.Enabled {
		return eng, nil, cleanup, nil
	}
	srvOpts := []server.Option{server.WithLogger(logger), server.WithHealthChecker(checker)}
	if collector != nil {
		srvOpts = append(srvOpts, server.WithMetrics(cfg.Telemetry.Metrics.Path, collector.Handler()))
	}
	secOpts, err := securityOptions(ctx, &cfg.Security, mgr, logger)
	if err != nil {
		return nil, nil, cleanup, err
	}
	srvOpts = append(srvOpts, secOpts...)
	return eng, server.New(&cfg.Server, eng, srvOpts...), cleanup, nil
}

func reportCacheSize(ctx context.Context, eng *engine.Engine, collector *metrics.Collector) {
	ticker := time.NewTicker(cacheGaugeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := eng.Stats()
			if err != nil {
				return
			}
			collector.UpdateCacheSize("evaluation", stats.CacheEntries)
		}
	}
}

func printBanner(w io.Writer, cfg *config.Config, eng *engine.Engine) {
	fmt.Fprintf(w, "Bastion v%s\n", Version)
	fmt.Fprintf(w, "Loading configuration from: %s\n", cfgFile)
	if stats, err := eng.Stats(); err == nil {
		fmt.Fprintf(w, "✓ Policy engine loaded (%d policies, strategy %s)\n", stats.TotalPolicies, eng.Strategy())
	}
	fmt.Fprintf(w, "✓ Propagation transport: %s\n", cfg.Propagation.Transport)
	fmt.Fprintf(w, "✓ Audit backend: %s\n", cfg.Audit.Backend)
	if cfg.Server.Enabled {
		scheme := "http"
		if cfg.Security.TLS.Enabled {
			scheme = "https"
		}
		fmt.Fprintf(w, "✓ Admin API: %s://%s/v1\n", scheme, cfg.Server.ListenAddress)
		if cfg.Telemetry.Metrics.Enabled {
			fmt.Fprintf(w, "✓ Metrics endpoint: %s://%s%s\n", scheme, cfg.Server.ListenAddress, cfg.Telemetry.Metrics.Path)
		}
		if cfg.Security.Authentication.Enabled {
			fmt.Fprintln(w, "✓ API key authentication enabled")
		}
	}
	fmt.Fprintln(w, "\nPress Ctrl+C to stop")
}
