package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"mercator-hq/bastion/pkg/config"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/policy/engine"
	"mercator-hq/bastion/pkg/policy/violation"
	"mercator-hq/bastion/pkg/security/auth"
	"mercator-hq/bastion/pkg/telemetry/health"
)

// PolicyEngine is the subset of the engine the admin API drives.
type PolicyEngine interface {
	Create(ctx context.Context, p *policy.Policy) (*policy.Policy, error)
	Update(ctx context.Context, id string, p *policy.Policy) (*policy.Policy, error)
	Delete(ctx context.Context, id string) error
	SetEnabled(ctx context.Context, id string, enabled bool) error
	CreateVersionSnapshot(ctx context.Context, id string) (*policy.HistoryEntry, error)
	Rollback(ctx context.Context, policyID, historyID string) (*policy.Policy, error)
	Evaluate(ctx context.Context, ectx policy.EvaluationContext) (*policy.EvaluationResult, error)
	RecordViolation(ctx context.Context, v policy.Violation) (policy.Violation, error)
	ListViolations(f violation.Filter) ([]policy.Violation, error)
	Reload(ctx context.Context) (engine.SyncReport, error)
	Get(id string) (*policy.Policy, error)
	List() ([]*policy.Policy, error)
	History(policyID string) ([]policy.HistoryEntry, error)
	Bindings() ([]policy.ServicePolicyBinding, error)
	Binding(serviceID string) (policy.ServicePolicyBinding, error)
	Stats() (engine.Stats, error)
	Ready() bool
}

// Server is the HTTP admin server for the policy engine.
type Server struct {
	config  *config.ServerConfig
	engine  PolicyEngine
	logger  *slog.Logger
	checker *health.Checker

	metricsPath    string
	metricsHandler http.Handler

	auth           *auth.APIKeyMiddleware
	tlsConfig      *tls.Config
	identitySource string

	httpServer *http.Server
	mu         sync.RWMutex
	isRunning  bool
	addr       string
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithMetrics mounts a Prometheus handler at path.
func WithMetrics(path string, h http.Handler) Option {
	return func(s *Server) {
		s.metricsPath = path
		s.metricsHandler = h
	}
}

// WithHealthChecker sets the checker behind /healthz and /readyz. By default
// readiness only checks the engine.
func WithHealthChecker(c *health.Checker) Option {
	return func(s *Server) {
		if c != nil {
			s.checker = c
		}
	}
}

// WithAuth requires API keys on /v1. Authenticated keys name the actor
// recorded on history entries.
func WithAuth(m *auth.APIKeyMiddleware) Option {
	return func(s *Server) {
		s.auth = m
	}
}

// WithTLS serves over TLS. When identitySource is set, verified client
// certificates name the actor for requests without an API key.
func WithTLS(cfg *tls.Config, identitySource string) Option {
	return func(s *Server) {
		s.tlsConfig = cfg
		s.identitySource = identitySource
	}
}

// New creates an admin server for eng.
func New(cfg *config.ServerConfig, eng PolicyEngine, opts ...Option) *Server {
	s := &Server{
		config: cfg,
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "server")
	if s.checker == nil {
		s.checker = health.New(0)
		s.checker.RegisterCheck("engine", health.ReadyCheck(eng.Ready))
	}
	return s
}

// Start listens on the configured address and serves until ctx is cancelled
// or the server fails. Cancellation triggers a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return errors.New("server is already running")
	}

	ln, err := net.Listen("tcp", s.config.ListenAddress)
	if err != nil {
		s.mu.Unlock()
		return fmt.Errorf("listen on %s: %w", s.config.ListenAddress, err)
	}
	scheme := "http"
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
		scheme = "https"
	}
	s.httpServer = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
	s.addr = ln.Addr().String()
	s.isRunning = true
	s.mu.Unlock()

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting admin server", "address", s.addr, "scheme", scheme)
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
		close(errChan)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("context cancelled, initiating shutdown")
		return s.Shutdown(context.Background())
	case err, ok := <-errChan:
		s.mu.Lock()
		s.isRunning = false
		s.mu.Unlock()
		if ok {
			return err
		}
		return nil
	}
}

// Shutdown gracefully stops the server within ShutdownTimeout.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	srv := s.httpServer
	s.mu.Unlock()

	s.logger.Info("initiating graceful shutdown", "timeout", s.config.ShutdownTimeout.String())
	shutdownCtx := ctx
	if s.config.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(ctx, s.config.ShutdownTimeout)
		defer cancel()
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error("error during server shutdown", "error", err)
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.logger.Info("admin server stopped")
	return nil
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}

// Addr returns the bound listen address once started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.addr
}
