package config

import "time"

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultEngineLoadDefaults    = true
	DefaultEngineStrategy        = "highest_priority"
	DefaultEngineCacheEnabled    = true
	DefaultEngineCacheTTL        = time.Minute
	DefaultEngineCacheMaxEntries = 10000

	// History defaults
	DefaultHistoryMaxPerPolicy = 100
	DefaultHistoryCodec        = "json"

	// Propagation defaults
	DefaultPropagationWorkers           = 4
	DefaultPropagationQueueSize         = 256
	DefaultPropagationPushTimeout       = 5 * time.Second
	DefaultPropagationReconcileSchedule = "@every 30s"
	DefaultPropagationStaleAfter        = time.Minute
	DefaultPropagationTransport         = "memory"
	DefaultRedisChannelPrefix           = "bastion:"

	// Audit defaults
	DefaultAuditBackend            = "log"
	DefaultAuditSQLitePath         = "data/audit.db"
	DefaultAuditSQLiteMaxOpenConns = 4
	DefaultAuditSQLiteWALMode      = true
	DefaultAuditSQLiteBusyTimeout  = 5 * time.Second

	// Source defaults
	DefaultSourceType        = "none"
	DefaultSourceDebounce    = 500 * time.Millisecond
	DefaultSourceBusyTimeout = 5 * time.Second
	DefaultGitBranch         = "main"
	DefaultGitLocalPath      = "data/policies-git"
	DefaultGitPollInterval   = 30 * time.Second
	DefaultGitTimeout        = 30 * time.Second
	DefaultGitAuthType       = "none"

	// Server defaults
	DefaultServerEnabled   = true
	DefaultListenAddress   = "127.0.0.1:8181"
	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second
	DefaultMaxBodyBytes    = int64(1 << 20)
	DefaultCORSMaxAge      = 3600

	// Security defaults
	DefaultTLSMinVersion       = "1.3"
	DefaultTLSReloadInterval   = 5 * time.Minute
	DefaultMTLSClientAuthType  = "require"
	DefaultMTLSIdentitySource  = "subject.CN"
	DefaultSecretsEnvPrefix    = "BASTION_SECRET_"
	DefaultSecretsCacheEnabled = true
	DefaultSecretsCacheTTL     = 5 * time.Minute
	DefaultSecretsCacheMaxSize = 1000

	// Telemetry defaults
	DefaultLoggingLevel        = "info"
	DefaultLoggingFormat       = "json"
	DefaultLoggingRedact       = true
	DefaultMetricsEnabled      = true
	DefaultPrometheusPath      = "/metrics"
	DefaultMetricsNamespace    = "bastion"
	DefaultMetricsSubsystem    = "policy"
	DefaultTracingEnabled      = false
	DefaultTracingSampler      = "ratio"
	DefaultTracingSamplingRate = 1.0
	DefaultTracingInsecure     = true
	DefaultTracingTimeout      = 10 * time.Second
	DefaultTracingServiceName  = "bastion"
)

// DefaultCORSAllowedHeaders are the request headers allowed by default.
var DefaultCORSAllowedHeaders = []string{"Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "X-Bastion-Actor"}

// DefaultAPIKeySources are where API keys are looked for when none are
// configured.
var DefaultAPIKeySources = []APIKeySource{
	{Type: "header", Name: "Authorization", Scheme: "Bearer"},
	{Type: "header", Name: "X-API-Key"},
}

// DefaultEvaluationDurationBuckets are the default evaluation latency
// histogram buckets, in seconds.
var DefaultEvaluationDurationBuckets = []float64{0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05}

// Default returns a configuration with every default applied, including
// the boolean settings that default to true. LoadConfig decodes files on
// top of it, so keys absent from a file keep their default.
func Default() *Config {
	cfg := &Config{
		Engine: EngineConfig{
			LoadDefaults: DefaultEngineLoadDefaults,
			Cache:        CacheConfig{Enabled: DefaultEngineCacheEnabled},
		},
		Propagation: PropagationConfig{ReconcileSchedule: DefaultPropagationReconcileSchedule},
		Audit: AuditConfig{
			SQLite: SQLiteConfig{WALMode: DefaultAuditSQLiteWALMode},
		},
		Server: ServerConfig{Enabled: DefaultServerEnabled},
		Security: SecurityConfig{
			Secrets: SecretsConfig{Cache: SecretsCacheConfig{Enabled: DefaultSecretsCacheEnabled}},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{Redact: DefaultLoggingRedact},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{Insecure: DefaultTracingInsecure},
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values. Booleans are left
// alone; start from Default to get their defaults.
// This function is idempotent and safe to call multiple times.
func ApplyDefaults(cfg *Config) {
	// Engine defaults
	if cfg.Engine.DefaultStrategy == "" {
		cfg.Engine.DefaultStrategy = DefaultEngineStrategy
	}
	if cfg.Engine.Cache.TTL == 0 {
		cfg.Engine.Cache.TTL = DefaultEngineCacheTTL
	}
	if cfg.Engine.Cache.MaxEntries == 0 {
		cfg.Engine.Cache.MaxEntries = DefaultEngineCacheMaxEntries
	}

	if cfg.History.MaxPerPolicy == 0 {
		cfg.History.MaxPerPolicy = DefaultHistoryMaxPerPolicy
	}
	if cfg.History.Codec == "" {
		cfg.History.Codec = DefaultHistoryCodec
	}

	applyPropagationDefaults(&cfg.Propagation)

	// Audit defaults
	if cfg.Audit.Backend == "" {
		cfg.Audit.Backend = DefaultAuditBackend
	}
	if cfg.Audit.SQLite.Path == "" {
		cfg.Audit.SQLite.Path = DefaultAuditSQLitePath
	}
	if cfg.Audit.SQLite.MaxOpenConns == 0 {
		cfg.Audit.SQLite.MaxOpenConns = DefaultAuditSQLiteMaxOpenConns
	}
	if cfg.Audit.SQLite.BusyTimeout == 0 {
		cfg.Audit.SQLite.BusyTimeout = DefaultAuditSQLiteBusyTimeout
	}

	// Source defaults
	if cfg.Source.Type == "" {
		cfg.Source.Type = DefaultSourceType
	}
	if cfg.Source.Debounce == 0 {
		cfg.Source.Debounce = DefaultSourceDebounce
	}
	if cfg.Source.BusyTimeout == 0 {
		cfg.Source.BusyTimeout = DefaultSourceBusyTimeout
	}
	if cfg.Source.Git.Branch == "" {
		cfg.Source.Git.Branch = DefaultGitBranch
	}
	if cfg.Source.Git.LocalPath == "" {
		cfg.Source.Git.LocalPath = DefaultGitLocalPath
	}
	if cfg.Source.Git.PollInterval == 0 {
		cfg.Source.Git.PollInterval = DefaultGitPollInterval
	}
	if cfg.Source.Git.Timeout == 0 {
		cfg.Source.Git.Timeout = DefaultGitTimeout
	}
	if cfg.Source.Git.Auth.Type == "" {
		cfg.Source.Git.Auth.Type = DefaultGitAuthType
	}

	applyServerDefaults(&cfg.Server)
	applySecurityDefaults(&cfg.Security)
	applyTelemetryDefaults(&cfg.Telemetry)
}

func applyPropagationDefaults(p *PropagationConfig) {
	if p.Workers == 0 {
		p.Workers = DefaultPropagationWorkers
	}
	if p.QueueSize == 0 {
		p.QueueSize = DefaultPropagationQueueSize
	}
	if p.PushTimeout == 0 {
		p.PushTimeout = DefaultPropagationPushTimeout
	}
	// An empty schedule disables the reconciler, so it is only filled in
	// by Default.
	if p.StaleAfter == 0 {
		p.StaleAfter = DefaultPropagationStaleAfter
	}
	if p.Transport == "" {
		p.Transport = DefaultPropagationTransport
	}
	if p.Redis.ChannelPrefix == "" {
		p.Redis.ChannelPrefix = DefaultRedisChannelPrefix
	}
}

func applyServerDefaults(s *ServerConfig) {
	if s.ListenAddress == "" {
		s.ListenAddress = DefaultListenAddress
	}
	if s.ReadTimeout == 0 {
		s.ReadTimeout = DefaultReadTimeout
	}
	if s.WriteTimeout == 0 {
		s.WriteTimeout = DefaultWriteTimeout
	}
	if s.IdleTimeout == 0 {
		s.IdleTimeout = DefaultIdleTimeout
	}
	if s.ShutdownTimeout == 0 {
		s.ShutdownTimeout = DefaultShutdownTimeout
	}
	if s.MaxBodyBytes == 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(s.CORS.AllowedHeaders) == 0 {
		s.CORS.AllowedHeaders = append([]string(nil), DefaultCORSAllowedHeaders...)
	}
	if s.CORS.MaxAge == 0 {
		s.CORS.MaxAge = DefaultCORSMaxAge
	}
}

func applySecurityDefaults(s *SecurityConfig) {
	if s.TLS.MinVersion == "" {
		s.TLS.MinVersion = DefaultTLSMinVersion
	}
	if s.TLS.ReloadInterval == 0 {
		s.TLS.ReloadInterval = DefaultTLSReloadInterval
	}
	if s.TLS.MTLS.ClientAuthType == "" {
		s.TLS.MTLS.ClientAuthType = DefaultMTLSClientAuthType
	}
	if s.TLS.MTLS.IdentitySource == "" {
		s.TLS.MTLS.IdentitySource = DefaultMTLSIdentitySource
	}

	if len(s.Secrets.Providers) == 0 {
		s.Secrets.Providers = []SecretProviderConfig{{Type: "env", Prefix: DefaultSecretsEnvPrefix}}
	}
	if s.Secrets.Cache.TTL == 0 {
		s.Secrets.Cache.TTL = DefaultSecretsCacheTTL
	}
	if s.Secrets.Cache.MaxSize == 0 {
		s.Secrets.Cache.MaxSize = DefaultSecretsCacheMaxSize
	}

	if len(s.Authentication.Sources) == 0 {
		s.Authentication.Sources = append([]APIKeySource(nil), DefaultAPIKeySources...)
	}
}

func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultPrometheusPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}
	if t.Metrics.Subsystem == "" {
		t.Metrics.Subsystem = DefaultMetricsSubsystem
	}
	if len(t.Metrics.EvaluationDurationBuckets) == 0 {
		t.Metrics.EvaluationDurationBuckets = append([]float64(nil), DefaultEvaluationDurationBuckets...)
	}
	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSamplingRate
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultTracingServiceName
	}
}
