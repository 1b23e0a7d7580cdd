package config

import "time"

// Config is the root configuration structure for Bastion.
// It contains all configuration sections for the policy engine, its
// propagation and audit collaborators, the admin server and telemetry.
type Config struct {
	// Engine contains policy engine settings including bootstrap defaults,
	// the conflict resolution strategy and the evaluation cache.
	Engine EngineConfig `yaml:"engine"`

	// History contains version history retention settings.
	History HistoryConfig `yaml:"history"`

	// Propagation contains the settings for pushing policies to services.
	Propagation PropagationConfig `yaml:"propagation"`

	// Violations contains violation log settings.
	Violations ViolationsConfig `yaml:"violations"`

	// Audit contains audit sink configuration.
	Audit AuditConfig `yaml:"audit"`

	// Source contains the configuration store the engine bootstraps from.
	Source SourceConfig `yaml:"source"`

	// Server contains the admin HTTP server configuration.
	Server ServerConfig `yaml:"server"`

	// Security contains TLS, secret resolution and API key authentication
	// settings for the admin server.
	Security SecurityConfig `yaml:"security"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// EngineConfig contains policy engine configuration.
type EngineConfig struct {
	// LoadDefaults installs the built-in system-security and access-control
	// policies on startup.
	// Default: true
	LoadDefaults bool `yaml:"load_defaults"`

	// DefaultStrategy is the conflict resolution strategy.
	// Options: "highest_priority", "most_specific", "most_recent",
	// "deny_all", "allow_all", "user_choice", "system_default"
	// Default: "highest_priority"
	DefaultStrategy string `yaml:"default_strategy"`

	// Cache contains evaluation result cache settings.
	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig contains evaluation cache configuration.
type CacheConfig struct {
	// Enabled controls whether evaluation results are cached.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// TTL is how long a cached result stays valid.
	// Default: 1m
	TTL time.Duration `yaml:"ttl"`

	// MaxEntries bounds the number of cached results.
	// Default: 10000
	MaxEntries int `yaml:"max_entries"`
}

// HistoryConfig contains version history configuration.
type HistoryConfig struct {
	// MaxPerPolicy caps the snapshots kept per policy. Rollback points are
	// never evicted.
	// Default: 100
	MaxPerPolicy int `yaml:"max_per_policy"`

	// Codec is the snapshot encoding.
	// Options: "json", "yaml"
	// Default: "json"
	Codec string `yaml:"codec"`
}

// PropagationConfig contains propagation configuration.
type PropagationConfig struct {
	// Workers is the number of concurrent pushes.
	// Default: 4
	Workers int `yaml:"workers"`

	// QueueSize bounds the pushes waiting for a worker.
	// Default: 256
	QueueSize int `yaml:"queue_size"`

	// PushTimeout bounds a single push.
	// Default: 5s
	PushTimeout time.Duration `yaml:"push_timeout"`

	// ReconcileSchedule is a cron expression for the reconciler.
	// An empty value disables reconciliation.
	// Default: "@every 30s"
	ReconcileSchedule string `yaml:"reconcile_schedule"`

	// StaleAfter is how long a binding may stay in-progress before the
	// reconciler marks it timed out.
	// Default: 1m
	StaleAfter time.Duration `yaml:"stale_after"`

	// Transport selects how policies reach services.
	// Options: "memory", "http", "redis"
	// Default: "memory"
	Transport string `yaml:"transport"`

	// HTTP contains settings for the HTTP transport.
	HTTP HTTPTransportConfig `yaml:"http"`

	// Redis contains settings for the Redis transport.
	Redis RedisTransportConfig `yaml:"redis"`
}

// HTTPTransportConfig configures the HTTP propagation transport.
type HTTPTransportConfig struct {
	// BaseURL is the endpoint service agents are reached through. Pushes
	// are posted to <base_url>/v1/services/<service_id>/policies.
	BaseURL string `yaml:"base_url"`

	// Headers are added to every push, e.g. an authorization token.
	Headers map[string]string `yaml:"headers"`
}

// RedisTransportConfig configures the Redis propagation transport.
type RedisTransportConfig struct {
	// URL is the Redis connection URL.
	// Example: "redis://localhost:6379/0"
	URL string `yaml:"url"`

	// ChannelPrefix prefixes the publish channels and binding hashes.
	// Default: "bastion:"
	ChannelPrefix string `yaml:"channel_prefix"`
}

// ViolationsConfig contains violation log configuration.
type ViolationsConfig struct {
	// Capacity bounds the in-memory violation log. Zero keeps every entry.
	// Default: 0
	Capacity int `yaml:"capacity"`
}

// AuditConfig contains audit sink configuration.
type AuditConfig struct {
	// Backend selects the audit sink.
	// Options: "log", "sqlite", "memory"
	// Default: "log"
	Backend string `yaml:"backend"`

	// SQLite contains settings for the SQLite sink.
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// SQLiteConfig contains SQLite database settings.
type SQLiteConfig struct {
	// Path is the database file path.
	// Default: "data/audit.db"
	Path string `yaml:"path"`

	// MaxOpenConns is the maximum number of open connections.
	// Default: 4
	MaxOpenConns int `yaml:"max_open_conns"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`

	// BusyTimeout is how long to wait on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`
}

// SourceConfig contains configuration store settings.
type SourceConfig struct {
	// Type selects the configuration store.
	// Options: "none", "file", "sqlite", "git"
	// Default: "none"
	Type string `yaml:"type"`

	// Path is a YAML file or directory for "file", a database for "sqlite".
	Path string `yaml:"path"`

	// Watch reloads the bundle when it changes: file events for "file",
	// polling the remote for "git".
	// Default: false
	Watch bool `yaml:"watch"`

	// Debounce coalesces bursts of file events into one reload.
	// Default: 500ms
	Debounce time.Duration `yaml:"debounce"`

	// BusyTimeout is how long the SQLite store waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// Git configures the "git" store.
	Git GitSourceConfig `yaml:"git"`
}

// GitSourceConfig configures loading bundles from a Git repository.
type GitSourceConfig struct {
	// Repository URL (HTTPS, SSH or a local path).
	// Example: "https://github.com/company/policies.git"
	Repository string `yaml:"repository"`

	// Branch to track.
	// Default: "main"
	Branch string `yaml:"branch"`

	// Path within the repository holding the bundle files.
	// Default: "" (repository root)
	Path string `yaml:"path"`

	// LocalPath is where the repository is cloned. An existing clone is
	// reused unless CleanOnStart is set.
	// Default: "data/policies-git"
	LocalPath string `yaml:"local_path"`

	// CleanOnStart removes LocalPath before cloning.
	CleanOnStart bool `yaml:"clean_on_start"`

	// Depth limits the clone history; 0 clones everything.
	Depth int `yaml:"depth"`

	// PollInterval is how often the remote is checked when watching.
	// Default: 30s
	PollInterval time.Duration `yaml:"poll_interval"`

	// Timeout bounds each clone or pull.
	// Default: 30s
	Timeout time.Duration `yaml:"timeout"`

	// Auth configures Git authentication.
	Auth GitAuthConfig `yaml:"auth"`
}

// GitAuthConfig configures Git authentication.
type GitAuthConfig struct {
	// Type: "token", "ssh", "none"
	// Default: "none"
	Type string `yaml:"type"`

	// Token for HTTPS authentication. Accepts ${secret:name}.
	Token string `yaml:"token"`

	// SSHKeyPath for SSH authentication. The key must not be readable by
	// group or others.
	SSHKeyPath string `yaml:"ssh_key_path"`

	// SSHKeyPassphrase for encrypted SSH keys. Accepts ${secret:name}.
	SSHKeyPassphrase string `yaml:"ssh_key_passphrase"`
}

// ServerConfig contains configuration for the admin HTTP server.
type ServerConfig struct {
	// Enabled controls whether the admin server is started.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is the address and port to listen on.
	// Format: "host:port" (e.g., "127.0.0.1:8181").
	// Default: "127.0.0.1:8181"
	ListenAddress string `yaml:"listen_address"`

	// ReadTimeout is the maximum duration for reading the entire request.
	// Default: 15s
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout is the maximum duration before timing out writes of the
	// response.
	// Default: 15s
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// IdleTimeout is the maximum time to wait for the next request when
	// keep-alives are enabled.
	// Default: 60s
	IdleTimeout time.Duration `yaml:"idle_timeout"`

	// ShutdownTimeout bounds graceful shutdown of the server and engine.
	// Default: 30s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// MaxBodyBytes bounds request bodies.
	// Default: 1048576 (1MB)
	MaxBodyBytes int64 `yaml:"max_body_bytes"`

	// CORS contains Cross-Origin Resource Sharing configuration.
	CORS CORSConfig `yaml:"cors"`
}

// CORSConfig contains CORS (Cross-Origin Resource Sharing) configuration.
type CORSConfig struct {
	// AllowedOrigins is a list of allowed origins for CORS requests.
	// An empty list disables CORS handling.
	AllowedOrigins []string `yaml:"allowed_origins"`

	// AllowedHeaders is a list of allowed HTTP headers for CORS requests.
	// Default: ["Authorization", "Content-Type", "X-API-Key", "X-Request-ID", "X-Bastion-Actor"]
	AllowedHeaders []string `yaml:"allowed_headers"`

	// MaxAge is the maximum age (in seconds) for preflight request cache.
	// Default: 3600 (1 hour)
	MaxAge int `yaml:"max_age"`
}

// SecurityConfig contains security-related configuration.
type SecurityConfig struct {
	// TLS contains TLS configuration for the admin server.
	TLS TLSConfig `yaml:"tls"`

	// Secrets contains secret resolution configuration.
	Secrets SecretsConfig `yaml:"secrets"`

	// Authentication contains API key authentication configuration.
	Authentication AuthenticationConfig `yaml:"authentication"`
}

// TLSConfig contains TLS configuration.
type TLSConfig struct {
	// Enabled controls whether the admin server listens with TLS.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// CertFile is the path to the PEM-encoded certificate.
	// Required when Enabled is true.
	CertFile string `yaml:"cert_file"`

	// KeyFile is the path to the PEM-encoded private key.
	// Required when Enabled is true.
	KeyFile string `yaml:"key_file"`

	// MinVersion is the minimum TLS version to accept.
	// Options: "1.2", "1.3"
	// Default: "1.3"
	MinVersion string `yaml:"min_version"`

	// CipherSuites restricts the TLS 1.2 cipher suites. Empty keeps Go's
	// defaults.
	CipherSuites []string `yaml:"cipher_suites"`

	// ReloadInterval is how often the certificate files are checked for
	// changes.
	// Default: 5m
	ReloadInterval time.Duration `yaml:"cert_reload_interval"`

	// MTLS contains mutual TLS (client certificate) configuration.
	MTLS MTLSConfig `yaml:"mtls"`
}

// MTLSConfig contains mutual TLS configuration.
type MTLSConfig struct {
	// Enabled controls whether client certificates are requested.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// ClientCAFile is the CA bundle used to verify client certificates.
	// Required when Enabled is true.
	ClientCAFile string `yaml:"client_ca_file"`

	// ClientAuthType specifies how to handle client certificates.
	// Options: "require", "request", "verify_if_given"
	// Default: "require"
	ClientAuthType string `yaml:"client_auth_type"`

	// IdentitySource selects the certificate field used as the caller
	// identity.
	// Options: "subject.CN", "subject.OU", "subject.O", "SAN"
	// Default: "subject.CN"
	IdentitySource string `yaml:"identity_source"`
}

// SecretsConfig contains secret resolution configuration. Values of the
// form ${secret:name} in API keys are resolved through these providers.
type SecretsConfig struct {
	// Providers are tried in order until one returns a value.
	// Default: a single env provider with prefix "BASTION_SECRET_"
	Providers []SecretProviderConfig `yaml:"providers"`

	// Cache contains secret caching configuration.
	Cache SecretsCacheConfig `yaml:"cache"`
}

// SecretProviderConfig contains configuration for a secret provider.
type SecretProviderConfig struct {
	// Type is the provider type.
	// Options: "env", "file"
	Type string `yaml:"type"`

	// Prefix is the environment variable prefix (env provider).
	Prefix string `yaml:"prefix,omitempty"`

	// Path is the directory holding one file per secret (file provider).
	Path string `yaml:"path,omitempty"`

	// Watch clears cached file secrets when the directory changes.
	Watch bool `yaml:"watch,omitempty"`
}

// SecretsCacheConfig contains configuration for secret caching.
type SecretsCacheConfig struct {
	// Enabled controls whether resolved secrets are cached.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// TTL is the time-to-live for cached secrets.
	// Default: 5m
	TTL time.Duration `yaml:"ttl"`

	// MaxSize is the maximum number of cached secrets.
	// Default: 1000
	MaxSize int `yaml:"max_size"`
}

// AuthenticationConfig contains API key authentication configuration for
// the /v1 API. Probes and metrics stay unauthenticated.
type AuthenticationConfig struct {
	// Enabled controls whether API keys are required.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sources defines where API keys are read from, in order.
	// Default: "Authorization: Bearer <key>" then "X-API-Key"
	Sources []APIKeySource `yaml:"sources"`

	// Keys is the list of accepted API keys.
	Keys []APIKeyConfig `yaml:"keys"`
}

// APIKeySource defines where to extract API keys from in HTTP requests.
type APIKeySource struct {
	// Type is the source type.
	// Options: "header", "query"
	Type string `yaml:"type"`

	// Name is the header or query parameter name.
	Name string `yaml:"name"`

	// Scheme is the expected authentication scheme, e.g. "Bearer".
	// Empty takes the raw value.
	Scheme string `yaml:"scheme,omitempty"`
}

// APIKeyConfig contains configuration for a single API key.
type APIKeyConfig struct {
	// Key is the API key value or a ${secret:name} reference.
	Key string `yaml:"key"`

	// Actor is recorded as the author of history entries created with
	// this key.
	Actor string `yaml:"actor"`

	// ReadOnly restricts the key to GET and HEAD requests.
	ReadOnly bool `yaml:"read_only,omitempty"`

	// Disabled rejects the key without removing it.
	Disabled bool `yaml:"disabled,omitempty"`
}

// TelemetryConfig contains configuration for observability.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text"
	// Default: "json"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// Redact masks the values of sensitive attributes such as session ids,
	// tokens and passwords.
	// Default: true
	Redact bool `yaml:"redact"`

	// RedactKeys adds attribute keys to the built-in sensitive set.
	RedactKeys []string `yaml:"redact_keys"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "bastion"
	Namespace string `yaml:"namespace"`

	// Subsystem is the metric subsystem name.
	// Default: "policy"
	Subsystem string `yaml:"subsystem"`

	// EvaluationDurationBuckets defines histogram buckets for evaluation
	// latency (seconds).
	EvaluationDurationBuckets []float64 `yaml:"evaluation_duration_buckets"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the collector connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout bounds trace exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service name in traces.
	// Default: "bastion"
	ServiceName string `yaml:"service_name"`
}
