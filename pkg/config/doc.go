// Package config provides configuration management for Bastion.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("bastion.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("bastion.yaml")
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention BASTION_SECTION_FIELD.
// For example:
//
//   - BASTION_SERVER_LISTEN_ADDRESS overrides server.listen_address
//   - BASTION_PROPAGATION_TRANSPORT overrides propagation.transport
//   - BASTION_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Configuration Precedence
//
// Configuration values are applied in the following order (later overrides earlier):
//
//  1. Default values (Default and ApplyDefaults)
//  2. Values from the YAML file
//  3. Environment variable overrides
//  4. Validation (fails fast if invalid)
//
// # Singleton Pattern
//
// For process-wide access, the command line loads the file once:
//
//	if err := config.Initialize("bastion.yaml"); err != nil {
//	    log.Fatal(err)
//	}
//	cfg := config.MustGetConfig()
//
// For testing, prefer explicit Config instances built with Default.
//
// # Validation
//
// All configuration is validated during loading. Every failing field is
// reported together:
//
//	configuration validation failed with 2 errors:
//	  - propagation.transport: invalid transport "kafka": must be 'memory', 'http', or 'redis'
//	  - source.path: path is required when type is 'file'
//
// # Example Configuration
//
//	engine:
//	  default_strategy: most_specific
//	  cache:
//	    ttl: 30s
//
//	propagation:
//	  transport: redis
//	  redis:
//	    url: redis://localhost:6379/0
//
//	source:
//	  type: file
//	  path: ./policies
//	  watch: true
//
//	audit:
//	  backend: sqlite
//	  sqlite:
//	    path: data/audit.db
//
//	security:
//	  tls:
//	    enabled: true
//	    cert_file: /etc/bastion/tls/server.pem
//	    key_file: /etc/bastion/tls/server-key.pem
//	  authentication:
//	    enabled: true
//	    keys:
//	      - key: ${secret:admin-api-key}
//	        actor: ops
//
//	telemetry:
//	  logging:
//	    level: info
//	    format: json
//
// Values of the form ${secret:name} in API keys, the Redis URL and the
// HTTP propagation headers are resolved through the configured secret
// providers when the engine starts.
package config
