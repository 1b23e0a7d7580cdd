/*
Package security groups the admin API's transport security, secret
management and authentication.

# TLS

Package tls serves the admin API over TLS with certificate hot reload and
optional mutual TLS:

	tlsConfig, err := tls.NewServerConfig(ctx, &cfg.Security.TLS, logger)

# Secret Management

Package secrets resolves ${secret:name} references from the environment
or a directory of files:

	manager, err := secrets.FromConfig(&cfg.Security.Secrets, logger)
	url, err := manager.Resolve(ctx, cfg.Propagation.Redis.URL)

# API Key Authentication

Package auth validates API keys and attributes requests to an actor:

	validator, err := auth.FromConfig(ctx, &cfg.Security.Authentication, manager)
	middleware := auth.NewAPIKeyMiddleware(validator, cfg.Security.Authentication.Sources, logger)
*/
package security
