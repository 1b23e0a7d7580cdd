/*
Package secrets resolves ${secret:name} references in Bastion configuration.

API keys in security.authentication.keys may be written as references so
that the key material never sits in the config file:

	security:
	  authentication:
	    enabled: true
	    keys:
	      - key: ${secret:admin-api-key}
	        actor: ops

# Providers

Two providers ship with the package and are tried in configured order:

  - EnvProvider reads BASTION_SECRET_ADMIN_API_KEY for "admin-api-key".
  - FileProvider reads <dir>/admin-api-key, the layout of a mounted
    Kubernetes secret. Files must be mode 0600 or 0400.

When no providers are configured a single env provider with prefix
"BASTION_SECRET_" is used.

# Usage

	mgr, err := secrets.FromConfig(&cfg.Security.Secrets, logger)
	if err != nil {
		return err
	}
	defer mgr.Close()

	key, err := mgr.Resolve(ctx, "${secret:admin-api-key}")

Resolved values are cached for security.secrets.cache.ttl. Refresh clears
the cache; a watching FileProvider drops its own values whenever the
directory changes.

Secret names are redacted in logs and values are never logged.
*/
package secrets
