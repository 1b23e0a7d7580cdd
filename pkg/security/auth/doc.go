/*
Package auth provides API key authentication for the Bastion admin API.

Each configured key names an actor. Requests authenticated with a key are
attributed to that actor: it is recorded as CreatedBy on the history
entries the request produces, and it overrides the X-Bastion-Actor header.

# Configuration

	security:
	  authentication:
	    enabled: true
	    sources:
	      - type: header
	        name: Authorization
	        scheme: Bearer
	      - type: header
	        name: X-API-Key
	    keys:
	      - key: ${secret:admin-api-key}
	        actor: ops
	      - key: ${secret:auditor-api-key}
	        actor: auditor
	        read_only: true

Keys may be ${secret:name} references; FromConfig expands them through a
Resolver such as secrets.Manager.

# Usage

	validator, err := auth.FromConfig(ctx, &cfg.Security.Authentication, secretsManager)
	if err != nil {
		return err
	}
	mw := auth.NewAPIKeyMiddleware(validator, cfg.Security.Authentication.Sources, logger)
	handler = mw.Handle(handler)

Inside a handler:

	if info, ok := auth.GetAPIKeyInfo(r.Context()); ok {
		logger.Info("request", "actor", info.Actor)
	}

Missing, unknown and disabled keys get 401. A read-only key issuing
anything other than GET or HEAD gets 403.
*/
package auth
