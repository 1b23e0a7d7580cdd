// Package server provides the HTTP admin API of the policy engine.
//
// The API is a thin JSON layer over the engine handle. Routes are served by
// a gorilla/mux router wrapped in request id, logging, tracing, recovery
// and optional CORS middleware.
//
// # Routes
//
//	GET    /healthz                                liveness
//	GET    /readyz                                 readiness (engine initialized)
//	GET    /metrics                                Prometheus, when mounted
//	GET    /v1/stats                               engine statistics
//	POST   /v1/reload                              re-apply the configuration store bundle
//	POST   /v1/evaluate                            evaluate an EvaluationContext
//	GET    /v1/policies                            list policies
//	POST   /v1/policies                            create a policy
//	GET    /v1/policies/{id}                       get a policy
//	PUT    /v1/policies/{id}                       update a policy
//	DELETE /v1/policies/{id}                       delete a policy
//	POST   /v1/policies/{id}/enable                enable a policy
//	POST   /v1/policies/{id}/disable               disable a policy
//	POST   /v1/policies/{id}/snapshots             record a rollback point
//	GET    /v1/policies/{id}/history               list snapshots
//	POST   /v1/policies/{id}/rollback/{history_id} restore a snapshot
//	GET    /v1/violations?since=&until=&policy_id= query violations
//	POST   /v1/violations                          record a violation
//	GET    /v1/bindings                            list service bindings
//	GET    /v1/bindings/{service_id}               get one binding
//
// # Errors
//
// Failures are returned as {"error": "...", "code": N}. Engine errors map
// to status codes by kind: not found is 404, invalid policy or scope is
// 400, conflicts and version mismatches are 409, and an uninitialized
// engine is 503.
//
// # Authentication
//
// With security.authentication enabled every /v1 route requires an API key
// (see package auth). Probes and metrics stay open. With security.tls
// enabled the server listens over TLS, optionally verifying client
// certificates.
//
// # Attribution
//
// The caller is recorded as the author of history entries and added to
// request logs. It is taken from the authenticated API key, else from the
// verified client certificate, else from the X-Bastion-Actor header.
package server
