// Package health provides the liveness, readiness and version endpoints of
// the Bastion admin server.
//
// Components register checks by name; the readiness probe runs them
// concurrently with a per-check timeout:
//
//	checker := health.New(2 * time.Second)
//	checker.RegisterCheck("engine", health.ReadyCheck(eng.Ready))
//	checker.RegisterCheck("audit", sink.Ping)
//	router.Handle("/healthz", checker.LivenessHandler()).Methods(http.MethodGet, http.MethodHead)
//	router.Handle("/readyz", checker.ReadinessHandler()).Methods(http.MethodGet, http.MethodHead)
package health
