package server

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"mercator-hq/bastion/pkg/telemetry/tracing"
)

// Handler returns the admin API with its middleware chain.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()

	r.Handle("/healthz", s.checker.LivenessHandler()).Methods(http.MethodGet, http.MethodHead)
	r.Handle("/readyz", s.checker.ReadinessHandler()).Methods(http.MethodGet, http.MethodHead)
	if s.metricsHandler != nil {
		r.Handle(s.metricsPath, s.metricsHandler).Methods(http.MethodGet)
	}

	v1 := r.PathPrefix("/v1").Subrouter()
	if s.auth != nil {
		v1.Use(s.auth.Handle)
	}
	v1.Use(s.actorMiddleware, s.bodyLimitMiddleware)

	v1.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	v1.HandleFunc("/reload", s.handleReload).Methods(http.MethodPost)
	v1.HandleFunc("/evaluate", s.handleEvaluate).Methods(http.MethodPost)

	v1.HandleFunc("/policies", s.handleListPolicies).Methods(http.MethodGet)
	v1.HandleFunc("/policies", s.handleCreatePolicy).Methods(http.MethodPost)
	v1.HandleFunc("/policies/{id}", s.handleGetPolicy).Methods(http.MethodGet)
	v1.HandleFunc("/policies/{id}", s.handleUpdatePolicy).Methods(http.MethodPut)
	v1.HandleFunc("/policies/{id}", s.handleDeletePolicy).Methods(http.MethodDelete)
	v1.HandleFunc("/policies/{id}/enable", s.handleSetEnabled(true)).Methods(http.MethodPost)
	v1.HandleFunc("/policies/{id}/disable", s.handleSetEnabled(false)).Methods(http.MethodPost)
	v1.HandleFunc("/policies/{id}/snapshots", s.handleSnapshot).Methods(http.MethodPost)
	v1.HandleFunc("/policies/{id}/history", s.handleHistory).Methods(http.MethodGet)
	v1.HandleFunc("/policies/{id}/rollback/{history_id}", s.handleRollback).Methods(http.MethodPost)

	v1.HandleFunc("/violations", s.handleListViolations).Methods(http.MethodGet)
	v1.HandleFunc("/violations", s.handleRecordViolation).Methods(http.MethodPost)

	v1.HandleFunc("/bindings", s.handleBindings).Methods(http.MethodGet)
	v1.HandleFunc("/bindings/{service_id}", s.handleBinding).Methods(http.MethodGet)

	notFound := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusNotFound, "route not found")
	})
	methodNotAllowed := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeErrorMessage(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	// Subrouters answer mismatches themselves, so both routers need the handlers.
	for _, router := range []*mux.Router{r, v1} {
		router.NotFoundHandler = notFound
		router.MethodNotAllowedHandler = methodNotAllowed
	}

	var handler http.Handler = r
	if len(s.config.CORS.AllowedOrigins) > 0 {
		handler = cors.New(cors.Options{
			AllowedOrigins: s.config.CORS.AllowedOrigins,
			AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders: s.config.CORS.AllowedHeaders,
			MaxAge:         s.config.CORS.MaxAge,
		}).Handler(handler)
	}
	handler = s.loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	handler = tracing.HTTPMiddleware(handler)
	handler = s.recoveryMiddleware(handler)

	return handler
}
