package auth

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"mercator-hq/bastion/pkg/config"
)

// APIKeyMiddleware authenticates requests by API key. Rejected requests
// get a JSON error body: 401 for missing or unknown keys, 403 when a
// read-only key attempts a write.
type APIKeyMiddleware struct {
	store   APIKeyStore
	sources []config.APIKeySource
	logger  *slog.Logger
}

// NewAPIKeyMiddleware creates the middleware. Sources are tried in order.
func NewAPIKeyMiddleware(store APIKeyStore, sources []config.APIKeySource, logger *slog.Logger) *APIKeyMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIKeyMiddleware{
		store:   store,
		sources: sources,
		logger:  logger.With("component", "auth"),
	}
}

// Handle wraps next with authentication.
func (m *APIKeyMiddleware) Handle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		info, err := m.store.Validate(m.extract(r))
		if err != nil {
			m.logger.WarnContext(r.Context(), "authentication failed",
				"error", err,
				"remote_addr", r.RemoteAddr,
				"path", r.URL.Path,
			)
			msg := "invalid API key"
			if errors.Is(err, ErrMissingKey) {
				msg = "missing API key"
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="bastion"`)
			writeError(w, http.StatusUnauthorized, msg)
			return
		}
		if info.ReadOnly && r.Method != http.MethodGet && r.Method != http.MethodHead {
			m.logger.WarnContext(r.Context(), "read-only key rejected",
				"actor", info.Actor,
				"method", r.Method,
				"path", r.URL.Path,
			)
			writeError(w, http.StatusForbidden, "API key is read-only")
			return
		}

		m.logger.DebugContext(r.Context(), "request authenticated", "actor", info.Actor, "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(WithAPIKeyInfo(r.Context(), info)))
	})
}

// extract returns the first key found in the configured sources.
func (m *APIKeyMiddleware) extract(r *http.Request) string {
	for _, src := range m.sources {
		var value string
		switch src.Type {
		case "header":
			value = r.Header.Get(src.Name)
			if src.Scheme != "" {
				scheme, token, ok := strings.Cut(value, " ")
				if !ok || !strings.EqualFold(scheme, src.Scheme) {
					continue
				}
				value = strings.TrimSpace(token)
			}
		case "query":
			value = r.URL.Query().Get(src.Name)
		}
		if value != "" {
			return value
		}
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(struct {
		Error string `json:"error"`
		Code  int    `json:"code"`
	}{msg, status})
}

type contextKey struct{}

// WithAPIKeyInfo returns a context carrying info.
func WithAPIKeyInfo(ctx context.Context, info *APIKeyInfo) context.Context {
	return context.WithValue(ctx, contextKey{}, info)
}

// GetAPIKeyInfo returns the authenticated key info, if any.
func GetAPIKeyInfo(ctx context.Context) (*APIKeyInfo, bool) {
	info, ok := ctx.Value(contextKey{}).(*APIKeyInfo)
	return info, ok
}
