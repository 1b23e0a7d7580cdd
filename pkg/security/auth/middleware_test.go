package auth

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"mercator-hq/bastion/pkg/config"
)

func newTestMiddleware() *APIKeyMiddleware {
	v := NewAPIKeyValidator([]*APIKeyInfo{
		{Key: "k-admin", Actor: "ops", Enabled: true},
		{Key: "k-reader", Actor: "auditor", ReadOnly: true, Enabled: true},
		{Key: "k-old", Actor: "retired"},
	})
	sources := append([]config.APIKeySource(nil), config.DefaultAPIKeySources...)
	sources = append(sources, config.APIKeySource{Type: "query", Name: "api_key"})
	return NewAPIKeyMiddleware(v, sources, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestAPIKeyMiddleware_Handle(t *testing.T) {
	tests := []struct {
		name      string
		method    string
		target    string
		headers   map[string]string
		wantCode  int
		wantActor string
	}{
		{name: "bearer", method: http.MethodPost, target: "/v1/policies",
			headers: map[string]string{"Authorization": "Bearer k-admin"}, wantCode: http.StatusOK, wantActor: "ops"},
		{name: "lowercase scheme", method: http.MethodGet, target: "/v1/policies",
			headers: map[string]string{"Authorization": "bearer k-admin"}, wantCode: http.StatusOK, wantActor: "ops"},
		{name: "x-api-key", method: http.MethodGet, target: "/v1/stats",
			headers: map[string]string{"X-API-Key": "k-admin"}, wantCode: http.StatusOK, wantActor: "ops"},
		{name: "query", method: http.MethodGet, target: "/v1/stats?api_key=k-reader", wantCode: http.StatusOK, wantActor: "auditor"},
		{name: "wrong scheme", method: http.MethodGet, target: "/v1/stats",
			headers: map[string]string{"Authorization": "Basic k-admin"}, wantCode: http.StatusUnauthorized},
		{name: "missing", method: http.MethodGet, target: "/v1/stats", wantCode: http.StatusUnauthorized},
		{name: "unknown", method: http.MethodGet, target: "/v1/stats",
			headers: map[string]string{"X-API-Key": "k-nope"}, wantCode: http.StatusUnauthorized},
		{name: "disabled", method: http.MethodGet, target: "/v1/stats",
			headers: map[string]string{"X-API-Key": "k-old"}, wantCode: http.StatusUnauthorized},
		{name: "read-only write", method: http.MethodDelete, target: "/v1/policies/p1",
			headers: map[string]string{"X-API-Key": "k-reader"}, wantCode: http.StatusForbidden},
		{name: "read-only head", method: http.MethodHead, target: "/v1/policies",
			headers: map[string]string{"X-API-Key": "k-reader"}, wantCode: http.StatusOK, wantActor: "auditor"},
	}

	mw := newTestMiddleware()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotActor string
			h := mw.Handle(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if info, ok := GetAPIKeyInfo(r.Context()); ok {
					gotActor = info.Actor
				}
			}))

			req := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if gotActor != tt.wantActor {
				t.Errorf("actor = %q, want %q", gotActor, tt.wantActor)
			}
			if tt.wantCode == http.StatusOK {
				return
			}
			var body struct {
				Error string `json:"error"`
				Code  int    `json:"code"`
			}
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("decode error body: %v", err)
			}
			if body.Code != tt.wantCode || body.Error == "" {
				t.Errorf("body = %+v", body)
			}
			if tt.wantCode == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("expected WWW-Authenticate header on 401")
			}
		})
	}
}

func TestGetAPIKeyInfo_Absent(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if _, ok := GetAPIKeyInfo(req.Context()); ok {
		t.Error("expected no key info on a bare context")
	}
}
