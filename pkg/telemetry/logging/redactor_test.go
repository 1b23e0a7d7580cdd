package logging

import (
	"log/slog"
	"testing"
)

func TestRedactor_IsSensitiveKey(t *testing.T) {
	r := NewRedactor([]string{" Customer_PIN "})

	tests := []struct {
		key  string
		want bool
	}{
		{"password", true},
		{"db_password", true},
		{"API_KEY", true},
		{"session_id", true},
		{"customer_pin", true},
		{"policy_id", false},
		{"service_id", false},
	}
	for _, tt := range tests {
		if got := r.IsSensitiveKey(tt.key); got != tt.want {
			t.Errorf("IsSensitiveKey(%q) = %v, want %v", tt.key, got, tt.want)
		}
	}
}

func TestRedactor_RedactString(t *testing.T) {
	r := NewRedactor(nil)

	tests := []struct {
		in   string
		want string
	}{
		{"Bearer eyJhbGciOi.payload", "Bearer ***"},
		{"password: hunter2", "password=***"},
		{"redis://h?token=abc&db=0", "redis://h?token=***&db=0"},
		{"nothing to see", "nothing to see"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := r.RedactString(tt.in); got != tt.want {
			t.Errorf("RedactString(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRedactor_ReplaceAttr(t *testing.T) {
	r := NewRedactor(nil)

	if got := r.ReplaceAttr(nil, slog.Int("token_count", 3)); got.Value.String() != Redacted {
		t.Errorf("non-string sensitive value = %v, want %s", got.Value, Redacted)
	}
	if got := r.ReplaceAttr(nil, slog.Int("rules", 3)); got.Value.Int64() != 3 {
		t.Errorf("plain value = %v, want 3", got.Value)
	}
	group := slog.Group("details", slog.String("k", "v"))
	if got := r.ReplaceAttr(nil, group); got.Value.Kind() != slog.KindGroup {
		t.Errorf("group kind = %v, want group", got.Value.Kind())
	}
}
