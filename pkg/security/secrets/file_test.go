package secrets

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeSecret(t *testing.T, dir, name, value string, mode os.FileMode) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(value), mode); err != nil {
		t.Fatal(err)
	}
	// WriteFile honours the umask; force the mode under test.
	if err := os.Chmod(path, mode); err != nil {
		t.Fatal(err)
	}
}

func newFileProvider(t *testing.T, dir string, watch bool) *FileProvider {
	t.Helper()
	p, err := NewFileProvider(dir, watch, quietLogger())
	if err != nil {
		t.Fatalf("NewFileProvider() error = %v", err)
	}
	t.Cleanup(func() { _ = p.Close() })
	return p
}

func TestFileProvider_GetSecret(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "admin-key", "  k-123\n", 0o600)
	writeSecret(t, dir, "reader-key", "r-456", 0o400)
	writeSecret(t, dir, "open-key", "x", 0o644)
	if err := os.Mkdir(filepath.Join(dir, "nested"), 0o700); err != nil {
		t.Fatal(err)
	}

	p := newFileProvider(t, dir, false)
	tests := []struct {
		name     string
		want     string
		wantErr  bool
		notFound bool
	}{
		{name: "admin-key", want: "k-123"},
		{name: "reader-key", want: "r-456"},
		{name: "open-key", wantErr: true},
		{name: "nested", wantErr: true},
		{name: "missing", wantErr: true, notFound: true},
		{name: "../admin-key", wantErr: true},
		{name: "..", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.GetSecret(context.Background(), tt.name)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("GetSecret() = %q, want error", got)
				}
				if tt.notFound && !errors.Is(err, ErrNotFound) {
					t.Errorf("GetSecret() error = %v, want ErrNotFound", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("GetSecret() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("GetSecret() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFileProvider_ListAndSupports(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "b-key", "b", 0o600)
	writeSecret(t, dir, "a-key", "a", 0o600)
	writeSecret(t, dir, ".hidden", "h", 0o600)

	p := newFileProvider(t, dir, false)
	got, err := p.ListSecrets(context.Background())
	if err != nil {
		t.Fatalf("ListSecrets() error = %v", err)
	}
	if want := []string{"a-key", "b-key"}; !reflect.DeepEqual(got, want) {
		t.Errorf("ListSecrets() = %v, want %v", got, want)
	}
	if !p.Supports("a-key") || p.Supports("c-key") || p.Supports("../a-key") {
		t.Error("Supports() mismatch")
	}
	if p.Name() != "file" {
		t.Errorf("Name() = %q, want file", p.Name())
	}
}

func TestFileProvider_CachesUntilRefresh(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "admin-key", "v1", 0o600)
	p := newFileProvider(t, dir, false)
	ctx := context.Background()

	if v, _ := p.GetSecret(ctx, "admin-key"); v != "v1" {
		t.Fatalf("first read = %q, want v1", v)
	}
	writeSecret(t, dir, "admin-key", "v2", 0o600)
	if v, _ := p.GetSecret(ctx, "admin-key"); v != "v1" {
		t.Errorf("cached read = %q, want v1", v)
	}
	if err := p.Refresh(ctx); err != nil {
		t.Fatal(err)
	}
	if v, _ := p.GetSecret(ctx, "admin-key"); v != "v2" {
		t.Errorf("read after refresh = %q, want v2", v)
	}
}

func TestFileProvider_WatchDropsValues(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "admin-key", "v1", 0o600)
	p := newFileProvider(t, dir, true)
	ctx := context.Background()

	if v, _ := p.GetSecret(ctx, "admin-key"); v != "v1" {
		t.Fatalf("first read = %q, want v1", v)
	}
	writeSecret(t, dir, "admin-key", "v2", 0o600)

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if v, _ := p.GetSecret(ctx, "admin-key"); v == "v2" {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Error("watcher did not drop the cached value")
}

func TestNewFileProvider_InvalidDir(t *testing.T) {
	dir := t.TempDir()
	writeSecret(t, dir, "file", "x", 0o600)

	if _, err := NewFileProvider(filepath.Join(dir, "missing"), false, quietLogger()); err == nil {
		t.Error("expected error for missing directory")
	}
	if _, err := NewFileProvider(filepath.Join(dir, "file"), false, quietLogger()); err == nil {
		t.Error("expected error for non-directory")
	}
}

func TestFileProvider_CloseIdempotent(t *testing.T) {
	p := newFileProvider(t, t.TempDir(), true)
	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}
