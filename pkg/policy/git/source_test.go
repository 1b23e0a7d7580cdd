package git

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"

	"mercator-hq/bastion/pkg/config"
)

const bundleV1 = `default_strategy: highest_priority
policies:
  - policy_id: deny-low-clearance
    name: deny low clearance reads
    category: access
    priority: high
    enforcement_mode: hard
    rules:
      - rule_id: r1
        name: deny below confidential
        conditions:
          - field: security_level
            operator: "<"
            value: 4
        actions:
          - kind: deny
`

const bundleV2 = bundleV1 + `  - policy_id: audit-admins
    name: audit admin operations
    category: compliance
    priority: normal
    enforcement_mode: audit
    rules:
      - rule_id: r1
        name: audit admin
        conditions:
          - field: operation
            operator: starts_with
            value: admin
        actions:
          - kind: audit
`

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// origin is a repository on disk acting as the remote.
type origin struct {
	t    *testing.T
	dir  string
	repo *gogit.Repository
}

func newOrigin(t *testing.T) *origin {
	t.Helper()
	dir := t.TempDir()
	repo, err := gogit.PlainInitWithOptions(dir, &gogit.PlainInitOptions{
		InitOptions: gogit.InitOptions{DefaultBranch: plumbing.NewBranchReferenceName("main")},
	})
	if err != nil {
		t.Fatalf("failed to init repo: %v", err)
	}
	return &origin{t: t, dir: dir, repo: repo}
}

func (o *origin) commit(name, content, msg string) {
	o.t.Helper()
	full := filepath.Join(o.dir, name)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		o.t.Fatal(err)
	}
	if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
		o.t.Fatal(err)
	}
	wt, err := o.repo.Worktree()
	if err != nil {
		o.t.Fatal(err)
	}
	if _, err := wt.Add(name); err != nil {
		o.t.Fatalf("failed to add file: %v", err)
	}
	if _, err := wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "Test User", Email: "test@example.com", When: time.Now()},
	}); err != nil {
		o.t.Fatalf("failed to commit: %v", err)
	}
}

func gitConfig(t *testing.T, o *origin) *config.GitSourceConfig {
	return &config.GitSourceConfig{
		Repository:   o.dir,
		Branch:       "main",
		Path:         "bundles",
		LocalPath:    filepath.Join(t.TempDir(), "clone"),
		PollInterval: 20 * time.Millisecond,
		Timeout:      10 * time.Second,
		Auth:         config.GitAuthConfig{Type: "none"},
	}
}

func TestNewRepository(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.GitSourceConfig
		wantErr bool
	}{
		{"empty repository URL", config.GitSourceConfig{Branch: "main", LocalPath: "x"}, true},
		{"empty branch", config.GitSourceConfig{Repository: "https://example.com/p.git", LocalPath: "x"}, true},
		{"empty local path", config.GitSourceConfig{Repository: "https://example.com/p.git", Branch: "main"}, true},
		{"token without token", config.GitSourceConfig{
			Repository: "https://example.com/p.git", Branch: "main", LocalPath: "x",
			Auth: config.GitAuthConfig{Type: "token"},
		}, true},
		{"valid", config.GitSourceConfig{Repository: "https://example.com/p.git", Branch: "main", LocalPath: "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRepository(&tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewRepository() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSource_LoadAndPoll(t *testing.T) {
	o := newOrigin(t)
	o.commit("bundles/policies.yaml", bundleV1, "initial policies")

	src, err := NewSource(gitConfig(t, o), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "git" {
		t.Errorf("Name() = %q", src.Name())
	}
	ctx := context.Background()
	b, err := src.Load(ctx)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(b.Policies) != 1 || b.Strategy != "highest_priority" {
		t.Fatalf("bundle = %d policies, strategy %q", len(b.Policies), b.Strategy)
	}

	if src.poll(ctx) {
		t.Error("poll without remote changes should not report a change")
	}

	o.commit("README.md", "policies", "docs")
	if src.poll(ctx) {
		t.Error("a change outside the bundle path should not report a change")
	}

	o.commit("bundles/policies.yaml", bundleV2, "add audit policy")
	if !src.poll(ctx) {
		t.Fatal("expected a change after updating the bundle")
	}
	b, err = src.Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(b.Policies) != 2 {
		t.Errorf("policies after pull = %d, want 2", len(b.Policies))
	}

	head, err := src.repo.Head()
	if err != nil {
		t.Fatal(err)
	}
	if head.Message != "add audit policy" || head.Branch != "main" {
		t.Errorf("head = %+v", head)
	}
}

func TestSource_LoadServesCheckoutWhenPullFails(t *testing.T) {
	o := newOrigin(t)
	o.commit("bundles/policies.yaml", bundleV1, "initial policies")
	src, err := NewSource(gitConfig(t, o), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Load(context.Background()); err != nil {
		t.Fatal(err)
	}

	if err := os.RemoveAll(o.dir); err != nil {
		t.Fatal(err)
	}
	b, err := src.Load(context.Background())
	if err != nil {
		t.Fatalf("Load() with unreachable remote error = %v", err)
	}
	if len(b.Policies) != 1 {
		t.Errorf("policies = %d, want 1", len(b.Policies))
	}
}

func TestSource_Watch(t *testing.T) {
	o := newOrigin(t)
	o.commit("bundles/policies.yaml", bundleV1, "initial policies")
	src, err := NewSource(gitConfig(t, o), quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if _, err := src.Load(ctx); err != nil {
		t.Fatal(err)
	}

	changed := make(chan struct{}, 1)
	done := make(chan error, 1)
	go func() {
		done <- src.Watch(ctx, func() {
			select {
			case changed <- struct{}{}:
			default:
			}
		})
	}()

	o.commit("bundles/policies.yaml", bundleV2, "add audit policy")
	select {
	case <-changed:
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not report the pushed change")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}

func TestSource_CloneFailure(t *testing.T) {
	cfg := &config.GitSourceConfig{
		Repository: filepath.Join(t.TempDir(), "missing"),
		Branch:     "main",
		LocalPath:  filepath.Join(t.TempDir(), "clone"),
		Timeout:    5 * time.Second,
	}
	src, err := NewSource(cfg, quietLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := src.Load(context.Background()); err == nil {
		t.Error("expected error cloning a missing repository")
	}
	if src.poll(context.Background()) {
		t.Error("poll before a successful clone should report nothing")
	}
}

func TestSource_Relevant(t *testing.T) {
	s := &Source{dir: "bundles"}
	root := &Source{}
	tests := []struct {
		src  *Source
		name string
		want bool
	}{
		{s, "bundles/policies.yaml", true},
		{s, "bundles/extra.YML", true},
		{s, "bundles/.hidden.yaml", false},
		{s, "bundles/nested/p.yaml", false},
		{s, "policies.yaml", false},
		{s, "bundles/readme.md", false},
		{root, "policies.yaml", true},
		{root, "bundles/policies.yaml", false},
	}
	for _, tt := range tests {
		if got := tt.src.relevant(tt.name); got != tt.want {
			t.Errorf("relevant(%q) with dir %q = %v, want %v", tt.name, tt.src.dir, got, tt.want)
		}
	}
}

func TestNewAuthProvider(t *testing.T) {
	key := filepath.Join(t.TempDir(), "id_ed25519")
	if err := os.WriteFile(key, []byte("not a key"), 0o644); err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		cfg      config.GitAuthConfig
		wantType string
		wantErr  bool
		authErr  bool
	}{
		{cfg: config.GitAuthConfig{}, wantType: "none"},
		{cfg: config.GitAuthConfig{Type: "token", Token: "t0k"}, wantType: "token"},
		{cfg: config.GitAuthConfig{Type: "token"}, wantErr: true},
		{cfg: config.GitAuthConfig{Type: "ssh"}, wantErr: true},
		{cfg: config.GitAuthConfig{Type: "ssh", SSHKeyPath: key}, wantType: "ssh", authErr: true},
		{cfg: config.GitAuthConfig{Type: "kerberos"}, wantErr: true},
	}
	for _, tt := range tests {
		p, err := NewAuthProvider(&tt.cfg)
		if (err != nil) != tt.wantErr {
			t.Errorf("NewAuthProvider(%q) error = %v, wantErr %v", tt.cfg.Type, err, tt.wantErr)
			continue
		}
		if err != nil {
			continue
		}
		if p.Type() != tt.wantType {
			t.Errorf("Type() = %q, want %q", p.Type(), tt.wantType)
		}
		// Group-readable keys are refused before parsing.
		if _, err := p.GetAuth(); (err != nil) != tt.authErr {
			t.Errorf("GetAuth(%q) error = %v, wantErr %v", tt.cfg.Type, err, tt.authErr)
		}
	}
}
