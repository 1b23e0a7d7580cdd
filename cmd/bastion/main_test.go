package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"mercator-hq/bastion/pkg/cli"
	"mercator-hq/bastion/pkg/config"
	"mercator-hq/bastion/pkg/policy"
	"mercator-hq/bastion/pkg/security/secrets"
	securitytls "mercator-hq/bastion/pkg/security/tls"
)

func testCommand(t *testing.T) (*cobra.Command, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetContext(t.Context())
	return cmd, buf
}

func TestVersionCommand(t *testing.T) {
	cmd, buf := testCommand(t)
	versionCmd.Run(cmd, nil)
	if !strings.HasPrefix(buf.String(), "Bastion "+Version) {
		t.Errorf("version output = %q", buf.String())
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := map[string]bool{"run": false, "lint": false, "evaluate": false, "version": false, "certs": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %q not registered", name)
		}
	}
}

func setLintFlags(file, dir string, strict bool, format string) {
	lintFlags.file, lintFlags.dir, lintFlags.strict, lintFlags.format = file, dir, strict, format
}

func TestLintPolicies(t *testing.T) {
	tests := []struct {
		name     string
		file     string
		dir      string
		strict   bool
		wantErr  bool
		wantCode int
	}{
		{name: "valid file", file: "testdata/valid-policies.yaml"},
		{name: "invalid file", file: "testdata/invalid-policies.yaml", wantErr: true, wantCode: cli.ExitInvalid},
		{name: "missing file", file: "testdata/nonexistent.yaml", wantErr: true, wantCode: cli.ExitInvalid},
		{name: "warnings pass", file: "testdata/warning-policies.yaml"},
		{name: "warnings fail strict", file: "testdata/warning-policies.yaml", strict: true, wantErr: true, wantCode: cli.ExitInvalid},
		{name: "directory with invalid file", dir: "testdata", wantErr: true, wantCode: cli.ExitInvalid},
		{name: "no input", wantErr: true, wantCode: cli.ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setLintFlags(tt.file, tt.dir, tt.strict, "text")
			cmd, _ := testCommand(t)
			err := lintPolicies(cmd, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("lintPolicies() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && cli.ExitCode(err) != tt.wantCode {
				t.Errorf("ExitCode() = %d, want %d", cli.ExitCode(err), tt.wantCode)
			}
		})
	}
}

func TestLintPolicies_JSON(t *testing.T) {
	setLintFlags("testdata/warning-policies.yaml", "", false, "json")
	cmd, buf := testCommand(t)
	if err := lintPolicies(cmd, nil); err != nil {
		t.Fatalf("lintPolicies() error = %v", err)
	}
	var results []LintResult
	if err := json.Unmarshal(buf.Bytes(), &results); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if len(results) != 1 || !results[0].Valid || len(results[0].Warnings) != 1 {
		t.Fatalf("results = %+v, want one valid file with one warning", results)
	}
	if w := results[0].Warnings[0]; w.PolicyID != "catch-all" || w.Field != "rules[0].conditions" {
		t.Errorf("warning = %+v", w)
	}
}

func setEvaluateFlags(policies, ctx string, defaults bool, format string) {
	evaluateFlags.policies, evaluateFlags.context = policies, ctx
	evaluateFlags.defaults, evaluateFlags.format, evaluateFlags.strategy = defaults, format, ""
}

func TestEvaluateContext(t *testing.T) {
	setEvaluateFlags("testdata/valid-policies.yaml", "testdata/request.yaml", false, "json")
	cmd, buf := testCommand(t)
	if err := evaluateContext(cmd, nil); err != nil {
		t.Fatalf("evaluateContext() error = %v", err)
	}
	var res policy.EvaluationResult
	if err := json.Unmarshal(buf.Bytes(), &res); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if res.Allowed {
		t.Error("medium clearance read should be denied")
	}
	if len(res.PolicyMatches) != 1 || res.PolicyMatches[0].PolicyID != "deny-low-clearance" {
		t.Errorf("matches = %+v", res.PolicyMatches)
	}
}

func TestEvaluateContext_Stdin(t *testing.T) {
	setEvaluateFlags("testdata/valid-policies.yaml", "-", false, "text")
	cmd, buf := testCommand(t)
	cmd.SetIn(strings.NewReader("user_id: bob\noperation: admin.rotate\nsecurity_level: top_secret\n"))
	if err := evaluateContext(cmd, nil); err != nil {
		t.Fatalf("evaluateContext() error = %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Decision:    ALLOW") || !strings.Contains(out, "audit-admins") {
		t.Errorf("output = %q, want allow with audit-admins match", out)
	}
}

func TestEvaluateContext_Errors(t *testing.T) {
	tests := []struct {
		name     string
		policies string
		ctx      string
		wantCode int
	}{
		{"no context", "testdata/valid-policies.yaml", "", cli.ExitError},
		{"invalid bundle", "testdata/invalid-policies.yaml", "testdata/request.yaml", cli.ExitInvalid},
		{"unreadable context", "testdata/valid-policies.yaml", "testdata/none.yaml", cli.ExitError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEvaluateFlags(tt.policies, tt.ctx, false, "text")
			cmd, _ := testCommand(t)
			err := evaluateContext(cmd, nil)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := cli.ExitCode(err); got != tt.wantCode {
				t.Errorf("ExitCode(%v) = %d, want %d", err, got, tt.wantCode)
			}
		})
	}
}

func TestEngineConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Engine.DefaultStrategy = "deny_all"
	cfg.Violations.Capacity = 50
	cfg.Source.Watch = true

	ec := engineConfig(cfg)
	if ec.DefaultStrategy != policy.StrategyDenyAll {
		t.Errorf("DefaultStrategy = %q", ec.DefaultStrategy)
	}
	if ec.ViolationCapacity != 50 || !ec.WatchSource {
		t.Errorf("engine config = %+v", ec)
	}
	if ec.Propagation.Workers != cfg.Propagation.Workers || ec.MaxHistoryPerPolicy != cfg.History.MaxPerPolicy {
		t.Errorf("engine config = %+v", ec)
	}
	if err := ec.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestBuilders_UnknownBackends(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	var cfgErr *cli.ConfigError

	if _, _, err := newAuditSink(&config.AuditConfig{Backend: "kafka"}, quiet); !errors.As(err, &cfgErr) {
		t.Errorf("newAuditSink() error = %v, want ConfigError", err)
	}
	if _, _, err := newTransport(t.Context(), &config.PropagationConfig{Transport: "carrier-pigeon"}); !errors.As(err, &cfgErr) {
		t.Errorf("newTransport() error = %v, want ConfigError", err)
	}
	if _, _, err := newSource(&config.SourceConfig{Type: "etcd"}, quiet); !errors.As(err, &cfgErr) {
		t.Errorf("newSource() error = %v, want ConfigError", err)
	}
	if _, _, err := newSource(&config.SourceConfig{Type: "git"}, quiet); !errors.As(err, &cfgErr) {
		t.Errorf("newSource(git without repository) error = %v, want ConfigError", err)
	}
}

func TestBuildRuntime(t *testing.T) {
	cfg := config.Default()
	cfg.Audit.Backend = "sqlite"
	cfg.Audit.SQLite.Path = t.TempDir() + "/audit.db"
	cfg.Source.Type = "file"
	cfg.Source.Path = "testdata/valid-policies.yaml"
	cfg.Propagation.ReconcileSchedule = ""
	cfg.History.Codec = "yaml"

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	eng, srv, cleanup, err := buildRuntime(t.Context(), cfg, quiet)
	defer cleanup()
	if err != nil {
		t.Fatalf("buildRuntime() error = %v", err)
	}
	defer eng.Shutdown(t.Context())

	if srv == nil {
		t.Fatal("server should be built when enabled")
	}
	stats, err := eng.Stats()
	if err != nil {
		t.Fatal(err)
	}
	// Two built-in policies plus the bundle.
	if stats.TotalPolicies != 4 {
		t.Errorf("TotalPolicies = %d, want 4", stats.TotalPolicies)
	}
}

func TestCertsCommands(t *testing.T) {
	dir := t.TempDir()
	certsGenerateFlags.hosts = "localhost, 127.0.0.1"
	certsGenerateFlags.org = "Bastion"
	certsGenerateFlags.validity = 30
	certsGenerateFlags.output = dir
	certsGenerateFlags.clients = []string{"alice"}

	cmd, buf := testCommand(t)
	if err := generateCertificates(cmd, nil); err != nil {
		t.Fatalf("generateCertificates() error = %v", err)
	}
	if !strings.Contains(buf.String(), "client_ca_file") {
		t.Errorf("generate output = %q, want an mtls config hint", buf.String())
	}

	tests := []struct {
		name    string
		cert    string
		key     string
		ca      string
		client  bool
		wantErr bool
	}{
		{name: "server with key and CA", cert: "server.pem", key: "server-key.pem", ca: "ca.pem"},
		{name: "client for client auth", cert: "alice.pem", key: "alice-key.pem", ca: "ca.pem", client: true},
		{name: "server for client auth", cert: "server.pem", ca: "ca.pem", client: true, wantErr: true},
		{name: "mismatched key", cert: "server.pem", key: "alice-key.pem", wantErr: true},
		{name: "missing cert", cert: "none.pem", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			join := func(f string) string {
				if f == "" {
					return ""
				}
				return filepath.Join(dir, f)
			}
			certsValidateFlags.certFile, certsValidateFlags.keyFile = join(tt.cert), join(tt.key)
			certsValidateFlags.caFile, certsValidateFlags.client = join(tt.ca), tt.client
			cmd, buf := testCommand(t)
			err := validateCertificate(cmd, nil)
			if (err != nil) != tt.wantErr {
				t.Fatalf("validateCertificate() error = %v, wantErr %v\n%s", err, tt.wantErr, buf.String())
			}
			// A 30 day certificate is inside the expiry warning window.
			if err == nil && !strings.Contains(buf.String(), "expires in") {
				t.Errorf("output = %q, want an expiry warning", buf.String())
			}
		})
	}

	certsInfoFlags.format = "json"
	cmd, buf = testCommand(t)
	if err := displayCertInfo(cmd, []string{filepath.Join(dir, "alice.pem")}); err != nil {
		t.Fatalf("displayCertInfo() error = %v", err)
	}
	var info securitytls.CertificateInfo
	if err := json.Unmarshal(buf.Bytes(), &info); err != nil {
		t.Fatalf("output is not JSON: %v\n%s", err, buf.String())
	}
	if !strings.Contains(info.Subject, "CN=alice") || !strings.Contains(info.Issuer, "Bastion development CA") || info.IsCA {
		t.Errorf("info = %+v", info)
	}

	certsInfoFlags.format = "text"
	cmd, buf = testCommand(t)
	if err := displayCertInfo(cmd, []string{filepath.Join(dir, "server.pem")}); err != nil {
		t.Fatal(err)
	}
	if out := buf.String(); !strings.Contains(out, "127.0.0.1") || !strings.Contains(out, "✓ valid") {
		t.Errorf("text output = %q", out)
	}
}

func TestSecurityOptions(t *testing.T) {
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	t.Setenv("BASTION_SECRET_ADMIN_KEY", "s3cret")

	cfg := config.Default()
	cfg.Security.Authentication.Enabled = true
	cfg.Security.Authentication.Keys = []config.APIKeyConfig{{Key: "${secret:admin-key}", Actor: "ops"}}
	mgr, err := secrets.FromConfig(&cfg.Security.Secrets, quiet)
	if err != nil {
		t.Fatal(err)
	}
	defer mgr.Close()

	opts, err := securityOptions(t.Context(), &cfg.Security, mgr, quiet)
	if err != nil {
		t.Fatalf("securityOptions() error = %v", err)
	}
	if len(opts) != 1 {
		t.Errorf("got %d options, want auth only", len(opts))
	}

	cfg.Security.Authentication.Keys[0].Key = "${secret:missing}"
	var cfgErr *cli.ConfigError
	if _, err := securityOptions(t.Context(), &cfg.Security, mgr, quiet); !errors.As(err, &cfgErr) {
		t.Errorf("unresolved key error = %v, want ConfigError", err)
	}

	cfg.Security.Authentication.Enabled = false
	cfg.Security.TLS = config.TLSConfig{Enabled: true, CertFile: "missing.pem", KeyFile: "missing-key.pem"}
	if _, err := securityOptions(t.Context(), &cfg.Security, mgr, quiet); !errors.As(err, &cfgErr) {
		t.Errorf("missing certificate error = %v, want ConfigError", err)
	}

	cfg.Propagation.Redis.URL = "redis://:${secret:admin-key}@localhost:6379/0"
	if err := resolveSecrets(t.Context(), cfg, mgr); err != nil {
		t.Fatal(err)
	}
	if cfg.Propagation.Redis.URL != "redis://:s3cret@localhost:6379/0" {
		t.Errorf("redis url = %q", cfg.Propagation.Redis.URL)
	}
}
