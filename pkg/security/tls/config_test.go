package tls

import (
	"context"
	"crypto/tls"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"mercator-hq/bastion/pkg/config"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewServerConfig_Disabled(t *testing.T) {
	cfg, err := NewServerConfig(context.Background(), &config.TLSConfig{}, quietLogger())
	if err != nil || cfg != nil {
		t.Errorf("NewServerConfig(disabled) = %v, %v; want nil, nil", cfg, err)
	}
}

func TestNewServerConfig(t *testing.T) {
	pki := newTestPKI(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := NewServerConfig(ctx, &config.TLSConfig{
		Enabled:      true,
		CertFile:     pki.certFile,
		KeyFile:      pki.keyFile,
		MinVersion:   "1.2",
		CipherSuites: []string{"TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256"},
		MTLS: config.MTLSConfig{
			Enabled:        true,
			ClientCAFile:   pki.caFile,
			ClientAuthType: "verify_if_given",
		},
	}, quietLogger())
	if err != nil {
		t.Fatalf("NewServerConfig() error = %v", err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x, want TLS 1.2", cfg.MinVersion)
	}
	if len(cfg.CipherSuites) != 1 || cfg.CipherSuites[0] != tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256 {
		t.Errorf("CipherSuites = %v", cfg.CipherSuites)
	}
	if cfg.ClientAuth != tls.VerifyClientCertIfGiven || cfg.ClientCAs == nil {
		t.Errorf("ClientAuth = %v, ClientCAs = %v", cfg.ClientAuth, cfg.ClientCAs)
	}
	cert, err := cfg.GetCertificate(&tls.ClientHelloInfo{})
	if err != nil || cert == nil {
		t.Fatalf("GetCertificate() = %v, %v", cert, err)
	}
}

func TestNewServerConfig_Errors(t *testing.T) {
	pki := newTestPKI(t)
	base := func() *config.TLSConfig {
		return &config.TLSConfig{Enabled: true, CertFile: pki.certFile, KeyFile: pki.keyFile}
	}
	tests := []struct {
		name   string
		mutate func(*config.TLSConfig)
	}{
		{"missing key path", func(c *config.TLSConfig) { c.KeyFile = "" }},
		{"missing cert file", func(c *config.TLSConfig) { c.CertFile = filepath.Join(pki.dir, "nope.pem") }},
		{"mismatched pair", func(c *config.TLSConfig) { c.CertFile = pki.caFile }},
		{"tls 1.0", func(c *config.TLSConfig) { c.MinVersion = "1.0" }},
		{"insecure suite", func(c *config.TLSConfig) { c.CipherSuites = []string{"TLS_RSA_WITH_RC4_128_SHA"} }},
		{"mtls without ca", func(c *config.TLSConfig) { c.MTLS.Enabled = true }},
		{"mtls ca not pem", func(c *config.TLSConfig) {
			c.MTLS = config.MTLSConfig{Enabled: true, ClientCAFile: pki.keyFile}
		}},
		{"mtls bad auth type", func(c *config.TLSConfig) {
			c.MTLS = config.MTLSConfig{Enabled: true, ClientCAFile: pki.caFile, ClientAuthType: "maybe"}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			if _, err := NewServerConfig(t.Context(), cfg, quietLogger()); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseClientAuthType(t *testing.T) {
	tests := map[string]tls.ClientAuthType{
		"":                tls.RequireAndVerifyClientCert,
		"require":         tls.RequireAndVerifyClientCert,
		"request":         tls.RequestClientCert,
		"verify_if_given": tls.VerifyClientCertIfGiven,
	}
	for in, want := range tests {
		got, err := parseClientAuthType(in)
		if err != nil || got != want {
			t.Errorf("parseClientAuthType(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
}
