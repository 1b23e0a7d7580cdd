package tls

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"

	"mercator-hq/bastion/pkg/config"
)

// NewServerConfig builds the admin server's *tls.Config from cfg. The
// certificate is served through a CertificateReloader that polls the files
// every ReloadInterval until ctx is cancelled. It returns nil, nil when TLS
// is disabled.
func NewServerConfig(ctx context.Context, cfg *config.TLSConfig, logger *slog.Logger) (*tls.Config, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if cfg.CertFile == "" || cfg.KeyFile == "" {
		return nil, errors.New("cert_file and key_file are required when TLS is enabled")
	}

	minVersion, err := parseTLSVersion(cfg.MinVersion)
	if err != nil {
		return nil, err
	}
	suites, err := parseCipherSuites(cfg.CipherSuites)
	if err != nil {
		return nil, err
	}

	reloader := NewCertificateReloader(cfg.CertFile, cfg.KeyFile, cfg.ReloadInterval, logger)
	if err := reloader.Start(ctx); err != nil {
		return nil, fmt.Errorf("load certificate: %w", err)
	}

	// #nosec G402 - MinVersion is validated to 1.2 or 1.3
	tlsConfig := &tls.Config{
		GetCertificate: reloader.GetCertificateFunc(),
		MinVersion:     minVersion,
		CipherSuites:   suites,
	}
	if cfg.MTLS.Enabled {
		if err := configureMTLS(tlsConfig, &cfg.MTLS); err != nil {
			return nil, fmt.Errorf("configure mTLS: %w", err)
		}
	}
	return tlsConfig, nil
}

func parseTLSVersion(v string) (uint16, error) {
	switch v {
	case "1.3", "":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported TLS version %q (want 1.2 or 1.3)", v)
	}
}

// parseCipherSuites maps suite names onto ids. Only suites Go considers
// secure are accepted; nil keeps Go's defaults.
func parseCipherSuites(names []string) ([]uint16, error) {
	if len(names) == 0 {
		return nil, nil
	}
	known := make(map[string]uint16)
	for _, s := range tls.CipherSuites() {
		known[s.Name] = s.ID
	}
	out := make([]uint16, 0, len(names))
	for _, name := range names {
		id, ok := known[name]
		if !ok {
			return nil, fmt.Errorf("unknown or insecure cipher suite %q", name)
		}
		out = append(out, id)
	}
	return out, nil
}

func configureMTLS(tlsConfig *tls.Config, cfg *config.MTLSConfig) error {
	if cfg.ClientCAFile == "" {
		return errors.New("client_ca_file is required when mTLS is enabled")
	}
	pool, err := LoadCertPool(cfg.ClientCAFile)
	if err != nil {
		return err
	}
	authType, err := parseClientAuthType(cfg.ClientAuthType)
	if err != nil {
		return err
	}
	tlsConfig.ClientCAs = pool
	tlsConfig.ClientAuth = authType
	return nil
}

func parseClientAuthType(s string) (tls.ClientAuthType, error) {
	switch s {
	case "require", "":
		return tls.RequireAndVerifyClientCert, nil
	case "request":
		return tls.RequestClientCert, nil
	case "verify_if_given":
		return tls.VerifyClientCertIfGiven, nil
	default:
		return tls.NoClientCert, fmt.Errorf("unknown client auth type %q", s)
	}
}
