package tls

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

// testPKI is a throwaway CA with a server and a client certificate on disk.
type testPKI struct {
	dir    string
	ca     *GeneratedCertificate
	server *GeneratedCertificate
	client *GeneratedCertificate

	caFile, certFile, keyFile string
}

func newTestPKI(t *testing.T) *testPKI {
	t.Helper()
	ca, err := Generate(CertificateRequest{CommonName: "bastion test CA", ValidFor: time.Hour, IsCA: true})
	if err != nil {
		t.Fatalf("generate CA: %v", err)
	}
	server, err := Generate(CertificateRequest{
		Hosts:    []string{"localhost", "127.0.0.1"},
		ValidFor: time.Hour,
		Parent:   ca,
	})
	if err != nil {
		t.Fatalf("generate server cert: %v", err)
	}
	client, err := Generate(CertificateRequest{
		CommonName:   "alice",
		Organization: "acme",
		Hosts:        []string{"alice.ops.internal"},
		ValidFor:     time.Hour,
		ClientAuth:   true,
		Parent:       ca,
	})
	if err != nil {
		t.Fatalf("generate client cert: %v", err)
	}

	dir := t.TempDir()
	p := &testPKI{
		dir:      dir,
		ca:       ca,
		server:   server,
		client:   client,
		caFile:   filepath.Join(dir, "ca.pem"),
		certFile: filepath.Join(dir, "server.pem"),
		keyFile:  filepath.Join(dir, "server-key.pem"),
	}
	if err := os.WriteFile(p.caFile, ca.CertPEM, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := server.WriteFiles(p.certFile, p.keyFile); err != nil {
		t.Fatal(err)
	}
	return p
}
