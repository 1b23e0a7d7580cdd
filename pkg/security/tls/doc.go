/*
Package tls provides TLS and mTLS for the Bastion admin server.

# Server Configuration

	security:
	  tls:
	    enabled: true
	    cert_file: /etc/bastion/tls/server.pem
	    key_file: /etc/bastion/tls/server-key.pem
	    min_version: "1.3"
	    cert_reload_interval: 5m

NewServerConfig turns the section into a *tls.Config whose certificate is
served by a CertificateReloader, so renewed files are picked up without a
restart. A renewal that fails to load or validate leaves the previous
certificate in place.

# Mutual TLS

	mtls:
	  enabled: true
	  client_ca_file: /etc/bastion/tls/clients-ca.pem
	  client_auth_type: require
	  identity_source: subject.CN

The identity of a verified client certificate attributes policy changes
to its caller when no API key has done so. Only certificates that chain to
client_ca_file yield an identity; with client_auth_type "request" an
unverified certificate is ignored.

# Certificates

Generate issues ECDSA P-256 certificates for development and tests, and
backs the "bastion certs generate" command. LoadCertificate,
ExtractCertificateInfo and ValidateCertificateChain back "bastion certs
info" and "bastion certs validate".
*/
package tls
