package tls

import (
	"crypto/x509"
	"net/http"
)

// ExtractClientIdentity reads the caller identity from a client certificate.
//
// Supported sources:
//   - "subject.CN": Common Name (default)
//   - "subject.OU": first Organizational Unit
//   - "subject.O": first Organization
//   - "SAN": first DNS name
//
// It returns "" when the field is absent.
func ExtractClientIdentity(cert *x509.Certificate, source string) string {
	if cert == nil {
		return ""
	}
	switch source {
	case "subject.CN", "":
		return cert.Subject.CommonName
	case "subject.OU":
		if len(cert.Subject.OrganizationalUnit) > 0 {
			return cert.Subject.OrganizationalUnit[0]
		}
	case "subject.O":
		if len(cert.Subject.Organization) > 0 {
			return cert.Subject.Organization[0]
		}
	case "SAN":
		if len(cert.DNSNames) > 0 {
			return cert.DNSNames[0]
		}
	}
	return ""
}

// GetClientCertificate returns the verified leaf client certificate of r,
// or nil for plaintext requests and requests without one.
func GetClientCertificate(r *http.Request) *x509.Certificate {
	if r.TLS == nil {
		return nil
	}
	if len(r.TLS.VerifiedChains) > 0 && len(r.TLS.VerifiedChains[0]) > 0 {
		return r.TLS.VerifiedChains[0][0]
	}
	return nil
}

// GetClientIdentity returns the identity of r's verified client certificate.
func GetClientIdentity(r *http.Request, source string) string {
	return ExtractClientIdentity(GetClientCertificate(r), source)
}
