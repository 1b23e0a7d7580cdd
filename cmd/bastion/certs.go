package main

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/bastion/pkg/cli"
	securitytls "mercator-hq/bastion/pkg/security/tls"
)

var certsCmd = &cobra.Command{
	Use:   "certs",
	Short: "Manage admin API certificates",
	Long: `Manage the TLS certificates used by the admin API.

Subcommands:
  generate - Generate a development CA with server and client certificates
  info     - Display certificate details
  validate - Validate a certificate, its key and its chain

Examples:
  # Generate certificates for localhost with a client for alice
  bastion certs generate --host localhost,127.0.0.1 --client alice

  # Display certificate information
  bastion certs info certs/server.pem

  # Validate a client certificate against the CA
  bastion certs validate --cert certs/alice.pem --ca certs/ca.pem --client`,
}

var certsGenerateFlags struct {
	hosts    string
	org      string
	validity int
	output   string
	clients  []string
}

var certsGenerateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate development certificates",
	Long: `Generate a throwaway CA, a server certificate signed by it and,
optionally, client certificates for mutual TLS. Keys are ECDSA P-256 and
written with mode 0600.

The files are meant for development and testing. Use certificates from
your own CA in production.`,
	RunE: generateCertificates,
}

var certsInfoFlags struct {
	format string
}

var certsInfoCmd = &cobra.Command{
	Use:   "info <cert-file>",
	Short: "Display certificate details",
	Args:  cobra.ExactArgs(1),
	RunE:  displayCertInfo,
}

var certsValidateFlags struct {
	certFile string
	keyFile  string
	caFile   string
	client   bool
}

var certsValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a certificate and key",
	Long: `Validate a certificate before deploying it.

Checks that the certificate is within its validity period, that the key
matches when --key is given and that the certificate chains to --ca when
given. A warning is printed when fewer than 30 days remain.`,
	RunE: validateCertificate,
}

func init() {
	rootCmd.AddCommand(certsCmd)
	certsCmd.AddCommand(certsGenerateCmd, certsInfoCmd, certsValidateCmd)

	certsGenerateCmd.Flags().StringVar(&certsGenerateFlags.hosts, "host", "localhost", "comma-separated hostnames and IPs")
	certsGenerateCmd.Flags().StringVar(&certsGenerateFlags.org, "org", "Bastion", "organization name")
	certsGenerateCmd.Flags().IntVar(&certsGenerateFlags.validity, "validity", 365, "validity in days")
	certsGenerateCmd.Flags().StringVarP(&certsGenerateFlags.output, "output", "o", "certs", "output directory")
	certsGenerateCmd.Flags().StringSliceVar(&certsGenerateFlags.clients, "client", nil, "client certificate common name (repeatable)")

	certsInfoCmd.Flags().StringVar(&certsInfoFlags.format, "format", "text", "output format: text, json, yaml")

	certsValidateCmd.Flags().StringVar(&certsValidateFlags.certFile, "cert", "", "certificate file (required)")
	certsValidateCmd.Flags().StringVar(&certsValidateFlags.keyFile, "key", "", "private key file")
	certsValidateCmd.Flags().StringVar(&certsValidateFlags.caFile, "ca", "", "CA certificate file")
	certsValidateCmd.Flags().BoolVar(&certsValidateFlags.client, "client", false, "validate for client authentication")
	_ = certsValidateCmd.MarkFlagRequired("cert")
}

func generateCertificates(cmd *cobra.Command, args []string) error {
	var hosts []string
	for _, h := range strings.Split(certsGenerateFlags.hosts, ",") {
		if h = strings.TrimSpace(h); h != "" {
			hosts = append(hosts, h)
		}
	}
	if len(hosts) == 0 {
		return fmt.Errorf("at least one --host is required")
	}
	if certsGenerateFlags.validity <= 0 {
		return fmt.Errorf("--validity must be positive")
	}
	validFor := time.Duration(certsGenerateFlags.validity) * 24 * time.Hour
	org := certsGenerateFlags.org
	dir := certsGenerateFlags.output
	out := cmd.OutOrStdout()

	ca, err := securitytls.Generate(securitytls.CertificateRequest{
		CommonName: org + " development CA", Organization: org, ValidFor: validFor, IsCA: true,
	})
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	caPath := filepath.Join(dir, "ca.pem")
	if err := ca.WriteFiles(caPath, filepath.Join(dir, "ca-key.pem")); err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	fmt.Fprintf(out, "✓ CA certificate: %s\n", caPath)

	server, err := securitytls.Generate(securitytls.CertificateRequest{
		Organization: org, Hosts: hosts, ValidFor: validFor, Parent: ca,
	})
	if err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	certPath, keyPath := filepath.Join(dir, "server.pem"), filepath.Join(dir, "server-key.pem")
	if err := server.WriteFiles(certPath, keyPath); err != nil {
		return cli.NewCommandError("certs generate", err)
	}
	fmt.Fprintf(out, "✓ Server certificate: %s (%s)\n", certPath, strings.Join(hosts, ", "))

	for _, name := range certsGenerateFlags.clients {
		client, err := securitytls.Generate(securitytls.CertificateRequest{
			CommonName: name, Organization: org, ValidFor: validFor, ClientAuth: true, Parent: ca,
		})
		if err != nil {
			return cli.NewCommandError("certs generate", err)
		}
		base := filepath.Join(dir, name)
		if err := client.WriteFiles(base+".pem", base+"-key.pem"); err != nil {
			return cli.NewCommandError("certs generate", err)
		}
		fmt.Fprintf(out, "✓ Client certificate: %s.pem (identity %s)\n", base, name)
	}

	fmt.Fprintln(out, "\nTo use with Bastion, add to your config.yaml:")
	fmt.Fprintln(out, "security:")
	fmt.Fprintln(out, "  tls:")
	fmt.Fprintln(out, "    enabled: true")
	fmt.Fprintf(out, "    cert_file: %q\n", certPath)
	fmt.Fprintf(out, "    key_file: %q\n", keyPath)
	if len(certsGenerateFlags.clients) > 0 {
		fmt.Fprintln(out, "    mtls:")
		fmt.Fprintln(out, "      enabled: true")
		fmt.Fprintf(out, "      client_ca_file: %q\n", caPath)
	}
	fmt.Fprintln(out, "\n⚠  Development certificates only. Do not use in production.")
	return nil
}

func displayCertInfo(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(certsInfoFlags.format)
	if err != nil {
		return err
	}
	cert, err := securitytls.LoadCertificate(args[0])
	if err != nil {
		return cli.NewCommandError("certs info", err)
	}
	info := securitytls.ExtractCertificateInfo(cert, time.Now())

	out := cmd.OutOrStdout()
	if format != cli.FormatText {
		return cli.NewFormatter(format).FormatTo(out, info)
	}
	writeCertInfo(out, args[0], info)
	return nil
}

func writeCertInfo(w io.Writer, file string, info *securitytls.CertificateInfo) {
	fmt.Fprintf(w, "Certificate: %s\n\n", file)
	fmt.Fprintf(w, "  Subject:     %s\n", info.Subject)
	fmt.Fprintf(w, "  Issuer:      %s\n", info.Issuer)
	fmt.Fprintf(w, "  Serial:      %s\n", info.SerialNumber)
	fmt.Fprintf(w, "  Not Before:  %s\n", info.NotBefore.Format(time.RFC3339))
	fmt.Fprintf(w, "  Not After:   %s\n", info.NotAfter.Format(time.RFC3339))
	if time.Now().After(info.NotAfter) {
		fmt.Fprintln(w, "  Status:      ✗ EXPIRED")
	} else {
		fmt.Fprintf(w, "  Status:      ✓ valid (%d days remaining)\n", info.DaysUntilExpiry)
	}
	if len(info.DNSNames) > 0 {
		fmt.Fprintf(w, "  DNS Names:   %s\n", strings.Join(info.DNSNames, ", "))
	}
	if len(info.IPAddresses) > 0 {
		fmt.Fprintf(w, "  IPs:         %s\n", strings.Join(info.IPAddresses, ", "))
	}
	fmt.Fprintf(w, "  CA:          %v\n", info.IsCA)
	fmt.Fprintf(w, "  Algorithms:  %s / %s\n", info.SignatureAlgorithm, info.PublicKeyAlgorithm)
}

func validateCertificate(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cert, err := securitytls.LoadCertificate(certsValidateFlags.certFile)
	if err != nil {
		return cli.NewCommandError("certs validate", err)
	}

	if certsValidateFlags.keyFile != "" {
		if _, err := tls.LoadX509KeyPair(certsValidateFlags.certFile, certsValidateFlags.keyFile); err != nil {
			fmt.Fprintln(out, "✗ Certificate and key do not match")
			return cli.NewCommandError("certs validate", err)
		}
		fmt.Fprintln(out, "✓ Certificate and key match")
	}

	if certsValidateFlags.caFile != "" {
		roots, err := securitytls.LoadCertPool(certsValidateFlags.caFile)
		if err != nil {
			return cli.NewCommandError("certs validate", err)
		}
		usage := x509.ExtKeyUsageServerAuth
		if certsValidateFlags.client {
			usage = x509.ExtKeyUsageClientAuth
		}
		if err := securitytls.ValidateCertificateChain(cert, roots, usage); err != nil {
			fmt.Fprintln(out, "✗ Certificate chain invalid")
			return cli.NewCommandError("certs validate", err)
		}
		fmt.Fprintln(out, "✓ Certificate chain valid")
	}

	now := time.Now()
	if err := securitytls.ValidateX509Certificate(cert, now); err != nil {
		fmt.Fprintln(out, "✗ Certificate outside its validity period")
		return cli.NewCommandError("certs validate", err)
	}
	fmt.Fprintf(out, "✓ Certificate valid until %s\n", cert.NotAfter.Format("2006-01-02"))
	if _, warning := securitytls.CheckCertificateExpiration(cert, now); warning != "" {
		fmt.Fprintf(out, "⚠  %s\n", warning)
	}
	return nil
}
