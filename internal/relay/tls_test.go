package relay

import (
	"crypto/tls"
	"crypto/x509"
	"testing"
	"time"
)

func parseMinted(t *testing.T, cert tls.Certificate) *x509.Certificate {
	t.Helper()
	if len(cert.Certificate) == 0 {
		t.Fatal("no certificate data")
	}
	parsed, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	return parsed
}

func TestMintCertDefaults(t *testing.T) {
	t.Parallel()

	cert, fingerprint, err := mintCert(0, nil)
	if err != nil {
		t.Fatalf("mintCert: %v", err)
	}
	if fingerprint == "" {
		t.Error("empty fingerprint")
	}

	parsed := parseMinted(t, cert)
	if got := parsed.NotAfter.Sub(parsed.NotBefore); got > defaultCertValidity+2*time.Minute {
		t.Errorf("validity = %v, want default %v", got, defaultCertValidity)
	}
	if parsed.NotAfter.Before(time.Now()) {
		t.Error("certificate already expired")
	}

	// Loopback defaults: localhost plus both loopback IPs.
	if len(parsed.DNSNames) != 1 || parsed.DNSNames[0] != "localhost" {
		t.Errorf("DNS names = %v, want [localhost]", parsed.DNSNames)
	}
	if len(parsed.IPAddresses) != 2 {
		t.Errorf("IP SANs = %v, want loopback v4+v6", parsed.IPAddresses)
	}
}

func TestMintCertClampsValidity(t *testing.T) {
	t.Parallel()

	cert, _, err := mintCert(90*24*time.Hour, nil)
	if err != nil {
		t.Fatalf("mintCert: %v", err)
	}

	parsed := parseMinted(t, cert)
	if got := parsed.NotAfter.Sub(parsed.NotBefore); got > certValidityCap+2*time.Minute {
		t.Errorf("validity = %v, want cap %v", got, certValidityCap)
	}
}

func TestMintCertHostClassification(t *testing.T) {
	t.Parallel()

	cert, _, err := mintCert(time.Hour, []string{"relay.example.com", "192.0.2.7"})
	if err != nil {
		t.Fatalf("mintCert: %v", err)
	}

	parsed := parseMinted(t, cert)
	if len(parsed.DNSNames) != 1 || parsed.DNSNames[0] != "relay.example.com" {
		t.Errorf("DNS names = %v", parsed.DNSNames)
	}
	if len(parsed.IPAddresses) != 1 || parsed.IPAddresses[0].String() != "192.0.2.7" {
		t.Errorf("IP SANs = %v", parsed.IPAddresses)
	}
}

func TestListenerTLSEnforcesALPN(t *testing.T) {
	t.Parallel()

	operator := &tls.Config{NextProtos: []string{"h3"}}
	s := NewServer(":0", nil, nil, WithTLSConfig(operator))

	conf, fingerprint, err := s.listenerTLS()
	if err != nil {
		t.Fatalf("listenerTLS: %v", err)
	}
	if fingerprint != "" {
		t.Error("operator config should not report a minted fingerprint")
	}
	if len(conf.NextProtos) != 1 || conf.NextProtos[0] != alpnProtocol {
		t.Errorf("NextProtos = %v, want [%s]", conf.NextProtos, alpnProtocol)
	}
	if len(operator.NextProtos) != 1 || operator.NextProtos[0] != "h3" {
		t.Error("listenerTLS mutated the operator's config")
	}

	s = NewServer(":0", nil, nil, WithCertValidity(time.Hour), WithCertHosts("example.org"))
	conf, fingerprint, err = s.listenerTLS()
	if err != nil {
		t.Fatalf("listenerTLS: %v", err)
	}
	if fingerprint == "" {
		t.Error("minted path should report a fingerprint")
	}
	if len(conf.Certificates) != 1 {
		t.Errorf("certificates = %d, want 1", len(conf.Certificates))
	}
}
