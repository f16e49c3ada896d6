package relay

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"fmt"
	"math/big"
	"net"
	"time"
)

// The relay regenerates its certificate on every start, so the default
// validity only needs to outlive one server run. Subscribers pin the
// fingerprint rather than trusting a CA.
const (
	defaultCertValidity = 48 * time.Hour
	certValidityCap     = 14 * 24 * time.Hour
)

// listenerTLS resolves the server's TLS configuration. An
// operator-supplied config is used as-is apart from enforcing the relay
// ALPN token; otherwise a self-signed certificate is minted for the
// configured hosts and validity. The second return is the base64
// SHA-256 fingerprint of a minted certificate, empty for operator
// configs.
func (s *Server) listenerTLS() (*tls.Config, string, error) {
	if s.tlsConf != nil {
		conf := s.tlsConf.Clone()
		conf.NextProtos = []string{alpnProtocol}
		return conf, "", nil
	}

	cert, fingerprint, err := mintCert(s.certValidity, s.certHosts)
	if err != nil {
		return nil, "", err
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{alpnProtocol},
	}, fingerprint, nil
}

// mintCert creates a self-signed ECDSA P-256 certificate covering the
// given hosts (IP literals become IP SANs, anything else a DNS SAN).
func mintCert(validity time.Duration, hosts []string) (tls.Certificate, string, error) {
	if validity <= 0 {
		validity = defaultCertValidity
	}
	if validity > certValidityCap {
		validity = certValidityCap
	}
	if len(hosts) == 0 {
		hosts = []string{"localhost", "127.0.0.1", "::1"}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("relay: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("relay: generate serial: %w", err)
	}

	notBefore := time.Now().Add(-time.Minute) // tolerate subscriber clock skew
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: alpnProtocol},
		NotBefore:    notBefore,
		NotAfter:     notBefore.Add(validity),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return tls.Certificate{}, "", fmt.Errorf("relay: create certificate: %w", err)
	}

	sum := sha256.Sum256(der)
	fingerprint := base64.StdEncoding.EncodeToString(sum[:])

	return tls.Certificate{
		Certificate: [][]byte{der},
		PrivateKey:  key,
	}, fingerprint, nil
}
