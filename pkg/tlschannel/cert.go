package tlschannel

import (
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/blockberries/meshberry/pkg/cryptoprim"
)

// certValidity is the self-signed certificate lifetime mandated by
// spec.md §6.4 ("validity 1 day").
const certValidity = 24 * time.Hour

// commonName builds the "<sessionName>:<port>" CN spec.md §4.1 specifies.
func commonName(sessionName string, port int) string {
	return fmt.Sprintf("%s:%d", sessionName, port)
}

// GenerateCertificate issues a self-signed RSA-2048/SHA-256 X.509
// certificate whose CN identifies the session name and the port this end
// is bound to, per spec.md §4.1/§6.4. The certificate is its own issuer.
func GenerateCertificate(key *rsa.PrivateKey, sessionName string, port int) (*tls.Certificate, error) {
	serial, err := cryptoprim.RandomCertSerial()
	if err != nil {
		return nil, fmt.Errorf("tlschannel: cert serial: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: bytesToBigInt(serial),
		Subject: pkix.Name{
			CommonName: commonName(sessionName, port),
		},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(certValidity),
		KeyUsage:              x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		SignatureAlgorithm:    x509.SHA256WithRSA,
	}

	certDER, err := x509.CreateCertificate(cryptoRandReader{}, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: create certificate: %w", err)
	}

	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("tlschannel: parse certificate: %w", err)
	}

	return &tls.Certificate{
		Certificate: [][]byte{certDER},
		PrivateKey:  key,
		Leaf:        leaf,
	}, nil
}

// verifyPeerCertificateCN implements the dialer verification rule of
// spec.md §4.1: split the peer certificate's CN at ':', requiring the
// session-name half to equal expectedSessionName and the port half to
// equal the TCP remote port actually dialed. It is installed as
// tls.Config.VerifyPeerCertificate with InsecureSkipVerify set, since Go's
// built-in chain verification has no notion of this custom pinning rule.
func verifyPeerCertificateCN(expectedSessionName string, expectedPort int) func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return fmt.Errorf("tlschannel: bad_certificate: no certificate presented")
		}
		cert, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return fmt.Errorf("tlschannel: bad_certificate: %w", err)
		}

		cn := cert.Subject.CommonName
		idx := strings.LastIndex(cn, ":")
		if idx < 0 {
			return fmt.Errorf("tlschannel: bad_certificate: malformed CN %q", cn)
		}
		sessionName, portStr := cn[:idx], cn[idx+1:]
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return fmt.Errorf("tlschannel: bad_certificate: malformed CN port %q", cn)
		}

		if sessionName != expectedSessionName {
			return fmt.Errorf("tlschannel: bad_certificate: session name mismatch: cert=%q expected=%q", sessionName, expectedSessionName)
		}
		if port != expectedPort {
			return fmt.Errorf("tlschannel: bad_certificate: port mismatch: cert=%d expected=%d", port, expectedPort)
		}
		return nil
	}
}
