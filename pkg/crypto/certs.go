package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"math/big"
	"net"
	"os"
	"time"
)

var (
	ErrInvalidKey         = errors.New("invalid key")
	ErrInvalidCertificate = errors.New("invalid certificate")
)

// certValidity is how long a generated certificate stays valid
const certValidity = 365 * 24 * time.Hour

// Identity is a relay's TLS certificate and private key, kept in DER form
// so it can be written to and read from disk unchanged.
type Identity struct {
	CertDER []byte
	KeyDER  []byte // PKCS#8

	Certificate tls.Certificate
	Leaf        *x509.Certificate
}

// GenerateIdentity creates a self-signed ECDSA P-256 certificate valid for
// hosts (DNS names or IP addresses).
func GenerateIdentity(hosts []string) (*Identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:               pkix.Name{CommonName: "qight relay"},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certValidity),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			template.IPAddresses = append(template.IPAddresses, ip)
		} else {
			template.DNSNames = append(template.DNSNames, h)
		}
	}

	certDER, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	keyDER, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("marshal key: %w", err)
	}

	return ParseIdentity(certDER, keyDER)
}

// ParseIdentity builds an Identity from DER certificate and PKCS#8 key bytes
func ParseIdentity(certDER, keyDER []byte) (*Identity, error) {
	leaf, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	key, err := x509.ParsePKCS8PrivateKey(keyDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	return &Identity{
		CertDER: certDER,
		KeyDER:  keyDER,
		Certificate: tls.Certificate{
			Certificate: [][]byte{certDER},
			PrivateKey:  key,
			Leaf:        leaf,
		},
		Leaf: leaf,
	}, nil
}

// LoadIdentity reads a DER certificate and key from disk
func LoadIdentity(certPath, keyPath string) (*Identity, error) {
	certDER, err := LoadKeyFromFile(certPath)
	if err != nil {
		return nil, err
	}
	keyDER, err := LoadKeyFromFile(keyPath)
	if err != nil {
		return nil, err
	}
	return ParseIdentity(certDER, keyDER)
}

// LoadOrGenerateIdentity loads the identity at certPath/keyPath, or
// generates one for hosts and saves it there when either file is missing.
// The boolean reports whether a new identity was generated.
func LoadOrGenerateIdentity(certPath, keyPath string, hosts []string) (*Identity, bool, error) {
	id, err := LoadIdentity(certPath, keyPath)
	if err == nil {
		return id, false, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, false, err
	}

	id, err = GenerateIdentity(hosts)
	if err != nil {
		return nil, false, err
	}
	if err := id.Save(certPath, keyPath); err != nil {
		return nil, false, err
	}
	return id, true, nil
}

// Save writes the certificate and key as DER files
func (id *Identity) Save(certPath, keyPath string) error {
	if err := os.WriteFile(certPath, id.CertDER, 0644); err != nil {
		return fmt.Errorf("write certificate: %w", err)
	}
	if err := SaveKeyToFile(keyPath, id.KeyDER); err != nil {
		return fmt.Errorf("write key: %w", err)
	}
	return nil
}

// ServerTLSConfig returns a TLS 1.3 server config presenting id
func ServerTLSConfig(id *Identity, alpn string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{id.Certificate},
		NextProtos:   []string{alpn},
		MinVersion:   tls.VersionTLS13,
	}
}

// ClientTLSConfig returns a client config that trusts only the DER
// certificate certDER. serverName must match one of its hosts.
func ClientTLSConfig(certDER []byte, alpn, serverName string) (*tls.Config, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCertificate, err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(cert)

	return &tls.Config{
		RootCAs:    roots,
		ServerName: serverName,
		NextProtos: []string{alpn},
		MinVersion: tls.VersionTLS13,
	}, nil
}

// LoadClientTLSConfig reads the relay certificate from certPath
func LoadClientTLSConfig(certPath, alpn, serverName string) (*tls.Config, error) {
	certDER, err := os.ReadFile(certPath)
	if err != nil {
		return nil, fmt.Errorf("read certificate: %w", err)
	}
	return ClientTLSConfig(certDER, alpn, serverName)
}

// SaveKeyToFile writes key material readable only by the owner
func SaveKeyToFile(filename string, data []byte) error {
	return os.WriteFile(filename, data, 0600)
}

// LoadKeyFromFile loads key material from file
func LoadKeyFromFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}
