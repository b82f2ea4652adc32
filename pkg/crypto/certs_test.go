package crypto

import (
	"bytes"
	"crypto/tls"
	"errors"
	"net"
	"os"
	"path/filepath"
	"testing"
)

func TestGenerateIdentity(t *testing.T) {
	id, err := GenerateIdentity([]string{"localhost", "127.0.0.1"})
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	if len(id.Leaf.DNSNames) != 1 || id.Leaf.DNSNames[0] != "localhost" {
		t.Errorf("DNSNames = %v", id.Leaf.DNSNames)
	}
	if len(id.Leaf.IPAddresses) != 1 || !id.Leaf.IPAddresses[0].Equal(net.ParseIP("127.0.0.1")) {
		t.Errorf("IPAddresses = %v", id.Leaf.IPAddresses)
	}
	if err := id.Leaf.VerifyHostname("localhost"); err != nil {
		t.Errorf("VerifyHostname(localhost) error = %v", err)
	}
}

func TestParseIdentityInvalid(t *testing.T) {
	id, err := GenerateIdentity([]string{"localhost"})
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	if _, err := ParseIdentity([]byte("junk"), id.KeyDER); !errors.Is(err, ErrInvalidCertificate) {
		t.Errorf("bad certificate: error = %v", err)
	}
	if _, err := ParseIdentity(id.CertDER, []byte("junk")); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("bad key: error = %v", err)
	}
}

func TestLoadOrGenerateIdentity(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server_cert")
	keyPath := filepath.Join(dir, "server_key")

	first, generated, err := LoadOrGenerateIdentity(certPath, keyPath, []string{"localhost"})
	if err != nil {
		t.Fatalf("first LoadOrGenerateIdentity() error = %v", err)
	}
	if !generated {
		t.Error("expected a new identity on first call")
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not written: %v", err)
	}
	if info.Mode().Perm() != 0600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	second, generated, err := LoadOrGenerateIdentity(certPath, keyPath, []string{"localhost"})
	if err != nil {
		t.Fatalf("second LoadOrGenerateIdentity() error = %v", err)
	}
	if generated {
		t.Error("expected the stored identity on second call")
	}
	if !bytes.Equal(first.CertDER, second.CertDER) || !bytes.Equal(first.KeyDER, second.KeyDER) {
		t.Error("reloaded identity differs from the stored one")
	}
}

func TestLoadOrGenerateIdentityCorrupt(t *testing.T) {
	dir := t.TempDir()
	certPath := filepath.Join(dir, "server_cert")
	keyPath := filepath.Join(dir, "server_key")

	if err := os.WriteFile(certPath, []byte("junk"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyPath, []byte("junk"), 0600); err != nil {
		t.Fatal(err)
	}

	// A corrupt identity is an error, not a reason to overwrite it
	if _, _, err := LoadOrGenerateIdentity(certPath, keyPath, nil); err == nil {
		t.Error("expected error for corrupt identity")
	}
}

func TestTLSHandshake(t *testing.T) {
	id, err := GenerateIdentity([]string{"localhost"})
	if err != nil {
		t.Fatalf("GenerateIdentity() error = %v", err)
	}

	serverConf := ServerTLSConfig(id, "qight")
	clientConf, err := ClientTLSConfig(id.CertDER, "qight", "localhost")
	if err != nil {
		t.Fatalf("ClientTLSConfig() error = %v", err)
	}

	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	errs := make(chan error, 1)
	go func() {
		errs <- tls.Server(serverRaw, serverConf).Handshake()
	}()

	client := tls.Client(clientRaw, clientConf)
	if err := client.Handshake(); err != nil {
		t.Fatalf("client handshake error = %v", err)
	}
	if err := <-errs; err != nil {
		t.Fatalf("server handshake error = %v", err)
	}
	if got := client.ConnectionState().NegotiatedProtocol; got != "qight" {
		t.Errorf("negotiated ALPN = %q, want qight", got)
	}
}

func TestClientRejectsUnknownCertificate(t *testing.T) {
	served, err := GenerateIdentity([]string{"localhost"})
	if err != nil {
		t.Fatal(err)
	}
	other, err := GenerateIdentity([]string{"localhost"})
	if err != nil {
		t.Fatal(err)
	}

	clientConf, err := ClientTLSConfig(other.CertDER, "qight", "localhost")
	if err != nil {
		t.Fatal(err)
	}

	clientRaw, serverRaw := net.Pipe()
	defer clientRaw.Close()
	defer serverRaw.Close()

	go tls.Server(serverRaw, ServerTLSConfig(served, "qight")).Handshake()

	if err := tls.Client(clientRaw, clientConf).Handshake(); err == nil {
		t.Error("handshake succeeded against an untrusted certificate")
	}
}
