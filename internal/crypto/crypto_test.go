package crypto

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"
)

func generateTestKeyAndCert(t *testing.T) (*rsa.PrivateKey, *x509.Certificate) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("rsa.GenerateKey() error = %v", err)
	}

	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "manta-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		IsCA:         true,
	}

	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("x509.CreateCertificate() error = %v", err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("x509.ParseCertificate() error = %v", err)
	}
	return key, cert
}

func TestSignVerifyRoundTrip(t *testing.T) {
	key, cert := generateTestKeyAndCert(t)

	sig, err := Sign(key, []byte("Hello"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if !Verify(cert, []byte("Hello"), sig) {
		t.Error("Verify() = false, want true for matching message/signature")
	}
}

func TestVerifyFailsOnTamperedMessage(t *testing.T) {
	key, cert := generateTestKeyAndCert(t)

	sig, err := Sign(key, []byte("Hello"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if Verify(cert, []byte("Hellp"), sig) {
		t.Error("Verify() = true for a tampered message, want false")
	}
}

func TestSignIsDeterministic(t *testing.T) {
	// RSA PKCS#1v1.5 signing is deterministic for a fixed key and message
	// (unlike PSS, which is randomized).
	key, _ := generateTestKeyAndCert(t)

	sig1, err := Sign(key, []byte("Hello"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	sig2, err := Sign(key, []byte("Hello"))
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if sig1 != sig2 {
		t.Errorf("expected deterministic signatures, got %q and %q", sig1, sig2)
	}
}

func TestVerifyChainAcceptsSelfSignedTrustRoot(t *testing.T) {
	_, cert := generateTestKeyAndCert(t)

	if err := VerifyChain(cert, cert); err != nil {
		t.Errorf("VerifyChain() error = %v, want nil for self-signed trust root", err)
	}
}

func TestVerifyChainRejectsUntrustedCert(t *testing.T) {
	_, cert := generateTestKeyAndCert(t)
	_, otherCA := generateTestKeyAndCert(t)

	if err := VerifyChain(cert, otherCA); err == nil {
		t.Error("VerifyChain() = nil, want error for untrusted CA")
	}
}

func TestLoadCertificateEmptyPathIsNotError(t *testing.T) {
	cert, err := LoadCertificate("")
	if err != nil {
		t.Fatalf("LoadCertificate(\"\") error = %v", err)
	}
	if cert != nil {
		t.Error("expected nil certificate for empty path")
	}
}
