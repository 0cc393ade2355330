// Package crypto implements the Manta envelope: RSA-PKCS#1v1.5-SHA256
// signing and verification, plus X.509 chain validation against a trust
// anchor. PSS is deliberately not used — the wire format is normative and
// fixed to PKCS#1v1.5, matching every historical Manta implementation.
package crypto

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"os"

	mantaerrors "github.com/CedrosPay/manta/internal/errors"
)

// LoadPrivateKey reads a PEM-encoded PKCS#1 or PKCS#8 RSA private key from disk.
func LoadPrivateKey(path string) (*rsa.PrivateKey, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, mantaerrors.Wrap(mantaerrors.ErrCodeKeyLoadFailure, "read key file", err)
	}
	return ParsePrivateKeyPEM(raw)
}

// ParsePrivateKeyPEM parses a PEM block containing an RSA private key.
func ParsePrivateKeyPEM(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, mantaerrors.New(mantaerrors.ErrCodeKeyLoadFailure, "no PEM block found in key")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}

	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, mantaerrors.Wrap(mantaerrors.ErrCodeKeyLoadFailure, "parse private key", err)
	}
	rsaKey, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, mantaerrors.New(mantaerrors.ErrCodeKeyLoadFailure, "key is not an RSA private key")
	}
	return rsaKey, nil
}

// LoadCertificate reads a PEM-encoded X.509 certificate from disk. An empty
// path is not an error: the PP may run without a certificate configured.
func LoadCertificate(path string) (*x509.Certificate, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, mantaerrors.Wrap(mantaerrors.ErrCodeCertificateMissing, "read certificate file", err)
	}
	return ParseCertificatePEM(raw)
}

// ParseCertificatePEM parses a PEM-encoded X.509 certificate.
func ParseCertificatePEM(pemBytes []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, mantaerrors.New(mantaerrors.ErrCodeCertificateMissing, "no PEM block found in certificate")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, mantaerrors.Wrap(mantaerrors.ErrCodeCertificateMissing, "parse certificate", err)
	}
	return cert, nil
}

// Sign computes base64(RSA-PKCS#1v1.5(SHA-256(message))) over the exact
// message bytes handed in. Callers must never re-serialize message before
// signing or verifying; the envelope signs bytes, not a semantic value.
func Sign(key *rsa.PrivateKey, message []byte) (string, error) {
	digest := sha256.Sum256(message)
	sig, err := rsa.SignPKCS1v15(rand.Reader, key, crypto.SHA256, digest[:])
	if err != nil {
		return "", mantaerrors.Wrap(mantaerrors.ErrCodeInvalidSignature, "sign message", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify checks a base64 signature against message using the certificate's
// public key. It never returns an error for an invalid signature — only a
// boolean, matching the source's "no exception escapes" contract — so that
// callers cannot accidentally treat a verification failure as a protocol
// error distinct from "the signature didn't match".
func Verify(cert *x509.Certificate, message []byte, signatureB64 string) bool {
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(message)
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// VerifyChain validates cert against ca as a trust root, requiring the
// digital signature key usage. A Wallet without a configured CA should skip
// this call and proceed with an unverified warning rather than treat the
// absence of a CA as a verification failure.
func VerifyChain(cert, ca *x509.Certificate) error {
	pool := x509.NewCertPool()
	pool.AddCert(ca)

	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		return mantaerrors.New(mantaerrors.ErrCodeChainValidation, "certificate missing digital signature key usage")
	}

	opts := x509.VerifyOptions{
		Roots:     pool,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	}
	if _, err := cert.Verify(opts); err != nil {
		return mantaerrors.Wrap(mantaerrors.ErrCodeChainValidation, "verify certificate chain", err)
	}
	return nil
}

// EncodeCertificatePEM renders a certificate back to PEM, used by the PP to
// publish its certificate to the retained `certificate` topic.
func EncodeCertificatePEM(cert *x509.Certificate) []byte {
	return pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: cert.Raw})
}
