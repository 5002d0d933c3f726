// Package crypto signs and verifies evidence payloads.
package crypto

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"

	"github.com/Mindburn-Labs/aliasledger/pkg/config"
)

// SignatureScheme names the only scheme produced by this package.
const SignatureScheme = "ECDSA-P256-SHA256"

// Signer signs evidence payloads.
type Signer interface {
	Sign(payload string) (string, error)
	PublicKeyPEM() string
}

// ECDSASigner signs with a P-256 key loaded once at startup. It is
// immutable after construction and safe for concurrent use.
type ECDSASigner struct {
	privKey   *ecdsa.PrivateKey
	publicPEM string
}

// NewECDSASignerFromPEM parses a PKCS#8 or SEC1 P-256 private key. Any
// problem with the key is a *config.ConfigurationError.
func NewECDSASignerFromPEM(privatePEM string) (*ECDSASigner, error) {
	if privatePEM == "" {
		return nil, config.Missing("WORM_PRIVATE_KEY")
	}
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, &config.ConfigurationError{Setting: "WORM_PRIVATE_KEY", Reason: "no PEM block found"}
	}

	var key *ecdsa.PrivateKey
	switch block.Type {
	case "PRIVATE KEY":
		parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
		if err != nil {
			return nil, &config.ConfigurationError{Setting: "WORM_PRIVATE_KEY", Reason: err.Error()}
		}
		k, ok := parsed.(*ecdsa.PrivateKey)
		if !ok {
			return nil, &config.ConfigurationError{Setting: "WORM_PRIVATE_KEY", Reason: fmt.Sprintf("expected ECDSA key, got %T", parsed)}
		}
		key = k
	case "EC PRIVATE KEY":
		k, err := x509.ParseECPrivateKey(block.Bytes)
		if err != nil {
			return nil, &config.ConfigurationError{Setting: "WORM_PRIVATE_KEY", Reason: err.Error()}
		}
		key = k
	default:
		return nil, &config.ConfigurationError{Setting: "WORM_PRIVATE_KEY", Reason: "unsupported PEM type " + block.Type}
	}

	return NewECDSASigner(key)
}

// NewECDSASigner wraps an in-memory P-256 key.
func NewECDSASigner(key *ecdsa.PrivateKey) (*ECDSASigner, error) {
	if key == nil || key.Curve != elliptic.P256() {
		return nil, &config.ConfigurationError{Setting: "WORM_PRIVATE_KEY", Reason: "key must be on curve P-256"}
	}
	pubPEM, err := EncodePublicKeyPEM(&key.PublicKey)
	if err != nil {
		return nil, &config.ConfigurationError{Setting: "WORM_PRIVATE_KEY", Reason: err.Error()}
	}
	return &ECDSASigner{privKey: key, publicPEM: pubPEM}, nil
}

// Sign returns the base64 ASN.1 DER ECDSA signature over SHA-256(payload).
func (s *ECDSASigner) Sign(payload string) (string, error) {
	digest := sha256.Sum256([]byte(payload))
	sig, err := ecdsa.SignASN1(rand.Reader, s.privKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("ecdsa sign: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// PublicKeyPEM returns the SubjectPublicKeyInfo PEM of the signing key.
func (s *ECDSASigner) PublicKeyPEM() string {
	return s.publicPEM
}

// EncodePublicKeyPEM encodes pub as a SubjectPublicKeyInfo PEM block.
func EncodePublicKeyPEM(pub *ecdsa.PublicKey) (string, error) {
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return "", fmt.Errorf("marshal public key: %w", err)
	}
	return string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})), nil
}
