package crypto

import (
	"crypto/ecdsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
)

var ErrInvalidPublicKey = errors.New("invalid public key")

// ParsePublicKeyPEM decodes a SubjectPublicKeyInfo PEM holding an ECDSA key.
func ParsePublicKeyPEM(publicPEM string) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block found", ErrInvalidPublicKey)
	}
	parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
	}
	pub, ok := parsed.(*ecdsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: expected ECDSA key, got %T", ErrInvalidPublicKey, parsed)
	}
	return pub, nil
}

// VerifyPEM checks a base64 signature produced by ECDSASigner.Sign.
// A malformed key is an error; a malformed or wrong signature is false.
func VerifyPEM(publicPEM, payload, sigB64 string) (bool, error) {
	pub, err := ParsePublicKeyPEM(publicPEM)
	if err != nil {
		return false, err
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false, nil
	}
	digest := sha256.Sum256([]byte(payload))
	return ecdsa.VerifyASN1(pub, digest[:], sig), nil
}
