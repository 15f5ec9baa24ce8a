package storage

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/oauth2/google"
)

// Signer signs V4 URL payloads on behalf of a service account.
type Signer interface {
	Email() string
	SignBytes(ctx context.Context, payload []byte) ([]byte, error)
}

// KeySigner signs with a service account private key held in memory.
type KeySigner struct {
	email string
	key   *rsa.PrivateKey
}

// NewKeySignerFromJSON parses a service account JSON key.
func NewKeySignerFromJSON(data []byte) (*KeySigner, error) {
	if len(data) == 0 {
		return nil, errors.New("storage: service account JSON is empty")
	}
	cfg, err := google.JWTConfigFromJSON(data)
	if err != nil {
		return nil, fmt.Errorf("storage: decode service account json: %w", err)
	}
	email := strings.TrimSpace(cfg.Email)
	if email == "" {
		return nil, errors.New("storage: client_email missing in service account JSON")
	}
	key, err := parseRSAPrivateKey(cfg.PrivateKey)
	if err != nil {
		return nil, err
	}
	return &KeySigner{email: email, key: key}, nil
}

// NewKeySignerFromFile reads the JSON key from disk.
func NewKeySignerFromFile(path string) (*KeySigner, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("storage: read service account file: %w", err)
	}
	return NewKeySignerFromJSON(contents)
}

func (s *KeySigner) Email() string {
	if s == nil {
		return ""
	}
	return s.email
}

// SignBytes applies RSA PKCS#1 v1.5 over the SHA-256 digest of payload.
func (s *KeySigner) SignBytes(ctx context.Context, payload []byte) ([]byte, error) {
	if s == nil || s.key == nil {
		return nil, errors.New("storage: signer not initialised")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	digest := sha256.Sum256(payload)
	sig, err := rsa.SignPKCS1v15(rand.Reader, s.key, crypto.SHA256, digest[:])
	if err != nil {
		return nil, fmt.Errorf("storage: sign payload: %w", err)
	}
	return sig, nil
}

func parseRSAPrivateKey(pemData []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemData)
	if block == nil {
		return nil, errors.New("storage: failed to decode PEM private key")
	}
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, errors.New("storage: private key is not RSA")
		}
		return rsaKey, nil
	}
	rsaKey, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("storage: parse RSA private key: %w", err)
	}
	return rsaKey, nil
}
