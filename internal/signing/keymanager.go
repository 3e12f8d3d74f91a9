// Package signing manages the registry's own RSA signing key and exposes it
// as a JWK Set, and verifies the optional cryptographic Signature field of
// an Agent Card against a producer-declared JWKS URL.
//
// This is deliberately not a certificate authority: the registry never
// issues certificates or credentials to agents (credential escrow is an
// explicit Non-goal). It only signs its own principal tokens and verifies
// signatures producers attach to their own cards.
package signing

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
)

const (
	keyFile = "registry-signing.key"
	keyBits = 4096
)

// KeyManager owns the registry's RSA signing key, persisting it to disk on
// first run and reloading it on subsequent starts — the same
// load-or-create lifecycle the teacher repo uses for its certificate
// authority, minus everything X.509.
type KeyManager struct {
	dir string
	key *rsa.PrivateKey
}

// NewKeyManager returns a KeyManager that stores the key file in dir.
func NewKeyManager(dir string) *KeyManager {
	return &KeyManager{dir: dir}
}

// LoadOrCreate loads the signing key from disk if present; generates and
// persists a new one otherwise.
func (m *KeyManager) LoadOrCreate() error {
	if err := m.load(); err == nil {
		return nil
	}
	return m.create()
}

func (m *KeyManager) load() error {
	keyPEM, err := os.ReadFile(filepath.Join(m.dir, keyFile))
	if err != nil {
		return fmt.Errorf("read signing key: %w", err)
	}
	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return fmt.Errorf("decode signing key PEM")
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return fmt.Errorf("parse signing key: %w", err)
	}
	m.key = key
	return nil
}

func (m *KeyManager) create() error {
	if err := os.MkdirAll(m.dir, 0o700); err != nil {
		return fmt.Errorf("create key dir %q: %w", m.dir, err)
	}
	key, err := rsa.GenerateKey(rand.Reader, keyBits)
	if err != nil {
		return fmt.Errorf("generate signing key: %w", err)
	}
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: x509.MarshalPKCS1PrivateKey(key)})
	if err := os.WriteFile(filepath.Join(m.dir, keyFile), keyPEM, 0o600); err != nil {
		return fmt.Errorf("write signing key: %w", err)
	}
	m.key = key
	return nil
}

// Key returns the loaded RSA private key.
func (m *KeyManager) Key() *rsa.PrivateKey { return m.key }

// Public returns the public half of the loaded key.
func (m *KeyManager) Public() *rsa.PublicKey { return &m.key.PublicKey }
