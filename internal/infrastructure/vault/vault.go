// Package vault provides symmetric encryption for integration secrets at
// rest. Tokens are AES-256-GCM with a random nonce per call, so encrypting
// the same plaintext twice yields different tokens.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sync"
)

var (
	// ErrMissingKey indicates the master key is absent or unusable. This is
	// a configuration error: it surfaces on first use, not at construction,
	// so code paths that never touch secrets stay testable without a key.
	ErrMissingKey = errors.New("vault: master key is missing or invalid")
	// ErrIntegrityCheck indicates a token failed authentication: it was
	// tampered with or encrypted under a different key.
	ErrIntegrityCheck = errors.New("vault: token failed integrity check")
	// ErrMalformedToken indicates a token is not valid base64 or is too
	// short to carry a nonce.
	ErrMalformedToken = errors.New("vault: malformed token")
)

// Vault encrypts and decrypts secrets with a lazily loaded master key.
type Vault struct {
	keyHex string

	once   sync.Once
	aead   cipher.AEAD
	keyErr error
}

// New creates a vault over a hex-encoded 32-byte master key. The key is not
// validated here; the first Encrypt or Decrypt call fails with ErrMissingKey
// if it is absent or malformed.
func New(keyHex string) *Vault {
	return &Vault{keyHex: keyHex}
}

func (v *Vault) cipher() (cipher.AEAD, error) {
	v.once.Do(func() {
		if v.keyHex == "" {
			v.keyErr = ErrMissingKey
			return
		}
		key, err := hex.DecodeString(v.keyHex)
		if err != nil || len(key) != 32 {
			v.keyErr = fmt.Errorf("%w: expected 64 hex characters", ErrMissingKey)
			return
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			v.keyErr = fmt.Errorf("%w: %v", ErrMissingKey, err)
			return
		}
		v.aead, v.keyErr = cipher.NewGCM(block)
	})
	return v.aead, v.keyErr
}

// Encrypt seals the plaintext into a base64 token of nonce||ciphertext.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	aead, err := v.cipher()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("vault: nonce generation failed: %w", err)
	}

	sealed := aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt. Tampered tokens fail with
// ErrIntegrityCheck. Cryptographic failures are not transient; there is no
// retry.
func (v *Vault) Decrypt(token string) (string, error) {
	aead, err := v.cipher()
	if err != nil {
		return "", err
	}

	raw, err := base64.StdEncoding.DecodeString(token)
	if err != nil {
		return "", ErrMalformedToken
	}
	if len(raw) < aead.NonceSize() {
		return "", ErrMalformedToken
	}

	nonce, ciphertext := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrIntegrityCheck
	}
	return string(plaintext), nil
}
