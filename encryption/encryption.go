// Package encryption seals stored values with an
// XChaCha20-Poly1305 key and proves which key a store was
// sealed with.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

const (
	// KeySize is the size of every encryption key
	KeySize = chacha20poly1305.KeySize
	// FingerprintSize is the size of a key fingerprint
	FingerprintSize = 8
)

var (
	// ErrInvalidKey is returned for keys that are not KeySize bytes
	ErrInvalidKey = fmt.Errorf("encryption key must be %d bytes", KeySize)
	// ErrDecrypt is returned when a ciphertext was sealed with another
	// key, bound to other data or modified
	ErrDecrypt = errors.New("decryption failed: wrong key or corrupted data")
)

var (
	checkPlaintext      = []byte("kvault key check")
	checkAdditionalData = []byte("cipher.check")
)

// GenerateKey returns a new random key
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)

	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("could not generate key: %s", err)
	}

	return key, nil
}

// Zero overwrites b with zeros
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// Fingerprint identifies a key without revealing it
func Fingerprint(key []byte) []byte {
	sum := sha256.Sum256(key)

	return sum[:FingerprintSize]
}

// Cipher seals and opens values with one key
type Cipher struct {
	aead        cipher.AEAD
	fingerprint []byte
}

// New creates a Cipher for key
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, ErrInvalidKey
	}

	aead, err := chacha20poly1305.NewX(key)

	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead, fingerprint: Fingerprint(key)}, nil
}

// Fingerprint returns the fingerprint of this cipher's key
func (c *Cipher) Fingerprint() []byte {
	return c.fingerprint
}

// Seal encrypts plaintext and binds it to additionalData.
// The output is the random nonce followed by the ciphertext.
func (c *Cipher) Seal(plaintext, additionalData []byte) ([]byte, error) {
	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())

	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("could not generate nonce: %s", err)
	}

	return c.aead.Seal(nonce, nonce, plaintext, additionalData), nil
}

// Open decrypts a value produced by Seal with the same additionalData
func (c *Cipher) Open(sealed, additionalData []byte) ([]byte, error) {
	if len(sealed) < c.aead.NonceSize()+c.aead.Overhead() {
		return nil, ErrDecrypt
	}

	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, additionalData)

	if err != nil {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}

// KeyCheck produces a value that VerifyKeyCheck accepts only
// for a cipher with the same key
func (c *Cipher) KeyCheck() ([]byte, error) {
	return c.Seal(checkPlaintext, checkAdditionalData)
}

// VerifyKeyCheck returns ErrDecrypt unless check was produced by
// KeyCheck with this cipher's key
func (c *Cipher) VerifyKeyCheck(check []byte) error {
	_, err := c.Open(check, checkAdditionalData)

	return err
}
