// Package secrets implements the record-level authenticated encryption used
// for deployment parameters and deploy-key material, plus the parameter
// store built on top of it.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the size of the encryption key (32 bytes for NaCl secretbox)
	KeySize = 32
	// NonceSize is the size of the nonce (24 bytes for NaCl secretbox)
	NonceSize = 24
)

// ErrDecrypt is returned when a sealed record cannot be authenticated.
// A wrong key and corrupted data are indistinguishable on purpose; both
// fail closed.
var ErrDecrypt = errors.New("decryption failed (wrong key or corrupted data)")

// Cipher seals and opens records with a key derived from the database key
// material. The Poly1305 tag written by secretbox is the integrity check
// stored alongside every encrypted record.
type Cipher struct {
	key [KeySize]byte
}

// NewCipher derives a 32-byte secretbox key from the key material using
// SHA-256. The same material also keys the database file, so one key file
// unlocks both layers.
func NewCipher(material string) Cipher {
	return Cipher{key: sha256.Sum256([]byte(material))}
}

// Seal encrypts plaintext and returns nonce + ciphertext.
func (c Cipher) Seal(plaintext []byte) ([]byte, error) {
	var nonce [NonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return secretbox.Seal(nonce[:], plaintext, &nonce, &c.key), nil
}

// Open authenticates and decrypts a record produced by Seal.
func (c Cipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < NonceSize {
		return nil, fmt.Errorf("sealed record too short (minimum %d bytes): %w", NonceSize, ErrDecrypt)
	}

	var nonce [NonceSize]byte
	copy(nonce[:], sealed[:NonceSize])

	plaintext, ok := secretbox.Open(nil, sealed[NonceSize:], &nonce, &c.key)
	if !ok {
		return nil, ErrDecrypt
	}

	return plaintext, nil
}
