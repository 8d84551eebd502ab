package store

import (
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	xchacha "golang.org/x/crypto/chacha20poly1305"
)

// KeySize is the size of a sealing key.
const KeySize = xchacha.KeySize

// Sealer encrypts session secrets before they reach a durable backend.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 32 byte key.
func NewSealer(key []byte) (*Sealer, error) {
	aead, err := xchacha.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("sealing key: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// NewEphemeralSealer builds a Sealer with a random key. Records sealed with it
// cannot be opened after the process exits.
func NewEphemeralSealer() (*Sealer, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return NewSealer(key)
}

// Seal encrypts plaintext; aad binds the ciphertext to its session id.
func (s *Sealer) Seal(plaintext, aad []byte) ([]byte, error) {
	nonce := make([]byte, xchacha.NonceSizeX, xchacha.NonceSizeX+len(plaintext)+s.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return s.aead.Seal(nonce, nonce, plaintext, aad), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(ciphertext, aad []byte) ([]byte, error) {
	if len(ciphertext) < xchacha.NonceSizeX {
		return nil, errors.New("ciphertext too short")
	}
	nonce := ciphertext[:xchacha.NonceSizeX]
	return s.aead.Open(nil, nonce, ciphertext[xchacha.NonceSizeX:], aad)
}
