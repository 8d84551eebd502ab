package core

import (
	"encoding/base64"
	"fmt"
	"io"
	"math/big"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	// SchemeSecp256k1 is the signature scheme flag prefixed to extended public keys.
	SchemeSecp256k1 byte = 0x01

	// CompressedPublicKeySize is the size of a compressed secp256k1 point.
	CompressedPublicKeySize = 33

	// ExtendedPublicKeySize is the size of a public key prefixed with its scheme flag.
	ExtendedPublicKeySize = CompressedPublicKeySize + 1

	// RandomnessSize is the size of the blinding value bound into the nonce.
	RandomnessSize = 16

	privateKeySize = 32

	// maxKeyAttempts bounds the draws needed to land a scalar inside the curve order.
	maxKeyAttempts = 8
)

// EphemeralKeyPair is the short-lived signing key of one login attempt.
type EphemeralKeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}

// GenerateEphemeralKey draws a fresh secp256k1 keypair from rand.
// A failing random source is fatal; there is no fallback.
func GenerateEphemeralKey(rand io.Reader) (*EphemeralKeyPair, error) {
	buf := make([]byte, privateKeySize)
	for i := 0; i < maxKeyAttempts; i++ {
		if _, err := io.ReadFull(rand, buf); err != nil {
			Zero(buf)
			return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
		}
		key, err := gethcrypto.ToECDSA(buf)
		if err != nil {
			continue
		}
		pair := &EphemeralKeyPair{
			PublicKey:  gethcrypto.CompressPubkey(&key.PublicKey),
			PrivateKey: buf,
		}
		key.D.SetInt64(0)
		return pair, nil
	}
	Zero(buf)
	return nil, fmt.Errorf("%w: no valid scalar after %d draws", ErrKeyGeneration, maxKeyAttempts)
}

// ExtendedPublicKey returns the scheme flag followed by the compressed public key.
func (k *EphemeralKeyPair) ExtendedPublicKey() []byte {
	out := make([]byte, 0, ExtendedPublicKeySize)
	out = append(out, SchemeSecp256k1)
	return append(out, k.PublicKey...)
}

// ExtendedPublicKeyBase64 is the encoding the prover expects.
func (k *EphemeralKeyPair) ExtendedPublicKeyBase64() string {
	return base64.StdEncoding.EncodeToString(k.ExtendedPublicKey())
}

// Disposed reports whether the private key has been wiped.
func (k *EphemeralKeyPair) Disposed() bool {
	return k == nil || len(k.PrivateKey) == 0
}

// Dispose wipes the private key. It is safe to call more than once.
func (k *EphemeralKeyPair) Dispose() {
	if k == nil {
		return
	}
	Zero(k.PrivateKey)
	k.PrivateKey = nil
}

func (k *EphemeralKeyPair) clone() *EphemeralKeyPair {
	if k == nil {
		return nil
	}
	return &EphemeralKeyPair{
		PublicKey:  append([]byte(nil), k.PublicKey...),
		PrivateKey: append([]byte(nil), k.PrivateKey...),
	}
}

// Randomness is the per-attempt blinding value.
type Randomness []byte

// GenerateRandomness draws RandomnessSize bytes from rand.
func GenerateRandomness(rand io.Reader) (Randomness, error) {
	r := make(Randomness, RandomnessSize)
	if _, err := io.ReadFull(rand, r); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyGeneration, err)
	}
	return r, nil
}

// String renders the randomness as a decimal integer, the form provers take.
func (r Randomness) String() string {
	return new(big.Int).SetBytes(r).String()
}

// Zero overwrites b with zeros.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
