package core

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
)

const (
	nonceDomain = "zklogin/nonce/v1"

	// nonceSize is the number of digest bytes kept in the nonce.
	nonceSize = 20
)

// Nonce binds one ephemeral key to one OAuth round-trip.
type Nonce string

// DeriveNonce commits to the extended public key, the epoch horizon and the
// randomness. All inputs are fixed length so the encoding is unambiguous.
func DeriveNonce(extendedPublicKey []byte, epochHorizon uint64, randomness Randomness) (Nonce, error) {
	if len(extendedPublicKey) != ExtendedPublicKeySize {
		return "", fmt.Errorf("%w: public key must be %d bytes, got %d", ErrInvalidNonceInput, ExtendedPublicKeySize, len(extendedPublicKey))
	}
	if len(randomness) != RandomnessSize {
		return "", fmt.Errorf("%w: randomness must be %d bytes, got %d", ErrInvalidNonceInput, RandomnessSize, len(randomness))
	}

	var horizon [8]byte
	binary.BigEndian.PutUint64(horizon[:], epochHorizon)

	digest := gethcrypto.Keccak256(
		[]byte(nonceDomain),
		extendedPublicKey,
		horizon[:],
		randomness,
	)
	return Nonce(base64.RawURLEncoding.EncodeToString(digest[:nonceSize])), nil
}

// ValidateEpochHorizon checks that horizon lies strictly after current.
func ValidateEpochHorizon(current, horizon uint64) error {
	if horizon <= current {
		return fmt.Errorf("%w: horizon %d, current epoch %d", ErrInvalidEpochHorizon, horizon, current)
	}
	return nil
}
