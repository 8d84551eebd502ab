package core

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

const (
	// KeyClaimName is the token claim the account is keyed on.
	KeyClaimName = "sub"

	// SaltSize is the size of a per-identity salt.
	SaltSize = 16

	// addressFlag marks addresses derived from an identity token.
	addressFlag byte = 0x05
)

var errFieldTooLong = errors.New("field longer than 255 bytes")

// AccountDescriptor is the final output of a successful login.
type AccountDescriptor struct {
	Address            string        `json:"address"`
	Provider           string        `json:"provider"`
	Issuer             string        `json:"issuer"`
	SubjectID          string        `json:"subject_id"`
	Salt               string        `json:"salt"`
	EphemeralPublicKey string        `json:"ephemeral_public_key"`
	EpochHorizon       uint64        `json:"epoch_horizon"`
	Proof              ProofArtifact `json:"proof"`
}

// AddressSeed hashes the key claim, its value, the audience and the salt.
// The raw subject cannot be recovered from it without the salt.
func AddressSeed(subject, audience string, salt []byte) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("salt must be %d bytes, got %d", SaltSize, len(salt))
	}
	name, err := lengthPrefixed(KeyClaimName)
	if err != nil {
		return nil, err
	}
	sub, err := lengthPrefixed(subject)
	if err != nil {
		return nil, fmt.Errorf("subject: %w", err)
	}
	aud, err := lengthPrefixed(audience)
	if err != nil {
		return nil, fmt.Errorf("audience: %w", err)
	}
	return gethcrypto.Keccak256(name, sub, aud, salt), nil
}

// DeriveAddress computes the account address for an issuer and address seed.
func DeriveAddress(issuer string, seed []byte) (string, error) {
	iss, err := lengthPrefixed(issuer)
	if err != nil {
		return "", fmt.Errorf("issuer: %w", err)
	}
	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	h.Write([]byte{addressFlag})
	h.Write(iss)
	h.Write(seed)
	return hexutil.Encode(h.Sum(nil)), nil
}

// Materialize derives the account described by a verified token, its salt and
// the proof obtained for the session.
func Materialize(session *LoginSession, token IdentityToken, salt []byte, proof ProofArtifact) (AccountDescriptor, error) {
	seed, err := AddressSeed(token.Subject, token.PrimaryAudience(), salt)
	if err != nil {
		return AccountDescriptor{}, err
	}
	seedDecimal := new(big.Int).SetBytes(seed).String()
	if proof.AddressSeed != "" && proof.AddressSeed != seedDecimal {
		return AccountDescriptor{}, fmt.Errorf("%w: proof is bound to a different address seed", ErrProofRejected)
	}

	address, err := DeriveAddress(token.Issuer, seed)
	if err != nil {
		return AccountDescriptor{}, err
	}

	return AccountDescriptor{
		Address:            address,
		Provider:           session.Provider,
		Issuer:             token.Issuer,
		SubjectID:          hex.EncodeToString(seed),
		Salt:               hex.EncodeToString(salt),
		EphemeralPublicKey: session.Key.ExtendedPublicKeyBase64(),
		EpochHorizon:       session.EpochHorizon,
		Proof:              proof,
	}, nil
}

func lengthPrefixed(s string) ([]byte, error) {
	if len(s) > 255 {
		return nil, errFieldTooLong
	}
	out := make([]byte, 0, len(s)+1)
	out = append(out, byte(len(s)))
	return append(out, s...), nil
}
