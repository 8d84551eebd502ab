package core_test

import (
	"bytes"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/layer-3/zklogin/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleProof() core.ProofArtifact {
	return core.ProofArtifact{
		ProofPoints: core.ProofPoints{
			A: []string{"1", "2", "1"},
			B: [][]string{{"3", "4"}, {"5", "6"}, {"1", "0"}},
			C: []string{"7", "8", "1"},
		},
		IssBase64Details: core.ClaimDetails{Value: "wiaXNzIjoiaHR0cHM6Ly9hY2NvdW50cy5nb29nbGUuY29tIiw", IndexMod4: 1},
		HeaderBase64:     "eyJhbGciOiJSUzI1NiJ9",
	}
}

func sampleToken(nonce core.Nonce) core.IdentityToken {
	return core.IdentityToken{
		Issuer:    "https://accounts.google.com",
		Subject:   "110463452167303598383",
		Audience:  []string{"client-id.apps.googleusercontent.com"},
		Nonce:     string(nonce),
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func TestMaterializeIsStableAcrossLogins(t *testing.T) {
	salt := bytes.Repeat([]byte{0x42}, core.SaltSize)

	s1 := newPendingSession(t)
	s2 := newPendingSession(t)
	require.NotEqual(t, s1.Key.PublicKey, s2.Key.PublicKey)

	a1, err := core.Materialize(s1, sampleToken(s1.Nonce), salt, sampleProof())
	require.NoError(t, err)
	a2, err := core.Materialize(s2, sampleToken(s2.Nonce), salt, sampleProof())
	require.NoError(t, err)

	assert.Equal(t, a1.Address, a2.Address)
	assert.Equal(t, a1.SubjectID, a2.SubjectID)
	assert.True(t, strings.HasPrefix(a1.Address, "0x"))
	assert.Len(t, a1.Address, 66)
	assert.NotEqual(t, a1.EphemeralPublicKey, a2.EphemeralPublicKey)
}

func TestMaterializeNeverExposesSubject(t *testing.T) {
	s := newPendingSession(t)
	tok := sampleToken(s.Nonce)
	acct, err := core.Materialize(s, tok, bytes.Repeat([]byte{0x01}, core.SaltSize), sampleProof())
	require.NoError(t, err)

	assert.NotContains(t, acct.SubjectID, tok.Subject)
	assert.NotContains(t, acct.Address, tok.Subject)
	assert.Equal(t, tok.Issuer, acct.Issuer)
	assert.Equal(t, "Google", acct.Provider)
}

func TestMaterializeSaltChangesAddress(t *testing.T) {
	s := newPendingSession(t)
	tok := sampleToken(s.Nonce)

	a1, err := core.Materialize(s, tok, bytes.Repeat([]byte{0x01}, core.SaltSize), sampleProof())
	require.NoError(t, err)
	a2, err := core.Materialize(s, tok, bytes.Repeat([]byte{0x02}, core.SaltSize), sampleProof())
	require.NoError(t, err)

	assert.NotEqual(t, a1.Address, a2.Address)
}

func TestMaterializeChecksProofAddressSeed(t *testing.T) {
	s := newPendingSession(t)
	tok := sampleToken(s.Nonce)
	salt := bytes.Repeat([]byte{0x09}, core.SaltSize)

	seed, err := core.AddressSeed(tok.Subject, tok.PrimaryAudience(), salt)
	require.NoError(t, err)

	bound := sampleProof()
	bound.AddressSeed = new(big.Int).SetBytes(seed).String()
	_, err = core.Materialize(s, tok, salt, bound)
	require.NoError(t, err)

	wrong := sampleProof()
	wrong.AddressSeed = "12345"
	_, err = core.Materialize(s, tok, salt, wrong)
	assert.ErrorIs(t, err, core.ErrProofRejected)
}

func TestAddressSeedRejectsBadSalt(t *testing.T) {
	_, err := core.AddressSeed("sub", "aud", []byte{1, 2, 3})
	assert.Error(t, err)
}
