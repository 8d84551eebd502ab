package core_test

import (
	"crypto/rand"
	"errors"
	"testing"

	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/zklogin/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) { return 0, errors.New("entropy source closed") }

func TestGenerateEphemeralKey(t *testing.T) {
	key, err := core.GenerateEphemeralKey(rand.Reader)
	require.NoError(t, err)

	require.Len(t, key.PublicKey, core.CompressedPublicKeySize)
	require.Len(t, key.PrivateKey, 32)

	priv, err := gethcrypto.ToECDSA(key.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey, gethcrypto.CompressPubkey(&priv.PublicKey))

	ext := key.ExtendedPublicKey()
	require.Len(t, ext, core.ExtendedPublicKeySize)
	assert.Equal(t, core.SchemeSecp256k1, ext[0])
}

func TestGenerateEphemeralKeyFreshPerCall(t *testing.T) {
	a, err := core.GenerateEphemeralKey(rand.Reader)
	require.NoError(t, err)
	b, err := core.GenerateEphemeralKey(rand.Reader)
	require.NoError(t, err)
	assert.NotEqual(t, a.PublicKey, b.PublicKey)
}

func TestGenerateEphemeralKeyFailsWithoutEntropy(t *testing.T) {
	_, err := core.GenerateEphemeralKey(failingReader{})
	assert.ErrorIs(t, err, core.ErrKeyGeneration)

	_, err = core.GenerateRandomness(failingReader{})
	assert.ErrorIs(t, err, core.ErrKeyGeneration)
}

func TestDisposeWipesPrivateKey(t *testing.T) {
	key, err := core.GenerateEphemeralKey(rand.Reader)
	require.NoError(t, err)

	backing := key.PrivateKey
	key.Dispose()

	assert.True(t, key.Disposed())
	assert.Equal(t, make([]byte, len(backing)), backing)
	assert.Len(t, key.PublicKey, core.CompressedPublicKeySize)

	key.Dispose()
}

func TestRandomnessString(t *testing.T) {
	r := core.Randomness{0x00, 0x01, 0x00}
	assert.Equal(t, "256", r.String())
}
