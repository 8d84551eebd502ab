package store_test

import (
	"bytes"
	"testing"

	"github.com/layer-3/zklogin/adapters/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerBindsAssociatedData(t *testing.T) {
	sealer, err := store.NewSealer(bytes.Repeat([]byte{7}, store.KeySize))
	require.NoError(t, err)

	sealed, err := sealer.Seal([]byte("private key"), []byte("session-1"))
	require.NoError(t, err)
	assert.NotContains(t, string(sealed), "private key")

	opened, err := sealer.Open(sealed, []byte("session-1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("private key"), opened)

	_, err = sealer.Open(sealed, []byte("session-2"))
	assert.Error(t, err)
	_, err = sealer.Open(sealed[:4], []byte("session-1"))
	assert.Error(t, err)
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	_, err := store.NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestMemorySaltStoreIsStable(t *testing.T) {
	salts := store.NewMemorySaltStore()
	a, err := salts.GetOrCreate(t.Context(), "iss", "sub")
	require.NoError(t, err)
	b, err := salts.GetOrCreate(t.Context(), "iss", "sub")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
