package config

import (
	"encoding/base64"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const googleClient = `[{"name":"Google","client_id":"abc.apps.googleusercontent.com"}]`

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ZKLOGIN_PROVIDERS", googleClient)
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":9000", cfg.Addr)
	assert.Equal(t, StoreRedis, cfg.Store)
	assert.Equal(t, 10*time.Minute, cfg.SessionTTL)
	assert.Equal(t, uint(4), cfg.ProverMaxAttempts)
	assert.Equal(t, uint64(2), cfg.EpochOffset)
	assert.True(t, cfg.VerifyTokens)
	assert.Equal(t, 30*time.Second, cfg.JanitorInterval)
	assert.Equal(t, zerolog.InfoLevel, cfg.Level())

	providers, err := cfg.ProviderList()
	require.NoError(t, err)
	assert.Len(t, providers, 3)

	active, err := cfg.ActiveProviders()
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "Google", active[0].Name)
}

func TestActiveProviders(t *testing.T) {
	t.Run("verification without any client id", func(t *testing.T) {
		_, err := Load()
		assert.ErrorContains(t, err, "no provider has a client id")
	})

	t.Run("verification off keeps every provider", func(t *testing.T) {
		t.Setenv("ZKLOGIN_VERIFY_TOKENS", "false")
		cfg, err := Load()
		require.NoError(t, err)
		active, err := cfg.ActiveProviders()
		require.NoError(t, err)
		assert.Len(t, active, 3)
	})

	t.Run("client id without key set", func(t *testing.T) {
		t.Setenv("ZKLOGIN_PROVIDERS", `[{"name":"Custom","issuer":"https://id.example","auth_url":"https://id.example/authorize","client_id":"c"}]`)
		_, err := Load()
		assert.ErrorContains(t, err, "jwks url")
	})
}

func TestLoadOverrides(t *testing.T) {
	key := base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32)))
	t.Setenv("ZKLOGIN_STORE", "sqlite")
	t.Setenv("ZKLOGIN_EVENTS", "false")
	t.Setenv("ZKLOGIN_SQLITE_PATH", "/var/lib/zklogin.db")
	t.Setenv("ZKLOGIN_SEALING_KEY", key)
	t.Setenv("ZKLOGIN_SESSION_TTL", "2m")
	t.Setenv("ZKLOGIN_LOG_LEVEL", "debug")
	t.Setenv("ZKLOGIN_PROVIDERS", `[
		{"name":"google","client_id":"abc.apps.googleusercontent.com","redirect_url":"https://wallet.example/cb"},
		{"name":"Custom","issuer":"https://id.example","auth_url":"https://id.example/authorize"}
	]`)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, StoreSQLite, cfg.Store)
	assert.Equal(t, "/var/lib/zklogin.db", cfg.SQLitePath)
	assert.Equal(t, 2*time.Minute, cfg.SessionTTL)
	assert.Equal(t, zerolog.DebugLevel, cfg.Level())

	sealing, err := cfg.SealingKeyBytes()
	require.NoError(t, err)
	assert.Len(t, sealing, 32)

	providers, err := cfg.ProviderList()
	require.NoError(t, err)
	require.Len(t, providers, 4)
	assert.Equal(t, "Google", providers[0].Name)
	assert.Equal(t, "abc.apps.googleusercontent.com", providers[0].ClientID)
	assert.Equal(t, "https://accounts.google.com", providers[0].Issuer)
	assert.Equal(t, "Custom", providers[3].Name)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]map[string]string{
		"unknown store":        {"ZKLOGIN_STORE": "mongo"},
		"events without redis": {"ZKLOGIN_STORE": "memory"},
		"short sealing key":    {"ZKLOGIN_SEALING_KEY": base64.StdEncoding.EncodeToString([]byte("short"))},
		"bad providers":        {"ZKLOGIN_PROVIDERS": "{"},
		"bad log level":        {"ZKLOGIN_LOG_LEVEL": "loud"},
		"bad duration":         {"ZKLOGIN_SESSION_TTL": "soon"},
		"zero janitor":         {"ZKLOGIN_JANITOR_INTERVAL": "0s"},
		"negative janitor":     {"ZKLOGIN_JANITOR_INTERVAL": "-1s"},
	}
	for name, vars := range cases {
		t.Run(name, func(t *testing.T) {
			t.Setenv("ZKLOGIN_PROVIDERS", googleClient)
			for k, v := range vars {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
