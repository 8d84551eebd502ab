// Package config loads the daemon configuration from the environment.
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/layer-3/zklogin/adapters/store"
	"github.com/layer-3/zklogin/service"
	"github.com/rs/zerolog"
)

// Store backends.
const (
	StoreRedis  = "redis"
	StoreSQLite = "sqlite"
	StoreMemory = "memory"
)

type Config struct {
	Addr     string `env:"ZKLOGIN_ADDR" envDefault:":9000"`
	LogLevel string `env:"ZKLOGIN_LOG_LEVEL" envDefault:"info"`

	RedisURL   string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	Store      string `env:"ZKLOGIN_STORE" envDefault:"redis"`
	SQLitePath string `env:"ZKLOGIN_SQLITE_PATH" envDefault:"zklogin.db"`
	// SealingKey is the base64 key sealing ephemeral keys at rest. When empty
	// a random key is used and pending sessions do not survive a restart.
	SealingKey string `env:"ZKLOGIN_SEALING_KEY"`
	// Events publishes lifecycle events and consumes token deliveries over
	// redis streams.
	Events bool `env:"ZKLOGIN_EVENTS" envDefault:"true"`

	ProverURL             string        `env:"ZKLOGIN_PROVER_URL" envDefault:"https://prover-dev.mystenlabs.com/v1"`
	ProverTimeout         time.Duration `env:"ZKLOGIN_PROVER_TIMEOUT" envDefault:"30s"`
	ProverMaxAttempts     uint          `env:"ZKLOGIN_PROVER_MAX_ATTEMPTS" envDefault:"4"`
	ProverInitialInterval time.Duration `env:"ZKLOGIN_PROVER_INITIAL_INTERVAL" envDefault:"500ms"`
	ProverMaxInterval     time.Duration `env:"ZKLOGIN_PROVER_MAX_INTERVAL" envDefault:"5s"`

	// EpochRPCURL is a Sui full node; when empty StaticEpoch is used.
	EpochRPCURL   string        `env:"ZKLOGIN_EPOCH_RPC_URL" envDefault:"https://fullnode.devnet.sui.io:443"`
	EpochCacheTTL time.Duration `env:"ZKLOGIN_EPOCH_CACHE_TTL" envDefault:"30s"`
	StaticEpoch   uint64        `env:"ZKLOGIN_STATIC_EPOCH"`
	EpochOffset   uint64        `env:"ZKLOGIN_EPOCH_OFFSET" envDefault:"2"`
	EpochDuration time.Duration `env:"ZKLOGIN_EPOCH_DURATION" envDefault:"24h"`

	SessionTTL      time.Duration `env:"ZKLOGIN_SESSION_TTL" envDefault:"10m"`
	TombstoneTTL    time.Duration `env:"ZKLOGIN_TOMBSTONE_TTL" envDefault:"1h"`
	JanitorInterval time.Duration `env:"ZKLOGIN_JANITOR_INTERVAL" envDefault:"30s"`
	AwaitTimeout    time.Duration `env:"ZKLOGIN_AWAIT_TIMEOUT" envDefault:"5m"`

	// VerifyTokens checks token signatures against the provider key sets.
	VerifyTokens bool `env:"ZKLOGIN_VERIFY_TOKENS" envDefault:"true"`
	// Providers is a JSON array of providers merged by name over the defaults.
	Providers string `env:"ZKLOGIN_PROVIDERS"`

	BeginRate  float64 `env:"ZKLOGIN_BEGIN_RATE" envDefault:"1"`
	BeginBurst int     `env:"ZKLOGIN_BEGIN_BURST" envDefault:"5"`
}

// Load loads configuration from environment variables.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	switch c.Store {
	case StoreRedis, StoreSQLite, StoreMemory:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store)
	}
	if c.Events && c.Store != StoreRedis {
		return errors.New("events require the redis store backend")
	}
	if c.SessionTTL <= 0 {
		return errors.New("session ttl must be positive")
	}
	if c.JanitorInterval <= 0 {
		return errors.New("janitor interval must be positive")
	}
	if c.EpochOffset == 0 {
		return errors.New("epoch offset must be positive")
	}
	if c.EpochRPCURL == "" && c.StaticEpoch == 0 {
		return errors.New("either an epoch rpc url or a static epoch is required")
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	if _, err := c.SealingKeyBytes(); err != nil {
		return err
	}
	if _, err := c.ActiveProviders(); err != nil {
		return err
	}
	return nil
}

// Level returns the configured log level.
func (c Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// SealingKeyBytes decodes the sealing key; nil means none was configured.
func (c Config) SealingKeyBytes() ([]byte, error) {
	if c.SealingKey == "" {
		return nil, nil
	}
	key, err := base64.StdEncoding.DecodeString(c.SealingKey)
	if err != nil {
		return nil, fmt.Errorf("sealing key: %w", err)
	}
	if len(key) != store.KeySize {
		return nil, fmt.Errorf("sealing key must be %d bytes, got %d", store.KeySize, len(key))
	}
	return key, nil
}

// ProviderList returns the default providers with the configured overrides
// applied. Overrides match defaults by name; unknown names are added.
func (c Config) ProviderList() ([]service.Provider, error) {
	list := service.DefaultProviders()
	if c.Providers == "" {
		return list, nil
	}

	var overrides []service.Provider
	if err := json.Unmarshal([]byte(c.Providers), &overrides); err != nil {
		return nil, fmt.Errorf("providers: %w", err)
	}

	for _, o := range overrides {
		merged := false
		for i := range list {
			if strings.EqualFold(list[i].Name, o.Name) {
				list[i] = mergeProvider(list[i], o)
				merged = true
				break
			}
		}
		if !merged {
			list = append(list, o)
		}
	}
	return list, nil
}

// ActiveProviders returns the providers sessions can be started with. With
// token verification on, providers without a client id are left out since
// their audience cannot be checked, and at least one must remain.
func (c Config) ActiveProviders() ([]service.Provider, error) {
	list, err := c.ProviderList()
	if err != nil || !c.VerifyTokens {
		return list, err
	}

	active := list[:0]
	for _, p := range list {
		if p.ClientID == "" {
			continue
		}
		if p.JWKSURL == "" {
			return nil, fmt.Errorf("provider %s: token verification needs a jwks url", p.Name)
		}
		active = append(active, p)
	}
	if len(active) == 0 {
		return nil, errors.New("token verification is on but no provider has a client id")
	}
	return active, nil
}

func mergeProvider(base, o service.Provider) service.Provider {
	if o.Issuer != "" {
		base.Issuer = o.Issuer
	}
	if o.AuthURL != "" {
		base.AuthURL = o.AuthURL
	}
	if o.JWKSURL != "" {
		base.JWKSURL = o.JWKSURL
	}
	if o.ClientID != "" {
		base.ClientID = o.ClientID
	}
	if o.RedirectURL != "" {
		base.RedirectURL = o.RedirectURL
	}
	if len(o.Scopes) > 0 {
		base.Scopes = o.Scopes
	}
	return base
}
