package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/zklogin/adapters/epoch"
	"github.com/layer-3/zklogin/adapters/events"
	"github.com/layer-3/zklogin/adapters/idtoken"
	"github.com/layer-3/zklogin/adapters/prover"
	"github.com/layer-3/zklogin/adapters/store"
	"github.com/layer-3/zklogin/internal/config"
	"github.com/layer-3/zklogin/ports"
	"github.com/layer-3/zklogin/service"
	httptransport "github.com/layer-3/zklogin/transport/http"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger = logger.Level(cfg.Level())

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("zklogind stopped")
	}
	logger.Info().Msg("zklogind stopped")
}

func run(cfg config.Config, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var redisClient *redis.Client
	if cfg.Store == config.StoreRedis {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		redisClient = redis.NewClient(opts)
		defer redisClient.Close()
	}

	sessions, salts, closeStore, err := openStores(cfg, redisClient, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	epochs, err := openEpochSource(ctx, cfg)
	if err != nil {
		return err
	}
	if rpc, ok := epochs.(*epoch.SuiRPC); ok {
		defer rpc.Close()
	}

	providers, err := loadProviders(cfg)
	if err != nil {
		return err
	}

	verifier, err := tokenVerifier(cfg, providers)
	if err != nil {
		return err
	}

	deps := service.Deps{
		Store:     sessions,
		Salts:     salts,
		Epochs:    epochs,
		Verifier:  verifier,
		Providers: providers,
		Logger:    logger,
		Prover: prover.NewHTTPProver(prover.Config{
			URL:             cfg.ProverURL,
			Timeout:         cfg.ProverTimeout,
			MaxAttempts:     cfg.ProverMaxAttempts,
			InitialInterval: cfg.ProverInitialInterval,
			MaxInterval:     cfg.ProverMaxInterval,
		}, nil, logger),
	}

	deps.Events = events.Noop{}
	var subscriber message.Subscriber
	if cfg.Events {
		wmLogger := watermill.NewStdLogger(false, false)
		publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{Client: redisClient}, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create Redis publisher: %w", err)
		}
		defer publisher.Close()
		deps.Events = events.NewWatermillPublisher(publisher)
		deps.Relay = events.NewTokenRelay(publisher)

		// no consumer group: every instance reads every token so the one
		// holding the waiter sees it
		sub, err := redisstream.NewSubscriber(redisstream.SubscriberConfig{
			Client: redisClient,
		}, wmLogger)
		if err != nil {
			return fmt.Errorf("failed to create Redis subscriber: %w", err)
		}
		defer sub.Close()
		subscriber = sub
	}

	authService, err := service.NewAuthService(service.Config{
		SessionTTL:    cfg.SessionTTL,
		EpochOffset:   cfg.EpochOffset,
		EpochDuration: cfg.EpochDuration,
	}, deps)
	if err != nil {
		return err
	}

	if subscriber != nil {
		tokens := events.NewTokenSubscriber(subscriber, authService.Bridge(), logger)
		go func() {
			if err := tokens.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("token subscriber stopped")
			}
		}()
	}
	go authService.RunJanitor(ctx, cfg.JanitorInterval)

	router := httptransport.SetupRouter(authService, logger, httptransport.Options{
		BeginRate:    rate.Limit(cfg.BeginRate),
		BeginBurst:   cfg.BeginBurst,
		AwaitTimeout: cfg.AwaitTimeout,
	})
	server := &http.Server{Addr: cfg.Addr, Handler: router}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Addr).Str("store", cfg.Store).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server.ListenAndServe: %w", err)
		}
	case <-ctx.Done():
	}

	return shutdown(server)
}

func openStores(cfg config.Config, client *redis.Client, logger zerolog.Logger) (ports.SessionStore, ports.SaltStore, func(), error) {
	opts := []store.Option{store.WithTombstoneTTL(cfg.TombstoneTTL)}
	if cfg.Store == config.StoreMemory {
		return store.NewMemoryStore(opts...), store.NewMemorySaltStore(), func() {}, nil
	}

	sealer, err := newSealer(cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}

	switch cfg.Store {
	case config.StoreSQLite:
		db, err := store.OpenSQLite(cfg.SQLitePath, sealer, opts...)
		if err != nil {
			return nil, nil, nil, err
		}
		closeDB := func() {
			if err := db.Close(); err != nil {
				logger.Warn().Err(err).Msg("failed to close sqlite store")
			}
		}
		return db, db.Salts(), closeDB, nil
	default:
		return store.NewRedisStore(client, sealer, opts...), store.NewRedisSaltStore(client), func() {}, nil
	}
}

func newSealer(cfg config.Config, logger zerolog.Logger) (*store.Sealer, error) {
	key, err := cfg.SealingKeyBytes()
	if err != nil {
		return nil, err
	}
	if key == nil {
		logger.Warn().Msg("no sealing key configured, pending sessions will not survive a restart")
		return store.NewEphemeralSealer()
	}
	return store.NewSealer(key)
}

func openEpochSource(ctx context.Context, cfg config.Config) (ports.EpochSource, error) {
	if cfg.StaticEpoch > 0 {
		return epoch.NewFixed(cfg.StaticEpoch), nil
	}
	return epoch.DialSuiRPC(ctx, cfg.EpochRPCURL, cfg.EpochCacheTTL)
}

func loadProviders(cfg config.Config) (*service.Providers, error) {
	list, err := cfg.ActiveProviders()
	if err != nil {
		return nil, err
	}
	return service.NewProviders(list...)
}

func tokenVerifier(cfg config.Config, providers *service.Providers) (ports.TokenVerifier, error) {
	if !cfg.VerifyTokens {
		return idtoken.NewParser(), nil
	}
	var issuers []idtoken.TrustedIssuer
	for _, p := range providers.All() {
		if p.JWKSURL == "" || p.ClientID == "" {
			return nil, fmt.Errorf("provider %s cannot be verified without a client id and jwks url", p.Name)
		}
		issuers = append(issuers, idtoken.TrustedIssuer{
			Issuer:   p.Issuer,
			ClientID: p.ClientID,
			KeySet:   idtoken.RemoteKeySet(context.Background(), p.JWKSURL),
		})
	}
	return idtoken.NewOIDCVerifier(issuers...), nil
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}
