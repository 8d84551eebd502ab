package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/rs/zerolog"
)

// Config holds the session timing policy.
type Config struct {
	// SessionTTL caps the lifetime of a pending session.
	SessionTTL time.Duration
	// EpochOffset is added to the current epoch to form the default horizon.
	EpochOffset uint64
	// EpochDuration is the expected wall-clock length of one epoch. When set,
	// sessions never outlive their epoch horizon.
	EpochDuration time.Duration
}

// DefaultConfig matches a network with day-long epochs.
func DefaultConfig() Config {
	return Config{
		SessionTTL:    10 * time.Minute,
		EpochOffset:   2,
		EpochDuration: 24 * time.Hour,
	}
}

// Deps are the collaborators of AuthService. Events, Bridge, Logger, Rand
// and Now have defaults. Relay is only used when Bridge is built here.
type Deps struct {
	Store     ports.SessionStore
	Salts     ports.SaltStore
	Prover    ports.Prover
	Epochs    ports.EpochSource
	Verifier  ports.TokenVerifier
	Providers *Providers
	Events    ports.EventPublisher
	Bridge    *Bridge
	Relay     ports.TokenRelay
	Logger    zerolog.Logger
	Rand      io.Reader
	Now       func() time.Time
}

// BeginResult is returned to the caller of Begin. It holds what the caller
// needs to redirect the user and to sign with the ephemeral key later, never
// the private key itself.
type BeginResult struct {
	SessionID          string               `json:"session_id"`
	Provider           string               `json:"provider"`
	Nonce              core.Nonce           `json:"nonce"`
	EpochHorizon       uint64               `json:"epoch_horizon"`
	EphemeralPublicKey string               `json:"ephemeral_public_key"`
	ExpiresAt          time.Time            `json:"expires_at"`
	Authorization      AuthorizationRequest `json:"authorization"`
}

type beginOptions struct {
	horizon *uint64
}

// BeginOption customizes a single Begin call.
type BeginOption func(*beginOptions)

// WithEpochHorizon pins the epoch horizon instead of deriving it from the
// current epoch.
func WithEpochHorizon(horizon uint64) BeginOption {
	return func(o *beginOptions) { o.horizon = &horizon }
}

// AuthService runs the begin/complete login flow.
type AuthService struct {
	cfg       Config
	store     ports.SessionStore
	salts     ports.SaltStore
	prover    ports.Prover
	epochs    ports.EpochSource
	verifier  ports.TokenVerifier
	providers *Providers
	events    ports.EventPublisher
	bridge    *Bridge
	logger    zerolog.Logger
	rand      io.Reader
	now       func() time.Time

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// NewAuthService creates a new login service
func NewAuthService(cfg Config, deps Deps) (*AuthService, error) {
	switch {
	case deps.Store == nil:
		return nil, errors.New("session store is required")
	case deps.Salts == nil:
		return nil, errors.New("salt store is required")
	case deps.Prover == nil:
		return nil, errors.New("prover is required")
	case deps.Epochs == nil:
		return nil, errors.New("epoch source is required")
	case deps.Verifier == nil:
		return nil, errors.New("token verifier is required")
	case deps.Providers == nil:
		return nil, errors.New("provider registry is required")
	case cfg.SessionTTL <= 0:
		return nil, errors.New("session ttl must be positive")
	case cfg.EpochOffset == 0:
		return nil, errors.New("epoch offset must be positive")
	}

	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Rand == nil {
		deps.Rand = rand.Reader
	}
	if deps.Events == nil {
		deps.Events = noopEvents{}
	}
	if deps.Bridge == nil {
		var opts []BridgeOption
		if deps.Relay != nil {
			opts = append(opts, WithRelay(deps.Relay))
		}
		deps.Bridge = NewBridge(deps.Store, deps.Verifier, deps.Now, opts...)
	}

	return &AuthService{
		cfg:       cfg,
		store:     deps.Store,
		salts:     deps.Salts,
		prover:    deps.Prover,
		epochs:    deps.Epochs,
		verifier:  deps.Verifier,
		providers: deps.Providers,
		events:    deps.Events,
		bridge:    deps.Bridge,
		logger:    deps.Logger.With().Str("component", "auth_service").Logger(),
		rand:      deps.Rand,
		now:       deps.Now,
		inflight:  make(map[string]context.CancelFunc),
	}, nil
}

// Bridge returns the token intake bridge used by the service.
func (s *AuthService) Bridge() *Bridge {
	return s.bridge
}

// Begin starts a login attempt with the named provider. The session is
// persisted before the nonce is returned.
func (s *AuthService) Begin(ctx context.Context, provider string, opts ...BeginOption) (BeginResult, error) {
	var o beginOptions
	for _, opt := range opts {
		opt(&o)
	}

	p, err := s.providers.Lookup(provider)
	if err != nil {
		return BeginResult{}, err
	}

	current, err := s.epochs.CurrentEpoch(ctx)
	if err != nil {
		return BeginResult{}, fmt.Errorf("%w: %v", core.ErrEpochUnavailable, err)
	}
	horizon := current + s.cfg.EpochOffset
	if o.horizon != nil {
		horizon = *o.horizon
	}
	if err := core.ValidateEpochHorizon(current, horizon); err != nil {
		return BeginResult{}, err
	}

	key, err := core.GenerateEphemeralKey(s.rand)
	if err != nil {
		return BeginResult{}, err
	}
	rnd, err := core.GenerateRandomness(s.rand)
	if err != nil {
		key.Dispose()
		return BeginResult{}, err
	}

	session := &core.LoginSession{
		ID:           uuid.NewString(),
		Provider:     p.Name,
		Key:          key,
		Randomness:   rnd,
		EpochHorizon: horizon,
		Status:       core.StatusPending,
	}
	defer session.Dispose()

	session.Nonce, err = core.DeriveNonce(key.ExtendedPublicKey(), horizon, rnd)
	if err != nil {
		return BeginResult{}, err
	}

	now := s.now()
	session.CreatedAt = now
	session.ExpiresAt = now.Add(s.lifetime(current, horizon))

	auth, err := p.AuthorizationRequest(session.ID, session.Nonce)
	if err != nil {
		return BeginResult{}, err
	}

	if err := s.store.Put(ctx, session); err != nil {
		return BeginResult{}, fmt.Errorf("failed to persist session: %w", err)
	}

	s.logger.Info().
		Str("session_id", session.ID).
		Str("provider", p.Name).
		Uint64("epoch_horizon", horizon).
		Time("expires_at", session.ExpiresAt).
		Msg("login session started")

	return BeginResult{
		SessionID:          session.ID,
		Provider:           p.Name,
		Nonce:              session.Nonce,
		EpochHorizon:       horizon,
		EphemeralPublicKey: key.ExtendedPublicKeyBase64(),
		ExpiresAt:          session.ExpiresAt,
		Authorization:      auth,
	}, nil
}

// lifetime is the configured TTL, shortened so the session ends no later
// than the epoch horizon.
func (s *AuthService) lifetime(current, horizon uint64) time.Duration {
	ttl := s.cfg.SessionTTL
	if s.cfg.EpochDuration <= 0 {
		return ttl
	}
	// compare in epochs so far horizons cannot overflow the duration
	if horizon-current > uint64(ttl/s.cfg.EpochDuration) {
		return ttl
	}
	return min(ttl, time.Duration(horizon-current)*s.cfg.EpochDuration)
}

// Complete binds the identity token to the session, obtains a proof and
// returns the account. Stale sessions are expired first.
func (s *AuthService) Complete(ctx context.Context, sessionID, rawToken string) (core.AccountDescriptor, error) {
	if _, err := s.ExpireStale(ctx); err != nil {
		return core.AccountDescriptor{}, err
	}

	token, err := s.verifier.Verify(ctx, rawToken)
	if err != nil {
		return core.AccountDescriptor{}, err
	}

	log := s.logger.With().Str("session_id", sessionID).Logger()

	session, err := s.bridge.Correlate(ctx, token, sessionID)
	if err != nil {
		switch {
		case errors.Is(err, core.ErrNonceMismatch):
			log.Warn().Bool("integrity", true).Str("issuer", token.Issuer).Msg("identity token nonce does not match session")
			s.publishIntegrity(ctx, ports.IntegrityEvent{
				SessionID:  sessionID,
				Issuer:     token.Issuer,
				OccurredAt: s.now(),
			})
		case errors.Is(err, core.ErrTokenExpired):
			log.Info().Msg("identity token expired before completion")
		default:
			log.Debug().Err(err).Msg("session not correlated")
		}
		return core.AccountDescriptor{}, err
	}
	defer session.Dispose()
	log = log.With().Str("provider", session.Provider).Logger()

	p, err := s.providers.Lookup(session.Provider)
	if err != nil {
		return core.AccountDescriptor{}, err
	}
	if token.Issuer != p.Issuer {
		return core.AccountDescriptor{}, fmt.Errorf("%w: issuer %q is not %s", core.ErrTokenIntake, token.Issuer, p.Name)
	}

	current, err := s.epochs.CurrentEpoch(ctx)
	if err != nil {
		return core.AccountDescriptor{}, fmt.Errorf("%w: %v", core.ErrEpochUnavailable, err)
	}
	if current > session.EpochHorizon {
		s.finish(ctx, session, core.StatusExpired, "epoch horizon passed", "")
		return core.AccountDescriptor{}, fmt.Errorf("%w: %w", core.ErrSessionNotPending, core.ErrSessionExpired)
	}

	salt, err := s.salts.GetOrCreate(ctx, token.Issuer, token.Subject)
	if err != nil {
		return core.AccountDescriptor{}, fmt.Errorf("failed to load salt: %w", err)
	}
	defer core.Zero(salt)

	proof, err := s.acquireProof(ctx, session, token, salt)
	if err != nil {
		if errors.Is(err, core.ErrProofRejected) {
			log.Warn().Err(err).Msg("proof rejected")
			s.finish(ctx, session, core.StatusFailed, err.Error(), "")
		} else {
			log.Warn().Err(err).Msg("proof not acquired")
		}
		return core.AccountDescriptor{}, err
	}

	account, err := core.Materialize(session, token, salt, proof)
	if err != nil {
		if !errors.Is(err, core.ErrProofRejected) {
			err = fmt.Errorf("%w: %v", core.ErrTokenIntake, err)
		}
		s.finish(ctx, session, core.StatusFailed, err.Error(), "")
		return core.AccountDescriptor{}, err
	}

	// A proof that arrives after the session was removed or expired is
	// discarded here.
	if err := s.store.Finish(ctx, session.ID, core.StatusCompleted, ""); err != nil {
		log.Info().Err(err).Msg("discarding account for session no longer pending")
		return core.AccountDescriptor{}, err
	}
	s.publishSession(ctx, session, core.StatusCompleted, "", account.Address)

	log.Info().Str("address", account.Address).Msg("login completed")
	return account, nil
}

func (s *AuthService) acquireProof(ctx context.Context, session *core.LoginSession, token core.IdentityToken, salt []byte) (core.ProofArtifact, error) {
	proofCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.mu.Lock()
	if _, busy := s.inflight[session.ID]; busy {
		s.mu.Unlock()
		return core.ProofArtifact{}, fmt.Errorf("%w: completion already in progress", core.ErrSessionNotPending)
	}
	s.inflight[session.ID] = cancel
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.inflight, session.ID)
		s.mu.Unlock()
	}()

	proof, err := s.prover.AcquireProof(proofCtx, core.ProofRequest{
		JWT:                        token.Raw,
		ExtendedEphemeralPublicKey: session.Key.ExtendedPublicKeyBase64(),
		MaxEpoch:                   strconv.FormatUint(session.EpochHorizon, 10),
		JWTRandomness:              session.Randomness.String(),
		Salt:                       saltDecimal(salt),
		KeyClaimName:               core.KeyClaimName,
	})
	if err != nil && proofCtx.Err() != nil && ctx.Err() == nil {
		return core.ProofArtifact{}, fmt.Errorf("%w: session removed", core.ErrSessionNotPending)
	}
	return proof, err
}

func saltDecimal(salt []byte) string {
	return new(big.Int).SetBytes(salt).String()
}

// Remove abandons a session and cancels its in-flight proof request.
func (s *AuthService) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	if cancel, ok := s.inflight[sessionID]; ok {
		cancel()
	}
	s.mu.Unlock()

	s.bridge.Forget(sessionID)
	if err := s.store.Remove(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info().Str("session_id", sessionID).Msg("login session removed")
	return nil
}

// AwaitAndComplete waits for the host channel to deliver the identity token
// for sessionID, then completes the session with it.
func (s *AuthService) AwaitAndComplete(ctx context.Context, sessionID string) (core.AccountDescriptor, error) {
	session, err := s.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrSessionExpired):
		return core.AccountDescriptor{}, fmt.Errorf("%w: %w", core.ErrSessionNotPending, err)
	case err != nil:
		return core.AccountDescriptor{}, err
	}
	pending := session.Pending()
	session.Dispose()
	if !pending {
		return core.AccountDescriptor{}, fmt.Errorf("%w: status is %s", core.ErrSessionNotPending, session.Status)
	}

	raw, err := s.bridge.Await(ctx, sessionID)
	if err != nil {
		return core.AccountDescriptor{}, err
	}
	account, err := s.Complete(ctx, sessionID, raw)
	switch {
	case errors.Is(err, core.ErrTokenIntake), errors.Is(err, core.ErrNonceMismatch), errors.Is(err, core.ErrTokenExpired):
		// the session is still pending, so let the host deliver again
		s.bridge.Forget(sessionID)
	}
	return account, err
}

// ExpireStale expires sessions older than the session TTL and returns their
// ids.
func (s *AuthService) ExpireStale(ctx context.Context) ([]string, error) {
	ids, err := s.store.ExpireOlderThan(ctx, s.cfg.SessionTTL)
	if err != nil {
		return nil, fmt.Errorf("failed to expire sessions: %w", err)
	}
	now := s.now()
	for _, id := range ids {
		s.logger.Info().Str("session_id", id).Msg("login session expired")
		s.publish(ctx, ports.SessionEvent{SessionID: id, Status: core.StatusExpired, Reason: "session timed out", OccurredAt: now})
	}
	return ids, nil
}

// RunJanitor expires stale sessions every interval until ctx is done.
func (s *AuthService) RunJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		s.logger.Warn().Dur("interval", interval).Msg("janitor disabled, interval must be positive")
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.ExpireStale(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error().Err(err).Msg("janitor run failed")
			}
			if n := s.bridge.Prune(2 * s.cfg.SessionTTL); n > 0 {
				s.logger.Debug().Int("waiters", n).Msg("pruned token waiters")
			}
		}
	}
}

// finish records a terminal status; failures are logged since the caller
// already has an error to return.
func (s *AuthService) finish(ctx context.Context, session *core.LoginSession, status core.Status, reason, address string) {
	if err := s.store.Finish(ctx, session.ID, status, reason); err != nil {
		s.logger.Warn().Err(err).Str("session_id", session.ID).Str("status", string(status)).Msg("failed to finish session")
		return
	}
	s.publishSession(ctx, session, status, reason, address)
}

func (s *AuthService) publishSession(ctx context.Context, session *core.LoginSession, status core.Status, reason, address string) {
	s.publish(ctx, ports.SessionEvent{
		SessionID:  session.ID,
		Provider:   session.Provider,
		Status:     status,
		Reason:     reason,
		Address:    address,
		OccurredAt: s.now(),
	})
}

func (s *AuthService) publish(ctx context.Context, event ports.SessionEvent) {
	if err := s.events.PublishSession(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("session_id", event.SessionID).Msg("failed to publish session event")
	}
}

func (s *AuthService) publishIntegrity(ctx context.Context, event ports.IntegrityEvent) {
	if err := s.events.PublishIntegrity(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("session_id", event.SessionID).Msg("failed to publish integrity event")
	}
}

type noopEvents struct{}

func (noopEvents) PublishSession(context.Context, ports.SessionEvent) error     { return nil }
func (noopEvents) PublishIntegrity(context.Context, ports.IntegrityEvent) error { return nil }
