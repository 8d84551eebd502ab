package service_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/layer-3/zklogin/adapters/epoch"
	"github.com/layer-3/zklogin/adapters/idtoken"
	"github.com/layer-3/zklogin/adapters/store"
	"github.com/layer-3/zklogin/adapters/store/storetest"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/layer-3/zklogin/service"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

const (
	googleIssuer = "https://accounts.google.com"
	clientID     = "client-123.apps.googleusercontent.com"
	subject      = "110169484474386276334"
)

var signingKey = []byte("test-signing-key")

var validProof = core.ProofArtifact{
	ProofPoints: core.ProofPoints{
		A: []string{"1", "2", "1"},
		B: [][]string{{"3", "4"}, {"5", "6"}, {"1", "0"}},
		C: []string{"7", "8", "1"},
	},
	IssBase64Details: core.ClaimDetails{Value: "yJpc3MiOiJodHRwczovL2FjY291bnRzLmdvb2dsZS5jb20iLC", IndexMod4: 1},
	HeaderBase64:     "eyJhbGciOiJSUzI1NiJ9",
}

// stubProver returns a scripted sequence of results, repeating the last.
type stubProver struct {
	mu       sync.Mutex
	results  []proverResult
	requests []core.ProofRequest
	calls    atomic.Int32
	block    chan struct{}
}

type proverResult struct {
	proof core.ProofArtifact
	err   error
}

func (p *stubProver) AcquireProof(ctx context.Context, req core.ProofRequest) (core.ProofArtifact, error) {
	n := int(p.calls.Add(1))
	p.mu.Lock()
	p.requests = append(p.requests, req)
	var res proverResult
	if len(p.results) == 0 {
		res = proverResult{proof: validProof}
	} else {
		res = p.results[min(n, len(p.results))-1]
	}
	p.mu.Unlock()

	if p.block != nil {
		select {
		case <-p.block:
		case <-ctx.Done():
			return core.ProofArtifact{}, core.ErrProofServiceUnavailable
		}
	}
	return res.proof, res.err
}

type recordingEvents struct {
	mu        sync.Mutex
	sessions  []ports.SessionEvent
	integrity []ports.IntegrityEvent
}

func (e *recordingEvents) PublishSession(_ context.Context, ev ports.SessionEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sessions = append(e.sessions, ev)
	return nil
}

func (e *recordingEvents) PublishIntegrity(_ context.Context, ev ports.IntegrityEvent) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.integrity = append(e.integrity, ev)
	return nil
}

func (e *recordingEvents) statuses() []core.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]core.Status, 0, len(e.sessions))
	for _, ev := range e.sessions {
		out = append(out, ev.Status)
	}
	return out
}

type harness struct {
	svc    *service.AuthService
	store  *store.MemoryStore
	clock  *storetest.Clock
	epochs *epoch.Fixed
	prover ports.Prover
	events *recordingEvents
}

type harnessOption func(*service.Config, *service.Deps)

func withProver(p ports.Prover) harnessOption {
	return func(_ *service.Config, d *service.Deps) { d.Prover = p }
}

func withConfig(mutate func(*service.Config)) harnessOption {
	return func(c *service.Config, _ *service.Deps) { mutate(c) }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	clock := storetest.NewClock()
	h := &harness{
		store:  store.NewMemoryStore(store.WithClock(clock.Now)),
		clock:  clock,
		epochs: epoch.NewFixed(10),
		events: &recordingEvents{},
	}

	providers, err := service.NewProviders(service.Provider{
		Name:        "Google",
		Issuer:      googleIssuer,
		AuthURL:     "https://accounts.google.com/o/oauth2/v2/auth",
		ClientID:    clientID,
		RedirectURL: "https://wallet.example/callback",
	})
	require.NoError(t, err)

	cfg := service.Config{
		SessionTTL:    10 * time.Minute,
		EpochOffset:   2,
		EpochDuration: 24 * time.Hour,
	}
	deps := service.Deps{
		Store:     h.store,
		Salts:     store.NewMemorySaltStore(),
		Prover:    &stubProver{},
		Epochs:    h.epochs,
		Verifier:  idtoken.NewParser(),
		Providers: providers,
		Events:    h.events,
		Logger:    zerolog.Nop(),
		Now:       clock.Now,
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}
	h.prover = deps.Prover

	h.svc, err = service.NewAuthService(cfg, deps)
	require.NoError(t, err)
	return h
}

// token issues an identity token with the given nonce, valid for an hour of
// harness time.
func (h *harness) token(t *testing.T, nonce core.Nonce, mutate ...func(*idtoken.Claims)) string {
	t.Helper()
	return signToken(t, h.clock.Now(), nonce, mutate...)
}

func signToken(t *testing.T, now time.Time, nonce core.Nonce, mutate ...func(*idtoken.Claims)) string {
	t.Helper()
	claims := &idtoken.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    googleIssuer,
			Subject:   subject,
			Audience:  jwt.ClaimStrings{clientID},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
		Nonce: string(nonce),
	}
	for _, m := range mutate {
		m(claims)
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey)
	require.NoError(t, err)
	return raw
}

func (h *harness) begin(t *testing.T) service.BeginResult {
	t.Helper()
	res, err := h.svc.Begin(context.Background(), "Google")
	require.NoError(t, err)
	return res
}

func (h *harness) status(t *testing.T, sessionID string) core.Status {
	t.Helper()
	s, err := h.store.Get(context.Background(), sessionID)
	require.NoError(t, err)
	defer s.Dispose()
	return s.Status
}
