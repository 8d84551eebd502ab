package service

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
)

// hostPayload is what the host channel delivers once the provider redirect
// returns.
type hostPayload struct {
	JWT string `json:"jwt"`
}

type waiter struct {
	created time.Time
	done    chan struct{}
	token   string
}

// Bridge receives identity tokens from the host channel and correlates them
// with pending sessions. Each session id has a one-shot waiter: the first
// accepted delivery resolves it, later ones fail with
// core.ErrTokenAlreadyDelivered. A delivery is only accepted once its token
// parses and carries the nonce of a pending session.
type Bridge struct {
	store    ports.SessionStore
	verifier ports.TokenVerifier
	relay    ports.TokenRelay
	now      func() time.Time

	mu      sync.Mutex
	waiters map[string]*waiter
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithRelay sends checked deliveries through relay instead of resolving the
// local waiter directly. Relayed payloads come back through Accept.
func WithRelay(relay ports.TokenRelay) BridgeOption {
	return func(b *Bridge) { b.relay = relay }
}

func NewBridge(store ports.SessionStore, verifier ports.TokenVerifier, now func() time.Time, opts ...BridgeOption) *Bridge {
	if now == nil {
		now = time.Now
	}
	b := &Bridge{
		store:    store,
		verifier: verifier,
		now:      now,
		waiters:  make(map[string]*waiter),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Bridge) waiterLocked(sessionID string) *waiter {
	w, ok := b.waiters[sessionID]
	if !ok {
		w = &waiter{created: b.now(), done: make(chan struct{})}
		b.waiters[sessionID] = w
	}
	return w
}

// check parses a host payload of the form {"jwt": "..."} and correlates the
// token with the pending session. It returns the raw token.
func (b *Bridge) check(ctx context.Context, sessionID string, payload []byte) (string, error) {
	var p hostPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrTokenIntake, err)
	}
	if p.JWT == "" {
		return "", fmt.Errorf("%w: payload has no jwt", core.ErrTokenIntake)
	}

	token, err := b.verifier.Verify(ctx, p.JWT)
	if err != nil {
		return "", err
	}
	session, err := b.Correlate(ctx, token, sessionID)
	if err != nil {
		return "", err
	}
	session.Dispose()
	return p.JWT, nil
}

// Deliver checks a host payload for sessionID and, when it is bound to the
// session, resolves the waiter or relays it to the instance holding it.
func (b *Bridge) Deliver(ctx context.Context, sessionID string, payload []byte) error {
	raw, err := b.check(ctx, sessionID, payload)
	if err != nil {
		return err
	}
	if b.relay == nil {
		return b.resolve(sessionID, raw)
	}
	if b.resolved(sessionID) {
		return core.ErrTokenAlreadyDelivered
	}
	if err := b.relay.RelayToken(ctx, sessionID, payload); err != nil {
		return fmt.Errorf("failed to relay token: %w", err)
	}
	return nil
}

// Accept checks a relayed payload and resolves the local waiter.
func (b *Bridge) Accept(ctx context.Context, sessionID string, payload []byte) error {
	raw, err := b.check(ctx, sessionID, payload)
	if err != nil {
		return err
	}
	return b.resolve(sessionID, raw)
}

func (b *Bridge) resolve(sessionID, raw string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	w := b.waiterLocked(sessionID)
	select {
	case <-w.done:
		return core.ErrTokenAlreadyDelivered
	default:
	}
	w.token = raw
	close(w.done)
	return nil
}

func (b *Bridge) resolved(sessionID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	w, ok := b.waiters[sessionID]
	if !ok {
		return false
	}
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Await blocks until a token is delivered for sessionID or ctx is done.
func (b *Bridge) Await(ctx context.Context, sessionID string) (string, error) {
	b.mu.Lock()
	w := b.waiterLocked(sessionID)
	b.mu.Unlock()

	select {
	case <-w.done:
		return w.token, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Forget drops the waiter for sessionID.
func (b *Bridge) Forget(sessionID string) {
	b.mu.Lock()
	delete(b.waiters, sessionID)
	b.mu.Unlock()
}

// Prune drops waiters created more than age ago and returns how many.
func (b *Bridge) Prune(age time.Duration) int {
	cutoff := b.now().Add(-age)

	b.mu.Lock()
	defer b.mu.Unlock()

	n := 0
	for id, w := range b.waiters {
		if w.created.Before(cutoff) {
			delete(b.waiters, id)
			n++
		}
	}
	return n
}

// Correlate returns the pending session that token was issued for. The
// session is not modified; the caller owns the returned copy.
func (b *Bridge) Correlate(ctx context.Context, token core.IdentityToken, sessionID string) (*core.LoginSession, error) {
	session, err := b.store.Get(ctx, sessionID)
	switch {
	case errors.Is(err, core.ErrSessionNotFound), errors.Is(err, core.ErrSessionExpired):
		return nil, fmt.Errorf("%w: %w", core.ErrSessionNotPending, err)
	case err != nil:
		return nil, err
	}

	now := b.now()
	switch {
	case !session.Pending():
		session.Dispose()
		return nil, fmt.Errorf("%w: status is %s", core.ErrSessionNotPending, session.Status)
	case session.Lapsed(now):
		session.Dispose()
		return nil, fmt.Errorf("%w: %w", core.ErrSessionNotPending, core.ErrSessionExpired)
	case subtle.ConstantTimeCompare([]byte(token.Nonce), []byte(session.Nonce)) != 1:
		session.Dispose()
		return nil, core.ErrNonceMismatch
	case token.Expired(now):
		session.Dispose()
		return nil, core.ErrTokenExpired
	}
	return session, nil
}
