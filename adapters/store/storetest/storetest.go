// Package storetest holds a conformance suite run against every SessionStore.
package storetest

import (
	"context"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

func NewClock() *Clock {
	return &Clock{now: time.Now().UTC().Truncate(time.Millisecond)}
}

func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Factory builds an empty store reading time from clock.
type Factory func(t *testing.T, clock *Clock) ports.SessionStore

// NewSession builds a pending session created at now.
func NewSession(t *testing.T, now time.Time, lifetime time.Duration) *core.LoginSession {
	t.Helper()
	key, err := core.GenerateEphemeralKey(rand.Reader)
	require.NoError(t, err)
	rnd, err := core.GenerateRandomness(rand.Reader)
	require.NoError(t, err)
	nonce, err := core.DeriveNonce(key.ExtendedPublicKey(), 20, rnd)
	require.NoError(t, err)
	return &core.LoginSession{
		ID:           uuid.NewString(),
		Provider:     "Google",
		Key:          key,
		Randomness:   rnd,
		EpochHorizon: 20,
		Nonce:        nonce,
		CreatedAt:    now,
		ExpiresAt:    now.Add(lifetime),
		Status:       core.StatusPending,
	}
}

// Run exercises the SessionStore contract.
func Run(t *testing.T, factory Factory) {
	ctx := context.Background()

	t.Run("put then get returns an owned copy", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		sess := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, sess))

		got, err := s.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, sess.ID, got.ID)
		assert.Equal(t, sess.Provider, got.Provider)
		assert.Equal(t, sess.Nonce, got.Nonce)
		assert.Equal(t, sess.EpochHorizon, got.EpochHorizon)
		assert.Equal(t, sess.Key.PublicKey, got.Key.PublicKey)
		assert.Equal(t, sess.Key.PrivateKey, got.Key.PrivateKey)
		assert.Equal(t, sess.Randomness, got.Randomness)
		assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))
		assert.Equal(t, core.StatusPending, got.Status)

		got.Dispose()
		again, err := s.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.False(t, again.Key.Disposed())
	})

	t.Run("duplicate put is rejected", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		sess := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, sess))
		assert.ErrorIs(t, s.Put(ctx, sess), core.ErrSessionExists)
	})

	t.Run("unknown session is not found", func(t *testing.T) {
		s := factory(t, NewClock())
		_, err := s.Get(ctx, uuid.NewString())
		assert.ErrorIs(t, err, core.ErrSessionNotFound)

		err = s.Finish(ctx, uuid.NewString(), core.StatusCompleted, "")
		assert.ErrorIs(t, err, core.ErrSessionNotPending)
	})

	t.Run("finish is terminal and drops key material", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		sess := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, sess))

		require.NoError(t, s.Finish(ctx, sess.ID, core.StatusCompleted, ""))

		got, err := s.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusCompleted, got.Status)
		assert.True(t, got.Key.Disposed())
		assert.Empty(t, got.Randomness)

		assert.ErrorIs(t, s.Finish(ctx, sess.ID, core.StatusFailed, "late"), core.ErrSessionNotPending)
		assert.ErrorIs(t, s.Finish(ctx, sess.ID, core.StatusCompleted, ""), core.ErrSessionNotPending)
	})

	t.Run("failed sessions keep their reason", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		sess := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, sess))
		require.NoError(t, s.Finish(ctx, sess.ID, core.StatusFailed, "proof rejected"))

		got, err := s.Get(ctx, sess.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusFailed, got.Status)
		assert.Equal(t, "proof rejected", got.Reason)
	})

	t.Run("expire older than hides stale pending sessions", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		stale := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, stale))

		clock.Advance(10 * time.Minute)
		fresh := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, fresh))

		expired, err := s.ExpireOlderThan(ctx, 5*time.Minute)
		require.NoError(t, err)
		assert.Equal(t, []string{stale.ID}, expired)

		_, err = s.Get(ctx, stale.ID)
		assert.ErrorIs(t, err, core.ErrSessionExpired)
		assert.ErrorIs(t, s.Finish(ctx, stale.ID, core.StatusCompleted, ""), core.ErrSessionNotPending)

		got, err := s.Get(ctx, fresh.ID)
		require.NoError(t, err)
		assert.Equal(t, core.StatusPending, got.Status)

		expired, err = s.ExpireOlderThan(ctx, 5*time.Minute)
		require.NoError(t, err)
		assert.Empty(t, expired)
	})

	t.Run("expire older than honours the session deadline", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		short := NewSession(t, clock.Now(), time.Minute)
		require.NoError(t, s.Put(ctx, short))

		clock.Advance(2 * time.Minute)
		expired, err := s.ExpireOlderThan(ctx, time.Hour)
		require.NoError(t, err)
		assert.Equal(t, []string{short.ID}, expired)
	})

	t.Run("remove abandons the session", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		sess := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, sess))

		require.NoError(t, s.Remove(ctx, sess.ID))
		_, err := s.Get(ctx, sess.ID)
		assert.ErrorIs(t, err, core.ErrSessionNotFound)
		assert.ErrorIs(t, s.Finish(ctx, sess.ID, core.StatusCompleted, ""), core.ErrSessionNotPending)
		require.NoError(t, s.Remove(ctx, sess.ID))
	})

	t.Run("concurrent finish has one winner", func(t *testing.T) {
		clock := NewClock()
		s := factory(t, clock)
		sess := NewSession(t, clock.Now(), time.Hour)
		require.NoError(t, s.Put(ctx, sess))

		var wins atomic.Int32
		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := s.Finish(ctx, sess.ID, core.StatusCompleted, ""); err == nil {
					wins.Add(1)
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, int32(1), wins.Load())
	})
}
