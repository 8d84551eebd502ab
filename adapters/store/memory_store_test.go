package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/layer-3/zklogin/adapters/store"
	"github.com/layer-3/zklogin/adapters/store/storetest"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) ports.SessionStore {
		return store.NewMemoryStore(store.WithClock(clock.Now))
	})
}

func TestMemoryStorePurgesTombstones(t *testing.T) {
	ctx := context.Background()
	clock := storetest.NewClock()
	s := store.NewMemoryStore(store.WithClock(clock.Now), store.WithTombstoneTTL(time.Minute))

	sess := storetest.NewSession(t, clock.Now(), time.Hour)
	require.NoError(t, s.Put(ctx, sess))
	require.NoError(t, s.Finish(ctx, sess.ID, core.StatusCompleted, ""))
	assert.Equal(t, 1, s.Len())

	clock.Advance(2 * time.Minute)
	_, err := s.ExpireOlderThan(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, s.Len())
}
