package store_test

import (
	"context"
	"os"
	"testing"

	"github.com/google/uuid"
	"github.com/layer-3/zklogin/adapters/store"
	"github.com/layer-3/zklogin/adapters/store/storetest"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func redisClient(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv("REDIS_URL")
	if url == "" {
		t.Skip("REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	require.NoError(t, client.Ping(context.Background()).Err())
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestRedisStore(t *testing.T) {
	client := redisClient(t)
	storetest.Run(t, func(t *testing.T, clock *storetest.Clock) ports.SessionStore {
		prefix := "zklogin-test:" + uuid.NewString() + ":"
		return store.NewRedisStore(client, newSealer(t), store.WithClock(clock.Now), store.WithKeyPrefix(prefix))
	})
}

func TestRedisSaltStoreIsStable(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	salts := store.NewRedisSaltStore(client, store.WithKeyPrefix("zklogin-test:"+uuid.NewString()+":"))

	a, err := salts.GetOrCreate(ctx, "https://accounts.google.com", "alice")
	require.NoError(t, err)
	b, err := salts.GetOrCreate(ctx, "https://accounts.google.com", "alice")
	require.NoError(t, err)

	assert.Len(t, a, core.SaltSize)
	assert.Equal(t, a, b)
}
