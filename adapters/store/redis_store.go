package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/redis/go-redis/v9"
)

const maxWatchRetries = 5

// RedisStore is a Redis implementation of the SessionStore interface.
// Each session is one JSON value; two sorted sets index pending sessions by
// creation time and by deadline so expiry does not scan the keyspace.
type RedisStore struct {
	client *redis.Client
	sealer *Sealer
	opts   options
}

var _ ports.SessionStore = (*RedisStore)(nil)

// NewRedisStore creates a new Redis store
func NewRedisStore(client *redis.Client, sealer *Sealer, opts ...Option) *RedisStore {
	return &RedisStore{
		client: client,
		sealer: sealer,
		opts:   buildOptions(opts),
	}
}

func (s *RedisStore) sessionKey(id string) string { return s.opts.keyPrefix + "session:" + id }
func (s *RedisStore) createdKey() string         { return s.opts.keyPrefix + "pending:created" }
func (s *RedisStore) deadlineKey() string        { return s.opts.keyPrefix + "pending:deadline" }

func (s *RedisStore) Put(ctx context.Context, session *core.LoginSession) error {
	if session.Status != core.StatusPending {
		return fmt.Errorf("put session %s: status must be pending, got %s", session.ID, session.Status)
	}
	rec, err := encodeRecord(session, s.sealer)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	key := s.sessionKey(session.ID)
	ttl := s.opts.tombstoneTTL
	if !session.ExpiresAt.IsZero() {
		ttl += time.Until(session.ExpiresAt)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return core.ErrSessionExists
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, ttl)
			pipe.ZAdd(ctx, s.createdKey(), redis.Z{Score: float64(session.CreatedAt.UnixMilli()), Member: session.ID})
			if !session.ExpiresAt.IsZero() {
				pipe.ZAdd(ctx, s.deadlineKey(), redis.Z{Score: float64(session.ExpiresAt.UnixMilli()), Member: session.ID})
			}
			return nil
		})
		return err
	}, key)
	if errors.Is(err, core.ErrSessionExists) {
		return err
	}
	if err != nil {
		return fmt.Errorf("%w: put session: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (s *RedisStore) load(ctx context.Context, c getter, id string) (record, error) {
	data, err := c.Get(ctx, s.sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return record{}, core.ErrSessionNotFound
	}
	if err != nil {
		return record{}, fmt.Errorf("%w: get session: %w", core.ErrStoreOperationFailed, err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return record{}, fmt.Errorf("%w: decode session: %w", core.ErrStoreOperationFailed, err)
	}
	return rec, nil
}

func (s *RedisStore) Get(ctx context.Context, sessionID string) (*core.LoginSession, error) {
	rec, err := s.load(ctx, s.client, sessionID)
	if err != nil {
		return nil, err
	}
	if rec.Status == core.StatusExpired {
		return nil, core.ErrSessionExpired
	}
	sess, err := rec.decode(s.sealer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrStoreOperationFailed, err)
	}
	return sess, nil
}

func (s *RedisStore) Finish(ctx context.Context, sessionID string, status core.Status, reason string) error {
	key := s.sessionKey(sessionID)
	txf := func(tx *redis.Tx) error {
		rec, err := s.load(ctx, tx, sessionID)
		if errors.Is(err, core.ErrSessionNotFound) {
			return fmt.Errorf("%w: %w", core.ErrSessionNotPending, err)
		}
		if err != nil {
			return err
		}
		done, err := rec.tombstone(status, reason)
		if err != nil {
			return err
		}
		data, err := json.Marshal(done)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, s.opts.tombstoneTTL)
			pipe.ZRem(ctx, s.createdKey(), sessionID)
			pipe.ZRem(ctx, s.deadlineKey(), sessionID)
			return nil
		})
		return err
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil && !errors.Is(err, core.ErrSessionNotPending) && !errors.Is(err, core.ErrStoreOperationFailed) {
			return fmt.Errorf("%w: finish session: %w", core.ErrStoreOperationFailed, err)
		}
		return err
	}
	return fmt.Errorf("%w: finish session %s: too much contention", core.ErrStoreOperationFailed, sessionID)
}

func (s *RedisStore) ExpireOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	now := s.opts.now()
	created, err := s.client.ZRangeByScore(ctx, s.createdKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(now.Add(-age).UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: scan pending sessions: %w", core.ErrStoreOperationFailed, err)
	}
	lapsed, err := s.client.ZRangeByScore(ctx, s.deadlineKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: scan pending sessions: %w", core.ErrStoreOperationFailed, err)
	}

	seen := make(map[string]struct{}, len(created)+len(lapsed))
	var expired []string
	for _, id := range append(created, lapsed...) {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}

		err := s.Finish(ctx, id, core.StatusExpired, "session timed out")
		switch {
		case err == nil:
			expired = append(expired, id)
		case errors.Is(err, core.ErrSessionNotPending):
			s.client.ZRem(ctx, s.createdKey(), id)
			s.client.ZRem(ctx, s.deadlineKey(), id)
		default:
			return expired, err
		}
	}
	return expired, nil
}

func (s *RedisStore) Remove(ctx context.Context, sessionID string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(sessionID))
		pipe.ZRem(ctx, s.createdKey(), sessionID)
		pipe.ZRem(ctx, s.deadlineKey(), sessionID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: remove session: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}
