package store

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	"github.com/redis/go-redis/v9"
)

// identityKey hides the raw subject from the salt backend.
func identityKey(issuer, subject string) string {
	return hexutil.Encode(gethcrypto.Keccak256([]byte(issuer), []byte{0}, []byte(subject)))
}

func newSalt() ([]byte, error) {
	salt := make([]byte, core.SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("%w: generate salt: %w", core.ErrStoreOperationFailed, err)
	}
	return salt, nil
}

// MemorySaltStore keeps salts in process memory.
type MemorySaltStore struct {
	salts map[string][]byte
	mu    sync.Mutex
}

var _ ports.SaltStore = (*MemorySaltStore)(nil)

func NewMemorySaltStore() *MemorySaltStore {
	return &MemorySaltStore{salts: make(map[string][]byte)}
}

func (s *MemorySaltStore) GetOrCreate(ctx context.Context, issuer, subject string) ([]byte, error) {
	key := identityKey(issuer, subject)

	s.mu.Lock()
	defer s.mu.Unlock()

	if salt, ok := s.salts[key]; ok {
		return append([]byte(nil), salt...), nil
	}
	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	s.salts[key] = salt
	return append([]byte(nil), salt...), nil
}

// RedisSaltStore keeps salts in Redis without expiry.
type RedisSaltStore struct {
	client *redis.Client
	prefix string
}

var _ ports.SaltStore = (*RedisSaltStore)(nil)

func NewRedisSaltStore(client *redis.Client, opts ...Option) *RedisSaltStore {
	o := buildOptions(opts)
	return &RedisSaltStore{client: client, prefix: o.keyPrefix + "salt:"}
}

func (s *RedisSaltStore) GetOrCreate(ctx context.Context, issuer, subject string) ([]byte, error) {
	key := s.prefix + identityKey(issuer, subject)

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	if err := s.client.SetNX(ctx, key, salt, 0).Err(); err != nil {
		return nil, fmt.Errorf("%w: store salt: %w", core.ErrStoreOperationFailed, err)
	}
	stored, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, fmt.Errorf("%w: load salt: %w", core.ErrStoreOperationFailed, err)
	}
	if len(stored) != core.SaltSize {
		return nil, fmt.Errorf("%w: stored salt has length %d", core.ErrStoreOperationFailed, len(stored))
	}
	return stored, nil
}

// SQLiteSaltStore keeps salts next to the sessions of a SQLiteStore.
type SQLiteSaltStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.SaltStore = (*SQLiteSaltStore)(nil)

func (s *SQLiteSaltStore) GetOrCreate(ctx context.Context, issuer, subject string) ([]byte, error) {
	key := identityKey(issuer, subject)

	salt, err := newSalt()
	if err != nil {
		return nil, err
	}
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_salts (identity, salt, created_at) VALUES (?, ?, ?) ON CONFLICT (identity) DO NOTHING`,
		key, salt, toMillis(s.now()),
	); err != nil {
		return nil, fmt.Errorf("%w: store salt: %w", core.ErrStoreOperationFailed, err)
	}

	var stored []byte
	err = s.db.QueryRowContext(ctx, `SELECT salt FROM identity_salts WHERE identity = ?`, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: salt for identity missing", core.ErrStoreOperationFailed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load salt: %w", core.ErrStoreOperationFailed, err)
	}
	if len(stored) != core.SaltSize {
		return nil, fmt.Errorf("%w: stored salt has length %d", core.ErrStoreOperationFailed, len(stored))
	}
	return stored, nil
}
