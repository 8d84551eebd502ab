package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS login_sessions (
	id            TEXT PRIMARY KEY,
	provider      TEXT NOT NULL,
	public_key    BLOB,
	sealed        BLOB,
	epoch_horizon INTEGER NOT NULL,
	nonce         TEXT NOT NULL,
	created_at    INTEGER NOT NULL,
	expires_at    INTEGER NOT NULL,
	status        TEXT NOT NULL,
	reason        TEXT NOT NULL DEFAULT '',
	finished_at   INTEGER
);
CREATE INDEX IF NOT EXISTS login_sessions_pending ON login_sessions (status, created_at);
CREATE TABLE IF NOT EXISTS identity_salts (
	identity   TEXT PRIMARY KEY,
	salt       BLOB NOT NULL,
	created_at INTEGER NOT NULL
);`

// SQLiteStore persists sessions in a SQLite file so a pending login survives
// a process restart without a Redis deployment.
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	opts   options
}

var _ ports.SessionStore = (*SQLiteStore)(nil)

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func fromMillis(v int64) time.Time {
	if v == 0 {
		return time.Time{}
	}
	return time.UnixMilli(v).UTC()
}

// OpenSQLite opens or creates the database at path and applies the schema.
func OpenSQLite(path string, sealer *Sealer, opts ...Option) (*SQLiteStore, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(FULL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLiteStore{db: db, sealer: sealer, opts: buildOptions(opts)}, nil
}

// Close closes the SQLite handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Salts returns a SaltStore sharing this database.
func (s *SQLiteStore) Salts() *SQLiteSaltStore {
	return &SQLiteSaltStore{db: s.db, now: s.opts.now}
}

func (s *SQLiteStore) Put(ctx context.Context, session *core.LoginSession) error {
	if session.Status != core.StatusPending {
		return fmt.Errorf("put session %s: status must be pending, got %s", session.ID, session.Status)
	}
	rec, err := encodeRecord(session, s.sealer)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO login_sessions (id, provider, public_key, sealed, epoch_horizon, nonce, created_at, expires_at, status, reason)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID, rec.Provider, rec.PublicKey, rec.Sealed, int64(rec.EpochHorizon), rec.Nonce,
		toMillis(rec.CreatedAt), toMillis(rec.ExpiresAt), string(rec.Status), rec.Reason,
	)
	if err != nil {
		return fmt.Errorf("%w: insert session: %w", core.ErrStoreOperationFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: insert session: %w", core.ErrStoreOperationFailed, err)
	}
	if n == 0 {
		return core.ErrSessionExists
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (record, error) {
	var (
		rec              record
		horizon          int64
		created, expires int64
		status           string
	)
	err := row.Scan(&rec.ID, &rec.Provider, &rec.PublicKey, &rec.Sealed, &horizon, &rec.Nonce, &created, &expires, &status, &rec.Reason)
	if err != nil {
		return record{}, err
	}
	rec.EpochHorizon = uint64(horizon)
	rec.CreatedAt = fromMillis(created)
	rec.ExpiresAt = fromMillis(expires)
	rec.Status = core.Status(status)
	return rec, nil
}

func (s *SQLiteStore) Get(ctx context.Context, sessionID string) (*core.LoginSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, provider, public_key, sealed, epoch_horizon, nonce, created_at, expires_at, status, reason
		 FROM login_sessions WHERE id = ?`, sessionID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, core.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get session: %w", core.ErrStoreOperationFailed, err)
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

func (s *SQLiteStore) Finish(ctx context.Context, sessionID string, status core.Status, reason string) error {
	if !status.Terminal() {
		return fmt.Errorf("invalid transition to %s", status)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %w", core.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	if err := s.finishTx(ctx, tx, sessionID, status, reason); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}

func (s *SQLiteStore) finishTx(ctx context.Context, tx *sql.Tx, sessionID string, status core.Status, reason string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE login_sessions SET status = ?, reason = ?, sealed = NULL, finished_at = ?
		 WHERE id = ? AND status = ?`,
		string(status), reason, toMillis(s.opts.now()), sessionID, string(core.StatusPending),
	)
	if err != nil {
		return fmt.Errorf("%w: finish session: %w", core.ErrStoreOperationFailed, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: finish session: %w", core.ErrStoreOperationFailed, err)
	}
	if n == 1 {
		return nil
	}

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM login_sessions WHERE id = ?`, sessionID).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", core.ErrSessionNotPending, core.ErrSessionNotFound)
	}
	if err != nil {
		return fmt.Errorf("%w: finish session: %w", core.ErrStoreOperationFailed, err)
	}
	return fmt.Errorf("%w: status is %s", core.ErrSessionNotPending, current)
}

func (s *SQLiteStore) ExpireOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	now := s.opts.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", core.ErrStoreOperationFailed, err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM login_sessions
		 WHERE status = ? AND (created_at < ? OR (expires_at > 0 AND expires_at <= ?))`,
		string(core.StatusPending), toMillis(now.Add(-age)), toMillis(now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scan pending sessions: %w", core.ErrStoreOperationFailed, err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: scan pending sessions: %w", core.ErrStoreOperationFailed, err)
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: scan pending sessions: %w", core.ErrStoreOperationFailed, err)
	}

	for _, id := range ids {
		if err := s.finishTx(ctx, tx, id, core.StatusExpired, "session timed out"); err != nil {
			return nil, err
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM login_sessions WHERE status != ? AND finished_at < ?`,
		string(core.StatusPending), toMillis(now.Add(-s.opts.tombstoneTTL)),
	); err != nil {
		return nil, fmt.Errorf("%w: purge finished sessions: %w", core.ErrStoreOperationFailed, err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", core.ErrStoreOperationFailed, err)
	}
	return ids, nil
}

func (s *SQLiteStore) Remove(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM login_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("%w: remove session: %w", core.ErrStoreOperationFailed, err)
	}
	return nil
}
