package ports

import (
	"context"
	"time"

	"github.com/layer-3/zklogin/core"
)

// SessionStore persists login sessions across the OAuth redirect.
//
// Get returns core.ErrSessionNotFound for unknown or removed sessions and
// core.ErrSessionExpired for expired ones. Completed and failed sessions are
// returned as records without key material. Returned sessions are copies the
// caller owns and must Dispose.
type SessionStore interface {
	Put(ctx context.Context, session *core.LoginSession) error
	Get(ctx context.Context, sessionID string) (*core.LoginSession, error)
	// Finish moves a pending session to a terminal status and wipes its key
	// material. It fails with core.ErrSessionNotPending otherwise.
	Finish(ctx context.Context, sessionID string, status core.Status, reason string) error
	// ExpireOlderThan expires pending sessions created more than age ago, or
	// whose lifetime has elapsed, and returns their ids.
	ExpireOlderThan(ctx context.Context, age time.Duration) ([]string, error)
	Remove(ctx context.Context, sessionID string) error
}

// SaltStore returns a stable salt per (issuer, subject), creating it on first use.
type SaltStore interface {
	GetOrCreate(ctx context.Context, issuer, subject string) ([]byte, error)
}
