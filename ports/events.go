package ports

import (
	"context"
	"time"

	"github.com/layer-3/zklogin/core"
)

// SessionEvent describes a login session reaching a terminal status.
type SessionEvent struct {
	SessionID  string      `json:"session_id"`
	Provider   string      `json:"provider"`
	Status     core.Status `json:"status"`
	Reason     string      `json:"reason,omitempty"`
	Address    string      `json:"address,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
}

// IntegrityEvent records a token whose nonce did not match its session.
type IntegrityEvent struct {
	SessionID  string    `json:"session_id"`
	Provider   string    `json:"provider"`
	Issuer     string    `json:"issuer"`
	OccurredAt time.Time `json:"occurred_at"`
}

// EventPublisher publishes login lifecycle events to other instances.
type EventPublisher interface {
	PublishSession(ctx context.Context, event SessionEvent) error
	PublishIntegrity(ctx context.Context, event IntegrityEvent) error
}

// TokenRelay hands a checked host payload to every running instance, so the
// one holding the waiter for the session receives it.
type TokenRelay interface {
	RelayToken(ctx context.Context, sessionID string, payload []byte) error
}
