package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/layer-3/zklogin/ports"
)

const (
	TopicSessions  = "zklogin.sessions"
	TopicIntegrity = "zklogin.integrity"
	TopicTokens    = "zklogin.tokens"

	// MetadataSessionID carries the session id on every message.
	MetadataSessionID = "session_id"
)

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

func (p *WatermillPublisher) PublishSession(ctx context.Context, event ports.SessionEvent) error {
	return p.publish(ctx, TopicSessions, event.SessionID, event)
}

func (p *WatermillPublisher) PublishIntegrity(ctx context.Context, event ports.IntegrityEvent) error {
	return p.publish(ctx, TopicIntegrity, event.SessionID, event)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, sessionID string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataSessionID, sessionID)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event to %s: %w", topic, err)
	}
	return nil
}

// TokenRelay publishes checked host payloads on TopicTokens.
type TokenRelay struct {
	publisher message.Publisher
}

var _ ports.TokenRelay = (*TokenRelay)(nil)

func NewTokenRelay(publisher message.Publisher) *TokenRelay {
	return &TokenRelay{publisher: publisher}
}

func (r *TokenRelay) RelayToken(ctx context.Context, sessionID string, payload []byte) error {
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set(MetadataSessionID, sessionID)
	msg.SetContext(ctx)

	if err := r.publisher.Publish(TopicTokens, msg); err != nil {
		return fmt.Errorf("failed to publish token to %s: %w", TopicTokens, err)
	}
	return nil
}

// Noop discards every event.
type Noop struct{}

var _ ports.EventPublisher = Noop{}

func (Noop) PublishSession(context.Context, ports.SessionEvent) error     { return nil }
func (Noop) PublishIntegrity(context.Context, ports.IntegrityEvent) error { return nil }
