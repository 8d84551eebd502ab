package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"
)

// Acceptor takes a relayed host payload for a session.
type Acceptor interface {
	Accept(ctx context.Context, sessionID string, payload []byte) error
}

// TokenSubscriber feeds host payloads published on TopicTokens into an
// Acceptor. Every instance must receive every message, since only one of
// them holds the waiter. Messages are acked even when they are refused: a bad
// payload or a duplicate delivery will not succeed on redelivery.
type TokenSubscriber struct {
	subscriber message.Subscriber
	acceptor   Acceptor
	logger     zerolog.Logger
}

func NewTokenSubscriber(subscriber message.Subscriber, acceptor Acceptor, logger zerolog.Logger) *TokenSubscriber {
	return &TokenSubscriber{
		subscriber: subscriber,
		acceptor:   acceptor,
		logger:     logger.With().Str("component", "token_subscriber").Logger(),
	}
}

// Run consumes messages until ctx is done or the subscription closes.
func (s *TokenSubscriber) Run(ctx context.Context) error {
	msgs, err := s.subscriber.Subscribe(ctx, TopicTokens)
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", TopicTokens, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			s.handle(ctx, msg)
		}
	}
}

func (s *TokenSubscriber) handle(ctx context.Context, msg *message.Message) {
	defer msg.Ack()

	sessionID := msg.Metadata.Get(MetadataSessionID)
	if sessionID == "" {
		s.logger.Warn().Str("message_uuid", msg.UUID).Msg("token message without session id")
		return
	}
	if err := s.acceptor.Accept(ctx, sessionID, msg.Payload); err != nil {
		// every instance sees the message, most hold no waiter for it
		s.logger.Debug().Err(err).Str("session_id", sessionID).Msg("relayed token not accepted")
		return
	}
	s.logger.Debug().Str("session_id", sessionID).Msg("token accepted")
}
