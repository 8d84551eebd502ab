package core

import (
	"fmt"
	"time"
)

// Status is the lifecycle state of a login session.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusExpired   Status = "expired"
	StatusFailed    Status = "failed"
)

// Terminal reports whether no further transition is allowed out of s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusExpired || s == StatusFailed
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	return s == StatusPending || s.Terminal()
}

// LoginSession is the in-flight context of one login attempt, kept between
// begin and complete.
type LoginSession struct {
	ID           string
	Provider     string
	Key          *EphemeralKeyPair
	Randomness   Randomness
	EpochHorizon uint64
	Nonce        Nonce
	CreatedAt    time.Time
	ExpiresAt    time.Time
	Status       Status
	Reason       string
}

// Pending reports whether the session can still be completed.
func (s *LoginSession) Pending() bool {
	return s.Status == StatusPending
}

// Lapsed reports whether the session lifetime has elapsed at now.
func (s *LoginSession) Lapsed(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// Dispose wipes the private key and randomness held by this copy.
func (s *LoginSession) Dispose() {
	if s == nil {
		return
	}
	s.Key.Dispose()
	Zero(s.Randomness)
	s.Randomness = nil
}

// Clone returns a deep copy, including sensitive material.
func (s *LoginSession) Clone() *LoginSession {
	if s == nil {
		return nil
	}
	c := *s
	c.Key = s.Key.clone()
	if s.Randomness != nil {
		c.Randomness = append(Randomness(nil), s.Randomness...)
	}
	return &c
}

// Finish returns a terminal record of s: status is set to status and the
// sensitive fields are dropped. The public key and nonce are kept.
func (s *LoginSession) Finish(status Status, reason string) (*LoginSession, error) {
	if err := CheckTransition(s.Status, status); err != nil {
		return nil, err
	}
	t := &LoginSession{
		ID:           s.ID,
		Provider:     s.Provider,
		EpochHorizon: s.EpochHorizon,
		Nonce:        s.Nonce,
		CreatedAt:    s.CreatedAt,
		ExpiresAt:    s.ExpiresAt,
		Status:       status,
		Reason:       reason,
	}
	if s.Key != nil {
		t.Key = &EphemeralKeyPair{PublicKey: append([]byte(nil), s.Key.PublicKey...)}
	}
	return t, nil
}

// CheckTransition allows only Pending to a terminal status.
func CheckTransition(from, to Status) error {
	if from != StatusPending {
		return fmt.Errorf("%w: status is %s", ErrSessionNotPending, from)
	}
	if !to.Terminal() {
		return fmt.Errorf("invalid transition %s -> %s", from, to)
	}
	return nil
}
