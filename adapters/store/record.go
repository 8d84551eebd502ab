package store

import (
	"fmt"
	"time"

	"github.com/layer-3/zklogin/core"
)

const privateKeySize = 32

// record is the persisted form of a login session. The private key and the
// randomness travel together in Sealed and are absent once the session is
// terminal.
type record struct {
	ID           string      `json:"id"`
	Provider     string      `json:"provider"`
	PublicKey    []byte      `json:"public_key"`
	Sealed       []byte      `json:"sealed,omitempty"`
	EpochHorizon uint64      `json:"epoch_horizon"`
	Nonce        string      `json:"nonce"`
	CreatedAt    time.Time   `json:"created_at"`
	ExpiresAt    time.Time   `json:"expires_at"`
	Status       core.Status `json:"status"`
	Reason       string      `json:"reason,omitempty"`
}

func encodeRecord(s *core.LoginSession, sealer *Sealer) (record, error) {
	r := record{
		ID:           s.ID,
		Provider:     s.Provider,
		EpochHorizon: s.EpochHorizon,
		Nonce:        string(s.Nonce),
		CreatedAt:    s.CreatedAt.UTC(),
		ExpiresAt:    s.ExpiresAt.UTC(),
		Status:       s.Status,
		Reason:       s.Reason,
	}
	if s.Key != nil {
		r.PublicKey = append([]byte(nil), s.Key.PublicKey...)
	}
	if s.Status != core.StatusPending {
		return r, nil
	}
	if s.Key.Disposed() || len(s.Randomness) != core.RandomnessSize {
		return record{}, fmt.Errorf("pending session %s has no key material", s.ID)
	}

	secret := make([]byte, 0, privateKeySize+core.RandomnessSize)
	secret = append(secret, s.Key.PrivateKey...)
	secret = append(secret, s.Randomness...)
	defer core.Zero(secret)

	sealed, err := sealer.Seal(secret, []byte(s.ID))
	if err != nil {
		return record{}, fmt.Errorf("seal session secret: %w", err)
	}
	r.Sealed = sealed
	return r, nil
}

func (r record) decode(sealer *Sealer) (*core.LoginSession, error) {
	s := &core.LoginSession{
		ID:           r.ID,
		Provider:     r.Provider,
		Key:          &core.EphemeralKeyPair{PublicKey: r.PublicKey},
		EpochHorizon: r.EpochHorizon,
		Nonce:        core.Nonce(r.Nonce),
		CreatedAt:    r.CreatedAt,
		ExpiresAt:    r.ExpiresAt,
		Status:       r.Status,
		Reason:       r.Reason,
	}
	if r.Status != core.StatusPending {
		return s, nil
	}

	secret, err := sealer.Open(r.Sealed, []byte(r.ID))
	if err != nil {
		return nil, fmt.Errorf("open session secret: %w", err)
	}
	defer core.Zero(secret)
	if len(secret) != privateKeySize+core.RandomnessSize {
		return nil, fmt.Errorf("session secret has length %d", len(secret))
	}
	s.Key.PrivateKey = append([]byte(nil), secret[:privateKeySize]...)
	s.Randomness = append(core.Randomness(nil), secret[privateKeySize:]...)
	return s, nil
}

// tombstone returns the terminal form of r.
func (r record) tombstone(status core.Status, reason string) (record, error) {
	if err := core.CheckTransition(r.Status, status); err != nil {
		return record{}, err
	}
	core.Zero(r.Sealed)
	r.Sealed = nil
	r.Status = status
	r.Reason = reason
	return r, nil
}

// stale reports whether a pending record should expire at now.
func (r record) stale(now time.Time, age time.Duration) bool {
	if r.Status != core.StatusPending {
		return false
	}
	if now.Sub(r.CreatedAt) > age {
		return true
	}
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}
