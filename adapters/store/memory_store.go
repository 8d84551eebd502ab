package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/layer-3/zklogin/core"
	"github.com/layer-3/zklogin/ports"
)

// MemoryStore is an in-memory SessionStore.
// It does not survive a restart and is meant for tests and single-process use.
type MemoryStore struct {
	opts     options
	sessions map[string]*memoryEntry
	mu       sync.Mutex
}

type memoryEntry struct {
	session    *core.LoginSession
	finishedAt time.Time
}

var _ ports.SessionStore = (*MemoryStore)(nil)

// NewMemoryStore creates a new in-memory store
func NewMemoryStore(opts ...Option) *MemoryStore {
	return &MemoryStore{
		opts:     buildOptions(opts),
		sessions: make(map[string]*memoryEntry),
	}
}

func (s *MemoryStore) Put(ctx context.Context, session *core.LoginSession) error {
	if session.Status != core.StatusPending {
		return fmt.Errorf("put session %s: status must be pending, got %s", session.ID, session.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.sessions[session.ID]; exists {
		return core.ErrSessionExists
	}
	s.sessions[session.ID] = &memoryEntry{session: session.Clone()}
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, sessionID string) (*core.LoginSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, core.ErrSessionNotFound
	}
	if entry.session.Status == core.StatusExpired {
		return nil, core.ErrSessionExpired
	}
	return entry.session.Clone(), nil
}

func (s *MemoryStore) Finish(ctx context.Context, sessionID string, status core.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.finishLocked(sessionID, status, reason)
}

func (s *MemoryStore) finishLocked(sessionID string, status core.Status, reason string) error {
	entry, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("%w: %w", core.ErrSessionNotPending, core.ErrSessionNotFound)
	}
	done, err := entry.session.Finish(status, reason)
	if err != nil {
		return err
	}
	entry.session.Dispose()
	entry.session = done
	entry.finishedAt = s.opts.now()
	return nil
}

func (s *MemoryStore) ExpireOlderThan(ctx context.Context, age time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.opts.now()
	var expired []string
	for id, entry := range s.sessions {
		sess := entry.session
		switch {
		case sess.Pending() && (now.Sub(sess.CreatedAt) > age || sess.Lapsed(now)):
			if err := s.finishLocked(id, core.StatusExpired, "session timed out"); err != nil {
				return expired, err
			}
			expired = append(expired, id)
		case !sess.Pending() && now.Sub(entry.finishedAt) > s.opts.tombstoneTTL:
			delete(s.sessions, id)
		}
	}
	return expired, nil
}

func (s *MemoryStore) Remove(ctx context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry, ok := s.sessions[sessionID]; ok {
		entry.session.Dispose()
		delete(s.sessions, sessionID)
	}
	return nil
}

// Len returns the number of sessions held, terminal ones included.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}
