package sessionlog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"TenderScanner/internal/domain"
)

type memorySession struct {
	meta    domain.Session
	entries []domain.LogEntry
}

// MemoryStore keeps session logs in process memory and forgets sessions that
// saw no activity for ttl.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store; ttl <= 0 disables expiry.
func NewMemoryStore(ttl time.Duration, log *slog.Logger) *MemoryStore {
	return &MemoryStore{
		sessions: map[string]*memorySession{},
		ttl:      ttl,
		now:      time.Now,
		logger:   log,
	}
}

// Create registers a new session and returns its id.
func (s *MemoryStore) Create(_ context.Context, kind domain.SessionKind) (string, error) {
	now := s.now()
	id := uuid.NewString()

	s.mu.Lock()
	s.sessions[id] = &memorySession{meta: domain.Session{ID: id, Kind: kind, CreatedAt: now, UpdatedAt: now}}
	s.mu.Unlock()
	return id, nil
}

// Append adds entry to the session and refreshes its expiry.
func (s *MemoryStore) Append(_ context.Context, sessionID string, entry domain.LogEntry) error {
	now := s.now()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return fmt.Errorf("append to %s: %w", sessionID, ErrSessionNotFound)
	}
	sess.entries = append(sess.entries, entry)
	sess.meta.UpdatedAt = now
	return nil
}

// Entries returns the most recent limit entries in append order. Unknown
// sessions yield an empty slice.
func (s *MemoryStore) Entries(_ context.Context, sessionID string, limit int) ([]domain.LogEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return []domain.LogEntry{}, nil
	}
	return tail(sess.entries, limit), nil
}

// Get returns the session metadata.
func (s *MemoryStore) Get(_ context.Context, sessionID string) (domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return domain.Session{}, fmt.Errorf("get %s: %w", sessionID, ErrSessionNotFound)
	}
	return sess.meta, nil
}

// Delete drops a session and its log.
func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	return nil
}

// Purge drops sessions idle for longer than the ttl and reports how many.
func (s *MemoryStore) Purge(_ context.Context, now time.Time) (int, error) {
	if s.ttl <= 0 {
		return 0, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, sess := range s.sessions {
		if now.Sub(sess.meta.UpdatedAt) > s.ttl {
			delete(s.sessions, id)
			purged++
		}
	}
	return purged, nil
}

// Run purges expired sessions every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.ttl <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			n, _ := s.Purge(ctx, now)
			if n > 0 && s.logger != nil {
				s.logger.Debug("expired sessions purged", "count", n)
			}
		}
	}
}
