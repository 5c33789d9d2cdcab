// Package sessionlog keeps pollable, append-only progress logs for scrape
// and enrichment sessions.
package sessionlog

import (
	"context"
	"errors"
	"time"

	"TenderScanner/internal/domain"
	"TenderScanner/internal/ports"
)

// ErrSessionNotFound is returned when appending to an unknown or expired session.
var ErrSessionNotFound = errors.New("session not found")

// Store is the full session log contract; the use cases only need the
// ports.SessionLog subset.
type Store interface {
	ports.SessionLog
	Get(ctx context.Context, sessionID string) (domain.Session, error)
	Delete(ctx context.Context, sessionID string) error
	Purge(ctx context.Context, now time.Time) (int, error)
}

// tail returns the last limit entries; limit <= 0 keeps everything.
func tail(entries []domain.LogEntry, limit int) []domain.LogEntry {
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]domain.LogEntry, len(entries))
	copy(out, entries)
	return out
}
