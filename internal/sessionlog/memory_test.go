package sessionlog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"TenderScanner/internal/domain"
)

func TestMemoryStoreAppendAndTail(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(time.Hour, nil)

	id, err := store.Create(ctx, domain.SessionScrape)
	require.NoError(t, err)

	for _, msg := range []string{"a", "b", "c", "d"} {
		require.NoError(t, store.Append(ctx, id, domain.LogEntry{Status: domain.LogInfo, Message: msg}))
	}

	all, err := store.Entries(ctx, id, 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, "a", all[0].Message)
	assert.False(t, all[0].Timestamp.IsZero())

	last, err := store.Entries(ctx, id, 2)
	require.NoError(t, err)
	require.Len(t, last, 2)
	assert.Equal(t, "c", last[0].Message)
	assert.Equal(t, "d", last[1].Message)

	sess, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, domain.SessionScrape, sess.Kind)
}

func TestMemoryStoreUnknownSession(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(time.Hour, nil)

	entries, err := store.Entries(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, entries)

	err = store.Append(ctx, "missing", domain.LogEntry{Message: "x"})
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestMemoryStorePurgesIdleSessions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(time.Hour, nil)

	clock := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	idle, err := store.Create(ctx, domain.SessionEnrich)
	require.NoError(t, err)

	clock = clock.Add(50 * time.Minute)
	active, err := store.Create(ctx, domain.SessionScrape)
	require.NoError(t, err)

	n, err := store.Purge(ctx, clock.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, idle)
	assert.True(t, errors.Is(err, ErrSessionNotFound))
	_, err = store.Get(ctx, active)
	assert.NoError(t, err)
}

func TestMemoryStoreAppendRefreshesExpiry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(time.Hour, nil)

	clock := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	id, err := store.Create(ctx, domain.SessionScrape)
	require.NoError(t, err)

	clock = clock.Add(55 * time.Minute)
	require.NoError(t, store.Append(ctx, id, domain.LogEntry{Message: "still running"}))

	n, err := store.Purge(ctx, clock.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Zero(t, n)
}
