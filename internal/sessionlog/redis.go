package sessionlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"TenderScanner/internal/domain"
)

const keyPrefix = "tenderscanner:session:"

// RedisStore keeps session logs in Redis lists so they outlive the API
// process. Expiry is delegated to key TTLs refreshed on every append.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore wraps a connected client; ttl <= 0 keeps keys forever.
func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func metaKey(id string) string { return keyPrefix + id + ":meta" }
func logKey(id string) string  { return keyPrefix + id + ":log" }

// Create registers a new session and returns its id.
func (s *RedisStore) Create(ctx context.Context, kind domain.SessionKind) (string, error) {
	id := uuid.NewString()
	now := s.now().UTC().Format(time.RFC3339Nano)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, metaKey(id), "kind", string(kind), "created_at", now, "updated_at", now)
		if s.ttl > 0 {
			pipe.Expire(ctx, metaKey(id), s.ttl)
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	return id, nil
}

// Append pushes entry onto the session list and refreshes both key TTLs.
func (s *RedisStore) Append(ctx context.Context, sessionID string, entry domain.LogEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = s.now()
	}

	exists, err := s.client.Exists(ctx, metaKey(sessionID)).Result()
	if err != nil {
		return fmt.Errorf("append to %s: %w", sessionID, err)
	}
	if exists == 0 {
		return fmt.Errorf("append to %s: %w", sessionID, ErrSessionNotFound)
	}

	payload, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode log entry: %w", err)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.RPush(ctx, logKey(sessionID), payload)
		pipe.HSet(ctx, metaKey(sessionID), "updated_at", s.now().UTC().Format(time.RFC3339Nano))
		if s.ttl > 0 {
			pipe.Expire(ctx, logKey(sessionID), s.ttl)
			pipe.Expire(ctx, metaKey(sessionID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("append to %s: %w", sessionID, err)
	}
	return nil
}

// Entries returns the most recent limit entries in append order.
func (s *RedisStore) Entries(ctx context.Context, sessionID string, limit int) ([]domain.LogEntry, error) {
	start := int64(0)
	if limit > 0 {
		start = -int64(limit)
	}

	raw, err := s.client.LRange(ctx, logKey(sessionID), start, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("read log %s: %w", sessionID, err)
	}

	out := make([]domain.LogEntry, 0, len(raw))
	for _, item := range raw {
		var e domain.LogEntry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("decode log entry: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}

// Get returns the session metadata.
func (s *RedisStore) Get(ctx context.Context, sessionID string) (domain.Session, error) {
	fields, err := s.client.HGetAll(ctx, metaKey(sessionID)).Result()
	if err != nil {
		return domain.Session{}, fmt.Errorf("get %s: %w", sessionID, err)
	}
	if len(fields) == 0 {
		return domain.Session{}, fmt.Errorf("get %s: %w", sessionID, ErrSessionNotFound)
	}

	sess := domain.Session{ID: sessionID, Kind: domain.SessionKind(fields["kind"])}
	sess.CreatedAt, _ = time.Parse(time.RFC3339Nano, fields["created_at"])
	sess.UpdatedAt, _ = time.Parse(time.RFC3339Nano, fields["updated_at"])
	return sess, nil
}

// Delete drops a session and its log.
func (s *RedisStore) Delete(ctx context.Context, sessionID string) error {
	if err := s.client.Del(ctx, metaKey(sessionID), logKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete %s: %w", sessionID, err)
	}
	return nil
}

// Purge is a no-op: Redis expires idle sessions on its own.
func (s *RedisStore) Purge(context.Context, time.Time) (int, error) {
	return 0, nil
}
