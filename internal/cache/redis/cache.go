package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/dtroode/identity-server/internal/model"
)

// Ensure CacheStore implements the model.IdentityCache interface.
var _ model.IdentityCache = (*CacheStore)(nil)

// CacheStore is a redis-backed identity cache. Values are flat JSON
// snapshots keyed by session under a common prefix; idle time comes from
// OBJECT IDLETIME, which redis tracks per key with second granularity.
type CacheStore struct {
	client *Client
	prefix string
}

func NewCacheStore(client *Client) *CacheStore {
	return &CacheStore{
		client: client,
		prefix: "identity:",
	}
}

func (c *CacheStore) key(sessionID string) string {
	return c.prefix + sessionID
}

func (c *CacheStore) Get(ctx context.Context, sessionID string) (model.UserRecord, error) {
	val, err := c.client.Get(ctx, c.key(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return model.UserRecord{}, model.ErrCacheMiss
	}
	if err != nil {
		return model.UserRecord{}, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var record model.UserRecord
	if err := json.Unmarshal([]byte(val), &record); err != nil {
		return model.UserRecord{}, fmt.Errorf("failed to unmarshal cache entry: %w", err)
	}

	return record, nil
}

func (c *CacheStore) Set(ctx context.Context, record model.UserRecord, ttl time.Duration) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	if err := c.client.Set(ctx, c.key(record.SessionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set cache entry: %w", err)
	}

	return nil
}

func (c *CacheStore) Delete(ctx context.Context, sessionID string) error {
	if err := c.client.Del(ctx, c.key(sessionID)).Err(); err != nil {
		return fmt.Errorf("failed to delete cache entry: %w", err)
	}
	return nil
}

func (c *CacheStore) Keys(ctx context.Context) ([]string, error) {
	keys, err := c.client.Keys(ctx, c.prefix+"*").Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list cache keys: %w", err)
	}

	sessions := make([]string, 0, len(keys))
	for _, key := range keys {
		sessions = append(sessions, strings.TrimPrefix(key, c.prefix))
	}

	return sessions, nil
}

func (c *CacheStore) IdleTime(ctx context.Context, sessionID string) (time.Duration, error) {
	idle, err := c.client.ObjectIdleTime(ctx, c.key(sessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read idle time: %w", err)
	}
	return idle, nil
}
