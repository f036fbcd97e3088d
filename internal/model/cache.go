package model

import (
	"context"
	"time"
)

// IdentityCache is the best-effort side index over the identity store.
// Keys are session identifiers; values are UserRecord snapshots. The cache
// is never authoritative: every entry is re-derivable from the store, so a
// lost entry is a cache miss, not data loss.
type IdentityCache interface {
	Get(ctx context.Context, sessionID string) (UserRecord, error)
	Set(ctx context.Context, record UserRecord, ttl time.Duration) error
	Delete(ctx context.Context, sessionID string) error
	Keys(ctx context.Context) ([]string, error)
	IdleTime(ctx context.Context, sessionID string) (time.Duration, error)
}
