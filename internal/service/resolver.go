package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dtroode/identity-server/internal/logger"
	"github.com/dtroode/identity-server/internal/metrics"
	"github.com/dtroode/identity-server/internal/model"
)

// Resolver establishes a caller's identity across two correlation keys: an
// ephemeral per-session token and an optional durable email address. The
// store is authoritative; the cache is a best-effort side index refreshed
// on every successful resolve.
//
// The decision procedure is evaluated in strict priority order. Email is
// the durable anchor: when present it always beats session matching, so a
// returning user is reunited with their historical identity instead of
// accumulating duplicate anonymous rows.
type Resolver struct {
	store   model.IdentityStore
	cache   model.IdentityCache
	evictor *Evictor
	ttl     time.Duration
	metrics metrics.Recorder
	logger  *logger.Logger
}

func NewResolver(
	store model.IdentityStore,
	cache model.IdentityCache,
	evictor *Evictor,
	ttl time.Duration,
	metrics metrics.Recorder,
	logger *logger.Logger,
) *Resolver {
	return &Resolver{
		store:   store,
		cache:   cache,
		evictor: evictor,
		ttl:     ttl,
		metrics: metrics,
		logger:  logger,
	}
}

// Resolve finds or creates the identity for sessionID, merging in email and
// name when supplied. It fails only when the store transaction cannot
// complete; cache failures degrade to misses and are never surfaced.
func (r *Resolver) Resolve(ctx context.Context, sessionID, email, name string) (model.UserRecord, error) {
	start := time.Now()
	email = model.NormalizeEmail(email)

	if email != "" {
		record, branch, err := r.resolveWithEmail(ctx, sessionID, email, name)
		if err != nil {
			return model.UserRecord{}, err
		}
		r.refreshCache(ctx, record)
		r.metrics.RecordResolve(branch, time.Since(start))
		return record, nil
	}

	cached, err := r.cache.Get(ctx, sessionID)
	if err == nil {
		// Read-through is skipped on hit: an anonymous session carries
		// no durable-identity stakes.
		r.metrics.RecordCacheHit()
		r.metrics.RecordResolve("cache_hit", time.Since(start))
		return cached, nil
	}
	if !errors.Is(err, model.ErrCacheMiss) {
		r.metrics.RecordCacheError("get")
		r.logger.Error("Identity resolver: cache probe failed",
			"session_id", sessionID,
			"error", err.Error())
	}
	r.metrics.RecordCacheMiss()

	record, branch, err := r.resolveBySession(ctx, sessionID)
	if err != nil {
		return model.UserRecord{}, err
	}
	r.refreshCache(ctx, record)
	r.metrics.RecordResolve(branch, time.Since(start))
	return record, nil
}

// resolveWithEmail handles the email-bearing branches: rebind an existing
// email-matched identity onto the current session, bind the email onto the
// session's existing anonymous identity, or create a fresh identity.
func (r *Resolver) resolveWithEmail(ctx context.Context, sessionID, email, name string) (model.UserRecord, string, error) {
	var identity model.Identity
	var branch string

	err := r.store.InTx(ctx, func(s model.IdentityStore) error {
		byEmail, err := s.GetByEmail(ctx, email)
		if err == nil {
			// Same account on a new session: overwrite the session token.
			identity, err = s.RebindSession(ctx, byEmail.AliasID, sessionID)
			if err != nil {
				return fmt.Errorf("failed to rebind session onto email identity: %w", err)
			}
			branch = "email_rebind"
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("failed to get identity by email: %w", err)
		}

		bySession, err := s.GetBySession(ctx, sessionID)
		if err == nil {
			// Anonymous session acquiring an email for the first time.
			identity, err = s.BindEmail(ctx, bySession.AliasID, email, name)
			if err != nil {
				return fmt.Errorf("failed to bind email onto session identity: %w", err)
			}
			branch = "email_bind"
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("failed to get identity by session: %w", err)
		}

		// Neither key matches: always create fresh. A stale cache entry
		// for this session is overwritten by the refresh, never merged.
		identity, err = s.Create(ctx, model.Identity{
			AliasID:   uuid.New(),
			Email:     email,
			Name:      name,
			SessionID: sessionID,
		})
		if err != nil {
			return fmt.Errorf("failed to create identity: %w", err)
		}
		branch = "email_create"
		return nil
	})
	if err != nil {
		r.logger.Error("Identity resolver: store transaction failed",
			"session_id", sessionID,
			"error", err.Error())
		return model.UserRecord{}, "", &model.PersistenceError{Op: "resolve", Err: err}
	}

	return identity.Record(), branch, nil
}

// resolveBySession handles the anonymous branches after a cache miss: load
// the session's identity from the store or create a fresh anonymous one.
func (r *Resolver) resolveBySession(ctx context.Context, sessionID string) (model.UserRecord, string, error) {
	var identity model.Identity
	var branch string

	err := r.store.InTx(ctx, func(s model.IdentityStore) error {
		existing, err := s.GetBySession(ctx, sessionID)
		if err == nil {
			identity = existing
			branch = "session_lookup"
			return nil
		}
		if !errors.Is(err, model.ErrNotFound) {
			return fmt.Errorf("failed to get identity by session: %w", err)
		}

		identity, err = s.Create(ctx, model.Identity{
			AliasID:   uuid.New(),
			SessionID: sessionID,
		})
		if err != nil {
			return fmt.Errorf("failed to create anonymous identity: %w", err)
		}
		branch = "anonymous_create"
		return nil
	})
	if err != nil {
		r.logger.Error("Identity resolver: store transaction failed",
			"session_id", sessionID,
			"error", err.Error())
		return model.UserRecord{}, "", &model.PersistenceError{Op: "resolve", Err: err}
	}

	return identity.Record(), branch, nil
}

// refreshCache writes the freshly resolved record under its session key,
// evicting first when the cache is at capacity. Failures are logged and
// otherwise ignored.
func (r *Resolver) refreshCache(ctx context.Context, record model.UserRecord) {
	r.evictor.BeforeWrite(ctx)

	if err := r.cache.Set(ctx, record, r.ttl); err != nil {
		r.metrics.RecordCacheError("set")
		r.logger.Error("Identity resolver: cache refresh failed",
			"session_id", record.SessionID,
			"error", err.Error())
	}
}
