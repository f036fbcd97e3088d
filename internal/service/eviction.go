package service

import (
	"context"
	"time"

	"github.com/dtroode/identity-server/internal/logger"
	"github.com/dtroode/identity-server/internal/metrics"
	"github.com/dtroode/identity-server/internal/model"
)

// Evictor bounds the cache to a fixed number of entries. Victim selection
// approximates least-recently-used by polling per-key idle time; when no
// key reports one, an arbitrary key is removed instead of refusing the
// write. Eviction affects only hit rate, never correctness, so every
// failure here is swallowed and logged.
type Evictor struct {
	cache    model.IdentityCache
	capacity int
	metrics  metrics.Recorder
	logger   *logger.Logger
}

func NewEvictor(cache model.IdentityCache, capacity int, metrics metrics.Recorder, logger *logger.Logger) *Evictor {
	return &Evictor{
		cache:    cache,
		capacity: capacity,
		metrics:  metrics,
		logger:   logger,
	}
}

// BeforeWrite removes one entry when the cache is at or above capacity.
// The caller's subsequent write proceeds unconditionally.
func (e *Evictor) BeforeWrite(ctx context.Context) {
	keys, err := e.cache.Keys(ctx)
	if err != nil {
		e.metrics.RecordCacheError("keys")
		e.logger.Error("Eviction policy: failed to list cache keys", "error", err.Error())
		return
	}
	if len(keys) < e.capacity {
		return
	}

	victim := ""
	maxIdle := time.Duration(-1)
	for _, key := range keys {
		idle, err := e.cache.IdleTime(ctx, key)
		if err != nil {
			continue
		}
		if idle > maxIdle {
			maxIdle = idle
			victim = key
		}
	}
	if victim == "" {
		// Idle time unavailable for every key (degraded cache state).
		victim = keys[0]
	}

	if err := e.cache.Delete(ctx, victim); err != nil {
		e.metrics.RecordCacheError("delete")
		e.logger.Error("Eviction policy: failed to delete victim",
			"session_id", victim,
			"error", err.Error())
		return
	}

	e.metrics.RecordEviction()
	e.logger.Debug("Eviction policy: evicted cache entry",
		"session_id", victim,
		"idle_time", maxIdle)
}
