package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/identity-server/internal/metrics"
	"github.com/dtroode/identity-server/internal/mocks"
	"github.com/dtroode/identity-server/internal/model"
	"github.com/dtroode/identity-server/internal/testutil"
)

// memStore is an in-memory IdentityStore with the same merge semantics as
// the postgres repository, including conflict-as-update on email inserts.
type memStore struct {
	mu    sync.Mutex
	rows  map[uuid.UUID]*model.Identity
	seq   int64
	reads int
}

func newMemStore() *memStore {
	return &memStore{rows: map[uuid.UUID]*model.Identity{}}
}

func (s *memStore) touch(identity *model.Identity) {
	s.seq++
	identity.UpdatedAt = time.Unix(0, s.seq)
}

func (s *memStore) GetByEmail(ctx context.Context, email string) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	for _, row := range s.rows {
		if row.Email == email && row.Email != "" {
			return *row, nil
		}
	}
	return model.Identity{}, model.ErrNotFound
}

func (s *memStore) GetBySession(ctx context.Context, sessionID string) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reads++
	var latest *model.Identity
	for _, row := range s.rows {
		if row.SessionID != sessionID {
			continue
		}
		if latest == nil || row.UpdatedAt.After(latest.UpdatedAt) {
			latest = row
		}
	}
	if latest == nil {
		return model.Identity{}, model.ErrNotFound
	}
	return *latest, nil
}

func (s *memStore) Create(ctx context.Context, identity model.Identity) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if identity.Email != "" {
		for _, row := range s.rows {
			if row.Email == identity.Email {
				row.SessionID = identity.SessionID
				s.touch(row)
				return *row, nil
			}
		}
	}
	row := identity
	s.touch(&row)
	row.CreatedAt = row.UpdatedAt
	s.rows[row.AliasID] = &row
	return row, nil
}

func (s *memStore) RebindSession(ctx context.Context, aliasID uuid.UUID, sessionID string) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[aliasID]
	if !ok {
		return model.Identity{}, model.ErrNotFound
	}
	row.SessionID = sessionID
	s.touch(row)
	return *row, nil
}

func (s *memStore) BindEmail(ctx context.Context, aliasID uuid.UUID, email, name string) (model.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.rows[aliasID]
	if !ok {
		return model.Identity{}, model.ErrNotFound
	}
	row.Email = email
	row.Name = name
	s.touch(row)
	return *row, nil
}

func (s *memStore) InTx(ctx context.Context, fn func(model.IdentityStore) error) error {
	return fn(s)
}

func (s *memStore) rowCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows)
}

func (s *memStore) readCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

// memCache is an in-memory IdentityCache without TTL expiry.
type memCache struct {
	mu      sync.Mutex
	entries map[string]model.UserRecord
	idle    map[string]time.Duration
}

func newMemCache() *memCache {
	return &memCache{
		entries: map[string]model.UserRecord{},
		idle:    map[string]time.Duration{},
	}
}

func (c *memCache) Get(ctx context.Context, sessionID string) (model.UserRecord, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	record, ok := c.entries[sessionID]
	if !ok {
		return model.UserRecord{}, model.ErrCacheMiss
	}
	return record, nil
}

func (c *memCache) Set(ctx context.Context, record model.UserRecord, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[record.SessionID] = record
	c.idle[record.SessionID] = 0
	return nil
}

func (c *memCache) Delete(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, sessionID)
	delete(c.idle, sessionID)
	return nil
}

func (c *memCache) Keys(ctx context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	return keys, nil
}

func (c *memCache) IdleTime(ctx context.Context, sessionID string) (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	idle, ok := c.idle[sessionID]
	if !ok {
		return 0, errors.New("no such key")
	}
	return idle, nil
}

func (c *memCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// failingCache errors on every operation.
type failingCache struct{}

func (failingCache) Get(ctx context.Context, sessionID string) (model.UserRecord, error) {
	return model.UserRecord{}, errors.New("cache down")
}
func (failingCache) Set(ctx context.Context, record model.UserRecord, ttl time.Duration) error {
	return errors.New("cache down")
}
func (failingCache) Delete(ctx context.Context, sessionID string) error {
	return errors.New("cache down")
}
func (failingCache) Keys(ctx context.Context) ([]string, error) {
	return nil, errors.New("cache down")
}
func (failingCache) IdleTime(ctx context.Context, sessionID string) (time.Duration, error) {
	return 0, errors.New("cache down")
}

func makeResolver(store model.IdentityStore, cache model.IdentityCache, capacity int) *Resolver {
	log := testutil.MakeNoopLogger()
	collector := metrics.NewCollector(prometheus.NewRegistry())
	evictor := NewEvictor(cache, capacity, collector, log)
	return NewResolver(store, cache, evictor, 30*time.Minute, collector, log)
}

func TestResolver_AnonymousCreate(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	record, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, record.AliasID)
	assert.Equal(t, "s1", record.SessionID)
	assert.Empty(t, record.Email)
	assert.Equal(t, 1, store.rowCount())

	cached, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, record, cached)
}

func TestResolver_AnonymousIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	first, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)
	reads := store.readCount()

	second, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)

	assert.Equal(t, first.AliasID, second.AliasID)
	assert.Equal(t, 1, store.rowCount())
	// second call is answered from the cache without touching the store
	assert.Equal(t, reads, store.readCount())
}

func TestResolver_CacheHitSkipsStore(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	want := model.UserRecord{SessionID: "s1", Email: "a@x.com", Name: "Ann", AliasID: uuid.New()}
	require.NoError(t, cache.Set(ctx, want, time.Minute))

	got, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)

	assert.Equal(t, want, got)
	assert.Equal(t, 0, store.readCount())
	assert.Equal(t, 0, store.rowCount())
}

func TestResolver_EmailBindsAnonymousIdentity(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	anon, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)

	bound, err := r.Resolve(ctx, "s1", "a@x.com", "Ann")
	require.NoError(t, err)

	assert.Equal(t, anon.AliasID, bound.AliasID)
	assert.Equal(t, "a@x.com", bound.Email)
	assert.Equal(t, "Ann", bound.Name)
	assert.Equal(t, 1, store.rowCount())
}

func TestResolver_EmailPrecedenceAcrossSessions(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	anon, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)

	bound, err := r.Resolve(ctx, "s1", "a@x.com", "Ann")
	require.NoError(t, err)
	require.Equal(t, anon.AliasID, bound.AliasID)

	// same account from a new device: the email wins and the session
	// token migrates onto the existing row
	migrated, err := r.Resolve(ctx, "s2", "a@x.com", "Ann")
	require.NoError(t, err)

	assert.Equal(t, anon.AliasID, migrated.AliasID)
	assert.Equal(t, "s2", migrated.SessionID)
	assert.Equal(t, 1, store.rowCount())

	cached, err := cache.Get(ctx, "s2")
	require.NoError(t, err)
	assert.Equal(t, migrated, cached)
}

func TestResolver_EmailNormalized(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	first, err := r.Resolve(ctx, "s1", " A@X.com ", "Ann")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", first.Email)

	second, err := r.Resolve(ctx, "s2", "a@X.COM", "Ann")
	require.NoError(t, err)

	assert.Equal(t, first.AliasID, second.AliasID)
	assert.Equal(t, 1, store.rowCount())
}

func TestResolver_EmailCreatesFreshWhenUnknown(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	// a stale cache entry for the session whose row no longer exists
	stale := model.UserRecord{SessionID: "s1", AliasID: uuid.New()}
	require.NoError(t, cache.Set(ctx, stale, time.Minute))

	record, err := r.Resolve(ctx, "s1", "new@x.com", "New")
	require.NoError(t, err)

	assert.NotEqual(t, stale.AliasID, record.AliasID)
	assert.Equal(t, "new@x.com", record.Email)
	assert.Equal(t, 1, store.rowCount())

	// the stale entry is overwritten by the refresh
	cached, err := cache.Get(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, record.AliasID, cached.AliasID)
}

func TestResolver_CacheFailureDegrades(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	r := makeResolver(store, failingCache{}, 30)

	anon, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, anon.AliasID)

	again, err := r.Resolve(ctx, "s1", "", "")
	require.NoError(t, err)
	assert.Equal(t, anon.AliasID, again.AliasID)

	bound, err := r.Resolve(ctx, "s1", "a@x.com", "Ann")
	require.NoError(t, err)
	assert.Equal(t, anon.AliasID, bound.AliasID)
	assert.Equal(t, "a@x.com", bound.Email)
	assert.Equal(t, 1, store.rowCount())
}

func TestResolver_StoreFailurePropagates(t *testing.T) {
	ctx := context.Background()
	store := &mocks.IdentityStore{}
	store.On("InTx", mock.Anything, mock.Anything).Return(errors.New("connection refused"))

	r := makeResolver(store, newMemCache(), 30)

	_, err := r.Resolve(ctx, "s1", "", "")
	require.Error(t, err)

	var persistenceErr *model.PersistenceError
	require.ErrorAs(t, err, &persistenceErr)
	assert.Contains(t, persistenceErr.Error(), "connection refused")

	_, err = r.Resolve(ctx, "s1", "a@x.com", "Ann")
	require.Error(t, err)
	require.ErrorAs(t, err, &persistenceErr)
}

func TestResolver_CacheBound(t *testing.T) {
	ctx := context.Background()
	store := newMemStore()
	cache := newMemCache()
	r := makeResolver(store, cache, 30)

	for i := 0; i < 45; i++ {
		sessionID := uuid.NewString()
		_, err := r.Resolve(ctx, sessionID, "", "")
		require.NoError(t, err)
		assert.LessOrEqual(t, cache.size(), 30)
	}
	assert.Equal(t, 45, store.rowCount())
}
