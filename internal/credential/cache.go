package credential

import (
	"context"
	"fmt"
	"time"

	"github.com/multistock/meli-bridge/internal/cache"
	"github.com/rs/zerolog/log"
)

// CacheTTL is how long a credential read is served without consulting the
// store again. Process-wide, not per-entry.
const CacheTTL = 10 * time.Minute

// cacheSize bounds the number of tenants held at once.
const cacheSize = 10_000

type entry struct {
	credential Credential
	cachedAt   time.Time
}

// Cache is a read-through cache in front of a credential Store. Expiry is
// checked against an injected clock so the TTL window is testable; the
// backing record cache only acts as a size-bounded holder.
//
// The cache is non-locking across fills: two concurrent misses for the same
// tenant may both query the store, and the last write wins. The entries are
// equivalent, so this is preferred over locking.
//
// Absence is never cached: a tenant without a credential record re-queries
// the store on every read.
type Cache struct {
	store   Store
	records cache.RecordCache[entry]
	now     func() time.Time
}

// CacheOption adjusts optional cache behaviour.
type CacheOption func(*Cache)

// WithClock replaces the wall clock, for tests.
func WithClock(now func() time.Time) CacheOption {
	return func(c *Cache) {
		c.now = now
	}
}

// NewCache creates a credential cache in front of the given store.
func NewCache(store Store, opts ...CacheOption) (*Cache, error) {
	records, err := cache.NewMemory[entry](CacheTTL, cacheSize)
	if err != nil {
		return nil, fmt.Errorf("credential cache configuration failed: %w", err)
	}

	c := &Cache{
		store:   store,
		records: cache.NewInstrumented[entry](records, "credential"),
		now:     time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Get returns the credential for a tenant, reading through to the store when
// no live cache entry exists. Returns ErrNotFound when the tenant has no
// credential record; any other error indicates the store is unavailable.
func (c *Cache) Get(ctx context.Context, tenantID string) (Credential, error) {
	if e, ok, _ := c.records.Get(ctx, tenantID); ok {
		if c.now().Sub(e.cachedAt) < CacheTTL {
			return e.credential, nil
		}
		// stale: fall through to recompute rather than serve
	}

	log.Ctx(ctx).Debug().Str("tenant", tenantID).Msg("credential cache miss, querying store")

	cred, err := c.store.FindByTenant(ctx, tenantID)
	if err != nil {
		// ErrNotFound passes through unwrapped so callers can match it;
		// absence is not cached.
		return Credential{}, err
	}

	if err := c.records.Set(ctx, tenantID, entry{credential: cred, cachedAt: c.now()}); err != nil {
		// a failed cache write only costs a future store read
		log.Ctx(ctx).Warn().Err(err).Str("tenant", tenantID).Msg("credential cache write failed")
	}

	return cred, nil
}

// Invalidate drops the cached entry for a tenant, forcing the next read to
// consult the store.
func (c *Cache) Invalidate(ctx context.Context, tenantID string) {
	if err := c.records.Invalidate(ctx, tenantID); err != nil {
		log.Ctx(ctx).Warn().Err(err).Str("tenant", tenantID).Msg("credential cache invalidation failed")
	}
}

// Close releases the backing record cache.
func (c *Cache) Close() error {
	return c.records.Close()
}
