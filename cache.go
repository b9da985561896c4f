package searchkit

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

const (
	// DefaultTTL is how long a cached projection stays fresh.
	DefaultTTL = 30 * time.Second
	// DefaultMaxEntries bounds the local cache; the least recently used entry
	// is evicted on overflow.
	DefaultMaxEntries = 100
)

type cachedResult struct {
	projection ResultProjection
	storedAt   time.Time
}

// resultCache is the local fingerprint -> projection cache. It is not safe for
// concurrent use on its own; QueryClient serializes access.
type resultCache struct {
	ttl     time.Duration
	entries *lru.Cache[Fingerprint, cachedResult]
}

func newResultCache(ttl time.Duration, maxEntries int) *resultCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	entries, err := lru.New[Fingerprint, cachedResult](maxEntries)
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &resultCache{ttl: ttl, entries: entries}
}

// get returns the entry for fp if it is no older than the TTL at now.
// Stale entries are dropped.
func (c *resultCache) get(fp Fingerprint, now time.Time) (cachedResult, bool) {
	if c.ttl <= 0 {
		return cachedResult{}, false
	}
	entry, ok := c.entries.Get(fp)
	if !ok {
		return cachedResult{}, false
	}
	if now.Sub(entry.storedAt) > c.ttl {
		c.entries.Remove(fp)
		return cachedResult{}, false
	}
	return entry, true
}

// put replaces the entry for fp.
func (c *resultCache) put(fp Fingerprint, projection ResultProjection, storedAt time.Time) {
	if c.ttl <= 0 {
		return
	}
	c.entries.Add(fp, cachedResult{projection: projection, storedAt: storedAt})
}

func (c *resultCache) remove(fp Fingerprint) {
	c.entries.Remove(fp)
}

func (c *resultCache) purge() {
	c.entries.Purge()
}

func (c *resultCache) len() int {
	return c.entries.Len()
}

func (c *resultCache) fresh(storedAt, now time.Time) bool {
	return c.ttl > 0 && now.Sub(storedAt) <= c.ttl
}

// SecondaryCache is an optional shared cache consulted after a local miss
// and before the network. Implementations must be safe for concurrent use.
type SecondaryCache interface {
	// Get returns the projection stored for fp and when it was stored.
	// ok is false when nothing is stored.
	Get(ctx context.Context, fp Fingerprint) (projection ResultProjection, storedAt time.Time, ok bool, err error)
	// Put stores projection for fp.
	Put(ctx context.Context, fp Fingerprint, projection ResultProjection, storedAt time.Time) error
	// Delete removes the entry for fp.
	Delete(ctx context.Context, fp Fingerprint) error
}
