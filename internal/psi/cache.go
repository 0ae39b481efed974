// Package psi fetches pre-computed category scores from the PageSpeed
// Insights API, with a TTL cache and a quota circuit breaker in front of it.
package psi

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sitescope/scanner/internal/scan"
)

// DefaultCacheTTL keeps scores fresh enough for repeat scans of the same
// site without burning quota.
const DefaultCacheTTL = 30 * time.Minute

const defaultMaxEntries = 512

type cacheEntry struct {
	payload scan.ScorePayload
	expires time.Time
}

// Cache is a TTL map keyed by url+strategy+categories. Expired entries are
// evicted lazily on read and swept when the cache grows past its bound.
type Cache struct {
	mu         sync.Mutex
	ttl        time.Duration
	maxEntries int
	clock      scan.Clock
	entries    map[string]cacheEntry
}

// NewCache builds a cache. Non-positive ttl selects DefaultCacheTTL.
func NewCache(ttl time.Duration, clock scan.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{
		ttl:        ttl,
		maxEntries: defaultMaxEntries,
		clock:      clock,
		entries:    make(map[string]cacheEntry),
	}
}

// CacheKey canonicalizes the lookup key. Category order never affects
// identity.
func CacheKey(url string, strategy scan.Strategy, categories []string) string {
	sorted := append([]string(nil), categories...)
	sort.Strings(sorted)
	return url + "|" + string(strategy) + "|" + strings.Join(sorted, ",")
}

// Get returns a copy of the cached payload, or false for missing or expired
// keys. An expired entry is deleted on the spot.
func (c *Cache) Get(key string) (*scan.ScorePayload, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if !c.clock.Now().Before(entry.expires) {
		delete(c.entries, key)
		return nil, false
	}
	payload := entry.payload
	payload.Categories = copyFloats(entry.payload.Categories)
	payload.Audits = append([]scan.AuditRef(nil), entry.payload.Audits...)
	return &payload, true
}

// Put stores a copy of the payload under key with a fresh TTL.
func (c *Cache) Put(key string, payload scan.ScorePayload) {
	payload.Categories = copyFloats(payload.Categories)
	payload.Audits = append([]scan.AuditRef(nil), payload.Audits...)

	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.entries) >= c.maxEntries {
		c.sweepLocked()
	}
	c.entries[key] = cacheEntry{payload: payload, expires: c.clock.Now().Add(c.ttl)}
}

// sweepLocked removes expired entries and, if still at capacity, the entry
// closest to expiry.
func (c *Cache) sweepLocked() {
	now := c.clock.Now()
	for key, entry := range c.entries {
		if !now.Before(entry.expires) {
			delete(c.entries, key)
		}
	}
	if len(c.entries) < c.maxEntries {
		return
	}
	var oldestKey string
	var oldest time.Time
	for key, entry := range c.entries {
		if oldestKey == "" || entry.expires.Before(oldest) {
			oldestKey, oldest = key, entry.expires
		}
	}
	delete(c.entries, oldestKey)
}

func copyFloats(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
