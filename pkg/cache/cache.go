package cache

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/liliang-cn/waktusolat-mcp/pkg/domain"
)

// cacheEntry is a cached value with its absolute expiry.
type cacheEntry struct {
	value     interface{}
	expiresAt time.Time
	seq       uint64
}

func (e *cacheEntry) expired(now time.Time) bool {
	return !now.Before(e.expiresAt)
}

// Cache interface for different cache implementations
type Cache interface {
	Get(ctx context.Context, key string) (interface{}, bool)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context) error
	Size() int
	Stats() CacheStats
}

// CacheStats provides cache statistics
type CacheStats struct {
	Hits      int64     `json:"hits"`
	Misses    int64     `json:"misses"`
	Evictions int64     `json:"evictions"`
	Expired   int64     `json:"expired"`
	Size      int       `json:"size"`
	MaxSize   int       `json:"max_size"`
	CreatedAt time.Time `json:"created_at"`
	LastClear time.Time `json:"last_clear"`
}

// MemoryCache is a capacity-bounded TTL cache guarded by a single mutex.
// When full it evicts the oldest-expiring 10% of entries, which approximates
// LRU by expiry rather than implementing strict LRU.
type MemoryCache struct {
	mu         sync.Mutex
	entries    map[string]*cacheEntry
	maxSize    int
	defaultTTL time.Duration
	stats      CacheStats
	seq        uint64
	now        func() time.Time
}

// NewMemoryCache creates a new memory cache
func NewMemoryCache(maxSize int, defaultTTL time.Duration) *MemoryCache {
	if maxSize < 1 {
		maxSize = 1
	}
	return &MemoryCache{
		entries:    make(map[string]*cacheEntry),
		maxSize:    maxSize,
		defaultTTL: defaultTTL,
		now:        time.Now,
		stats: CacheStats{
			MaxSize:   maxSize,
			CreatedAt: time.Now(),
		},
	}
}

// Get retrieves a value from cache. Expired entries are removed on access.
func (mc *MemoryCache) Get(ctx context.Context, key string) (interface{}, bool) {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	entry, exists := mc.entries[key]
	if !exists {
		mc.stats.Misses++
		return nil, false
	}

	if entry.expired(mc.now()) {
		delete(mc.entries, key)
		mc.stats.Expired++
		mc.stats.Misses++
		return nil, false
	}

	mc.stats.Hits++
	return entry.value, true
}

// Set stores a value in cache. ttl must be positive.
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("%w: ttl must be positive, got %s", domain.ErrInvalidArgument, ttl)
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	now := mc.now()
	mc.purgeLocked(now)

	if _, exists := mc.entries[key]; !exists && len(mc.entries) >= mc.maxSize {
		mc.evictLocked()
	}

	mc.seq++
	mc.entries[key] = &cacheEntry{
		value:     value,
		expiresAt: now.Add(ttl),
		seq:       mc.seq,
	}
	return nil
}

// SetDefault stores a value with the configured default TTL.
func (mc *MemoryCache) SetDefault(ctx context.Context, key string, value interface{}) error {
	return mc.Set(ctx, key, value, mc.defaultTTL)
}

// DefaultTTL returns the TTL used by SetDefault.
func (mc *MemoryCache) DefaultTTL() time.Duration { return mc.defaultTTL }

// Delete removes a value from cache
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.entries, key)
	return nil
}

// Clear removes all entries from cache
func (mc *MemoryCache) Clear(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entries = make(map[string]*cacheEntry)
	mc.stats.LastClear = mc.now()
	return nil
}

// Purge drops every expired entry and reports how many were removed.
func (mc *MemoryCache) Purge() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return mc.purgeLocked(mc.now())
}

// Size returns the number of entries in cache, expired ones included until purged.
func (mc *MemoryCache) Size() int {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	return len(mc.entries)
}

// Stats returns cache statistics
func (mc *MemoryCache) Stats() CacheStats {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	mc.stats.Size = len(mc.entries)
	return mc.stats
}

// purgeLocked must be called with mu held.
func (mc *MemoryCache) purgeLocked(now time.Time) int {
	removed := 0
	for key, entry := range mc.entries {
		if entry.expired(now) {
			delete(mc.entries, key)
			removed++
		}
	}
	mc.stats.Expired += int64(removed)
	return removed
}

// evictLocked removes the oldest-expiring 10% (at least one) of entries.
// Ties are broken by insertion order so older entries go first.
func (mc *MemoryCache) evictLocked() {
	n := len(mc.entries) / 10
	if n < 1 {
		n = 1
	}

	keys := make([]string, 0, len(mc.entries))
	for key := range mc.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		a, b := mc.entries[keys[i]], mc.entries[keys[j]]
		if a.expiresAt.Equal(b.expiresAt) {
			return a.seq < b.seq
		}
		return a.expiresAt.Before(b.expiresAt)
	})

	for _, key := range keys[:n] {
		delete(mc.entries, key)
	}
	mc.stats.Evictions += int64(n)
}

// Key builds a cache key from its parts, e.g. Key("prayer_days", "SGR01").
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// GetOrCompute returns the cached value for key or computes and stores it.
// Only successful results are cached. Concurrent misses for the same key each
// invoke fn; there is no single-flight deduplication.
func GetOrCompute[V any](ctx context.Context, c Cache, key string, ttl time.Duration, fn func(context.Context) (V, error)) (V, error) {
	var zero V
	if ttl <= 0 {
		return zero, fmt.Errorf("%w: ttl must be positive, got %s", domain.ErrInvalidArgument, ttl)
	}

	if v, ok := c.Get(ctx, key); ok {
		if typed, ok := v.(V); ok {
			return typed, nil
		}
	}

	v, err := fn(ctx)
	if err != nil {
		return zero, err
	}
	if err := c.Set(ctx, key, v, ttl); err != nil {
		return zero, err
	}
	return v, nil
}
