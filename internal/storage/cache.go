package storage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ledgerline/categorizer/internal/model"
	"github.com/ledgerline/categorizer/internal/service"
)

// matchableTypes are the pattern types the fuzzy pipeline consumes.
// Merchant and regex patterns match against the merchant name; keyword and
// description patterns against the description.
var matchableTypes = []model.PatternType{
	model.PatternTypeMerchant,
	model.PatternTypeKeyword,
	model.PatternTypeDescription,
	model.PatternTypeRegex,
}

// DefaultCacheTTL bounds how stale a cached pattern set may get.
const DefaultCacheTTL = 5 * time.Minute

type cacheEntry struct {
	expires  time.Time
	patterns []model.Pattern
}

// PatternCache is a read-through cache over pattern storage. Reads are
// concurrent; the single writer (the learner, via InvalidateCategory)
// drops entries, and staleness is bounded by the TTL.
type PatternCache struct {
	storage service.Storage
	entries map[model.PatternType]cacheEntry
	now     func() time.Time
	ttl     time.Duration
	stats   service.CacheStats
	mu      sync.RWMutex
}

// NewPatternCache creates a read-through pattern cache. A non-positive ttl
// falls back to DefaultCacheTTL.
func NewPatternCache(storage service.Storage, ttl time.Duration) *PatternCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &PatternCache{
		storage: storage,
		entries: make(map[model.PatternType]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// GetPatternsForExpense returns all active matchable patterns for the
// expense, served from cache when fresh.
func (c *PatternCache) GetPatternsForExpense(ctx context.Context, _ *model.Expense) ([]model.Pattern, error) {
	var (
		result  []model.Pattern
		missing []model.PatternType
	)

	c.mu.RLock()
	now := c.now()
	for _, t := range matchableTypes {
		entry, ok := c.entries[t]
		if !ok || now.After(entry.expires) {
			missing = append(missing, t)
			continue
		}
		result = append(result, entry.patterns...)
	}
	c.mu.RUnlock()

	c.count(len(matchableTypes)-len(missing), len(missing))

	if len(missing) == 0 {
		return result, nil
	}

	loaded, err := c.load(ctx, missing)
	if err != nil {
		return nil, err
	}

	return append(result, loaded...), nil
}

// load fetches the given types from storage and refreshes their cache
// entries.
func (c *PatternCache) load(ctx context.Context, types []model.PatternType) ([]model.Pattern, error) {
	patterns, err := c.storage.GetActivePatternsByTypes(ctx, types)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}

	buckets := make(map[model.PatternType][]model.Pattern, len(types))
	for _, t := range types {
		buckets[t] = nil
	}
	for _, p := range patterns {
		buckets[p.Type] = append(buckets[p.Type], p)
	}

	expires := c.now().Add(c.ttl)
	c.mu.Lock()
	for t, bucket := range buckets {
		c.entries[t] = cacheEntry{patterns: bucket, expires: expires}
	}
	c.mu.Unlock()

	return patterns, nil
}

// GetUserPreference passes through to storage; preference lookups are
// single indexed reads and not worth caching.
func (c *PatternCache) GetUserPreference(ctx context.Context, merchantName string) (*model.UserPreference, error) {
	return c.storage.GetUserPreference(ctx, merchantName)
}

// PreloadForBatch warms every matchable pattern type ahead of a batch run
// so per-item calls hit the cache.
func (c *PatternCache) PreloadForBatch(ctx context.Context) error {
	if _, err := c.load(ctx, matchableTypes); err != nil {
		return err
	}

	c.mu.Lock()
	c.stats.Preloads++
	c.mu.Unlock()

	return nil
}

// InvalidateCategory drops cached buckets containing patterns of the given
// category. Called by the learner after a learning event.
func (c *PatternCache) InvalidateCategory(categoryID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := false
	for t, entry := range c.entries {
		for _, p := range entry.patterns {
			if p.CategoryID == categoryID {
				delete(c.entries, t)
				c.stats.Evictions++
				dropped = true
				break
			}
		}
	}

	// A category with no cached patterns yet means freshly learned ones;
	// drop everything so they show up immediately.
	if !dropped {
		for t := range c.entries {
			delete(c.entries, t)
			c.stats.Evictions++
		}
	}
}

// Flush drops all cached entries.
func (c *PatternCache) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for t := range c.entries {
		delete(c.entries, t)
		c.stats.Evictions++
	}
}

// CacheStats returns a snapshot of cache effectiveness counters.
func (c *PatternCache) CacheStats() service.CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

func (c *PatternCache) count(hits, misses int) {
	c.mu.Lock()
	c.stats.Hits += int64(hits)
	c.stats.Misses += int64(misses)
	c.mu.Unlock()
}
