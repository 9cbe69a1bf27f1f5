package cache

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kyxap1/ipmaster/internal/types"

	"github.com/sirupsen/logrus"
)

// cleanupInterval is how often the background sweeper drops expired records
const cleanupInterval = 5 * time.Minute

// Entry represents a cached lookup result
type Entry struct {
	Record    *types.IPRecord
	ExpiresAt time.Time
}

// RecordCache keeps successful geolocation lookups in memory, keyed by endpoint URL
type RecordCache struct {
	entries    map[string]*Entry
	mu         sync.RWMutex
	ttl        time.Duration
	maxEntries int
	logger     *logrus.Logger
	// Statistics
	hits      int64
	misses    int64
	evictions int64
	// Control
	stopCh    chan struct{}
	closeOnce sync.Once
}

// New creates a record cache and starts its background sweeper.
// Call Close to stop the sweeper.
func New(ttl time.Duration, maxEntries int, logger *logrus.Logger) *RecordCache {
	c := NewNoCleanup(ttl, maxEntries, logger)
	go c.cleanup()
	return c
}

// NewNoCleanup creates a record cache without the background sweeper.
// Expired entries are still never returned by Get.
func NewNoCleanup(ttl time.Duration, maxEntries int, logger *logrus.Logger) *RecordCache {
	if maxEntries < 1 {
		maxEntries = 1
	}
	return &RecordCache{
		entries:    make(map[string]*Entry),
		ttl:        ttl,
		maxEntries: maxEntries,
		logger:     logger,
		stopCh:     make(chan struct{}),
	}
}

// Get returns the live record stored under key
func (c *RecordCache) Get(key string) (*types.IPRecord, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[key]
	if !exists || time.Now().After(entry.ExpiresAt) {
		// Expired entries are left for the sweeper
		atomic.AddInt64(&c.misses, 1)
		return nil, false
	}

	atomic.AddInt64(&c.hits, 1)
	return entry.Record, true
}

// Set stores a record under key, evicting the soonest-expiring entries when full
func (c *RecordCache) Set(key string, record *types.IPRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.entries[key]; !exists && len(c.entries) >= c.maxEntries {
		c.evictOldest()
	}

	c.entries[key] = &Entry{
		Record:    record,
		ExpiresAt: time.Now().Add(c.ttl),
	}
}

// evictOldest drops 10% of capacity (at least one entry), oldest expiry first.
// Caller must hold the write lock.
func (c *RecordCache) evictOldest() {
	if len(c.entries) == 0 {
		return
	}

	evictCount := c.maxEntries / 10
	if evictCount < 1 {
		evictCount = 1
	}

	keys := make([]string, 0, len(c.entries))
	for key := range c.entries {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		return c.entries[keys[i]].ExpiresAt.Before(c.entries[keys[j]].ExpiresAt)
	})

	for i := 0; i < evictCount && i < len(keys); i++ {
		delete(c.entries, keys[i])
		atomic.AddInt64(&c.evictions, 1)
	}
}

func (c *RecordCache) cleanup() {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanupExpired()
		case <-c.stopCh:
			return
		}
	}
}

// cleanupExpired removes all expired entries
func (c *RecordCache) cleanupExpired() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for key, entry := range c.entries {
		if now.After(entry.ExpiresAt) {
			delete(c.entries, key)
			removed++
		}
	}

	if removed > 0 {
		c.logger.Debugf("Cleaned up %d expired cache entries", removed)
	}
}

// GetStats returns cache statistics
func (c *RecordCache) GetStats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	hits := atomic.LoadInt64(&c.hits)
	misses := atomic.LoadInt64(&c.misses)

	var hitRate float64
	if total := hits + misses; total > 0 {
		hitRate = float64(hits) / float64(total) * 100
	}

	return map[string]interface{}{
		"entries":     len(c.entries),
		"hits":        hits,
		"misses":      misses,
		"evictions":   atomic.LoadInt64(&c.evictions),
		"hit_rate":    hitRate,
		"ttl_seconds": c.ttl.Seconds(),
		"max_entries": c.maxEntries,
	}
}

// Clear removes all entries and resets statistics
func (c *RecordCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*Entry)
	atomic.StoreInt64(&c.hits, 0)
	atomic.StoreInt64(&c.misses, 0)
	atomic.StoreInt64(&c.evictions, 0)

	c.logger.Debug("Cache cleared")
}

// Size returns the current number of entries in the cache
func (c *RecordCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Close stops the background sweeper. It is safe to call more than once.
func (c *RecordCache) Close() {
	c.closeOnce.Do(func() {
		close(c.stopCh)
	})
}
