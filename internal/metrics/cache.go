package metrics

import (
	"slices"
	"sync"
	"time"

	"github.com/Veraticus/budgetgate/internal/model"
)

// DefaultCacheTTL is used when no TTL is configured.
const DefaultCacheTTL = 15 * time.Minute

// cacheEntry is a cached snapshot plus what it was derived from, so it can be
// invalidated by account and date without a storage round trip.
type cacheEntry struct {
	expiry   time.Time
	from     time.Time
	to       time.Time
	snapshot model.MetricsSnapshot
	accounts map[int64]bool
}

// snapshotCache provides thread-safe caching for metrics snapshots keyed by budget ID.
// generation advances on every invalidation; a snapshot computed under an older
// generation is never stored.
type snapshotCache struct {
	entries    map[int64]cacheEntry
	stopCh     chan struct{}
	ttl        time.Duration
	generation uint64
	mu         sync.RWMutex
	once       sync.Once
}

func newSnapshotCache(ttl time.Duration) *snapshotCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}

	cache := &snapshotCache{
		entries: make(map[int64]cacheEntry),
		ttl:     ttl,
		stopCh:  make(chan struct{}),
	}

	go cache.cleanup()

	return cache
}

// get returns a snapshot if it exists and hasn't expired.
func (c *snapshotCache) get(budgetID int64) (model.MetricsSnapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	entry, exists := c.entries[budgetID]
	if !exists || time.Now().After(entry.expiry) {
		return model.MetricsSnapshot{}, false
	}
	snapshot := entry.snapshot
	snapshot.Lines = slices.Clone(entry.snapshot.Lines)
	return snapshot, true
}

// currentGeneration is read before a snapshot's inputs are loaded.
func (c *snapshotCache) currentGeneration() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// set stores snapshot unless an invalidation happened since generation was read.
func (c *snapshotCache) set(budget *model.Budget, snapshot model.MetricsSnapshot, generation uint64) bool {
	accounts := make(map[int64]bool, len(budget.Lines))
	for _, line := range budget.Lines {
		accounts[line.AccountID] = true
	}
	snapshot.Lines = slices.Clone(snapshot.Lines)

	c.mu.Lock()
	defer c.mu.Unlock()

	if generation != c.generation {
		return false
	}
	c.entries[budget.ID] = cacheEntry{
		snapshot: snapshot,
		accounts: accounts,
		from:     model.TruncateDay(budget.DateFrom),
		to:       model.TruncateDay(budget.DateTo),
		expiry:   time.Now().Add(c.ttl),
	}
	return true
}

// invalidate removes every entry matching pred and returns the removed budget IDs.
func (c *snapshotCache) invalidate(pred func(int64, cacheEntry) bool) []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	var removed []int64
	for id, entry := range c.entries {
		if pred(id, entry) {
			delete(c.entries, id)
			removed = append(removed, id)
		}
	}
	return removed
}

func (c *snapshotCache) invalidateBudget(budgetID int64) []int64 {
	return c.invalidate(func(id int64, _ cacheEntry) bool { return id == budgetID })
}

// invalidateAccounts drops snapshots touching any of accountIDs. A zero date
// matches every period.
func (c *snapshotCache) invalidateAccounts(accountIDs []int64, date time.Time) []int64 {
	day := model.TruncateDay(date)
	return c.invalidate(func(_ int64, entry cacheEntry) bool {
		if !date.IsZero() && (day.Before(entry.from) || day.After(entry.to)) {
			return false
		}
		for _, id := range accountIDs {
			if entry.accounts[id] {
				return true
			}
		}
		return false
	})
}

// cleanup periodically removes expired entries.
func (c *snapshotCache) cleanup() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, entry := range c.entries {
				if now.After(entry.expiry) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

func (c *snapshotCache) size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// close stops the cleanup goroutine.
func (c *snapshotCache) close() {
	c.once.Do(func() { close(c.stopCh) })
}
