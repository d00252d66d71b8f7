package project

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// estimatedEntryOverhead is added to every entry's measured size to account
// for map/slice header and pointer overhead the byte-budget accounting
// would otherwise miss.
const estimatedEntryOverhead = 256

type cacheEntry struct {
	analysis    *Analysis
	memoryBytes int
	accessCount int
	lastAccess  time.Time
}

// Cache is a byte-budgeted, access-order LRU of Analyses keyed by
// canonical path (spec.md §3, "ProjectCache"). It wraps
// hashicorp/golang-lru/v2, which evicts by entry count; this layer adds a
// running byte total and evicts extra LRU entries on insert until the
// configured budget holds, since the spec's invariant is byte-based.
type Cache struct {
	mu         sync.Mutex
	lru        *lru.Cache[string, *cacheEntry]
	maxBytes   int
	totalBytes int
}

// NewCache builds a Cache with the given byte budget. capacityHint bounds
// the underlying count-based LRU generously above what the byte budget
// would realistically admit, so eviction pressure comes from bytes, not
// count.
func NewCache(maxBytes int, capacityHint int) *Cache {
	if capacityHint <= 0 {
		capacityHint = 4096
	}
	c, _ := lru.New[string, *cacheEntry](capacityHint)
	return &Cache{lru: c, maxBytes: maxBytes}
}

func estimateSize(a *Analysis) int {
	size := estimatedEntryOverhead
	size += len(a.Path)
	size += len(a.PrimaryLanguage) + len(a.LanguageVersion) + len(a.BuildSystem)
	for _, f := range a.Frameworks {
		size += len(f.Name)
		for _, c := range f.SuggestedCommand {
			size += len(c)
		}
	}
	for _, d := range a.Dependencies {
		size += len(d)
	}
	for _, d := range a.SourceDirs {
		size += len(d)
	}
	for _, d := range a.TestDirs {
		size += len(d)
	}
	for _, d := range a.ConfigDirs {
		size += len(d)
	}
	for _, d := range a.DocDirs {
		size += len(d)
	}
	for ext := range a.ExtHistogram {
		size += len(ext) + 8
	}
	return size
}

// Get returns the cached analysis for path, if present, and promotes it to
// most-recently-used.
func (c *Cache) Get(path string) (*Analysis, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(path)
	if !ok {
		return nil, false
	}
	entry.accessCount++
	entry.lastAccess = time.Now()
	return entry.analysis, true
}

// Put inserts or replaces the analysis for path, evicting LRU entries
// until the byte budget is satisfied (spec.md §3 invariant 2).
func (c *Cache) Put(path string, a *Analysis) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if old, ok := c.lru.Peek(path); ok {
		c.totalBytes -= old.memoryBytes
	}

	size := estimateSize(a)
	entry := &cacheEntry{analysis: a, memoryBytes: size, lastAccess: time.Now()}
	c.lru.Add(path, entry)
	c.totalBytes += size

	for c.maxBytes > 0 && c.totalBytes > c.maxBytes {
		_, evicted, ok := c.lru.GetOldest()
		if !ok {
			break
		}
		c.lru.RemoveOldest()
		c.totalBytes -= evicted.memoryBytes
	}
}

// Remove evicts the entry for path, if present.
func (c *Cache) Remove(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if old, ok := c.lru.Peek(path); ok {
		c.totalBytes -= old.memoryBytes
		c.lru.Remove(path)
	}
}

// Len reports the number of cached entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// TotalBytes reports the current running byte total.
func (c *Cache) TotalBytes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totalBytes
}

// Purge drops every entry analyzed more than maxAge ago. StartPurgeJob runs
// it on a cron cadence (spec.md §4.4 "cadence 5 min, purge entries older
// than 1 hour").
func (c *Cache) Purge(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	var stale []string
	now := time.Now()
	for _, key := range c.lru.Keys() {
		entry, ok := c.lru.Peek(key)
		if ok && now.Sub(entry.analysis.AnalyzedAt) > maxAge {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		if old, ok := c.lru.Peek(key); ok {
			c.totalBytes -= old.memoryBytes
			c.lru.Remove(key)
		}
	}
	return len(stale)
}
