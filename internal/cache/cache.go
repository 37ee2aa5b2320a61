// Package cache memoizes agent responses keyed by normalized prompt, so
// retried or duplicated tasks skip a round trip to the backing agent.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/harrison/overseer/internal/logger"
)

// Entry is one cached agent response.
type Entry struct {
	Response string         `json:"response"`
	Metadata map[string]any `json:"metadata,omitempty"`
	CachedAt time.Time      `json:"cached_at"`
}

// Stats counts cache effectiveness.
type Stats struct {
	Hits   int `json:"hits"`
	Misses int `json:"misses"`
	Size   int `json:"size"`
}

// HitRate is the fraction of lookups served from cache.
func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}

// Cache is an LRU response cache. Prompts are normalized before hashing so
// trivially re-worded whitespace or casing differences still hit.
type Cache struct {
	mu     sync.Mutex
	lru    *lru.Cache[string, Entry]
	hits   int
	misses int
	logger logger.Logger
	now    func() time.Time
}

// New creates a Cache holding at most size entries. The logger may be nil.
func New(size int, log logger.Logger) (*Cache, error) {
	l, err := lru.New[string, Entry](size)
	if err != nil {
		return nil, err
	}
	return &Cache{
		lru:    l,
		logger: logger.OrNop(log),
		now:    time.Now,
	}, nil
}

// Key derives the cache key for a prompt: lowercase, whitespace collapsed,
// then SHA-256 hashed.
func Key(prompt string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(prompt), " "))
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}

// Get looks up a prompt. The boolean reports whether it was a hit.
func (c *Cache) Get(prompt string) (Entry, bool) {
	key := Key(prompt)

	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.lru.Get(key)
	if ok {
		c.hits++
		c.logger.Debugf("cache: hit for %s", key[:12])
	} else {
		c.misses++
	}
	return entry, ok
}

// Set stores a response for a prompt.
func (c *Cache) Set(prompt, response string, metadata map[string]any) {
	entry := Entry{
		Response: response,
		Metadata: metadata,
		CachedAt: c.now(),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Add(Key(prompt), entry)
}

// Purge drops every entry but keeps the counters.
func (c *Cache) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Snapshot returns current counters.
func (c *Cache) Snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{Hits: c.hits, Misses: c.misses, Size: c.lru.Len()}
}
