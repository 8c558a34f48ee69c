// Package cache memoizes model responses by a deterministic request
// fingerprint. Exact-match only: the same logical request yields the
// same key, anything else is a miss. The cache is process-local;
// cross-instance consistency is out of scope.
package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/backstage-ai/backstage-agent/internal/domain"
)

const (
	// DefaultTTL bounds how long a cached response stays servable.
	DefaultTTL = 5 * time.Minute

	maxEntries = 1000
	evictBatch = 200
)

// Entry is one memoized response.
type Entry struct {
	Key       string
	Response  *domain.ModelResponse
	StoredAt  time.Time
	ExpiresAt time.Time
}

type Cache struct {
	mu      sync.Mutex
	entries map[string]*Entry
	now     func() time.Time
}

func New() *Cache {
	return &Cache{
		entries: make(map[string]*Entry),
		now:     time.Now,
	}
}

// Fingerprint derives the cache key from the model identifier, the
// serialized contents (system text included) and the serialized
// generation config. Struct field order makes JSON marshaling
// deterministic, so equivalent requests always collide.
func Fingerprint(req domain.GenerateRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Model))
	h.Write([]byte{0})
	h.Write([]byte(req.System))
	h.Write([]byte{0})
	if b, err := json.Marshal(req.Contents); err == nil {
		h.Write(b)
	}
	h.Write([]byte{0})
	if b, err := json.Marshal(req.Config); err == nil {
		h.Write(b)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Get returns the cached response for key, or nil. Expired entries are
// treated as absent and deleted lazily.
func (c *Cache) Get(key string) *domain.ModelResponse {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if c.now().After(e.ExpiresAt) {
		delete(c.entries, key)
		return nil
	}
	return e.Response
}

// Set stores a response under key with the default TTL.
func (c *Cache) Set(key string, resp *domain.ModelResponse) {
	c.SetWithTTL(key, resp, DefaultTTL)
}

// SetWithTTL stores a response with an explicit TTL. When the cache
// exceeds its capacity ceiling, the oldest-inserted batch is evicted.
func (c *Cache) SetWithTTL(key string, resp *domain.ModelResponse, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	c.entries[key] = &Entry{
		Key:       key,
		Response:  resp,
		StoredAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	if len(c.entries) > maxEntries {
		c.evictOldestLocked(evictBatch)
	}
}

// Len reports the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) evictOldestLocked(n int) {
	all := make([]*Entry, 0, len(c.entries))
	for _, e := range c.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool {
		return all[i].StoredAt.Before(all[j].StoredAt)
	})
	if n > len(all) {
		n = len(all)
	}
	for _, e := range all[:n] {
		delete(c.entries, e.Key)
	}
}
