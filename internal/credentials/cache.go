// Package credentials resolves a channel instance to its access token and
// provider variant, fronted by an in-process TTL cache.
package credentials

import (
	"fmt"
	"sync"
	"time"

	"leadwire/internal/constants"
	"leadwire/internal/metrics"
	"leadwire/pkg/provider/types"

	"github.com/sirupsen/logrus"
)

// Credential is what a channel instance needs to talk to its provider.
type Credential struct {
	Token        string
	Variant      types.Variant
	InstanceID   string
	InstanceName string
	TenantID     string
}

type cacheEntry struct {
	cred     Credential
	cachedAt time.Time
}

// Stats is a point-in-time view of cache effectiveness.
type Stats struct {
	Hits    int64  `json:"hits"`
	Misses  int64  `json:"misses"`
	Size    int    `json:"size"`
	HitRate string `json:"hitRate"`
	TTLSec  int    `json:"ttlSec"`
}

// Cache is a TTL map keyed by instance id. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]cacheEntry
	ttl     time.Duration
	hits    int64
	misses  int64
	// generation advances on every invalidation
	generation uint64
	now        func() time.Time
	logger     *logrus.Logger
}

// NewCache creates a cache. A non-positive ttl uses the default.
func NewCache(ttl time.Duration, logger *logrus.Logger) *Cache {
	if ttl <= 0 {
		ttl = constants.DefaultCredentialTTL
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Cache{
		entries: make(map[string]cacheEntry),
		ttl:     ttl,
		now:     time.Now,
		logger:  logger,
	}
}

// Get returns the cached credential. Expired entries count as misses and
// are evicted.
func (c *Cache) Get(instanceID string) (Credential, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[instanceID]
	if !ok {
		c.misses++
		metrics.RecordCacheLookup(false)
		return Credential{}, false
	}

	age := c.now().Sub(entry.cachedAt)
	if age > c.ttl {
		delete(c.entries, instanceID)
		c.misses++
		metrics.RecordCacheLookup(false)
		c.logger.WithFields(logrus.Fields{
			"instance_id": instanceID,
			"age_sec":     int(age.Seconds()),
		}).Debug("Credential cache entry expired")
		return Credential{}, false
	}

	c.hits++
	metrics.RecordCacheLookup(true)
	return entry.cred, true
}

// Set stores a credential; last write wins.
func (c *Cache) Set(instanceID string, cred Credential) {
	c.mu.Lock()
	c.entries[instanceID] = cacheEntry{cred: cred, cachedAt: c.now()}
	c.mu.Unlock()
}

// Generation identifies the current invalidation epoch. Capture it before
// reading a credential from the store and pass it to SetIfCurrent.
func (c *Cache) Generation() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.generation
}

// SetIfCurrent stores cred only when no invalidation happened since gen was
// captured, so a slow lookup cannot reinstate a rotated or deleted token.
func (c *Cache) SetIfCurrent(instanceID string, cred Credential, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generation != gen {
		return false
	}
	c.entries[instanceID] = cacheEntry{cred: cred, cachedAt: c.now()}
	return true
}

// Invalidate drops an entry immediately.
func (c *Cache) Invalidate(instanceID string) {
	c.mu.Lock()
	_, existed := c.entries[instanceID]
	delete(c.entries, instanceID)
	c.generation++
	c.mu.Unlock()

	if existed {
		c.logger.WithField("instance_id", instanceID).Info("Credential cache entry invalidated")
	}
}

// Clear drops every entry and resets the counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	size := len(c.entries)
	c.entries = make(map[string]cacheEntry)
	c.hits, c.misses = 0, 0
	c.generation++
	c.mu.Unlock()

	c.logger.WithField("entries", size).Info("Credential cache cleared")
}

// CleanExpired evicts expired entries and returns how many were removed.
func (c *Cache) CleanExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	removed := 0
	for id, entry := range c.entries {
		if now.Sub(entry.cachedAt) > c.ttl {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	total := c.hits + c.misses
	rate := 0.0
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    len(c.entries),
		HitRate: fmt.Sprintf("%.2f%%", rate),
		TTLSec:  int(c.ttl.Seconds()),
	}
}
