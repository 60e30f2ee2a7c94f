// Package credcache holds short-lived connection credentials, bridging the
// gap between a reconnect prompt and the retry attempt. Entries expire after
// a fixed TTL and may be reused any number of times within it.
package credcache

import (
	"strings"
	"sync"
	"time"
)

// DefaultTTL is how long a cached credential set stays usable.
const DefaultTTL = 60 * time.Second

// Credentials is a sanitized credential set for one resource.
type Credentials struct {
	Username   string
	Password   string
	PrivateKey string
	Passphrase string
}

// Sanitize trims surrounding whitespace from every field. Applied at the
// boundary where untrusted form input enters the cache or an adapter.
func Sanitize(c Credentials) Credentials {
	return Credentials{
		Username:   strings.TrimSpace(c.Username),
		Password:   strings.TrimSpace(c.Password),
		PrivateKey: strings.TrimSpace(c.PrivateKey),
		Passphrase: strings.TrimSpace(c.Passphrase),
	}
}

// IsEmpty reports whether no field carries a value.
func (c Credentials) IsEmpty() bool {
	return c.Username == "" && c.Password == "" && c.PrivateKey == "" && c.Passphrase == ""
}

type entry struct {
	creds     Credentials
	expiresAt time.Time
}

// Cache maps a resource id to its cached credentials with per-key TTL.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[uint]entry

	// now is overridable in tests.
	now func() time.Time
}

// New creates a cache with the given TTL. If ttl <= 0, DefaultTTL is used.
func New(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[uint]entry),
		now:     time.Now,
	}
}

// Set sanitizes and stores credentials for a resource id, resetting the TTL.
func (c *Cache) Set(resourceID uint, creds Credentials) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[resourceID] = entry{
		creds:     Sanitize(creds),
		expiresAt: c.now().Add(c.ttl),
	}
}

// Get returns the cached credentials for a resource id. Expired entries are
// treated as absent and removed.
func (c *Cache) Get(resourceID uint) (Credentials, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[resourceID]
	if !ok {
		return Credentials{}, false
	}
	if c.now().After(e.expiresAt) {
		delete(c.entries, resourceID)
		return Credentials{}, false
	}
	return e.creds, true
}

// Delete removes the entry for a resource id, if any.
func (c *Cache) Delete(resourceID uint) {
	c.mu.Lock()
	delete(c.entries, resourceID)
	c.mu.Unlock()
}

// Sweep removes all expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for id, e := range c.entries {
		if now.After(e.expiresAt) {
			delete(c.entries, id)
			removed++
		}
	}
	return removed
}
