package access

import (
	"sync"
	"time"
)

// liveToken is the authoritative record of the one valid token per vehicle.
// A presented blob is only accepted while a matching live entry exists.
type liveToken struct {
	blob       string
	tokenValue string
	issuedAt   time.Time
	expiresAt  time.Time
	version    int
}

// tokenCache holds at most one live token per vehicle. Issuing a replacement
// overwrites the previous entry, which invalidates any blob still sealed with
// the old token value. Entries are evicted lazily on read.
type tokenCache struct {
	mu      sync.Mutex
	now     func() time.Time
	entries map[string]liveToken
}

func newTokenCache(now func() time.Time) *tokenCache {
	if now == nil {
		now = time.Now
	}
	return &tokenCache{
		now:     now,
		entries: make(map[string]liveToken),
	}
}

// get returns the live token for a vehicle, if one exists and has not expired.
// Expired entries are removed on the way out.
func (c *tokenCache) get(vehicleID string) (liveToken, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[vehicleID]
	if !ok {
		return liveToken{}, false
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, vehicleID)
		return liveToken{}, false
	}
	return entry, true
}

// put installs the new live token for a vehicle, replacing any prior entry.
func (c *tokenCache) put(vehicleID string, entry liveToken) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[vehicleID] = entry
}

// revoke drops the live token for a vehicle, if any.
func (c *tokenCache) revoke(vehicleID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, vehicleID)
}
