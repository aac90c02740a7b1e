package auth

import (
	"context"
	"sync"
	"time"
)

// defaultSweepInterval is how often Run removes expired entries.
const defaultSweepInterval = time.Minute

// RevocationCache remembers logged-out access tokens by jti until they
// would have expired anyway.
type RevocationCache struct {
	mu      sync.Mutex
	entries map[string]time.Time
	now     func() time.Time
}

// NewRevocationCache creates an empty cache. A nil now uses time.Now.
func NewRevocationCache(now func() time.Time) *RevocationCache {
	if now == nil {
		now = time.Now
	}
	return &RevocationCache{
		entries: make(map[string]time.Time),
		now:     now,
	}
}

// Revoke marks jti as revoked until expiresAt.
func (c *RevocationCache) Revoke(jti string, expiresAt time.Time) {
	if jti == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[jti] = expiresAt
}

// IsRevoked reports whether jti was revoked and has not yet expired.
func (c *RevocationCache) IsRevoked(jti string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	exp, ok := c.entries[jti]
	if !ok {
		return false
	}
	if !c.now().Before(exp) {
		delete(c.entries, jti)
		return false
	}
	return true
}

// Len returns the number of tracked entries.
func (c *RevocationCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes expired entries.
func (c *RevocationCache) Sweep() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	for jti, exp := range c.entries {
		if !now.Before(exp) {
			delete(c.entries, jti)
		}
	}
}

// Run sweeps periodically until ctx is cancelled.
func (c *RevocationCache) Run(ctx context.Context) {
	ticker := time.NewTicker(defaultSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Sweep()
		}
	}
}
