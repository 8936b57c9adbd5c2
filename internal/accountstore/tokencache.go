package accountstore

import (
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// TokenCache holds short-lived access tokens keyed by "provider/accountID",
// expiring them a little ahead of the upstream's own expiry so a dispatch
// attempt never hands an adapter a token that is about to lapse mid-call.
type TokenCache struct {
	cache *gocache.Cache
}

// NewTokenCache creates a cache with a default 5 minute TTL and a 10 minute
// janitor sweep, matching the teacher's TokenRefreshInterval cadence.
func NewTokenCache() *TokenCache {
	return &TokenCache{cache: gocache.New(5*time.Minute, 10*time.Minute)}
}

// Get returns the cached access token for (provider, id), if still fresh.
func (c *TokenCache) Get(provider, id string) (string, bool) {
	v, ok := c.cache.Get(key(provider, id))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// Set caches an access token, expiring 30s before its stated absolute
// expiry (or using the cache's default TTL if expiresAt is zero).
func (c *TokenCache) Set(provider, id, accessToken string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		c.cache.SetDefault(key(provider, id), accessToken)
		return
	}
	ttl := time.Until(expiresAt) - 30*time.Second
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	c.cache.Set(key(provider, id), accessToken, ttl)
}

// Invalidate drops a cached token, forcing the next caller to refresh —
// used on a 401 so the very next attempt against this account re-derives
// its token instead of reusing the one that just failed.
func (c *TokenCache) Invalidate(provider, id string) {
	c.cache.Delete(key(provider, id))
}
