package intercept

import (
	"context"
	"net"
	"sync"
	"time"
)

const dnsCacheTTL = 5 * time.Minute

type dnsEntry struct {
	addr      string
	expiresAt time.Time
}

// dnsCache caches the first resolved address for a hostname for
// dnsCacheTTL, per spec.md §4.D. It wraps the platform resolver; it never
// originates its own lookups beyond net.DefaultResolver.
type dnsCache struct {
	mu      sync.RWMutex
	entries map[string]dnsEntry
}

func newDNSCache() *dnsCache {
	return &dnsCache{entries: make(map[string]dnsEntry)}
}

// Resolve returns the first address for host, using the cache when fresh.
// On lookup failure it returns ok=false; callers stamp destination "unknown"
// and still attempt the connect with the original host per spec.md.
func (c *dnsCache) Resolve(ctx context.Context, host string) (addr string, ok bool) {
	c.mu.RLock()
	e, found := c.entries[host]
	c.mu.RUnlock()
	if found && time.Now().Before(e.expiresAt) {
		return e.addr, true
	}

	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil || len(addrs) == 0 {
		return "", false
	}

	c.mu.Lock()
	c.entries[host] = dnsEntry{addr: addrs[0], expiresAt: time.Now().Add(dnsCacheTTL)}
	c.mu.Unlock()
	return addrs[0], true
}
