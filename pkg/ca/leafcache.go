package ca

import (
	"crypto/tls"
	"sync"
	"time"
)

// LeafCache caches per-host leaf certificates so repeat connections to the
// same SNI host reuse both the certificate and its private key — the
// documented dev-only performance shortcut from spec.md §4.D.
type LeafCache struct {
	mu    sync.RWMutex
	certs map[string]*leafEntry
	ttl   time.Duration
	stop  chan struct{}
}

type leafEntry struct {
	cert      *tls.Certificate
	expiresAt time.Time
}

// NewLeafCache builds a cache with the given TTL and starts its background
// cleanup loop. A TTL of 0 uses the one-hour default.
func NewLeafCache(ttl time.Duration) *LeafCache {
	if ttl == 0 {
		ttl = time.Hour
	}
	c := &LeafCache{
		certs: make(map[string]*leafEntry),
		ttl:   ttl,
		stop:  make(chan struct{}),
	}
	go c.cleanupLoop(5 * time.Minute)
	return c
}

// Get returns a cached leaf certificate for host, if present and unexpired.
func (c *LeafCache) Get(host string) (*tls.Certificate, bool) {
	c.mu.RLock()
	entry, ok := c.certs[host]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		c.delete(host)
		return nil, false
	}
	return entry.cert, true
}

// Set stores a leaf certificate for host.
func (c *LeafCache) Set(host string, cert *tls.Certificate) {
	c.mu.Lock()
	c.certs[host] = &leafEntry{cert: cert, expiresAt: time.Now().Add(c.ttl)}
	c.mu.Unlock()
}

// GetOrIssue returns the cached leaf for host, issuing and caching a fresh
// one via the given CA if absent.
func (c *LeafCache) GetOrIssue(root *CA, host string) (*tls.Certificate, error) {
	if cert, ok := c.Get(host); ok {
		return cert, nil
	}

	certPEM, keyPEM, err := root.GenerateCert(host)
	if err != nil {
		return nil, err
	}
	tlsCert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, err
	}
	c.Set(host, &tlsCert)
	return &tlsCert, nil
}

func (c *LeafCache) delete(host string) {
	c.mu.Lock()
	delete(c.certs, host)
	c.mu.Unlock()
}

func (c *LeafCache) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for host, entry := range c.certs {
				if now.After(entry.expiresAt) {
					delete(c.certs, host)
				}
			}
			c.mu.Unlock()
		case <-c.stop:
			return
		}
	}
}

// Stop terminates the background cleanup loop.
func (c *LeafCache) Stop() {
	close(c.stop)
}
