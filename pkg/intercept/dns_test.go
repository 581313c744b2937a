package intercept

import (
	"context"
	"testing"
	"time"
)

func TestDNSCacheReusesEntryWithinTTL(t *testing.T) {
	c := newDNSCache()
	c.entries["example.invalid"] = dnsEntry{addr: "203.0.113.5", expiresAt: time.Now().Add(dnsCacheTTL)}

	addr, ok := c.Resolve(context.Background(), "example.invalid")
	if !ok || addr != "203.0.113.5" {
		t.Fatalf("expected cached entry to be reused, got %q ok=%v", addr, ok)
	}
}

func TestDNSCacheExpiredEntryIsNotReused(t *testing.T) {
	c := newDNSCache()
	c.entries["stale.invalid"] = dnsEntry{addr: "203.0.113.9", expiresAt: time.Now().Add(-time.Second)}

	// A made-up TLD will fail real resolution, so the stale entry's presence
	// (not its value) is what we're asserting: Resolve must not short-circuit
	// on an expired entry.
	_, ok := c.Resolve(context.Background(), "stale.invalid")
	if ok {
		t.Error("expected expired cache entry to require re-resolution, which fails for an invalid TLD")
	}
}
