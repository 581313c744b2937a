package ca

import (
	"testing"
	"time"
)

func TestLeafCacheReuse(t *testing.T) {
	root, err := New(nil)
	if err != nil {
		t.Fatalf("failed to create CA: %v", err)
	}
	cache := NewLeafCache(time.Minute)
	defer cache.Stop()

	cert1, err := cache.GetOrIssue(root, "example.com")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	cert2, err := cache.GetOrIssue(root, "example.com")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if cert1 != cert2 {
		t.Error("expected cached leaf to be reused for the same host")
	}
}

func TestLeafCacheExpiry(t *testing.T) {
	root, err := New(nil)
	if err != nil {
		t.Fatalf("failed to create CA: %v", err)
	}
	cache := NewLeafCache(time.Nanosecond)
	defer cache.Stop()

	first, err := cache.GetOrIssue(root, "example.com")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	time.Sleep(time.Millisecond)
	second, err := cache.GetOrIssue(root, "example.com")
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if first == second {
		t.Error("expected expired leaf to be reissued")
	}
}
