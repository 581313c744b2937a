package intercept

import (
	"testing"
	"time"
)

func TestCorrelationMapPrimaryKeyHit(t *testing.T) {
	m := newCorrelationMap()
	m.Put("req-1", "internal-1", time.Now())

	entry, ok := m.Resolve("req-1", "")
	if !ok || entry.internalID != "internal-1" {
		t.Fatalf("expected resolve to find internal-1, got %+v ok=%v", entry, ok)
	}
	if m.Len() != 0 {
		t.Errorf("expected entry removed after resolve, len=%d", m.Len())
	}
}

func TestCorrelationMapSecondaryFallback(t *testing.T) {
	m := newCorrelationMap()
	m.Put("secondary-1", "internal-2", time.Now())

	entry, ok := m.Resolve("missing-primary", "secondary-1")
	if !ok || entry.internalID != "internal-2" {
		t.Fatalf("expected fallback resolve to find internal-2, got %+v ok=%v", entry, ok)
	}
}

func TestCorrelationMapMissDropsResponse(t *testing.T) {
	m := newCorrelationMap()
	_, ok := m.Resolve("nope", "also-nope")
	if ok {
		t.Error("expected miss on both keys")
	}
}

func TestCorrelationMapClear(t *testing.T) {
	m := newCorrelationMap()
	m.Put("a", "x", time.Now())
	m.Put("b", "y", time.Now())
	m.Clear()
	if m.Len() != 0 {
		t.Errorf("expected empty map after Clear, len=%d", m.Len())
	}
}
