package intercept

import (
	"sync"
	"time"
)

// correlationEntry pairs an internal transaction id with its capture start
// time, stashed under the upstream engine's own request identifier (when
// one is available) so the matching response can be found without
// re-deriving it from the request.
type correlationEntry struct {
	internalID string
	startedAt  time.Time
}

// correlationMap implements the dual-keyed correlation scheme of
// spec.md §4.D: lookup by upstream-engine request id first, falling back
// to a secondary key the engine stashed on the request object. A miss on
// both is a dropped response — the engine never invents a pairing.
type correlationMap struct {
	mu      sync.Mutex
	entries map[string]correlationEntry
}

func newCorrelationMap() *correlationMap {
	return &correlationMap{entries: make(map[string]correlationEntry)}
}

// Put records a new in-flight request under key.
func (m *correlationMap) Put(key, internalID string, startedAt time.Time) {
	m.mu.Lock()
	m.entries[key] = correlationEntry{internalID: internalID, startedAt: startedAt}
	m.mu.Unlock()
}

// Resolve looks up primaryKey, falling back to secondaryKey, removing the
// winning entry so the map stays bounded. ok is false if neither key hit.
func (m *correlationMap) Resolve(primaryKey, secondaryKey string) (entry correlationEntry, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, found := m.entries[primaryKey]; found {
		delete(m.entries, primaryKey)
		return e, true
	}
	if secondaryKey != "" {
		if e, found := m.entries[secondaryKey]; found {
			delete(m.entries, secondaryKey)
			return e, true
		}
	}
	return correlationEntry{}, false
}

// Remove releases an entry without resolving it (used on terminal error
// paths that never produce a correlated response).
func (m *correlationMap) Remove(key string) {
	m.mu.Lock()
	delete(m.entries, key)
	m.mu.Unlock()
}

// Len reports the number of in-flight entries (tests / diagnostics).
func (m *correlationMap) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Clear drops all in-flight entries, called on engine shutdown.
func (m *correlationMap) Clear() {
	m.mu.Lock()
	m.entries = make(map[string]correlationEntry)
	m.mu.Unlock()
}
