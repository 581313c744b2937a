package intercept

import "sync/atomic"

// Stats holds the atomic counters spec.md §4.D requires: total requests,
// total WebSocket connections, and the current count of active connections
// (HTTP legs in flight plus open WebSocket tunnels).
type Stats struct {
	totalRequests  atomic.Int64
	totalWSConns   atomic.Int64
	activeConns    atomic.Int64
}

// Snapshot is a point-in-time read of Stats, safe to pass by value.
type Snapshot struct {
	TotalRequests int64
	TotalWSConns  int64
	ActiveConns   int64
}

func (s *Stats) incRequests()   { s.totalRequests.Add(1) }
func (s *Stats) incWSConns()    { s.totalWSConns.Add(1) }
func (s *Stats) connOpened()    { s.activeConns.Add(1) }
func (s *Stats) connClosed()    { s.activeConns.Add(-1) }

// Snapshot returns the current counter values.
func (s *Stats) Snapshot() Snapshot {
	return Snapshot{
		TotalRequests: s.totalRequests.Load(),
		TotalWSConns:  s.totalWSConns.Load(),
		ActiveConns:   s.activeConns.Load(),
	}
}
