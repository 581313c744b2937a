package intercept

import "testing"

func TestStatsCounters(t *testing.T) {
	var s Stats
	s.incRequests()
	s.incRequests()
	s.incWSConns()
	s.connOpened()
	s.connOpened()
	s.connClosed()

	snap := s.Snapshot()
	if snap.TotalRequests != 2 {
		t.Errorf("expected 2 total requests, got %d", snap.TotalRequests)
	}
	if snap.TotalWSConns != 1 {
		t.Errorf("expected 1 total ws conn, got %d", snap.TotalWSConns)
	}
	if snap.ActiveConns != 1 {
		t.Errorf("expected 1 active conn, got %d", snap.ActiveConns)
	}
}
