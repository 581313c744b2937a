// Package health implements the periodic health supervisor: three probes
// against the interception engine, a rolling memory history, and a bounded
// automatic-restart policy with an edge-triggered change callback.
package health

import (
	"fmt"
	"net"
	"runtime"
	"sync"
	"time"
)

const (
	defaultInterval           = 30 * time.Second
	defaultDialTimeout        = 5 * time.Second
	defaultMaxRestartAttempts = 3
	defaultRestartDelay       = 5 * time.Second
	defaultSettleDelay        = 2 * time.Second
	historyCap                = 50
	memoryTrendThreshold      = 10 * 1024 * 1024 // 10 MiB
)

// MemoryTrend is the direction of heap growth over the last three samples.
type MemoryTrend string

const (
	TrendIncreasing MemoryTrend = "increasing"
	TrendDecreasing MemoryTrend = "decreasing"
	TrendStable     MemoryTrend = "stable"
)

// Config configures a Supervisor. Addr is the interception engine's listen
// address, dialed for probes 1 and 2. RunningCheck backs probe 3 (the
// engine's self-reported run flag, an indirect proxy for storage
// writability per spec.md §4.E). StartFunc/StopFunc drive the restart
// policy.
type Config struct {
	Addr         string
	DialTimeout  time.Duration
	Interval     time.Duration
	RunningCheck func() bool

	MaxRestartAttempts int
	RestartDelay       time.Duration
	SettleDelay        time.Duration
	StartFunc          func() error
	StopFunc           func() error

	// OnHealthChange fires exactly once per healthy<->unhealthy edge, never
	// on a steady-state tick.
	OnHealthChange func(healthy bool)

	// OnRestartAttempt fires once per actual stop/start cycle the restart
	// policy performs (not when an edge is seen but the attempt budget is
	// already exhausted). Wired by NewMetrics (metrics.go) to the
	// restarts-total counter.
	OnRestartAttempt func()
}

func (c *Config) setDefaults() {
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.Interval <= 0 {
		c.Interval = defaultInterval
	}
	if c.MaxRestartAttempts <= 0 {
		c.MaxRestartAttempts = defaultMaxRestartAttempts
	}
	if c.RestartDelay <= 0 {
		c.RestartDelay = defaultRestartDelay
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = defaultSettleDelay
	}
}

type sample struct {
	heapBytes uint64
	healthy   bool
}

// Status is a point-in-time snapshot of the supervisor's computed state.
type Status struct {
	Healthy         bool
	Degraded        bool
	UptimePercent   float64
	MemoryTrend     MemoryTrend
	RestartAttempts int
	SampleCount     int
	LastProbeAt     time.Time
}

// Supervisor runs the periodic probe/restart loop.
type Supervisor struct {
	cfg Config

	mu        sync.Mutex
	history   []sample
	healthy   bool
	degraded  bool
	attempts  int
	started   bool
	lastProbe time.Time

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New builds a Supervisor. The returned supervisor is not yet running;
// call Start to begin the probe ticker.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("health: Addr is required")
	}
	if cfg.RunningCheck == nil {
		return nil, fmt.Errorf("health: RunningCheck is required")
	}
	cfg.setDefaults()
	return &Supervisor{cfg: cfg, healthy: true, stopCh: make(chan struct{})}, nil
}

// OnRestartAttempt registers a callback invoked once per actual restart
// cycle. Must be called before Start.
func (s *Supervisor) OnRestartAttempt(fn func()) {
	s.cfg.OnRestartAttempt = fn
}

// Start begins the periodic probe loop in the background.
func (s *Supervisor) Start() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.loop()
}

// Stop halts the probe loop and waits for it to exit.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()
}

func (s *Supervisor) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopCh:
			return
		}
	}
}

// tick runs the three probes once, updates the rolling history, and drives
// the restart policy on a healthy<->unhealthy edge.
func (s *Supervisor) tick() {
	healthy := s.runProbes()

	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	s.mu.Lock()
	wasHealthy := s.healthy
	s.lastProbe = time.Now()
	s.history = append(s.history, sample{heapBytes: memStats.HeapAlloc, healthy: healthy})
	if len(s.history) > historyCap {
		s.history = s.history[len(s.history)-historyCap:]
	}
	s.healthy = healthy
	s.mu.Unlock()

	if wasHealthy == healthy {
		return
	}
	if s.cfg.OnHealthChange != nil {
		s.cfg.OnHealthChange(healthy)
	}
	if !healthy {
		s.onUnhealthyEdge()
	} else {
		s.mu.Lock()
		s.attempts = 0
		s.mu.Unlock()
	}
}

// runProbes executes the three spec.md §4.E checks. Probe 3 is indirect:
// it trusts the engine's own self-reported run flag rather than touching
// storage directly.
func (s *Supervisor) runProbes() bool {
	responsive := dialProbe(s.cfg.Addr, s.cfg.DialTimeout)
	listening := dialProbe(s.cfg.Addr, s.cfg.DialTimeout)
	running := s.cfg.RunningCheck()
	return responsive && listening && running
}

func dialProbe(addr string, timeout time.Duration) bool {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// onUnhealthyEdge applies the bounded restart policy. Attempts beyond the
// configured maximum cease automatic restarts and leave the supervisor
// degraded until Reset is called by an operator.
func (s *Supervisor) onUnhealthyEdge() {
	s.mu.Lock()
	s.attempts++
	attempts := s.attempts
	max := s.cfg.MaxRestartAttempts
	s.mu.Unlock()

	if attempts > max {
		s.mu.Lock()
		s.degraded = true
		s.mu.Unlock()
		return
	}

	if s.cfg.OnRestartAttempt != nil {
		s.cfg.OnRestartAttempt()
	}

	time.Sleep(s.cfg.RestartDelay)
	if s.cfg.StopFunc != nil {
		_ = s.cfg.StopFunc()
	}
	time.Sleep(s.cfg.SettleDelay)
	if s.cfg.StartFunc != nil {
		_ = s.cfg.StartFunc()
	}
}

// Reset clears the degraded state and restart-attempt count, for operator
// intervention after automatic restarts have been exhausted.
func (s *Supervisor) Reset() {
	s.mu.Lock()
	s.degraded = false
	s.attempts = 0
	s.mu.Unlock()
}

// Status computes the supervisor's current derived state: uptime
// percentage across the full history, and memory trend across the last
// three samples.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Healthy:         s.healthy,
		Degraded:        s.degraded,
		RestartAttempts: s.attempts,
		SampleCount:     len(s.history),
		LastProbeAt:     s.lastProbe,
		MemoryTrend:     TrendStable,
	}

	if len(s.history) == 0 {
		st.UptimePercent = 100
		return st
	}

	var passed int
	for _, sm := range s.history {
		if sm.healthy {
			passed++
		}
	}
	st.UptimePercent = 100 * float64(passed) / float64(len(s.history))
	st.MemoryTrend = memoryTrend(s.history)
	return st
}

// memoryTrend classifies the last three samples (or fewer, early on) using
// a 10 MiB threshold between consecutive samples.
func memoryTrend(history []sample) MemoryTrend {
	n := len(history)
	if n < 2 {
		return TrendStable
	}
	start := n - 3
	if start < 0 {
		start = 0
	}
	window := history[start:]

	var increases, decreases int
	for i := 1; i < len(window); i++ {
		delta := int64(window[i].heapBytes) - int64(window[i-1].heapBytes)
		switch {
		case delta > memoryTrendThreshold:
			increases++
		case delta < -memoryTrendThreshold:
			decreases++
		}
	}
	switch {
	case increases > 0 && decreases == 0:
		return TrendIncreasing
	case decreases > 0 && increases == 0:
		return TrendDecreasing
	default:
		return TrendStable
	}
}
