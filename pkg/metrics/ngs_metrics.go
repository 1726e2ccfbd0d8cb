// Package metrics provides in-process observation of connection pool
// pressure and job latency. Snapshots feed periodic health logging;
// nothing here is exported over the wire.
package metrics

import (
	"database/sql"
	"sort"
	"sync"
	"time"
)

// PoolStats is a point-in-time view of a sql.DB connection pool.
type PoolStats struct {
	Open         int
	InUse        int
	Idle         int
	MaxOpen      int
	WaitCount    int64
	WaitDuration time.Duration
}

// ReadPool snapshots a database pool. A nil db yields zero stats.
func ReadPool(db *sql.DB) PoolStats {
	if db == nil {
		return PoolStats{}
	}
	s := db.Stats()
	return PoolStats{
		Open:         s.OpenConnections,
		InUse:        s.InUse,
		Idle:         s.Idle,
		MaxOpen:      s.MaxOpenConnections,
		WaitCount:    s.WaitCount,
		WaitDuration: s.WaitDuration,
	}
}

// PoolCondition classifies pool pressure.
type PoolCondition string

const (
	PoolHealthy   PoolCondition = "healthy"
	PoolDegraded  PoolCondition = "degraded"
	PoolExhausted PoolCondition = "exhausted"
)

// Condition classifies the pool by utilization and accumulated wait
// time. An unlimited pool is always healthy.
func (s PoolStats) Condition() PoolCondition {
	if s.MaxOpen == 0 {
		return PoolHealthy
	}
	utilization := float64(s.InUse) / float64(s.MaxOpen)
	switch {
	case utilization >= 0.95:
		return PoolExhausted
	case utilization >= 0.80:
		return PoolDegraded
	}
	if s.WaitCount > 0 && s.WaitDuration > 5*time.Second {
		return PoolDegraded
	}
	return PoolHealthy
}

// Fields returns the stats as structured log fields.
func (s PoolStats) Fields() map[string]any {
	return map[string]any{
		"open":         s.Open,
		"in_use":       s.InUse,
		"idle":         s.Idle,
		"max_open":     s.MaxOpen,
		"wait_count":   s.WaitCount,
		"wait_ms":      s.WaitDuration.Milliseconds(),
		"condition":    string(s.Condition()),
	}
}

// LatencyTracker keeps a sliding window of duration samples and
// computes percentiles over it.
type LatencyTracker struct {
	mu      sync.Mutex
	samples []int64 // microseconds
	window  int
	sorted  bool
}

func NewLatencyTracker(window int) *LatencyTracker {
	if window <= 0 {
		window = 1000
	}
	return &LatencyTracker{
		samples: make([]int64, 0, window),
		window:  window,
	}
}

func (t *LatencyTracker) Record(d time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.samples) >= t.window {
		// Drop the oldest tenth in one shift instead of one sample per
		// Record.
		drop := t.window / 10
		if drop < 1 {
			drop = 1
		}
		t.samples = t.samples[drop:]
	}
	t.samples = append(t.samples, d.Microseconds())
	t.sorted = false
}

// LatencySnapshot summarizes the current window.
type LatencySnapshot struct {
	Count int
	Avg   time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
	Max   time.Duration
}

// Fields returns the snapshot as structured log fields.
func (s LatencySnapshot) Fields() map[string]any {
	return map[string]any{
		"count":  s.Count,
		"avg_ms": float64(s.Avg.Microseconds()) / 1000,
		"p50_ms": float64(s.P50.Microseconds()) / 1000,
		"p95_ms": float64(s.P95.Microseconds()) / 1000,
		"p99_ms": float64(s.P99.Microseconds()) / 1000,
		"max_ms": float64(s.Max.Microseconds()) / 1000,
	}
}

func (t *LatencyTracker) Snapshot() LatencySnapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.samples)
	if n == 0 {
		return LatencySnapshot{}
	}
	if !t.sorted {
		sort.Slice(t.samples, func(i, j int) bool { return t.samples[i] < t.samples[j] })
		t.sorted = true
	}

	var sum int64
	for _, v := range t.samples {
		sum += v
	}
	return LatencySnapshot{
		Count: n,
		Avg:   time.Duration(sum/int64(n)) * time.Microsecond,
		P50:   time.Duration(t.percentile(0.50)) * time.Microsecond,
		P95:   time.Duration(t.percentile(0.95)) * time.Microsecond,
		P99:   time.Duration(t.percentile(0.99)) * time.Microsecond,
		Max:   time.Duration(t.samples[n-1]) * time.Microsecond,
	}
}

// caller holds the lock with sorted samples
func (t *LatencyTracker) percentile(p float64) int64 {
	if len(t.samples) == 0 {
		return 0
	}
	return t.samples[int(float64(len(t.samples)-1)*p)]
}

// LatencySet tracks latencies under named keys, one tracker per key.
type LatencySet struct {
	mu       sync.RWMutex
	trackers map[string]*LatencyTracker
	window   int
}

func NewLatencySet(window int) *LatencySet {
	return &LatencySet{
		trackers: make(map[string]*LatencyTracker),
		window:   window,
	}
}

func (s *LatencySet) Record(name string, d time.Duration) {
	s.mu.RLock()
	tracker, ok := s.trackers[name]
	s.mu.RUnlock()

	if !ok {
		s.mu.Lock()
		if tracker, ok = s.trackers[name]; !ok {
			tracker = NewLatencyTracker(s.window)
			s.trackers[name] = tracker
		}
		s.mu.Unlock()
	}
	tracker.Record(d)
}

func (s *LatencySet) Snapshots() map[string]LatencySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]LatencySnapshot, len(s.trackers))
	for name, tracker := range s.trackers {
		out[name] = tracker.Snapshot()
	}
	return out
}
