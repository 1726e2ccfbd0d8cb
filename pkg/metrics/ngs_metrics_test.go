package metrics

import (
	"testing"
	"time"
)

func TestPoolStatsCondition(t *testing.T) {
	tests := []struct {
		name  string
		stats PoolStats
		want  PoolCondition
	}{
		{"unlimited pool", PoolStats{InUse: 50}, PoolHealthy},
		{"low utilization", PoolStats{InUse: 2, MaxOpen: 10}, PoolHealthy},
		{"high utilization", PoolStats{InUse: 8, MaxOpen: 10}, PoolDegraded},
		{"saturated", PoolStats{InUse: 10, MaxOpen: 10}, PoolExhausted},
		{"long waits", PoolStats{InUse: 1, MaxOpen: 10, WaitCount: 3, WaitDuration: 6 * time.Second}, PoolDegraded},
		{"short waits stay healthy", PoolStats{InUse: 1, MaxOpen: 10, WaitCount: 3, WaitDuration: time.Second}, PoolHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.Condition(); got != tt.want {
				t.Errorf("Condition() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestLatencyTrackerPercentiles(t *testing.T) {
	tr := NewLatencyTracker(100)
	for i := 1; i <= 100; i++ {
		tr.Record(time.Duration(i) * time.Millisecond)
	}

	snap := tr.Snapshot()
	if snap.Count != 100 {
		t.Fatalf("Count = %d, want 100", snap.Count)
	}
	if snap.P50 < 45*time.Millisecond || snap.P50 > 55*time.Millisecond {
		t.Errorf("P50 = %v, want ~50ms", snap.P50)
	}
	if snap.P99 < 95*time.Millisecond {
		t.Errorf("P99 = %v, want >=95ms", snap.P99)
	}
	if snap.Max != 100*time.Millisecond {
		t.Errorf("Max = %v, want 100ms", snap.Max)
	}
}

func TestLatencyTrackerWindowSlides(t *testing.T) {
	tr := NewLatencyTracker(10)
	for i := 0; i < 50; i++ {
		tr.Record(time.Millisecond)
	}
	if snap := tr.Snapshot(); snap.Count > 10 {
		t.Errorf("Count = %d, window is 10", snap.Count)
	}
}

func TestLatencyTrackerEmpty(t *testing.T) {
	tr := NewLatencyTracker(10)
	if snap := tr.Snapshot(); snap.Count != 0 || snap.P99 != 0 {
		t.Errorf("empty snapshot = %+v, want zero value", snap)
	}
}

func TestLatencySet(t *testing.T) {
	set := NewLatencySet(100)
	set.Record("email.parse", 20*time.Millisecond)
	set.Record("email.parse", 40*time.Millisecond)
	set.Record("event.correlate", 5*time.Millisecond)

	snaps := set.Snapshots()
	if len(snaps) != 2 {
		t.Fatalf("Snapshots() has %d keys, want 2", len(snaps))
	}
	if snaps["email.parse"].Count != 2 {
		t.Errorf("email.parse count = %d, want 2", snaps["email.parse"].Count)
	}
}
