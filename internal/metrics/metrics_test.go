package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
)

func TestLeaseLifecycleUpdatesSnapshot(t *testing.T) {
	r := New(prometheus.NewRegistry())
	r.SetMax(5)
	r.LeaseAcquired("a")
	snap := r.Snapshot("a")
	require.Equal(t, 1, snap.Leased)
	require.Equal(t, 5, snap.Max)

	r.LeaseReleased("a", true)
	snap = r.Snapshot("a")
	require.Equal(t, 0, snap.Leased)
	require.Equal(t, 1, snap.Available)
}

func TestObserveRequestTracksFailures(t *testing.T) {
	r := New(nil)
	r.ObserveRequest("a", 10*time.Millisecond, false)
	r.ObserveRequest("a", 20*time.Millisecond, true)
	total, failures := r.Counts("a")
	require.Equal(t, int64(2), total)
	require.Equal(t, int64(1), failures)
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.LeaseAcquired("a")
	r.ObserveRequest("a", time.Second, true)
	require.Equal(t, PoolStats{Route: "a"}, r.Snapshot("a"))
}

func TestLatencyQuantilesMonotonic(t *testing.T) {
	r := New(nil)
	for i := 1; i <= 100; i++ {
		r.ObserveRequest("a", time.Duration(i)*time.Millisecond, false)
	}
	p50, p95, p99 := r.LatencyQuantiles("a")
	require.LessOrEqual(t, p50, p95)
	require.LessOrEqual(t, p95, p99)
}
