// Package metrics aggregates per-route pool occupancy and latency
// data (spec.md §3 PoolStats, §9 observability open question) and
// exports it both as programmatic snapshots and as Prometheus gauges
// and counters.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/prometheus/client_golang/prometheus"
)

// PoolStats is a point-in-time view of one route's connection
// occupancy (spec.md §3).
type PoolStats struct {
	Route     string
	Leased    int
	Available int
	Pending   int
	Max       int
}

// routeData holds the mutable counters and histograms for one route.
type routeData struct {
	leased    int64
	available int64
	pending   int64

	mu            sync.Mutex
	leaseWaitHist *hdrhistogram.Histogram
	latencyHist   *hdrhistogram.Histogram

	requests int64
	failures int64
}

func newRouteData() *routeData {
	return &routeData{
		// 1µs floor, 30s ceiling, 3 significant figures — same bucket
		// shape the load-test monitor used for its request histogram.
		leaseWaitHist: hdrhistogram.New(1, 30000000, 3),
		latencyHist:   hdrhistogram.New(1, 30000000, 3),
	}
}

// Recorder is the pool and exec chain's shared metrics sink. A nil
// *Recorder is valid and records nothing, so components can accept
// one unconditionally and skip a nil check at each call site.
type Recorder struct {
	max int

	mu     sync.RWMutex
	routes map[string]*routeData

	leasedGauge    *prometheus.GaugeVec
	availableGauge *prometheus.GaugeVec
	pendingGauge   *prometheus.GaugeVec
	requestCounter *prometheus.CounterVec
	failureCounter *prometheus.CounterVec
	latencyHisto   *prometheus.HistogramVec
	leaseWaitHisto *prometheus.HistogramVec
}

// New returns a Recorder. If reg is non-nil, Prometheus collectors are
// registered against it; a nil reg skips Prometheus export entirely
// (useful in tests that only care about Snapshot).
func New(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		routes: make(map[string]*routeData),
		leasedGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "transit", Subsystem: "pool", Name: "leased",
			Help: "Connections currently leased, per route.",
		}, []string{"route"}),
		availableGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "transit", Subsystem: "pool", Name: "available",
			Help: "Idle connections available for reuse, per route.",
		}, []string{"route"}),
		pendingGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "transit", Subsystem: "pool", Name: "pending",
			Help: "Lease requests currently queued, per route.",
		}, []string{"route"}),
		requestCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transit", Subsystem: "exec", Name: "requests_total",
			Help: "Requests executed, per route.",
		}, []string{"route"}),
		failureCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "transit", Subsystem: "exec", Name: "failures_total",
			Help: "Requests that ended in an error, per route.",
		}, []string{"route"}),
		latencyHisto: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "transit", Subsystem: "exec", Name: "latency_seconds",
			Help:    "End-to-end request latency, per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		leaseWaitHisto: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "transit", Subsystem: "pool", Name: "lease_wait_seconds",
			Help:    "Time spent waiting for a pooled connection, per route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
	if reg != nil {
		reg.MustRegister(r.leasedGauge, r.availableGauge, r.pendingGauge,
			r.requestCounter, r.failureCounter, r.latencyHisto, r.leaseWaitHisto)
	}
	return r
}

func (r *Recorder) data(route string) *routeData {
	r.mu.RLock()
	d, ok := r.routes[route]
	r.mu.RUnlock()
	if ok {
		return d
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.routes[route]; ok {
		return d
	}
	d = newRouteData()
	r.routes[route] = d
	return d
}

// SetMax records the pool-wide MaxPerRoute so Snapshot can report it.
func (r *Recorder) SetMax(max int) {
	if r == nil {
		return
	}
	r.max = max
}

// LeaseAcquired increments the leased count. It leaves pending
// unchanged; WaiterDequeued decrements that.
func (r *Recorder) LeaseAcquired(route string) {
	if r == nil {
		return
	}
	d := r.data(route)
	atomic.AddInt64(&d.leased, 1)
	if r.leasedGauge != nil {
		r.leasedGauge.WithLabelValues(route).Inc()
	}
}

// LeaseReleased decrements leased and increments available when the
// connection is kept for reuse.
func (r *Recorder) LeaseReleased(route string, reusable bool) {
	if r == nil {
		return
	}
	d := r.data(route)
	atomic.AddInt64(&d.leased, -1)
	if r.leasedGauge != nil {
		r.leasedGauge.WithLabelValues(route).Dec()
	}
	if reusable {
		atomic.AddInt64(&d.available, 1)
		if r.availableGauge != nil {
			r.availableGauge.WithLabelValues(route).Inc()
		}
	}
}

// IdleConsumed decrements the available count when an idle connection
// is handed to a new lease instead of a fresh one being opened.
func (r *Recorder) IdleConsumed(route string) {
	if r == nil {
		return
	}
	d := r.data(route)
	atomic.AddInt64(&d.available, -1)
	if r.availableGauge != nil {
		r.availableGauge.WithLabelValues(route).Dec()
	}
}

// IdleEvicted decrements available when the pool closes an idle,
// expired, or stale connection outside of a lease.
func (r *Recorder) IdleEvicted(route string) {
	if r == nil {
		return
	}
	d := r.data(route)
	atomic.AddInt64(&d.available, -1)
	if r.availableGauge != nil {
		r.availableGauge.WithLabelValues(route).Dec()
	}
}

// WaiterQueued/WaiterDequeued track the pending lease-request queue.
func (r *Recorder) WaiterQueued(route string) {
	if r == nil {
		return
	}
	d := r.data(route)
	atomic.AddInt64(&d.pending, 1)
	if r.pendingGauge != nil {
		r.pendingGauge.WithLabelValues(route).Inc()
	}
}

func (r *Recorder) WaiterDequeued(route string) {
	if r == nil {
		return
	}
	d := r.data(route)
	atomic.AddInt64(&d.pending, -1)
	if r.pendingGauge != nil {
		r.pendingGauge.WithLabelValues(route).Dec()
	}
}

// ObserveLeaseWait records how long a lease request waited before
// being satisfied.
func (r *Recorder) ObserveLeaseWait(route string, d time.Duration) {
	if r == nil {
		return
	}
	data := r.data(route)
	data.mu.Lock()
	_ = data.leaseWaitHist.RecordValue(d.Microseconds())
	data.mu.Unlock()
	if r.leaseWaitHisto != nil {
		r.leaseWaitHisto.WithLabelValues(route).Observe(d.Seconds())
	}
}

// ObserveRequest records the outcome and latency of one completed
// exchange attempt.
func (r *Recorder) ObserveRequest(route string, latency time.Duration, failed bool) {
	if r == nil {
		return
	}
	data := r.data(route)
	atomic.AddInt64(&data.requests, 1)
	if failed {
		atomic.AddInt64(&data.failures, 1)
	}
	data.mu.Lock()
	_ = data.latencyHist.RecordValue(latency.Microseconds())
	data.mu.Unlock()

	if r.requestCounter != nil {
		r.requestCounter.WithLabelValues(route).Inc()
	}
	if failed && r.failureCounter != nil {
		r.failureCounter.WithLabelValues(route).Inc()
	}
	if r.latencyHisto != nil {
		r.latencyHisto.WithLabelValues(route).Observe(latency.Seconds())
	}
}

// Counts returns the raw request/failure totals for route, for the
// circuit breaker to evaluate against.
func (r *Recorder) Counts(route string) (total, failures int64) {
	if r == nil {
		return 0, 0
	}
	d := r.data(route)
	return atomic.LoadInt64(&d.requests), atomic.LoadInt64(&d.failures)
}

// Snapshot returns the current PoolStats for route.
func (r *Recorder) Snapshot(route string) PoolStats {
	if r == nil {
		return PoolStats{Route: route}
	}
	d := r.data(route)
	return PoolStats{
		Route:     route,
		Leased:    int(atomic.LoadInt64(&d.leased)),
		Available: int(atomic.LoadInt64(&d.available)),
		Pending:   int(atomic.LoadInt64(&d.pending)),
		Max:       r.max,
	}
}

// LatencyQuantiles returns p50/p95/p99 end-to-end latency for route.
func (r *Recorder) LatencyQuantiles(route string) (p50, p95, p99 time.Duration) {
	if r == nil {
		return 0, 0, 0
	}
	d := r.data(route)
	d.mu.Lock()
	defer d.mu.Unlock()
	return time.Duration(d.latencyHist.ValueAtQuantile(50)) * time.Microsecond,
		time.Duration(d.latencyHist.ValueAtQuantile(95)) * time.Microsecond,
		time.Duration(d.latencyHist.ValueAtQuantile(99)) * time.Microsecond
}
