// Package breaker implements a per-route circuit breaker consulted by
// the retry interceptor before each attempt; the connection pool does
// not consult it (SPEC_FULL.md §4 "Per-route circuit breaker").
package breaker

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
)

// Config describes a single route's breaker condition, parsed once at
// construction time. StopIf accepts expressions like "errors > 10%"
// or "error_rate > 0.1".
type Config struct {
	StopIf     string
	MinSamples int64

	metric    string
	operator  string
	threshold float64
	isPercent bool
}

var conditionPattern = regexp.MustCompile(`(?i)(errors?|error_rate|failures?)\s*([><=]+)\s*([\d.]+)(%)?`)

func parseCondition(cfg *Config) error {
	expr := strings.TrimSpace(cfg.StopIf)
	if expr == "" {
		return fmt.Errorf("breaker: empty condition")
	}
	matches := conditionPattern.FindStringSubmatch(expr)
	if matches == nil {
		return fmt.Errorf("breaker: invalid condition %q, expected e.g. 'errors > 10%%' or 'error_rate > 0.1'", expr)
	}
	cfg.metric = strings.ToLower(matches[1])
	cfg.operator = matches[2]
	threshold, err := strconv.ParseFloat(matches[3], 64)
	if err != nil {
		return fmt.Errorf("breaker: invalid threshold %q: %w", matches[3], err)
	}
	cfg.threshold = threshold
	cfg.isPercent = matches[4] == "%"
	switch cfg.metric {
	case "error", "errors":
		cfg.metric = "errors"
	case "failure", "failures":
		cfg.metric = "failures"
	case "error_rate":
		cfg.metric = "error_rate"
	}
	return nil
}

// Breaker tracks trip state for a single route.
type Breaker struct {
	cfg     Config
	tripped int32
	mu      sync.Mutex
	reason  string
}

func newBreaker(cfg Config) (*Breaker, error) {
	if err := parseCondition(&cfg); err != nil {
		return nil, err
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 100
	}
	return &Breaker{cfg: cfg}, nil
}

// Record reports the outcome of one attempt and returns whether the
// breaker is now (or was already) tripped.
func (b *Breaker) Record(total, failures int64) bool {
	if b == nil {
		return false
	}
	if atomic.LoadInt32(&b.tripped) == 1 {
		return true
	}
	if total < b.cfg.MinSamples {
		return false
	}

	var value float64
	switch b.cfg.metric {
	case "errors", "error_rate":
		if b.cfg.isPercent {
			value = float64(failures) / float64(total) * 100
		} else {
			value = float64(failures) / float64(total)
		}
	case "failures":
		value = float64(failures)
	default:
		return false
	}

	trip := false
	switch b.cfg.operator {
	case ">":
		trip = value > b.cfg.threshold
	case ">=":
		trip = value >= b.cfg.threshold
	case "<":
		trip = value < b.cfg.threshold
	case "<=":
		trip = value <= b.cfg.threshold
	}
	if !trip {
		return false
	}

	b.mu.Lock()
	if atomic.CompareAndSwapInt32(&b.tripped, 0, 1) {
		if b.cfg.isPercent {
			b.reason = fmt.Sprintf("%s (%.1f%%) exceeded threshold (%.1f%%)", b.cfg.metric, value, b.cfg.threshold)
		} else {
			b.reason = fmt.Sprintf("%s (%.3f) exceeded threshold (%.3f)", b.cfg.metric, value, b.cfg.threshold)
		}
	}
	b.mu.Unlock()
	return true
}

// Tripped reports the current trip state without recording a sample.
func (b *Breaker) Tripped() bool {
	if b == nil {
		return false
	}
	return atomic.LoadInt32(&b.tripped) == 1
}

// Reason returns the human-readable trip reason, or "" if not tripped.
func (b *Breaker) Reason() string {
	if b == nil {
		return ""
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// Reset clears the trip state, allowing the route to be retried.
func (b *Breaker) Reset() {
	if b == nil {
		return
	}
	atomic.StoreInt32(&b.tripped, 0)
	b.mu.Lock()
	b.reason = ""
	b.mu.Unlock()
}

// Registry owns one Breaker per route, created lazily from a shared
// Config template the first time a route is seen.
type Registry struct {
	template Config
	mu       sync.Mutex
	byRoute  map[string]*Breaker
	counts   map[string]*sample
}

type sample struct {
	total    int64
	failures int64
}

// NewRegistry returns a Registry that lazily instantiates a Breaker
// per route using template. A nil StopIf disables breaking entirely;
// ForRoute then always returns a nil *Breaker, and Tripped/Record on a
// nil *Breaker are safe no-ops.
func NewRegistry(template Config) *Registry {
	return &Registry{
		template: template,
		byRoute:  make(map[string]*Breaker),
		counts:   make(map[string]*sample),
	}
}

// ForRoute returns the Breaker for route, creating it on first use. It
// returns nil when the registry is nil, template.StopIf is empty, or
// template.StopIf is malformed (which Validate reports up front).
func (r *Registry) ForRoute(route string) *Breaker {
	if r == nil || r.template.StopIf == "" {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.byRoute[route]; ok {
		return b
	}
	b, err := newBreaker(r.template)
	if err != nil {
		// Validate should have caught this at construction time; fail
		// open rather than panic deep in a request path.
		return nil
	}
	r.byRoute[route] = b
	return b
}

// Observe records one attempt outcome for route and returns whether
// the route's breaker is tripped afterward.
func (r *Registry) Observe(route string, failed bool) bool {
	b := r.ForRoute(route)
	if b == nil {
		return false
	}
	r.mu.Lock()
	s, ok := r.counts[route]
	if !ok {
		s = &sample{}
		r.counts[route] = s
	}
	s.total++
	if failed {
		s.failures++
	}
	total, failures := s.total, s.failures
	r.mu.Unlock()
	return b.Record(total, failures)
}

// Validate parses template.StopIf without constructing a Registry,
// for use by configuration validation before any request runs.
func Validate(template Config) error {
	cfg := template
	return parseCondition(&cfg)
}
