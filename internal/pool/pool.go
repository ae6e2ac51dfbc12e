// Package pool implements the per-route leased/idle connection state
// machine (spec.md §4.4, C4): lease acquisition with FIFO waiters,
// validate-after-inactivity probing, idle/TTL eviction, and user-token
// affinity.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/google/uuid"

	"github.com/transit-http/transit/internal/metrics"
	"github.com/transit-http/transit/internal/route"
	"github.com/transit-http/transit/internal/transport"
)

// ErrLeaseTimeout is returned when a lease request waits past its
// deadline without a connection becoming available.
var ErrLeaseTimeout = errors.New("pool: lease wait timed out")

// ErrPoolClosed is returned by Acquire once Close has been called.
var ErrPoolClosed = errors.New("pool: closed")

// validationProbeTimeout bounds the liveness check run against a
// connection that has sat idle past ValidateAfterInactivity.
const validationProbeTimeout = 50 * time.Millisecond

// Factory dials a new endpoint for rt at the resolved addr.
type Factory func(ctx context.Context, rt route.Route, addr string) (transport.Endpoint, error)

// Config holds the pool-wide limits from ClientConfig relevant to C4.
type Config struct {
	MaxPerRoute             int
	MaxTotal                int
	ValidateAfterInactivity time.Duration // < 0 disables probing
	TimeToLive              time.Duration // 0 = unlimited
	IdleTimeout             time.Duration
}

// LeaseRequest describes one caller's request for a connection.
type LeaseRequest struct {
	ID        string
	Route     route.Route
	UserToken any
	Deadline  time.Time
}

// Lease is a held connection. Release must be called exactly once.
type Lease struct {
	Endpoint transport.Endpoint
	Fresh    bool

	pool  *Pool
	route route.Route
	token any
}

// Release returns the endpoint to the pool. reusable must reflect
// whether the endpoint's last exchange left the wire in a clean state
// (transport.Endpoint.Reusable(), re-checked by the caller after the
// response body is fully drained).
func (l *Lease) Release(reusable bool) {
	l.pool.release(l.route, l.Endpoint, l.token, reusable)
}

type pooledConn struct {
	ep        transport.Endpoint
	createdAt time.Time
	lastUsed  time.Time
	token     any
}

type waiter struct {
	req      LeaseRequest
	ctx      context.Context
	resultCh chan leaseResult
}

type leaseResult struct {
	lease *Lease
	err   error
}

type routeState struct {
	route       route.Route
	idle        *list.List // of *pooledConn, front = most recently released
	leasedCount int
	waiters     *list.List // of *waiter, front = next to serve
}

func newRouteState(rt route.Route) *routeState {
	return &routeState{route: rt, idle: list.New(), waiters: list.New()}
}

// Pool owns all per-route state for one Client.
type Pool struct {
	cfg      Config
	factory  Factory
	recorder *metrics.Recorder

	mu         sync.Mutex
	routes     map[string]*routeState
	totalCount int
	closed     bool

	resolveGroup singleflight.Group
	resolver     *net.Resolver
}

// New returns a Pool. factory performs the actual dial/handshake for
// a freshly created endpoint; recorder may be nil.
func New(cfg Config, factory Factory, recorder *metrics.Recorder) *Pool {
	if recorder != nil {
		recorder.SetMax(cfg.MaxPerRoute)
	}
	return &Pool{
		cfg:      cfg,
		factory:  factory,
		recorder: recorder,
		routes:   make(map[string]*routeState),
		resolver: net.DefaultResolver,
	}
}

func (p *Pool) state(rt route.Route) *routeState {
	key := rt.Key()
	rs, ok := p.routes[key]
	if !ok {
		rs = newRouteState(rt)
		p.routes[key] = rs
	}
	return rs
}

// resolveAddr resolves rt's host to a dialable address. Concurrent
// resolutions for the same route collapse into a single DNS lookup
// via singleflight — the common case when a batch of requests to a
// previously-cold route arrive at once and would otherwise each issue
// their own redundant lookup.
func (p *Pool) resolveAddr(ctx context.Context, rt route.Route) (string, error) {
	v, err, _ := p.resolveGroup.Do(rt.Key(), func() (interface{}, error) {
		addrs, err := p.resolver.LookupHost(ctx, rt.Host)
		if err != nil || len(addrs) == 0 {
			// Fall back to the literal host; Dial will surface any
			// real resolution failure itself.
			return net.JoinHostPort(rt.Host, strconv.Itoa(rt.Port)), nil
		}
		return net.JoinHostPort(addrs[0], strconv.Itoa(rt.Port)), nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Acquire obtains a connection for req, reusing an idle one when
// available, dialing a fresh one under the route/pool capacity caps,
// or queuing FIFO behind other waiters until one frees up or
// req.Deadline passes.
func (p *Pool) Acquire(ctx context.Context, req LeaseRequest) (*Lease, error) {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	rs := p.state(req.Route)

	for {
		if le, matched := p.popIdleLocked(rs, req.UserToken); le != nil {
			p.mu.Unlock()
			return p.wrapReused(req, le, matched), nil
		}
		if rs.leasedCount < p.cfg.MaxPerRoute && p.totalCount < p.cfg.MaxTotal {
			rs.leasedCount++
			p.totalCount++
			p.mu.Unlock()
			return p.dialFresh(ctx, req)
		}
		// Over capacity: queue and wait.
		w := &waiter{req: req, ctx: ctx, resultCh: make(chan leaseResult, 1)}
		elem := rs.waiters.PushBack(w)
		if p.recorder != nil {
			p.recorder.WaiterQueued(req.Route.Key())
		}
		p.mu.Unlock()

		waitStart := time.Now()
		select {
		case res := <-w.resultCh:
			if p.recorder != nil {
				p.recorder.ObserveLeaseWait(req.Route.Key(), time.Since(waitStart))
			}
			return res.lease, res.err
		case <-deadlineChan(req.Deadline):
			p.mu.Lock()
			rs.waiters.Remove(elem)
			p.mu.Unlock()
			if p.recorder != nil {
				p.recorder.WaiterDequeued(req.Route.Key())
			}
			return nil, ErrLeaseTimeout
		case <-ctx.Done():
			p.mu.Lock()
			rs.waiters.Remove(elem)
			p.mu.Unlock()
			if p.recorder != nil {
				p.recorder.WaiterDequeued(req.Route.Key())
			}
			return nil, ctx.Err()
		}
	}
}

func deadlineChan(d time.Time) <-chan time.Time {
	if d.IsZero() {
		return nil
	}
	return time.After(time.Until(d))
}

// popIdleLocked removes and returns the best idle connection for
// token (preferring an exact user-token match), validating liveness
// if it has sat idle past ValidateAfterInactivity. matched reports
// whether the returned connection was an exact token match rather
// than the any-match fallback. Caller holds p.mu.
func (p *Pool) popIdleLocked(rs *routeState, token any) (pc *pooledConn, matched bool) {
	var chosen *list.Element
	if token != nil {
		for e := rs.idle.Front(); e != nil; e = e.Next() {
			if e.Value.(*pooledConn).token == token {
				chosen = e
				matched = true
				break
			}
		}
	}
	if chosen == nil {
		chosen = rs.idle.Front()
	}
	if chosen == nil {
		return nil, false
	}
	rs.idle.Remove(chosen)
	pc = chosen.Value.(*pooledConn)
	if p.recorder != nil {
		p.recorder.IdleConsumed(rs.route.Key())
	}

	if p.cfg.ValidateAfterInactivity >= 0 && time.Since(pc.lastUsed) > p.cfg.ValidateAfterInactivity {
		if !pc.ep.Probe(validationProbeTimeout) {
			pc.ep.Close()
			p.totalCount--
			return p.popIdleLocked(rs, token)
		}
	}
	rs.leasedCount++
	if p.recorder != nil {
		p.recorder.LeaseAcquired(rs.route.Key())
	}
	return pc, matched
}

// wrapReused builds a Lease around a reused idle connection. When pc
// was handed out via the any-match fallback rather than an exact
// user-token match, the connection's affinity is reset to req's token
// (spec.md §4.4 step 2) instead of carrying the previous caller's
// token forward.
func (p *Pool) wrapReused(req LeaseRequest, pc *pooledConn, matched bool) *Lease {
	token := pc.token
	if req.UserToken != nil && !matched {
		token = req.UserToken
	}
	return &Lease{Endpoint: pc.ep, Fresh: false, pool: p, route: req.Route, token: token}
}

func (p *Pool) dialFresh(ctx context.Context, req LeaseRequest) (*Lease, error) {
	addr, err := p.resolveAddr(ctx, req.Route)
	if err != nil {
		p.releaseSlot(req.Route)
		return nil, fmt.Errorf("pool: resolve %s: %w", req.Route.Host, err)
	}
	ep, err := p.factory(ctx, req.Route, addr)
	if err != nil {
		p.releaseSlot(req.Route)
		return nil, err
	}
	if p.recorder != nil {
		p.recorder.LeaseAcquired(req.Route.Key())
	}
	return &Lease{Endpoint: ep, Fresh: true, pool: p, route: req.Route, token: req.UserToken}, nil
}

// releaseSlot undoes the capacity reservation made before a dial that
// failed before producing an endpoint, handing the freed slot to the
// next FIFO waiter for the route, if any.
func (p *Pool) releaseSlot(rt route.Route) {
	p.mu.Lock()
	rs := p.state(rt)
	rs.leasedCount--
	p.totalCount--
	p.handOffCapacityLocked(rs)
	p.mu.Unlock()
}

// release returns ep to the pool, handing it directly to the next
// FIFO waiter for the route if one is queued, otherwise parking it as
// idle (or closing it if not reusable). A non-reusable release still
// owes its freed capacity slot to the next queued waiter, who dials
// fresh for it (spec.md §4.4 Release: "wake one eligible waiter").
func (p *Pool) release(rt route.Route, ep transport.Endpoint, token any, reusable bool) {
	p.mu.Lock()
	rs := p.state(rt)
	rs.leasedCount--
	if p.recorder != nil {
		p.recorder.LeaseReleased(rt.Key(), reusable)
	}

	if p.closed {
		p.totalCount--
		p.mu.Unlock()
		ep.Close()
		return
	}

	if !reusable {
		p.totalCount--
		ep.Close()
		p.handOffCapacityLocked(rs)
		p.mu.Unlock()
		return
	}

	if w := p.nextWaiterLocked(rs); w != nil {
		rs.leasedCount++
		p.mu.Unlock()
		if p.recorder != nil {
			p.recorder.WaiterDequeued(rt.Key())
			p.recorder.LeaseAcquired(rt.Key())
		}
		w.resultCh <- leaseResult{lease: &Lease{Endpoint: ep, pool: p, route: rt, token: token}}
		return
	}

	rs.idle.PushFront(&pooledConn{ep: ep, createdAt: time.Now(), lastUsed: time.Now(), token: token})
	p.mu.Unlock()
}

// nextWaiterLocked pops and returns the next FIFO waiter for rs, or
// nil if none are queued. Caller holds p.mu.
func (p *Pool) nextWaiterLocked(rs *routeState) *waiter {
	e := rs.waiters.Front()
	if e == nil {
		return nil
	}
	rs.waiters.Remove(e)
	return e.Value.(*waiter)
}

// handOffCapacityLocked gives a freed capacity slot (no live
// connection in hand, unlike release's reusable path) to the next
// FIFO waiter for rs, if any, by dialing a fresh connection on its
// behalf in the background and delivering the result through its
// resultCh. A dial failure recurses through releaseSlot, cascading
// the freed slot to the next waiter in line. Caller holds p.mu.
func (p *Pool) handOffCapacityLocked(rs *routeState) {
	w := p.nextWaiterLocked(rs)
	if w == nil {
		return
	}
	rs.leasedCount++
	p.totalCount++
	if p.recorder != nil {
		p.recorder.WaiterDequeued(rs.route.Key())
	}
	go func() {
		lease, err := p.dialFresh(w.ctx, w.req)
		w.resultCh <- leaseResult{lease: lease, err: err}
	}()
}

// Sweep closes idle connections that have exceeded IdleTimeout or
// TimeToLive. Intended to be called periodically by the owning
// Client on a background ticker.
func (p *Pool) Sweep() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := time.Now()
	for _, rs := range p.routes {
		var next *list.Element
		for e := rs.idle.Front(); e != nil; e = next {
			next = e.Next()
			pc := e.Value.(*pooledConn)
			expired := p.cfg.IdleTimeout > 0 && now.Sub(pc.lastUsed) > p.cfg.IdleTimeout
			aged := p.cfg.TimeToLive > 0 && now.Sub(pc.createdAt) > p.cfg.TimeToLive
			if expired || aged {
				rs.idle.Remove(e)
				p.totalCount--
				if p.recorder != nil {
					p.recorder.IdleEvicted(rs.route.Key())
				}
				pc.ep.Close()
			}
		}
	}
}

// Stats returns a point-in-time snapshot for rt.
func (p *Pool) Stats(rt route.Route) metrics.PoolStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	rs, ok := p.routes[rt.Key()]
	if !ok {
		return metrics.PoolStats{Route: rt.Key(), Max: p.cfg.MaxPerRoute}
	}
	return metrics.PoolStats{
		Route:     rt.Key(),
		Leased:    rs.leasedCount,
		Available: rs.idle.Len(),
		Pending:   rs.waiters.Len(),
		Max:       p.cfg.MaxPerRoute,
	}
}

// Close closes every idle connection and marks the pool closed;
// in-flight leases still release normally but their connections are
// closed rather than recycled.
func (p *Pool) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	for _, rs := range p.routes {
		for e := rs.idle.Front(); e != nil; e = e.Next() {
			e.Value.(*pooledConn).ep.Close()
		}
		rs.idle.Init()
	}
	return nil
}
