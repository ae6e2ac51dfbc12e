// Package async provides the non-blocking facade (spec.md C10): a
// small reactor of worker shards that execute submitted requests off
// the caller's goroutine and hand back a Future, for callers that want
// to fan out many requests without managing their own goroutine pool.
package async

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/transit-http/transit"
	"github.com/transit-http/transit/internal/telemetry"
)

// ErrClosed is returned by Submit once the Client has been closed.
var ErrClosed = errors.New("async: client closed")

// Executor is the subset of *transit.Client's surface the reactor
// needs, narrowed so tests can substitute a fake.
type Executor interface {
	Execute(ctx context.Context, req *transit.Request) (*transit.Response, error)
}

type job struct {
	ctx    context.Context
	req    *transit.Request
	future *Future
}

// Future is a pending Execute result. Wait blocks until the reactor
// has completed the request or ctx is cancelled, whichever comes
// first; calling Wait more than once returns the same result.
type Future struct {
	done chan struct{}
	resp *transit.Response
	err  error
}

func newFuture() *Future {
	return &Future{done: make(chan struct{})}
}

func (f *Future) complete(resp *transit.Response, err error) {
	f.resp, f.err = resp, err
	close(f.done)
}

// Wait blocks until the future resolves or ctx is done.
func (f *Future) Wait(ctx context.Context) (*transit.Response, error) {
	select {
	case <-f.done:
		return f.resp, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done reports whether the future has resolved without blocking.
func (f *Future) Done() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Client is the reactor-driven non-blocking facade. Requests submitted
// concurrently are distributed round-robin across a fixed number of
// shard goroutines, each processing its queue serially — bounding how
// many requests run concurrently against the inner Client without
// requiring a caller-managed worker pool.
type Client struct {
	inner  Executor
	shards []chan job
	group  *errgroup.Group
	cancel context.CancelFunc
	logger *zap.Logger

	mu     sync.Mutex
	closed bool
	next   int
}

// Option configures a Client constructed by NewClient.
type Option func(*Client)

// WithLogger installs a *zap.Logger on the reactor; the default is
// telemetry.Nop(), matching Client's WithLogger convention.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient returns a Client with shardCount worker shards (minimum 1)
// pulling from inner. The shards are supervised by an errgroup.Group
// so a panic-free worker exit on context cancellation propagates
// cleanly through Close.
func NewClient(inner Executor, shardCount int, opts ...Option) *Client {
	if shardCount < 1 {
		shardCount = 1
	}
	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)

	c := &Client{
		inner:  inner,
		shards: make([]chan job, shardCount),
		group:  group,
		cancel: cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = telemetry.Nop()
	}
	c.logger = telemetry.Component(c.logger, "async")

	for i := range c.shards {
		ch := make(chan job, 64)
		c.shards[i] = ch
		shardID := i
		group.Go(func() error {
			return runShard(gctx, inner, ch, telemetry.Component(c.logger, "shard"), shardID)
		})
	}
	return c
}

func runShard(ctx context.Context, inner Executor, jobs <-chan job, logger *zap.Logger, shardID int) error {
	logger = logger.With(zap.Int("shard", shardID))
	for {
		select {
		case <-ctx.Done():
			return nil
		case j, ok := <-jobs:
			if !ok {
				return nil
			}
			resp, err := inner.Execute(j.ctx, j.req)
			if err != nil {
				logger.Debug("shard job failed", zap.Error(err))
			}
			j.future.complete(resp, err)
		}
	}
}

// Submit enqueues req on the next shard round-robin and returns a
// Future for its eventual result.
func (c *Client) Submit(ctx context.Context, req *transit.Request) (*Future, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	shard := c.shards[c.next%len(c.shards)]
	c.next++
	c.mu.Unlock()

	f := newFuture()
	select {
	case shard <- job{ctx: ctx, req: req, future: f}:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting new work, cancels in-flight shard loops, and
// waits for them to exit.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	for _, ch := range c.shards {
		close(ch)
	}
	return c.group.Wait()
}
