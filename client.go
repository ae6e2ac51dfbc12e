package transit

import (
	"context"
	"crypto/x509"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/transit-http/transit/internal/breaker"
	"github.com/transit-http/transit/internal/metrics"
	"github.com/transit-http/transit/internal/pool"
	"github.com/transit-http/transit/internal/telemetry"
)

// Client is the blocking facade (spec.md C9): one call to Execute runs
// req through the standard interceptor chain and the terminal
// transport step on the calling goroutine, the thread-per-request
// model spec.md §4.9 describes for the synchronous surface.
type Client struct {
	cfg      *ClientConfig
	pool     *pool.Pool
	recorder *metrics.Recorder
	breakers *breaker.Registry
	logger   *zap.Logger
	chain    Next

	sweepStop chan struct{}
	sweepWG   sync.WaitGroup
}

// WithLogger installs a *zap.Logger; the default is telemetry.Nop().
func WithLogger(l *zap.Logger) Option {
	return func(c *ClientConfig) { c.logger = l }
}

// WithRootCAs installs a custom certificate pool for TLS verification
// instead of the system roots.
func WithRootCAs(roots *x509.CertPool) Option {
	return func(c *ClientConfig) { c.rootCAs = roots }
}

// NewClient builds a Client from DefaultConfig overridden by opts, and
// starts the background idle-connection sweeper.
func NewClient(opts ...Option) *Client {
	cfg := Build(opts...)

	logger := cfg.logger
	if logger == nil {
		logger = telemetry.Nop()
	}
	logger = telemetry.Component(logger, "client")

	recorder := metrics.New(nil)
	p := pool.New(pool.Config{
		MaxPerRoute:             cfg.MaxPerRoute,
		MaxTotal:                cfg.MaxTotal,
		ValidateAfterInactivity: cfg.ValidateAfterInactivity,
		TimeToLive:              cfg.TimeToLive,
		IdleTimeout:             cfg.IdleTimeout,
	}, newPoolFactory(cfg, cfg.rootCAs), recorder)

	breakers := breaker.NewRegistry(breakerConfigFromClient(cfg))

	c := &Client{
		cfg:       cfg,
		pool:      p,
		recorder:  recorder,
		breakers:  breakers,
		logger:    logger,
		sweepStop: make(chan struct{}),
	}

	term := newTerminal(cfg, p, recorder)
	c.chain = Chain(term.execute, c.standardInterceptors()...)

	c.sweepWG.Add(1)
	go c.sweepLoop()

	return c
}

// standardInterceptors assembles the default chain in the order
// spec.md §4.6 lists them: user-token affinity first (so it's stable
// across redirects), then protocol defaults, cookies, content coding,
// authentication, redirects, retry, and connection control closest to
// the wire.
func (c *Client) standardInterceptors() []Interceptor {
	list := []Interceptor{
		newUserTokenInterceptor(c.cfg),
		newProtocolDefaultsInterceptor(c.cfg),
	}
	if c.cfg.CookiePolicy != nil {
		list = append(list, newCookieInterceptor(c.cfg.CookiePolicy))
	}
	list = append(list,
		newContentCodingInterceptor(),
		newAuthInterceptor(c.cfg, c.cfg.Credentials, c.cfg.ExternalCredentials),
		newRedirectInterceptor(c.cfg),
		newRetryInterceptor(c.cfg, c.breakers),
		newConnectionControlInterceptor(c.cfg.CloseAfterUse),
	)
	return list
}

// Execute runs req through the interceptor chain and the transport,
// returning the response or a *Error describing why it failed.
func (c *Client) Execute(ctx context.Context, req *Request) (*Response, error) {
	deadline := time.Time{}
	if c.cfg.RequestDeadline > 0 {
		deadline = time.Now().Add(c.cfg.RequestDeadline)
	}
	scope := NewScope(routeKeyFor(req), deadline)
	return c.chain(ctx, req, scope)
}

func routeKeyFor(req *Request) string {
	port := req.Port
	if port == 0 {
		if req.Scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}
	return req.Scheme + "://" + req.Host + ":" + strconv.Itoa(port)
}

// Stats returns a point-in-time snapshot of route's connection
// occupancy (spec.md §3 PoolStats).
func (c *Client) Stats(route string) metrics.PoolStats {
	return c.recorder.Snapshot(route)
}

func (c *Client) sweepLoop() {
	defer c.sweepWG.Done()
	interval := c.cfg.IdleTimeout
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.pool.Sweep()
		case <-c.sweepStop:
			return
		}
	}
}

// Close stops the background sweeper and closes every idle connection.
func (c *Client) Close() error {
	close(c.sweepStop)
	c.sweepWG.Wait()
	return c.pool.Close()
}
