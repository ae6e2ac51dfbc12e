package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"

	"github.com/transit-http/transit/internal/route"
	"github.com/transit-http/transit/internal/tlsstrategy"
)

// HTTP2Endpoint speaks HTTP/2 (or h2c, cleartext HTTP/2) over a single
// connection via golang.org/x/net/http2, reusing the teacher's exact
// h2c dial pattern: an http2.Transport with AllowHTTP and a
// DialTLSContext that just opens a plain TCP socket instead of
// performing a TLS handshake.
//
// Requests are serialized one at a time per endpoint rather than
// exploiting HTTP/2's stream multiplexing — the pool already grants
// one endpoint per lease, so concurrent h2 streams would require
// sharing a leased endpoint across callers, which spec.md's C4 lease
// model does not do. MaxPerRoute governs concurrent h2 connections the
// same way it governs concurrent HTTP/1.1 ones.
type HTTP2Endpoint struct {
	reuseState

	rt     route.Route
	addr   string
	dialer *net.Dialer
	tlsCfg tlsstrategy.Config
	h2c    bool

	conn      net.Conn
	transport *http2.Transport
	protocol  string

	pendingResp chan respOrErr
}

type respOrErr struct {
	resp *http.Response
	err  error
}

// NewHTTP2Endpoint returns an h2 (h2c when !rt.Secure) endpoint.
func NewHTTP2Endpoint(rt route.Route, addr string, dialer *net.Dialer, tlsCfg tlsstrategy.Config) *HTTP2Endpoint {
	return &HTTP2Endpoint{
		reuseState: reuseState{reusable: true},
		rt:         rt,
		addr:       addr,
		dialer:     dialer,
		tlsCfg:     tlsCfg,
		h2c:        !rt.Secure,
	}
}

func (e *HTTP2Endpoint) Route() route.Route { return e.rt }
func (e *HTTP2Endpoint) Protocol() string   { return e.protocol }

func (e *HTTP2Endpoint) Connect(ctx context.Context, deadline time.Time) error {
	if e.h2c {
		// h2c: plain TCP, no ALPN negotiation possible, the teacher's
		// DialTLSContext-over-plain-TCP trick.
		dctx := ctx
		if !deadline.IsZero() {
			var cancel context.CancelFunc
			dctx, cancel = context.WithDeadline(ctx, deadline)
			defer cancel()
		}
		conn, err := e.dialer.DialContext(dctx, "tcp", e.addr)
		if err != nil {
			e.taint()
			return fmt.Errorf("transport: h2c dial %s: %w", e.addr, err)
		}
		e.conn = conn
		e.protocol = "h2c"
		e.transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return e.conn, nil
			},
		}
		return nil
	}

	dctx := ctx
	if !deadline.IsZero() {
		var cancel context.CancelFunc
		dctx, cancel = context.WithDeadline(ctx, deadline)
		defer cancel()
	}
	conn, err := e.dialer.DialContext(dctx, "tcp", e.addr)
	if err != nil {
		e.taint()
		return fmt.Errorf("transport: dial %s: %w", e.addr, err)
	}
	e.conn = conn
	return nil
}

func (e *HTTP2Endpoint) UpgradeTLS(ctx context.Context, deadline time.Time) error {
	if e.h2c {
		return nil
	}
	cfg := e.tlsCfg
	if cfg.ServerName == "" {
		cfg.ServerName = e.rt.Host
	}
	cfg.NextProtos = []string{"h2"}
	tconn, err := tlsstrategy.Upgrade(ctx, e.conn, cfg, deadline)
	if err != nil {
		e.taint()
		return err
	}
	if tconn.ConnectionState().NegotiatedProtocol != "h2" {
		tconn.Close()
		e.taint()
		return fmt.Errorf("transport: peer did not negotiate h2 via ALPN")
	}
	e.conn = tconn
	e.protocol = "h2"
	e.transport = &http2.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
			return tconn, nil
		},
	}
	return nil
}

func (e *HTTP2Endpoint) Send(ctx context.Context, wr *WireRequest, deadline time.Time) error {
	req, err := http.NewRequestWithContext(ctx, wr.Method, wr.URL, wr.Body)
	if err != nil {
		e.taint()
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header = wr.Header
	req.Host = wr.Host
	req.ContentLength = wr.ContentLength

	e.pendingResp = make(chan respOrErr, 1)
	go func() {
		resp, err := e.transport.RoundTrip(req)
		e.pendingResp <- respOrErr{resp, err}
	}()
	return nil
}

func (e *HTTP2Endpoint) Receive(ctx context.Context, deadline time.Time) (*WireResponse, error) {
	var timer <-chan time.Time
	if !deadline.IsZero() {
		t := time.NewTimer(time.Until(deadline))
		defer t.Stop()
		timer = t.C
	}
	select {
	case r := <-e.pendingResp:
		if r.err != nil {
			e.taint()
			return nil, fmt.Errorf("transport: h2 round trip: %w", r.err)
		}
		body := &trackingBody{inner: r.resp.Body, onErr: e.taint}
		return &WireResponse{
			StatusCode:    r.resp.StatusCode,
			Status:        r.resp.Status,
			Proto:         r.resp.Proto,
			Header:        r.resp.Header,
			Body:          body,
			ContentLength: r.resp.ContentLength,
			Trailer:       r.resp.Trailer,
		}, nil
	case <-timer:
		e.taint()
		return nil, fmt.Errorf("transport: h2 response timed out")
	case <-ctx.Done():
		e.taint()
		return nil, ctx.Err()
	}
}

// Probe reports whether the underlying socket is still alive, the
// same bounded zero-progress read technique as HTTP1Endpoint.Probe.
// It deliberately does not speak the HTTP/2 framing layer itself —
// that is owned exclusively by e.transport's single lazily-created
// http2.ClientConn, and a second reader on the same socket would
// desynchronize it.
func (e *HTTP2Endpoint) Probe(timeout time.Duration) bool {
	if e.conn == nil {
		return false
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}
	defer e.conn.SetReadDeadline(time.Time{})

	one := make([]byte, 1)
	n, err := e.conn.Read(one)
	if n > 0 {
		// We consumed a byte that e.transport's framer will now never
		// see, which would desync the connection; the safest response
		// is to treat the endpoint as unusable and let the pool close
		// and replace it rather than risk corrupting the h2 stream.
		return false
	}
	if err == nil {
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

func (e *HTTP2Endpoint) Close() error {
	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

var _ io.Closer = (*HTTP2Endpoint)(nil)
