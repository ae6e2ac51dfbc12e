package transport

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/transit-http/transit/internal/route"
	"github.com/transit-http/transit/internal/tlsstrategy"
)

// HTTP1Endpoint speaks HTTP/1.1 over a single TCP (or TLS) connection.
// Wire framing — request serialization, chunked transfer decoding,
// Content-Length handling — is delegated to net/http's own
// http.Request.Write and http.ReadResponse rather than hand-rolled,
// since the pack ships no third-party HTTP/1 wire codec and net/http
// already is the reference implementation of that framing.
type HTTP1Endpoint struct {
	reuseState

	rt      route.Route
	dialer  *net.Dialer
	tlsCfg  tlsstrategy.Config
	conn    net.Conn
	bufr    *bufio.Reader
	lastReq *http.Request
	addr    string
}

// NewHTTP1Endpoint returns an endpoint that will dial addr ("host:port")
// for rt, upgrading to TLS under tlsCfg if rt.Secure.
func NewHTTP1Endpoint(rt route.Route, addr string, dialer *net.Dialer, tlsCfg tlsstrategy.Config) *HTTP1Endpoint {
	return &HTTP1Endpoint{
		reuseState: reuseState{reusable: true},
		rt:         rt,
		dialer:     dialer,
		tlsCfg:     tlsCfg,
		addr:       addr,
	}
}

func (e *HTTP1Endpoint) Route() route.Route { return e.rt }
func (e *HTTP1Endpoint) Protocol() string   { return "HTTP/1.1" }

func (e *HTTP1Endpoint) Connect(ctx context.Context, deadline time.Time) error {
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
	e.bufr = bufio.NewReader(conn)
	return nil
}

func (e *HTTP1Endpoint) UpgradeTLS(ctx context.Context, deadline time.Time) error {
	if !e.rt.Secure {
		return nil
	}
	cfg := e.tlsCfg
	if cfg.ServerName == "" {
		cfg.ServerName = e.rt.Host
	}
	tconn, err := tlsstrategy.Upgrade(ctx, e.conn, cfg, deadline)
	if err != nil {
		e.taint()
		return err
	}
	e.conn = tconn
	e.bufr = bufio.NewReader(tconn)
	return nil
}

func (e *HTTP1Endpoint) Send(ctx context.Context, wr *WireRequest, deadline time.Time) error {
	req, err := http.NewRequest(wr.Method, wr.URL, wr.Body)
	if err != nil {
		e.taint()
		return fmt.Errorf("transport: build request: %w", err)
	}
	req.Header = wr.Header
	req.Host = wr.Host
	req.ContentLength = wr.ContentLength
	req.Close = false

	if !deadline.IsZero() {
		if err := e.conn.SetWriteDeadline(deadline); err != nil {
			e.taint()
			return err
		}
	}
	if err := req.Write(e.conn); err != nil {
		e.taint()
		return fmt.Errorf("transport: write request: %w", err)
	}
	e.lastReq = req
	return nil
}

func (e *HTTP1Endpoint) Receive(ctx context.Context, deadline time.Time) (*WireResponse, error) {
	if !deadline.IsZero() {
		if err := e.conn.SetReadDeadline(deadline); err != nil {
			e.taint()
			return nil, err
		}
	}
	resp, err := http.ReadResponse(e.bufr, e.lastReq)
	if err != nil {
		e.taint()
		return nil, fmt.Errorf("transport: read response: %w", err)
	}

	if resp.Close || resp.ProtoMajor != 1 || resp.ProtoMinor != 1 {
		e.taint()
	}
	body := &trackingBody{inner: resp.Body, onErr: e.taint}

	return &WireResponse{
		StatusCode:    resp.StatusCode,
		Status:        resp.Status,
		Proto:         resp.Proto,
		Header:        resp.Header,
		Body:          body,
		ContentLength: resp.ContentLength,
		Trailer:       resp.Trailer,
	}, nil
}

// Probe reports whether the connection is still alive by attempting a
// bounded zero-progress read: a timeout means the peer is silent but
// the socket is fine, while EOF or a reset means it is dead.
func (e *HTTP1Endpoint) Probe(timeout time.Duration) bool {
	if e.conn == nil {
		return false
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false
	}
	defer e.conn.SetReadDeadline(time.Time{})

	_, err := e.bufr.Peek(1)
	if err == nil {
		// Unexpected data on an idle connection (e.g. an unsolicited
		// close notification) still means the socket is usable; leave
		// reuse decisions to the next real Receive.
		return true
	}
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return true
	}
	return false
}

func (e *HTTP1Endpoint) Close() error {
	if e.conn == nil {
		return nil
	}
	err := e.conn.Close()
	e.conn = nil
	return err
}

// trackingBody taints the owning endpoint's reuse state if reading the
// body ever returns a non-EOF error, since a partially-drained,
// broken body leaves the connection in an unknown framing state.
type trackingBody struct {
	inner interface {
		Read([]byte) (int, error)
		Close() error
	}
	onErr func()
}

func (b *trackingBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	if err != nil && !errors.Is(err, io.EOF) {
		b.onErr()
	}
	return n, err
}

func (b *trackingBody) Close() error { return b.inner.Close() }
