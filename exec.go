package transit

import (
	"context"
	"crypto/x509"
	"net"
	"net/http"
	"time"

	"github.com/transit-http/transit/internal/breaker"
	"github.com/transit-http/transit/internal/metrics"
	"github.com/transit-http/transit/internal/pool"
	"github.com/transit-http/transit/internal/route"
	"github.com/transit-http/transit/internal/tlsstrategy"
	"github.com/transit-http/transit/internal/transport"
)

// terminal is the innermost Next in the exec chain (spec.md §4.5): it
// leases an endpoint from the pool, translates the public Request into
// the wire-level shapes internal/transport understands, sends it,
// reads back the response, and wires the response's release callback
// to the lease so Close/Discard/Cancel return the connection to the
// pool exactly once.
type terminal struct {
	cfg      *ClientConfig
	pool     *pool.Pool
	recorder *metrics.Recorder
}

func newTerminal(cfg *ClientConfig, p *pool.Pool, recorder *metrics.Recorder) *terminal {
	return &terminal{cfg: cfg, pool: p, recorder: recorder}
}

func (t *terminal) execute(ctx context.Context, req *Request, scope *Scope) (*Response, error) {
	rt, err := routeFor(req)
	if err != nil {
		return nil, NewError(KindProtocolError, "route", err).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
	}

	leaseDeadline := scope.Deadline
	if leaseDeadline.IsZero() && t.cfg.LeaseTimeout > 0 {
		leaseDeadline = time.Now().Add(t.cfg.LeaseTimeout)
	}

	start := time.Now()
	lease, err := t.pool.Acquire(ctx, pool.LeaseRequest{
		ID:        scope.ID,
		Route:     rt,
		UserToken: scope.UserToken,
		Deadline:  leaseDeadline,
	})
	if err != nil {
		t.recorder.ObserveRequest(rt.Key(), time.Since(start), true)
		return nil, classifyLeaseError(err, scope)
	}

	if lease.Fresh {
		connectDeadline := deadlineFrom(scope, t.cfg.ConnectTimeout)
		if err := lease.Endpoint.Connect(ctx, connectDeadline); err != nil {
			lease.Release(false)
			t.recorder.ObserveRequest(rt.Key(), time.Since(start), true)
			return nil, NewError(KindConnectTimeout, "connect", err).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
		}
		handshakeDeadline := deadlineFrom(scope, t.cfg.HandshakeTimeout)
		if err := lease.Endpoint.UpgradeTLS(ctx, handshakeDeadline); err != nil {
			lease.Release(false)
			t.recorder.ObserveRequest(rt.Key(), time.Since(start), true)
			return nil, NewError(KindHandshakeTimeout, "tls", err).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
		}
	}

	wireReq, err := toWireRequest(req)
	if err != nil {
		lease.Release(false)
		return nil, NewError(KindProtocolError, "encode", err).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
	}

	socketDeadline := deadlineFrom(scope, t.cfg.SocketTimeout)
	if err := lease.Endpoint.Send(ctx, wireReq, socketDeadline); err != nil {
		lease.Release(false)
		t.recorder.ObserveRequest(rt.Key(), time.Since(start), true)
		return nil, NewError(KindWriteTimeout, "send", err).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
	}

	wireResp, err := lease.Endpoint.Receive(ctx, socketDeadline)
	if err != nil {
		lease.Release(false)
		t.recorder.ObserveRequest(rt.Key(), time.Since(start), true)
		return nil, NewError(KindReadTimeout, "receive", err).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
	}

	t.recorder.ObserveRequest(rt.Key(), time.Since(start), wireResp.StatusCode >= 500)

	resp := fromWireResponse(wireResp)
	resp.SetReleaseFunc(func(reusable bool) {
		lease.Release(reusable && lease.Endpoint.Reusable())
	})
	return resp, nil
}

func routeFor(req *Request) (route.Route, error) {
	port := req.Port
	if port == 0 {
		if req.Scheme == "https" {
			port = 443
		} else {
			port = 80
		}
	}
	return route.Route{
		Scheme: req.Scheme,
		Host:   req.Host,
		Port:   port,
		Secure: req.Scheme == "https",
	}, nil
}

func deadlineFrom(scope *Scope, budget time.Duration) time.Time {
	candidate := time.Time{}
	if budget > 0 {
		candidate = time.Now().Add(budget)
	}
	if !scope.Deadline.IsZero() && (candidate.IsZero() || scope.Deadline.Before(candidate)) {
		candidate = scope.Deadline
	}
	return candidate
}

func toWireRequest(req *Request) (*transport.WireRequest, error) {
	h := make(http.Header)
	if req.Header != nil {
		for _, k := range req.Header.Keys() {
			h[k] = req.Header.Values(k)
		}
	}
	length := int64(-1)
	if req.Entity != nil {
		length = req.Entity.Length
	}
	return &transport.WireRequest{
		Method:        req.Method,
		URL:           req.URI(),
		Host:          req.Host,
		Header:        h,
		Body:          req.Entity.Reader(),
		ContentLength: length,
	}, nil
}

func fromWireResponse(wr *transport.WireResponse) *Response {
	h := NewHeader()
	for k, vs := range wr.Header {
		for _, v := range vs {
			h.Add(k, v)
		}
	}
	trailers := NewHeader()
	for k, vs := range wr.Trailer {
		for _, v := range vs {
			trailers.Add(k, v)
		}
	}
	return &Response{
		Code:     wr.StatusCode,
		Reason:   wr.Status,
		Header:   h,
		Entity:   NewStreamEntity(wr.Body, h.Get("Content-Type"), wr.ContentLength),
		Trailers: trailers,
	}
}

func classifyLeaseError(err error, scope *Scope) error {
	kind := KindPoolExhausted
	if err == pool.ErrPoolClosed {
		kind = KindCancelled
	}
	return NewError(kind, "lease", err).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
}

// newPoolFactory returns the pool.Factory that dials the HTTP/1.1 or
// HTTP/2 (or h2c) endpoint appropriate for rt, per ClientConfig's
// protocol preferences.
func newPoolFactory(cfg *ClientConfig, roots *x509.CertPool) pool.Factory {
	dialer := &net.Dialer{}
	tlsCfg := tlsstrategy.Config{
		Policy:  policyFromConfig(cfg.HostnameVerify),
		RootCAs: roots,
	}
	return func(ctx context.Context, rt route.Route, addr string) (transport.Endpoint, error) {
		if rt.Secure && cfg.PreferHTTP2 {
			return transport.NewHTTP2Endpoint(rt, addr, dialer, tlsCfg), nil
		}
		if !rt.Secure && cfg.H2C {
			return transport.NewHTTP2Endpoint(rt, addr, dialer, tlsCfg), nil
		}
		return transport.NewHTTP1Endpoint(rt, addr, dialer, tlsCfg), nil
	}
}

func policyFromConfig(v HostnameVerification) tlsstrategy.Policy {
	switch v {
	case VerifyClient:
		return tlsstrategy.Client
	case VerifyNone:
		return tlsstrategy.None
	default:
		return tlsstrategy.Builtin
	}
}

func breakerConfigFromClient(cfg *ClientConfig) breaker.Config {
	if cfg.CircuitBreaker == nil {
		return breaker.Config{}
	}
	return breaker.Config{StopIf: cfg.CircuitBreaker.StopIf, MinSamples: cfg.CircuitBreaker.MinSamples}
}
