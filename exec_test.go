package transit

import (
	"bytes"
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/transit-http/transit/internal/metrics"
	"github.com/transit-http/transit/internal/pool"
	"github.com/transit-http/transit/internal/route"
	"github.com/transit-http/transit/internal/transport"
)

type fakeEndpoint struct {
	rt        route.Route
	reusable  bool
	connected int32
	sent      *transport.WireRequest
}

func (f *fakeEndpoint) Connect(ctx context.Context, deadline time.Time) error {
	atomic.StoreInt32(&f.connected, 1)
	return nil
}
func (f *fakeEndpoint) UpgradeTLS(ctx context.Context, deadline time.Time) error { return nil }
func (f *fakeEndpoint) Send(ctx context.Context, r *transport.WireRequest, d time.Time) error {
	f.sent = r
	return nil
}
func (f *fakeEndpoint) Receive(ctx context.Context, d time.Time) (*transport.WireResponse, error) {
	return &transport.WireResponse{
		StatusCode: 200, Status: "200 OK", Header: map[string][]string{},
		Body: io.NopCloser(bytes.NewReader(nil)), ContentLength: 0,
	}, nil
}
func (f *fakeEndpoint) Close() error             { return nil }
func (f *fakeEndpoint) Reusable() bool           { return f.reusable }
func (f *fakeEndpoint) Protocol() string         { return "HTTP/1.1" }
func (f *fakeEndpoint) Route() route.Route       { return f.rt }
func (f *fakeEndpoint) Probe(time.Duration) bool { return true }

func fakeFactory() (pool.Factory, *fakeEndpoint) {
	ep := &fakeEndpoint{reusable: true}
	return func(ctx context.Context, rt route.Route, addr string) (transport.Endpoint, error) {
		ep.rt = rt
		return ep, nil
	}, ep
}

func newTestTerminal() (*terminal, *fakeEndpoint) {
	factory, ep := fakeFactory()
	recorder := metrics.New(nil)
	p := pool.New(pool.Config{MaxPerRoute: 2, MaxTotal: 10}, factory, recorder)
	return newTerminal(DefaultConfig(), p, recorder), ep
}

func TestTerminalExecutesAndReleasesOnClose(t *testing.T) {
	term, ep := newTestTerminal()
	req := &Request{Method: "GET", Scheme: "http", Host: "example.com", Path: "/", Header: NewHeader(), Entity: NewBytesEntity(nil, "")}
	scope := NewScope("http://example.com:80", time.Time{})

	resp, err := term.execute(context.Background(), req, scope)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
	assert.Equal(t, "GET", ep.sent.Method)
	assert.NoError(t, resp.Discard())
}

func TestRouteForDefaultsPortFromScheme(t *testing.T) {
	rt, err := routeFor(&Request{Scheme: "https", Host: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, 443, rt.Port)
	assert.True(t, rt.Secure)

	rt, err = routeFor(&Request{Scheme: "http", Host: "example.com"})
	require.NoError(t, err)
	assert.Equal(t, 80, rt.Port)
	assert.False(t, rt.Secure)
}

func TestClassifyLeaseErrorMapsPoolClosedToCancelled(t *testing.T) {
	scope := NewScope("r", time.Time{})
	err := classifyLeaseError(pool.ErrPoolClosed, scope)
	assert.Equal(t, KindCancelled, Kind(err))
}

func TestClassifyLeaseErrorDefaultsToPoolExhausted(t *testing.T) {
	scope := NewScope("r", time.Time{})
	err := classifyLeaseError(pool.ErrLeaseTimeout, scope)
	assert.Equal(t, KindPoolExhausted, Kind(err))
}

func TestDeadlineFromPrefersEarlierOfBudgetAndScope(t *testing.T) {
	scope := &Scope{Deadline: time.Now().Add(5 * time.Second)}
	d := deadlineFrom(scope, 30*time.Second)
	assert.True(t, d.Before(scope.Deadline.Add(time.Millisecond)))

	scope2 := &Scope{}
	d2 := deadlineFrom(scope2, 0)
	assert.True(t, d2.IsZero())
}
