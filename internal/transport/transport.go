// Package transport implements the C2 Endpoint contract: the object
// that owns one physical connection and knows how to send a request
// and read back a response over it, for both HTTP/1.1 and HTTP/2.
package transport

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/transit-http/transit/internal/route"
)

// WireRequest is what an Endpoint needs to write a request onto the
// wire: the core builds one of these from a *transit.Request before
// handing it to the endpoint, so transport stays free of the public
// package's types.
type WireRequest struct {
	Method        string
	URL           string // absolute for the request line / :path for h2
	Host          string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64 // -1 means unknown/chunked
}

// WireResponse is what an Endpoint hands back after Receive.
type WireResponse struct {
	StatusCode    int
	Status        string
	Proto         string
	Header        http.Header
	Body          io.ReadCloser
	ContentLength int64
	Trailer       http.Header
}

// Endpoint owns a single physical connection (spec.md §4.2, C2): it
// connects, optionally upgrades to TLS, sends one request, receives
// its response, and reports whether it may be reused for another
// request afterward.
type Endpoint interface {
	// Connect establishes the transport-layer connection (TCP dial),
	// bounded by deadline.
	Connect(ctx context.Context, deadline time.Time) error
	// UpgradeTLS performs the TLS handshake over the connected socket,
	// bounded by its own deadline independent of Connect's. A no-op
	// for plaintext endpoints.
	UpgradeTLS(ctx context.Context, deadline time.Time) error
	// Send writes req onto the wire.
	Send(ctx context.Context, req *WireRequest, deadline time.Time) error
	// Receive reads and returns the response to the last Send.
	Receive(ctx context.Context, deadline time.Time) (*WireResponse, error)
	// Close tears down the connection unconditionally.
	Close() error
	// Reusable reports whether the endpoint may be leased again after
	// its current response body is fully consumed. It goes false
	// permanently once a framing or connection-level error occurs, or
	// the peer asked for the connection to be closed.
	Reusable() bool
	// Protocol identifies the negotiated protocol ("HTTP/1.1", "h2",
	// "h2c") for diagnostics and metrics labeling.
	Protocol() string
	// Route identifies which route this endpoint serves.
	Route() route.Route
	// Probe performs a cheap liveness check on an otherwise idle
	// connection, bounded by timeout. It reports false if the peer has
	// since closed or reset the connection — the check the pool runs
	// before handing out a connection that has sat idle longer than
	// ValidateAfterInactivity (spec.md §4.4).
	Probe(timeout time.Duration) bool
}

// reuseState is a small helper embedded by both endpoint
// implementations so that any I/O error permanently disqualifies the
// connection from reuse, matching the teacher's
// connection-reuse-on-clean-read-only posture in its HTTP client use.
type reuseState struct {
	reusable bool
}

func (r *reuseState) Reusable() bool { return r.reusable }
func (r *reuseState) taint()         { r.reusable = false }
