package transit

import (
	"crypto/x509"
	"time"

	"go.uber.org/zap"

	"github.com/transit-http/transit/internal/auth"
)

// externalCredentials is internal/auth.Credentials under the name
// ClientConfig exposes it as, so callers configuring NTLM/SPNEGO don't
// need to import the internal package directly.
type externalCredentials = auth.Credentials

// HostnameVerification selects how the TLS strategy (C3) verifies the
// peer's certificate against the route's target host name.
type HostnameVerification int

const (
	// VerifyBuiltin delegates to the TLS session's native verifier.
	VerifyBuiltin HostnameVerification = iota
	// VerifyClient performs an explicit verification step after the
	// session reports the handshake verified, against the original
	// server name — for embedders that need custom pinning logic.
	VerifyClient
	// VerifyNone disables hostname verification. Test use only.
	VerifyNone
)

// AuthScheme identifies a supported authentication challenge scheme,
// ordered by the default challenge-selection priority, lowest first
// (AuthSchemeSPNEGO ranks highest).
type AuthScheme int

const (
	AuthSchemeNone AuthScheme = iota
	AuthSchemeBasic
	AuthSchemeDigest
	AuthSchemeNTLM
	AuthSchemeSPNEGO
)

// CircuitBreakerConfig configures the per-route breaker described in
// SPEC_FULL.md §4 (adapted from the teacher's load-test breaker).
// StopIf is a condition expression like "errors > 10%" or
// "error_rate > 0.1"; MinSamples guards against tripping during a cold
// start before enough samples have been observed.
type CircuitBreakerConfig struct {
	StopIf     string
	MinSamples int64
}

// ClientConfig enumerates every tunable named in spec.md §3.
type ClientConfig struct {
	// Timeout layers (spec.md §4.8).
	ConnectTimeout   time.Duration
	SocketTimeout    time.Duration
	HandshakeTimeout time.Duration
	LeaseTimeout     time.Duration
	RequestDeadline  time.Duration

	// Pool lifecycle (spec.md §4.4).
	ValidateAfterInactivity time.Duration // < 0 disables probing
	TimeToLive              time.Duration
	IdleTimeout             time.Duration
	MaxPerRoute             int
	MaxTotal                int

	// Redirects (spec.md §4.6.3).
	MaxRedirects         int
	CircularRedirects    bool
	StrictRedirectCompat bool // false (default): lax — 301/302/303 POST rewrite to GET

	// Retry (spec.md §4.6.5).
	AutomaticRetries bool
	MaxAutoRetries   int
	RetriableStatus  []int

	// Headers & protocol (spec.md §4.6.1-2).
	DefaultHeaders  map[string]string
	AcceptEncoding  string // "" uses the default gzip/x-gzip/deflate set
	UserAgent       string
	HostnameVerify  HostnameVerification
	PreferredScheme AuthScheme

	// PreferHTTP2 uses an HTTP/2 endpoint for secure routes, negotiated
	// via ALPN h2; a peer that doesn't negotiate h2 fails the TLS
	// upgrade, with no fallback to HTTP/1.1.
	PreferHTTP2 bool
	// H2C forces HTTP/2 cleartext for non-TLS routes instead of
	// HTTP/1.1, the teacher's AllowHTTP h2c dial mode.
	H2C bool
	// CloseAfterUse sends "Connection: close" on every request instead
	// of relying on pooled keep-alive.
	CloseAfterUse bool

	// Circuit breaker (SPEC_FULL.md §4).
	CircuitBreaker *CircuitBreakerConfig

	// CookiePolicy, when non-nil, routes Set-Cookie/Cookie handling
	// through an embedder-supplied CookieJar (external collaborator
	// per spec.md §1 scope).
	CookiePolicy CookieJar

	// UserTokenHandler derives the per-scope user-token affinity key
	// (spec.md §4.6.7). Nil disables user-token affinity.
	UserTokenHandler UserTokenHandler

	// Credentials answers Basic and Digest challenges. Nil disables
	// those two schemes; NTLM/SPNEGO go through ExternalCredentials
	// instead since their response computation needs an external
	// library or OS facility (spec.md §1).
	Credentials *Credentials
	// ExternalCredentials answers NTLM/SPNEGO challenges.
	ExternalCredentials externalCredentials

	// logger and rootCAs are set only via WithLogger/WithRootCAs; they
	// have no YAML representation since a logger isn't serializable and
	// a custom root pool is a code-only embedder concern.
	logger  *zap.Logger
	rootCAs *x509.CertPool
}

// DefaultConfig returns a ClientConfig with the defaults implied
// throughout spec.md §3-§4 (10s connect, no hard request deadline,
// idle connections probed once they have sat idle for 2s, etc).
func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		ConnectTimeout:          10 * time.Second,
		SocketTimeout:           30 * time.Second,
		HandshakeTimeout:        10 * time.Second,
		LeaseTimeout:            3 * time.Second,
		RequestDeadline:         0, // no hard deadline
		ValidateAfterInactivity: 2 * time.Second,
		TimeToLive:              0, // unlimited
		IdleTimeout:             60 * time.Second,
		MaxPerRoute:             20,
		MaxTotal:                200,
		MaxRedirects:            50,
		CircularRedirects:       false,
		StrictRedirectCompat:    false,
		AutomaticRetries:        true,
		MaxAutoRetries:          3,
		RetriableStatus:         []int{429, 503},
		UserAgent:               "transit/1.0",
		HostnameVerify:          VerifyBuiltin,
		PreferredScheme:         AuthSchemeSPNEGO,
		PreferHTTP2:             true,
	}
}

// Option mutates a ClientConfig at construction time.
type Option func(*ClientConfig)

// WithMaxPerRoute overrides the default per-route connection cap.
func WithMaxPerRoute(n int) Option { return func(c *ClientConfig) { c.MaxPerRoute = n } }

// WithMaxTotal overrides the pool-wide connection cap.
func WithMaxTotal(n int) Option { return func(c *ClientConfig) { c.MaxTotal = n } }

// WithRequestDeadline sets the hard end-to-end per-request deadline.
func WithRequestDeadline(d time.Duration) Option {
	return func(c *ClientConfig) { c.RequestDeadline = d }
}

// WithConnectTimeout overrides the TCP connect deadline.
func WithConnectTimeout(d time.Duration) Option {
	return func(c *ClientConfig) { c.ConnectTimeout = d }
}

// WithHandshakeTimeout overrides the TLS handshake deadline.
func WithHandshakeTimeout(d time.Duration) Option {
	return func(c *ClientConfig) { c.HandshakeTimeout = d }
}

// WithValidateAfterInactivity overrides the idle-probe threshold.
func WithValidateAfterInactivity(d time.Duration) Option {
	return func(c *ClientConfig) { c.ValidateAfterInactivity = d }
}

// WithCircuitBreaker enables the per-route breaker.
func WithCircuitBreaker(cfg *CircuitBreakerConfig) Option {
	return func(c *ClientConfig) { c.CircuitBreaker = cfg }
}

// WithUserTokenHandler installs the user-token affinity callback.
func WithUserTokenHandler(h UserTokenHandler) Option {
	return func(c *ClientConfig) { c.UserTokenHandler = h }
}

// WithCookiePolicy installs a CookieJar.
func WithCookiePolicy(j CookieJar) Option {
	return func(c *ClientConfig) { c.CookiePolicy = j }
}

// WithCredentials installs the username/password pair used to answer
// Basic and Digest challenges.
func WithCredentials(creds Credentials) Option {
	return func(c *ClientConfig) { c.Credentials = &creds }
}

// WithExternalCredentials installs the NTLM/SPNEGO collaborator.
func WithExternalCredentials(ext externalCredentials) Option {
	return func(c *ClientConfig) { c.ExternalCredentials = ext }
}

// Build applies opts to DefaultConfig and returns the result.
func Build(opts ...Option) *ClientConfig {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}
