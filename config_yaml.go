package transit

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// yamlConfig mirrors ClientConfig in a form friendly to YAML authors:
// durations as strings ("10s"), the breaker condition as a bare
// string, cookie/user-token collaborators omitted since they are
// code-only extension points with no serializable representation.
type yamlConfig struct {
	ConnectTimeout   string `yaml:"connect_timeout"`
	SocketTimeout    string `yaml:"socket_timeout"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	LeaseTimeout     string `yaml:"lease_timeout"`
	RequestDeadline  string `yaml:"request_deadline"`

	ValidateAfterInactivity string `yaml:"validate_after_inactivity"`
	TimeToLive              string `yaml:"time_to_live"`
	IdleTimeout             string `yaml:"idle_timeout"`
	MaxPerRoute             int    `yaml:"max_per_route"`
	MaxTotal                int    `yaml:"max_total"`

	MaxRedirects         int  `yaml:"max_redirects"`
	CircularRedirects    bool `yaml:"circular_redirects"`
	StrictRedirectCompat bool `yaml:"strict_redirect_compat"`

	AutomaticRetries *bool `yaml:"automatic_retries"`
	MaxAutoRetries   int   `yaml:"max_auto_retries"`
	RetriableStatus  []int `yaml:"retriable_status"`

	DefaultHeaders  map[string]string `yaml:"default_headers"`
	AcceptEncoding  string            `yaml:"accept_encoding"`
	UserAgent       string            `yaml:"user_agent"`
	HostnameVerify  string            `yaml:"hostname_verify"`
	PreferredScheme string            `yaml:"preferred_scheme"`

	PreferHTTP2   *bool `yaml:"prefer_http2"`
	H2C           bool  `yaml:"h2c"`
	CloseAfterUse bool  `yaml:"close_after_use"`

	CircuitBreaker *yamlBreaker `yaml:"circuit_breaker"`
}

type yamlBreaker struct {
	StopIf     string `yaml:"stop_if"`
	MinSamples int64  `yaml:"min_samples"`
}

// LoadConfig reads a YAML document at path and returns the ClientConfig
// it describes, layered on top of DefaultConfig for any field the
// document omits. It mirrors the teacher's pkg/config LoadConfig shape:
// read file, unmarshal, validate, return actionable errors.
func LoadConfig(path string) (*ClientConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("transit: read config %s: %w", path, err)
	}

	var y yamlConfig
	if err := yaml.Unmarshal(data, &y); err != nil {
		return nil, fmt.Errorf("transit: parse config %s: %w", path, err)
	}

	result := Validate(y)
	if result.HasErrors() {
		return nil, fmt.Errorf("transit: invalid config %s:%s", path, result.FormatErrors())
	}

	cfg := DefaultConfig()
	applyYAML(cfg, y)
	return cfg, nil
}

func applyYAML(cfg *ClientConfig, y yamlConfig) {
	setDuration(&cfg.ConnectTimeout, y.ConnectTimeout)
	setDuration(&cfg.SocketTimeout, y.SocketTimeout)
	setDuration(&cfg.HandshakeTimeout, y.HandshakeTimeout)
	setDuration(&cfg.LeaseTimeout, y.LeaseTimeout)
	setDuration(&cfg.RequestDeadline, y.RequestDeadline)
	setDuration(&cfg.ValidateAfterInactivity, y.ValidateAfterInactivity)
	setDuration(&cfg.TimeToLive, y.TimeToLive)
	setDuration(&cfg.IdleTimeout, y.IdleTimeout)

	if y.MaxPerRoute != 0 {
		cfg.MaxPerRoute = y.MaxPerRoute
	}
	if y.MaxTotal != 0 {
		cfg.MaxTotal = y.MaxTotal
	}
	if y.MaxRedirects != 0 {
		cfg.MaxRedirects = y.MaxRedirects
	}
	cfg.CircularRedirects = y.CircularRedirects
	cfg.StrictRedirectCompat = y.StrictRedirectCompat
	if y.AutomaticRetries != nil {
		cfg.AutomaticRetries = *y.AutomaticRetries
	}
	if y.MaxAutoRetries != 0 {
		cfg.MaxAutoRetries = y.MaxAutoRetries
	}
	if len(y.RetriableStatus) > 0 {
		cfg.RetriableStatus = y.RetriableStatus
	}
	if len(y.DefaultHeaders) > 0 {
		cfg.DefaultHeaders = y.DefaultHeaders
	}
	if y.AcceptEncoding != "" {
		cfg.AcceptEncoding = y.AcceptEncoding
	}
	if y.UserAgent != "" {
		cfg.UserAgent = y.UserAgent
	}
	if hv, ok := parseHostnameVerify(y.HostnameVerify); ok {
		cfg.HostnameVerify = hv
	}
	if sch, ok := parseAuthScheme(y.PreferredScheme); ok {
		cfg.PreferredScheme = sch
	}
	if y.CircuitBreaker != nil {
		cfg.CircuitBreaker = &CircuitBreakerConfig{
			StopIf:     y.CircuitBreaker.StopIf,
			MinSamples: y.CircuitBreaker.MinSamples,
		}
	}
	if y.PreferHTTP2 != nil {
		cfg.PreferHTTP2 = *y.PreferHTTP2
	}
	cfg.H2C = y.H2C
	cfg.CloseAfterUse = y.CloseAfterUse
}

func setDuration(dst *time.Duration, s string) {
	if s == "" {
		return
	}
	if d, err := time.ParseDuration(s); err == nil {
		*dst = d
	}
}

func parseHostnameVerify(s string) (HostnameVerification, bool) {
	switch s {
	case "":
		return 0, false
	case "builtin":
		return VerifyBuiltin, true
	case "client":
		return VerifyClient, true
	case "none":
		return VerifyNone, true
	default:
		return 0, false
	}
}

func parseAuthScheme(s string) (AuthScheme, bool) {
	switch s {
	case "":
		return 0, false
	case "none":
		return AuthSchemeNone, true
	case "basic":
		return AuthSchemeBasic, true
	case "digest":
		return AuthSchemeDigest, true
	case "ntlm":
		return AuthSchemeNTLM, true
	case "negotiate", "spnego":
		return AuthSchemeSPNEGO, true
	default:
		return 0, false
	}
}

// SaveConfig marshals cfg back to a YAML document at path, mirroring
// the teacher's pkg/config SaveConfig round-trip helper used by its
// scaffolding command.
func SaveConfig(cfg *ClientConfig, path string) error {
	y := yamlConfig{
		ConnectTimeout:          cfg.ConnectTimeout.String(),
		SocketTimeout:           cfg.SocketTimeout.String(),
		HandshakeTimeout:        cfg.HandshakeTimeout.String(),
		LeaseTimeout:            cfg.LeaseTimeout.String(),
		RequestDeadline:         cfg.RequestDeadline.String(),
		ValidateAfterInactivity: cfg.ValidateAfterInactivity.String(),
		TimeToLive:              cfg.TimeToLive.String(),
		IdleTimeout:             cfg.IdleTimeout.String(),
		MaxPerRoute:             cfg.MaxPerRoute,
		MaxTotal:                cfg.MaxTotal,
		MaxRedirects:            cfg.MaxRedirects,
		CircularRedirects:       cfg.CircularRedirects,
		StrictRedirectCompat:    cfg.StrictRedirectCompat,
		AutomaticRetries:        &cfg.AutomaticRetries,
		MaxAutoRetries:          cfg.MaxAutoRetries,
		RetriableStatus:         cfg.RetriableStatus,
		DefaultHeaders:          cfg.DefaultHeaders,
		AcceptEncoding:          cfg.AcceptEncoding,
		UserAgent:               cfg.UserAgent,
		PreferHTTP2:             &cfg.PreferHTTP2,
		H2C:                     cfg.H2C,
		CloseAfterUse:           cfg.CloseAfterUse,
	}
	if cfg.CircuitBreaker != nil {
		y.CircuitBreaker = &yamlBreaker{StopIf: cfg.CircuitBreaker.StopIf, MinSamples: cfg.CircuitBreaker.MinSamples}
	}

	data, err := yaml.Marshal(y)
	if err != nil {
		return fmt.Errorf("transit: marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("transit: write config %s: %w", path, err)
	}
	return nil
}
