package transit

import (
	"context"
	"errors"

	"github.com/transit-http/transit/internal/auth"
)

var errCredentialsMissing = errors.New("transit: no credentials available for challenge")

// Credentials supplies the username/password pair used to answer
// Basic and Digest challenges. Embedders that need NTLM or SPNEGO
// implement auth.Credentials directly and install it with
// WithExternalCredentials instead.
type Credentials struct {
	Username string
	Password string
}

// authInterceptor answers WWW-Authenticate challenges (spec.md
// §4.6.4): it lets the first attempt go out unauthenticated, and on a
// 401/407 it computes a response for the preferred scheme among those
// offered and retries once. A second identical challenge after that
// retry is surfaced as KindAuthStalled rather than looped forever.
type authInterceptor struct {
	cfg   *ClientConfig
	creds *Credentials
	ext   auth.Credentials
}

func newAuthInterceptor(cfg *ClientConfig, creds *Credentials, ext auth.Credentials) *authInterceptor {
	return &authInterceptor{cfg: cfg, creds: creds, ext: ext}
}

func (i *authInterceptor) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	resp, err := next(ctx, req, scope)
	if err != nil || resp == nil {
		return resp, err
	}
	if resp.Code != 401 && resp.Code != 407 {
		return resp, nil
	}

	header := "WWW-Authenticate"
	if resp.Code == 407 {
		header = "Proxy-Authenticate"
	}
	challenges := auth.ParseChallenges(resp.Header.Values(header))
	if len(challenges) == 0 {
		return resp, nil
	}

	chosen := selectChallenge(challenges, i.cfg.PreferredScheme)
	if chosen == nil {
		return resp, nil
	}

	if scope.AuthState == nil {
		scope.AuthState = &AuthState{}
	}
	if scope.AuthState.observeChallenge(schemeFromAuth(chosen.Scheme), chosen.Token) {
		resp.Discard()
		return nil, NewError(KindAuthStalled, "auth", nil).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
	}

	value, rerr := i.respond(*chosen, req)
	if rerr != nil {
		resp.Discard()
		return nil, NewError(KindCredentialsMissing, "auth", rerr).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
	}

	resp.Discard()
	scope.AuthState.Phase = AuthResponding
	authReq := req.Clone()
	authHeader := "Authorization"
	if resp.Code == 407 {
		authHeader = "Proxy-Authorization"
	}
	authReq.Header.Set(authHeader, value)

	final, err := next(ctx, authReq, scope)
	if err == nil && final != nil && final.Code != 401 && final.Code != 407 {
		scope.AuthState.Phase = AuthSucceeded
	} else if err == nil && final != nil {
		scope.AuthState.Phase = AuthChallenged
		againHeader := "WWW-Authenticate"
		if final.Code == 407 {
			againHeader = "Proxy-Authenticate"
		}
		again := selectChallenge(auth.ParseChallenges(final.Header.Values(againHeader)), i.cfg.PreferredScheme)
		if again != nil && scope.AuthState.observeChallenge(schemeFromAuth(again.Scheme), again.Token) {
			final.Discard()
			return nil, NewError(KindAuthStalled, "auth", nil).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
		}
		scope.AuthState.Phase = AuthFailed
	}
	return final, err
}

func (i *authInterceptor) respond(c auth.Challenge, req *Request) (string, error) {
	switch c.Scheme {
	case auth.SchemeBasic:
		if i.creds == nil {
			return "", errCredentialsMissing
		}
		return auth.BasicResponse(i.creds.Username, i.creds.Password), nil
	case auth.SchemeDigest:
		if i.creds == nil {
			return "", errCredentialsMissing
		}
		return auth.DigestResponse(i.creds.Username, i.creds.Password, req.Method, req.Path, c, newTraceID(), 1), nil
	case auth.SchemeNTLM, auth.SchemeSPNEGO:
		if i.ext == nil {
			return "", errCredentialsMissing
		}
		return i.ext.Respond(c, "")
	default:
		return "", errCredentialsMissing
	}
}

func selectChallenge(challenges []auth.Challenge, preferred AuthScheme) *auth.Challenge {
	order := schemePriority(preferred)
	for _, want := range order {
		for i := range challenges {
			if challenges[i].Scheme == want {
				return &challenges[i]
			}
		}
	}
	return nil
}

// schemePriority ranks schemes by strength, moving preferred to the
// front when the server offers it among its challenges.
func schemePriority(preferred AuthScheme) []auth.Scheme {
	base := []auth.Scheme{auth.SchemeSPNEGO, auth.SchemeNTLM, auth.SchemeDigest, auth.SchemeBasic}
	p := schemeFromConfig(preferred)
	if p == auth.SchemeUnknown {
		return base
	}
	out := []auth.Scheme{p}
	for _, s := range base {
		if s != p {
			out = append(out, s)
		}
	}
	return out
}

func schemeFromConfig(s AuthScheme) auth.Scheme {
	switch s {
	case AuthSchemeBasic:
		return auth.SchemeBasic
	case AuthSchemeDigest:
		return auth.SchemeDigest
	case AuthSchemeNTLM:
		return auth.SchemeNTLM
	case AuthSchemeSPNEGO:
		return auth.SchemeSPNEGO
	default:
		return auth.SchemeUnknown
	}
}

func schemeFromAuth(s auth.Scheme) AuthScheme {
	switch s {
	case auth.SchemeBasic:
		return AuthSchemeBasic
	case auth.SchemeDigest:
		return AuthSchemeDigest
	case auth.SchemeNTLM:
		return AuthSchemeNTLM
	case auth.SchemeSPNEGO:
		return AuthSchemeSPNEGO
	default:
		return AuthSchemeNone
	}
}
