package transit

import (
	"context"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthInterceptorAnswersBasicChallenge(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreferredScheme = AuthSchemeBasic
	creds := &Credentials{Username: "alice", Password: "wonderland"}
	i := newAuthInterceptor(cfg, creds, nil)

	attempt := 0
	var authSent string
	next := func(ctx context.Context, req *Request, scope *Scope) (*Response, error) {
		attempt++
		if attempt == 1 {
			h := NewHeader()
			h.Set("WWW-Authenticate", `Basic realm="site"`)
			return &Response{Code: 401, Header: h, Entity: NewBytesEntity(nil, "")}, nil
		}
		authSent = req.Header.Get("Authorization")
		return &Response{Code: 200, Header: NewHeader(), Entity: NewBytesEntity(nil, "")}, nil
	}

	req := &Request{Method: "GET", Path: "/secure", Header: NewHeader()}
	resp, err := i.Execute(context.Background(), req, NewScope("r", time.Time{}), next)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)

	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("alice:wonderland"))
	assert.Equal(t, want, authSent)
}

func TestAuthInterceptorPassesThroughNonChallengeResponses(t *testing.T) {
	cfg := DefaultConfig()
	i := newAuthInterceptor(cfg, nil, nil)

	next := passthroughNext(&Response{Code: 200, Header: NewHeader()}, nil)
	resp, err := i.Execute(context.Background(), &Request{Header: NewHeader()}, NewScope("r", time.Time{}), next)
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Code)
}

func TestAuthInterceptorFailsWithoutCredentials(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PreferredScheme = AuthSchemeBasic
	i := newAuthInterceptor(cfg, nil, nil)

	next := func(ctx context.Context, req *Request, scope *Scope) (*Response, error) {
		h := NewHeader()
		h.Set("WWW-Authenticate", `Basic realm="site"`)
		return &Response{Code: 401, Header: h, Entity: NewBytesEntity(nil, "")}, nil
	}

	_, err := i.Execute(context.Background(), &Request{Header: NewHeader()}, NewScope("r", time.Time{}), next)
	require.Error(t, err)
	assert.Equal(t, KindCredentialsMissing, Kind(err))
}

func TestAuthInterceptorDetectsStalledChallenge(t *testing.T) {
	// Simulates the scope already having seen this exact Basic
	// challenge once (Phase left at AuthChallenged by a prior attempt
	// in the same exchange); a second identical challenge with no
	// progress must report auth_stalled instead of retrying forever.
	cfg := DefaultConfig()
	cfg.PreferredScheme = AuthSchemeBasic
	creds := &Credentials{Username: "alice", Password: "wrong"}
	i := newAuthInterceptor(cfg, creds, nil)

	next := func(ctx context.Context, req *Request, scope *Scope) (*Response, error) {
		h := NewHeader()
		h.Set("WWW-Authenticate", `Basic realm="site"`)
		return &Response{Code: 401, Header: h, Entity: NewBytesEntity(nil, "")}, nil
	}

	scope := NewScope("r", time.Time{})
	scope.AuthState = &AuthState{Phase: AuthChallenged, Scheme: AuthSchemeBasic, lastChallenge: "site"}
	_, err := i.Execute(context.Background(), &Request{Header: NewHeader()}, scope, next)
	require.Error(t, err)
	assert.Equal(t, KindAuthStalled, Kind(err))
}
