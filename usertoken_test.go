package transit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserTokenInterceptorDerivesTokenOnce(t *testing.T) {
	calls := 0
	cfg := DefaultConfig()
	cfg.UserTokenHandler = func(route string, scope *Scope) any {
		calls++
		return "session-" + route
	}
	i := newUserTokenInterceptor(cfg)
	scope := NewScope("https://example.com:443", time.Time{})

	_, err := i.Execute(context.Background(), &Request{}, scope, passthroughNext(&Response{}, nil))
	require.NoError(t, err)
	assert.Equal(t, "session-https://example.com:443", scope.UserToken)

	_, err = i.Execute(context.Background(), &Request{}, scope, passthroughNext(&Response{}, nil))
	require.NoError(t, err)
	assert.Equal(t, 1, calls, "handler must not run again once a token is already set on the scope")
}

func TestUserTokenInterceptorNoopWithoutHandler(t *testing.T) {
	cfg := DefaultConfig()
	i := newUserTokenInterceptor(cfg)
	scope := NewScope("r", time.Time{})

	_, err := i.Execute(context.Background(), &Request{}, scope, passthroughNext(&Response{}, nil))
	require.NoError(t, err)
	assert.Nil(t, scope.UserToken)
}
