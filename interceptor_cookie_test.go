package transit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeJar struct {
	cookies map[string]string
	stored  map[string][]string
}

func newFakeJar() *fakeJar {
	return &fakeJar{cookies: map[string]string{}, stored: map[string][]string{}}
}

func (j *fakeJar) CookiesFor(uri string) string { return j.cookies[uri] }
func (j *fakeJar) Store(uri string, setCookie []string) {
	j.stored[uri] = append(j.stored[uri], setCookie...)
}

func TestCookieInterceptorAttachesAndStores(t *testing.T) {
	jar := newFakeJar()
	jar.cookies["http://example.com/"] = "session=abc"
	i := newCookieInterceptor(jar)

	req := &Request{Scheme: "http", Host: "example.com", Header: NewHeader()}
	respHeader := NewHeader()
	respHeader.Add("Set-Cookie", "session=xyz; Path=/")

	_, err := i.Execute(context.Background(), req, NewScope("r", time.Time{}),
		passthroughNext(&Response{Header: respHeader}, nil))
	require.NoError(t, err)

	assert.Equal(t, "session=abc", req.Header.Get("Cookie"))
	assert.Equal(t, []string{"session=xyz; Path=/"}, jar.stored["http://example.com/"])
}

func TestCookieInterceptorNoopWithoutJar(t *testing.T) {
	i := newCookieInterceptor(nil)
	req := &Request{Scheme: "http", Host: "example.com", Header: NewHeader()}
	_, err := i.Execute(context.Background(), req, NewScope("r", time.Time{}), passthroughNext(&Response{Header: NewHeader()}, nil))
	require.NoError(t, err)
	assert.False(t, req.Header.Has("Cookie"))
}
