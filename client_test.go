package transit

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// acceptHTTP1 serves one HTTP/1.1 request per accepted connection,
// always closing afterward, so the pool never needs to reuse a
// connection across the sequence of responses the test scripts.
func acceptHTTP1(t *testing.T, responses []string) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for _, resp := range responses {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			req, err := http.ReadRequest(bufio.NewReader(conn))
			if err == nil {
				io.Copy(io.Discard, req.Body)
			}
			conn.Write([]byte(resp))
			conn.Close()
		}
	}()
	return ln
}

func hostPort(t *testing.T, ln net.Listener) (string, int) {
	t.Helper()
	_, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return "127.0.0.1", port
}

func TestClientExecutesSimpleGET(t *testing.T) {
	ln := acceptHTTP1(t, []string{
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello",
	})
	defer ln.Close()
	host, port := hostPort(t, ln)

	c := NewClient(WithMaxPerRoute(2))
	defer c.Close()

	req := &Request{Method: "GET", Scheme: "http", Host: host, Port: port, Path: "/", Header: NewHeader()}
	resp, err := c.Execute(context.Background(), req)
	require.NoError(t, err)
	rb := resp.Body()
	defer rb.Close()

	assert.Equal(t, 200, resp.Code)
	body, err := io.ReadAll(rb)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(body))
}

func TestClientFollowsRedirectOnSameAuthority(t *testing.T) {
	ln := acceptHTTP1(t, []string{
		"HTTP/1.1 302 Found\r\nLocation: /done\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok",
	})
	defer ln.Close()
	host, port := hostPort(t, ln)

	c := NewClient()
	defer c.Close()

	req := &Request{Method: "GET", Scheme: "http", Host: host, Port: port, Path: "/start", Header: NewHeader()}
	resp, err := c.Execute(context.Background(), req)
	require.NoError(t, err)
	defer resp.Discard()
	assert.Equal(t, 200, resp.Code)
}

func TestClientFailsOnCircularRedirect(t *testing.T) {
	ln := acceptHTTP1(t, []string{
		"HTTP/1.1 302 Found\r\nLocation: /loop\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
		"HTTP/1.1 302 Found\r\nLocation: /loop\r\nContent-Length: 0\r\nConnection: close\r\n\r\n",
	})
	defer ln.Close()
	host, port := hostPort(t, ln)

	c := NewClient()
	defer c.Close()

	req := &Request{Method: "GET", Scheme: "http", Host: host, Port: port, Path: "/loop", Header: NewHeader()}
	_, err := c.Execute(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, KindCircularRedirect, Kind(err))
}

func TestRouteKeyForUsesSchemeDefaultPort(t *testing.T) {
	k := routeKeyFor(&Request{Scheme: "https", Host: "example.com"})
	assert.Equal(t, "https://example.com:443", k)

	k = routeKeyFor(&Request{Scheme: "http", Host: "example.com", Port: 8080})
	assert.Equal(t, "http://example.com:8080", k)
}

func TestClientStatsForUnknownRouteIsZeroValue(t *testing.T) {
	c := NewClient()
	defer c.Close()
	stats := c.Stats("https://never-contacted.example.com:443")
	assert.Equal(t, 0, stats.Leased)
}

func TestClientCloseStopsSweeper(t *testing.T) {
	c := NewClient()
	require.NoError(t, c.Close())
}
