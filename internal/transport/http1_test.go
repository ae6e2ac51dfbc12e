package transport

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/transit-http/transit/internal/route"
	"github.com/transit-http/transit/internal/tlsstrategy"
)

func rawHTTP1Server(t *testing.T, handle func(req *http.Request, conn net.Conn)) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		req, err := http.ReadRequest(bufio.NewReader(conn))
		if err != nil {
			return
		}
		handle(req, conn)
	}()
	return ln
}

func TestHTTP1EndpointRoundTrip(t *testing.T) {
	ln := rawHTTP1Server(t, func(req *http.Request, conn net.Conn) {
		io.Copy(io.Discard, req.Body)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 5\r\nConnection: keep-alive\r\n\r\nhello"))
	})
	defer ln.Close()

	rt := route.Route{Scheme: "http", Host: "127.0.0.1"}
	ep := NewHTTP1Endpoint(rt, ln.Addr().String(), &net.Dialer{}, tlsstrategy.Config{})
	require.NoError(t, ep.Connect(context.Background(), time.Now().Add(time.Second)))
	defer ep.Close()

	err := ep.Send(context.Background(), &WireRequest{
		Method: "GET",
		URL:    "http://127.0.0.1/",
		Host:   "127.0.0.1",
		Header: http.Header{},
	}, time.Now().Add(time.Second))
	require.NoError(t, err)

	resp, err := ep.Receive(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Equal(t, "hello", string(body))
	require.NoError(t, resp.Body.Close())
	require.True(t, ep.Reusable())
}

func TestHTTP1EndpointTaintsOnConnectionClose(t *testing.T) {
	ln := rawHTTP1Server(t, func(req *http.Request, conn net.Conn) {
		io.Copy(io.Discard, req.Body)
		conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 2\r\nConnection: close\r\n\r\nok"))
	})
	defer ln.Close()

	rt := route.Route{Scheme: "http", Host: "127.0.0.1"}
	ep := NewHTTP1Endpoint(rt, ln.Addr().String(), &net.Dialer{}, tlsstrategy.Config{})
	require.NoError(t, ep.Connect(context.Background(), time.Now().Add(time.Second)))
	defer ep.Close()

	require.NoError(t, ep.Send(context.Background(), &WireRequest{
		Method: "GET", URL: "http://127.0.0.1/", Host: "127.0.0.1", Header: http.Header{},
	}, time.Now().Add(time.Second)))

	resp, err := ep.Receive(context.Background(), time.Now().Add(time.Second))
	require.NoError(t, err)
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	require.False(t, ep.Reusable())
}
