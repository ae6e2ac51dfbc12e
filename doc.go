// Package transit is an embeddable HTTP/1.1 and HTTP/2 client core: a
// pooled connection manager, a configurable interceptor chain, and
// blocking and non-blocking facades, built for services that need more
// control over connection reuse, authentication, and retry behavior
// than net/http's Transport exposes directly.
//
// Client is the synchronous entry point:
//
//	c := transit.NewClient(transit.WithMaxPerRoute(50))
//	defer c.Close()
//	resp, err := c.Execute(ctx, &transit.Request{
//		Method: "GET", Scheme: "https", Host: "example.com", Path: "/",
//	})
//
// The non-blocking facade lives in the async subpackage.
package transit
