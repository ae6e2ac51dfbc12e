package transit

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"context"
	"io"
	"strings"
)

// contentCodingInterceptor transparently decodes a gzip, x-gzip, or
// deflate Content-Encoding before handing the response back up the
// chain, the way the teacher's HTTP client relies on net/http's own
// transparent gzip handling — except here the core dials its own
// transport rather than using net/http.Transport, so decoding has to
// be done explicitly (spec.md §4.6.2).
type contentCodingInterceptor struct{}

func newContentCodingInterceptor() *contentCodingInterceptor { return &contentCodingInterceptor{} }

func (i *contentCodingInterceptor) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	resp, err := next(ctx, req, scope)
	if err != nil || resp == nil {
		return resp, err
	}

	enc := strings.ToLower(strings.TrimSpace(resp.Header.Get("Content-Encoding")))
	if enc == "" || enc == "identity" {
		return resp, nil
	}

	inner := resp.Entity.Reader()
	decoded, derr := decodeBody(enc, inner)
	if derr != nil {
		inner.Close()
		return nil, NewError(KindProtocolError, "content-coding", derr)
	}

	resp.Header.Del("Content-Encoding")
	resp.Header.Del("Content-Length")
	resp.Entity = NewStreamEntity(decoded, resp.Entity.ContentType, -1)
	return resp, nil
}

func decodeBody(encoding string, r io.ReadCloser) (io.ReadCloser, error) {
	switch encoding {
	case "gzip", "x-gzip":
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return &wrapReadCloser{Reader: gr, closers: []io.Closer{gr, r}}, nil
	case "deflate":
		// Per spec.md §4.6.2: attempt zlib (RFC 1950) framing first,
		// falling back to raw flate (RFC 1951) on header mismatch — the
		// common server-side ambiguity around "deflate". Both need the
		// body buffered so a rejected zlib header doesn't consume bytes
		// the raw-flate fallback still needs.
		data, rerr := io.ReadAll(r)
		if rerr != nil {
			r.Close()
			return nil, rerr
		}
		if zr, zerr := zlib.NewReader(bytes.NewReader(data)); zerr == nil {
			return &wrapReadCloser{Reader: zr, closers: []io.Closer{zr, r}}, nil
		}
		fr := flate.NewReader(bytes.NewReader(data))
		return &wrapReadCloser{Reader: fr, closers: []io.Closer{fr, r}}, nil
	default:
		return r, nil
	}
}

// wrapReadCloser closes every underlying closer (decoder then raw
// stream) in order, so the inner pool-releasing body close still runs.
type wrapReadCloser struct {
	io.Reader
	closers []io.Closer
}

func (w *wrapReadCloser) Close() error {
	var first error
	for _, c := range w.closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
