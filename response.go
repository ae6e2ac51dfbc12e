package transit

import "io"

// Response is the result of executing a Request. Entity is always a
// one-shot stream; callers must consume, discard, or cancel it
// exactly once (spec.md §3) — doing so releases the endpoint that
// produced it back to the pool.
type Response struct {
	Code     int
	Reason   string
	Header   *Header
	Entity   *Entity
	Trailers *Header

	// release is invoked exactly once, by Close/Discard, reporting
	// whether the underlying endpoint may be reused.
	release func(reusable bool)
	closed  bool
}

// Body returns the response body stream. Reading it to EOF and
// calling Close (or calling Discard/Cancel instead) is required
// before the endpoint is released back to the pool.
func (r *Response) Body() io.ReadCloser {
	if r.Entity == nil {
		return io.NopCloser(nil)
	}
	return &responseBody{r: r, inner: r.Entity.Reader()}
}

type responseBody struct {
	r     *Response
	inner io.ReadCloser
	err   error
}

func (b *responseBody) Read(p []byte) (int, error) {
	n, err := b.inner.Read(p)
	if err != nil && err != io.EOF {
		b.err = err
	}
	return n, err
}

// Close reads any remaining body (bounding reuse to fully-consumed
// responses) and releases the endpoint, reusable unless a read error
// was observed.
func (b *responseBody) Close() error {
	if b.r.closed {
		return nil
	}
	b.r.closed = true
	reusable := b.err == nil
	err := b.inner.Close()
	if b.r.release != nil {
		b.r.release(reusable)
	}
	return err
}

// Discard drains and discards the body without the caller reading it,
// then releases the endpoint.
func (r *Response) Discard() error {
	if r.closed {
		return nil
	}
	body := r.Body()
	_, err := io.Copy(io.Discard, body)
	cerr := body.Close()
	if err != nil {
		return err
	}
	return cerr
}

// Cancel releases the endpoint as non-reusable without reading the
// body at all (used when the caller gives up mid-stream).
func (r *Response) Cancel() {
	if r.closed {
		return
	}
	r.closed = true
	if r.Entity != nil && r.Entity.Stream != nil {
		r.Entity.Stream.Close()
	}
	if r.release != nil {
		r.release(false)
	}
}

// SetReleaseFunc wires the function invoked on Close/Discard/Cancel.
// Used by the terminal exec to bind a response to the endpoint that
// produced it.
func (r *Response) SetReleaseFunc(f func(reusable bool)) { r.release = f }

// IsRedirect reports whether Code is one of the redirect status codes
// the redirect interceptor acts on.
func (r *Response) IsRedirect() bool {
	switch r.Code {
	case 301, 302, 303, 307, 308:
		return true
	}
	return false
}
