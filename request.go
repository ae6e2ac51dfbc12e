package transit

import (
	"context"
	"io"
	"net/textproto"
	"strconv"
)

// Header is an ordered, case-insensitive, multi-valued header set.
// Unlike net/http.Header it preserves insertion order per name, which
// the protocol-defaults interceptor and the wire codecs rely on.
type Header struct {
	keys   []string // canonical MIME keys, insertion order, no duplicates
	values map[string][]string
}

// NewHeader returns an empty Header ready to use.
func NewHeader() *Header {
	return &Header{values: make(map[string][]string)}
}

func canonKey(name string) string { return textproto.CanonicalMIMEHeaderKey(name) }

// Add appends a value for name, preserving any existing values.
func (h *Header) Add(name, value string) {
	k := canonKey(name)
	if _, ok := h.values[k]; !ok {
		h.keys = append(h.keys, k)
	}
	h.values[k] = append(h.values[k], value)
}

// Set replaces all values for name with a single value.
func (h *Header) Set(name, value string) {
	k := canonKey(name)
	if _, ok := h.values[k]; !ok {
		h.keys = append(h.keys, k)
	}
	h.values[k] = []string{value}
}

// Get returns the first value for name, or "" if absent.
func (h *Header) Get(name string) string {
	vs := h.values[canonKey(name)]
	if len(vs) == 0 {
		return ""
	}
	return vs[0]
}

// Values returns all values for name in insertion order.
func (h *Header) Values(name string) []string { return h.values[canonKey(name)] }

// Has reports whether name has at least one value set.
func (h *Header) Has(name string) bool { return len(h.values[canonKey(name)]) > 0 }

// Del removes all values for name.
func (h *Header) Del(name string) {
	k := canonKey(name)
	if _, ok := h.values[k]; !ok {
		return
	}
	delete(h.values, k)
	for i, existing := range h.keys {
		if existing == k {
			h.keys = append(h.keys[:i], h.keys[i+1:]...)
			break
		}
	}
}

// Keys returns header names in insertion order.
func (h *Header) Keys() []string {
	out := make([]string, len(h.keys))
	copy(out, h.keys)
	return out
}

// Clone returns a deep copy of h.
func (h *Header) Clone() *Header {
	cp := NewHeader()
	for _, k := range h.keys {
		vs := make([]string, len(h.values[k]))
		copy(vs, h.values[k])
		cp.keys = append(cp.keys, k)
		cp.values[k] = vs
	}
	return cp
}

// Entity is a request or response body. Exactly one of Bytes or
// Stream is set. A Bytes entity is repeatable (safe to resend on
// retry/redirect); a Stream entity is one-shot — once consumed it may
// not be retried, per the non-repeatable-body invariant in spec.md §3.
type Entity struct {
	Bytes        []byte
	Stream       io.ReadCloser
	ContentType  string
	Length       int64 // -1 if unknown
	consumed     bool
	streamSource bool
}

// NewBytesEntity returns a repeatable Entity backed by an in-memory
// byte slice.
func NewBytesEntity(b []byte, contentType string) *Entity {
	return &Entity{Bytes: b, ContentType: contentType, Length: int64(len(b))}
}

// NewStreamEntity returns a non-repeatable Entity backed by a
// one-shot stream. length may be -1 if unknown (chunked transfer).
func NewStreamEntity(r io.ReadCloser, contentType string, length int64) *Entity {
	return &Entity{Stream: r, ContentType: contentType, Length: length, streamSource: true}
}

// Repeatable reports whether this entity may be sent more than once
// (required for redirect replay and retry).
func (e *Entity) Repeatable() bool {
	if e == nil {
		return true
	}
	return !e.streamSource
}

// Reader returns a fresh reader over the entity's bytes, or the
// underlying stream (which is consumed exactly once). Calling Reader
// a second time on a stream entity panics, guarding the
// exactly-once-consumption invariant in spec.md §4.7.
func (e *Entity) Reader() io.ReadCloser {
	if e == nil {
		return io.NopCloser(&byteReader{})
	}
	if e.streamSource {
		if e.consumed {
			panic("transit: stream entity consumed more than once")
		}
		e.consumed = true
		return e.Stream
	}
	return io.NopCloser(&byteReader{b: e.Bytes})
}

type byteReader struct {
	b []byte
	i int
}

func (r *byteReader) Read(p []byte) (int, error) {
	if r.i >= len(r.b) {
		return 0, io.EOF
	}
	n := copy(p, r.b[r.i:])
	r.i += n
	return n, nil
}

// Request is an immutable-by-convention request value threaded
// through the exec chain. Interceptors that need to change it (e.g.
// redirect rewriting the method) construct a new *Request rather than
// mutating shared state across retries.
type Request struct {
	Method   string
	Scheme   string // "http" or "https"
	Host     string
	Port     int
	Path     string
	RawQuery string
	Header   *Header
	Entity   *Entity
}

// URI renders the request's target URI (scheme://host[:port]path[?query]).
func (r *Request) URI() string {
	uri := r.Scheme + "://" + r.Host
	if (r.Scheme == "http" && r.Port != 80 && r.Port != 0) ||
		(r.Scheme == "https" && r.Port != 443 && r.Port != 0) {
		uri += ":" + strconv.Itoa(r.Port)
	}
	uri += r.Path
	if r.RawQuery != "" {
		uri += "?" + r.RawQuery
	}
	return uri
}

// Clone returns a shallow copy of r with a cloned Header (but the
// same Entity, since entities carry their own repeatability rules).
func (r *Request) Clone() *Request {
	cp := *r
	if r.Header != nil {
		cp.Header = r.Header.Clone()
	}
	return &cp
}

// WithContext is a convenience no-op placeholder retained for API
// symmetry with net/http-style callers; deadlines/cancellation travel
// through ExecScope, not through context values attached to the
// Request itself (see spec.md §4.8).
func (r *Request) WithContext(_ context.Context) *Request { return r }
