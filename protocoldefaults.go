package transit

import "context"

// protocolDefaultsInterceptor fills in the headers every outgoing
// request needs when the caller did not set them explicitly: a
// User-Agent, an Accept-Encoding advertising the codecs
// contentCodingInterceptor can decode, and any headers the embedder
// configured as always-on defaults (spec.md §4.6.1).
type protocolDefaultsInterceptor struct {
	cfg *ClientConfig
}

func newProtocolDefaultsInterceptor(cfg *ClientConfig) *protocolDefaultsInterceptor {
	return &protocolDefaultsInterceptor{cfg: cfg}
}

func (i *protocolDefaultsInterceptor) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	if req.Header == nil {
		req.Header = NewHeader()
	}
	for k, v := range i.cfg.DefaultHeaders {
		if !req.Header.Has(k) {
			req.Header.Set(k, v)
		}
	}
	if !req.Header.Has("User-Agent") && i.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", i.cfg.UserAgent)
	}
	if !req.Header.Has("Accept-Encoding") {
		enc := i.cfg.AcceptEncoding
		if enc == "" {
			enc = "gzip, x-gzip, deflate"
		}
		req.Header.Set("Accept-Encoding", enc)
	}
	if !req.Header.Has("Accept") {
		req.Header.Set("Accept", "*/*")
	}
	return next(ctx, req, scope)
}
