package transit

import "context"

// cookieInterceptor attaches the Cookie header from ClientConfig's
// CookiePolicy before the request goes out and stores any Set-Cookie
// values the response carries, a thin pass-through since the jar
// itself is the embedder-supplied collaborator (spec.md §1, §5).
type cookieInterceptor struct {
	jar CookieJar
}

func newCookieInterceptor(jar CookieJar) *cookieInterceptor {
	return &cookieInterceptor{jar: jar}
}

func (i *cookieInterceptor) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	if i.jar != nil {
		if c := i.jar.CookiesFor(req.URI()); c != "" {
			req.Header.Set("Cookie", c)
		}
	}
	resp, err := next(ctx, req, scope)
	if i.jar != nil && resp != nil {
		if sc := resp.Header.Values("Set-Cookie"); len(sc) > 0 {
			i.jar.Store(req.URI(), sc)
		}
	}
	return resp, err
}
