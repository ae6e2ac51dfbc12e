package transit

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// redirectInterceptor follows 3xx Location responses up to
// ClientConfig.MaxRedirects, rewriting the method to GET for
// 301/302/303 the lax way every mainstream client does unless
// StrictRedirectCompat keeps the method on 301/302; 303 always becomes
// GET and 307/308 never change the method (spec.md §4.6.3). It detects circular redirects via
// Scope.visitRedirect and refuses to follow them unless
// CircularRedirects explicitly opts in.
type redirectInterceptor struct {
	cfg *ClientConfig
}

func newRedirectInterceptor(cfg *ClientConfig) *redirectInterceptor {
	return &redirectInterceptor{cfg: cfg}
}

func (i *redirectInterceptor) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	current := req
	for {
		resp, err := next(ctx, current, scope)
		if err != nil || resp == nil || !resp.IsRedirect() {
			return resp, err
		}

		loc := resp.Header.Get("Location")
		if loc == "" {
			return resp, nil
		}
		// Enforced against the redirect chain itself, not the
		// retry-shared attempt counter below us in the chain: retry
		// overwrites scope.AttemptCount on every call to next, so a
		// chain of distinct URIs with AutomaticRetries enabled would
		// otherwise never trip this limit (spec.md §8: len(redirect_chain)
		// <= max_redirects).
		if len(scope.RedirectChain) >= i.cfg.MaxRedirects {
			resp.Discard()
			return nil, NewError(KindRedirectLimit, "redirect", nil).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
		}

		target, rerr := resolveLocation(current, loc)
		if rerr != nil {
			resp.Discard()
			return nil, NewError(KindProtocolError, "redirect", rerr).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
		}

		circular := scope.visitRedirect(target.URI())
		if circular && !i.cfg.CircularRedirects {
			resp.Discard()
			return nil, NewError(KindCircularRedirect, "redirect", nil).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
		}

		nextReq := rewriteForRedirect(current, target, resp.Code, i.cfg.StrictRedirectCompat)
		resp.Discard()

		scope.Route = target.Scheme + "://" + target.Host + ":" + strconv.Itoa(target.Port)
		scope.AttemptCount++
		current = nextReq
	}
}

// resolveLocation resolves a possibly-relative Location header against
// the request that produced it, returning the fully qualified target.
// Rejects raw whitespace in the header value and any scheme other than
// http/https (spec.md §4.6.3), both of which net/url's lenient parsing
// would otherwise silently accept or mis-resolve.
func resolveLocation(req *Request, loc string) (*Request, error) {
	if strings.ContainsAny(loc, " \t\r\n") {
		return nil, fmt.Errorf("redirect: Location contains raw whitespace: %q", loc)
	}
	base, err := url.Parse(req.URI())
	if err != nil {
		return nil, err
	}
	ref, err := url.Parse(loc)
	if err != nil {
		return nil, err
	}
	abs := base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return nil, fmt.Errorf("redirect: unsupported scheme %q", abs.Scheme)
	}

	port := 0
	if p := abs.Port(); p != "" {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	return &Request{
		Method:   req.Method,
		Scheme:   abs.Scheme,
		Host:     abs.Hostname(),
		Port:     port,
		Path:     abs.Path,
		RawQuery: abs.RawQuery,
		Header:   req.Header,
		Entity:   req.Entity,
	}, nil
}

// rewriteForRedirect builds the request to send for the new location,
// applying the method-rewrite rule for the status code observed.
func rewriteForRedirect(orig, target *Request, status int, strict bool) *Request {
	next := target.Clone()
	next.Header = orig.Header.Clone()
	next.Header.Del("Authorization") // new authority, don't leak credentials cross-origin
	next.Entity = orig.Entity

	rewriteToGet := false
	switch status {
	case 301, 302:
		rewriteToGet = !strict && orig.Method != "GET" && orig.Method != "HEAD"
	case 303:
		rewriteToGet = orig.Method != "GET" && orig.Method != "HEAD"
	case 307, 308:
		rewriteToGet = false
	}
	if rewriteToGet {
		next.Method = "GET"
		next.Entity = nil
		next.Header.Del("Content-Type")
		next.Header.Del("Content-Length")
	}
	return next
}
