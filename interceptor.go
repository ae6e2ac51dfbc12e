package transit

import "context"

// Next invokes the remainder of the interceptor chain, terminating at
// the transport interceptor that actually sends the request and
// returns the response it received (spec.md §4.5).
type Next func(ctx context.Context, req *Request, scope *Scope) (*Response, error)

// Interceptor is one link in the exec chain. It may inspect or rewrite
// req and scope before calling next, inspect or replace the response
// next returns, short-circuit by never calling next, or call next more
// than once (the retry interceptor does exactly that). Interceptors
// run in chain order on the way in and unwind in reverse order on the
// way out, the same shape as an onion-style middleware stack.
type Interceptor interface {
	Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error)
}

// InterceptorFunc adapts a plain function to Interceptor.
type InterceptorFunc func(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error)

// Execute calls f.
func (f InterceptorFunc) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	return f(ctx, req, scope, next)
}

// Chain composes interceptors into a single Next, terminating at
// final (the transport interceptor). Chain order is execution order:
// Chain(a, b, c, final) runs a, then b, then c, then final.
func Chain(final Next, interceptors ...Interceptor) Next {
	next := final
	for i := len(interceptors) - 1; i >= 0; i-- {
		ic := interceptors[i]
		n := next
		next = func(ctx context.Context, req *Request, scope *Scope) (*Response, error) {
			return ic.Execute(ctx, req, scope, n)
		}
	}
	return next
}
