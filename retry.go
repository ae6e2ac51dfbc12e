package transit

import (
	"context"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/transit-http/transit/internal/breaker"
)

// idempotentMethods are the HTTP methods the retry interceptor will
// resend without the caller opting in explicitly, the same GET/HEAD/
// PUT/DELETE/OPTIONS set every mainstream client treats as safe to
// repeat.
var idempotentMethods = map[string]bool{
	"GET": true, "HEAD": true, "PUT": true, "DELETE": true, "OPTIONS": true,
}

// retryInterceptor resends a failed attempt up to
// ClientConfig.MaxAutoRetries times, adapted from the teacher's
// executeStepWithRetry exponential-backoff loop: only idempotent
// methods whose request body is still repeatable are retried,
// Retry-After is honored verbatim when present, and the
// per-route breaker's trip state short-circuits further attempts
// before they are even made.
type retryInterceptor struct {
	cfg      *ClientConfig
	breakers *breaker.Registry
	limiter  *rate.Limiter
}

func newRetryInterceptor(cfg *ClientConfig, breakers *breaker.Registry) *retryInterceptor {
	return &retryInterceptor{
		cfg:      cfg,
		breakers: breakers,
		limiter:  rate.NewLimiter(rate.Inf, 1),
	}
}

func (i *retryInterceptor) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	if !i.cfg.AutomaticRetries {
		return next(ctx, req, scope)
	}

	var lastResp *Response
	var lastErr error

	for attempt := 0; attempt <= i.cfg.MaxAutoRetries; attempt++ {
		if b := i.breakers.ForRoute(scope.Route); b.Tripped() {
			return nil, NewError(KindCircuitOpen, "retry", nil).WithRoute(scope.Route, attempt, scope.ID)
		}

		scope.AttemptCount = attempt + 1
		resp, err := next(ctx, req, scope)
		failed := err != nil || i.isRetriableStatus(resp)
		i.breakers.Observe(scope.Route, failed)

		if err == nil && !i.isRetriableStatus(resp) {
			return resp, nil
		}
		if err != nil && !isRetryableError(err) {
			return resp, err
		}
		if !req.Entity.Repeatable() {
			return resp, err
		}
		if !idempotentMethods[req.Method] {
			return resp, err
		}

		lastResp, lastErr = resp, err
		if attempt == i.cfg.MaxAutoRetries {
			break
		}

		wait := i.backoff(attempt, resp)
		if resp != nil {
			resp.Discard()
		}
		// Reuse(rate.Limiter) as a pure pacing gate rather than a token
		// bucket sized by request volume: each retry sets the limiter to
		// fire no sooner than the backoff computed above, then waits for
		// its own single reservation, and never less than the backoff
		// itself (the limiter's bucket starts full, so the first
		// reservation alone would not wait).
		i.limiter.SetLimit(rate.Every(wait))
		reservation := i.limiter.Reserve()
		if !reservation.OK() {
			return resp, err
		}
		select {
		case <-ctx.Done():
			reservation.Cancel()
			return nil, ctx.Err()
		case <-scope.Done():
			reservation.Cancel()
			return nil, NewError(KindCancelled, "retry", ErrCancelled).WithRoute(scope.Route, attempt, scope.ID)
		case <-time.After(max(wait, reservation.Delay())):
		}
	}

	if lastErr != nil {
		return nil, NewError(KindRetryExhausted, "retry", lastErr).WithRoute(scope.Route, scope.AttemptCount, scope.ID)
	}
	return lastResp, nil
}

func (i *retryInterceptor) isRetriableStatus(resp *Response) bool {
	if resp == nil {
		return false
	}
	for _, code := range i.cfg.RetriableStatus {
		if resp.Code == code {
			return true
		}
	}
	return false
}

// backoff honors a Retry-After response header when present (seconds
// or HTTP-date), otherwise falls back to the teacher's
// delay*2^attempt exponential schedule.
func (i *retryInterceptor) backoff(attempt int, resp *Response) time.Duration {
	base := 100 * time.Millisecond << uint(attempt)
	if resp == nil {
		return base
	}
	ra := resp.Header.Get("Retry-After")
	if ra == "" {
		return base
	}
	if secs, err := strconv.Atoi(ra); err == nil {
		return time.Duration(secs) * time.Second
	}
	if when, err := time.Parse(time.RFC1123, ra); err == nil {
		if d := time.Until(when); d > 0 {
			return d
		}
	}
	return base
}

// isRetryableError classifies a transport-layer error as transient,
// the same connect-timeout/reset/refused/EOF family the teacher's
// isRetryableError checked for by substring, expressed here against
// the typed ErrorKind the core already assigns instead of string
// matching.
func isRetryableError(err error) bool {
	switch Kind(err) {
	case KindConnectTimeout, KindConnectRefused, KindDNSUnresolvable,
		KindHandshakeTimeout, KindReadTimeout, KindWriteTimeout,
		KindConnectionClosed:
		return true
	default:
		return false
	}
}
