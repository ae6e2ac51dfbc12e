package transit

import "context"

// userTokenInterceptor derives the scope's affinity key up front, once
// per exchange, so every retry and redirect attempt of that exchange
// (and therefore every pool lease it makes) carries the same token
// (spec.md §4.6.7).
type userTokenInterceptor struct {
	cfg *ClientConfig
}

func newUserTokenInterceptor(cfg *ClientConfig) *userTokenInterceptor {
	return &userTokenInterceptor{cfg: cfg}
}

func (i *userTokenInterceptor) Execute(ctx context.Context, req *Request, scope *Scope, next Next) (*Response, error) {
	if i.cfg.UserTokenHandler != nil && scope.UserToken == nil {
		scope.UserToken = i.cfg.UserTokenHandler(scope.Route, scope)
	}
	return next(ctx, req, scope)
}
