package gateway

import (
	"context"

	"tokenly/internal/tenant"
)

type contextKeyApplication struct{}
type contextKeyAPIKey struct{}

// WithTenant attaches the resolved application and API key to the context.
func WithTenant(ctx context.Context, app *tenant.Application, key *tenant.Key) context.Context {
	ctx = context.WithValue(ctx, contextKeyApplication{}, app)
	return context.WithValue(ctx, contextKeyAPIKey{}, key)
}

// ApplicationFrom returns the application the gateway resolved for this
// request, or nil when the request bypassed the gateway.
func ApplicationFrom(ctx context.Context) *tenant.Application {
	app, ok := ctx.Value(contextKeyApplication{}).(*tenant.Application)
	if !ok {
		return nil
	}
	return app
}

// KeyFrom returns the API key the gateway resolved for this request.
func KeyFrom(ctx context.Context) *tenant.Key {
	key, ok := ctx.Value(contextKeyAPIKey{}).(*tenant.Key)
	if !ok {
		return nil
	}
	return key
}
