// Package requestcontext carries request-scoped values that services log
// without depending on the transport that set them.
//
//	ctx = requestcontext.WithRequestID(ctx, id)
//	requestcontext.RequestID(ctx)
package requestcontext

import (
	"context"

	"github.com/google/uuid"
)

type requestIDKey struct{}

// RequestID returns the request ID from the context, or "" when unset.
func RequestID(ctx context.Context) string {
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		return reqID
	}
	return ""
}

// WithRequestID injects a request ID into the context.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// EnsureRequestID returns ctx unchanged when it already has a request ID and
// otherwise attaches a fresh random one.
func EnsureRequestID(ctx context.Context) (context.Context, string) {
	if id := RequestID(ctx); id != "" {
		return ctx, id
	}
	id := uuid.NewString()
	return WithRequestID(ctx, id), id
}
