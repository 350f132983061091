package logger

import (
	"context"

	"go.uber.org/zap"
)

type ctxKey string

const (
	requestIDKey  ctxKey = "request_id"
	contextKeyKey ctxKey = "context_key"
)

func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func RequestIDFrom(ctx context.Context) string {
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// WithContextKey tags the context with the cart context key (table or takeout_<cashier>).
func WithContextKey(ctx context.Context, key string) context.Context {
	return context.WithValue(ctx, contextKeyKey, key)
}

func ContextKeyFrom(ctx context.Context) string {
	if v, ok := ctx.Value(contextKeyKey).(string); ok {
		return v
	}
	return ""
}

// FromCtx returns logger with request_id and context_key automatically added
func FromCtx(ctx context.Context) *zap.Logger {
	l := L()
	if reqID := RequestIDFrom(ctx); reqID != "" {
		l = l.With(zap.String("request_id", reqID))
	}
	if key := ContextKeyFrom(ctx); key != "" {
		l = l.With(zap.String("context_key", key))
	}
	return l
}
