package core

import "context"

type contextKey int

const requestIDKey contextKey = iota

// WithRequestID returns a copy of ctx carrying a request/correlation ID.
// Loggers created through Logger.WithContext pick it up automatically.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID extracts the request ID stored by WithRequestID.
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}
