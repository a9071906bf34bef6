package types

import "context"

// Context Keys
type contextKey string

const (
	requestIDKey    contextKey = "request_id"
	subscriberIDKey contextKey = "subscriber_id"
)

// WithRequestID stores the request ID in the context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// GetRequestID retrieves the request ID from the context.
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// WithSubscriberID stores the relay subscriber ID serving the current stream.
func WithSubscriberID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, subscriberIDKey, id)
}

// GetSubscriberID retrieves the relay subscriber ID from the context.
func GetSubscriberID(ctx context.Context) string {
	id, _ := ctx.Value(subscriberIDKey).(string)
	return id
}
