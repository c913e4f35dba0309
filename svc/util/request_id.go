package util

import (
	"context"

	"github.com/google/uuid"
)

type contextKey string

const requestIDKey contextKey = "request_id"

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// GetRequestID returns the id stored by SetRequestID, or a fresh one.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		return id
	}
	return NewRequestID()
}
func NewRequestID() string {
	return uuid.New().String()
}

// RequestIDFromHeader accepts a caller supplied id only when it is a UUID.
func RequestIDFromHeader(v string) (string, bool) {
	id, err := uuid.Parse(v)
	if err != nil {
		return "", false
	}
	return id.String(), true
}
