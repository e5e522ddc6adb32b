package api

import (
	"context"

	"tablevault/core"
)

// contextKey is a private type to prevent context key collisions across packages.
// Only this package can create these keys, so handlers can trust the identity
// they read back.
type contextKey string

const (
	// ContextKeyIdentity stores the authenticated caller (core.Identity)
	ContextKeyIdentity contextKey = "identity"

	// ContextKeyRequestID stores the unique request identifier (string)
	ContextKeyRequestID contextKey = "request_id"
)

// WithIdentity returns a context carrying the authenticated caller.
func WithIdentity(ctx context.Context, id core.Identity) context.Context {
	return context.WithValue(ctx, ContextKeyIdentity, id)
}

// GetIdentity extracts the authenticated caller from the context.
func GetIdentity(ctx context.Context) (core.Identity, bool) {
	id, ok := ctx.Value(ContextKeyIdentity).(core.Identity)
	return id, ok
}

// WithRequestID creates a new context with the request ID value.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, requestID)
}

// GetRequestID extracts the request ID from the context.
func GetRequestID(ctx context.Context) (string, bool) {
	requestID, ok := ctx.Value(ContextKeyRequestID).(string)
	return requestID, ok
}

// GetRequestIDOrDefault extracts the request ID from the context or returns "unknown".
func GetRequestIDOrDefault(ctx context.Context) string {
	if requestID, ok := GetRequestID(ctx); ok && requestID != "" {
		return requestID
	}
	return "unknown"
}
