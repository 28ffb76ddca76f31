// ABOUTME: Propagates the verified caller fingerprint through handler contexts
// ABOUTME: Set by the interceptors, read by broker handlers for logging

package auth

import "context"

type callerKey struct{}

// WithCaller returns a context carrying the verified fingerprint.
func WithCaller(ctx context.Context, fingerprint string) context.Context {
	return context.WithValue(ctx, callerKey{}, fingerprint)
}

// CallerFromContext returns the verified fingerprint, or "" when the request
// was not signed.
func CallerFromContext(ctx context.Context) string {
	fp, _ := ctx.Value(callerKey{}).(string)
	return fp
}
