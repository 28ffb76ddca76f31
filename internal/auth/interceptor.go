// ABOUTME: gRPC interceptors requiring SSH-signed metadata on selected methods
// ABOUTME: Only fingerprints on the allow list may publish through the broker

package auth

import (
	"context"
	"errors"
	"log/slog"
	"slices"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// Authorizer checks signatures against an allow list of fingerprints.
type Authorizer struct {
	verifier *SSHVerifier
	allowed  []string
	methods  []string
	logger   *slog.Logger
}

// NewAuthorizer protects the given full method names. An empty allow list
// accepts any validly signed request.
func NewAuthorizer(verifier *SSHVerifier, allowed, methods []string, logger *slog.Logger) *Authorizer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Authorizer{
		verifier: verifier,
		allowed:  allowed,
		methods:  methods,
		logger:   logger.With("component", "auth"),
	}
}

// logAuthFailure logs an authentication failure with structured context.
func (a *Authorizer) logAuthFailure(ctx context.Context, method, reason string) {
	attrs := []any{"method", method, "reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		attrs = append(attrs, "peer_addr", p.Addr.String())
	}
	a.logger.Warn("auth failure", attrs...)
}

// Authorize verifies the signed metadata on ctx and returns a context
// carrying the caller fingerprint.
func (a *Authorizer) Authorize(ctx context.Context, method string) (context.Context, error) {
	if !slices.Contains(a.methods, method) {
		return ctx, nil
	}

	md, _ := metadata.FromIncomingContext(ctx)
	req := ExtractSSHAuthFromMetadata(md)
	if req == nil {
		a.logAuthFailure(ctx, method, "missing signature")
		return nil, status.Error(codes.Unauthenticated, "signed request required")
	}
	if req.Pubkey == "" || req.Signature == "" || req.Timestamp == 0 || req.Nonce == "" {
		a.logAuthFailure(ctx, method, "incomplete signature headers")
		return nil, status.Error(codes.Unauthenticated, "incomplete signature headers")
	}

	fp, err := a.verifier.Verify(req)
	if err != nil {
		a.logAuthFailure(ctx, method, err.Error())
		if errors.Is(err, ErrReplayedNonce) {
			return nil, status.Error(codes.PermissionDenied, "nonce already used")
		}
		return nil, status.Error(codes.Unauthenticated, "invalid signature")
	}
	if len(a.allowed) > 0 && !slices.Contains(a.allowed, fp) {
		a.logAuthFailure(ctx, method, "fingerprint not allowed")
		return nil, status.Error(codes.PermissionDenied, "caller not allowed to publish")
	}
	return WithCaller(ctx, fp), nil
}

// UnaryInterceptor returns a gRPC unary interceptor.
func (a *Authorizer) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx, err := a.Authorize(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor.
func (a *Authorizer) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx, err := a.Authorize(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		return handler(srv, &wrappedServerStream{ServerStream: ss, ctx: ctx})
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
