// ABOUTME: Tests for the signed publishing interceptors
// ABOUTME: Exercises allowed, unknown, unsigned and replayed callers

package auth

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/2389/coven-rpc/internal/cache"
)

const protected = "/coven.rpc.Broker/Request"

// mockServerStream implements grpc.ServerStream for testing StreamInterceptor
type mockServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (m *mockServerStream) Context() context.Context { return m.ctx }

func signedContext(t *testing.T, s *SSHSigner) context.Context {
	t.Helper()
	md, err := s.Sign()
	require.NoError(t, err)
	return metadata.NewIncomingContext(context.Background(), md)
}

func newAuthorizer(t *testing.T, allowed ...*SSHSigner) *Authorizer {
	t.Helper()
	var fps []string
	for _, s := range allowed {
		fps = append(fps, ComputeFingerprint(s.signer.PublicKey()))
	}
	return NewAuthorizer(NewSSHVerifier(cache.New()), fps, []string{protected}, nil)
}

func callUnary(a *Authorizer, ctx context.Context, method string) (string, error) {
	var seen string
	_, err := a.UnaryInterceptor()(ctx, nil, &grpc.UnaryServerInfo{FullMethod: method}, func(ctx context.Context, _ any) (any, error) {
		seen = CallerFromContext(ctx)
		return nil, nil
	})
	return seen, err
}

func TestAuthorizer_AllowedCaller(t *testing.T) {
	signer := newTestSigner(t)
	a := newAuthorizer(t, signer)

	fp, err := callUnary(a, signedContext(t, signer), protected)
	require.NoError(t, err)
	assert.Equal(t, ComputeFingerprint(signer.signer.PublicKey()), fp)
}

func TestAuthorizer_UnknownCaller(t *testing.T) {
	a := newAuthorizer(t, newTestSigner(t))

	_, err := callUnary(a, signedContext(t, newTestSigner(t)), protected)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestAuthorizer_EmptyAllowListAcceptsAnySigner(t *testing.T) {
	a := newAuthorizer(t)

	fp, err := callUnary(a, signedContext(t, newTestSigner(t)), protected)
	require.NoError(t, err)
	assert.NotEmpty(t, fp)
}

func TestAuthorizer_Unsigned(t *testing.T) {
	a := newAuthorizer(t, newTestSigner(t))

	_, err := callUnary(a, context.Background(), protected)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(SSHNonceHeader, "n"))
	_, err = callUnary(a, ctx, protected)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestAuthorizer_Replay(t *testing.T) {
	signer := newTestSigner(t)
	a := newAuthorizer(t, signer)
	ctx := signedContext(t, signer)

	_, err := callUnary(a, ctx, protected)
	require.NoError(t, err)
	_, err = callUnary(a, ctx, protected)
	assert.Equal(t, codes.PermissionDenied, status.Code(err))
}

func TestAuthorizer_UnprotectedMethodPassesThrough(t *testing.T) {
	a := newAuthorizer(t, newTestSigner(t))

	fp, err := callUnary(a, context.Background(), "/coven.rpc.Broker/AgentStream")
	require.NoError(t, err)
	assert.Empty(t, fp)
}

func TestAuthorizer_StreamInterceptor(t *testing.T) {
	signer := newTestSigner(t)
	a := newAuthorizer(t, signer)
	info := &grpc.StreamServerInfo{FullMethod: protected}

	var seen string
	err := a.StreamInterceptor()(nil, &mockServerStream{ctx: signedContext(t, signer)}, info, func(_ any, ss grpc.ServerStream) error {
		seen = CallerFromContext(ss.Context())
		return nil
	})
	require.NoError(t, err)
	assert.NotEmpty(t, seen)

	err = a.StreamInterceptor()(nil, &mockServerStream{ctx: context.Background()}, info, func(any, grpc.ServerStream) error {
		t.Fatal("handler must not run")
		return nil
	})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
