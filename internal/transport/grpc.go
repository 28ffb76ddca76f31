// ABOUTME: Transport implementation that talks to a coven-broker over gRPC.
// ABOUTME: Uses the JSON codec and optionally signs each call's metadata.

package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/2389/coven-rpc/internal/filter"
)

// MetadataSigner produces per-call authentication metadata.
type MetadataSigner interface {
	Sign() (metadata.MD, error)
}

// GRPC is a Transport backed by a broker connection.
type GRPC struct {
	conn   *grpc.ClientConn
	owned  bool
	signer MetadataSigner
	logger *slog.Logger
}

// GRPCOption configures a GRPC transport.
type GRPCOption func(*GRPC)

// WithSigner signs every publishing call.
func WithSigner(s MetadataSigner) GRPCOption { return func(g *GRPC) { g.signer = s } }

// WithTransportLogger sets the logger.
func WithTransportLogger(l *slog.Logger) GRPCOption { return func(g *GRPC) { g.logger = l } }

// DialGRPC connects to a broker at addr without TLS.
func DialGRPC(addr string, opts ...GRPCOption) (*GRPC, error) {
	conn, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to broker %s: %w", addr, err)
	}
	g := NewGRPC(conn, opts...)
	g.owned = true
	return g, nil
}

// NewGRPC wraps an existing connection. The caller keeps ownership of conn.
func NewGRPC(conn *grpc.ClientConn, opts ...GRPCOption) *GRPC {
	g := &GRPC{conn: conn, logger: slog.Default()}
	for _, opt := range opts {
		opt(g)
	}
	g.logger = g.logger.With("component", "transport")
	return g
}

// Close closes the connection if DialGRPC opened it.
func (g *GRPC) Close() error {
	if g.owned {
		return g.conn.Close()
	}
	return nil
}

func (g *GRPC) outgoing(ctx context.Context) (context.Context, error) {
	if g.signer == nil {
		return ctx, nil
	}
	md, err := g.signer.Sign()
	if err != nil {
		return nil, fmt.Errorf("signing request: %w", err)
	}
	return metadata.NewOutgoingContext(ctx, md), nil
}

func callOpts() []grpc.CallOption {
	return []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
}

// Send implements Transport.
func (g *GRPC) Send(ctx context.Context, msg *Message) (string, error) {
	if msg.RequestID == "" {
		msg.RequestID = NewRequestID()
	}
	ctx, err := g.outgoing(ctx)
	if err != nil {
		return "", err
	}

	var reply SendReply
	if err := g.conn.Invoke(ctx, MethodSend, msg, &reply, callOpts()...); err != nil {
		return "", fmt.Errorf("publishing request: %w", err)
	}
	g.logger.Debug("published request", "request_id", reply.RequestID, "agent", msg.Agent, "type", msg.Type)
	return reply.RequestID, nil
}

// Request implements Transport.
func (g *GRPC) Request(ctx context.Context, msg *Message, onResponse func(*Response)) (*CallStats, error) {
	if msg.RequestID == "" {
		msg.RequestID = NewRequestID()
	}
	ctx, err := g.outgoing(ctx)
	if err != nil {
		return nil, err
	}

	begin := time.Now()
	desc := &grpc.StreamDesc{StreamName: "Request", ServerStreams: true}
	stream, err := g.conn.NewStream(ctx, desc, MethodRequest, callOpts()...)
	if err != nil {
		return nil, fmt.Errorf("opening request stream: %w", err)
	}
	if err := stream.SendMsg(msg); err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fmt.Errorf("publishing request: %w", err)
	}

	collecting := time.Now()
	stats := &CallStats{RequestID: msg.RequestID}
	for {
		var ev RequestEvent
		err := stream.RecvMsg(&ev)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return stats, fmt.Errorf("receiving responses: %w", err)
		}
		if ev.Response != nil {
			onResponse(ev.Response)
		}
		if ev.Stats != nil {
			stats = ev.Stats
		}
	}

	stats.BlockTime = time.Since(collecting)
	stats.TotalTime = time.Since(begin)
	return stats, nil
}

// Discover implements Transport.
func (g *GRPC) Discover(ctx context.Context, f *filter.Filter, timeout time.Duration, limit int) ([]string, error) {
	var reply DiscoverReply
	req := &DiscoverRequest{Filter: f, Timeout: timeout, Limit: limit}
	if err := g.conn.Invoke(ctx, MethodDiscover, req, &reply, callOpts()...); err != nil {
		return nil, fmt.Errorf("discovery request: %w", err)
	}
	return reply.Hosts, nil
}

// OpenAgentStream opens the node side of the AgentStream on conn.
func OpenAgentStream(ctx context.Context, conn grpc.ClientConnInterface) (grpc.ClientStream, error) {
	desc := &grpc.StreamDesc{StreamName: "AgentStream", ServerStreams: true, ClientStreams: true}
	stream, err := conn.NewStream(ctx, desc, MethodAgentStream, callOpts()...)
	if err != nil {
		return nil, fmt.Errorf("opening agent stream: %w", err)
	}
	return stream, nil
}
