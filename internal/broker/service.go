// ABOUTME: Hand-written gRPC service descriptor for coven.rpc.Broker
// ABOUTME: Decodes JSON frames and dispatches to the BrokerServer implementation

package broker

import (
	"context"

	"google.golang.org/grpc"

	"github.com/2389/coven-rpc/internal/transport"
)

// BrokerServer is the server API of the coven.rpc.Broker service.
type BrokerServer interface {
	Discover(context.Context, *transport.DiscoverRequest) (*transport.DiscoverReply, error)
	Send(context.Context, *transport.Message) (*transport.SendReply, error)
	Request(*transport.Message, grpc.ServerStream) error
	AgentStream(grpc.ServerStream) error
}

// RegisterBrokerServer registers srv on s.
func RegisterBrokerServer(s grpc.ServiceRegistrar, srv BrokerServer) {
	s.RegisterService(&serviceDesc, srv)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: transport.ServiceName,
	HandlerType: (*BrokerServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Discover", Handler: discoverHandler},
		{MethodName: "Send", Handler: sendHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "Request", Handler: requestHandler, ServerStreams: true},
		{StreamName: "AgentStream", Handler: agentStreamHandler, ServerStreams: true, ClientStreams: true},
	},
	Metadata: "coven/rpc/broker",
}

func discoverHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(transport.DiscoverRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Discover(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: transport.MethodDiscover}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Discover(ctx, req.(*transport.DiscoverRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func sendHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(transport.Message)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BrokerServer).Send(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: transport.MethodSend}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(BrokerServer).Send(ctx, req.(*transport.Message))
	}
	return interceptor(ctx, in, info, handler)
}

func requestHandler(srv any, stream grpc.ServerStream) error {
	in := new(transport.Message)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(BrokerServer).Request(in, stream)
}

func agentStreamHandler(srv any, stream grpc.ServerStream) error {
	return srv.(BrokerServer).AgentStream(stream)
}
