// ABOUTME: coven.rpc.Broker service implementation
// ABOUTME: Node registration over AgentStream and client publishing, discovery and reply relay

package broker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/2389/coven-rpc/internal/agent"
	"github.com/2389/coven-rpc/internal/auth"
	"github.com/2389/coven-rpc/internal/transport"
)

// brokerService implements BrokerServer.
type brokerService struct {
	broker *Broker
	logger *slog.Logger
}

func newBrokerService(b *Broker, logger *slog.Logger) *brokerService {
	return &brokerService{broker: b, logger: logger}
}

// frameStream adapts a server stream to agent.Stream.
type frameStream struct {
	grpc.ServerStream
}

func (s frameStream) Send(frame *transport.BrokerFrame) error {
	return s.SendMsg(frame)
}

// Discover returns the identities of connected nodes matching the filter.
// Filters calling data functions are sent to the candidate nodes, and the
// ones whose own evaluation passes are returned.
func (s *brokerService) Discover(ctx context.Context, req *transport.DiscoverRequest) (*transport.DiscoverReply, error) {
	if req.Filter.HasFunctions() {
		hosts, err := s.discoverOnNodes(ctx, req)
		if err != nil {
			return nil, status.FromContextError(err).Err()
		}
		return &transport.DiscoverReply{Hosts: hosts}, nil
	}

	conns := s.broker.agents.Match(req.Filter, req.Limit)
	hosts := make([]string, 0, len(conns))
	for _, conn := range conns {
		hosts = append(hosts, conn.ID)
	}
	s.logger.Debug("discovery", "filter", req.Filter.Key(), "limit", req.Limit, "hosts", len(hosts))
	return &transport.DiscoverReply{Hosts: hosts}, nil
}

func (s *brokerService) discoverOnNodes(ctx context.Context, req *transport.DiscoverRequest) ([]string, error) {
	msg := &transport.Message{
		RequestID: transport.NewRequestID(),
		Agent:     transport.DiscoveryAgent,
		Type:      transport.TypeRequest,
		Filter:    req.Filter,
		Timeout:   req.Timeout,
		Body:      &transport.Request{Agent: transport.DiscoveryAgent, Action: transport.DiscoveryAction},
	}

	hosts := []string{}
	_, err := s.broker.agents.Dispatch(ctx, msg, func(resp *transport.Response) {
		if resp.StatusCode == transport.OK {
			hosts = append(hosts, resp.Sender)
		}
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(hosts)
	if req.Limit > 0 && len(hosts) > req.Limit {
		hosts = hosts[:req.Limit]
	}
	s.logger.Debug("node evaluated discovery", "filter", req.Filter.Key(), "limit", req.Limit, "hosts", len(hosts))
	return hosts, nil
}

// Send publishes a message without collecting replies.
func (s *brokerService) Send(ctx context.Context, msg *transport.Message) (*transport.SendReply, error) {
	if err := validateMessage(msg); err != nil {
		return nil, err
	}

	delivered := s.broker.agents.Publish(msg)
	s.broker.metrics.RequestPublished(msg.Agent, string(msg.Type), delivered)
	s.broker.recordRequest(ctx, msg, delivered, 0)

	return &transport.SendReply{RequestID: msg.RequestID}, nil
}

// Request publishes a message and streams every reply back, ending with
// the transport stats.
func (s *brokerService) Request(msg *transport.Message, stream grpc.ServerStream) error {
	if err := validateMessage(msg); err != nil {
		return err
	}
	ctx := stream.Context()

	if !msg.Body.ShouldRespond() {
		delivered := s.broker.agents.Publish(msg)
		s.broker.metrics.RequestPublished(msg.Agent, string(msg.Type), delivered)
		s.broker.recordRequest(ctx, msg, delivered, 0)
		return stream.SendMsg(&transport.RequestEvent{Stats: &transport.CallStats{RequestID: msg.RequestID}})
	}

	var sendErr error
	stats, err := s.broker.agents.Dispatch(ctx, msg, func(resp *transport.Response) {
		if sendErr != nil {
			return
		}
		if sendErr = stream.SendMsg(&transport.RequestEvent{Response: resp}); sendErr == nil {
			s.broker.metrics.ReplyRelayed(msg.Agent)
		}
	})
	if err != nil {
		if errors.Is(err, transport.ErrNoTargets) {
			return status.Error(codes.InvalidArgument, "direct request names no hosts")
		}
		return status.FromContextError(ctx.Err()).Err()
	}
	if sendErr != nil {
		return status.Errorf(codes.Unavailable, "relaying reply: %v", sendErr)
	}

	targets := stats.Responses + len(stats.NoResponseFrom)
	s.broker.metrics.RequestPublished(msg.Agent, string(msg.Type), targets)
	s.broker.recordRequest(ctx, msg, targets, stats.Responses)

	return stream.SendMsg(&transport.RequestEvent{Stats: stats})
}

func validateMessage(msg *transport.Message) error {
	if msg.Body == nil || msg.Agent == "" || msg.Body.Action == "" {
		return status.Error(codes.InvalidArgument, "message needs an agent, an action and a body")
	}
	if msg.RequestID == "" {
		msg.RequestID = transport.NewRequestID()
	}
	if msg.Direct() && len(msg.DiscoveredHosts) == 0 {
		return status.Error(codes.InvalidArgument, "direct request names no hosts")
	}
	return nil
}

// AgentStream handles the bidirectional streaming connection with a node.
// Protocol flow:
// 1. Node sends a registration frame
// 2. Server responds with Welcome
// 3. Node sends heartbeats and replies
// 4. Server sends request messages
func (s *brokerService) AgentStream(stream grpc.ServerStream) error {
	var first transport.AgentFrame
	if err := stream.RecvMsg(&first); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return status.Errorf(codes.Internal, "receiving first message: %v", err)
	}

	reg := first.Register
	if reg == nil {
		return status.Error(codes.InvalidArgument, "first message must be a registration")
	}
	if reg.Identity == "" {
		return status.Error(codes.InvalidArgument, "identity is required")
	}

	conn := agent.NewConnection(reg, frameStream{stream}, s.logger.With("identity", reg.Identity))
	if err := s.broker.agents.Register(conn); err != nil {
		if errors.Is(err, agent.ErrAgentAlreadyRegistered) {
			return status.Errorf(codes.AlreadyExists, "node %s already registered", reg.Identity)
		}
		return status.Errorf(codes.Internal, "registering node: %v", err)
	}
	s.broker.nodeConnected(stream.Context(), reg)
	defer func() {
		s.broker.agents.Unregister(conn)
		s.broker.nodeDisconnected(reg)
	}()

	if err := conn.Send(&transport.BrokerFrame{Welcome: &transport.Welcome{
		ServerID: s.broker.serverID,
		Identity: reg.Identity,
	}}); err != nil {
		return status.Errorf(codes.Internal, "sending welcome: %v", err)
	}

	for {
		var frame transport.AgentFrame
		err := stream.RecvMsg(&frame)
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.logger.Info("node disconnected (EOF)", "identity", conn.ID)
				return nil
			}
			if status.Code(err) == codes.Canceled {
				s.logger.Info("node stream cancelled", "identity", conn.ID)
				return nil
			}
			s.logger.Error("receiving message", "error", err, "identity", conn.ID)
			return status.Errorf(codes.Internal, "receiving message: %v", err)
		}

		conn.Touch(time.Now())
		switch {
		case frame.Reply != nil:
			conn.HandleResponse(frame.Reply)
		case frame.Declined != "":
			conn.HandleDecline(frame.Declined)
		case frame.Heartbeat:
			s.logger.Debug("received heartbeat", "identity", conn.ID)
		case frame.Register != nil:
			s.logger.Warn("received duplicate registration", "identity", conn.ID)
		default:
			s.logger.Warn("received empty frame", "identity", conn.ID)
		}
	}
}

// callerOf prefers the verified signer over the caller the client claims.
func callerOf(ctx context.Context, msg *transport.Message) string {
	if fp := auth.CallerFromContext(ctx); fp != "" {
		return "ssh=" + fp
	}
	if msg.Body != nil {
		return msg.Body.Caller
	}
	return ""
}
