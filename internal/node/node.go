// ABOUTME: Agent side runtime: registration, heartbeats and action dispatch
// ABOUTME: Connects to a broker over the AgentStream and answers requests

package node

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"google.golang.org/grpc"

	"github.com/2389/coven-rpc/internal/filter"
	"github.com/2389/coven-rpc/internal/transport"
)

// DefaultHeartbeat is how often a connected node reports liveness.
const DefaultHeartbeat = 30 * time.Second

// Action runs one action and returns its reply data.
type Action func(ctx context.Context, req *transport.Request) (map[string]any, error)

// Failure is an action error with an explicit status code.
type Failure struct {
	Code transport.StatusCode
	Msg  string
}

func (f *Failure) Error() string { return f.Msg }

// Fail returns a Failure with a formatted message.
func Fail(code transport.StatusCode, format string, args ...any) error {
	return &Failure{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Node serves the agents registered on it.
type Node struct {
	reg       transport.Registration
	actions   map[string]map[string]Action
	functions map[string]filter.Function
	heartbeat time.Duration
	logger    *slog.Logger

	sendMu sync.Mutex
}

// Option configures a Node.
type Option func(*Node)

// WithHeartbeat sets the heartbeat interval; zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option { return func(n *Node) { n.heartbeat = d } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(n *Node) { n.logger = l } }

// WithDataFunction makes fn callable as name(...) from compound filters
// evaluated on this node.
func WithDataFunction(name string, fn filter.Function) Option {
	return func(n *Node) { n.functions[name] = fn }
}

// New creates a node advertising reg. Agents named in reg without actions
// answer every request with UnknownAction.
func New(reg transport.Registration, opts ...Option) *Node {
	n := &Node{
		reg:       reg,
		actions:   make(map[string]map[string]Action),
		functions: make(map[string]filter.Function),
		heartbeat: DefaultHeartbeat,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(n)
	}
	n.logger = n.logger.With("component", "node", "identity", reg.Identity)
	return n
}

// Handle registers fn as agent/action and advertises the agent.
func (n *Node) Handle(agent, action string, fn Action) {
	if n.actions[agent] == nil {
		n.actions[agent] = make(map[string]Action)
	}
	n.actions[agent][action] = fn
	if !slices.Contains(n.reg.Agents, agent) {
		n.reg.Agents = append(n.reg.Agents, agent)
	}
}

// Registration returns the inventory the node advertises.
func (n *Node) Registration() transport.Registration {
	reg := n.reg
	reg.Agents = slices.Clone(n.reg.Agents)
	slices.Sort(reg.Agents)
	return reg
}

// Targeted reports whether msg is meant for this node. Direct requests name
// their hosts; broadcasts carry a filter the node checks against its own
// inventory and data functions.
func (n *Node) Targeted(msg *transport.Message) bool {
	if msg.Direct() {
		return true
	}
	self := n.reg.Node()
	self.Functions = n.functions
	return msg.Filter.Matches(self)
}

// Process runs the action named by msg and returns the reply, or nil when
// the caller does not want one.
func (n *Node) Process(ctx context.Context, msg *transport.Message) *transport.Response {
	req := msg.Body
	if req == nil {
		req = &transport.Request{Agent: msg.Agent}
	}

	resp := &transport.Response{
		Sender:    n.reg.Identity,
		RequestID: msg.RequestID,
	}

	fn, ok := n.actions[msg.Agent][req.Action]
	switch {
	case msg.Agent == transport.DiscoveryAgent:
		resp.StatusCode = transport.OK
		resp.StatusMsg = "OK"
		resp.Data = map[string]any{"pong": time.Now().Unix()}
	case !ok:
		resp.StatusCode = transport.UnknownAction
		resp.StatusMsg = fmt.Sprintf("Unknown action %s for agent %s", req.Action, msg.Agent)
	default:
		data, err := fn(ctx, req)
		var failure *Failure
		switch {
		case errors.As(err, &failure):
			resp.StatusCode = failure.Code
			resp.StatusMsg = failure.Msg
		case err != nil:
			resp.StatusCode = transport.ApplicationFailure
			resp.StatusMsg = err.Error()
		default:
			resp.StatusCode = transport.OK
			resp.StatusMsg = "OK"
		}
		resp.Data = data
	}

	if !req.ShouldRespond() {
		n.logger.Debug("not replying", "request_id", msg.RequestID, "action", req.Action)
		return nil
	}
	return resp
}

// Run registers with the broker on conn and serves requests until ctx ends
// or the broker closes the stream.
func (n *Node) Run(ctx context.Context, conn grpc.ClientConnInterface) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := transport.OpenAgentStream(ctx, conn)
	if err != nil {
		return err
	}

	reg := n.Registration()
	if err := n.send(stream, &transport.AgentFrame{Register: &reg}); err != nil {
		return fmt.Errorf("failed to register: %w", err)
	}

	var first transport.BrokerFrame
	if err := stream.RecvMsg(&first); err != nil {
		return fmt.Errorf("failed to receive welcome: %w", err)
	}
	if first.Welcome == nil {
		return errors.New("expected welcome frame")
	}
	n.logger.Info("registered", "server_id", first.Welcome.ServerID, "agents", reg.Agents)

	if n.heartbeat > 0 {
		go n.beat(ctx, stream)
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		var frame transport.BrokerFrame
		err := stream.RecvMsg(&frame)
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("recv error: %w", err)
		}
		if frame.Message == nil {
			continue
		}

		msg := frame.Message
		n.logger.Debug("received request", "request_id", msg.RequestID, "agent", msg.Agent)

		if !n.Targeted(msg) {
			n.logger.Debug("declining request", "request_id", msg.RequestID, "filter", msg.Filter.Key())
			if msg.Body.ShouldRespond() {
				if err := n.send(stream, &transport.AgentFrame{Declined: msg.RequestID}); err != nil {
					n.logger.Warn("sending decline", "request_id", msg.RequestID, "error", err)
				}
			}
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			resp := n.Process(ctx, msg)
			if resp == nil {
				return
			}
			if err := n.send(stream, &transport.AgentFrame{Reply: resp}); err != nil {
				n.logger.Warn("sending reply", "request_id", msg.RequestID, "error", err)
			}
		}()
	}
}

func (n *Node) beat(ctx context.Context, stream grpc.ClientStream) {
	ticker := time.NewTicker(n.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.send(stream, &transport.AgentFrame{Heartbeat: true}); err != nil {
				n.logger.Debug("heartbeat failed", "error", err)
				return
			}
		}
	}
}

func (n *Node) send(stream grpc.ClientStream, frame *transport.AgentFrame) error {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	return stream.SendMsg(frame)
}
