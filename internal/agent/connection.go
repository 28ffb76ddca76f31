// ABOUTME: Represents a single connected node and its bidirectional stream.
// ABOUTME: Handles sending frames and routing replies by request ID.

package agent

import (
	"log/slog"
	"sync"
	"time"

	"github.com/2389/coven-rpc/internal/filter"
	"github.com/2389/coven-rpc/internal/transport"
)

// Stream is the send half of an AgentStream.
type Stream interface {
	Send(*transport.BrokerFrame) error
}

// Connection represents a connected node.
type Connection struct {
	ID           string
	Registration *transport.Registration

	node     *filter.Node
	stream   Stream
	sendMu   sync.Mutex
	pending  map[string]pendingRequest
	lastSeen time.Time
	mu       sync.RWMutex
	logger   *slog.Logger
}

// NewConnection creates a Connection for a registered node.
func NewConnection(reg *transport.Registration, stream Stream, logger *slog.Logger) *Connection {
	if logger == nil {
		logger = slog.Default()
	}
	return &Connection{
		ID:           reg.Identity,
		Registration: reg,
		node:         reg.Node(),
		stream:       stream,
		pending:      make(map[string]pendingRequest),
		lastSeen:     time.Now(),
		logger:       logger,
	}
}

// Node returns the filterable view of the registration.
func (c *Connection) Node() *filter.Node { return c.node }

// Send transmits a frame. gRPC streams do not allow concurrent sends.
func (c *Connection) Send(frame *transport.BrokerFrame) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	return c.stream.Send(frame)
}

// Deliver sends a request message to the node.
func (c *Connection) Deliver(msg *transport.Message) error {
	return c.Send(&transport.BrokerFrame{Message: msg})
}

// pendingRequest is where replies and declines for one request go.
type pendingRequest struct {
	replies  chan<- *transport.Response
	declines chan<- string
}

// CreateRequest routes replies for requestID into replies, and the node's
// identity into declines when it declines the request, until CloseRequest.
// declines may be nil.
func (c *Connection) CreateRequest(requestID string, replies chan<- *transport.Response, declines chan<- string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[requestID] = pendingRequest{replies: replies, declines: declines}
}

// CloseRequest stops routing replies for requestID.
func (c *Connection) CloseRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.pending, requestID)
}

// HandleResponse routes a reply to its pending request. Replies for unknown
// requests are logged and discarded.
func (c *Connection) HandleResponse(resp *transport.Response) {
	resp.Sender = c.ID

	c.mu.RLock()
	p, ok := c.pending[resp.RequestID]
	c.mu.RUnlock()

	if !ok {
		c.logger.Warn("received reply for unknown request",
			"request_id", resp.RequestID,
			"identity", c.ID,
		)
		return
	}

	// Non-blocking send to avoid deadlock if channel is full
	select {
	case p.replies <- resp:
	default:
		c.logger.Warn("reply channel full, dropping reply",
			"request_id", resp.RequestID,
			"identity", c.ID,
		)
	}
}

// HandleDecline records that the node's own filter check rejected
// requestID. Declines for requests nobody waits on are ignored.
func (c *Connection) HandleDecline(requestID string) {
	c.mu.RLock()
	p, ok := c.pending[requestID]
	c.mu.RUnlock()

	if !ok || p.declines == nil {
		c.logger.Debug("node declined request", "request_id", requestID, "identity", c.ID)
		return
	}

	select {
	case p.declines <- c.ID:
	default:
		c.logger.Warn("decline channel full, dropping decline",
			"request_id", requestID,
			"identity", c.ID,
		)
	}
}

// Touch records liveness.
func (c *Connection) Touch(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastSeen = now
}

// LastSeen returns when the node last sent a frame.
func (c *Connection) LastSeen() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastSeen
}
