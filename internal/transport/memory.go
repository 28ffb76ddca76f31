// ABOUTME: In-process transport that delivers messages to registered nodes.
// ABOUTME: Records every published message for inspection by tests.

package transport

import (
	"context"
	"sync"
	"time"

	"github.com/2389/coven-rpc/internal/filter"
)

// Responder handles a request on an in-process node.
type Responder func(ctx context.Context, req *Request) (StatusCode, string, map[string]any)

// MemoryNode is a node reachable through a Memory transport.
type MemoryNode struct {
	filter.Node
	Respond Responder
	// Silent nodes receive requests but never reply.
	Silent bool
}

// Memory is a Transport that calls node responders synchronously in
// registration order.
type Memory struct {
	mu    sync.Mutex
	nodes []*MemoryNode
	sent  []*Message
}

// NewMemory creates a transport with the given nodes.
func NewMemory(nodes ...*MemoryNode) *Memory {
	return &Memory{nodes: nodes}
}

// AddNode registers another node.
func (m *Memory) AddNode(n *MemoryNode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nodes = append(m.nodes, n)
}

// Sent returns every message published so far.
func (m *Memory) Sent() []*Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Message(nil), m.sent...)
}

func (m *Memory) publish(msg *Message) []*MemoryNode {
	m.mu.Lock()
	defer m.mu.Unlock()

	if msg.RequestID == "" {
		msg.RequestID = NewRequestID()
	}
	m.sent = append(m.sent, msg)

	var targets []*MemoryNode
	if msg.Direct() {
		for _, host := range msg.DiscoveredHosts {
			for _, n := range m.nodes {
				if n.Identity == host {
					targets = append(targets, n)
					break
				}
			}
		}
		return targets
	}
	for _, n := range m.nodes {
		if msg.Filter.Matches(&n.Node) {
			targets = append(targets, n)
		}
	}
	return targets
}

// Send implements Transport. Nodes still run the request.
func (m *Memory) Send(ctx context.Context, msg *Message) (string, error) {
	if msg.Direct() && len(msg.DiscoveredHosts) == 0 {
		return "", ErrNoTargets
	}
	for _, n := range m.publish(msg) {
		if n.Respond != nil {
			n.Respond(ctx, msg.Body)
		}
	}
	return msg.RequestID, nil
}

// Request implements Transport.
func (m *Memory) Request(ctx context.Context, msg *Message, onResponse func(*Response)) (*CallStats, error) {
	if msg.Direct() && len(msg.DiscoveredHosts) == 0 {
		return nil, ErrNoTargets
	}

	begin := time.Now()
	targets := m.publish(msg)
	collecting := time.Now()
	stats := &CallStats{RequestID: msg.RequestID}
	var responded []string

	for _, n := range targets {
		if err := ctx.Err(); err != nil {
			break
		}
		if n.Silent {
			continue
		}

		resp := &Response{Sender: n.Identity, RequestID: msg.RequestID, StatusCode: OK, StatusMsg: OK.String()}
		if n.Respond != nil {
			resp.StatusCode, resp.StatusMsg, resp.Data = n.Respond(ctx, msg.Body)
		}
		responded = append(responded, n.Identity)
		stats.Responses++
		onResponse(resp)
	}

	stats.NoResponseFrom = Missing(msg.DiscoveredHosts, responded)
	stats.BlockTime = time.Since(collecting)
	stats.TotalTime = time.Since(begin)
	return stats, ctx.Err()
}

// Discover implements Transport.
func (m *Memory) Discover(ctx context.Context, f *filter.Filter, _ time.Duration, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var hosts []string
	for _, n := range m.nodes {
		if limit > 0 && len(hosts) >= limit {
			break
		}
		if f.Matches(&n.Node) {
			hosts = append(hosts, n.Identity)
		}
	}
	return hosts, ctx.Err()
}
