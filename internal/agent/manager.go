// ABOUTME: Manages connected nodes, handles registration, and routes requests.
// ABOUTME: Central coordinator for broadcast and direct delivery and reply collection.

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/2389/coven-rpc/internal/filter"
	"github.com/2389/coven-rpc/internal/transport"
)

// ErrAgentAlreadyRegistered indicates a node with the same identity is already connected.
var ErrAgentAlreadyRegistered = errors.New("agent already registered")

// DefaultRequestTimeout bounds collection when a message carries no timeout.
const DefaultRequestTimeout = 10 * time.Second

// Manager coordinates all connected nodes and routes messages to them.
type Manager struct {
	agents map[string]*Connection
	mu     sync.RWMutex
	logger *slog.Logger
}

// NewManager creates a new Manager instance.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		agents: make(map[string]*Connection),
		logger: logger.With("component", "agents"),
	}
}

// Register adds a node connection.
// Returns ErrAgentAlreadyRegistered if a node with the same identity exists.
func (m *Manager) Register(conn *Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.agents[conn.ID]; exists {
		return ErrAgentAlreadyRegistered
	}

	m.agents[conn.ID] = conn
	m.logger.Info("=== NODE CONNECTED ===",
		"identity", conn.ID,
		"agents", conn.Registration.Agents,
		"total_nodes", len(m.agents),
	)
	return nil
}

// Unregister removes conn if it is still the registered connection for its
// identity.
func (m *Manager) Unregister(conn *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current, exists := m.agents[conn.ID]; exists && current == conn {
		delete(m.agents, conn.ID)
		m.logger.Info("=== NODE DISCONNECTED ===",
			"identity", conn.ID,
			"total_nodes", len(m.agents),
		)
	}
}

// GetAgent retrieves a connection by identity.
func (m *Manager) GetAgent(id string) (*Connection, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	conn, ok := m.agents[id]
	return conn, ok
}

// ListAgents returns every connection ordered by identity.
func (m *Manager) ListAgents() []*Connection {
	m.mu.RLock()
	out := make([]*Connection, 0, len(m.agents))
	for _, conn := range m.agents {
		out = append(out, conn)
	}
	m.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of connected nodes.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.agents)
}

// Match returns the connections whose registration satisfies f, ordered by
// identity. limit > 0 caps the result.
func (m *Manager) Match(f *filter.Filter, limit int) []*Connection {
	var out []*Connection
	for _, conn := range m.ListAgents() {
		if limit > 0 && len(out) >= limit {
			break
		}
		if f.Matches(conn.Node()) {
			out = append(out, conn)
		}
	}
	return out
}

// Targets returns the connections msg is delivered to.
func (m *Manager) Targets(msg *transport.Message) []*Connection {
	if !msg.Direct() {
		// Data functions run on the nodes, which decline what they do not match.
		return m.Match(msg.Filter.WithoutFunctions(), 0)
	}
	var out []*Connection
	for _, host := range msg.DiscoveredHosts {
		if conn, ok := m.GetAgent(host); ok {
			out = append(out, conn)
		}
	}
	return out
}

// Publish delivers msg without collecting replies and returns how many
// nodes it reached.
func (m *Manager) Publish(msg *transport.Message) int {
	delivered := 0
	for _, conn := range m.Targets(msg) {
		if err := conn.Deliver(msg); err != nil {
			m.logger.Warn("delivering request", "identity", conn.ID, "request_id", msg.RequestID, "error", err)
			continue
		}
		delivered++
	}
	m.logger.Debug("published request", "request_id", msg.RequestID, "agent", msg.Agent, "delivered", delivered)
	return delivered
}

// Dispatch delivers msg and calls onResponse for every reply until all
// reached nodes replied, the message timeout elapsed, or ctx ended.
func (m *Manager) Dispatch(ctx context.Context, msg *transport.Message, onResponse func(*transport.Response)) (*transport.CallStats, error) {
	if msg.Direct() && len(msg.DiscoveredHosts) == 0 {
		return nil, transport.ErrNoTargets
	}

	begin := time.Now()
	targets := m.Targets(msg)
	replies := make(chan *transport.Response, len(targets)+1)
	declines := make(chan string, len(targets)+1)

	waiting := make(map[string]struct{}, len(targets))
	for _, conn := range targets {
		conn.CreateRequest(msg.RequestID, replies, declines)
		if err := conn.Deliver(msg); err != nil {
			conn.CloseRequest(msg.RequestID)
			m.logger.Warn("delivering request", "identity", conn.ID, "request_id", msg.RequestID, "error", err)
			continue
		}
		waiting[conn.ID] = struct{}{}
	}
	defer func() {
		for _, conn := range targets {
			conn.CloseRequest(msg.RequestID)
		}
	}()

	expected := msg.DiscoveredHosts
	if len(expected) == 0 {
		for _, conn := range targets {
			expected = append(expected, conn.ID)
		}
	}

	timeout := msg.Timeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	collecting := time.Now()
	stats := &transport.CallStats{RequestID: msg.RequestID}
	var responded, declined []string
	var err error

collect:
	for len(waiting) > 0 {
		select {
		case resp := <-replies:
			if _, ok := waiting[resp.Sender]; !ok {
				continue
			}
			delete(waiting, resp.Sender)
			responded = append(responded, resp.Sender)
			stats.Responses++
			onResponse(resp)
		case id := <-declines:
			if _, ok := waiting[id]; !ok {
				continue
			}
			delete(waiting, id)
			declined = append(declined, id)
		case <-timer.C:
			m.logger.Debug("request timed out", "request_id", msg.RequestID, "waiting", len(waiting))
			break collect
		case <-ctx.Done():
			err = fmt.Errorf("collecting replies: %w", ctx.Err())
			break collect
		}
	}

	stats.NoResponseFrom = transport.Missing(transport.Missing(expected, declined), responded)
	stats.BlockTime = time.Since(collecting)
	stats.TotalTime = time.Since(begin)
	return stats, err
}
