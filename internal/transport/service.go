// ABOUTME: Method names and message frames of the coven.rpc.Broker gRPC service.
// ABOUTME: Shared by the gRPC client transport, the broker and agents.

package transport

import (
	"time"

	"github.com/2389/coven-rpc/internal/filter"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "coven.rpc.Broker"

// Full method names.
const (
	MethodDiscover    = "/" + ServiceName + "/Discover"
	MethodSend        = "/" + ServiceName + "/Send"
	MethodRequest     = "/" + ServiceName + "/Request"
	MethodAgentStream = "/" + ServiceName + "/AgentStream"
)

// DiscoverRequest asks the broker for matching nodes.
type DiscoverRequest struct {
	Filter  *filter.Filter `json:"filter,omitempty"`
	Timeout time.Duration  `json:"timeout"`
	Limit   int            `json:"limit,omitempty"`
}

// DiscoverReply lists matching identities.
type DiscoverReply struct {
	Hosts []string `json:"hosts"`
}

// SendReply acknowledges a published message.
type SendReply struct {
	RequestID string `json:"request_id"`
}

// RequestEvent is one frame of the Request server stream. Every frame but
// the last carries a Response; the last carries the CallStats.
type RequestEvent struct {
	Response *Response  `json:"response,omitempty"`
	Stats    *CallStats `json:"stats,omitempty"`
}

// Registration is the first frame an agent sends.
type Registration struct {
	Identity   string            `json:"identity"`
	Collective string            `json:"collective,omitempty"`
	Facts      map[string]string `json:"facts,omitempty"`
	Classes    []string          `json:"classes,omitempty"`
	Agents     []string          `json:"agents,omitempty"`
}

// Node converts the registration into a filterable node.
func (r *Registration) Node() *filter.Node {
	return &filter.Node{
		Identity: r.Identity,
		Facts:    r.Facts,
		Classes:  r.Classes,
		Agents:   r.Agents,
	}
}

// AgentFrame is sent by agents on the AgentStream.
// Declined carries the ID of a broadcast request whose filter the node
// does not satisfy.
type AgentFrame struct {
	Register  *Registration `json:"register,omitempty"`
	Heartbeat bool          `json:"heartbeat,omitempty"`
	Reply     *Response     `json:"reply,omitempty"`
	Declined  string        `json:"declined,omitempty"`
}

// Welcome confirms a registration.
type Welcome struct {
	ServerID string `json:"server_id"`
	Identity string `json:"identity"`
}

// BrokerFrame is sent by the broker on the AgentStream.
type BrokerFrame struct {
	Welcome *Welcome `json:"welcome,omitempty"`
	Message *Message `json:"message,omitempty"`
}
