// ABOUTME: Wire types shared by the client, the broker and agents.
// ABOUTME: Requests, envelopes, responses, status codes and per-call transport stats.

package transport

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-rpc/internal/filter"
)

// StatusCode is the outcome an agent reports for a request.
type StatusCode int

const (
	OK StatusCode = iota
	ApplicationFailure
	UnknownAction
	MissingData
	InvalidData
	UnknownError
)

var statusNames = [...]string{
	OK:                 "OK",
	ApplicationFailure: "Aborted",
	UnknownAction:      "Unknown Action",
	MissingData:        "Missing Request Data",
	InvalidData:        "Invalid Request Data",
	UnknownError:       "Unknown Request Status",
}

func (c StatusCode) String() string {
	if c >= 0 && int(c) < len(statusNames) {
		return statusNames[c]
	}
	return "Unknown Request Status"
}

// Request is the body delivered to an agent.
type Request struct {
	Agent  string         `json:"agent"`
	Action string         `json:"action"`
	Caller string         `json:"caller"`
	Data   map[string]any `json:"data"`
}

// Reserved request data keys.
const (
	// DataProcessResults is false when the caller will not read replies.
	DataProcessResults = "process_results"
	// DataSchedule carries an opaque deferred execution request.
	DataSchedule = "schedule"
)

// DiscoveryAgent is answered by every node that satisfies the request
// filter. Brokers use it for filters only the nodes can decide.
const (
	DiscoveryAgent  = "discovery"
	DiscoveryAction = "ping"
)

// ShouldRespond reports whether the caller wants a reply.
func (r *Request) ShouldRespond() bool {
	if r == nil || r.Data == nil {
		return true
	}
	v, ok := r.Data[DataProcessResults].(bool)
	return !ok || v
}

// MessageType distinguishes broadcast from directly addressed requests.
type MessageType string

const (
	TypeRequest       MessageType = "request"
	TypeDirectRequest MessageType = "direct_request"
)

// Message is the envelope published for one request.
type Message struct {
	RequestID       string         `json:"request_id"`
	Agent           string         `json:"agent"`
	Collective      string         `json:"collective,omitempty"`
	Type            MessageType    `json:"type"`
	Filter          *filter.Filter `json:"filter,omitempty"`
	DiscoveredHosts []string       `json:"discovered_hosts,omitempty"`
	ReplyTo         string         `json:"reply_to,omitempty"`
	TTL             time.Duration  `json:"ttl,omitempty"`
	Timeout         time.Duration  `json:"timeout,omitempty"`
	Body            *Request       `json:"body"`
}

// Direct reports whether the message is addressed to named hosts.
func (m *Message) Direct() bool { return m.Type == TypeDirectRequest }

// Response is one node's reply.
type Response struct {
	Sender     string         `json:"sender"`
	RequestID  string         `json:"request_id"`
	StatusCode StatusCode     `json:"statuscode"`
	StatusMsg  string         `json:"statusmsg"`
	Data       map[string]any `json:"data,omitempty"`
}

// CallStats is what the transport measured for one published request.
// BlockTime covers response collection; TotalTime also covers publishing.
type CallStats struct {
	RequestID      string        `json:"request_id"`
	Responses      int           `json:"responses"`
	NoResponseFrom []string      `json:"noresponsefrom,omitempty"`
	BlockTime      time.Duration `json:"blocktime"`
	TotalTime      time.Duration `json:"totaltime"`
}

// NewRequestID returns a 32 character hex request identifier.
func NewRequestID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

// Missing returns the expected hosts that are not in responded, in order.
func Missing(expected, responded []string) []string {
	seen := make(map[string]struct{}, len(responded))
	for _, r := range responded {
		seen[r] = struct{}{}
	}
	var out []string
	for _, e := range expected {
		if _, ok := seen[e]; !ok {
			out = append(out, e)
		}
	}
	return out
}
