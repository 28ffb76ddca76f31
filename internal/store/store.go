// ABOUTME: Inventory records and the Inventory interface used by the broker
// ABOUTME: Defines NodeRecord, RequestRecord and store errors

package store

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-rpc/internal/filter"
)

var (
	// ErrNotFound is returned when a requested entity does not exist
	ErrNotFound = errors.New("not found")

	// ErrDataFunctions is returned when a filter calls data functions,
	// which only live nodes can evaluate.
	ErrDataFunctions = errors.New("data functions cannot be evaluated from the inventory")
)

// NodeRecord is the persisted registration of a node.
type NodeRecord struct {
	Identity   string
	Collective string
	Facts      map[string]string
	Classes    []string
	Agents     []string
	Online     bool
	FirstSeen  time.Time
	LastSeen   time.Time
}

// Node returns the filterable view of the record.
func (r *NodeRecord) Node() *filter.Node {
	return &filter.Node{
		Identity: r.Identity,
		Facts:    r.Facts,
		Classes:  r.Classes,
		Agents:   r.Agents,
	}
}

// RequestRecord is one published request.
type RequestRecord struct {
	RequestID string
	Agent     string
	Action    string
	Caller    string
	Type      string
	Targets   int
	Responses int
	CreatedAt time.Time
}

// Inventory is what the broker needs from persistence.
type Inventory interface {
	UpsertNode(ctx context.Context, n *NodeRecord) error
	MarkOffline(ctx context.Context, identity string) error
	RecordRequest(ctx context.Context, r *RequestRecord) error
}
