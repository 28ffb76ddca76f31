// ABOUTME: The Transport interface consumed by the RPC client.
// ABOUTME: Send publishes, Request publishes and collects, Discover queries the fleet.

package transport

import (
	"context"
	"errors"
	"time"

	"github.com/2389/coven-rpc/internal/filter"
)

// ErrNoTargets is returned when a directly addressed message names no hosts.
var ErrNoTargets = errors.New("no target hosts")

// Transport carries messages to nodes.
type Transport interface {
	// Send publishes msg and returns its request ID without waiting for replies.
	Send(ctx context.Context, msg *Message) (string, error)
	// Request publishes msg and calls onResponse for every reply until all
	// expected hosts replied, msg.Timeout elapsed, or ctx ended.
	Request(ctx context.Context, msg *Message, onResponse func(*Response)) (*CallStats, error)
	// Discover returns the identities of nodes matching f. limit is a hint;
	// zero means no hint.
	Discover(ctx context.Context, f *filter.Filter, timeout time.Duration, limit int) ([]string, error)
}
