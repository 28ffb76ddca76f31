// ABOUTME: Built-in agents every node can serve: rpcutil and echo
// ABOUTME: Used by fake-agent and by broker round-trip tests

package node

import (
	"context"
	"time"

	"github.com/2389/coven-rpc/internal/transport"
)

// RegisterBuiltins adds rpcutil ping/inventory and echo echo to n.
func RegisterBuiltins(n *Node) {
	n.Handle("rpcutil", "ping", func(context.Context, *transport.Request) (map[string]any, error) {
		return map[string]any{"pong": time.Now().Unix()}, nil
	})

	n.Handle("rpcutil", "inventory", func(context.Context, *transport.Request) (map[string]any, error) {
		reg := n.Registration()
		return map[string]any{
			"identity": reg.Identity,
			"facts":    reg.Facts,
			"classes":  reg.Classes,
			"agents":   reg.Agents,
		}, nil
	})

	n.Handle("echo", "echo", func(_ context.Context, req *transport.Request) (map[string]any, error) {
		msg, ok := req.Data["msg"]
		if !ok {
			return nil, Fail(transport.MissingData, "missing required argument msg")
		}
		s, ok := msg.(string)
		if !ok {
			return nil, Fail(transport.InvalidData, "msg must be a string")
		}
		return map[string]any{"msg": s}, nil
	})
}
