// ABOUTME: Tests for action dispatch on the agent side
// ABOUTME: Covers status codes, unknown actions and process_results handling

package node

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-rpc/internal/filter"
	"github.com/2389/coven-rpc/internal/transport"
)

func newTestNode() *Node {
	n := New(transport.Registration{
		Identity: "web1",
		Facts:    map[string]string{"country": "de"},
		Classes:  []string{"apache"},
	}, WithHeartbeat(0))
	RegisterBuiltins(n)
	n.Handle("service", "restart", func(_ context.Context, req *transport.Request) (map[string]any, error) {
		if req.Data["service"] == "broken" {
			return nil, errors.New("restart failed")
		}
		return map[string]any{"status": "running"}, nil
	})
	return n
}

func message(agent, action string, data map[string]any) *transport.Message {
	return &transport.Message{
		RequestID: "req-1",
		Agent:     agent,
		Type:      transport.TypeRequest,
		Body:      &transport.Request{Agent: agent, Action: action, Caller: "uid=0", Data: data},
	}
}

func TestRegistrationAdvertisesAgents(t *testing.T) {
	n := newTestNode()
	reg := n.Registration()
	assert.Equal(t, []string{"echo", "rpcutil", "service"}, reg.Agents)
	assert.Equal(t, "web1", reg.Identity)
}

func TestProcess(t *testing.T) {
	n := newTestNode()
	ctx := context.Background()

	tests := []struct {
		name   string
		msg    *transport.Message
		code   transport.StatusCode
		status string
		data   map[string]any
	}{
		{
			name:   "echo",
			msg:    message("echo", "echo", map[string]any{"msg": "hi"}),
			code:   transport.OK,
			status: "OK",
			data:   map[string]any{"msg": "hi"},
		},
		{
			name:   "missing data",
			msg:    message("echo", "echo", nil),
			code:   transport.MissingData,
			status: "missing required argument msg",
		},
		{
			name:   "invalid data",
			msg:    message("echo", "echo", map[string]any{"msg": 3}),
			code:   transport.InvalidData,
			status: "msg must be a string",
		},
		{
			name:   "unknown action",
			msg:    message("echo", "shout", nil),
			code:   transport.UnknownAction,
			status: "Unknown action shout for agent echo",
		},
		{
			name:   "plain error is an application failure",
			msg:    message("service", "restart", map[string]any{"service": "broken"}),
			code:   transport.ApplicationFailure,
			status: "restart failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := n.Process(ctx, tt.msg)
			require.NotNil(t, resp)
			assert.Equal(t, "web1", resp.Sender)
			assert.Equal(t, "req-1", resp.RequestID)
			assert.Equal(t, tt.code, resp.StatusCode)
			assert.Equal(t, tt.status, resp.StatusMsg)
			if tt.data != nil {
				assert.Equal(t, tt.data, resp.Data)
			}
		})
	}
}

func TestProcessSkipsReplyWhenResultsIgnored(t *testing.T) {
	n := newTestNode()
	called := false
	n.Handle("service", "stop", func(context.Context, *transport.Request) (map[string]any, error) {
		called = true
		return nil, nil
	})

	msg := message("service", "stop", map[string]any{transport.DataProcessResults: false})
	assert.Nil(t, n.Process(context.Background(), msg))
	assert.True(t, called, "action still runs")
}

func TestInventoryAction(t *testing.T) {
	n := newTestNode()
	resp := n.Process(context.Background(), message("rpcutil", "inventory", nil))
	require.NotNil(t, resp)
	assert.Equal(t, transport.OK, resp.StatusCode)
	assert.Equal(t, "web1", resp.Data["identity"])
	assert.Equal(t, []string{"apache"}, resp.Data["classes"])
}

func TestFail(t *testing.T) {
	err := Fail(transport.InvalidData, "bad %s", "input")
	var f *Failure
	require.True(t, errors.As(err, &f))
	assert.Equal(t, transport.InvalidData, f.Code)
	assert.Equal(t, "bad input", err.Error())
}

func mountedRoot(mounted bool) filter.Function {
	return func(args ...string) (any, error) {
		if len(args) != 1 || args[0] != "/" {
			return nil, errors.New("unknown mount point")
		}
		return map[string]any{"mounted": mounted}, nil
	}
}

func TestTargetedEvaluatesDataFunctions(t *testing.T) {
	reg := transport.Registration{Identity: "web1", Facts: map[string]string{"os": "linux"}, Agents: []string{"rpcutil"}}
	mounted := New(reg, WithHeartbeat(0), WithDataFunction("fstab", mountedRoot(true)))
	unmounted := New(reg, WithHeartbeat(0), WithDataFunction("fstab", mountedRoot(false)))
	bare := New(reg, WithHeartbeat(0))

	f := &filter.Filter{}
	f.AddAgent("rpcutil")
	require.NoError(t, f.AddCompound("os=linux and fstab('/').mounted=true"))

	msg := message("rpcutil", "ping", nil)
	msg.Filter = f

	assert.True(t, mounted.Targeted(msg))
	assert.False(t, unmounted.Targeted(msg))
	assert.False(t, bare.Targeted(msg))

	direct := message("rpcutil", "ping", nil)
	direct.Filter = f
	direct.Type = transport.TypeDirectRequest
	direct.DiscoveredHosts = []string{"web1"}
	assert.True(t, unmounted.Targeted(direct))
}

func TestTargetedWithoutFilter(t *testing.T) {
	assert.True(t, newTestNode().Targeted(message("rpcutil", "ping", nil)))
}

func TestProcessAnswersDiscovery(t *testing.T) {
	resp := newTestNode().Process(context.Background(), message(transport.DiscoveryAgent, transport.DiscoveryAction, nil))
	require.NotNil(t, resp)
	assert.Equal(t, transport.OK, resp.StatusCode)
	assert.Contains(t, resp.Data, "pong")
}
