// ABOUTME: Tests for the in-process transport.
// ABOUTME: Covers broadcast and direct routing, silent nodes and discovery limits.

package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-rpc/internal/filter"
)

func echoNode(id string, facts map[string]string) *MemoryNode {
	return &MemoryNode{
		Node: filter.Node{Identity: id, Facts: facts, Agents: []string{"echo"}},
		Respond: func(_ context.Context, req *Request) (StatusCode, string, map[string]any) {
			return OK, "OK", map[string]any{"action": req.Action}
		},
	}
}

func TestMemory_BroadcastMatchesFilter(t *testing.T) {
	m := NewMemory(
		echoNode("a", map[string]string{"os": "linux"}),
		echoNode("b", map[string]string{"os": "bsd"}),
	)
	f := &filter.Filter{Agent: []string{"echo"}}
	require.NoError(t, f.AddFact("os=linux"))

	var got []string
	stats, err := m.Request(context.Background(), &Message{
		Type:            TypeRequest,
		Filter:          f,
		DiscoveredHosts: []string{"a"},
		Body:            &Request{Agent: "echo", Action: "ping"},
	}, func(r *Response) { got = append(got, r.Sender) })
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, got)
	assert.Equal(t, 1, stats.Responses)
	assert.Empty(t, stats.NoResponseFrom)
	assert.Len(t, stats.RequestID, 32)
}

func TestMemory_DirectAndSilent(t *testing.T) {
	silent := echoNode("c", nil)
	silent.Silent = true
	m := NewMemory(echoNode("a", nil), echoNode("b", nil), silent)

	var got []string
	stats, err := m.Request(context.Background(), &Message{
		Type:            TypeDirectRequest,
		DiscoveredHosts: []string{"b", "c", "missing"},
		Body:            &Request{Agent: "echo", Action: "ping"},
	}, func(r *Response) { got = append(got, r.Sender) })
	require.NoError(t, err)

	assert.Equal(t, []string{"b"}, got)
	assert.Equal(t, []string{"c", "missing"}, stats.NoResponseFrom)
}

func TestMemory_DirectWithoutHosts(t *testing.T) {
	m := NewMemory()
	_, err := m.Send(context.Background(), &Message{Type: TypeDirectRequest})
	assert.ErrorIs(t, err, ErrNoTargets)
}

func TestMemory_SendRecords(t *testing.T) {
	ran := 0
	n := echoNode("a", nil)
	n.Respond = func(context.Context, *Request) (StatusCode, string, map[string]any) {
		ran++
		return OK, "", nil
	}
	m := NewMemory(n)

	id, err := m.Send(context.Background(), &Message{Type: TypeRequest, Body: &Request{}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, 1, ran)
	require.Len(t, m.Sent(), 1)
	assert.Equal(t, id, m.Sent()[0].RequestID)
}

func TestMemory_DiscoverLimit(t *testing.T) {
	m := NewMemory(echoNode("a", nil), echoNode("b", nil), echoNode("c", nil))

	hosts, err := m.Discover(context.Background(), &filter.Filter{}, 0, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, hosts)

	hosts, err = m.Discover(context.Background(), &filter.Filter{Identity: []string{"/^[bc]$/"}}, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, hosts)
}

func TestRequest_ShouldRespond(t *testing.T) {
	assert.True(t, (&Request{}).ShouldRespond())
	assert.True(t, (&Request{Data: map[string]any{DataProcessResults: true}}).ShouldRespond())
	assert.False(t, (&Request{Data: map[string]any{DataProcessResults: false}}).ShouldRespond())
}

func TestMissing(t *testing.T) {
	assert.Equal(t, []string{"b", "d"}, Missing([]string{"a", "b", "c", "d"}, []string{"c", "a"}))
	assert.Nil(t, Missing(nil, []string{"a"}))
}

func TestStatusCode_String(t *testing.T) {
	assert.Equal(t, "OK", OK.String())
	assert.Equal(t, "Unknown Action", UnknownAction.String())
	assert.Equal(t, "Unknown Request Status", StatusCode(42).String())
}
