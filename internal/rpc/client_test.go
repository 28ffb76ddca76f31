// ABOUTME: Tests for Invoke and the delivery strategies over the in-memory transport.
// ABOUTME: Sleeps, randomness and output are injected so runs are deterministic.

package rpc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-rpc/internal/discovery"
	"github.com/2389/coven-rpc/internal/filter"
	"github.com/2389/coven-rpc/internal/transport"
)

type observed struct {
	agent, action, mode string
	stats               *Stats
	err                 error
}

type fakeRecorder struct{ calls []observed }

func (r *fakeRecorder) ObserveCall(agent, action, mode string, stats *Stats, err error) {
	r.calls = append(r.calls, observed{agent, action, mode, stats, err})
}

type fakeSecurity struct{ id string }

func (s fakeSecurity) CallerID() string { return s.id }

func (fakeSecurity) ValidCallerID(id string) bool { return id != "" && id != "bogus" }

type fakeMetadata struct {
	err     error
	timeout time.Duration
}

func (m fakeMetadata) ValidateRequest(string, map[string]any) error { return m.err }

func (m fakeMetadata) DefaultTimeout(string) time.Duration { return m.timeout }

func echoNode(id string, code transport.StatusCode) *transport.MemoryNode {
	return &transport.MemoryNode{
		Node: filter.Node{Identity: id, Agents: []string{"rpcutil"}},
		Respond: func(_ context.Context, req *transport.Request) (transport.StatusCode, string, map[string]any) {
			return code, code.String(), map[string]any{"action": req.Action}
		},
	}
}

func fleet(n int) *transport.Memory {
	m := transport.NewMemory()
	for i := range n {
		m.AddNode(echoNode(fmt.Sprintf("node%02d", i), transport.OK))
	}
	return m
}

type harness struct {
	client   *Client
	mem      *transport.Memory
	recorder *fakeRecorder
	out      *bytes.Buffer
	errOut   *bytes.Buffer
	sleeps   []time.Duration
}

func newHarness(t *testing.T, mem *transport.Memory, opts ...Option) *harness {
	t.Helper()
	h := &harness{mem: mem, recorder: &fakeRecorder{}, out: &bytes.Buffer{}, errOut: &bytes.Buffer{}}
	base := []Option{
		WithSecurity(fakeSecurity{id: "uid=1000"}),
		WithRecorder(h.recorder),
		WithOutput(h.out, h.errOut),
		WithSleep(func(_ context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return nil
		}),
	}
	c, err := New("rpcutil", mem, append(base, opts...)...)
	require.NoError(t, err)
	h.client = c
	return h
}

func TestNew_RequiresAgent(t *testing.T) {
	_, err := New(" ", transport.NewMemory())
	assert.Error(t, err)
}

func TestInvoke_BroadcastCollectsResults(t *testing.T) {
	h := newHarness(t, fleet(2))

	res, err := h.client.Invoke(context.Background(), "ping", map[string]any{"x": 1})
	require.NoError(t, err)

	require.Len(t, res.Results, 2)
	assert.Equal(t, "node00", res.Results[0].Sender)
	assert.Equal(t, "node01", res.Results[1].Sender)
	assert.Equal(t, "ping", res.Results[0].Data["action"])
	assert.True(t, res.Results[0].OK())
	assert.Equal(t, 2, res.Stats.Discovered)
	assert.Equal(t, 2, res.Stats.OKCount)
	assert.Empty(t, res.Stats.NoResponseFrom)
	assert.True(t, res.Stats.Finished())
	assert.Equal(t, PhaseFinished, h.client.Phase())

	sent := h.mem.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, transport.TypeRequest, sent[0].Type)
	assert.Equal(t, "uid=1000", sent[0].Body.Caller)
	assert.Equal(t, true, sent[0].Body.Data[transport.DataProcessResults])
	assert.Equal(t, "coven", sent[0].Collective)
	assert.Equal(t, res.RequestID, sent[0].RequestID)

	require.Len(t, h.recorder.calls, 1)
	assert.Equal(t, ModeBroadcast, h.recorder.calls[0].mode)
}

func TestInvoke_AggregatesStatusCodes(t *testing.T) {
	mem := transport.NewMemory(
		echoNode("a", transport.OK),
		echoNode("b", transport.ApplicationFailure),
		echoNode("c", transport.OK),
		echoNode("d", transport.UnknownAction),
	)
	h := newHarness(t, mem)

	res, err := h.client.Invoke(context.Background(), "status", nil)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.OKCount)
	assert.Equal(t, 2, res.Stats.FailCount)
	assert.Equal(t, []string{"a", "b", "c", "d"}, res.Stats.ResponsesFrom)
	require.Len(t, res.Results, 4)
	assert.NotNil(t, res.Results[1].Data)
	assert.Nil(t, res.Results[3].Data)
	assert.Equal(t, "Unknown Action", res.Results[3].StatusMsg)
}

func TestInvoke_LiteralIdentityIsDirect(t *testing.T) {
	h := newHarness(t, fleet(3))
	require.NoError(t, h.client.IdentityFilter("node01"))

	res, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)

	require.Len(t, res.Results, 1)
	sent := h.mem.Sent()
	require.Len(t, sent, 1)
	assert.True(t, sent[0].Direct())
	assert.Equal(t, []string{"node01"}, sent[0].DiscoveredHosts)
	assert.Equal(t, ModeDirect, h.recorder.calls[0].mode)
}

func TestInvoke_SilentNodeIsReported(t *testing.T) {
	mem := fleet(2)
	mem.AddNode(&transport.MemoryNode{Node: filter.Node{Identity: "quiet", Agents: []string{"rpcutil"}}, Silent: true})
	h := newHarness(t, mem)

	res, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Stats.Discovered)
	assert.Equal(t, []string{"quiet"}, res.Stats.NoResponseFrom)
}

func TestInvoke_HandlerJoinsStatusErrors(t *testing.T) {
	mem := transport.NewMemory(
		echoNode("a", transport.OK),
		echoNode("b", transport.MissingData),
		echoNode("c", transport.ApplicationFailure),
	)
	h := newHarness(t, mem)

	var senders []string
	res, err := h.client.Invoke(context.Background(), "ping", nil, WithHandler(func(raw *transport.Response, r *Result) error {
		senders = append(senders, r.Sender)
		assert.Equal(t, raw.Sender, r.Sender)
		return nil
	}))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingData)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, "b", se.Sender)

	assert.Equal(t, []string{"a", "c"}, senders)
	assert.Empty(t, res.Results)
	assert.Equal(t, 1, res.Stats.OKCount)
	assert.Equal(t, 2, res.Stats.FailCount)
}

func TestInvoke_HandlerErrorStopsCall(t *testing.T) {
	h := newHarness(t, fleet(4))
	stop := errors.New("stop")

	calls := 0
	_, err := h.client.Invoke(context.Background(), "ping", nil, WithHandler(RawHandler(func(*transport.Response) error {
		calls++
		return stop
	})))

	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 1, calls)
}

func TestInvoke_NoResultsSendsOnce(t *testing.T) {
	h := newHarness(t, fleet(3))

	res, err := h.client.Invoke(context.Background(), "restart", map[string]any{"service": "web"}, NoResults())
	require.NoError(t, err)

	assert.NotEmpty(t, res.RequestID)
	assert.Nil(t, res.Results)
	assert.Nil(t, res.Stats)

	sent := h.mem.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, false, sent[0].Body.Data[transport.DataProcessResults])
	assert.Equal(t, "web", sent[0].Body.Data["service"])
	assert.Equal(t, ModeFireAndForget, h.recorder.calls[0].mode)
}

func TestInvoke_ReplyToIsFireAndForget(t *testing.T) {
	h := newHarness(t, fleet(2))
	h.client.SetReplyTo("elsewhere")

	res, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Nil(t, res.Results)
	require.Len(t, h.mem.Sent(), 1)
	assert.Equal(t, "elsewhere", h.mem.Sent()[0].ReplyTo)
}

func TestInvoke_Batched(t *testing.T) {
	h := newHarness(t, fleet(10))

	res, err := h.client.Invoke(context.Background(), "ping", nil, BatchSize(1), BatchSleep(time.Second))
	require.NoError(t, err)

	assert.Len(t, res.Results, 10)
	assert.Len(t, h.sleeps, 9)
	sent := h.mem.Sent()
	require.Len(t, sent, 10)
	for i, msg := range sent {
		assert.True(t, msg.Direct())
		assert.Equal(t, []string{fmt.Sprintf("node%02d", i)}, msg.DiscoveredHosts)
	}
	assert.GreaterOrEqual(t, res.Stats.BlockTime, 9*time.Second)
	assert.Equal(t, 10, res.Stats.Responses)
	assert.Equal(t, ModeBatched, h.recorder.calls[0].mode)
}

func TestInvoke_BatchedUnevenGroups(t *testing.T) {
	h := newHarness(t, fleet(5))
	require.NoError(t, h.client.SetBatchSize(2))

	res, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)

	assert.Len(t, res.Results, 5)
	assert.Len(t, h.sleeps, 2)
	sent := h.mem.Sent()
	require.Len(t, sent, 3)
	assert.Equal(t, []string{"node04"}, sent[2].DiscoveredHosts)
}

func TestInvoke_BatchSizeZeroDisablesBatching(t *testing.T) {
	h := newHarness(t, fleet(4))
	require.NoError(t, h.client.SetBatchSize(1))

	_, err := h.client.Invoke(context.Background(), "ping", nil, BatchSize(0))
	require.NoError(t, err)
	assert.Len(t, h.mem.Sent(), 1)
	assert.Empty(t, h.sleeps)
}

func TestInvoke_BatchedWithoutNodes(t *testing.T) {
	h := newHarness(t, fleet(3))
	require.NoError(t, h.client.IdentityFilter("/^nothing$/"))

	res, err := h.client.Invoke(context.Background(), "ping", nil, BatchSize(2))
	require.NoError(t, err)

	assert.Empty(t, res.Results)
	assert.Empty(t, h.mem.Sent())
	assert.Contains(t, h.errOut.String(), "No request sent, we did not discover any nodes.")
}

func TestInvoke_BatchedPreconditions(t *testing.T) {
	settings := DefaultSettings()
	settings.DirectAddressing = false
	h := newHarness(t, fleet(3), WithSettings(settings))

	_, err := h.client.Invoke(context.Background(), "ping", nil, BatchSize(2))
	assert.ErrorIs(t, err, ErrDirectAddressingRequired)

	h = newHarness(t, fleet(3))
	_, err = h.client.Invoke(context.Background(), "ping", nil, BatchSize(2), NoResults())
	assert.ErrorIs(t, err, ErrResultProcessingRequired)
	assert.Empty(t, h.mem.Sent())
}

func TestInvoke_LimitTargets(t *testing.T) {
	h := newHarness(t, fleet(5))
	require.NoError(t, h.client.SetLimitTargets("2"))

	res, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)

	assert.Len(t, res.Results, 2)
	assert.Equal(t, 2, res.Stats.Discovered)
	sent := h.mem.Sent()
	require.Len(t, sent, 1)
	assert.Equal(t, []string{"/^(node00|node01)$/"}, sent[0].Filter.Identity)
	assert.Equal(t, []string{"node00", "node01"}, sent[0].DiscoveredHosts)
	assert.Equal(t, ModeCustom, h.recorder.calls[0].mode)
}

func TestSetLimitTargets_ZeroRejected(t *testing.T) {
	h := newHarness(t, fleet(3))
	require.NoError(t, h.client.SetLimitTargets("2"))

	err := h.client.SetLimitTargets("0")
	require.ErrorIs(t, err, discovery.ErrInvalidLimit)

	res, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Len(t, res.Results, 2, "a rejected limit keeps the previous one")
}

func TestInvoke_LimitTakesPrecedenceOverBatching(t *testing.T) {
	h := newHarness(t, fleet(6))
	require.NoError(t, h.client.SetLimitTargets("50%"))

	res, err := h.client.Invoke(context.Background(), "ping", nil, BatchSize(1))
	require.NoError(t, err)
	assert.Len(t, res.Results, 3)
	assert.Len(t, h.mem.Sent(), 1)
	assert.Empty(t, h.sleeps)
}

func TestInvoke_StaticNodes(t *testing.T) {
	h := newHarness(t, fleet(4))

	res, err := h.client.Invoke(context.Background(), "ping", nil, Nodes("node02", "node03"))
	require.NoError(t, err)
	assert.Len(t, res.Results, 2)
	assert.True(t, h.mem.Sent()[0].Direct())
}

func TestInvoke_EmptyStaticNodesIsAnError(t *testing.T) {
	h := newHarness(t, fleet(3))

	var none []string
	_, err := h.client.Invoke(context.Background(), "ping", nil, Nodes(none...))
	require.ErrorIs(t, err, discovery.ErrEmptyDiscoveryData)
	assert.Empty(t, h.mem.Sent())

	_, err = h.client.Invoke(context.Background(), "ping", nil, Nodes([]string{}...))
	require.ErrorIs(t, err, discovery.ErrEmptyDiscoveryData)
	assert.Empty(t, h.mem.Sent())
}

func TestInvoke_ValidationFails(t *testing.T) {
	invalid := errors.New("invalid input")
	h := newHarness(t, fleet(2), WithMetadata(fakeMetadata{err: invalid}))

	_, err := h.client.Invoke(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, invalid)
	assert.Empty(t, h.mem.Sent())
}

func TestInvoke_InvalidCallerID(t *testing.T) {
	h := newHarness(t, fleet(2), WithSecurity(fakeSecurity{id: "bogus"}))

	_, err := h.client.Invoke(context.Background(), "ping", nil)
	assert.ErrorIs(t, err, ErrInvalidCallerID)
	assert.Empty(t, h.mem.Sent())
	require.Len(t, h.recorder.calls, 1)
	assert.ErrorIs(t, h.recorder.calls[0].err, ErrInvalidCallerID)
}

func TestCallAgent_ExplicitTargets(t *testing.T) {
	h := newHarness(t, fleet(4))

	res, err := h.client.CallAgent(context.Background(), "ping", nil, []string{"node01", "node03", "ghost"})
	require.NoError(t, err)

	assert.Len(t, res.Results, 2)
	assert.Equal(t, 3, res.Stats.Discovered)
	assert.Equal(t, []string{"ghost"}, res.Stats.NoResponseFrom)
	assert.True(t, h.mem.Sent()[0].Direct())
}

func TestCustomRequest_FilterlessNeedsDirectAddressing(t *testing.T) {
	settings := DefaultSettings()
	settings.DirectAddressing = false
	h := newHarness(t, fleet(2), WithSettings(settings))

	_, err := h.client.CustomRequest(context.Background(), "ping", nil, []string{"node00"}, &filter.Filter{})
	assert.ErrorIs(t, err, ErrFilterlessBroadcastForbidden)
}

func TestCustomRequest_ExpectedDrivesStats(t *testing.T) {
	h := newHarness(t, fleet(3))

	f := &filter.Filter{}
	require.NoError(t, f.AddIdentity("/^node0[01]$/"))
	res, err := h.client.CustomRequest(context.Background(), "ping", nil, []string{"node00", "node01"}, f)
	require.NoError(t, err)

	assert.Equal(t, 2, res.Stats.Discovered)
	assert.Len(t, res.Results, 2)
	assert.Contains(t, h.mem.Sent()[0].Filter.Agent, "rpcutil")
}

func TestInvoke_ProgressOutput(t *testing.T) {
	h := newHarness(t, fleet(2))
	h.client.SetProgress(true)

	_, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)
	assert.Contains(t, h.out.String(), "2 / 2")
}

func TestInvoke_StatsHooksSeeFinalStats(t *testing.T) {
	h := newHarness(t, fleet(2))
	var got *Stats
	h.client.OnStats(func(s *Stats) { got = s })

	var discovered []string
	h.client.OnDiscovered(func(hosts []string) { discovered = hosts })

	_, err := h.client.Invoke(context.Background(), "ping", nil)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.True(t, got.Finished())
	assert.Equal(t, []string{"node00", "node01"}, discovered)
}

func TestClient_SetBatchSizeNeedsDirectAddressing(t *testing.T) {
	settings := DefaultSettings()
	settings.DirectAddressing = false
	h := newHarness(t, fleet(1), WithSettings(settings))

	assert.ErrorIs(t, h.client.SetBatchSize(2), ErrDirectAddressingRequired)
	assert.ErrorIs(t, h.client.SetBatchSleep(time.Second), ErrDirectAddressingRequired)

	h = newHarness(t, fleet(1))
	assert.ErrorIs(t, h.client.SetBatchSize(-1), ErrInvalidBatchSize)
}

func TestClient_LimitSetters(t *testing.T) {
	h := newHarness(t, fleet(1))

	assert.Error(t, h.client.SetLimitTargets("ten"))
	assert.Error(t, h.client.SetLimitMethod("closest"))
	assert.NoError(t, h.client.SetLimitTargets("10%"))
	assert.NoError(t, h.client.SetLimitTargets(""))
	assert.NoError(t, h.client.SetLimitMethod("random"))
}

func TestClient_FiltersAlwaysKeepAgent(t *testing.T) {
	h := newHarness(t, fleet(1))

	require.NoError(t, h.client.FactFilter("country=uk"))
	require.NoError(t, h.client.ClassFilter("webserver"))
	h.client.AgentFilter("package")
	assert.Equal(t, []string{"rpcutil", "package"}, h.client.Filter().Agent)

	h.client.ResetFilter()
	f := h.client.Filter()
	assert.Equal(t, []string{"rpcutil"}, f.Agent)
	assert.Empty(t, f.Fact)

	h.client.SetFilter(&filter.Filter{Class: []string{"db"}})
	assert.Equal(t, []string{"db"}, h.client.Filter().Class)
	assert.Equal(t, []string{"rpcutil"}, h.client.Filter().Agent)
}

func TestClient_TimeoutFor(t *testing.T) {
	h := newHarness(t, fleet(1))
	assert.Equal(t, DefaultTimeout, h.client.timeoutFor("ping"))

	h = newHarness(t, fleet(1), WithMetadata(fakeMetadata{timeout: 10 * time.Second}))
	assert.Equal(t, 12*time.Second, h.client.timeoutFor("ping"))

	h.client.SetTimeout(3 * time.Second)
	assert.Equal(t, 3*time.Second, h.client.timeoutFor("ping"))
}
