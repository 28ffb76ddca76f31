// ABOUTME: Tests for client and broker collectors
// ABOUTME: Asserts counter values through prometheus testutil

package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/coven-rpc/internal/rpc"
)

func TestClientCollectorObserveCall(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewClientCollector(reg)

	c.ObserveCall("rpcutil", "ping", "broadcast", &rpc.Stats{
		OKCount:       3,
		FailCount:     1,
		DiscoveryTime: 2 * time.Second,
		TotalTime:     3 * time.Second,
	}, nil)
	c.ObserveCall("rpcutil", "ping", "broadcast", &rpc.Stats{
		OKCount:        1,
		NoResponseFrom: []string{"web3", "web4"},
		TotalTime:      time.Second,
	}, nil)
	c.ObserveCall("rpcutil", "ping", "direct", nil, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("rpcutil", "ping", "broadcast", ResultFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("rpcutil", "ping", "broadcast", ResultNoReply)))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.calls.WithLabelValues("rpcutil", "ping", "direct", ResultError)))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.responses.WithLabelValues("rpcutil", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.responses.WithLabelValues("rpcutil", "failed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.noResponses.WithLabelValues("rpcutil")))

	// Only the first call spent time in discovery.
	assert.Equal(t, 1, testutil.CollectAndCount(c.discovery))
}

func TestCallResult(t *testing.T) {
	tests := []struct {
		name  string
		stats *rpc.Stats
		err   error
		want  string
	}{
		{"error wins", &rpc.Stats{OKCount: 1}, errors.New("x"), ResultError},
		{"no stats", nil, nil, ResultOK},
		{"all ok", &rpc.Stats{OKCount: 2}, nil, ResultOK},
		{"failure", &rpc.Stats{OKCount: 1, FailCount: 1}, nil, ResultFailed},
		{"silent node", &rpc.Stats{FailCount: 1, NoResponseFrom: []string{"a"}}, nil, ResultNoReply},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, callResult(tt.stats, tt.err))
		})
	}
}

func TestBrokerCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewBrokerCollector(reg)

	c.NodeConnected("coven")
	c.NodeConnected("coven")
	c.NodeDisconnected("coven")
	c.RequestPublished("rpcutil", "request", 5)
	c.RequestPublished("rpcutil", "direct_request", 1)
	c.ReplyRelayed("rpcutil")
	c.Rejected("replay")

	assert.Equal(t, 1.0, testutil.ToFloat64(c.connected.WithLabelValues("coven")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.requests.WithLabelValues("rpcutil", "request")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.replies.WithLabelValues("rpcutil")))

	expected := `
# HELP coven_rpc_broker_rejected_total Publishing calls refused by authorization
# TYPE coven_rpc_broker_rejected_total counter
coven_rpc_broker_rejected_total{reason="replay"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "coven_rpc_broker_rejected_total"))
}

func TestCollectorsShareRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewClientCollector(reg)
	NewBrokerCollector(reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	// Vectors without observations are not gathered; the plain histogram is.
	var names []string
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "coven_rpc_broker_request_targets")
}
