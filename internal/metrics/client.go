// ABOUTME: Client side call metrics implementing the rpc Recorder hook
// ABOUTME: Counts calls by outcome and observes timings and response counts

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/coven-rpc/internal/rpc"
)

// Namespace prefixes every metric name.
const Namespace = "coven_rpc"

// Call outcomes used as the result label.
const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultError   = "error"
	ResultNoReply = "incomplete"
)

// ClientCollector records finished calls. It satisfies rpc.Recorder.
type ClientCollector struct {
	calls       *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	discovery   *prometheus.HistogramVec
	responses   *prometheus.CounterVec
	noResponses *prometheus.CounterVec
}

// NewClientCollector creates the client collectors and registers them with reg.
func NewClientCollector(reg prometheus.Registerer) *ClientCollector {
	c := &ClientCollector{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "calls_total",
				Help:      "Total number of RPC calls by outcome",
			},
			[]string{"agent", "action", "mode", "result"},
		),
		duration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "call_duration_seconds",
				Help:      "Total call duration in seconds",
				Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"agent", "action"},
		),
		discovery: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Name:      "discovery_duration_seconds",
				Help:      "Time spent in broadcast discovery per call",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"agent"},
		),
		responses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "responses_total",
				Help:      "Responses received by status",
			},
			[]string{"agent", "status"},
		),
		noResponses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Name:      "no_responses_total",
				Help:      "Discovered nodes that did not respond",
			},
			[]string{"agent"},
		),
	}

	reg.MustRegister(c.calls, c.duration, c.discovery, c.responses, c.noResponses)
	return c
}

// ObserveCall records one finished call.
func (c *ClientCollector) ObserveCall(agent, action, mode string, stats *rpc.Stats, err error) {
	c.calls.WithLabelValues(agent, action, mode, callResult(stats, err)).Inc()
	if stats == nil {
		return
	}

	c.duration.WithLabelValues(agent, action).Observe(stats.TotalTime.Seconds())
	if stats.DiscoveryTime > 0 {
		c.discovery.WithLabelValues(agent).Observe(stats.DiscoveryTime.Seconds())
	}
	c.responses.WithLabelValues(agent, "ok").Add(float64(stats.OKCount))
	c.responses.WithLabelValues(agent, "failed").Add(float64(stats.FailCount))
	c.noResponses.WithLabelValues(agent).Add(float64(len(stats.NoResponseFrom)))
}

func callResult(stats *rpc.Stats, err error) string {
	switch {
	case err != nil:
		return ResultError
	case stats == nil:
		return ResultOK
	case len(stats.NoResponseFrom) > 0:
		return ResultNoReply
	case stats.FailCount > 0:
		return ResultFailed
	default:
		return ResultOK
	}
}

var _ rpc.Recorder = (*ClientCollector)(nil)
