// ABOUTME: Broker traffic metrics: connected nodes, published requests and replies
// ABOUTME: Registered against the broker's own registry

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// BrokerCollector tracks broker activity.
type BrokerCollector struct {
	connected *prometheus.GaugeVec
	requests  *prometheus.CounterVec
	targets   prometheus.Histogram
	replies   *prometheus.CounterVec
	rejected  *prometheus.CounterVec
}

// NewBrokerCollector creates the broker collectors and registers them with reg.
func NewBrokerCollector(reg prometheus.Registerer) *BrokerCollector {
	c := &BrokerCollector{
		connected: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "connected_nodes",
				Help:      "Number of agents connected to the broker",
			},
			[]string{"collective"},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "requests_total",
				Help:      "Requests published through the broker",
			},
			[]string{"agent", "type"},
		),
		targets: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "request_targets",
				Help:      "Number of nodes each request was delivered to",
				Buckets:   prometheus.ExponentialBuckets(1, 4, 7),
			},
		),
		replies: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "replies_total",
				Help:      "Replies relayed back to callers",
			},
			[]string{"agent"},
		),
		rejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: Namespace,
				Subsystem: "broker",
				Name:      "rejected_total",
				Help:      "Publishing calls refused by authorization",
			},
			[]string{"reason"},
		),
	}

	reg.MustRegister(c.connected, c.requests, c.targets, c.replies, c.rejected)
	return c
}

// NodeConnected increments the connected gauge.
func (c *BrokerCollector) NodeConnected(collective string) {
	c.connected.WithLabelValues(collective).Inc()
}

// NodeDisconnected decrements the connected gauge.
func (c *BrokerCollector) NodeDisconnected(collective string) {
	c.connected.WithLabelValues(collective).Dec()
}

// RequestPublished records a request delivered to targets nodes.
func (c *BrokerCollector) RequestPublished(agent, msgType string, targets int) {
	c.requests.WithLabelValues(agent, msgType).Inc()
	c.targets.Observe(float64(targets))
}

// ReplyRelayed counts a reply sent back to a caller.
func (c *BrokerCollector) ReplyRelayed(agent string) {
	c.replies.WithLabelValues(agent).Inc()
}

// Rejected counts a refused publishing call.
func (c *BrokerCollector) Rejected(reason string) {
	c.rejected.WithLabelValues(reason).Inc()
}
