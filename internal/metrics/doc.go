// Package metrics holds the Prometheus collectors for client calls and
// broker traffic.
//
// Collectors register with an explicit prometheus.Registerer so the broker
// can serve its own registry on /metrics and tests can start from an empty
// one.
package metrics
