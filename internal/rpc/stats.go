// ABOUTME: Per-call statistics: discovery, responders, outcomes and timings.
// ABOUTME: Finish closes out a call by computing total time and non-responders.

package rpc

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/2389/coven-rpc/internal/transport"
)

// Stats describes one call. The client owns the live value; callers get
// snapshots.
type Stats struct {
	RequestID       string
	Discovered      int
	DiscoveredNodes []string
	Responses       int
	ResponsesFrom   []string
	OKCount         int
	FailCount       int
	NoResponseFrom  []string
	StartTime       time.Time
	DiscoveryTime   time.Duration
	BlockTime       time.Duration
	HandlerTime     time.Duration
	TotalTime       time.Duration

	now            func() time.Time
	discoveryStart time.Time
	handlerStart   time.Time
	finished       bool
}

func newStats(now func() time.Time) *Stats {
	s := &Stats{now: now}
	s.Reset()
	return s
}

// Reset clears every counter and starts the clock.
func (s *Stats) Reset() {
	now := s.now
	*s = Stats{now: now, StartTime: now()}
}

// NodeResponded records a reply from identity.
func (s *Stats) NodeResponded(identity string) {
	s.ResponsesFrom = append(s.ResponsesFrom, identity)
}

// RecordOK counts a successful response.
func (s *Stats) RecordOK() { s.OKCount++ }

// RecordFail counts a failed response.
func (s *Stats) RecordFail() { s.FailCount++ }

// StartDiscovery marks the start of a broadcast discovery.
func (s *Stats) StartDiscovery() { s.discoveryStart = s.now() }

// EndDiscovery adds the time since StartDiscovery to DiscoveryTime.
func (s *Stats) EndDiscovery() {
	if !s.discoveryStart.IsZero() {
		s.DiscoveryTime += s.now().Sub(s.discoveryStart)
		s.discoveryStart = time.Time{}
	}
}

// DiscoveredAgents records the resolved target set.
func (s *Stats) DiscoveredAgents(hosts []string) {
	s.DiscoveredNodes = append([]string(nil), hosts...)
	s.Discovered = len(hosts)
}

func (s *Stats) startHandler() { s.handlerStart = s.now() }

func (s *Stats) endHandler() {
	s.HandlerTime += s.now().Sub(s.handlerStart)
}

// AddCallStats folds in what the transport measured for one published
// message. extra is added to BlockTime, used for batch sleeps.
func (s *Stats) AddCallStats(cs *transport.CallStats, extra time.Duration) {
	if cs != nil {
		s.RequestID = cs.RequestID
		s.Responses += cs.Responses
		s.NoResponseFrom = append(s.NoResponseFrom, cs.NoResponseFrom...)
		s.BlockTime += cs.BlockTime
	}
	s.BlockTime += extra
}

// Finish computes TotalTime and NoResponseFrom. Only the first call after a
// Reset has any effect.
func (s *Stats) Finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.TotalTime = s.BlockTime + s.DiscoveryTime
	s.NoResponseFrom = transport.Missing(s.DiscoveredNodes, s.ResponsesFrom)
}

// Finished reports whether Finish ran since the last Reset.
func (s *Stats) Finished() bool { return s.finished }

// Snapshot returns a copy that shares no slices with s.
func (s *Stats) Snapshot() *Stats {
	c := *s
	c.DiscoveredNodes = append([]string(nil), s.DiscoveredNodes...)
	c.ResponsesFrom = append([]string(nil), s.ResponsesFrom...)
	c.NoResponseFrom = append([]string(nil), s.NoResponseFrom...)
	return &c
}

// WriteSummary prints a human readable summary.
func (s *Stats) WriteSummary(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Finished processing %d / %d hosts in %.2f ms\n", len(s.ResponsesFrom), s.Discovered, float64(s.TotalTime.Microseconds())/1000)
	fmt.Fprintf(tw, "Nodes\t%d / %d\n", len(s.ResponsesFrom), s.Discovered)
	fmt.Fprintf(tw, "Pass / Fail\t%d / %d\n", s.OKCount, s.FailCount)
	fmt.Fprintf(tw, "Start Time\t%s\n", s.StartTime.Format(time.RFC3339))
	fmt.Fprintf(tw, "Discovery Time\t%.2fms\n", float64(s.DiscoveryTime.Microseconds())/1000)
	fmt.Fprintf(tw, "Agent Time\t%.2fms\n", float64(s.BlockTime.Microseconds())/1000)
	fmt.Fprintf(tw, "Total Time\t%.2fms\n", float64(s.TotalTime.Microseconds())/1000)
	if len(s.NoResponseFrom) > 0 {
		fmt.Fprintf(tw, "\nNo response from:\n")
		for _, h := range s.NoResponseFrom {
			fmt.Fprintf(tw, "\t%s\n", h)
		}
	}
	return tw.Flush()
}
