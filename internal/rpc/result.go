// ABOUTME: Normalized per-node results and response handlers.
// ABOUTME: collector turns transport responses into results, stats and status errors.

package rpc

import (
	"context"
	"fmt"
	"io"

	"github.com/2389/coven-rpc/internal/transport"
)

// Result is one node's normalized reply.
type Result struct {
	Agent      string               `json:"agent"`
	Action     string               `json:"action"`
	Sender     string               `json:"sender"`
	StatusCode transport.StatusCode `json:"statuscode"`
	StatusMsg  string               `json:"statusmsg"`
	Data       map[string]any       `json:"data"`
}

// OK reports whether the action succeeded.
func (r *Result) OK() bool { return r.StatusCode == transport.OK }

// Handler receives each response with status 0 or 1, raw and normalized. A
// returned error stops the call.
type Handler func(raw *transport.Response, result *Result) error

// RawHandler adapts a callback that only wants the raw response.
func RawHandler(fn func(raw *transport.Response) error) Handler {
	return func(raw *transport.Response, _ *Result) error { return fn(raw) }
}

func newResult(agent, action string, resp *transport.Response) *Result {
	r := &Result{
		Agent:      agent,
		Action:     action,
		Sender:     resp.Sender,
		StatusCode: resp.StatusCode,
		StatusMsg:  resp.StatusMsg,
	}
	if resp.StatusCode == transport.OK || resp.StatusCode == transport.ApplicationFailure {
		r.Data = resp.Data
	}
	return r
}

// collector consumes the responses of one call, possibly across batches.
type collector struct {
	agent    string
	action   string
	stats    *Stats
	handler  Handler
	cancel   context.CancelFunc
	progress *Progress
	out      io.Writer
	total    int

	count      int
	results    []*Result
	statusErrs []error
	handlerErr error
}

func (col *collector) onResponse(resp *transport.Response) {
	col.count++
	col.stats.NodeResponded(resp.Sender)
	if resp.StatusCode == transport.OK {
		col.stats.RecordOK()
	} else {
		col.stats.RecordFail()
	}

	if col.handler == nil {
		if col.progress != nil {
			fmt.Fprint(col.out, col.progress.Twirl(col.count, col.total))
		}
		col.results = append(col.results, newResult(col.agent, col.action, resp))
		return
	}

	if col.handlerErr != nil {
		return
	}

	switch resp.StatusCode {
	case transport.OK, transport.ApplicationFailure:
		col.stats.startHandler()
		err := col.handler(resp, newResult(col.agent, col.action, resp))
		col.stats.endHandler()
		if err != nil {
			col.handlerErr = fmt.Errorf("handling response from %s: %w", resp.Sender, err)
			col.cancel()
		}
	default:
		col.statusErrs = append(col.statusErrs, &StatusError{
			Sender:  resp.Sender,
			Code:    resp.StatusCode,
			Message: resp.StatusMsg,
		})
	}
}
