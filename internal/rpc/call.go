// ABOUTME: Invoke and the four delivery strategies: fire-and-forget, direct or
// ABOUTME: broadcast, batched and custom-filter calls, plus request construction.

package rpc

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/2389/coven-rpc/internal/discovery"
	"github.com/2389/coven-rpc/internal/filter"
	"github.com/2389/coven-rpc/internal/transport"
)

// Delivery modes reported to the Recorder.
const (
	ModeFireAndForget = "fire_and_forget"
	ModeBroadcast     = "broadcast"
	ModeDirect        = "direct"
	ModeBatched       = "batched"
	ModeCustom        = "custom"
)

// CallResult is the outcome of a call. Fire-and-forget calls only set
// RequestID.
type CallResult struct {
	RequestID string
	Results   []*Result
	Stats     *Stats
}

type callOptions struct {
	handler    Handler
	batchSize  *int
	batchSleep *time.Duration
	noResults  bool
	discovery  discovery.Options
}

// CallOption adjusts a single call.
type CallOption func(*callOptions)

// WithHandler streams responses to h instead of collecting results.
func WithHandler(h Handler) CallOption { return func(o *callOptions) { o.handler = h } }

// BatchSize overrides the client's batch size for this call; zero disables
// batching.
func BatchSize(n int) CallOption { return func(o *callOptions) { o.batchSize = &n } }

// BatchSleep overrides the pause between batches for this call.
func BatchSleep(d time.Duration) CallOption { return func(o *callOptions) { o.batchSleep = &d } }

// NoResults publishes the request without waiting for replies.
func NoResults() CallOption { return func(o *callOptions) { o.noResults = true } }

// Nodes supplies the target list instead of discovering it. An empty list
// is an error, not a broadcast.
func Nodes(hosts ...string) CallOption {
	if hosts == nil {
		hosts = []string{}
	}
	return func(o *callOptions) { o.discovery.Nodes = hosts }
}

// DiscoveryJSON supplies targets from a previous call's JSON output.
func DiscoveryJSON(data []byte) CallOption {
	return func(o *callOptions) { o.discovery.JSON = data }
}

// Verbose prints discovery progress.
func Verbose() CallOption { return func(o *callOptions) { o.discovery.Verbose = true } }

func (c *Client) callOptions(opts []CallOption) *callOptions {
	co := &callOptions{}
	for _, opt := range opts {
		opt(co)
	}
	return co
}

// Invoke calls action with args on the nodes matching the client's filter.
// A target limit takes precedence over batching, which takes precedence
// over a plain call. In handler mode the returned error joins any
// StatusError values; the CallResult is still returned alongside it.
func (c *Client) Invoke(ctx context.Context, action string, args map[string]any, opts ...CallOption) (*CallResult, error) {
	co := c.callOptions(opts)
	c.stats.Reset()
	c.setPhase(PhaseIdle)

	if err := c.validate(action, args); err != nil {
		return nil, err
	}

	batchSize := c.batchSize
	if co.batchSize != nil {
		batchSize = *co.batchSize
	}
	batchSleep := c.batchSleep
	if co.batchSleep != nil {
		batchSleep = *co.batchSleep
	}

	switch {
	case !c.limit.IsZero():
		c.setPhase(PhaseDiscovering)
		discovered, err := c.discoverer.Discover(ctx, c.filter, co.discovery)
		if err != nil {
			return nil, c.fail(action, ModeCustom, err)
		}
		targets := discovery.PickNodes(discovered, c.limit, c.limitMethod, c.rng)
		c.logger.Debug("picked limited targets", "targets", targets, "limit", c.limit.String())
		return c.customRequest(ctx, action, args, targets, &filter.Filter{Identity: []string{filter.IdentityAlternation(targets)}}, co)
	case batchSize > 0:
		return c.callAgentBatched(ctx, action, args, batchSize, batchSleep, co)
	default:
		return c.callAgent(ctx, action, args, nil, c.filter, "", co)
	}
}

// CallAgent calls action on targets, or on discovered nodes when targets is
// nil. Supplied targets are addressed directly when direct addressing is on.
func (c *Client) CallAgent(ctx context.Context, action string, args map[string]any, targets []string, opts ...CallOption) (*CallResult, error) {
	c.stats.Reset()
	if err := c.validate(action, args); err != nil {
		return nil, err
	}
	return c.callAgent(ctx, action, args, targets, c.filter, "", c.callOptions(opts))
}

// CallAgentBatched calls action on the discovered nodes batchSize at a time,
// sleeping between batches.
func (c *Client) CallAgentBatched(ctx context.Context, action string, args map[string]any, batchSize int, sleep time.Duration, opts ...CallOption) (*CallResult, error) {
	c.stats.Reset()
	if err := c.validate(action, args); err != nil {
		return nil, err
	}
	return c.callAgentBatched(ctx, action, args, batchSize, sleep, c.callOptions(opts))
}

// CustomRequest calls action on the expected nodes using f merged into an
// empty filter. Stats treat expected as the discovered set. An empty f is
// only allowed with direct addressing.
func (c *Client) CustomRequest(ctx context.Context, action string, args map[string]any, expected []string, f *filter.Filter, opts ...CallOption) (*CallResult, error) {
	if err := c.validate(action, args); err != nil {
		return nil, err
	}
	c.stats.Reset()
	return c.customRequest(ctx, action, args, expected, f, c.callOptions(opts))
}

func (c *Client) customRequest(ctx context.Context, action string, args map[string]any, expected []string, f *filter.Filter, co *callOptions) (*CallResult, error) {
	if f.Empty() && !c.directAddressing {
		return nil, c.fail(action, ModeCustom, ErrFilterlessBroadcastForbidden)
	}

	custom := f.Clone()
	custom.AddAgent(c.agent)
	c.stats.DiscoveredAgents(expected)
	if co.noResults || c.replyTo != "" {
		return c.fireAndForget(ctx, action, args, custom)
	}
	if expected == nil {
		expected = []string{}
	}
	return c.callAgent(ctx, action, args, expected, custom, ModeCustom, co)
}

func (c *Client) fireAndForget(ctx context.Context, action string, args map[string]any, f *filter.Filter) (*CallResult, error) {
	data := maps.Clone(args)
	if data == nil {
		data = map[string]any{}
	}
	data[transport.DataProcessResults] = false

	req, err := c.NewRequest(action, data)
	if err != nil {
		return nil, c.fail(action, ModeFireAndForget, err)
	}

	c.setPhase(PhaseDispatching)
	msg := c.message(req, f, nil, false, action)
	id, err := c.transport.Send(ctx, msg)
	if err != nil {
		return nil, c.fail(action, ModeFireAndForget, fmt.Errorf("publishing %s#%s: %w", c.agent, action, err))
	}

	c.stats.RequestID = id
	c.finish(action, ModeFireAndForget, nil)
	c.logger.Debug("published fire-and-forget request", "request_id", id, "action", action)
	return &CallResult{RequestID: id}, nil
}

// callAgent runs a broadcast or direct call; an empty mode is derived from
// the framing.
func (c *Client) callAgent(ctx context.Context, action string, args map[string]any, targets []string, f *filter.Filter, mode string, co *callOptions) (*CallResult, error) {
	if co.noResults || c.replyTo != "" {
		return c.fireAndForget(ctx, action, args, f)
	}
	data := maps.Clone(args)
	if data == nil {
		data = map[string]any{}
	}
	data[transport.DataProcessResults] = true

	var discovered []string
	var direct bool
	if targets == nil {
		c.setPhase(PhaseDiscovering)
		var err error
		if discovered, err = c.discoverer.Discover(ctx, f, co.discovery); err != nil {
			return nil, c.fail(action, modeOr(mode, ModeBroadcast), err)
		}
		direct = c.discoverer.Direct()
	} else {
		discovered = targets
		direct = c.directAddressing
		c.stats.DiscoveredAgents(targets)
	}
	if mode == "" {
		mode = ModeBroadcast
		if direct {
			mode = ModeDirect
		}
	}

	req, err := c.NewRequest(action, data)
	if err != nil {
		return nil, c.fail(action, mode, err)
	}

	c.setPhase(PhaseDispatching)
	result := &CallResult{}
	if len(discovered) == 0 {
		fmt.Fprint(c.errOut, "\nNo request sent, we did not discover any nodes.")
		result.Stats = c.finish(action, mode, nil)
		return result, nil
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	col := c.newCollector(action, co.handler, len(discovered), cancel)

	msg := c.message(req, f, discovered, direct, action)
	c.setPhase(PhaseCollecting)
	cs, err := c.transport.Request(ctx, msg, col.onResponse)
	c.stats.AddCallStats(cs, 0)
	if c.progress && co.handler == nil {
		fmt.Fprint(c.out, "\n\n")
	}

	result.RequestID = msg.RequestID
	result.Results = col.results
	err = col.err(err)
	result.Stats = c.finish(action, mode, err)
	return result, err
}

func (c *Client) callAgentBatched(ctx context.Context, action string, args map[string]any, batchSize int, sleep time.Duration, co *callOptions) (*CallResult, error) {
	if !c.directAddressing {
		return nil, c.fail(action, ModeBatched, ErrDirectAddressingRequired)
	}
	if co.noResults {
		return nil, c.fail(action, ModeBatched, ErrResultProcessingRequired)
	}
	if batchSize <= 0 {
		return nil, c.fail(action, ModeBatched, ErrInvalidBatchSize)
	}

	data := maps.Clone(args)
	if data == nil {
		data = map[string]any{}
	}
	data[transport.DataProcessResults] = true

	c.setPhase(PhaseDiscovering)
	discovered, err := c.discoverer.Discover(ctx, c.filter, co.discovery)
	if err != nil {
		return nil, c.fail(action, ModeBatched, err)
	}

	c.setPhase(PhaseDispatching)
	result := &CallResult{}
	if len(discovered) == 0 {
		fmt.Fprint(c.errOut, "\nNo request sent, we did not discover any nodes.")
		result.Stats = c.finish(action, ModeBatched, nil)
		return result, nil
	}

	req, err := c.NewRequest(action, data)
	if err != nil {
		return nil, c.fail(action, ModeBatched, err)
	}

	c.logger.Debug("calling in batches", "action", action, "batch_size", batchSize, "sleep", sleep)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	col := c.newCollector(action, co.handler, len(discovered), cancel)

	var callErr error
	for start := 0; start < len(discovered); start += batchSize {
		end := min(start+batchSize, len(discovered))
		last := end == len(discovered)

		msg := c.message(req, c.filter, discovered[start:end], true, action)
		c.setPhase(PhaseCollecting)
		cs, err := c.transport.Request(ctx, msg, col.onResponse)
		result.RequestID = msg.RequestID
		if err != nil || col.handlerErr != nil {
			c.stats.AddCallStats(cs, 0)
			callErr = err
			break
		}

		var slept time.Duration
		if !last {
			c.setPhase(PhaseDispatching)
			if err := c.sleep(ctx, sleep); err != nil {
				c.stats.AddCallStats(cs, 0)
				callErr = err
				break
			}
			slept = sleep
		}
		c.stats.AddCallStats(cs, slept)
	}

	if c.progress && co.handler == nil {
		fmt.Fprint(c.out, "\n")
	}

	result.Results = col.results
	callErr = col.err(callErr)
	result.Stats = c.finish(action, ModeBatched, callErr)
	return result, callErr
}

// NewRequest builds the request body stamped with the caller identity.
func (c *Client) NewRequest(action string, data map[string]any) (*transport.Request, error) {
	caller := c.security.CallerID()
	if !c.security.ValidCallerID(caller) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCallerID, caller)
	}
	return &transport.Request{
		Agent:  c.agent,
		Action: action,
		Caller: caller,
		Data:   data,
	}, nil
}

func (c *Client) message(req *transport.Request, f *filter.Filter, hosts []string, direct bool, action string) *transport.Message {
	msg := &transport.Message{
		RequestID:       transport.NewRequestID(),
		Agent:           c.agent,
		Collective:      c.collective,
		Type:            transport.TypeRequest,
		Filter:          f,
		DiscoveredHosts: append([]string(nil), hosts...),
		ReplyTo:         c.replyTo,
		TTL:             c.ttl,
		Timeout:         c.timeoutFor(action),
		Body:            req,
	}
	if direct {
		msg.Type = transport.TypeDirectRequest
	}
	return msg
}

func (c *Client) newCollector(action string, h Handler, total int, cancel context.CancelFunc) *collector {
	col := &collector{
		agent:   c.agent,
		action:  action,
		stats:   c.stats,
		handler: h,
		cancel:  cancel,
		out:     c.out,
		total:   total,
	}
	if c.progress && h == nil {
		col.progress = NewProgress(60)
		fmt.Fprintln(c.out)
		fmt.Fprint(c.out, col.progress.Twirl(0, total))
	}
	return col
}

// err merges the transport error with handler and status errors. A handler
// failure takes precedence over the cancellation it caused.
func (col *collector) err(transportErr error) error {
	if col.handlerErr != nil {
		return errors.Join(append([]error{col.handlerErr}, col.statusErrs...)...)
	}
	errs := col.statusErrs
	if transportErr != nil {
		errs = append([]error{fmt.Errorf("collecting responses: %w", transportErr)}, errs...)
	}
	return errors.Join(errs...)
}

func (c *Client) validate(action string, args map[string]any) error {
	if c.metadata == nil {
		return nil
	}
	if err := c.metadata.ValidateRequest(action, args); err != nil {
		return fmt.Errorf("%s#%s: %w", c.agent, action, err)
	}
	return nil
}

// finish closes out the call's stats exactly once and notifies observers.
func (c *Client) finish(action, mode string, err error) *Stats {
	c.stats.Finish()
	c.setPhase(PhaseFinished)
	snap := c.stats.Snapshot()
	for _, fn := range c.statsHooks {
		fn(snap)
	}
	if c.recorder != nil {
		c.recorder.ObserveCall(c.agent, action, mode, snap, err)
	}
	return snap
}

// fail reports a call that ended before dispatch.
func (c *Client) fail(action, mode string, err error) error {
	c.setPhase(PhaseFinished)
	if c.recorder != nil {
		c.recorder.ObserveCall(c.agent, action, mode, c.stats.Snapshot(), err)
	}
	return err
}

func modeOr(mode, fallback string) string {
	if mode == "" {
		return fallback
	}
	return mode
}
