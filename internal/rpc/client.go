// ABOUTME: Client construction, settings and filter management for one agent.
// ABOUTME: Owns the call's filter, discovery memo and stats; shares only the named cache.

package rpc

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/2389/coven-rpc/internal/auth"
	"github.com/2389/coven-rpc/internal/cache"
	"github.com/2389/coven-rpc/internal/discovery"
	"github.com/2389/coven-rpc/internal/filter"
	"github.com/2389/coven-rpc/internal/transport"
)

// DefaultTimeout is the response timeout when neither settings nor metadata
// provide one.
const DefaultTimeout = 5 * time.Second

// Security supplies and validates the caller identity stamped on requests.
type Security interface {
	CallerID() string
	ValidCallerID(id string) bool
}

// Metadata validates requests and supplies per-action timeouts.
type Metadata interface {
	ValidateRequest(action string, args map[string]any) error
	DefaultTimeout(action string) time.Duration
}

// Recorder observes finished calls, typically for metrics.
type Recorder interface {
	ObserveCall(agent, action, mode string, stats *Stats, err error)
}

// Settings are the resolved configuration knobs for a client.
type Settings struct {
	Collective       string
	DiscoveryTimeout time.Duration
	// Timeout is the response timeout; zero derives it from metadata.
	Timeout          time.Duration
	TTL              time.Duration
	DirectAddressing bool
	BatchSize        int
	BatchSleep       time.Duration
	LimitTargets     string
	LimitMethod      string
	ReplyTo          string
	Progress         bool
	// Console is true when output goes to a terminal rather than JSON.
	Console bool
}

// DefaultSettings returns the settings used when none are supplied.
func DefaultSettings() Settings {
	return Settings{
		Collective:       "coven",
		DiscoveryTimeout: 2 * time.Second,
		TTL:              60 * time.Second,
		DirectAddressing: true,
		BatchSleep:       time.Second,
		LimitMethod:      string(discovery.LimitFirst),
		Console:          true,
	}
}

// Client calls actions on one agent across the fleet.
type Client struct {
	agent      string
	transport  transport.Transport
	security   Security
	metadata   Metadata
	discoverer *discovery.Discoverer
	filter     *filter.Filter
	stats      *Stats
	logger     *slog.Logger
	out        io.Writer
	errOut     io.Writer
	recorder   Recorder
	rng        *rand.Rand
	sleep      func(ctx context.Context, d time.Duration) error
	statsHooks []func(*Stats)
	phase      atomic.Int32

	// construction-only inputs
	settings  Settings
	source    discovery.Source
	discOpts  []discovery.Option
	now       func() time.Time

	collective       string
	timeout          time.Duration
	ttl              time.Duration
	directAddressing bool
	batchSize        int
	batchSleep       time.Duration
	limit            discovery.Limit
	limitMethod      discovery.LimitMethod
	replyTo          string
	progress         bool
}

// Option configures a Client.
type Option func(*Client)

// WithSettings applies resolved configuration.
func WithSettings(s Settings) Option { return func(c *Client) { c.settings = s } }

// WithSecurity sets the caller identity provider.
func WithSecurity(s Security) Option { return func(c *Client) { c.security = s } }

// WithMetadata enables request validation and metadata timeouts.
func WithMetadata(m Metadata) Option { return func(c *Client) { c.metadata = m } }

// WithDiscoverySource replaces the transport as the broadcast discovery source.
func WithDiscoverySource(src discovery.Source) Option { return func(c *Client) { c.source = src } }

// WithDataTimeouts supplies data function allowances for compound filters.
func WithDataTimeouts(t discovery.DataTimeouts) Option {
	return func(c *Client) { c.discOpts = append(c.discOpts, discovery.WithDataTimeouts(t)) }
}

// WithCache shares broadcast discovery results through c for ttl.
func WithCache(store *cache.Cache, ttl time.Duration) Option {
	return func(c *Client) { c.discOpts = append(c.discOpts, discovery.WithCache(store, ttl)) }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(c *Client) { c.logger = l } }

// WithOutput sets where progress and notices are written.
func WithOutput(out, errOut io.Writer) Option {
	return func(c *Client) {
		c.out = out
		c.errOut = errOut
	}
}

// WithRecorder observes every finished call.
func WithRecorder(r Recorder) Option { return func(c *Client) { c.recorder = r } }

// WithRand sets the source used for random node selection.
func WithRand(r *rand.Rand) Option { return func(c *Client) { c.rng = r } }

// WithSleep replaces the sleep between batches.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithClock replaces time.Now for stats.
func WithClock(now func() time.Time) Option { return func(c *Client) { c.now = now } }

// New creates a client for agent that publishes through t.
func New(agent string, t transport.Transport, opts ...Option) (*Client, error) {
	if strings.TrimSpace(agent) == "" {
		return nil, errors.New("agent name is required")
	}

	c := &Client{
		agent:     agent,
		transport: t,
		security:  auth.NewUnixCaller(),
		settings:  DefaultSettings(),
		logger:    slog.Default(),
		out:       os.Stdout,
		errOut:    os.Stderr,
		sleep:     sleepContext,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "rpc", "agent", agent)
	c.stats = newStats(c.now)
	c.filter = c.baseFilter()

	if c.source == nil {
		c.source = t
	}
	c.discoverer = discovery.New(c.source, append([]discovery.Option{
		discovery.WithRecorder(c.stats),
		discovery.WithLogger(c.logger),
		discovery.WithOutput(c.errOut),
	}, c.discOpts...)...)

	if err := c.apply(c.settings); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Client) apply(s Settings) error {
	c.collective = s.Collective
	c.timeout = s.Timeout
	c.ttl = s.TTL
	c.directAddressing = s.DirectAddressing
	c.replyTo = s.ReplyTo
	c.progress = s.Progress
	c.discoverer.SetDirectAddressing(s.DirectAddressing)
	c.discoverer.SetConsole(s.Console)
	if s.DiscoveryTimeout > 0 {
		c.discoverer.SetTimeout(s.DiscoveryTimeout)
	}

	method := s.LimitMethod
	if method == "" {
		method = string(discovery.LimitFirst)
	}
	if err := c.SetLimitMethod(method); err != nil {
		return err
	}
	if err := c.SetLimitTargets(s.LimitTargets); err != nil {
		return err
	}
	if s.BatchSize != 0 {
		if err := c.SetBatchSize(s.BatchSize); err != nil {
			return err
		}
	}
	c.batchSleep = s.BatchSleep
	return nil
}

func (c *Client) baseFilter() *filter.Filter {
	f := &filter.Filter{}
	f.AddAgent(c.agent)
	return f
}

// Agent returns the agent name the client is bound to.
func (c *Client) Agent() string { return c.agent }

// Phase returns the lifecycle phase of the current or last call.
func (c *Client) Phase() Phase { return Phase(c.phase.Load()) }

func (c *Client) setPhase(p Phase) { c.phase.Store(int32(p)) }

// Stats returns a snapshot of the last call's stats.
func (c *Client) Stats() *Stats { return c.stats.Snapshot() }

// OnDiscovered registers fn to receive every discovered set.
func (c *Client) OnDiscovered(fn func(hosts []string)) { c.discoverer.OnDiscovered(fn) }

// OnStats registers fn to receive the final stats of every call.
func (c *Client) OnStats(fn func(*Stats)) { c.statsHooks = append(c.statsHooks, fn) }

// Filter returns a copy of the current filter.
func (c *Client) Filter() *filter.Filter { return c.filter.Clone() }

// SetFilter replaces the filter. The client's agent is always added.
func (c *Client) SetFilter(f *filter.Filter) {
	c.filter = f.Clone()
	c.filter.AddAgent(c.agent)
	c.Reset()
}

// IdentityFilter adds an identity entry and forces rediscovery.
func (c *Client) IdentityFilter(id string) error {
	if err := c.filter.AddIdentity(id); err != nil {
		return err
	}
	c.Reset()
	return nil
}

// FactFilter adds a fact comparison such as "os=linux".
func (c *Client) FactFilter(s string) error {
	if err := c.filter.AddFact(s); err != nil {
		return err
	}
	c.Reset()
	return nil
}

// ClassFilter adds a class entry.
func (c *Client) ClassFilter(class string) error {
	if err := c.filter.AddClass(class); err != nil {
		return err
	}
	c.Reset()
	return nil
}

// AgentFilter requires nodes to also advertise agent.
func (c *Client) AgentFilter(agent string) {
	c.filter.AddAgent(agent)
	c.Reset()
}

// CompoundFilter adds a compound expression.
func (c *Client) CompoundFilter(expr string) error {
	if err := c.filter.AddCompound(expr); err != nil {
		return err
	}
	c.Reset()
	return nil
}

// Reset forgets the discovered set so the next call discovers again.
func (c *Client) Reset() { c.discoverer.Reset() }

// ResetFilter restores the filter to only the client's agent.
func (c *Client) ResetFilter() {
	c.filter = c.baseFilter()
	c.Reset()
}

// SetLimitTargets limits calls to a count ("10") or share ("10%") of the
// discovered nodes. An empty string removes the limit.
func (c *Client) SetLimitTargets(s string) error {
	var l discovery.Limit
	if s != "" {
		var err error
		if l, err = discovery.ParseLimit(s); err != nil {
			return err
		}
	}
	c.limit = l
	c.discoverer.SetLimit(c.limit, c.limitMethod)
	return nil
}

// SetLimitMethod chooses "first" or "random" node selection.
func (c *Client) SetLimitMethod(s string) error {
	m, err := discovery.ParseLimitMethod(s)
	if err != nil {
		return err
	}
	c.limitMethod = m
	c.discoverer.SetLimit(c.limit, c.limitMethod)
	return nil
}

// SetBatchSize sets the default batch size; zero disables batching.
func (c *Client) SetBatchSize(n int) error {
	if !c.directAddressing {
		return ErrDirectAddressingRequired
	}
	if n < 0 {
		return ErrInvalidBatchSize
	}
	c.batchSize = n
	return nil
}

// SetBatchSleep sets the pause between batches.
func (c *Client) SetBatchSleep(d time.Duration) error {
	if !c.directAddressing {
		return ErrDirectAddressingRequired
	}
	c.batchSleep = d
	return nil
}

// SetDiscoveryTimeout sets the base broadcast discovery timeout.
func (c *Client) SetDiscoveryTimeout(d time.Duration) { c.discoverer.SetTimeout(d) }

// SetTimeout sets the response timeout; zero derives it from metadata.
func (c *Client) SetTimeout(d time.Duration) { c.timeout = d }

// SetProgress toggles the progress indicator.
func (c *Client) SetProgress(on bool) { c.progress = on }

// SetReplyTo sends replies elsewhere, which turns every call into
// fire-and-forget.
func (c *Client) SetReplyTo(dest string) { c.replyTo = dest }

// SetCollective sets the collective requests are published to.
func (c *Client) SetCollective(name string) { c.collective = name }

// Discover resolves the target set for the current filter.
func (c *Client) Discover(ctx context.Context, opts discovery.Options) ([]string, error) {
	return c.discoverer.Discover(ctx, c.filter, opts)
}

// timeoutFor returns the response timeout for action.
func (c *Client) timeoutFor(action string) time.Duration {
	if c.timeout > 0 {
		return c.timeout
	}
	if c.metadata != nil {
		if d := c.metadata.DefaultTimeout(action); d > 0 {
			return d + c.discoverer.Timeout()
		}
	}
	return DefaultTimeout
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
