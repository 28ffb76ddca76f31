// ABOUTME: Discoverer resolves and memoizes a client's target set.
// ABOUTME: Handles static hosts, literal identity filters and broadcast queries.

package discovery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/2389/coven-rpc/internal/cache"
	"github.com/2389/coven-rpc/internal/filter"
)

// CacheNamespace holds broadcast discovery results shared across calls.
const CacheNamespace = "discovery"

var (
	// ErrDirectAddressingDisabled is returned when static hosts are supplied
	// but direct addressing is off.
	ErrDirectAddressingDisabled = errors.New("can only supply discovery data if direct addressing is enabled")
	// ErrEmptyDiscoveryData is returned when static discovery data names no hosts.
	ErrEmptyDiscoveryData = errors.New("could not find any hosts in discovery data provided")
)

// Source performs a broadcast discovery query. limit is a hint; zero means
// no hint.
type Source interface {
	Discover(ctx context.Context, f *filter.Filter, timeout time.Duration, limit int) ([]string, error)
}

// SourceFunc adapts a function to Source.
type SourceFunc func(ctx context.Context, f *filter.Filter, timeout time.Duration, limit int) ([]string, error)

// Discover implements Source.
func (fn SourceFunc) Discover(ctx context.Context, f *filter.Filter, timeout time.Duration, limit int) ([]string, error) {
	return fn(ctx, f, timeout, limit)
}

// DataTimeouts reports how long remote evaluation of a data function may take.
type DataTimeouts interface {
	DataTimeout(name string) time.Duration
}

// Recorder receives discovery timing and results, normally the call stats.
type Recorder interface {
	StartDiscovery()
	EndDiscovery()
	DiscoveredAgents(hosts []string)
}

// Options are the per-invocation discovery flags.
type Options struct {
	// Verbose prints progress when output goes to a console.
	Verbose bool
	// Nodes is a static host list. A non-nil empty list is an error.
	Nodes []string
	// JSON is discovery data from a previous call's JSON output.
	JSON []byte
}

// Discoverer resolves targets for one client. It is not safe for
// concurrent use; a client runs one call at a time.
type Discoverer struct {
	source   Source
	timeouts DataTimeouts
	recorder Recorder
	cache    *cache.Cache
	cacheTTL time.Duration
	logger   *slog.Logger
	out      io.Writer

	timeout          time.Duration
	directAddressing bool
	console          bool
	limit            Limit
	method           LimitMethod

	memo      []string
	resolved  bool
	direct    bool
	listeners []func([]string)
}

// Option configures a Discoverer.
type Option func(*Discoverer)

// WithDataTimeouts supplies data function evaluation allowances.
func WithDataTimeouts(t DataTimeouts) Option { return func(d *Discoverer) { d.timeouts = t } }

// WithRecorder sets where discovery timing and results are recorded.
func WithRecorder(r Recorder) Option { return func(d *Discoverer) { d.recorder = r } }

// WithCache memoizes broadcast results across clients for ttl.
func WithCache(c *cache.Cache, ttl time.Duration) Option {
	return func(d *Discoverer) {
		d.cache = c
		d.cacheTTL = ttl
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(d *Discoverer) { d.logger = l } }

// WithOutput sets where verbose progress is written. Defaults to stderr.
func WithOutput(w io.Writer) Option { return func(d *Discoverer) { d.out = w } }

// New creates a Discoverer that queries source for broadcast discovery.
func New(source Source, opts ...Option) *Discoverer {
	d := &Discoverer{
		source:  source,
		logger:  slog.Default(),
		out:     os.Stderr,
		timeout: 2 * time.Second,
		method:  LimitFirst,
		console: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = d.logger.With("component", "discovery")
	if d.cache != nil && d.cacheTTL > 0 {
		d.cache.Setup(CacheNamespace, d.cacheTTL)
	}
	return d
}

// SetTimeout sets the base broadcast discovery timeout.
func (d *Discoverer) SetTimeout(t time.Duration) { d.timeout = t }

// Timeout returns the base broadcast discovery timeout.
func (d *Discoverer) Timeout() time.Duration { return d.timeout }

// SetDirectAddressing enables or disables direct addressing.
func (d *Discoverer) SetDirectAddressing(on bool) { d.directAddressing = on }

// SetConsole records whether output goes to a console; verbose progress is
// only printed there.
func (d *Discoverer) SetConsole(on bool) { d.console = on }

// SetLimit configures the limit used to compute the broadcast hint.
func (d *Discoverer) SetLimit(l Limit, m LimitMethod) {
	d.limit = l
	d.method = m
}

// OnDiscovered registers fn to receive every resolved set.
func (d *Discoverer) OnDiscovered(fn func(hosts []string)) {
	d.listeners = append(d.listeners, fn)
}

// Direct reports whether the last resolution requires direct addressing.
func (d *Discoverer) Direct() bool { return d.direct }

// Reset forgets the memoized set.
func (d *Discoverer) Reset() {
	d.memo = nil
	d.resolved = false
	d.direct = false
}

// Discover resolves the target set for f.
func (d *Discoverer) Discover(ctx context.Context, f *filter.Filter, opts Options) ([]string, error) {
	static := opts.Nodes != nil || opts.JSON != nil
	if static {
		d.Reset()
	}

	if !d.resolved {
		hosts, err := d.resolve(ctx, f, opts, static)
		if err != nil {
			return nil, err
		}
		d.memo = hosts
		d.resolved = true
	}

	if d.recorder != nil {
		d.recorder.DiscoveredAgents(d.memo)
	}
	for _, fn := range d.listeners {
		fn(d.memo)
	}
	return d.memo, nil
}

func (d *Discoverer) resolve(ctx context.Context, f *filter.Filter, opts Options, static bool) ([]string, error) {
	if static {
		if !d.directAddressing {
			return nil, ErrDirectAddressingDisabled
		}
		var hosts []string
		if opts.JSON != nil {
			var err error
			if hosts, err = ExtractHostsFromJSON(opts.JSON); err != nil {
				return nil, err
			}
		} else {
			hosts = ExtractHostsFromList(opts.Nodes)
		}
		if len(hosts) == 0 {
			return nil, ErrEmptyDiscoveryData
		}
		d.direct = true
		d.logger.Debug("using static discovery data", "hosts", len(hosts))
		return hosts, nil
	}

	if f != nil && len(f.Identity) > 0 && f.IdentityRegexCount() == 0 {
		d.direct = d.directAddressing
		d.logger.Debug("using literal identity filter as discovery result", "hosts", len(f.Identity))
		return append([]string(nil), f.Identity...), nil
	}

	d.direct = false
	return d.broadcast(ctx, f, opts.Verbose)
}

func (d *Discoverer) broadcast(ctx context.Context, f *filter.Filter, verbose bool) ([]string, error) {
	if d.source == nil {
		return nil, errors.New("no discovery source configured")
	}

	timeout := d.timeout + d.compoundAllowance(f)
	hint := 0
	if d.method == LimitFirst && !d.limit.Percent {
		hint = d.limit.Count
	}

	key := f.Key() + "|" + strconv.Itoa(hint)
	if d.cache != nil && d.cacheTTL > 0 {
		if hosts, err := cache.Fetch[[]string](d.cache, CacheNamespace, key); err == nil {
			d.logger.Debug("discovery served from cache", "hosts", len(hosts))
			return hosts, nil
		}
	}

	if d.recorder != nil {
		d.recorder.StartDiscovery()
	}
	if verbose && d.console {
		fmt.Fprintf(d.out, "Determining the amount of hosts matching filter for %d seconds .... ", int(timeout.Seconds()))
	}

	hosts, err := d.source.Discover(ctx, f, timeout, hint)

	if d.recorder != nil {
		d.recorder.EndDiscovery()
	}
	if err != nil {
		if verbose && d.console {
			fmt.Fprintln(d.out)
		}
		return nil, fmt.Errorf("discovery: %w", err)
	}
	if verbose && d.console {
		fmt.Fprintf(d.out, "%d\n", len(hosts))
	}

	d.logger.Debug("broadcast discovery complete", "filter", f.Key(), "timeout", timeout, "limit", hint, "hosts", len(hosts))
	if d.cache != nil && d.cacheTTL > 0 {
		_, _ = d.cache.Put(CacheNamespace, key, hosts)
	}
	return hosts, nil
}

// compoundAllowance sums the evaluation timeouts of every data function
// call in the compound filter.
func (d *Discoverer) compoundAllowance(f *filter.Filter) time.Duration {
	if d.timeouts == nil || f == nil {
		return 0
	}
	var total time.Duration
	for _, name := range f.Functions() {
		total += d.timeouts.DataTimeout(name)
	}
	return total
}
