// ABOUTME: Command line parsing for coven-rpc
// ABOUTME: Filters, delivery knobs and the agent, action and key=value arguments

package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/2389/coven-rpc/internal/config"
)

const usage = `Usage: coven-rpc [flags] <agent> <action> [key=value ...]

Calls an action on every node matching the filters and prints the replies.
JSON discovery data (for example the -json output of a previous call) can be
piped on stdin to address exactly those nodes.

Flags:
`

// listFlag collects repeated string flags.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

// options is the parsed command line.
type options struct {
	configPath string

	identities listFlag
	facts      listFlag
	classes    listFlag
	agents     listFlag
	compounds  listFlag

	limit            string
	limitMethod      string
	batch            int
	batchSleep       time.Duration
	discoveryTimeout time.Duration
	timeout          time.Duration
	noResults        bool
	json             bool
	verbose          bool
	nodesFile        string
	discoveryMethod  string
	discoveryOpts    listFlag

	agent  string
	action string
	params []string

	set map[string]bool
}

// errUsage reports a command line that names no agent or action.
var errUsage = errors.New("an agent and an action are required")

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{set: map[string]bool{}}

	fs := flag.NewFlagSet("coven-rpc", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprint(stderr, usage)
		fs.PrintDefaults()
	}

	fs.StringVar(&o.configPath, "config", "", "config file (default $COVEN_RPC_CONFIG or ~/.config/coven/rpc.yaml)")
	fs.Var(&o.identities, "I", "identity filter, literal or /regex/ (repeatable)")
	fs.Var(&o.facts, "F", "fact filter such as country=de or memory>=4 (repeatable)")
	fs.Var(&o.classes, "C", "class filter, literal or /regex/ (repeatable)")
	fs.Var(&o.agents, "A", "agent filter (repeatable)")
	fs.Var(&o.compounds, "S", "compound filter expression (repeatable)")
	fs.StringVar(&o.limit, "limit", "", "only call this many nodes, a count or a percentage")
	fs.StringVar(&o.limitMethod, "limit-method", "", "how -limit picks nodes: first or random")
	fs.IntVar(&o.batch, "batch", 0, "call nodes in batches of this size")
	fs.DurationVar(&o.batchSleep, "batch-sleep", 0, "sleep between batches")
	fs.DurationVar(&o.discoveryTimeout, "dt", 0, "discovery timeout")
	fs.DurationVar(&o.timeout, "t", 0, "response timeout")
	fs.BoolVar(&o.noResults, "nr", false, "do not wait for results")
	fs.BoolVar(&o.json, "json", false, "print results as JSON")
	fs.BoolVar(&o.verbose, "v", false, "verbose output")
	fs.StringVar(&o.nodesFile, "nodes", "", "file of identities to call, one per line")
	fs.StringVar(&o.discoveryMethod, "dm", "", "discovery method: broker, flatfile or inventory")
	fs.Var(&o.discoveryOpts, "do", "discovery method option (repeatable)")
	fs.StringVar(&o.agent, "agent", "", "agent to call")
	fs.StringVar(&o.action, "action", "", "action to call")
	var argFlags listFlag
	fs.Var(&argFlags, "arg", "action argument as key=value (repeatable)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	fs.Visit(func(f *flag.Flag) { o.set[f.Name] = true })

	rest := fs.Args()
	if o.agent == "" && len(rest) > 0 {
		o.agent, rest = rest[0], rest[1:]
	}
	if o.action == "" && len(rest) > 0 {
		o.action, rest = rest[0], rest[1:]
	}
	if o.agent == "" || o.action == "" {
		fs.Usage()
		return nil, errUsage
	}

	o.params = append([]string(argFlags), rest...)
	for _, p := range o.params {
		if !strings.Contains(p, "=") {
			return nil, fmt.Errorf("could not parse %q as an argument, expected key=value", p)
		}
	}
	return o, nil
}

// apply overrides the client section with the flags that were given.
func (o *options) apply(cfg *config.Config) {
	c := &cfg.Client
	if o.set["limit"] {
		c.LimitTargets = o.limit
	}
	if o.set["limit-method"] {
		c.LimitMethod = o.limitMethod
	}
	if o.set["batch"] {
		c.BatchSize = o.batch
	}
	if o.set["batch-sleep"] {
		c.BatchSleep = o.batchSleep
	}
	if o.set["dt"] {
		c.DiscoveryTimeout = o.discoveryTimeout
	}
	if o.set["t"] {
		c.Timeout = o.timeout
	}
	if o.set["json"] && o.json {
		c.OutputFormat = "json"
	}
	if o.set["dm"] {
		c.DiscoveryMethod = o.discoveryMethod
	}
	if len(o.discoveryOpts) > 0 {
		c.DiscoveryOptions = append([]string(nil), o.discoveryOpts...)
	}
	if c.OutputFormat == "json" {
		c.Progress = false
	}
}
