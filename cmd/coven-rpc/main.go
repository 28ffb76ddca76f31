// ABOUTME: Entry point for coven-rpc, the command line fleet RPC client
// ABOUTME: Discovers nodes through the broker and calls an agent action on them

package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/2389/coven-rpc/internal/auth"
	"github.com/2389/coven-rpc/internal/cache"
	"github.com/2389/coven-rpc/internal/config"
	"github.com/2389/coven-rpc/internal/ddl"
	"github.com/2389/coven-rpc/internal/discovery"
	"github.com/2389/coven-rpc/internal/metrics"
	"github.com/2389/coven-rpc/internal/rpc"
	"github.com/2389/coven-rpc/internal/store"
	"github.com/2389/coven-rpc/internal/transport"
)

// descriptorTTL is how long parsed DDL files stay cached.
const descriptorTTL = 5 * time.Minute

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code, err := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	cancel()
	if err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin *os.File, stdout, stderr io.Writer) (int, error) {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		return 1, err
	}

	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return 1, err
	}
	opts.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return 1, fmt.Errorf("validating options: %w", err)
	}

	logger := config.NewLogger(cfg.Logging, stderr)
	caches := cache.New(cache.WithLogger(logger))

	security, grpcOpts, err := callerIdentity(cfg, logger)
	if err != nil {
		return 1, err
	}
	tr, err := transport.DialGRPC(cfg.Broker.GRPCAddr, grpcOpts...)
	if err != nil {
		return 1, fmt.Errorf("connecting to broker %s: %w", cfg.Broker.GRPCAddr, err)
	}
	defer tr.Close()

	clientOpts := []rpc.Option{
		rpc.WithSettings(cfg.Settings()),
		rpc.WithSecurity(security),
		rpc.WithLogger(logger),
		rpc.WithOutput(stdout, stderr),
	}

	source, closeSource, err := discoverySource(cfg)
	if err != nil {
		return 1, err
	}
	defer closeSource()
	if source != nil {
		clientOpts = append(clientOpts, rpc.WithDiscoverySource(source))
	}

	var agentDDL *ddl.Agent
	if cfg.DDL.Path != "" {
		repo := ddl.NewRepository(cfg.DDL.Path, caches, descriptorTTL, logger)
		clientOpts = append(clientOpts, rpc.WithDataTimeouts(repo))
		agentDDL, err = repo.Agent(opts.agent)
		switch {
		case err == nil:
			clientOpts = append(clientOpts, rpc.WithMetadata(agentDDL))
		case errors.Is(err, ddl.ErrNotFound):
			logger.Debug("no descriptor for agent", "agent", opts.agent)
		default:
			return 1, err
		}
	}

	if cfg.Client.DiscoveryCacheTTL > 0 {
		clientOpts = append(clientOpts, rpc.WithCache(caches, cfg.Client.DiscoveryCacheTTL))
	}

	reg := prometheus.NewRegistry()
	if cfg.Metrics.Textfile != "" {
		clientOpts = append(clientOpts, rpc.WithRecorder(metrics.NewClientCollector(reg)))
	}

	client, err := rpc.New(opts.agent, tr, clientOpts...)
	if err != nil {
		return 1, err
	}
	if err := applyFilters(client, opts); err != nil {
		return 1, err
	}

	raw, err := ddl.SplitArgs(opts.params)
	if err != nil {
		return 1, err
	}
	callArgs, err := agentDDL.ConvertArgs(opts.action, raw)
	if err != nil {
		return 1, err
	}

	callOpts, err := callOptions(opts, stdin)
	if err != nil {
		return 1, err
	}

	res, callErr := client.Invoke(ctx, opts.action, callArgs, callOpts...)

	if cfg.Metrics.Textfile != "" {
		if err := prometheus.WriteToTextfile(cfg.Metrics.Textfile, reg); err != nil {
			logger.Warn("writing metrics textfile", "path", cfg.Metrics.Textfile, "error", err)
		}
	}

	if callErr != nil && res == nil {
		return 1, callErr
	}

	if opts.noResults {
		fmt.Fprintf(stdout, "Request sent with id: %s\n", res.RequestID)
		return 0, callErr
	}

	if cfg.Client.OutputFormat == "json" {
		if err := printJSON(stdout, res.Results); err != nil {
			return 1, err
		}
	} else {
		printResults(stdout, res.Results, opts.verbose)
		if res.Stats != nil {
			if err := res.Stats.WriteSummary(stdout); err != nil {
				return 1, err
			}
		}
	}
	if callErr != nil {
		return 1, callErr
	}
	return exitCode(res.Stats), nil
}

// loadConfig reads the -config file, which must exist, or the default
// location, which may be absent.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}
	cfg, err := config.LoadOrDefault(config.Path("COVEN_RPC_CONFIG", "rpc"))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfg, nil
}

// callerIdentity picks the caller stamped on requests. ssh callers also sign
// every broker call with their key.
func callerIdentity(cfg *config.Config, logger *slog.Logger) (rpc.Security, []transport.GRPCOption, error) {
	grpcOpts := []transport.GRPCOption{transport.WithTransportLogger(logger)}
	if cfg.Auth.Caller != "ssh" {
		return auth.NewUnixCaller(), grpcOpts, nil
	}

	signer, err := auth.LoadSSHSigner(cfg.Auth.SSHPrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("loading ssh key: %w", err)
	}
	return signer.Caller(), append(grpcOpts, transport.WithSigner(signer)), nil
}

// discoverySource returns the configured discovery backend. A nil source
// means discovery goes through the broker.
func discoverySource(cfg *config.Config) (discovery.Source, func(), error) {
	noop := func() {}
	switch cfg.Client.DiscoveryMethod {
	case config.DiscoveryFlatFile:
		src, err := discovery.NewFlatFileSource(cfg.Client.DiscoveryOptions)
		if err != nil {
			return nil, noop, err
		}
		return src, noop, nil
	case config.DiscoveryInventory:
		if cfg.Database.Path == "" {
			return nil, noop, errors.New("the inventory discovery method needs database.path")
		}
		db, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, noop, fmt.Errorf("opening inventory: %w", err)
		}
		return db, func() { _ = db.Close() }, nil
	default:
		return nil, noop, nil
	}
}

func applyFilters(client *rpc.Client, opts *options) error {
	for _, id := range opts.identities {
		if err := client.IdentityFilter(id); err != nil {
			return err
		}
	}
	for _, f := range opts.facts {
		if err := client.FactFilter(f); err != nil {
			return err
		}
	}
	for _, c := range opts.classes {
		if err := client.ClassFilter(c); err != nil {
			return err
		}
	}
	for _, a := range opts.agents {
		client.AgentFilter(a)
	}
	for _, s := range opts.compounds {
		if err := client.CompoundFilter(s); err != nil {
			return err
		}
	}
	return nil
}

func callOptions(opts *options, stdin *os.File) ([]rpc.CallOption, error) {
	var out []rpc.CallOption
	if opts.noResults {
		out = append(out, rpc.NoResults())
	}
	if opts.verbose {
		out = append(out, rpc.Verbose())
	}

	if opts.nodesFile != "" {
		data, err := os.ReadFile(opts.nodesFile)
		if err != nil {
			return nil, fmt.Errorf("reading nodes file: %w", err)
		}
		hosts := discovery.ExtractHostsFromList(strings.Split(string(data), "\n"))
		if len(hosts) == 0 {
			return nil, discovery.ErrEmptyDiscoveryData
		}
		return append(out, rpc.Nodes(hosts...)), nil
	}

	data, err := pipedInput(stdin)
	if err != nil {
		return nil, err
	}
	if data != nil {
		out = append(out, rpc.DiscoveryJSON(data))
	}
	return out, nil
}

// pipedInput reads stdin when it is a pipe or a redirected file.
func pipedInput(f *os.File) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	fi, err := f.Stat()
	if err != nil {
		return nil, nil
	}
	if fi.Mode()&os.ModeNamedPipe == 0 && !fi.Mode().IsRegular() {
		return nil, nil
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("reading stdin: %w", err)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return data, nil
}
