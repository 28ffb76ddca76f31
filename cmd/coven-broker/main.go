// ABOUTME: Entry point for coven-broker, the hub between coven-rpc clients and nodes
// ABOUTME: Serves the broker and offers health and inventory commands

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/fatih/color"

	"github.com/2389/coven-rpc/internal/broker"
	"github.com/2389/coven-rpc/internal/config"
	"github.com/2389/coven-rpc/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
  ___ _____   _____ _ __        | |__  _ __ ___ | | _____ _ __
 / __/ _ \ \ / / _ \ '_ \ _____ | '_ \| '__/ _ \| |/ / _ \ '__|
| (_| (_) \ V /  __/ | | |_____|| |_) | | | (_) |   <  __/ |
 \___\___/ \_/ \___|_| |_|      |_.__/|_|  \___/|_|\_\___|_|
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: coven-broker <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve       Start the broker")
		fmt.Println("  health      Check broker health")
		fmt.Println("  ready       Check that nodes are connected")
		fmt.Println("  inventory   List nodes recorded in the inventory database")
		fmt.Println("  requests    List recently published requests")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "health":
		err = runHTTPCheck(ctx, "/health")
	case "ready":
		err = runHTTPCheck(ctx, "/health/ready")
	case "inventory":
		err = runInventory(ctx)
	case "requests":
		err = runRequests(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, string, error) {
	configPath := config.Path("COVEN_BROKER_CONFIG", "broker")
	cfg, err := config.LoadOrDefault(configPath)
	if err != nil {
		return nil, configPath, fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := config.NewLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("gRPC:      %s\n", cfg.Broker.GRPCAddr)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Broker.HTTPAddr)
	if cfg.Database.Path != "" {
		green.Print("    ▶ ")
		fmt.Printf("Inventory: %s\n", cfg.Database.Path)
	}
	if len(cfg.Auth.AllowedFingerprints) == 0 {
		yellow.Print("    ! ")
		fmt.Println("Publishing is not signature checked")
	}
	fmt.Println()

	logger.Info("starting coven-broker",
		"config", configPath,
		"version", version,
	)

	b, err := broker.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating broker: %w", err)
	}
	return b.Run(ctx)
}

func runHTTPCheck(ctx context.Context, path string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s%s", cfg.Broker.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

func openInventory() (*store.SQLiteStore, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Path == "" {
		return nil, fmt.Errorf("database.path is not configured")
	}
	return store.NewSQLiteStore(cfg.Database.Path)
}

func runInventory(ctx context.Context) error {
	s, err := openInventory()
	if err != nil {
		return err
	}
	defer s.Close()

	nodes, err := s.ListNodes(ctx, false)
	if err != nil {
		return err
	}

	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed).SprintFunc()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "IDENTITY\tSTATE\tAGENTS\tLAST SEEN")
	for _, n := range nodes {
		state := red("offline")
		if n.Online {
			state = green("online")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", n.Identity, state, strings.Join(n.Agents, ","), n.LastSeen.Local().Format(time.DateTime))
	}
	return w.Flush()
}

func runRequests(ctx context.Context) error {
	s, err := openInventory()
	if err != nil {
		return err
	}
	defer s.Close()

	reqs, err := s.ListRequests(ctx, 20)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tREQUEST\tACTION\tCALLER\tREPLIES")
	for _, r := range reqs {
		fmt.Fprintf(w, "%s\t%s\t%s#%s\t%s\t%d/%d\n",
			r.CreatedAt.Local().Format(time.DateTime), r.RequestID, r.Agent, r.Action, r.Caller, r.Responses, r.Targets)
	}
	return w.Flush()
}
