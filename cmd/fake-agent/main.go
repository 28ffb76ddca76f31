// ABOUTME: Minimal fake node for E2E testing, connects to coven-broker and serves built-in agents
// ABOUTME: Usage: fake-agent [-addr localhost:50061] [-id node1] [-fact k=v] [-class c]

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/2389/coven-rpc/internal/config"
	"github.com/2389/coven-rpc/internal/node"
	"github.com/2389/coven-rpc/internal/transport"
)

// listFlag collects repeated string flags.
type listFlag []string

func (l *listFlag) String() string     { return strings.Join(*l, ",") }
func (l *listFlag) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	hostname, _ := os.Hostname()

	addr := flag.String("addr", "localhost:50061", "broker gRPC address")
	identity := flag.String("id", hostname, "node identity")
	collective := flag.String("collective", "coven", "collective name")
	heartbeat := flag.Duration("heartbeat", node.DefaultHeartbeat, "heartbeat interval")
	level := flag.String("log-level", "info", "log level")
	var facts, classes listFlag
	flag.Var(&facts, "fact", "fact as key=value (repeatable)")
	flag.Var(&classes, "class", "configuration class (repeatable)")
	flag.Parse()

	if err := run(*addr, *identity, *collective, *heartbeat, *level, facts, classes); err != nil {
		log.Fatal(err)
	}
}

func run(addr, identity, collective string, heartbeat time.Duration, level string, facts, classes []string) error {
	reg := transport.Registration{
		Identity:   identity,
		Collective: collective,
		Facts:      map[string]string{},
		Classes:    classes,
	}
	for _, f := range facts {
		k, v, ok := strings.Cut(f, "=")
		if !ok || k == "" {
			return fmt.Errorf("invalid fact %q, want key=value", f)
		}
		reg.Facts[k] = v
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	defer conn.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	logger := config.NewLogger(config.LoggingConfig{Level: level}, os.Stderr)
	n := node.New(reg, node.WithHeartbeat(heartbeat), node.WithLogger(logger))
	node.RegisterBuiltins(n)

	fmt.Fprintf(os.Stderr, "connecting %s to %s\n", identity, addr)
	return n.Run(ctx, conn)
}
