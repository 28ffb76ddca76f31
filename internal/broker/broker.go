// ABOUTME: Broker server lifecycle: gRPC and HTTP listeners, auth, inventory and metrics
// ABOUTME: Run blocks until the context is canceled and then shuts down gracefully

package broker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/2389/coven-rpc/internal/agent"
	"github.com/2389/coven-rpc/internal/auth"
	"github.com/2389/coven-rpc/internal/cache"
	"github.com/2389/coven-rpc/internal/config"
	"github.com/2389/coven-rpc/internal/metrics"
	"github.com/2389/coven-rpc/internal/store"
	"github.com/2389/coven-rpc/internal/transport"
)

// PruneInterval is how often expired cache entries are dropped.
const PruneInterval = time.Minute

// Broker is the coven-broker server.
type Broker struct {
	config     *config.Config
	agents     *agent.Manager
	cache      *cache.Cache
	inventory  *store.SQLiteStore
	registry   *prometheus.Registry
	metrics    *metrics.BrokerCollector
	grpcServer *grpc.Server
	httpServer *http.Server
	serverID   string
	logger     *slog.Logger
}

// New creates a broker from cfg. It opens the inventory database when
// database.path is set and enables signed publishing when
// auth.allowed_fingerprints is not empty.
func New(cfg *config.Config, logger *slog.Logger) (*Broker, error) {
	if logger == nil {
		logger = slog.Default()
	}

	b := &Broker{
		config:   cfg,
		cache:    cache.New(cache.WithLogger(logger)),
		registry: prometheus.NewRegistry(),
		serverID: generateServerID(),
		logger:   logger.With("component", "broker"),
	}
	b.agents = agent.NewManager(logger)
	b.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	b.metrics = metrics.NewBrokerCollector(b.registry)

	if cfg.Database.Path != "" {
		s, err := store.NewSQLiteStore(cfg.Database.Path)
		if err != nil {
			return nil, fmt.Errorf("opening inventory: %w", err)
		}
		b.inventory = s
	}

	b.grpcServer = b.createGRPCServer()
	RegisterBrokerServer(b.grpcServer, newBrokerService(b, b.logger))

	mux := http.NewServeMux()
	mux.HandleFunc("/health", b.handleHealth)
	mux.HandleFunc("/health/ready", b.handleReady)
	if cfg.Metrics.Enabled {
		mux.Handle(cfg.Metrics.Path, promhttp.HandlerFor(b.registry, promhttp.HandlerOpts{}))
	}
	b.httpServer = &http.Server{
		Addr:              cfg.Broker.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return b, nil
}

// createGRPCServer creates the gRPC server, with signature checks on the
// publishing methods when an allow list is configured.
func (b *Broker) createGRPCServer() *grpc.Server {
	opts := []grpc.ServerOption{
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	}

	if allowed := b.config.Auth.AllowedFingerprints; len(allowed) > 0 {
		authorizer := auth.NewAuthorizer(
			auth.NewSSHVerifier(b.cache),
			allowed,
			[]string{transport.MethodSend, transport.MethodRequest},
			b.logger,
		)
		opts = append(opts,
			grpc.ChainUnaryInterceptor(b.countRejectedUnary(), authorizer.UnaryInterceptor()),
			grpc.ChainStreamInterceptor(b.countRejectedStream(), authorizer.StreamInterceptor()),
		)
		b.logger.Info("signed publishing enabled", "allowed_fingerprints", len(allowed))
	} else {
		b.logger.Warn("signed publishing disabled - no allowed_fingerprints configured")
	}

	return grpc.NewServer(opts...)
}

func (b *Broker) countRejected(err error) {
	switch code := status.Code(err); code {
	case codes.Unauthenticated, codes.PermissionDenied:
		b.metrics.Rejected(strings.ToLower(code.String()))
	}
}

func (b *Broker) countRejectedUnary() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		resp, err := handler(ctx, req)
		b.countRejected(err)
		return resp, err
	}
}

func (b *Broker) countRejectedStream() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		err := handler(srv, ss)
		b.countRejected(err)
		return err
	}
}

// Agents returns the registry of connected nodes.
func (b *Broker) Agents() *agent.Manager { return b.agents }

// ServerID identifies this broker instance to nodes.
func (b *Broker) ServerID() string { return b.serverID }

// Handler returns the HTTP handler serving health and metrics.
func (b *Broker) Handler() http.Handler { return b.httpServer.Handler }

func (b *Broker) nodeConnected(ctx context.Context, reg *transport.Registration) {
	b.metrics.NodeConnected(reg.Collective)
	if b.inventory == nil {
		return
	}
	err := b.inventory.UpsertNode(ctx, &store.NodeRecord{
		Identity:   reg.Identity,
		Collective: reg.Collective,
		Facts:      reg.Facts,
		Classes:    reg.Classes,
		Agents:     reg.Agents,
	})
	if err != nil {
		b.logger.Error("recording node", "identity", reg.Identity, "error", err)
	}
}

func (b *Broker) nodeDisconnected(reg *transport.Registration) {
	b.metrics.NodeDisconnected(reg.Collective)
	if b.inventory == nil {
		return
	}
	// The stream context is already done here.
	if err := b.inventory.MarkOffline(context.Background(), reg.Identity); err != nil {
		b.logger.Error("marking node offline", "identity", reg.Identity, "error", err)
	}
}

func (b *Broker) recordRequest(ctx context.Context, msg *transport.Message, targets, responses int) {
	if b.inventory == nil {
		return
	}
	err := b.inventory.RecordRequest(context.WithoutCancel(ctx), &store.RequestRecord{
		RequestID: msg.RequestID,
		Agent:     msg.Agent,
		Action:    msg.Body.Action,
		Caller:    callerOf(ctx, msg),
		Type:      string(msg.Type),
		Targets:   targets,
		Responses: responses,
	})
	if err != nil {
		b.logger.Error("recording request", "request_id", msg.RequestID, "error", err)
	}
}

// listen creates TCP listeners for gRPC and HTTP.
func (b *Broker) listen() (grpcLn, httpLn net.Listener, err error) {
	b.logger.Info("starting broker",
		"grpc_addr", b.config.Broker.GRPCAddr,
		"http_addr", b.config.Broker.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", b.config.Broker.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	httpLn, err = net.Listen("tcp", b.config.Broker.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// Run listens on the configured addresses and serves until ctx is canceled.
func (b *Broker) Run(ctx context.Context) error {
	grpcLn, httpLn, err := b.listen()
	if err != nil {
		return err
	}
	return b.Serve(ctx, grpcLn, httpLn)
}

// Serve runs the gRPC and HTTP servers on the given listeners until ctx is
// canceled or a server fails, then shuts both down. Returns nil on a
// graceful shutdown.
func (b *Broker) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		b.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := b.grpcServer.Serve(grpcLn); err != nil {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		b.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
		if err := b.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(PruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				if n := b.cache.Prune(); n > 0 {
					b.logger.Debug("pruned cache", "entries", n)
				}
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		b.logger.Info("context canceled, initiating shutdown")
		return b.gracefulShutdown()
	})

	return g.Wait()
}

// gracefulShutdown performs shutdown with a fresh context and timeout.
func (b *Broker) gracefulShutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return b.Shutdown(ctx)
}

// shutdownGRPCServer gracefully stops the gRPC server or force-stops on context cancel.
func (b *Broker) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		b.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		b.grpcServer.Stop()
	}
}

// Shutdown stops both servers and closes the inventory.
func (b *Broker) Shutdown(ctx context.Context) error {
	b.logger.Info("shutting down broker")

	var errs []error
	if err := b.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
	}

	b.shutdownGRPCServer(ctx)

	if b.inventory != nil {
		if err := b.inventory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("inventory close: %w", err))
		}
	}

	return errors.Join(errs...)
}

// handleHealth returns 200 OK if the server is alive.
func (b *Broker) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK if at least one node is connected.
func (b *Broker) handleReady(w http.ResponseWriter, r *http.Request) {
	n := b.agents.Count()
	if n == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no nodes connected"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d nodes)", n)
}

// generateServerID creates a unique identifier for this broker instance.
func generateServerID() string {
	return "coven-broker-" + transport.NewRequestID()[:8]
}
