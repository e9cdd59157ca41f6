// ABOUTME: Gateway orchestrator that wires registry, directory, dispatcher and servers
// ABOUTME: Manages the gRPC worker server, HTTP endpoints, peer bus and liveness lifecycle

package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/actor-gateway/internal/agent"
	"github.com/2389/actor-gateway/internal/auth"
	"github.com/2389/actor-gateway/internal/cluster"
	"github.com/2389/actor-gateway/internal/config"
	"github.com/2389/actor-gateway/internal/dedupe"
	"github.com/2389/actor-gateway/internal/directory"
	"github.com/2389/actor-gateway/internal/dispatch"
	"github.com/2389/actor-gateway/internal/metrics"
	"github.com/2389/actor-gateway/internal/peer"
	"github.com/2389/actor-gateway/internal/store"
	"github.com/2389/actor-gateway/internal/wire"
)

// Gateway routes requests and events between connected workers and, through
// the cluster coordinator and peer bus, to workers on other gateways.
type Gateway struct {
	config *config.Config
	id     string
	ref    cluster.GatewayRef

	registry   *agent.Registry
	directory  *directory.Directory
	dispatcher *dispatch.Dispatcher
	coord      cluster.Coordinator
	state      store.StateStore
	seen       *dedupe.Cache
	metrics    *metrics.Metrics

	bus  *peer.Bus
	peer *peer.Client

	grpcServer *grpc.Server
	httpServer *http.Server
	logger     *slog.Logger

	// registrations remembers every type registered through this gateway so
	// they can be re-announced after the coordinator lost them.
	registrations     sync.Map // agent type -> wire.TypeRegistration
	reregisterPending atomic.Bool

	// inflightMu orders inflight.Add against closing so no forward starts
	// after shutdown began waiting.
	inflightMu   sync.Mutex
	inflight     sync.WaitGroup
	closing      atomic.Bool
	shutdownOnce sync.Once
	shutdownErr  error
}

// deps are the external components a Gateway is assembled from.
type deps struct {
	coord cluster.Coordinator
	state store.StateStore
	bus   *peer.Bus
	peer  *peer.Client
}

// New creates a Gateway from cfg, opening the configured coordinator, state
// store and peer bus.
func New(cfg *config.Config, logger *slog.Logger) (*Gateway, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	coord, err := cluster.Open(ctx, cluster.Options{
		Backend:    cfg.Cluster.Backend,
		SQLitePath: cfg.Cluster.SQLitePath,
		Redis: cluster.RedisOptions{
			Addr:     cfg.Cluster.RedisAddr,
			Password: cfg.Cluster.RedisPassword,
			DB:       cfg.Cluster.RedisDB,
		},
		GatewayTTL: cfg.Cluster.GatewayTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("opening cluster coordinator: %w", err)
	}

	state, err := initStateStore(cfg)
	if err != nil {
		_ = coord.Close()
		return nil, err
	}

	bus, pc, err := connectPeers(cfg, logger)
	if err != nil {
		_ = state.Close()
		_ = coord.Close()
		return nil, err
	}

	return assemble(cfg, deps{coord: coord, state: state, bus: bus, peer: pc}, logger), nil
}

// initStateStore opens the agent state store. An empty path keeps state in memory.
func initStateStore(cfg *config.Config) (store.StateStore, error) {
	if cfg.State.Path == "" {
		return store.NewMemoryStore(), nil
	}
	s, err := store.NewSQLiteStore(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("initializing state store: %w", err)
	}
	return s, nil
}

// connectPeers starts the embedded NATS server when configured and connects
// to the peer bus. Both results are nil when no bus is configured.
func connectPeers(cfg *config.Config, logger *slog.Logger) (*peer.Bus, *peer.Client, error) {
	if !cfg.NATS.Enabled() {
		return nil, nil, nil
	}

	url := cfg.NATS.URL
	var bus *peer.Bus
	if cfg.NATS.Embedded {
		var err error
		bus, err = peer.StartBus(peer.BusOptions{Port: cfg.NATS.Port, DataDir: cfg.NATS.DataDir})
		if err != nil {
			return nil, nil, fmt.Errorf("starting embedded nats: %w", err)
		}
		url = bus.ClientURL()
		logger.Info("embedded nats server started", "url", url)
	}

	pc, err := peer.Connect(url, "actor-gateway-"+cfg.Gateway.ID, logger)
	if err != nil {
		if bus != nil {
			bus.Close()
		}
		return nil, nil, err
	}
	return bus, pc, nil
}

// createGRPCServer creates a gRPC server with or without auth based on config.
func createGRPCServer(cfg *config.Config, logger *slog.Logger) *grpc.Server {
	interceptor := auth.NoAuthStreamInterceptor()
	if cfg.Auth.JWTSecret != "" {
		interceptor = auth.StreamInterceptor(auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)), logger.With("component", "auth"))
		logger.Info("worker auth enabled (JWT)")
	} else {
		logger.Warn("auth disabled - no jwt_secret configured")
	}

	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainStreamInterceptor(interceptor),
	)
}

// assemble wires the in-process components around d.
func assemble(cfg *config.Config, d deps, logger *slog.Logger) *Gateway {
	registry := agent.NewRegistry(logger.With("component", "registry"))
	m := metrics.New()

	advertise := cfg.Gateway.AdvertiseAddr
	if advertise == "" {
		advertise = cfg.Server.GRPCAddr
	}

	g := &Gateway{
		config:   cfg,
		id:       cfg.Gateway.ID,
		ref:      cluster.GatewayRef{ID: cfg.Gateway.ID, Address: advertise},
		registry: registry,
		coord:    d.coord,
		state:    d.state,
		seen:     dedupe.New(cfg.Events.DedupeTTL, cfg.Events.DedupeSize),
		metrics:  m,
		bus:      d.bus,
		peer:     d.peer,
		logger:   logger.With("component", "gateway", "gateway_id", cfg.Gateway.ID),
	}

	g.directory = directory.New(directory.Params{
		GatewayID:   g.id,
		Registry:    registry,
		Coordinator: d.coord,
		Logger:      logger,
	})
	g.dispatcher = dispatch.New(dispatch.Params{
		Registry:    registry,
		Coordinator: d.coord,
		Seen:        g.seen,
		Metrics:     m,
		Logger:      logger,
	})

	m.RegisterGauges(metrics.Gauges{
		Connections: registry.Count,
		Placements:  g.directory.Len,
		PendingCall: registry.PendingCalls,
	})

	g.grpcServer = createGRPCServer(cfg, logger)
	wire.RegisterGatewayControlServer(g.grpcServer, newWorkerServer(g, logger.With("component", "grpc")))

	g.httpServer = &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           g.httpHandler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return g
}

// ID returns the gateway's cluster identity.
func (g *Gateway) ID() string {
	return g.id
}

// Registry exposes the connection registry.
func (g *Gateway) Registry() *agent.Registry {
	return g.registry
}

func (g *Gateway) setupListeners() (grpcLn, httpLn net.Listener, err error) {
	g.logger.Info("starting gateway",
		"grpc_addr", g.config.Server.GRPCAddr,
		"http_addr", g.config.Server.HTTPAddr,
	)

	grpcLn, err = net.Listen("tcp", g.config.Server.GRPCAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("listening on gRPC address: %w", err)
	}

	if g.config.Server.HTTPAddr == "" {
		return grpcLn, nil, nil
	}
	httpLn, err = net.Listen("tcp", g.config.Server.HTTPAddr)
	if err != nil {
		_ = grpcLn.Close()
		return nil, nil, fmt.Errorf("listening on HTTP address: %w", err)
	}

	return grpcLn, httpLn, nil
}

// Run listens on the configured addresses and serves until ctx is cancelled
// or a server fails, then shuts down.
func (g *Gateway) Run(ctx context.Context) error {
	grpcLn, httpLn, err := g.setupListeners()
	if err != nil {
		return err
	}
	return g.Serve(ctx, grpcLn, httpLn)
}

// Serve runs the gateway on the given listeners. httpLn may be nil to skip
// the HTTP endpoints. It blocks until ctx is cancelled or a server fails and
// always shuts the gateway down before returning.
func (g *Gateway) Serve(ctx context.Context, grpcLn, httpLn net.Listener) error {
	if err := g.startPeer(ctx); err != nil {
		_ = grpcLn.Close()
		if httpLn != nil {
			_ = httpLn.Close()
		}
		_ = g.Shutdown(context.Background())
		return err
	}

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		g.logger.Info("gRPC server listening", "addr", grpcLn.Addr().String())
		if err := g.grpcServer.Serve(grpcLn); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("gRPC server: %w", err)
		}
		return nil
	})

	if httpLn != nil {
		eg.Go(func() error {
			g.logger.Info("HTTP server listening", "addr", httpLn.Addr().String())
			if err := g.httpServer.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("HTTP server: %w", err)
			}
			return nil
		})
	}

	eg.Go(func() error {
		g.runLiveness(egCtx)
		return nil
	})

	eg.Go(func() error {
		<-egCtx.Done()
		g.logger.Info("context canceled, initiating shutdown")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return g.Shutdown(shutdownCtx)
	})

	return eg.Wait()
}

// startPeer subscribes to requests forwarded by other gateways and to
// relayed events.
func (g *Gateway) startPeer(ctx context.Context) error {
	if g.peer == nil {
		return nil
	}
	if err := g.peer.Serve(ctx, g.id, peer.HandlerFunc(g.HandlePeerRequest)); err != nil {
		return fmt.Errorf("serving peer requests: %w", err)
	}
	if err := g.peer.ServeEvents(g.id, func(ev *wire.Event) {
		if _, err := g.dispatcher.Publish(ctx, ev); err != nil {
			g.logger.Warn("dispatching relayed event", "event_id", ev.ID, "topic", ev.Topic, "error", err)
		}
	}); err != nil {
		return fmt.Errorf("serving peer events: %w", err)
	}
	return g.peer.Flush()
}

func (g *Gateway) shutdownGRPCServer(ctx context.Context) {
	stopped := make(chan struct{})
	go func() {
		g.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-ctx.Done():
		g.grpcServer.Stop()
	}
}

// appendCloseError appends an error with label if err is non-nil.
func appendCloseError(errs []error, label string, err error) []error {
	if err != nil {
		return append(errs, fmt.Errorf("%s: %w", label, err))
	}
	return errs
}

// Shutdown deregisters the gateway from the cluster, stops the servers and
// closes every component. Later calls return the first call's result.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.shutdownOnce.Do(func() {
		g.shutdownErr = g.shutdown(ctx)
	})
	return g.shutdownErr
}

func (g *Gateway) shutdown(ctx context.Context) error {
	g.logger.Info("shutting down gateway")
	g.inflightMu.Lock()
	g.closing.Store(true)
	g.inflightMu.Unlock()

	var errs []error
	errs = appendCloseError(errs, "deregister", g.deregister(ctx))
	errs = appendCloseError(errs, "HTTP shutdown", g.httpServer.Shutdown(ctx))

	g.shutdownGRPCServer(ctx)
	g.inflight.Wait()

	if g.peer != nil {
		errs = appendCloseError(errs, "peer close", g.peer.Close())
	}
	if g.bus != nil {
		g.bus.Close()
	}
	errs = appendCloseError(errs, "state store close", g.state.Close())
	errs = appendCloseError(errs, "coordinator close", g.coord.Close())
	g.seen.Close()

	if len(errs) > 0 {
		return fmt.Errorf("shutdown errors: %w", errors.Join(errs...))
	}
	return nil
}
