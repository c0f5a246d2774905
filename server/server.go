// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package server assembles the connection and request pipelines into a
// running HTTP server with coordinated graceful shutdown.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/z5labs/anvil/conn"
	"github.com/z5labs/anvil/endpoint"
	"github.com/z5labs/anvil/health"
	"github.com/z5labs/anvil/internal/fixedpool"
	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/lifecycle"
	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/request"
	"github.com/z5labs/anvil/service"

	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// APIPrefix is where [Server.API] and [Server.BlockingAPI] mount endpoints,
// below the context path.
const APIPrefix = "/api"

// BindError is returned when the listening socket cannot be bound.
type BindError struct {
	Addr  string
	Cause error
}

// Error implements the error interface.
func (e BindError) Error() string {
	return fmt.Sprintf("failed to bind %s: %s", e.Addr, e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e BindError) Unwrap() error {
	return e.Cause
}

// ErrAlreadyStarted is returned by [Server.Start] when called twice.
var ErrAlreadyStarted = errors.New("server: already started")

// Option configures a [Server].
type Option func(*Server)

// LogHandler sets the handler every server component logs to.
func LogHandler(h slog.Handler) Option {
	return func(s *Server) {
		s.logHandler = h
	}
}

// AccessLogger sets the logger request logs are written to.
func AccessLogger(l *zap.Logger) Option {
	return func(s *Server) {
		s.accessLog = l
	}
}

// TracerProvider sets the provider request spans are started from.
// The global provider is used by default.
func TracerProvider(tp trace.TracerProvider) Option {
	return func(s *Server) {
		s.tracerProvider = tp
	}
}

// Propagator sets how trace context is extracted from requests.
// The global propagator is used by default.
func Propagator(p propagation.TextMapPropagator) Option {
	return func(s *Server) {
		s.propagator = p
	}
}

// Metrics sets the registry the server reports to.
func Metrics(r *metrics.Registry) Option {
	return func(s *Server) {
		s.metrics = r
	}
}

// Signals overrides the signals which start shutdown.
func Signals(sigs ...os.Signal) Option {
	return func(s *Server) {
		s.signals = sigs
	}
}

// Server accepts connections and dispatches their requests to registered
// endpoints until it is shut down.
type Server struct {
	cfg        Config
	logHandler slog.Handler
	log        *slog.Logger
	startedAt  time.Time

	tlsConfig      *tls.Config
	accessLog      *zap.Logger
	tracerProvider trace.TracerProvider
	propagator     propagation.TextMapPropagator
	metrics        *metrics.Registry
	signals        []os.Signal

	registry *endpoint.Registry
	pool     *fixedpool.Pool
	coord    *lifecycle.Coordinator

	checks       *health.Checks
	accepting    health.Binary
	fiveHundreds *health.Recent
	liveness     health.Metric
	readiness    health.Metric

	mu         sync.Mutex
	started    bool
	ls         net.Listener
	engine     *engine
	stopEngine context.CancelFunc
	stopAccept context.CancelFunc
	conns      sync.WaitGroup
	acceptDone chan struct{}
	acceptErr  error
}

// New validates cfg and prepares a [Server]. Endpoints may be registered
// until [Server.Start] is called.
func New(cfg Config, opts ...Option) (*Server, error) {
	err := cfg.validate()
	if err != nil {
		return nil, err
	}

	s := &Server{
		cfg:          cfg,
		logHandler:   noop.LogHandler{},
		startedAt:    time.Now(),
		registry:     endpoint.NewRegistry(),
		checks:       &health.Checks{},
		fiveHundreds: health.NewRecent(time.Minute),
		acceptDone:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = slog.New(s.logHandler)
	if s.metrics == nil {
		s.metrics = metrics.NewRegistry()
	}
	if s.accessLog == nil {
		s.accessLog = zap.NewNop()
	}
	s.accepting.Set(false)

	if cfg.TLS.Enabled() {
		s.tlsConfig, err = cfg.TLS.load()
		if err != nil {
			return nil, err
		}
	}
	if cfg.IOThreads > 0 {
		runtime.GOMAXPROCS(cfg.IOThreads)
	}

	metrics.RegisterProcessMetrics(s.metrics, s.startedAt)
	s.pool = fixedpool.New(
		cfg.BlockingPool.Workers,
		cfg.BlockingPool.QueueSize,
		fixedpool.LogHandler(s.logHandler),
		fixedpool.Metrics(s.metrics),
	)

	coordOpts := []lifecycle.CoordinatorOption{
		lifecycle.LogHandler(s.logHandler),
		lifecycle.ShutdownTimeout(cfg.ShutdownTimeout),
	}
	if len(s.signals) > 0 {
		coordOpts = append(coordOpts, lifecycle.Signals(s.signals...))
	}
	s.coord = lifecycle.NewCoordinator(coordOpts...)

	s.liveness = health.MetricFunc(func(context.Context) bool {
		return s.coord.State() != lifecycle.Terminated
	})
	s.readiness = health.And(&s.accepting, health.Not(s.ShuttingDown()))

	err = s.registerChecks()
	if err != nil {
		return nil, err
	}
	err = s.App(s.statusEndpoints()...)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Server) registerChecks() error {
	panics := s.metrics.Counter(metrics.ProcessPanics)
	return errors.Join(
		s.checks.Register(CheckServerAccepting, &s.accepting, "server is not accepting connections"),
		s.checks.Register(CheckEndpointFiveHundred, s.fiveHundreds, "an endpoint responded with a 5xx status in the last minute"),
		s.checks.Register(CheckPanics, health.MetricFunc(func(context.Context) bool {
			return panics.Count() == 0
		}), "the server has recovered from a panic"),
	)
}

// App registers endpoints below the context path.
func (s *Server) App(eps ...endpoint.Endpoint) error {
	return s.registry.Register(s.cfg.ContextPath, false, eps...)
}

// API registers endpoints below the context path and [APIPrefix].
func (s *Server) API(eps ...endpoint.Endpoint) error {
	return s.registry.Register(endpoint.JoinPath(s.cfg.ContextPath, APIPrefix), false, eps...)
}

// BlockingApp is like [Server.App] but runs every handler on the blocking pool.
func (s *Server) BlockingApp(eps ...endpoint.Endpoint) error {
	return s.registry.Register(s.cfg.ContextPath, true, eps...)
}

// BlockingAPI is like [Server.API] but runs every handler on the blocking pool.
func (s *Server) BlockingAPI(eps ...endpoint.Endpoint) error {
	return s.registry.Register(endpoint.JoinPath(s.cfg.ContextPath, APIPrefix), true, eps...)
}

// RegisterShutdownHook runs hook during phase of shutdown.
func (s *Server) RegisterShutdownHook(phase lifecycle.Phase, hook lifecycle.Hook) error {
	return s.coord.Register(phase, hook)
}

// Checks is the registry behind the health status endpoint.
func (s *Server) Checks() *health.Checks {
	return s.checks
}

// MetricsRegistry is the registry behind the metrics status endpoint.
func (s *Server) MetricsRegistry() *metrics.Registry {
	return s.metrics
}

// LogHandler is the handler the server logs with.
func (s *Server) LogHandler() slog.Handler {
	return s.logHandler
}

// Accepting is healthy while the listener is accepting connections.
func (s *Server) Accepting() health.Metric {
	return &s.accepting
}

// ShuttingDown is healthy once shutdown has started.
func (s *Server) ShuttingDown() health.Metric {
	return health.MetricFunc(func(context.Context) bool {
		return s.coord.State() != lifecycle.Running
	})
}

// Ready reports whether the server is accepting and not shutting down.
func (s *Server) Ready(ctx context.Context) bool {
	return s.readiness.Healthy(ctx)
}

// Addr is the bound listener address, or nil before [Server.Start].
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ls == nil {
		return nil
	}
	return s.ls.Addr()
}

// Shutdown starts graceful shutdown as if a signal had been received.
func (s *Server) Shutdown() {
	s.coord.Trigger()
}

// Done is closed once shutdown has completed.
func (s *Server) Done() <-chan struct{} {
	return s.coord.Done()
}

// Start binds the listener, freezes the endpoint registry and starts
// accepting connections in the background.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}

	base := context.WithoutCancel(ctx)
	engineCtx, stopEngine := context.WithCancel(base)
	eng, err := newEngine(
		engineCtx,
		request.NewHandler(s.requestService(), request.HandlerLogHandler(s.logHandler)),
		s.tlsConfig,
		s.logHandler,
	)
	if err != nil {
		stopEngine()
		s.log.ErrorContext(ctx, "failed to configure http engine", slogfield.Error(err))
		return err
	}

	addr := s.cfg.Addr()
	var lc net.ListenConfig
	ls, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		stopEngine()
		s.log.ErrorContext(ctx, "failed to bind listener", slogfield.String("addr", addr), slogfield.Error(err))
		return BindError{Addr: addr, Cause: err}
	}
	if s.cfg.Backlog > 0 {
		s.log.InfoContext(ctx, "listen backlog is managed by the operating system", slogfield.Int("backlog", s.cfg.Backlog))
	}

	s.started = true
	s.ls = ls
	s.registry.Freeze()

	acceptCtx, stopAccept := context.WithCancel(base)
	s.stopEngine = stopEngine
	s.stopAccept = stopAccept
	s.engine = eng

	err = s.registerShutdownHooks()
	if err != nil {
		ls.Close()
		return err
	}

	accept, handle := s.connectionServices(ls)
	go s.acceptLoop(acceptCtx, engineCtx, accept, handle)

	s.accepting.Set(true)
	s.log.InfoContext(
		ctx,
		"server started",
		slogfield.String("addr", ls.Addr().String()),
		slogfield.Bool("tls", s.tlsConfig != nil),
		slogfield.Int("max_connections", s.cfg.MaxConnections),
		slogfield.Int("blocking_workers", s.pool.Workers()),
	)
	return nil
}

func (s *Server) requestService() request.Service {
	layers := service.Stack[request.Service](
		endpoint.NewRoutingLayer(s.registry),
		request.NewRequestIDLayer(s.cfg.TrustRequestIDs),
		request.NewTracePropagationLayer(s.propagator),
		request.NewSpansLayer(s.tracerProvider, request.SpansPropagator(s.propagator)),
		request.NewAccessLogLayer(s.accessLog),
		request.NewRecoverLayer(
			request.RecoverLogHandler(s.logHandler),
			request.RecoverMetrics(s.metrics),
		),
	)

	dispatcher := endpoint.NewDispatcher(
		s.pool,
		endpoint.DispatcherLogHandler(s.logHandler),
		endpoint.DispatcherMetrics(s.metrics),
		endpoint.FiveHundreds(s.fiveHundreds),
	)
	return service.Apply(layers, request.Service(dispatcher))
}

func (s *Server) connectionServices(ls net.Listener) (conn.AcceptService, conn.HandleService) {
	acceptLayers := service.Stack[conn.AcceptService](
		conn.NewMetricsLayer(s.metrics, s.cfg.MaxConnections),
		conn.NewLimitLayer(
			s.cfg.MaxConnections,
			conn.LimitLogHandler(s.logHandler),
			conn.LimitMetrics(s.metrics),
		),
	)
	acceptor := conn.NewAcceptor(ls, conn.AcceptorLogHandler(s.logHandler))

	var handleLayers []service.Layer[conn.HandleService, conn.HandleService]
	if s.tlsConfig != nil {
		handleLayers = append(handleLayers, conn.NewTLSLayer(
			s.tlsConfig,
			conn.HandshakeTimeout(s.cfg.HandshakeTimeout),
			conn.TLSLogHandler(s.logHandler),
			conn.TLSMetrics(s.metrics),
		))
	}
	handleLayers = append(handleLayers, conn.NewIdleLayer(
		s.cfg.IdleConnectionTimeout,
		conn.IdleLogHandler(s.logHandler),
		conn.IdleMetrics(s.metrics),
	))

	accept := service.Apply(acceptLayers, conn.AcceptService(acceptor))
	handle := service.Apply(service.Stack(handleLayers...), conn.HandleService(s.engine))
	return accept, handle
}

// acceptLoop accepts serially and serves each connection on its own
// goroutine. Connections outlive acceptCtx and are bound by connCtx.
func (s *Server) acceptLoop(ctx, connCtx context.Context, accept conn.AcceptService, handle conn.HandleService) {
	defer close(s.acceptDone)

	for {
		c, err := accept.Handle(ctx, struct{}{})
		if err != nil {
			s.accepting.Set(false)
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return
			}
			s.log.ErrorContext(ctx, "listener failed", slogfield.Error(err))
			s.acceptErr = err
			return
		}

		s.conns.Add(1)
		go func() {
			defer s.conns.Done()
			defer c.Close()

			_, err := handle.Handle(connCtx, c)
			if err != nil {
				s.log.DebugContext(
					connCtx,
					"http connection terminated",
					slogfield.ConnID(c.ID()),
					slogfield.PeerAddr(c.PeerAddr()),
					slogfield.Error(err),
				)
			}
		}()
	}
}

func (s *Server) registerShutdownHooks() error {
	stopAccepting := lifecycle.HookFunc(func(ctx context.Context) error {
		s.accepting.Set(false)
		s.stopAccept()
		err := s.ls.Close()
		if errors.Is(err, net.ErrClosed) {
			err = nil
		}
		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-s.acceptDone:
			return err
		}
	})

	drainConnections := lifecycle.HookFunc(func(ctx context.Context) error {
		err := s.engine.shutdown(ctx)
		if err != nil {
			return err
		}
		return waitGroup(ctx, &s.conns)
	})

	drainPool := lifecycle.HookFunc(func(ctx context.Context) error {
		return s.pool.Shutdown(ctx)
	})

	syncAccessLog := lifecycle.HookFunc(func(ctx context.Context) error {
		err := s.accessLog.Sync()
		// terminals and pipes cannot be synced
		if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
			return nil
		}
		return err
	})

	return errors.Join(
		s.coord.Register(lifecycle.PhaseStopAccepting, stopAccepting),
		// connections must finish before the pool stops taking their work
		s.coord.Register(lifecycle.PhaseDrain, lifecycle.MultiHook(drainConnections, drainPool)),
		s.coord.Register(lifecycle.PhaseFinalize, syncAccessLog),
	)
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}

// Run starts the server and blocks until shutdown has completed.
func (s *Server) Run(ctx context.Context) error {
	err := s.Start(ctx)
	if err != nil {
		if !errors.Is(err, ErrAlreadyStarted) {
			s.pool.Shutdown(context.WithoutCancel(ctx))
		}
		return err
	}
	return s.Wait(ctx)
}

// Wait blocks a started server until shutdown has completed. Shutdown
// is begun by a signal, [Server.Shutdown], cancelling ctx or listener
// failure. Shutdown failures are logged, not returned. Only a listener
// failure is.
func (s *Server) Wait(ctx context.Context) error {
	var g errgroup.Group
	g.Go(func() error {
		err := s.coord.Run(ctx)
		if err != nil {
			s.log.WarnContext(ctx, "server did not shut down cleanly", slogfield.Error(err))
		}
		s.forceStop()
		return nil
	})
	g.Go(func() error {
		<-s.acceptDone
		if s.acceptErr != nil {
			s.coord.Trigger()
		}
		return s.acceptErr
	})
	err := g.Wait()

	s.log.InfoContext(ctx, "server terminated")
	return err
}

// forceStop closes whatever a graceful shutdown left open.
func (s *Server) forceStop() {
	s.stopAccept()
	s.ls.Close()
	s.stopEngine()
}
