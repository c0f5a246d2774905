// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package anvil

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/z5labs/anvil/config"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/lifecycle"
	"github.com/z5labs/anvil/logging"
	"github.com/z5labs/anvil/server"
	"github.com/z5labs/anvil/telemetry"
)

// InstallConfig is the configuration every service is installed with.
// Custom config types embed it to add their own sections.
type InstallConfig struct {
	ProductName    string `config:"productName"`
	ProductVersion string `config:"productVersion"`

	Server    server.Config    `config:"server"`
	Logging   logging.Config   `config:"logging"`
	Telemetry telemetry.Config `config:"telemetry"`
}

// DefaultInstallConfig returns the values used for anything the config
// sources leave unset.
func DefaultInstallConfig() InstallConfig {
	return InstallConfig{
		Server:    server.DefaultConfig(),
		Telemetry: telemetry.DefaultConfig(),
	}
}

func (c *InstallConfig) installConfig() *InstallConfig {
	return c
}

// installer is satisfied by any type embedding [InstallConfig].
type installer interface {
	installConfig() *InstallConfig
}

// Initializer registers a service's endpoints and shutdown hooks
// before the server starts.
type Initializer[T any] interface {
	Init(ctx context.Context, cfg T, srv *server.Server) error
}

// InitFunc is a func variant of the [Initializer] interface.
type InitFunc[T any] func(context.Context, T, *server.Server) error

// Init implements the [Initializer] interface.
func (f InitFunc[T]) Init(ctx context.Context, cfg T, srv *server.Server) error {
	return f(ctx, cfg, srv)
}

// Option configures [Run].
type Option func(*runOptions)

type runOptions struct {
	logOut     io.Writer
	serverOpts []server.Option
	telOpts    []telemetry.Option
}

// LogOutput sets where the service log is written. Defaults to stdout.
func LogOutput(w io.Writer) Option {
	return func(o *runOptions) {
		o.logOut = w
	}
}

// ServerOptions are passed through to [server.New].
func ServerOptions(opts ...server.Option) Option {
	return func(o *runOptions) {
		o.serverOpts = append(o.serverOpts, opts...)
	}
}

// TelemetryOptions are passed through to [telemetry.Init].
func TelemetryOptions(opts ...telemetry.Option) Option {
	return func(o *runOptions) {
		o.telOpts = append(o.telOpts, opts...)
	}
}

// Runner reads config, builds the server, initializes the service and
// runs it until shutdown.
type Runner[T any] struct {
	init Initializer[T]
	opts runOptions
}

// NewRunner returns a [Runner] for init.
func NewRunner[T any](init Initializer[T], opts ...Option) *Runner[T] {
	r := &Runner[T]{
		init: init,
		opts: runOptions{logOut: os.Stdout},
	}
	for _, opt := range opts {
		opt(&r.opts)
	}
	return r
}

// Run executes the service. If T does not embed [InstallConfig] the
// install config is read from the same sources separately.
func (r *Runner[T]) Run(ctx context.Context, srcs ...config.Source) error {
	m, err := config.Read(srcs...)
	if err != nil {
		return ConfigReadError{Cause: err}
	}

	var cfg T
	ic := DefaultInstallConfig()
	inst, embedded := any(&cfg).(installer)
	if embedded {
		*inst.installConfig() = ic
	}
	err = m.Unmarshal(&cfg)
	if err != nil {
		return ConfigUnmarshalError{Cause: err}
	}
	if embedded {
		ic = *inst.installConfig()
	} else {
		err = m.Unmarshal(&ic)
		if err != nil {
			return ConfigUnmarshalError{Cause: err}
		}
	}

	srv, log, err := r.build(ctx, ic)
	if err != nil {
		return BuildError{Cause: err}
	}

	err = r.init.Init(ctx, cfg, srv)
	if err != nil {
		log.ErrorContext(ctx, "failed to initialize service", slogfield.Error(err))
		return InitError{Cause: err}
	}

	err = srv.Run(ctx)
	if err != nil {
		log.ErrorContext(ctx, "server failed", slogfield.Error(err))
		return RunError{Cause: err}
	}
	return nil
}

func (r *Runner[T]) build(ctx context.Context, ic InstallConfig) (*server.Server, *slog.Logger, error) {
	logHandler, err := logging.NewHandler(r.opts.logOut, ic.Logging)
	if err != nil {
		return nil, nil, err
	}
	log := slog.New(logHandler).With(
		slogfield.String("product_name", ic.ProductName),
		slogfield.String("product_version", ic.ProductVersion),
	)
	logHandler = log.Handler()

	accessLog, err := logging.NewAccessLogger(ic.Logging.AccessLog)
	if err != nil {
		return nil, nil, err
	}

	if ic.Telemetry.ServiceName == "" {
		ic.Telemetry.ServiceName = ic.ProductName
	}
	tp, shutdownTracing, err := telemetry.Init(ctx, ic.Telemetry, r.opts.telOpts...)
	if err != nil {
		return nil, nil, err
	}

	opts := []server.Option{
		server.LogHandler(logHandler),
		server.AccessLogger(accessLog),
		server.TracerProvider(tp),
	}
	srv, err := server.New(ic.Server, append(opts, r.opts.serverOpts...)...)
	if err != nil {
		return nil, nil, err
	}

	err = srv.RegisterShutdownHook(lifecycle.PhaseFinalize, shutdownTracing)
	if err != nil {
		return nil, nil, err
	}
	return srv, log, nil
}

// Run is a shorthand for NewRunner(init).Run(ctx, srcs...).
func Run[T any](ctx context.Context, init Initializer[T], srcs ...config.Source) error {
	return NewRunner(init).Run(ctx, srcs...)
}

// Main runs the service and exits the process with a non-zero status
// if it could not start or failed while running.
func Main[T any](init Initializer[T], srcs ...config.Source) {
	err := Run(context.Background(), init, srcs...)
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
