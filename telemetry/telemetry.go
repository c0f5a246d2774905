// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package telemetry configures the OpenTelemetry tracer provider
// spans are exported through.
package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/z5labs/anvil/lifecycle"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Supported values of [Config.Exporter].
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterOTLP   = "otlp"
	ExporterGCP    = "gcp"
)

// Config selects and configures the span exporter.
type Config struct {
	Exporter    string  `config:"exporter"`
	ServiceName string  `config:"serviceName"`
	SampleRatio float64 `config:"sampleRatio"`

	OTLP struct {
		// Endpoint is a host:port, e.g. "localhost:4317".
		Endpoint string `config:"endpoint"`
		Insecure bool   `config:"insecure"`
	} `config:"otlp"`

	GCP struct {
		ProjectID string `config:"projectId"`
	} `config:"gcp"`
}

// DefaultConfig disables exporting and samples everything once enabled.
func DefaultConfig() Config {
	return Config{
		Exporter:    ExporterNone,
		SampleRatio: 1,
	}
}

// UnknownExporterError is returned by [Init] for an unsupported exporter.
type UnknownExporterError struct {
	Exporter string
}

// Error implements the error interface.
func (e UnknownExporterError) Error() string {
	return fmt.Sprintf("unknown telemetry exporter: %s", e.Exporter)
}

// ExporterError wraps a failure to create the configured exporter.
type ExporterError struct {
	Exporter string
	Cause    error
}

// Error implements the error interface.
func (e ExporterError) Error() string {
	return fmt.Sprintf("failed to create %s exporter: %s", e.Exporter, e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e ExporterError) Unwrap() error {
	return e.Cause
}

// Option configures [Init].
type Option func(*options)

type options struct {
	stdout io.Writer
	global bool
}

// Stdout overrides where the stdout exporter writes.
func Stdout(w io.Writer) Option {
	return func(o *options) {
		o.stdout = w
	}
}

// SetGlobal controls whether the provider and propagator are installed
// as the OTel globals. Enabled by default.
func SetGlobal(global bool) Option {
	return func(o *options) {
		o.global = global
	}
}

// Init builds the tracer provider described by cfg. The returned hook
// flushes and stops it and belongs in [lifecycle.PhaseFinalize].
func Init(ctx context.Context, cfg Config, opts ...Option) (trace.TracerProvider, lifecycle.Hook, error) {
	o := options{
		stdout: os.Stdout,
		global: true,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if o.global {
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		))
	}

	exporter := cfg.Exporter
	if exporter == "" {
		exporter = ExporterNone
	}
	if exporter == ExporterNone {
		tp := noop.NewTracerProvider()
		if o.global {
			otel.SetTracerProvider(tp)
		}
		return tp, lifecycle.HookFunc(func(context.Context) error { return nil }), nil
	}

	exp, res, err := newExporter(ctx, exporter, cfg, o)
	if err != nil {
		return nil, nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler(cfg.SampleRatio)),
	)
	if o.global {
		otel.SetTracerProvider(tp)
	}
	return tp, lifecycle.HookFunc(tp.Shutdown), nil
}

func sampler(ratio float64) sdktrace.Sampler {
	if ratio >= 1 {
		return sdktrace.ParentBased(sdktrace.AlwaysSample())
	}
	if ratio <= 0 {
		return sdktrace.ParentBased(sdktrace.NeverSample())
	}
	return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(ratio))
}

func serviceResource(ctx context.Context, name string, extra ...resource.Option) (*resource.Resource, error) {
	opts := []resource.Option{
		resource.WithTelemetrySDK(),
		resource.WithAttributes(semconv.ServiceName(name)),
	}
	return resource.New(ctx, append(opts, extra...)...)
}
