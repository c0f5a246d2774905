// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package telemetry

import (
	"context"
	"errors"

	texporter "github.com/GoogleCloudPlatform/opentelemetry-operations-go/exporter/trace"
	"go.opentelemetry.io/contrib/detectors/gcp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"google.golang.org/api/option"
)

func newExporter(ctx context.Context, name string, cfg Config, o options) (sdktrace.SpanExporter, *resource.Resource, error) {
	var (
		exp   sdktrace.SpanExporter
		extra []resource.Option
		err   error
	)
	switch name {
	case ExporterStdout:
		exp, err = stdouttrace.New(stdouttrace.WithWriter(o.stdout))
	case ExporterOTLP:
		exp, err = newOTLPExporter(ctx, cfg)
	case ExporterGCP:
		exp, err = texporter.New(
			texporter.WithProjectID(cfg.GCP.ProjectID),
			texporter.WithTraceClientOptions([]option.ClientOption{option.WithTelemetryDisabled()}),
		)
		extra = append(extra, resource.WithDetectors(gcp.NewDetector()))
	default:
		return nil, nil, UnknownExporterError{Exporter: name}
	}
	if err != nil {
		return nil, nil, ExporterError{Exporter: name, Cause: err}
	}

	// Detectors may disagree on schema URL, the merged resource is still usable.
	res, err := serviceResource(ctx, cfg.ServiceName, extra...)
	if err != nil && !errors.Is(err, resource.ErrSchemaURLConflict) && !errors.Is(err, resource.ErrPartialResource) {
		return nil, nil, ExporterError{Exporter: name, Cause: err}
	}
	return exp, res, nil
}

func newOTLPExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{}
	if cfg.OTLP.Endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(cfg.OTLP.Endpoint))
	}
	if cfg.OTLP.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}
