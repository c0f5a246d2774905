// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestInit(t *testing.T) {
	t.Run("will return a no-op provider if exporting is disabled", func(t *testing.T) {
		tp, hook, err := Init(context.Background(), DefaultConfig(), SetGlobal(false))
		require.Nil(t, err)

		_, span := tp.Tracer("test").Start(context.Background(), "op")
		require.False(t, span.SpanContext().IsValid())
		span.End()

		require.Nil(t, hook.Run(context.Background()))
	})

	t.Run("will return an UnknownExporterError for an unsupported exporter", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Exporter = "zipkin"

		_, _, err := Init(context.Background(), cfg, SetGlobal(false))

		var uerr UnknownExporterError
		require.ErrorAs(t, err, &uerr)
		require.Equal(t, "zipkin", uerr.Exporter)
	})

	t.Run("will flush spans to stdout when the hook runs", func(t *testing.T) {
		var buf bytes.Buffer
		cfg := DefaultConfig()
		cfg.Exporter = ExporterStdout
		cfg.ServiceName = "anvil-test"

		tp, hook, err := Init(context.Background(), cfg, Stdout(&buf), SetGlobal(false))
		require.Nil(t, err)

		_, span := tp.Tracer("test").Start(context.Background(), "exported-op")
		span.End()

		require.Nil(t, hook.Run(context.Background()))
		require.Contains(t, buf.String(), "exported-op")
		require.Contains(t, buf.String(), "anvil-test")
	})

	t.Run("will build an otlp exporter without connecting", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Exporter = ExporterOTLP
		cfg.OTLP.Endpoint = "localhost:4317"
		cfg.OTLP.Insecure = true

		tp, _, err := Init(context.Background(), cfg, SetGlobal(false))
		require.Nil(t, err)
		require.IsType(t, &sdktrace.TracerProvider{}, tp)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		tp.(*sdktrace.TracerProvider).Shutdown(ctx)
	})
}

func TestSampler(t *testing.T) {
	testCases := []struct {
		Name  string
		Ratio float64
		Want  string
	}{
		{Name: "will always sample at ratio 1", Ratio: 1, Want: "AlwaysOnSampler"},
		{Name: "will never sample at ratio 0", Ratio: 0, Want: "AlwaysOffSampler"},
		{Name: "will sample by trace id otherwise", Ratio: 0.25, Want: "TraceIDRatioBased{0.25}"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			require.Contains(t, sampler(testCase.Ratio).Description(), testCase.Want)
		})
	}
}
