// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
)

type record struct {
	Message string `json:"msg"`
	Level   string `json:"level"`
	OTel    struct {
		TraceID string `json:"trace_id"`
		SpanID  string `json:"span_id"`
	} `json:"otel"`
}

func TestTraceHandler_Handle(t *testing.T) {
	t.Run("will not add trace id and span id", func(t *testing.T) {
		t.Run("if the span context is invalid", func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{})))

			log.InfoContext(context.Background(), "test")

			var rec record
			require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
			require.Equal(t, "test", rec.Message)
			require.Empty(t, rec.OTel.TraceID)
			require.Empty(t, rec.OTel.SpanID)
		})
	})

	t.Run("will add trace id and span id", func(t *testing.T) {
		t.Run("if the span context is valid", func(t *testing.T) {
			var buf bytes.Buffer
			log := slog.New(NewTraceHandler(slog.NewJSONHandler(&buf, &slog.HandlerOptions{})).WithAttrs(nil))

			tp := sdktrace.NewTracerProvider()
			defer tp.Shutdown(context.Background())

			ctx, span := tp.Tracer("logging").Start(context.Background(), "test")
			defer span.End()
			require.True(t, span.SpanContext().IsValid())

			log.InfoContext(ctx, "test")

			var rec record
			require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
			require.Equal(t, span.SpanContext().TraceID().String(), rec.OTel.TraceID)
			require.Equal(t, span.SpanContext().SpanID().String(), rec.OTel.SpanID)
		})
	})
}

func TestNewHandler(t *testing.T) {
	testCases := []struct {
		name   string
		cfg    Config
		verify func(*testing.T, string)
	}{
		{
			name: "defaults to json at info",
			cfg:  Config{},
			verify: func(t *testing.T, out string) {
				require.NotContains(t, out, "hidden")
				var rec record
				require.NoError(t, json.Unmarshal([]byte(out), &rec))
				require.Equal(t, "shown", rec.Message)
			},
		},
		{
			name: "text format at debug",
			cfg:  Config{Level: "debug", Format: "text"},
			verify: func(t *testing.T, out string) {
				require.Contains(t, out, "msg=hidden")
				require.Contains(t, out, "msg=shown")
			},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			h, err := NewHandler(&buf, tc.cfg)
			require.NoError(t, err)

			log := slog.New(h)
			log.Debug("hidden")
			log.Info("shown")
			tc.verify(t, strings.TrimSpace(buf.String()))
		})
	}

	t.Run("will return an error", func(t *testing.T) {
		t.Run("if the level is unknown", func(t *testing.T) {
			_, err := NewHandler(&bytes.Buffer{}, Config{Level: "loud"})

			var lerr UnknownLevelError
			require.ErrorAs(t, err, &lerr)
		})

		t.Run("if the format is unknown", func(t *testing.T) {
			_, err := NewHandler(&bytes.Buffer{}, Config{Format: "xml"})

			var ferr UnknownFormatError
			require.ErrorAs(t, err, &ferr)
		})
	})
}

func TestNewAccessLogger(t *testing.T) {
	t.Run("will return a nop logger", func(t *testing.T) {
		t.Run("if the access log is disabled", func(t *testing.T) {
			log, err := NewAccessLogger(AccessLogConfig{Disabled: true})
			require.NoError(t, err)
			require.False(t, log.Core().Enabled(zap.InfoLevel))
		})
	})

	t.Run("will write json lines", func(t *testing.T) {
		var buf bytes.Buffer
		log := NewAccessLoggerTo(&buf)
		log.Info("request", zap.Int("status", 200))
		require.NoError(t, log.Sync())

		var line map[string]any
		require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
		require.Equal(t, "request", line["type"])
		require.Equal(t, float64(200), line["status"])
	})
}
