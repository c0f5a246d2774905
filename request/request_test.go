// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package request

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/service"

	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func text(status int, body string) Service {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		return Bytes(status, "text/plain", []byte(body)), nil
	})
}

func serve(t *testing.T, svc Service, r *http.Request) *http.Response {
	t.Helper()

	w := httptest.NewRecorder()
	NewHandler(svc).ServeHTTP(w, r)
	return w.Result()
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()

	b, err := io.ReadAll(resp.Body)
	require.Nil(t, err)
	return string(b)
}

func TestNewHandler(t *testing.T) {
	t.Run("will write the status headers and body", func(t *testing.T) {
		svc := HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			resp := Bytes(http.StatusCreated, "text/plain", []byte("made"))
			resp.Header.Set("X-Test", "yes")
			return resp, nil
		})

		resp := serve(t, svc, httptest.NewRequest(http.MethodPost, "/", nil))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
		require.Equal(t, "yes", resp.Header.Get("X-Test"))
		require.Equal(t, "made", readBody(t, resp))
	})

	t.Run("will respond with 204 if the service returns no response", func(t *testing.T) {
		svc := HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			return nil, nil
		})

		resp := serve(t, svc, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusNoContent, resp.StatusCode)
	})

	t.Run("will use the status of a StatusError", func(t *testing.T) {
		svc := HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			return nil, Error(http.StatusBadRequest, errors.New("missing name"))
		})

		resp := serve(t, svc, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, "missing name\n", readBody(t, resp))
	})

	t.Run("will hide the cause of an internal error", func(t *testing.T) {
		svc := HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			return nil, errors.New("db password is hunter2")
		})

		resp := serve(t, svc, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.NotContains(t, readBody(t, resp), "hunter2")
	})
}

func TestOnBodyComplete(t *testing.T) {
	t.Run("will be called immediately if there is no body", func(t *testing.T) {
		called := false
		OnBodyComplete(NewResponse(http.StatusOK), func(n int64, err error) {
			called = true
			require.Zero(t, n)
			require.Nil(t, err)
		})
		require.True(t, called)
	})

	t.Run("will be called once after the body is written", func(t *testing.T) {
		resp := Bytes(http.StatusOK, "", []byte("hello"))

		calls := 0
		var written int64
		OnBodyComplete(resp, func(n int64, err error) {
			calls++
			written = n
		})
		require.Zero(t, calls)

		var sb strings.Builder
		_, err := resp.Body.WriteTo(&sb)
		require.Nil(t, err)
		require.Nil(t, resp.Body.(io.Closer).Close())

		require.Equal(t, 1, calls)
		require.Equal(t, int64(5), written)
	})

	t.Run("will report an error if the body is closed without being written", func(t *testing.T) {
		resp := Bytes(http.StatusOK, "", []byte("hello"))

		var got error
		OnBodyComplete(resp, func(n int64, err error) {
			got = err
		})
		require.Nil(t, resp.Body.(io.Closer).Close())
		require.ErrorIs(t, got, errBodyNotWritten)
	})
}

func TestRequestIDLayer(t *testing.T) {
	testCases := []struct {
		Name   string
		Trust  bool
		Header string
		Value  string
		Reused bool
	}{
		{Name: "will generate an id if the client sends none", Trust: true},
		{Name: "will reuse X-Request-Id if trusted", Trust: true, Header: HeaderRequestID, Value: "abc", Reused: true},
		{Name: "will reuse X-B3-RequestId if trusted", Trust: true, Header: HeaderB3RequestID, Value: "b3", Reused: true},
		{Name: "will ignore the client id if not trusted", Header: HeaderRequestID, Value: "abc"},
	}

	for _, testCase := range testCases {
		t.Run(testCase.Name, func(t *testing.T) {
			var seen string
			inner := HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
				seen, _ = IDFromContext(ctx)
				return NewResponse(http.StatusOK), nil
			})

			r := httptest.NewRequest(http.MethodGet, "/", nil)
			if testCase.Header != "" {
				r.Header.Set(testCase.Header, testCase.Value)
			}

			svc := service.Apply[Service, Service](NewRequestIDLayer(testCase.Trust), inner)
			resp, err := svc.Handle(r.Context(), r)
			require.Nil(t, err)
			require.NotEmpty(t, seen)
			require.Equal(t, seen, resp.Header.Get(HeaderRequestID))
			if testCase.Reused {
				require.Equal(t, testCase.Value, seen)
				return
			}
			require.NotEqual(t, testCase.Value, seen)
		})
	}
}

func TestSpansLayer(t *testing.T) {
	newProvider := func() (*tracetest.SpanRecorder, *sdktrace.TracerProvider) {
		rec := tracetest.NewSpanRecorder()
		return rec, sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	}

	t.Run("will end the span only after the body is written", func(t *testing.T) {
		rec, tp := newProvider()

		var svc Service = text(http.StatusOK, "hello")
		svc = service.Apply[Service, Service](NewSpansLayer(tp), svc)

		r := httptest.NewRequest(http.MethodGet, "/hello", nil)
		ctx := WithRoute(r.Context(), Route{Name: "hello", Pattern: "/hello"})

		resp, err := svc.Handle(ctx, r.WithContext(ctx))
		require.Nil(t, err)
		require.Empty(t, rec.Ended())

		var sb strings.Builder
		_, err = resp.Body.WriteTo(&sb)
		require.Nil(t, err)

		spans := rec.Ended()
		require.Len(t, spans, 1)
		require.Equal(t, "GET /hello", spans[0].Name())
	})

	t.Run("will continue the trace of the caller", func(t *testing.T) {
		rec, tp := newProvider()

		var svc Service = HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			return nil, nil
		})
		svc = service.Apply(
			service.Stack[Service](
				NewTracePropagationLayer(propagation.TraceContext{}),
				NewSpansLayer(tp),
			),
			svc,
		)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		r.Header.Set("traceparent", "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01")

		_, err := svc.Handle(r.Context(), r)
		require.Nil(t, err)

		spans := rec.Ended()
		require.Len(t, spans, 1)
		require.Equal(t, "4bf92f3577b34da6a3ce929d0e0e4736", spans[0].SpanContext().TraceID().String())
		require.Equal(t, "00f067aa0ba902b7", spans[0].Parent().SpanID().String())
	})

	t.Run("will inject the span context with the configured propagator", func(t *testing.T) {
		_, tp := newProvider()

		var svc Service = text(http.StatusOK, "ok")
		svc = service.Apply[Service, Service](
			NewSpansLayer(tp, SpansPropagator(propagation.TraceContext{})),
			svc,
		)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		resp, err := svc.Handle(r.Context(), r)
		require.Nil(t, err)
		require.NotEmpty(t, resp.Header.Get("traceparent"))
	})

	t.Run("will record errors returned by the inner service", func(t *testing.T) {
		rec, tp := newProvider()

		var svc Service = HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			return nil, errors.New("failed")
		})
		svc = service.Apply[Service, Service](NewSpansLayer(tp), svc)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := svc.Handle(r.Context(), r)
		require.Error(t, err)

		spans := rec.Ended()
		require.Len(t, spans, 1)
		require.Len(t, spans[0].Events(), 1)
	})
}

func TestAccessLogLayer(t *testing.T) {
	t.Run("will log once the body is written", func(t *testing.T) {
		core, logs := observer.New(zap.InfoLevel)

		var svc Service = text(http.StatusAccepted, "queued")
		svc = service.Apply(
			service.Stack[Service](
				NewRequestIDLayer(false),
				NewAccessLogLayer(zap.New(core)),
			),
			svc,
		)

		resp := serve(t, svc, httptest.NewRequest(http.MethodPut, "/jobs", nil))
		require.Equal(t, http.StatusAccepted, resp.StatusCode)

		entries := logs.All()
		require.Len(t, entries, 1)

		fields := entries[0].ContextMap()
		require.Equal(t, "PUT", fields["method"])
		require.Equal(t, "/jobs", fields["path"])
		require.Equal(t, int64(http.StatusAccepted), fields["status"])
		require.Equal(t, int64(len("queued")), fields["responseSize"])
		require.Equal(t, resp.Header.Get(HeaderRequestID), fields["requestId"])
	})
}

func TestRecoverLayer(t *testing.T) {
	t.Run("will convert a panic into a 500 response", func(t *testing.T) {
		reg := metrics.NewRegistry()

		var svc Service = HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			panic("boom")
		})
		svc = service.Apply[Service, Service](NewRecoverLayer(RecoverMetrics(reg)), svc)

		resp := serve(t, svc, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		require.Equal(t, int64(1), reg.Counter(MetricPanics).Count())
		require.Equal(t, int64(1), reg.Counter(metrics.ProcessPanics).Count())
	})

	t.Run("will pass through errors which are not panics", func(t *testing.T) {
		var svc Service = HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
			return nil, Error(http.StatusConflict, nil)
		})
		svc = service.Apply[Service, Service](NewRecoverLayer(), svc)

		r := httptest.NewRequest(http.MethodGet, "/", nil)
		_, err := svc.Handle(r.Context(), r)
		require.Equal(t, http.StatusConflict, StatusCode(err))
	})
}
