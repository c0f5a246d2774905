// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package request

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/z5labs/anvil/request"

var attributeRequestID = attribute.Key("http.request.id")

// TracePropagationLayer continues the caller's trace when the request
// carries W3C trace context. Otherwise the span layer starts a new trace.
type TracePropagationLayer struct {
	propagator propagation.TextMapPropagator
}

// NewTracePropagationLayer extracts with p, or the global propagator if p is nil.
func NewTracePropagationLayer(p propagation.TextMapPropagator) *TracePropagationLayer {
	return &TracePropagationLayer{propagator: p}
}

// Layer implements the [service.Layer] interface.
func (l *TracePropagationLayer) Layer(inner Service) Service {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		p := l.propagator
		if p == nil {
			p = otel.GetTextMapPropagator()
		}

		ctx = p.Extract(ctx, propagation.HeaderCarrier(r.Header))
		return inner.Handle(ctx, r.WithContext(ctx))
	})
}

// SpansLayer wraps each request in a server span named after its route.
// The span ends once the response body has been written. The span context
// is injected into the response headers.
type SpansLayer struct {
	tp         trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// SpansOption configures a [SpansLayer].
type SpansOption func(*SpansLayer)

// SpansPropagator injects the span context into responses with p.
// It should match the propagator given to [NewTracePropagationLayer].
func SpansPropagator(p propagation.TextMapPropagator) SpansOption {
	return func(l *SpansLayer) {
		l.propagator = p
	}
}

// NewSpansLayer uses tp, or the global tracer provider if tp is nil.
// Without [SpansPropagator] the global propagator is used.
func NewSpansLayer(tp trace.TracerProvider, opts ...SpansOption) *SpansLayer {
	l := &SpansLayer{tp: tp}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Layer implements the [service.Layer] interface.
func (l *SpansLayer) Layer(inner Service) Service {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		tp := l.tp
		if tp == nil {
			tp = otel.GetTracerProvider()
		}

		name := r.Method
		attrs := []trace.SpanStartOption{
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.URLPath(r.URL.Path),
				semconv.NetworkProtocolVersion(protocolVersion(r)),
			),
		}
		if route, ok := RouteFromContext(ctx); ok && route.Pattern != "" {
			name = r.Method + " " + route.Pattern
			attrs = append(attrs, trace.WithAttributes(semconv.HTTPRoute(route.Pattern)))
		}
		if id, ok := IDFromContext(ctx); ok {
			attrs = append(attrs, trace.WithAttributes(attributeRequestID.String(id)))
		}

		ctx, span := tp.Tracer(instrumentationName).Start(ctx, name, attrs...)

		resp, err := inner.Handle(ctx, r.WithContext(ctx))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			span.End()
			return resp, err
		}
		if resp == nil {
			span.End()
			return resp, nil
		}

		if resp.Header == nil {
			resp.Header = make(http.Header)
		}
		p := l.propagator
		if p == nil {
			p = otel.GetTextMapPropagator()
		}
		p.Inject(ctx, propagation.HeaderCarrier(resp.Header))

		span.SetAttributes(semconv.HTTPResponseStatusCode(resp.StatusCode))
		if resp.StatusCode >= 500 {
			span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
		}
		OnBodyComplete(resp, func(n int64, err error) {
			span.SetAttributes(semconv.HTTPResponseBodySize(int(n)))
			if err != nil {
				span.RecordError(err)
			}
			span.End()
		})
		return resp, nil
	})
}

func protocolVersion(r *http.Request) string {
	switch r.ProtoMajor {
	case 2:
		return "2"
	case 1:
		if r.ProtoMinor == 0 {
			return "1.0"
		}
		return "1.1"
	default:
		return r.Proto
	}
}
