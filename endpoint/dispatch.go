// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package endpoint

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/z5labs/anvil/health"
	"github.com/z5labs/anvil/internal/fixedpool"
	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/internal/try"
	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/request"
)

// MetricResponses counts responses by endpoint and status class.
const MetricResponses = "server.response"

// Dispatcher is the terminal request service. It invokes the endpoint
// attached by [RoutingLayer], on the blocking pool if the endpoint is blocking.
//
// Handler errors are converted into responses here so every outer
// layer observes the final status.
type Dispatcher struct {
	pool         *fixedpool.Pool
	log          *slog.Logger
	metrics      *metrics.Registry
	fiveHundreds *health.Recent
}

// DispatcherOption configures a [Dispatcher].
type DispatcherOption func(*Dispatcher)

// DispatcherLogHandler sets the handler dispatch failures are logged to.
func DispatcherLogHandler(h slog.Handler) DispatcherOption {
	return func(d *Dispatcher) {
		d.log = slog.New(h)
	}
}

// DispatcherMetrics counts responses in r.
func DispatcherMetrics(r *metrics.Registry) DispatcherOption {
	return func(d *Dispatcher) {
		d.metrics = r
	}
}

// FiveHundreds is marked whenever an endpoint responds with a 5xx status.
func FiveHundreds(r *health.Recent) DispatcherOption {
	return func(d *Dispatcher) {
		d.fiveHundreds = r
	}
}

// NewDispatcher returns a [Dispatcher] submitting blocking endpoints to pool.
func NewDispatcher(pool *fixedpool.Pool, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		pool: pool,
		log:  slog.New(noop.LogHandler{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Handle implements the [request.Service] interface.
func (d *Dispatcher) Handle(ctx context.Context, r *http.Request) (*Response, error) {
	ep, ok := FromContext(ctx)
	if !ok {
		return request.ErrorResponse(request.Error(http.StatusNotFound, nil)), nil
	}

	resp, err := d.invoke(ctx, ep, r)
	if err != nil {
		resp = d.errorResponse(ctx, ep, err)
	}
	if resp == nil {
		resp = request.NewResponse(http.StatusNoContent)
	}

	d.observe(ep, resp.StatusCode)
	return resp, nil
}

func (d *Dispatcher) invoke(ctx context.Context, ep Endpoint, r *http.Request) (*Response, error) {
	if !ep.Blocking {
		return ep.Handler.Handle(ctx, r)
	}
	return fixedpool.Do(ctx, d.pool, func(ctx context.Context) (*Response, error) {
		return ep.Handler.Handle(ctx, r)
	})
}

func (d *Dispatcher) errorResponse(ctx context.Context, ep Endpoint, err error) *Response {
	switch {
	case errors.Is(err, fixedpool.ErrPoolClosed):
		return request.ErrorResponse(request.Error(http.StatusServiceUnavailable, err))
	case errors.As(err, new(try.PanicError)):
		// already logged by the pool
		return request.ErrorResponse(request.Error(http.StatusInternalServerError, err))
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		d.log.DebugContext(ctx, "request abandoned", slogfield.Endpoint(ep.Name), slogfield.Error(err))
		return request.ErrorResponse(request.Error(http.StatusServiceUnavailable, err))
	}

	if request.StatusCode(err) >= 500 {
		d.log.ErrorContext(ctx, "endpoint failed", slogfield.Endpoint(ep.Name), slogfield.Error(err))
	}
	return request.ErrorResponse(err)
}

func (d *Dispatcher) observe(ep Endpoint, status int) {
	if status >= 500 && d.fiveHundreds != nil {
		d.fiveHundreds.Mark()
	}
	if d.metrics == nil {
		return
	}
	d.metrics.Counter(
		MetricResponses,
		metrics.Tag{Key: "endpoint", Value: ep.Name},
		metrics.Tag{Key: "status", Value: statusClass(status)},
	).Inc()
}

func statusClass(status int) string {
	return strconv.Itoa(status/100) + "xx"
}
