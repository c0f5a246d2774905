// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package request

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/internal/try"
	"github.com/z5labs/anvil/metrics"
)

// MetricPanics counts handler panics converted into responses.
const MetricPanics = "server.request.panic"

// RecoverLayer converts a panic in any inner layer or handler into
// a 500 response.
type RecoverLayer struct {
	log    *slog.Logger
	panics []metrics.Counter
}

// RecoverOption configures a [RecoverLayer].
type RecoverOption func(*RecoverLayer)

// RecoverLogHandler sets the handler recovered panics are logged to.
func RecoverLogHandler(h slog.Handler) RecoverOption {
	return func(l *RecoverLayer) {
		l.log = slog.New(h)
	}
}

// RecoverMetrics counts panics in r, both per request and process wide.
func RecoverMetrics(r *metrics.Registry) RecoverOption {
	return func(l *RecoverLayer) {
		l.panics = append(l.panics,
			r.Counter(MetricPanics),
			r.Counter(metrics.ProcessPanics),
		)
	}
}

// NewRecoverLayer returns a [RecoverLayer].
func NewRecoverLayer(opts ...RecoverOption) *RecoverLayer {
	l := &RecoverLayer{
		log: slog.New(noop.LogHandler{}),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Layer implements the [service.Layer] interface.
func (l *RecoverLayer) Layer(inner Service) Service {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		resp, err := l.handle(ctx, inner, r)

		var perr try.PanicError
		if !errors.As(err, &perr) {
			return resp, err
		}
		for _, c := range l.panics {
			c.Inc()
		}
		l.log.ErrorContext(
			ctx,
			"recovered from panic while handling request",
			slogfield.Any("panic", perr.Value),
			slogfield.String("stack", string(perr.Stack)),
		)
		return ErrorResponse(Error(http.StatusInternalServerError, err)), nil
	})
}

func (l *RecoverLayer) handle(ctx context.Context, inner Service, r *http.Request) (resp *Response, err error) {
	defer try.Recover(&err)
	return inner.Handle(ctx, r)
}
