// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package request

import (
	"context"
	"net/http"
	"time"

	"github.com/z5labs/anvil/conn"

	"go.uber.org/zap"
)

// AccessLogLayer writes one line per request once its body has been sent.
type AccessLogLayer struct {
	log *zap.Logger
	now func() time.Time
}

// NewAccessLogLayer logs to l. A nil logger disables the layer.
func NewAccessLogLayer(l *zap.Logger) *AccessLogLayer {
	if l == nil {
		l = zap.NewNop()
	}
	return &AccessLogLayer{
		log: l,
		now: time.Now,
	}
}

// Layer implements the [service.Layer] interface.
func (l *AccessLogLayer) Layer(inner Service) Service {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		start := l.now()

		resp, err := inner.Handle(ctx, r)
		if err != nil {
			l.write(ctx, r, start, StatusCode(err), 0, err)
			return resp, err
		}
		if resp == nil {
			l.write(ctx, r, start, http.StatusNoContent, 0, nil)
			return resp, nil
		}

		status := resp.StatusCode
		OnBodyComplete(resp, func(n int64, err error) {
			l.write(ctx, r, start, status, n, err)
		})
		return resp, nil
	})
}

func (l *AccessLogLayer) write(ctx context.Context, r *http.Request, start time.Time, status int, n int64, err error) {
	fields := []zap.Field{
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("protocol", r.Proto),
		zap.Int("status", status),
		zap.Int64("responseSize", n),
		zap.Duration("duration", l.now().Sub(start)),
	}
	if route, ok := RouteFromContext(ctx); ok {
		fields = append(fields, zap.String("endpoint", route.Name), zap.String("route", route.Pattern))
	}
	if id, ok := IDFromContext(ctx); ok {
		fields = append(fields, zap.String("requestId", id))
	}
	if c, ok := conn.FromContext(ctx); ok {
		fields = append(fields, zap.String("connId", c.ID()))
	}
	if err != nil {
		fields = append(fields, zap.Error(err))
	}
	l.log.Info("request", fields...)
}
