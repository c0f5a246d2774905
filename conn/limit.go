// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package conn

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/service"
)

// LimitLayer sheds connections beyond a maximum. Excess connections are
// closed as soon as they are accepted rather than queued.
type LimitLayer struct {
	max      int64
	active   atomic.Int64
	log      *slog.Logger
	rejected metrics.Counter
}

// LimitOption configures a [LimitLayer].
type LimitOption func(*LimitLayer)

// LimitLogHandler sets the handler rejections are logged to.
func LimitLogHandler(h slog.Handler) LimitOption {
	return func(l *LimitLayer) {
		l.log = slog.New(h)
	}
}

// LimitMetrics counts rejections in r.
func LimitMetrics(r *metrics.Registry) LimitOption {
	return func(l *LimitLayer) {
		l.rejected = r.Counter("server.connection.rejected")
	}
}

// NewLimitLayer admits at most max concurrently open connections.
func NewLimitLayer(max int, opts ...LimitOption) *LimitLayer {
	l := &LimitLayer{
		max:      int64(max),
		log:      slog.New(noop.LogHandler{}),
		rejected: metrics.NewRegistry().Counter("server.connection.rejected"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Active is the number of admitted connections not yet closed.
func (l *LimitLayer) Active() int64 {
	return l.active.Load()
}

func (l *LimitLayer) acquire() bool {
	for {
		n := l.active.Load()
		if n >= l.max {
			return false
		}
		if l.active.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (l *LimitLayer) release() {
	l.active.Add(-1)
}

// Layer implements the [service.Layer] interface.
func (l *LimitLayer) Layer(inner AcceptService) AcceptService {
	return service.ServiceFunc[struct{}, *Conn](func(ctx context.Context, req struct{}) (*Conn, error) {
		for {
			c, err := inner.Handle(ctx, req)
			if err != nil {
				return nil, err
			}
			if l.acquire() {
				c.OnClose(l.release)
				return c, nil
			}

			l.rejected.Inc()
			l.log.DebugContext(
				ctx,
				"rejecting connection over limit",
				slogfield.ConnID(c.ID()),
				slogfield.PeerAddr(c.PeerAddr()),
				slogfield.Int64("max_connections", l.max),
			)
			c.Close()
		}
	})
}
