// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package conn

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/service"
)

// IdleLayer closes connections which go longer than a timeout without a
// Read or Write call starting or finishing. A blocked Read waiting for the
// next request is not activity. A handler which stalls without touching
// the connection can therefore be reaped as well.
type IdleLayer struct {
	timeout time.Duration
	log     *slog.Logger
	reaped  metrics.Counter
}

// IdleOption configures an [IdleLayer].
type IdleOption func(*IdleLayer)

// IdleLogHandler sets the handler reaped connections are logged to.
func IdleLogHandler(h slog.Handler) IdleOption {
	return func(l *IdleLayer) {
		l.log = slog.New(h)
	}
}

// IdleMetrics counts reaped connections in r.
func IdleMetrics(r *metrics.Registry) IdleOption {
	return func(l *IdleLayer) {
		l.reaped = r.Counter("server.connection.idle-closed")
	}
}

// NewIdleLayer returns an [IdleLayer]. A timeout of zero disables it.
func NewIdleLayer(timeout time.Duration, opts ...IdleOption) *IdleLayer {
	l := &IdleLayer{
		timeout: timeout,
		log:     slog.New(noop.LogHandler{}),
		reaped:  metrics.NewRegistry().Counter("server.connection.idle-closed"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Layer implements the [service.Layer] interface.
func (l *IdleLayer) Layer(inner HandleService) HandleService {
	if l.timeout <= 0 {
		return inner
	}
	return service.ServiceFunc[*Conn, struct{}](func(ctx context.Context, c *Conn) (struct{}, error) {
		timer := time.AfterFunc(l.timeout, func() {
			select {
			case <-c.Done():
				return
			default:
			}
			l.reaped.Inc()
			l.log.DebugContext(
				ctx,
				"closing idle connection",
				slogfield.ConnID(c.ID()),
				slogfield.Duration("idle_timeout", l.timeout),
			)
			c.Close()
		})
		c.OnClose(func() { timer.Stop() })

		c.wrap(func(nc net.Conn) net.Conn {
			return &idleConn{Conn: nc, timer: timer, timeout: l.timeout}
		})
		return inner.Handle(ctx, c)
	})
}

type idleConn struct {
	net.Conn
	timer   *time.Timer
	timeout time.Duration
}

func (c *idleConn) touch() {
	c.timer.Reset(c.timeout)
}

func (c *idleConn) Read(b []byte) (int, error) {
	c.touch()
	n, err := c.Conn.Read(b)
	c.touch()
	return n, err
}

func (c *idleConn) Write(b []byte) (int, error) {
	c.touch()
	n, err := c.Conn.Write(b)
	c.touch()
	return n, err
}
