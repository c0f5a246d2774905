// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package conn accepts connections and decorates them on their way to
// the HTTP engine. Accept side layers wrap a [service.Service] producing
// connections; handle side layers wrap a service consuming them.
package conn

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"net"
	"sync"
	"time"

	"github.com/z5labs/anvil/service"

	"github.com/oklog/ulid/v2"
)

// AcceptService yields one accepted connection per call.
type AcceptService = service.Service[struct{}, *Conn]

// AcceptLayer decorates an [AcceptService].
type AcceptLayer = service.Layer[AcceptService, AcceptService]

// HandleService serves a connection until it is finished.
type HandleService = service.Service[*Conn, struct{}]

// HandleLayer decorates a [HandleService].
type HandleLayer = service.Layer[HandleService, HandleService]

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

func newID(t time.Time) string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(t), entropy).String()
}

// Conn is an accepted connection along with the attributes layers
// attach to it. A Conn is owned by the goroutine serving it.
type Conn struct {
	net.Conn

	id        string
	createdAt time.Time
	tls       *tls.ConnectionState

	mu      sync.Mutex
	closed  bool
	onClose []func()

	closeOnce sync.Once
	closeErr  error
	done      chan struct{}
}

// New wraps a raw connection.
func New(c net.Conn) *Conn {
	now := time.Now()
	return &Conn{
		Conn:      c,
		id:        newID(now),
		createdAt: now,
		done:      make(chan struct{}),
	}
}

// ID uniquely identifies the connection.
func (c *Conn) ID() string {
	return c.id
}

// CreatedAt is when the connection was accepted.
func (c *Conn) CreatedAt() time.Time {
	return c.createdAt
}

// PeerAddr is the remote address.
func (c *Conn) PeerAddr() net.Addr {
	return c.Conn.RemoteAddr()
}

// TLS is the negotiated TLS state, or nil for plaintext connections.
func (c *Conn) TLS() *tls.ConnectionState {
	return c.tls
}

// NegotiatedProtocol is the ALPN protocol, or "" if none.
func (c *Conn) NegotiatedProtocol() string {
	if c.tls == nil {
		return ""
	}
	return c.tls.NegotiatedProtocol
}

// wrap replaces the underlying stream. It must only be called by the
// goroutine owning c before c is shared with any other goroutine.
func (c *Conn) wrap(f func(net.Conn) net.Conn) {
	c.Conn = f(c.Conn)
}

// OnClose registers f to run exactly once when the connection closes,
// however that happens. Functions run in reverse registration order.
// If the connection is already closed f runs immediately.
func (c *Conn) OnClose(f func()) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		f()
		return
	}
	c.onClose = append(c.onClose, f)
	c.mu.Unlock()
}

// Close closes the connection and runs the registered release functions.
// It is safe to call more than once and from any goroutine.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.Conn.Close()

		c.mu.Lock()
		c.closed = true
		fs := c.onClose
		c.onClose = nil
		c.mu.Unlock()

		for i := len(fs) - 1; i >= 0; i-- {
			fs[i]()
		}
		close(c.done)
	})
	return c.closeErr
}

// Done is closed once [Conn.Close] has completed.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

type connKey struct{}

// NewContext returns a child of ctx carrying c.
func NewContext(ctx context.Context, c *Conn) context.Context {
	return context.WithValue(ctx, connKey{}, c)
}

// FromContext returns the connection a request arrived on.
func FromContext(ctx context.Context) (*Conn, bool) {
	c, ok := ctx.Value(connKey{}).(*Conn)
	return c, ok
}
