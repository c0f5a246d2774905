// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/z5labs/anvil/conn"

	"golang.org/x/net/http2"
)

// engine is the terminal connection service. It speaks HTTP/2 to
// connections which negotiated h2 and HTTP/1.x to everything else.
type engine struct {
	h1      *http.Server
	h2      *http2.Server
	handler http.Handler

	// ctx is cancelled to forcibly terminate every connection.
	ctx context.Context

	// stopping is set before h1 is shut down. HTTP/2 connections which
	// arrive afterwards would never receive a GOAWAY.
	stopping atomic.Bool
}

// HTTP2ConfigError is returned by [Server.Start] when HTTP/2 cannot be
// configured for the server's TLS settings.
type HTTP2ConfigError struct {
	Cause error
}

// Error implements the error interface.
func (e HTTP2ConfigError) Error() string {
	return fmt.Sprintf("failed to configure http2: %s", e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e HTTP2ConfigError) Unwrap() error {
	return e.Cause
}

func newEngine(ctx context.Context, h http.Handler, tlsConfig *tls.Config, logHandler slog.Handler) (*engine, error) {
	e := &engine{
		h2:      &http2.Server{},
		handler: h,
		ctx:     ctx,
	}
	e.h1 = &http.Server{
		Handler:           h,
		ReadHeaderTimeout: 30 * time.Second,
		MaxHeaderBytes:    1 << 20,
		ErrorLog:          slog.NewLogLogger(logHandler, slog.LevelDebug),
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
		ConnContext: func(ctx context.Context, c net.Conn) context.Context {
			if ac, ok := c.(*conn.Conn); ok {
				return conn.NewContext(ctx, ac)
			}
			return ctx
		},
	}

	if tlsConfig != nil {
		e.h1.TLSConfig = tlsConfig.Clone()
	}

	// Registers the h2 server for graceful shutdown alongside h1.
	err := http2.ConfigureServer(e.h1, e.h2)
	if err != nil {
		return nil, HTTP2ConfigError{Cause: err}
	}
	return e, nil
}

// Handle implements the [service.Service] interface. It returns once
// the connection has been closed.
func (e *engine) Handle(_ context.Context, c *conn.Conn) (struct{}, error) {
	stop := context.AfterFunc(e.ctx, func() {
		c.Close()
	})
	defer stop()

	if c.NegotiatedProtocol() == http2.NextProtoTLS {
		return struct{}{}, e.serveHTTP2(c)
	}

	ls := newConnListener(c)
	err := e.h1.Serve(ls)
	if !ls.accepted.Load() {
		// the server was already shutting down
		c.Close()
		return struct{}{}, err
	}
	<-c.Done()
	return struct{}{}, nil
}

func (e *engine) serveHTTP2(c *conn.Conn) error {
	if e.stopping.Load() {
		return c.Close()
	}
	e.h2.ServeConn(c, &http2.ServeConnOpts{
		Context:    conn.NewContext(e.ctx, c),
		BaseConfig: e.h1,
		Handler:    e.handler,
	})
	return c.Close()
}

// shutdown gracefully stops every HTTP/1 connection and sends GOAWAY
// on every HTTP/2 connection. HTTP/2 connections handed to the engine
// afterwards are closed straight away.
func (e *engine) shutdown(ctx context.Context) error {
	e.stopping.Store(true)
	return e.h1.Shutdown(ctx)
}

// connListener lets an [http.Server] serve exactly one connection.
// After handing it out, Accept blocks until the connection or the
// listener is closed.
type connListener struct {
	c        *conn.Conn
	accepted atomic.Bool

	closeOnce sync.Once
	closed    chan struct{}
}

func newConnListener(c *conn.Conn) *connListener {
	return &connListener{
		c:      c,
		closed: make(chan struct{}),
	}
}

func (l *connListener) Accept() (net.Conn, error) {
	if l.accepted.CompareAndSwap(false, true) {
		return l.c, nil
	}
	select {
	case <-l.c.Done():
	case <-l.closed:
	}
	return nil, net.ErrClosed
}

func (l *connListener) Close() error {
	l.closeOnce.Do(func() {
		close(l.closed)
	})
	return nil
}

func (l *connListener) Addr() net.Addr {
	return l.c.LocalAddr()
}
