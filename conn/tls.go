// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package conn

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/metrics"
	"github.com/z5labs/anvil/service"
)

// HandshakeError is a failed TLS handshake. It only ends the one connection.
type HandshakeError struct {
	Cause error
}

// Error implements the error interface.
func (e HandshakeError) Error() string {
	return fmt.Sprintf("tls handshake failed: %s", e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e HandshakeError) Unwrap() error {
	return e.Cause
}

// TLSLayer terminates TLS before handing the connection to the inner service.
type TLSLayer struct {
	cfg     *tls.Config
	timeout time.Duration
	log     *slog.Logger
	reg     *metrics.Registry
}

// TLSOption configures a [TLSLayer].
type TLSOption func(*TLSLayer)

// HandshakeTimeout bounds how long a client has to complete the handshake.
func HandshakeTimeout(d time.Duration) TLSOption {
	return func(l *TLSLayer) {
		l.timeout = d
	}
}

// TLSLogHandler sets the handler handshake failures are logged to.
func TLSLogHandler(h slog.Handler) TLSOption {
	return func(l *TLSLayer) {
		l.log = slog.New(h)
	}
}

// TLSMetrics counts handshakes by outcome and protocol version in r.
func TLSMetrics(r *metrics.Registry) TLSOption {
	return func(l *TLSLayer) {
		l.reg = r
	}
}

// NewTLSLayer uses a copy of cfg which offers h2 and http/1.1 over ALPN
// unless cfg already lists protocols, and never resumes sessions.
func NewTLSLayer(cfg *tls.Config, opts ...TLSOption) *TLSLayer {
	cfg = cfg.Clone()
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{"h2", "http/1.1"}
	}
	cfg.SessionTicketsDisabled = true

	l := &TLSLayer{
		cfg:     cfg,
		timeout: 10 * time.Second,
		log:     slog.New(noop.LogHandler{}),
		reg:     metrics.NewRegistry(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TLSLayer) handshakes(outcome, protocol string) metrics.Counter {
	return l.reg.Counter(
		"server.tls.handshake",
		metrics.Tag{Key: "outcome", Value: outcome},
		metrics.Tag{Key: "protocol", Value: protocol},
	)
}

// Layer implements the [service.Layer] interface.
func (l *TLSLayer) Layer(inner HandleService) HandleService {
	return service.ServiceFunc[*Conn, struct{}](func(ctx context.Context, c *Conn) (struct{}, error) {
		tc := tls.Server(c.Conn, l.cfg)

		hctx := ctx
		if l.timeout > 0 {
			var cancel context.CancelFunc
			hctx, cancel = context.WithTimeout(ctx, l.timeout)
			defer cancel()
		}

		err := tc.HandshakeContext(hctx)
		if err != nil {
			l.handshakes("failure", "").Inc()
			l.log.DebugContext(
				ctx,
				"tls handshake failed",
				slogfield.ConnID(c.ID()),
				slogfield.PeerAddr(c.PeerAddr()),
				slogfield.Error(err),
			)
			c.Close()
			return struct{}{}, HandshakeError{Cause: err}
		}

		state := tc.ConnectionState()
		c.wrap(func(net.Conn) net.Conn { return tc })
		c.tls = &state
		l.handshakes("success", tls.VersionName(state.Version)).Inc()

		return inner.Handle(ctx, c)
	})
}
