// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package conn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"

	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"

	"golang.org/x/time/rate"
)

// AcceptError is a permanent failure of the listener.
type AcceptError struct {
	Cause error
}

// Error implements the error interface.
func (e AcceptError) Error() string {
	return fmt.Sprintf("failed to accept connection: %s", e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e AcceptError) Unwrap() error {
	return e.Cause
}

// Acceptor is the innermost [AcceptService]. Each call accepts exactly
// one connection from its listener.
type Acceptor struct {
	ls      net.Listener
	log     *slog.Logger
	limiter *rate.Limiter
}

// AcceptorOption configures an [Acceptor].
type AcceptorOption func(*Acceptor)

// AcceptorLogHandler sets the handler accept failures are logged to.
func AcceptorLogHandler(h slog.Handler) AcceptorOption {
	return func(a *Acceptor) {
		a.log = slog.New(h)
	}
}

// RetryInterval paces retries after temporary accept failures such as
// running out of file descriptors.
func RetryInterval(d time.Duration) AcceptorOption {
	return func(a *Acceptor) {
		a.limiter = rate.NewLimiter(rate.Every(d), 1)
	}
}

// NewAcceptor returns an [Acceptor] over a bound listener.
func NewAcceptor(ls net.Listener, opts ...AcceptorOption) *Acceptor {
	a := &Acceptor{
		ls:      ls,
		log:     slog.New(noop.LogHandler{}),
		limiter: rate.NewLimiter(rate.Every(50*time.Millisecond), 1),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Addr is the address the listener is bound to.
func (a *Acceptor) Addr() net.Addr {
	return a.ls.Addr()
}

// Handle implements the [service.Service] interface.
func (a *Acceptor) Handle(ctx context.Context, _ struct{}) (*Conn, error) {
	for {
		c, err := a.ls.Accept()
		if err == nil {
			return New(c), nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if !isTemporary(err) {
			return nil, AcceptError{Cause: err}
		}

		a.log.WarnContext(ctx, "temporary failure accepting connection", slogfield.Error(err))
		err = a.limiter.Wait(ctx)
		if err != nil {
			return nil, err
		}
	}
}

func isTemporary(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return false
	}
	if errors.Is(err, syscall.EMFILE) ||
		errors.Is(err, syscall.ENFILE) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ENOBUFS) ||
		errors.Is(err, syscall.ENOMEM) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
