// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package request

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/z5labs/anvil/conn"
	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
)

// HandlerOption configures the adapter returned by [NewHandler].
type HandlerOption func(*handler)

// HandlerLogHandler sets the handler pipeline failures are logged to.
func HandlerLogHandler(h slog.Handler) HandlerOption {
	return func(hd *handler) {
		hd.log = slog.New(h)
	}
}

type handler struct {
	svc Service
	log *slog.Logger
}

// NewHandler serves svc through net/http.
func NewHandler(svc Service, opts ...HandlerOption) http.Handler {
	h := &handler{
		svc: svc,
		log: slog.New(noop.LogHandler{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP implements the [http.Handler] interface.
func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	// net/http only sees the connection wrapper, not the *tls.Conn beneath it.
	if r.TLS == nil {
		if c, ok := conn.FromContext(ctx); ok {
			r.TLS = c.TLS()
		}
	}

	resp, err := h.svc.Handle(ctx, r)
	if err != nil {
		h.log.ErrorContext(ctx, "request pipeline failed", slogfield.Error(err))
		resp = ErrorResponse(err)
	}
	if resp == nil {
		resp = NewResponse(http.StatusNoContent)
	}

	header := w.Header()
	for k, vs := range resp.Header {
		header[k] = vs
	}
	w.WriteHeader(resp.StatusCode)

	if resp.Body == nil {
		return
	}
	defer func() {
		if c, ok := resp.Body.(io.Closer); ok {
			c.Close()
		}
	}()

	_, err = resp.Body.WriteTo(w)
	if err != nil {
		h.log.DebugContext(ctx, "failed to write response body", slogfield.Error(err))
	}
}
