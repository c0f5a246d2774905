// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package endpoint registers request handlers and routes requests to them.
package endpoint

import (
	"bytes"
	"context"
	"net/http"

	"github.com/z5labs/anvil/request"
)

// Response is the value every [Handler] produces.
type Response = request.Response

// Handler handles requests routed to an [Endpoint].
type Handler = request.Service

// HandlerFunc is a func variant of [Handler].
type HandlerFunc = request.HandlerFunc

// Endpoint binds a [Handler] to a method and path pattern.
type Endpoint struct {
	// Name identifies the endpoint in logs and metrics.
	// It defaults to "METHOD pattern".
	Name string

	// Method may be empty to match any method.
	Method string

	// Pattern uses [http.ServeMux] syntax, e.g. "/users/{id}".
	Pattern string

	Handler Handler

	// Blocking endpoints run on the blocking worker pool
	// instead of the connection goroutine.
	Blocking bool
}

// HTTP adapts a plain [http.Handler] into a [Handler]. The response is
// buffered in full before being returned.
func HTTP(h http.Handler) Handler {
	return HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		cw := newCaptureWriter()
		h.ServeHTTP(cw, r.WithContext(ctx))
		return cw.response(), nil
	})
}

// captureWriter records a response written through net/http.
type captureWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newCaptureWriter() *captureWriter {
	return &captureWriter{header: make(http.Header)}
}

func (w *captureWriter) Header() http.Header {
	return w.header
}

func (w *captureWriter) WriteHeader(status int) {
	if w.status != 0 {
		return
	}
	w.status = status
}

func (w *captureWriter) Write(b []byte) (int, error) {
	w.WriteHeader(http.StatusOK)
	return w.body.Write(b)
}

func (w *captureWriter) response() *Response {
	status := w.status
	if status == 0 {
		status = http.StatusOK
	}
	resp := &Response{
		StatusCode: status,
		Header:     w.header,
	}
	if w.body.Len() > 0 {
		resp.Body = bytes.NewReader(w.body.Bytes())
	}
	return resp
}
