// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package request contains the per-request half of the server: the
// [Response] type every handler returns, the layers decorating each
// request and the adapter serving a request [Service] over net/http.
package request

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/z5labs/anvil/service"
)

// Service handles a single HTTP request.
type Service = service.Service[*http.Request, *Response]

// Layer decorates a request [Service].
type Layer = service.Layer[Service, Service]

// HandlerFunc is a func variant of a request [Service].
type HandlerFunc = service.ServiceFunc[*http.Request, *Response]

// Response is produced by a handler. Body is written lazily after the
// status line and headers, so layers may wrap it to observe completion.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.WriterTo
}

// NewResponse returns a body-less response with an empty header.
func NewResponse(status int) *Response {
	return &Response{
		StatusCode: status,
		Header:     make(http.Header),
	}
}

// Bytes returns a response with a fixed body.
func Bytes(status int, contentType string, b []byte) *Response {
	resp := NewResponse(status)
	if contentType != "" {
		resp.Header.Set("Content-Type", contentType)
	}
	resp.Body = bytes.NewReader(b)
	return resp
}

// BodyFunc is a func variant of [io.WriterTo] for streaming bodies.
type BodyFunc func(io.Writer) (int64, error)

// WriteTo implements the [io.WriterTo] interface.
func (f BodyFunc) WriteTo(w io.Writer) (int64, error) {
	return f(w)
}

// StatusError is an error carrying the HTTP status it should be reported as.
type StatusError struct {
	Code  int
	Cause error
}

// Error implements the error interface.
func (e StatusError) Error() string {
	if e.Cause == nil {
		return http.StatusText(e.Code)
	}
	return fmt.Sprintf("%d %s: %s", e.Code, http.StatusText(e.Code), e.Cause)
}

// Unwrap implements the implicit interface for usage with errors.Is and errors.As.
func (e StatusError) Unwrap() error {
	return e.Cause
}

// Error returns a [StatusError].
func Error(code int, cause error) error {
	return StatusError{Code: code, Cause: cause}
}

// StatusCode is the status err should be reported as. Errors which are
// not a [StatusError] are internal server errors.
func StatusCode(err error) int {
	var serr StatusError
	if errors.As(err, &serr) {
		return serr.Code
	}
	return http.StatusInternalServerError
}

// ErrorResponse converts err into a plain text response. Only the status
// text is exposed for 5xx errors.
func ErrorResponse(err error) *Response {
	code := StatusCode(err)
	msg := http.StatusText(code)
	var serr StatusError
	if code < 500 && errors.As(err, &serr) && serr.Cause != nil {
		msg = serr.Cause.Error()
	}
	resp := Bytes(code, "text/plain; charset=utf-8", []byte(msg+"\n"))
	resp.Header.Set("X-Content-Type-Options", "nosniff")
	return resp
}

// observedBody reports the outcome of writing a body exactly once,
// either after WriteTo or on Close if the body was never written.
type observedBody struct {
	body io.WriterTo
	done func(n int64, err error)
	once bool
}

func (b *observedBody) WriteTo(w io.Writer) (int64, error) {
	n, err := b.body.WriteTo(w)
	b.finish(n, err)
	return n, err
}

func (b *observedBody) Close() error {
	var err error
	if c, ok := b.body.(io.Closer); ok {
		err = c.Close()
	}
	b.finish(0, errBodyNotWritten)
	return err
}

func (b *observedBody) finish(n int64, err error) {
	if b.once {
		return
	}
	b.once = true
	b.done(n, err)
}

var errBodyNotWritten = errors.New("response body was never written")

// OnBodyComplete arranges for done to be called once resp's body has been
// fully written, or immediately if resp has no body.
func OnBodyComplete(resp *Response, done func(n int64, err error)) {
	if resp.Body == nil {
		done(0, nil)
		return
	}
	resp.Body = &observedBody{body: resp.Body, done: done}
}
