// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/z5labs/anvil/endpoint"
	"github.com/z5labs/anvil/request"
)

const maxEchoBytes = 1 << 20

// testResource backs the endpoints exercised by the end-to-end suite.
// Blocking changes how slow requests wait so both dispatch paths are
// covered by the same routes.
type testResource struct {
	blocking bool
}

func (tr testResource) endpoints() []endpoint.Endpoint {
	return []endpoint.Endpoint{
		{Name: "safe", Method: http.MethodGet, Pattern: "/safe", Handler: endpoint.HandlerFunc(tr.safe)},
		{Name: "echo", Method: http.MethodPost, Pattern: "/echo", Handler: endpoint.HandlerFunc(tr.echo)},
		{Name: "slow", Method: http.MethodGet, Pattern: "/slow", Handler: endpoint.HandlerFunc(tr.slow)},
		{Name: "status", Method: http.MethodGet, Pattern: "/status/{code}", Handler: endpoint.HandlerFunc(tr.status)},
		{Name: "panic", Method: http.MethodGet, Pattern: "/panic", Handler: endpoint.HandlerFunc(tr.panic)},
	}
}

func (testResource) safe(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
	return request.Bytes(http.StatusOK, "text/plain; charset=utf-8", []byte("hello")), nil
}

func (testResource) echo(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
	b, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxEchoBytes))
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, request.Error(http.StatusRequestEntityTooLarge, err)
		}
		return nil, request.Error(http.StatusBadRequest, err)
	}
	ct := r.Header.Get("Content-Type")
	if ct == "" {
		ct = "application/octet-stream"
	}
	return request.Bytes(http.StatusOK, ct, b), nil
}

func (tr testResource) slow(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
	d := 100 * time.Millisecond
	if s := r.URL.Query().Get("delay"); s != "" {
		var err error
		d, err = time.ParseDuration(s)
		if err != nil {
			return nil, request.Error(http.StatusBadRequest, err)
		}
	}

	if tr.blocking {
		time.Sleep(d)
		return request.NewResponse(http.StatusNoContent), nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return request.NewResponse(http.StatusNoContent), nil
	}
}

func (testResource) status(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
	code, err := strconv.Atoi(r.PathValue("code"))
	if err != nil || code < 200 || code > 599 {
		return nil, request.Error(http.StatusBadRequest, fmt.Errorf("invalid status code: %q", r.PathValue("code")))
	}
	return request.NewResponse(code), nil
}

func (testResource) panic(ctx context.Context, r *http.Request) (*endpoint.Response, error) {
	panic("requested panic")
}
