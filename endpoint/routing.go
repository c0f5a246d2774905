// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package endpoint

import (
	"context"
	"net/http"

	"github.com/z5labs/anvil/request"
)

// Names of the routes attached to requests which matched no endpoint.
const (
	RouteNotFound         = "notFound"
	RouteMethodNotAllowed = "methodNotAllowed"
	RouteRedirect         = "redirect"
)

// match is filled in by the mux handler of the endpoint a request matched.
type match struct {
	ep  *Endpoint
	req *http.Request
}

type matchKey struct{}

func matchHandler(ep Endpoint) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		m, ok := r.Context().Value(matchKey{}).(*match)
		if !ok {
			return
		}
		m.ep = &ep
		m.req = r
	})
}

type endpointKey struct{}

func withEndpoint(ctx context.Context, ep *Endpoint) context.Context {
	return context.WithValue(ctx, endpointKey{}, ep)
}

// FromContext returns the endpoint a request was routed to.
func FromContext(ctx context.Context) (Endpoint, bool) {
	ep, ok := ctx.Value(endpointKey{}).(*Endpoint)
	if !ok {
		return Endpoint{}, false
	}
	return *ep, true
}

// RoutingLayer matches requests against a [Registry]. It always attaches
// a route, including for requests which matched no endpoint, in which case
// the mux's own 404, 405 or redirect response is dispatched instead.
type RoutingLayer struct {
	reg *Registry
}

// NewRoutingLayer returns a [RoutingLayer] for reg.
func NewRoutingLayer(reg *Registry) *RoutingLayer {
	return &RoutingLayer{reg: reg}
}

// Layer implements the [service.Layer] interface.
func (l *RoutingLayer) Layer(inner request.Service) request.Service {
	return request.HandlerFunc(func(ctx context.Context, r *http.Request) (*Response, error) {
		ep, req := l.route(ctx, r)

		ctx = request.WithRoute(ctx, request.Route{Name: ep.Name, Pattern: ep.Pattern})
		ctx = withEndpoint(ctx, ep)
		return inner.Handle(ctx, req.WithContext(ctx))
	})
}

func (l *RoutingLayer) route(ctx context.Context, r *http.Request) (*Endpoint, *http.Request) {
	m := new(match)
	cw := newCaptureWriter()
	l.reg.mux.ServeHTTP(cw, r.WithContext(context.WithValue(ctx, matchKey{}, m)))
	if m.ep != nil {
		return m.ep, m.req
	}

	resp := cw.response()
	ep := &Endpoint{
		Name:    fallbackName(resp.StatusCode),
		Handler: staticHandler{resp: resp},
	}
	return ep, r
}

func fallbackName(status int) string {
	switch {
	case status == http.StatusMethodNotAllowed:
		return RouteMethodNotAllowed
	case status >= 300 && status < 400:
		return RouteRedirect
	default:
		return RouteNotFound
	}
}

type staticHandler struct {
	resp *Response
}

func (h staticHandler) Handle(_ context.Context, _ *http.Request) (*Response, error) {
	return h.resp, nil
}
