// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package request

import "context"

// Route describes the endpoint a request was matched to.
type Route struct {
	// Name identifies the endpoint in logs and metrics.
	Name string

	// Pattern is the registered path pattern, e.g. "/api/users/{id}".
	// It is empty for requests which matched no endpoint.
	Pattern string
}

type routeKey struct{}

// WithRoute returns a child of ctx carrying r.
func WithRoute(ctx context.Context, r Route) context.Context {
	return context.WithValue(ctx, routeKey{}, r)
}

// RouteFromContext returns the route attached by the routing layer.
func RouteFromContext(ctx context.Context) (Route, bool) {
	r, ok := ctx.Value(routeKey{}).(Route)
	return r, ok
}

type requestIDKey struct{}

// WithID returns a child of ctx carrying the request id.
func WithID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// IDFromContext returns the id attached by [RequestIDLayer].
func IDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(requestIDKey{}).(string)
	return id, ok
}
