// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package service defines the request/response contract every stage of
// the server is built from, along with the layers which decorate it.
package service

import "context"

// Service asynchronously turns a request into a response.
// Implementations must be safe for concurrent use unless documented otherwise.
type Service[Req, Resp any] interface {
	Handle(ctx context.Context, req Req) (Resp, error)
}

// ServiceFunc is a func variant of the [Service] interface.
type ServiceFunc[Req, Resp any] func(context.Context, Req) (Resp, error)

// Handle implements the [Service] interface.
func (f ServiceFunc[Req, Resp]) Handle(ctx context.Context, req Req) (Resp, error) {
	return f(ctx, req)
}

// Layer decorates a service. In and Out are service types so a
// layer may change the request and response types it exposes.
type Layer[In, Out any] interface {
	Layer(inner In) Out
}

// LayerFunc is a func variant of the [Layer] interface.
type LayerFunc[In, Out any] func(In) Out

// Layer implements the [Layer] interface.
func (f LayerFunc[In, Out]) Layer(inner In) Out {
	return f(inner)
}

// Apply wraps inner with l. It is meant to be called once while
// assembling a pipeline, not per request.
func Apply[In, Out any](l Layer[In, Out], inner In) Out {
	return l.Layer(inner)
}

// Compose returns a layer equivalent to applying inner and then outer.
func Compose[A, B, C any](outer Layer[B, C], inner Layer[A, B]) Layer[A, C] {
	return LayerFunc[A, C](func(s A) C {
		return outer.Layer(inner.Layer(s))
	})
}

// Stack folds same-typed layers into one. The first layer is the
// outermost: it sees a request first and its response last.
// An empty stack returns the service unchanged.
func Stack[S any](layers ...Layer[S, S]) Layer[S, S] {
	return LayerFunc[S, S](func(s S) S {
		for i := len(layers) - 1; i >= 0; i-- {
			s = layers[i].Layer(s)
		}
		return s
	})
}
