// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package endpoint

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// ErrRegistryFrozen is returned when registering after the server started.
var ErrRegistryFrozen = errors.New("endpoint: registry is frozen")

// DuplicateEndpointError is returned when a method and pattern is registered twice.
type DuplicateEndpointError struct {
	Method  string
	Pattern string
}

// Error implements the error interface.
func (e DuplicateEndpointError) Error() string {
	return fmt.Sprintf("endpoint already registered: %s", routeKey(e.Method, e.Pattern))
}

// PatternConflictError is returned when a pattern is rejected by [http.ServeMux],
// either because it is malformed or because it overlaps another pattern.
type PatternConflictError struct {
	Method  string
	Pattern string
	Cause   any
}

// Error implements the error interface.
func (e PatternConflictError) Error() string {
	return fmt.Sprintf("invalid endpoint pattern %s: %v", routeKey(e.Method, e.Pattern), e.Cause)
}

// MissingHandlerError is returned when an [Endpoint] has no handler.
type MissingHandlerError struct {
	Pattern string
}

// Error implements the error interface.
func (e MissingHandlerError) Error() string {
	return fmt.Sprintf("endpoint has no handler: %s", e.Pattern)
}

// Registry holds every registered [Endpoint]. It only accepts
// registrations until it is frozen.
type Registry struct {
	frozen atomic.Bool

	mu        sync.Mutex
	mux       *http.ServeMux
	endpoints []Endpoint
	keys      map[string]struct{}
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		mux:  http.NewServeMux(),
		keys: make(map[string]struct{}),
	}
}

// Register adds eps with their patterns prefixed by prefix. If blocking
// is set every endpoint runs on the blocking pool.
//
// Registration stops at the first invalid endpoint. Endpoints before it
// remain registered.
func (reg *Registry) Register(prefix string, blocking bool, eps ...Endpoint) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if reg.frozen.Load() {
		return ErrRegistryFrozen
	}

	for _, ep := range eps {
		ep.Pattern = JoinPath(prefix, ep.Pattern)
		ep.Blocking = ep.Blocking || blocking
		if ep.Name == "" {
			ep.Name = routeKey(ep.Method, ep.Pattern)
		}

		err := reg.register(ep)
		if err != nil {
			return err
		}
	}
	return nil
}

func (reg *Registry) register(ep Endpoint) (err error) {
	if ep.Handler == nil {
		return MissingHandlerError{Pattern: ep.Pattern}
	}

	key := routeKey(ep.Method, ep.Pattern)
	if _, exists := reg.keys[key]; exists {
		return DuplicateEndpointError{Method: ep.Method, Pattern: ep.Pattern}
	}

	// ServeMux reports conflicting and malformed patterns by panicking.
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		err = PatternConflictError{Method: ep.Method, Pattern: ep.Pattern, Cause: r}
	}()

	reg.mux.Handle(key, matchHandler(ep))
	reg.keys[key] = struct{}{}
	reg.endpoints = append(reg.endpoints, ep)
	return nil
}

// Freeze stops any further registration.
func (reg *Registry) Freeze() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.frozen.Store(true)
}

// Frozen reports whether [Registry.Freeze] has been called.
func (reg *Registry) Frozen() bool {
	return reg.frozen.Load()
}

// Endpoints returns a copy of every registered endpoint in registration order.
func (reg *Registry) Endpoints() []Endpoint {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	eps := make([]Endpoint, len(reg.endpoints))
	copy(eps, reg.endpoints)
	return eps
}

// JoinPath prefixes pattern with prefix, keeping the trailing slash
// of pattern since it changes how [http.ServeMux] matches.
func JoinPath(prefix, pattern string) string {
	prefix = strings.TrimRight(prefix, "/")
	if !strings.HasPrefix(pattern, "/") {
		pattern = "/" + pattern
	}
	if prefix == "" {
		return pattern
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix + pattern
}

func routeKey(method, pattern string) string {
	if method == "" {
		return pattern
	}
	return method + " " + pattern
}
