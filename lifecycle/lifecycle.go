// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package lifecycle coordinates graceful shutdown of a running server.
//
// Shutdown work is registered as [Hook]s against a [Phase]. Once a
// [Coordinator] is triggered it runs the hooks of each phase
// concurrently, moving to the next phase only when every hook of the
// current one has returned.
package lifecycle

import (
	"context"
	"errors"
)

// Hook is a unit of shutdown work.
type Hook interface {
	Run(context.Context) error
}

// HookFunc is a func variant of the [Hook] interface.
type HookFunc func(context.Context) error

// Run implements the [Hook] interface.
func (f HookFunc) Run(ctx context.Context) error {
	return f(ctx)
}

// MultiHook runs hooks one after another. Every hook runs even if an
// earlier one failed and the failures are joined.
func MultiHook(hooks ...Hook) Hook {
	return HookFunc(func(ctx context.Context) error {
		var errs []error
		for _, h := range hooks {
			if err := h.Run(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}
