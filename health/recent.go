// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package health

import (
	"context"
	"sync/atomic"
	"time"
)

// Recent is unhealthy for a window of time after each call to Mark.
// It backs checks like "an endpoint returned a 5xx in the last minute".
type Recent struct {
	window time.Duration
	now    func() time.Time
	last   atomic.Int64
}

// NewRecent returns a healthy [Recent] using window.
func NewRecent(window time.Duration) *Recent {
	return &Recent{
		window: window,
		now:    time.Now,
	}
}

// Mark records an occurrence now.
func (r *Recent) Mark() {
	r.last.Store(r.now().UnixNano())
}

// Last is when Mark was last called, or the zero time.
func (r *Recent) Last() time.Time {
	n := r.last.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Healthy implements the [Metric] interface.
func (r *Recent) Healthy(_ context.Context) bool {
	last := r.Last()
	if last.IsZero() {
		return true
	}
	return r.now().Sub(last) >= r.window
}
