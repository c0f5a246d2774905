// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package fixedpool

import (
	"context"
	"errors"
	"sync"

	"github.com/z5labs/anvil/internal/try"
)

// Task is a unit of work executed by [Run].
type Task func(context.Context) error

// Run executes each task on its own goroutine and waits for all of them.
// A failing or panicking task does not cancel its siblings; every error,
// including recovered panics, is joined into the result.
func Run(ctx context.Context, tasks ...Task) error {
	var wg sync.WaitGroup
	errs := make([]error, len(tasks))
	for i, task := range tasks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = runTask(ctx, task)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func runTask(ctx context.Context, t Task) (err error) {
	defer try.Recover(&err)
	return t(ctx)
}
