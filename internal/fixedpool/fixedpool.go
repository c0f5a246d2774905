// Copyright (c) 2026 Z5Labs and Contributors
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

// Package fixedpool runs blocking work on a fixed number of goroutines.
package fixedpool

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/z5labs/anvil/internal/noop"
	"github.com/z5labs/anvil/internal/slogfield"
	"github.com/z5labs/anvil/internal/try"
	"github.com/z5labs/anvil/metrics"
)

// ErrPoolClosed is returned to submitters once [Pool.Shutdown] has been called.
var ErrPoolClosed = errors.New("fixedpool: pool is closed")

type unit struct {
	ctx  context.Context
	run  func(context.Context) error
	skip func(error)
}

// Pool is a fixed set of workers pulling from one bounded queue.
type Pool struct {
	log     *slog.Logger
	workers int
	queue   chan unit

	// mu only guards closing queue against concurrent sends.
	mu     sync.RWMutex
	closed bool

	// stopping releases submitters blocked on a full queue so
	// Shutdown can take mu.
	stopping chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
	done      chan struct{}

	active metrics.Counter
	queued metrics.Counter
	panics metrics.Counter
	total  metrics.Counter
}

// Option configures a [Pool].
type Option func(*Pool)

// LogHandler sets the handler used to report panics.
func LogHandler(h slog.Handler) Option {
	return func(p *Pool) {
		p.log = slog.New(h)
	}
}

// Metrics reports pool utilization to r.
func Metrics(r *metrics.Registry) Option {
	return func(p *Pool) {
		p.active = r.Counter("server.worker.active")
		p.queued = r.Counter("server.worker.queued")
		p.panics = r.Counter("server.worker.panic")
		p.total = r.Counter(metrics.ProcessPanics)
	}
}

// New starts workers goroutines sharing a queue of queueSize pending units.
// A queueSize of zero makes every submission hand off directly to an idle worker.
func New(workers, queueSize int, opts ...Option) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}

	r := metrics.NewRegistry()
	p := &Pool{
		log:      slog.New(noop.LogHandler{}),
		workers:  workers,
		queue:    make(chan unit, queueSize),
		stopping: make(chan struct{}),
		done:     make(chan struct{}),
	}
	Metrics(r)(p)
	for _, opt := range opts {
		opt(p)
	}

	p.wg.Add(workers)
	for range workers {
		go p.work()
	}
	return p
}

// Workers is the fixed number of goroutines executing units.
func (p *Pool) Workers() int {
	return p.workers
}

// Active is the number of units currently executing.
func (p *Pool) Active() int64 {
	return p.active.Count()
}

// Queued is the number of units waiting for a worker.
func (p *Pool) Queued() int64 {
	return p.queued.Count()
}

func (p *Pool) work() {
	defer p.wg.Done()

	for u := range p.queue {
		p.queued.Dec()

		if err := u.ctx.Err(); err != nil {
			u.skip(err)
			continue
		}

		p.active.Inc()
		err := u.run(u.ctx)
		p.active.Dec()

		var perr try.PanicError
		if errors.As(err, &perr) {
			p.panics.Inc()
			p.total.Inc()
			p.log.ErrorContext(
				u.ctx,
				"recovered panic in blocking unit",
				slogfield.Error(perr),
				slogfield.String("stack", string(perr.Stack)),
			)
		}
	}
}

func (p *Pool) submit(ctx context.Context, u unit) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	select {
	case <-p.stopping:
		return ErrPoolClosed
	default:
	}

	p.queued.Inc()
	select {
	case p.queue <- u:
		return nil
	case <-p.stopping:
		p.queued.Dec()
		return ErrPoolClosed
	case <-ctx.Done():
		p.queued.Dec()
		return ctx.Err()
	}
}

// Do runs f on one of the pool's workers and waits for its result.
//
// When every worker is busy and the queue is full, Do waits for room.
// A panic in f is returned as a [try.PanicError] and does not affect
// the worker. If ctx is done before a worker picks the unit up, f is
// never called.
func Do[T any](ctx context.Context, p *Pool, f func(context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}

	resCh := make(chan result, 1)
	u := unit{
		ctx: ctx,
		run: func(ctx context.Context) (err error) {
			var res result
			defer func() {
				resCh <- res
				err = res.err
			}()
			defer try.Recover(&res.err)

			res.v, res.err = f(ctx)
			return
		},
		skip: func(err error) {
			resCh <- result{err: err}
		},
	}

	var zero T
	err := p.submit(ctx, u)
	if err != nil {
		return zero, err
	}

	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-resCh:
		return res.v, res.err
	}
}

// Shutdown stops accepting new units and waits for every queued and
// running unit to finish. Submitters still waiting for queue space get
// [ErrPoolClosed]. It returns ctx.Err() if ctx is done first, in which
// case the workers are left to finish in the background.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.closeOnce.Do(func() {
		close(p.stopping)

		go func() {
			p.mu.Lock()
			p.closed = true
			close(p.queue)
			p.mu.Unlock()

			p.wg.Wait()
			close(p.done)
		}()
	})

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return nil
	}
}

// Done is closed once every worker has exited after [Pool.Shutdown].
func (p *Pool) Done() <-chan struct{} {
	return p.done
}
