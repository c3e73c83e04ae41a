package async

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SafeGo executes a function in a goroutine with:
// - Context cancellation support
// - Panic recovery
// - Timeout enforcement
// - Error logging
//
// Use this instead of bare `go func()` for fire-and-forget work that must
// never take the process down.
//
// Example:
//
//	SafeGo(ctx, 10*time.Second, "notification dispatch", func(ctx context.Context) error {
//	    return dispatcher.Deliver(ctx, id)
//	})
func SafeGo(parentCtx context.Context, timeout time.Duration, taskName string, fn func(context.Context) error) {
	go func() {
		ctx, cancel := context.WithTimeout(parentCtx, timeout)
		defer cancel()

		defer func() {
			if r := recover(); r != nil {
				logrus.WithFields(logrus.Fields{
					"task":  taskName,
					"panic": fmt.Sprint(r),
					"stack": string(debug.Stack()),
				}).Error("SafeGo: panic recovered")
			}
		}()

		if err := fn(ctx); err != nil {
			logrus.WithField("task", taskName).WithError(err).Warn("SafeGo: task failed")
		}
	}()
}

// Detach returns a context that keeps ctx's values but is never cancelled.
// Use it to start background work from a request whose context ends with the response.
func Detach(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

// WorkerPool manages a pool of workers that process tasks from a channel.
// Provides graceful shutdown and error collection.
type WorkerPool struct {
	workers      int
	taskName     string
	timeout      time.Duration
	workCh       chan func(context.Context) error
	doneCh       chan struct{}
	errCh        chan error
	ctx          context.Context
	cancel       context.CancelFunc
	shutdownOnce sync.Once
}

// NewWorkerPool creates a new worker pool.
//
// Example:
//
//	pool := NewWorkerPool(ctx, 4, "scope assignment", 10*time.Second)
//	defer pool.Shutdown(5 * time.Second)
//
//	pool.Submit(func(ctx context.Context) error {
//	    return assign(ctx, scope)
//	})
func NewWorkerPool(ctx context.Context, workers int, taskName string, timeout time.Duration) *WorkerPool {
	if workers < 1 {
		workers = 1
	}
	ctx, cancel := context.WithCancel(ctx)

	pool := &WorkerPool{
		workers:  workers,
		taskName: taskName,
		timeout:  timeout,
		workCh:   make(chan func(context.Context) error, workers*2),
		doneCh:   make(chan struct{}),
		errCh:    make(chan error, workers*10),
		ctx:      ctx,
		cancel:   cancel,
	}

	go func() {
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(id int) {
				defer wg.Done()
				pool.worker(id)
			}(i)
		}
		wg.Wait()
		close(pool.doneCh)
	}()

	return pool
}

// Submit adds a task to the worker pool.
// Returns error if pool is shut down.
func (p *WorkerPool) Submit(fn func(context.Context) error) (err error) {
	select {
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	default:
	}

	// Shutdown may close workCh between the check above and the send below
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker pool shut down")
		}
	}()

	select {
	case p.workCh <- fn:
		return nil
	case <-p.doneCh:
		return fmt.Errorf("worker pool shut down")
	}
}

// Close stops accepting work and blocks until queued tasks drain
func (p *WorkerPool) Close() {
	p.closeWork()
	<-p.doneCh
	p.cancel()
}

// Shutdown gracefully shuts down the worker pool.
// Waits up to timeout for workers to finish current tasks.
func (p *WorkerPool) Shutdown(timeout time.Duration) error {
	var shutdownErr error

	p.shutdownOnce.Do(func() {
		p.closeWork()

		select {
		case <-p.doneCh:
			p.cancel()
		case <-time.After(timeout):
			p.cancel()
			shutdownErr = fmt.Errorf("worker pool shutdown timed out after %v", timeout)
		}
	})

	return shutdownErr
}

func (p *WorkerPool) closeWork() {
	defer func() {
		// already closed
		_ = recover()
	}()
	close(p.workCh)
}

// Errors returns a channel that receives worker errors.
// Non-blocking, use select to check for errors.
func (p *WorkerPool) Errors() <-chan error {
	return p.errCh
}

func (p *WorkerPool) worker(id int) {
	for {
		select {
		case <-p.ctx.Done():
			return

		case fn, ok := <-p.workCh:
			if !ok {
				return
			}
			p.run(id, fn)
		}
	}
}

func (p *WorkerPool) run(id int, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(p.ctx, p.timeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"task":   p.taskName,
				"worker": id,
				"panic":  fmt.Sprint(r),
				"stack":  string(debug.Stack()),
			}).Error("WorkerPool: panic recovered")
			p.report(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := fn(ctx); err != nil {
		p.report(err)
	}
}

func (p *WorkerPool) report(err error) {
	select {
	case p.errCh <- err:
	default:
		logrus.WithField("task", p.taskName).WithError(err).Warn("WorkerPool: error channel full, dropping error")
	}
}

// Result is the outcome of one item processed by Map
type Result[R any] struct {
	Value R
	Err   error
}

// Map applies fn to every item on a bounded worker pool and returns one
// Result per item at the item's original index, whatever order the work
// finished in. A panic in fn becomes that item's error.
//
// Example:
//
//	results := Map(ctx, rows, 8, "bulk import", 10*time.Second,
//	    func(ctx context.Context, i int, row Row) (*Assignment, error) {
//	        return importRow(ctx, row)
//	    })
func Map[T, R any](ctx context.Context, items []T, workers int, taskName string, timeout time.Duration,
	fn func(context.Context, int, T) (R, error)) []Result[R] {

	results := make([]Result[R], len(items))
	if len(items) == 0 {
		return results
	}
	if workers > len(items) {
		workers = len(items)
	}

	pool := NewWorkerPool(ctx, workers, taskName, timeout)
	ran := make([]bool, len(items))

	for i, item := range items {
		i, item := i, item
		// A rejected submit only happens once the parent context is done;
		// the item is reported as not run below.
		_ = pool.Submit(func(ctx context.Context) error {
			ran[i] = true
			defer func() {
				if r := recover(); r != nil {
					results[i].Err = fmt.Errorf("%s item %d: panic: %v", taskName, i, r)
				}
			}()
			results[i].Value, results[i].Err = fn(ctx, i, item)
			return nil
		})
	}

	pool.Close()

	// Items the pool never picked up (parent cancelled) still need an outcome
	for i := range results {
		if !ran[i] {
			results[i].Err = fmt.Errorf("%s item %d not run: %w", taskName, i, context.Cause(ctx))
		}
	}

	return results
}
