package dispatch

import (
	"context"
	"runtime/debug"
	"time"
)

// Task is one unit of handler work.
type Task func(ctx context.Context) error

// Result represents the outcome of a handler execution.
type Result struct {
	// Err is the error returned by the handler, a *PanicError, or
	// ErrHandlerTimeout.
	Err error

	// Panicked is true if the handler panicked.
	Panicked bool

	// TimedOut is true if the handler missed its deadline.
	TimedOut bool

	// Skipped is true if the handler was not executed because ctx was
	// already done.
	Skipped bool

	// Duration is how long the handler took to execute.
	Duration time.Duration
}

// IsSuccess returns true if the handler ran and returned nil.
func (r Result) IsSuccess() bool {
	return r.Err == nil && !r.Skipped
}

// PanicHandler is called when a handler panics during execution.
type PanicHandler func(panicValue any, stack []byte)

// Executor runs handlers with panic recovery, timing and an optional deadline.
type Executor struct {
	panicHandler PanicHandler
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithPanicHandler sets the panic handler for the executor.
func WithPanicHandler(h PanicHandler) ExecutorOption {
	return func(e *Executor) {
		e.panicHandler = h
	}
}

// NewExecutor creates a new executor with the given options.
func NewExecutor(opts ...ExecutorOption) *Executor {
	e := &Executor{}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run executes one task.
//
// A zero timeout means no deadline. With a deadline the task runs on its own
// goroutine and Run returns ErrHandlerTimeout as soon as the deadline passes;
// the task's context is cancelled, but a task that ignores its context keeps
// running in the background until it returns.
func (e *Executor) Run(ctx context.Context, timeout time.Duration, task Task) Result {
	select {
	case <-ctx.Done():
		return Result{Err: ctx.Err(), Skipped: true}
	default:
	}

	if timeout <= 0 {
		return e.execute(ctx, task)
	}

	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan Result, 1)
	go func() {
		done <- e.execute(tctx, task)
	}()

	select {
	case r := <-done:
		// A task that only returned because its deadline fired still
		// counts as timed out.
		if tctx.Err() == nil || ctx.Err() != nil {
			return r
		}
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return Result{Err: err, Duration: time.Since(start)}
		}
	}
	return Result{Err: ErrHandlerTimeout, TimedOut: true, Duration: time.Since(start)}
}

func (e *Executor) execute(ctx context.Context, task Task) (result Result) {
	start := time.Now()

	defer func() {
		result.Duration = time.Since(start)

		if r := recover(); r != nil {
			stack := debug.Stack()
			result.Err = &PanicError{Value: r, Stack: stack}
			result.Panicked = true

			// Protect the panic handler call.
			if e.panicHandler != nil {
				func() {
					defer func() { _ = recover() }()
					e.panicHandler(r, stack)
				}()
			}
		}
	}()

	result.Err = task(ctx)
	return result
}
