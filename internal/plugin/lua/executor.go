package lua

import (
	"context"
	"sync"
	"sync/atomic"

	lua "github.com/yuin/gopher-lua"
)

// defaultQueueSize is used when NewExecutor is given a non-positive size.
const defaultQueueSize = 100

// call is one queued Lua operation.
type call struct {
	ctx    context.Context
	fn     func(L *lua.LState) error
	result chan error
}

// Executor serialises every call into one plugin's Lua state through a single
// worker goroutine, in submission order.
//
// Usage:
//
//	exec := NewExecutor(state, 64)
//	go exec.Run(ctx)
//	defer exec.Close()
//
//	// From any goroutine:
//	err := exec.Execute(ctx, func(L *lua.LState) error {
//	    _, err := lua.Call(ctx, L, handler, arg)
//	    return err
//	})
type Executor struct {
	state  *State
	queue  chan *call
	closed atomic.Bool
	done   chan struct{}

	closeOnce sync.Once
}

// NewExecutor creates an executor for the given state.
func NewExecutor(s *State, queueSize int) *Executor {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &Executor{
		state: s,
		queue: make(chan *call, queueSize),
		done:  make(chan struct{}),
	}
}

// Run processes queued operations until ctx is done or Close is called.
func (e *Executor) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			e.drain(ctx.Err())
			return
		case <-e.done:
			e.drain(ErrExecutorClosed)
			return
		case c := <-e.queue:
			// The caller may have given up while the call was queued.
			if err := c.ctx.Err(); err != nil {
				c.result <- err
				continue
			}
			c.result <- e.state.Do(c.fn)
		}
	}
}

func (e *Executor) drain(err error) {
	for {
		select {
		case c := <-e.queue:
			c.result <- err
		default:
			return
		}
	}
}

// Execute queues fn and waits for it to finish or for ctx to be done.
// fn runs on the executor goroutine with exclusive access to the state. If
// ctx ends while fn is running, Execute returns ctx.Err() without waiting;
// fn should pass ctx to Call so the Lua code is interrupted too.
func (e *Executor) Execute(ctx context.Context, fn func(L *lua.LState) error) error {
	if e.closed.Load() {
		return ErrExecutorClosed
	}

	c := &call{ctx: ctx, fn: fn, result: make(chan error, 1)}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-e.done:
		return ErrExecutorClosed
	case e.queue <- c:
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-c.result:
		if err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
}

// Close stops the executor. Queued operations fail with ErrExecutorClosed.
func (e *Executor) Close() {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.done)
	})
}

// IsClosed returns true if the executor has been closed.
func (e *Executor) IsClosed() bool {
	return e.closed.Load()
}
