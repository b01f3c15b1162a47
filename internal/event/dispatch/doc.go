// Package dispatch runs event handlers for the event bus.
//
// An Executor runs one handler at a time with panic recovery and an optional
// per-handler deadline. JoinAll fans a set of handlers out concurrently and
// waits for every one of them to settle.
//
// # Panic Recovery
//
// A panicking handler never crashes the process. The panic is converted to a
// *PanicError carrying the stack and reported through the configured
// PanicHandler.
//
// # Deadlines
//
// A zero timeout means no deadline. Otherwise a handler that misses its
// deadline yields ErrHandlerTimeout. The handler's context is cancelled, so a
// handler that respects its context stops promptly.
//
// # Usage
//
//	exec := dispatch.NewExecutor()
//	results := exec.JoinAll(ctx, time.Second, []dispatch.Task{h1, h2})
//	for _, r := range results {
//	    if !r.IsSuccess() {
//	        // log r.Err
//	    }
//	}
package dispatch
