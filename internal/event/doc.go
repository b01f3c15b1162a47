// Package event provides the host event bus that plugins hook into.
//
// # Architecture
//
// The bus serves a closed catalogue of topics (see package events). Every
// topic is either an After event or a Before event, and the two kinds are
// dispatched differently:
//
//   - After events are notifications. Emit runs every handler concurrently
//     and returns once all of them have settled. A failing, panicking or
//     timed-out handler is logged and affects nothing else; Emit never
//     reports handler failures.
//
//   - Before events let handlers veto or rewrite a host operation.
//     EmitBefore runs handlers one at a time in subscription order. Each
//     handler returns Continue, Modify or Cancel; the first Cancel wins and
//     later handlers never run. A handler error is returned to the caller
//     as a *HandlerError and aborts the host operation.
//
// Cancellation is a designed outcome, reported in BeforeResult, and is kept
// apart from handler errors. Host operations turn it into a *CancelledError
// with BeforeResult.Err.
//
// # Subscriptions
//
// On and OnBefore return a *Subscription. Unsubscribe removes exactly that
// handler; repeated calls are no-ops. Subscriptions may carry an Owner tag so
// that RemoveOwned can drop everything a plugin registered.
//
// Dispatch works on a snapshot of the handler table taken when the event is
// emitted. A subscription removed before its handler starts is skipped, and
// subscriptions added during dispatch take effect for the next event.
//
// # Usage
//
//	bus := event.NewBus(events.Catalogue(), event.WithLogger(logger))
//
//	sub, err := event.OnBefore(bus, events.NoteBeforeCreate,
//	    func(ctx context.Context, d events.NoteDraft) (event.Decision, error) {
//	        if strings.Contains(d.Content, "spam") {
//	            return event.Cancel("Spam detected"), nil
//	        }
//	        return event.Continue(), nil
//	    })
//	defer sub.Unsubscribe()
//
//	res, err := event.EmitBefore(ctx, bus, events.NoteBeforeCreate, draft)
//
// # Deadlines
//
// WithHandlerTimeout bounds each handler. A Before handler that misses the
// deadline fails the chain with dispatch.ErrHandlerTimeout; an After handler
// that misses it is logged and abandoned.
package event
