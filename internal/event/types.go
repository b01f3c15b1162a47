package event

import (
	"context"
	"time"

	"github.com/dshills/fedihook/internal/event/topic"
)

// Event is what a handler receives.
type Event struct {
	// ID identifies this emission. Every handler of one Emit or EmitBefore
	// call sees the same ID.
	ID string

	// Topic is the event name.
	Topic topic.Topic

	// Data is the payload, always of the topic's canonical payload type.
	// In a Before chain it is the value produced by the previous handler.
	Data any

	// Timestamp is when the emission started.
	Timestamp time.Time
}

// AfterHandler observes a notification event. A returned error is logged and
// otherwise ignored.
type AfterHandler func(ctx context.Context, e Event) error

// BeforeHandler inspects a vetoable event and decides how the host operation
// proceeds. A returned error aborts the host operation.
type BeforeHandler func(ctx context.Context, e Event) (Decision, error)

type verdict int

const (
	verdictContinue verdict = iota
	verdictModify
	verdictCancel
)

// Decision is the outcome of one Before handler.
type Decision struct {
	verdict verdict
	data    any
	reason  string
}

// Continue leaves the payload untouched.
func Continue() Decision {
	return Decision{verdict: verdictContinue}
}

// Modify replaces the payload seen by later handlers and by the host.
func Modify(data any) Decision {
	return Decision{verdict: verdictModify, data: data}
}

// Cancel stops the chain. No later handler runs.
func Cancel(reason string) Decision {
	return Decision{verdict: verdictCancel, reason: reason}
}

// IsCancel reports whether the decision cancels the chain.
func (d Decision) IsCancel() bool {
	return d.verdict == verdictCancel
}

// IsModify reports whether the decision replaces the payload.
func (d Decision) IsModify() bool {
	return d.verdict == verdictModify
}

// Data returns the replacement payload of a Modify decision.
func (d Decision) Data() any {
	return d.data
}

// Reason returns the reason of a Cancel decision.
func (d Decision) Reason() string {
	return d.reason
}

// BeforeResult is the outcome of a Before chain that ran to a decision.
type BeforeResult struct {
	// Topic is the event name.
	Topic topic.Topic

	// Cancelled is true if a handler cancelled the chain.
	Cancelled bool

	// Reason is the cancelling handler's reason, possibly empty.
	Reason string

	// Data is the final payload: the input, as modified by the chain.
	// It is the last value before cancellation when Cancelled is true.
	Data any
}

// Err returns a *CancelledError when the chain was cancelled, nil otherwise.
func (r BeforeResult) Err() error {
	if !r.Cancelled {
		return nil
	}
	return &CancelledError{Topic: r.Topic, Reason: r.Reason}
}

// HandlerStatus classifies how a handler invocation ended.
type HandlerStatus string

// Handler statuses.
const (
	StatusOK      HandlerStatus = "ok"
	StatusError   HandlerStatus = "error"
	StatusPanic   HandlerStatus = "panic"
	StatusTimeout HandlerStatus = "timeout"
	StatusSkipped HandlerStatus = "skipped"
)

// Observer receives dispatch measurements. Implementations must be safe for
// concurrent use and must not block.
type Observer interface {
	// EventEmitted is called once per Emit or EmitBefore call.
	EventEmitted(t topic.Topic, kind topic.Kind)

	// HandlerFinished is called after each handler invocation.
	HandlerFinished(t topic.Topic, kind topic.Kind, status HandlerStatus, d time.Duration)

	// ChainCancelled is called when a Before chain is cancelled.
	ChainCancelled(t topic.Topic)
}

// Stats contains event bus statistics.
type Stats struct {
	// EventsEmitted is the total number of Emit and EmitBefore calls that
	// reached dispatch.
	EventsEmitted uint64

	// ChainsCancelled is the number of Before chains a handler cancelled.
	ChainsCancelled uint64

	// HandlersExecuted is the total number of handler executions.
	HandlersExecuted uint64

	// HandlerErrors is the number of handlers that returned errors.
	HandlerErrors uint64

	// HandlerPanics is the number of handlers that panicked.
	HandlerPanics uint64

	// HandlerTimeouts is the number of handlers that missed their deadline.
	HandlerTimeouts uint64

	// ActiveSubscriptions is the current number of subscriptions.
	ActiveSubscriptions int
}
