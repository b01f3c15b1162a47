package event

import (
	"errors"
	"fmt"

	"github.com/dshills/fedihook/internal/event/topic"
)

// Sentinel errors for the event bus.
var (
	// ErrUnknownTopic is returned for topics outside the catalogue.
	ErrUnknownTopic = errors.New("unknown topic")

	// ErrWrongKind is returned when an After topic is used with a Before
	// operation or the reverse.
	ErrWrongKind = errors.New("wrong event kind")

	// ErrNilHandler is returned when a nil handler is provided.
	ErrNilHandler = errors.New("handler cannot be nil")

	// ErrCancelled is matched by every *CancelledError.
	ErrCancelled = errors.New("operation cancelled by plugin")
)

// SubscriptionError reports misuse of the catalogue: a malformed or unknown
// topic, a kind mismatch, or a nil handler.
type SubscriptionError struct {
	// Topic is the topic that was used.
	Topic topic.Topic

	// Op is the bus operation, e.g. "on" or "emitBefore".
	Op string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *SubscriptionError) Error() string {
	return fmt.Sprintf("event %s %q: %v", e.Op, e.Topic, e.Err)
}

// Unwrap returns the underlying error.
func (e *SubscriptionError) Unwrap() error {
	return e.Err
}

// HandlerError wraps an error from a Before handler with additional context.
type HandlerError struct {
	// SubscriptionID is the ID of the subscription whose handler failed.
	SubscriptionID string

	// PluginID is the owning plugin, empty for host subscriptions.
	PluginID string

	// Topic is the topic the handler was subscribed to.
	Topic topic.Topic

	// Err is the underlying error.
	Err error
}

// Error names the plugin (or subscription) and topic, followed by the
// handler's own message unchanged.
func (e *HandlerError) Error() string {
	if e.PluginID != "" {
		return "handler error for plugin " + e.PluginID + " on topic " + string(e.Topic) + ": " + e.Err.Error()
	}
	return "handler error for subscription " + e.SubscriptionID + " on topic " + string(e.Topic) + ": " + e.Err.Error()
}

// Unwrap returns the underlying error.
func (e *HandlerError) Unwrap() error {
	return e.Err
}

// CancelledError is the failure of a host operation vetoed by a Before
// handler. It is a designed outcome, not a handler failure.
type CancelledError struct {
	// Topic is the Before event that was cancelled.
	Topic topic.Topic

	// Reason is the handler's reason, possibly empty.
	Reason string
}

// Error returns the reason, or a generic message when none was given.
func (e *CancelledError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return string(e.Topic) + ": " + ErrCancelled.Error()
}

// Is allows errors.Is to match CancelledError with ErrCancelled.
func (e *CancelledError) Is(target error) bool {
	return target == ErrCancelled
}

// IsCancelled reports whether err is or wraps a *CancelledError.
func IsCancelled(err error) bool {
	var ce *CancelledError
	return errors.As(err, &ce)
}
