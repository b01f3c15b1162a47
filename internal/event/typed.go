package event

import (
	"context"

	"github.com/dshills/fedihook/internal/event/topic"
)

// On registers a typed After handler.
func On[T any](b *Bus, k topic.Key[T], fn func(ctx context.Context, data T) error, opts ...SubscriptionOption) (*Subscription, error) {
	if fn == nil {
		return nil, &SubscriptionError{Topic: k.Topic(), Op: "on", Err: ErrNilHandler}
	}
	return b.On(k.Topic(), func(ctx context.Context, e Event) error {
		data, err := k.Decode(e.Data)
		if err != nil {
			return err
		}
		return fn(ctx, data)
	}, opts...)
}

// OnBefore registers a typed Before handler.
func OnBefore[T any](b *Bus, k topic.Key[T], fn func(ctx context.Context, data T) (Decision, error), opts ...SubscriptionOption) (*Subscription, error) {
	if fn == nil {
		return nil, &SubscriptionError{Topic: k.Topic(), Op: "onBefore", Err: ErrNilHandler}
	}
	return b.OnBefore(k.Topic(), func(ctx context.Context, e Event) (Decision, error) {
		data, err := k.Decode(e.Data)
		if err != nil {
			return Decision{}, err
		}
		return fn(ctx, data)
	}, opts...)
}

// Emit dispatches a typed After event.
func Emit[T any](ctx context.Context, b *Bus, k topic.Key[T], data T) error {
	return b.Emit(ctx, k.Topic(), data)
}

// Result is the typed outcome of a Before chain.
type Result[T any] struct {
	Topic     topic.Topic
	Cancelled bool
	Reason    string
	Data      T
}

// Err returns a *CancelledError when the chain was cancelled, nil otherwise.
func (r Result[T]) Err() error {
	if !r.Cancelled {
		return nil
	}
	return &CancelledError{Topic: r.Topic, Reason: r.Reason}
}

// EmitBefore runs a typed Before chain. On success Data holds the payload as
// modified by the chain.
func EmitBefore[T any](ctx context.Context, b *Bus, k topic.Key[T], data T) (Result[T], error) {
	out := Result[T]{Topic: k.Topic(), Data: data}
	res, err := b.EmitBefore(ctx, k.Topic(), data)
	if err != nil {
		return out, err
	}
	out.Cancelled = res.Cancelled
	out.Reason = res.Reason
	if res.Data != nil {
		final, err := k.Decode(res.Data)
		if err != nil {
			return out, err
		}
		out.Data = final
	}
	return out, nil
}
