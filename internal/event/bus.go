package event

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dshills/fedihook/internal/event/dispatch"
	"github.com/dshills/fedihook/internal/event/topic"
)

// errRemoved marks a handler skipped because its subscription was removed
// after the snapshot was taken.
var errRemoved = errors.New("subscription removed")

// Bus is the host event bus. After events fan out concurrently with failures
// contained; Before events run sequentially in subscription order and may be
// modified, cancelled, or failed by their handlers.
//
// Bus is safe for concurrent use.
type Bus struct {
	catalogue *topic.Catalogue
	registry  *registry
	executor  *dispatch.Executor
	config    busConfig

	// Stats
	eventsEmitted    atomic.Uint64
	chainsCancelled  atomic.Uint64
	handlersExecuted atomic.Uint64
	handlerErrors    atomic.Uint64
	handlerPanics    atomic.Uint64
	handlerTimeouts  atomic.Uint64
}

// NewBus creates a bus serving the given catalogue.
func NewBus(catalogue *topic.Catalogue, opts ...BusOption) *Bus {
	config := defaultBusConfig()
	for _, opt := range opts {
		opt(&config)
	}

	b := &Bus{
		catalogue: catalogue,
		registry:  newRegistry(),
		config:    config,
	}
	b.executor = dispatch.NewExecutor(dispatch.WithPanicHandler(func(v any, stack []byte) {
		b.config.logger.Error().
			Interface("panic", v).
			Bytes("stack", stack).
			Msg("event handler panicked")
	}))
	return b
}

// Catalogue returns the catalogue the bus serves.
func (b *Bus) Catalogue() *topic.Catalogue {
	return b.catalogue
}

// On registers a handler for an After event.
func (b *Bus) On(t topic.Topic, h AfterHandler, opts ...SubscriptionOption) (*Subscription, error) {
	if h == nil {
		return nil, &SubscriptionError{Topic: t, Op: "on", Err: ErrNilHandler}
	}
	if _, err := b.lookup("on", t, topic.KindAfter); err != nil {
		return nil, err
	}
	return b.subscribe(t, topic.KindAfter, h, nil, opts), nil
}

// OnBefore registers a handler for a Before event. Handlers run in the order
// they were registered.
func (b *Bus) OnBefore(t topic.Topic, h BeforeHandler, opts ...SubscriptionOption) (*Subscription, error) {
	if h == nil {
		return nil, &SubscriptionError{Topic: t, Op: "onBefore", Err: ErrNilHandler}
	}
	if _, err := b.lookup("onBefore", t, topic.KindBefore); err != nil {
		return nil, err
	}
	return b.subscribe(t, topic.KindBefore, nil, h, opts), nil
}

func (b *Bus) subscribe(t topic.Topic, kind topic.Kind, after AfterHandler, before BeforeHandler, opts []SubscriptionOption) *Subscription {
	var cfg subscriptionConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	sub := &Subscription{
		id:     uuid.NewString(),
		topic:  t,
		kind:   kind,
		owner:  cfg.owner,
		after:  after,
		before: before,
	}
	b.registry.add(sub)

	b.config.logger.Debug().
		Str("topic", string(t)).
		Str("subscription_id", sub.id).
		Str("plugin_id", sub.owner.PluginID()).
		Msg("subscribed")
	return sub
}

// lookup resolves a topic and checks it has the expected kind.
func (b *Bus) lookup(op string, t topic.Topic, kind topic.Kind) (topic.Descriptor, error) {
	if err := t.Validate(); err != nil {
		return topic.Descriptor{}, &SubscriptionError{Topic: t, Op: op, Err: err}
	}
	desc, ok := b.catalogue.Lookup(t)
	if !ok {
		return topic.Descriptor{}, &SubscriptionError{Topic: t, Op: op, Err: ErrUnknownTopic}
	}
	if desc.Kind != kind {
		return topic.Descriptor{}, &SubscriptionError{
			Topic: t,
			Op:    op,
			Err:   fmt.Errorf("%w: %s is a %s event", ErrWrongKind, t, desc.Kind),
		}
	}
	return desc, nil
}

// Emit dispatches an After event to every handler concurrently and returns
// once all of them have settled. Handler failures are logged, never returned;
// Emit fails only when the topic or payload does not fit the catalogue.
func (b *Bus) Emit(ctx context.Context, t topic.Topic, data any) error {
	desc, err := b.lookup("emit", t, topic.KindAfter)
	if err != nil {
		return err
	}
	payload, err := desc.Normalize(data)
	if err != nil {
		return &SubscriptionError{Topic: t, Op: "emit", Err: err}
	}

	b.emitted(t, topic.KindAfter)

	subs := b.registry.snapshot(t)
	if len(subs) == 0 {
		return nil
	}

	ev := Event{ID: uuid.NewString(), Topic: t, Data: payload, Timestamp: time.Now()}
	tasks := make([]dispatch.Task, len(subs))
	for i, sub := range subs {
		tasks[i] = func(ctx context.Context) error {
			if !sub.Active() {
				return errRemoved
			}
			return sub.after(ctx, ev)
		}
	}

	results := b.executor.JoinAll(ctx, b.config.handlerTimeout, tasks)
	for i, r := range results {
		status := b.record(subs[i], r)
		if status == StatusOK || status == StatusSkipped {
			continue
		}
		b.config.logger.Warn().
			Err(r.Err).
			Str("topic", string(t)).
			Str("event_id", ev.ID).
			Str("subscription_id", subs[i].id).
			Str("plugin_id", subs[i].owner.PluginID()).
			Str("status", string(status)).
			Msg("after handler failed")
	}
	return nil
}

// EmitBefore runs the Before chain for an event.
//
// Handlers run one at a time in subscription order, each seeing the payload
// left by the previous one. The first Cancel ends the chain and is reported in
// the result, not as an error. A handler error, panic or deadline ends the
// chain and is returned as a *HandlerError; no later handler runs.
func (b *Bus) EmitBefore(ctx context.Context, t topic.Topic, data any) (BeforeResult, error) {
	desc, err := b.lookup("emitBefore", t, topic.KindBefore)
	if err != nil {
		return BeforeResult{Topic: t}, err
	}
	payload, err := desc.Normalize(data)
	if err != nil {
		return BeforeResult{Topic: t}, &SubscriptionError{Topic: t, Op: "emitBefore", Err: err}
	}

	b.emitted(t, topic.KindBefore)

	res := BeforeResult{Topic: t, Data: payload}
	subs := b.registry.snapshot(t)
	if len(subs) == 0 {
		return res, nil
	}

	id := uuid.NewString()
	ts := time.Now()
	for _, sub := range subs {
		if !sub.Active() {
			continue
		}

		ev := Event{ID: id, Topic: t, Data: res.Data, Timestamp: ts}
		var decision Decision
		r := b.executor.Run(ctx, b.config.handlerTimeout, func(ctx context.Context) error {
			d, err := sub.before(ctx, ev)
			decision = d
			return err
		})
		status := b.record(sub, r)

		if r.Skipped {
			return res, ctx.Err()
		}
		if r.Err != nil {
			herr := &HandlerError{
				SubscriptionID: sub.id,
				PluginID:       sub.owner.PluginID(),
				Topic:          t,
				Err:            r.Err,
			}
			b.config.logger.Warn().
				Err(r.Err).
				Str("topic", string(t)).
				Str("event_id", id).
				Str("subscription_id", sub.id).
				Str("plugin_id", sub.owner.PluginID()).
				Str("status", string(status)).
				Msg("before handler failed, aborting chain")
			return res, herr
		}

		switch {
		case decision.IsCancel():
			res.Cancelled = true
			res.Reason = decision.Reason()
			b.chainsCancelled.Add(1)
			if b.config.observer != nil {
				b.config.observer.ChainCancelled(t)
			}
			b.config.logger.Info().
				Str("topic", string(t)).
				Str("event_id", id).
				Str("plugin_id", sub.owner.PluginID()).
				Str("reason", res.Reason).
				Msg("event cancelled")
			return res, nil
		case decision.IsModify():
			next, err := desc.Normalize(decision.Data())
			if err != nil {
				return res, &HandlerError{
					SubscriptionID: sub.id,
					PluginID:       sub.owner.PluginID(),
					Topic:          t,
					Err:            err,
				}
			}
			res.Data = next
		}
	}
	return res, nil
}

// RemoveAllListeners removes every subscription of both kinds.
// Outstanding handles become no-ops.
func (b *Bus) RemoveAllListeners() {
	b.registry.clear()
}

// RemoveOwned removes every subscription tagged with owner and returns how
// many were removed. The zero Owner matches nothing.
func (b *Bus) RemoveOwned(owner Owner) int {
	n := b.registry.removeOwned(owner)
	if n > 0 {
		b.config.logger.Debug().
			Str("plugin_id", owner.PluginID()).
			Int("removed", n).
			Msg("removed owned subscriptions")
	}
	return n
}

// SubscriberCount returns the number of handlers subscribed to a topic.
func (b *Bus) SubscriberCount(t topic.Topic) int {
	return b.registry.countByTopic(t)
}

// Stats returns current bus statistics.
func (b *Bus) Stats() Stats {
	return Stats{
		EventsEmitted:       b.eventsEmitted.Load(),
		ChainsCancelled:     b.chainsCancelled.Load(),
		HandlersExecuted:    b.handlersExecuted.Load(),
		HandlerErrors:       b.handlerErrors.Load(),
		HandlerPanics:       b.handlerPanics.Load(),
		HandlerTimeouts:     b.handlerTimeouts.Load(),
		ActiveSubscriptions: b.registry.len(),
	}
}

func (b *Bus) emitted(t topic.Topic, kind topic.Kind) {
	b.eventsEmitted.Add(1)
	if b.config.observer != nil {
		b.config.observer.EventEmitted(t, kind)
	}
}

// record updates counters for one handler result and reports it to the
// observer.
func (b *Bus) record(sub *Subscription, r dispatch.Result) HandlerStatus {
	var status HandlerStatus
	switch {
	case r.Skipped, errors.Is(r.Err, errRemoved):
		return StatusSkipped
	case r.Panicked:
		status = StatusPanic
		b.handlerPanics.Add(1)
	case r.TimedOut:
		status = StatusTimeout
		b.handlerTimeouts.Add(1)
	case r.Err != nil:
		status = StatusError
		b.handlerErrors.Add(1)
	default:
		status = StatusOK
	}
	b.handlersExecuted.Add(1)

	if b.config.observer != nil {
		b.config.observer.HandlerFinished(sub.topic, sub.kind, status, r.Duration)
	}
	return status
}
