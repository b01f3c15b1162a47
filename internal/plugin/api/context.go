package api

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/dshills/fedihook/internal/event"
	"github.com/dshills/fedihook/internal/event/events"
	"github.com/dshills/fedihook/internal/event/topic"
	"github.com/dshills/fedihook/internal/plugin/security"
	"github.com/dshills/fedihook/internal/store"
)

// Factory builds the secure contexts handed to plugins.
type Factory struct {
	bus     *event.Bus
	manager *security.Manager
	auditor *security.Auditor
	store   store.Store
	logger  zerolog.Logger
}

// FactoryOption configures a Factory.
type FactoryOption func(*Factory)

// WithStore sets the backing store for plugin storage. The default is an
// in-memory store.
func WithStore(s store.Store) FactoryOption {
	return func(f *Factory) {
		if s != nil {
			f.store = s
		}
	}
}

// WithLogger sets the logger plugin log calls are written to.
func WithLogger(l zerolog.Logger) FactoryOption {
	return func(f *Factory) {
		f.logger = l
	}
}

// NewFactory creates a factory delegating to the given bus, manager and
// auditor.
func NewFactory(bus *event.Bus, manager *security.Manager, auditor *security.Auditor, opts ...FactoryOption) *Factory {
	f := &Factory{
		bus:     bus,
		manager: manager,
		auditor: auditor,
		store:   store.NewMemory(),
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Create builds a context for one plugin instance. The returned Lease is
// what tears the context down; it belongs to the lifecycle manager and must
// never be handed to plugin code.
func (f *Factory) Create(pluginID string, grant *security.Grant) (*SecureContext, *Lease, error) {
	if pluginID == "" {
		return nil, nil, errors.New("api: plugin id is required")
	}
	if grant == nil {
		return nil, nil, fmt.Errorf("api: plugin %q: grant is required", pluginID)
	}
	if grant.PluginID() != pluginID {
		return nil, nil, fmt.Errorf("api: grant for %q cannot back plugin %q", grant.PluginID(), pluginID)
	}

	c := &SecureContext{
		pluginID: pluginID,
		grant:    grant,
		owner:    event.NewOwner(pluginID),
		bus:      f.bus,
		manager:  f.manager,
		auditor:  f.auditor,
	}
	c.storage = &Storage{ctx: c, store: f.store, prefix: storagePrefix(pluginID)}
	c.logger = &Logger{
		ctx: c,
		log: f.logger.With().Str("component", "plugin").Str("plugin_id", pluginID).Logger(),
	}
	return c, &Lease{ctx: c}, nil
}

// SecureContext is the only host object plugin code sees. Every method checks
// the permission it needs, records the check with the auditor, and only then
// delegates to the host.
//
// A permission is allowed when it is in the grant the context was built with
// and the permission manager still holds it, so revocation takes effect on
// the next call.
type SecureContext struct {
	pluginID string
	grant    *security.Grant
	owner    event.Owner

	bus     *event.Bus
	manager *security.Manager
	auditor *security.Auditor

	storage *Storage
	logger  *Logger

	closed atomic.Bool
}

// PluginID returns the id of the plugin the context belongs to.
func (c *SecureContext) PluginID() string {
	return c.pluginID
}

// Permissions returns the permissions the context was created with.
func (c *SecureContext) Permissions() []security.Permission {
	return c.grant.Permissions()
}

// Can reports whether perm is currently allowed, without auditing.
func (c *SecureContext) Can(perm security.Permission) bool {
	_, ok := c.allowed(perm)
	return ok
}

// Closed reports whether the context has been torn down.
func (c *SecureContext) Closed() bool {
	return c.closed.Load()
}

func (c *SecureContext) allowed(perm security.Permission) (string, bool) {
	switch {
	case c.closed.Load():
		return security.ReasonContextClosed, false
	case !c.grant.Has(perm):
		return security.ReasonNotGranted, false
	case !c.manager.HasPermission(c.pluginID, perm):
		return security.ReasonRevoked, false
	}
	return "", true
}

// check enforces perm for action and audits the outcome.
func (c *SecureContext) check(perm security.Permission, action string) error {
	reason, ok := c.allowed(perm)
	c.auditor.Record(c.pluginID, perm, action, ok)
	if !ok {
		return security.NewPermissionError(c.pluginID, perm, reason)
	}
	return nil
}

// requiredPermission resolves the permission guarding t. Unknown topics and
// topics of the wrong kind fail before anything is audited.
func requiredPermission(op string, t topic.Topic, want topic.Kind) (security.Permission, error) {
	perm, ok := events.RequiredPermission(t)
	if !ok {
		return "", &event.SubscriptionError{Topic: t, Op: op, Err: event.ErrUnknownTopic}
	}
	if kind, _ := t.Kind(); kind != want {
		return "", &event.SubscriptionError{
			Topic: t,
			Op:    op,
			Err:   fmt.Errorf("%w: %s is a %s event", event.ErrWrongKind, t, kind),
		}
	}
	return perm, nil
}

// keep returns sub unless the context was closed while it was being
// registered, in which case the subscription is dropped again.
func (c *SecureContext) keep(sub *event.Subscription, perm security.Permission) (*Subscription, error) {
	if c.closed.Load() {
		sub.Unsubscribe()
		return nil, security.NewPermissionError(c.pluginID, perm, security.ReasonContextClosed)
	}
	return &Subscription{sub: sub, ctx: c, perm: perm}, nil
}

// On subscribes h to an After event. The handler stops firing once the
// context is closed.
func (c *SecureContext) On(t topic.Topic, h event.AfterHandler) (*Subscription, error) {
	if h == nil {
		return nil, &event.SubscriptionError{Topic: t, Op: "on", Err: event.ErrNilHandler}
	}
	perm, err := requiredPermission("on", t, topic.KindAfter)
	if err != nil {
		return nil, err
	}
	if err := c.check(perm, "on "+string(t)); err != nil {
		return nil, err
	}

	sub, err := c.bus.On(t, func(ctx context.Context, e event.Event) error {
		if c.closed.Load() {
			return nil
		}
		return h(ctx, e)
	}, event.WithOwner(c.owner))
	if err != nil {
		return nil, err
	}
	return c.keep(sub, perm)
}

// OnBefore subscribes h to a Before event. Once the context is closed the
// handler lets every event continue unchanged.
func (c *SecureContext) OnBefore(t topic.Topic, h event.BeforeHandler) (*Subscription, error) {
	if h == nil {
		return nil, &event.SubscriptionError{Topic: t, Op: "onBefore", Err: event.ErrNilHandler}
	}
	perm, err := requiredPermission("onBefore", t, topic.KindBefore)
	if err != nil {
		return nil, err
	}
	if err := c.check(perm, "onBefore "+string(t)); err != nil {
		return nil, err
	}

	sub, err := c.bus.OnBefore(t, func(ctx context.Context, e event.Event) (event.Decision, error) {
		if c.closed.Load() {
			return event.Continue(), nil
		}
		return h(ctx, e)
	}, event.WithOwner(c.owner))
	if err != nil {
		return nil, err
	}
	return c.keep(sub, perm)
}

// Off removes a subscription made through this context. It reports whether
// the subscription was still active. Handles from another context are
// refused.
func (c *SecureContext) Off(s *Subscription) (bool, error) {
	if s == nil || s.ctx != c {
		var perm security.Permission
		if s != nil {
			perm = s.perm
		}
		c.auditor.Record(c.pluginID, perm, "off", false)
		return false, security.NewPermissionError(c.pluginID, perm, security.ReasonForeignHandle)
	}
	if err := c.check(s.perm, "off "+string(s.sub.Topic())); err != nil {
		return false, err
	}
	return s.sub.Unsubscribe(), nil
}

// Storage returns the plugin's key/value storage.
func (c *SecureContext) Storage() *Storage {
	return c.storage
}

// Logger returns the plugin's logger.
func (c *SecureContext) Logger() *Logger {
	return c.logger
}

// Subscription is a plugin's handle to one of its subscriptions.
type Subscription struct {
	sub  *event.Subscription
	ctx  *SecureContext
	perm security.Permission
}

// ID returns the subscription ID.
func (s *Subscription) ID() string {
	return s.sub.ID()
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() topic.Topic {
	return s.sub.Topic()
}

// Active reports whether the subscription still receives events.
func (s *Subscription) Active() bool {
	return s.sub.Active()
}

// Lease controls the lifetime of a SecureContext.
type Lease struct {
	ctx  *SecureContext
	once sync.Once
	n    int
}

// Context returns the context the lease controls.
func (l *Lease) Context() *SecureContext {
	return l.ctx
}

// Close invalidates the context and removes every subscription it made:
// later calls fail with a permission error. Close returns how many
// subscriptions were removed and is safe to call more than once.
func (l *Lease) Close() int {
	l.once.Do(func() {
		// Mark closed first so an On racing with Close drops what it registers.
		l.ctx.closed.Store(true)
		l.n = l.ctx.bus.RemoveOwned(l.ctx.owner)
	})
	return l.n
}
