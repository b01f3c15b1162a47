package event

import (
	"sync/atomic"

	"github.com/dshills/fedihook/internal/event/topic"
)

// Owner is an opaque tag identifying who created a subscription. Two owners
// made by separate NewOwner calls are distinct even for the same plugin id,
// so a stale owner can never reach a newer plugin instance's subscriptions.
type Owner struct {
	token *ownerToken
}

type ownerToken struct {
	pluginID string
}

// NewOwner creates a fresh owner tag for a plugin instance.
func NewOwner(pluginID string) Owner {
	return Owner{token: &ownerToken{pluginID: pluginID}}
}

// PluginID returns the plugin id the owner was created for.
func (o Owner) PluginID() string {
	if o.token == nil {
		return ""
	}
	return o.token.pluginID
}

// IsZero reports whether o is the zero Owner, used by host subscriptions.
func (o Owner) IsZero() bool {
	return o.token == nil
}

// SubscriptionOption configures a subscription.
type SubscriptionOption func(*subscriptionConfig)

type subscriptionConfig struct {
	owner Owner
}

// WithOwner tags the subscription so RemoveOwned can find it.
func WithOwner(o Owner) SubscriptionOption {
	return func(c *subscriptionConfig) {
		c.owner = o
	}
}

// Subscription is the handle returned by On and OnBefore. Its identity is
// the pointer: unsubscribing one handle can only ever remove that handle's
// handler.
type Subscription struct {
	id      string
	topic   topic.Topic
	kind    topic.Kind
	owner   Owner
	after   AfterHandler
	before  BeforeHandler
	reg     *registry
	removed atomic.Bool
}

// ID returns the subscription ID.
func (s *Subscription) ID() string {
	return s.id
}

// Topic returns the subscribed topic.
func (s *Subscription) Topic() topic.Topic {
	return s.topic
}

// Kind returns the dispatch kind of the subscribed topic.
func (s *Subscription) Kind() topic.Kind {
	return s.kind
}

// Owner returns the owner tag, zero for host subscriptions.
func (s *Subscription) Owner() Owner {
	return s.owner
}

// Active returns true until the subscription is removed.
func (s *Subscription) Active() bool {
	return !s.removed.Load()
}

// Unsubscribe removes exactly this subscription's handler. Calling it again,
// or after RemoveAllListeners, is a no-op. It returns true if this call
// performed the removal.
func (s *Subscription) Unsubscribe() bool {
	if s == nil || s.reg == nil {
		return false
	}
	return s.reg.remove(s)
}
