package event

import (
	"sync"

	"github.com/dshills/fedihook/internal/event/topic"
)

// registry holds subscriptions per topic in insertion order. After and
// Before topics never share a name, so one table serves both kinds.
// It is safe for concurrent access.
type registry struct {
	mu    sync.RWMutex
	subs  map[topic.Topic][]*Subscription
	count int
}

func newRegistry() *registry {
	return &registry{
		subs: make(map[topic.Topic][]*Subscription),
	}
}

// add appends a subscription to its topic.
func (r *registry) add(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub.reg = r
	r.subs[sub.topic] = append(r.subs[sub.topic], sub)
	r.count++
}

// remove deletes one subscription. The removed flag is set under the write
// lock, so a dispatch that checks it afterwards will skip the handler.
func (r *registry) remove(sub *Subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !sub.removed.CompareAndSwap(false, true) {
		return false
	}
	r.detach(sub)
	return true
}

// detach removes sub from its topic slice. Callers hold the write lock.
// A fresh slice is built so snapshots taken earlier remain valid.
func (r *registry) detach(sub *Subscription) {
	subs := r.subs[sub.topic]
	next := make([]*Subscription, 0, len(subs))
	for _, s := range subs {
		if s != sub {
			next = append(next, s)
		}
	}
	if len(next) == 0 {
		delete(r.subs, sub.topic)
	} else {
		r.subs[sub.topic] = next
	}
	r.count--
}

// removeOwned removes every subscription tagged with owner.
func (r *registry) removeOwned(owner Owner) int {
	if owner.IsZero() {
		return 0
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var owned []*Subscription
	for _, subs := range r.subs {
		for _, s := range subs {
			if s.owner == owner {
				owned = append(owned, s)
			}
		}
	}
	n := 0
	for _, s := range owned {
		if s.removed.CompareAndSwap(false, true) {
			r.detach(s)
			n++
		}
	}
	return n
}

// snapshot returns the subscriptions of a topic in subscription order.
// The returned slice is never mutated by later adds or removals.
func (r *registry) snapshot(t topic.Topic) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subs[t]
	if len(subs) == 0 {
		return nil
	}
	out := make([]*Subscription, len(subs))
	copy(out, subs)
	return out
}

// countByTopic returns the number of subscriptions for a topic.
func (r *registry) countByTopic(t topic.Topic) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[t])
}

// len returns the total number of subscriptions.
func (r *registry) len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.count
}

// clear removes every subscription.
func (r *registry) clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, subs := range r.subs {
		for _, s := range subs {
			s.removed.Store(true)
		}
	}
	r.subs = make(map[topic.Topic][]*Subscription)
	r.count = 0
}
