package broker

import (
	"fmt"
	"sort"
	"sync"

	"github.com/dshills/broker/internal/broker/channel"
)

// Registry owns every subscription, indexed by id and by exact channel name.
// Each channel list is kept in dispatch order. It is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	channels map[channel.Name][]*subscription
	byID     map[string]*subscription
	matcher  *channel.Matcher
	seq      uint64

	defaultPriority int
	newID           func() string
}

// NewRegistry creates an empty registry. newID generates subscription ids.
func NewRegistry(defaultPriority int, newID func() string) *Registry {
	return &Registry{
		channels:        make(map[channel.Name][]*subscription),
		byID:            make(map[string]*subscription),
		matcher:         channel.NewMatcher(),
		defaultPriority: defaultPriority,
		newID:           newID,
	}
}

// Subscribe registers target on name, or resolves it to an existing
// subscription on the same channel. It returns the subscription and whether
// it was newly created. A forced duplicate has its options replaced.
func (r *Registry) Subscribe(name channel.Name, target Target, o Options) (Subscription, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	handler := target.handler
	var existing *subscription

	if target.IsRef() {
		ref, ok := r.byID[target.id]
		if !ok {
			return Subscription{}, false, fmt.Errorf("%w: %s", ErrSubscriptionNotFound, target.id)
		}
		if ref.channel == name {
			existing = ref
		}
		handler = ref.handler
	}
	if existing == nil {
		existing = r.findLocked(name, handler)
	}

	if existing != nil {
		if o.Force {
			existing.apply(o, r.defaultPriority)
			r.sortLocked(name)
		}
		return existing.snapshot(), false, nil
	}

	id := r.newID()
	for {
		if _, taken := r.byID[id]; !taken && id != "" {
			break
		}
		id = r.newID()
	}

	r.seq++
	sub := newSubscription(id, name, handler, r.seq)
	sub.apply(o, r.defaultPriority)

	r.channels[name] = append(r.channels[name], sub)
	r.sortLocked(name)
	r.byID[id] = sub
	r.matcher.Add(name)

	return sub.snapshot(), true, nil
}

func (r *Registry) findLocked(name channel.Name, h Handler) *subscription {
	for _, sub := range r.channels[name] {
		if sameHandler(sub.handler, h) {
			return sub
		}
	}
	return nil
}

func (r *Registry) sortLocked(name channel.Name) {
	subs := r.channels[name]
	sort.SliceStable(subs, func(i, j int) bool {
		return subs[i].before(subs[j])
	})
}

// Remove removes a subscription by id.
func (r *Registry) Remove(id string) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.byID[id]
	if !ok {
		return Subscription{}, false
	}
	r.removeLocked(sub)
	return sub.snapshot(), true
}

// RemoveHandler removes the subscription of h on the exact channel name.
func (r *Registry) RemoveHandler(name channel.Name, h Handler) (Subscription, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub := r.findLocked(name, h)
	if sub == nil {
		return Subscription{}, false
	}
	r.removeLocked(sub)
	return sub.snapshot(), true
}

func (r *Registry) removeLocked(sub *subscription) {
	subs := r.channels[sub.channel]
	for i, s := range subs {
		if s == sub {
			r.channels[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(r.channels[sub.channel]) == 0 {
		delete(r.channels, sub.channel)
		r.matcher.Remove(sub.channel)
	}

	delete(r.byID, sub.id)
}

// Get returns a subscription by id.
func (r *Registry) Get(id string) (Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sub, ok := r.byID[id]
	if !ok {
		return Subscription{}, false
	}
	return sub.snapshot(), true
}

// Sequence returns the dispatch order for a broadcast on concrete: every
// subscription of every matching channel, most specific channel first and
// priority order within a channel. The result is a private copy.
func (r *Registry) Sequence(concrete channel.Name) []*subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var seq []*subscription
	for _, pattern := range r.matcher.Match(concrete) {
		seq = append(seq, r.channels[pattern]...)
	}
	return seq
}

// Match returns the indexed channel names matching concrete.
func (r *Registry) Match(concrete channel.Name) []channel.Name {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.matcher.Match(concrete)
}

// begin prepares sub for one invocation. It reports false when sub must be
// skipped: it is no longer registered, or its counter is exhausted (in which
// case it is removed). Limited subscriptions are decremented.
func (r *Registry) begin(sub *subscription) (Subscription, bool, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID[sub.id] != sub {
		return Subscription{}, false, false
	}
	if sub.limited && sub.remaining <= 0 {
		r.removeLocked(sub)
		return Subscription{}, false, true
	}
	if sub.limited {
		sub.remaining--
	}
	return sub.snapshot(), true, false
}

// finish removes sub after a successful invocation that used up its
// counter. It reports whether sub was removed.
func (r *Registry) finish(sub *subscription) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.byID[sub.id] != sub || !sub.limited || sub.remaining > 0 {
		return false
	}
	r.removeLocked(sub)
	return true
}

// Count returns the total number of subscriptions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.byID)
}

// ChannelCount returns the number of channels with subscriptions.
func (r *Registry) ChannelCount() int {
	return r.matcher.Count()
}

// ChannelNames returns the names of every channel with subscriptions in
// lexical order.
func (r *Registry) ChannelNames() []string {
	patterns := r.matcher.Patterns()
	names := make([]string, len(patterns))
	for i, p := range patterns {
		names[i] = string(p)
	}
	return names
}

// Channels returns a copy of the channel index.
func (r *Registry) Channels() map[string][]Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string][]Subscription, len(r.channels))
	for name, subs := range r.channels {
		list := make([]Subscription, len(subs))
		for i, sub := range subs {
			list[i] = sub.snapshot()
		}
		result[string(name)] = list
	}
	return result
}

// All returns a copy of every subscription keyed by id.
func (r *Registry) All() map[string]Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Subscription, len(r.byID))
	for id, sub := range r.byID {
		result[id] = sub.snapshot()
	}
	return result
}

// ByChannel returns a copy of the subscriptions registered on the exact
// name, keyed by id.
func (r *Registry) ByChannel(name channel.Name) map[string]Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.channels[name]
	result := make(map[string]Subscription, len(subs))
	for _, sub := range subs {
		result[sub.id] = sub.snapshot()
	}
	return result
}

// Clear removes all subscriptions.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.channels = make(map[channel.Name][]*subscription)
	r.byID = make(map[string]*subscription)
	r.matcher.Clear()
}
