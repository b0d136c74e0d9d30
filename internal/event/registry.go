package event

import (
	"sort"
	"sync"

	"github.com/dshills/sidetree/internal/event/topic"
)

// key identifies a listener. The same id may be used under different topics.
type key struct {
	topic topic.Topic
	id    string
}

type subscription struct {
	key     key
	owner   string
	handler Handler
	seq     uint64
}

// Registry holds listeners keyed by (topic, id) and indexed by owner.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	subs    map[key]*subscription
	byOwner map[string]map[key]struct{}
	nextSeq uint64
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		subs:    make(map[key]*subscription),
		byOwner: make(map[string]map[key]struct{}),
	}
}

// Add registers h. If a listener with the same topic and id exists its
// handler and owner are replaced in place, keeping its registration slot,
// and Add returns true.
func (r *Registry) Add(owner, id string, t topic.Topic, h Handler) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{topic: t, id: id}
	if sub, ok := r.subs[k]; ok {
		if sub.owner != owner {
			r.unindexLocked(sub)
			sub.owner = owner
			r.indexLocked(sub)
		}
		sub.handler = h
		return true
	}

	r.nextSeq++
	sub := &subscription{key: k, owner: owner, handler: h, seq: r.nextSeq}
	r.subs[k] = sub
	r.indexLocked(sub)
	return false
}

func (r *Registry) indexLocked(sub *subscription) {
	keys := r.byOwner[sub.owner]
	if keys == nil {
		keys = make(map[key]struct{})
		r.byOwner[sub.owner] = keys
	}
	keys[sub.key] = struct{}{}
}

func (r *Registry) unindexLocked(sub *subscription) {
	keys := r.byOwner[sub.owner]
	delete(keys, sub.key)
	if len(keys) == 0 {
		delete(r.byOwner, sub.owner)
	}
}

// Remove deletes the listener registered under topic t and id.
func (r *Registry) Remove(t topic.Topic, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sub, ok := r.subs[key{topic: t, id: id}]
	if !ok {
		return false
	}
	r.unindexLocked(sub)
	delete(r.subs, sub.key)
	return true
}

// RemoveOwner deletes every listener registered by owner and returns the
// topics they were registered under.
func (r *Registry) RemoveOwner(owner string) []topic.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()

	keys := r.byOwner[owner]
	topics := make([]topic.Topic, 0, len(keys))
	for k := range keys {
		delete(r.subs, k)
		topics = append(topics, k.topic)
	}
	delete(r.byOwner, owner)
	return topics
}

// Match returns the handlers whose pattern matches t, in registration order.
func (r *Registry) Match(t topic.Topic) []Handler {
	r.mu.RLock()
	matched := make([]*subscription, 0, 4)
	for k, sub := range r.subs {
		if t.Matches(k.topic) {
			matched = append(matched, sub)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool { return matched[i].seq < matched[j].seq })

	handlers := make([]Handler, len(matched))
	for i, sub := range matched {
		handlers[i] = sub.handler
	}
	return handlers
}

// Has reports whether any listener pattern matches t.
func (r *Registry) Has(t topic.Topic) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for k := range r.subs {
		if t.Matches(k.topic) {
			return true
		}
	}
	return false
}

// Count returns the number of listeners.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs)
}

// OwnerCount returns the number of listeners registered by owner.
func (r *Registry) OwnerCount(owner string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byOwner[owner])
}

// Clear removes every listener.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = make(map[key]*subscription)
	r.byOwner = make(map[string]map[key]struct{})
}
