// Package event provides the synchronous publish/subscribe bus that connects
// producers (the directory watcher, the git cache, the editor host) to the
// panel controllers.
//
// Listeners are registered under a caller-chosen id. Registering the same id
// on the same topic again replaces the previous handler instead of adding a
// second one, so panels can be rebuilt without leaking handlers. Every
// listener also names an owner; RemoveOwner drops all of an owner's
// listeners at once when a panel is deleted.
//
// Publish invokes matching listeners synchronously in registration order.
// A listener that needs to do slow work starts its own goroutine.
package event

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
	"github.com/dshills/sidetree/internal/metrics"
)

// Event is what a handler receives.
type Event struct {
	Topic   topic.Topic
	Payload any
	Time    time.Time
}

// Handler handles events.
type Handler interface {
	Handle(ev Event)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ev Event)

// Handle calls f(ev).
func (f HandlerFunc) Handle(ev Event) { f(ev) }

// Source is the editor host's event surface. On registers fn for one host
// topic and returns a function that cancels the registration.
type Source interface {
	On(t topic.Topic, fn func(payload any)) (cancel func())
}

// MergeFunc combines a pending debounced payload with a newer one.
type MergeFunc func(pending, next any) any

type debounced struct {
	delay   time.Duration
	merge   MergeFunc
	timer   *time.Timer
	pending any
	armed   bool
}

// Stats counts bus activity.
type Stats struct {
	Published uint64
	Delivered uint64
	Panicked  uint64
	Replaced  uint64
}

// Bus is the event bus.
type Bus struct {
	reg      *Registry
	logger   *zap.Logger
	metrics  *metrics.Metrics
	clock    func() time.Time
	hostList []topic.Topic

	mu       sync.Mutex
	source   Source
	attached map[topic.Topic]func()
	debounce map[topic.Topic]*debounced
	closed   bool

	published atomic.Uint64
	delivered atomic.Uint64
	panicked  atomic.Uint64
	replaced  atomic.Uint64
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(b *Bus) {
		if l != nil {
			b.logger = l
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Bus) { b.metrics = m }
}

// WithDebounce delays delivery of topic t until no new event has been
// published on it for d. merge combines payloads published during the
// window; nil keeps only the latest payload.
func WithDebounce(t topic.Topic, d time.Duration, merge MergeFunc) Option {
	return func(b *Bus) {
		if d > 0 {
			b.debounce[t] = &debounced{delay: d, merge: merge}
		}
	}
}

// WithHostTopics overrides the list of topics forwarded from the host.
func WithHostTopics(topics ...topic.Topic) Option {
	return func(b *Bus) { b.hostList = topics }
}

// NewBus creates a bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		reg:      NewRegistry(),
		logger:   zap.NewNop(),
		clock:    time.Now,
		hostList: events.HostTopics,
		attached: make(map[topic.Topic]func()),
		debounce: make(map[topic.Topic]*debounced),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe registers h for pattern t under id on behalf of owner.
// Re-registering an existing (t, id) pair replaces its handler and logs a
// warning.
func (b *Bus) Subscribe(owner, id string, t topic.Topic, h Handler) {
	if b.reg.Add(owner, id, t, h) {
		b.replaced.Add(1)
		b.logger.Warn("listener re-registered, replacing previous handler",
			zap.String("topic", t.String()),
			zap.String("id", id),
			zap.String("owner", owner),
		)
	}
	b.syncHost()
}

// SubscribeFunc is Subscribe for a plain function.
func (b *Bus) SubscribeFunc(owner, id string, t topic.Topic, fn func(Event)) {
	b.Subscribe(owner, id, t, HandlerFunc(fn))
}

// Unsubscribe removes a single listener.
func (b *Bus) Unsubscribe(t topic.Topic, id string) bool {
	ok := b.reg.Remove(t, id)
	if ok {
		b.syncHost()
	}
	return ok
}

// RemoveOwner removes every listener owned by owner and returns how many
// were removed.
func (b *Bus) RemoveOwner(owner string) int {
	n := len(b.reg.RemoveOwner(owner))
	if n > 0 {
		b.logger.Debug("removed listeners", zap.String("owner", owner), zap.Int("count", n))
		b.syncHost()
	}
	return n
}

// Listeners returns the number of registered listeners.
func (b *Bus) Listeners() int { return b.reg.Count() }

// OwnerListeners returns the number of listeners registered by owner.
func (b *Bus) OwnerListeners(owner string) int { return b.reg.OwnerCount(owner) }

// Publish delivers payload to every listener matching t. Debounced topics
// are delivered later from a timer goroutine.
func (b *Bus) Publish(t topic.Topic, payload any) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if d, ok := b.debounce[t]; ok {
		b.deferLocked(t, d, payload)
		b.mu.Unlock()
		return
	}
	b.mu.Unlock()

	b.dispatch(t, payload)
}

func (b *Bus) deferLocked(t topic.Topic, d *debounced, payload any) {
	if d.armed && d.merge != nil {
		d.pending = d.merge(d.pending, payload)
	} else {
		d.pending = payload
	}
	if d.armed {
		d.timer.Reset(d.delay)
		return
	}
	d.armed = true
	if d.timer == nil {
		d.timer = time.AfterFunc(d.delay, func() { b.fireDebounced(t) })
		return
	}
	d.timer.Reset(d.delay)
}

func (b *Bus) fireDebounced(t topic.Topic) {
	b.mu.Lock()
	d := b.debounce[t]
	if b.closed || d == nil || !d.armed {
		b.mu.Unlock()
		return
	}
	payload := d.pending
	d.pending = nil
	d.armed = false
	b.mu.Unlock()

	b.dispatch(t, payload)
}

// Flush delivers any pending debounced events immediately.
func (b *Bus) Flush() {
	b.mu.Lock()
	var due []topic.Topic
	for t, d := range b.debounce {
		if d.armed {
			d.timer.Stop()
			due = append(due, t)
		}
	}
	b.mu.Unlock()

	for _, t := range due {
		b.fireDebounced(t)
	}
}

func (b *Bus) dispatch(t topic.Topic, payload any) {
	b.published.Add(1)
	b.metrics.EventPublished(t.String())

	ev := Event{Topic: t, Payload: payload, Time: b.clock()}
	for _, h := range b.reg.Match(t) {
		b.invoke(h, ev)
	}
}

// invoke runs one handler, recovering a panic so later handlers still run.
func (b *Bus) invoke(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.panicked.Add(1)
			b.metrics.HandlerPanicked(ev.Topic.String())
			b.logger.Error("event handler panicked",
				zap.String("topic", ev.Topic.String()),
				zap.String("panic", fmt.Sprint(r)),
				zap.ByteString("stack", debug.Stack()),
			)
		}
	}()
	h.Handle(ev)
	b.delivered.Add(1)
}

// AttachHost connects the bus to the host's event source. The bus holds at
// most one host registration per host topic, created while at least one
// listener matches the topic and cancelled when none does.
func (b *Bus) AttachHost(src Source) {
	b.mu.Lock()
	b.source = src
	b.mu.Unlock()
	b.syncHost()
}

// HostAttached reports whether the bus currently holds a host registration
// for t.
func (b *Bus) HostAttached(t topic.Topic) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.attached[t]
	return ok
}

func (b *Bus) syncHost() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.source == nil || b.closed {
		return
	}

	for _, t := range b.hostList {
		_, on := b.attached[t]
		want := b.reg.Has(t)
		switch {
		case want && !on:
			b.attached[t] = b.source.On(t, func(payload any) { b.Publish(t, payload) })
		case !want && on:
			if cancel := b.attached[t]; cancel != nil {
				cancel()
			}
			delete(b.attached, t)
		}
	}
}

// Stats returns a snapshot of the counters.
func (b *Bus) Stats() Stats {
	return Stats{
		Published: b.published.Load(),
		Delivered: b.delivered.Load(),
		Panicked:  b.panicked.Load(),
		Replaced:  b.replaced.Load(),
	}
}

// Close cancels host registrations, drops pending debounced events and
// removes all listeners. Publish becomes a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for t, cancel := range b.attached {
		if cancel != nil {
			cancel()
		}
		delete(b.attached, t)
	}
	for _, d := range b.debounce {
		if d.timer != nil {
			d.timer.Stop()
		}
		d.armed = false
		d.pending = nil
	}
	b.mu.Unlock()

	b.reg.Clear()
}
