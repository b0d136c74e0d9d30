// Package diagnostics keeps per-path diagnostic counts reported by the
// host and, optionally, their aggregate over every ancestor directory so a
// collapsed directory can show the worst severity below it.
package diagnostics

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
)

// Counts tallies diagnostics by severity.
type Counts struct {
	Errors   int
	Warnings int
	Infos    int
	Hints    int
}

// Total returns the number of diagnostics.
func (c Counts) Total() int { return c.Errors + c.Warnings + c.Infos + c.Hints }

// Worst returns the most severe level present, or zero when empty.
func (c Counts) Worst() events.Severity {
	switch {
	case c.Errors > 0:
		return events.SeverityError
	case c.Warnings > 0:
		return events.SeverityWarning
	case c.Infos > 0:
		return events.SeverityInfo
	case c.Hints > 0:
		return events.SeverityHint
	}
	return 0
}

func (c Counts) add(o Counts, sign int) Counts {
	return Counts{
		Errors:   c.Errors + sign*o.Errors,
		Warnings: c.Warnings + sign*o.Warnings,
		Infos:    c.Infos + sign*o.Infos,
		Hints:    c.Hints + sign*o.Hints,
	}
}

func count(items []events.Diagnostic) Counts {
	var c Counts
	for _, d := range items {
		switch d.Severity {
		case events.SeverityError:
			c.Errors++
		case events.SeverityWarning:
			c.Warnings++
		case events.SeverityInfo:
			c.Infos++
		default:
			c.Hints++
		}
	}
	return c
}

// Publisher publishes diagnostics changes.
type Publisher interface {
	Publish(t topic.Topic, payload any)
}

// Store holds diagnostics for files.
type Store struct {
	mu        sync.RWMutex
	files     map[string]Counts
	dirs      map[string]Counts
	propagate bool
	pub       Publisher
	logger    *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithPropagation aggregates counts into ancestor directories.
func WithPropagation(on bool) Option {
	return func(s *Store) { s.propagate = on }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// New creates a store that announces changes on pub.
func New(pub Publisher, opts ...Option) *Store {
	s := &Store{
		files:  make(map[string]Counts),
		dirs:   make(map[string]Counts),
		pub:    pub,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Set replaces the diagnostics of path and publishes
// app.diagnostics.changed when the counts changed. An empty list clears
// the path.
func (s *Store) Set(path string, items []events.Diagnostic) {
	path = filepath.Clean(path)
	next := count(items)

	s.mu.Lock()
	prev := s.files[path]
	if prev == next {
		s.mu.Unlock()
		return
	}
	if next.Total() == 0 {
		delete(s.files, path)
	} else {
		s.files[path] = next
	}
	changed := []string{path}
	if s.propagate {
		for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
			agg := s.dirs[dir].add(prev, -1).add(next, 1)
			if agg.Total() == 0 {
				delete(s.dirs, dir)
			} else {
				s.dirs[dir] = agg
			}
			changed = append(changed, dir)
			if parent := filepath.Dir(dir); parent == dir {
				break
			}
		}
	}
	s.mu.Unlock()

	s.logger.Debug("diagnostics changed", zap.String("path", path), zap.Int("total", next.Total()))
	if s.pub != nil {
		sort.Strings(changed)
		s.pub.Publish(events.TopicDiagnosticsChanged, events.DiagnosticsChanged{Paths: changed})
	}
}

// Get returns the counts for a file, or the aggregate for a directory
// when propagation is enabled.
func (s *Store) Get(path string) Counts {
	path = filepath.Clean(path)
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.files[path]; ok {
		return c
	}
	return s.dirs[path]
}

// Paths returns the files with diagnostics, sorted.
func (s *Store) Paths() []string {
	s.mu.RLock()
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	s.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Clear removes every diagnostic.
func (s *Store) Clear() {
	for _, p := range s.Paths() {
		s.Set(p, nil)
	}
}

// Subscribe feeds the store from host.diagnostics.changed events.
func (s *Store) Subscribe(bus *event.Bus) {
	bus.SubscribeFunc("diagnostics", "diagnostics.store", events.TopicDiagnostics, func(ev event.Event) {
		d, ok := ev.Payload.(events.Diagnostics)
		if !ok {
			s.logger.Error("unexpected diagnostics payload", zap.String("type", fmt.Sprintf("%T", ev.Payload)))
			return
		}
		s.Set(d.Path, d.Items)
	})
}

// MergeChanged combines DiagnosticsChanged payloads for a debounced bus
// topic into one sorted, deduplicated path list.
func MergeChanged(pending, next any) any {
	a, _ := pending.(events.DiagnosticsChanged)
	b, _ := next.(events.DiagnosticsChanged)
	seen := make(map[string]bool, len(a.Paths)+len(b.Paths))
	var out []string
	for _, p := range append(append([]string(nil), a.Paths...), b.Paths...) {
		if !seen[p] {
			seen[p] = true
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return events.DiagnosticsChanged{Paths: out}
}
