package watcher

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/metrics"
)

// DirWatcher reference-counts directory watches and publishes coalesced
// change events.
type DirWatcher struct {
	backend   Backend
	publisher Publisher
	logger    *zap.Logger
	metrics   *metrics.Metrics
	debounce  time.Duration
	exclude   *Patterns
	gitIgnore *Patterns
	schedule  func(func())

	mu      sync.Mutex
	handles map[string]*handle
	skipped map[string]int // excluded directories: holds without a backend watch
	pending map[batchKey]*batch
	closed  bool
	lastErr error

	rawEvents atomic.Int64
	batches   atomic.Int64
	errCount  atomic.Int64

	done chan struct{}
	wg   sync.WaitGroup
}

// handle is one backend watch shared by every holder of the directory.
type handle struct {
	refs     int
	gitRefs  int
	toplevel string
}

func (h *handle) total() int { return h.refs + h.gitRefs }

type batchKey struct {
	dir string
	git bool
}

type batch struct {
	names map[string]struct{}
	raw   int
	timer *time.Timer
}

// Option configures a DirWatcher.
type Option func(*DirWatcher)

// WithDebounce sets the coalescing window.
func WithDebounce(d time.Duration) Option {
	return func(w *DirWatcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(w *DirWatcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithMetrics records handle counts and batch sizes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(w *DirWatcher) { w.metrics = m }
}

// WithExcludes adds name rules for working tree directories. ".git" is
// always excluded.
func WithExcludes(rules ...string) Option {
	return func(w *DirWatcher) { w.exclude.Add(rules...) }
}

// WithScheduler runs every publish through fn, typically to move delivery
// onto the host's main loop.
func WithScheduler(fn func(func())) Option {
	return func(w *DirWatcher) {
		if fn != nil {
			w.schedule = fn
		}
	}
}

// New creates a DirWatcher over backend and starts its event loop.
func New(backend Backend, pub Publisher, opts ...Option) *DirWatcher {
	w := &DirWatcher{
		backend:   backend,
		publisher: pub,
		logger:    zap.NewNop(),
		debounce:  DefaultDebounce,
		exclude:   NewPatterns(),
		gitIgnore: NewPatterns(GitDirExcludes...),
		schedule:  func(fn func()) { fn() },
		handles:   make(map[string]*handle),
		skipped:   make(map[string]int),
		pending:   make(map[batchKey]*batch),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("watcher")

	w.wg.Add(1)
	go w.processLoop()
	return w
}

// Watch acquires a watch on dir. Every successful Watch must be paired
// with exactly one Release.
func (w *DirWatcher) Watch(dir string) error {
	return w.acquire(filepath.Clean(dir), false, "")
}

// Release drops one hold on dir and removes the backend watch with the
// last one.
func (w *DirWatcher) Release(dir string) error {
	return w.release(filepath.Clean(dir), false)
}

// WatchGitDir acquires a watch on a repository's metadata directory.
// Changes are published as events.GitDirChanged for toplevel.
func (w *DirWatcher) WatchGitDir(gitDir, toplevel string) error {
	return w.acquire(filepath.Clean(gitDir), true, toplevel)
}

// ReleaseGitDir drops a hold acquired with WatchGitDir.
func (w *DirWatcher) ReleaseGitDir(gitDir string) error {
	return w.release(filepath.Clean(gitDir), true)
}

func (w *DirWatcher) acquire(dir string, git bool, toplevel string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return ErrWatcherClosed
	}

	if !git && w.excluded(dir) {
		w.skipped[dir]++
		return nil
	}
	h, ok := w.handles[dir]
	if !ok {
		if err := w.backend.Add(dir); err != nil {
			w.recordError(err)
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		h = &handle{}
		w.handles[dir] = h
		w.metrics.WatchHandles(len(w.handles))
		w.logger.Debug("watch added", zap.String("dir", dir), zap.Bool("git", git))
	}
	if git {
		h.gitRefs++
		h.toplevel = toplevel
	} else {
		h.refs++
	}
	return nil
}

func (w *DirWatcher) release(dir string, git bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if n := w.skipped[dir]; !git && n > 0 {
		if n == 1 {
			delete(w.skipped, dir)
		} else {
			w.skipped[dir] = n - 1
		}
		return nil
	}
	h, ok := w.handles[dir]
	if !ok || (git && h.gitRefs == 0) || (!git && h.refs == 0) {
		return fmt.Errorf("release %s: %w", dir, ErrNotWatching)
	}
	if git {
		h.gitRefs--
	} else {
		h.refs--
	}
	if h.gitRefs == 0 {
		w.cancelLocked(batchKey{dir: dir, git: true})
	}
	if h.refs == 0 {
		w.cancelLocked(batchKey{dir: dir})
	}
	if h.total() > 0 {
		return nil
	}

	delete(w.handles, dir)
	w.metrics.WatchHandles(len(w.handles))
	w.logger.Debug("watch removed", zap.String("dir", dir))
	if err := w.backend.Remove(dir); err != nil {
		w.recordError(err)
		return fmt.Errorf("unwatch %s: %w", dir, err)
	}
	return nil
}

// excluded reports whether dir is never watched: ".git" and any directory
// whose name matches an exclusion rule.
func (w *DirWatcher) excluded(dir string) bool {
	name := filepath.Base(dir)
	return name == ".git" || w.exclude.Match(name)
}

// Refs returns the number of holds on dir.
func (w *DirWatcher) Refs(dir string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	if h, ok := w.handles[filepath.Clean(dir)]; ok {
		return h.total()
	}
	return 0
}

// Len returns the number of backend watches.
func (w *DirWatcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.handles)
}

// Dirs returns the watched directories in order.
func (w *DirWatcher) Dirs() []string {
	w.mu.Lock()
	dirs := make([]string, 0, len(w.handles))
	for d := range w.handles {
		dirs = append(dirs, d)
	}
	w.mu.Unlock()
	sort.Strings(dirs)
	return dirs
}

func (w *DirWatcher) processLoop() {
	defer w.wg.Done()
	events, errs := w.backend.Events(), w.backend.Errors()
	for {
		select {
		case <-w.done:
			return

		case ev, ok := <-events:
			if !ok {
				return
			}
			w.handleEvent(ev)

		case err, ok := <-errs:
			if !ok {
				return
			}
			w.mu.Lock()
			w.recordError(err)
			w.mu.Unlock()
			w.logger.Warn("watch error", zap.Error(err))
		}
	}
}

// handleEvent adds the entry name to its directory's open batch. Entries
// are not filtered by the exclusion rules: an excluded directory appearing
// in a watched parent is still a listing change.
func (w *DirWatcher) handleEvent(ev Event) {
	w.rawEvents.Add(1)
	path := filepath.Clean(ev.Path)
	dir, name := filepath.Dir(path), filepath.Base(path)

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	h, ok := w.handles[dir]
	if !ok {
		return
	}
	if h.refs > 0 {
		w.enqueueLocked(batchKey{dir: dir}, name)
	}
	if h.gitRefs > 0 && !w.gitIgnore.Match(name) {
		w.enqueueLocked(batchKey{dir: dir, git: true}, name)
	}
}

func (w *DirWatcher) enqueueLocked(key batchKey, name string) {
	b, ok := w.pending[key]
	if !ok {
		b = &batch{names: make(map[string]struct{})}
		b.timer = time.AfterFunc(w.debounce, func() { w.fire(key) })
		w.pending[key] = b
	}
	b.names[name] = struct{}{}
	b.raw++
}

func (w *DirWatcher) cancelLocked(key batchKey) {
	if b, ok := w.pending[key]; ok {
		b.timer.Stop()
		delete(w.pending, key)
	}
}

// fire publishes and clears one batch.
func (w *DirWatcher) fire(key batchKey) {
	w.mu.Lock()
	b, ok := w.pending[key]
	if !ok || w.closed {
		w.mu.Unlock()
		return
	}
	delete(w.pending, key)
	h := w.handles[key.dir]
	if h == nil {
		w.mu.Unlock()
		return
	}
	toplevel := h.toplevel
	w.mu.Unlock()

	names := make([]string, 0, len(b.names))
	for n := range b.names {
		names = append(names, n)
	}
	sort.Strings(names)

	w.batches.Add(1)
	w.metrics.WatchBatch(b.raw)
	if w.publisher == nil {
		return
	}

	if key.git {
		payload := events.GitDirChanged{Toplevel: toplevel, GitDir: key.dir, Names: names}
		w.schedule(func() { w.publisher.Publish(events.TopicGitDirChanged, payload) })
		return
	}
	payload := events.FSChanged{Dir: key.dir, Names: names}
	w.schedule(func() { w.publisher.Publish(events.TopicFSChanged, payload) })
}

// Flush publishes every open batch immediately.
func (w *DirWatcher) Flush() {
	w.mu.Lock()
	keys := make([]batchKey, 0, len(w.pending))
	for k, b := range w.pending {
		b.timer.Stop()
		keys = append(keys, k)
	}
	w.mu.Unlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].dir != keys[j].dir {
			return keys[i].dir < keys[j].dir
		}
		return !keys[i].git && keys[j].git
	})
	for _, k := range keys {
		w.fire(k)
	}
}

// CloseAll drops every watch and pending batch. The watcher stays usable.
func (w *DirWatcher) CloseAll() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closeAllLocked()
}

// Subscribe drops every watch when the host leaves.
func (w *DirWatcher) Subscribe(bus *event.Bus) {
	bus.SubscribeFunc("watcher", "watcher.leave", events.TopicLeave, func(event.Event) { w.CloseAll() })
}

func (w *DirWatcher) closeAllLocked() {
	for k := range w.pending {
		w.cancelLocked(k)
	}
	clear(w.skipped)
	n := len(w.handles)
	for dir := range w.handles {
		if err := w.backend.Remove(dir); err != nil {
			w.recordError(err)
		}
		delete(w.handles, dir)
	}
	w.metrics.WatchHandles(0)
	if n > 0 {
		w.logger.Debug("all watches closed", zap.Int("count", n))
	}
}

// Close drops every watch and stops the watcher and its backend.
func (w *DirWatcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closeAllLocked()
	w.closed = true
	close(w.done)
	w.mu.Unlock()

	w.wg.Wait()
	return w.backend.Close()
}

// Stats returns watcher statistics.
func (w *DirWatcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Handles:   len(w.handles),
		Pending:   len(w.pending),
		RawEvents: w.rawEvents.Load(),
		Batches:   w.batches.Load(),
		Errors:    w.errCount.Load(),
		LastError: w.lastErr,
	}
}

func (w *DirWatcher) recordError(err error) {
	w.errCount.Add(1)
	w.lastErr = err
}
