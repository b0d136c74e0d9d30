package watcher

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/event/topic"
)

type fakeBackend struct {
	mu      sync.Mutex
	added   map[string]int
	removed map[string]int
	failAdd error
	events  chan Event
	errors  chan error
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		added:   make(map[string]int),
		removed: make(map[string]int),
		events:  make(chan Event, 64),
		errors:  make(chan error, 4),
	}
}

func (b *fakeBackend) Add(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failAdd != nil {
		return b.failAdd
	}
	b.added[dir]++
	return nil
}

func (b *fakeBackend) Remove(dir string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removed[dir]++
	return nil
}

func (b *fakeBackend) Events() <-chan Event { return b.events }
func (b *fakeBackend) Errors() <-chan error { return b.errors }

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) counts(dir string) (added, removed int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.added[dir], b.removed[dir]
}

type published struct {
	topic   topic.Topic
	payload any
}

type recorder struct {
	mu  sync.Mutex
	got []published
	ch  chan published
}

func newRecorder() *recorder { return &recorder{ch: make(chan published, 16)} }

func (r *recorder) Publish(t topic.Topic, payload any) {
	r.mu.Lock()
	r.got = append(r.got, published{t, payload})
	r.mu.Unlock()
	r.ch <- published{t, payload}
}

func (r *recorder) wait(t *testing.T) published {
	t.Helper()
	select {
	case p := <-r.ch:
		return p
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return published{}
	}
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.got)
}

func TestDirWatcherRefcount(t *testing.T) {
	b := newFakeBackend()
	w := New(b, nil)
	defer w.Close()

	for range 3 {
		if err := w.Watch("/proj/src"); err != nil {
			t.Fatalf("watch: %v", err)
		}
	}
	if added, _ := b.counts("/proj/src"); added != 1 {
		t.Errorf("backend adds = %d, want 1", added)
	}
	if w.Refs("/proj/src") != 3 || w.Len() != 1 {
		t.Errorf("refs = %d, len = %d", w.Refs("/proj/src"), w.Len())
	}

	for range 2 {
		if err := w.Release("/proj/src"); err != nil {
			t.Fatalf("release: %v", err)
		}
	}
	if _, removed := b.counts("/proj/src"); removed != 0 {
		t.Error("handle removed while still held")
	}
	if err := w.Release("/proj/src"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, removed := b.counts("/proj/src"); removed != 1 {
		t.Errorf("backend removes = %d, want 1", removed)
	}
	if w.Len() != 0 {
		t.Errorf("len = %d", w.Len())
	}

	if err := w.Release("/proj/src"); !errors.Is(err, ErrNotWatching) {
		t.Errorf("extra release: %v", err)
	}
}

func TestDirWatcherAddFailure(t *testing.T) {
	b := newFakeBackend()
	b.failAdd = os.ErrNotExist
	w := New(b, nil)
	defer w.Close()

	if err := w.Watch("/gone"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("watch err = %v", err)
	}
	if w.Refs("/gone") != 0 {
		t.Error("failed watch must not hold a reference")
	}
	if w.Stats().Errors != 1 {
		t.Errorf("errors = %d", w.Stats().Errors)
	}
}

func TestDirWatcherCoalesces(t *testing.T) {
	b := newFakeBackend()
	rec := newRecorder()
	w := New(b, rec, WithDebounce(30*time.Millisecond))
	defer w.Close()

	if err := w.Watch("/proj"); err != nil {
		t.Fatal(err)
	}
	b.events <- Event{Path: "/proj/b.txt", Op: OpWrite}
	b.events <- Event{Path: "/proj/a.txt", Op: OpCreate}
	b.events <- Event{Path: "/proj/b.txt", Op: OpWrite}
	b.events <- Event{Path: "/elsewhere/x", Op: OpWrite}

	p := rec.wait(t)
	if p.topic != events.TopicFSChanged {
		t.Fatalf("topic = %s", p.topic)
	}
	fs := p.payload.(events.FSChanged)
	if fs.Dir != "/proj" || !slices.Equal(fs.Names, []string{"a.txt", "b.txt"}) {
		t.Errorf("payload = %+v", fs)
	}

	time.Sleep(80 * time.Millisecond)
	if rec.count() != 1 {
		t.Errorf("published %d batches, want 1", rec.count())
	}
}

func TestDirWatcherExcludes(t *testing.T) {
	b := newFakeBackend()
	w := New(b, newRecorder(), WithExcludes("node_modules"))
	defer w.Close()

	for _, d := range []string{"/proj/node_modules", "/proj/.git", "/proj/node_modules"} {
		if err := w.Watch(d); err != nil {
			t.Fatalf("watch %s: %v", d, err)
		}
	}
	for _, d := range []string{"/proj/node_modules", "/proj/.git"} {
		if added, _ := b.counts(d); added != 0 {
			t.Errorf("%s added %d times", d, added)
		}
	}
	if w.Len() != 0 {
		t.Errorf("len = %d", w.Len())
	}
	for _, d := range []string{"/proj/node_modules", "/proj/node_modules", "/proj/.git"} {
		if err := w.Release(d); err != nil {
			t.Errorf("release %s: %v", d, err)
		}
	}
	if err := w.Release("/proj/.git"); !errors.Is(err, ErrNotWatching) {
		t.Errorf("extra release = %v", err)
	}
}

func TestDirWatcherReportsExcludedEntries(t *testing.T) {
	b := newFakeBackend()
	rec := newRecorder()
	w := New(b, rec, WithExcludes("node_modules"))
	defer w.Close()

	if err := w.Watch("/proj"); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(Event{Path: "/proj/node_modules", Op: OpCreate})
	w.handleEvent(Event{Path: "/proj/.git", Op: OpCreate})
	w.Flush()

	p := rec.wait(t)
	if names := p.payload.(events.FSChanged).Names; !slices.Equal(names, []string{".git", "node_modules"}) {
		t.Errorf("names = %v", names)
	}
}

func TestDirWatcherGitDir(t *testing.T) {
	b := newFakeBackend()
	rec := newRecorder()
	w := New(b, rec)
	defer w.Close()

	if err := w.WatchGitDir("/proj/.git", "/proj"); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(Event{Path: "/proj/.git/index.lock", Op: OpCreate})
	w.handleEvent(Event{Path: "/proj/.git/index", Op: OpWrite})
	w.handleEvent(Event{Path: "/proj/.git/HEAD", Op: OpWrite})
	w.Flush()

	p := rec.wait(t)
	if p.topic != events.TopicGitDirChanged {
		t.Fatalf("topic = %s", p.topic)
	}
	gd := p.payload.(events.GitDirChanged)
	if gd.Toplevel != "/proj" || !slices.Equal(gd.Names, []string{"HEAD", "index"}) {
		t.Errorf("payload = %+v", gd)
	}

	if err := w.Release("/proj/.git"); !errors.Is(err, ErrNotWatching) {
		t.Errorf("plain release of git watch: %v", err)
	}
	if err := w.ReleaseGitDir("/proj/.git"); err != nil {
		t.Fatal(err)
	}
	if w.Len() != 0 {
		t.Error("git watch not removed")
	}
}

func TestDirWatcherReleaseCancelsPending(t *testing.T) {
	b := newFakeBackend()
	rec := newRecorder()
	w := New(b, rec, WithDebounce(20*time.Millisecond))
	defer w.Close()

	if err := w.Watch("/proj"); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(Event{Path: "/proj/a", Op: OpCreate})
	if err := w.Release("/proj"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(60 * time.Millisecond)
	if rec.count() != 0 {
		t.Error("batch for released directory was published")
	}
}

func TestDirWatcherCloseAll(t *testing.T) {
	b := newFakeBackend()
	w := New(b, nil)
	defer w.Close()

	for _, d := range []string{"/a", "/b", "/c"} {
		if err := w.Watch(d); err != nil {
			t.Fatal(err)
		}
	}
	w.CloseAll()
	if w.Len() != 0 {
		t.Errorf("len = %d", w.Len())
	}
	for _, d := range []string{"/a", "/b", "/c"} {
		if _, removed := b.counts(d); removed != 1 {
			t.Errorf("%s removed %d times", d, removed)
		}
	}
	if err := w.Watch("/a"); err != nil {
		t.Errorf("watch after CloseAll: %v", err)
	}
}

func TestDirWatcherClosesOnLeave(t *testing.T) {
	bus := event.NewBus()
	defer bus.Close()
	w := New(newFakeBackend(), bus)
	defer w.Close()
	w.Subscribe(bus)

	if err := w.Watch("/a"); err != nil {
		t.Fatal(err)
	}
	bus.Publish(events.TopicLeave, nil)
	if w.Len() != 0 {
		t.Errorf("len after leave = %d", w.Len())
	}
}

func TestDirWatcherClose(t *testing.T) {
	b := newFakeBackend()
	w := New(b, nil)
	if err := w.Watch("/a"); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if !b.closed {
		t.Error("backend not closed")
	}
	if err := w.Watch("/a"); !errors.Is(err, ErrWatcherClosed) {
		t.Errorf("watch after close: %v", err)
	}
}

func TestDirWatcherScheduler(t *testing.T) {
	b := newFakeBackend()
	rec := newRecorder()
	var scheduled int
	w := New(b, rec, WithScheduler(func(fn func()) {
		scheduled++
		fn()
	}))
	defer w.Close()

	if err := w.Watch("/proj"); err != nil {
		t.Fatal(err)
	}
	w.handleEvent(Event{Path: "/proj/x", Op: OpCreate})
	w.Flush()
	rec.wait(t)
	if scheduled != 1 {
		t.Errorf("scheduled = %d", scheduled)
	}
}

func TestPatterns(t *testing.T) {
	p := NewPatterns("*.log", "# comment", "", "!keep.log", "build/")
	tests := map[string]bool{
		"app.log":  true,
		"keep.log": false,
		"build":    true,
		"main.go":  false,
	}
	for name, want := range tests {
		if got := p.Match(name); got != want {
			t.Errorf("Match(%s) = %v, want %v", name, got, want)
		}
	}
	if p.Len() != 3 {
		t.Errorf("len = %d", p.Len())
	}
	var nilPatterns *Patterns
	if nilPatterns.Match("x") {
		t.Error("nil patterns match nothing")
	}
}

func TestFSNotifyBackend(t *testing.T) {
	b, err := NewFSNotify()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	rec := newRecorder()
	w := New(b, rec, WithDebounce(50*time.Millisecond))
	defer w.Close()

	dir := t.TempDir()
	if err := w.Watch(dir); err != nil {
		t.Fatalf("watch: %v", err)
	}
	for _, name := range []string{"one.txt", "two.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	deadline := time.After(3 * time.Second)
	seen := map[string]bool{}
	for !seen["one.txt"] || !seen["two.txt"] {
		select {
		case p := <-rec.ch:
			fs := p.payload.(events.FSChanged)
			if fs.Dir != dir {
				t.Fatalf("dir = %s", fs.Dir)
			}
			for _, n := range fs.Names {
				seen[n] = true
			}
		case <-deadline:
			t.Fatalf("saw %v", seen)
		}
	}
	if err := w.Release(dir); err != nil {
		t.Errorf("release: %v", err)
	}
}
