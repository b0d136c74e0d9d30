package panel

import (
	"context"
	"errors"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/dshills/sidetree/internal/event"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/metrics"
	"github.com/dshills/sidetree/internal/tree"
	"github.com/dshills/sidetree/internal/vfs"
)

type fixture struct {
	host *host.Fake
	bus  *event.Bus
	fs   *vfs.MemFS
	deps Deps
}

// newFixture returns deps over an in-memory /proj holding src/main.go and
// README.md.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	m := vfs.NewMemFS()
	m.AddFile("/proj/README.md", "# proj\n")
	m.AddFile("/proj/src/main.go", "package main\n")
	h := host.NewFake("/proj")
	bus := event.NewBus()
	t.Cleanup(bus.Close)
	return &fixture{
		host: h,
		bus:  bus,
		fs:   m,
		deps: Deps{
			Host:  h,
			View:  h,
			Bus:   bus,
			FS:    m,
			Sort:  tree.DefaultSort,
			Width: 40,
		},
	}
}

func openFiles(t *testing.T, fx *fixture, cfg FilesConfig) *Files {
	t.Helper()
	f := NewFiles(fx.deps, cfg)
	f.SetVisible(true)
	if err := f.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(f.Delete)
	return f
}

func childNames(tr *tree.Tree, path string) []string {
	n := tr.GetNode(path)
	if n == nil {
		return nil
	}
	var names []string
	for _, c := range tr.Children(n.ID) {
		names = append(names, c.Name)
	}
	return names
}

func lastLines(t *testing.T, h *host.Fake, id string) []string {
	t.Helper()
	d, ok := h.LastDraw(id)
	if !ok {
		t.Fatalf("panel %s never drew", id)
	}
	return d.Lines
}

func hasLine(lines []string, sub string) bool {
	return slices.ContainsFunc(lines, func(l string) bool { return strings.Contains(l, sub) })
}

func TestRefreshSkippedWhileBusy(t *testing.T) {
	fx := newFixture(t)
	reg := metrics.New()
	fx.deps.Metrics = reg
	f := openFiles(t, fx, FilesConfig{})

	entered := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	fx.fs.OnScan(func(dir string) {
		once.Do(func() {
			close(entered)
			<-release
		})
	})

	done := make(chan error, 1)
	go func() { done <- f.Refresh(context.Background()) }()
	<-entered

	if err := f.Refresh(context.Background()); !errors.Is(err, ErrBusy) {
		t.Fatalf("second refresh = %v, want ErrBusy", err)
	}
	if f.State() != StateStale {
		t.Errorf("state = %v, want stale", f.State())
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first refresh: %v", err)
	}
	if f.State() != StateScanned {
		t.Errorf("state = %v, want scanned", f.State())
	}
	rec := httptest.NewRecorder()
	reg.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	if want := `sidetree_panel_refreshes_skipped_total{panel="files"} 1`; !strings.Contains(rec.Body.String(), want) {
		t.Errorf("metrics missing %q", want)
	}
}

func TestRedrawOnlyWhenVisible(t *testing.T) {
	fx := newFixture(t)
	f := NewFiles(fx.deps, FilesConfig{})
	t.Cleanup(f.Delete)
	if err := f.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := len(fx.host.Draws(f.ID())); n != 0 {
		t.Fatalf("hidden panel drew %d times", n)
	}
	f.SetVisible(true)
	if n := len(fx.host.Draws(f.ID())); n != 1 {
		t.Fatalf("draws after show = %d, want 1", n)
	}
	f.SetVisible(true)
	if n := len(fx.host.Draws(f.ID())); n != 1 {
		t.Errorf("showing a shown panel redrew")
	}
}

func TestCursorSurvivesRefresh(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	f.SetCursor("/proj/src")

	fx.fs.AddDir("/proj/assets")
	if err := f.Refresh(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.Cursor() != "/proj/src" {
		t.Fatalf("cursor = %q", f.Cursor())
	}
	if d, _ := fx.host.LastDraw(f.ID()); d.Cursor != 2 {
		t.Errorf("cursor line = %d, want 2 (after assets)", d.Cursor)
	}
}

func TestCursorClampedWhenNodeRemoved(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	f.SetCursor("/proj/README.md")

	fx.fs.Remove("/proj/README.md")
	fx.bus.Publish(events.TopicFSChanged, events.FSChanged{Dir: "/proj", Names: []string{"README.md"}})
	f.Wait()

	if f.Cursor() != "/proj/src" {
		t.Errorf("cursor = %q, want the row that took its place", f.Cursor())
	}
}

func TestMoveCursor(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	ctx := context.Background()

	for _, tt := range []struct {
		action string
		want   string
	}{
		{"cursor_down", "/proj/src"},
		{"cursor_down", "/proj/README.md"},
		{"cursor_down", "/proj/README.md"},
		{"cursor_top", "/proj"},
		{"cursor_bottom", "/proj/README.md"},
		{"cursor_up", "/proj/src"},
	} {
		if err := f.Do(ctx, tt.action); err != nil {
			t.Fatalf("%s: %v", tt.action, err)
		}
		if f.Cursor() != tt.want {
			t.Fatalf("after %s cursor = %q, want %q", tt.action, f.Cursor(), tt.want)
		}
	}
}

func TestKeyMappings(t *testing.T) {
	fx := newFixture(t)
	f := NewFiles(fx.deps, FilesConfig{Mappings: map[string]string{
		"j": "",
		"J": "cursor_down",
	}})
	t.Cleanup(f.Delete)
	f.SetVisible(true)
	ctx := context.Background()
	if err := f.Open(ctx); err != nil {
		t.Fatal(err)
	}

	if err := f.Key(ctx, "j"); err == nil {
		t.Error("unbound key ran an action")
	}
	if err := f.Key(ctx, "J"); err != nil || f.Cursor() != "/proj/src" {
		t.Errorf("J: err=%v cursor=%q", err, f.Cursor())
	}

	errs := f.bind(nil, map[string]string{"q": "explode"})
	if len(errs) != 1 || !errors.Is(errs[0], ErrUnknownAction) {
		t.Errorf("bind errors = %v", errs)
	}
	if _, ok := f.Keys()["q"]; ok {
		t.Error("mapping to unknown action kept")
	}
	if err := f.Do(ctx, "explode"); !errors.Is(err, ErrUnknownAction) {
		t.Errorf("Do unknown = %v", err)
	}
}

func TestDeleteRemovesListeners(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	if fx.bus.OwnerListeners(f.ID()) == 0 {
		t.Fatal("panel registered no listeners")
	}

	f.Delete()
	if n := fx.bus.OwnerListeners(f.ID()); n != 0 {
		t.Errorf("listeners after delete = %d", n)
	}
	if f.State() != StateDeleted {
		t.Errorf("state = %v", f.State())
	}
	if err := f.Refresh(context.Background()); !errors.Is(err, ErrDeleted) {
		t.Errorf("refresh after delete = %v", err)
	}
	if err := f.Do(context.Background(), "refresh"); !errors.Is(err, ErrDeleted) {
		t.Errorf("action after delete = %v", err)
	}
	draws := len(fx.host.Draws(f.ID()))
	f.Redraw()
	if len(fx.host.Draws(f.ID())) != draws {
		t.Error("deleted panel drew")
	}
}

func TestActionPanicRecovered(t *testing.T) {
	fx := newFixture(t)
	f := openFiles(t, fx, FilesConfig{})
	f.register("boom", func(context.Context) error { panic("boom") })

	err := f.Do(context.Background(), "boom")
	if err == nil || !strings.Contains(err.Error(), "panicked") {
		t.Fatalf("err = %v", err)
	}
	notes := fx.host.Notes()
	if len(notes) == 0 || notes[len(notes)-1].Level != host.LevelError {
		t.Errorf("notes = %+v", notes)
	}
}

func TestStateTransitions(t *testing.T) {
	fx := newFixture(t)
	f := NewFiles(fx.deps, FilesConfig{})
	if f.State() != StateUninitialized {
		t.Fatalf("new panel state = %v", f.State())
	}
	if err := f.Open(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.State() != StateScanned {
		t.Errorf("after open = %v", f.State())
	}
	f.Delete()
	f.setState(StateScanned)
	if f.State() != StateDeleted {
		t.Errorf("left deleted state: %v", f.State())
	}
}
