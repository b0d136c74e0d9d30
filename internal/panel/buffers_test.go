package panel

import (
	"context"
	"slices"
	"testing"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/tree"
)

func openBuffers(t *testing.T, fx *fixture, cfg BuffersConfig) *Buffers {
	t.Helper()
	b := NewBuffers(fx.deps, cfg)
	b.SetVisible(true)
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(b.Delete)
	return b
}

func TestBuffersUnderCwd(t *testing.T) {
	fx := newFixture(t)
	fx.host.SetBuffers([]host.Buffer{
		{ID: 1, Path: "/proj/README.md"},
		{ID: 2, Path: "/proj/src/main.go", Modified: true},
		{ID: 3, Path: ""},
	}, 0)
	b := openBuffers(t, fx, BuffersConfig{})

	if b.Tree().RootPath() != "/proj" {
		t.Fatalf("root = %q", b.Tree().RootPath())
	}
	if got := childNames(b.Tree(), "/proj"); !slices.Equal(got, []string{"src", "README.md"}) {
		t.Errorf("children = %v", got)
	}
	n := b.Tree().GetNode("/proj/src/main.go")
	if n == nil {
		t.Fatal("main.go missing")
	}
	info, ok := tree.As[tree.BufferInfo](n)
	if !ok || info.BufferID != 2 || !info.Modified {
		t.Errorf("payload = %+v", n.Payload)
	}
}

func TestBuffersRootWidens(t *testing.T) {
	fx := newFixture(t)
	fx.host.SetBuffers([]host.Buffer{
		{ID: 1, Path: "/proj/README.md"},
		{ID: 2, Path: "/other/notes.txt"},
	}, 0)
	b := openBuffers(t, fx, BuffersConfig{})

	if b.Tree().RootPath() != "/" {
		t.Fatalf("root = %q, want /", b.Tree().RootPath())
	}
	if got := childNames(b.Tree(), "/"); !slices.Equal(got, []string{"other", "proj"}) {
		t.Errorf("children = %v", got)
	}

	fx.host.SetBuffers([]host.Buffer{{ID: 1, Path: "/proj/README.md"}}, 0)
	fx.bus.Publish(events.TopicBufDeleted, events.Buffer{ID: 2, Path: "/other/notes.txt"})
	b.Wait()
	if b.Tree().RootPath() != "/proj" {
		t.Errorf("root after delete = %q", b.Tree().RootPath())
	}
}

func TestBuffersDeleteExcludesBuffer(t *testing.T) {
	fx := newFixture(t)
	bufs := []host.Buffer{
		{ID: 1, Path: "/proj/README.md"},
		{ID: 2, Path: "/proj/src/main.go"},
	}
	fx.host.SetBuffers(bufs, 0)
	b := openBuffers(t, fx, BuffersConfig{})

	// The host still lists the buffer while the delete event runs.
	fx.bus.Publish(events.TopicBufDeleted, events.Buffer{ID: 2, Path: "/proj/src/main.go"})
	b.Wait()
	if b.Tree().GetNode("/proj/src/main.go") != nil {
		t.Error("deleted buffer still listed")
	}
	if b.Tree().GetNode("/proj/README.md") == nil {
		t.Error("other buffer dropped")
	}
}

func TestBuffersHiddenAndTerminal(t *testing.T) {
	fx := newFixture(t)
	fx.host.SetBuffers([]host.Buffer{
		{ID: 1, Path: "/proj/README.md"},
		{ID: 2, Path: "/proj/src/main.go", Hidden: true},
		{ID: 7, Path: "term://bash", Terminal: true},
	}, 0)
	b := openBuffers(t, fx, BuffersConfig{})

	if b.Tree().GetNode("/proj/src/main.go") != nil {
		t.Error("hidden buffer listed")
	}
	term := b.Tree().GetNode("/proj/term-7")
	if term == nil || term.Name != "term://bash" {
		t.Fatalf("terminal node = %+v", term)
	}

	b.SetCursor(term.Path)
	if err := b.Do(context.Background(), "open"); err != nil {
		t.Fatal(err)
	}
	if got := fx.host.Opened(); len(got) != 1 || got[0] != "term://bash" {
		t.Errorf("opened = %v", got)
	}

	shown := openBuffers(t, fx, BuffersConfig{ShowHidden: true})
	if shown.Tree().GetNode("/proj/src/main.go") == nil {
		t.Error("ShowHidden did not list the hidden buffer")
	}
}

func TestBuffersFollowAdd(t *testing.T) {
	fx := newFixture(t)
	fx.host.SetBuffers([]host.Buffer{{ID: 1, Path: "/proj/README.md"}}, 0)
	b := openBuffers(t, fx, BuffersConfig{})

	fx.host.SetBuffers([]host.Buffer{
		{ID: 1, Path: "/proj/README.md"},
		{ID: 2, Path: "/proj/src/main.go"},
	}, 1)
	fx.bus.Publish(events.TopicBufAdded, events.Buffer{ID: 2, Path: "/proj/src/main.go"})
	b.Wait()
	if !hasLine(lastLines(t, fx.host, b.ID()), "main.go") {
		t.Errorf("lines = %q", lastLines(t, fx.host, b.ID()))
	}
}

func TestCommonAncestor(t *testing.T) {
	for _, tt := range []struct {
		root, path, want string
	}{
		{"/proj", "/proj/a/b.go", "/proj"},
		{"/proj", "/other/x.go", "/"},
		{"/proj/src", "/proj/docs/x.md", "/proj"},
		{"/proj", "/x.go", "/"},
	} {
		if got := commonAncestor(tt.root, tt.path); got != tt.want {
			t.Errorf("commonAncestor(%q, %q) = %q, want %q", tt.root, tt.path, got, tt.want)
		}
	}
}
