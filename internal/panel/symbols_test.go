package panel

import (
	"context"
	"errors"
	"slices"
	"testing"

	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/tree"
)

const documentSymbols = `[
  {"name":"Server","kind":23,
   "range":{"start":{"line":2,"character":0},"end":{"line":20,"character":1}},
   "selectionRange":{"start":{"line":2,"character":5},"end":{"line":2,"character":11}},
   "children":[
     {"name":"Run","kind":6,
      "range":{"start":{"line":5,"character":0},"end":{"line":9,"character":1}},
      "selectionRange":{"start":{"line":5,"character":17},"end":{"line":5,"character":20}}}
   ]},
  {"name":"main","kind":12,
   "range":{"start":{"line":22,"character":0},"end":{"line":25,"character":1}},
   "selectionRange":{"start":{"line":22,"character":5},"end":{"line":22,"character":9}}}
]`

const mainGo = "/proj/src/main.go"

// withLSP attaches a fake client answering documentSymbol to paths.
func withLSP(fx *fixture, paths ...string) *lsp.FakeClient {
	c := lsp.NewFakeClient("gopls")
	c.Respond(lsp.MethodDocumentSymbol, documentSymbols)
	reg := lsp.NewRegistry()
	for _, p := range paths {
		reg.Attach(p, c)
	}
	fx.deps.LSP = reg
	return c
}

func openSymbols(t *testing.T, fx *fixture, cfg SymbolsConfig) *Symbols {
	t.Helper()
	s := NewSymbols(fx.deps, cfg)
	s.SetVisible(true)
	if err := s.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(s.Delete)
	return s
}

func TestSymbolsLoad(t *testing.T) {
	fx := newFixture(t)
	withLSP(fx, mainGo)
	fx.host.SetBuffers([]host.Buffer{{ID: 1, Path: mainGo}}, 0)
	s := openSymbols(t, fx, SymbolsConfig{})

	if s.File() != mainGo {
		t.Fatalf("file = %q", s.File())
	}
	if got := childNames(s.Tree(), mainGo); !slices.Equal(got, []string{"Server", "main"}) {
		t.Fatalf("children = %v, want document order", got)
	}
	s.Tree().SetSort(tree.SortOptions{By: tree.SortByName})
	if got := childNames(s.Tree(), mainGo); !slices.Equal(got, []string{"Server", "main"}) {
		t.Errorf("children after SetSort = %v", got)
	}
	server := mainGo + "/Server@2:5"
	if got := childNames(s.Tree(), server); !slices.Equal(got, []string{"Run"}) {
		t.Errorf("Server children = %v", got)
	}
	info, ok := tree.As[tree.SymbolInfo](s.Tree().GetNode(server))
	if !ok {
		t.Fatal("Server carries no symbol payload")
	}
	if want := (tree.Range{StartLine: 2, EndLine: 20, EndCharacter: 1}); info.Range != want {
		t.Errorf("range = %+v, want the whole symbol", info.Range)
	}
	if want := (tree.Range{StartLine: 2, StartCharacter: 5, EndLine: 2, EndCharacter: 11}); info.Selection != want {
		t.Errorf("selection = %+v, want the name", info.Selection)
	}

	s.SetCursor(server)
	if err := s.Do(context.Background(), "expand"); err != nil {
		t.Fatal(err)
	}
	s.SetCursor(server + "/Run@5:17")
	if err := s.Do(context.Background(), "open"); err != nil {
		t.Fatal(err)
	}
	if got := fx.host.Opened(); !slices.Equal(got, []string{mainGo}) {
		t.Errorf("opened = %v", got)
	}
}

func TestSymbolsPlaceholders(t *testing.T) {
	t.Run("no buffer", func(t *testing.T) {
		fx := newFixture(t)
		s := openSymbols(t, fx, SymbolsConfig{})
		if !hasLine(lastLines(t, fx.host, s.ID()), textNoBuffer) {
			t.Errorf("lines = %q", lastLines(t, fx.host, s.ID()))
		}
	})
	t.Run("no client", func(t *testing.T) {
		fx := newFixture(t)
		withLSP(fx, "/proj/other.go")
		fx.host.SetBuffers([]host.Buffer{{ID: 1, Path: mainGo}}, 0)
		s := openSymbols(t, fx, SymbolsConfig{})
		if !hasLine(lastLines(t, fx.host, s.ID()), textNoClient) {
			t.Errorf("lines = %q", lastLines(t, fx.host, s.ID()))
		}
	})
}

func TestSymbolsCachePerFile(t *testing.T) {
	const readme = "/proj/README.md"
	fx := newFixture(t)
	c := withLSP(fx, mainGo, readme)
	fx.host.SetBuffers([]host.Buffer{{ID: 1, Path: mainGo}, {ID: 2, Path: readme}}, 0)
	s := openSymbols(t, fx, SymbolsConfig{})
	ctx := context.Background()

	s.Follow(ctx, readme)
	s.Wait()
	if s.File() != readme || c.CallCount(lsp.MethodDocumentSymbol) != 2 {
		t.Fatalf("file=%q requests=%d", s.File(), c.CallCount(lsp.MethodDocumentSymbol))
	}

	s.Follow(ctx, mainGo)
	s.Wait()
	if n := c.CallCount(lsp.MethodDocumentSymbol); n != 2 {
		t.Errorf("cached file requested again: %d", n)
	}

	fx.bus.Publish(events.TopicBufWritten, events.Buffer{ID: 2, Path: readme})
	s.Follow(ctx, readme)
	s.Wait()
	if n := c.CallCount(lsp.MethodDocumentSymbol); n != 3 {
		t.Errorf("written file not reloaded: %d requests", n)
	}

	fx.bus.Publish(events.TopicBufWritten, events.Buffer{ID: 2, Path: readme})
	s.Wait()
	if n := c.CallCount(lsp.MethodDocumentSymbol); n != 4 {
		t.Errorf("current file not reloaded on write: %d requests", n)
	}

	s.Follow(ctx, mainGo)
	s.Wait()
	fx.bus.Publish(events.TopicBufDeleted, events.Buffer{ID: 2, Path: readme})
	if s.Cached() != 1 {
		t.Errorf("cached = %d after delete", s.Cached())
	}
}

func TestSymbolsCallHierarchy(t *testing.T) {
	fx := newFixture(t)
	withLSP(fx, mainGo)
	fx.host.SetBuffers([]host.Buffer{{ID: 1, Path: mainGo}}, 0)

	type call struct {
		path     string
		pos      host.Position
		incoming bool
	}
	var got []call
	s := openSymbols(t, fx, SymbolsConfig{
		CallHierarchy: func(_ context.Context, path string, pos host.Position, incoming bool) error {
			got = append(got, call{path, pos, incoming})
			return nil
		},
	})
	ctx := context.Background()

	if err := s.Do(ctx, "incoming_calls"); !errors.Is(err, ErrNoSelection) {
		t.Errorf("call hierarchy on file root = %v", err)
	}
	s.SetCursor(mainGo + "/main@22:5")
	if err := s.Do(ctx, "incoming_calls"); err != nil {
		t.Fatal(err)
	}
	if err := s.Do(ctx, "outgoing_calls"); err != nil {
		t.Fatal(err)
	}
	want := []call{
		{mainGo, host.Position{Line: 22, Character: 5}, true},
		{mainGo, host.Position{Line: 22, Character: 5}, false},
	}
	if !slices.Equal(got, want) {
		t.Errorf("calls = %+v", got)
	}
}
