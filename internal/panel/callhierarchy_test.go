package panel

import (
	"context"
	"slices"
	"testing"

	"github.com/dshills/sidetree/internal/host"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/tree"
)

const (
	handlerGo = "/proj/src/h.go"

	preparedHandle = `[{"name":"handle","kind":12,"uri":"file:///proj/src/h.go",
  "range":{"start":{"line":3,"character":0},"end":{"line":8,"character":1}},
  "selectionRange":{"start":{"line":3,"character":5},"end":{"line":3,"character":11}},
  "data":{"id":1}}]`

	callerItem = `{"name":"serve","kind":12,"uri":"file:///proj/src/main.go",
  "range":{"start":{"line":10,"character":0},"end":{"line":14,"character":1}},
  "selectionRange":{"start":{"line":10,"character":5},"end":{"line":10,"character":10}}}`

	incomingCalls = `[{"from":` + callerItem + `,"fromRanges":[{"start":{"line":12,"character":1},"end":{"line":12,"character":7}}]}]`
	outgoingCalls = `[{"to":` + callerItem + `,"fromRanges":[]}]`
)

func openCallHierarchy(t *testing.T, fx *fixture) (*CallHierarchy, *lsp.FakeClient) {
	t.Helper()
	c := lsp.NewFakeClient("gopls")
	c.Respond(lsp.MethodPrepareCallHierarchy, preparedHandle)
	c.Respond(lsp.MethodIncomingCalls, incomingCalls)
	c.Respond(lsp.MethodOutgoingCalls, outgoingCalls)
	reg := lsp.NewRegistry()
	reg.Attach(handlerGo, c)
	fx.deps.LSP = reg

	ch := NewCallHierarchy(fx.deps, CallHierarchyConfig{})
	ch.SetVisible(true)
	if err := ch.Open(context.Background()); err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(ch.Delete)
	return ch, c
}

func TestCallHierarchyEmpty(t *testing.T) {
	fx := newFixture(t)
	ch, _ := openCallHierarchy(t, fx)
	if !hasLine(lastLines(t, fx.host, ch.ID()), textNoHierarchy) {
		t.Errorf("lines = %q", lastLines(t, fx.host, ch.ID()))
	}
}

func TestCallHierarchyIncoming(t *testing.T) {
	fx := newFixture(t)
	ch, client := openCallHierarchy(t, fx)
	ctx := context.Background()

	if err := ch.Show(ctx, handlerGo, host.Position{Line: 3, Character: 7}, true); err != nil {
		t.Fatalf("show: %v", err)
	}
	root := ch.Tree().RootPath()
	if root != handlerGo+"/handle@h.go:3:5" {
		t.Fatalf("root = %q", root)
	}
	if got := childNames(ch.Tree(), root); !slices.Equal(got, []string{"serve"}) {
		t.Fatalf("children = %v", got)
	}
	if n := client.CallCount(lsp.MethodIncomingCalls); n != 1 {
		t.Errorf("incoming requests = %d", n)
	}

	// Callers of callers load on first expansion only.
	serve := root + "/serve@main.go:10:5"
	ch.SetCursor(serve)
	for range 2 {
		if err := ch.Do(ctx, "toggle"); err != nil {
			t.Fatal(err)
		}
	}
	if err := ch.Do(ctx, "expand"); err != nil {
		t.Fatal(err)
	}
	if n := client.CallCount(lsp.MethodIncomingCalls); n != 2 {
		t.Errorf("incoming requests after expand = %d", n)
	}
	if got := childNames(ch.Tree(), serve); !slices.Equal(got, []string{"serve"}) {
		t.Errorf("serve children = %v", got)
	}

	if err := ch.Do(ctx, "open"); err != nil {
		t.Fatal(err)
	}
	if got := fx.host.Opened(); !slices.Equal(got, []string{"/proj/src/main.go"}) {
		t.Errorf("opened = %v", got)
	}
}

func TestCallHierarchySwitchDirection(t *testing.T) {
	fx := newFixture(t)
	ch, client := openCallHierarchy(t, fx)
	ctx := context.Background()
	if err := ch.Show(ctx, handlerGo, host.Position{Line: 3, Character: 7}, true); err != nil {
		t.Fatal(err)
	}

	if err := ch.Do(ctx, "switch_direction"); err != nil {
		t.Fatal(err)
	}
	if ch.Incoming() {
		t.Error("still incoming")
	}
	if n := client.CallCount(lsp.MethodOutgoingCalls); n != 1 {
		t.Errorf("outgoing requests = %d", n)
	}
	if got := childNames(ch.Tree(), ch.Tree().RootPath()); !slices.Equal(got, []string{"serve"}) {
		t.Errorf("children = %v", got)
	}
}

func TestCallHierarchyPlaceholders(t *testing.T) {
	fx := newFixture(t)
	ch, client := openCallHierarchy(t, fx)
	ctx := context.Background()

	if err := ch.Show(ctx, "/proj/README.md", host.Position{}, true); err != nil {
		t.Fatal(err)
	}
	if !hasLine(lastLines(t, fx.host, ch.ID()), textNoClient) {
		t.Errorf("lines = %q", lastLines(t, fx.host, ch.ID()))
	}

	client.Respond(lsp.MethodPrepareCallHierarchy, "[]")
	if err := ch.Show(ctx, handlerGo, host.Position{}, true); err != nil {
		t.Fatal(err)
	}
	if !hasLine(lastLines(t, fx.host, ch.ID()), textNoItem) {
		t.Errorf("lines = %q", lastLines(t, fx.host, ch.ID()))
	}
}

func TestCallItemKeepsRanges(t *testing.T) {
	items, err := lsp.ParseCallHierarchyItems([]byte("[" + callerItem + "]"))
	if err != nil || len(items) != 1 {
		t.Fatalf("parse = %v, %v", items, err)
	}
	item := items[0]
	it := callItem("/root", item, true)
	info, ok := it.Payload.(tree.CallInfo)
	if !ok {
		t.Fatalf("payload = %T", it.Payload)
	}
	back := protocolItem(it.Name, info)
	if back.Range != item.Range || back.SelectionRange != item.SelectionRange {
		t.Errorf("ranges = %+v / %+v, want %+v / %+v", back.Range, back.SelectionRange, item.Range, item.SelectionRange)
	}
}
