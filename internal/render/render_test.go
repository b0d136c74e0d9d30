package render

import (
	"context"
	"path/filepath"
	"slices"
	"strings"
	"testing"

	"github.com/dshills/sidetree/internal/diagnostics"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/tree"
	"github.com/dshills/sidetree/internal/vfs"
)

func fileTree(t *testing.T) *tree.Tree {
	t.Helper()
	m := vfs.NewMemFS()
	m.AddFile("/proj/README.md", "# proj\n")
	m.AddFileMode("/proj/run.sh", "#!/bin/sh\n", 0o755)
	m.AddFile("/proj/.env", "")
	m.AddDir("/proj/docs")
	m.AddSymlink("/proj/link", "README.md")
	tr := tree.New(tree.Config{Name: "files", FS: m, Sort: tree.DefaultSort}, "/proj")
	if err := tr.Expand(context.Background(), tr.Root().ID, tree.ExpandOptions{}); err != nil {
		t.Fatal(err)
	}
	return tr
}

func rowFor(t *testing.T, tr *tree.Tree, path string) tree.Row {
	t.Helper()
	for _, r := range tr.Visible() {
		if r.Node.Path == path {
			return r
		}
	}
	t.Fatalf("no row for %s", path)
	return tree.Row{}
}

func TestPipelineDefaultLines(t *testing.T) {
	tr := fileTree(t)
	p := New(nil)
	got := tr.Lines(p)
	want := []string{
		"▼ /proj",
		"  ▶ docs",
		"  • .env",
		"  • link ➛ README.md",
		"  • README.md",
		"  • run.sh",
	}
	if !slices.Equal(got, want) {
		t.Errorf("lines:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
}

func TestPipelineHighlights(t *testing.T) {
	tr := fileTree(t)
	p := New(nil, WithTheme(DefaultTheme()))

	tests := []struct {
		path string
		want string
	}{
		{"/proj", HLRootName},
		{"/proj/docs", HLDirectoryName},
		{"/proj/run.sh", HLExecutable},
		{"/proj/.env", HLDotfile},
		{"/proj/link", HLSymlink},
	}
	for _, tt := range tests {
		l := p.Line(rowFor(t, tr, tt.path))
		var hl string
		for _, s := range l.Left {
			if strings.Contains(s.Text, filepath.Base(tt.path)) {
				hl = s.Highlight
			}
		}
		if hl != tt.want {
			t.Errorf("%s: highlight %q, want %q", tt.path, hl, tt.want)
		}
	}
}

func TestPipelineRightAlignment(t *testing.T) {
	tr := fileTree(t)
	store := diagnostics.New(nil)
	store.Set("/proj/README.md", []events.Diagnostic{{Severity: events.SeverityWarning}})
	p := New(nil, WithWidth(20), WithEnv(Env{Diagnostics: store}))

	row := rowFor(t, tr, "/proj/README.md")
	got := p.Render(row)
	if got != "  • README.md      W" {
		t.Errorf("line = %q", got)
	}

	row.Flags = git.Unstaged | git.Modified
	got = p.Render(row)
	if got != "  • README.md     WM" {
		t.Errorf("line with git = %q", got)
	}

	p.SetWidth(8)
	if got := p.Render(row); got != "  • … WM" {
		t.Errorf("truncated = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		w    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 5, "hello"},
		{"hello", 4, "hel…"},
		{"日本語ファイル", 5, "日本…"},
		{"x", 0, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.w); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.w, got, tt.want)
		}
	}
}

func TestLineSegmentsWithoutWidth(t *testing.T) {
	l := Line{Left: []Segment{{Text: "a"}}, Right: []Segment{{Text: "M"}}}
	if got := l.Text(0); got != "a M" {
		t.Errorf("text = %q", got)
	}
	if l.Width() != 3 {
		t.Errorf("width = %d", l.Width())
	}
}

func TestPipelineBadConfig(t *testing.T) {
	cfg := Config{
		"default": {{Name: "indent"}, {Name: "sparkles"}, {Name: "name"}},
		"widget":  {{Name: "name"}},
	}
	errs := cfg.Validate()
	if len(errs) != 2 {
		t.Errorf("errors = %v", errs)
	}
	tr := fileTree(t)
	p := New(cfg)
	if got := p.Render(rowFor(t, tr, "/proj/docs")); got != "  docs" {
		t.Errorf("line = %q", got)
	}
}

func TestPipelinePanickingComponent(t *testing.T) {
	registry["boom"] = func(Env, tree.Row, Options) []Segment { panic("boom") }
	defer delete(registry, "boom")

	tr := fileTree(t)
	p := New(Config{"default": {{Name: "boom"}, {Name: "name"}}})
	if got := p.Render(rowFor(t, tr, "/proj/docs")); got != "docs" {
		t.Errorf("line = %q", got)
	}
}

func TestMissingHighlightDegrades(t *testing.T) {
	tr := fileTree(t)
	p := New(nil, WithTheme(Theme{}))
	for _, s := range p.Line(rowFor(t, tr, "/proj/docs")).Left {
		if s.Highlight != "" {
			t.Errorf("unknown highlight kept: %q", s.Highlight)
		}
	}
}

func staticTree(t *testing.T, root string, kind tree.Kind, payload tree.Payload, items []tree.Item) *tree.Tree {
	t.Helper()
	tr := tree.NewRooted(tree.Config{Name: "static"}, root, kind, payload)
	if err := tr.ReplaceChildren(tr.Root().ID, items); err != nil {
		t.Fatal(err)
	}
	if err := tr.Expand(context.Background(), tr.Root().ID, tree.ExpandOptions{}); err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestSymbolAndBufferComponents(t *testing.T) {
	tr := staticTree(t, "/src/a.go", tree.KindSymbol, tree.SymbolInfo{LSPKind: 1}, []tree.Item{
		{Path: "/src/a.go/Server", Name: "Server", Kind: tree.KindSymbol,
			Payload: tree.SymbolInfo{LSPKind: 23, Detail: "struct"}},
		{Path: "/src/a.go/old", Name: "old", Kind: tree.KindSymbol,
			Payload: tree.SymbolInfo{LSPKind: 12, Deprecated: true}},
	})
	p := New(nil)
	if got := p.Render(rowFor(t, tr, "/src/a.go/Server")); got != "    S Server struct" {
		t.Errorf("symbol line = %q", got)
	}
	l := New(nil, WithTheme(DefaultTheme())).Line(rowFor(t, tr, "/src/a.go/old"))
	if l.Left[len(l.Left)-1].Highlight != HLDeprecated {
		t.Errorf("deprecated highlight = %+v", l.Left)
	}

	btr := staticTree(t, "/w", tree.KindDirectory, tree.DirInfo{}, []tree.Item{
		{Path: "/w/a.txt", Name: "a.txt", Kind: tree.KindBuffer, Payload: tree.BufferInfo{BufferID: 1, Modified: true}},
	})
	if got := p.Render(rowFor(t, btr, "/w/a.txt")); got != "  • a.txt [+]" {
		t.Errorf("buffer line = %q", got)
	}
}

func TestParseColorAndBlend(t *testing.T) {
	c, err := ParseColor("#f80")
	if err != nil || c.Hex() != "#FF8800" {
		t.Errorf("ParseColor = %v, %v", c.Hex(), err)
	}
	if _, err := ParseColor("#zzzzzz"); err == nil {
		t.Error("expected error")
	}
	d, _ := ParseColor("default")
	if !d.Default || d.Hex() != "default" {
		t.Error("default color")
	}
	black, _ := ParseColor("#000000")
	white, _ := ParseColor("#ffffff")
	if black.Blend(white, 0).Hex() != "#000000" || black.Blend(white, 1).Hex() != "#FFFFFF" {
		t.Error("blend endpoints")
	}

	st, err := StyleSpec{Fg: "#ff0000", Attrs: []string{"bold", "Italic"}}.Parse()
	if err != nil || !st.Attributes.Has(AttrBold) || !st.Attributes.Has(AttrItalic) || st.Foreground.R != 255 {
		t.Errorf("style = %+v, %v", st, err)
	}
	if _, err := (StyleSpec{Attrs: []string{"wobbly"}}).Parse(); err == nil {
		t.Error("expected attribute error")
	}
}
