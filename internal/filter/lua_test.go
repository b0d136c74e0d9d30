package filter

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dshills/sidetree/internal/tree"
	"github.com/dshills/sidetree/internal/vfs"
)

func loadedTree(t *testing.T, f *tree.Filter) *tree.Tree {
	t.Helper()
	m := vfs.NewMemFS()
	m.AddFile("/p/main.go", "package main\n")
	m.AddFile("/p/main.o", "\x7fELF")
	m.AddFile("/p/big.bin", strings.Repeat("x", 2048))
	m.AddDir("/p/vendor")
	tr := tree.New(tree.Config{Name: "files", FS: m, Filter: f}, "/p")
	if err := tr.Expand(context.Background(), tr.Root().ID, tree.ExpandOptions{}); err != nil {
		t.Fatalf("expand: %v", err)
	}
	return tr
}

func visibleNames(tr *tree.Tree) []string {
	var names []string
	for _, row := range tr.Visible()[1:] {
		names = append(names, row.Node.Name)
	}
	return names
}

func TestPredicateHidesNodes(t *testing.T) {
	p, err := Compile(`
return function(node)
  if node.dir then return node.name == "vendor" end
  return node.extension == "o" or node.size > 1024
end`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer p.Close()

	tr := loadedTree(t, &tree.Filter{Predicate: p.Hide})
	got := visibleNames(tr)
	if len(got) != 1 || got[0] != "main.go" {
		t.Errorf("visible = %v, want [main.go]", got)
	}
	if tr.Len() != 5 {
		t.Errorf("hidden nodes must stay loaded, len = %d", tr.Len())
	}
}

func TestPredicateFields(t *testing.T) {
	p, err := Compile(`
return function(node)
  return node.kind == "file" and node.path == "/p/main.go" and node.git == ""
end`)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer p.Close()

	tr := loadedTree(t, nil)
	n := tr.GetNode("/p/main.go")
	if n == nil {
		t.Fatal("main.go not loaded")
	}
	hide, err := p.Eval(n)
	if err != nil || !hide {
		t.Errorf("Eval = %v, %v", hide, err)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{"syntax", "return function(", nil},
		{"not a function", "return 42", ErrNotFunction},
		{"nothing returned", "local x = 1", ErrNotFunction},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Compile(tt.src)
			if err == nil {
				p.Close()
				t.Fatal("expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("err = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestSandboxBlocksIO(t *testing.T) {
	for _, src := range []string{
		`return function(n) return io.open("/etc/passwd") ~= nil end`,
		`return function(n) return os.getenv("HOME") ~= nil end`,
		`return function(n) return require("os") ~= nil end`,
		`return function(n) return loadstring("return 1")() == 1 end`,
	} {
		p, err := Compile(src)
		if err != nil {
			t.Fatalf("compile %q: %v", src, err)
		}
		tr := loadedTree(t, nil)
		if _, err := p.Eval(tr.Root()); err == nil {
			t.Errorf("%q: expected runtime error", src)
		}
		if p.Hide(tr.Root()) {
			t.Errorf("%q: failing predicate must show the node", src)
		}
		p.Close()
	}
}

func TestPredicateTimeout(t *testing.T) {
	p, err := Compile(`return function(n) while true do end end`, WithTimeout(20*time.Millisecond))
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	defer p.Close()

	tr := loadedTree(t, nil)
	start := time.Now()
	if _, err := p.Eval(tr.Root()); err == nil {
		t.Fatal("expected timeout error")
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("timeout not enforced: %v", time.Since(start))
	}
	// The state stays usable after a cancelled call.
	if _, err := p.Eval(tr.Root()); err == nil {
		t.Fatal("expected second timeout error")
	}
	if p.Failures() != 0 {
		t.Errorf("Eval must not count failures, got %d", p.Failures())
	}
}

func TestLoadAndClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "filter.lua")
	if err := os.WriteFile(path, []byte(`return function(n) return true end`), 0o644); err != nil {
		t.Fatal(err)
	}
	p, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	tr := loadedTree(t, nil)
	if !p.Hide(tr.Root()) {
		t.Error("expected hide")
	}
	p.Close()
	p.Close()
	if _, err := p.Eval(tr.Root()); !errors.Is(err, ErrClosed) {
		t.Errorf("err after close = %v", err)
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.lua")); err == nil {
		t.Error("expected error for missing file")
	}
}
