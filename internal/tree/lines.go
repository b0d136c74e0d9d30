package tree

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/git"
)

// Row is one visible line of the tree.
type Row struct {
	Node  *Node
	Depth int
	// Last is set on the last visible child of its parent.
	Last  bool
	Flags git.Flags
}

// Renderer turns a row into display text. Rendering is a pure function of
// the row.
type Renderer interface {
	Render(row Row) string
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(Row) string

// Render calls f(row).
func (f RendererFunc) Render(row Row) string { return f(row) }

// Visible returns the rows shown for the current expansion and filter:
// the root, then every loaded, unfiltered child of each expanded node in
// order.
func (t *Tree) Visible() []Row {
	t.mu.Lock()
	defer t.mu.Unlock()
	var rows []Row
	if root, ok := t.nodes[t.root]; ok {
		t.visitLocked(root, 0, true, &rows)
	}
	return rows
}

func (t *Tree) visitLocked(n *Node, depth int, last bool, rows *[]Row) {
	*rows = append(*rows, Row{Node: n.clone(), Depth: depth, Last: last, Flags: n.GitFlags()})
	if !n.Expanded || !n.IsContainer() {
		return
	}
	kids := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		child, ok := t.nodes[c]
		if !ok {
			t.logger.Error("dangling child id", zap.String("parent", n.Path), zap.Uint64("id", uint64(c)))
			continue
		}
		if t.filter.Hidden(child) {
			continue
		}
		kids = append(kids, child)
	}
	for i, child := range kids {
		t.visitLocked(child, depth+1, i == len(kids)-1, rows)
	}
}

// Lines renders the visible rows. A row whose renderer panics is skipped
// and logged.
func (t *Tree) Lines(r Renderer) []string {
	rows := t.Visible()
	lines := make([]string, 0, len(rows))
	for _, row := range rows {
		line, err := renderRow(r, row)
		if err != nil {
			t.logger.Error("render failed", zap.String("path", row.Node.Path), zap.Error(err))
			continue
		}
		lines = append(lines, line)
	}
	return lines
}

func renderRow(r Renderer, row Row) (line string, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("renderer panic: %v", p)
		}
	}()
	return r.Render(row), nil
}

// RowIndex returns the index of path in rows, or -1.
func RowIndex(rows []Row, path string) int {
	for i, row := range rows {
		if row.Node.Path == path {
			return i
		}
	}
	return -1
}
