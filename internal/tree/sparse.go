package tree

import (
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Item describes a node for trees built from lists rather than scans.
type Item struct {
	Path     string
	Name     string // base name of Path when empty
	Kind     Kind
	Payload  Payload
	Children []Item
	Expanded bool
}

// SetSparse makes the tree hold exactly the given leaves plus the
// directories between them and the root. Nodes whose path survives keep
// their ID and expansion; new intermediate directories start expanded when
// expand is set. Leaves outside the root are ignored.
func (t *Tree) SetSparse(leaves []Item, expand bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	root := t.nodes[t.root]
	keep := map[ID]bool{root.ID: true}
	sorted := make([]Item, 0, len(leaves))
	for _, it := range leaves {
		it.Path = filepath.Clean(it.Path)
		if !below(root.Path, it.Path) {
			t.logger.Debug("item outside root", zap.String("path", it.Path))
			continue
		}
		sorted = append(sorted, it)
	}
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	for i, it := range sorted {
		parent := t.ensureChainLocked(root, filepath.Dir(it.Path), keep, expand)
		name := it.Name
		if name == "" {
			name = filepath.Base(it.Path)
		}

		n := t.nodes[t.byPath[it.Path]]
		if n != nil && (n.Parent != parent.ID || isContainer(it.Kind, it.Payload) != n.IsContainer()) {
			t.dropLocked(n)
			n = nil
		}
		if n == nil {
			n = t.newNodeLocked(it.Path, name, it.Kind, it.Payload, parent)
			n.Expanded = it.Expanded
			parent.Children = append(parent.Children, n.ID)
		} else {
			n.Name = name
			n.Kind = it.Kind
			n.Payload = it.Payload
		}
		n.order = i
		if n.IsContainer() {
			n.Scanned = true
		}
		keep[n.ID] = true
	}

	t.pruneLocked(keep)
	root.Scanned = true
	root.Expanded = true
	t.metrics.TreeSize(t.name, len(t.nodes))
}

// ensureChainLocked returns the directory node at dir, creating every
// missing directory from the root down.
func (t *Tree) ensureChainLocked(root *Node, dir string, keep map[ID]bool, expand bool) *Node {
	cur := root
	if dir == root.Path || !below(root.Path, dir) {
		return cur
	}
	rel, _ := filepath.Rel(root.Path, dir)
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		path := filepath.Join(cur.Path, part)
		n := t.nodes[t.byPath[path]]
		if n != nil && (n.Parent != cur.ID || !n.IsContainer()) {
			t.dropLocked(n)
			n = nil
		}
		if n == nil {
			n = t.newNodeLocked(path, part, KindDirectory, DirInfo{}, cur)
			n.Expanded = expand
			n.Scanned = true
			cur.Children = append(cur.Children, n.ID)
		}
		keep[n.ID] = true
		cur = n
	}
	return cur
}

// pruneLocked drops every node not in keep and rebuilds child lists.
func (t *Tree) pruneLocked(keep map[ID]bool) {
	var gone []ID
	for id := range t.nodes {
		if !keep[id] {
			gone = append(gone, id)
		}
	}
	sort.Slice(gone, func(i, j int) bool { return gone[i] < gone[j] })
	for _, id := range gone {
		if n, ok := t.nodes[id]; ok {
			t.dropLocked(n)
		}
	}

	for _, n := range t.nodes {
		if n.Children == nil {
			continue
		}
		seen := make(map[ID]bool, len(n.Children))
		children := n.Children[:0]
		for _, c := range n.Children {
			if _, ok := t.nodes[c]; ok && !seen[c] {
				seen[c] = true
				children = append(children, c)
			}
		}
		n.Children = children
		t.sortChildrenLocked(n)
	}
}

// BuildSearchTree returns a new static tree holding the hits under root and
// only the directories needed to reach them. Entry kinds come from cfg.FS
// when set; hits that cannot be stat'ed are shown as files.
func BuildSearchTree(cfg Config, root string, hits []string) *Tree {
	cfg.Static = true
	t := New(cfg, root)
	items := make([]Item, 0, len(hits))
	for _, h := range hits {
		it := Item{Path: h, Kind: KindFile, Payload: FileInfo{
			Extension: strings.TrimPrefix(filepath.Ext(h), "."),
		}}
		if cfg.FS != nil {
			if e, err := cfg.FS.NodeFor(h); err == nil {
				it.Kind = kindFor(e)
				it.Payload = payloadFor(e, nil)
			}
		}
		items = append(items, it)
	}
	t.SetSparse(items, true)
	return t
}

// ReplaceChildren discards the children of id and builds items in their
// place, in the given order. Descendants whose path was expanded before
// stay expanded.
func (t *Tree) ReplaceChildren(id ID, items []Item) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.nodeLocked(id)
	if err != nil {
		return err
	}
	if !n.IsContainer() {
		return ErrNotContainer
	}
	t.replaceChildrenLocked(n, items)
	n.Scanned = true
	t.metrics.TreeSize(t.name, len(t.nodes))
	return nil
}

func (t *Tree) replaceChildrenLocked(n *Node, items []Item) {
	expanded := make(map[string]bool)
	t.collectExpandedLocked(n, expanded)
	for _, c := range n.Children {
		if child, ok := t.nodes[c]; ok {
			t.dropLocked(child)
		}
	}
	n.Children = []ID{}
	t.buildLocked(n, items, expanded)
}

func (t *Tree) collectExpandedLocked(n *Node, into map[string]bool) {
	for _, c := range n.Children {
		child, ok := t.nodes[c]
		if !ok {
			continue
		}
		if child.Expanded {
			into[child.Path] = true
		}
		t.collectExpandedLocked(child, into)
	}
}

func (t *Tree) buildLocked(parent *Node, items []Item, expanded map[string]bool) {
	for i, it := range items {
		path := filepath.Clean(it.Path)
		name := it.Name
		if name == "" {
			name = filepath.Base(path)
		}
		if old, ok := t.byPath[path]; ok {
			if n := t.nodes[old]; n != nil {
				t.logger.Error("duplicate item path", zap.String("path", path))
				continue
			}
		}
		child := t.newNodeLocked(path, name, it.Kind, it.Payload, parent)
		child.order = i
		child.Expanded = it.Expanded || expanded[path]
		parent.Children = append(parent.Children, child.ID)
		if child.IsContainer() {
			child.Scanned = len(it.Children) > 0 || t.loader == nil
			t.buildLocked(child, it.Children, expanded)
		}
	}
}
