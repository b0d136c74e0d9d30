package tree

import (
	"context"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Reroot moves the root to path.
//
// When path is below the current root and already loaded, its node becomes
// the root and everything outside it is dropped. When path is above the
// current root, a new root is created and the old root subtree is adopted
// under it with its state intact; the directories in between are scanned
// and expanded. Otherwise the tree is reset to an unscanned root at path.
func (t *Tree) Reroot(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	old := t.nodes[t.root]
	switch {
	case path == old.Path:
		return nil

	case below(old.Path, path):
		n := t.lookupLocked(path)
		if n == nil || !n.IsContainer() {
			break
		}
		t.detachLocked(n)
		t.dropLocked(old)
		n.Parent = 0
		t.root = n.ID
		t.logger.Debug("rerooted to descendant", zap.String("root", path))
		return nil

	case below(path, old.Path) && !t.static:
		t.adoptLocked(ctx, path, old)
		t.logger.Debug("rerooted to ancestor", zap.String("root", path))
		return nil
	}

	t.dropLocked(old)
	n := t.newNodeLocked(path, displayName(path), KindDirectory, DirInfo{}, nil)
	t.root = n.ID
	t.logger.Debug("root replaced", zap.String("root", path))
	return nil
}

// detachLocked unlinks n from its parent's child list.
func (t *Tree) detachLocked(n *Node) {
	parent, ok := t.nodes[n.Parent]
	if !ok {
		return
	}
	for i, c := range parent.Children {
		if c == n.ID {
			parent.Children = append(parent.Children[:i:i], parent.Children[i+1:]...)
			return
		}
	}
}

// adoptLocked builds the chain from path down to old's parent and links
// old into it, so scanning the chain matches old by path.
func (t *Tree) adoptLocked(ctx context.Context, path string, old *Node) {
	root := t.newNodeLocked(path, displayName(path), KindDirectory, DirInfo{}, nil)

	chain := []*Node{root}
	rel, _ := filepath.Rel(path, filepath.Dir(old.Path))
	cur := root
	if rel != "." {
		for _, part := range strings.Split(rel, string(filepath.Separator)) {
			n := t.newNodeLocked(filepath.Join(cur.Path, part), part, KindDirectory, DirInfo{}, cur)
			cur.Children = append(cur.Children, n.ID)
			chain = append(chain, n)
			cur = n
		}
	}
	old.Parent = cur.ID
	cur.Children = append(cur.Children, old.ID)
	t.root = root.ID

	if old.Repo != nil && within(old.Repo.Toplevel(), path) {
		root.Repo = old.Repo
		for _, n := range chain {
			n.Repo = old.Repo
		}
	}

	for i := len(chain) - 1; i >= 0; i-- {
		n := chain[i]
		n.Expanded = true
		if err := t.scanLocked(ctx, n); err != nil {
			// Keep the chain reachable even when a level cannot be read.
			n.Scanned = true
		}
	}
}
