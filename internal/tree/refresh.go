package tree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/vfs"
)

// RefreshOptions controls Refresh.
type RefreshOptions struct {
	// Recursive descends into children that are expanded and scanned.
	Recursive bool
	// GitStatus re-runs git status for every repository touched.
	GitStatus bool
}

// ExpandOptions controls Expand.
type ExpandOptions struct {
	// ForceScan re-scans a directory that was already scanned.
	ForceScan bool
}

// Refresh re-scans the directory id and merges the result into its
// children. Nodes that are not scanned containers are left alone. A scan
// failure leaves the node as it was; with Recursive, failing children are
// logged and skipped.
func (t *Tree) Refresh(ctx context.Context, id ID, opts RefreshOptions) error {
	t.mu.Lock()
	n, err := t.nodeLocked(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	repos := make(map[*git.Repository]bool)
	err = t.refreshLocked(ctx, n, opts, repos, true)
	t.metrics.TreeSize(t.name, len(t.nodes))
	t.mu.Unlock()

	if opts.GitStatus {
		t.refreshStatus(ctx, repos)
	}
	return err
}

func (t *Tree) refreshLocked(ctx context.Context, n *Node, opts RefreshOptions, repos map[*git.Repository]bool, top bool) error {
	if t.static || !n.IsContainer() || !n.Scanned {
		return nil
	}
	if err := t.scanLocked(ctx, n); err != nil {
		if top {
			return err
		}
		return nil
	}
	if n.Repo != nil {
		repos[n.Repo] = true
	}
	if !opts.Recursive {
		return nil
	}
	for _, c := range slices.Clone(n.Children) {
		child, ok := t.nodes[c]
		if !ok || !child.Expanded || !child.Scanned || !child.IsContainer() {
			continue
		}
		_ = t.refreshLocked(ctx, child, opts, repos, false)
	}
	return nil
}

func (t *Tree) refreshStatus(ctx context.Context, repos map[*git.Repository]bool) {
	for repo := range repos {
		if repo.Closed() {
			continue
		}
		if _, err := repo.Status(ctx); err != nil {
			t.logger.Warn("git status failed", zap.String("toplevel", repo.Toplevel()), zap.Error(err))
		}
	}
}

// scanLocked reads n from disk and merges the entries into its children.
// t.mu is released while the directory is read, so readers are not held
// up by a slow disk. It returns ErrNoNode when n was dropped meanwhile.
func (t *Tree) scanLocked(ctx context.Context, n *Node) error {
	id, path := n.ID, n.Path
	t.mu.Unlock()
	entries, err := t.fs.ScanDir(path)
	t.mu.Lock()
	if err != nil {
		t.metrics.ScanFailed()
		t.logger.Warn("scan failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("scan %s: %w", path, err)
	}
	if cur, ok := t.nodes[id]; !ok || cur != n {
		return ErrNoNode
	}

	t.discoverLocked(ctx, n, entries)
	t.mergeLocked(n, entries)

	empty := len(entries) == 0
	switch p := n.Payload.(type) {
	case DirInfo:
		p.Empty = empty
		n.Payload = p
	case LinkInfo:
		p.Dir.Empty = empty
		n.Payload = p
	case nil:
		n.Payload = DirInfo{Empty: empty}
	}
	n.Scanned = true
	t.watchLocked(n)
	return nil
}

// discoverLocked attaches the repository for the root on its first scan
// and for any directory holding its own .git entry.
func (t *Tree) discoverLocked(ctx context.Context, n *Node, entries []vfs.Entry) {
	if t.repos == nil {
		return
	}
	first := n.ID == t.root && !n.Scanned && n.Repo == nil
	nested := slices.ContainsFunc(entries, func(e vfs.Entry) bool { return e.Name == ".git" }) &&
		(n.Repo == nil || n.Repo.Toplevel() != n.Path)
	if !first && !nested {
		return
	}
	repo, err := t.repos.Discover(ctx, n.Path)
	if err != nil {
		t.logger.Warn("repository discovery failed", zap.String("path", n.Path), zap.Error(err))
		return
	}
	if repo != nil && repo != n.Repo {
		t.setRepoLocked(n, n.Repo, repo)
	}
}

// mergeLocked reconciles n's children against a fresh scan. Children are
// matched by path: survivors keep their ID, expansion and subtree, new
// entries become new nodes, and missing entries are dropped. A change
// between container and non-container kinds replaces the node.
func (t *Tree) mergeLocked(n *Node, entries []vfs.Entry) {
	existing := make(map[string]*Node, len(n.Children))
	for _, c := range n.Children {
		if child, ok := t.nodes[c]; ok {
			existing[child.Path] = child
		}
	}

	next := make([]ID, 0, len(entries))
	for i, e := range entries {
		path := filepath.Clean(e.Path)
		kind := kindFor(e)
		child, ok := existing[path]
		if ok {
			delete(existing, path)
			payload := payloadFor(e, child.Payload)
			if isContainer(kind, payload) == child.IsContainer() {
				child.Name = e.Name
				child.Kind = kind
				child.Payload = payload
				child.order = i
				next = append(next, child.ID)
				continue
			}
			t.dropLocked(child)
		}
		child = t.newNodeLocked(path, e.Name, kind, payloadFor(e, nil), n)
		child.order = i
		next = append(next, child.ID)
	}

	if len(existing) > 0 {
		gone := make([]string, 0, len(existing))
		for p := range existing {
			gone = append(gone, p)
		}
		sort.Strings(gone)
		for _, p := range gone {
			t.dropLocked(existing[p])
		}
	}

	n.Children = next
	t.sortChildrenLocked(n)
}

// Expand scans id if needed and marks it expanded.
func (t *Tree) Expand(ctx context.Context, id ID, opts ExpandOptions) error {
	t.mu.Lock()
	n, err := t.nodeLocked(id)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	if !n.IsContainer() {
		t.mu.Unlock()
		return ErrNotContainer
	}
	if n.Scanned && !opts.ForceScan {
		n.Expanded = true
		t.mu.Unlock()
		return nil
	}

	if !t.static {
		defer t.mu.Unlock()
		if err := t.scanLocked(ctx, n); err != nil {
			return err
		}
		n.Expanded = true
		t.metrics.TreeSize(t.name, len(t.nodes))
		return nil
	}

	if t.loader == nil || n.Scanned {
		n.Scanned = true
		n.Expanded = true
		t.mu.Unlock()
		return nil
	}
	snapshot := n.clone()
	t.mu.Unlock()

	items, err := t.loader(ctx, snapshot)
	if err != nil {
		t.logger.Warn("load children failed", zap.String("path", snapshot.Path), zap.Error(err))
		return err
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	n, err = t.nodeLocked(id)
	if err != nil {
		return err
	}
	t.replaceChildrenLocked(n, items)
	n.Scanned = true
	n.Expanded = true
	return nil
}

// ExpandTo expands every directory from the root down to path, scanning as
// needed, and returns a copy of the deepest node reached: the node at path
// when it exists, otherwise its nearest loaded ancestor. It returns nil
// when path is not under the root.
func (t *Tree) ExpandTo(ctx context.Context, path string) *Node {
	path = filepath.Clean(path)
	t.mu.Lock()
	defer t.mu.Unlock()

	cur, ok := t.nodes[t.root]
	if !ok || !within(cur.Path, path) {
		return nil
	}
	for {
		if cur.IsContainer() {
			if !cur.Scanned {
				if t.static {
					return cur.clone()
				}
				if err := t.scanLocked(ctx, cur); errors.Is(err, ErrNoNode) {
					return nil
				} else if err != nil {
					return cur.clone()
				}
			}
			cur.Expanded = true
		}
		if cur.Path == path || !cur.IsContainer() {
			return cur.clone()
		}
		next := t.childTowardLocked(cur, path)
		if next == nil {
			return cur.clone()
		}
		cur = next
	}
}

func (t *Tree) childTowardLocked(n *Node, path string) *Node {
	rel, err := filepath.Rel(n.Path, path)
	if err != nil {
		return nil
	}
	first, _, _ := strings.Cut(filepath.ToSlash(rel), "/")
	id, ok := t.byPath[filepath.Join(n.Path, first)]
	if !ok {
		return nil
	}
	child := t.nodes[id]
	if child.Parent != n.ID {
		return nil
	}
	return child
}

// Collapse marks id collapsed. Its children stay loaded.
func (t *Tree) Collapse(id ID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, err := t.nodeLocked(id)
	if err != nil {
		return err
	}
	n.Expanded = false
	return nil
}

// CollapseAll collapses every node except the root.
func (t *Tree) CollapseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, n := range t.nodes {
		if id != t.root {
			n.Expanded = false
		}
	}
}

// Toggle expands a collapsed container or collapses an expanded one.
func (t *Tree) Toggle(ctx context.Context, id ID) error {
	n := t.Node(id)
	if n == nil {
		return ErrNoNode
	}
	if n.Expanded {
		return t.Collapse(id)
	}
	return t.Expand(ctx, id, ExpandOptions{})
}
