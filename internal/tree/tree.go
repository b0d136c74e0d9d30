// Package tree implements the node tree behind every explorer panel.
//
// A Tree is an arena of nodes addressed by ID, with a path index. Directory
// nodes are filled by scanning a vfs.Accessor and are kept in sync by
// Refresh, which merges a fresh scan into the existing children so node
// identity and expansion survive. Trees that are not backed by a directory
// scan (git status, buffers, search results, symbols) are built from flat
// item lists with BuildSparse, BuildSearchTree and ReplaceChildren.
package tree

import (
	"context"
	"errors"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/metrics"
	"github.com/dshills/sidetree/internal/vfs"
)

// Errors returned by tree operations.
var (
	ErrNoNode       = errors.New("no such node")
	ErrNotContainer = errors.New("node has no children")
)

// Watches is the directory watch registry. Every successful Watch is
// matched by exactly one Release.
type Watches interface {
	Watch(dir string) error
	Release(dir string) error
}

// Discoverer finds the repository containing a path. It returns nil, nil
// outside any repository.
type Discoverer interface {
	Discover(ctx context.Context, path string) (*git.Repository, error)
}

// Loader produces the children of a node in a tree that is not backed by
// directory scans.
type Loader func(ctx context.Context, n *Node) ([]Item, error)

// Config configures a Tree.
type Config struct {
	// Name labels logs and metrics, usually the panel name.
	Name    string
	FS      vfs.Accessor
	Watches Watches
	Repos   Discoverer
	Sort    SortOptions
	Filter  *Filter
	Logger  *zap.Logger
	Metrics *metrics.Metrics

	// Static trees never scan the filesystem. Expanding an unscanned node
	// calls Loader when one is set.
	Static bool
	Loader Loader
}

// Tree is a mutable explorer tree. All methods are safe for concurrent use.
type Tree struct {
	mu sync.Mutex

	name    string
	fs      vfs.Accessor
	watches Watches
	repos   Discoverer
	sort    SortOptions
	filter  *Filter
	logger  *zap.Logger
	metrics *metrics.Metrics
	static  bool
	loader  Loader

	nodes  map[ID]*Node
	byPath map[string]ID
	root   ID
	nextID ID
}

// New creates a tree rooted at the directory root. The root is neither
// scanned nor expanded.
func New(cfg Config, root string) *Tree {
	return NewRooted(cfg, root, KindDirectory, DirInfo{})
}

// NewRooted creates a tree whose root has the given kind and payload.
func NewRooted(cfg Config, root string, kind Kind, payload Payload) *Tree {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	t := &Tree{
		name:    cfg.Name,
		fs:      cfg.FS,
		watches: cfg.Watches,
		repos:   cfg.Repos,
		sort:    cfg.Sort,
		filter:  cfg.Filter,
		logger:  cfg.Logger.Named("tree").With(zap.String("panel", cfg.Name)),
		metrics: cfg.Metrics,
		static:  cfg.Static || cfg.FS == nil,
		loader:  cfg.Loader,
		nodes:   make(map[ID]*Node),
		byPath:  make(map[string]ID),
	}
	root = filepath.Clean(root)
	n := t.newNodeLocked(root, displayName(root), kind, payload, nil)
	t.root = n.ID
	return t
}

func displayName(path string) string {
	name := filepath.Base(path)
	if name == "." || name == "" {
		return path
	}
	return name
}

// Name returns the tree's label.
func (t *Tree) Name() string { return t.name }

// Root returns a copy of the root node.
func (t *Tree) Root() *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[t.root].clone()
}

// RootPath returns the root's path.
func (t *Tree) RootPath() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.nodes[t.root].Path
}

// Node returns a copy of the node with id, or nil.
func (t *Tree) Node(id ID) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		return n.clone()
	}
	return nil
}

// Children returns copies of the loaded children of id in display order,
// filters not applied.
func (t *Tree) Children(id ID) []*Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil
	}
	out := make([]*Node, 0, len(n.Children))
	for _, c := range n.Children {
		out = append(out, t.nodes[c].clone())
	}
	return out
}

// Len returns the number of loaded nodes.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

// GetNode returns a copy of the node at path. It returns nil when the path
// is outside the tree or any directory on the way is not scanned.
func (t *Tree) GetNode(path string) *Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.lookupLocked(filepath.Clean(path))
	if n == nil {
		return nil
	}
	return n.clone()
}

func (t *Tree) lookupLocked(path string) *Node {
	id, ok := t.byPath[path]
	if !ok {
		return nil
	}
	n := t.nodes[id]
	for p := n.Parent; p != 0; p = t.nodes[p].Parent {
		if !t.nodes[p].Scanned {
			return nil
		}
	}
	return n
}

// SetSort changes the child order and re-sorts every loaded directory.
func (t *Tree) SetSort(o SortOptions) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sort = o
	for _, n := range t.nodes {
		t.sortChildrenLocked(n)
	}
}

// SetFilter replaces the view filter.
func (t *Tree) SetFilter(f *Filter) {
	t.mu.Lock()
	t.filter = f
	t.mu.Unlock()
}

// SetRepository sets the repository of id and of every descendant that
// inherited the previous one.
func (t *Tree) SetRepository(id ID, repo *git.Repository) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if n, ok := t.nodes[id]; ok {
		t.setRepoLocked(n, n.Repo, repo)
	}
}

func (t *Tree) setRepoLocked(n *Node, old, repo *git.Repository) {
	if n.Repo != old {
		return
	}
	n.Repo = repo
	for _, c := range n.Children {
		t.setRepoLocked(t.nodes[c], old, repo)
	}
}

// Repositories returns the toplevels of every repository referenced by a
// loaded node.
func (t *Tree) Repositories() []string {
	t.mu.Lock()
	seen := make(map[string]bool)
	for _, n := range t.nodes {
		if n.Repo != nil {
			seen[n.Repo.Toplevel()] = true
		}
	}
	t.mu.Unlock()
	out := make([]string, 0, len(seen))
	for top := range seen {
		out = append(out, top)
	}
	sort.Strings(out)
	return out
}

// ExpandedPaths returns the paths of expanded nodes in path order.
func (t *Tree) ExpandedPaths() []string {
	t.mu.Lock()
	var out []string
	for _, n := range t.nodes {
		if n.Expanded {
			out = append(out, n.Path)
		}
	}
	t.mu.Unlock()
	sort.Strings(out)
	return out
}

// Close drops every node and releases their watches.
func (t *Tree) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if root, ok := t.nodes[t.root]; ok {
		t.dropLocked(root)
	}
}

func (t *Tree) newNodeLocked(path, name string, kind Kind, payload Payload, parent *Node) *Node {
	t.nextID++
	n := &Node{
		ID:      t.nextID,
		Path:    path,
		Name:    name,
		Kind:    kind,
		Payload: payload,
	}
	if isContainer(kind, payload) {
		n.Children = []ID{}
	}
	if parent != nil {
		if !below(parent.Path, path) {
			t.logger.Error("child path outside parent",
				zap.String("parent", parent.Path), zap.String("path", path))
		}
		n.Parent = parent.ID
		n.Repo = parent.Repo
	}
	t.nodes[n.ID] = n
	t.byPath[path] = n.ID
	return n
}

// dropLocked removes n and its subtree, releasing each watch once.
func (t *Tree) dropLocked(n *Node) {
	for _, c := range n.Children {
		if child, ok := t.nodes[c]; ok {
			t.dropLocked(child)
		}
	}
	t.releaseLocked(n)
	delete(t.nodes, n.ID)
	if t.byPath[n.Path] == n.ID {
		delete(t.byPath, n.Path)
	}
}

func (t *Tree) watchLocked(n *Node) {
	if t.watches == nil || n.watched || !n.IsDir() {
		return
	}
	if err := t.watches.Watch(n.Path); err != nil {
		t.logger.Debug("watch failed", zap.String("path", n.Path), zap.Error(err))
		return
	}
	n.watched = true
}

func (t *Tree) releaseLocked(n *Node) {
	if !n.watched {
		return
	}
	n.watched = false
	if err := t.watches.Release(n.Path); err != nil {
		t.logger.Warn("release watch failed", zap.String("path", n.Path), zap.Error(err))
	}
}

func (t *Tree) nodeLocked(id ID) (*Node, error) {
	n, ok := t.nodes[id]
	if !ok {
		return nil, ErrNoNode
	}
	return n, nil
}

// NodeID returns the id of the loaded node at path.
func (t *Tree) NodeID(path string) (ID, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	id, ok := t.byPath[filepath.Clean(path)]
	return id, ok
}
