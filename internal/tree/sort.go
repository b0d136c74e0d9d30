package tree

import (
	"sort"
	"strings"

	"golang.org/x/text/cases"
)

// SortBy selects the primary sort key.
type SortBy uint8

// Sort keys.
const (
	SortByName SortBy = iota
	SortByType
	SortByExtension
)

// ParseSortBy maps a config value to a SortBy.
func ParseSortBy(s string) (SortBy, bool) {
	switch strings.ToLower(s) {
	case "", "name":
		return SortByName, true
	case "type":
		return SortByType, true
	case "extension", "ext":
		return SortByExtension, true
	}
	return SortByName, false
}

// SortOptions controls child order.
type SortOptions struct {
	By               SortBy
	DirectoriesFirst bool
	CaseSensitive    bool
}

// DefaultSort lists directories first, then names case-insensitively.
var DefaultSort = SortOptions{By: SortByName, DirectoriesFirst: true}

type sortKey struct {
	id    ID
	dir   bool
	kind  Kind
	name  string
	fold  string
	ext   string
	order int
}

func (o SortOptions) less(a, b *sortKey) bool {
	if o.DirectoriesFirst && a.dir != b.dir {
		return a.dir
	}
	switch o.By {
	case SortByType:
		if a.kind != b.kind {
			return a.kind < b.kind
		}
	case SortByExtension:
		if a.ext != b.ext {
			return a.ext < b.ext
		}
	}
	if a.fold != b.fold {
		return a.fold < b.fold
	}
	if a.name != b.name {
		return a.name < b.name
	}
	return a.order < b.order
}

// sortChildrenLocked orders n.Children in place. Symbols and call items
// keep the order the language server returned them in.
func (t *Tree) sortChildrenLocked(n *Node) {
	if len(n.Children) < 2 {
		return
	}
	if k := t.nodes[n.Children[0]].Kind; k == KindSymbol || k == KindCallItem {
		return
	}
	fold := cases.Fold()
	keys := make([]sortKey, len(n.Children))
	for i, id := range n.Children {
		c := t.nodes[id]
		k := sortKey{id: id, dir: c.IsContainer(), kind: c.Kind, name: c.Name, fold: c.Name, order: c.order}
		if !t.sort.CaseSensitive {
			k.fold = fold.String(c.Name)
			fold.Reset()
		}
		if f, ok := c.Payload.(FileInfo); ok {
			k.ext = f.Extension
		} else if b, ok := c.Payload.(BufferInfo); ok {
			k.ext = b.Extension
		}
		if !t.sort.CaseSensitive {
			k.ext = strings.ToLower(k.ext)
		}
		keys[i] = k
	}
	sort.SliceStable(keys, func(i, j int) bool { return t.sort.less(&keys[i], &keys[j]) })
	for i := range keys {
		n.Children[i] = keys[i].id
	}
}
