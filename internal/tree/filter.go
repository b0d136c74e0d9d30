package tree

import (
	"path/filepath"
	"strings"

	"github.com/dshills/sidetree/internal/git"
)

// Filter hides nodes from the rendered view. Hidden nodes stay loaded.
type Filter struct {
	HideDotfiles   bool
	HideGitignored bool
	// HideNames hides exact base names.
	HideNames []string
	// HideGlobs hides base names matching filepath.Match patterns.
	HideGlobs []string
	// AlwaysShow overrides every other rule for exact base names.
	AlwaysShow []string
	// Predicate hides a node when it returns true.
	Predicate func(n *Node) bool
}

// Hidden reports whether n is filtered out.
func (f *Filter) Hidden(n *Node) bool {
	if f == nil {
		return false
	}
	for _, s := range f.AlwaysShow {
		if s == n.Name {
			return false
		}
	}
	if f.HideDotfiles && strings.HasPrefix(n.Name, ".") {
		return true
	}
	for _, s := range f.HideNames {
		if s == n.Name {
			return true
		}
	}
	for _, g := range f.HideGlobs {
		if ok, _ := filepath.Match(g, n.Name); ok {
			return true
		}
	}
	if f.HideGitignored && n.HasGitStatus() && n.Repo.FlagsFor(n.Path).Has(git.Ignored) {
		return true
	}
	if f.Predicate != nil && f.Predicate(n) {
		return true
	}
	return false
}

// Active reports whether any rule is set.
func (f *Filter) Active() bool {
	return f != nil && (f.HideDotfiles || f.HideGitignored || len(f.HideNames) > 0 ||
		len(f.HideGlobs) > 0 || f.Predicate != nil)
}
