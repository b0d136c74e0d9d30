package watcher

import (
	"path/filepath"
	"strings"
	"sync"
)

// Patterns matches entry names against glob rules in order. A rule
// starting with "!" re-includes names an earlier rule excluded. Rules
// apply to the base name only, since every watch is a single directory.
type Patterns struct {
	mu    sync.RWMutex
	rules []rule
}

type rule struct {
	glob     string
	negation bool
}

// NewPatterns creates a matcher from rules.
func NewPatterns(rules ...string) *Patterns {
	p := &Patterns{}
	p.Add(rules...)
	return p
}

// Add appends rules. Empty rules and comments are skipped.
func (p *Patterns) Add(rules ...string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range rules {
		r = strings.TrimSpace(r)
		if r == "" || strings.HasPrefix(r, "#") {
			continue
		}
		var ru rule
		if strings.HasPrefix(r, "!") {
			ru.negation = true
			r = r[1:]
		}
		ru.glob = strings.Trim(r, "/")
		p.rules = append(p.rules, ru)
	}
}

// Match reports whether name is excluded.
func (p *Patterns) Match(name string) bool {
	if p == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	excluded := false
	for _, r := range p.rules {
		if ok, _ := filepath.Match(r.glob, name); ok {
			excluded = !r.negation
		}
	}
	return excluded
}

// Len returns the number of rules.
func (p *Patterns) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.rules)
}

// DirExcludes are always applied to working tree directories.
var DirExcludes = []string{".git"}

// GitDirExcludes filter churn in a git metadata directory that does not
// change status.
var GitDirExcludes = []string{
	"*.lock",
	"COMMIT_EDITMSG",
	"fsmonitor--daemon*",
	"*.swp",
	"*.swx",
	"*~",
	"gc.pid",
	"gc.log",
}
