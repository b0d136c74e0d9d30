package git

import (
	"maps"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Snapshot is an immutable view of a repository's working tree status.
// Paths are absolute. A Snapshot is never modified after it is published;
// a refresh builds a new one and swaps it in.
type Snapshot struct {
	Toplevel string
	Branch   string
	Upstream string
	Head     string
	Ahead    int
	Behind   int
	Stashed  int
	Taken    time.Time

	// files holds per-path flags from the last full status run.
	files map[string]Flags
	// whole holds directories reported as a unit ("dir/"), untracked or ignored.
	whole map[string]Flags
	// dirs aggregates descendant flags per directory.
	dirs map[string]Flags
	// renamed maps a renamed path to its original path.
	renamed map[string]string

	// patch and dirPatch layer single-path refreshes over the full run.
	// An entry with Clean in patch means the path is now clean.
	patch    map[string]Flags
	dirPatch map[string]Flags
}

func newSnapshot(toplevel string) *Snapshot {
	return &Snapshot{
		Toplevel: toplevel,
		files:    make(map[string]Flags),
		whole:    make(map[string]Flags),
		dirs:     make(map[string]Flags),
		renamed:  make(map[string]string),
		patch:    make(map[string]Flags),
		dirPatch: make(map[string]Flags),
	}
}

// add records flags for an absolute path and widens every ancestor up to
// and including the toplevel.
func (s *Snapshot) add(path string, f Flags, isDir bool) {
	if isDir {
		s.whole[path] |= f
	} else {
		s.files[path] |= f
	}
	widen(s.dirs, s.Toplevel, path, f.propagated())
}

func widen(dirs map[string]Flags, toplevel, path string, f Flags) {
	if f == Clean {
		return
	}
	for dir := filepath.Dir(path); ; dir = filepath.Dir(dir) {
		if !within(toplevel, dir) {
			return
		}
		dirs[dir] |= f
		if dir == toplevel {
			return
		}
	}
}

// within reports whether path is root or lies below it.
func within(root, path string) bool {
	if path == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(path, root)
	}
	return strings.HasPrefix(path, root+string(filepath.Separator))
}

// withPatch returns a copy of s with the single-path result for path
// layered on top. Only the small patch maps are copied.
func (s *Snapshot) withPatch(path string, f Flags) *Snapshot {
	next := *s
	next.patch = maps.Clone(s.patch)
	next.dirPatch = maps.Clone(s.dirPatch)
	next.patch[path] = f
	widen(next.dirPatch, s.Toplevel, path, f.propagated())
	next.Taken = time.Now()
	return &next
}

// FlagsFor returns the flags for a file or directory entry. Paths inside a
// directory reported as a unit inherit its flags.
func (s *Snapshot) FlagsFor(path string) Flags {
	if s == nil {
		return Clean
	}
	path = filepath.Clean(path)
	if f, ok := s.patch[path]; ok {
		return f
	}
	if f, ok := s.files[path]; ok {
		return f
	}
	return s.inherited(path)
}

func (s *Snapshot) inherited(path string) Flags {
	for p := path; within(s.Toplevel, p); p = filepath.Dir(p) {
		if f, ok := s.whole[p]; ok {
			return f
		}
		if p == s.Toplevel {
			break
		}
	}
	return Clean
}

// DirFlags returns the aggregate flags of everything below dir, merged
// with dir's own flags when the directory itself was reported.
func (s *Snapshot) DirFlags(dir string) Flags {
	if s == nil {
		return Clean
	}
	dir = filepath.Clean(dir)
	return s.dirs[dir] | s.dirPatch[dir] | s.inherited(dir) | s.files[dir]
}

// RenamedFrom returns the original path of a renamed entry.
func (s *Snapshot) RenamedFrom(path string) (string, bool) {
	if s == nil {
		return "", false
	}
	orig, ok := s.renamed[path]
	return orig, ok
}

// Entry is one path with its flags.
type Entry struct {
	Path  string
	Flags Flags
	IsDir bool
}

// Entries returns every non-clean reported path in path order. Ignored
// entries are included only when withIgnored is set.
func (s *Snapshot) Entries(withIgnored bool) []Entry {
	if s == nil {
		return nil
	}
	keep := func(f Flags) bool {
		if f == Clean {
			return false
		}
		return withIgnored || f != Ignored
	}

	seen := make(map[string]bool, len(s.files)+len(s.patch))
	var out []Entry
	for p, f := range s.patch {
		seen[p] = true
		if keep(f) {
			out = append(out, Entry{Path: p, Flags: f})
		}
	}
	for p, f := range s.files {
		if !seen[p] && keep(f) {
			out = append(out, Entry{Path: p, Flags: f})
		}
	}
	for p, f := range s.whole {
		if keep(f) {
			out = append(out, Entry{Path: p, Flags: f, IsDir: true})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Paths returns the paths of Entries(false).
func (s *Snapshot) Paths() []string {
	entries := s.Entries(false)
	paths := make([]string, len(entries))
	for i, e := range entries {
		paths[i] = e.Path
	}
	return paths
}

// Equal reports whether s and o describe the same status.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	if s.Branch != o.Branch || s.Upstream != o.Upstream || s.Head != o.Head ||
		s.Ahead != o.Ahead || s.Behind != o.Behind || s.Stashed != o.Stashed {
		return false
	}
	a, b := s.Entries(true), o.Entries(true)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
