package git

import "strings"

// Flags is the set of status conditions for one path.
type Flags uint16

// Status flags. Index-side changes carry Staged, worktree-side changes carry
// Unstaged. Merge conflicts carry Unmerged plus the side that changed.
const (
	Staged Flags = 1 << iota
	Unstaged
	Added
	Modified
	Deleted
	Renamed
	Copied
	TypeChanged
	Unmerged
	Ignored
	Untracked
	Us
	Them
	Both
)

// Clean is the zero value: tracked and unchanged, or unknown.
const Clean Flags = 0

// dirty is every flag that makes a file show up as changed.
const dirty = Staged | Unstaged | Unmerged | Untracked

var flagNames = []struct {
	f    Flags
	name string
}{
	{Staged, "staged"},
	{Unstaged, "unstaged"},
	{Added, "added"},
	{Modified, "modified"},
	{Deleted, "deleted"},
	{Renamed, "renamed"},
	{Copied, "copied"},
	{TypeChanged, "typechanged"},
	{Unmerged, "unmerged"},
	{Ignored, "ignored"},
	{Untracked, "untracked"},
	{Us, "us"},
	{Them, "them"},
	{Both, "both"},
}

// Has reports whether all of want are set.
func (f Flags) Has(want Flags) bool { return f&want == want }

// Any reports whether any of want is set.
func (f Flags) Any(want Flags) bool { return f&want != 0 }

// Dirty reports whether the path has any change git would report.
func (f Flags) Dirty() bool { return f&dirty != 0 }

// String lists the set flags joined by "|", or "clean".
func (f Flags) String() string {
	if f == Clean {
		return "clean"
	}
	var parts []string
	for _, n := range flagNames {
		if f&n.f != 0 {
			parts = append(parts, n.name)
		}
	}
	return strings.Join(parts, "|")
}

// propagated is the subset of f that ancestor directories inherit.
// Ignored is a property of the entry itself, not of its parents.
func (f Flags) propagated() Flags { return f &^ Ignored }

// indexFlags maps a porcelain X (index) status character.
func indexFlags(c byte) Flags {
	switch c {
	case 'M':
		return Staged | Modified
	case 'T':
		return Staged | TypeChanged
	case 'A':
		return Staged | Added
	case 'D':
		return Staged | Deleted
	case 'R':
		return Staged | Renamed
	case 'C':
		return Staged | Copied
	default:
		return Clean
	}
}

// worktreeFlags maps a porcelain Y (worktree) status character.
func worktreeFlags(c byte) Flags {
	switch c {
	case 'M':
		return Unstaged | Modified
	case 'T':
		return Unstaged | TypeChanged
	case 'A':
		return Unstaged | Added
	case 'D':
		return Unstaged | Deleted
	case 'R':
		return Unstaged | Renamed
	case 'C':
		return Unstaged | Copied
	default:
		return Clean
	}
}

// ordinaryFlags maps the XY field of an ordinary or renamed entry.
func ordinaryFlags(xy string) Flags {
	if len(xy) != 2 {
		return Clean
	}
	return indexFlags(xy[0]) | worktreeFlags(xy[1])
}

// unmergedFlags maps the XY field of an unmerged entry.
func unmergedFlags(xy string) Flags {
	f := Unmerged
	switch xy {
	case "DD":
		f |= Both | Deleted
	case "AA":
		f |= Both | Added
	case "UU":
		f |= Both | Modified
	case "AU":
		f |= Us | Added
	case "DU":
		f |= Us | Deleted
	case "UA":
		f |= Them | Added
	case "UD":
		f |= Them | Deleted
	}
	return f
}
