package render

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/dshills/sidetree/internal/diagnostics"
	"github.com/dshills/sidetree/internal/event/events"
	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/lsp"
	"github.com/dshills/sidetree/internal/tree"
)

// Options are the per-component settings from the renderer configuration.
type Options map[string]any

// String returns the string option key, or def.
func (o Options) String(key, def string) string {
	if v, ok := o[key].(string); ok {
		return v
	}
	return def
}

// Int returns the integer option key, or def. TOML and YAML decode
// integers as int64 and int respectively; both are accepted.
func (o Options) Int(key string, def int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Bool returns the boolean option key, or def.
func (o Options) Bool(key string, def bool) bool {
	if v, ok := o[key].(bool); ok {
		return v
	}
	return def
}

// Diagnostics supplies diagnostic counts per path.
type Diagnostics interface {
	Get(path string) diagnostics.Counts
}

// Env is the state components read besides the row itself.
type Env struct {
	Diagnostics Diagnostics
	// Mark returns a short clipboard marker for path, or "".
	Mark func(path string) string
}

// Component renders one part of a row.
type Component func(env Env, row tree.Row, opts Options) []Segment

var registry = map[string]Component{
	"indent":      indent,
	"expander":    expander,
	"icon":        icon,
	"name":        name,
	"git_status":  gitStatus,
	"diagnostics": diagnosticsComponent,
	"modified":    modified,
	"mark":        mark,
	"symbol_kind": symbolKind,
	"detail":      detail,
	"target":      target,
	"count":       count,
}

// Known reports whether a component name is registered.
func Known(name string) bool {
	_, ok := registry[name]
	return ok
}

// Components lists the registered component names.
func Components() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}

func seg(text, hl string) []Segment { return []Segment{{Text: text, Highlight: hl}} }

func indent(_ Env, row tree.Row, opts Options) []Segment {
	size := opts.Int("size", 2)
	if row.Depth == 0 || size <= 0 {
		return nil
	}
	if !opts.Bool("markers", false) {
		return seg(strings.Repeat(" ", row.Depth*size), "")
	}
	marker := opts.String("marker", "├")
	if row.Last {
		marker = opts.String("last_marker", "└")
	}
	pad := strings.Repeat(" ", (row.Depth-1)*size)
	return seg(pad+marker+strings.Repeat(" ", size-1), HLIndent)
}

func expander(_ Env, row tree.Row, opts Options) []Segment {
	n := row.Node
	sep := opts.String("separator", " ")
	blank := opts.String("leaf", " ") + sep
	if !n.IsContainer() || (n.Scanned && len(n.Children) == 0) {
		return seg(blank, "")
	}
	if n.Expanded {
		return seg(opts.String("expanded", "▾")+sep, HLExpander)
	}
	return seg(opts.String("collapsed", "▸")+sep, HLExpander)
}

func icon(_ Env, row tree.Row, opts Options) []Segment {
	n := row.Node
	sep := opts.String("separator", " ")
	switch n.Kind {
	case tree.KindDirectory, tree.KindSymlinkDir:
		if n.Expanded {
			return seg(opts.String("folder_open", "▼")+sep, HLDirectoryIcon)
		}
		if n.Empty() {
			return seg(opts.String("folder_empty", "▷")+sep, HLDirectoryIcon)
		}
		return seg(opts.String("folder_closed", "▶")+sep, HLDirectoryIcon)
	case tree.KindGitStatus:
		if n.IsDir() {
			return seg(opts.String("folder_closed", "▶")+sep, HLDirectoryIcon)
		}
	case tree.KindSymbol, tree.KindCallItem:
		if si, ok := symbolInfo(n); ok {
			return seg(lsp.SymbolKind(si.LSPKind).Icon()+sep, HLSymbolKind)
		}
	case tree.KindBuffer:
		if bi, ok := tree.As[tree.BufferInfo](n); ok && bi.Terminal {
			return seg(opts.String("terminal", ">")+sep, HLBufferTerminal)
		}
	case tree.KindPlaceholder:
		return nil
	case tree.KindFIFO, tree.KindSocket, tree.KindCharDevice, tree.KindBlockDevice:
		return seg(opts.String("special", "*")+sep, HLSpecial)
	}
	return seg(opts.String("default", "•")+sep, HLFileIcon)
}

func symbolInfo(n *tree.Node) (tree.SymbolInfo, bool) {
	if si, ok := tree.As[tree.SymbolInfo](n); ok {
		return si, true
	}
	if ci, ok := tree.As[tree.CallInfo](n); ok {
		return ci.SymbolInfo, true
	}
	return tree.SymbolInfo{}, false
}

func name(_ Env, row tree.Row, opts Options) []Segment {
	n := row.Node
	text := n.Name
	hl := HLFileName
	switch {
	case n.Kind == tree.KindPlaceholder:
		if p, ok := tree.As[tree.PlaceholderInfo](n); ok && p.Text != "" {
			text = p.Text
		}
		return seg(text, HLPlaceholder)
	case row.Depth == 0 && n.IsDir():
		text = rootName(n, opts)
		hl = HLRootName
	case n.IsDir():
		hl = HLDirectoryName
		if opts.Bool("trailing_slash", false) {
			text += "/"
		}
	case n.Kind == tree.KindSymlinkFile:
		hl = HLSymlink
		if li, ok := tree.As[tree.LinkInfo](n); ok && li.Orphaned {
			hl = HLOrphan
		}
	case n.HasRange():
		if si, ok := symbolInfo(n); ok && si.Deprecated {
			hl = HLDeprecated
		}
	default:
		if fi, ok := tree.As[tree.FileInfo](n); ok && fi.Executable {
			hl = HLExecutable
		}
	}
	if strings.HasPrefix(n.Name, ".") && row.Depth > 0 && opts.Bool("dim_dotfiles", true) {
		hl = HLDotfile
	}
	if opts.Bool("git_color", true) && row.Flags != git.Clean && row.Depth > 0 {
		if g := gitHighlight(row.Flags); g != "" {
			hl = g
		}
	}
	return seg(text, hl)
}

func rootName(n *tree.Node, opts Options) string {
	switch opts.String("root_format", "path") {
	case "name":
		return n.Name
	default:
		if home := opts.String("home", ""); home != "" && strings.HasPrefix(n.Path, home) {
			return "~" + strings.TrimPrefix(n.Path, home)
		}
		return n.Path
	}
}

func gitHighlight(f git.Flags) string {
	switch {
	case f.Has(git.Unmerged):
		return HLGitConflict
	case f.Has(git.Untracked):
		return HLGitUntracked
	case f.Has(git.Ignored):
		return HLGitIgnored
	case f.Has(git.Deleted):
		return HLGitDeleted
	case f.Has(git.Added):
		return HLGitAdded
	case f.Has(git.Renamed), f.Has(git.Copied):
		return HLGitRenamed
	case f.Has(git.Modified), f.Has(git.TypeChanged):
		return HLGitModified
	}
	return ""
}

// GitSymbol returns the short status code for flags, or "" when clean.
func GitSymbol(f git.Flags) string {
	switch {
	case f.Has(git.Unmerged):
		return "U"
	case f.Has(git.Untracked):
		return "?"
	case f.Has(git.Ignored):
		return "!"
	case f.Has(git.Deleted):
		return "D"
	case f.Has(git.Added):
		return "A"
	case f.Has(git.Renamed):
		return "R"
	case f.Has(git.Copied):
		return "C"
	case f.Has(git.TypeChanged):
		return "T"
	case f.Has(git.Modified):
		return "M"
	}
	return ""
}

func gitStatus(_ Env, row tree.Row, opts Options) []Segment {
	f := row.Flags
	sym := GitSymbol(f)
	if sym == "" || (f.Has(git.Ignored) && !opts.Bool("show_ignored", false)) {
		return nil
	}
	hl := gitHighlight(f)
	if f.Has(git.Staged) && !f.Has(git.Unstaged) && !f.Has(git.Unmerged) {
		hl = HLGitStaged
	}
	out := seg(opts.String("prefix", "")+sym, hl)
	if opts.Bool("staged_marker", true) && f.Has(git.Staged) && f.Has(git.Unstaged) {
		out = append(out, Segment{Text: "+", Highlight: HLGitStaged})
	}
	return out
}

func diagnosticsComponent(env Env, row tree.Row, opts Options) []Segment {
	if env.Diagnostics == nil || row.Node.Kind == tree.KindPlaceholder {
		return nil
	}
	c := env.Diagnostics.Get(row.Node.Path)
	threshold := events.Severity(opts.Int("min_severity", int(events.SeverityHint)))
	worst := c.Worst()
	if worst == 0 || worst > threshold {
		return nil
	}
	var text, hl string
	switch worst {
	case events.SeverityError:
		text, hl = opts.String("error", "E"), HLDiagError
	case events.SeverityWarning:
		text, hl = opts.String("warning", "W"), HLDiagWarning
	case events.SeverityInfo:
		text, hl = opts.String("info", "I"), HLDiagInfo
	default:
		text, hl = opts.String("hint", "H"), HLDiagHint
	}
	if opts.Bool("count", false) {
		text = fmt.Sprintf("%s%d", text, c.Total())
	}
	return seg(text, hl)
}

func modified(_ Env, row tree.Row, opts Options) []Segment {
	if bi, ok := tree.As[tree.BufferInfo](row.Node); ok && bi.Modified {
		return seg(opts.String("symbol", " [+]"), HLModified)
	}
	return nil
}

func mark(env Env, row tree.Row, _ Options) []Segment {
	if env.Mark == nil {
		return nil
	}
	if m := env.Mark(row.Node.Path); m != "" {
		return seg(" ("+m+")", HLMark)
	}
	return nil
}

func symbolKind(_ Env, row tree.Row, opts Options) []Segment {
	si, ok := symbolInfo(row.Node)
	if !ok {
		return nil
	}
	return seg(opts.String("prefix", " ")+lsp.SymbolKind(si.LSPKind).String(), HLSymbolKind)
}

func detail(_ Env, row tree.Row, opts Options) []Segment {
	si, ok := symbolInfo(row.Node)
	if !ok || si.Detail == "" {
		return nil
	}
	return seg(opts.String("prefix", " ")+si.Detail, HLDetail)
}

func target(_ Env, row tree.Row, opts Options) []Segment {
	li, ok := tree.As[tree.LinkInfo](row.Node)
	if !ok {
		return nil
	}
	t := li.RelativeTarget
	if opts.Bool("absolute", false) {
		t = li.AbsoluteTarget
	}
	hl := HLSymlink
	if li.Orphaned {
		hl = HLOrphan
	}
	return seg(opts.String("arrow", " ➛ ")+t, hl)
}

// count shows the number of loaded children of collapsed containers.
func count(_ Env, row tree.Row, opts Options) []Segment {
	n := row.Node
	if !n.IsContainer() || !n.Scanned || len(n.Children) == 0 || (n.Expanded && !opts.Bool("always", false)) {
		return nil
	}
	return seg(fmt.Sprintf(" (%d)", len(n.Children)), HLDetail)
}
