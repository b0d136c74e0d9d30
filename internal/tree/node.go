package tree

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/dshills/sidetree/internal/git"
	"github.com/dshills/sidetree/internal/vfs"
)

// ID identifies a node within one tree. IDs are never reused.
type ID uint64

// Kind is the node variant.
type Kind uint8

// Node kinds.
const (
	KindDirectory Kind = iota + 1
	KindFile
	KindSymlinkDir
	KindSymlinkFile
	KindFIFO
	KindSocket
	KindCharDevice
	KindBlockDevice
	KindGitStatus
	KindBuffer
	KindSymbol
	KindCallItem
	KindPlaceholder
)

var kindNames = map[Kind]string{
	KindDirectory:   "directory",
	KindFile:        "file",
	KindSymlinkDir:  "symlink-dir",
	KindSymlinkFile: "symlink-file",
	KindFIFO:        "fifo",
	KindSocket:      "socket",
	KindCharDevice:  "char-device",
	KindBlockDevice: "block-device",
	KindGitStatus:   "git-status",
	KindBuffer:      "buffer",
	KindSymbol:      "symbol",
	KindCallItem:    "call-item",
	KindPlaceholder: "placeholder",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// Payload is the kind-specific part of a node.
type Payload interface{ payload() }

// DirInfo is the payload of directories and directory links.
type DirInfo struct {
	Empty bool
}

// FileInfo is the payload of files and special files.
type FileInfo struct {
	Extension  string
	Executable bool
	Size       int64
	ModTime    time.Time
}

// LinkInfo is the payload of symbolic links. The link behaves as its
// target; a broken link behaves as a file.
type LinkInfo struct {
	RelativeTarget string
	AbsoluteTarget string
	Orphaned       bool
	Dir            DirInfo
	File           FileInfo
}

// BufferInfo describes an open editor buffer.
type BufferInfo struct {
	FileInfo
	BufferID int
	Terminal bool
	Hidden   bool
	Modified bool
}

// GitInfo is the payload of a git status entry. Flags are read live from
// the node's repository.
type GitInfo struct {
	Dir bool
}

// Range is a zero-based document range.
type Range struct {
	StartLine      int
	StartCharacter int
	EndLine        int
	EndCharacter   int
}

// SymbolInfo describes a document symbol. Range spans the whole symbol;
// Selection spans its name and is where navigation lands.
type SymbolInfo struct {
	LSPKind    int
	Range      Range
	Selection  Range
	Detail     string
	Deprecated bool
}

// CallInfo describes an item in a call hierarchy.
type CallInfo struct {
	SymbolInfo
	URI      string
	Incoming bool
	// Item is the raw protocol item, passed back for the next level.
	Item []byte
}

// PlaceholderInfo is a text-only line.
type PlaceholderInfo struct {
	Text string
}

func (DirInfo) payload()         {}
func (FileInfo) payload()        {}
func (LinkInfo) payload()        {}
func (BufferInfo) payload()      {}
func (GitInfo) payload()         {}
func (SymbolInfo) payload()      {}
func (CallInfo) payload()        {}
func (PlaceholderInfo) payload() {}

// As returns the node's payload as T.
func As[T Payload](n *Node) (T, bool) {
	var zero T
	if n == nil || n.Payload == nil {
		return zero, false
	}
	v, ok := n.Payload.(T)
	return v, ok
}

// Node is one entry of a tree. Nodes returned by Tree methods are copies;
// mutate through the Tree.
type Node struct {
	ID       ID
	Path     string
	Name     string
	Kind     Kind
	Parent   ID
	Children []ID
	Expanded bool
	Scanned  bool
	Repo     *git.Repository
	Payload  Payload

	order   int
	watched bool
}

// IsContainer reports whether the node can have children.
func (n *Node) IsContainer() bool { return isContainer(n.Kind, n.Payload) }

func isContainer(k Kind, p Payload) bool {
	switch k {
	case KindDirectory, KindSymlinkDir, KindSymbol, KindCallItem:
		return true
	case KindGitStatus:
		g, _ := p.(GitInfo)
		return g.Dir
	}
	return false
}

// IsDir reports whether the node behaves as a directory on disk.
func (n *Node) IsDir() bool {
	return n.Kind == KindDirectory || n.Kind == KindSymlinkDir ||
		(n.Kind == KindGitStatus && n.IsContainer())
}

// HasGitStatus reports whether git status applies to the node.
func (n *Node) HasGitStatus() bool {
	switch n.Kind {
	case KindSymbol, KindCallItem, KindPlaceholder:
		return false
	}
	return n.Repo != nil
}

// HasRange reports whether the node points into a document.
func (n *Node) HasRange() bool {
	return n.Kind == KindSymbol || n.Kind == KindCallItem
}

// Range returns the document range of symbol and call nodes.
func (n *Node) Range() (Range, bool) {
	switch p := n.Payload.(type) {
	case SymbolInfo:
		return p.Range, true
	case CallInfo:
		return p.Range, true
	}
	return Range{}, false
}

// GitFlags returns the node's current git status.
func (n *Node) GitFlags() git.Flags {
	if !n.HasGitStatus() {
		return git.Clean
	}
	if n.IsDir() {
		return n.Repo.DirFlags(n.Path)
	}
	return n.Repo.FlagsFor(n.Path)
}

// Empty reports whether a scanned directory had no entries.
func (n *Node) Empty() bool {
	switch p := n.Payload.(type) {
	case DirInfo:
		return p.Empty
	case LinkInfo:
		return p.Dir.Empty
	}
	return false
}

func (n *Node) clone() *Node {
	c := *n
	if n.Children != nil {
		c.Children = append(make([]ID, 0, len(n.Children)), n.Children...)
	}
	return &c
}

// kindFor maps a scanned entry to a node kind.
func kindFor(e vfs.Entry) Kind {
	if e.IsLink() {
		if e.IsDir() {
			return KindSymlinkDir
		}
		return KindSymlinkFile
	}
	switch e.Kind {
	case vfs.KindDir:
		return KindDirectory
	case vfs.KindFIFO:
		return KindFIFO
	case vfs.KindSocket:
		return KindSocket
	case vfs.KindCharDevice:
		return KindCharDevice
	case vfs.KindBlockDevice:
		return KindBlockDevice
	default:
		return KindFile
	}
}

func fileInfo(e vfs.Entry) FileInfo {
	return FileInfo{
		Extension:  strings.TrimPrefix(filepath.Ext(e.Name), "."),
		Executable: e.Executable,
		Size:       e.Size,
		ModTime:    e.ModTime,
	}
}

// payloadFor builds the payload for a scanned entry. Directory emptiness
// is carried over from prev until the directory is scanned again.
func payloadFor(e vfs.Entry, prev Payload) Payload {
	var empty bool
	switch p := prev.(type) {
	case DirInfo:
		empty = p.Empty
	case LinkInfo:
		empty = p.Dir.Empty
	}
	if e.IsLink() {
		l := LinkInfo{
			RelativeTarget: e.Target,
			AbsoluteTarget: e.AbsTarget,
			Orphaned:       e.Orphaned,
		}
		if e.IsDir() {
			l.Dir = DirInfo{Empty: empty}
		} else {
			l.File = fileInfo(e)
		}
		return l
	}
	if e.Kind == vfs.KindDir {
		return DirInfo{Empty: empty}
	}
	return fileInfo(e)
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

// below reports whether path lies strictly below root.
func below(root, path string) bool {
	return path != root && within(root, path)
}
