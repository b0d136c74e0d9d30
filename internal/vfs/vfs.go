// Package vfs provides the filesystem primitives the tree engine is built on.
//
// An Accessor stats, scans and mutates paths and reports every entry in a
// uniform Entry shape: regular files, directories, symlinks (with their
// resolved target), fifos, sockets and devices. Two implementations are
// provided: OSFS backed by the operating system and MemFS for tests.
package vfs

import (
	"errors"
	"io/fs"
	"time"
)

// Errors returned by Accessor implementations.
var (
	// ErrNotFound is returned when a path does not exist. It is fs.ErrNotExist
	// so errors.Is works the same for OS and in-memory errors.
	ErrNotFound = fs.ErrNotExist

	// ErrExists is returned when a create, copy or rename target already exists.
	ErrExists = fs.ErrExist

	// ErrNotDir is returned when a directory operation is given a non-directory.
	ErrNotDir = errors.New("not a directory")
)

// Kind is the on-disk type of an entry.
type Kind uint8

// Entry kinds.
const (
	KindUnknown Kind = iota
	KindFile
	KindDir
	KindSymlink
	KindFIFO
	KindSocket
	KindCharDevice
	KindBlockDevice
)

// String returns a short name for the kind.
func (k Kind) String() string {
	switch k {
	case KindFile:
		return "file"
	case KindDir:
		return "directory"
	case KindSymlink:
		return "symlink"
	case KindFIFO:
		return "fifo"
	case KindSocket:
		return "socket"
	case KindCharDevice:
		return "char-device"
	case KindBlockDevice:
		return "block-device"
	default:
		return "unknown"
	}
}

// KindFromMode maps file mode type bits to a Kind.
func KindFromMode(mode fs.FileMode) Kind {
	switch {
	case mode&fs.ModeSymlink != 0:
		return KindSymlink
	case mode.IsDir():
		return KindDir
	case mode&fs.ModeNamedPipe != 0:
		return KindFIFO
	case mode&fs.ModeSocket != 0:
		return KindSocket
	case mode&fs.ModeCharDevice != 0:
		return KindCharDevice
	case mode&fs.ModeDevice != 0:
		return KindBlockDevice
	case mode.IsRegular():
		return KindFile
	default:
		return KindUnknown
	}
}

// Entry describes one filesystem entry as seen by Lstat.
type Entry struct {
	Path       string
	Name       string
	Kind       Kind
	Size       int64
	Mode       fs.FileMode
	ModTime    time.Time
	Executable bool

	// Symlink fields. Target is the raw link text, AbsTarget the cleaned
	// absolute target and TargetKind the kind of whatever AbsTarget resolves
	// to. Orphaned is set when the target does not exist.
	Target     string
	AbsTarget  string
	TargetKind Kind
	Orphaned   bool
}

// IsLink reports whether the entry is a symbolic link.
func (e Entry) IsLink() bool { return e.Kind == KindSymlink }

// EffectiveKind is the kind the entry behaves as. Links behave as their
// target; broken links behave as files.
func (e Entry) EffectiveKind() Kind {
	if e.Kind != KindSymlink {
		return e.Kind
	}
	if e.Orphaned || e.TargetKind == KindUnknown {
		return KindFile
	}
	return e.TargetKind
}

// IsDir reports whether the entry behaves as a directory.
func (e Entry) IsDir() bool { return e.EffectiveKind() == KindDir }

// Accessor is the set of filesystem primitives used by trees and panels.
//
// ScanDir returns an empty, non-nil slice together with the error when the
// directory cannot be read, so callers may log and carry on.
type Accessor interface {
	// NodeFor returns the entry at path, or an error matching ErrNotFound.
	NodeFor(path string) (Entry, error)

	// ScanDir lists one directory level, resolving symlink targets.
	ScanDir(path string) ([]Entry, error)

	IsDir(path string) bool
	IsFile(path string) bool
	Exists(path string) bool

	CopyFile(src, dst string) error
	CopyDir(src, dst string) error
	Rename(oldPath, newPath string) error
	CreateDir(path string) error
	CreateFile(path string) error
	RemoveFile(path string) error

	// RemoveDir removes a directory and everything below it.
	RemoveDir(path string) error
}
