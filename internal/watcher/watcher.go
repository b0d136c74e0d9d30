// Package watcher provides per-directory file system watching for the
// explorer tree.
//
// A DirWatcher holds at most one backend watch per directory no matter how
// many tree nodes observe it; the watch is dropped when the last holder
// releases it. Raw events are collected per directory for a short window
// and published as one events.FSChanged carrying the sorted, deduplicated
// names that changed. Git metadata directories are watched separately and
// produce events.GitDirChanged.
package watcher

import (
	"errors"
	"time"

	"github.com/dshills/sidetree/internal/event/topic"
)

// Common errors returned by watcher operations.
var (
	ErrWatcherClosed = errors.New("watcher is closed")
	ErrNotWatching   = errors.New("path is not being watched")
)

// DefaultDebounce is the coalescing window for a directory's events.
const DefaultDebounce = 200 * time.Millisecond

// Op represents the type of file system operation.
type Op uint32

const (
	// OpCreate indicates a file or directory was created.
	OpCreate Op = 1 << iota
	// OpWrite indicates a file was written to.
	OpWrite
	// OpRemove indicates a file or directory was removed.
	OpRemove
	// OpRename indicates a file or directory was renamed.
	OpRename
	// OpChmod indicates file permissions were changed.
	OpChmod
)

// Has returns true if the operation includes the given op.
func (op Op) Has(o Op) bool {
	return op&o == o
}

// Event is one raw backend notification.
type Event struct {
	// Path is the absolute path of the affected entry.
	Path string
	Op   Op
}

// Backend is a non-recursive directory watch primitive.
type Backend interface {
	Add(dir string) error
	Remove(dir string) error
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Publisher publishes coalesced watch events.
type Publisher interface {
	Publish(t topic.Topic, payload any)
}

// Stats provides watcher status information.
type Stats struct {
	Handles   int
	Pending   int
	RawEvents int64
	Batches   int64
	Errors    int64
	LastError error
}
