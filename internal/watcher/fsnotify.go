package watcher

import (
	"errors"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// FSNotify is a Backend on top of fsnotify.
type FSNotify struct {
	watcher *fsnotify.Watcher

	events chan Event
	errors chan error

	closeOnce sync.Once
	closeCh   chan struct{}
	closedWg  sync.WaitGroup
}

// NewFSNotify creates an fsnotify backend.
func NewFSNotify() (*FSNotify, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	b := &FSNotify{
		watcher: fsw,
		events:  make(chan Event, 256),
		errors:  make(chan error, 16),
		closeCh: make(chan struct{}),
	}
	b.closedWg.Add(1)
	go b.processLoop()
	return b, nil
}

// Add starts watching dir.
func (b *FSNotify) Add(dir string) error { return b.watcher.Add(dir) }

// Remove stops watching dir. A directory that has already disappeared is
// not an error.
func (b *FSNotify) Remove(dir string) error {
	err := b.watcher.Remove(dir)
	if errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return nil
	}
	return err
}

// Events returns the event channel.
func (b *FSNotify) Events() <-chan Event { return b.events }

// Errors returns the error channel.
func (b *FSNotify) Errors() <-chan error { return b.errors }

// Close stops the backend.
func (b *FSNotify) Close() error {
	var err error
	b.closeOnce.Do(func() {
		close(b.closeCh)
		err = b.watcher.Close()
		b.closedWg.Wait()
		close(b.events)
		close(b.errors)
	})
	return err
}

func (b *FSNotify) processLoop() {
	defer b.closedWg.Done()
	for {
		select {
		case <-b.closeCh:
			return

		case ev, ok := <-b.watcher.Events:
			if !ok {
				return
			}
			op := convertOp(ev.Op)
			if op == 0 {
				continue
			}
			select {
			case b.events <- Event{Path: ev.Name, Op: op}:
			case <-b.closeCh:
				return
			}

		case err, ok := <-b.watcher.Errors:
			if !ok {
				return
			}
			select {
			case b.errors <- err:
			default:
			}
		}
	}
}

// convertOp converts fsnotify.Op to watcher.Op.
func convertOp(fsOp fsnotify.Op) Op {
	var op Op
	if fsOp.Has(fsnotify.Create) {
		op |= OpCreate
	}
	if fsOp.Has(fsnotify.Write) {
		op |= OpWrite
	}
	if fsOp.Has(fsnotify.Remove) {
		op |= OpRemove
	}
	if fsOp.Has(fsnotify.Rename) {
		op |= OpRename
	}
	if fsOp.Has(fsnotify.Chmod) {
		op |= OpChmod
	}
	return op
}

var _ Backend = (*FSNotify)(nil)
