package vfs

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFS implements Accessor using an in-memory file system.
// Paths are slash separated and absolute. It supports symlinks, special
// files and per-path error injection for exercising failure handling.
//
// MemFS is safe for concurrent use.
type MemFS struct {
	mu     sync.RWMutex
	nodes  map[string]*memNode
	errs   map[string]error
	clock  func() time.Time
	scans  map[string]int
	scanFn func(dir string)
}

type memNode struct {
	kind    Kind
	content []byte
	mode    fs.FileMode
	target  string
	modTime time.Time
}

// NewMemFS creates a new in-memory file system containing only "/".
func NewMemFS() *MemFS {
	m := &MemFS{
		nodes: make(map[string]*memNode),
		errs:  make(map[string]error),
		scans: make(map[string]int),
		clock: time.Now,
	}
	m.nodes["/"] = &memNode{kind: KindDir, mode: fs.ModeDir | 0o755, modTime: m.clock()}
	return m
}

// Ensure MemFS implements Accessor.
var _ Accessor = (*MemFS)(nil)

func (m *MemFS) cleanPath(p string) string {
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

// mkdirAllLocked creates dir and its parents. Caller holds the write lock.
func (m *MemFS) mkdirAllLocked(dir string) {
	for d := dir; ; d = path.Dir(d) {
		if _, ok := m.nodes[d]; !ok {
			m.nodes[d] = &memNode{kind: KindDir, mode: fs.ModeDir | 0o755, modTime: m.clock()}
		}
		if d == "/" {
			return
		}
	}
}

// AddFile creates a regular file with content, creating parents.
func (m *MemFS) AddFile(p, content string) {
	m.AddFileMode(p, content, 0o644)
}

// AddFileMode creates a regular file with the given permission bits.
func (m *MemFS) AddFileMode(p, content string, perm fs.FileMode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	m.mkdirAllLocked(path.Dir(p))
	m.nodes[p] = &memNode{kind: KindFile, content: []byte(content), mode: perm, modTime: m.clock()}
}

// AddDir creates a directory and its parents.
func (m *MemFS) AddDir(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mkdirAllLocked(m.cleanPath(p))
}

// AddSymlink creates a link at p pointing at target. The target need not exist.
func (m *MemFS) AddSymlink(p, target string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	m.mkdirAllLocked(path.Dir(p))
	m.nodes[p] = &memNode{kind: KindSymlink, target: target, mode: fs.ModeSymlink | 0o777, modTime: m.clock()}
}

// AddSpecial creates a fifo, socket or device node.
func (m *MemFS) AddSpecial(p string, kind Kind) {
	var mode fs.FileMode
	switch kind {
	case KindFIFO:
		mode = fs.ModeNamedPipe
	case KindSocket:
		mode = fs.ModeSocket
	case KindCharDevice:
		mode = fs.ModeDevice | fs.ModeCharDevice
	case KindBlockDevice:
		mode = fs.ModeDevice
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	m.mkdirAllLocked(path.Dir(p))
	m.nodes[p] = &memNode{kind: kind, mode: mode | 0o644, modTime: m.clock()}
}

// SetError makes NodeFor and ScanDir on p fail with err. A nil err clears it.
func (m *MemFS) SetError(p string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	if err == nil {
		delete(m.errs, p)
		return
	}
	m.errs[p] = err
}

// ScanCount returns how many times ScanDir was called for dir.
func (m *MemFS) ScanCount(dir string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.scans[m.cleanPath(dir)]
}

// OnScan registers fn to be called at the start of every ScanDir, outside
// the lock. Tests use it to interleave events with a scan in progress.
func (m *MemFS) OnScan(fn func(dir string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanFn = fn
}

// Remove deletes p and everything below it.
func (m *MemFS) Remove(p string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removeAllLocked(m.cleanPath(p))
}

func (m *MemFS) removeAllLocked(p string) {
	prefix := p + "/"
	for k := range m.nodes {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(m.nodes, k)
		}
	}
}

// resolveLocked follows links from p up to a fixed depth.
func (m *MemFS) resolveLocked(p string) (*memNode, string, bool) {
	for range 40 {
		n, ok := m.nodes[p]
		if !ok {
			return nil, p, false
		}
		if n.kind != KindSymlink {
			return n, p, true
		}
		t := n.target
		if !strings.HasPrefix(t, "/") {
			t = path.Join(path.Dir(p), t)
		}
		p = path.Clean(t)
	}
	return nil, p, false
}

func (m *MemFS) entryLocked(p string, n *memNode) Entry {
	e := Entry{
		Path:    p,
		Name:    path.Base(p),
		Kind:    n.kind,
		Size:    int64(len(n.content)),
		Mode:    n.mode,
		ModTime: n.modTime,
	}
	if n.kind == KindSymlink {
		e.Target = n.target
		abs := n.target
		if !strings.HasPrefix(abs, "/") {
			abs = path.Join(path.Dir(p), abs)
		}
		e.AbsTarget = path.Clean(abs)
		if t, _, ok := m.resolveLocked(p); ok {
			e.TargetKind = t.kind
			e.Size = int64(len(t.content))
			e.Executable = t.kind == KindFile && t.mode&0o111 != 0
		} else {
			e.Orphaned = true
		}
		return e
	}
	e.Executable = n.kind == KindFile && n.mode&0o111 != 0
	return e
}

// NodeFor returns the entry at p.
func (m *MemFS) NodeFor(p string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p = m.cleanPath(p)
	if err := m.errs[p]; err != nil {
		return Entry{}, &fs.PathError{Op: "lstat", Path: p, Err: err}
	}
	n, ok := m.nodes[p]
	if !ok {
		return Entry{}, &fs.PathError{Op: "lstat", Path: p, Err: ErrNotFound}
	}
	return m.entryLocked(p, n), nil
}

// ScanDir lists one directory level in name order.
func (m *MemFS) ScanDir(dir string) ([]Entry, error) {
	dir = m.cleanPath(dir)

	m.mu.Lock()
	m.scans[dir]++
	fn := m.scanFn
	m.mu.Unlock()
	if fn != nil {
		fn(dir)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.errs[dir]; err != nil {
		return []Entry{}, &fs.PathError{Op: "readdir", Path: dir, Err: err}
	}
	n, resolved, ok := m.resolveLocked(dir)
	if !ok {
		return []Entry{}, &fs.PathError{Op: "readdir", Path: dir, Err: ErrNotFound}
	}
	if n.kind != KindDir {
		return []Entry{}, &fs.PathError{Op: "readdir", Path: dir, Err: ErrNotDir}
	}

	prefix := resolved + "/"
	if resolved == "/" {
		prefix = "/"
	}
	var names []string
	for k := range m.nodes {
		if k == resolved || !strings.HasPrefix(k, prefix) {
			continue
		}
		if strings.Contains(k[len(prefix):], "/") {
			continue
		}
		names = append(names, k[len(prefix):])
	}
	sort.Strings(names)

	entries := make([]Entry, 0, len(names))
	for _, name := range names {
		e := m.entryLocked(path.Join(resolved, name), m.nodes[prefix+name])
		// Report entries under the path that was asked for, not the link target.
		e.Path = path.Join(dir, name)
		entries = append(entries, e)
	}
	return entries, nil
}

// IsDir returns true if p is a directory or a link to one.
func (m *MemFS) IsDir(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, _, ok := m.resolveLocked(m.cleanPath(p))
	return ok && n.kind == KindDir
}

// IsFile returns true if p is a regular file or a link to one.
func (m *MemFS) IsFile(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n, _, ok := m.resolveLocked(m.cleanPath(p))
	return ok && n.kind == KindFile
}

// Exists returns true if p exists. Broken links exist.
func (m *MemFS) Exists(p string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.nodes[m.cleanPath(p)]
	return ok
}

// CopyFile copies a regular file.
func (m *MemFS) CopyFile(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst = m.cleanPath(src), m.cleanPath(dst)
	if _, ok := m.nodes[dst]; ok {
		return &fs.PathError{Op: "copy", Path: dst, Err: ErrExists}
	}
	n, _, ok := m.resolveLocked(src)
	if !ok {
		return &fs.PathError{Op: "copy", Path: src, Err: ErrNotFound}
	}
	if n.kind == KindDir {
		return &fs.PathError{Op: "copy", Path: src, Err: syscallIsDir}
	}
	m.mkdirAllLocked(path.Dir(dst))
	cp := *n
	cp.content = append([]byte(nil), n.content...)
	cp.modTime = m.clock()
	m.nodes[dst] = &cp
	return nil
}

// CopyDir copies a directory tree. Links are copied as links.
func (m *MemFS) CopyDir(src, dst string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, dst = m.cleanPath(src), m.cleanPath(dst)
	n, ok := m.nodes[src]
	if !ok {
		return &fs.PathError{Op: "copy", Path: src, Err: ErrNotFound}
	}
	if n.kind != KindDir {
		return &fs.PathError{Op: "copy", Path: src, Err: ErrNotDir}
	}
	if _, ok := m.nodes[dst]; ok {
		return &fs.PathError{Op: "copy", Path: dst, Err: ErrExists}
	}
	m.mkdirAllLocked(path.Dir(dst))
	prefix := src + "/"
	for k, v := range m.nodes {
		if k != src && !strings.HasPrefix(k, prefix) {
			continue
		}
		cp := *v
		cp.content = append([]byte(nil), v.content...)
		m.nodes[dst+strings.TrimPrefix(k, src)] = &cp
	}
	return nil
}

// Rename moves oldPath and its subtree to newPath.
func (m *MemFS) Rename(oldPath, newPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	oldPath, newPath = m.cleanPath(oldPath), m.cleanPath(newPath)
	if _, ok := m.nodes[oldPath]; !ok {
		return &fs.PathError{Op: "rename", Path: oldPath, Err: ErrNotFound}
	}
	if _, ok := m.nodes[newPath]; ok {
		return &fs.PathError{Op: "rename", Path: newPath, Err: ErrExists}
	}
	m.mkdirAllLocked(path.Dir(newPath))
	prefix := oldPath + "/"
	moved := make(map[string]*memNode)
	for k, v := range m.nodes {
		if k == oldPath || strings.HasPrefix(k, prefix) {
			moved[newPath+strings.TrimPrefix(k, oldPath)] = v
			delete(m.nodes, k)
		}
	}
	for k, v := range moved {
		m.nodes[k] = v
	}
	return nil
}

// CreateDir creates a directory and missing parents.
func (m *MemFS) CreateDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	if _, ok := m.nodes[p]; ok {
		return &fs.PathError{Op: "mkdir", Path: p, Err: ErrExists}
	}
	m.mkdirAllLocked(p)
	return nil
}

// CreateFile creates an empty file and missing parents.
func (m *MemFS) CreateFile(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	if _, ok := m.nodes[p]; ok {
		return &fs.PathError{Op: "create", Path: p, Err: ErrExists}
	}
	m.mkdirAllLocked(path.Dir(p))
	m.nodes[p] = &memNode{kind: KindFile, mode: 0o644, modTime: m.clock()}
	return nil
}

// RemoveFile removes a non-directory entry.
func (m *MemFS) RemoveFile(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	n, ok := m.nodes[p]
	if !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: ErrNotFound}
	}
	if n.kind == KindDir {
		return &fs.PathError{Op: "remove", Path: p, Err: syscallIsDir}
	}
	delete(m.nodes, p)
	return nil
}

// RemoveDir removes a directory recursively.
func (m *MemFS) RemoveDir(p string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p = m.cleanPath(p)
	n, ok := m.nodes[p]
	if !ok {
		return &fs.PathError{Op: "remove", Path: p, Err: ErrNotFound}
	}
	if n.kind != KindDir {
		return &fs.PathError{Op: "remove", Path: p, Err: ErrNotDir}
	}
	if p == "/" {
		return &fs.PathError{Op: "remove", Path: p, Err: fs.ErrPermission}
	}
	m.removeAllLocked(p)
	return nil
}
