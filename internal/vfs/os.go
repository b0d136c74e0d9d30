package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

// OSFS implements Accessor using the operating system's file system.
type OSFS struct{}

// NewOSFS creates a new OS file system accessor.
func NewOSFS() *OSFS {
	return &OSFS{}
}

// Ensure OSFS implements Accessor.
var _ Accessor = (*OSFS)(nil)

// NodeFor returns the entry at path without following a final symlink.
func (f *OSFS) NodeFor(path string) (Entry, error) {
	path = filepath.Clean(path)
	info, err := os.Lstat(path)
	if err != nil {
		return Entry{}, err
	}
	return f.entryFor(path, info), nil
}

// ScanDir reads one directory level.
func (f *OSFS) ScanDir(path string) ([]Entry, error) {
	path = filepath.Clean(path)
	dirents, err := os.ReadDir(path)
	if err != nil {
		return []Entry{}, err
	}

	entries := make([]Entry, 0, len(dirents))
	for _, d := range dirents {
		entryPath := filepath.Join(path, d.Name())
		info, err := os.Lstat(entryPath)
		if err != nil {
			continue // vanished between readdir and lstat
		}
		entries = append(entries, f.entryFor(entryPath, info))
	}
	return entries, nil
}

func (f *OSFS) entryFor(path string, info fs.FileInfo) Entry {
	e := Entry{
		Path:    path,
		Name:    info.Name(),
		Kind:    KindFromMode(info.Mode()),
		Size:    info.Size(),
		Mode:    info.Mode(),
		ModTime: info.ModTime(),
	}

	if e.Kind == KindSymlink {
		f.resolveLink(&e)
	}
	if e.EffectiveKind() == KindFile && !e.Orphaned {
		e.Executable = isExecutable(path, info.Mode())
	}
	return e
}

func (f *OSFS) resolveLink(e *Entry) {
	target, err := os.Readlink(e.Path)
	if err != nil {
		e.Orphaned = true
		return
	}
	e.Target = target

	abs := target
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(filepath.Dir(e.Path), abs)
	}
	e.AbsTarget = filepath.Clean(abs)

	info, err := os.Stat(e.Path)
	if err != nil {
		e.Orphaned = true
		return
	}
	e.TargetKind = KindFromMode(info.Mode())
	if e.TargetKind == KindFile {
		e.Size = info.Size()
	}
}

// IsDir returns true if path is a directory or a link to one.
func (f *OSFS) IsDir(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// IsFile returns true if path is a regular file or a link to one.
func (f *OSFS) IsFile(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// Exists returns true if path exists. Broken links exist.
func (f *OSFS) Exists(path string) bool {
	_, err := os.Lstat(path)
	// Permission errors mean existence cannot be determined; assume it does.
	return !errors.Is(err, os.ErrNotExist)
}

// CopyFile copies a regular file, keeping its permission bits.
func (f *OSFS) CopyFile(src, dst string) error {
	if f.Exists(dst) {
		return &fs.PathError{Op: "copy", Path: dst, Err: ErrExists}
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "copy", Path: src, Err: syscallIsDir}
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Close()
}

// CopyDir copies a directory tree. Symlinks are recreated, not followed.
func (f *OSFS) CopyDir(src, dst string) error {
	if !f.IsDir(src) {
		return &fs.PathError{Op: "copy", Path: src, Err: ErrNotDir}
	}
	if f.Exists(dst) {
		return &fs.PathError{Op: "copy", Path: dst, Err: ErrExists}
	}

	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm())
		case d.Type().IsRegular():
			return f.CopyFile(path, target)
		default:
			return nil // special files are skipped
		}
	})
}

// Rename moves oldPath to newPath, refusing to overwrite.
func (f *OSFS) Rename(oldPath, newPath string) error {
	if f.Exists(newPath) {
		return &fs.PathError{Op: "rename", Path: newPath, Err: ErrExists}
	}
	if err := os.MkdirAll(filepath.Dir(newPath), 0o755); err != nil {
		return err
	}
	return os.Rename(oldPath, newPath)
}

// CreateDir creates a directory and any missing parents.
func (f *OSFS) CreateDir(path string) error {
	if f.Exists(path) {
		return &fs.PathError{Op: "mkdir", Path: path, Err: ErrExists}
	}
	return os.MkdirAll(path, 0o755)
}

// CreateFile creates an empty file, creating missing parents.
func (f *OSFS) CreateFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	return file.Close()
}

// RemoveFile removes a file, link or special file.
func (f *OSFS) RemoveFile(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return &fs.PathError{Op: "remove", Path: path, Err: syscallIsDir}
	}
	return os.Remove(path)
}

// RemoveDir removes a directory recursively.
func (f *OSFS) RemoveDir(path string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return &fs.PathError{Op: "remove", Path: path, Err: ErrNotDir}
	}
	return os.RemoveAll(path)
}
