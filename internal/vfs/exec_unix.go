//go:build unix

package vfs

import (
	"io/fs"
	"syscall"

	"golang.org/x/sys/unix"
)

var syscallIsDir error = syscall.EISDIR

// isExecutable asks the kernel whether the current user may execute path.
func isExecutable(path string, mode fs.FileMode) bool {
	if mode&0o111 == 0 {
		return false
	}
	return unix.Access(path, unix.X_OK) == nil
}
