//go:build !unix

package vfs

import (
	"errors"
	"io/fs"
)

var syscallIsDir = errors.New("is a directory")

func isExecutable(_ string, mode fs.FileMode) bool {
	return mode&0o111 != 0
}
