//go:build unix

package view

import (
	"os"
	"syscall"
)

// inodeOf returns the inode number of the file at path. Hardlinked files
// share an inode, which is how materialized files are matched back to their
// blobs.
func inodeOf(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, &os.PathError{Op: "stat", Path: path, Err: syscall.ENOTSUP}
	}
	return stat.Ino, nil
}
