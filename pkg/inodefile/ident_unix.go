//go:build unix

package inodefile

import (
	"fmt"
	"os"
	"syscall"
)

// inodeByPath returns the inode number for path. This uses direct
// syscall.Lstat() instead of os.Lstat() for better performance, and never
// follows symlinks.
func inodeByPath(path string) (uint64, error) {
	var stat syscall.Stat_t
	if err := syscall.Lstat(path, &stat); err != nil {
		return 0, fmt.Errorf("lstat file: %w", err)
	}

	return stat.Ino, nil
}

// inodeByInfo extracts the inode number from an already collected FileInfo,
// avoiding a second stat during directory walks.
func inodeByInfo(path string, info os.FileInfo) (uint64, error) {
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		return stat.Ino, nil
	}

	return inodeByPath(path)
}
