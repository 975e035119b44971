// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

//go:build !windows
// +build !windows

package lockfile

import (
	"os"

	"golang.org/x/sys/unix"
)

// linkCount returns the hard-link count of the file at path.
func linkCount(path string) (int, error) {
	var stat unix.Stat_t
	if err := unix.Stat(path, &stat); err != nil {
		return 0, &os.PathError{Op: "stat", Path: path, Err: err}
	}
	return int(stat.Nlink), nil
}
