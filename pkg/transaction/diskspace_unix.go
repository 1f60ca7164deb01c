// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package transaction

import "syscall"

// freeBytes returns the free space available under path
// (statvfs f_bfree * f_bsize).
func freeBytes(path string) (uint64, error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(path, &st); err != nil {
		return 0, err
	}
	return uint64(st.Bfree) * uint64(st.Bsize), nil
}
