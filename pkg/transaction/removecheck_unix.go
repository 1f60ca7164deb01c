// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

//go:build unix

package transaction

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/kraklabs/dulge/pkg/manifest"
)

// preRemoveCheck walks every file the manifest records before anything
// is unlinked. Root may remove anything; a non-root caller must own
// each file, so a single permission failure surfaces before the
// removal has touched the disk.
func (e *Executor) preRemoveCheck(m *manifest.Manifest) error {
	euid := os.Geteuid()
	if euid == 0 {
		return nil
	}
	check := func(path string) error {
		full := filepath.Join(e.Rootdir, path)
		fi, err := os.Lstat(full)
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		st, ok := fi.Sys().(*syscall.Stat_t)
		if !ok {
			return nil
		}
		if int(st.Uid) != euid {
			return fmt.Errorf("%s: not owned by uid %d", full, euid)
		}
		return nil
	}
	for _, f := range m.Files {
		if err := check(f.Path); err != nil {
			return err
		}
	}
	for _, l := range m.Links {
		if err := check(l.Path); err != nil {
			return err
		}
	}
	return nil
}
