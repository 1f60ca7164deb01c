// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/kraklabs/dulge/internal/ui"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/handle"
	"github.com/kraklabs/dulge/pkg/integrity"
)

func runCheck(h *handle.Handle, args []string) error {
	var names []string
	if len(args) > 0 {
		names = args
	} else {
		_ = h.DB.ForEach(func(pkgname string, d *descriptor.Descriptor) error {
			names = append(names, pkgname)
			return nil
		})
	}

	failed := 0
	var targets []integrity.Target
	for _, name := range names {
		if _, ok := h.DB.Get(name); !ok {
			ui.Warn("check: %s is not installed", name)
			continue
		}
		m, err := manifestFor(h.Config.Rootdir, name)
		if err != nil {
			ui.Warn("check: %s: %v", name, err)
			failed++
			continue
		}
		targets = append(targets, integrity.Target{Pkgname: name, Manifest: m})
	}

	for _, report := range integrity.CheckAll(h.Config.Rootdir, targets, h.Config.IsPreserved) {
		if report.OK {
			fmt.Printf("%-32s OK\n", report.Pkgname)
			continue
		}
		failed++
		fmt.Printf("%-32s FAILED\n", report.Pkgname)
		for _, d := range report.Diagnostics {
			fmt.Printf("  %s: %s\n", d.Kind, d.Path)
		}
	}

	if failed > 0 {
		return fmt.Errorf("check: %d package(s) failed integrity check", failed)
	}
	return nil
}
