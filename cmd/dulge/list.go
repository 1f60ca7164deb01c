// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"sort"

	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/handle"
)

func runList(h *handle.Handle) error {
	var names []string
	_ = h.DB.ForEach(func(pkgname string, d *descriptor.Descriptor) error {
		names = append(names, pkgname)
		return nil
	})
	sort.Strings(names)
	for _, name := range names {
		d, _ := h.DB.Get(name)
		fmt.Printf("%-32s %s\n", d.Pkgver(), d.ShortDesc())
	}
	return nil
}
