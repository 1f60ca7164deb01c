// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/handle"
	"github.com/kraklabs/dulge/pkg/pkgver"
	"github.com/kraklabs/dulge/pkg/repopool"
)

// runSearch walks every configured repository's effective index and
// prints descriptors whose pkgname matches pattern as a glob, or
// whose pkgname simply contains pattern as a substring fallback.
func runSearch(h *handle.Handle, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("search: a pattern is required")
	}
	pattern := args[0]

	return h.Pool.ForEach(context.Background(), func(r *repopool.Repo) error {
		for _, key := range r.Index.Keys() {
			ok, err := filepath.Match(pattern, key)
			if err != nil {
				return err
			}
			if !ok && !strings.Contains(key, pattern) {
				continue
			}
			v, _ := r.Index.Get(key)
			d := descriptor.New(v)
			fmt.Printf("%-32s %s\n", d.Pkgver(), d.ShortDesc())
		}
		return nil
	})
}

func runInfo(h *handle.Handle, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("info: a package name is required")
	}
	name := pkgver.NameOf(args[0])

	if d, ok := h.DB.Get(name); ok {
		printDescriptor(d)
		return nil
	}
	if _, d, ok := h.Pool.Find(context.Background(), name); ok {
		printDescriptor(d)
		return nil
	}
	return fmt.Errorf("info: %s not found", name)
}

func printDescriptor(d *descriptor.Descriptor) {
	fmt.Printf("pkgname:       %s\n", d.Pkgname())
	fmt.Printf("pkgver:        %s\n", d.Pkgver())
	fmt.Printf("architecture:  %s\n", d.Architecture())
	fmt.Printf("short_desc:    %s\n", d.ShortDesc())
	fmt.Printf("homepage:      %s\n", d.Homepage())
	fmt.Printf("license:       %s\n", d.License())
	fmt.Printf("maintainer:    %s\n", d.Maintainer())
	fmt.Printf("installed_size: %d\n", d.InstalledSize())
	fmt.Printf("repository:    %s\n", d.Repository())
	fmt.Printf("state:         %s\n", d.State())
	if deps := d.RunDepends(); len(deps) > 0 {
		fmt.Printf("run_depends:   %v\n", deps)
	}
}
