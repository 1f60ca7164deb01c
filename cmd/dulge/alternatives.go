// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"fmt"
	"sort"

	"github.com/kraklabs/dulge/internal/ui"
	"github.com/kraklabs/dulge/pkg/alternatives"
	"github.com/kraklabs/dulge/pkg/handle"
)

// runAlternatives lists every alternatives group with its current
// provider, or with "set <group> <pkgname>" switches a group's head.
func runAlternatives(h *handle.Handle, args []string) error {
	if len(args) == 0 {
		groups := h.Alternatives.Snapshot()
		names := make([]string, 0, len(groups))
		for g := range groups {
			names = append(names, g)
		}
		sort.Strings(names)
		for _, g := range names {
			seq := groups[g]
			if len(seq) == 0 {
				continue
			}
			fmt.Printf("%-24s %s", g, seq[0])
			if len(seq) > 1 {
				fmt.Printf(" %s", ui.DimText(fmt.Sprintf("(also: %v)", seq[1:])))
			}
			fmt.Println()
		}
		return nil
	}

	if args[0] != "set" || len(args) != 3 {
		return fmt.Errorf("alternatives: usage: alternatives [set <group> <pkgname>]")
	}
	group, pkgname := args[1], args[2]

	h.Alternatives.Emit = func(ev alternatives.Event) {
		if ui.Quiet {
			return
		}
		fmt.Printf("%s %s %s\n", ui.DimText(ev.Kind), ev.Group, ev.Link)
	}
	if err := h.SwitchAlternative(group, pkgname); err != nil {
		return err
	}
	ui.Header(fmt.Sprintf("%s now provides %s", pkgname, group))
	return nil
}
