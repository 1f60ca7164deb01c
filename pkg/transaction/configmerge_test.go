// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package transaction

import "testing"

func TestResolveConfFileSixRows(t *testing.T) {
	cases := []struct {
		name           string
		orig, cur, new string
		keepConfig     bool
		want           ConfFileAction
	}{
		{"row1 unmodified unchanged", "X", "X", "X", false, KeepCurrent},
		{"row2 unmodified changed", "X", "X", "Y", false, InstallNew},
		{"row2 unmodified changed keep-config", "X", "X", "Y", true, SaveNewAside},
		{"row3 modified reverts to orig", "X", "Y", "X", false, KeepCurrent},
		{"row4 modified convergent with new", "X", "Y", "Y", false, KeepCurrent},
		{"row5 modified and new diverges", "X", "Y", "Z", false, SaveNewAside},
		{"row5 modified keep-config forces save", "X", "Y", "X", true, SaveNewAside},
		{"no orig installs fresh", "", "", "Y", false, InstallNew},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := ResolveConfFile(c.orig, c.cur, c.new, c.keepConfig)
			if got != c.want {
				t.Fatalf("ResolveConfFile(%q,%q,%q,%v) = %v, want %v", c.orig, c.cur, c.new, c.keepConfig, got, c.want)
			}
		})
	}
}
