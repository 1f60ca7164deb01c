// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package alternatives

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegisterCreatesGroupAndLinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", "vi.real"), []byte("x"), 0755))

	r := New(root)
	var events []Event
	r.Emit = func(e Event) { events = append(events, e) }

	require.NoError(t, r.Register("vi", map[string][]string{
		"editor": {"/usr/bin/editor:/usr/bin/vi.real"},
	}))

	require.Equal(t, []string{"vi"}, r.Groups["editor"])
	target, err := os.Readlink(filepath.Join(root, "usr", "bin", "editor"))
	require.NoError(t, err)
	require.Equal(t, "vi.real", target)
	require.NotEmpty(t, events)
}

func TestSwitchMovesHeadAndRelinks(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0755))

	r := New(root)
	require.NoError(t, r.Register("vi", map[string][]string{
		"editor": {"/usr/bin/editor:/usr/bin/vi.real"},
	}))
	require.NoError(t, r.Register("nano", map[string][]string{
		"editor": {"/usr/bin/editor:/usr/bin/nano.real"},
	}))
	require.Equal(t, []string{"vi", "nano"}, r.Groups["editor"])

	require.NoError(t, r.Switch("editor", "nano"))
	require.Equal(t, []string{"nano", "vi"}, r.Groups["editor"])

	target, err := os.Readlink(filepath.Join(root, "usr", "bin", "editor"))
	require.NoError(t, err)
	require.Equal(t, "nano.real", target)
}

func TestUnregisterPromotesNextHeadForMetaPackage(t *testing.T) {
	root := t.TempDir()
	r := New(root)
	require.NoError(t, r.Register("vi", map[string][]string{
		"editor": {"/usr/bin/editor:/usr/bin/vi.real"},
	}))
	require.NoError(t, r.Register("nano", map[string][]string{
		"editor": {"/usr/bin/editor:/usr/bin/nano.real"},
	}))

	require.NoError(t, r.Unregister("vi", false, false))
	require.Equal(t, []string{"nano"}, r.Groups["editor"])

	target, err := os.Readlink(filepath.Join(root, "usr", "bin", "editor"))
	require.NoError(t, err)
	require.Equal(t, "nano.real", target)
}

func TestUnregisterRemovesRelativeLink(t *testing.T) {
	// A relative LINK lives in TARGET's parent directory; unregister
	// must remove it from there, not from the rootdir.
	root := t.TempDir()
	r := New(root)
	require.NoError(t, r.Register("vi", map[string][]string{
		"editor": {"editor:/usr/bin/vi.real"},
	}))

	linkPath := filepath.Join(root, "usr", "bin", "editor")
	target, err := os.Readlink(linkPath)
	require.NoError(t, err)
	require.Equal(t, "vi.real", target)

	require.NoError(t, r.Unregister("vi", false, false))
	_, err = os.Lstat(linkPath)
	require.True(t, os.IsNotExist(err))
}

func TestUnregisterDeletesEmptyGroup(t *testing.T) {
	root := t.TempDir()
	r := New(root)
	require.NoError(t, r.Register("vi", map[string][]string{
		"editor": {"/usr/bin/editor:/usr/bin/vi.real"},
	}))
	require.NoError(t, r.Unregister("vi", false, false))
	_, ok := r.Groups["editor"]
	require.False(t, ok)
}
