// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pkgdb

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dulge/pkg/descriptor"
)

func mkDesc(pkgname, pkgver string, runDepends []string) *descriptor.Descriptor {
	d := descriptor.NewEmpty()
	d.SetPkgname(pkgname)
	d.SetPkgver(pkgver)
	d.SetRunDepends(runDepends)
	return d
}

func TestLoadCreatesEmptyDatabase(t *testing.T) {
	metadir := filepath.Join(t.TempDir(), "db")
	db, err := Load(context.Background(), metadir, nil)
	require.NoError(t, err)
	defer db.Close()

	require.Equal(t, 0, db.Len())
	_, err = os.Stat(metadir)
	require.NoError(t, err)
}

func TestUpdateFlushIsIdempotent(t *testing.T) {
	metadir := filepath.Join(t.TempDir(), "db")
	db, err := Load(context.Background(), metadir, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put("foo", mkDesc("foo", "foo-1.0_1", nil)))
	require.NoError(t, db.Update(true))

	path := filepath.Join(metadir, "pkgdb-"+FormatVersion+".plist")
	info1, err := os.Stat(path)
	require.NoError(t, err)

	require.NoError(t, db.Update(true))
	info2, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, info1.ModTime(), info2.ModTime())
}

func TestReverseDeps(t *testing.T) {
	metadir := filepath.Join(t.TempDir(), "db")
	db, err := Load(context.Background(), metadir, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put("foo", mkDesc("foo", "foo-1.0_1", nil)))
	require.NoError(t, db.Put("bar", mkDesc("bar", "bar-1.0_1", []string{"foo>=1.0"})))

	require.Equal(t, []string{"bar"}, db.ReverseDeps("foo"))
}

func TestFullDepTree(t *testing.T) {
	metadir := filepath.Join(t.TempDir(), "db")
	db, err := Load(context.Background(), metadir, nil)
	require.NoError(t, err)
	defer db.Close()

	require.NoError(t, db.Put("foo", mkDesc("foo", "foo-1.0_1", nil)))
	require.NoError(t, db.Put("bar", mkDesc("bar", "bar-1.0_1", []string{"foo>=1.0"})))

	tree, err := db.FullDepTree("bar")
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0_1"}, tree)
}

func TestAlternativesGroupsRoundTripAndStayInvisible(t *testing.T) {
	metadir := filepath.Join(t.TempDir(), "db")
	db, err := Load(context.Background(), metadir, nil)
	require.NoError(t, err)

	require.NoError(t, db.Put("vi", mkDesc("vi", "vi-9.0_1", nil)))
	require.NoError(t, db.SetAlternativesGroups(map[string][]string{
		"editor": {"nano", "vi"},
	}))

	// The reserved submap is not a package.
	require.Equal(t, 1, db.Len())
	_, ok := db.Get("_DULGE_ALTERNATIVES_")
	require.False(t, ok)
	var seen []string
	_ = db.ForEach(func(pkgname string, d *descriptor.Descriptor) error {
		seen = append(seen, pkgname)
		return nil
	})
	require.Equal(t, []string{"vi"}, seen)

	require.NoError(t, db.Update(true))
	require.NoError(t, db.Close())

	reopened, err := Load(context.Background(), metadir, nil)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, map[string][]string{"editor": {"nano", "vi"}}, reopened.AlternativesGroups())
}

func TestLockExclusionBetweenLoads(t *testing.T) {
	metadir := filepath.Join(t.TempDir(), "db")
	first, err := Load(context.Background(), metadir, nil)
	require.NoError(t, err)
	defer first.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 0)
	defer cancel()
	_, err = Load(ctx, metadir, nil)
	require.Error(t, err)
}
