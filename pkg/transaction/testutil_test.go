// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package transaction

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/pkgdb"
	"github.com/kraklabs/dulge/pkg/proptree"
	"github.com/kraklabs/dulge/pkg/repopool"
)

type fixturePkg struct {
	pkgname, pkgver string
	runDepends      []string
	provides        []string
	shlibProvides   []string
	shlibRequires   []string
	replaces        []string
	conflicts       []string
	installedSize   uint64
}

func buildPool(t *testing.T, pkgs []fixturePkg) *repopool.Pool {
	t.Helper()
	repoDir := t.TempDir()

	index := proptree.NewMap()
	for _, fp := range pkgs {
		d := descriptor.NewEmpty()
		d.SetPkgname(fp.pkgname)
		d.SetPkgver(fp.pkgver)
		d.SetRunDepends(fp.runDepends)
		d.SetProvides(fp.provides)
		d.SetShlibProvides(fp.shlibProvides)
		d.SetShlibRequires(fp.shlibRequires)
		d.SetReplaces(fp.replaces)
		d.SetConflicts(fp.conflicts)
		d.SetInstalledSize(fp.installedSize)
		require.NoError(t, index.Set(fp.pkgname, d.Raw()))
	}

	archivePath := filepath.Join(repoDir, "x86_64-repodata")
	require.NoError(t, os.MkdirAll(repoDir, 0755))
	f, err := os.Create(archivePath)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	writeMember := func(name string, v *proptree.Value) {
		data, err := proptree.Externalize(v)
		require.NoError(t, err)
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(data))}))
		_, err = tw.Write([]byte(data))
		require.NoError(t, err)
	}
	writeMember("index.plist", index)
	writeMember("index-meta.plist", proptree.NewMap())
	writeMember("stage.plist", proptree.NewMap())
	require.NoError(t, tw.Close())

	p := repopool.New(t.TempDir(), "x86_64")
	p.Store(repoDir)
	return p
}

func buildDB(t *testing.T) *pkgdb.DB {
	t.Helper()
	db, err := pkgdb.Load(context.Background(), filepath.Join(t.TempDir(), "db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func installDesc(t *testing.T, db *pkgdb.DB, fp fixturePkg, automatic bool) {
	t.Helper()
	d := descriptor.NewEmpty()
	d.SetPkgname(fp.pkgname)
	d.SetPkgver(fp.pkgver)
	d.SetRunDepends(fp.runDepends)
	d.SetProvides(fp.provides)
	d.SetShlibProvides(fp.shlibProvides)
	d.SetShlibRequires(fp.shlibRequires)
	d.SetAutomaticInstall(automatic)
	require.NoError(t, db.Put(fp.pkgname, d))
}
