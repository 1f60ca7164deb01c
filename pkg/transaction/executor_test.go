// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package transaction

import (
	"archive/tar"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/fetcher"
	"github.com/kraklabs/dulge/pkg/manifest"
	"github.com/kraklabs/dulge/pkg/proptree"
)

// buildPkgArchive produces an uncompressed tar payload containing a
// files.plist describing one regular file plus the file itself,
// mirroring the layout the unpack phase expects from a real binary
// package.
func buildPkgArchive(t *testing.T, fileContent string) []byte {
	t.Helper()
	m := manifest.New()
	m.Files = append(m.Files, manifest.FileEntry{Path: "usr/bin/foo", SHA256: sha256Hex(fileContent)})

	plist, err := proptree.Externalize(m.ToValue())
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	write := func(name string, content string) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	write("files.plist", plist)
	write("usr/bin/foo", fileContent)
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func sha256Hex(s string) string {
	sum := sha256.Sum256([]byte(s))
	return hex.EncodeToString(sum[:])
}

func TestExecutorExecuteInstallsFromCachedArchive(t *testing.T) {
	rootdir := t.TempDir()
	cachedir := t.TempDir()

	archiveData := buildPkgArchive(t, "#!/bin/sh\necho foo\n")
	sum := sha256.Sum256(archiveData)
	archiveSHA := hex.EncodeToString(sum[:])

	d := descriptor.NewEmpty()
	d.SetPkgname("foo")
	d.SetPkgver("foo-1.0_1")
	d.SetArchitecture("x86_64")
	d.SetFilenameSHA256(archiveSHA)

	cachePath := filepath.Join(cachedir, "foo-1.0_1.x86_64.dulge")
	require.NoError(t, os.WriteFile(cachePath, archiveData, 0644))

	db := buildDB(t)
	tx := New()
	tx.upsert(&Package{Pkgname: "foo", Pkgver: "foo-1.0_1", Type: descriptor.TxInstall, Descriptor: d}, false)
	tx.recomputeCounters()

	var events []string
	e := &Executor{
		Ctx:      context.Background(),
		Pool:     buildPool(t, nil),
		DB:       db,
		Rootdir:  rootdir,
		Cachedir: cachedir,
		State:    func(ev StateEvent) { events = append(events, ev.Event) },
	}
	require.NoError(t, e.Execute(tx))

	installedContent, err := os.ReadFile(filepath.Join(rootdir, "usr/bin/foo"))
	require.NoError(t, err)
	require.Equal(t, "#!/bin/sh\necho foo\n", string(installedContent))

	installed, ok := db.Get("foo")
	require.True(t, ok)
	require.Equal(t, descriptor.StateInstalled, installed.State())

	require.Contains(t, events, "verified")
	require.Contains(t, events, "unpacked")
	require.Contains(t, events, "installed")
}

func TestExecutorUnpackSavesAsideConfFileManagedElsewhere(t *testing.T) {
	// Fresh install (no old manifest) of a conf file whose destination
	// is already occupied by a foreign regular file: the existing file
	// must survive and the incoming content goes to ".new-<pkgver>".
	rootdir := t.TempDir()
	cachedir := t.TempDir()

	m := manifest.New()
	m.ConfFiles = append(m.ConfFiles, manifest.ConfFileEntry{Path: "etc/foo.conf", SHA256: sha256Hex("shipped-default")})
	plist, err := proptree.Externalize(m.ToValue())
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	writeMember := func(name, content string) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	writeMember("files.plist", plist)
	writeMember("etc/foo.conf", "shipped-default")
	require.NoError(t, tw.Close())
	archiveData := buf.Bytes()
	sum := sha256.Sum256(archiveData)

	d := descriptor.NewEmpty()
	d.SetPkgname("foo")
	d.SetPkgver("foo-1.0_1")
	d.SetArchitecture("x86_64")
	d.SetFilenameSHA256(hex.EncodeToString(sum[:]))

	require.NoError(t, os.WriteFile(filepath.Join(cachedir, "foo-1.0_1.x86_64.dulge"), archiveData, 0644))

	require.NoError(t, os.MkdirAll(filepath.Join(rootdir, "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rootdir, "etc/foo.conf"), []byte("hand-written"), 0644))

	db := buildDB(t)
	tx := New()
	tx.upsert(&Package{Pkgname: "foo", Pkgver: "foo-1.0_1", Type: descriptor.TxInstall, Descriptor: d}, false)
	tx.recomputeCounters()

	e := &Executor{
		Ctx:      context.Background(),
		Pool:     buildPool(t, nil),
		DB:       db,
		Rootdir:  rootdir,
		Cachedir: cachedir,
	}
	require.NoError(t, e.Execute(tx))

	content, err := os.ReadFile(filepath.Join(rootdir, "etc/foo.conf"))
	require.NoError(t, err)
	require.Equal(t, "hand-written", string(content))

	aside, err := os.ReadFile(filepath.Join(rootdir, "etc/foo.conf.new-foo-1.0_1"))
	require.NoError(t, err)
	require.Equal(t, "shipped-default", string(aside))
}

func TestExecutorRemovePhaseDeletesFilesAndDatabaseEntry(t *testing.T) {
	rootdir := t.TempDir()

	require.NoError(t, os.MkdirAll(filepath.Join(rootdir, "usr/bin"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rootdir, "usr/bin/foo"), []byte("x"), 0755))

	m := manifest.New()
	m.Files = append(m.Files, manifest.FileEntry{Path: "usr/bin/foo", SHA256: sha256Hex("x")})
	m.Dirs = append(m.Dirs, "usr", "usr/bin")
	require.NoError(t, saveManifest(rootdir, "foo", m))

	db := buildDB(t)
	installDesc(t, db, fixturePkg{pkgname: "foo", pkgver: "foo-1.0_1"}, false)

	tx := New()
	tx.upsert(&Package{Pkgname: "foo", Type: descriptor.TxRemove}, false)
	tx.recomputeCounters()

	var events []string
	e := &Executor{
		Ctx:     context.Background(),
		Pool:    buildPool(t, nil),
		DB:      db,
		Rootdir: rootdir,
		State:   func(ev StateEvent) { events = append(events, ev.Event) },
	}
	require.NoError(t, e.Execute(tx))

	_, err := os.Stat(filepath.Join(rootdir, "usr/bin/foo"))
	require.True(t, os.IsNotExist(err))
	_, err = os.Stat(manifestPath(rootdir, "foo"))
	require.True(t, os.IsNotExist(err))
	_, ok := db.Get("foo")
	require.False(t, ok)
	require.Contains(t, events, "removed")
}

func TestExecutorUnpackKeepsModifiedConfFile(t *testing.T) {
	rootdir := t.TempDir()
	cachedir := t.TempDir()

	m := manifest.New()
	m.ConfFiles = append(m.ConfFiles, manifest.ConfFileEntry{Path: "etc/foo.conf", SHA256: sha256Hex("new-default")})
	plist, err := proptree.Externalize(m.ToValue())
	require.NoError(t, err)

	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	writeMember := func(name, content string) {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	writeMember("files.plist", plist)
	writeMember("etc/foo.conf", "new-default")
	require.NoError(t, tw.Close())
	archiveData := buf.Bytes()
	sum := sha256.Sum256(archiveData)
	archiveSHA := hex.EncodeToString(sum[:])

	d := descriptor.NewEmpty()
	d.SetPkgname("foo")
	d.SetPkgver("foo-2.0_1")
	d.SetArchitecture("x86_64")
	d.SetFilenameSHA256(archiveSHA)

	cachePath := filepath.Join(cachedir, "foo-2.0_1.x86_64.dulge")
	require.NoError(t, os.WriteFile(cachePath, archiveData, 0644))

	// Seed the rootdir with a user-edited conf file and the old
	// manifest recording the original (pre-edit) shipped hash.
	require.NoError(t, os.MkdirAll(filepath.Join(rootdir, "etc"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(rootdir, "etc/foo.conf"), []byte("user-edited"), 0644))

	oldManifest := manifest.New()
	oldManifest.ConfFiles = append(oldManifest.ConfFiles, manifest.ConfFileEntry{Path: "etc/foo.conf", SHA256: sha256Hex("old-default")})
	require.NoError(t, saveManifest(rootdir, "foo", oldManifest))

	db := buildDB(t)
	installDesc(t, db, fixturePkg{pkgname: "foo", pkgver: "foo-1.0_1"}, false)

	tx := New()
	tx.upsert(&Package{Pkgname: "foo", Pkgver: "foo-2.0_1", Type: descriptor.TxUpdate, Descriptor: d}, false)
	tx.recomputeCounters()

	e := &Executor{
		Ctx:      context.Background(),
		Pool:     buildPool(t, nil),
		DB:       db,
		Rootdir:  rootdir,
		Cachedir: cachedir,
		Fetcher:  fetcher.New(),
	}
	require.NoError(t, e.Execute(tx))

	content, err := os.ReadFile(filepath.Join(rootdir, "etc/foo.conf"))
	require.NoError(t, err)
	require.Equal(t, "user-edited", string(content), "a locally modified conf file diverging from both orig and new must be kept")

	_, err = os.Stat(filepath.Join(rootdir, "etc/foo.conf.new-foo-2.0_1"))
	require.NoError(t, err, "the incoming content must be saved aside")
}
