// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package repopool

import (
	"archive/tar"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dulge/pkg/proptree"
)

func writeTar(t *testing.T, path string, members map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	tw := tar.NewWriter(f)
	for name, content := range members {
		require.NoError(t, tw.WriteHeader(&tar.Header{Name: name, Mode: 0644, Size: int64(len(content))}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
}

func externalize(t *testing.T, v *proptree.Value) string {
	t.Helper()
	s, err := proptree.Externalize(v)
	require.NoError(t, err)
	return s
}

func TestOpenLocalRepoMergesStage(t *testing.T) {
	repoDir := t.TempDir()

	index := proptree.NewMap()
	foo := proptree.NewMap()
	_ = foo.Set("pkgname", proptree.NewString("foo"))
	_ = foo.Set("pkgver", proptree.NewString("foo-1.0_1"))
	_ = index.Set("foo", foo)

	stage := proptree.NewMap()
	bar := proptree.NewMap()
	_ = bar.Set("pkgname", proptree.NewString("bar"))
	_ = bar.Set("pkgver", proptree.NewString("bar-2.0_1"))
	_ = stage.Set("bar", bar)

	writeTar(t, filepath.Join(repoDir, "x86_64-repodata"), map[string]string{
		"index.plist":      externalize(t, index),
		"index-meta.plist": externalize(t, proptree.NewMap()),
		"stage.plist":      externalize(t, stage),
	})

	p := New(t.TempDir(), "x86_64")
	r, err := p.open(context.Background(), repoDir)
	require.NoError(t, err)

	d, ok := r.Find("foo")
	require.True(t, ok)
	require.Equal(t, repoDir, d.Repository())
	_, ok = r.Find("bar")
	require.True(t, ok)
	require.True(t, r.Index.IsImmutable())
}

func TestStoreDedupesAndPreservesOrder(t *testing.T) {
	p := New(t.TempDir(), "x86_64")
	p.Store("https://repo.example/current/")
	p.Store("https://repo.example/extra")
	p.Store("https://repo.example/current")

	require.Equal(t, []string{"https://repo.example/current", "https://repo.example/extra"}, p.urls)
}
