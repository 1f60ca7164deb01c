// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadMergesRootAndFragmentsInOrder(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "dulge.conf")
	require.NoError(t, os.WriteFile(root, []byte(`
rootdir: /
repositories:
  - https://repo.example/current
flags:
  verbose: true
`), 0644))

	confDir := filepath.Join(dir, "dulge.d")
	require.NoError(t, os.Mkdir(confDir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(confDir, "10-extra.conf"), []byte(`
repositories:
  - https://repo.example/extra
ignore_packages:
  - "*-debug"
flags:
  use_stage: true
`), 0644))

	cfg, err := Load(root, confDir)
	require.NoError(t, err)

	require.Equal(t, []string{"https://repo.example/current", "https://repo.example/extra"}, cfg.Repositories)
	require.True(t, cfg.Flags.Verbose)
	require.True(t, cfg.Flags.UseStage)
	require.True(t, cfg.IsIgnored("foo-debug"))
	require.False(t, cfg.IsIgnored("foo"))
}

func TestLoadToleratesMissingFiles(t *testing.T) {
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "absent.conf"), filepath.Join(dir, "absent.d"))
	require.NoError(t, err)
	require.Equal(t, "/", cfg.Rootdir)
	require.NotEmpty(t, cfg.Metadir())
}

func TestRepositoriesDeduped(t *testing.T) {
	dir := t.TempDir()
	root := filepath.Join(dir, "dulge.conf")
	require.NoError(t, os.WriteFile(root, []byte(`
repositories:
  - https://repo.example/current
  - https://repo.example/current
`), 0644))

	cfg, err := Load(root, "")
	require.NoError(t, err)
	require.Equal(t, []string{"https://repo.example/current"}, cfg.Repositories)
}
