// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads and merges the layered confdir configuration:
// a root file plus an ordered confdir of fragments, producing the
// exhaustive option set a Handle needs
// (roots, repositories, ignored patterns, preserved files, virtual
// package preferences, and the recognized flag set).
package config

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
)

// Flags is the exhaustive recognized flag set.
type Flags struct {
	Debug              bool `yaml:"debug,omitempty"`
	Verbose            bool `yaml:"verbose,omitempty"`
	ForceConfigure     bool `yaml:"force_configure,omitempty"`
	ForceRemoveFiles   bool `yaml:"force_remove_files,omitempty"`
	ForceRemoveRevdeps bool `yaml:"force_remove_revdeps,omitempty"`
	IgnoreConfRepos    bool `yaml:"ignore_conf_repos,omitempty"`
	KeepConfig         bool `yaml:"keep_config,omitempty"`
	UseStage           bool `yaml:"use_stage,omitempty"`
	DownloadOnly       bool `yaml:"download_only,omitempty"`
	InstallAuto        bool `yaml:"install_auto,omitempty"`
	ReposMemsync       bool `yaml:"repos_memsync,omitempty"`
	BestMatch          bool `yaml:"bestmatch,omitempty"`
	DisableSyslog      bool `yaml:"disable_syslog,omitempty"`
}

// VirtualPref is one `virtualpkg <vpkgname> = <real-pkgver>` entry.
type VirtualPref struct {
	VirtualPkg string `yaml:"virtualpkg"`
	RealPkgver string `yaml:"real"`
}

// fragment is the on-disk shape of the root config file and every
// confdir fragment; fragments are merged by Load in filename order.
type fragment struct {
	Rootdir       string        `yaml:"rootdir,omitempty"`
	Cachedir      string        `yaml:"cachedir,omitempty"`
	Architecture  string        `yaml:"architecture,omitempty"`
	Repositories  []string      `yaml:"repositories,omitempty"`
	IgnorePkgs    []string      `yaml:"ignore_packages,omitempty"`
	PreserveFiles []string      `yaml:"preserve_files,omitempty"`
	VirtualPkgs   []VirtualPref `yaml:"virtualpkg,omitempty"`
	KeysDir       string        `yaml:"keysdir,omitempty"`
	Flags         Flags         `yaml:"flags,omitempty"`
}

// Config is the merged, read-only configuration a Handle is built
// from. Repository order is preserved in the order fragments were
// merged; later fragments append, they never reorder earlier entries.
type Config struct {
	Rootdir       string
	Cachedir      string
	Architecture  string
	Repositories  []string
	IgnorePkgs    []string
	PreserveFiles []string
	VirtualPkgs   []VirtualPref
	KeysDir       string
	Flags         Flags
}

const (
	defaultConfFile = "dulge.conf"
	defaultConfDir  = "dulge.d"
)

// Load reads rootConfPath (may not exist) and every *.conf fragment
// under confDirPath (may not exist) in lexical filename order, merging
// them into a single Config. Missing files produce zero-value
// fragments rather than an error.
func Load(rootConfPath, confDirPath string) (*Config, error) {
	cfg := &Config{}

	if rootConfPath != "" {
		frag, err := readFragment(rootConfPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, err
		}
		if frag != nil {
			cfg.merge(frag)
		}
	}

	if confDirPath != "" {
		entries, err := os.ReadDir(confDirPath)
		if err != nil && !os.IsNotExist(err) {
			return nil, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "read confdir "+confDirPath, err)
		}
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() || !strings.HasSuffix(e.Name(), ".conf") {
				continue
			}
			names = append(names, e.Name())
		}
		sort.Strings(names)
		for _, name := range names {
			frag, err := readFragment(filepath.Join(confDirPath, name))
			if err != nil {
				return nil, err
			}
			cfg.merge(frag)
		}
	}

	cfg.applyDefaults()
	return cfg, nil
}

func readFragment(path string) (*fragment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var frag fragment
	if err := yaml.Unmarshal(data, &frag); err != nil {
		return nil, dulgeerrors.Wrap(dulgeerrors.KindInvalidArgument, "", "parse config "+path, err)
	}
	return &frag, nil
}

func (c *Config) merge(frag *fragment) {
	if frag.Rootdir != "" {
		c.Rootdir = frag.Rootdir
	}
	if frag.Cachedir != "" {
		c.Cachedir = frag.Cachedir
	}
	if frag.Architecture != "" {
		c.Architecture = frag.Architecture
	}
	if frag.KeysDir != "" {
		c.KeysDir = frag.KeysDir
	}
	c.Repositories = appendUnique(c.Repositories, frag.Repositories...)
	c.IgnorePkgs = append(c.IgnorePkgs, frag.IgnorePkgs...)
	c.PreserveFiles = append(c.PreserveFiles, frag.PreserveFiles...)
	c.VirtualPkgs = append(c.VirtualPkgs, frag.VirtualPkgs...)

	c.Flags.Debug = c.Flags.Debug || frag.Flags.Debug
	c.Flags.Verbose = c.Flags.Verbose || frag.Flags.Verbose
	c.Flags.ForceConfigure = c.Flags.ForceConfigure || frag.Flags.ForceConfigure
	c.Flags.ForceRemoveFiles = c.Flags.ForceRemoveFiles || frag.Flags.ForceRemoveFiles
	c.Flags.ForceRemoveRevdeps = c.Flags.ForceRemoveRevdeps || frag.Flags.ForceRemoveRevdeps
	c.Flags.IgnoreConfRepos = c.Flags.IgnoreConfRepos || frag.Flags.IgnoreConfRepos
	c.Flags.KeepConfig = c.Flags.KeepConfig || frag.Flags.KeepConfig
	c.Flags.UseStage = c.Flags.UseStage || frag.Flags.UseStage
	c.Flags.DownloadOnly = c.Flags.DownloadOnly || frag.Flags.DownloadOnly
	c.Flags.InstallAuto = c.Flags.InstallAuto || frag.Flags.InstallAuto
	c.Flags.ReposMemsync = c.Flags.ReposMemsync || frag.Flags.ReposMemsync
	c.Flags.BestMatch = c.Flags.BestMatch || frag.Flags.BestMatch
	c.Flags.DisableSyslog = c.Flags.DisableSyslog || frag.Flags.DisableSyslog
}

func appendUnique(existing []string, add ...string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	for _, a := range add {
		if seen[a] {
			continue
		}
		seen[a] = true
		existing = append(existing, a)
	}
	return existing
}

func (c *Config) applyDefaults() {
	if c.Rootdir == "" {
		c.Rootdir = "/"
	}
	if c.Cachedir == "" {
		c.Cachedir = filepath.Join(c.metadir(), "cache")
	}
	if c.KeysDir == "" {
		c.KeysDir = filepath.Join(c.metadir(), "keys")
	}
}

// Metadir is rootdir/var/db/dulge, the directory all on-disk state
// is rooted under.
func (c *Config) metadir() string {
	return filepath.Join(c.Rootdir, "var", "db", "dulge")
}

// Metadir returns the metadata directory for this configuration.
func (c *Config) Metadir() string { return c.metadir() }

// IsIgnored reports whether pkgname matches any configured ignore
// pattern (shell-glob semantics, matching pkgver.Glob elsewhere in
// this module).
func (c *Config) IsIgnored(pkgname string) bool {
	for _, pat := range c.IgnorePkgs {
		if ok, _ := filepath.Match(pat, pkgname); ok {
			return true
		}
	}
	return false
}

// IsPreserved reports whether path matches any configured
// preserve-file pattern.
func (c *Config) IsPreserved(path string) bool {
	for _, pat := range c.PreserveFiles {
		if ok, _ := filepath.Match(pat, path); ok {
			return true
		}
	}
	return false
}

// DefaultPaths returns the conventional root config file and confdir
// path for rootdir, matching the layout dulge.conf / dulge.d/*.conf.
func DefaultPaths(rootdir string) (confFile, confDir string) {
	return filepath.Join(rootdir, "etc", defaultConfFile), filepath.Join(rootdir, "etc", defaultConfDir)
}
