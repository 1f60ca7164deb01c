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

// Package main implements a thin reference CLI over the dulge handle
// API: a manual smoke-testing driver, not a full interactive package
// manager frontend.
//
// Usage:
//
//	dulge install <pattern>...   Install or update packages
//	dulge update [pattern]       Update one package, or all if omitted
//	dulge remove <pkgname>...    Remove installed packages
//	dulge autoremove             Remove orphaned automatic packages
//	dulge list                   List installed packages
//	dulge search <pattern>       Search the repository pool
//	dulge info <pkgname>         Show a package's descriptor
//	dulge check [pkgname]        Run the integrity checker
//	dulge alternatives           List or switch alternatives groups
package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/internal/ui"
	"github.com/kraklabs/dulge/pkg/config"
	"github.com/kraklabs/dulge/pkg/handle"
	"github.com/kraklabs/dulge/pkg/manifest"
	"github.com/kraklabs/dulge/pkg/proptree"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	var (
		showVersion = flag.BoolP("version", "V", false, "Show version and exit")
		rootdir     = flag.StringP("rootdir", "r", "/", "Installation root directory")
		force       = flag.Bool("force", false, "Force install/update of an already-current package")
		recursive   = flag.Bool("recursive", false, "Also remove orphaned reverse dependencies")
		noColor     = flag.Bool("no-color", false, "Disable color output")
		quiet       = flag.BoolP("quiet", "q", false, "Suppress progress output")
	)
	flag.SetInterspersed(false)
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `dulge - binary package manager

Usage:
  dulge <command> [options] [args]

Commands:
  install <pattern>...   Install or update packages
  update [pattern]       Update one package, or every installed package
  remove <pkgname>...    Remove installed packages
  autoremove             Remove orphaned automatic packages
  list                   List installed packages
  search <pattern>       Search the repository pool
  info <pkgname>         Show a package's descriptor
  check [pkgname]        Run the integrity checker
  alternatives           List alternatives groups, or switch one with
                         "alternatives set <group> <pkgname>"

Options:
  -r, --rootdir   Installation root (default "/")
      --force     Force reinstall of an already-current package
      --recursive Also remove orphaned reverse dependencies on remove
  -q, --quiet     Suppress progress output
      --no-color  Disable color output
  -V, --version   Show version and exit
`)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("dulge version %s (%s)\n", version, commit)
		return
	}
	if *noColor {
		os.Setenv("NO_COLOR", "1")
	}
	ui.InitColors()
	ui.Quiet = *quiet

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := loadConfig(*rootdir)
	if err != nil {
		ui.Fatal(err)
	}

	h, err := handle.Init(context.Background(), cfg, func() {
		ui.Warn("waiting for database lock...")
	})
	if err != nil {
		ui.Fatal(err)
	}
	defer h.End(false)

	cmd, rest := args[0], args[1:]
	var runErr error
	switch cmd {
	case "install":
		runErr = runInstall(h, rest, *force)
	case "update":
		runErr = runUpdate(h, rest, *force)
	case "remove":
		runErr = runRemove(h, rest, *recursive)
	case "autoremove":
		runErr = runAutoremove(h)
	case "list":
		runErr = runList(h)
	case "search":
		runErr = runSearch(h, rest)
	case "info":
		runErr = runInfo(h, rest)
	case "check":
		runErr = runCheck(h, rest)
	case "alternatives":
		runErr = runAlternatives(h, rest)
	default:
		fmt.Fprintf(os.Stderr, "dulge: unknown command %q\n\n", cmd)
		flag.Usage()
		os.Exit(2)
	}
	if runErr != nil {
		ui.Fatal(runErr)
	}
}

func loadConfig(rootdir string) (*config.Config, error) {
	confFile, confDir := config.DefaultPaths(rootdir)
	cfg, err := config.Load(confFile, confDir)
	if err != nil {
		return nil, err
	}
	if cfg.Rootdir == "" {
		cfg.Rootdir = rootdir
	}
	return cfg, nil
}

func manifestFor(rootdir, pkgname string) (*manifest.Manifest, error) {
	path := filepath.Join(rootdir, "var", "db", "dulge", "."+pkgname+"-files.plist")
	v, err := proptree.InternalizeFile(path)
	if err != nil {
		return nil, dulgeerrors.Wrap(dulgeerrors.KindNotFound, pkgname, "read files manifest", err)
	}
	return manifest.FromValue(v), nil
}
