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

// Package integrity implements the installed-file checker: for every
// entry recorded in a package's files manifest, verify it still
// matches what was recorded at install time.
package integrity

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path/filepath"

	"github.com/kraklabs/dulge/pkg/manifest"
	"github.com/kraklabs/dulge/pkg/workerpool"
)

// Diagnostic is one finding against a single manifest entry.
type Diagnostic struct {
	Path  string
	Kind  string // "missing-file", "hash-mismatch", "broken-symlink", "target-mismatch"
	Fatal bool
}

// Report is the pass/fail summary for one installed package.
type Report struct {
	Pkgname     string
	OK          bool
	Diagnostics []Diagnostic
}

// NoExtractFunc reports whether path matches a noextract pattern;
// such entries are skipped entirely.
type NoExtractFunc func(path string) bool

// Check walks m's entries under rootdir and produces a Report for
// pkgname. noExtract may be nil.
func Check(rootdir, pkgname string, m *manifest.Manifest, noExtract NoExtractFunc) Report {
	r := Report{Pkgname: pkgname, OK: true}

	for _, f := range m.Files {
		if noExtract != nil && noExtract(f.Path) {
			continue
		}
		full := filepath.Join(rootdir, f.Path)
		sum, err := sha256File(full)
		if err != nil {
			if os.IsNotExist(err) {
				r.addFatal(Diagnostic{Path: f.Path, Kind: "missing-file", Fatal: true})
			}
			continue
		}
		if sum != f.SHA256 && !f.Mutable {
			r.addFatal(Diagnostic{Path: f.Path, Kind: "hash-mismatch", Fatal: true})
		}
	}

	for _, cf := range m.ConfFiles {
		full := filepath.Join(rootdir, cf.Path)
		if _, err := os.Stat(full); err != nil {
			r.addFatal(Diagnostic{Path: cf.Path, Kind: "missing-file", Fatal: true})
		}
	}

	for _, l := range m.Links {
		full := filepath.Join(rootdir, l.Path)
		target, err := os.Readlink(full)
		if err != nil {
			r.addFatal(Diagnostic{Path: l.Path, Kind: "broken-symlink", Fatal: true})
			continue
		}
		if target != l.Target {
			r.Diagnostics = append(r.Diagnostics, Diagnostic{Path: l.Path, Kind: "target-mismatch", Fatal: false})
		}
	}

	return r
}

// Target is one package queued for a whole-database check.
type Target struct {
	Pkgname  string
	Manifest *manifest.Manifest
}

// CheckAll runs Check across every target concurrently. Hashing whole
// installed trees is I/O and CPU bound, so the scan fans out over the
// read-only worker pool; each worker writes only its own report slot.
func CheckAll(rootdir string, targets []Target, noExtract NoExtractFunc) []Report {
	reports := make([]Report, len(targets))
	workerpool.ForEach(targets, func(i int, tgt Target) int {
		reports[i] = Check(rootdir, tgt.Pkgname, tgt.Manifest, noExtract)
		return 0
	})
	return reports
}

func (r *Report) addFatal(d Diagnostic) {
	r.Diagnostics = append(r.Diagnostics, d)
	r.OK = false
}

func sha256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
