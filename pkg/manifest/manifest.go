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

// Package manifest is the per-package files artifact persisted under
// "metadir/.<pkgname>-files.plist": regular files with their sha256
// and a mutable flag, configuration files with their sha256,
// symlinks with their target, and plain directories.
package manifest

import "github.com/kraklabs/dulge/pkg/proptree"

// FileEntry is one entry in the "files" list: a regular, hash-tracked
// file. Mutable files are allowed to diverge from their recorded hash
// without the integrity checker flagging them.
type FileEntry struct {
	Path    string
	SHA256  string
	Mutable bool
}

// ConfFileEntry is one entry in the "conf_files" list.
type ConfFileEntry struct {
	Path   string
	SHA256 string
}

// LinkEntry is one entry in the "links" list.
type LinkEntry struct {
	Path   string
	Target string
}

// Manifest is the decoded form of a files.plist.
type Manifest struct {
	Files     []FileEntry
	ConfFiles []ConfFileEntry
	Links     []LinkEntry
	Dirs      []string
}

// New returns an empty manifest.
func New() *Manifest { return &Manifest{} }

// ToValue renders m as a proptree mapping in the on-disk
// files.plist shape.
func (m *Manifest) ToValue() *proptree.Value {
	root := proptree.NewMap()

	files := proptree.NewSeq()
	for _, f := range m.Files {
		e := proptree.NewMap()
		_ = e.Set("file", proptree.NewString(f.Path))
		_ = e.Set("sha256", proptree.NewString(f.SHA256))
		_ = e.Set("mutable", proptree.NewBool(f.Mutable))
		_ = files.Append(e)
	}
	_ = root.Set("files", files)

	confFiles := proptree.NewSeq()
	for _, f := range m.ConfFiles {
		e := proptree.NewMap()
		_ = e.Set("file", proptree.NewString(f.Path))
		_ = e.Set("sha256", proptree.NewString(f.SHA256))
		_ = confFiles.Append(e)
	}
	_ = root.Set("conf_files", confFiles)

	links := proptree.NewSeq()
	for _, l := range m.Links {
		e := proptree.NewMap()
		_ = e.Set("file", proptree.NewString(l.Path))
		_ = e.Set("target", proptree.NewString(l.Target))
		_ = links.Append(e)
	}
	_ = root.Set("links", links)

	dirs := proptree.NewSeq()
	for _, d := range m.Dirs {
		_ = dirs.Append(proptree.NewString(d))
	}
	_ = root.Set("dirs", dirs)

	return root
}

// FromValue decodes a files.plist mapping into a Manifest.
func FromValue(v *proptree.Value) *Manifest {
	m := New()
	if v == nil || v.Kind() != proptree.KindMap {
		return m
	}
	if files, ok := v.Get("files"); ok {
		for _, e := range files.Seq() {
			m.Files = append(m.Files, FileEntry{
				Path:    e.GetString("file"),
				SHA256:  e.GetString("sha256"),
				Mutable: e.GetBool("mutable"),
			})
		}
	}
	if confFiles, ok := v.Get("conf_files"); ok {
		for _, e := range confFiles.Seq() {
			m.ConfFiles = append(m.ConfFiles, ConfFileEntry{
				Path:   e.GetString("file"),
				SHA256: e.GetString("sha256"),
			})
		}
	}
	if links, ok := v.Get("links"); ok {
		for _, e := range links.Seq() {
			m.Links = append(m.Links, LinkEntry{
				Path:   e.GetString("file"),
				Target: e.GetString("target"),
			})
		}
	}
	if dirs, ok := v.Get("dirs"); ok {
		for _, e := range dirs.Seq() {
			m.Dirs = append(m.Dirs, e.String())
		}
	}
	return m
}
