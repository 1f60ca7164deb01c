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

// Package alternatives implements the symlink-group arbiter: a
// registry of group-name to ordered provider list, whose head
// is materialized as the live symlinks under rootdir.
package alternatives

import (
	"os"
	"path/filepath"
	"strings"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
)

// Event is emitted for every registry or filesystem change, in the
// order it occurs.
type Event struct {
	Kind    string // "group-added", "group-switched", "link-created", "link-removed"
	Group   string
	Pkgname string
	Link    string
}

// EmitFunc receives arbiter events as they occur; may be nil.
type EmitFunc func(Event)

// Registry is the in-memory group -> ordered pkgname list, mutated by
// Register/Unregister/Switch. It is loaded from the installed-package
// database's reserved _DULGE_ALTERNATIVES_ submap via LoadGroups and
// written back from Snapshot; it does not alias that submap.
type Registry struct {
	Rootdir string
	Groups  map[string][]string // group -> ordered pkgnames, head first
	// Links maps "group|pkgname" -> ["LINK:TARGET", ...] as advertised
	// by each package's descriptor.
	Links map[string][]string
	Emit  EmitFunc
}

// New returns an empty registry rooted at rootdir.
func New(rootdir string) *Registry {
	return &Registry{
		Rootdir: rootdir,
		Groups:  make(map[string][]string),
		Links:   make(map[string][]string),
	}
}

func (r *Registry) emit(e Event) {
	if r.Emit != nil {
		r.Emit(e)
	}
}

func linkKey(group, pkgname string) string { return group + "|" + pkgname }

// LoadGroups replaces the registry's group order with a persisted
// snapshot (the database's reserved alternatives submap). No symlinks
// are touched; the on-disk links are assumed to already reflect each
// group's head.
func (r *Registry) LoadGroups(groups map[string][]string) {
	r.Groups = make(map[string][]string, len(groups))
	for group, seq := range groups {
		r.Groups[group] = append([]string{}, seq...)
	}
}

// AddLinks records the LINK:TARGET specs pkgname advertises and
// appends pkgname to each group it is not yet a member of, without
// materializing anything. Used to hydrate a registry from installed
// descriptors at handle open.
func (r *Registry) AddLinks(pkgname string, groups map[string][]string) {
	for group, links := range groups {
		r.Links[linkKey(group, pkgname)] = links
		if !contains(r.Groups[group], pkgname) {
			r.Groups[group] = append(r.Groups[group], pkgname)
		}
	}
}

// Snapshot returns a copy of the current group order, for persisting
// back into the database's reserved submap.
func (r *Registry) Snapshot() map[string][]string {
	out := make(map[string][]string, len(r.Groups))
	for group, seq := range r.Groups {
		out[group] = append([]string{}, seq...)
	}
	return out
}

// Register applies the register-event rules for pkgname
// advertising the given group -> links mapping.
func (r *Registry) Register(pkgname string, groups map[string][]string) error {
	for group, links := range groups {
		r.Links[linkKey(group, pkgname)] = links
		seq, exists := r.Groups[group]

		switch {
		case !exists:
			r.Groups[group] = []string{pkgname}
			if err := r.materialize(group, pkgname); err != nil {
				return err
			}

		case seq[0] == pkgname:
			if err := r.materialize(group, pkgname); err != nil {
				return err
			}

		case !contains(seq, pkgname):
			r.Groups[group] = append(seq, pkgname)
			r.emit(Event{Kind: "group-added", Group: group, Pkgname: pkgname})

		default:
			// already listed, not head: no symlink change on plain
			// register; only an explicit Switch re-materializes.
		}
	}
	return nil
}

// Unregister applies the unregister-event rules for a
// package being removed. isUpdate indicates the removal is really a
// reinstall/update of the same package (it stays listed).
// hadRundepsOrShlibs indicates whether the removed package declared
// any run_depends or shlib-requires (a "pure meta" package has
// neither, and promotes the new head rather than the newest entry).
func (r *Registry) Unregister(pkgname string, isUpdate, hadRundepsOrShlibs bool) error {
	for group, seq := range r.Groups {
		idx := indexOf(seq, pkgname)
		if idx < 0 {
			continue
		}

		wasHead := idx == 0
		if wasHead {
			if err := r.removeLinks(group, pkgname); err != nil {
				return err
			}
		}

		if isUpdate {
			continue
		}

		seq = append(append([]string{}, seq[:idx]...), seq[idx+1:]...)
		delete(r.Links, linkKey(group, pkgname))

		if len(seq) == 0 {
			delete(r.Groups, group)
			continue
		}
		r.Groups[group] = seq

		if !wasHead {
			continue
		}

		var promote string
		if !hadRundepsOrShlibs {
			promote = seq[0]
		} else {
			promote = seq[len(seq)-1]
			seq = append([]string{promote}, seq[:len(seq)-1]...)
			r.Groups[group] = seq
		}
		if err := r.materialize(group, promote); err != nil {
			return err
		}
	}
	return nil
}

// Switch moves pkgname to the head of group, re-materializing its
// links and removing the previous head's links. pkgname must already
// be a member of group.
func (r *Registry) Switch(group, pkgname string) error {
	seq, ok := r.Groups[group]
	if !ok {
		return dulgeerrors.New(dulgeerrors.KindNotFound, pkgname, "no such alternatives group: "+group)
	}
	idx := indexOf(seq, pkgname)
	if idx < 0 {
		return dulgeerrors.New(dulgeerrors.KindNotFound, pkgname, "not a member of group "+group)
	}
	if idx == 0 {
		return nil
	}

	prevHead := seq[0]
	if err := r.removeLinks(group, prevHead); err != nil {
		return err
	}

	newSeq := append([]string{pkgname}, append(append([]string{}, seq[:idx]...), seq[idx+1:]...)...)
	r.Groups[group] = newSeq

	if err := r.materialize(group, pkgname); err != nil {
		return err
	}
	r.emit(Event{Kind: "group-switched", Group: group, Pkgname: pkgname})
	return nil
}

// materialize creates the symlinks pkgname advertises for group.
func (r *Registry) materialize(group, pkgname string) error {
	for _, spec := range r.Links[linkKey(group, pkgname)] {
		link, target, ok := splitLinkTarget(spec)
		if !ok {
			continue
		}
		if err := r.createLink(link, target); err != nil {
			return err
		}
		r.emit(Event{Kind: "link-created", Group: group, Pkgname: pkgname, Link: link})
	}
	return nil
}

func (r *Registry) removeLinks(group, pkgname string) error {
	for _, spec := range r.Links[linkKey(group, pkgname)] {
		link, target, ok := splitLinkTarget(spec)
		if !ok {
			continue
		}
		// A relative LINK lives in TARGET's directory, so removal must
		// resolve against the same target createLink placed it by.
		linkPath := r.resolveLink(link, target)
		if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
			return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, pkgname, "remove link "+linkPath, err)
		}
		r.emit(Event{Kind: "link-removed", Group: group, Pkgname: pkgname, Link: link})
	}
	return nil
}

func splitLinkTarget(spec string) (link, target string, ok bool) {
	parts := strings.SplitN(spec, ":", 2)
	if len(parts) != 2 {
		return "", "", false
	}
	return parts[0], parts[1], true
}

// resolveLink computes the absolute on-disk path for LINK: relative
// LINK lives in TARGET's parent directory, absolute LINK lives under
// rootdir.
func (r *Registry) resolveLink(link, target string) string {
	if filepath.IsAbs(link) {
		return filepath.Join(r.Rootdir, link)
	}
	return filepath.Join(r.Rootdir, filepath.Dir(target), link)
}

// createLink creates LINK -> TARGET, rewriting an absolute TARGET to a
// path relative to LINK's directory, creating parent directories as
// needed and unlinking any pre-existing LINK first.
func (r *Registry) createLink(link, target string) error {
	linkPath := r.resolveLink(link, target)

	relTarget := target
	if filepath.IsAbs(target) {
		absTarget := filepath.Join(r.Rootdir, target)
		rel, err := filepath.Rel(filepath.Dir(linkPath), absTarget)
		if err == nil {
			relTarget = rel
		}
	}

	if err := os.MkdirAll(filepath.Dir(linkPath), 0755); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "create parent dir for "+linkPath, err)
	}
	if err := os.Remove(linkPath); err != nil && !os.IsNotExist(err) {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "unlink "+linkPath, err)
	}
	if err := os.Symlink(relTarget, linkPath); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "symlink "+linkPath, err)
	}
	return nil
}

func contains(seq []string, name string) bool { return indexOf(seq, name) >= 0 }

func indexOf(seq []string, name string) int {
	for i, s := range seq {
		if s == name {
			return i
		}
	}
	return -1
}
