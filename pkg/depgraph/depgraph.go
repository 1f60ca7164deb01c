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

// Package depgraph implements the dependency resolver: a
// deepest-first walk over run_depends that honors the provides rule
// (a pkg's own provides satisfies its own requires without recursing)
// and is safe against cycles.
package depgraph

import (
	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/pkgver"
)

// Source resolves a dependency pattern to a descriptor, against
// whichever scope the caller chose (repository pool or installed
// database).
type Source interface {
	// Find returns the descriptor whose pkgname or provides entry
	// matches pattern, preferring a real package over a virtual
	// provider. ok is false when nothing in scope satisfies pattern.
	Find(pattern string) (d *descriptor.Descriptor, ok bool)
}

type node struct {
	pkgver  string
	visited bool
	emitted bool
}

// Resolve walks root's run_depends and returns pkgvers in
// deepest-first (topological, dependencies-before-dependents) order
// with root itself excluded. A pattern that cannot be satisfied in src
// aborts the walk with a DependencyBroken error naming the pattern.
func Resolve(root *descriptor.Descriptor, src Source) ([]string, error) {
	return resolve(root, src, false)
}

// ResolveLenient is Resolve for local (installed-database) walks: a
// pattern nothing in src satisfies is silently skipped instead of
// aborting, since a runtime dep may be legitimately absent from the
// database being walked.
func ResolveLenient(root *descriptor.Descriptor, src Source) ([]string, error) {
	return resolve(root, src, true)
}

func resolve(root *descriptor.Descriptor, src Source, skipMissing bool) ([]string, error) {
	nodes := make(map[string]*node)
	var order []string

	var walk func(d *descriptor.Descriptor) error
	walk = func(d *descriptor.Descriptor) error {
		name := d.Pkgname()
		provides := nameSet(d.Provides())

		for _, pattern := range d.RunDepends() {
			depName := pkgver.NameOf(pattern)
			if provides[depName] {
				continue
			}

			if n, ok := nodes[depName]; ok {
				if n.visited && !n.emitted {
					continue // cycle: already on the current walk stack
				}
				continue
			}

			dep, ok := src.Find(pattern)
			if !ok {
				if skipMissing {
					continue
				}
				return dulgeerrors.New(dulgeerrors.KindDependencyBroken, name, "no-such-dependency: "+pattern)
			}

			n := &node{pkgver: dep.Pkgver(), visited: true}
			nodes[depName] = n
			if err := walk(dep); err != nil {
				return err
			}
			if !n.emitted {
				order = append(order, n.pkgver)
				n.emitted = true
			}
		}
		return nil
	}

	if err := walk(root); err != nil {
		return nil, err
	}
	return order, nil
}

// nameSet reduces provides entries (full "name-version_revision"
// pkgvers or bare names) to a set of pkgnames.
func nameSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, i := range items {
		m[pkgver.NameOf(i)] = true
	}
	return m
}
