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

// Package transaction implements the builder, validators and executor:
// it turns a caller intent (install, update,
// remove, autoremove) into an ordered package list, validates it
// against the installed database, and drives the install/remove
// state machine.
package transaction

import (
	"github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/descriptor"
)

// Package is one entry in a transaction's package list.
type Package struct {
	Pkgname          string
	Pkgver           string
	Type             descriptor.TxType
	AutomaticInstall bool
	Hold             bool
	Repolock         bool
	Replaced         bool
	Descriptor       *descriptor.Descriptor // candidate descriptor (from pool) for install/update
}

// Counters summarizes the aggregate shape of a prepared transaction:
// per-type action counts plus the aggregate size totals.
type Counters struct {
	Install   int
	Update    int
	Configure int
	Remove    int
	Hold      int
	Download  int

	TotalInstalledSize uint64
	TotalDownloadSize  uint64
	TotalRemovedSize   uint64
	FreeDiskSize       uint64
}

// Transaction is the in-progress (builder) or prepared (post-validate)
// package list plus its aggregate counters.
type Transaction struct {
	Packages []*Package
	Counters Counters

	// ObsoleteFiles records, per updated pkgname, the paths the old
	// manifest carried that the incoming package no longer ships;
	// populated by the executor's unpack phase as it prunes them.
	ObsoleteFiles map[string][]string

	// selfUpdateRelaxation is set when the self-update gate allowed a
	// pkgmgr-targeted transaction through; the reverse-dependency and
	// shlib validators demote their findings to warnings when it is set.
	selfUpdateRelaxation bool
}

// New returns an empty transaction.
func New() *Transaction { return &Transaction{} }

// indexOf returns the index of pkgname in t.Packages, or -1.
func (t *Transaction) indexOf(pkgname string) int {
	for i, p := range t.Packages {
		if p.Pkgname == pkgname {
			return i
		}
	}
	return -1
}

// Get returns the queued package entry for pkgname, if any.
func (t *Transaction) Get(pkgname string) (*Package, bool) {
	i := t.indexOf(pkgname)
	if i < 0 {
		return nil, false
	}
	return t.Packages[i], true
}

// upsert replaces an existing entry for the same pkgname (keeping the
// more recent decision) or appends pos-determined by atHead.
func (t *Transaction) upsert(p *Package, atHead bool) {
	if i := t.indexOf(p.Pkgname); i >= 0 {
		t.Packages[i] = p
		return
	}
	if atHead {
		t.Packages = append([]*Package{p}, t.Packages...)
		return
	}
	t.Packages = append(t.Packages, p)
}

// recomputeCounters recounts Counters from the current package list.
// FreeDiskSize is left untouched here, it is populated by
// the disk-space validator which runs before this is called.
func (t *Transaction) recomputeCounters() {
	free, removed := t.Counters.FreeDiskSize, t.Counters.TotalRemovedSize
	t.Counters = Counters{FreeDiskSize: free, TotalRemovedSize: removed}
	for _, p := range t.Packages {
		switch p.Type {
		case descriptor.TxInstall:
			t.Counters.Install++
			t.Counters.Download++
			if p.Descriptor != nil {
				t.Counters.TotalInstalledSize += p.Descriptor.InstalledSize()
				t.Counters.TotalDownloadSize += p.Descriptor.FilenameSize()
			}
		case descriptor.TxUpdate, descriptor.TxReinstall:
			t.Counters.Update++
			t.Counters.Download++
			if p.Descriptor != nil {
				t.Counters.TotalInstalledSize += p.Descriptor.InstalledSize()
				t.Counters.TotalDownloadSize += p.Descriptor.FilenameSize()
			}
		case descriptor.TxRemove:
			t.Counters.Remove++
		case descriptor.TxConfigure:
			t.Counters.Configure++
		case descriptor.TxHold:
			t.Counters.Hold++
		}
	}
}

// IsBusy reports whether err carries the Busy kind returned by the
// self-update gate; kept as a helper so callers don't need to import internal/errors directly
// just to check this one condition.
func IsBusy(err error) bool { return errors.Is(err, errors.KindBusy) }
