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

// Package descriptor wraps a proptree mapping with typed accessors
// for the package descriptor keys, so every other
// package (pkgdb, repopool, transaction, alternatives) reads and writes
// descriptors through the same narrow surface instead of poking at
// proptree keys directly.
package descriptor

import "github.com/kraklabs/dulge/pkg/proptree"

// Transaction type enum.
type TxType string

const (
	TxInstall   TxType = "install"
	TxReinstall TxType = "reinstall"
	TxUpdate    TxType = "update"
	TxRemove    TxType = "remove"
	TxConfigure TxType = "configure"
	TxHold      TxType = "hold"
	TxDownload  TxType = "download"
)

// Install-state enum.
type State string

const (
	StateNotInstalled State = "not-installed"
	StateUnpacked     State = "unpacked"
	StateInstalled    State = "installed"
	StateBroken       State = "broken"
	StateHalfRemoved  State = "half-removed"
)

// Descriptor is a typed view over a *proptree.Value of kind Map
// holding the descriptor keys. It never copies the underlying value;
// Raw() exposes it for storage in a database/repository index.
type Descriptor struct {
	v *proptree.Value
}

// New wraps an existing mapping Value as a Descriptor.
func New(v *proptree.Value) *Descriptor { return &Descriptor{v: v} }

// NewEmpty creates a fresh, mutable, empty descriptor.
func NewEmpty() *Descriptor { return &Descriptor{v: proptree.NewMap()} }

// Raw returns the underlying proptree mapping.
func (d *Descriptor) Raw() *proptree.Value { return d.v }

func (d *Descriptor) getString(key string) string { return d.v.GetString(key) }

func (d *Descriptor) setString(key, val string) {
	if val == "" {
		return
	}
	_ = d.v.Set(key, proptree.NewString(val))
}

func (d *Descriptor) getStringSeq(key string) []string {
	val, ok := d.v.Get(key)
	if !ok || val.Kind() != proptree.KindSeq {
		return nil
	}
	out := make([]string, 0, val.Len())
	for _, e := range val.Seq() {
		if e.Kind() == proptree.KindString {
			out = append(out, e.String())
		}
	}
	return out
}

func (d *Descriptor) setStringSeq(key string, items []string) {
	seq := proptree.NewSeq()
	for _, s := range items {
		_ = seq.Append(proptree.NewString(s))
	}
	_ = d.v.Set(key, seq)
}

// Pkgname, Pkgver and friends: the identity and provenance fields.
func (d *Descriptor) Pkgname() string     { return d.getString("pkgname") }
func (d *Descriptor) SetPkgname(s string) { d.setString("pkgname", s) }

func (d *Descriptor) Pkgver() string     { return d.getString("pkgver") }
func (d *Descriptor) SetPkgver(s string) { d.setString("pkgver", s) }

func (d *Descriptor) Architecture() string     { return d.getString("architecture") }
func (d *Descriptor) SetArchitecture(s string) { d.setString("architecture", s) }

func (d *Descriptor) ShortDesc() string  { return d.getString("short_desc") }
func (d *Descriptor) Homepage() string   { return d.getString("homepage") }
func (d *Descriptor) License() string    { return d.getString("license") }
func (d *Descriptor) Maintainer() string { return d.getString("maintainer") }

func (d *Descriptor) SetShortDesc(s string)  { d.setString("short_desc", s) }
func (d *Descriptor) SetHomepage(s string)   { d.setString("homepage", s) }
func (d *Descriptor) SetLicense(s string)    { d.setString("license", s) }
func (d *Descriptor) SetMaintainer(s string) { d.setString("maintainer", s) }

func (d *Descriptor) InstalledSize() uint64 { return d.v.GetUint64("installed_size") }
func (d *Descriptor) SetInstalledSize(n uint64) {
	_ = d.v.Set("installed_size", proptree.NewUint64(n))
}

func (d *Descriptor) FilenameSize() uint64 { return d.v.GetUint64("filename-size") }
func (d *Descriptor) SetFilenameSize(n uint64) {
	_ = d.v.Set("filename-size", proptree.NewUint64(n))
}

func (d *Descriptor) FilenameSHA256() string     { return d.getString("filename-sha256") }
func (d *Descriptor) SetFilenameSHA256(s string) { d.setString("filename-sha256", s) }

func (d *Descriptor) RunDepends() []string     { return d.getStringSeq("run_depends") }
func (d *Descriptor) SetRunDepends(s []string) { d.setStringSeq("run_depends", s) }

func (d *Descriptor) ShlibRequires() []string     { return d.getStringSeq("shlib-requires") }
func (d *Descriptor) ShlibProvides() []string     { return d.getStringSeq("shlib-provides") }
func (d *Descriptor) SetShlibRequires(s []string) { d.setStringSeq("shlib-requires", s) }
func (d *Descriptor) SetShlibProvides(s []string) { d.setStringSeq("shlib-provides", s) }

func (d *Descriptor) Provides() []string     { return d.getStringSeq("provides") }
func (d *Descriptor) SetProvides(s []string) { d.setStringSeq("provides", s) }

func (d *Descriptor) Replaces() []string     { return d.getStringSeq("replaces") }
func (d *Descriptor) SetReplaces(s []string) { d.setStringSeq("replaces", s) }

func (d *Descriptor) Conflicts() []string     { return d.getStringSeq("conflicts") }
func (d *Descriptor) SetConflicts(s []string) { d.setStringSeq("conflicts", s) }

func (d *Descriptor) Reverts() string     { return d.getString("reverts") }
func (d *Descriptor) SetReverts(s string) { d.setString("reverts", s) }

func (d *Descriptor) Repository() string     { return d.getString("repository") }
func (d *Descriptor) SetRepository(s string) { d.setString("repository", s) }

func (d *Descriptor) Transaction() TxType     { return TxType(d.getString("transaction")) }
func (d *Descriptor) SetTransaction(t TxType) { d.setString("transaction", string(t)) }

func (d *Descriptor) AutomaticInstall() bool { return d.v.GetBool("automatic-install") }
func (d *Descriptor) SetAutomaticInstall(b bool) {
	_ = d.v.Set("automatic-install", proptree.NewBool(b))
}

func (d *Descriptor) Hold() bool     { return d.v.GetBool("hold") }
func (d *Descriptor) SetHold(b bool) { _ = d.v.Set("hold", proptree.NewBool(b)) }

func (d *Descriptor) Repolock() bool     { return d.v.GetBool("repolock") }
func (d *Descriptor) SetRepolock(b bool) { _ = d.v.Set("repolock", proptree.NewBool(b)) }

func (d *Descriptor) Replaced() bool     { return d.v.GetBool("replaced") }
func (d *Descriptor) SetReplaced(b bool) { _ = d.v.Set("replaced", proptree.NewBool(b)) }

func (d *Descriptor) State() State     { return State(d.getString("state")) }
func (d *Descriptor) SetState(s State) { d.setString("state", string(s)) }

// Alternatives returns the group-name -> ["LINK:TARGET", ...] mapping.
func (d *Descriptor) Alternatives() map[string][]string {
	val, ok := d.v.Get("alternatives")
	if !ok || val.Kind() != proptree.KindMap {
		return nil
	}
	out := make(map[string][]string, val.Len())
	for _, group := range val.Keys() {
		items, _ := val.Get(group)
		var links []string
		for _, e := range items.Seq() {
			links = append(links, e.String())
		}
		out[group] = links
	}
	return out
}

func (d *Descriptor) SetAlternatives(groups map[string][]string) {
	m := proptree.NewMap()
	for group, links := range groups {
		seq := proptree.NewSeq()
		for _, l := range links {
			_ = seq.Append(proptree.NewString(l))
		}
		_ = m.Set(group, seq)
	}
	_ = d.v.Set("alternatives", m)
}

// Clone returns a deep, mutable copy of the descriptor.
func (d *Descriptor) Clone() *Descriptor { return New(d.v.DeepCopy()) }
