// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package transaction

import (
	"fmt"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/depgraph"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/pkgver"
)

// Diagnostics groups the findings from each validator stage into the
// three diagnostic buckets a prepared transaction reports.
type Diagnostics struct {
	MissingDeps   []dulgeerrors.Diagnostic
	MissingShlibs []dulgeerrors.Diagnostic
	Conflicts     []dulgeerrors.Diagnostic
}

func (d Diagnostics) empty() bool {
	return len(d.MissingDeps) == 0 && len(d.MissingShlibs) == 0 && len(d.Conflicts) == 0
}

// Prepare runs the ordered validator pipeline. On
// success the transaction's counters are recomputed and Prepare
// returns nil. A non-empty Diagnostics with any Conflicts entry, or
// with MissingDeps/MissingShlibs entries while self-update relaxation
// is NOT active, is returned as a fatal DependencyBroken/Conflict
// error; otherwise the diagnostics are returned alongside a nil error
// as demoted warnings.
func (t *Transaction) Prepare(b *Builder) (Diagnostics, error) {
	if err := t.expandDependencies(b); err != nil {
		return Diagnostics{}, err
	}
	t.applyReplaces(b)

	diags := Diagnostics{}
	diags.MissingDeps = t.checkReverseDeps(b)
	diags.MissingShlibs = t.checkSharedLibraries(b)
	diags.Conflicts = t.checkConflicts(b)

	if len(diags.Conflicts) > 0 {
		return diags, dulgeerrors.New(dulgeerrors.KindConflict, "", "transaction has unresolved conflicts")
	}
	if !t.selfUpdateRelaxation {
		if len(diags.MissingDeps) > 0 {
			return diags, dulgeerrors.New(dulgeerrors.KindDependencyBroken, "", "missing-reverse-dependency")
		}
		if len(diags.MissingShlibs) > 0 {
			return diags, dulgeerrors.New(dulgeerrors.KindDependencyBroken, "", "unresolvable-shlib")
		}
	}

	if err := t.checkDiskSpace(b); err != nil {
		return diags, err
	}

	t.recomputeCounters()
	return diags, nil
}

// checkDiskSpace is validator 6: sum installed_size of added/updated
// pkgs minus installed_size of removed/updated-old pkgs, and compare
// against the free space available under the rootdir filesystem.
func (t *Transaction) checkDiskSpace(b *Builder) error {
	var delta int64
	for _, p := range t.Packages {
		switch p.Type {
		case descriptor.TxInstall, descriptor.TxUpdate, descriptor.TxReinstall:
			if p.Descriptor != nil {
				delta += int64(p.Descriptor.InstalledSize())
			}
			if p.Type != descriptor.TxInstall {
				if old, ok := b.DB.Get(p.Pkgname); ok {
					delta -= int64(old.InstalledSize())
				}
			}
		case descriptor.TxRemove:
			if old, ok := b.DB.Get(p.Pkgname); ok {
				delta -= int64(old.InstalledSize())
				t.Counters.TotalRemovedSize += old.InstalledSize()
			}
		}
	}

	rootdir := b.Rootdir
	if rootdir == "" {
		rootdir = "/"
	}
	free, err := freeBytes(rootdir)
	if err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "statvfs "+rootdir, err)
	}
	t.Counters.FreeDiskSize = free

	if delta > 0 && uint64(delta) > free {
		return dulgeerrors.New(dulgeerrors.KindResourceExhausted, "",
			fmt.Sprintf("insufficient disk space: need %d bytes, have %d free", delta, free))
	}
	return nil
}

// expandDependencies is validator 1: recursively collect dependencies
// for every install/update/reinstall entry, appending any not already
// present, then drops the original edge entries from the head so the
// final order is deepest-first.
func (t *Transaction) expandDependencies(b *Builder) error {
	edges := make([]*Package, 0, len(t.Packages))
	for _, p := range t.Packages {
		if p.Type == descriptor.TxInstall || p.Type == descriptor.TxUpdate || p.Type == descriptor.TxReinstall {
			edges = append(edges, p)
		}
	}

	src := b.source()
	var expanded []*Package
	for _, edge := range edges {
		if edge.Descriptor == nil {
			continue
		}
		order, err := depgraph.Resolve(edge.Descriptor, src)
		if err != nil {
			return err
		}
		for _, pv := range order {
			name, _, _, _ := pkgver.ParsePkgver(pv)
			if t.indexOf(name) >= 0 {
				continue
			}
			if containsPkgver(expanded, pv) {
				continue
			}
			_, d, ok := b.Pool.Find(b.Ctx, name)
			if !ok {
				continue
			}
			expanded = append(expanded, &Package{
				Pkgname:          name,
				Pkgver:           pv,
				Type:             descriptor.TxInstall,
				AutomaticInstall: true,
				Descriptor:       d,
			})
		}
	}

	// deepest-first: new dependency nodes precede the original edges.
	complement := edgesComplement(t.Packages, edges, expanded)
	t.Packages = append(expanded, edges...)
	t.Packages = append(t.Packages, complement...)
	return nil
}

func containsPkgver(list []*Package, pv string) bool {
	for _, p := range list {
		if p.Pkgver == pv {
			return true
		}
	}
	return false
}

func edgesComplement(current, edges, expanded []*Package) []*Package {
	seen := make(map[string]bool, len(edges)+len(expanded))
	for _, p := range edges {
		seen[p.Pkgname] = true
	}
	for _, p := range expanded {
		seen[p.Pkgname] = true
	}
	var out []*Package
	for _, p := range current {
		if !seen[p.Pkgname] {
			out = append(out, p)
			seen[p.Pkgname] = true
		}
	}
	return out
}

// applyReplaces is validator 2.
func (t *Transaction) applyReplaces(b *Builder) {
	for _, p := range append([]*Package{}, t.Packages...) {
		if p.Descriptor == nil {
			continue
		}
		for _, pattern := range p.Descriptor.Replaces() {
			pat, err := pkgver.ParsePattern(pattern)
			if err != nil {
				continue
			}
			installedName := pkgver.NameOf(pattern)
			installed, ok := b.DB.Get(installedName)
			if !ok || !pat.Match(installed.Pkgver()) {
				continue
			}
			if installed.Hold() {
				continue
			}
			if installed.Pkgname() == p.Pkgname {
				continue
			}
			if existing, ok := t.Get(installed.Pkgname()); ok && existing.Type == descriptor.TxUpdate {
				continue
			}

			if installed.AutomaticInstall() {
				p.AutomaticInstall = true
			}
			t.upsert(&Package{Pkgname: installed.Pkgname(), Type: descriptor.TxRemove, Replaced: true}, true)
		}
	}
}

// checkReverseDeps is validator 3.
func (t *Transaction) checkReverseDeps(b *Builder) []dulgeerrors.Diagnostic {
	var diags []dulgeerrors.Diagnostic
	_ = b.DB.ForEach(func(name string, installed *descriptor.Descriptor) error {
		p, affected := t.Get(name)
		if !affected || (p.Type != descriptor.TxUpdate && p.Type != descriptor.TxRemove) {
			return nil
		}
		for _, q := range b.DB.ReverseDeps(name) {
			qp, qInTx := t.Get(q)
			if qInTx && qp.Type == descriptor.TxRemove {
				continue
			}
			if qp != nil && qp.Type == descriptor.TxHold {
				continue
			}
			switch p.Type {
			case descriptor.TxRemove:
				if !p.Replaced {
					diags = append(diags, dulgeerrors.Diagnostic{Pkgver: q, Desc: q + " breaks because " + name + " is being removed"})
				}
			case descriptor.TxUpdate:
				qDesc, ok := b.DB.Get(q)
				if !ok {
					continue
				}
				if !satisfiesAny(qDesc.RunDepends(), p.Pkgver, p.Descriptor) {
					diags = append(diags, dulgeerrors.Diagnostic{Pkgver: q, Desc: q + " breaks because " + name + " is being updated to " + p.Pkgver})
				}
			}
		}
		return nil
	})
	return diags
}

func satisfiesAny(patterns []string, candidatePkgver string, candidate *descriptor.Descriptor) bool {
	for _, pattern := range patterns {
		pat, err := pkgver.ParsePattern(pattern)
		if err == nil && pat.Match(candidatePkgver) {
			return true
		}
		if candidate != nil {
			for _, prov := range candidate.Provides() {
				if pkgver.NameOf(pattern) == pkgver.NameOf(prov) {
					return true
				}
			}
		}
	}
	return false
}

// checkSharedLibraries is validator 4: the post-transaction package
// set is the installed database overlaid by the transaction (entries
// being installed/updated win, entries being removed are excluded).
func (t *Transaction) checkSharedLibraries(b *Builder) []dulgeerrors.Diagnostic {
	type shlibInfo struct {
		pkgver   string
		provides []string
		requires []string
	}
	postTx := make(map[string]shlibInfo)

	_ = b.DB.ForEach(func(name string, d *descriptor.Descriptor) error {
		postTx[name] = shlibInfo{pkgver: d.Pkgver(), provides: d.ShlibProvides(), requires: d.ShlibRequires()}
		return nil
	})
	for _, p := range t.Packages {
		if p.Type == descriptor.TxRemove {
			delete(postTx, p.Pkgname)
			continue
		}
		if p.Descriptor == nil {
			continue
		}
		postTx[p.Pkgname] = shlibInfo{pkgver: p.Pkgver, provides: p.Descriptor.ShlibProvides(), requires: p.Descriptor.ShlibRequires()}
	}

	provides := make(map[string]string)
	for _, info := range postTx {
		for _, soname := range info.provides {
			provides[soname] = info.pkgver
		}
	}

	var diags []dulgeerrors.Diagnostic
	for _, info := range postTx {
		for _, soname := range info.requires {
			if _, ok := provides[soname]; !ok {
				diags = append(diags, dulgeerrors.Diagnostic{
					Pkgver: info.pkgver,
					Desc:   fmt.Sprintf("%s: broken, unresolvable shlib %s", info.pkgver, soname),
				})
			}
		}
	}
	return diags
}

// checkConflicts is validator 5.
func (t *Transaction) checkConflicts(b *Builder) []dulgeerrors.Diagnostic {
	var diags []dulgeerrors.Diagnostic
	for _, p := range t.Packages {
		if p.Type == descriptor.TxRemove || p.Descriptor == nil {
			continue
		}
		for _, pattern := range p.Descriptor.Conflicts() {
			name := pkgver.NameOf(pattern)
			if other, ok := b.DB.Get(name); ok {
				if op, inTx := t.Get(name); inTx && op.Type == descriptor.TxRemove {
					continue
				}
				pat, err := pkgver.ParsePattern(pattern)
				if err == nil && pat.Match(other.Pkgver()) {
					diags = append(diags, dulgeerrors.Diagnostic{Pkgver: p.Pkgver, Desc: p.Pkgver + " conflicts with installed " + other.Pkgver()})
				}
			}
		}
	}
	return diags
}
