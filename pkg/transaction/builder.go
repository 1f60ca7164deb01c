// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package transaction

import (
	"context"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/pkgdb"
	"github.com/kraklabs/dulge/pkg/pkgver"
	"github.com/kraklabs/dulge/pkg/repopool"
)

// HoldPredicate reports whether pkgname is held by configuration,
// independent of the descriptor's own Hold flag.
type HoldPredicate func(pkgname string) bool

// Builder carries the collaborators a single caller session's builder
// methods need: the repository pool, the installed database, the
// virtual-package preference, configured holds, and this build's own
// pkgname (for the self-update gate).
type Builder struct {
	Ctx        context.Context
	Pool       *repopool.Pool
	DB         *pkgdb.DB
	Virtual    repopool.VirtualPreference
	Hold       HoldPredicate
	OwnPkgname string

	// Rootdir is statvfs'd by the disk-space validator;
	// left empty it defaults to "/".
	Rootdir string
}

func (b *Builder) source() repopool.Source {
	return repopool.Source{Ctx: b.Ctx, Pool: b.Pool, Virtual: b.Virtual}
}

// selfUpdateGate implements the common preamble: unless the
// action is remove, check whether the package manager itself has a
// pending update. If so, only a transaction whose target IS the
// manager is allowed to proceed; any other target is rejected Busy.
// The return value reports whether the relaxation flag should be set.
func (b *Builder) selfUpdateGate(targetPkgname string) (relaxed bool, err error) {
	if b.OwnPkgname == "" {
		return false, nil
	}
	_, candidate, ok := b.Pool.Find(b.Ctx, b.OwnPkgname)
	if !ok {
		return false, nil
	}
	installed, isInstalled := b.DB.Get(b.OwnPkgname)
	if !isInstalled {
		return false, nil
	}
	cmp, isRevert, err := pkgver.CompareCandidate(candidate.Pkgver(), candidate.Reverts(), installed.Pkgver())
	if err != nil {
		return false, dulgeerrors.Wrap(dulgeerrors.KindInvalidArgument, b.OwnPkgname, "compare self-update candidate", err)
	}
	newer := cmp > 0 || isRevert
	if !newer {
		return false, nil
	}
	if targetPkgname != b.OwnPkgname {
		return false, dulgeerrors.New(dulgeerrors.KindBusy, targetPkgname, "self-update required before this action")
	}
	return true, nil
}

// InstallPkg queues pattern for installation (or update/reinstall,
// depending on the installed copy), force overriding the
// already-up-to-date short-circuit.
func (t *Transaction) InstallPkg(b *Builder, pattern string, force bool) error {
	name := pkgver.NameOf(pattern)
	relaxed, err := b.selfUpdateGate(name)
	if err != nil {
		return err
	}
	t.selfUpdateRelaxation = t.selfUpdateRelaxation || relaxed

	// The configured virtual-package preference outranks a literal
	// pool lookup of the same name, then any provider of the virtual
	// name is the last resort.
	var (
		repo      *repopool.Repo
		candidate *descriptor.Descriptor
		ok        bool
	)
	if b.Virtual != nil {
		if preferred, vok := b.Virtual(pattern); vok {
			repo, candidate, ok = b.Pool.Find(b.Ctx, preferred)
		}
	}
	if !ok {
		repo, candidate, ok = b.Pool.Find(b.Ctx, name)
	}
	if !ok {
		d, found := b.source().Find(pattern)
		if !found {
			return dulgeerrors.New(dulgeerrors.KindNotFound, name, "no candidate for "+pattern)
		}
		candidate = d
		repo, _, _ = b.Pool.Find(b.Ctx, d.Pkgname())
	}

	return t.planInstallOrUpdate(b, repo, candidate, force)
}

// UpdatePkg queues pattern for update if a newer candidate exists;
// behaves identically to InstallPkg's outcome table but is expected to
// be called only against already-installed targets.
func (t *Transaction) UpdatePkg(b *Builder, pattern string, force bool) error {
	return t.InstallPkg(b, pattern, force)
}

// UpdateAll queues an update for every installed package that has a
// newer pool candidate.
func (t *Transaction) UpdateAll(b *Builder) error {
	var names []string
	_ = b.DB.ForEach(func(pkgname string, d *descriptor.Descriptor) error {
		names = append(names, pkgname)
		return nil
	})
	for _, name := range names {
		if _, _, ok := b.Pool.Find(b.Ctx, name); !ok {
			continue
		}
		if err := t.UpdatePkg(b, name, false); err != nil {
			if dulgeerrors.Is(err, dulgeerrors.KindAlreadyPresent) {
				continue
			}
			return err
		}
	}
	return nil
}

func (t *Transaction) planInstallOrUpdate(b *Builder, repo *repopool.Repo, candidate *descriptor.Descriptor, force bool) error {
	name := candidate.Pkgname()
	installed, isInstalled := b.DB.Get(name)

	if isInstalled && installed.Repolock() && repo != nil {
		if installed.Repository() != repo.URL {
			return dulgeerrors.New(dulgeerrors.KindConflict, name, "repolock: candidate not from locked repository")
		}
	}

	pkg := &Package{
		Pkgname:    name,
		Pkgver:     candidate.Pkgver(),
		Type:       descriptor.TxInstall,
		Descriptor: candidate,
	}

	if isInstalled {
		cmp, isRevert, err := pkgver.CompareCandidate(candidate.Pkgver(), candidate.Reverts(), installed.Pkgver())
		if err != nil {
			return dulgeerrors.Wrap(dulgeerrors.KindInvalidArgument, name, "compare candidate", err)
		}
		switch {
		case cmp < 0 && !isRevert:
			return dulgeerrors.New(dulgeerrors.KindAlreadyPresent, name, "already-up-to-date")
		case cmp == 0 && !force:
			return dulgeerrors.New(dulgeerrors.KindAlreadyPresent, name, "already-up-to-date")
		case cmp == 0 && force:
			pkg.Type = descriptor.TxReinstall
		default:
			pkg.Type = descriptor.TxUpdate
		}
		pkg.AutomaticInstall = installed.AutomaticInstall()
		pkg.Hold = installed.Hold()
		pkg.Repolock = installed.Repolock()
	}

	if candidate.Hold() || (b.Hold != nil && b.Hold(name)) {
		pkg.Type = descriptor.TxHold
	}

	t.upsert(pkg, false)
	t.recomputeCounters()
	return nil
}

// RemovePkg tags name for removal; when recursive is true, it also
// computes and tags the orphan set that removing name would create.
func (t *Transaction) RemovePkg(db *pkgdb.DB, name string, recursive bool) error {
	if _, ok := db.Get(name); !ok {
		return dulgeerrors.New(dulgeerrors.KindNotFound, name, "not installed")
	}
	t.upsert(&Package{Pkgname: name, Type: descriptor.TxRemove}, false)

	if recursive {
		orphans := computeOrphans(db, []string{name}, t)
		for _, o := range orphans {
			t.upsert(&Package{Pkgname: o, Type: descriptor.TxRemove}, true)
		}
	}
	t.recomputeCounters()
	return nil
}

// AutoremoveOrphans seeds the orphan fixpoint with the entire database
// and queues every discovered orphan
// for removal.
func (t *Transaction) AutoremoveOrphans(db *pkgdb.DB) error {
	orphans := computeOrphans(db, nil, t)
	for _, o := range orphans {
		t.upsert(&Package{Pkgname: o, Type: descriptor.TxRemove}, true)
	}
	t.recomputeCounters()
	return nil
}

// computeOrphans iterates to a fixpoint: repeatedly add
// automatic-install packages whose entire reverse-dependency set is
// already in the orphan set. seed primes the set for recursive-remove
// mode; nil seed means "scan everything" (autoremove mode). Entries
// already queued for removal in t count as already-orphaned for the
// purpose of the containment check.
func computeOrphans(db *pkgdb.DB, seed []string, t *Transaction) []string {
	orphanSet := make(map[string]bool, len(seed))
	var order []string
	for _, s := range seed {
		orphanSet[s] = true
	}

	alreadyRemoving := func(name string) bool {
		if orphanSet[name] {
			return true
		}
		if t != nil {
			if p, ok := t.Get(name); ok && p.Type == descriptor.TxRemove {
				return true
			}
		}
		return false
	}

	for {
		added := false
		_ = db.ForEach(func(pkgname string, d *descriptor.Descriptor) error {
			if orphanSet[pkgname] || !d.AutomaticInstall() {
				return nil
			}
			rdeps := db.ReverseDeps(pkgname)
			for _, r := range rdeps {
				if !alreadyRemoving(r) {
					return nil
				}
			}
			orphanSet[pkgname] = true
			order = append(order, pkgname)
			added = true
			return nil
		})
		if !added {
			break
		}
	}
	return order
}
