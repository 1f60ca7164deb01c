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

// Package pkgdb implements the installed-package database: a single
// property-tree mapping persisted to metadir/pkgdb-<version>.plist,
// guarded by the cross-process lock in
// pkg/lock, with a memoized reverse-dependency index and a full
// dependency-tree walk shared with pkg/depgraph.
package pkgdb

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/depgraph"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/lock"
	"github.com/kraklabs/dulge/pkg/pkgver"
	"github.com/kraklabs/dulge/pkg/proptree"
)

// FormatVersion is the on-disk schema tag embedded in the database
// filename; older formats are not converted.
const FormatVersion = "1"

// alternativesKey is the reserved database key holding the
// alternatives registry (group name -> ordered provider pkgnames).
// Reserved keys are invisible to package iteration.
const alternativesKey = "_DULGE_ALTERNATIVES_"

func isReservedKey(key string) bool { return key == alternativesKey }

// DB is the loaded, lock-held installed-package database for one
// Handle. It is not safe for concurrent use from multiple goroutines;
// callers serialize through the Handle that owns it.
type DB struct {
	path string
	lk   *lock.Lock
	root *proptree.Value // map pkgname -> descriptor mapping

	vpkgIndex map[string]map[string]string // vpkgname -> pkgver -> pkgname
	rdeps     map[string][]string          // memoized reverse-dependency index
	lastFlush string                       // externalized form as of last successful flush

	// Logger receives dotted pkgdb.* events (lock_wait, loaded, flush);
	// nil defaults to slog.Default().
	Logger *slog.Logger
}

func (db *DB) log() *slog.Logger {
	if db.Logger != nil {
		return db.Logger
	}
	return slog.Default()
}

// Load opens metadir/pkgdb-<FormatVersion>.plist, acquiring the
// exclusive advisory lock first. An absent file yields an empty
// in-memory database; the file is first written by Update. onWaiting is invoked if
// the lock is already held by another process, so a caller can show
// a waiting message.
func Load(ctx context.Context, metadir string, onWaiting func()) (*DB, error) {
	db := &DB{}
	logger := db.log()

	if err := os.MkdirAll(metadir, 0755); err != nil {
		return nil, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "create metadir "+metadir, err)
	}

	lockPath := filepath.Join(metadir, "lock")
	lk := lock.New(lockPath)
	waitLogged := false
	if err := lk.Acquire(ctx, func() {
		waitLogged = true
		logger.Info("pkgdb.lock_wait", "path", lockPath)
		if onWaiting != nil {
			onWaiting()
		}
	}); err != nil {
		return nil, err
	}
	if waitLogged {
		logger.Info("pkgdb.lock_acquired", "path", lockPath)
	}

	path := filepath.Join(metadir, fmt.Sprintf("pkgdb-%s.plist", FormatVersion))
	root, err := internalizeOrEmpty(path)
	if err != nil {
		lk.Release()
		return nil, err
	}

	db.path, db.lk, db.root = path, lk, root
	db.synthesizePkgnames()
	db.buildVpkgIndex()

	serialized, err := proptree.Externalize(db.root)
	if err != nil {
		lk.Release()
		return nil, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "externalize loaded database", err)
	}
	db.lastFlush = serialized
	logger.Debug("pkgdb.loaded", "path", path, "packages", db.root.Len())

	return db, nil
}

func internalizeOrEmpty(path string) (*proptree.Value, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return proptree.NewMap(), nil
		}
		return nil, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "stat "+path, err)
	}
	v, err := proptree.InternalizeFile(path)
	if err != nil {
		return nil, dulgeerrors.Wrap(dulgeerrors.KindIntegrityFailure, "", "internalize "+path, err)
	}
	return v, nil
}

// synthesizePkgnames ensures every pkg entry carries a pkgname derived
// once from its own pkgver.
func (db *DB) synthesizePkgnames() {
	for _, key := range db.root.Keys() {
		if isReservedKey(key) {
			continue
		}
		entry, _ := db.root.Get(key)
		d := descriptor.New(entry)
		if d.Pkgname() != "" {
			continue
		}
		name, _, _, err := pkgver.ParsePkgver(d.Pkgver())
		if err != nil {
			continue
		}
		d.SetPkgname(name)
	}
}

func (db *DB) buildVpkgIndex() {
	db.vpkgIndex = make(map[string]map[string]string)
	for _, key := range db.root.Keys() {
		if isReservedKey(key) {
			continue
		}
		entry, _ := db.root.Get(key)
		d := descriptor.New(entry)
		for _, vname := range d.Provides() {
			vpkgname := pkgver.NameOf(vname)
			sub, ok := db.vpkgIndex[vpkgname]
			if !ok {
				sub = make(map[string]string)
				db.vpkgIndex[vpkgname] = sub
			}
			sub[d.Pkgver()] = d.Pkgname()
		}
	}
}

// Get returns the descriptor for pkgname, if installed.
func (db *DB) Get(pkgname string) (*descriptor.Descriptor, bool) {
	if isReservedKey(pkgname) {
		return nil, false
	}
	v, ok := db.root.Get(pkgname)
	if !ok {
		return nil, false
	}
	return descriptor.New(v), true
}

// Put inserts or replaces the descriptor for pkgname and invalidates
// the memoized reverse-dependency index.
func (db *DB) Put(pkgname string, d *descriptor.Descriptor) error {
	if err := db.root.Set(pkgname, d.Raw()); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, pkgname, "store descriptor", err)
	}
	db.rdeps = nil
	return nil
}

// Remove deletes pkgname's entry.
func (db *DB) Remove(pkgname string) error {
	if err := db.root.Remove(pkgname); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, pkgname, "remove descriptor", err)
	}
	db.rdeps = nil
	return nil
}

// ForEach visits every installed descriptor in stored order; reserved
// keys (the alternatives registry) are not packages and are skipped.
func (db *DB) ForEach(fn func(pkgname string, d *descriptor.Descriptor) error) error {
	for _, key := range db.root.Keys() {
		if isReservedKey(key) {
			continue
		}
		entry, _ := db.root.Get(key)
		if err := fn(key, descriptor.New(entry)); err != nil {
			return err
		}
	}
	return nil
}

// Len returns the number of installed packages.
func (db *DB) Len() int {
	n := db.root.Len()
	if _, ok := db.root.Get(alternativesKey); ok {
		n--
	}
	return n
}

// AlternativesGroups reads the persisted alternatives registry:
// group name -> ordered provider pkgnames, head first. An absent
// registry yields an empty map.
func (db *DB) AlternativesGroups() map[string][]string {
	out := make(map[string][]string)
	v, ok := db.root.Get(alternativesKey)
	if !ok || v.Kind() != proptree.KindMap {
		return out
	}
	for _, group := range v.Keys() {
		seq, _ := v.Get(group)
		if seq.Kind() != proptree.KindSeq {
			continue
		}
		var names []string
		for _, e := range seq.Seq() {
			names = append(names, e.String())
		}
		out[group] = names
	}
	return out
}

// SetAlternativesGroups replaces the persisted alternatives registry.
// Groups are stored sorted by name so the serialized database stays
// byte-stable across processes.
func (db *DB) SetAlternativesGroups(groups map[string][]string) error {
	if len(groups) == 0 {
		return db.root.Remove(alternativesKey)
	}
	names := make([]string, 0, len(groups))
	for g := range groups {
		names = append(names, g)
	}
	sort.Strings(names)

	m := proptree.NewMap()
	for _, g := range names {
		seq := proptree.NewSeq()
		for _, pkgname := range groups[g] {
			_ = seq.Append(proptree.NewString(pkgname))
		}
		_ = m.Set(g, seq)
	}
	return db.root.Set(alternativesKey, m)
}

// FindVirtual resolves a virtual-package pattern by scanning the
// vpkg index built at load time, returning the providing pkgname.
func (db *DB) FindVirtual(pattern string) (pkgname string, ok bool) {
	vpkgname := pkgver.NameOf(pattern)
	sub, ok := db.vpkgIndex[vpkgname]
	if !ok {
		return "", false
	}
	for pv, name := range sub {
		p, err := pkgver.ParsePattern(pattern)
		if err == nil && p.Match(pv) {
			return name, true
		}
	}
	return "", false
}

// Find implements depgraph.Source against the installed database:
// real package first, then any provider of the virtual name. Absence
// is reported as ok=false (local runtime deps may be legitimately
// absent), never as an error.
func (db *DB) Find(pattern string) (*descriptor.Descriptor, bool) {
	name := pkgver.NameOf(pattern)
	if d, ok := db.Get(name); ok {
		return d, true
	}
	if vname, ok := db.FindVirtual(pattern); ok {
		return db.Get(vname)
	}
	return nil, false
}

// ReverseDeps returns every installed pkgname whose run_depends
// resolves to pkgname, computed lazily on first call and memoized for
// the DB's lifetime.
func (db *DB) ReverseDeps(pkgname string) []string {
	if db.rdeps == nil {
		db.computeReverseDeps()
	}
	return db.rdeps[pkgname]
}

func (db *DB) computeReverseDeps() {
	db.rdeps = make(map[string][]string)
	_ = db.ForEach(func(name string, d *descriptor.Descriptor) error {
		for _, pattern := range d.RunDepends() {
			target := pkgver.NameOf(pattern)
			if _, ok := db.Get(target); !ok {
				if vname, ok := db.FindVirtual(pattern); ok {
					target = vname
				}
			}
			db.rdeps[target] = append(db.rdeps[target], name)
		}
		return nil
	})
}

// FullDepTree returns pkgname's complete run-dependency closure,
// deepest-first, via pkg/depgraph against this database as the
// resolution scope. Deps absent from the database are skipped rather
// than treated as errors; only the pool-backed walk is strict.
func (db *DB) FullDepTree(pkgname string) ([]string, error) {
	d, ok := db.Get(pkgname)
	if !ok {
		return nil, dulgeerrors.New(dulgeerrors.KindNotFound, pkgname, "not installed")
	}
	return depgraph.ResolveLenient(d, db)
}

// Update externalizes the in-memory database and, when flush is true,
// rewrites the file only if the serialized form differs from the
// last-known-flushed form, so back-to-back flushes touch the file
// once.
func (db *DB) Update(flush bool) error {
	serialized, err := proptree.Externalize(db.root)
	if err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "externalize database", err)
	}
	if !flush {
		return nil
	}
	if serialized == db.lastFlush {
		db.log().Debug("pkgdb.flush_skipped", "path", db.path)
		return nil
	}

	oldUmask := umask(0022)
	defer umask(oldUmask)

	tmp := db.path + ".tmp"
	if err := os.WriteFile(tmp, []byte(serialized), 0644); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "write "+tmp, err)
	}
	if err := os.Rename(tmp, db.path); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "rename "+tmp, err)
	}
	db.lastFlush = serialized
	db.log().Info("pkgdb.flushed", "path", db.path, "packages", db.root.Len())
	return nil
}

// Close releases the database lock. The in-memory copy is discarded;
// callers must Update(true) before Close to persist changes.
func (db *DB) Close() error {
	return db.lk.Release()
}
