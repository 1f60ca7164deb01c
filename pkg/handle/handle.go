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

// Package handle wires together the configuration, repository pool,
// installed-package database and alternatives registry into one
// process-wide session, and hands out pre-wired
// transaction.Builder/Executor values so a CLI or daemon caller never
// has to assemble those collaborators itself.
package handle

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/alternatives"
	"github.com/kraklabs/dulge/pkg/config"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/fetcher"
	"github.com/kraklabs/dulge/pkg/metrics"
	"github.com/kraklabs/dulge/pkg/pkgdb"
	"github.com/kraklabs/dulge/pkg/pkgver"
	"github.com/kraklabs/dulge/pkg/repopool"
	"github.com/kraklabs/dulge/pkg/transaction"
)

// WaitFunc is invoked if the installed-database lock is held by
// another process, so a caller can print "waiting for lock...".
type WaitFunc func()

// Handle is the live, open session: one handle per process, closed
// with End once the caller is done with it.
type Handle struct {
	Config       *config.Config
	DB           *pkgdb.DB
	Pool         *repopool.Pool
	Alternatives *alternatives.Registry
	Fetcher      *fetcher.Fetcher

	// Metrics is nil unless the caller opts in via WithMetrics; when
	// set it is handed to both the fetcher and every Executor this
	// handle builds.
	Metrics *metrics.Registry

	// OwnPkgname is the pkgname of the package manager itself, used by
	// the builder's self-update gate.
	OwnPkgname string
}

// Init opens a Handle for cfg: loads (and locks) the installed
// database, builds the repository pool from cfg's configured
// repositories, and hydrates the alternatives registry from every
// installed package's advertised links.
func Init(ctx context.Context, cfg *config.Config, onWaiting WaitFunc) (*Handle, error) {
	db, err := pkgdb.Load(ctx, cfg.Metadir(), onWaiting)
	if err != nil {
		return nil, err
	}

	pool := repopool.New(cfg.Metadir(), cfg.Architecture)
	pool.UseStage = cfg.Flags.UseStage
	for _, repo := range cfg.Repositories {
		pool.Store(repo)
	}

	// Hydrate the alternatives registry: persisted group order first
	// (it remembers explicit switches), then each installed package's
	// advertised links. Nothing is materialized here; the on-disk
	// symlinks already reflect the persisted heads.
	alt := alternatives.New(cfg.Rootdir)
	alt.LoadGroups(db.AlternativesGroups())
	if err := db.ForEach(func(pkgname string, d *descriptor.Descriptor) error {
		if groups := d.Alternatives(); len(groups) > 0 {
			alt.AddLinks(pkgname, groups)
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "hydrate alternatives", err)
	}

	return &Handle{
		Config:       cfg,
		DB:           db,
		Pool:         pool,
		Alternatives: alt,
		Fetcher:      fetcher.New(),
	}, nil
}

// WithMetrics registers h's fetcher and every Executor built afterwards
// against reg, returning the Registry for the caller to serve on a
// /metrics endpoint.
func (h *Handle) WithMetrics(reg prometheus.Registerer) *metrics.Registry {
	m := metrics.New(reg)
	h.Metrics = m
	h.Fetcher.Metrics = m
	return m
}

// End releases the handle's resources, flushing the installed database
// if flush is true.
func (h *Handle) End(flush bool) error {
	if flush {
		if err := h.DB.SetAlternativesGroups(h.Alternatives.Snapshot()); err != nil {
			return err
		}
		if err := h.DB.Update(true); err != nil {
			return err
		}
	}
	return h.DB.Close()
}

// SwitchAlternative moves pkgname to the head of the named
// alternatives group, re-materializes its links, and persists the new
// group order to the installed database.
func (h *Handle) SwitchAlternative(group, pkgname string) error {
	if err := h.Alternatives.Switch(group, pkgname); err != nil {
		return err
	}
	if err := h.DB.SetAlternativesGroups(h.Alternatives.Snapshot()); err != nil {
		return err
	}
	return h.DB.Update(true)
}

// VirtualPreference adapts the configured virtualpkg preferences into
// the callback repopool.Source expects: the query matches a configured
// entry by exact expression, by pkgname, or by pattern-match against
// the configured virtual pkgver.
func (h *Handle) VirtualPreference(pattern string) (pkgname string, ok bool) {
	queryName := pkgver.NameOf(pattern)
	for _, pref := range h.Config.VirtualPkgs {
		if pref.VirtualPkg == pattern || pkgver.NameOf(pref.VirtualPkg) == queryName {
			return pkgver.NameOf(pref.RealPkgver), true
		}
		if p, err := pkgver.ParsePattern(pattern); err == nil && p.Match(pref.VirtualPkg) {
			return pkgver.NameOf(pref.RealPkgver), true
		}
	}
	return "", false
}

// Builder returns a transaction.Builder wired to this handle's
// collaborators, with the configured ignore-packages list as the
// hold predicate.
func (h *Handle) Builder(ctx context.Context) *transaction.Builder {
	return &transaction.Builder{
		Ctx:        ctx,
		Pool:       h.Pool,
		DB:         h.DB,
		Virtual:    h.VirtualPreference,
		Hold:       h.Config.IsIgnored,
		OwnPkgname: h.OwnPkgname,
		Rootdir:    h.Config.Rootdir,
	}
}

// Executor returns a transaction.Executor wired to this handle's
// collaborators and the configured keep-config/download-only flags.
func (h *Handle) Executor(ctx context.Context, state transaction.StateFunc, configure func(pkgname string, d *descriptor.Descriptor) error) *transaction.Executor {
	return &transaction.Executor{
		Ctx:          ctx,
		Fetcher:      h.Fetcher,
		Pool:         h.Pool,
		DB:           h.DB,
		Alternatives: h.Alternatives,
		Rootdir:      h.Config.Rootdir,
		Cachedir:     h.Config.Cachedir,
		KeepConfig:   h.Config.Flags.KeepConfig,
		DownloadOnly: h.Config.Flags.DownloadOnly,
		State:        state,
		Configure:    configure,
		Preserved:    h.Config.IsPreserved,
		Metrics:      h.Metrics,
	}
}
