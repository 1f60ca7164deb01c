// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package transaction

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/descriptor"
)

// S1: first install of a leaf package with a dependency pulls the
// dependency in automatically.
func TestBuilderInstallPkgFirstInstall(t *testing.T) {
	pool := buildPool(t, []fixturePkg{
		{pkgname: "libfoo", pkgver: "libfoo-1.0_1"},
		{pkgname: "foo", pkgver: "foo-1.0_1", runDepends: []string{"libfoo>=0"}},
	})
	db := buildDB(t)
	b := &Builder{Ctx: context.Background(), Pool: pool, DB: db}

	tx := New()
	require.NoError(t, tx.InstallPkg(b, "foo", false))
	_, err := tx.Prepare(b)
	require.NoError(t, err)

	p, ok := tx.Get("foo")
	require.True(t, ok)
	require.Equal(t, descriptor.TxInstall, p.Type)
	require.False(t, p.AutomaticInstall)

	dep, ok := tx.Get("libfoo")
	require.True(t, ok)
	require.Equal(t, descriptor.TxInstall, dep.Type)
	require.True(t, dep.AutomaticInstall)
}

// S3: installing a package that replaces an automatically-installed
// incumbent queues the incumbent for removal and inherits its
// automatic-install flag.
func TestBuilderInstallPkgAppliesReplaces(t *testing.T) {
	pool := buildPool(t, []fixturePkg{
		{pkgname: "newfoo", pkgver: "newfoo-1.0_1", replaces: []string{"oldfoo>=0"}},
	})
	db := buildDB(t)
	installDesc(t, db, fixturePkg{pkgname: "oldfoo", pkgver: "oldfoo-1.0_1"}, true)

	b := &Builder{Ctx: context.Background(), Pool: pool, DB: db}
	tx := New()
	require.NoError(t, tx.InstallPkg(b, "newfoo", false))
	_, err := tx.Prepare(b)
	require.NoError(t, err)

	newp, ok := tx.Get("newfoo")
	require.True(t, ok)
	require.True(t, newp.AutomaticInstall)

	oldp, ok := tx.Get("oldfoo")
	require.True(t, ok)
	require.Equal(t, descriptor.TxRemove, oldp.Type)
	require.True(t, oldp.Replaced)
}

// S4: when the package manager's own package has a pending update, any
// other target is rejected Busy until the manager itself is updated.
func TestBuilderSelfUpdateGate(t *testing.T) {
	pool := buildPool(t, []fixturePkg{
		{pkgname: "dulge", pkgver: "dulge-2.0_1"},
		{pkgname: "foo", pkgver: "foo-1.0_1"},
	})
	db := buildDB(t)
	installDesc(t, db, fixturePkg{pkgname: "dulge", pkgver: "dulge-1.0_1"}, false)

	b := &Builder{Ctx: context.Background(), Pool: pool, DB: db, OwnPkgname: "dulge"}
	tx := New()
	err := tx.InstallPkg(b, "foo", false)
	require.Error(t, err)
	require.True(t, dulgeerrors.Is(err, dulgeerrors.KindBusy))

	tx2 := New()
	require.NoError(t, tx2.InstallPkg(b, "dulge", false))
	p, ok := tx2.Get("dulge")
	require.True(t, ok)
	require.Equal(t, descriptor.TxUpdate, p.Type)
}

// S6: removing a package with autoremove sweeps away dependencies that
// only it pulled in, but leaves behind dependencies still required by
// another installed package.
func TestBuilderAutoremoveOrphans(t *testing.T) {
	db := buildDB(t)
	installDesc(t, db, fixturePkg{pkgname: "foo", pkgver: "foo-1.0_1", runDepends: []string{"libshared>=0", "libonly>=0"}}, false)
	installDesc(t, db, fixturePkg{pkgname: "bar", pkgver: "bar-1.0_1", runDepends: []string{"libshared>=0"}}, false)
	installDesc(t, db, fixturePkg{pkgname: "libshared", pkgver: "libshared-1.0_1"}, true)
	installDesc(t, db, fixturePkg{pkgname: "libonly", pkgver: "libonly-1.0_1"}, true)

	tx := New()
	require.NoError(t, tx.RemovePkg(db, "foo", false))
	require.NoError(t, tx.AutoremoveOrphans(db))

	only, ok := tx.Get("libonly")
	require.True(t, ok)
	require.Equal(t, descriptor.TxRemove, only.Type)

	_, ok = tx.Get("libshared")
	require.False(t, ok, "libshared is still required by bar and must not be autoremoved")
}

// A configured virtual-package preference outranks a real pool
// package of the same name: asking for "python" with a python ->
// python3 preference queues python3, not the literal python package.
func TestBuilderInstallPkgPrefersConfiguredVirtual(t *testing.T) {
	pool := buildPool(t, []fixturePkg{
		{pkgname: "python", pkgver: "python-2.7_1"},
		{pkgname: "python3", pkgver: "python3-3.11_1", provides: []string{"python-3.11_1"}},
	})
	db := buildDB(t)

	b := &Builder{
		Ctx:  context.Background(),
		Pool: pool,
		DB:   db,
		Virtual: func(pattern string) (string, bool) {
			if pattern == "python" {
				return "python3", true
			}
			return "", false
		},
	}
	tx := New()
	require.NoError(t, tx.InstallPkg(b, "python", false))

	p, ok := tx.Get("python3")
	require.True(t, ok)
	require.Equal(t, "python3-3.11_1", p.Pkgver)
	_, ok = tx.Get("python")
	require.False(t, ok)
}

// Installing an already-up-to-date candidate without force returns
// AlreadyPresent.
func TestBuilderInstallPkgAlreadyUpToDate(t *testing.T) {
	pool := buildPool(t, []fixturePkg{
		{pkgname: "foo", pkgver: "foo-1.0_1"},
	})
	db := buildDB(t)
	installDesc(t, db, fixturePkg{pkgname: "foo", pkgver: "foo-1.0_1"}, false)

	b := &Builder{Ctx: context.Background(), Pool: pool, DB: db}
	tx := New()
	err := tx.InstallPkg(b, "foo", false)
	require.Error(t, err)
	require.True(t, dulgeerrors.Is(err, dulgeerrors.KindAlreadyPresent))
}

// Forcing a reinstall of an already-up-to-date candidate queues a
// TxReinstall entry instead of failing.
func TestBuilderInstallPkgForceReinstall(t *testing.T) {
	pool := buildPool(t, []fixturePkg{
		{pkgname: "foo", pkgver: "foo-1.0_1"},
	})
	db := buildDB(t)
	installDesc(t, db, fixturePkg{pkgname: "foo", pkgver: "foo-1.0_1"}, false)

	b := &Builder{Ctx: context.Background(), Pool: pool, DB: db}
	tx := New()
	require.NoError(t, tx.InstallPkg(b, "foo", true))
	p, ok := tx.Get("foo")
	require.True(t, ok)
	require.Equal(t, descriptor.TxReinstall, p.Type)
}
