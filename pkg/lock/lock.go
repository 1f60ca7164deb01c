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

// Package lock provides the cross-process advisory locking contract:
// a single mandatory lock for the installed-package database,
// and a per-repository lockfile keyed by path+architecture for index
// rewrites. Acquisition is non-blocking first, then blocking with a
// caller-visible "waiting" callback, matching the flock/TryLock pair
// the original C source uses around pkgdb and repodata writes.
package lock

import (
	"context"
	"time"

	"github.com/gofrs/flock"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
)

// pollInterval is how often a blocking Acquire retries TryLock while
// waiting on another holder.
const pollInterval = 100 * time.Millisecond

// Lock wraps a single advisory lockfile.
type Lock struct {
	path string
	fl   *flock.Flock
}

// New returns a Lock bound to path. The lockfile is created on first
// acquisition attempt if it does not already exist.
func New(path string) *Lock {
	return &Lock{path: path, fl: flock.New(path)}
}

// Path returns the underlying lockfile path.
func (l *Lock) Path() string { return l.path }

// TryAcquire attempts a non-blocking lock. ok is false (with a nil
// error) when another process already holds the lock.
func (l *Lock) TryAcquire() (bool, error) {
	return l.fl.TryLock()
}

// Acquire attempts a non-blocking lock first; on contention it invokes
// onWaiting (if non-nil) once and then blocks, polling until ctx is
// done or the lock is obtained. Returns a Busy *errors.Error if ctx is
// cancelled while waiting.
func (l *Lock) Acquire(ctx context.Context, onWaiting func()) error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "acquire lock "+l.path, err)
	}
	if ok {
		return nil
	}
	if onWaiting != nil {
		onWaiting()
	}
	locked, err := l.fl.TryLockContext(ctx, pollInterval)
	if err != nil {
		if ctx.Err() != nil {
			return dulgeerrors.New(dulgeerrors.KindBusy, "", "lock held by another process: "+l.path)
		}
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "acquire lock "+l.path, err)
	}
	if !locked {
		return dulgeerrors.New(dulgeerrors.KindBusy, "", "lock held by another process: "+l.path)
	}
	return nil
}

// AcquireNonBlocking attempts the lock exactly once and returns a Busy
// *errors.Error immediately on contention.
func (l *Lock) AcquireNonBlocking() error {
	ok, err := l.fl.TryLock()
	if err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "acquire lock "+l.path, err)
	}
	if !ok {
		return dulgeerrors.New(dulgeerrors.KindBusy, "", "lock held by another process: "+l.path)
	}
	return nil
}

// Release drops the lock. Safe to call on an unlocked Lock.
func (l *Lock) Release() error {
	return l.fl.Unlock()
}

// Locked reports whether this process currently holds the lock.
func (l *Lock) Locked() bool { return l.fl.Locked() }
