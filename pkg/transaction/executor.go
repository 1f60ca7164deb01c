// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package transaction

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/alternatives"
	"github.com/kraklabs/dulge/pkg/archive"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/fetcher"
	"github.com/kraklabs/dulge/pkg/manifest"
	"github.com/kraklabs/dulge/pkg/metrics"
	"github.com/kraklabs/dulge/pkg/pkgdb"
	"github.com/kraklabs/dulge/pkg/proptree"
	"github.com/kraklabs/dulge/pkg/repopool"
)

// StateEvent is one progress or error notification from the executor.
type StateEvent struct {
	Event  string
	Pkgver string
	Desc   string
	Err    error
}

// StateFunc receives executor progress/error events in emission order.
type StateFunc func(StateEvent)

// Executor drives the install/remove state machine across a prepared
// transaction's package list.
type Executor struct {
	Ctx          context.Context
	Fetcher      *fetcher.Fetcher
	Pool         *repopool.Pool
	DB           *pkgdb.DB
	Alternatives *alternatives.Registry
	Rootdir      string
	Cachedir     string
	KeepConfig   bool
	DownloadOnly bool

	State     StateFunc
	Configure func(pkgname string, d *descriptor.Descriptor) error

	// Preserved reports whether a path matches a configured
	// preserve-file pattern; such files survive removal and
	// obsolete-file pruning. May be nil.
	Preserved func(path string) bool

	// Metrics, when set, records per-transaction outcome counters
	// (installs, removes, success/failure) against the caller's
	// Prometheus registry; nil is the common case for tests.
	Metrics *metrics.Registry

	// Logger receives dotted txn.* events (verify_failed, executed);
	// nil defaults to slog.Default().
	Logger *slog.Logger
}

func (e *Executor) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Executor) emit(event StateEvent) {
	if e.State != nil {
		e.State(event)
	}
}

// archiveExt is the binary package suffix of the
// <pkgname>-<version>_<revision>.<arch>.<ext> filename convention.
const archiveExt = "dulge"

func (e *Executor) cacheFilename(d *descriptor.Descriptor) string {
	return filepath.Join(e.Cachedir, fmt.Sprintf("%s.%s.%s", d.Pkgver(), d.Architecture(), archiveExt))
}

func (e *Executor) preserved(path string) bool {
	return e.Preserved != nil && e.Preserved(path)
}

// Execute runs the six phases in order across t.Packages: download,
// verify, remove, unpack, configure, flush.
func (e *Executor) Execute(t *Transaction) (err error) {
	defer func() {
		if err != nil {
			e.log().Error("txn.executed", "outcome", "failure", "error", err)
		} else {
			e.log().Info("txn.executed", "outcome", "success",
				"install", t.Counters.Install, "update", t.Counters.Update, "remove", t.Counters.Remove)
		}
	}()
	if e.Metrics != nil {
		defer func() {
			outcome := "success"
			if err != nil {
				outcome = "failure"
			}
			e.Metrics.ObserveTransaction(outcome, t.Counters.Install+t.Counters.Update, t.Counters.Remove)
			e.Metrics.InstalledPackages.Set(float64(e.DB.Len()))
		}()
	}

	if err = e.download(t); err != nil {
		return err
	}
	if err = e.verify(t); err != nil {
		return err
	}
	if e.DownloadOnly {
		return nil
	}
	if err = e.removePhase(t); err != nil {
		return err
	}
	if err = e.unpackPhase(t); err != nil {
		return err
	}
	if err = e.configurePhase(t); err != nil {
		return err
	}
	return e.flush()
}

// download is phase 1.
func (e *Executor) download(t *Transaction) error {
	for _, p := range t.Packages {
		if p.Type == descriptor.TxRemove || p.Type == descriptor.TxHold || p.Descriptor == nil {
			continue
		}
		dest := e.cacheFilename(p.Descriptor)
		if needsFetch, err := e.cacheMismatch(dest, p.Descriptor); err != nil {
			return err
		} else if !needsFetch {
			continue
		}

		repo, _, ok := e.Pool.Find(e.Ctx, p.Pkgname)
		if !ok {
			return dulgeerrors.New(dulgeerrors.KindNotFound, p.Pkgver, "no repository offers "+p.Pkgver)
		}
		src := strings.TrimRight(repo.URL, "/") + "/" + filepath.Base(dest)
		_, err := e.Fetcher.Get(e.Ctx, src, dest, fetcher.Options{
			Retries: 3,
			Progress: func(url string, seen, total int64, filename string, done bool) {
				e.emit(StateEvent{Event: "fetch-progress", Pkgver: p.Pkgver})
			},
		})
		if err != nil {
			return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, p.Pkgver, "download", err)
		}
		if repo.PublicKey != nil {
			if _, err := e.Fetcher.Get(e.Ctx, src+".sig2", dest+".sig2", fetcher.Options{Retries: 3}); err != nil {
				return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, p.Pkgver, "download signature", err)
			}
		}
		e.emit(StateEvent{Event: "downloaded", Pkgver: p.Pkgver})
	}
	return nil
}

func (e *Executor) cacheMismatch(dest string, d *descriptor.Descriptor) (bool, error) {
	data, err := os.ReadFile(dest)
	if err != nil {
		return true, nil
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]) != d.FilenameSHA256(), nil
}

// verify is phase 2.
func (e *Executor) verify(t *Transaction) error {
	for _, p := range t.Packages {
		if p.Type == descriptor.TxRemove || p.Type == descriptor.TxHold || p.Descriptor == nil {
			continue
		}
		dest := e.cacheFilename(p.Descriptor)
		data, err := os.ReadFile(dest)
		if err != nil {
			return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, p.Pkgver, "read cached archive", err)
		}
		sum := sha256.Sum256(data)
		if hex.EncodeToString(sum[:]) != p.Descriptor.FilenameSHA256() {
			e.log().Error("txn.verify_failed", "pkgver", p.Pkgver, "reason", "sha256 mismatch")
			return dulgeerrors.New(dulgeerrors.KindIntegrityFailure, p.Pkgver, "sha256 mismatch")
		}

		// A signed repository makes the detached signature mandatory;
		// unsigned repositories have nothing to check against.
		if repo, _, ok := e.Pool.Find(e.Ctx, p.Pkgname); ok && repo.PublicKey != nil {
			sig, err := os.ReadFile(dest + ".sig2")
			if err != nil {
				e.log().Error("txn.verify_failed", "pkgver", p.Pkgver, "reason", "missing signature")
				return dulgeerrors.Wrap(dulgeerrors.KindIntegrityFailure, p.Pkgver, "read detached signature", err)
			}
			if verr := repo.VerifySignature(sum[:], sig); verr != nil {
				e.log().Error("txn.verify_failed", "pkgver", p.Pkgver, "reason", "signature", "error", verr)
				return verr
			}
		}
		e.emit(StateEvent{Event: "verified", Pkgver: p.Pkgver})
	}
	return nil
}

// removePhase is phase 3. Removal is two-phase: every file is
// permission-checked first, so a failing check stops the removal
// before anything on disk has been touched. A package found already
// half-removed (a previous run died between file removal and
// unregister) skips straight to the purge.
func (e *Executor) removePhase(t *Transaction) error {
	for _, p := range t.Packages {
		if p.Type != descriptor.TxRemove {
			continue
		}
		installed, ok := e.DB.Get(p.Pkgname)
		if !ok {
			continue
		}

		if installed.State() != descriptor.StateHalfRemoved {
			m, err := loadManifest(e.Rootdir, p.Pkgname)
			if err != nil {
				return err
			}
			if err := e.preRemoveCheck(m); err != nil {
				return dulgeerrors.Wrap(dulgeerrors.KindPermissionDenied, installed.Pkgver(), "remove pre-check", err)
			}
			installed.SetState(descriptor.StateHalfRemoved)
			if err := e.removeFiles(m); err != nil {
				return err
			}
		}

		if e.Alternatives != nil {
			hadDeps := len(installed.RunDepends()) > 0 || len(installed.ShlibRequires()) > 0
			if err := e.Alternatives.Unregister(p.Pkgname, false, hadDeps); err != nil {
				return err
			}
		}

		_ = os.Remove(manifestPath(e.Rootdir, p.Pkgname))
		if err := e.DB.Remove(p.Pkgname); err != nil {
			return err
		}
		e.emit(StateEvent{Event: "removed", Pkgver: installed.Pkgver()})
	}
	return nil
}

func (e *Executor) removeFiles(m *manifest.Manifest) error {
	for _, f := range m.Files {
		if e.preserved(f.Path) {
			continue
		}
		full := filepath.Join(e.Rootdir, f.Path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			e.log().Warn("txn.remove_file_failed", "path", full, "error", err)
			continue // non-fatal; recorded and skipped
		}
	}
	for _, l := range m.Links {
		full := filepath.Join(e.Rootdir, l.Path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			e.log().Warn("txn.remove_link_failed", "path", full, "error", err)
			continue
		}
	}
	for i := len(m.Dirs) - 1; i >= 0; i-- {
		full := filepath.Join(e.Rootdir, m.Dirs[i])
		_ = os.Remove(full) // ENOTEMPTY/EBUSY tolerated; pruning continues
	}
	return nil
}

// unpackPhase is phase 4: extracts each archive, applying the
// three-way config-file rule to entries in conf_files.
func (e *Executor) unpackPhase(t *Transaction) error {
	for _, p := range t.Packages {
		if p.Type != descriptor.TxInstall && p.Type != descriptor.TxUpdate && p.Type != descriptor.TxReinstall {
			continue
		}
		dest := e.cacheFilename(p.Descriptor)
		data, err := os.ReadFile(dest)
		if err != nil {
			return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, p.Pkgver, "read cached archive", err)
		}
		a := archive.Open(data)

		filesPlist, err := a.FetchPlist("files.plist")
		if err != nil && !dulgeerrors.Is(err, dulgeerrors.KindNotFound) {
			return err
		}
		var m *manifest.Manifest
		if filesPlist != nil {
			m = manifest.FromValue(filesPlist)
		} else {
			m = manifest.New()
		}

		var oldManifest *manifest.Manifest
		if old, err := loadManifest(e.Rootdir, p.Pkgname); err == nil {
			oldManifest = old
		}

		if err := a.ForEachEntry(func(entry archive.Entry, r io.Reader) error {
			if entry.Name == "props.plist" || entry.Name == "files.plist" {
				return nil
			}
			return e.unpackEntry(entry, r, m, oldManifest, p.Pkgver)
		}); err != nil {
			return err
		}

		if oldManifest != nil {
			e.pruneObsoleteFiles(t, p.Pkgname, oldManifest, m)
		}

		if err := saveManifest(e.Rootdir, p.Pkgname, m); err != nil {
			return err
		}

		d := p.Descriptor.Clone()
		d.SetState(descriptor.StateUnpacked)
		if err := e.DB.Put(p.Pkgname, d); err != nil {
			return err
		}
		e.emit(StateEvent{Event: "unpacked", Pkgver: p.Pkgver})
	}
	return nil
}

func (e *Executor) unpackEntry(entry archive.Entry, r io.Reader, m, oldManifest *manifest.Manifest, incomingPkgver string) error {
	full := filepath.Join(e.Rootdir, entry.Name)
	confHash, isConf := confFileHash(m, entry.Name)

	if isConf {
		var origHash string
		hadOrig := false
		if oldManifest != nil {
			origHash, hadOrig = confFileHash(oldManifest, entry.Name)
		}
		curHash, curErr := fileHash(full)
		var action ConfFileAction
		switch {
		case !hadOrig:
			// No prior owner recorded: a regular file already sitting
			// at the destination is managed by someone else and must
			// not be clobbered; the incoming content goes aside. A
			// symlink or an absent path gets the fresh install.
			if curErr == nil && isRegularFile(full) {
				action = SaveNewAside
			} else {
				action = InstallNew
			}
		case curErr != nil:
			action = InstallNew
		default:
			action = ResolveConfFile(origHash, curHash, confHash, e.KeepConfig)
		}
		switch action {
		case KeepCurrent:
			return drain(r)
		case SaveNewAside:
			full = full + ".new-" + incomingPkgver
		}
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "create parent dir for "+full, err)
	}
	f, err := os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(entry.Mode))
	if err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "open "+full, err)
	}
	defer f.Close()
	if _, err := io.Copy(f, r); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "write "+full, err)
	}
	return nil
}

// pruneObsoleteFiles unlinks files and links the old manifest records
// that the incoming one no longer does, recording the pruned paths in
// the transaction's obsolete-files map. Conf files and preserved
// paths are never pruned.
func (e *Executor) pruneObsoleteFiles(t *Transaction, pkgname string, old, cur *manifest.Manifest) {
	keep := make(map[string]bool, len(cur.Files)+len(cur.Links)+len(cur.ConfFiles))
	for _, f := range cur.Files {
		keep[f.Path] = true
	}
	for _, l := range cur.Links {
		keep[l.Path] = true
	}
	for _, cf := range cur.ConfFiles {
		keep[cf.Path] = true
	}

	prune := func(path string) {
		if keep[path] || e.preserved(path) {
			return
		}
		full := filepath.Join(e.Rootdir, path)
		if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
			e.log().Warn("txn.obsolete_remove_failed", "path", full, "error", err)
			return
		}
		if t.ObsoleteFiles == nil {
			t.ObsoleteFiles = make(map[string][]string)
		}
		t.ObsoleteFiles[pkgname] = append(t.ObsoleteFiles[pkgname], path)
	}
	for _, f := range old.Files {
		prune(f.Path)
	}
	for _, l := range old.Links {
		prune(l.Path)
	}
}

func drain(r io.Reader) error {
	_, err := io.Copy(io.Discard, r)
	return err
}

func confFileHash(m *manifest.Manifest, path string) (string, bool) {
	for _, cf := range m.ConfFiles {
		if cf.Path == path {
			return cf.SHA256, true
		}
	}
	return "", false
}

// isRegularFile reports whether path is a plain regular file (not a
// symlink), without following links.
func isRegularFile(path string) bool {
	fi, err := os.Lstat(path)
	return err == nil && fi.Mode().IsRegular()
}

func fileHash(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// configurePhase is phase 5.
func (e *Executor) configurePhase(t *Transaction) error {
	for _, p := range t.Packages {
		if p.Type != descriptor.TxInstall && p.Type != descriptor.TxUpdate && p.Type != descriptor.TxReinstall {
			continue
		}
		if e.Configure != nil {
			if err := e.Configure(p.Pkgname, p.Descriptor); err != nil {
				return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, p.Pkgver, "configure hook", err)
			}
		}
		if e.Alternatives != nil {
			if err := e.Alternatives.Register(p.Pkgname, p.Descriptor.Alternatives()); err != nil {
				return err
			}
		}
		d := p.Descriptor.Clone()
		d.SetState(descriptor.StateInstalled)
		d.SetAutomaticInstall(p.AutomaticInstall)
		if err := e.DB.Put(p.Pkgname, d); err != nil {
			return err
		}
		e.emit(StateEvent{Event: "installed", Pkgver: p.Pkgver})
	}
	return nil
}

// flush is phase 6: persist the alternatives registry back into its
// reserved database submap, then externalize the database (a no-op
// when the serialized form is unchanged).
func (e *Executor) flush() error {
	if e.Alternatives != nil {
		if err := e.DB.SetAlternativesGroups(e.Alternatives.Snapshot()); err != nil {
			return err
		}
	}
	return e.DB.Update(true)
}

func manifestPath(rootdir, pkgname string) string {
	return filepath.Join(rootdir, "var", "db", "dulge", "."+pkgname+"-files.plist")
}

func loadManifest(rootdir, pkgname string) (*manifest.Manifest, error) {
	path := manifestPath(rootdir, pkgname)
	v, err := proptree.InternalizeFile(path)
	if err != nil {
		return manifest.New(), nil
	}
	return manifest.FromValue(v), nil
}

func saveManifest(rootdir, pkgname string, m *manifest.Manifest) error {
	path := manifestPath(rootdir, pkgname)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, pkgname, "create metadir", err)
	}
	return proptree.ExternalizeToFile(m.ToValue(), path, false)
}
