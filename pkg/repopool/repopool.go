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

// Package repopool implements the repository pool: opens
// local or mirrored-remote repodata archives, reads their three
// strictly-ordered plist sections, computes the effective index
// (index overlaid by stage), and verifies detached RSA-SHA256
// signatures against a trust-on-first-use key store.
package repopool

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/archive"
	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/fetcher"
	"github.com/kraklabs/dulge/pkg/lock"
	"github.com/kraklabs/dulge/pkg/proptree"
)

// KeyImportFunc is invoked the first time a repository's signing key
// fingerprint is seen; accept=true persists it to the trust store.
type KeyImportFunc func(fingerprint, signer string) (accept bool)

// Repo is one opened repository: its merged package index plus the
// metadata needed to verify package and repodata signatures.
type Repo struct {
	URL           string
	Index         *proptree.Value // pkgname -> descriptor, immutable
	SignatureBy   string
	PublicKey     *rsa.PublicKey
	PublicKeySize int
}

// Find looks up pkgname in this repo's effective index.
func (r *Repo) Find(pkgname string) (*descriptor.Descriptor, bool) {
	v, ok := r.Index.Get(pkgname)
	if !ok {
		return nil, false
	}
	return descriptor.New(v), true
}

// Pool is the ordered set of configured repository URLs plus the
// per-repo cache the handle maintains under metadir.
type Pool struct {
	Metadir   string
	Arch      string
	UseStage  bool
	KeyImport KeyImportFunc

	// Logger receives dotted repopool.* events (key_import, sync);
	// nil defaults to slog.Default().
	Logger *slog.Logger

	fetcher *fetcher.Fetcher
	urls    []string
	cache   map[string]*Repo
}

// New returns an empty pool rooted at metadir.
func New(metadir, arch string) *Pool {
	return &Pool{
		Metadir: metadir,
		Arch:    arch,
		fetcher: fetcher.New(),
		cache:   make(map[string]*Repo),
	}
}

func (p *Pool) log() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Store normalizes, dedupes and appends url to the pool's configured
// order.
func (p *Pool) Store(repoURL string) {
	norm := normalizeURL(repoURL)
	for _, u := range p.urls {
		if u == norm {
			return
		}
	}
	p.urls = append(p.urls, norm)
}

// Remove drops url from the configured order and its cache entry.
func (p *Pool) Remove(repoURL string) {
	norm := normalizeURL(repoURL)
	out := p.urls[:0]
	for _, u := range p.urls {
		if u != norm {
			out = append(out, u)
		}
	}
	p.urls = out
	delete(p.cache, norm)
}

func normalizeURL(u string) string { return strings.TrimRight(u, "/") }

// slug derives the metadir cache subdirectory name for a repository
// URL, giving the metadir/<slug>/<arch>-repodata cache layout.
func slug(repoURL string) string {
	sum := sha256.Sum256([]byte(repoURL))
	return fmt.Sprintf("%x", sum[:8])
}

func (p *Pool) cachePath(repoURL string) string {
	return filepath.Join(p.Metadir, slug(repoURL), p.Arch+"-repodata")
}

// GetRepo returns the cached, already-opened Repo for url, opening it
// on demand.
func (p *Pool) GetRepo(ctx context.Context, repoURL string) (*Repo, error) {
	norm := normalizeURL(repoURL)
	if r, ok := p.cache[norm]; ok {
		return r, nil
	}
	r, err := p.open(ctx, norm)
	if err != nil {
		return nil, err
	}
	p.cache[norm] = r
	return r, nil
}

// Sync refetches url's repodata into the local cache.
func (p *Pool) Sync(ctx context.Context, repoURL string) error {
	norm := normalizeURL(repoURL)
	lk := lock.New(p.cachePath(norm) + ".lock")
	if err := lk.Acquire(ctx, nil); err != nil {
		return err
	}
	defer lk.Release()

	dest := p.cachePath(norm)
	src := strings.TrimRight(norm, "/") + "/" + p.Arch + "-repodata"
	if _, err := p.fetcher.Get(ctx, src, dest, fetcher.Options{Retries: 3}); err != nil {
		p.log().Warn("repopool.sync_failed", "url", norm, "error", err)
		return err
	}
	delete(p.cache, norm)
	p.log().Info("repopool.synced", "url", norm, "dest", dest)
	return nil
}

func (p *Pool) open(ctx context.Context, repoURL string) (*Repo, error) {
	dest := p.cachePath(repoURL)
	if isRemote(repoURL) {
		if _, err := os.Stat(dest); os.IsNotExist(err) {
			if err := p.Sync(ctx, repoURL); err != nil {
				return nil, err
			}
		}
	} else {
		local := strings.TrimPrefix(repoURL, "file://")
		dest = filepath.Join(local, p.Arch+"-repodata")
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		return nil, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "read repodata "+dest, err)
	}
	a := archive.Open(data)

	index, err := readPlistSection(a, "index.plist")
	if err != nil {
		return nil, err
	}
	indexMeta, err := readPlistSection(a, "index-meta.plist")
	if err != nil {
		return nil, err
	}
	stage, err := readPlistSection(a, "stage.plist")
	if err != nil {
		return nil, err
	}

	r := &Repo{URL: repoURL}
	r.SignatureBy = indexMeta.GetString("signature-by")
	if pk := indexMeta.GetString("public-key"); pk != "" {
		key, err := decodePublicKey(pk)
		if err != nil {
			return nil, dulgeerrors.Wrap(dulgeerrors.KindIntegrityFailure, "", "parse public key for "+repoURL, err)
		}
		r.PublicKey = key
		r.PublicKeySize = int(indexMeta.GetUint64("public-key-size"))
		if err := p.trustKey(r); err != nil {
			return nil, err
		}
	}

	effective := index
	if stage.Len() > 0 && (!isRemote(repoURL) || p.UseStage) {
		for _, key := range stage.Keys() {
			v, _ := stage.Get(key)
			_ = effective.Set(key, v)
		}
	}
	// Every descriptor handed out of the pool records the repository
	// it came from, so repolock checks and provenance survive copies.
	for _, key := range effective.Keys() {
		if entry, _ := effective.Get(key); entry.Kind() == proptree.KindMap {
			_ = entry.Set("repository", proptree.NewString(repoURL))
		}
	}
	effective.MakeImmutable()
	r.Index = effective
	return r, nil
}

// readPlistSection parses one repodata member into a mutable mapping;
// an absent member becomes an empty one. The caller freezes whatever
// it exposes.
func readPlistSection(a *archive.Archive, member string) (*proptree.Value, error) {
	v, err := a.FetchPlist(member)
	if err != nil {
		if dulgeerrors.Is(err, dulgeerrors.KindNotFound) {
			return proptree.NewMap(), nil
		}
		return nil, err
	}
	return v, nil
}

// trustKey computes the public key's fingerprint and, if unseen,
// invokes KeyImport; acceptance persists the key under
// metadir/keys/<fingerprint>.plist.
func (p *Pool) trustKey(r *Repo) error {
	fingerprint := fingerprintOf(r.PublicKey)
	keyPath := filepath.Join(p.Metadir, "keys", fingerprint+".plist")
	if _, err := os.Stat(keyPath); err == nil {
		return nil // already trusted
	}

	p.log().Info("repopool.key_import", "fingerprint", fingerprint, "signer", r.SignatureBy, "url", r.URL)
	accept := true
	if p.KeyImport != nil {
		accept = p.KeyImport(fingerprint, r.SignatureBy)
	}
	if !accept {
		p.log().Warn("repopool.key_rejected", "fingerprint", fingerprint, "url", r.URL)
		return dulgeerrors.New(dulgeerrors.KindIntegrityFailure, "", "signing key rejected for "+r.URL)
	}

	if err := os.MkdirAll(filepath.Dir(keyPath), 0755); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "create keys dir", err)
	}
	v := proptree.NewMap()
	_ = v.Set("fingerprint", proptree.NewString(fingerprint))
	_ = v.Set("signer", proptree.NewString(r.SignatureBy))
	if err := proptree.ExternalizeToFile(v, keyPath, false); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "persist key "+keyPath, err)
	}
	p.log().Info("repopool.key_trusted", "fingerprint", fingerprint, "url", r.URL)
	return nil
}

func fingerprintOf(key *rsa.PublicKey) string {
	der, _ := x509.MarshalPKIXPublicKey(key)
	sum := sha256.Sum256(der)
	return fmt.Sprintf("%x", sum)
}

func decodePublicKey(pemOrBase64 string) (*rsa.PublicKey, error) {
	var der []byte
	if block, _ := pem.Decode([]byte(pemOrBase64)); block != nil {
		der = block.Bytes
	} else {
		decoded, err := base64.StdEncoding.DecodeString(pemOrBase64)
		if err != nil {
			return nil, err
		}
		der = decoded
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, err
	}
	rsaKey, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("public key is not RSA")
	}
	return rsaKey, nil
}

// VerifySignature checks a detached RSA-SHA256 signature (the
// ".sig2" file contents) over digest.
func (r *Repo) VerifySignature(digest, signature []byte) error {
	if r.PublicKey == nil {
		return dulgeerrors.New(dulgeerrors.KindIntegrityFailure, "", "repo "+r.URL+" has no public key")
	}
	if err := rsa.VerifyPKCS1v15(r.PublicKey, crypto.SHA256, digest, signature); err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIntegrityFailure, "", "signature verification failed for "+r.URL, err)
	}
	return nil
}

func isRemote(repoURL string) bool {
	u, err := url.Parse(repoURL)
	if err != nil {
		return false
	}
	return u.Scheme == "http" || u.Scheme == "https"
}

// ForEach walks the configured repositories in order, opening each on
// demand, stopping on the first error returned by fn.
func (p *Pool) ForEach(ctx context.Context, fn func(r *Repo) error) error {
	for _, u := range p.urls {
		r, err := p.GetRepo(ctx, u)
		if err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}

// Find looks up pkgname across every configured repository in order,
// returning the first match.
func (p *Pool) Find(ctx context.Context, pkgname string) (*Repo, *descriptor.Descriptor, bool) {
	var foundRepo *Repo
	var foundDesc *descriptor.Descriptor
	_ = p.ForEach(ctx, func(r *Repo) error {
		if foundDesc != nil {
			return nil
		}
		if d, ok := r.Find(pkgname); ok {
			foundRepo, foundDesc = r, d
		}
		return nil
	})
	return foundRepo, foundDesc, foundDesc != nil
}
