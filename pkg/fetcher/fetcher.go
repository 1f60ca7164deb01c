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

// Package fetcher retrieves local and remote artifacts (repodata,
// binary packages, detached signatures) for the repository pool and
// transaction executor. Network calls are cancellable at chunk
// boundaries, and failures are retried with
// exponential backoff up to a fixed ceiling.
package fetcher

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/metrics"
)

// ProgressFunc receives byte-level download progress for one URL.
type ProgressFunc func(url string, bytesSeen, total int64, filename string, done bool)

// Options configures a single fetch.
type Options struct {
	// Progress is invoked as bytes arrive; may be nil.
	Progress ProgressFunc
	// Retries is the number of additional attempts after the first
	// failure. Zero means a single attempt.
	Retries int
	// BackoffBase is the initial backoff delay, doubled each retry.
	BackoffBase time.Duration
	// IfModifiedSince enables a conditional GET; zero value disables it.
	IfModifiedSince time.Time
	// ExpectedSize, when nonzero, short-circuits the fetch with
	// ErrNotModified-equivalent handling when the destination file
	// already has this exact size (used for repodata mirrors).
	ExpectedSize int64
}

// Fetcher owns the HTTP client used for every remote retrieval. A
// single Fetcher is meant to be called from one goroutine at a time;
// it owns its connection cache and is not reentrant.
type Fetcher struct {
	client *http.Client

	// Metrics, when set, records download byte counts and durations
	// against the caller's Prometheus registry (nil is the common case
	// for tests and one-shot callers).
	Metrics *metrics.Registry
}

// New returns a Fetcher with a bounded per-request timeout consistent
// with the rest of this module's HTTP usage.
func New() *Fetcher {
	return &Fetcher{client: &http.Client{Timeout: 60 * time.Second}}
}

// Get retrieves src (a file:// or http(s):// URL, or a bare local
// path) into destPath, creating parent directories as needed. It
// returns (false, nil) without writing when a conditional GET reports
// not-modified. ctx cancellation is honored at chunk boundaries: the
// download loop checks ctx before reading each chunk.
func (f *Fetcher) Get(ctx context.Context, src, destPath string, opts Options) (fetched bool, err error) {
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = 500 * time.Millisecond
	}
	if opts.ExpectedSize > 0 {
		if fi, err := os.Stat(destPath); err == nil && fi.Size() == opts.ExpectedSize {
			return false, nil
		}
	}

	if localPath, ok := asLocalPath(src); ok {
		return f.copyLocal(localPath, destPath, opts)
	}

	var lastErr error
	delay := opts.BackoffBase
	for attempt := 0; attempt <= opts.Retries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "fetch "+src, ctx.Err())
			case <-time.After(delay):
			}
			delay *= 2
		}
		fetched, err = f.getOnce(ctx, src, destPath, opts)
		if err == nil {
			return fetched, nil
		}
		lastErr = err
	}
	return false, lastErr
}

func (f *Fetcher) getOnce(ctx context.Context, src, destPath string, opts Options) (bool, error) {
	start := time.Now()
	fetched, seen, err := f.doGetOnce(ctx, src, destPath, opts)
	if f.Metrics != nil && err == nil && fetched {
		f.Metrics.DownloadBytesTotal.Add(float64(seen))
		f.Metrics.DownloadDuration.Observe(time.Since(start).Seconds())
	}
	return fetched, err
}

func (f *Fetcher) doGetOnce(ctx context.Context, src, destPath string, opts Options) (bool, int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src, nil)
	if err != nil {
		return false, 0, dulgeerrors.Wrap(dulgeerrors.KindInvalidArgument, "", "build request for "+src, err)
	}
	if !opts.IfModifiedSince.IsZero() {
		req.Header.Set("If-Modified-Since", opts.IfModifiedSince.UTC().Format(http.TimeFormat))
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "fetch "+src, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotModified {
		return false, 0, nil
	}
	if resp.StatusCode != http.StatusOK {
		return false, 0, dulgeerrors.New(dulgeerrors.KindIOFailure, "", "fetch "+src+": http "+strconv.Itoa(resp.StatusCode))
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "create parent dir for "+destPath, err)
	}
	tmp := destPath + ".part"
	out, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "open "+tmp, err)
	}

	total := resp.ContentLength
	filename := filepath.Base(destPath)
	var seen int64
	buf := make([]byte, 32*1024)
	for {
		if ctx.Err() != nil {
			out.Close()
			os.Remove(tmp)
			return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "fetch "+src, ctx.Err())
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmp)
				return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "write "+tmp, werr)
			}
			seen += int64(n)
			if opts.Progress != nil {
				opts.Progress(src, seen, total, filename, false)
			}
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			out.Close()
			os.Remove(tmp)
			return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "read body of "+src, rerr)
		}
	}
	if err := out.Close(); err != nil {
		return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "close "+tmp, err)
	}
	if err := os.Rename(tmp, destPath); err != nil {
		return false, 0, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "rename "+tmp, err)
	}
	if opts.Progress != nil {
		opts.Progress(src, seen, total, filename, true)
	}
	return true, seen, nil
}

func (f *Fetcher) copyLocal(srcPath, destPath string, opts Options) (bool, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return false, dulgeerrors.Wrap(dulgeerrors.KindNotFound, "", "open "+srcPath, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return false, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "create parent dir for "+destPath, err)
	}
	out, err := os.Create(destPath)
	if err != nil {
		return false, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "create "+destPath, err)
	}
	defer out.Close()

	n, err := io.Copy(out, in)
	if err != nil {
		return false, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "copy "+srcPath, err)
	}
	if opts.Progress != nil {
		opts.Progress(srcPath, n, n, filepath.Base(destPath), true)
	}
	return true, nil
}

// asLocalPath recognizes file:// URLs and bare local paths, returning
// the filesystem path to read from directly rather than through HTTP.
func asLocalPath(src string) (string, bool) {
	u, err := url.Parse(src)
	if err != nil {
		return src, true
	}
	switch u.Scheme {
	case "", "file":
		if u.Scheme == "file" {
			return u.Path, true
		}
		return src, true
	case "http", "https":
		return "", false
	default:
		return src, true
	}
}
