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

// Package archive implements the fetcher-backed reader: open a
// local or remote tar archive (plain, gzip, or zstd), iterate its
// entries in order, and pull a named member either as an internalized
// property tree or as a raw byte stream.
package archive

import (
	"archive/tar"
	"bufio"
	"bytes"
	"compress/gzip"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"

	dulgeerrors "github.com/kraklabs/dulge/internal/errors"
	"github.com/kraklabs/dulge/pkg/proptree"
)

// Archive is an opened, seekable-from-the-start tar stream. It is not
// safe for concurrent use: callers must drain one member lookup before
// starting the next, matching the streaming-format iteration note in
// the design notes.
type Archive struct {
	open func() (io.ReadCloser, error)
}

// Open wraps raw archive bytes already resident in memory (the normal
// case once the fetcher has retrieved or memory-mapped the file).
func Open(data []byte) *Archive {
	return &Archive{
		open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

// OpenReaderFunc wraps an archive whose bytes must be (re-)opened for
// each scan, e.g. a local file reopened per lookup to avoid holding a
// descriptor for the handle's lifetime.
func OpenReaderFunc(open func() (io.ReadCloser, error)) *Archive {
	return &Archive{open: open}
}

func normalizeMember(name string) string {
	name = strings.TrimPrefix(name, "./")
	return strings.TrimPrefix(name, "/")
}

func decompress(r io.Reader) (io.Reader, error) {
	br := bufio.NewReader(r)
	magic, err := br.Peek(4)
	if err != nil && err != io.EOF {
		return nil, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "peek archive header", err)
	}
	switch {
	case len(magic) >= 2 && magic[0] == 0x1f && magic[1] == 0x8b:
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, dulgeerrors.Wrap(dulgeerrors.KindIntegrityFailure, "", "open gzip archive", err)
		}
		return gz, nil
	case len(magic) >= 4 && magic[0] == 0x28 && magic[1] == 0xb5 && magic[2] == 0x2f && magic[3] == 0xfd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, dulgeerrors.Wrap(dulgeerrors.KindIntegrityFailure, "", "open zstd archive", err)
		}
		return zr, nil
	default:
		return br, nil
	}
}

// foreachEntry walks tar entries in order, invoking visit for each.
// visit returns (stop, err); iteration halts on either.
func (a *Archive) foreachEntry(visit func(hdr *tar.Header, r *tar.Reader) (bool, error)) error {
	rc, err := a.open()
	if err != nil {
		return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "open archive", err)
	}
	defer rc.Close()

	dr, err := decompress(rc)
	if err != nil {
		return err
	}
	tr := tar.NewReader(dr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return dulgeerrors.New(dulgeerrors.KindNotFound, "", "not-found")
		}
		if err != nil {
			return dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "read archive entry", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		stop, err := visit(hdr, tr)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
}

// FetchPlist returns the internalized property tree of the named
// member (e.g. "props.plist", "files.plist"). Returns a NotFound error
// if the archive is exhausted without a match.
func (a *Archive) FetchPlist(member string) (*proptree.Value, error) {
	want := normalizeMember(member)
	var result *proptree.Value
	err := a.foreachEntry(func(hdr *tar.Header, r *tar.Reader) (bool, error) {
		if normalizeMember(hdr.Name) != want {
			return false, nil
		}
		data, err := io.ReadAll(r)
		if err != nil {
			return true, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "read member "+member, err)
		}
		v, err := proptree.Internalize(string(data))
		if err != nil {
			return true, dulgeerrors.Wrap(dulgeerrors.KindIntegrityFailure, "", "parse member "+member, err)
		}
		result = v
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// FetchFileInto streams the named member's content into w. Returns a
// NotFound error if the archive is exhausted without a match.
func (a *Archive) FetchFileInto(member string, w io.Writer) error {
	want := normalizeMember(member)
	return a.foreachEntry(func(hdr *tar.Header, r *tar.Reader) (bool, error) {
		if normalizeMember(hdr.Name) != want {
			return false, nil
		}
		if _, err := io.Copy(w, r); err != nil {
			return true, dulgeerrors.Wrap(dulgeerrors.KindIOFailure, "", "stream member "+member, err)
		}
		return true, nil
	})
}

// Entry describes one regular-file member, used by ForEachEntry
// callers that need to walk the whole payload (e.g. the unpack phase).
type Entry struct {
	Name string
	Mode int64
	Size int64
}

// ForEachEntry visits every regular-file entry in archive order,
// normalizing each name. visit receives the entry metadata and a
// reader positioned at its content; it must fully drain or explicitly
// skip the reader before returning, since the underlying tar.Reader
// advances only on the next Next() call.
func (a *Archive) ForEachEntry(visit func(e Entry, r io.Reader) error) error {
	err := a.foreachEntry(func(hdr *tar.Header, r *tar.Reader) (bool, error) {
		e := Entry{Name: normalizeMember(hdr.Name), Mode: hdr.Mode, Size: hdr.Size}
		if err := visit(e, r); err != nil {
			return true, err
		}
		return false, nil
	})
	if dulgeerrors.Is(err, dulgeerrors.KindNotFound) {
		return nil
	}
	return err
}
