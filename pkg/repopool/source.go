// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package repopool

import (
	"context"

	"github.com/kraklabs/dulge/pkg/descriptor"
	"github.com/kraklabs/dulge/pkg/pkgver"
)

// VirtualPreference resolves a query pattern to a preferred pkgname
// for a virtual package. It returns ok=false when
// nothing is configured for this query, in which case the caller
// falls back to "any pkg advertising this virtual".
type VirtualPreference func(pattern string) (pkgname string, ok bool)

// Source adapts a Pool into a pkg/depgraph.Source, resolving each
// dependency pattern against the configured repository order: the
// user's virtual-package preference first, then the real package,
// then any provider of the virtual name.
type Source struct {
	Ctx     context.Context
	Pool    *Pool
	Virtual VirtualPreference
}

func (s Source) Find(pattern string) (*descriptor.Descriptor, bool) {
	if s.Virtual != nil {
		if preferred, ok := s.Virtual(pattern); ok {
			if _, d, ok := s.Pool.Find(s.Ctx, preferred); ok {
				return d, true
			}
		}
	}
	name := pkgver.NameOf(pattern)
	if _, d, ok := s.Pool.Find(s.Ctx, name); ok {
		return d, true
	}
	return s.findAnyProvider(pattern)
}

func (s Source) findAnyProvider(pattern string) (*descriptor.Descriptor, bool) {
	vname := pkgver.NameOf(pattern)
	var found *descriptor.Descriptor
	_ = s.Pool.ForEach(s.Ctx, func(r *Repo) error {
		if found != nil {
			return nil
		}
		for _, key := range r.Index.Keys() {
			v, _ := r.Index.Get(key)
			d := descriptor.New(v)
			for _, p := range d.Provides() {
				if pkgver.NameOf(p) == vname {
					found = d
					return nil
				}
			}
		}
		return nil
	})
	return found, found != nil
}
