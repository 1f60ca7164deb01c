// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package depgraph

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kraklabs/dulge/pkg/descriptor"
)

type fakeSource struct {
	byName map[string]*descriptor.Descriptor
}

func (f *fakeSource) Find(pattern string) (*descriptor.Descriptor, bool) {
	d, ok := f.byName[patternName(pattern)]
	return d, ok
}

// patternName strips any comparator suffix for this test's simple
// "name" / "name>=ver" fixtures.
func patternName(pattern string) string {
	for i, r := range pattern {
		if r == '>' || r == '<' || r == '=' {
			return pattern[:i]
		}
	}
	return pattern
}

func mkDesc(pkgname, pkgver string, runDepends, provides []string) *descriptor.Descriptor {
	d := descriptor.NewEmpty()
	d.SetPkgname(pkgname)
	d.SetPkgver(pkgver)
	d.SetRunDepends(runDepends)
	d.SetProvides(provides)
	return d
}

func TestResolveDeepestFirst(t *testing.T) {
	foo := mkDesc("foo", "foo-1.0_1", nil, nil)
	bar := mkDesc("bar", "bar-1.0_1", []string{"foo>=1.0"}, nil)
	src := &fakeSource{byName: map[string]*descriptor.Descriptor{"foo": foo, "bar": bar}}

	order, err := Resolve(bar, src)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0_1"}, order)
}

func TestResolveProvidesOverridesRequires(t *testing.T) {
	// pkg declares run_depends on a name it also provides itself (the
	// provides entry carries the full virtual pkgver): must not appear
	// in the output, and must not be looked up at all.
	self := mkDesc("busybox", "busybox-1.0_1", []string{"coreutils"}, []string{"coreutils-9.0_1"})
	src := &fakeSource{byName: map[string]*descriptor.Descriptor{}}

	order, err := Resolve(self, src)
	require.NoError(t, err)
	require.Empty(t, order)
}

func TestResolveMissingDependencyErrors(t *testing.T) {
	bar := mkDesc("bar", "bar-1.0_1", []string{"foo>=1.0"}, nil)
	src := &fakeSource{byName: map[string]*descriptor.Descriptor{}}

	_, err := Resolve(bar, src)
	require.Error(t, err)
}

func TestResolveLenientSkipsMissingLocalDependency(t *testing.T) {
	foo := mkDesc("foo", "foo-1.0_1", nil, nil)
	bar := mkDesc("bar", "bar-1.0_1", []string{"foo>=1.0", "absent>=1.0"}, nil)
	src := &fakeSource{byName: map[string]*descriptor.Descriptor{"foo": foo}}

	order, err := ResolveLenient(bar, src)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0_1"}, order)
}

func TestResolveNoDuplicateEmission(t *testing.T) {
	// diamond: bar and baz both depend on foo; foo must appear once.
	foo := mkDesc("foo", "foo-1.0_1", nil, nil)
	bar := mkDesc("bar", "bar-1.0_1", []string{"foo>=1.0"}, nil)
	baz := mkDesc("baz", "baz-1.0_1", []string{"foo>=1.0", "bar>=1.0"}, nil)
	src := &fakeSource{byName: map[string]*descriptor.Descriptor{"foo": foo, "bar": bar}}

	order, err := Resolve(baz, src)
	require.NoError(t, err)
	require.Equal(t, []string{"foo-1.0_1", "bar-1.0_1"}, order)
}
