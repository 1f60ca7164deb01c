// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package proptree

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func buildSample() *Value {
	m := NewMap()
	_ = m.Set("pkgname", NewString("foo"))
	_ = m.Set("installed_size", NewUint64(2048))
	_ = m.Set("hold", NewBool(false))
	deps := NewSeq()
	_ = deps.Append(NewString("bar>=1.0"))
	_ = deps.Append(NewString("baz"))
	_ = m.Set("run_depends", deps)
	_ = m.Set("blob", NewBytes([]byte{0x00, 0x01, 0xff}))
	return m
}

func TestRoundTrip(t *testing.T) {
	orig := buildSample()
	text, err := Externalize(orig)
	require.NoError(t, err)

	got, err := Internalize(text)
	require.NoError(t, err)

	require.True(t, orig.Equals(got), "internalize(externalize(v)) must equal v")
}

func TestExternalizeDeterministic(t *testing.T) {
	a := buildSample()
	b := buildSample()
	ta, err := Externalize(a)
	require.NoError(t, err)
	tb, err := Externalize(b)
	require.NoError(t, err)
	require.Equal(t, ta, tb)
}

func TestMapEqualityOrderInsensitive(t *testing.T) {
	a := NewMap()
	_ = a.Set("x", NewInt64(1))
	_ = a.Set("y", NewInt64(2))

	b := NewMap()
	_ = b.Set("y", NewInt64(2))
	_ = b.Set("x", NewInt64(1))

	require.True(t, a.Equals(b))
}

func TestSeqEqualityOrderSensitive(t *testing.T) {
	a := NewSeq()
	_ = a.Append(NewInt64(1))
	_ = a.Append(NewInt64(2))

	b := NewSeq()
	_ = b.Append(NewInt64(2))
	_ = b.Append(NewInt64(1))

	require.False(t, a.Equals(b))
}

func TestImmutableRejectsMutation(t *testing.T) {
	m := buildSample()
	m.MakeImmutable()

	require.ErrorIs(t, m.Set("new", NewBool(true)), ErrImmutable)

	deps, ok := m.Get("run_depends")
	require.True(t, ok)
	require.ErrorIs(t, deps.Append(NewString("qux")), ErrImmutable)
}

func TestDeepCopyIsIndependentAndMutable(t *testing.T) {
	m := buildSample()
	m.MakeImmutable()

	cp := m.DeepCopy()
	require.False(t, cp.IsImmutable())
	require.NoError(t, cp.Set("extra", NewBool(true)))

	_, origHasExtra := m.Get("extra")
	require.False(t, origHasExtra, "mutating the copy must not affect the immutable original")
}

func TestUnknownTagRejected(t *testing.T) {
	_, err := Internalize("<plist version=\"1.0\">\n<bogus/>\n</plist>\n")
	require.Error(t, err)
}

func TestCompressedRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/sample.plist.gz"

	orig := buildSample()
	require.NoError(t, ExternalizeToFile(orig, path, true))

	got, err := InternalizeFile(path)
	require.NoError(t, err)
	require.True(t, orig.Equals(got))
}
