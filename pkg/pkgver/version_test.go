// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pkgver

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParsePkgver(t *testing.T) {
	name, version, revision, err := ParsePkgver("libfoo-2.0_1")
	require.NoError(t, err)
	require.Equal(t, "libfoo", name)
	require.Equal(t, "2.0", version)
	require.Equal(t, "1", revision)
}

func TestParsePkgverHyphenatedName(t *testing.T) {
	name, version, _, err := ParsePkgver("gtk-doc-1.33.2_2")
	require.NoError(t, err)
	require.Equal(t, "gtk-doc", name)
	require.Equal(t, "1.33.2", version)
}

func TestCmpverMonotonicity(t *testing.T) {
	pairs := [][2]string{
		{"1.0", "1.1"},
		{"1.9", "1.10"},
		{"1.0", "2.0"},
		{"1.0a", "1.0b"},
		{"1.0", "1.0.1"},
	}
	for _, p := range pairs {
		a, b := p[0], p[1]
		require.Equal(t, -1, CmpVersionStrings(a, b), "%s should be < %s", a, b)
		require.Equal(t, 1, CmpVersionStrings(b, a), "%s should be > %s", b, a)
		require.Equal(t, 0, CmpVersionStrings(a, a))
	}
}

func TestCmpverNumericOutranksAlpha(t *testing.T) {
	// at the same run position, a numeric run outranks an alpha run.
	require.Equal(t, 1, CmpVersionStrings("1.1", "1.a"))
	require.Equal(t, -1, CmpVersionStrings("1.a", "1.1"))
}

func TestCmpverTransitivity(t *testing.T) {
	versions := []string{"0.9", "1.0", "1.0.1", "1.1", "1.10", "2.0"}
	for i := 0; i < len(versions)-1; i++ {
		require.True(t, CmpVersionStrings(versions[i], versions[i+1]) < 0)
	}
	for i := 0; i < len(versions); i++ {
		for j := i + 1; j < len(versions); j++ {
			require.True(t, CmpVersionStrings(versions[i], versions[j]) < 0)
		}
	}
}

func TestComparePkgversRevisionIsFinalTiebreak(t *testing.T) {
	cmp, err := ComparePkgvers("foo-1.0_2", "foo-1.0_1")
	require.NoError(t, err)
	require.Equal(t, 1, cmp)
}

func TestReverts(t *testing.T) {
	require.True(t, Reverts("1.5 1.6_1", "1.6", "1"))
	require.True(t, Reverts("1.5", "1.5", "3"))
	require.False(t, Reverts("1.5", "1.6", "1"))
}

func TestCompareCandidateRevertWins(t *testing.T) {
	result, isRevert, err := CompareCandidate("foo-1.5_1", "2.0_1", "foo-2.0_1")
	require.NoError(t, err)
	require.True(t, isRevert)
	require.Equal(t, 1, result)
}

func TestPatternSimpleRange(t *testing.T) {
	p, err := ParsePattern("foo>=1.0<2.0")
	require.NoError(t, err)
	require.Equal(t, "foo", p.Name)
	require.True(t, p.Match("foo-1.5_1"))
	require.True(t, p.Match("foo-1.0_1"))
	require.False(t, p.Match("foo-2.0_1"))
	require.False(t, p.Match("bar-1.5_1"))
}

func TestPatternGlob(t *testing.T) {
	p, err := ParsePattern("python3*")
	require.NoError(t, err)
	require.True(t, p.Glob)
	require.True(t, p.Match("python3-3.11_1"))
	require.False(t, p.Match("python2-2.7_1"))
}

func TestPatternBareName(t *testing.T) {
	p, err := ParsePattern("foo")
	require.NoError(t, err)
	require.True(t, p.Match("foo-1.0_1"))
	require.False(t, p.Match("foobar-1.0_1"))
}

func TestNameOf(t *testing.T) {
	require.Equal(t, "foo", NameOf("foo>=1.0"))
	require.Equal(t, "foo", NameOf("foo"))
	require.Equal(t, "libfoo", NameOf("libfoo-1.0_1"))
	require.Equal(t, "gtk-doc", NameOf("gtk-doc-1.33.2_2"))
	require.Equal(t, "python3*", NameOf("python3*"))
}
