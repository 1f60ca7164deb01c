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

// Package pkgver implements the version algebra: parsing
// "name-version_revision" identifiers, comparing them by the
// epoch-free dotted/alpha run rules, and matching pkgpattern
// expressions ("name>=X", "name<Y", "name>=X<Y", glob-on-name).
package pkgver

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ParsePkgver splits "name-version_revision" into its three parts. The
// trailing "_N" after the last "-" is the revision; the substring
// between the last "-" and that "_" is the version; everything before
// is the name.
func ParsePkgver(pkgver string) (name, version, revision string, err error) {
	lastDash := strings.LastIndex(pkgver, "-")
	if lastDash < 0 {
		return "", "", "", fmt.Errorf("pkgver: %q has no version separator", pkgver)
	}
	name = pkgver[:lastDash]
	verRev := pkgver[lastDash+1:]
	if name == "" || verRev == "" {
		return "", "", "", fmt.Errorf("pkgver: %q is malformed", pkgver)
	}
	lastUnderscore := strings.LastIndex(verRev, "_")
	if lastUnderscore < 0 {
		return "", "", "", fmt.Errorf("pkgver: %q has no revision separator", pkgver)
	}
	version = verRev[:lastUnderscore]
	revision = verRev[lastUnderscore+1:]
	if version == "" || revision == "" {
		return "", "", "", fmt.Errorf("pkgver: %q is malformed", pkgver)
	}
	return name, version, revision, nil
}

// token is one maximal numeric or alpha run extracted by tokenize.
type token struct {
	isNum bool
	s     string
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isAlnum(c byte) bool {
	return isDigit(c) || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// tokenize splits v into numeric and alpha runs, discarding any
// run of non-alphanumeric separator characters (".", "-", "~", ...).
func tokenize(v string) []token {
	var toks []token
	i, n := 0, len(v)
	for i < n {
		c := v[i]
		switch {
		case !isAlnum(c):
			i++
		case isDigit(c):
			j := i
			for j < n && isDigit(v[j]) {
				j++
			}
			toks = append(toks, token{isNum: true, s: v[i:j]})
			i = j
		default:
			j := i
			for j < n && isAlnum(v[j]) && !isDigit(v[j]) {
				j++
			}
			toks = append(toks, token{isNum: false, s: v[i:j]})
			i = j
		}
	}
	return toks
}

func cmpNumericStr(a, b string) int {
	a = strings.TrimLeft(a, "0")
	b = strings.TrimLeft(b, "0")
	if len(a) != len(b) {
		if len(a) < len(b) {
			return -1
		}
		return 1
	}
	return strings.Compare(a, b)
}

// cmpTokens compares two possibly-absent tokens; a missing token
// compares as 0.
func cmpTokens(a, b *token) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		// missing vs numeric: 0 vs N; missing vs alpha: the missing
		// token is a numeric 0, which outranks the alpha run.
		if b.isNum {
			return cmpNumericStr("0", b.s)
		}
		return 1
	}
	if b == nil {
		if a.isNum {
			return cmpNumericStr(a.s, "0")
		}
		return -1
	}
	if a.isNum && b.isNum {
		return cmpNumericStr(a.s, b.s)
	}
	if a.isNum != b.isNum {
		// "a numeric run outranks an alpha run at the same position".
		if a.isNum {
			return 1
		}
		return -1
	}
	return strings.Compare(a.s, b.s)
}

// CmpVersionStrings compares two bare version strings (no revision)
// using the tokenized run rules. Returns -1, 0 or 1.
func CmpVersionStrings(a, b string) int {
	ta, tb := tokenize(a), tokenize(b)
	n := len(ta)
	if len(tb) > n {
		n = len(tb)
	}
	for i := 0; i < n; i++ {
		var pa, pb *token
		if i < len(ta) {
			pa = &ta[i]
		}
		if i < len(tb) {
			pb = &tb[i]
		}
		if c := cmpTokens(pa, pb); c != 0 {
			return c
		}
	}
	return 0
}

// CmpVerRev compares two "version_revision" pairs: the version first,
// the revision last. A missing
// revision compares as "0".
func CmpVerRev(versionA, revisionA, versionB, revisionB string) int {
	if c := CmpVersionStrings(versionA, versionB); c != 0 {
		return c
	}
	if revisionA == "" {
		revisionA = "0"
	}
	if revisionB == "" {
		revisionB = "0"
	}
	return cmpNumericStr(revisionA, revisionB)
}

// ComparePkgvers parses two full "name-version_revision" strings and
// compares their version/revision, ignoring the name. It is an error
// for either argument to fail ParsePkgver.
func ComparePkgvers(a, b string) (int, error) {
	_, va, ra, err := ParsePkgver(a)
	if err != nil {
		return 0, err
	}
	_, vb, rb, err := ParsePkgver(b)
	if err != nil {
		return 0, err
	}
	if c := CmpVersionStrings(va, vb); c != 0 {
		return c, nil
	}
	return cmpNumericStr(ra, rb), nil
}

// Reverts reports whether revertsField (a space-separated list of
// version or version_revision strings carried by a package's `reverts`
// property) names otherVersionRev exactly, meaning the package
// advertising revertsField supersedes that version regardless of
// cmpver's numeric ordering.
func Reverts(revertsField, otherVersion, otherRevision string) bool {
	if revertsField == "" {
		return false
	}
	otherVerRev := otherVersion + "_" + otherRevision
	for _, entry := range strings.Fields(revertsField) {
		if entry == otherVersion || entry == otherVerRev {
			return true
		}
	}
	return false
}

// CompareCandidate compares a candidate pkgver against an installed
// pkgver, honoring the candidate's `reverts` property: if the
// candidate reverts the installed version, the
// candidate always wins regardless of cmpver. Returns a positive
// result when candidate > installed, with isRevert reporting whether
// that verdict came from a revert rather than cmpver.
func CompareCandidate(candidatePkgver, candidateReverts, installedPkgver string) (result int, isRevert bool, err error) {
	_, iv, ir, err := ParsePkgver(installedPkgver)
	if err != nil {
		return 0, false, err
	}
	if Reverts(candidateReverts, iv, ir) {
		return 1, true, nil
	}
	cmp, err := ComparePkgvers(candidatePkgver, installedPkgver)
	if err != nil {
		return 0, false, err
	}
	return cmp, false, nil
}

// Glob reports whether name matches the shell glob pattern (the
// "name-glob*" pattern form matches the package name only).
func Glob(pattern, name string) bool {
	ok, err := filepath.Match(pattern, name)
	return err == nil && ok
}
