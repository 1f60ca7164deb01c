// Copyright 2025 KrakLabs
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package pkgver

import (
	"fmt"
	"strings"
)

// Constraint is one inequality in a pkgpattern, e.g. the ">=1.0" half
// of "foo>=1.0<2.0".
type Constraint struct {
	Op      string // one of ">=", "<=", ">", "<", "="
	Version string
}

// Pattern is a parsed pkgpattern expression.
type Pattern struct {
	Raw         string
	Name        string
	Glob        bool
	Constraints []Constraint
}

func isOpChar(c byte) bool { return c == '<' || c == '>' || c == '=' }
func isGlobChar(c byte) bool {
	return c == '*' || c == '?' || c == '[' || c == ']'
}

// ParsePattern parses a pkgpattern expression: "name", "name>=X",
// "name<=X", "name>X", "name<X", "name=X", "name>=X<Y", or a glob on
// the name such as "python3*".
func ParsePattern(expr string) (*Pattern, error) {
	if expr == "" {
		return nil, fmt.Errorf("pkgver: empty pattern")
	}
	for i := 0; i < len(expr); i++ {
		if isGlobChar(expr[i]) {
			return &Pattern{Raw: expr, Name: expr, Glob: true}, nil
		}
	}
	idx := strings.IndexFunc(expr, func(r rune) bool { return isOpChar(byte(r)) })
	if idx < 0 {
		return &Pattern{Raw: expr, Name: expr}, nil
	}
	name := expr[:idx]
	if name == "" {
		return nil, fmt.Errorf("pkgver: pattern %q has no package name", expr)
	}
	rest := expr[idx:]
	constraints, err := parseConstraints(rest)
	if err != nil {
		return nil, fmt.Errorf("pkgver: pattern %q: %w", expr, err)
	}
	return &Pattern{Raw: expr, Name: name, Constraints: constraints}, nil
}

func parseConstraints(rest string) ([]Constraint, error) {
	var out []Constraint
	i := 0
	for i < len(rest) {
		op, opLen := matchOp(rest[i:])
		if opLen == 0 {
			return nil, fmt.Errorf("expected comparison operator at %q", rest[i:])
		}
		i += opLen
		j := i
		for j < len(rest) && !isOpChar(rest[j]) {
			j++
		}
		if j == i {
			return nil, fmt.Errorf("missing version after operator %q", op)
		}
		out = append(out, Constraint{Op: op, Version: rest[i:j]})
		i = j
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no constraints found")
	}
	return out, nil
}

func matchOp(s string) (string, int) {
	switch {
	case strings.HasPrefix(s, ">="):
		return ">=", 2
	case strings.HasPrefix(s, "<="):
		return "<=", 2
	case strings.HasPrefix(s, ">"):
		return ">", 1
	case strings.HasPrefix(s, "<"):
		return "<", 1
	case strings.HasPrefix(s, "="):
		return "=", 1
	default:
		return "", 0
	}
}

// Match reports whether candidatePkgver ("name-version_revision")
// satisfies p: the name must match exactly (or via glob, for glob
// patterns) and every inequality constraint must hold.
func (p *Pattern) Match(candidatePkgver string) bool {
	name, version, revision, err := ParsePkgver(candidatePkgver)
	if err != nil {
		// Tolerate a bare name (e.g. a virtual package name with no
		// version attached) by treating the whole string as the name.
		name, version, revision = candidatePkgver, "", ""
	}
	if p.Glob {
		return Glob(p.Name, name)
	}
	if name != p.Name {
		return false
	}
	for _, c := range p.Constraints {
		cmp := CmpVerRev(version, revision, versionOf(c.Version), revisionOf(c.Version))
		switch c.Op {
		case ">=":
			if cmp < 0 {
				return false
			}
		case "<=":
			if cmp > 0 {
				return false
			}
		case ">":
			if cmp <= 0 {
				return false
			}
		case "<":
			if cmp >= 0 {
				return false
			}
		case "=":
			if cmp != 0 {
				return false
			}
		}
	}
	return true
}

// versionOf/revisionOf split a constraint's bare version string
// ("1.0" or "1.0_1") into its version and revision parts; a missing
// revision is treated as absent (compares as 0 by CmpVerRev).
func versionOf(s string) string {
	if idx := strings.LastIndex(s, "_"); idx >= 0 {
		return s[:idx]
	}
	return s
}

func revisionOf(s string) string {
	if idx := strings.LastIndex(s, "_"); idx >= 0 {
		return s[idx+1:]
	}
	return ""
}

// NameOf extracts a pkgname from a pkgpattern expression or a full
// pkgver string: the pkgpattern-name rule first ("foo>=1.0" -> "foo"),
// then the pkgver-name rule ("libfoo-1.0_1" -> "libfoo"), then the
// expression itself as a bare name.
func NameOf(expr string) string {
	p, err := ParsePattern(expr)
	if err != nil {
		return expr
	}
	if p.Glob || len(p.Constraints) > 0 {
		return p.Name
	}
	if name, _, _, err := ParsePkgver(expr); err == nil {
		return name
	}
	return expr
}
