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

// Package proptree implements the tagged-value property tree that backs
// every on-disk and in-memory artifact in dulge: package descriptors,
// files manifests, repodata, the installed-package database and the
// in-flight transaction. A Value is one of seven kinds (bool, int64,
// uint64, string, bytes, seq, map); maps keep insertion order for
// serialization but compare order-insensitively, sequences compare
// order-sensitively. Once MakeImmutable has been called on a Value, any
// further mutation on it or its descendants returns an error instead of
// panicking, so a handed-out subtree is safe for concurrent readers.
package proptree

import "fmt"

// Kind identifies which alternative of the tagged union a Value holds.
type Kind int

const (
	KindBool Kind = iota
	KindInt64
	KindUint64
	KindString
	KindBytes
	KindSeq
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindInt64:
		return "int64"
	case KindUint64:
		return "uint64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindSeq:
		return "seq"
	case KindMap:
		return "map"
	default:
		return "invalid"
	}
}

// ErrImmutable is returned by any mutator called on a frozen Value.
var ErrImmutable = fmt.Errorf("proptree: value is immutable")

// Value is one alternative of the tagged variant set. The zero Value is
// not valid; use one of the New* constructors.
type Value struct {
	kind Kind

	b  bool
	i  int64
	u  uint64
	s  string
	by []byte

	seq []*Value

	keys []string
	m    map[string]*Value

	immutable bool
}

// Scalar constructors.

func NewBool(b bool) *Value     { return &Value{kind: KindBool, b: b} }
func NewInt64(i int64) *Value   { return &Value{kind: KindInt64, i: i} }
func NewUint64(u uint64) *Value { return &Value{kind: KindUint64, u: u} }
func NewString(s string) *Value { return &Value{kind: KindString, s: s} }

func NewBytes(b []byte) *Value {
	cp := make([]byte, len(b))
	copy(cp, b)
	return &Value{kind: KindBytes, by: cp}
}

// NewSeq returns an empty, mutable sequence.
func NewSeq() *Value { return &Value{kind: KindSeq} }

// NewMap returns an empty, mutable mapping with no keys yet.
func NewMap() *Value { return &Value{kind: KindMap, m: make(map[string]*Value)} }

func (v *Value) Kind() Kind        { return v.kind }
func (v *Value) IsImmutable() bool { return v.immutable }

func (v *Value) Bool() bool     { return v.b }
func (v *Value) Int64() int64   { return v.i }
func (v *Value) Uint64() uint64 { return v.u }
func (v *Value) String() string { return v.s }
func (v *Value) Bytes() []byte  { return v.by }

// Seq returns the backing slice of a sequence Value. Callers must not
// mutate the returned slice directly; use Append/Prepend/RemoveAt.
func (v *Value) Seq() []*Value { return v.seq }

// Len returns the number of elements (seq) or keys (map); 0 otherwise.
func (v *Value) Len() int {
	switch v.kind {
	case KindSeq:
		return len(v.seq)
	case KindMap:
		return len(v.keys)
	default:
		return 0
	}
}

// Keys returns the mapping's keys in insertion order.
func (v *Value) Keys() []string {
	out := make([]string, len(v.keys))
	copy(out, v.keys)
	return out
}

// Get looks up key in a mapping Value.
func (v *Value) Get(key string) (*Value, bool) {
	if v.kind != KindMap {
		return nil, false
	}
	val, ok := v.m[key]
	return val, ok
}

// GetString is a convenience accessor returning "" when the key is
// absent or not a string.
func (v *Value) GetString(key string) string {
	val, ok := v.Get(key)
	if !ok || val.Kind() != KindString {
		return ""
	}
	return val.String()
}

// GetBool is a convenience accessor returning false when the key is
// absent or not a bool.
func (v *Value) GetBool(key string) bool {
	val, ok := v.Get(key)
	if !ok || val.Kind() != KindBool {
		return false
	}
	return val.Bool()
}

// GetUint64 is a convenience accessor returning 0 when the key is
// absent or not an unsigned integer.
func (v *Value) GetUint64(key string) uint64 {
	val, ok := v.Get(key)
	if !ok || val.Kind() != KindUint64 {
		return 0
	}
	return val.Uint64()
}

// Set inserts or overwrites key in a mapping Value, preserving the
// original position of an existing key.
func (v *Value) Set(key string, val *Value) error {
	if v.kind != KindMap {
		return fmt.Errorf("proptree: Set on non-map value (%s)", v.kind)
	}
	if v.immutable {
		return ErrImmutable
	}
	if _, exists := v.m[key]; !exists {
		v.keys = append(v.keys, key)
	}
	v.m[key] = val
	return nil
}

// Remove deletes key from a mapping Value, if present.
func (v *Value) Remove(key string) error {
	if v.kind != KindMap {
		return fmt.Errorf("proptree: Remove on non-map value (%s)", v.kind)
	}
	if v.immutable {
		return ErrImmutable
	}
	if _, exists := v.m[key]; !exists {
		return nil
	}
	delete(v.m, key)
	for i, k := range v.keys {
		if k == key {
			v.keys = append(v.keys[:i], v.keys[i+1:]...)
			break
		}
	}
	return nil
}

// Append adds val to the tail of a sequence Value.
func (v *Value) Append(val *Value) error {
	if v.kind != KindSeq {
		return fmt.Errorf("proptree: Append on non-seq value (%s)", v.kind)
	}
	if v.immutable {
		return ErrImmutable
	}
	v.seq = append(v.seq, val)
	return nil
}

// Prepend adds val to the head of a sequence Value.
func (v *Value) Prepend(val *Value) error {
	if v.kind != KindSeq {
		return fmt.Errorf("proptree: Prepend on non-seq value (%s)", v.kind)
	}
	if v.immutable {
		return ErrImmutable
	}
	v.seq = append([]*Value{val}, v.seq...)
	return nil
}

// RemoveAt deletes the element at index i from a sequence Value.
func (v *Value) RemoveAt(i int) error {
	if v.kind != KindSeq {
		return fmt.Errorf("proptree: RemoveAt on non-seq value (%s)", v.kind)
	}
	if v.immutable {
		return ErrImmutable
	}
	if i < 0 || i >= len(v.seq) {
		return fmt.Errorf("proptree: index %d out of range", i)
	}
	v.seq = append(v.seq[:i], v.seq[i+1:]...)
	return nil
}

// MakeImmutable recursively freezes v and every descendant. It is a
// one-way operation; there is no corresponding Thaw.
func (v *Value) MakeImmutable() {
	if v.immutable {
		return
	}
	v.immutable = true
	switch v.kind {
	case KindSeq:
		for _, e := range v.seq {
			e.MakeImmutable()
		}
	case KindMap:
		for _, k := range v.keys {
			v.m[k].MakeImmutable()
		}
	}
}

// DeepCopy returns a fully independent, mutable copy of v regardless of
// v's own immutability.
func (v *Value) DeepCopy() *Value {
	switch v.kind {
	case KindBool:
		return NewBool(v.b)
	case KindInt64:
		return NewInt64(v.i)
	case KindUint64:
		return NewUint64(v.u)
	case KindString:
		return NewString(v.s)
	case KindBytes:
		return NewBytes(v.by)
	case KindSeq:
		out := NewSeq()
		for _, e := range v.seq {
			out.seq = append(out.seq, e.DeepCopy())
		}
		return out
	case KindMap:
		out := NewMap()
		for _, k := range v.keys {
			out.keys = append(out.keys, k)
			out.m[k] = v.m[k].DeepCopy()
		}
		return out
	default:
		return nil
	}
}

// Equals reports structural equality: map comparison is order-insensitive
// over keys and values, sequence comparison is order-sensitive.
func (v *Value) Equals(other *Value) bool {
	if v == nil || other == nil {
		return v == other
	}
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == other.b
	case KindInt64:
		return v.i == other.i
	case KindUint64:
		return v.u == other.u
	case KindString:
		return v.s == other.s
	case KindBytes:
		if len(v.by) != len(other.by) {
			return false
		}
		for i := range v.by {
			if v.by[i] != other.by[i] {
				return false
			}
		}
		return true
	case KindSeq:
		if len(v.seq) != len(other.seq) {
			return false
		}
		for i := range v.seq {
			if !v.seq[i].Equals(other.seq[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.keys) != len(other.keys) {
			return false
		}
		for _, k := range v.keys {
			ov, ok := other.m[k]
			if !ok {
				return false
			}
			if !v.m[k].Equals(ov) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
