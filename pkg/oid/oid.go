// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package oid implements the content-addressed object identifiers used
// throughout the object store: a fixed-width cryptographic hash that
// names a commit, tree, blob, or tag.
package oid

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"sort"

	"github.com/zeebo/errs"
	"golang.org/x/crypto/blake2b"
)

// Error is the default error class for the oid package.
var Error = errs.Class("oid")

// Size is the width, in bytes, of an OID.
const Size = 32

// OID is a content-addressed object identifier. The zero value is the
// null OID and never names a real object.
type OID [Size]byte

// Nil is the null OID.
var Nil OID

// New derives the OID of content by hashing it with blake2b-256.
//
// This stands in for the rev-walk's and pack-writer's real hashing scheme;
// the core GC algorithm only depends on OIDs being fixed-width, comparable,
// and totally ordered, never on the specific hash family.
func New(content []byte) OID {
	sum := blake2b.Sum256(content)
	return OID(sum)
}

// Random returns a pseudo-random OID, useful for tests and synthetic fixtures.
func Random() OID {
	var id OID
	if _, err := rand.Read(id[:]); err != nil {
		panic(err)
	}
	return id
}

// IsNil reports whether id is the null OID.
func (id OID) IsNil() bool {
	return id == Nil
}

// Bytes returns the OID's bytes.
func (id OID) Bytes() []byte {
	return id[:]
}

// String returns the hex representation of the OID.
func (id OID) String() string {
	return hex.EncodeToString(id[:])
}

// Compare returns -1, 0, or 1 depending on whether id is less than, equal
// to, or greater than other, establishing the OID total order.
func (id OID) Compare(other OID) int {
	return bytes.Compare(id[:], other[:])
}

// Less reports whether id sorts before other.
func (id OID) Less(other OID) bool {
	return id.Compare(other) < 0
}

// FromBytes parses an OID from a byte slice of length Size.
func FromBytes(b []byte) (OID, error) {
	var id OID
	if len(b) != Size {
		return id, Error.New("invalid oid length %d", len(b))
	}
	copy(id[:], b)
	return id, nil
}

// FromString parses an OID from its hex representation.
func FromString(s string) (OID, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return Nil, Error.Wrap(err)
	}
	return FromBytes(b)
}

// Set is a membership structure over OIDs, used for the "want"/"have"
// sets passed to the pack writer and for the new-pack OID sets that later
// phases must exclude from their own output.
//
// A Set is a single map-backed membership structure; a GC run keeps one
// Set per pack it writes. A Set is only ever written by one goroutine (the
// phase that produced it); later phases only read it.
type Set struct {
	m map[OID]struct{}
}

// NewSet creates an empty Set, optionally pre-sized.
func NewSet(sizeHint int) *Set {
	return &Set{m: make(map[OID]struct{}, sizeHint)}
}

// NewSetFromSlice builds a Set containing exactly the given OIDs.
func NewSetFromSlice(ids []OID) *Set {
	s := NewSet(len(ids))
	for _, id := range ids {
		s.Add(id)
	}
	return s
}

// Add inserts id into the set.
func (s *Set) Add(id OID) {
	s.m[id] = struct{}{}
}

// Contains reports whether id is a member of the set.
func (s *Set) Contains(id OID) bool {
	if s == nil {
		return false
	}
	_, ok := s.m[id]
	return ok
}

// Len returns the number of members.
func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.m)
}

// Slice returns the members in sorted order.
func (s *Set) Slice() []OID {
	if s == nil {
		return nil
	}
	out := make([]OID, 0, len(s.m))
	for id := range s.m {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

// Union returns a new Set containing every OID in any of sets.
func Union(sets ...*Set) *Set {
	out := NewSet(0)
	for _, s := range sets {
		if s == nil {
			continue
		}
		for id := range s.m {
			out.Add(id)
		}
	}
	return out
}
