// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package gc implements the garbage collection and repack engine: the ref
// set collector, pack catalog classifier, garbage policy, graph packer
// driver, and commit/rollback coordinator described by the specification.
package gc

import (
	"time"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
)

// RefPartition is the disjoint classification of every ref into the four
// sets the graph packer driver needs, produced once per run (§3).
type RefPartition struct {
	AllHeads   *oid.Set
	NonHeads   *oid.Set
	TxnHeads   *oid.Set
	TagTargets *oid.Set
}

// RunState holds everything produced or consumed over the lifetime of one
// Pack() call.
type RunState struct {
	StartTime time.Time

	PacksBefore          []*pack.Descriptor
	ExpiredGarbagePacks  []*pack.Descriptor

	NewPackDesc []*pack.Descriptor
	NewPackObj  []*oid.Set

	Partition RefPartition
}

// newPackObjUnion returns the union of every OID set written by earlier
// phases in this run, used by later phases to exclude already-written
// objects.
func (rs *RunState) newPackObjUnion() *oid.Set {
	return oid.Union(rs.NewPackObj...)
}

// Result is returned by a successful Pack() call.
type Result struct {
	// NewPacks are the descriptors committed to the catalog.
	NewPacks []*pack.Descriptor

	// Pruned are the descriptors removed from the catalog
	// (packs_before ∪ expired_garbage_packs).
	Pruned []*pack.Descriptor

	// Stats is the per-new-pack statistics, positionally aligned with
	// NewPacks.
	Stats []pack.Stats

	// RaceDetected is true when the obj-db reported that the ref
	// snapshot used for this run no longer matches the repository state
	// at commit time; the caller should rerun Pack().
	RaceDetected bool
}
