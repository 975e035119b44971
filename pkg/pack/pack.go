// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package pack defines the pack descriptor, its source-class provenance
// tag, and the accessors a pack file exposes to the GC engine.
package pack

import (
	"context"
	"time"

	"storj.io/dvcsgc/pkg/oid"
)

// Source is the provenance class under which a pack was produced.
// Classification of a pack is a stored attribute, never computed from its
// contents.
type Source int

const (
	// INSERT packs are written directly by a single-object insert path.
	INSERT Source = iota
	// RECEIVE packs are written by a bulk receive (e.g. a push or fetch).
	RECEIVE
	// COMPACT packs are produced by an online, non-GC compaction pass.
	COMPACT
	// GC packs hold objects reachable from heads/tags.
	GC
	// GCRest packs hold objects reachable from non-head refs.
	GCRest
	// GCTxn packs hold objects reachable from ref-tree (transactional) refs.
	GCTxn
	// UnreachableGarbage packs hold objects not reachable from any ref.
	UnreachableGarbage
)

// String implements fmt.Stringer.
func (s Source) String() string {
	switch s {
	case INSERT:
		return "INSERT"
	case RECEIVE:
		return "RECEIVE"
	case COMPACT:
		return "COMPACT"
	case GC:
		return "GC"
	case GCRest:
		return "GC_REST"
	case GCTxn:
		return "GC_TXN"
	case UnreachableGarbage:
		return "UNREACHABLE_GARBAGE"
	default:
		return "UNKNOWN"
	}
}

// IsGC reports whether the source is GC or GCRest, the two classes the
// catalog classifier considers when computing mostRecentGC. It is false
// for GCTxn and UnreachableGarbage even though a GC run also writes those.
func (s Source) IsGC() bool { return s == GC || s == GCRest }

// Ext identifies a companion file extension for a pack.
type Ext int

const (
	// PackExt is the pack body itself.
	PackExt Ext = iota
	// IndexExt is the forward OID->offset index.
	IndexExt
	// BitmapIndexExt is the optional reachability bitmap index.
	BitmapIndexExt
)

// HeaderSize is the fixed size, in bytes, of a pack file header.
const HeaderSize = 12

// TrailerSize is the fixed size, in bytes, of a pack file trailer.
// pkg/packwriter fills it with zero bytes; it carries no checksum.
const TrailerSize = 20

// SupportedIndexVersion is the only index version this engine may write.
const SupportedIndexVersion = 2

// Stats is the opaque per-pack statistics the writer reports back and the
// engine threads through to its result.
type Stats struct {
	TotalObjects    int
	OffsetDeltas    int
	ReusedObjects   int
	TotalDeltas     int
	WholeObjectSize int64
}

// Descriptor is an opaque handle describing one pack file in the backend.
type Descriptor struct {
	// ID is the obj-db's handle for this pack; implementation-defined but
	// stable for the descriptor's lifetime.
	ID string

	Source       Source
	LastModified time.Time

	// ObjectCount is the number of objects the pack contains.
	ObjectCount int

	Stats Stats

	IndexVersion int

	// sizes holds the byte count of each companion file, populated as the
	// pack is written.
	sizes [3]int64

	// committed is set once this descriptor has been published to the
	// catalog; a committed Descriptor is immutable thereafter.
	committed bool
}

// FileSize returns the number of bytes present for the given companion
// extension.
func (d *Descriptor) FileSize(ext Ext) int64 {
	return d.sizes[ext]
}

// SetFileSize records the byte count written for a companion extension.
// It panics if the descriptor has already been committed.
func (d *Descriptor) SetFileSize(ext Ext, size int64) {
	if d.committed {
		panic("pack: cannot mutate a committed descriptor")
	}
	d.sizes[ext] = size
}

// Commit marks the descriptor as published; afterwards it is immutable.
func (d *Descriptor) Commit() {
	d.committed = true
}

// Committed reports whether Commit has been called.
func (d *Descriptor) Committed() bool {
	return d.committed
}

// File is the read-side accessor for one pack: its forward index
// (OID->offset), reverse index (offset->next-offset), and a per-offset
// object-type query, all backed by the obj-db's reader.
type File interface {
	// Descriptor returns the pack's descriptor.
	Descriptor() *Descriptor

	// ForEachObject visits every (OID, offset) pair in the pack's forward
	// index. Iteration order is unspecified.
	ForEachObject(ctx context.Context, fn func(id oid.OID, offset int64) error) error

	// FindOffset returns the offset of id within the pack, and whether it
	// was found.
	FindOffset(ctx context.Context, id oid.OID) (offset int64, found bool)

	// NextOffset returns the offset immediately following the object
	// stored at offset (using the reverse index), or packSize-TrailerSize
	// if offset is the last object in the pack.
	NextOffset(ctx context.Context, offset int64) (int64, error)

	// ObjectType returns the stored type of the object at offset.
	ObjectType(ctx context.Context, offset int64) (ObjectType, error)

	// ReadAt returns the stored type and raw content of the object at
	// offset, for the garbage phase's object-reuse copy and for any
	// caller that needs the bytes rather than just the type.
	ReadAt(ctx context.Context, offset int64) (ObjectType, []byte, error)

	// Size returns the total file size of the pack, header+body+trailer.
	Size() int64

	// Close releases any resources (file handles) held open for reads.
	Close() error
}

// ObjectType is the persisted type tag of an object within a pack.
type ObjectType int

// The four object kinds a version-control object graph contains.
const (
	TypeCommit ObjectType = iota
	TypeTree
	TypeBlob
	TypeTag
)
