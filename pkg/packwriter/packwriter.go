// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package packwriter implements the pack-writer adapter the graph packer
// driver depends on. The wire format it produces is intentionally
// minimal — sequential object blocks, no delta encoding — delta
// compression internals are a Non-goal of the GC engine itself; this
// package only has to honor the adapter contract faithfully.
package packwriter

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"sort"

	"github.com/klauspost/compress/zstd"
	"github.com/zeebo/errs"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
)

// Error is the default error class for packwriter.
var Error = errs.Class("packwriter")

// Config configures a Writer. It is passed through unchanged from the
// engine's packConfig, save for the phase-specific overrides the graph
// packer driver applies (§4.3 of the spec).
type Config struct {
	// DeltaBaseAsOffset controls how base references would be encoded if
	// this writer supported deltas. Kept for contract fidelity with the
	// original packConfig; unused by the minimal codec.
	DeltaBaseAsOffset bool

	// ReuseDeltaCommits controls delta reuse; see DeltaBaseAsOffset.
	ReuseDeltaCommits bool

	// ReuseObjects, when true, allows the writer to copy object bytes
	// verbatim from source packs instead of re-encoding them. The garbage
	// phase always sets this.
	ReuseObjects bool

	// DisableDeltas forces the writer to never attempt delta compression.
	// The garbage phase always sets this.
	DisableDeltas bool

	// DisableBitmaps forces the writer to skip bitmap index production.
	// The garbage phase always sets this.
	DisableBitmaps bool

	// Compress enables zstd compression of each object's stored bytes.
	Compress bool
}

// blockHeaderSize is the fixed [kind:1][length:4] prefix of each object
// block; the OID (oid.Size bytes) and content follow it.
const blockHeaderSize = 5

// object is one entry queued for writing. stored holds the exact bytes
// that will land on disk (post-compression, if enabled), computed once so
// WritePack and WriteIndex agree on every block's size.
type object struct {
	id     oid.OID
	kind   pack.ObjectType
	stored []byte
}

func blockSize(o object) int64 {
	return int64(blockHeaderSize+oid.Size) + int64(len(o.stored))
}

// ObjectSource resolves object content by OID. The GC engine's caller
// supplies this; in production it is backed by the obj-db's readers.
type ObjectSource interface {
	ReadObject(ctx context.Context, id oid.OID) (pack.ObjectType, []byte, error)
}

// Writer is the adapter the graph packer driver drives once per phase.
//
// It satisfies the "pack writer" contract of §4.5: set tag targets,
// exclude a set of OIDs, prepare pack given want/have, add a single object
// with a type hint, write pack, write index, optionally prepare and write
// a bitmap, and report statistics/object-set/index-version/byte-count.
type Writer struct {
	cfg    Config
	source ObjectSource

	tagTargets *oid.Set
	excluded   *oid.Set

	objects    []object
	seen       *oid.Set
	bitmapFlag bool

	stats pack.Stats
}

// NewWriter constructs a Writer bound to the given object source.
func NewWriter(cfg Config, source ObjectSource) *Writer {
	return &Writer{
		cfg:      cfg,
		source:   source,
		excluded: oid.NewSet(0),
		seen:     oid.NewSet(0),
	}
}

// SetTagTargets records the OIDs tags ultimately point at. The minimal
// codec does not read them: they change neither which objects are written
// nor where they are placed.
func (w *Writer) SetTagTargets(targets *oid.Set) {
	w.tagTargets = targets
}

// Exclude marks ids as already covered by an earlier phase's pack; the
// writer must never emit them again.
func (w *Writer) Exclude(ids *oid.Set) {
	w.excluded = oid.Union(w.excluded, ids)
}

// PreparePack walks want (subtracting have and excluded, and anything
// already added) and queues every object found for writing. have is
// assumed already present in a pack a client can reach independently, so
// it is used only to prune the walk, never added to the output.
//
// walk performs the actual reachability traversal (the rev-walk
// collaborator); PreparePack wires want/have/excluded into it.
func (w *Writer) PreparePack(ctx context.Context, walk Walker, want, have *oid.Set) error {
	return walk.Walk(ctx, want, have, func(id oid.OID, kind pack.ObjectType) error {
		if w.excluded.Contains(id) || w.seen.Contains(id) {
			return nil
		}
		_, content, err := w.source.ReadObject(ctx, id)
		if err != nil {
			return Error.Wrap(err)
		}
		stored, err := w.encode(content)
		if err != nil {
			return err
		}
		w.objects = append(w.objects, object{id: id, kind: kind, stored: stored})
		w.seen.Add(id)
		return nil
	})
}

// encode applies the writer's configured on-disk encoding (currently just
// optional zstd compression) to content, once, at enqueue time. With
// ReuseObjects set, content is already in stored form and is kept verbatim.
func (w *Writer) encode(content []byte) ([]byte, error) {
	if !w.cfg.Compress || w.cfg.ReuseObjects {
		return content, nil
	}
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := enc.Write(content); err != nil {
		return nil, Error.Wrap(err)
	}
	if err := enc.Close(); err != nil {
		return nil, Error.Wrap(err)
	}
	return buf.Bytes(), nil
}

// Walker performs reachability traversal over the object graph, the
// rev-walk collaborator treated as a black box per §1 of the spec.
type Walker interface {
	Walk(ctx context.Context, want, have *oid.Set, visit func(id oid.OID, kind pack.ObjectType) error) error
}

// AddObject queues a single object with an explicit type hint, bypassing
// PreparePack's walk. Used by the garbage phase, which enumerates source
// pack indices directly rather than walking reachability.
func (w *Writer) AddObject(id oid.OID, kind pack.ObjectType, content []byte) error {
	if w.excluded.Contains(id) || w.seen.Contains(id) {
		return nil
	}
	stored, err := w.encode(content)
	if err != nil {
		return err
	}
	w.objects = append(w.objects, object{id: id, kind: kind, stored: stored})
	w.seen.Add(id)
	return nil
}

// ObjectCount returns the number of objects queued so far.
func (w *Writer) ObjectCount() int {
	return len(w.objects)
}

// WritePack serializes the queued objects to out: a fixed 12-byte header,
// a sequence of length-prefixed object blocks, and a 20-byte trailer.
func (w *Writer) WritePack(ctx context.Context, out io.Writer) (int64, error) {
	sort.Slice(w.objects, func(i, j int) bool { return w.objects[i].id.Less(w.objects[j].id) })

	var body bytes.Buffer
	for _, o := range w.objects {
		var hdr [blockHeaderSize]byte
		hdr[0] = byte(o.kind)
		binary.BigEndian.PutUint32(hdr[1:5], uint32(len(o.stored)))
		body.Write(hdr[:])
		body.Write(o.id.Bytes())
		body.Write(o.stored)
	}

	header := make([]byte, pack.HeaderSize)
	binary.BigEndian.PutUint32(header[0:4], uint32(len(w.objects)))

	trailer := make([]byte, pack.TrailerSize)

	written := int64(0)
	for _, chunk := range [][]byte{header, body.Bytes(), trailer} {
		n, err := out.Write(chunk)
		written += int64(n)
		if err != nil {
			return written, Error.Wrap(err)
		}
	}

	w.stats = pack.Stats{
		TotalObjects:    len(w.objects),
		ReusedObjects:   len(w.objects),
		WholeObjectSize: written,
	}
	return written, nil
}

// WriteIndex serializes a version-2 forward index (sorted OID table plus
// offsets) to out.
func (w *Writer) WriteIndex(ctx context.Context, out io.Writer) (int64, error) {
	sort.Slice(w.objects, func(i, j int) bool { return w.objects[i].id.Less(w.objects[j].id) })

	var buf bytes.Buffer
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(pack.SupportedIndexVersion))
	buf.Write(hdr[:])

	offset := int64(pack.HeaderSize)
	for _, o := range w.objects {
		buf.Write(o.id.Bytes())
		var off [8]byte
		binary.BigEndian.PutUint64(off[:], uint64(offset))
		buf.Write(off[:])
		offset += blockSize(o)
	}

	n, err := out.Write(buf.Bytes())
	return int64(n), Error.Wrap(err)
}

// HasBitmap reports whether the writer can produce a bitmap index for the
// pack just written. Bitmap production is disabled whenever the config
// says so, and is never attempted by the garbage phase.
func (w *Writer) HasBitmap() bool {
	return !w.cfg.DisableBitmaps && len(w.objects) > 0
}

// WriteBitmap serializes a minimal reachability bitmap (one bit per
// object, in index order) to out. Bitmap index *format* internals are a
// Non-goal; this only has to exist and round-trip its own object count.
func (w *Writer) WriteBitmap(ctx context.Context, out io.Writer) (int64, error) {
	if !w.HasBitmap() {
		return 0, Error.New("bitmap not available for this pack")
	}
	buf := make([]byte, (len(w.objects)+7)/8)
	for i := range buf {
		buf[i] = 0xFF
	}
	n, err := out.Write(buf)
	return int64(n), Error.Wrap(err)
}

// Stats reports the statistics accumulated while writing the pack.
func (w *Writer) Stats() pack.Stats {
	return w.stats
}

// ObjectSet returns the set of OIDs written by this writer.
func (w *Writer) ObjectSet() *oid.Set {
	ids := make([]oid.OID, len(w.objects))
	for i, o := range w.objects {
		ids[i] = o.id
	}
	return oid.NewSetFromSlice(ids)
}

// IndexVersion reports the index format version this writer produces.
func (w *Writer) IndexVersion() int {
	return pack.SupportedIndexVersion
}
