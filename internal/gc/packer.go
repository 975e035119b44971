// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"

	"go.uber.org/zap"

	"storj.io/dvcsgc/internal/blockcache"
	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
	"storj.io/dvcsgc/pkg/packwriter"
)

// headsSourceClasses is the set of source classes whose PACK size feeds the
// estimated size of phases H and R (§4.3).
var headsSourceClasses = []pack.Source{pack.INSERT, pack.RECEIVE, pack.COMPACT, pack.GC}

// packer drives the pack writer through phases H, R, T, and G, threading
// each phase's written OID set into the exclusion set of every later phase.
type packer struct {
	db      objdb.DB
	cache   *blockcache.Cache
	objects packwriter.ObjectSource
	walker  packwriter.Walker
	cfg     Config
	log     *zap.Logger
	monitor ProgressMonitor
}

func (pk *packer) normalWriterConfig() packwriter.Config {
	return packwriter.Config{
		DeltaBaseAsOffset: pk.cfg.WriterConfig.DeltaBaseAsOffset,
		ReuseDeltaCommits: pk.cfg.WriterConfig.ReuseDeltaCommits,
		Compress:          pk.cfg.WriterConfig.Compress,
	}
}

// garbageWriterConfig additionally forces object reuse on and delta/bitmap
// production off, per §4.3's phase-G override.
func (pk *packer) garbageWriterConfig() packwriter.Config {
	cfg := pk.normalWriterConfig()
	cfg.ReuseObjects = true
	cfg.DisableDeltas = true
	cfg.DisableBitmaps = true
	return cfg
}

func estimateSourceClassSize(packsBefore []*pack.Descriptor, classes ...pack.Source) int64 {
	want := make(map[pack.Source]bool, len(classes))
	for _, c := range classes {
		want[c] = true
	}
	var total int64
	for _, p := range packsBefore {
		if want[p.Source] {
			total += p.FileSize(pack.PackExt)
		}
	}
	return total
}

// packHeads implements Phase H: want = allHeads, have = ∅, source GC.
func (pk *packer) packHeads(ctx context.Context, rs *RunState) error {
	if rs.Partition.AllHeads.Len() == 0 {
		return nil
	}
	pk.monitor.BeginTask("pack heads", 0)
	defer pk.monitor.EndTask()

	w := packwriter.NewWriter(pk.normalWriterConfig(), pk.objects)
	w.SetTagTargets(rs.Partition.TagTargets)
	if err := w.PreparePack(ctx, pk.walker, rs.Partition.AllHeads, oid.NewSet(0)); err != nil {
		return Error.Wrap(err)
	}
	if w.ObjectCount() == 0 {
		return nil
	}

	estimate := estimateSourceClassSize(rs.PacksBefore, headsSourceClasses...) + 32
	return pk.emit(ctx, rs, pack.GC, w, estimate)
}

// packNonHeads implements Phase R: want = nonHeads, have = allHeads,
// excluding every OID already written by phase H, source GC_REST.
func (pk *packer) packNonHeads(ctx context.Context, rs *RunState) error {
	if rs.Partition.NonHeads.Len() == 0 {
		return nil
	}
	pk.monitor.BeginTask("pack non-heads", 0)
	defer pk.monitor.EndTask()

	w := packwriter.NewWriter(pk.normalWriterConfig(), pk.objects)
	w.Exclude(rs.newPackObjUnion())
	if err := w.PreparePack(ctx, pk.walker, rs.Partition.NonHeads, rs.Partition.AllHeads); err != nil {
		return Error.Wrap(err)
	}
	if w.ObjectCount() == 0 {
		return nil
	}

	estimate := estimateSourceClassSize(rs.PacksBefore, headsSourceClasses...) + 32
	return pk.emit(ctx, rs, pack.GCRest, w, estimate)
}

// packRefTree implements Phase T: want = txnHeads, have = ∅, excluding every
// OID already written by phases H and R, source GC_TXN.
func (pk *packer) packRefTree(ctx context.Context, rs *RunState) error {
	if rs.Partition.TxnHeads.Len() == 0 {
		return nil
	}
	pk.monitor.BeginTask("pack ref-tree", 0)
	defer pk.monitor.EndTask()

	w := packwriter.NewWriter(pk.normalWriterConfig(), pk.objects)
	w.Exclude(rs.newPackObjUnion())
	if err := w.PreparePack(ctx, pk.walker, rs.Partition.TxnHeads, oid.NewSet(0)); err != nil {
		return Error.Wrap(err)
	}
	if w.ObjectCount() == 0 {
		return nil
	}

	return pk.emit(ctx, rs, pack.GCTxn, w, 0)
}

// packGarbage implements Phase G: every object in packs_before not already
// covered by a pack written in phases H/R/T is copied, byte-for-byte, into
// one coalesced UNREACHABLE_GARBAGE pack.
//
// "Already holds it" per §4.3 collapses to one check in this design: any
// OID written by an earlier phase this run is in newPackObjUnion, and an
// OID the rev-walk would still consider reachable from allHeads/nonHeads/
// txnHeads is, by construction of phases H/R/T, already in that same
// union — a separate reachability probe here would be redundant.
func (pk *packer) packGarbage(ctx context.Context, rs *RunState, files []pack.File) error {
	already := rs.newPackObjUnion()

	w := packwriter.NewWriter(pk.garbageWriterConfig(), pk.objects)
	w.Exclude(already)

	var estimate int64
	for _, f := range files {
		pk.monitor.BeginTask("scan "+f.Descriptor().ID, f.Descriptor().ObjectCount)

		err := f.ForEachObject(ctx, func(id oid.OID, offset int64) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			pk.monitor.Update(1)

			if already.Contains(id) {
				return nil
			}
			kind, content, err := f.ReadAt(ctx, offset)
			if err != nil {
				return Error.Wrap(err)
			}
			if err := w.AddObject(id, kind, content); err != nil {
				return Error.Wrap(err)
			}

			next, err := f.NextOffset(ctx, offset)
			if err != nil {
				return Error.Wrap(err)
			}
			estimate += next - offset
			return nil
		})

		pk.monitor.EndTask()
		if err != nil {
			return Error.Wrap(err)
		}
	}

	if w.ObjectCount() == 0 {
		return nil
	}

	return pk.emit(ctx, rs, pack.UnreachableGarbage, w, estimate)
}

// emit implements the per-phase pack emission sequence of §4.3: allocate a
// descriptor, write the pack and index streams, optionally write a bitmap,
// attach statistics and the OID set, stamp last_modified, and pre-warm the
// block cache.
func (pk *packer) emit(ctx context.Context, rs *RunState, source pack.Source, w *packwriter.Writer, estimatedSize int64) error {
	desc, err := pk.db.NewPack(ctx, source, estimatedSize)
	if err != nil {
		return Error.Wrap(err)
	}
	rs.NewPackDesc = append(rs.NewPackDesc, desc)

	packOut, err := pk.db.WriteFile(ctx, desc, pack.PackExt)
	if err != nil {
		return Error.Wrap(err)
	}
	if _, err := w.WritePack(ctx, packOut); err != nil {
		_ = packOut.Close()
		return Error.Wrap(err)
	}
	if err := packOut.Close(); err != nil {
		return Error.Wrap(err)
	}

	idxOut, err := pk.db.WriteFile(ctx, desc, pack.IndexExt)
	if err != nil {
		return Error.Wrap(err)
	}
	if _, err := w.WriteIndex(ctx, idxOut); err != nil {
		_ = idxOut.Close()
		return Error.Wrap(err)
	}
	if err := idxOut.Close(); err != nil {
		return Error.Wrap(err)
	}
	desc.IndexVersion = w.IndexVersion()

	if w.HasBitmap() {
		bitmapOut, err := pk.db.WriteFile(ctx, desc, pack.BitmapIndexExt)
		if err != nil {
			return Error.Wrap(err)
		}
		if _, err := w.WriteBitmap(ctx, bitmapOut); err != nil {
			_ = bitmapOut.Close()
			return Error.Wrap(err)
		}
		if err := bitmapOut.Close(); err != nil {
			return Error.Wrap(err)
		}
	}

	desc.Stats = w.Stats()
	desc.ObjectCount = w.ObjectCount()
	desc.LastModified = rs.StartTime

	objSet := w.ObjectSet()
	rs.NewPackObj = append(rs.NewPackObj, objSet)

	_, err = pk.cache.GetOrCreate(desc.ID, func() (any, error) {
		return pk.db.NewReader(ctx, desc)
	})
	if err != nil {
		pk.log.Warn("failed to pre-warm block cache", zap.String("pack", desc.ID), zap.Error(err))
	}

	return nil
}
