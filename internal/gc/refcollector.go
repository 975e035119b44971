// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/refs"
)

// collectRefs implements §4.1: read every ref once and partition it into
// the four disjoint sets the graph packer driver needs.
//
// Any ref-db I/O error aborts the run before any pack is written — the
// caller (Engine.Pack) never reaches phase H unless this succeeds.
func collectRefs(ctx context.Context, refDB refs.DB) (RefPartition, error) {
	defer mon.Task()(&ctx)(nil)

	if err := refDB.Refresh(ctx); err != nil {
		return RefPartition{}, Error.Wrap(err)
	}

	all, err := refDB.GetRefs(ctx, refs.All)
	if err != nil {
		return RefPartition{}, Error.Wrap(err)
	}

	additional, err := refDB.GetAdditionalRefs(ctx)
	if err != nil {
		return RefPartition{}, Error.Wrap(err)
	}
	all = append(all, additional...)

	part := RefPartition{
		AllHeads:   oid.NewSet(0),
		NonHeads:   oid.NewSet(0),
		TxnHeads:   oid.NewSet(0),
		TagTargets: oid.NewSet(0),
	}

	for _, ref := range all {
		if ref.Symbolic || ref.IsNull() {
			continue
		}

		switch {
		case refs.HasPrefix(ref.Name, refs.HeadsPrefix, refs.TagsPrefix):
			part.AllHeads.Add(ref.Target)
		case refDB.IsRefTree(ctx, ref.Name):
			part.TxnHeads.Add(ref.Target)
		default:
			part.NonHeads.Add(ref.Target)
		}

		if ref.Peeled != nil {
			part.TagTargets.Add(*ref.Peeled)
		}
	}

	part.TagTargets = oid.Union(part.TagTargets, part.AllHeads)

	mon.IntVal("refcollector_all_heads").Observe(int64(part.AllHeads.Len()))
	mon.IntVal("refcollector_non_heads").Observe(int64(part.NonHeads.Len()))
	mon.IntVal("refcollector_txn_heads").Observe(int64(part.TxnHeads.Len()))

	return part, nil
}
