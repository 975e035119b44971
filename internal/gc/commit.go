// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"

	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/pkg/pack"
)

// commit implements §4.4's try/rollback protocol around the phases already
// run: publish new_pack_desc as additions and packs_before ∪
// expired_garbage_packs as removals, or roll back every staged descriptor
// if the obj-db reports the run's ref snapshot is stale.
//
// The caller has already executed phases H/R/T/G (or taken the
// empty-packs_before shortcut) before calling commit; commit itself never
// writes pack bytes, only publishes or discards what was already written.
func commit(ctx context.Context, db objdb.DB, rs *RunState) (ok bool, err error) {
	prune := append(append([]*pack.Descriptor{}, rs.PacksBefore...), rs.ExpiredGarbagePacks...)

	ok, err = db.CommitPack(ctx, rs.NewPackDesc, prune)
	if err != nil {
		if rbErr := db.RollbackPack(ctx, rs.NewPackDesc); rbErr != nil {
			return false, Error.Wrap(errorsCombine(err, rbErr))
		}
		return false, Error.Wrap(err)
	}
	if !ok {
		// Race detected: the obj-db refused the commit, no catalog change
		// was made, but the staged files for this run's new packs are
		// still sitting in the backend and must be discarded.
		if rbErr := db.RollbackPack(ctx, rs.NewPackDesc); rbErr != nil {
			return false, Error.Wrap(rbErr)
		}
		return false, nil
	}

	db.ClearCache(ctx)
	return true, nil
}

// rollback discards every descriptor allocated so far in rs, used on the
// failure path when a phase itself returns an error (rather than the
// commit step detecting a race).
func rollback(ctx context.Context, db objdb.DB, rs *RunState, cause error) error {
	if rbErr := db.RollbackPack(ctx, rs.NewPackDesc); rbErr != nil {
		return Error.Wrap(errorsCombine(cause, rbErr))
	}
	return Error.Wrap(cause)
}
