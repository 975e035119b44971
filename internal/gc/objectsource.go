// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
)

// existingObjects implements packwriter.ObjectSource by resolving each
// OID against whichever of packs_before's forward indices contains it.
// It is built once per run, before any phase writes, by scanning every
// pack's forward index exactly once (§4.3's garbage phase already has to
// do this scan; phases H/R/T reuse the same index here instead of
// re-scanning).
type existingObjects struct {
	locate map[oid.OID]objectLocation
}

type objectLocation struct {
	file   pack.File
	offset int64
}

// buildExistingObjects scans every pack's forward index once.
func buildExistingObjects(ctx context.Context, files []pack.File) (*existingObjects, error) {
	eo := &existingObjects{locate: make(map[oid.OID]objectLocation)}
	for _, f := range files {
		f := f
		err := f.ForEachObject(ctx, func(id oid.OID, offset int64) error {
			if _, ok := eo.locate[id]; !ok {
				eo.locate[id] = objectLocation{file: f, offset: offset}
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return eo, nil
}

// ReadObject implements packwriter.ObjectSource.
func (eo *existingObjects) ReadObject(ctx context.Context, id oid.OID) (pack.ObjectType, []byte, error) {
	loc, ok := eo.locate[id]
	if !ok {
		return 0, nil, Error.New("object %s not found in any pack_before", id)
	}
	return loc.file.ReadAt(ctx, loc.offset)
}
