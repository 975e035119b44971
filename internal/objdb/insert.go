// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package objdb

import (
	"context"
	"time"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
	"storj.io/dvcsgc/pkg/packwriter"
)

// singleObjectSource resolves exactly one OID, the object InsertObject is
// asked to write.
type singleObjectSource struct {
	id      oid.OID
	kind    pack.ObjectType
	content []byte
}

func (s singleObjectSource) ReadObject(ctx context.Context, id oid.OID) (pack.ObjectType, []byte, error) {
	if id != s.id {
		return 0, nil, Error.New("unexpected object %s", id)
	}
	return s.kind, s.content, nil
}

// InsertObject implements the single-object insert path named in §3's pack
// descriptor source-class list: a client adding exactly one new object
// (e.g. a freshly authored commit) gets a new INSERT pack containing only
// that object, without invoking the GC engine at all.
func InsertObject(ctx context.Context, db DB, id oid.OID, kind pack.ObjectType, content []byte) (*pack.Descriptor, error) {
	w := packwriter.NewWriter(packwriter.Config{}, singleObjectSource{id: id, kind: kind, content: content})
	if err := w.AddObject(id, kind, content); err != nil {
		return nil, Error.Wrap(err)
	}

	desc, err := db.NewPack(ctx, pack.INSERT, int64(len(content))+64)
	if err != nil {
		return nil, Error.Wrap(err)
	}

	packOut, err := db.WriteFile(ctx, desc, pack.PackExt)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := w.WritePack(ctx, packOut); err != nil {
		_ = packOut.Close()
		return nil, Error.Wrap(err)
	}
	if err := packOut.Close(); err != nil {
		return nil, Error.Wrap(err)
	}

	idxOut, err := db.WriteFile(ctx, desc, pack.IndexExt)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if _, err := w.WriteIndex(ctx, idxOut); err != nil {
		_ = idxOut.Close()
		return nil, Error.Wrap(err)
	}
	if err := idxOut.Close(); err != nil {
		return nil, Error.Wrap(err)
	}

	desc.IndexVersion = w.IndexVersion()
	desc.Stats = w.Stats()
	desc.ObjectCount = w.ObjectCount()
	desc.LastModified = time.Now()

	ok, err := db.CommitPack(ctx, []*pack.Descriptor{desc}, nil)
	if err != nil {
		_ = db.RollbackPack(ctx, []*pack.Descriptor{desc})
		return nil, Error.Wrap(err)
	}
	if !ok {
		_ = db.RollbackPack(ctx, []*pack.Descriptor{desc})
		return nil, Error.New("insert lost race against an in-flight GC run, retry")
	}

	return desc, nil
}
