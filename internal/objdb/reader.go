// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package objdb

import (
	"context"
	"encoding/binary"
	"io"
	"os"
	"sort"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
)

// indexBlockHeaderSize mirrors packwriter.blockHeaderSize; kept here
// independently since a real deployment's reader and writer may live in
// different processes reading the same on-disk format.
const indexBlockHeaderSize = 5

type indexEntry struct {
	id     oid.OID
	offset int64
}

// fileReader implements pack.File against the on-disk format written by
// pkg/packwriter.
type fileReader struct {
	desc    *pack.Descriptor
	entries []indexEntry // sorted by offset (== sorted by OID, by construction)
	packF   *os.File
	size    int64
}

// NewReader implements DB.
func (fs *FileStore) NewReader(ctx context.Context, desc *pack.Descriptor) (pack.File, error) {
	idxF, err := os.Open(fs.finalPath(desc, pack.IndexExt))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = idxF.Close() }()

	idxBytes, err := io.ReadAll(idxF)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(idxBytes) < 4 {
		return nil, Error.New("truncated index for pack %s", desc.ID)
	}
	version := binary.BigEndian.Uint32(idxBytes[:4])
	if version != uint32(pack.SupportedIndexVersion) {
		return nil, Error.New("unsupported index version %d for pack %s", version, desc.ID)
	}

	const recordSize = oid.Size + 8
	body := idxBytes[4:]
	if len(body)%recordSize != 0 {
		return nil, Error.New("corrupt index for pack %s", desc.ID)
	}

	entries := make([]indexEntry, 0, len(body)/recordSize)
	for i := 0; i < len(body); i += recordSize {
		id, err := oid.FromBytes(body[i : i+oid.Size])
		if err != nil {
			return nil, Error.Wrap(err)
		}
		offset := int64(binary.BigEndian.Uint64(body[i+oid.Size : i+recordSize]))
		entries = append(entries, indexEntry{id: id, offset: offset})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].offset < entries[j].offset })

	packF, err := os.Open(fs.finalPath(desc, pack.PackExt))
	if err != nil {
		return nil, Error.Wrap(err)
	}
	stat, err := packF.Stat()
	if err != nil {
		_ = packF.Close()
		return nil, Error.Wrap(err)
	}

	return &fileReader{desc: desc, entries: entries, packF: packF, size: stat.Size()}, nil
}

// Descriptor implements pack.File.
func (r *fileReader) Descriptor() *pack.Descriptor { return r.desc }

// Size implements pack.File.
func (r *fileReader) Size() int64 { return r.size }

// Close implements pack.File.
func (r *fileReader) Close() error { return Error.Wrap(r.packF.Close()) }

// ForEachObject implements pack.File.
func (r *fileReader) ForEachObject(ctx context.Context, fn func(id oid.OID, offset int64) error) error {
	for _, e := range r.entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(e.id, e.offset); err != nil {
			return err
		}
	}
	return nil
}

// FindOffset implements pack.File.
func (r *fileReader) FindOffset(ctx context.Context, id oid.OID) (int64, bool) {
	i := sort.Search(len(r.entries), func(i int) bool { return !r.entries[i].id.Less(id) })
	if i < len(r.entries) && r.entries[i].id == id {
		return r.entries[i].offset, true
	}
	return 0, false
}

// NextOffset implements pack.File: the reverse index, derived here from
// the forward index's offset order (objects are laid out in the same
// order in both, by construction of pkg/packwriter).
func (r *fileReader) NextOffset(ctx context.Context, offset int64) (int64, error) {
	i := sort.Search(len(r.entries), func(i int) bool { return r.entries[i].offset >= offset })
	if i >= len(r.entries) || r.entries[i].offset != offset {
		return 0, Error.New("offset %d not found in pack %s", offset, r.desc.ID)
	}
	if i+1 < len(r.entries) {
		return r.entries[i+1].offset, nil
	}
	return r.size - pack.TrailerSize, nil
}

// ObjectType implements pack.File.
func (r *fileReader) ObjectType(ctx context.Context, offset int64) (pack.ObjectType, error) {
	var hdr [indexBlockHeaderSize]byte
	if _, err := r.packF.ReadAt(hdr[:], offset); err != nil {
		return 0, Error.Wrap(err)
	}
	return pack.ObjectType(hdr[0]), nil
}

// ReadAt implements pack.File: read the full content of the object
// stored at offset, for use by the garbage phase and by tests exercising
// round-trips.
func (r *fileReader) ReadAt(ctx context.Context, offset int64) (pack.ObjectType, []byte, error) {
	var hdr [indexBlockHeaderSize]byte
	if _, err := r.packF.ReadAt(hdr[:], offset); err != nil {
		return 0, nil, Error.Wrap(err)
	}
	length := binary.BigEndian.Uint32(hdr[1:5])
	buf := make([]byte, length)
	if _, err := r.packF.ReadAt(buf, offset+int64(indexBlockHeaderSize+oid.Size)); err != nil {
		return 0, nil, Error.Wrap(err)
	}
	return pack.ObjectType(hdr[0]), buf, nil
}
