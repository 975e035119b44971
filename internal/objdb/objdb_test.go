// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package objdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/pkg/pack"
)

func writePack(t *testing.T, fs *objdb.FileStore, desc *pack.Descriptor, content string) {
	t.Helper()
	w, err := fs.WriteFile(context.Background(), desc, pack.PackExt)
	require.NoError(t, err)
	_, err = w.Write([]byte(content))
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestNewPackAndCommitPublishesFiles(t *testing.T) {
	fs, err := objdb.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fs.BeginRun(context.Background(), "token-1")

	desc, err := fs.NewPack(context.Background(), pack.GC, 0)
	require.NoError(t, err)
	writePack(t, fs, desc, "pack-bytes")

	ok, err := fs.CommitPack(context.Background(), []*pack.Descriptor{desc}, nil)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, desc.Committed())

	packs, err := fs.GetPacks(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.Equal(t, desc.ID, packs[0].ID)
}

func TestCommitPackDetectsRefRace(t *testing.T) {
	fs, err := objdb.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fs.BeginRun(context.Background(), "token-1")

	desc, err := fs.NewPack(context.Background(), pack.GC, 0)
	require.NoError(t, err)
	writePack(t, fs, desc, "pack-bytes")

	// A concurrent ref update lands after BeginRun captured its snapshot.
	fs.NotifyRefChange("token-2")

	ok, err := fs.CommitPack(context.Background(), []*pack.Descriptor{desc}, nil)
	require.NoError(t, err)
	require.False(t, ok)
	require.False(t, desc.Committed())

	packs, err := fs.GetPacks(context.Background())
	require.NoError(t, err)
	require.Empty(t, packs)
}

func TestCommitPackPrunesSupersededPacks(t *testing.T) {
	fs, err := objdb.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fs.BeginRun(context.Background(), "token-1")
	old, err := fs.NewPack(context.Background(), pack.RECEIVE, 0)
	require.NoError(t, err)
	writePack(t, fs, old, "old")
	ok, err := fs.CommitPack(context.Background(), []*pack.Descriptor{old}, nil)
	require.NoError(t, err)
	require.True(t, ok)

	fs.BeginRun(context.Background(), "token-1")
	replacement, err := fs.NewPack(context.Background(), pack.GC, 0)
	require.NoError(t, err)
	writePack(t, fs, replacement, "new")

	ok, err = fs.CommitPack(context.Background(), []*pack.Descriptor{replacement}, []*pack.Descriptor{old})
	require.NoError(t, err)
	require.True(t, ok)

	packs, err := fs.GetPacks(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.Equal(t, replacement.ID, packs[0].ID)
}

func TestRollbackPackRemovesStagedFiles(t *testing.T) {
	fs, err := objdb.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fs.BeginRun(context.Background(), "token-1")
	desc, err := fs.NewPack(context.Background(), pack.GC, 0)
	require.NoError(t, err)
	writePack(t, fs, desc, "abandoned")

	require.NoError(t, fs.RollbackPack(context.Background(), []*pack.Descriptor{desc}))

	ok, err := fs.CommitPack(context.Background(), []*pack.Descriptor{desc}, nil)
	require.NoError(t, err)
	require.True(t, ok) // no staged files left to rename, and commit still succeeds

	packs, err := fs.GetPacks(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1) // the descriptor is still recorded even though none of its files exist
}
