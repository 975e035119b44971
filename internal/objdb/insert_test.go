// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package objdb_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
)

func TestInsertObjectCreatesSingleObjectPack(t *testing.T) {
	fs, err := objdb.NewFileStore(t.TempDir())
	require.NoError(t, err)

	id := oid.New([]byte("hello"))
	desc, err := objdb.InsertObject(context.Background(), fs, id, pack.TypeBlob, []byte("hello"))
	require.NoError(t, err)

	require.Equal(t, pack.INSERT, desc.Source)
	require.Equal(t, 1, desc.ObjectCount)
	require.True(t, desc.Committed())

	packs, err := fs.GetPacks(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1)
}

func TestInsertObjectLosesRaceAgainstInFlightRun(t *testing.T) {
	fs, err := objdb.NewFileStore(t.TempDir())
	require.NoError(t, err)

	fs.BeginRun(context.Background(), "token-1")
	fs.NotifyRefChange("token-2")

	id := oid.New([]byte("hello"))
	_, err = objdb.InsertObject(context.Background(), fs, id, pack.TypeBlob, []byte("hello"))
	require.Error(t, err)

	packs, err := fs.GetPacks(context.Background())
	require.NoError(t, err)
	require.Empty(t, packs)
}
