// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package refdb_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/dvcsgc/internal/refdb"
	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/refs"
)

func TestPutAndGetRefsRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.toml")
	db, err := refdb.Open(path)
	require.NoError(t, err)

	id := oid.New([]byte("main"))
	require.NoError(t, db.Put(refs.Ref{Name: "refs/heads/main", Target: id}))

	got, err := db.GetRefs(context.Background(), refs.All)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "refs/heads/main", got[0].Name)
	require.Equal(t, id, got[0].Target)
}

func TestPutPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.toml")
	db, err := refdb.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put(refs.Ref{Name: "refs/heads/main", Target: oid.New([]byte("main"))}))

	reopened, err := refdb.Open(path)
	require.NoError(t, err)
	got, err := reopened.GetRefs(context.Background(), refs.All)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestDeleteRemovesRef(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.toml")
	db, err := refdb.Open(path)
	require.NoError(t, err)
	require.NoError(t, db.Put(refs.Ref{Name: "refs/heads/main", Target: oid.New([]byte("main"))}))

	require.NoError(t, db.Delete("refs/heads/main"))

	got, err := db.GetRefs(context.Background(), refs.All)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestGetRefsExcludesReservedNamespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.toml")
	db, err := refdb.Open(path)
	require.NoError(t, err)

	require.NoError(t, db.Put(refs.Ref{Name: "refs/heads/main", Target: oid.New([]byte("main"))}))
	require.NoError(t, db.Put(refs.Ref{Name: "refs/internal/txn/1", Target: oid.New([]byte("txn"))}))

	visible, err := db.GetRefs(context.Background(), refs.All)
	require.NoError(t, err)
	require.Len(t, visible, 1)

	additional, err := db.GetAdditionalRefs(context.Background())
	require.NoError(t, err)
	require.Len(t, additional, 1)
	require.Equal(t, "refs/internal/txn/1", additional[0].Name)
}

func TestMarkRefTree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.toml")
	db, err := refdb.Open(path)
	require.NoError(t, err)

	require.False(t, db.IsRefTree(context.Background(), "refs/internal/txn/1"))
	db.MarkRefTree("refs/internal/txn/1")
	require.True(t, db.IsRefTree(context.Background(), "refs/internal/txn/1"))
}

func TestOpenOnMissingFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.toml")
	db, err := refdb.Open(path)
	require.NoError(t, err)

	got, err := db.GetRefs(context.Background(), refs.All)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestSymbolicRefHasNoTarget(t *testing.T) {
	path := filepath.Join(t.TempDir(), "refs.toml")
	db, err := refdb.Open(path)
	require.NoError(t, err)

	require.NoError(t, db.Put(refs.Ref{Name: "HEAD", Symbolic: true}))

	got, err := db.GetRefs(context.Background(), refs.All)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.True(t, got[0].Symbolic)
	require.True(t, got[0].Target.IsNil())
}
