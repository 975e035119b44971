// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"storj.io/dvcsgc/pkg/pack"
)

// fakeDB is a minimal objdb.DB test double for exercising commit/rollback
// in isolation from the filesystem.
type fakeDB struct {
	commitOK     bool
	commitErr    error
	rollbackErr  error
	committedAdd []*pack.Descriptor
	prunedAdd    []*pack.Descriptor
	rolledBack   []*pack.Descriptor
	cacheCleared bool
}

func (f *fakeDB) BeginRun(ctx context.Context, token string) {}
func (f *fakeDB) GetPacks(ctx context.Context) ([]*pack.Descriptor, error) { return nil, nil }
func (f *fakeDB) NewReader(ctx context.Context, desc *pack.Descriptor) (pack.File, error) {
	return nil, nil
}
func (f *fakeDB) NewPack(ctx context.Context, source pack.Source, estimatedSize int64) (*pack.Descriptor, error) {
	return &pack.Descriptor{Source: source}, nil
}
func (f *fakeDB) WriteFile(ctx context.Context, desc *pack.Descriptor, ext pack.Ext) (io.WriteCloser, error) {
	return nil, nil
}
func (f *fakeDB) CommitPack(ctx context.Context, add []*pack.Descriptor, prune []*pack.Descriptor) (bool, error) {
	f.committedAdd = add
	f.prunedAdd = prune
	return f.commitOK, f.commitErr
}
func (f *fakeDB) RollbackPack(ctx context.Context, add []*pack.Descriptor) error {
	f.rolledBack = add
	return f.rollbackErr
}
func (f *fakeDB) ClearCache(ctx context.Context) { f.cacheCleared = true }

func TestCommitSucceedsAndClearsCache(t *testing.T) {
	db := &fakeDB{commitOK: true}
	rs := &RunState{
		NewPackDesc:         []*pack.Descriptor{{Source: pack.GC}},
		PacksBefore:         []*pack.Descriptor{{Source: pack.INSERT}},
		ExpiredGarbagePacks: []*pack.Descriptor{{Source: pack.UnreachableGarbage}},
	}

	ok, err := commit(context.Background(), db, rs)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, db.cacheCleared)
	require.Len(t, db.committedAdd, 1)
	require.Len(t, db.prunedAdd, 2)
}

func TestCommitRaceRollsBackWithoutCatalogChange(t *testing.T) {
	db := &fakeDB{commitOK: false}
	rs := &RunState{NewPackDesc: []*pack.Descriptor{{Source: pack.GC}}}

	ok, err := commit(context.Background(), db, rs)
	require.NoError(t, err)
	require.False(t, ok)
	require.Len(t, db.rolledBack, 1)
	require.False(t, db.cacheCleared)
}

func TestCommitErrorRollsBackAndCombinesErrors(t *testing.T) {
	db := &fakeDB{commitErr: errors.New("disk full"), rollbackErr: errors.New("rollback also failed")}
	rs := &RunState{NewPackDesc: []*pack.Descriptor{{Source: pack.GC}}}

	ok, err := commit(context.Background(), db, rs)
	require.False(t, ok)
	require.Error(t, err)
	require.ErrorContains(t, err, "disk full")
	require.ErrorContains(t, err, "rollback also failed")
}

func TestCommitErrorWithCleanRollbackPropagatesOriginalError(t *testing.T) {
	db := &fakeDB{commitErr: errors.New("disk full")}
	rs := &RunState{NewPackDesc: []*pack.Descriptor{{Source: pack.GC}}}

	ok, err := commit(context.Background(), db, rs)
	require.False(t, ok)
	require.ErrorContains(t, err, "disk full")
	require.Len(t, db.rolledBack, 1)
}

func TestRollbackDiscardsStagedDescriptorsAndPropagatesCause(t *testing.T) {
	db := &fakeDB{}
	rs := &RunState{NewPackDesc: []*pack.Descriptor{{Source: pack.GC}}}
	cause := errors.New("phase H failed")

	err := rollback(context.Background(), db, rs, cause)
	require.ErrorContains(t, err, "phase H failed")
	require.Len(t, db.rolledBack, 1)
}

func TestRollbackCombinesCauseWithRollbackFailure(t *testing.T) {
	db := &fakeDB{rollbackErr: errors.New("cleanup failed")}
	rs := &RunState{NewPackDesc: []*pack.Descriptor{{Source: pack.GC}}}
	cause := errors.New("phase H failed")

	err := rollback(context.Background(), db, rs, cause)
	require.ErrorContains(t, err, "phase H failed")
	require.ErrorContains(t, err, "cleanup failed")
}
