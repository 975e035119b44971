// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc_test

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"storj.io/dvcsgc/internal/gc"
	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/internal/objgraph"
	"storj.io/dvcsgc/internal/refdb"
	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
	"storj.io/dvcsgc/pkg/refs"
)

type testRepo struct {
	refDB *refdb.DB
	objDB *objdb.FileStore
	graph *objgraph.Graph
}

func newTestRepo(t *testing.T) *testRepo {
	t.Helper()
	dir := t.TempDir()

	refDB, err := refdb.Open(filepath.Join(dir, "refs.toml"))
	require.NoError(t, err)

	objDB, err := objdb.NewFileStore(filepath.Join(dir, "objects"))
	require.NoError(t, err)

	graph, err := objgraph.Open(filepath.Join(dir, "graph.toml"))
	require.NoError(t, err)

	return &testRepo{refDB: refDB, objDB: objDB, graph: graph}
}

// putObject inserts id's content via the INSERT pack path and records its
// edges in the object graph, mirroring what a real write path would do: an
// object only becomes visible to GC once both its bytes and its graph edges
// are recorded.
func (r *testRepo) putObject(t *testing.T, kind pack.ObjectType, content []byte, edges ...oid.OID) oid.OID {
	t.Helper()
	id := oid.New(content)
	_, err := objdb.InsertObject(context.Background(), r.objDB, id, kind, content)
	require.NoError(t, err)
	require.NoError(t, r.graph.Put(id, kind, edges...))
	return id
}

func TestPackEmptyRepoIsNoop(t *testing.T) {
	repo := newTestRepo(t)
	engine := gc.New(repo.refDB, repo.objDB, repo.graph, gc.DefaultConfig())

	result, ok, err := engine.Pack(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, result.NewPacks)
	require.Empty(t, result.Pruned)
}

func TestPackSingleHeadCommitChainProducesOneGCPack(t *testing.T) {
	repo := newTestRepo(t)

	blob := repo.putObject(t, pack.TypeBlob, []byte("file contents"))
	tree := repo.putObject(t, pack.TypeTree, []byte("tree listing"), blob)
	commit := repo.putObject(t, pack.TypeCommit, []byte("commit message"), tree)

	require.NoError(t, repo.refDB.Put(refs.Ref{Name: "refs/heads/main", Target: commit}))

	engine := gc.New(repo.refDB, repo.objDB, repo.graph, gc.DefaultConfig())
	result, ok, err := engine.Pack(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	require.Len(t, result.NewPacks, 1)
	require.Equal(t, pack.GC, result.NewPacks[0].Source)
	require.Equal(t, 3, result.NewPacks[0].ObjectCount)

	// the three INSERT packs that held blob/tree/commit are superseded.
	require.Len(t, result.Pruned, 3)

	packs, err := repo.objDB.GetPacks(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.Equal(t, pack.GC, packs[0].Source)
}

func TestPackSeparatesHeadsFromNonHeads(t *testing.T) {
	repo := newTestRepo(t)

	headBlob := repo.putObject(t, pack.TypeBlob, []byte("head content"))
	headCommit := repo.putObject(t, pack.TypeCommit, []byte("head commit"), headBlob)
	require.NoError(t, repo.refDB.Put(refs.Ref{Name: "refs/heads/main", Target: headCommit}))

	mergeBlob := repo.putObject(t, pack.TypeBlob, []byte("merge content"))
	mergeCommit := repo.putObject(t, pack.TypeCommit, []byte("merge-request commit"), mergeBlob)
	require.NoError(t, repo.refDB.Put(refs.Ref{Name: "refs/merge-requests/1/head", Target: mergeCommit}))

	engine := gc.New(repo.refDB, repo.objDB, repo.graph, gc.DefaultConfig())
	result, ok, err := engine.Pack(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, result.NewPacks, 2)

	bySource := map[pack.Source]*pack.Descriptor{}
	for _, d := range result.NewPacks {
		bySource[d.Source] = d
	}
	require.Contains(t, bySource, pack.GC)
	require.Contains(t, bySource, pack.GCRest)
	require.Equal(t, 2, bySource[pack.GC].ObjectCount)
	require.Equal(t, 2, bySource[pack.GCRest].ObjectCount)
}

func TestPackUnreachableObjectBecomesGarbage(t *testing.T) {
	repo := newTestRepo(t)

	liveBlob := repo.putObject(t, pack.TypeBlob, []byte("kept"))
	liveCommit := repo.putObject(t, pack.TypeCommit, []byte("kept commit"), liveBlob)
	require.NoError(t, repo.refDB.Put(refs.Ref{Name: "refs/heads/main", Target: liveCommit}))

	// inserted but never referenced by any ref.
	repo.putObject(t, pack.TypeBlob, []byte("orphaned"))

	engine := gc.New(repo.refDB, repo.objDB, repo.graph, gc.DefaultConfig())
	result, ok, err := engine.Pack(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	bySource := map[pack.Source]*pack.Descriptor{}
	for _, d := range result.NewPacks {
		bySource[d.Source] = d
	}
	require.Contains(t, bySource, pack.GC)
	require.Contains(t, bySource, pack.UnreachableGarbage)
	require.Equal(t, 2, bySource[pack.GC].ObjectCount)
	require.Equal(t, 1, bySource[pack.UnreachableGarbage].ObjectCount)
}

func TestPackSecondRunWithNoChangesIsStable(t *testing.T) {
	repo := newTestRepo(t)

	commit := repo.putObject(t, pack.TypeCommit, []byte("solo commit"))
	require.NoError(t, repo.refDB.Put(refs.Ref{Name: "refs/heads/main", Target: commit}))

	engine := gc.New(repo.refDB, repo.objDB, repo.graph, gc.DefaultConfig())

	_, ok, err := engine.Pack(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	result2, ok, err := engine.Pack(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, result2.NewPacks, 1)
	require.Equal(t, pack.GC, result2.NewPacks[0].Source)

	packs, err := repo.objDB.GetPacks(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1)
}

func TestPlanDoesNotWriteAnyPacks(t *testing.T) {
	repo := newTestRepo(t)
	commit := repo.putObject(t, pack.TypeCommit, []byte("solo commit"))
	require.NoError(t, repo.refDB.Put(refs.Ref{Name: "refs/heads/main", Target: commit}))

	engine := gc.New(repo.refDB, repo.objDB, repo.graph, gc.DefaultConfig())
	state, err := engine.Plan(context.Background())
	require.NoError(t, err)
	require.Len(t, state.PacksBefore, 1)

	packs, err := repo.objDB.GetPacks(context.Background())
	require.NoError(t, err)
	require.Len(t, packs, 1)
	require.Equal(t, pack.INSERT, packs[0].Source)
}

// TestPackToleratesConcurrentInserter runs a concurrent inserter
// (simulating a client writing a new object via InsertObject) alongside a
// GC pass against the same repository, using an errgroup to manage the two
// goroutines and propagate cancellation between them. Both must complete
// without error, and the catalog must still hold packs once the group
// finishes.
func TestPackToleratesConcurrentInserter(t *testing.T) {
	repo := newTestRepo(t)

	commit := repo.putObject(t, pack.TypeCommit, []byte("solo commit"))
	require.NoError(t, repo.refDB.Put(refs.Ref{Name: "refs/heads/main", Target: commit}))

	engine := gc.New(repo.refDB, repo.objDB, repo.graph, gc.DefaultConfig())

	g, gctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		for i := 0; i < 5; i++ {
			content := []byte(fmt.Sprintf("concurrent blob %d", i))
			if _, err := objdb.InsertObject(gctx, repo.objDB, oid.New(content), pack.TypeBlob, content); err != nil {
				return err
			}
		}
		return nil
	})

	g.Go(func() error {
		_, _, err := engine.Pack(gctx)
		return err
	})

	require.NoError(t, g.Wait())

	packs, err := repo.objDB.GetPacks(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, packs)
}

func TestPackRejectsUnsupportedIndexVersion(t *testing.T) {
	repo := newTestRepo(t)
	cfg := gc.DefaultConfig()
	cfg.IndexVersion = 999

	engine := gc.New(repo.refDB, repo.objDB, repo.graph, cfg)
	_, _, err := engine.Pack(context.Background())
	require.ErrorIs(t, err, gc.ErrUnsupportedIndexVersion)
}
