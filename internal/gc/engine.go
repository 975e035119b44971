// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"storj.io/dvcsgc/internal/blockcache"
	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/internal/revwalk"
	"storj.io/dvcsgc/pkg/pack"
	"storj.io/dvcsgc/pkg/refs"
)

// Engine is the GC and repack engine: one Engine runs against one
// repository's ref-db/obj-db pair. The caller is responsible for ensuring
// no two Pack() calls against the same repository run concurrently (§5).
type Engine struct {
	RefDB refs.DB
	ObjDB objdb.DB
	Cache *blockcache.Cache
	Graph revwalk.Graph

	Config  Config
	Log     *zap.Logger
	Monitor ProgressMonitor

	// Clock is consulted for the run's start time and for the catalog
	// classifier's now. Overridable by tests; defaults to time.Now.
	Clock func() time.Time
}

// New constructs an Engine that uses cfg as given and fills the remaining
// fields with defaults: a 64-entry block cache, a no-op logger and
// progress monitor, and time.Now as the clock.
func New(refDB refs.DB, objDB objdb.DB, graph revwalk.Graph, cfg Config) *Engine {
	return &Engine{
		RefDB:   refDB,
		ObjDB:   objDB,
		Graph:   graph,
		Config:  cfg,
		Cache:   blockcache.New(blockcache.Options{Capacity: 64, Expiration: 10 * time.Minute}),
		Log:     zap.NewNop(),
		Monitor: NoopMonitor{},
		Clock:   time.Now,
	}
}

func (e *Engine) now() time.Time {
	if e.Clock != nil {
		return e.Clock()
	}
	return time.Now()
}

// Plan implements the dry-run supplement to Pack() described in
// SPEC_FULL.md §4: collect refs and classify the pack catalog without
// writing anything. Useful for --dry-run tooling and for tests that assert
// classification in isolation from the writer.
func (e *Engine) Plan(ctx context.Context) (RunState, error) {
	defer mon.Task()(&ctx)(nil)

	if err := e.Config.Validate(); err != nil {
		return RunState{}, err
	}

	part, err := collectRefs(ctx, e.RefDB)
	if err != nil {
		return RunState{}, err
	}

	packs, err := e.ObjDB.GetPacks(ctx)
	if err != nil {
		return RunState{}, Error.Wrap(err)
	}
	now := e.now()
	packsBefore, expired := classify(packs, e.Config, now)

	return RunState{
		StartTime:           now,
		PacksBefore:          packsBefore,
		ExpiredGarbagePacks:  expired,
		Partition:            part,
	}, nil
}

// Pack runs one full GC/repack cycle: §4.1 ref collection, §4.2
// classification, §4.3 the four-phase graph packer, and §4.4 commit or
// rollback. Its boolean return is false exactly when a race was detected at
// commit time and the caller should rerun Pack with a fresh context.
func (e *Engine) Pack(ctx context.Context) (result Result, ok bool, err error) {
	defer mon.Task()(&ctx)(&err)

	if err := e.Config.Validate(); err != nil {
		return Result{}, false, err
	}

	part, err := collectRefs(ctx, e.RefDB)
	if err != nil {
		return Result{}, false, err
	}

	runToken := uuid.NewString()
	e.ObjDB.BeginRun(ctx, runToken)

	packs, err := e.ObjDB.GetPacks(ctx)
	if err != nil {
		return Result{}, false, Error.Wrap(err)
	}

	rs := &RunState{
		StartTime: e.now(),
		Partition: part,
	}
	rs.PacksBefore, rs.ExpiredGarbagePacks = classify(packs, e.Config, rs.StartTime)

	e.Log.Info("gc run starting",
		zap.String("run_id", runToken),
		zap.Int("packs_before", len(rs.PacksBefore)),
		zap.Int("expired_garbage", len(rs.ExpiredGarbagePacks)),
	)

	if len(rs.PacksBefore) == 0 && len(rs.ExpiredGarbagePacks) > 0 {
		return e.commitExpiredOnly(ctx, rs)
	}

	files, closeFiles, err := e.openReaders(ctx, rs.PacksBefore)
	if err != nil {
		return Result{}, false, err
	}
	defer closeFiles()

	objects, err := buildExistingObjects(ctx, files)
	if err != nil {
		return Result{}, false, err
	}

	pk := &packer{
		db:      e.ObjDB,
		cache:   e.Cache,
		objects: objects,
		walker:  revwalk.Walk{Graph: e.Graph},
		cfg:     e.Config,
		log:     e.Log,
		monitor: e.effectiveMonitor(),
	}

	for _, phase := range []func(context.Context, *RunState) error{
		pk.packHeads,
		pk.packNonHeads,
		pk.packRefTree,
	} {
		if err := ctx.Err(); err != nil {
			return Result{}, false, rollback(ctx, e.ObjDB, rs, err)
		}
		if err := phase(ctx, rs); err != nil {
			return Result{}, false, rollback(ctx, e.ObjDB, rs, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return Result{}, false, rollback(ctx, e.ObjDB, rs, err)
	}
	if err := pk.packGarbage(ctx, rs, files); err != nil {
		return Result{}, false, rollback(ctx, e.ObjDB, rs, err)
	}

	committed, err := commit(ctx, e.ObjDB, rs)
	if err != nil {
		return Result{}, false, err
	}
	if !committed {
		e.Log.Info("gc run lost race at commit, rerun required", zap.String("run_id", runToken))
		return Result{RaceDetected: true}, false, nil
	}

	stats := make([]pack.Stats, len(rs.NewPackDesc))
	for i, d := range rs.NewPackDesc {
		stats[i] = d.Stats
	}

	e.Log.Info("gc run committed",
		zap.String("run_id", runToken),
		zap.Int("new_packs", len(rs.NewPackDesc)),
		zap.Int("pruned", len(rs.PacksBefore)+len(rs.ExpiredGarbagePacks)),
	)

	return Result{
		NewPacks: rs.NewPackDesc,
		Pruned:   append(append([]*pack.Descriptor{}, rs.PacksBefore...), rs.ExpiredGarbagePacks...),
		Stats:    stats,
	}, true, nil
}

// commitExpiredOnly implements §4.4's "packs_before is empty but
// expired_garbage_packs is not" case: there is nothing to rewrite, only
// already-expired garbage to drop. Pruning packs nothing depends on carries
// no ref-snapshot dependency, so unlike a real pack commit this always
// reports success, mirroring JGit's DfsGarbageCollector.pack() taking its
// packsBefore.isEmpty() branch unconditionally regardless of any race the
// obj-db might otherwise report.
func (e *Engine) commitExpiredOnly(ctx context.Context, rs *RunState) (Result, bool, error) {
	if _, err := e.ObjDB.CommitPack(ctx, nil, rs.ExpiredGarbagePacks); err != nil {
		return Result{}, false, Error.Wrap(err)
	}
	return Result{Pruned: rs.ExpiredGarbagePacks}, true, nil
}

func (e *Engine) effectiveMonitor() ProgressMonitor {
	if e.Monitor != nil {
		return e.Monitor
	}
	return NoopMonitor{}
}

// openReaders opens a pack.File for every descriptor in packsBefore. On any
// failure, every reader opened so far is closed before the error is
// returned, so a partial failure never leaks file handles.
func (e *Engine) openReaders(ctx context.Context, packsBefore []*pack.Descriptor) ([]pack.File, func(), error) {
	files := make([]pack.File, 0, len(packsBefore))
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}

	for _, desc := range packsBefore {
		f, err := e.ObjDB.NewReader(ctx, desc)
		if err != nil {
			closeAll()
			return nil, func() {}, Error.Wrap(err)
		}
		files = append(files, f)
	}
	return files, closeAll, nil
}
