// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"storj.io/dvcsgc/internal/lockfile"
	"storj.io/dvcsgc/pkg/pack"
)

var dryRun bool

var packCmd = &cobra.Command{
	Use:   "pack",
	Short: "Run one GC/repack cycle against the repository",
	RunE:  cmdPack,
}

func init() {
	packCmd.Flags().BoolVar(&dryRun, "dry-run", false, "classify the pack catalog without writing anything")
}

func cmdPack(cmd *cobra.Command, args []string) error {
	h, err := openRepo(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	e := h.engine()

	if dryRun {
		rs, err := e.Plan(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("packs_before=%d expired_garbage=%d all_heads=%d non_heads=%d txn_heads=%d\n",
			len(rs.PacksBefore), len(rs.ExpiredGarbagePacks),
			rs.Partition.AllHeads.Len(), rs.Partition.NonHeads.Len(), rs.Partition.TxnHeads.Len())
		return nil
	}

	tok, err := lockfile.Create(ctx, h.lockPath())
	if err != nil {
		if errors.Is(err, lockfile.ErrHeld) {
			return fmt.Errorf("another gc run is already in progress against this repository: %w", err)
		}
		return err
	}
	defer func() { _ = tok.Release() }()

	runID := uuid.NewString()
	result, ok, err := e.Pack(ctx)
	if err != nil {
		return err
	}
	if !ok {
		h.Log.Warn("gc run lost the commit race, rerun needed")
		fmt.Println("race detected, rerun needed")
		return nil
	}

	if err := tok.WriteManifest(lockfile.Manifest{
		RunID:         runID,
		StartedAt:     time.Now(),
		SourceClasses: sourceClassNames(result.NewPacks),
	}); err != nil {
		h.Log.Warn("failed to write lock manifest", zap.Error(err))
	}

	fmt.Printf("new_packs=%d pruned=%d\n", len(result.NewPacks), len(result.Pruned))
	for _, d := range result.NewPacks {
		h.Log.Info("wrote pack", zap.String("id", d.ID), zap.String("source", d.Source.String()), zap.Int("objects", d.ObjectCount))
	}
	return nil
}

// sourceClassNames collects the distinct source classes of descs, for the
// lock manifest's run-history record.
func sourceClassNames(descs []*pack.Descriptor) []string {
	seen := make(map[pack.Source]bool, len(descs))
	var out []string
	for _, d := range descs {
		if seen[d.Source] {
			continue
		}
		seen[d.Source] = true
		out = append(out, d.Source.String())
	}
	return out
}
