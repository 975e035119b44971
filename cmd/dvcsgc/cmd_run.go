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
	"storj.io/dvcsgc/internal/sync2"
)

var runInterval time.Duration

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Repeatedly run the GC/repack cycle on a fixed interval",
	RunE:  cmdRun,
}

func init() {
	runCmd.Flags().DurationVar(&runInterval, "interval", time.Hour, "time between GC runs")
}

func cmdRun(cmd *cobra.Command, args []string) error {
	h, err := openRepo(cmd)
	if err != nil {
		return err
	}
	e := h.engine()

	tok, err := lockfile.Create(cmd.Context(), h.lockPath())
	if err != nil {
		if errors.Is(err, lockfile.ErrHeld) {
			return fmt.Errorf("another gc run is already in progress against this repository: %w", err)
		}
		return err
	}
	defer func() { _ = tok.Release() }()

	cycle := sync2.NewCycle(runInterval)
	return cycle.Run(cmd.Context(), func(ctx context.Context) error {
		result, ok, err := e.Pack(ctx)
		if err != nil {
			h.Log.Error("gc run failed", zap.Error(err))
			return nil
		}
		if !ok {
			h.Log.Warn("gc run lost the commit race, will retry next tick")
			return nil
		}
		if err := tok.WriteManifest(lockfile.Manifest{
			RunID:         uuid.NewString(),
			StartedAt:     time.Now(),
			SourceClasses: sourceClassNames(result.NewPacks),
		}); err != nil {
			h.Log.Warn("failed to write lock manifest", zap.Error(err))
		}
		h.Log.Info("gc run complete", zap.Int("new_packs", len(result.NewPacks)), zap.Int("pruned", len(result.Pruned)))
		return nil
	})
}
