// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective GC tunables",
	RunE:  cmdConfig,
}

func cmdConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	fmt.Printf("coalesce_garbage_limit = %d\n", cfg.CoalesceGarbageLimit)
	fmt.Printf("garbage_ttl = %s\n", cfg.GarbageTTL)
	fmt.Printf("index_version = %d\n", cfg.IndexVersion)
	fmt.Printf("writer.delta_base_as_offset = %t\n", cfg.WriterConfig.DeltaBaseAsOffset)
	fmt.Printf("writer.reuse_delta_commits = %t\n", cfg.WriterConfig.ReuseDeltaCommits)
	fmt.Printf("writer.compress = %t\n", cfg.WriterConfig.Compress)
	return cfg.Validate()
}
