// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Command dvcsgc runs the garbage collection and repack engine against a
// single repository's ref-db and obj-db.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "dvcsgc",
	Short: "Garbage collection and repack engine for a content-addressed object store",
}

func main() {
	rootCmd.AddCommand(packCmd, runCmd, configCmd, putCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
