// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
	"storj.io/dvcsgc/pkg/refs"
)

var putCmd = &cobra.Command{
	Use:   "put <kind> <file>",
	Short: "Insert a single object (commit=0, tree=1, blob=2, tag=3) via the INSERT pack path",
	Args:  cobra.ExactArgs(2),
	RunE:  cmdPut,
}

func cmdPut(cmd *cobra.Command, args []string) error {
	h, err := openRepo(cmd)
	if err != nil {
		return err
	}

	kindN, err := strconv.Atoi(args[0])
	if err != nil {
		return err
	}
	content, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}

	id := oid.New(content)
	desc, err := objdb.InsertObject(context.Background(), h.ObjDB, id, pack.ObjectType(kindN), content)
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\n", id, desc.ID)
	return nil
}

var refCmd = &cobra.Command{
	Use:   "ref",
	Short: "Manage refs in the file-backed ref database",
}

var refSetCmd = &cobra.Command{
	Use:   "set <name> <oid>",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openRepo(cmd)
		if err != nil {
			return err
		}
		id, err := oid.FromString(args[1])
		if err != nil {
			return err
		}
		return h.RefDB.Put(refs.Ref{Name: args[0], Target: id})
	},
}

var refRmCmd = &cobra.Command{
	Use:  "rm <name>",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, err := openRepo(cmd)
		if err != nil {
			return err
		}
		return h.RefDB.Delete(args[0])
	},
}

func init() {
	refCmd.AddCommand(refSetCmd, refRmCmd)
	rootCmd.AddCommand(refCmd)
}
