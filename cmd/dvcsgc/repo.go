// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package main

import (
	"path/filepath"
	"reflect"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"storj.io/dvcsgc/internal/blockcache"
	"storj.io/dvcsgc/internal/gc"
	"storj.io/dvcsgc/internal/objdb"
	"storj.io/dvcsgc/internal/objgraph"
	"storj.io/dvcsgc/internal/refdb"
)

var v = viper.New()

func init() {
	rootCmd.PersistentFlags().String("repo", ".", "path to the repository root")
	rootCmd.PersistentFlags().String("config", "", "config file (default: <repo>/dvcsgc.yaml)")
	_ = v.BindPFlag("repo", rootCmd.PersistentFlags().Lookup("repo"))
	_ = v.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))

	bindConfigDefaults(v, "", reflect.TypeOf(gc.Config{}))
}

// bindConfigDefaults walks t's fields and registers every help/default tag
// pair as a viper default, the struct-tag convention carried over from
// storagenode/blobstore/filestore.Config and satellite/gc.Config.
func bindConfigDefaults(v *viper.Viper, prefix string, t reflect.Type) {
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		key := prefix + f.Name
		if f.Type.Kind() == reflect.Struct && f.Tag.Get("default") == "" {
			bindConfigDefaults(v, key+".", f.Type)
			continue
		}
		def, ok := f.Tag.Lookup("default")
		if !ok {
			continue
		}
		v.SetDefault(key, parseDefault(f.Type, def))
	}
}

func parseDefault(t reflect.Type, raw string) any {
	switch t.Kind() {
	case reflect.Int, reflect.Int64:
		if t == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(raw)
			if err == nil {
				return d
			}
			return time.Duration(0)
		}
		n, _ := strconv.ParseInt(raw, 10, 64)
		return n
	case reflect.Bool:
		b, _ := strconv.ParseBool(raw)
		return b
	default:
		return raw
	}
}

// loadConfig reads the config file (if any) and environment, returning the
// effective GC tunables.
func loadConfig(cmd *cobra.Command) (gc.Config, error) {
	repo := v.GetString("repo")

	if cfgPath := v.GetString("config"); cfgPath != "" {
		v.SetConfigFile(cfgPath)
	} else {
		v.SetConfigName("dvcsgc")
		v.AddConfigPath(repo)
	}
	v.SetEnvPrefix("DVCSGC")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return gc.Config{}, err
		}
	}

	cfg := gc.DefaultConfig()
	cfg.CoalesceGarbageLimit = v.GetInt64("CoalesceGarbageLimit")
	cfg.GarbageTTL = v.GetDuration("GarbageTTL")
	if iv := v.GetInt("IndexVersion"); iv != 0 {
		cfg.IndexVersion = iv
	}
	cfg.WriterConfig.Compress = v.GetBool("WriterConfig.Compress")
	cfg.WriterConfig.DeltaBaseAsOffset = v.GetBool("WriterConfig.DeltaBaseAsOffset")
	cfg.WriterConfig.ReuseDeltaCommits = v.GetBool("WriterConfig.ReuseDeltaCommits")

	return cfg, nil
}

// repoHandles bundles everything Engine needs to run against the
// repository rooted at --repo.
type repoHandles struct {
	Repo    string
	RefDB   *refdb.DB
	ObjDB   *objdb.FileStore
	Graph   *objgraph.Graph
	Cache   *blockcache.Cache
	Log     *zap.Logger
	Config  gc.Config
}

func openRepo(cmd *cobra.Command) (*repoHandles, error) {
	repo := v.GetString("repo")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}

	objDB, err := objdb.NewFileStore(filepath.Join(repo, "objects"))
	if err != nil {
		return nil, err
	}
	refDB, err := refdb.Open(filepath.Join(repo, "refs.toml"))
	if err != nil {
		return nil, err
	}
	graph, err := objgraph.Open(filepath.Join(repo, "graph.toml"))
	if err != nil {
		return nil, err
	}

	log, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}

	return &repoHandles{
		Repo:   repo,
		RefDB:  refDB,
		ObjDB:  objDB,
		Graph:  graph,
		Cache:  blockcache.New(blockcache.Options{Capacity: 64, Expiration: 10 * time.Minute}),
		Log:    log,
		Config: cfg,
	}, nil
}

// lockPath is where the single-winner run lock lives for this repository,
// guarding §5's "no two GC runs against the same repository concurrently."
func (h *repoHandles) lockPath() string {
	return filepath.Join(h.Repo, "gc.lock")
}

func (h *repoHandles) engine() *gc.Engine {
	e := gc.New(h.RefDB, h.ObjDB, h.Graph, h.Config)
	e.Cache = h.Cache
	e.Log = h.Log
	return e
}
