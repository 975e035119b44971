// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"time"

	"storj.io/dvcsgc/pkg/pack"
)

// Config holds the GC engine's tunables, mirroring the struct-tag
// convention used throughout the teacher repository's configuration
// structs (e.g. storagenode/blobstore/filestore.Config,
// satellite/gc.Config): every field documents its unit, default, and
// effect, and cmd/dvcsgc registers each default tag as a viper default
// that a config file or the environment can override.
type Config struct {
	// CoalesceGarbageLimit is the upper size, in bytes, an existing
	// UNREACHABLE_GARBAGE pack may have and still be folded into the new
	// coalesced garbage pack. 0 disables coalescing; a very large value
	// coalesces everything regardless of size.
	CoalesceGarbageLimit int64 `help:"upper size bound on a garbage pack to be folded into the new one" default:"52428800"`

	// GarbageTTL is the minimum age an UNREACHABLE_GARBAGE pack must have
	// reached, counted from its own LastModified, before it becomes
	// eligible for expiry; expiry also requires a GC/GC_REST pack written
	// after it. 0 disables expiry.
	GarbageTTL time.Duration `help:"minimum age before an unreachable pack may be expired" default:"24h"`

	// IndexVersion must equal pack.SupportedIndexVersion; any other value
	// is a fatal precondition failure, checked before any I/O.
	IndexVersion int `help:"pack index format version to write" default:"2"`

	// WriterConfig is passed through unchanged to every phase's writer,
	// except the garbage phase, which additionally forces
	// ReuseObjects=true and DisableDeltas=DisableBitmaps=true.
	WriterConfig WriterConfig
}

// WriterConfig holds the subset of packwriter.Config the engine exposes as
// tunables, rather than deriving entirely from phase.
type WriterConfig struct {
	DeltaBaseAsOffset bool `help:"encode delta bases as pack offsets rather than full OIDs" default:"true"`
	ReuseDeltaCommits bool `help:"reuse existing delta chains when possible" default:"false"`
	Compress          bool `help:"compress object bytes with zstd" default:"false"`
}

// DefaultConfig returns the documented default tunables.
func DefaultConfig() Config {
	return Config{
		CoalesceGarbageLimit: 50 * 1024 * 1024,
		GarbageTTL:           24 * time.Hour,
		IndexVersion:         pack.SupportedIndexVersion,
		WriterConfig:         WriterConfig{DeltaBaseAsOffset: true},
	}
}

// Validate checks the fatal preconditions described in §6: an index
// version other than the one this engine can write aborts the run before
// any I/O.
func (c Config) Validate() error {
	if c.IndexVersion != pack.SupportedIndexVersion {
		return ErrUnsupportedIndexVersion
	}
	return nil
}
