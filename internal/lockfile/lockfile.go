// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package lockfile implements single-winner file creation under a
// possibly weakly-consistent backend (e.g. NFS), per the design note in
// §9 of the GC specification: a hard-link witness is probed and held for
// the lifetime of the logical lock, falling back to plain exclusive
// create when the backend declines hard links.
package lockfile

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/zeebo/errs"
)

// Error is the default error class for lockfile.
var Error = errs.Class("lockfile")

// ErrHeld is returned by Create when the lock is already held by someone
// else.
var ErrHeld = Error.New("lock already held")

// Manifest is the small run history recorded next to the lock witness:
// who won the lock most recently, and what they were doing. It exists so
// an operator can inspect the last winning run after a crash.
type Manifest struct {
	RunID        string    `toml:"run_id"`
	StartedAt    time.Time `toml:"started_at"`
	SourceClasses []string `toml:"source_classes"`
}

// Token owns a lock acquired by Create. It must be held for the lifetime
// of the logical lock and released exactly once via Release.
type Token struct {
	path    string
	witness string
	usedLink bool
}

// Create attempts to become the single winner of the lock at path.
//
// It first tries createNewFileAtomic: create a uniquely-named witness
// file, hard-link it to path, then stat the witness and accept the lock
// only if its link count is exactly 2 (our witness plus the successfully
// linked path — a third party racing us would make it 3, and losing a
// race to someone else means the link call itself fails with EEXIST).
// If the backend rejects hard links (common on object-storage-backed
// mounts), it falls back to local file-system semantics: a plain
// O_EXCL create.
func Create(ctx context.Context, path string) (*Token, error) {
	dir := filepath.Dir(path)
	witness := filepath.Join(dir, fmt.Sprintf(".%s.lock-witness-%s", filepath.Base(path), uuid.NewString()))

	wf, err := os.OpenFile(witness, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if err := wf.Close(); err != nil {
		_ = os.Remove(witness)
		return nil, Error.Wrap(err)
	}

	if err := os.Link(witness, path); err != nil {
		if os.IsExist(err) {
			_ = os.Remove(witness)
			return nil, ErrHeld
		}
		// The backend declined hard links entirely (common on gateways in
		// front of object storage). Fall back to local file-system
		// semantics: a plain exclusive create owns witness==path.
		return createLocal(witness, path)
	}

	count, err := linkCount(path)
	if err != nil {
		_ = os.Remove(witness)
		_ = os.Remove(path)
		return nil, Error.Wrap(err)
	}
	if count != 2 {
		_ = os.Remove(witness)
		_ = os.Remove(path)
		return nil, ErrHeld
	}

	return &Token{path: path, witness: witness, usedLink: true}, nil
}

// createLocal falls back to a plain exclusive create when hard links
// aren't available on this backend; witness becomes path directly.
func createLocal(witness, path string) (*Token, error) {
	_ = os.Remove(witness)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return nil, ErrHeld
		}
		return nil, Error.Wrap(err)
	}
	if err := f.Close(); err != nil {
		return nil, Error.Wrap(err)
	}
	return &Token{path: path, witness: path, usedLink: false}, nil
}

// WriteManifest records m next to the lock as a TOML document, for
// post-crash inspection.
func (t *Token) WriteManifest(m Manifest) error {
	f, err := os.OpenFile(t.path+".manifest", os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	enc := toml.NewEncoder(f)
	if err := enc.Encode(m); err != nil {
		return Error.Wrap(err)
	}
	return nil
}

// Release removes the lock and its witness.
func (t *Token) Release() error {
	var errList []error
	if t.usedLink && t.witness != t.path {
		errList = append(errList, os.Remove(t.witness))
	}
	errList = append(errList, os.Remove(t.path))
	return Error.Wrap(errs.Combine(errList...))
}
