// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objdb defines the object-database contract the GC engine
// depends on, and a filesystem-backed implementation adapted from the
// teacher repository's disk blob store: pack files are written to a
// staging area and promoted into the catalog with an atomic rename,
// exactly the way the blob store promotes a written blob from its
// temporary file into its final location.
package objdb

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/zeebo/errs"

	"storj.io/dvcsgc/pkg/pack"
)

// Error is the default error class for objdb.
var Error = errs.Class("objdb")

// DB is the object-database contract: pack enumeration, pack creation,
// and atomic pack-set commit/rollback. The GC engine treats it as a
// collaborator, never reimplementing its storage concerns.
type DB interface {
	// BeginRun records the ref snapshot token a run is operating against,
	// so a later CommitPack call can detect a race against a concurrent
	// ref update. The engine calls this once per Pack() invocation,
	// immediately after the ref set collector returns.
	BeginRun(ctx context.Context, token string)

	// GetPacks returns every pack currently in the catalog.
	GetPacks(ctx context.Context) ([]*pack.Descriptor, error)

	// NewReader opens a read-only File accessor for desc.
	NewReader(ctx context.Context, desc *pack.Descriptor) (pack.File, error)

	// NewPack allocates a new descriptor for a pack about to be written
	// under the given source class, with an estimated final size (used
	// only as a pre-allocation hint).
	NewPack(ctx context.Context, source pack.Source, estimatedSize int64) (*pack.Descriptor, error)

	// WriteFile opens an output stream for one companion file of desc.
	// The stream writes to a staging location; the bytes only become
	// visible to readers after CommitPack.
	WriteFile(ctx context.Context, desc *pack.Descriptor, ext pack.Ext) (io.WriteCloser, error)

	// CommitPack atomically publishes add as additions and prune as
	// removals from the catalog. Its boolean return reports whether the
	// ref snapshot used to build add is still current — false signals a
	// race that warrants a GC rerun. On error, no change is made.
	CommitPack(ctx context.Context, add []*pack.Descriptor, prune []*pack.Descriptor) (ok bool, err error)

	// RollbackPack discards the staged files for descriptors that were
	// allocated by NewPack but never committed.
	RollbackPack(ctx context.Context, add []*pack.Descriptor) error

	// ClearCache invalidates any cached view of the pack list.
	ClearCache(ctx context.Context)
}

// extSuffix names each companion file's on-disk suffix.
var extSuffix = map[pack.Ext]string{
	pack.PackExt:        ".pack",
	pack.IndexExt:       ".idx",
	pack.BitmapIndexExt: ".bitmap",
}

// FileStore is a filesystem-backed DB, analogous to the teacher's
// storagenode/blobstore/filestore.Dir: packs live under root/packs, newly
// written files are staged under root/incoming and promoted with
// os.Rename, which is atomic on the same filesystem.
type FileStore struct {
	root string

	mu           sync.RWMutex
	runToken     string
	currentToken string
	packs        map[string]*pack.Descriptor
	nextSeq      int
}

// NewFileStore creates (or opens) a FileStore rooted at dir.
func NewFileStore(dir string) (*FileStore, error) {
	for _, sub := range []string{"packs", "incoming"} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, Error.Wrap(err)
		}
	}
	fs := &FileStore{root: dir, packs: make(map[string]*pack.Descriptor)}
	if err := fs.load(); err != nil {
		return nil, err
	}
	return fs, nil
}

func (fs *FileStore) load() error {
	entries, err := os.ReadDir(filepath.Join(fs.root, "packs"))
	if err != nil {
		return Error.Wrap(err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".pack" {
			continue
		}
		// A descriptor's metadata lives in-process for this simplified
		// store; production deployments would persist it alongside the
		// pack. Pre-existing packs found on disk without metadata are
		// skipped — they are not part of this engine's catalog.
		_ = e
	}
	return nil
}

// BeginRun implements DB. It records token as both the run's own snapshot
// and, since nothing has changed the refs yet as far as this store knows,
// the current token too — a later NotifyRefChange call before CommitPack is
// what simulates (or, in a deployment wired to a real ref-db, reports) a
// concurrent ref update landing in between.
func (fs *FileStore) BeginRun(ctx context.Context, token string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.runToken = token
	fs.currentToken = token
}

// NotifyRefChange advances the store's current ref token, simulating (or,
// in a deployment wired to a real ref-db, reporting) a ref update that
// happened after a run's BeginRun. A concurrent writer that updates a ref
// while a GC run is in flight calls this with its own new token; on commit,
// CommitPack will detect that the run's token no longer matches.
func (fs *FileStore) NotifyRefChange(token string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.currentToken = token
}

// GetPacks implements DB.
func (fs *FileStore) GetPacks(ctx context.Context) ([]*pack.Descriptor, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	out := make([]*pack.Descriptor, 0, len(fs.packs))
	for _, d := range fs.packs {
		out = append(out, d)
	}
	return out, nil
}

// NewPack implements DB.
func (fs *FileStore) NewPack(ctx context.Context, source pack.Source, estimatedSize int64) (*pack.Descriptor, error) {
	fs.mu.Lock()
	fs.nextSeq++
	id := newDescriptorID(fs.nextSeq)
	fs.mu.Unlock()

	return &pack.Descriptor{
		ID:           id,
		Source:       source,
		IndexVersion: pack.SupportedIndexVersion,
	}, nil
}

func newDescriptorID(seq int) string {
	return filepath.Join("p", itoa(seq))
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

func (fs *FileStore) stagingPath(desc *pack.Descriptor, ext pack.Ext) string {
	return filepath.Join(fs.root, "incoming", sanitize(desc.ID)+extSuffix[ext])
}

func (fs *FileStore) finalPath(desc *pack.Descriptor, ext pack.Ext) string {
	return filepath.Join(fs.root, "packs", sanitize(desc.ID)+extSuffix[ext])
}

func sanitize(id string) string {
	out := make([]rune, 0, len(id))
	for _, r := range id {
		if r == filepath.Separator {
			out = append(out, '_')
			continue
		}
		out = append(out, r)
	}
	return string(out)
}

// WriteFile implements DB.
func (fs *FileStore) WriteFile(ctx context.Context, desc *pack.Descriptor, ext pack.Ext) (io.WriteCloser, error) {
	path := fs.stagingPath(desc, ext)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Error.Wrap(err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &countingWriteCloser{f: f, desc: desc, ext: ext}, nil
}

type countingWriteCloser struct {
	f    *os.File
	desc *pack.Descriptor
	ext  pack.Ext
	n    int64
}

func (c *countingWriteCloser) Write(p []byte) (int, error) {
	n, err := c.f.Write(p)
	c.n += int64(n)
	return n, err
}

func (c *countingWriteCloser) Close() error {
	if err := c.f.Sync(); err != nil {
		return Error.Wrap(err)
	}
	c.desc.SetFileSize(c.ext, c.n)
	return Error.Wrap(c.f.Close())
}

// CommitPack implements DB. It is the race-detection boundary described in
// §4.4: the ref snapshot the caller captured at run start (via BeginRun) is
// compared against the current token before anything else happens. A
// mismatch returns (false, nil) with no side effects at all — the caller
// (internal/gc) is responsible for rolling back the new packs and rerunning.
// Once the tokens match, every add descriptor's staged files are renamed
// into their final location and every prune descriptor's files are removed;
// the rename step for each file is atomic on a single filesystem, and no
// reader can observe a partially renamed pack because packs are only made
// visible in GetPacks after all their companion files are renamed.
func (fs *FileStore) CommitPack(ctx context.Context, add []*pack.Descriptor, prune []*pack.Descriptor) (bool, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if fs.runToken != fs.currentToken {
		return false, nil
	}

	for _, desc := range add {
		for ext := range extSuffix {
			staged := fs.stagingPath(desc, ext)
			if _, err := os.Stat(staged); err != nil {
				if os.IsNotExist(err) {
					continue
				}
				return false, Error.Wrap(err)
			}
			if err := os.Rename(staged, fs.finalPath(desc, ext)); err != nil {
				return false, Error.Wrap(err)
			}
		}
		// LastModified is stamped by the packer driver to the run's
		// start_time_ms before CommitPack is ever called (§5's ordering
		// guarantee that sibling packs from one run share a timestamp);
		// CommitPack must not override it with the commit wall-clock time.
		desc.Commit()
		fs.packs[desc.ID] = desc
	}

	for _, desc := range prune {
		for ext := range extSuffix {
			_ = os.Remove(fs.finalPath(desc, ext))
		}
		delete(fs.packs, desc.ID)
	}

	return true, nil
}

// RollbackPack implements DB: discard staged files for descriptors that
// were never promoted.
func (fs *FileStore) RollbackPack(ctx context.Context, add []*pack.Descriptor) error {
	var errList []error
	for _, desc := range add {
		for ext := range extSuffix {
			if err := os.Remove(fs.stagingPath(desc, ext)); err != nil && !os.IsNotExist(err) {
				errList = append(errList, err)
			}
		}
	}
	return Error.Wrap(errs.Combine(errList...))
}

// ClearCache implements DB. FileStore has no separate cached view beyond
// fs.packs itself, so this is a no-op kept for contract fidelity.
func (fs *FileStore) ClearCache(ctx context.Context) {}
