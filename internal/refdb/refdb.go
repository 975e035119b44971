// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package refdb implements a minimal file-backed refs.DB, the concrete
// ref-database the CLI wires against. A real deployment would back this
// interface with whatever ref-update protocol and storage the surrounding
// system already has (out of scope per §1: "the reference database ...
// treated as an oracle returning a set of named tips"); this package is
// just one faithful, disk-persisted oracle, modeled on the TOML-manifest
// style used by internal/lockfile.
package refdb

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/zeebo/errs"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/refs"
)

// Error is the default error class for refdb.
var Error = errs.Class("refdb")

// entry is the on-disk representation of one ref.
type entry struct {
	Name     string `toml:"name"`
	Target   string `toml:"target"`
	Peeled   string `toml:"peeled,omitempty"`
	Symbolic bool   `toml:"symbolic,omitempty"`
}

type document struct {
	Refs []entry `toml:"ref"`
}

// DB is a flat-file ref-database: every ref lives in one TOML document,
// rewritten wholesale on every mutation. Reads are served from an in-memory
// copy until Refresh is called.
type DB struct {
	path string

	mu        sync.RWMutex
	loaded    []refs.Ref
	refTrees  map[string]bool
}

// Open loads (or initializes) a DB backed by the file at path.
func Open(path string) (*DB, error) {
	db := &DB{path: path, refTrees: make(map[string]bool)}
	if err := db.Refresh(context.Background()); err != nil {
		return nil, err
	}
	return db, nil
}

// Refresh implements refs.DB: reload the on-disk document.
func (db *DB) Refresh(ctx context.Context) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	doc, err := readDocument(db.path)
	if err != nil {
		return Error.Wrap(err)
	}

	out := make([]refs.Ref, 0, len(doc.Refs))
	for _, e := range doc.Refs {
		r := refs.Ref{Name: e.Name, Symbolic: e.Symbolic}
		if !e.Symbolic && e.Target != "" {
			id, err := oid.FromString(e.Target)
			if err != nil {
				return Error.Wrap(err)
			}
			r.Target = id
		}
		if e.Peeled != "" {
			id, err := oid.FromString(e.Peeled)
			if err != nil {
				return Error.Wrap(err)
			}
			r.Peeled = &id
		}
		out = append(out, r)
	}

	db.loaded = out
	return nil
}

// GetRefs implements refs.DB. Scope is ignored; this store has no secondary
// indices, so refs.All is the only supported scope.
func (db *DB) GetRefs(ctx context.Context, scope refs.Scope) ([]refs.Ref, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]refs.Ref, 0, len(db.loaded))
	for _, r := range db.loaded {
		if strings.HasPrefix(r.Name, refs.ReservedPrefix) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// GetAdditionalRefs implements refs.DB: every ref under the reserved
// namespace.
func (db *DB) GetAdditionalRefs(ctx context.Context) ([]refs.Ref, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	out := make([]refs.Ref, 0)
	for _, r := range db.loaded {
		if strings.HasPrefix(r.Name, refs.ReservedPrefix) {
			out = append(out, r)
		}
	}
	return out, nil
}

// IsRefTree implements refs.DB: a ref is classified as a ref-tree ref by an
// explicit marker set via MarkRefTree, not by name pattern alone.
func (db *DB) IsRefTree(ctx context.Context, name string) bool {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.refTrees[name]
}

// MarkRefTree records name as a ref-tree (transactional) ref. Exposed so
// callers that manage transactional metadata can classify their own refs
// without this package guessing from naming convention.
func (db *DB) MarkRefTree(name string) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.refTrees[name] = true
}

// Put creates or updates a ref and persists the document.
func (db *DB) Put(r refs.Ref) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	replaced := false
	for i, existing := range db.loaded {
		if existing.Name == r.Name {
			db.loaded[i] = r
			replaced = true
			break
		}
	}
	if !replaced {
		db.loaded = append(db.loaded, r)
	}
	return db.writeLocked()
}

// Delete removes a ref by name and persists the document.
func (db *DB) Delete(name string) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	out := db.loaded[:0:0]
	for _, r := range db.loaded {
		if r.Name != name {
			out = append(out, r)
		}
	}
	db.loaded = out
	return db.writeLocked()
}

func (db *DB) writeLocked() error {
	doc := document{Refs: make([]entry, 0, len(db.loaded))}
	for _, r := range db.loaded {
		e := entry{Name: r.Name, Symbolic: r.Symbolic}
		if !r.Target.IsNil() {
			e.Target = r.Target.String()
		}
		if r.Peeled != nil {
			e.Peeled = r.Peeled.String()
		}
		doc.Refs = append(doc.Refs, e)
	}
	sort.Slice(doc.Refs, func(i, j int) bool { return doc.Refs[i].Name < doc.Refs[j].Name })

	f, err := os.OpenFile(db.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	return Error.Wrap(toml.NewEncoder(f).Encode(doc))
}

func readDocument(path string) (document, error) {
	var doc document
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return doc, nil
		}
		return doc, err
	}
	if len(data) == 0 {
		return doc, nil
	}
	_, err = toml.Decode(string(data), &doc)
	return doc, err
}
