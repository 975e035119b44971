// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package objgraph implements a minimal, disk-persisted revwalk.Graph: the
// edge structure of the object DAG (which tree a commit points at, which
// parents it has, which blobs a tree points at) is itself out of scope per
// §1 ("the rev-walk ... treated as an iterator of reachable ids"); this
// package is one concrete backing store for that contract, recording edges
// as they are declared at insert time rather than parsing any particular
// wire encoding of commits/trees (decoding a real object format is a
// Non-goal: "delta compression internals").
package objgraph

import (
	"context"
	"os"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/zeebo/errs"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
)

// Error is the default error class for objgraph.
var Error = errs.Class("objgraph")

type node struct {
	Kind  int      `toml:"kind"`
	Edges []string `toml:"edges,omitempty"`
}

type document struct {
	Nodes map[string]node `toml:"node"`
}

// Graph is a file-backed revwalk.Graph: every object's type and outgoing
// edges are recorded in one TOML document, loaded fully into memory and
// rewritten wholesale on every Put.
type Graph struct {
	path string

	mu    sync.RWMutex
	nodes map[oid.OID]node
}

// Open loads (or initializes) a Graph backed by the file at path.
func Open(path string) (*Graph, error) {
	g := &Graph{path: path, nodes: make(map[oid.OID]node)}
	if err := g.reload(); err != nil {
		return nil, err
	}
	return g, nil
}

func (g *Graph) reload() error {
	data, err := os.ReadFile(g.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return Error.Wrap(err)
	}
	if len(data) == 0 {
		return nil
	}

	var doc document
	if _, err := toml.Decode(string(data), &doc); err != nil {
		return Error.Wrap(err)
	}

	nodes := make(map[oid.OID]node, len(doc.Nodes))
	for hex, n := range doc.Nodes {
		id, err := oid.FromString(hex)
		if err != nil {
			return Error.Wrap(err)
		}
		nodes[id] = n
	}

	g.mu.Lock()
	g.nodes = nodes
	g.mu.Unlock()
	return nil
}

// Put records id's type and outgoing edges, persisting the document.
func (g *Graph) Put(id oid.OID, kind pack.ObjectType, edges ...oid.OID) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	edgeStrs := make([]string, len(edges))
	for i, e := range edges {
		edgeStrs[i] = e.String()
	}
	g.nodes[id] = node{Kind: int(kind), Edges: edgeStrs}

	doc := document{Nodes: make(map[string]node, len(g.nodes))}
	for nid, n := range g.nodes {
		doc.Nodes[nid.String()] = n
	}

	f, err := os.OpenFile(g.path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() { _ = f.Close() }()

	return Error.Wrap(toml.NewEncoder(f).Encode(doc))
}

// Type implements revwalk.Graph.
func (g *Graph) Type(ctx context.Context, id oid.OID) (pack.ObjectType, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return 0, Error.New("unknown object %s", id)
	}
	return pack.ObjectType(n.Kind), nil
}

// Edges implements revwalk.Graph.
func (g *Graph) Edges(ctx context.Context, id oid.OID) ([]oid.OID, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	n, ok := g.nodes[id]
	if !ok {
		return nil, nil
	}
	out := make([]oid.OID, 0, len(n.Edges))
	for _, hex := range n.Edges {
		parsed, err := oid.FromString(hex)
		if err != nil {
			return nil, Error.Wrap(err)
		}
		out = append(out, parsed)
	}
	return out, nil
}
