// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package revwalk implements the reachability traversal the graph packer
// driver uses as its "rev-walk" collaborator. The spec treats rev-walk as
// an external black box (an iterator of reachable ids); this package is
// one concrete, in-process implementation of that contract, suitable for
// a single-backend deployment where the object graph's edges are cheap to
// query.
package revwalk

import (
	"context"

	"github.com/zeebo/errs"

	"storj.io/dvcsgc/pkg/oid"
	"storj.io/dvcsgc/pkg/pack"
)

// Error is the default error class for revwalk.
var Error = errs.Class("revwalk")

// Graph resolves the outgoing edges of an object: a commit points at a
// tree and its parent commits, a tree points at blobs and subtrees, a tag
// points at its target. Blobs have no outgoing edges.
type Graph interface {
	// Type returns the object type for id.
	Type(ctx context.Context, id oid.OID) (pack.ObjectType, error)
	// Edges returns the OIDs id directly references.
	Edges(ctx context.Context, id oid.OID) ([]oid.OID, error)
}

// Walk visits every object reachable from want that is not already
// reachable from have, depth-first, calling visit exactly once per OID.
// It implements packwriter.Walker.
type Walk struct {
	Graph Graph
}

// Walk satisfies packwriter.Walker.
func (w Walk) Walk(ctx context.Context, want, have *oid.Set, visit func(id oid.OID, kind pack.ObjectType) error) error {
	uninteresting := oid.NewSet(have.Len())
	if have != nil {
		if err := w.markAll(ctx, have.Slice(), uninteresting, func(oid.OID, pack.ObjectType) error { return nil }); err != nil {
			return err
		}
	}
	seen := oid.NewSet(0)
	return w.markAll(ctx, want.Slice(), seen, func(id oid.OID, kind pack.ObjectType) error {
		if uninteresting.Contains(id) {
			return nil
		}
		return visit(id, kind)
	})
}

// markAll performs a DFS from each root in roots, adding every visited OID
// to seen and invoking fn for each, skipping roots already in seen.
func (w Walk) markAll(ctx context.Context, roots []oid.OID, seen *oid.Set, fn func(oid.OID, pack.ObjectType) error) error {
	stack := make([]oid.OID, 0, len(roots))
	stack = append(stack, roots...)

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if id.IsNil() || seen.Contains(id) {
			continue
		}
		seen.Add(id)

		kind, err := w.Graph.Type(ctx, id)
		if err != nil {
			return Error.Wrap(err)
		}
		if err := fn(id, kind); err != nil {
			return err
		}

		edges, err := w.Graph.Edges(ctx, id)
		if err != nil {
			return Error.Wrap(err)
		}
		stack = append(stack, edges...)
	}
	return nil
}

// MemGraph is an in-memory Graph, primarily for tests and small
// deployments: every object's type and edges are kept in maps.
type MemGraph struct {
	Types map[oid.OID]pack.ObjectType
	Links map[oid.OID][]oid.OID
}

// NewMemGraph creates an empty MemGraph.
func NewMemGraph() *MemGraph {
	return &MemGraph{
		Types: make(map[oid.OID]pack.ObjectType),
		Links: make(map[oid.OID][]oid.OID),
	}
}

// Put records id's type and outgoing edges.
func (g *MemGraph) Put(id oid.OID, kind pack.ObjectType, edges ...oid.OID) {
	g.Types[id] = kind
	g.Links[id] = edges
}

// Type implements Graph.
func (g *MemGraph) Type(ctx context.Context, id oid.OID) (pack.ObjectType, error) {
	kind, ok := g.Types[id]
	if !ok {
		return 0, Error.New("unknown object %s", id)
	}
	return kind, nil
}

// Edges implements Graph.
func (g *MemGraph) Edges(ctx context.Context, id oid.OID) ([]oid.OID, error) {
	return g.Links[id], nil
}
