// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

// Package refs defines the named-pointer type the GC engine reads from the
// ref database, and the contract that database must satisfy. The ref
// database itself is an external collaborator; this package only names
// its shape.
package refs

import (
	"context"
	"strings"

	"storj.io/dvcsgc/pkg/oid"
)

// Namespace prefixes used to classify a ref by name. Real deployments may
// use different literal prefixes; the engine only depends on the DB being
// able to answer IsRefTree and on these being used consistently by callers
// that construct a DB.
const (
	HeadsPrefix     = "refs/heads/"
	TagsPrefix      = "refs/tags/"
	ReservedPrefix  = "refs/internal/"
)

// Ref is a named pointer into the object graph.
type Ref struct {
	Name string

	// Target is the OID this ref points at. For a non-symbolic ref the
	// zero value means the ref is null (see IsNull); symbolic refs also
	// leave it zero but are never null.
	Target oid.OID

	// Peeled is the non-tag object a tag ultimately names. Nil unless Name
	// is a tag and the tag has been peeled by the ref-db.
	Peeled *oid.OID

	// Symbolic is true when the ref indirects to another ref rather than
	// naming an object directly.
	Symbolic bool
}

// IsNull reports whether the ref has no target and isn't symbolic.
func (r Ref) IsNull() bool {
	return !r.Symbolic && r.Target.IsNil()
}

// Scope selects which refs GetRefs returns.
type Scope int

// All selects every ref in the database.
const All Scope = 0

// DB is the ref database contract. It is treated as an oracle returning a
// point-in-time snapshot of named tips; the GC engine performs no writes
// through this interface.
type DB interface {
	// Refresh forces the DB to drop any cached view and re-read from its
	// backing store on the next call.
	Refresh(ctx context.Context) error

	// GetRefs returns every ref within scope.
	GetRefs(ctx context.Context, scope Scope) ([]Ref, error)

	// GetAdditionalRefs returns refs outside the normal heads/tags
	// namespace that should still be walked and classified (e.g.
	// transactional metadata refs), identified by the ReservedPrefix.
	GetAdditionalRefs(ctx context.Context) ([]Ref, error)

	// IsRefTree reports whether name identifies a ref whose content is
	// managed as a transactional tree (ref-tree ref) rather than a direct
	// object pointer.
	IsRefTree(ctx context.Context, name string) bool
}

// HasPrefix reports whether name starts with any of prefixes; passing
// HeadsPrefix and TagsPrefix tests for the heads or tags namespace.
func HasPrefix(name string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}
