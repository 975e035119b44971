// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var mon = monkit.Package()

// Error is the default error class for the gc package.
var Error = errs.Class("gc")

// ErrUnsupportedIndexVersion is returned by Config.Validate and by
// Engine.Pack when packConfig.indexVersion is anything other than
// pack.SupportedIndexVersion. It is a fatal precondition failure: no
// side effects occur before it is returned.
var ErrUnsupportedIndexVersion = Error.New("unsupported pack index version")

// errorsCombine merges a phase failure with a best-effort rollback failure
// without masking the original error, per §7's propagation policy.
func errorsCombine(cause, rollbackErr error) error {
	return errs.Combine(cause, rollbackErr)
}
