// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

// ProgressMonitor receives progress callbacks from a running Pack() call.
// The engine polls ctx.Err() at every Update call in the garbage phase (one
// per source-pack index entry) and at every BeginTask/EndTask boundary
// elsewhere, so cancelling the context a caller passed to Pack aborts the
// run at the next such checkpoint.
type ProgressMonitor interface {
	// BeginTask announces the start of a phase with a human-readable title
	// and the total unit count it expects to process (0 if unknown).
	BeginTask(title string, total int)
	// Update reports n additional units completed in the current task.
	Update(n int)
	// EndTask announces the current task is complete.
	EndTask()
}

// NoopMonitor discards all progress callbacks. The default when a caller
// does not supply one.
type NoopMonitor struct{}

// BeginTask implements ProgressMonitor.
func (NoopMonitor) BeginTask(title string, total int) {}

// Update implements ProgressMonitor.
func (NoopMonitor) Update(n int) {}

// EndTask implements ProgressMonitor.
func (NoopMonitor) EndTask() {}
