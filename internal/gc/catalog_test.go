// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"storj.io/dvcsgc/pkg/pack"
)

func descAt(source pack.Source, lastModified time.Time, size int64) *pack.Descriptor {
	d := &pack.Descriptor{Source: source, LastModified: lastModified}
	d.SetFileSize(pack.PackExt, size)
	return d
}

func TestClassifyAlwaysRewritesNonGarbagePacks(t *testing.T) {
	now := time.Now()
	live := descAt(pack.GC, now, 100)

	before, expired := classify([]*pack.Descriptor{live}, DefaultConfig(), now)
	require.Contains(t, before, live)
	require.Empty(t, expired)
}

func TestClassifyLeavesLargeUnexpiredGarbageUntouched(t *testing.T) {
	now := time.Now()
	// A garbage pack bigger than the coalesce limit, with no successor GC run
	// having observed it yet: neither expired nor folded into packs_before.
	garbage := descAt(pack.UnreachableGarbage, now, 100)

	cfg := DefaultConfig()
	cfg.CoalesceGarbageLimit = 10

	before, expired := classify([]*pack.Descriptor{garbage}, cfg, now)
	require.Empty(t, before)
	require.Empty(t, expired)
}

func TestIsExpiredRequiresSuccessorGCObservation(t *testing.T) {
	now := time.Now()
	ttl := time.Hour

	// No GC has ever run (zero mostRecentGC): never expired regardless of age.
	old := descAt(pack.UnreachableGarbage, now.Add(-48*time.Hour), 1)
	require.False(t, isExpired(old, time.Time{}, ttl, now))

	// A later GC observed it, and the TTL has elapsed since it was written.
	mostRecentGC := now.Add(-time.Minute)
	require.True(t, isExpired(old, mostRecentGC, ttl, now))

	// A later GC observed it, but the TTL has not yet elapsed.
	recent := descAt(pack.UnreachableGarbage, now.Add(-2*time.Minute), 1)
	require.False(t, isExpired(recent, mostRecentGC, ttl, now))
}

func TestIsExpiredDisabledWhenTTLZero(t *testing.T) {
	now := time.Now()
	old := descAt(pack.UnreachableGarbage, now.Add(-48*time.Hour), 1)
	require.False(t, isExpired(old, now, 0, now))
}

func TestIsCoalesceableRejectsOversizedPacks(t *testing.T) {
	now := time.Now()
	big := descAt(pack.UnreachableGarbage, now, 1000)
	require.False(t, isCoalesceable(big, 500, time.Hour, now))
}

func TestIsCoalesceableAcceptsUnderLimitWhenTTLZero(t *testing.T) {
	now := time.Now()
	p := descAt(pack.UnreachableGarbage, now, 1)
	require.True(t, isCoalesceable(p, 1000, 0, now))
}

func TestIsCoalesceableRejectsDifferentCalendarDay(t *testing.T) {
	now := time.Now()
	yesterday := now.AddDate(0, 0, -1)
	p := descAt(pack.UnreachableGarbage, yesterday, 1)
	require.False(t, isCoalesceable(p, 1000, time.Hour, now))
}

func TestMostRecentGCTimeOnlyConsidersGCSources(t *testing.T) {
	now := time.Now()
	gc := descAt(pack.GC, now, 1)
	gcRest := descAt(pack.GCRest, now.Add(time.Hour), 1)
	gcTxn := descAt(pack.GCTxn, now.Add(48*time.Hour), 1)

	latest := mostRecentGCTime([]*pack.Descriptor{gc, gcRest, gcTxn})
	require.True(t, latest.Equal(gcRest.LastModified))
}

func TestMostRecentGCTimeZeroWithNoGCPacks(t *testing.T) {
	now := time.Now()
	receive := descAt(pack.RECEIVE, now, 1)
	require.True(t, mostRecentGCTime([]*pack.Descriptor{receive}).IsZero())
}
