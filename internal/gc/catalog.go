// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package gc

import (
	"time"

	"storj.io/dvcsgc/pkg/pack"
)

// classify implements §4.2: partition the current pack list into
// packs_before (to be rewritten) and expired_garbage_packs (to be pruned
// unread), given the current wall-clock time now.
//
// now and every pack's LastModified are compared in the system's local
// time zone per the calendar-day boundary design note in §9 — the engine
// never substitutes UTC, because daily coalescing schedules are set by
// operators against their local day.
func classify(packs []*pack.Descriptor, cfg Config, now time.Time) (packsBefore, expiredGarbage []*pack.Descriptor) {
	mostRecentGC := mostRecentGCTime(packs)

	for _, p := range packs {
		if p.Source != pack.UnreachableGarbage {
			packsBefore = append(packsBefore, p)
			continue
		}

		if isExpired(p, mostRecentGC, cfg.GarbageTTL, now) {
			expiredGarbage = append(expiredGarbage, p)
			continue
		}

		if isCoalesceable(p, cfg.CoalesceGarbageLimit, cfg.GarbageTTL, now) {
			packsBefore = append(packsBefore, p)
		}
		// else: leave in place, neither pruned nor rewritten.
	}

	return packsBefore, expiredGarbage
}

// mostRecentGCTime is the maximum LastModified over packs whose source is
// GC or GC_REST; zero if none exist. A zero mostRecentGC means no GC run
// has ever observed the repository's current garbage, so isExpired can
// never return true for any pack (the Open Question decision in
// SPEC_FULL.md §6): the signed comparison lastModified < mostRecentGC is
// false whenever mostRecentGC is the zero time, since no pack can predate
// the zero time.
func mostRecentGCTime(packs []*pack.Descriptor) time.Time {
	var latest time.Time
	for _, p := range packs {
		if !p.Source.IsGC() {
			continue
		}
		if p.LastModified.After(latest) {
			latest = p.LastModified
		}
	}
	return latest
}

// isExpired implements the expiry predicate of §4.2: a successor GC run
// must have observed the pack (lastModified strictly predates
// mostRecentGC) and the TTL must have elapsed since it was written.
func isExpired(p *pack.Descriptor, mostRecentGC time.Time, ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	if !p.LastModified.Before(mostRecentGC) {
		return false
	}
	return now.Sub(p.LastModified) >= ttl
}

// isCoalesceable implements the coalesce predicate of §4.2.
func isCoalesceable(p *pack.Descriptor, limit int64, ttl time.Duration, now time.Time) bool {
	size := p.FileSize(pack.PackExt)
	if size >= limit {
		return false
	}
	if ttl == 0 {
		return true
	}

	t := p.LastModified
	dayStart := startOfDay(t)
	nowDayStart := startOfDay(now)
	if !dayStart.Equal(nowDayStart) {
		return false
	}

	if ttl > 24*time.Hour {
		return true
	}

	w := ttl / 3
	if w == 0 {
		return false
	}

	return (t.Sub(dayStart) / w) == (now.Sub(nowDayStart) / w)
}

// startOfDay zeroes the hour/minute/second/nanosecond components of t in
// its own (local) time zone, giving the start of the calendar day t falls
// in.
func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
