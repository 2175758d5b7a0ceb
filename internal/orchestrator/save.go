// Package orchestrator implements the Save Orchestrator (spec §4.4): given a
// job that was just persisted, it decides whether the save landed a record
// due soon enough that the Processor should attempt an on-the-fly lock
// instead of waiting for the next poll tick.
//
// The actual insert/update/singleton-upsert/unique-upsert/debounce-merge
// branching lives in the Repository implementation, since only the driver
// can make that decision atomically against the record a concurrent writer
// might be touching at the same time (spec §4.7). This package is the thin
// layer above it that the Scheduler facade calls on every save.
package orchestrator

import (
	"time"

	"github.com/dnovik/scheduler/internal/domain"
)

// DueBeforeNextScan reports whether saved's NextRunAt falls on or before
// nextScanAt — the signal that tells the Processor to try locking the record
// immediately rather than leave it for the next poll (spec §4.4, last
// paragraph; spec §4.5 "on-the-fly lock").
func DueBeforeNextScan(saved *domain.Job, nextScanAt time.Time) bool {
	next := saved.GetNextRunAt()
	return next != nil && !next.After(nextScanAt)
}
