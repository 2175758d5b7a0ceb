// Package scheduler is a distributed, persistent job scheduler: it schedules
// named units of work, persists them through a Repository, and coordinates
// their execution across any number of worker processes so each due run of
// each job executes on exactly one worker, exactly once, despite crashes.
package scheduler

import (
	"time"

	"github.com/dnovik/scheduler/internal/domain"
)

// JobType distinguishes a one-shot occurrence from a singleton record.
type JobType = domain.JobType

const (
	// TypeNormal is one occurrence per submission (spec §3.1).
	TypeNormal = domain.TypeNormal
	// TypeSingle means at most one persisted record per job name — how
	// recurring schedules are stored (spec §4.6 every()).
	TypeSingle = domain.TypeSingle
)

// DebounceStrategy selects how repeated nowDebounced calls against the same
// unique key merge (spec §4.4).
type DebounceStrategy = domain.DebounceStrategy

const (
	DebounceTrailing = domain.DebounceTrailing
	DebounceLeading  = domain.DebounceLeading
)

// DebounceOptions configures the debounce-merge save path.
type DebounceOptions = domain.DebounceOptions

// UniqueOptions configures the unique-key upsert save path (spec §4.4).
type UniqueOptions = domain.UniqueOptions

// Job is the value type holding every persistable field of spec §3.1, plus
// the in-memory bookkeeping a fluent builder needs. Handlers never construct
// one directly — they come from Facade.Create/Now/Schedule/Every/NowDebounced.
//
// Job's methods are implemented on internal/domain.Job; this is a type alias
// so every Repository driver and the Processor operate on the exact same
// concrete type without importing this package (which would cycle back
// through the facade).
type Job = domain.Job

// RepeatOption configures RepeatEvery/RepeatAtTime.
type RepeatOption = domain.RepeatOption

// WithTimezone sets the IANA zone repeatInterval/repeatAt/skipDays are evaluated in.
func WithTimezone(tz string) RepeatOption { return domain.WithTimezone(tz) }

// WithSkipImmediate re-anchors the first occurrence to one interval from now
// instead of now (spec §4.1).
func WithSkipImmediate() RepeatOption { return domain.WithSkipImmediate() }

// UniqueOption configures Unique.
type UniqueOption = domain.UniqueOption

// InsertOnly marks a unique-keyed job so it is only ever created, never updated.
func InsertOnly() UniqueOption { return domain.InsertOnly() }

// WithDebounce configures the unique-keyed job to coalesce saves within delay
// of each other, capped by maxWait (0 = uncapped).
func WithDebounce(strategy DebounceStrategy, delay, maxWait time.Duration) UniqueOption {
	return domain.WithDebounce(strategy, delay, maxWait)
}
