package domain

import "time"

// JobType distinguishes a one-shot occurrence from a singleton record.
type JobType string

const (
	// TypeNormal is one occurrence per submission (spec §3.1).
	TypeNormal JobType = "normal"
	// TypeSingle means at most one persisted record per job name — how
	// recurring schedules are stored (spec §4.6 every()).
	TypeSingle JobType = "single"
)

// DebounceStrategy selects how repeated nowDebounced calls against the same
// unique key merge (spec §4.4).
type DebounceStrategy string

const (
	DebounceTrailing DebounceStrategy = "trailing"
	DebounceLeading  DebounceStrategy = "leading"
)

// DebounceOptions configures the debounce-merge save path.
type DebounceOptions struct {
	Delay    time.Duration
	MaxWait  time.Duration // 0 = no cap
	Strategy DebounceStrategy
}

// UniqueOptions configures the unique-key upsert save path (spec §4.4).
type UniqueOptions struct {
	InsertOnly bool
	Debounce   *DebounceOptions
}

// Job is the value type holding every persistable field of spec §3.1, plus
// the in-memory bookkeeping a fluent builder needs. Handlers never construct
// one directly — they come from Facade.Create/Now/Schedule/Every/NowDebounced.
type Job struct {
	ID   string
	Name string
	Type JobType
	Data any

	Priority  int
	NextRunAt *time.Time

	LockedAt       *time.Time
	LastRunAt      *time.Time
	LastFinishedAt *time.Time
	FailedAt       *time.Time
	FailCount      int
	FailReason     string

	RepeatInterval string
	RepeatTimezone string // IANA zone name; "" means UTC
	RepeatAt       string

	StartDateAt *time.Time
	EndDateAt   *time.Time
	SkipDays    map[time.Weekday]bool

	Disabled bool

	Unique     map[string]any
	UniqueOpts *UniqueOptions

	DebounceStartedAt *time.Time

	Progress       int
	LastModifiedBy string

	// Forked, when true, tells the Save Orchestrator to insert a fresh
	// record even where Type/Unique would otherwise upsert (spec §4.2 fork()).
	Forked bool

	skipImmediate bool
}

// timezone resolves RepeatTimezone to a *time.Location, defaulting to UTC.
func (j *Job) timezone() *time.Location {
	if j.RepeatTimezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(j.RepeatTimezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// State computes the job's derived, non-persisted status (spec §3.2 invariant 7).
func (j *Job) State(now time.Time) State {
	return Derive(j.LockedAt, j.LastFinishedAt, j.FailedAt, j.NextRunAt, j.RepeatInterval, now)
}

// IsRunning reports whether the job is currently locked by a worker.
func (j *Job) IsRunning() bool {
	return j.LockedAt != nil
}

// GetNextRunAt returns the job's NextRunAt.
func (j *Job) GetNextRunAt() *time.Time {
	return j.NextRunAt
}

// WithPriority sets the job's dispatch priority; higher runs first among
// simultaneously ready jobs.
func (j *Job) WithPriority(p int) *Job {
	j.Priority = p
	return j
}

// Schedule sets NextRunAt. when is either a time.Time or a human date phrase
// such as "tomorrow at 9am" (spec §4.2).
func (j *Job) Schedule(when any) *Job {
	t, err := resolveWhen(when, time.Now(), j.timezone())
	if err != nil {
		j.FailReason = err.Error()
		return j
	}
	j.NextRunAt = &t
	return j
}

// RepeatOption configures RepeatEvery.
type RepeatOption func(*Job)

// WithTimezone sets the IANA zone repeatInterval/repeatAt/skipDays are evaluated in.
func WithTimezone(tz string) RepeatOption {
	return func(j *Job) { j.RepeatTimezone = tz }
}

// WithSkipImmediate re-anchors the first occurrence to one interval from now
// instead of now (spec §4.1).
func WithSkipImmediate() RepeatOption {
	return func(j *Job) { j.skipImmediate = true }
}

// RepeatEvery sets repeatInterval (a cron expression or human interval like
// "5 minutes") and computes the first NextRunAt.
func (j *Job) RepeatEvery(interval string, opts ...RepeatOption) *Job {
	j.RepeatInterval = interval
	j.RepeatAt = ""
	for _, opt := range opts {
		opt(j)
	}
	j.RecomputeNextRunAt(time.Now())
	return j
}

// RepeatAtTime sets repeatAt (a time-of-day phrase like "3:00pm") and computes
// the first NextRunAt.
func (j *Job) RepeatAtTime(phrase string, opts ...RepeatOption) *Job {
	j.RepeatAt = phrase
	j.RepeatInterval = ""
	for _, opt := range opts {
		opt(j)
	}
	j.RecomputeNextRunAt(time.Now())
	return j
}

// UniqueOption configures Unique.
type UniqueOption func(*UniqueOptions)

// InsertOnly marks a unique-keyed job so it is only ever created, never updated.
func InsertOnly() UniqueOption {
	return func(o *UniqueOptions) { o.InsertOnly = true }
}

// WithDebounce configures the unique-keyed job to coalesce saves within delay
// of each other, capped by maxWait (0 = uncapped).
func WithDebounce(strategy DebounceStrategy, delay, maxWait time.Duration) UniqueOption {
	return func(o *UniqueOptions) {
		o.Debounce = &DebounceOptions{Strategy: strategy, Delay: delay, MaxWait: maxWait}
	}
}

// Unique sets the upsert key (spec §3.1/§4.4): at most one persisted record
// will exist per (name, key tuple).
func (j *Job) Unique(key map[string]any, opts ...UniqueOption) *Job {
	j.Unique = key
	o := &UniqueOptions{}
	for _, opt := range opts {
		opt(o)
	}
	j.UniqueOpts = o
	return j
}

// StartDateAfter sets the inclusive lower bound on valid run times.
func (j *Job) StartDateAfter(d time.Time) *Job {
	j.StartDateAt = &d
	if j.NextRunAt != nil && j.NextRunAt.Before(d) {
		j.NextRunAt = &d
	}
	return j
}

// EndDateBefore sets the inclusive upper bound on valid run times.
func (j *Job) EndDateBefore(d time.Time) *Job {
	j.EndDateAt = &d
	return j
}

// SkipWeekdays marks weekdays on which execution is forbidden.
func (j *Job) SkipWeekdays(days ...time.Weekday) *Job {
	if j.SkipDays == nil {
		j.SkipDays = make(map[time.Weekday]bool, len(days))
	}
	for _, d := range days {
		j.SkipDays[d] = true
	}
	return j
}

// Disable marks the job so the dispatcher ignores it.
func (j *Job) Disable() *Job {
	j.Disabled = true
	return j
}

// Enable clears Disable.
func (j *Job) Enable() *Job {
	j.Disabled = false
	return j
}

// Fork marks the job to be inserted as a fresh record on save even when its
// Type or Unique key would otherwise resolve to an upsert.
func (j *Job) Fork(fork bool) *Job {
	j.Forked = fork
	return j
}

// Fail records a handler failure (spec §4.2): it sets FailReason, increments
// FailCount, stamps FailedAt/LastFinishedAt, and — if backoff is non-nil and
// yields a delay for the new FailCount — sets NextRunAt to now+delay.
// Otherwise NextRunAt is left untouched (no automatic retry).
func (j *Job) Fail(now time.Time, reason string, backoff Backoff) *Job {
	j.failBookkeeping(now, reason, backoff)
	return j
}

// FailDetailed is Fail plus the outcome the Processor needs to decide which
// event to emit: retried is true when backoff scheduled a retry, and delay
// is the interval it chose.
func (j *Job) FailDetailed(now time.Time, reason string, backoff Backoff) (retried bool, delay time.Duration) {
	return j.failBookkeeping(now, reason, backoff)
}

func (j *Job) failBookkeeping(now time.Time, reason string, backoff Backoff) (retried bool, delay time.Duration) {
	j.FailReason = reason
	j.FailCount++
	j.FailedAt = &now
	j.LastFinishedAt = &now

	if backoff == nil {
		return false, 0
	}
	d := backoff(BackoffInput{Attempt: j.FailCount, Error: nil, JobName: j.Name, Data: j.Data})
	if d == BackoffStop {
		return false, 0
	}
	next := now.Add(d)
	j.NextRunAt = &next
	return true, d
}

// Touch refreshes LockedAt to extend the lock-expiry deadline; called
// periodically by long-running handlers that want to keep their lock.
func (j *Job) Touch(now time.Time) *Job {
	if j.LockedAt != nil {
		j.LockedAt = &now
	}
	return j
}

// RecomputeNextRunAt runs the recurrence engine and applies its result,
// including skipImmediate re-anchoring (spec §4.1).
func (j *Job) RecomputeNextRunAt(now time.Time) error {
	in := recurrenceInputFor(j, now)
	res, err := computeRecurrence(in)
	if err != nil {
		j.Fail(now, err.Error(), nil)
		return err
	}
	if j.skipImmediate && res.NextRunAt != nil {
		res, err = skipImmediateRecurrence(in, *res.NextRunAt)
		if err != nil {
			j.Fail(now, err.Error(), nil)
			return err
		}
	}
	j.applyRecurrenceResult(res)
	return nil
}

func (j *Job) applyRecurrenceResult(res RecurrenceResult) {
	j.NextRunAt = res.NextRunAt
	if res.EndDateCrossed {
		j.RepeatInterval = ""
		j.RepeatAt = ""
	}
}
