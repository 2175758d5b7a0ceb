// Package domain holds error sentinels and pure computations shared by the
// scheduler facade, the processor, and every Repository driver.
package domain

import "errors"

var (
	// ErrJobNotFound is returned when a lookup by id matches no record.
	ErrJobNotFound = errors.New("scheduler: job not found")
	// ErrNoDefinition is returned when a job names a handler that was never
	// registered with Define.
	ErrNoDefinition = errors.New("scheduler: no definition for job name")
	// ErrInvalidRecurrence names an unparseable repeatInterval or repeatAt.
	// No function in this module returns it: RecomputeNextRunAt reports such
	// failures with errors wrapping recurrence.ErrInvalid.
	ErrInvalidRecurrence = errors.New("scheduler: invalid repeat interval")
	// ErrNotLocked names a job that is not currently locked. No function in
	// this module returns it.
	ErrNotLocked = errors.New("scheduler: job is not locked")
	// ErrSchedulerRunning is returned by Start when the facade is already running.
	ErrSchedulerRunning = errors.New("scheduler: already running")
	// ErrSchedulerStopped is returned by operations that require Start to have run.
	ErrSchedulerStopped = errors.New("scheduler: not running")
	// ErrInvalidWhen is the error Job.Schedule records in FailReason when its
	// argument is neither a time.Time nor a string. An unparseable string
	// records the date-phrase parse error instead.
	ErrInvalidWhen = errors.New("scheduler: Schedule(when) must be a time.Time or a date phrase string")
)
