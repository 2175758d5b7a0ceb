// Package recurrence implements the Time/Recurrence Engine (spec §4.1): pure
// functions that turn a job's repeatInterval/repeatAt/skipDays/startDate/endDate
// fields into the next nextRunAt, or report that recurrence has ended.
//
// Cron parsing is grounded on the teacher's dispatcher
// (internal/scheduler/dispatcher.go computeNext), which already used
// github.com/robfig/cron/v3 to turn a cron expression into successive
// activation times.
package recurrence

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

var (
	// ErrInvalid is returned when repeatInterval parses as neither a cron
	// expression nor a human interval, or repeatAt can't be parsed.
	ErrInvalid = errors.New("recurrence: invalid repeat interval")
	// ErrUnrecognizedPhrase is returned by ParseDatePhrase when the input matches
	// none of its phrase forms. A malformed "in ..." or "today/tomorrow at ..."
	// phrase returns the underlying parse error instead.
	ErrUnrecognizedPhrase = errors.New("recurrence: unrecognized date phrase")
)

const maxSkipDaysIterations = 8

// Input is everything the engine needs to compute a job's next run.
type Input struct {
	RepeatInterval string          // cron expression or human interval; "" = RepeatAt mode or non-recurring
	RepeatAt       string          // time-of-day phrase; "" = no RepeatAt mode
	Timezone       *time.Location  // defaults to time.UTC if nil
	LastRunAt      *time.Time      // anchor; nil means "never run" -> anchor = Now
	PrevNextRunAt  *time.Time      // previously computed nextRunAt, for the "stuck at same tick" guard
	StartDate      *time.Time
	EndDate        *time.Time
	SkipDays       map[time.Weekday]bool
	Now            time.Time
}

// Result is the outcome of a recurrence computation.
type Result struct {
	NextRunAt *time.Time // nil means recurrence has ended (or all days are skipped)
	// EndDateCrossed is true when the computation hit EndDate: the caller must
	// clear RepeatInterval/RepeatAt and drop any recurrence indicator (spec §3.2 invariant 4).
	EndDateCrossed bool
}

// Compute implements spec §4.1: base occurrence, then startDate floor, then
// skipDays advance, then endDate ceiling.
func Compute(in Input) (Result, error) {
	if in.RepeatInterval == "" && in.RepeatAt == "" {
		return Result{}, nil
	}

	loc := in.Timezone
	if loc == nil {
		loc = time.UTC
	}

	anchor := in.Now
	if in.LastRunAt != nil {
		anchor = *in.LastRunAt
	}
	anchor = anchor.In(loc)

	var base time.Time
	var err error
	if in.RepeatInterval != "" {
		base, err = nextFromInterval(in.RepeatInterval, anchor, in.PrevNextRunAt, loc)
	} else {
		base, err = nextFromRepeatAt(in.RepeatAt, anchor, loc)
	}
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if in.StartDate != nil && base.Before(*in.StartDate) {
		base = *in.StartDate
	}

	if len(in.SkipDays) > 0 {
		for i := 0; i < maxSkipDaysIterations && in.SkipDays[base.In(loc).Weekday()]; i++ {
			base = base.AddDate(0, 0, 1)
		}
		if in.SkipDays[base.In(loc).Weekday()] {
			return Result{NextRunAt: nil}, nil
		}
	}

	if in.EndDate != nil && base.After(*in.EndDate) {
		return Result{NextRunAt: nil, EndDateCrossed: true}, nil
	}

	return Result{NextRunAt: &base}, nil
}

// nextFromInterval tries cron first, then a human interval ("30 seconds").
// If cron yields an instant at or before the anchor, or at or before the
// previously computed nextRunAt, the anchor is nudged forward one second and
// reparsed — this prevents a cron schedule from getting stuck reproducing the
// same tick (spec §4.1).
func nextFromInterval(expr string, anchor time.Time, prevNextRunAt *time.Time, loc *time.Location) (time.Time, error) {
	if sched, cerr := cron.ParseStandard(expr); cerr == nil {
		next := sched.Next(anchor)
		for attempts := 0; attempts < 3; attempts++ {
			if next.After(anchor) && (prevNextRunAt == nil || next.After(*prevNextRunAt)) {
				return next, nil
			}
			anchor = anchor.Add(time.Second)
			next = sched.Next(anchor)
		}
		return next, nil
	}

	d, herr := parseHumanInterval(expr)
	if herr != nil {
		return time.Time{}, fmt.Errorf("neither a cron expression nor a human interval: %q", expr)
	}
	next := anchor.Add(d)
	for prevNextRunAt != nil && !next.After(*prevNextRunAt) {
		next = next.Add(d)
	}
	return next, nil
}

// nextFromRepeatAt finds the next occurrence of a time-of-day phrase strictly
// after anchor, advancing to "tomorrow" when the computed occurrence equals anchor.
func nextFromRepeatAt(phrase string, anchor time.Time, loc *time.Location) (time.Time, error) {
	hour, min, sec, err := parseTimeOfDay(phrase)
	if err != nil {
		return time.Time{}, err
	}
	occurrence := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), hour, min, sec, 0, loc)
	if !occurrence.After(anchor) {
		occurrence = occurrence.AddDate(0, 0, 1)
	}
	return occurrence, nil
}

// SkipImmediate re-anchors a freshly-created recurring job so its first
// occurrence is one interval from now rather than now (spec §4.1): it treats
// the prospective nextRunAt as if it were the last run and recomputes.
func SkipImmediate(in Input, prospective time.Time) (Result, error) {
	in.LastRunAt = &prospective
	in.PrevNextRunAt = &prospective
	return Compute(in)
}
