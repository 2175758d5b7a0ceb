package domain

import (
	"time"

	"github.com/dnovik/scheduler/internal/recurrence"
)

// RecurrenceResult mirrors internal/recurrence.Result.
type RecurrenceResult = recurrence.Result

func recurrenceInputFor(j *Job, now time.Time) recurrence.Input {
	return recurrence.Input{
		RepeatInterval: j.RepeatInterval,
		RepeatAt:       j.RepeatAt,
		Timezone:       j.timezone(),
		LastRunAt:      j.LastRunAt,
		PrevNextRunAt:  j.NextRunAt,
		StartDate:      j.StartDateAt,
		EndDate:        j.EndDateAt,
		SkipDays:       j.SkipDays,
		Now:            now,
	}
}

func computeRecurrence(in recurrence.Input) (recurrence.Result, error) {
	return recurrence.Compute(in)
}

func skipImmediateRecurrence(in recurrence.Input, prospective time.Time) (recurrence.Result, error) {
	return recurrence.SkipImmediate(in, prospective)
}

// resolveWhen turns either a time.Time or a human date phrase into an absolute instant.
func resolveWhen(when any, now time.Time, loc *time.Location) (time.Time, error) {
	switch v := when.(type) {
	case time.Time:
		return v, nil
	case string:
		return recurrence.ParseDatePhrase(v, now, loc)
	default:
		return time.Time{}, ErrInvalidWhen
	}
}
