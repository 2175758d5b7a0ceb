package recurrence_test

import (
	"testing"
	"time"

	"github.com/dnovik/scheduler/internal/recurrence"
)

func TestComputeReturnsZeroResultForNonRecurring(t *testing.T) {
	res, err := recurrence.Compute(recurrence.Input{Now: time.Now()})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextRunAt != nil {
		t.Fatalf("NextRunAt = %v, want nil when neither RepeatInterval nor RepeatAt is set", res.NextRunAt)
	}
}

func TestComputeHumanIntervalFromNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	res, err := recurrence.Compute(recurrence.Input{RepeatInterval: "30 minutes", Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := now.Add(30 * time.Minute)
	if res.NextRunAt == nil || !res.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", res.NextRunAt, want)
	}
}

func TestComputeCronExpression(t *testing.T) {
	now := time.Date(2026, 1, 1, 11, 59, 0, 0, time.UTC)

	res, err := recurrence.Compute(recurrence.Input{RepeatInterval: "0 12 * * *", Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	if res.NextRunAt == nil || !res.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", res.NextRunAt, want)
	}
}

func TestComputeRepeatAtAdvancesWhenPastToday(t *testing.T) {
	now := time.Date(2026, 1, 1, 15, 0, 0, 0, time.UTC)

	res, err := recurrence.Compute(recurrence.Input{RepeatAt: "9:00am", Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if res.NextRunAt == nil || !res.NextRunAt.Equal(want) {
		t.Fatalf("NextRunAt = %v, want %v", res.NextRunAt, want)
	}
}

func TestComputeStartDateFloorsEarlyOccurrence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	start := now.Add(24 * time.Hour)

	res, err := recurrence.Compute(recurrence.Input{RepeatInterval: "5 minutes", StartDate: &start, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextRunAt == nil || !res.NextRunAt.Equal(start) {
		t.Fatalf("NextRunAt = %v, want floored to StartDate %v", res.NextRunAt, start)
	}
}

func TestComputeEndDateCrossedClearsRecurrence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := now.Add(-time.Hour)

	res, err := recurrence.Compute(recurrence.Input{RepeatInterval: "5 minutes", EndDate: &end, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextRunAt != nil {
		t.Fatalf("NextRunAt = %v, want nil once EndDate has passed", res.NextRunAt)
	}
	if !res.EndDateCrossed {
		t.Fatal("EndDateCrossed = false, want true")
	}
}

func TestComputeSkipDaysAdvancesPastSkippedWeekday(t *testing.T) {
	// 2026-01-03 is a Saturday.
	now := time.Date(2026, 1, 3, 0, 0, 0, 0, time.UTC)
	skip := map[time.Weekday]bool{time.Saturday: true, time.Sunday: true}

	res, err := recurrence.Compute(recurrence.Input{RepeatInterval: "0 0 * * *", SkipDays: skip, Now: now})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextRunAt == nil {
		t.Fatal("NextRunAt is nil, want a weekday occurrence")
	}
	if skip[res.NextRunAt.Weekday()] {
		t.Fatalf("NextRunAt %v falls on a skipped weekday %v", res.NextRunAt, res.NextRunAt.Weekday())
	}
}

func TestComputeInvalidIntervalReturnsError(t *testing.T) {
	_, err := recurrence.Compute(recurrence.Input{RepeatInterval: "not a schedule", Now: time.Now()})
	if err == nil {
		t.Fatal("expected an error for an unparseable RepeatInterval")
	}
}

func TestSkipImmediateAdvancesPastProspectiveOccurrence(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	in := recurrence.Input{RepeatInterval: "1 hour", Now: now}
	base, err := recurrence.Compute(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := recurrence.SkipImmediate(in, *base.NextRunAt)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NextRunAt == nil || !res.NextRunAt.After(*base.NextRunAt) {
		t.Fatalf("SkipImmediate NextRunAt %v should be after the prospective occurrence %v", res.NextRunAt, base.NextRunAt)
	}
}

func TestParseDatePhraseNow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := recurrence.ParseDatePhrase("now", now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !got.Equal(now) {
		t.Fatalf("got %v, want %v", got, now)
	}
}

func TestParseDatePhraseInDuration(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := recurrence.ParseDatePhrase("in 5 minutes", now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := now.Add(5 * time.Minute)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseDatePhraseTomorrowAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	got, err := recurrence.ParseDatePhrase("tomorrow at 9am", now, time.UTC)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := time.Date(2026, 1, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestParseDatePhraseUnrecognizedReturnsError(t *testing.T) {
	_, err := recurrence.ParseDatePhrase("whenever", time.Now(), time.UTC)
	if err == nil {
		t.Fatal("expected an error for an unrecognized phrase")
	}
}
