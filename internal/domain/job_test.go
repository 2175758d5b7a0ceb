package domain_test

import (
	"testing"
	"time"

	"github.com/dnovik/scheduler/internal/domain"
)

func TestScheduleAcceptsTimeValue(t *testing.T) {
	j := &domain.Job{Name: "send-email"}
	when := time.Date(2026, 8, 1, 9, 0, 0, 0, time.UTC)

	j.Schedule(when)

	if j.NextRunAt == nil || !j.NextRunAt.Equal(when) {
		t.Fatalf("NextRunAt = %v, want %v", j.NextRunAt, when)
	}
}

func TestScheduleAcceptsDatePhrase(t *testing.T) {
	j := &domain.Job{Name: "send-email"}

	j.Schedule("tomorrow at 9am")

	if j.NextRunAt == nil {
		t.Fatal("NextRunAt is nil, want a resolved instant")
	}
	if j.FailReason != "" {
		t.Fatalf("unexpected FailReason: %q", j.FailReason)
	}
}

func TestScheduleRecordsFailReasonForInvalidWhen(t *testing.T) {
	j := &domain.Job{Name: "send-email"}

	j.Schedule(42) // neither time.Time nor string

	if j.NextRunAt != nil {
		t.Fatalf("NextRunAt = %v, want nil after invalid when", j.NextRunAt)
	}
	if j.FailReason == "" {
		t.Fatal("FailReason is empty, want ErrInvalidWhen message")
	}
}

func TestRepeatEveryComputesFirstNextRunAt(t *testing.T) {
	j := &domain.Job{Name: "nightly-report"}

	j.RepeatEvery("1 hour")

	if j.RepeatInterval != "1 hour" {
		t.Fatalf("RepeatInterval = %q, want %q", j.RepeatInterval, "1 hour")
	}
	if j.NextRunAt == nil {
		t.Fatal("NextRunAt is nil after RepeatEvery")
	}
}

func TestWithSkipImmediateDelaysFirstOccurrence(t *testing.T) {
	now := time.Now()

	without := &domain.Job{Name: "nightly-report"}
	without.RepeatEvery("1 hour")

	withSkip := &domain.Job{Name: "nightly-report"}
	withSkip.RepeatEvery("1 hour", domain.WithSkipImmediate())

	if withSkip.NextRunAt == nil || without.NextRunAt == nil {
		t.Fatal("expected both NextRunAt to be set")
	}
	if !withSkip.NextRunAt.After(*without.NextRunAt) {
		t.Fatalf("skipImmediate NextRunAt %v should be after default %v (now=%v)", withSkip.NextRunAt, without.NextRunAt, now)
	}
}

func TestStartDateAfterClampsEarlierNextRunAt(t *testing.T) {
	j := &domain.Job{Name: "send-email"}
	early := time.Now()
	j.NextRunAt = &early

	start := early.Add(time.Hour)
	j.StartDateAfter(start)

	if j.StartDateAt == nil || !j.StartDateAt.Equal(start) {
		t.Fatalf("StartDateAt = %v, want %v", j.StartDateAt, start)
	}
	if j.NextRunAt == nil || !j.NextRunAt.Equal(start) {
		t.Fatalf("NextRunAt = %v, want clamped to start %v", j.NextRunAt, start)
	}
}

func TestSkipWeekdaysAccumulates(t *testing.T) {
	j := &domain.Job{Name: "weekday-report"}

	j.SkipWeekdays(time.Saturday)
	j.SkipWeekdays(time.Sunday)

	if !j.SkipDays[time.Saturday] || !j.SkipDays[time.Sunday] {
		t.Fatalf("SkipDays = %v, want both Saturday and Sunday set", j.SkipDays)
	}
}

func TestDisableEnableToggleDisabled(t *testing.T) {
	j := &domain.Job{Name: "send-email"}

	j.Disable()
	if !j.Disabled {
		t.Fatal("Disabled should be true after Disable()")
	}

	j.Enable()
	if j.Disabled {
		t.Fatal("Disabled should be false after Enable()")
	}
}

func TestUniqueSetsKeyAndOptions(t *testing.T) {
	j := &domain.Job{Name: "send-email"}
	key := map[string]any{"user_id": "u1"}

	j.Unique(key, domain.InsertOnly())

	if j.UniqueOpts == nil || !j.UniqueOpts.InsertOnly {
		t.Fatalf("UniqueOpts = %+v, want InsertOnly=true", j.UniqueOpts)
	}
}

func TestFailIncrementsFailCountAndSetsReason(t *testing.T) {
	j := &domain.Job{Name: "send-email"}
	now := time.Now()

	j.Fail(now, "boom", nil)

	if j.FailCount != 1 {
		t.Fatalf("FailCount = %d, want 1", j.FailCount)
	}
	if j.FailReason != "boom" {
		t.Fatalf("FailReason = %q, want %q", j.FailReason, "boom")
	}
	if j.FailedAt == nil || !j.FailedAt.Equal(now) {
		t.Fatalf("FailedAt = %v, want %v", j.FailedAt, now)
	}
	if j.NextRunAt != nil {
		t.Fatalf("NextRunAt = %v, want nil with no backoff", j.NextRunAt)
	}
}

func TestFailDetailedSchedulesRetryWithBackoff(t *testing.T) {
	j := &domain.Job{Name: "send-email"}
	now := time.Now()
	backoff := domain.ConstantBackoff(time.Minute, 3, 0)

	retried, delay := j.FailDetailed(now, "boom", backoff)

	if !retried {
		t.Fatal("retried = false, want true")
	}
	if delay != time.Minute {
		t.Fatalf("delay = %v, want %v", delay, time.Minute)
	}
	if j.NextRunAt == nil || !j.NextRunAt.Equal(now.Add(time.Minute)) {
		t.Fatalf("NextRunAt = %v, want %v", j.NextRunAt, now.Add(time.Minute))
	}
}

func TestFailDetailedReportsExhaustedWhenBackoffStops(t *testing.T) {
	j := &domain.Job{Name: "send-email", FailCount: 3}
	now := time.Now()
	backoff := domain.ConstantBackoff(time.Minute, 3, 0) // attempt 4 > maxRetries 3

	retried, delay := j.FailDetailed(now, "boom", backoff)

	if retried {
		t.Fatal("retried = true, want false once backoff stops")
	}
	if delay != 0 {
		t.Fatalf("delay = %v, want 0", delay)
	}
}

func TestTouchRefreshesLockedAtOnlyWhenLocked(t *testing.T) {
	j := &domain.Job{Name: "send-email"}
	now := time.Now()

	j.Touch(now)
	if j.LockedAt != nil {
		t.Fatal("Touch should not lock an unlocked job")
	}

	locked := now.Add(-time.Hour)
	j.LockedAt = &locked
	later := now.Add(time.Minute)
	j.Touch(later)
	if j.LockedAt == nil || !j.LockedAt.Equal(later) {
		t.Fatalf("LockedAt = %v, want refreshed to %v", j.LockedAt, later)
	}
}

func TestForkMarksJobForInsert(t *testing.T) {
	j := &domain.Job{Name: "send-email"}

	j.Fork(true)
	if !j.Forked {
		t.Fatal("Forked should be true")
	}
	j.Fork(false)
	if j.Forked {
		t.Fatal("Forked should be false")
	}
}

func TestRecomputeNextRunAtAppliesEndDateCrossing(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Hour)

	j := &domain.Job{Name: "nightly-report", RepeatInterval: "1 hour", EndDateAt: &past}

	err := j.RecomputeNextRunAt(now)
	if err != nil {
		t.Fatalf("RecomputeNextRunAt returned error: %v", err)
	}
	if j.NextRunAt != nil {
		t.Fatalf("NextRunAt = %v, want nil once end date has passed", j.NextRunAt)
	}
	if j.RepeatInterval != "" {
		t.Fatalf("RepeatInterval = %q, want cleared after end date crossed", j.RepeatInterval)
	}
}

func TestIsRunningReflectsLockedAt(t *testing.T) {
	j := &domain.Job{Name: "send-email"}
	now := time.Now()
	j.LockedAt = &now

	if !j.IsRunning() {
		t.Fatal("IsRunning() = false, want true once LockedAt is set")
	}
}
