package memory_test

import (
	"context"
	"testing"
	"time"

	"github.com/dnovik/scheduler/drivers/memory"
	"github.com/dnovik/scheduler/internal/domain"
)

func TestSaveJobInsertsAndAssignsID(t *testing.T) {
	r := memory.New()
	job := &domain.Job{Name: "send-email", Type: domain.TypeNormal}

	saved, err := r.SaveJob(context.Background(), job, domain.AuditInfo{LastModifiedBy: "test"})
	if err != nil {
		t.Fatalf("SaveJob: %v", err)
	}
	if saved.ID == "" {
		t.Fatal("expected an assigned id")
	}

	fetched, err := r.GetJobByID(context.Background(), saved.ID)
	if err != nil {
		t.Fatalf("GetJobByID: %v", err)
	}
	if fetched.Name != "send-email" {
		t.Fatalf("expected name send-email, got %s", fetched.Name)
	}
}

func TestSaveJobByIDUpdatesExisting(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	saved, _ := r.SaveJob(ctx, &domain.Job{Name: "report"}, domain.AuditInfo{})

	saved.Priority = 5
	updated, err := r.SaveJob(ctx, saved, domain.AuditInfo{LastModifiedBy: "updater"})
	if err != nil {
		t.Fatalf("SaveJob update: %v", err)
	}
	if updated.Priority != 5 {
		t.Fatalf("expected priority 5, got %d", updated.Priority)
	}
	if updated.LastModifiedBy != "updater" {
		t.Fatalf("expected LastModifiedBy updater, got %s", updated.LastModifiedBy)
	}
}

func TestSaveJobSingletonPreservesDueNextRunAt(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)

	first, err := r.SaveJob(ctx, &domain.Job{Name: "cleanup", Type: domain.TypeSingle, NextRunAt: &past}, domain.AuditInfo{})
	if err != nil {
		t.Fatalf("SaveJob first: %v", err)
	}

	future := time.Now().Add(time.Hour)
	second, err := r.SaveJob(ctx, &domain.Job{Name: "cleanup", Type: domain.TypeSingle, NextRunAt: &future}, domain.AuditInfo{})
	if err != nil {
		t.Fatalf("SaveJob second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("expected same singleton id, got %s vs %s", first.ID, second.ID)
	}
	if !second.NextRunAt.Equal(past) {
		t.Fatalf("expected due NextRunAt to be preserved, got %v", second.NextRunAt)
	}
}

func TestSaveJobSingletonAdvancesFutureNextRunAt(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	future1 := time.Now().Add(time.Hour)

	first, _ := r.SaveJob(ctx, &domain.Job{Name: "digest", Type: domain.TypeSingle, NextRunAt: &future1}, domain.AuditInfo{})

	future2 := time.Now().Add(2 * time.Hour)
	second, err := r.SaveJob(ctx, &domain.Job{Name: "digest", Type: domain.TypeSingle, NextRunAt: &future2}, domain.AuditInfo{})
	if err != nil {
		t.Fatalf("SaveJob second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected same singleton id")
	}
	if !second.NextRunAt.Equal(future2) {
		t.Fatalf("expected NextRunAt to advance to %v, got %v", future2, second.NextRunAt)
	}
}

func TestSaveJobUniqueInsertOnlyIgnoresSubsequentSaves(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	key := map[string]any{"userID": "u1"}

	first, _ := r.SaveJob(ctx, (&domain.Job{Name: "welcome-email"}).Unique(key, domain.InsertOnly()), domain.AuditInfo{})

	second, err := r.SaveJob(ctx, (&domain.Job{Name: "welcome-email", Priority: 9}).Unique(key, domain.InsertOnly()), domain.AuditInfo{})
	if err != nil {
		t.Fatalf("SaveJob second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected existing record returned unchanged")
	}
	if second.Priority == 9 {
		t.Fatal("expected insert-only save to be ignored")
	}
}

func TestSaveJobUniqueDebounceTrailingExtendsDelay(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	key := map[string]any{"key": "burst"}

	job := (&domain.Job{Name: "flush"}).Unique(key, domain.WithDebounce(domain.DebounceTrailing, 50*time.Millisecond, 0))
	first, err := r.SaveJob(ctx, job, domain.AuditInfo{})
	if err != nil {
		t.Fatalf("SaveJob first: %v", err)
	}
	firstDeadline := *first.NextRunAt

	time.Sleep(5 * time.Millisecond)
	job2 := (&domain.Job{Name: "flush"}).Unique(key, domain.WithDebounce(domain.DebounceTrailing, 50*time.Millisecond, 0))
	second, err := r.SaveJob(ctx, job2, domain.AuditInfo{})
	if err != nil {
		t.Fatalf("SaveJob second: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("expected debounce-merge onto existing record")
	}
	if !second.NextRunAt.After(firstDeadline) {
		t.Fatalf("expected trailing debounce to push NextRunAt later, got %v vs %v", second.NextRunAt, firstDeadline)
	}
}

func TestLockJobRejectsAlreadyLocked(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	next := time.Now().Add(-time.Second)
	saved, _ := r.SaveJob(ctx, &domain.Job{Name: "ping", NextRunAt: &next}, domain.AuditInfo{})

	locked, ok, err := r.LockJob(ctx, saved, domain.AuditInfo{LastModifiedBy: "worker-a"})
	if err != nil || !ok {
		t.Fatalf("expected first lock to succeed: ok=%v err=%v", ok, err)
	}
	if locked.LockedAt == nil {
		t.Fatal("expected LockedAt to be set")
	}

	_, ok, err = r.LockJob(ctx, saved, domain.AuditInfo{LastModifiedBy: "worker-b"})
	if err != nil {
		t.Fatalf("LockJob: %v", err)
	}
	if ok {
		t.Fatal("expected second lock attempt to fail")
	}
}

func TestGetNextJobToRunOrdersByDueTimeThenPriority(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	now := time.Now()
	due := now.Add(-time.Second)

	r.SaveJob(ctx, &domain.Job{Name: "work", Priority: 1, NextRunAt: &due}, domain.AuditInfo{})
	r.SaveJob(ctx, &domain.Job{Name: "work", Priority: 9, NextRunAt: &due}, domain.AuditInfo{})

	job, ok, err := r.GetNextJobToRun(ctx, "work", now, now.Add(-time.Hour), now, domain.AuditInfo{LastModifiedBy: "worker"})
	if err != nil || !ok {
		t.Fatalf("expected a due job: ok=%v err=%v", ok, err)
	}
	if job.Priority != 9 {
		t.Fatalf("expected higher priority job picked first, got priority %d", job.Priority)
	}
}

func TestGetNextJobToRunReclaimsExpiredLock(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	saved, _ := r.SaveJob(ctx, &domain.Job{Name: "slow", NextRunAt: &future}, domain.AuditInfo{})

	locked, ok, err := r.LockJob(ctx, saved, domain.AuditInfo{})
	if err != nil || !ok {
		t.Fatalf("expected initial lock to succeed: ok=%v err=%v", ok, err)
	}

	staleLockedAt := time.Now().Add(-2 * time.Hour)
	locked.LockedAt = &staleLockedAt
	if err := r.SaveJobState(ctx, locked, domain.AuditInfo{}); err != nil {
		t.Fatalf("SaveJobState: %v", err)
	}

	now := time.Now()
	job, ok, err := r.GetNextJobToRun(ctx, "slow", now, now.Add(-time.Minute), now, domain.AuditInfo{})
	if err != nil || !ok {
		t.Fatalf("expected stale lock to be reclaimed: ok=%v err=%v", ok, err)
	}
	if job.ID != saved.ID {
		t.Fatalf("expected reclaimed job %s, got %s", saved.ID, job.ID)
	}
}

func TestQueryJobsFiltersByName(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	r.SaveJob(ctx, &domain.Job{Name: "alpha", NextRunAt: &future}, domain.AuditInfo{})
	r.SaveJob(ctx, &domain.Job{Name: "beta"}, domain.AuditInfo{})

	res, err := r.QueryJobs(ctx, domain.QueryOptions{Name: "alpha"})
	if err != nil {
		t.Fatalf("QueryJobs: %v", err)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].Name != "alpha" {
		t.Fatalf("expected one alpha job, got %+v", res.Jobs)
	}
}

func TestRemoveJobsByName(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	r.SaveJob(ctx, &domain.Job{Name: "temp"}, domain.AuditInfo{})
	r.SaveJob(ctx, &domain.Job{Name: "temp"}, domain.AuditInfo{})
	r.SaveJob(ctx, &domain.Job{Name: "keep"}, domain.AuditInfo{})

	n, err := r.RemoveJobs(ctx, domain.RemoveOptions{Name: "temp"})
	if err != nil {
		t.Fatalf("RemoveJobs: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 removed, got %d", n)
	}

	names, err := r.GetDistinctJobNames(ctx)
	if err != nil {
		t.Fatalf("GetDistinctJobNames: %v", err)
	}
	if len(names) != 1 || names[0] != "keep" {
		t.Fatalf("expected only keep to remain, got %v", names)
	}
}

func TestGetJobsOverviewCountsByState(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	future := time.Now().Add(time.Hour)
	r.SaveJob(ctx, &domain.Job{Name: "n", NextRunAt: &future}, domain.AuditInfo{})
	r.SaveJob(ctx, &domain.Job{Name: "n"}, domain.AuditInfo{})

	overview, err := r.GetJobsOverview(ctx)
	if err != nil {
		t.Fatalf("GetJobsOverview: %v", err)
	}
	if len(overview) != 1 {
		t.Fatalf("expected one name group, got %d", len(overview))
	}
	if overview[0].Total != 2 {
		t.Fatalf("expected total 2, got %d", overview[0].Total)
	}
	if overview[0].Scheduled != 1 || overview[0].Completed != 1 {
		t.Fatalf("expected one scheduled and one completed, got %+v", overview[0])
	}
}

func TestGetQueueSizeCountsDueJobs(t *testing.T) {
	r := memory.New()
	ctx := context.Background()
	past := time.Now().Add(-time.Minute)
	future := time.Now().Add(time.Minute)
	r.SaveJob(ctx, &domain.Job{Name: "a", NextRunAt: &past}, domain.AuditInfo{})
	r.SaveJob(ctx, &domain.Job{Name: "b", NextRunAt: &future}, domain.AuditInfo{})

	n, err := r.GetQueueSize(ctx, time.Now())
	if err != nil {
		t.Fatalf("GetQueueSize: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected queue size 1, got %d", n)
	}
}

func TestRecordAttemptStartAndEnd(t *testing.T) {
	r := memory.New()
	ctx := context.Background()

	id, err := r.RecordAttemptStart(ctx, "job-1", "worker-1", time.Now())
	if err != nil {
		t.Fatalf("RecordAttemptStart: %v", err)
	}
	if id == "" {
		t.Fatal("expected a non-empty attempt id")
	}
	if err := r.RecordAttemptEnd(ctx, id, nil, time.Now()); err != nil {
		t.Fatalf("RecordAttemptEnd: %v", err)
	}
}
