package scheduler_test

import (
	"context"
	"sync"
	"testing"
	"time"

	scheduler "github.com/dnovik/scheduler"
	"github.com/dnovik/scheduler/drivers/localchannel"
	"github.com/dnovik/scheduler/drivers/memory"
)

type eventCollector struct {
	mu     sync.Mutex
	events []scheduler.Event
}

func (c *eventCollector) record(e scheduler.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *eventCollector) count(t scheduler.EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func (c *eventCollector) waitFor(t *testing.T, et scheduler.EventType, n int, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if c.count(et) >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, got %d", n, et, c.count(et))
}

func TestSchedulerNowRunsJobPromptly(t *testing.T) {
	repo := memory.New()
	sched := scheduler.New(repo, nil, scheduler.Config{ProcessEvery: time.Hour})

	collector := &eventCollector{}
	sched.OnEvent(collector.record)

	if err := sched.Define("send-welcome-email", func(job *scheduler.Job) error {
		return nil
	}, scheduler.WithConcurrency(5)); err != nil {
		t.Fatalf("Define: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := sched.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sched.Stop(context.Background(), true)

	if _, err := sched.Now(ctx, "send-welcome-email", nil); err != nil {
		t.Fatalf("Now: %v", err)
	}

	// Now() saves a due record; the Save Orchestrator's on-the-fly lock path
	// should run it without waiting for the hour-long poll cadence.
	collector.waitFor(t, scheduler.EventSuccess, 1, time.Second)
}

func TestSchedulerEveryCreatesSingletonPerName(t *testing.T) {
	repo := memory.New()
	sched := scheduler.New(repo, nil, scheduler.Config{ProcessEvery: time.Hour})

	jobs, err := sched.Every(context.Background(), "1 hour", []string{"nightly-report"}, nil)
	if err != nil {
		t.Fatalf("Every: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("len(jobs) = %d, want 1", len(jobs))
	}

	again, err := sched.Every(context.Background(), "1 hour", []string{"nightly-report"}, nil)
	if err != nil {
		t.Fatalf("Every (second call): %v", err)
	}
	if again[0].ID != jobs[0].ID {
		t.Fatalf("a second Every() call for the same name should upsert the singleton, got a different ID (%q vs %q)", again[0].ID, jobs[0].ID)
	}

	result, err := sched.QueryJobs(context.Background(), scheduler.QueryOptions{Name: "nightly-report", IncludeDisabled: true})
	if err != nil {
		t.Fatalf("QueryJobs: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want 1 persisted singleton record", result.Total)
	}
}

func TestSchedulerNowDebouncedCollapsesBurst(t *testing.T) {
	repo := memory.New()
	sched := scheduler.New(repo, nil, scheduler.Config{ProcessEvery: time.Hour})

	key := map[string]any{"user_id": "u1"}
	for i := 0; i < 5; i++ {
		if _, err := sched.NowDebounced(context.Background(), "send-welcome-email", nil, key, 50*time.Millisecond); err != nil {
			t.Fatalf("NowDebounced call %d: %v", i, err)
		}
	}

	result, err := sched.QueryJobs(context.Background(), scheduler.QueryOptions{Name: "send-welcome-email", IncludeDisabled: true})
	if err != nil {
		t.Fatalf("QueryJobs: %v", err)
	}
	if result.Total != 1 {
		t.Fatalf("Total = %d, want a single merged record for the debounced burst", result.Total)
	}
}

func TestSchedulerRemoveJobs(t *testing.T) {
	repo := memory.New()
	sched := scheduler.New(repo, nil, scheduler.Config{ProcessEvery: time.Hour})

	job, err := sched.Now(context.Background(), "send-welcome-email", nil)
	if err != nil {
		t.Fatalf("Now: %v", err)
	}

	n, err := sched.RemoveJobs(context.Background(), scheduler.RemoveOptions{ID: job.ID})
	if err != nil {
		t.Fatalf("RemoveJobs: %v", err)
	}
	if n != 1 {
		t.Fatalf("RemoveJobs removed %d, want 1", n)
	}

	result, err := sched.QueryJobs(context.Background(), scheduler.QueryOptions{ID: job.ID, IncludeDisabled: true})
	if err != nil {
		t.Fatalf("QueryJobs: %v", err)
	}
	if result.Total != 0 {
		t.Fatalf("Total = %d, want 0 after removal", result.Total)
	}
}

// TestSchedulerCrossProcessEventBridge stands a local channel in for a
// shared message bus between two Scheduler facades (as two worker
// processes would each hold their own driver instance against the same
// backend): a job picked up and completed by one must be re-emitted as a
// local event on the other, since the Source field on notifications is
// what lets a facade recognize work it didn't originate (spec §4.6
// Cross-process events).
func TestSchedulerCrossProcessEventBridge(t *testing.T) {
	repo := memory.New()
	ch := localchannel.New()

	owner := scheduler.New(repo, ch, scheduler.Config{ProcessEvery: 20 * time.Millisecond})
	if err := owner.Define("send-welcome-email", func(job *scheduler.Job) error {
		return nil
	}, scheduler.WithConcurrency(5)); err != nil {
		t.Fatalf("owner Define: %v", err)
	}

	observer := scheduler.New(repo, ch, scheduler.Config{ProcessEvery: time.Hour})
	observerEvents := &eventCollector{}
	observer.OnEvent(observerEvents.record)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := owner.Start(ctx); err != nil {
		t.Fatalf("owner Start: %v", err)
	}
	defer owner.Stop(context.Background(), true)
	if err := observer.Start(ctx); err != nil {
		t.Fatalf("observer Start: %v", err)
	}
	defer observer.Stop(context.Background(), true)

	if _, err := owner.Now(ctx, "send-welcome-email", nil); err != nil {
		t.Fatalf("Now: %v", err)
	}

	observerEvents.waitFor(t, scheduler.EventSuccess, 1, 2*time.Second)
}
