// Package processor implements the Job Processor (spec §4.5) — the engine
// that polls for due work, maintains the on-the-fly lock path, gates
// dispatch on concurrency and lock limits, runs handlers under a
// lock-expiry watchdog, and resolves each run's outcome (success, failure
// with retry scheduling, or removal).
package processor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dnovik/scheduler/internal/domain"
	"github.com/dnovik/scheduler/internal/procqueue"
)

// Handler is the simple handler signature: it returns when the work is done.
type Handler func(job *domain.Job) error

// CallbackHandler is the callback-style handler signature: it signals
// completion by calling done exactly once.
type CallbackHandler func(job *domain.Job, done func(error))

// Definition is one registered {name -> behavior} entry (spec §4.5 Inputs).
type Definition struct {
	Name string

	// Exactly one of Handler/CallbackHandler must be set.
	Handler         Handler
	CallbackHandler CallbackHandler

	Concurrency      int
	LockLimit        int
	LockLifetime     time.Duration
	Priority         int
	Backoff          domain.Backoff
	RemoveOnComplete bool
	Logging          bool
}

// Repository is the subset of the public Repository contract the Processor
// drives directly. Every concrete driver that satisfies the public
// scheduler.Repository interface satisfies this one too, since Job and
// AuditInfo are type aliases of their internal/domain counterparts.
type Repository interface {
	SaveJobState(ctx context.Context, job *domain.Job, audit domain.AuditInfo) error
	LockJob(ctx context.Context, job *domain.Job, audit domain.AuditInfo) (*domain.Job, bool, error)
	UnlockJob(ctx context.Context, id string) error
	UnlockJobs(ctx context.Context, ids []string) error
	GetNextJobToRun(ctx context.Context, name string, nextScanAt, lockDeadline, now time.Time, audit domain.AuditInfo) (*domain.Job, bool, error)
	RemoveJobs(ctx context.Context, opts domain.RemoveOptions) (int, error)
}

// attemptRecorder mirrors the public scheduler.AttemptRecorder capability.
// It's redeclared locally (rather than imported) because the public
// interface lives in the root package, which this package must not import.
// Drivers that don't implement it are simply skipped — attempt history is
// supplemental, not required.
type attemptRecorder interface {
	RecordAttemptStart(ctx context.Context, jobID, workerID string, startedAt time.Time) (string, error)
	RecordAttemptEnd(ctx context.Context, attemptID string, err error, finishedAt time.Time) error
}

// EventType enumerates the lifecycle events the Processor emits (spec §4.5/§6.4).
type EventType string

const (
	EventStart          EventType = "start"
	EventSuccess        EventType = "success"
	EventFail           EventType = "fail"
	EventComplete       EventType = "complete"
	EventRetry          EventType = "retry"
	EventRetryExhausted EventType = "retry exhausted"
	EventExpire         EventType = "expire"
)

// Event is what the Processor hands to its EventSink for every lifecycle
// transition. Fields not relevant to Type are left zero.
type Event struct {
	Type         EventType
	Job          *domain.Job
	Err          error
	RetryAttempt int
	RetryDelay   time.Duration
	RetryAt      *time.Time
	Timestamp    time.Time
}

// EventSink receives Processor lifecycle events. The Scheduler facade
// implements this to fan events out to local "on" listeners and, when a
// NotificationChannel is configured, to other processes.
type EventSink interface {
	HandleEvent(Event)
}

// DrainResult is the outcome of Drain (spec §4.5 Cancellation/timeouts).
type DrainResult struct {
	Completed bool
	Running   int
	TimedOut  bool
	Aborted   bool
}

// lockedJob is the Processor's bookkeeping for one locked-but-not-finished job.
type lockedJob struct {
	job       *domain.Job
	def       *Definition
	lockedAt  time.Time
	watchdog  *time.Timer
	once      sync.Once
	attemptID string
}

// Processor is the Job Processor. All exported methods are safe to call
// concurrently; state transitions are serialized on mu (spec §4.5
// "Scheduling model": single logical timeline per process).
type Processor struct {
	repo     Repository
	sink     EventSink
	logger   *slog.Logger
	workerID string

	processEvery    time.Duration
	maxConcurrency  int
	globalLockLimit int

	mu          sync.Mutex
	definitions map[string]*Definition
	queue       *procqueue.Queue
	locked      map[string]*lockedJob // id -> bookkeeping, while locked or running
	running     int
	defRunning  map[string]int
	defLocked   map[string]int
	nextScanAt  time.Time

	toLockMu         sync.Mutex
	toLock           []*domain.Job
	draining         bool
	isDrainingToLock bool

	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
	stopped bool
}

// New constructs a Processor. sink may be nil (events are dropped). workerID
// identifies this process in recorded attempt rows when repo implements
// attemptRecorder; it may be empty.
func New(repo Repository, sink EventSink, logger *slog.Logger, workerID string, processEvery time.Duration, maxConcurrency, globalLockLimit int) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		repo:            repo,
		sink:            sink,
		logger:          logger.With("component", "processor"),
		workerID:        workerID,
		processEvery:    processEvery,
		maxConcurrency:  maxConcurrency,
		globalLockLimit: globalLockLimit,
		definitions:     make(map[string]*Definition),
		queue:           procqueue.New(),
		locked:          make(map[string]*lockedJob),
		defRunning:      make(map[string]int),
		defLocked:       make(map[string]int),
	}
}

// Define registers or replaces a definition.
func (p *Processor) Define(def *Definition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.definitions[def.Name] = def
}

// Start spawns one polling goroutine per defined name.
func (p *Processor) Start(ctx context.Context) {
	p.mu.Lock()
	if p.started {
		p.mu.Unlock()
		return
	}
	p.started = true
	p.stopped = false
	p.stopCh = make(chan struct{})
	names := make([]string, 0, len(p.definitions))
	for name := range p.definitions {
		names = append(names, name)
	}
	p.mu.Unlock()

	for _, name := range names {
		p.wg.Add(1)
		go p.pollLoop(ctx, name)
	}
}

func (p *Processor) pollLoop(ctx context.Context, name string) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.processEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.poll(ctx, name)
		}
	}
}

// poll implements spec §4.5 "Polling cadence": refill repeatedly for name
// until nothing is due or a lock-limit gate trips.
func (p *Processor) poll(ctx context.Context, name string) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	def := p.definitions[name]
	p.mu.Unlock()
	if def == nil {
		return
	}

	for {
		now := time.Now()
		nextScanAt := now.Add(p.processEvery)

		p.mu.Lock()
		p.nextScanAt = nextScanAt
		if !p.hasLockCapacity(def) {
			p.mu.Unlock()
			return
		}
		p.mu.Unlock()

		lockLifetime := def.LockLifetime
		if lockLifetime <= 0 {
			lockLifetime = 10 * time.Minute
		}
		lockDeadline := now.Add(-lockLifetime)

		job, ok, err := p.repo.GetNextJobToRun(ctx, name, nextScanAt, lockDeadline, now, domain.AuditInfo{LastModifiedBy: "processor"})
		if err != nil {
			p.logger.Error("get next job to run", "name", name, "error", err)
			return
		}
		if !ok {
			return
		}
		p.onLocked(ctx, job, def)
	}
}

// Inject is the on-the-fly lock path (spec §4.5 "On-the-fly lock"): called
// by the Save Orchestrator/Scheduler facade whenever a just-saved job's
// nextRunAt falls on or before nextScanAt.
func (p *Processor) Inject(ctx context.Context, job *domain.Job) {
	p.toLockMu.Lock()
	p.toLock = append(p.toLock, job)
	already := p.isDrainingToLock
	p.isDrainingToLock = true
	p.toLockMu.Unlock()

	if already {
		return
	}
	go p.drainToLock(ctx)
}

func (p *Processor) drainToLock(ctx context.Context) {
	for {
		p.toLockMu.Lock()
		if len(p.toLock) == 0 {
			p.isDrainingToLock = false
			p.toLockMu.Unlock()
			return
		}
		job := p.toLock[0]
		p.toLock = p.toLock[1:]
		p.toLockMu.Unlock()

		p.mu.Lock()
		def := p.definitions[job.Name]
		draining := p.draining
		hasCapacity := def != nil && p.hasLockCapacity(def)
		p.mu.Unlock()
		if def == nil || draining || !hasCapacity {
			continue
		}

		locked, ok, err := p.repo.LockJob(ctx, job, domain.AuditInfo{LastModifiedBy: "processor"})
		if err != nil {
			p.logger.Error("on-the-fly lock", "job_id", job.ID, "error", err)
			continue
		}
		if !ok {
			continue
		}
		p.onLocked(ctx, locked, def)
	}
}

// hasLockCapacity checks the global and per-definition lock-limit gates
// (spec §4.5 "Lock-limit gates"). Must be called with mu held.
func (p *Processor) hasLockCapacity(def *Definition) bool {
	if p.globalLockLimit > 0 && len(p.locked) >= p.globalLockLimit {
		return false
	}
	if def.LockLimit > 0 && p.defLocked[def.Name] >= def.LockLimit {
		return false
	}
	return true
}

// onLocked enqueues a freshly locked job into the ready queue and triggers a dispatch pass.
func (p *Processor) onLocked(ctx context.Context, job *domain.Job, def *Definition) {
	p.mu.Lock()
	p.locked[job.ID] = &lockedJob{job: job, def: def, lockedAt: time.Now()}
	p.defLocked[def.Name]++
	p.queue.Push(procqueue.Entry{
		ID:        job.ID,
		Name:      job.Name,
		Priority:  job.Priority,
		NextRunAt: valueOrNow(job.NextRunAt),
	}, false)
	p.mu.Unlock()

	p.dispatch(ctx)
}

func valueOrNow(t *time.Time) time.Time {
	if t == nil {
		return time.Now()
	}
	return *t
}

// dispatch drains due, capacity-eligible entries from the ready queue and
// runs them (spec §4.5 "Dispatch").
func (p *Processor) dispatch(ctx context.Context) {
	p.mu.Lock()
	if p.draining {
		p.mu.Unlock()
		return
	}
	now := time.Now()
	due := p.queue.DrainDue(now, func(e procqueue.Entry) bool {
		if p.maxConcurrency > 0 && p.running >= p.maxConcurrency {
			return false
		}
		def := p.definitions[e.Name]
		if def == nil {
			return false
		}
		if def.Concurrency > 0 && p.defRunning[def.Name] >= def.Concurrency {
			return false
		}
		// DrainDue evaluates every queued entry against this closure in one
		// pass, so admission must reserve capacity here, not after the scan,
		// or a whole backlog under the same cap gets admitted together.
		p.running++
		p.defRunning[def.Name]++
		return true
	})
	runnable := due[:0:0]
	for _, e := range due {
		if _, ok := p.locked[e.ID]; !ok {
			// Capacity was reserved for an entry no longer locked (released
			// concurrently before the drain); give it back.
			if def := p.definitions[e.Name]; def != nil && p.defRunning[def.Name] > 0 {
				p.defRunning[def.Name]--
			}
			if p.running > 0 {
				p.running--
			}
			continue
		}
		runnable = append(runnable, e)
	}
	due = runnable
	delay, hasNext := p.queue.NextDelay(now)
	p.mu.Unlock()

	for _, e := range due {
		p.mu.Lock()
		lj := p.locked[e.ID]
		p.mu.Unlock()
		if lj == nil {
			continue
		}
		go p.run(ctx, lj)
	}

	if hasNext && delay > 0 {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			t := time.NewTimer(delay)
			defer t.Stop()
			select {
			case <-ctx.Done():
			case <-p.stopCh:
			case <-t.C:
				p.dispatch(ctx)
			}
		}()
	}
}

// run executes one job under a lock-expiry watchdog (spec §4.5 "Per-run
// lock-expiry watchdog", "Execution").
func (p *Processor) run(ctx context.Context, lj *lockedJob) {
	job := lj.job
	def := lj.def
	now := time.Now()

	job.LastRunAt = &now
	if job.RepeatInterval != "" || job.RepeatAt != "" {
		_ = job.RecomputeNextRunAt(now)
	}
	if err := p.repo.SaveJobState(ctx, job, domain.AuditInfo{LastModifiedBy: "processor"}); err != nil {
		p.logger.Error("save job state before run", "job_id", job.ID, "error", err)
	}

	lockLifetime := def.LockLifetime
	if lockLifetime <= 0 {
		lockLifetime = 10 * time.Minute
	}
	p.armWatchdog(ctx, lj, lockLifetime)

	if rec, ok := p.repo.(attemptRecorder); ok {
		if id, err := rec.RecordAttemptStart(ctx, job.ID, p.workerID, now); err != nil {
			p.logger.Error("record attempt start", "job_id", job.ID, "error", err)
		} else {
			lj.attemptID = id
		}
	}

	p.emit(Event{Type: EventStart, Job: job, Timestamp: now})
	if def.Logging {
		p.logger.Info("job start", "name", job.Name, "job_id", job.ID)
	}

	done := func(err error) {
		lj.once.Do(func() {
			p.stopWatchdog(lj)
			p.finish(ctx, lj, err)
		})
	}

	if def.Handler != nil {
		h := def.Handler
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done(fmt.Errorf("handler panic: %v", r))
				}
			}()
			done(h(job))
		}()
		return
	}
	def.CallbackHandler(job, done)
}

func (p *Processor) armWatchdog(ctx context.Context, lj *lockedJob, lockLifetime time.Duration) {
	deadline := lj.lockedAt.Add(lockLifetime)
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	lj.watchdog = time.AfterFunc(delay, func() {
		p.onWatchdogFire(ctx, lj, lockLifetime)
	})
}

// onWatchdogFire implements the expiry/extension decision (spec §4.5
// "Per-run lock-expiry watchdog").
func (p *Processor) onWatchdogFire(ctx context.Context, lj *lockedJob, lockLifetime time.Duration) {
	job := lj.job
	if job.LockedAt == nil {
		return // already finished
	}
	deadline := job.LockedAt.Add(lockLifetime)
	if time.Now().Before(deadline) {
		// touch() extended the lock; rearm for the new deadline.
		lj.watchdog = time.AfterFunc(time.Until(deadline), func() {
			p.onWatchdogFire(ctx, lj, lockLifetime)
		})
		return
	}

	lj.once.Do(func() {
		now := time.Now()
		next := job.NextRunAt
		if next == nil || next.After(now) {
			next = &now
		}
		job.NextRunAt = next
		job.LockedAt = nil
		if err := p.repo.SaveJobState(ctx, job, domain.AuditInfo{LastModifiedBy: "processor"}); err != nil {
			p.logger.Error("save expired job state", "job_id", job.ID, "error", err)
		}
		p.emit(Event{Type: EventExpire, Job: job, Timestamp: now})
		p.release(lj)
	})
}

func (p *Processor) stopWatchdog(lj *lockedJob) {
	if lj.watchdog != nil {
		lj.watchdog.Stop()
	}
}

// finish resolves a run's outcome (spec §4.5 "On successful return"/"On handler error").
func (p *Processor) finish(ctx context.Context, lj *lockedJob, runErr error) {
	job := lj.job
	def := lj.def
	now := time.Now()

	if lj.attemptID != "" {
		if rec, ok := p.repo.(attemptRecorder); ok {
			if err := rec.RecordAttemptEnd(ctx, lj.attemptID, runErr, now); err != nil {
				p.logger.Error("record attempt end", "job_id", job.ID, "error", err)
			}
		}
	}

	if runErr == nil {
		job.LastFinishedAt = &now
		job.LockedAt = nil
		if err := p.repo.SaveJobState(ctx, job, domain.AuditInfo{LastModifiedBy: "processor"}); err != nil {
			p.logger.Error("save completed job state", "job_id", job.ID, "error", err)
		}
		p.emit(Event{Type: EventSuccess, Job: job, Timestamp: now})

		recurring := job.RepeatInterval != "" || job.RepeatAt != ""
		if def.RemoveOnComplete && !recurring {
			if _, err := p.repo.RemoveJobs(ctx, domain.RemoveOptions{ID: job.ID}); err != nil {
				p.logger.Error("remove completed job", "job_id", job.ID, "error", err)
			}
		}
		p.emit(Event{Type: EventComplete, Job: job, Timestamp: now})
		p.release(lj)
		return
	}

	retried, delay := job.FailDetailed(now, runErr.Error(), def.Backoff)
	job.LockedAt = nil
	if err := p.repo.SaveJobState(ctx, job, domain.AuditInfo{LastModifiedBy: "processor"}); err != nil {
		p.logger.Error("save failed job state", "job_id", job.ID, "error", err)
	}
	p.emit(Event{Type: EventFail, Job: job, Err: runErr, Timestamp: now})

	switch {
	case retried:
		retryAt := now.Add(delay)
		p.emit(Event{Type: EventRetry, Job: job, Err: runErr, RetryAttempt: job.FailCount, RetryDelay: delay, RetryAt: &retryAt, Timestamp: now})
	case def.Backoff != nil:
		p.emit(Event{Type: EventRetryExhausted, Job: job, Err: runErr, RetryAttempt: job.FailCount, Timestamp: now})
	}
	p.emit(Event{Type: EventComplete, Job: job, Err: runErr, Timestamp: now})
	p.release(lj)
}

func (p *Processor) release(lj *lockedJob) {
	p.mu.Lock()
	delete(p.locked, lj.job.ID)
	if p.defLocked[lj.def.Name] > 0 {
		p.defLocked[lj.def.Name]--
	}
	if p.running > 0 {
		p.running--
	}
	if p.defRunning[lj.def.Name] > 0 {
		p.defRunning[lj.def.Name]--
	}
	draining := p.draining
	p.mu.Unlock()
	if !draining {
		p.dispatch(context.Background())
	}
}

func (p *Processor) emit(e Event) {
	if p.sink == nil {
		return
	}
	p.sink.HandleEvent(e)
}

// Running reports the number of jobs currently executing.
func (p *Processor) Running() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Stop halts polling, unlocks every currently locked record, and returns
// immediately (spec §4.6 stop).
func (p *Processor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started || p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.stopCh)
	ids := make([]string, 0, len(p.locked))
	for id, lj := range p.locked {
		ids = append(ids, id)
		p.stopWatchdog(lj)
	}
	p.mu.Unlock()

	p.wg.Wait()
	if len(ids) == 0 {
		return nil
	}
	return p.repo.UnlockJobs(ctx, ids)
}

// Drain halts intake of new work and waits for running jobs to finish
// (spec §4.5 Cancellation/timeouts). timeout <= 0 means wait indefinitely;
// cancel, if non-nil, is an additional abort signal.
func (p *Processor) Drain(ctx context.Context, timeout time.Duration, cancel <-chan struct{}) DrainResult {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	var timeoutCh <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	for {
		p.mu.Lock()
		running := p.running
		p.mu.Unlock()
		if running == 0 {
			return DrainResult{Completed: true, Running: 0}
		}

		select {
		case <-time.After(10 * time.Millisecond):
			continue
		case <-timeoutCh:
			p.mu.Lock()
			running = p.running
			p.mu.Unlock()
			return DrainResult{Running: running, TimedOut: true}
		case <-cancel:
			p.mu.Lock()
			running = p.running
			p.mu.Unlock()
			return DrainResult{Running: running, Aborted: true}
		case <-ctx.Done():
			p.mu.Lock()
			running = p.running
			p.mu.Unlock()
			return DrainResult{Running: running, Aborted: true}
		}
	}
}

// ErrNotDefined names a job name with no registered definition. No function
// in this package returns it.
var ErrNotDefined = errors.New("processor: name has no definition")
