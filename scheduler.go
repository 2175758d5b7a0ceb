package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dnovik/scheduler/internal/orchestrator"
	"github.com/dnovik/scheduler/internal/processor"
)

// Event is a Processor lifecycle transition (spec §4.5/§6.4).
type Event = processor.Event

// EventType enumerates the kinds of Event.
type EventType = processor.EventType

const (
	EventStart          = processor.EventStart
	EventSuccess        = processor.EventSuccess
	EventFail           = processor.EventFail
	EventComplete       = processor.EventComplete
	EventRetry          = processor.EventRetry
	EventRetryExhausted = processor.EventRetryExhausted
	EventExpire         = processor.EventExpire
)

// DrainResult is the outcome of Drain (spec §4.5).
type DrainResult = processor.DrainResult

// DefineOptions configures a registered job name (spec §4.5 definition).
type DefineOptions struct {
	Concurrency      int
	LockLimit        int
	LockLifetime     time.Duration
	Priority         int
	Backoff          Backoff
	RemoveOnComplete bool
	Logging          bool
}

// DefineOption mutates DefineOptions.
type DefineOption func(*DefineOptions)

func WithConcurrency(n int) DefineOption      { return func(o *DefineOptions) { o.Concurrency = n } }
func WithLockLimit(n int) DefineOption        { return func(o *DefineOptions) { o.LockLimit = n } }
func WithLockLifetime(d time.Duration) DefineOption {
	return func(o *DefineOptions) { o.LockLifetime = d }
}
func WithDefinitionPriority(p int) DefineOption { return func(o *DefineOptions) { o.Priority = p } }
func WithBackoffStrategy(b Backoff) DefineOption {
	return func(o *DefineOptions) { o.Backoff = b }
}
func WithRemoveOnComplete() DefineOption { return func(o *DefineOptions) { o.RemoveOnComplete = true } }
func WithLogging() DefineOption          { return func(o *DefineOptions) { o.Logging = true } }

// Config configures a Scheduler instance (spec §2.1, default values there).
type Config struct {
	ProcessEvery        time.Duration
	MaxConcurrency      int
	GlobalLockLimit     int
	DefaultLockLifetime time.Duration
	Logger              *slog.Logger
}

// Scheduler is the Scheduler Facade (spec §4.6): lifecycle, the definitions
// registry, the factory methods, and the cross-process event bridge.
type Scheduler struct {
	repo    Repository
	channel NotificationChannel
	source  string
	cfg     Config
	logger  *slog.Logger

	proc *processor.Processor

	mu        sync.Mutex
	listeners []func(Event)
	running   bool

	lockLifetimes map[string]time.Duration // per-name, for on-the-fly recompute
}

// New constructs a Scheduler. channel may be nil to run single-process only.
func New(repo Repository, channel NotificationChannel, cfg Config) *Scheduler {
	if cfg.ProcessEvery <= 0 {
		cfg.ProcessEvery = 5 * time.Second
	}
	if cfg.DefaultLockLifetime <= 0 {
		cfg.DefaultLockLifetime = 10 * time.Minute
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		repo:          repo,
		channel:       channel,
		source:        uuid.NewString(),
		cfg:           cfg,
		logger:        logger.With("component", "scheduler"),
		lockLifetimes: make(map[string]time.Duration),
	}
	s.proc = processor.New(repo, s, logger, s.source, cfg.ProcessEvery, cfg.MaxConcurrency, cfg.GlobalLockLimit)
	return s
}

// Define registers handler under name with optional per-name overrides.
// handler must be func(*Job) error or func(*Job, func(error)).
func (s *Scheduler) Define(name string, handler any, opts ...DefineOption) error {
	o := DefineOptions{Concurrency: 1, LockLifetime: s.cfg.DefaultLockLifetime}
	for _, opt := range opts {
		opt(&o)
	}

	def := &processor.Definition{
		Name:             name,
		Concurrency:      o.Concurrency,
		LockLimit:        o.LockLimit,
		LockLifetime:     o.LockLifetime,
		Priority:         o.Priority,
		Backoff:          o.Backoff,
		RemoveOnComplete: o.RemoveOnComplete,
		Logging:          o.Logging,
	}
	switch h := handler.(type) {
	case func(*Job) error:
		def.Handler = h
	case func(*Job, func(error)):
		def.CallbackHandler = h
	default:
		return fmt.Errorf("scheduler: Define(%q): handler must be func(*Job) error or func(*Job, func(error))", name)
	}

	s.mu.Lock()
	s.lockLifetimes[name] = o.LockLifetime
	s.mu.Unlock()
	s.proc.Define(def)
	return nil
}

// OnEvent registers a listener invoked for every Processor lifecycle event,
// including events re-emitted from other processes via the NotificationChannel.
func (s *Scheduler) OnEvent(fn func(Event)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// Start connects the Repository and, if present, the NotificationChannel,
// subscribes to incoming notifications, and spawns the Processor's polling
// loop (spec §4.6).
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrSchedulerRunning
	}
	s.running = true
	s.mu.Unlock()

	if err := s.repo.Connect(ctx); err != nil {
		return fmt.Errorf("scheduler: connect repository: %w", err)
	}
	if s.channel != nil {
		if err := s.channel.Connect(); err != nil {
			return fmt.Errorf("scheduler: connect notification channel: %w", err)
		}
		if err := s.channel.Subscribe(s.onRemoteJobSaved); err != nil {
			return fmt.Errorf("scheduler: subscribe notification channel: %w", err)
		}
		_ = s.channel.SubscribeState(s.onRemoteJobState)
	}

	s.proc.Start(ctx)
	return nil
}

// Stop halts polling, unlocks locked records, and disconnects the
// NotificationChannel, if any (spec §4.6). closeConnection has no effect:
// the channel is disconnected either way and the Repository is left open.
func (s *Scheduler) Stop(ctx context.Context, closeConnection bool) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerStopped
	}
	s.running = false
	s.mu.Unlock()

	if err := s.proc.Stop(ctx); err != nil {
		s.logger.Error("stop processor", "error", err)
	}
	if s.channel != nil {
		_ = closeConnection // unused; Disconnect always runs
		if err := s.channel.Disconnect(); err != nil {
			s.logger.Error("disconnect notification channel", "error", err)
		}
	}
	return nil
}

// Drain halts intake but awaits running completion, then closes as Stop does.
func (s *Scheduler) Drain(ctx context.Context, timeout time.Duration, cancel <-chan struct{}) DrainResult {
	res := s.proc.Drain(ctx, timeout, cancel)
	_ = s.Stop(ctx, true)
	return res
}

// ReportProgress persists job.Progress and emits a progress event/notification
// (spec §3.1 progress field; §6.2 JobStateNotification progress kind).
func (s *Scheduler) ReportProgress(ctx context.Context, job *Job, percent int) error {
	job.Progress = percent
	if err := s.repo.SaveJobState(ctx, job, AuditInfo{LastModifiedBy: "processor"}); err != nil {
		return err
	}
	now := time.Now()
	s.HandleEvent(Event{Type: "progress", Job: job, Timestamp: now})
	if s.channel != nil {
		_ = s.channel.PublishState(JobStateNotification{
			JobID: job.ID, JobName: job.Name, Type: StateProgress,
			Progress: &percent, Timestamp: now, Source: s.source,
		})
	}
	return nil
}

// HandleEvent implements processor.EventSink: it fans a local event out to
// every registered listener and, when a channel is configured, publishes the
// equivalent JobStateNotification (spec §5.5 cross-process events).
func (s *Scheduler) HandleEvent(e Event) {
	s.mu.Lock()
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.Unlock()
	for _, fn := range listeners {
		fn(e)
	}

	if s.channel == nil {
		return
	}
	n := JobStateNotification{
		JobName:        e.Job.Name,
		JobID:          e.Job.ID,
		Type:           stateEventTypeFor(e.Type),
		FailCount:      e.Job.FailCount,
		RetryAttempt:   e.RetryAttempt,
		RetryAt:        e.RetryAt,
		LastRunAt:      e.Job.LastRunAt,
		LastFinishedAt: e.Job.LastFinishedAt,
		Timestamp:      e.Timestamp,
		Source:         s.source,
	}
	if e.Err != nil {
		n.Error = e.Err.Error()
	}
	_ = s.channel.PublishState(n)
}

func stateEventTypeFor(t EventType) StateEventType {
	switch t {
	case EventStart:
		return StateStart
	case EventSuccess:
		return StateSuccess
	case EventFail:
		return StateFail
	case EventComplete:
		return StateComplete
	case EventRetry, EventRetryExhausted:
		return StateRetry
	default:
		return StateEventType(t)
	}
}

// onRemoteJobSaved is the subscription handler for incoming job-saved hints:
// treat as an on-the-fly lock candidate (spec §4.6 Cross-process events).
func (s *Scheduler) onRemoteJobSaved(n JobNotification) {
	if n.Source == s.source {
		return
	}
	job, err := s.repo.GetJobByID(context.Background(), n.JobID)
	if err != nil || job == nil {
		return
	}
	s.proc.Inject(context.Background(), job)
}

// onRemoteJobState re-emits lifecycle events published by other processes
// locally, so on(event) observers see remote outcomes too (spec §4.6).
func (s *Scheduler) onRemoteJobState(n JobStateNotification) {
	if n.Source == s.source {
		return
	}
	job := &Job{ID: n.JobID, Name: n.JobName, FailCount: n.FailCount, LastRunAt: n.LastRunAt, LastFinishedAt: n.LastFinishedAt}
	var err error
	if n.Error != "" {
		err = fmt.Errorf("%s", n.Error)
	}
	s.mu.Lock()
	listeners := append([]func(Event){}, s.listeners...)
	s.mu.Unlock()
	e := Event{Type: eventTypeFor(n.Type), Job: job, Err: err, RetryAttempt: n.RetryAttempt, RetryAt: n.RetryAt, Timestamp: n.Timestamp}
	for _, fn := range listeners {
		fn(e)
	}
}

func eventTypeFor(t StateEventType) EventType {
	switch t {
	case StateStart:
		return EventStart
	case StateSuccess:
		return EventSuccess
	case StateFail:
		return EventFail
	case StateComplete:
		return EventComplete
	case StateRetry:
		return EventRetry
	default:
		return EventType(t)
	}
}

// persistAndNotify runs the Save Orchestrator's thin layer: persist, then
// publish a job-saved hint and/or inject into the local on-the-fly path
// when the resulting NextRunAt is due soon (spec §4.4 last paragraph).
func (s *Scheduler) persistAndNotify(ctx context.Context, job *Job) (*Job, error) {
	saved, err := s.repo.SaveJob(ctx, job, AuditInfo{LastModifiedBy: "facade"})
	if err != nil {
		return nil, err
	}

	nextScanAt := time.Now().Add(s.cfg.ProcessEvery)
	if orchestrator.DueBeforeNextScan(saved, nextScanAt) {
		s.proc.Inject(ctx, saved)
	}

	if s.channel != nil {
		if err := s.channel.Publish(JobNotification{
			JobID: saved.ID, JobName: saved.Name, NextRunAt: saved.NextRunAt,
			Priority: saved.Priority, Timestamp: time.Now(), Source: s.source,
		}); err != nil {
			s.logger.Warn("publish job-saved notification", "job_id", saved.ID, "error", err)
		}
	}
	return saved, nil
}

// Create returns a new, unsaved Job (spec §4.6 create()).
func (s *Scheduler) Create(name string, data any) *Job {
	return &Job{Name: name, Type: TypeNormal, Data: data}
}

// Now creates and persists a job scheduled for the current instant (spec §4.6 now()).
func (s *Scheduler) Now(ctx context.Context, name string, data any) (*Job, error) {
	now := time.Now()
	job := s.Create(name, data)
	job.NextRunAt = &now
	return s.persistAndNotify(ctx, job)
}

// Schedule creates and persists a job for an explicit time or date phrase,
// with optional date-range/skipDays mutators applied via mutate before saving
// (spec §4.6 schedule()).
func (s *Scheduler) Schedule(ctx context.Context, when any, name string, data any, mutate ...func(*Job)) (*Job, error) {
	job := s.Create(name, data)
	job.Schedule(when)
	for _, m := range mutate {
		m(job)
	}
	return s.persistAndNotify(ctx, job)
}

// Every creates a singleton recurring job (type=single) per name and
// computes its first NextRunAt (spec §4.6 every()).
func (s *Scheduler) Every(ctx context.Context, interval string, names []string, data any, opts ...RepeatOption) ([]*Job, error) {
	out := make([]*Job, 0, len(names))
	for _, name := range names {
		job := s.Create(name, data)
		job.Type = TypeSingle
		job.RepeatEvery(interval, opts...)
		saved, err := s.persistAndNotify(ctx, job)
		if err != nil {
			return out, err
		}
		out = append(out, saved)
	}
	return out, nil
}

// NowDebounced creates a unique/debounced job per spec §4.4.
func (s *Scheduler) NowDebounced(ctx context.Context, name string, data any, uniqueKey map[string]any, delay time.Duration, opts ...UniqueOption) (*Job, error) {
	job := s.Create(name, data)
	job.Unique(uniqueKey, append(opts, WithDebounce(DebounceTrailing, delay, 0))...)
	return s.persistAndNotify(ctx, job)
}

// QueryJobs returns the Repository's QueryJobs result for opts; filtering by
// derived State is left to the driver (spec §3.2, §4.6 Derived queries).
func (s *Scheduler) QueryJobs(ctx context.Context, opts QueryOptions) (QueryResult, error) {
	return s.repo.QueryJobs(ctx, opts)
}

// GetJobsOverview aggregates counts per name per derived state.
func (s *Scheduler) GetJobsOverview(ctx context.Context) ([]NameOverview, error) {
	return s.repo.GetJobsOverview(ctx)
}

// RemoveJobs deletes jobs matching opts and returns the count removed
// (spec §4.6 remove()).
func (s *Scheduler) RemoveJobs(ctx context.Context, opts RemoveOptions) (int, error) {
	return s.repo.RemoveJobs(ctx, opts)
}
