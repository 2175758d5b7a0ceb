// Package memory is an in-memory Repository driver (spec §6.1), grounded on
// the teacher's in-memory storage: a mutex-guarded map that copies records in
// and out to prevent callers from mutating driver-owned state. It is
// suitable for tests, examples, and single-process deployments where
// persistence across restarts isn't required.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dnovik/scheduler/internal/domain"
)

type attempt struct {
	id         string
	jobID      string
	workerID   string
	startedAt  time.Time
	finishedAt *time.Time
	err        string
}

// Repository is an in-memory scheduler.Repository implementation.
type Repository struct {
	mu       sync.Mutex
	jobs     map[string]*domain.Job
	attempts map[string]*attempt
}

// New constructs an empty Repository.
func New() *Repository {
	return &Repository{
		jobs:     make(map[string]*domain.Job),
		attempts: make(map[string]*attempt),
	}
}

// Connect is a no-op; there is no backing connection to establish.
func (r *Repository) Connect(ctx context.Context) error {
	return nil
}

func cloneJob(j *domain.Job) *domain.Job {
	if j == nil {
		return nil
	}
	cp := *j
	if j.SkipDays != nil {
		cp.SkipDays = make(map[time.Weekday]bool, len(j.SkipDays))
		for k, v := range j.SkipDays {
			cp.SkipDays[k] = v
		}
	}
	if j.Unique != nil {
		cp.Unique = make(map[string]any, len(j.Unique))
		for k, v := range j.Unique {
			cp.Unique[k] = v
		}
	}
	return &cp
}

// SaveJob implements the insert/update/singleton-upsert/unique-upsert/
// debounce-merge branching of spec §4.4.
func (r *Repository) SaveJob(ctx context.Context, job *domain.Job, audit domain.AuditInfo) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	in := cloneJob(job)
	in.LastModifiedBy = audit.LastModifiedBy

	if in.ID != "" && !in.Forked {
		existing, ok := r.jobs[in.ID]
		if !ok {
			return nil, domain.ErrJobNotFound
		}
		merged := cloneJob(existing)
		r.applyMutableFields(merged, in)
		r.jobs[in.ID] = merged
		return cloneJob(merged), nil
	}

	if in.Type == domain.TypeSingle && !in.Forked {
		if existing := r.findByNameType(in.Name, domain.TypeSingle); existing != nil {
			r.upsertSingleton(existing, in, now)
			return cloneJob(existing), nil
		}
	}

	if in.Unique != nil && !in.Forked {
		if existing := r.findByUnique(in.Name, in.Unique); existing != nil {
			if in.UniqueOpts != nil && in.UniqueOpts.InsertOnly {
				return cloneJob(existing), nil
			}
			if in.UniqueOpts != nil && in.UniqueOpts.Debounce != nil {
				r.mergeDebounce(existing, in.UniqueOpts.Debounce, now)
				return cloneJob(existing), nil
			}
			r.applyMutableFields(existing, in)
			return cloneJob(existing), nil
		}
		if in.UniqueOpts != nil && in.UniqueOpts.Debounce != nil {
			next := now.Add(in.UniqueOpts.Debounce.Delay)
			in.NextRunAt = &next
			in.DebounceStartedAt = &now
		}
	}

	in.ID = uuid.NewString()
	r.jobs[in.ID] = cloneJob(in)
	return cloneJob(in), nil
}

// upsertSingleton implements the type=single branch: the incoming record's
// fields replace the existing record's, except that an existing nextRunAt
// that is already due is kept (spec §4.4).
func (r *Repository) upsertSingleton(existing, in *domain.Job, now time.Time) {
	preserveNextRunAt := existing.NextRunAt != nil && !existing.NextRunAt.After(now)
	nextRunAt := in.NextRunAt
	if preserveNextRunAt {
		nextRunAt = existing.NextRunAt
	}
	in.ID = existing.ID
	*existing = *in
	existing.NextRunAt = nextRunAt
}

// mergeDebounce implements the unique+debounce branch of spec §4.4.
func (r *Repository) mergeDebounce(existing *domain.Job, opts *domain.DebounceOptions, now time.Time) {
	switch opts.Strategy {
	case domain.DebounceLeading:
		return
	default: // trailing
		if opts.MaxWait > 0 && existing.DebounceStartedAt != nil && now.Sub(*existing.DebounceStartedAt) >= opts.MaxWait {
			return
		}
		next := now.Add(opts.Delay)
		existing.NextRunAt = &next
	}
}

// applyMutableFields copies in's business fields onto existing, preserving
// existing's ID and DebounceStartedAt (those aren't meant to be overwritten
// by a plain update).
func (r *Repository) applyMutableFields(existing, in *domain.Job) {
	id := existing.ID
	debounceStartedAt := existing.DebounceStartedAt
	*existing = *in
	existing.ID = id
	if existing.DebounceStartedAt == nil {
		existing.DebounceStartedAt = debounceStartedAt
	}
}

func (r *Repository) findByNameType(name string, t domain.JobType) *domain.Job {
	for _, j := range r.jobs {
		if j.Name == name && j.Type == t {
			return j
		}
	}
	return nil
}

func (r *Repository) findByUnique(name string, key map[string]any) *domain.Job {
	for _, j := range r.jobs {
		if j.Name != name || j.Unique == nil || len(j.Unique) != len(key) {
			continue
		}
		match := true
		for k, v := range key {
			if jv, ok := j.Unique[k]; !ok || jv != v {
				match = false
				break
			}
		}
		if match {
			return j
		}
	}
	return nil
}

// SaveJobState updates only the mutable run-state fields.
func (r *Repository) SaveJobState(ctx context.Context, job *domain.Job, audit domain.AuditInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.jobs[job.ID]
	if !ok {
		return domain.ErrJobNotFound
	}
	existing.LockedAt = job.LockedAt
	existing.LastRunAt = job.LastRunAt
	existing.LastFinishedAt = job.LastFinishedAt
	existing.FailedAt = job.FailedAt
	existing.FailCount = job.FailCount
	existing.FailReason = job.FailReason
	existing.NextRunAt = job.NextRunAt
	existing.Progress = job.Progress
	existing.LastModifiedBy = audit.LastModifiedBy
	return nil
}

// LockJob atomically conditional-updates {id, lockedAt:null,
// nextRunAt:=expected, disabled != true} to lockedAt = now.
func (r *Repository) LockJob(ctx context.Context, job *domain.Job, audit domain.AuditInfo) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, ok := r.jobs[job.ID]
	if !ok {
		return nil, false, nil
	}
	if existing.LockedAt != nil || existing.Disabled {
		return nil, false, nil
	}
	if !sameInstant(existing.NextRunAt, job.NextRunAt) {
		return nil, false, nil
	}
	now := time.Now()
	existing.LockedAt = &now
	existing.LastModifiedBy = audit.LastModifiedBy
	return cloneJob(existing), true, nil
}

func sameInstant(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// UnlockJob clears lockedAt on a single record.
func (r *Repository) UnlockJob(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if j, ok := r.jobs[id]; ok {
		j.LockedAt = nil
	}
	return nil
}

// UnlockJobs clears lockedAt on every matched record.
func (r *Repository) UnlockJobs(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		if j, ok := r.jobs[id]; ok {
			j.LockedAt = nil
		}
	}
	return nil
}

// GetNextJobToRun atomically selects and locks at most one due record for name.
func (r *Repository) GetNextJobToRun(ctx context.Context, name string, nextScanAt, lockDeadline, now time.Time, audit domain.AuditInfo) (*domain.Job, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []*domain.Job
	for _, j := range r.jobs {
		if j.Name != name || j.Disabled {
			continue
		}
		if j.LockedAt == nil && j.NextRunAt != nil && !j.NextRunAt.After(nextScanAt) {
			candidates = append(candidates, j)
			continue
		}
		if j.LockedAt != nil && !j.LockedAt.After(lockDeadline) {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}
	sort.Slice(candidates, func(i, k int) bool {
		ni, nk := candidates[i].NextRunAt, candidates[k].NextRunAt
		switch {
		case ni == nil && nk == nil:
		case ni == nil:
			return false
		case nk == nil:
			return true
		case !ni.Equal(*nk):
			return ni.Before(*nk)
		}
		return candidates[i].Priority > candidates[k].Priority
	})

	chosen := candidates[0]
	chosen.LockedAt = &now
	chosen.LastModifiedBy = audit.LastModifiedBy
	return cloneJob(chosen), true, nil
}

// GetJobByID returns a copy of the record with id.
func (r *Repository) GetJobByID(ctx context.Context, id string) (*domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrJobNotFound
	}
	return cloneJob(j), nil
}

// QueryJobs filters, state-filters, sorts, and paginates in memory.
func (r *Repository) QueryJobs(ctx context.Context, opts domain.QueryOptions) (domain.QueryResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	var matched []*domain.Job
	for _, j := range r.jobs {
		if !matchesQuery(j, opts, now) {
			continue
		}
		matched = append(matched, j)
	}

	sort.Slice(matched, func(i, k int) bool {
		if len(opts.Sort) == 0 {
			if matched[i].NextRunAt == nil || matched[k].NextRunAt == nil {
				return matched[i].NextRunAt != nil
			}
			return matched[i].NextRunAt.Before(*matched[k].NextRunAt)
		}
		for _, s := range opts.Sort {
			cmp := compareField(matched[i], matched[k], s.Field)
			if cmp == 0 {
				continue
			}
			if s.Desc {
				return cmp > 0
			}
			return cmp < 0
		}
		return false
	})

	total := len(matched)
	if opts.Skip > 0 && opts.Skip < len(matched) {
		matched = matched[opts.Skip:]
	} else if opts.Skip >= len(matched) {
		matched = nil
	}
	if opts.Limit > 0 && len(matched) > opts.Limit {
		matched = matched[:opts.Limit]
	}

	out := make([]*domain.Job, len(matched))
	for i, j := range matched {
		out[i] = cloneJob(j)
	}
	return domain.QueryResult{Jobs: out, Total: total}, nil
}

func compareField(a, b *domain.Job, field string) int {
	switch field {
	case "priority":
		return a.Priority - b.Priority
	case "name":
		return strings.Compare(a.Name, b.Name)
	default:
		switch {
		case a.NextRunAt == nil && b.NextRunAt == nil:
			return 0
		case a.NextRunAt == nil:
			return -1
		case b.NextRunAt == nil:
			return 1
		case a.NextRunAt.Before(*b.NextRunAt):
			return -1
		case a.NextRunAt.After(*b.NextRunAt):
			return 1
		default:
			return 0
		}
	}
}

func matchesQuery(j *domain.Job, opts domain.QueryOptions, now time.Time) bool {
	if opts.Name != "" && j.Name != opts.Name {
		return false
	}
	if len(opts.Names) > 0 && !contains(opts.Names, j.Name) {
		return false
	}
	if opts.ID != "" && j.ID != opts.ID {
		return false
	}
	if len(opts.IDs) > 0 && !contains(opts.IDs, j.ID) {
		return false
	}
	if opts.Search != "" && !strings.Contains(j.Name, opts.Search) {
		return false
	}
	if !opts.IncludeDisabled && j.Disabled {
		return false
	}
	if opts.State != "" && j.State(now) != opts.State {
		return false
	}
	for k, v := range opts.Data {
		data, ok := j.Data.(map[string]any)
		if !ok || data[k] != v {
			return false
		}
	}
	return true
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}

// RemoveJobs deletes matched records and reports how many were removed.
func (r *Repository) RemoveJobs(ctx context.Context, opts domain.RemoveOptions) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for id, j := range r.jobs {
		if !matchesRemove(j, opts) {
			continue
		}
		delete(r.jobs, id)
		n++
	}
	return n, nil
}

func matchesRemove(j *domain.Job, opts domain.RemoveOptions) bool {
	if opts.ID != "" {
		return j.ID == opts.ID
	}
	if len(opts.IDs) > 0 {
		return contains(opts.IDs, j.ID)
	}
	if opts.Name != "" && j.Name != opts.Name {
		return false
	}
	if len(opts.Names) > 0 && !contains(opts.Names, j.Name) {
		return false
	}
	if len(opts.NotNames) > 0 && contains(opts.NotNames, j.Name) {
		return false
	}
	for k, v := range opts.Data {
		data, ok := j.Data.(map[string]any)
		if !ok || data[k] != v {
			return false
		}
	}
	return opts.ID != "" || len(opts.IDs) > 0 || opts.Name != "" || len(opts.Names) > 0 || len(opts.NotNames) > 0 || len(opts.Data) > 0
}

// GetDistinctJobNames returns every distinct job name currently persisted.
func (r *Repository) GetDistinctJobNames(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	seen := make(map[string]bool)
	var names []string
	for _, j := range r.jobs {
		if !seen[j.Name] {
			seen[j.Name] = true
			names = append(names, j.Name)
		}
	}
	sort.Strings(names)
	return names, nil
}

// GetJobsOverview aggregates counts per name per derived state.
func (r *Repository) GetJobsOverview(ctx context.Context) ([]domain.NameOverview, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	byName := make(map[string]*domain.NameOverview)
	for _, j := range r.jobs {
		o, ok := byName[j.Name]
		if !ok {
			o = &domain.NameOverview{Name: j.Name}
			byName[j.Name] = o
		}
		o.Total++
		switch j.State(now) {
		case domain.StateRunning:
			o.Running++
		case domain.StateScheduled:
			o.Scheduled++
		case domain.StateQueued:
			o.Queued++
		case domain.StateCompleted:
			o.Completed++
		case domain.StateFailed:
			o.Failed++
		case domain.StateRepeating:
			o.Repeating++
		}
	}
	out := make([]domain.NameOverview, 0, len(byName))
	for _, o := range byName {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// GetQueueSize counts records with nextRunAt <= now.
func (r *Repository) GetQueueSize(ctx context.Context, now time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, j := range r.jobs {
		if j.NextRunAt != nil && !j.NextRunAt.After(now) {
			n++
		}
	}
	return n, nil
}

// RecordAttemptStart implements the optional AttemptRecorder capability.
func (r *Repository) RecordAttemptStart(ctx context.Context, jobID, workerID string, startedAt time.Time) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := uuid.NewString()
	r.attempts[id] = &attempt{id: id, jobID: jobID, workerID: workerID, startedAt: startedAt}
	return id, nil
}

// RecordAttemptEnd implements the optional AttemptRecorder capability.
func (r *Repository) RecordAttemptEnd(ctx context.Context, attemptID string, runErr error, finishedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.attempts[attemptID]
	if !ok {
		return fmt.Errorf("memory: unknown attempt %q", attemptID)
	}
	a.finishedAt = &finishedAt
	if runErr != nil {
		a.err = runErr.Error()
	}
	return nil
}

// AttemptsForJob reports how many attempt rows exist for jobID and how many
// of them have finishedAt set. Exposed for tests that exercise the
// AttemptRecorder capability end to end.
func (r *Repository) AttemptsForJob(jobID string) (total, finished int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.attempts {
		if a.jobID != jobID {
			continue
		}
		total++
		if a.finishedAt != nil {
			finished++
		}
	}
	return total, finished
}
