package scheduler

import (
	"context"
	"time"

	"github.com/dnovik/scheduler/internal/domain"
)

// AuditInfo carries the writer identity stamped onto LastModifiedBy (spec §3.1).
type AuditInfo = domain.AuditInfo

// SortField orders QueryJobs results.
type SortField = domain.SortField

// QueryOptions is the fixed filter set Repository.QueryJobs recognizes (spec §6.1).
type QueryOptions = domain.QueryOptions

// QueryResult is the paginated result of QueryJobs.
type QueryResult = domain.QueryResult

// RemoveOptions is the fixed filter set Repository.RemoveJobs recognizes.
type RemoveOptions = domain.RemoveOptions

// NameOverview aggregates job counts per name per derived state (spec §6.1 getJobsOverview).
type NameOverview = domain.NameOverview

// Repository is the persistence contract implemented by external storage
// drivers (spec §6.1). Every method listed here must behave as documented —
// in particular GetNextJobToRun and LockJob must be atomic with respect to
// the fields they read and write (spec §4.7): they are the only place
// cross-process concurrency control lives.
type Repository interface {
	// Connect must complete before any other operation is issued.
	Connect(ctx context.Context) error

	// SaveJob implements the insert/update/singleton-upsert/unique-upsert/
	// debounce-merge semantics of spec §4.4 and returns the saved record with
	// its assigned id.
	SaveJob(ctx context.Context, job *Job, audit AuditInfo) (*Job, error)

	// SaveJobState updates only the mutable run-state fields: LockedAt,
	// LastRunAt, LastFinishedAt, FailedAt, FailCount, FailReason, NextRunAt,
	// Progress.
	SaveJobState(ctx context.Context, job *Job, audit AuditInfo) error

	// LockJob atomically conditional-updates {id, lockedAt:null,
	// nextRunAt:=expected, disabled != true} to lockedAt = now. ok is false
	// when no record matched (lock contention or the job moved).
	LockJob(ctx context.Context, job *Job, audit AuditInfo) (locked *Job, ok bool, err error)

	// UnlockJob clears lockedAt on a single record.
	UnlockJob(ctx context.Context, id string) error
	// UnlockJobs clears lockedAt on every matched record — used by Stop.
	UnlockJobs(ctx context.Context, ids []string) error

	// GetNextJobToRun atomically selects and locks at most one record for
	// name matching spec §4.5's filter, ordered by the configured sort
	// (default nextRunAt asc, priority desc). ok is false when nothing was due.
	GetNextJobToRun(ctx context.Context, name string, nextScanAt, lockDeadline, now time.Time, audit AuditInfo) (job *Job, ok bool, err error)

	GetJobByID(ctx context.Context, id string) (*Job, error)

	QueryJobs(ctx context.Context, opts QueryOptions) (QueryResult, error)

	RemoveJobs(ctx context.Context, opts RemoveOptions) (int, error)

	GetDistinctJobNames(ctx context.Context) ([]string, error)

	GetJobsOverview(ctx context.Context) ([]NameOverview, error)

	// GetQueueSize counts records with nextRunAt <= now.
	GetQueueSize(ctx context.Context, now time.Time) (int, error)
}

// AttemptRecorder is an optional Repository capability (supplemental to
// spec.md, grounded on the teacher's AttemptRepository) that logs one row per
// execution attempt. Drivers that don't implement it simply skip history.
type AttemptRecorder interface {
	RecordAttemptStart(ctx context.Context, jobID, workerID string, startedAt time.Time) (attemptID string, err error)
	RecordAttemptEnd(ctx context.Context, attemptID string, err error, finishedAt time.Time) error
}
