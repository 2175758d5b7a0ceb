// Package postgres is the production Repository driver (spec §6.1), built on
// pgx/v5 and pgxpool. SaveJob's insert/update/singleton-upsert/unique-upsert/
// debounce-merge branching (spec §4.4) and GetNextJobToRun/LockJob's atomic
// selection (spec §4.5/§4.7) are pushed into SQL — ON CONFLICT and
// FOR UPDATE SKIP LOCKED give the correctness the in-memory driver gets from
// a mutex, grounded on the teacher's job_repo.go Claim/RescheduleStale queries.
package postgres

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dnovik/scheduler/internal/domain"
)

// Repository is a pgx-backed scheduler.Repository implementation.
type Repository struct {
	pool *pgxpool.Pool
	dsn  string
}

// New constructs a Repository; Connect must be called before use.
func New(databaseURL string) *Repository {
	return &Repository{dsn: databaseURL}
}

// Connect establishes the connection pool.
func (r *Repository) Connect(ctx context.Context) error {
	pool, err := NewPool(ctx, r.dsn)
	if err != nil {
		return err
	}
	r.pool = pool
	return nil
}

// Ping satisfies health.Pinger.
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

const jobColumns = `id, name, type, data, priority, next_run_at, locked_at,
	last_run_at, last_finished_at, failed_at, fail_count, fail_reason,
	repeat_interval, repeat_timezone, repeat_at, start_date_at, end_date_at,
	skip_days, disabled, unique_key, unique_insert_only, debounce_strategy,
	debounce_delay_ms, debounce_max_wait_ms, debounce_started_at, progress,
	last_modified_by`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanJob avoids repeating the Scan column list across queries.
func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		j                 domain.Job
		dataRaw           []byte
		skipDaysRaw       []byte
		uniqueKeyRaw      []byte
		insertOnly        bool
		debounceStrategy  string
		debounceDelayMS   int64
		debounceMaxWaitMS int64
	)
	err := row.Scan(
		&j.ID, &j.Name, &j.Type, &dataRaw, &j.Priority, &j.NextRunAt, &j.LockedAt,
		&j.LastRunAt, &j.LastFinishedAt, &j.FailedAt, &j.FailCount, &j.FailReason,
		&j.RepeatInterval, &j.RepeatTimezone, &j.RepeatAt, &j.StartDateAt, &j.EndDateAt,
		&skipDaysRaw, &j.Disabled, &uniqueKeyRaw, &insertOnly, &debounceStrategy,
		&debounceDelayMS, &debounceMaxWaitMS, &j.DebounceStartedAt, &j.Progress,
		&j.LastModifiedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrJobNotFound
		}
		return nil, fmt.Errorf("scan job: %w", err)
	}
	if len(dataRaw) > 0 {
		_ = json.Unmarshal(dataRaw, &j.Data)
	}
	if len(skipDaysRaw) > 0 {
		var days []int
		if err := json.Unmarshal(skipDaysRaw, &days); err == nil {
			j.SkipDays = make(map[time.Weekday]bool, len(days))
			for _, d := range days {
				j.SkipDays[time.Weekday(d)] = true
			}
		}
	}
	if len(uniqueKeyRaw) > 0 {
		_ = json.Unmarshal(uniqueKeyRaw, &j.Unique)
		j.UniqueOpts = &domain.UniqueOptions{InsertOnly: insertOnly}
		if debounceStrategy != "" {
			j.UniqueOpts.Debounce = &domain.DebounceOptions{
				Strategy: domain.DebounceStrategy(debounceStrategy),
				Delay:    time.Duration(debounceDelayMS) * time.Millisecond,
				MaxWait:  time.Duration(debounceMaxWaitMS) * time.Millisecond,
			}
		}
	}
	return &j, nil
}

func skipDaysJSON(j *domain.Job) []byte {
	if len(j.SkipDays) == 0 {
		return nil
	}
	days := make([]int, 0, len(j.SkipDays))
	for d, on := range j.SkipDays {
		if on {
			days = append(days, int(d))
		}
	}
	b, _ := json.Marshal(days)
	return b
}

func uniqueKeyHash(name string, key map[string]any) *string {
	if key == nil {
		return nil
	}
	b, _ := json.Marshal(key)
	sum := sha256.Sum256(append([]byte(name+"\x00"), b...))
	h := hex.EncodeToString(sum[:])
	return &h
}

func jsonOrNil(v any) []byte {
	if v == nil {
		return nil
	}
	b, _ := json.Marshal(v)
	return b
}

// SaveJob implements spec §4.4's branching. ID-present updates use a plain
// UPDATE; type=single and unique-keyed saves use INSERT ... ON CONFLICT,
// relying on the partial unique indexes in migrations/0001_jobs.sql.
func (r *Repository) SaveJob(ctx context.Context, job *domain.Job, audit domain.AuditInfo) (*domain.Job, error) {
	if job.ID != "" && !job.Forked {
		return r.updateByID(ctx, job, audit)
	}

	var (
		debounceStrategy  string
		debounceDelayMS   int64
		debounceMaxWaitMS int64
		insertOnly        bool
	)
	if job.UniqueOpts != nil {
		insertOnly = job.UniqueOpts.InsertOnly
		if job.UniqueOpts.Debounce != nil {
			debounceStrategy = string(job.UniqueOpts.Debounce.Strategy)
			debounceDelayMS = job.UniqueOpts.Debounce.Delay.Milliseconds()
			debounceMaxWaitMS = job.UniqueOpts.Debounce.MaxWait.Milliseconds()
		}
	}

	nextRunAt := job.NextRunAt
	var debounceStartedAt *time.Time
	if !job.Forked && job.Type != domain.TypeSingle && job.Unique != nil && debounceStrategy != "" {
		now := time.Now()
		next := now.Add(job.UniqueOpts.Debounce.Delay)
		nextRunAt, debounceStartedAt = &next, &now
	}

	args := []any{
		job.Name, job.Type, jsonOrNil(job.Data), job.Priority, nextRunAt,
		job.RepeatInterval, job.RepeatTimezone, job.RepeatAt, job.StartDateAt, job.EndDateAt,
		skipDaysJSON(job), job.Disabled, jsonOrNil(job.Unique), uniqueKeyHash(job.Name, job.Unique),
		insertOnly, debounceStrategy, debounceDelayMS, debounceMaxWaitMS, audit.LastModifiedBy,
		debounceStartedAt,
	}

	var conflictClause string
	switch {
	case job.Forked:
		conflictClause = ""
	case job.Type == domain.TypeSingle:
		conflictClause = `
			ON CONFLICT (name) WHERE type = 'single' DO UPDATE SET
				data = EXCLUDED.data,
				priority = EXCLUDED.priority,
				next_run_at = CASE
					WHEN jobs.next_run_at IS NOT NULL AND jobs.next_run_at <= NOW() THEN jobs.next_run_at
					ELSE EXCLUDED.next_run_at
				END,
				repeat_interval = EXCLUDED.repeat_interval,
				repeat_timezone = EXCLUDED.repeat_timezone,
				repeat_at = EXCLUDED.repeat_at,
				start_date_at = EXCLUDED.start_date_at,
				end_date_at = EXCLUDED.end_date_at,
				skip_days = EXCLUDED.skip_days,
				disabled = EXCLUDED.disabled,
				last_modified_by = EXCLUDED.last_modified_by`
	case job.Unique != nil:
		conflictClause = `
			ON CONFLICT (name, unique_key_hash) WHERE unique_key_hash IS NOT NULL DO UPDATE SET
				next_run_at = CASE
					WHEN jobs.unique_insert_only THEN jobs.next_run_at
					WHEN EXCLUDED.debounce_strategy = 'leading' THEN jobs.next_run_at
					WHEN EXCLUDED.debounce_max_wait_ms > 0
						AND jobs.debounce_started_at IS NOT NULL
						AND NOW() - jobs.debounce_started_at >= make_interval(secs => EXCLUDED.debounce_max_wait_ms / 1000.0)
						THEN jobs.next_run_at
					WHEN EXCLUDED.debounce_strategy = 'trailing'
						THEN NOW() + make_interval(secs => EXCLUDED.debounce_delay_ms / 1000.0)
					ELSE EXCLUDED.next_run_at
				END,
				data = CASE WHEN jobs.unique_insert_only THEN jobs.data ELSE EXCLUDED.data END,
				debounce_started_at = COALESCE(jobs.debounce_started_at, NOW()),
				last_modified_by = CASE WHEN jobs.unique_insert_only THEN jobs.last_modified_by ELSE EXCLUDED.last_modified_by END`
	}

	query := fmt.Sprintf(`
		INSERT INTO jobs (
			name, type, data, priority, next_run_at,
			repeat_interval, repeat_timezone, repeat_at, start_date_at, end_date_at,
			skip_days, disabled, unique_key, unique_key_hash,
			unique_insert_only, debounce_strategy, debounce_delay_ms, debounce_max_wait_ms,
			last_modified_by, debounce_started_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		%s
		RETURNING %s`, conflictClause, jobColumns)

	row := r.pool.QueryRow(ctx, query, args...)
	saved, err := scanJob(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("save job: conflicting unique key: %w", err)
		}
		return nil, fmt.Errorf("save job: %w", err)
	}
	return saved, nil
}

func (r *Repository) updateByID(ctx context.Context, job *domain.Job, audit domain.AuditInfo) (*domain.Job, error) {
	query := fmt.Sprintf(`
		UPDATE jobs SET
			data = $2, priority = $3, next_run_at = $4,
			repeat_interval = $5, repeat_timezone = $6, repeat_at = $7,
			start_date_at = $8, end_date_at = $9, skip_days = $10, disabled = $11,
			last_modified_by = $12
		WHERE id = $1
		RETURNING %s`, jobColumns)

	row := r.pool.QueryRow(ctx, query,
		job.ID, jsonOrNil(job.Data), job.Priority, job.NextRunAt,
		job.RepeatInterval, job.RepeatTimezone, job.RepeatAt,
		job.StartDateAt, job.EndDateAt, skipDaysJSON(job), job.Disabled,
		audit.LastModifiedBy,
	)
	return scanJob(row)
}

// SaveJobState updates only the mutable run-state fields.
func (r *Repository) SaveJobState(ctx context.Context, job *domain.Job, audit domain.AuditInfo) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET
			locked_at = $2, last_run_at = $3, last_finished_at = $4,
			failed_at = $5, fail_count = $6, fail_reason = $7,
			next_run_at = $8, progress = $9, last_modified_by = $10
		WHERE id = $1`,
		job.ID, job.LockedAt, job.LastRunAt, job.LastFinishedAt,
		job.FailedAt, job.FailCount, job.FailReason,
		job.NextRunAt, job.Progress, audit.LastModifiedBy,
	)
	if err != nil {
		return fmt.Errorf("save job state: %w", err)
	}
	return nil
}

// LockJob atomically conditional-updates {id, lockedAt:null, nextRunAt:=expected,
// disabled != true} to lockedAt = now (spec §4.7).
func (r *Repository) LockJob(ctx context.Context, job *domain.Job, audit domain.AuditInfo) (*domain.Job, bool, error) {
	query := fmt.Sprintf(`
		UPDATE jobs SET locked_at = NOW(), last_modified_by = $3
		WHERE id = $1 AND locked_at IS NULL AND disabled = FALSE
		  AND next_run_at IS NOT DISTINCT FROM $2::timestamptz
		RETURNING %s`, jobColumns)

	row := r.pool.QueryRow(ctx, query, job.ID, job.NextRunAt, audit.LastModifiedBy)
	locked, err := scanJob(row)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return locked, true, nil
}

// UnlockJob clears lockedAt on a single record.
func (r *Repository) UnlockJob(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET locked_at = NULL WHERE id = $1`, id)
	return err
}

// UnlockJobs clears lockedAt on every matched record.
func (r *Repository) UnlockJobs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := r.pool.Exec(ctx, `UPDATE jobs SET locked_at = NULL WHERE id = ANY($1)`, ids)
	return err
}

// GetNextJobToRun atomically selects and locks at most one due record for
// name using FOR UPDATE SKIP LOCKED, grounded on the teacher's Claim query.
func (r *Repository) GetNextJobToRun(ctx context.Context, name string, nextScanAt, lockDeadline, now time.Time, audit domain.AuditInfo) (*domain.Job, bool, error) {
	query := fmt.Sprintf(`
		UPDATE jobs
		SET locked_at = $4, last_modified_by = $5
		WHERE id = (
			SELECT id FROM jobs
			WHERE name = $1 AND disabled = FALSE
			  AND (
				(locked_at IS NULL AND next_run_at IS NOT NULL AND next_run_at <= $2)
				OR (locked_at IS NOT NULL AND locked_at <= $3)
			  )
			ORDER BY next_run_at ASC NULLS LAST, priority DESC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING %s`, jobColumns)

	row := r.pool.QueryRow(ctx, query, name, nextScanAt, lockDeadline, now, audit.LastModifiedBy)
	job, err := scanJob(row)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get next job to run: %w", err)
	}
	return job, true, nil
}

// GetJobByID returns the record with id.
func (r *Repository) GetJobByID(ctx context.Context, id string) (*domain.Job, error) {
	query := fmt.Sprintf(`SELECT %s FROM jobs WHERE id = $1`, jobColumns)
	return scanJob(r.pool.QueryRow(ctx, query, id))
}

// QueryJobs filters by name, id, search, data and disabled, then sorts and
// paginates. opts.State is not applied: records of every derived state match.
func (r *Repository) QueryJobs(ctx context.Context, opts domain.QueryOptions) (domain.QueryResult, error) {
	var where []string
	var args []any

	if opts.Name != "" {
		args = append(args, opts.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	if len(opts.Names) > 0 {
		args = append(args, opts.Names)
		where = append(where, fmt.Sprintf("name = ANY($%d)", len(args)))
	}
	if opts.ID != "" {
		args = append(args, opts.ID)
		where = append(where, fmt.Sprintf("id = $%d", len(args)))
	}
	if len(opts.IDs) > 0 {
		args = append(args, opts.IDs)
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if opts.Search != "" {
		args = append(args, "%"+opts.Search+"%")
		where = append(where, fmt.Sprintf("name ILIKE $%d", len(args)))
	}
	if len(opts.Data) > 0 {
		args = append(args, jsonOrNil(opts.Data))
		where = append(where, fmt.Sprintf("data @> $%d::jsonb", len(args)))
	}
	if !opts.IncludeDisabled {
		where = append(where, "disabled = FALSE")
	}
	if len(where) == 0 {
		where = append(where, "TRUE")
	}

	order := "next_run_at ASC NULLS LAST"
	if len(opts.Sort) > 0 {
		var clauses []string
		for _, s := range opts.Sort {
			col := sortColumn(s.Field)
			if s.Desc {
				clauses = append(clauses, col+" DESC NULLS LAST")
			} else {
				clauses = append(clauses, col+" ASC NULLS LAST")
			}
		}
		order = strings.Join(clauses, ", ")
	}

	countQuery := fmt.Sprintf(`SELECT count(*) FROM jobs WHERE %s`, strings.Join(where, " AND "))
	var total int
	if err := r.pool.QueryRow(ctx, countQuery, args...).Scan(&total); err != nil {
		return domain.QueryResult{}, fmt.Errorf("count jobs: %w", err)
	}

	limitArgs := append(append([]any{}, args...), opts.Limit, opts.Skip)
	limitIdx, offsetIdx := len(limitArgs)-1, len(limitArgs)
	query := fmt.Sprintf(`
		SELECT %s FROM jobs WHERE %s ORDER BY %s
		LIMIT NULLIF($%d, 0) OFFSET $%d`, jobColumns, strings.Join(where, " AND "), order, limitIdx, offsetIdx)

	rows, err := r.pool.Query(ctx, query, limitArgs...)
	if err != nil {
		return domain.QueryResult{}, fmt.Errorf("query jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return domain.QueryResult{}, err
		}
		jobs = append(jobs, j)
	}
	return domain.QueryResult{Jobs: jobs, Total: total}, rows.Err()
}

func sortColumn(field string) string {
	switch field {
	case "priority":
		return "priority"
	case "name":
		return "name"
	default:
		return "next_run_at"
	}
}

// RemoveJobs deletes matched records and reports how many were removed.
func (r *Repository) RemoveJobs(ctx context.Context, opts domain.RemoveOptions) (int, error) {
	var where []string
	var args []any

	if opts.ID != "" {
		args = append(args, opts.ID)
		where = append(where, fmt.Sprintf("id = $%d", len(args)))
	}
	if len(opts.IDs) > 0 {
		args = append(args, opts.IDs)
		where = append(where, fmt.Sprintf("id = ANY($%d)", len(args)))
	}
	if opts.Name != "" {
		args = append(args, opts.Name)
		where = append(where, fmt.Sprintf("name = $%d", len(args)))
	}
	if len(opts.Names) > 0 {
		args = append(args, opts.Names)
		where = append(where, fmt.Sprintf("name = ANY($%d)", len(args)))
	}
	if len(opts.NotNames) > 0 {
		args = append(args, opts.NotNames)
		where = append(where, fmt.Sprintf("NOT (name = ANY($%d))", len(args)))
	}
	if len(opts.Data) > 0 {
		args = append(args, jsonOrNil(opts.Data))
		where = append(where, fmt.Sprintf("data @> $%d::jsonb", len(args)))
	}
	if len(where) == 0 {
		return 0, fmt.Errorf("remove jobs: refusing an unfiltered delete")
	}

	query := fmt.Sprintf(`DELETE FROM jobs WHERE %s`, strings.Join(where, " AND "))
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("remove jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// GetDistinctJobNames returns every distinct job name currently persisted.
func (r *Repository) GetDistinctJobNames(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT name FROM jobs ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("get distinct job names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// GetJobsOverview aggregates counts per name per derived state.
func (r *Repository) GetJobsOverview(ctx context.Context) ([]domain.NameOverview, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT
			name,
			count(*) AS total,
			count(*) FILTER (WHERE locked_at IS NOT NULL) AS running,
			count(*) FILTER (WHERE locked_at IS NULL AND NOT (failed_at IS NOT NULL AND (last_finished_at IS NULL OR failed_at > last_finished_at)) AND repeat_interval = '' AND next_run_at IS NOT NULL AND next_run_at > NOW()) AS scheduled,
			count(*) FILTER (WHERE locked_at IS NULL AND NOT (failed_at IS NOT NULL AND (last_finished_at IS NULL OR failed_at > last_finished_at)) AND repeat_interval = '' AND next_run_at IS NOT NULL AND next_run_at <= NOW()) AS queued,
			count(*) FILTER (WHERE locked_at IS NULL AND NOT (failed_at IS NOT NULL AND (last_finished_at IS NULL OR failed_at > last_finished_at)) AND repeat_interval = '' AND next_run_at IS NULL) AS completed,
			count(*) FILTER (WHERE locked_at IS NULL AND failed_at IS NOT NULL AND (last_finished_at IS NULL OR failed_at > last_finished_at)) AS failed,
			count(*) FILTER (WHERE locked_at IS NULL AND NOT (failed_at IS NOT NULL AND (last_finished_at IS NULL OR failed_at > last_finished_at)) AND repeat_interval <> '') AS repeating
		FROM jobs
		GROUP BY name
		ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("get jobs overview: %w", err)
	}
	defer rows.Close()

	var out []domain.NameOverview
	for rows.Next() {
		var o domain.NameOverview
		if err := rows.Scan(&o.Name, &o.Total, &o.Running, &o.Scheduled, &o.Queued, &o.Completed, &o.Failed, &o.Repeating); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

// GetQueueSize counts records with nextRunAt <= now.
func (r *Repository) GetQueueSize(ctx context.Context, now time.Time) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `
		SELECT count(*) FROM jobs
		WHERE next_run_at IS NOT NULL AND next_run_at <= $1`, now).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("get queue size: %w", err)
	}
	return n, nil
}

// RecordAttemptStart implements the optional AttemptRecorder capability.
func (r *Repository) RecordAttemptStart(ctx context.Context, jobID, workerID string, startedAt time.Time) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO job_attempts (job_id, worker_id, started_at)
		VALUES ($1, $2, $3) RETURNING id`, jobID, workerID, startedAt).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("record attempt start: %w", err)
	}
	return id, nil
}

// RecordAttemptEnd implements the optional AttemptRecorder capability.
func (r *Repository) RecordAttemptEnd(ctx context.Context, attemptID string, runErr error, finishedAt time.Time) error {
	var errMsg *string
	if runErr != nil {
		s := runErr.Error()
		errMsg = &s
	}
	_, err := r.pool.Exec(ctx, `
		UPDATE job_attempts SET finished_at = $2, error = $3 WHERE id = $1`,
		attemptID, finishedAt, errMsg)
	if err != nil {
		return fmt.Errorf("record attempt end: %w", err)
	}
	return nil
}
