package adminapi

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	scheduler "github.com/dnovik/scheduler"
)

const (
	errInternalServer = "internal server error"
	errJobNotFound    = "job not found"
)

// JobHandler exposes read/remove operations over the Scheduler facade's
// Repository-backed queries (spec §6.1 QueryJobs/GetJobsOverview).
type JobHandler struct {
	sched  *scheduler.Scheduler
	logger *slog.Logger
}

// NewJobHandler constructs a JobHandler bound to sched.
func NewJobHandler(sched *scheduler.Scheduler, logger *slog.Logger) *JobHandler {
	return &JobHandler{sched: sched, logger: logger.With("component", "job_handler")}
}

type jobResponse struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Priority       int        `json:"priority"`
	NextRunAt      *time.Time `json:"next_run_at,omitempty"`
	LastRunAt      *time.Time `json:"last_run_at,omitempty"`
	LastFinishedAt *time.Time `json:"last_finished_at,omitempty"`
	FailCount      int        `json:"fail_count"`
	FailReason     string     `json:"fail_reason,omitempty"`
	RepeatInterval string     `json:"repeat_interval,omitempty"`
	Disabled       bool       `json:"disabled"`
	Progress       int        `json:"progress"`
}

func toJobResponse(j *scheduler.Job) jobResponse {
	return jobResponse{
		ID:             j.ID,
		Name:           j.Name,
		Priority:       j.Priority,
		NextRunAt:      j.NextRunAt,
		LastRunAt:      j.LastRunAt,
		LastFinishedAt: j.LastFinishedAt,
		FailCount:      j.FailCount,
		FailReason:     j.FailReason,
		RepeatInterval: j.RepeatInterval,
		Disabled:       j.Disabled,
		Progress:       j.Progress,
	}
}

type listJobsResponse struct {
	Jobs  []jobResponse `json:"jobs"`
	Total int           `json:"total"`
}

// List returns jobs matching the fixed QueryOptions filter set (spec §6.1).
func (h *JobHandler) List(ctx *gin.Context) {
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	skip, _ := strconv.Atoi(ctx.Query("skip"))

	result, err := h.sched.QueryJobs(ctx.Request.Context(), scheduler.QueryOptions{
		Name:            ctx.Query("name"),
		Search:          ctx.Query("search"),
		IncludeDisabled: ctx.Query("include_disabled") == "true",
		Limit:           limit,
		Skip:            skip,
	})
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "list jobs", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}

	items := make([]jobResponse, len(result.Jobs))
	for i, j := range result.Jobs {
		items[i] = toJobResponse(j)
	}
	ctx.JSON(http.StatusOK, listJobsResponse{Jobs: items, Total: result.Total})
}

// GetByID returns a single job record by id.
func (h *JobHandler) GetByID(ctx *gin.Context) {
	jobID := ctx.Param("id")

	result, err := h.sched.QueryJobs(ctx.Request.Context(), scheduler.QueryOptions{ID: jobID, IncludeDisabled: true})
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "get job by id", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	if len(result.Jobs) == 0 {
		ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		return
	}

	ctx.JSON(http.StatusOK, toJobResponse(result.Jobs[0]))
}

// Remove deletes the job with id.
func (h *JobHandler) Remove(ctx *gin.Context) {
	jobID := ctx.Param("id")

	n, err := h.sched.RemoveJobs(ctx.Request.Context(), scheduler.RemoveOptions{ID: jobID})
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "remove job", "job_id", jobID, "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	if n == 0 {
		ctx.JSON(http.StatusNotFound, gin.H{"error": errJobNotFound})
		return
	}

	ctx.Status(http.StatusNoContent)
}

// Overview returns per-name counts by derived state (spec §6.1 getJobsOverview).
func (h *JobHandler) Overview(ctx *gin.Context) {
	overview, err := h.sched.GetJobsOverview(ctx.Request.Context())
	if err != nil {
		h.logger.ErrorContext(ctx.Request.Context(), "jobs overview", "error", err)
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": errInternalServer})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"names": overview})
}
