package adminapi

import (
	"log/slog"

	"github.com/gin-gonic/gin"
	sloggin "github.com/samber/slog-gin"
)

// NewRouter wires the admin API's middleware chain and job routes. There is
// no auth layer here: the admin API is meant to sit behind an operator-only
// network boundary, not be exposed publicly (spec §6.1 is read/remove only).
func NewRouter(logger *slog.Logger, jobHandler *JobHandler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RunID())
	r.Use(sloggin.New(logger))
	r.Use(Metrics())

	jobs := r.Group("/jobs")
	jobs.GET("", jobHandler.List)
	jobs.GET("/:id", jobHandler.GetByID)
	jobs.DELETE("/:id", jobHandler.Remove)

	r.GET("/overview", jobHandler.Overview)

	return r
}
