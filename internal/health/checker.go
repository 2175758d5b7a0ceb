package health

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Pinger is satisfied by the Repository driver (e.g. *postgres.Repository,
// whose Ping pings its pgx pool).
type Pinger interface {
	Ping(ctx context.Context) error
}

// ChannelChecker reports whether a NotificationChannel is currently usable.
type ChannelChecker interface {
	State() string // "connected", "disconnected", "" when unconfigured
}

// CheckResult represents the health of a single dependency.
type CheckResult struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// HealthResult is the top-level health response.
type HealthResult struct {
	Status string                 `json:"status"`
	Checks map[string]CheckResult `json:"checks,omitempty"`
}

// Checker verifies that the Repository and, if configured, the
// NotificationChannel are reachable.
type Checker struct {
	repo    Pinger
	channel ChannelChecker
	logger  *slog.Logger
	gauge   *prometheus.GaugeVec
}

// NewChecker creates a health checker and registers its Prometheus gauge.
// channel may be nil when no NotificationChannel is configured.
func NewChecker(repo Pinger, channel ChannelChecker, logger *slog.Logger, reg prometheus.Registerer) *Checker {
	gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scheduler",
		Name:      "health_check_up",
		Help:      "Whether a dependency is reachable. 1 = up, 0 = down.",
	}, []string{"dependency"})
	reg.MustRegister(gauge)

	return &Checker{
		repo:    repo,
		channel: channel,
		logger:  logger.With("component", "health"),
		gauge:   gauge,
	}
}

// Liveness returns a simple "up" response if the process is running.
func (c *Checker) Liveness(_ context.Context) HealthResult {
	return HealthResult{Status: "up"}
}

// Readiness pings the repository and, if configured, reports the
// notification channel's connection state.
func (c *Checker) Readiness(ctx context.Context) HealthResult {
	checkCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	result := HealthResult{
		Status: "up",
		Checks: make(map[string]CheckResult),
	}

	if err := c.repo.Ping(checkCtx); err != nil {
		c.logger.Warn("repository health check failed", "error", err)
		result.Status = "down"
		result.Checks["repository"] = CheckResult{Status: "down", Error: err.Error()}
		c.gauge.WithLabelValues("repository").Set(0)
	} else {
		result.Checks["repository"] = CheckResult{Status: "up"}
		c.gauge.WithLabelValues("repository").Set(1)
	}

	if c.channel != nil {
		state := c.channel.State()
		if state == "connected" {
			result.Checks["notification_channel"] = CheckResult{Status: "up"}
			c.gauge.WithLabelValues("notification_channel").Set(1)
		} else {
			result.Status = "down"
			result.Checks["notification_channel"] = CheckResult{Status: "down", Error: state}
			c.gauge.WithLabelValues("notification_channel").Set(0)
		}
	}

	return result
}
