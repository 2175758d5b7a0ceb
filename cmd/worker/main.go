// Command worker runs the scheduler facade against the postgres Repository
// driver: it defines a small set of example job handlers, starts polling,
// and exposes /metrics alongside liveness/readiness endpoints.
package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	schedulerpkg "github.com/dnovik/scheduler"
	"github.com/dnovik/scheduler/config"
	"github.com/dnovik/scheduler/drivers/localchannel"
	"github.com/dnovik/scheduler/drivers/postgres"
	"github.com/dnovik/scheduler/internal/health"
	ctxlog "github.com/dnovik/scheduler/internal/log"
	"github.com/dnovik/scheduler/internal/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	repo := postgres.New(cfg.DatabaseURL)
	channel := localchannel.New()

	metrics.Register()
	checker := health.NewChecker(repo, channelChecker{channel}, logger, prometheus.DefaultRegisterer)

	sched := schedulerpkg.New(repo, channel, schedulerpkg.Config{
		ProcessEvery:        cfg.ProcessEvery(),
		MaxConcurrency:      cfg.GlobalMaxConcurrency,
		GlobalLockLimit:     cfg.GlobalLockLimit,
		DefaultLockLifetime: cfg.DefaultLockLifetime(),
		Logger:              logger,
	})

	if err := defineJobs(sched); err != nil {
		stop()
		log.Fatalf("define jobs: %v", err)
	}

	sched.OnEvent(func(e schedulerpkg.Event) {
		if e.Job == nil {
			return
		}
		logger.Info("job event", "type", e.Type, "job_name", e.Job.Name, "job_id", e.Job.ID)
	})

	if err := sched.Start(ctx); err != nil {
		stop()
		log.Fatalf("start scheduler: %v", err)
	}
	logger.Info("scheduler started")

	metricsSrv := metrics.NewServer(":" + cfg.MetricsPort)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/livez", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Liveness(r.Context()))
	})
	healthMux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, checker.Readiness(r.Context()))
	})
	healthSrv := &http.Server{Addr: ":" + cfg.AdminAPIPort, Handler: healthMux}

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()
	go func() {
		logger.Info("health server started", "port", cfg.AdminAPIPort)
		if err := healthSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := sched.Stop(shutdownCtx, true); err != nil {
		logger.Error("scheduler shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("health server shutdown", "error", err)
	}

	logger.Info("worker shut down")
}

// defineJobs registers the example handlers this binary knows how to run.
// A real deployment would split these across packages per domain.
func defineJobs(sched *schedulerpkg.Scheduler) error {
	if err := sched.Define("send-welcome-email", func(job *schedulerpkg.Job) error {
		return nil
	}, schedulerpkg.WithConcurrency(10), schedulerpkg.WithLockLifetime(2*time.Minute),
		schedulerpkg.WithBackoffStrategy(schedulerpkg.StandardBackoff)); err != nil {
		return err
	}

	if err := sched.Define("nightly-report", func(job *schedulerpkg.Job) error {
		return nil
	}, schedulerpkg.WithConcurrency(1), schedulerpkg.WithLockLifetime(30*time.Minute)); err != nil {
		return err
	}

	return nil
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}

type channelChecker struct {
	ch *localchannel.Channel
}

func (c channelChecker) State() string {
	return string(c.ch.State())
}

func writeHealth(w http.ResponseWriter, result health.HealthResult) {
	w.Header().Set("Content-Type", "application/json")
	if result.Status != "up" {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	_, _ = w.Write([]byte(`{"status":"` + result.Status + `"}`))
}
