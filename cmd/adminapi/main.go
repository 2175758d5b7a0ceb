// Command adminapi exposes read/remove operations over the Repository via
// an HTTP API, for operators inspecting or clearing job state out of band
// from the worker's polling loop (spec §6.1).
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

	schedulerpkg "github.com/dnovik/scheduler"
	"github.com/dnovik/scheduler/config"
	"github.com/dnovik/scheduler/drivers/postgres"
	"github.com/dnovik/scheduler/internal/adminapi"
	ctxlog "github.com/dnovik/scheduler/internal/log"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	repo := postgres.New(cfg.DatabaseURL)
	if err := repo.Connect(ctx); err != nil {
		stop()
		log.Fatalf("connect repository: %v", err)
	}

	// No NotificationChannel and no Define calls: this process only ever
	// reads and removes records, it never picks a job up to run.
	sched := schedulerpkg.New(repo, nil, schedulerpkg.Config{Logger: logger})
	jobHandler := adminapi.NewJobHandler(sched, logger)

	srv := &http.Server{
		Addr:    ":" + cfg.AdminAPIPort,
		Handler: adminapi.NewRouter(logger, jobHandler),
	}

	go func() {
		logger.Info("admin api started", "port", cfg.AdminAPIPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin api", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("admin api shutdown", "error", err)
	}
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
