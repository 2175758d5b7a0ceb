// seed inserts a handful of example jobs into the local dev database, for
// exercising the worker and admin API without wiring up a real caller.
// Run: go run ./cmd/seed
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	schedulerpkg "github.com/dnovik/scheduler"
	"github.com/dnovik/scheduler/drivers/postgres"
)

func main() {
	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL is not set")
	}

	repo := postgres.New(dbURL)
	if err := repo.Connect(ctx); err != nil {
		log.Fatalf("db connect: %v", err)
	}

	sched := schedulerpkg.New(repo, nil, schedulerpkg.Config{})

	var created []string

	// Happy path — due immediately.
	for i := 1; i <= 3; i++ {
		job, err := sched.Now(ctx, "send-welcome-email", map[string]any{
			"user_email": fmt.Sprintf("seed-%d@example.test", i),
		})
		if err != nil {
			log.Fatalf("create now() job: %v", err)
		}
		created = append(created, job.ID)
	}

	// Recurring singleton, scheduled for a minute from now on every re-run.
	if _, err := sched.Every(ctx, "1 minute", []string{"nightly-report"}, nil); err != nil {
		log.Fatalf("create every() job: %v", err)
	}

	// Scheduled for the near future via an explicit date.
	future := time.Now().Add(2 * time.Minute)
	if _, err := sched.Schedule(ctx, future, "send-welcome-email", map[string]any{
		"user_email": "scheduled@example.test",
	}); err != nil {
		log.Fatalf("create schedule() job: %v", err)
	}

	// Debounced burst — only the last of these should survive past the delay.
	for i := 0; i < 3; i++ {
		if _, err := sched.NowDebounced(ctx, "send-welcome-email",
			map[string]any{"user_email": "debounced@example.test"},
			map[string]any{"user_email": "debounced@example.test"},
			5*time.Second,
		); err != nil {
			log.Fatalf("create debounced job: %v", err)
		}
	}

	fmt.Println("Seed complete")
	fmt.Printf("  now() jobs created: %d\n", len(created))
	for _, id := range created {
		fmt.Printf("    %s\n", id)
	}
	fmt.Println("  every() singleton: nightly-report")
	fmt.Printf("  schedule() job due at: %s\n", future.Format(time.RFC3339))
	fmt.Println("  debounced burst sent for send-welcome-email (3 saves, 1 should survive)")
}
