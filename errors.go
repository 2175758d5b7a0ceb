package scheduler

import "github.com/dnovik/scheduler/internal/domain"

// Re-exported so callers of this package don't need to import internal/domain.
var (
	ErrJobNotFound       = domain.ErrJobNotFound
	ErrNoDefinition      = domain.ErrNoDefinition
	ErrInvalidRecurrence = domain.ErrInvalidRecurrence
	ErrNotLocked         = domain.ErrNotLocked
	ErrSchedulerRunning  = domain.ErrSchedulerRunning
	ErrSchedulerStopped  = domain.ErrSchedulerStopped
	ErrInvalidWhen       = domain.ErrInvalidWhen
)
