package scheduler

import "github.com/dnovik/scheduler/internal/domain"

// BackoffStop is returned by a Backoff to signal that no further retry should
// be scheduled — the caller should emit "retry exhausted" instead.
const BackoffStop = domain.BackoffStop

// BackoffInput is the context a Backoff strategy decides on (spec §4.3).
type BackoffInput = domain.BackoffInput

// Backoff computes the retry delay for a given attempt. Returning BackoffStop
// tells the caller to give up retrying.
type Backoff = domain.Backoff

// Backoff constructors and presets (spec §4.3), re-exported from internal/domain
// so Job.Fail and the Processor can share one implementation without this
// package importing them or vice versa.
var (
	ConstantBackoff    = domain.ConstantBackoff
	LinearBackoff      = domain.LinearBackoff
	ExponentialBackoff = domain.ExponentialBackoff
	CombineBackoff     = domain.CombineBackoff
	PredicateBackoff   = domain.PredicateBackoff

	AggressiveBackoff = domain.AggressiveBackoff
	StandardBackoff   = domain.StandardBackoff
	RelaxedBackoff    = domain.RelaxedBackoff
)
