package workflow

import (
	"math/rand"
	"time"
)

// StepPolicy describes the execution behavior for a single named step: its
// timeout and retry override. Only Timeout is read, by stepTimeout; the
// engine's driver loop passes a nil StepPolicy, so Options.DefaultStepTimeout
// and Options.RetryPolicy apply to every step.
type StepPolicy struct {
	// Timeout is the maximum execution time allowed for this step. If zero,
	// Options.DefaultStepTimeout is used.
	Timeout time.Duration

	// RetryPolicy is a per-step retry policy. The engine does not read it;
	// retries always follow Options.RetryPolicy.
	RetryPolicy *RetryPolicy
}

// RetryPolicy controls how the engine retries a step after a RETRY outcome.
// Delay grows exponentially from InitialDelay by BackoffMultiplier, capped at
// MaxDelay, with optional jitter to avoid synchronized retries across
// workflows sharing a signer.
//
// Defaults (applied by DefaultRetryPolicy): MaxAttempts=5, InitialDelay=1s,
// MaxDelay=60s, BackoffMultiplier=2.0, Jitter=true.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts for a single step
	// (including the first). Must be >= 1.
	MaxAttempts int

	// InitialDelay is the delay before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the computed backoff delay.
	MaxDelay time.Duration

	// BackoffMultiplier is the exponential growth factor applied per attempt.
	// Must be >= 1.0.
	BackoffMultiplier float64

	// Jitter, when true, adds a random component in [0, InitialDelay) to the
	// computed delay.
	Jitter bool

	// Retryable is a caller-supplied error predicate. The engine does not
	// consult it: every RETRY outcome counts toward MaxAttempts, and steps
	// choose between RETRY and FAILED themselves (via Classify).
	Retryable func(error) bool
}

// DefaultRetryPolicy returns the policy defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:       5,
		InitialDelay:      1 * time.Second,
		MaxDelay:          60 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
	}
}

// computeBackoff calculates the delay before the given attempt (0-indexed:
// 0 is the delay before the first retry).
//
// delay = min(initial * multiplier^attempt, maxDelay) + jitter(0, initial)
func computeBackoff(attempt int, initial, maxDelay time.Duration, multiplier float64, jitter bool, rng *rand.Rand) time.Duration {
	if multiplier < 1.0 {
		multiplier = 1.0
	}

	factor := 1.0
	for i := 0; i < attempt; i++ {
		factor *= multiplier
	}

	delay := time.Duration(float64(initial) * factor)
	if maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}

	if !jitter || initial <= 0 {
		return delay
	}

	if rng != nil {
		return delay + time.Duration(rng.Int63n(int64(initial)))
	}
	// #nosec G404 -- jitter is for retry timing, not security.
	return delay + time.Duration(rand.Int63n(int64(initial)))
}

// Validate checks the RetryPolicy for internal consistency.
func (rp *RetryPolicy) Validate() error {
	if rp.MaxAttempts < 1 {
		return ErrInvalidRetryPolicy
	}
	if rp.MaxDelay > 0 && rp.InitialDelay > 0 && rp.MaxDelay < rp.InitialDelay {
		return ErrInvalidRetryPolicy
	}
	if rp.BackoffMultiplier != 0 && rp.BackoffMultiplier < 1.0 {
		return ErrInvalidRetryPolicy
	}
	return nil
}
