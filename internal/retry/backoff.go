// Package retry implements the fixed exponential-backoff policy the
// Transcription Worker applies to transient adapter errors, adapted
// from the teacher's internal/analysis/processor.JobQueue
// calculateBackoffDelay (initialDelay * multiplier^(attempt-1), capped
// at a maximum) with ±20% jitter layered on top, per the spec's policy.
package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy is the fixed backoff policy: initial 500ms, multiplier 2,
// jitter ±20%, bounded by MaxRetries.
type Policy struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxRetries   int
	Jitter       float64
}

// DefaultPolicy matches spec.md §4.9's documented defaults.
func DefaultPolicy(maxRetries int) Policy {
	return Policy{InitialDelay: 500 * time.Millisecond, Multiplier: 2, MaxRetries: maxRetries, Jitter: 0.2}
}

// Delay computes the backoff delay before attempt number attemptNum
// (1-indexed: the delay before the first retry, after the initial
// failed try). It applies the configured jitter fraction symmetrically
// around the computed exponential value.
func (p Policy) Delay(attemptNum int, rng *rand.Rand) time.Duration {
	if attemptNum <= 0 {
		return p.InitialDelay
	}
	base := float64(p.InitialDelay) * math.Pow(p.Multiplier, float64(attemptNum-1))

	if p.Jitter <= 0 {
		return time.Duration(base)
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	// jittered in [base*(1-Jitter), base*(1+Jitter)]
	spread := base * p.Jitter
	jittered := base - spread + rng.Float64()*2*spread
	return time.Duration(jittered)
}
