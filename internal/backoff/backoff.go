// Package backoff computes retry delays for the worker pool (spec.md §4.H),
// generalizing the teacher's queue/worker.ExponentialBackoff from a fixed
// base/cap into the configurable base/factor/cap the spec calls for
// (base 1s, factor 2, cap 10s, vs. the teacher's hardcoded 2s/5m).
package backoff

import (
	"math"
	"math/rand"
	"time"
)

type Policy struct {
	Base   time.Duration
	Factor float64
	Cap    time.Duration
}

// Delay returns the backoff delay for the given zero-based attempt number,
// with up to 250ms of jitter added to avoid a thundering herd on shared
// retry instants.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	factor := p.Factor
	if factor <= 0 {
		factor = 2
	}
	capDelay := p.Cap
	if capDelay <= 0 {
		capDelay = 10 * time.Second
	}

	multiple := math.Pow(factor, float64(attempt))
	delay := time.Duration(float64(base) * multiple)
	if delay > capDelay {
		delay = capDelay
	}

	delay += time.Duration(rand.Intn(250)) * time.Millisecond
	return delay
}
