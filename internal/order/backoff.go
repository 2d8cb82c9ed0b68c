package order

import (
	"math/rand/v2"
	"time"
)

// Backoff computes retry delays for connection failures.
type Backoff struct {
	// Min is the minimum backoff duration.
	Min time.Duration
	// Max is the maximum backoff duration.
	Max time.Duration
	// Factor multiplies the delay for each retry attempt.
	Factor float64
	// Jitter adds randomization as a fraction of the delay (0-1).
	Jitter float64
}

// DefaultBackoff waits 2s, 4s, 8s ... capped at 15s.
func DefaultBackoff() Backoff {
	return Backoff{
		Min:    2 * time.Second,
		Max:    15 * time.Second,
		Factor: 2.0,
	}
}

// Next returns the backoff duration after the given attempt (1-based).
// The result always lies in [Min, Max].
func (b Backoff) Next(attempt int) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	min := b.Min
	if min <= 0 {
		min = 100 * time.Millisecond
	}
	max := b.Max
	if max < min {
		max = min
	}
	factor := b.Factor
	if factor <= 1 {
		factor = 2.0
	}

	wait := min
	for i := 1; i < attempt; i++ {
		next := time.Duration(float64(wait) * factor)
		if next > max {
			wait = max
			break
		}
		wait = next
	}

	if b.Jitter > 0 {
		jitter := b.Jitter
		if jitter > 1 {
			jitter = 1
		}
		delta := float64(wait) * jitter
		wait = wait - time.Duration(delta) + time.Duration(rand.Float64()*2*delta)
	}
	if wait < min {
		wait = min
	}
	if wait > max {
		wait = max
	}
	return wait
}
