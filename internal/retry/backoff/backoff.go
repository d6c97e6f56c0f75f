// Package backoff provides delay strategies for retries.
package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Strategy returns the time to wait after the given attempt. Attempts start at 1.
type Strategy func(attempts uint) time.Duration

// Constant always waits for the same interval.
func Constant(interval time.Duration) Strategy {
	return func(attempts uint) time.Duration {
		return interval
	}
}

// Exponential multiplies the delay by base after each attempt.
//
// delay = baseDelay * base^(attempts - 1)
// Ex. Exponential(1*time.Second, 2) = 1s, 2s, 4s, 8s, ...
func Exponential(baseDelay time.Duration, base float64) Strategy {
	return func(attempts uint) time.Duration {
		delay := float64(baseDelay) * math.Pow(base, float64(attempts-1))
		if math.IsNaN(delay) || delay >= math.MaxInt64 {
			return math.MaxInt64
		}

		return time.Duration(delay)
	}
}

// Capped limits the delay produced by the strategy.
func Capped(s Strategy, maxDelay time.Duration) Strategy {
	return func(attempts uint) time.Duration {
		if delay := s(attempts); delay < maxDelay {
			return delay
		}

		return maxDelay
	}
}

// WithJitter randomly shifts the delay by up to the given fraction of it in
// both directions, so that the nodes started at the same time do not retry in
// lockstep. A jitter of 0.1 turns 100ms into 90-110ms.
func WithJitter(s Strategy, jitter float64) Strategy {
	return func(attempts uint) time.Duration {
		delay := float64(s(attempts))
		return time.Duration(delay * (1 + (rand.Float64()*jitter*2 - jitter)))
	}
}
