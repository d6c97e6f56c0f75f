// Package retry runs actions repeatedly according to a set of strategies.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/maxpoletaev/clusteragent/internal/retry/backoff"
)

// Action is a function to be performed in a retriable manner.
type Action func(ctx context.Context) error

// Strategy decides whether an action that failed after the given number of
// attempts should be tried once more.
type Strategy func(attempts uint, err error) bool

// Retry executes the action until it succeeds, the context is done or one of
// the strategies tells to stop. The strategies are evaluated in order. Delays
// between attempts are controlled separately by the wait strategy, which may be
// nil. The number of attempts made is returned along with the last error.
func Retry(ctx context.Context, action Action, wait backoff.Strategy, strategies ...Strategy) (uint, error) {
	for attempt := uint(1); ; attempt++ {
		err := action(ctx)
		if err == nil {
			return attempt, nil
		}

		for _, s := range strategies {
			if !s(attempt, err) {
				return attempt, err
			}
		}

		if wait == nil {
			continue
		}

		if ctxErr := sleep(ctx, wait(attempt)); ctxErr != nil {
			return attempt, errors.Join(err, ctxErr)
		}
	}
}

// Limit stops retrying after the given number of attempts.
func Limit(maxAttempts uint) Strategy {
	return func(attempts uint, err error) bool {
		return attempts < maxAttempts
	}
}

// NonRetriableErrors stops retrying when the action fails with one of the errors.
func NonRetriableErrors(nonRetriable ...error) Strategy {
	return func(attempts uint, err error) bool {
		for _, e := range nonRetriable {
			if errors.Is(err, e) {
				return false
			}
		}

		return true
	}
}

// Notify calls the function on every failed attempt. It never stops retrying.
func Notify(f func(attempts uint, err error)) Strategy {
	return func(attempts uint, err error) bool {
		f(attempts, err)
		return true
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
