// Package scheduler runs an action repeatedly with fixed-delay spacing.
//
// The delay before the next run is the interval minus the time the action
// took, so consecutive starts are at least one interval apart and runs never
// overlap. An action slower than the interval is followed immediately by the
// next run and an overrun warning.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/core-tools/hsu-watchdog/pkg/errors"
	"github.com/core-tools/hsu-watchdog/pkg/logging"
)

// Action is one unit of scheduled work. Returning a cancellation error
// (context.Canceled, context.DeadlineExceeded or a cancelled DomainError)
// stops the loop; any other error is logged and the loop continues.
type Action func(ctx context.Context) error

// Clock is the time source used by Repeat
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time                         { return time.Now() }
func (systemClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// SystemClock is backed by the time package
var SystemClock Clock = systemClock{}

type Options struct {
	// InitialDelay is waited once before the first run
	InitialDelay time.Duration
	// Clock defaults to SystemClock
	Clock Clock
}

// Repeat runs action every interval until ctx is cancelled. A cancellation
// error from the action stops the loop only once ctx is done. It blocks, and always returns a non-nil
// error: the cancellation cause, or a validation error for a bad interval.
func Repeat(ctx context.Context, action Action, interval time.Duration, options Options, logger logging.Logger) error {
	if interval <= 0 {
		return errors.NewValidationError("repeat interval must be positive", nil).WithContext("interval", interval)
	}
	if action == nil {
		return errors.NewValidationError("action cannot be nil", nil)
	}

	clock := options.Clock
	if clock == nil {
		clock = SystemClock
	}

	if options.InitialDelay > 0 {
		if err := sleep(ctx, clock, options.InitialDelay); err != nil {
			logger.Debugf("Scheduler cancelled during initial delay")
			return err
		}
	}

	for {
		if err := ctx.Err(); err != nil {
			logger.Debugf("Scheduler cancelled")
			return err
		}

		startTime := clock.Now()

		if err := run(ctx, action); err != nil {
			// a deadline inside the action is an ordinary failure unless ctx itself is done
			if errors.IsCancelledError(err) && ctx.Err() != nil {
				logger.Debugf("Scheduled action cancelled: %v", err)
				return err
			}
			logger.Errorf("Scheduled action failed: %v", err)
		}

		elapsed := clock.Now().Sub(startTime)
		if elapsed >= interval {
			logger.Warnf("Execution time %v exceeded repeat interval %v", elapsed, interval)
			continue
		}

		if err := sleep(ctx, clock, interval-elapsed); err != nil {
			logger.Debugf("Scheduler cancelled while waiting for next run")
			return err
		}
	}
}

// run converts a panicking action into a tick error so one bad run does not
// take the loop down with it.
func run(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.NewTickError("scheduled action panicked", fmt.Errorf("%v", r))
		}
	}()
	return action(ctx)
}

func sleep(ctx context.Context, clock Clock, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-clock.After(d):
		return nil
	}
}
