// Package retry repeats a unit of work that lost an optimistic-concurrency
// race, up to a configured number of times.
//
// An operation gets one initial attempt plus at most limit repeats. Each
// attempt is a fresh unit of work, so the callback must re-read whatever it
// mutates. Only conflicts are repeated; any other failure ends the operation
// at once. Repeats are immediate and the loop does not watch ctx between
// attempts.
package retry

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"github.com/dalemusser/stratabook/internal/app/system/txn"
	"go.uber.org/zap"
)

// ErrRetriesExhausted is returned when every permitted attempt conflicted.
var ErrRetriesExhausted = errors.New("transaction retries exhausted")

// ExhaustedError reports the operation that gave up. It matches
// ErrRetriesExhausted with errors.Is; the last conflict is kept for logs but
// is not part of the error chain.
type ExhaustedError struct {
	Operation string
	Attempts  int
	Last      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: %s after %d attempts (last: %v)", e.Operation, ErrRetriesExhausted, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return ErrRetriesExhausted }

// Executor runs units of work through a txn.Runner and repeats conflicts.
type Executor struct {
	limit   int
	runner  txn.Runner
	log     *zap.Logger
	metrics *Metrics
}

// New returns an Executor allowing limit repeats after the first attempt.
// A negative limit is treated as zero. log and metrics may be nil.
func New(limit int, runner txn.Runner, log *zap.Logger, metrics *Metrics) *Executor {
	if limit < 0 {
		limit = 0
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Executor{limit: limit, runner: runner, log: log, metrics: metrics}
}

// Limit returns the number of repeats allowed after the first attempt.
func (e *Executor) Limit() int { return e.limit }

// Do runs fn as a unit of work named op.
func (e *Executor) Do(ctx context.Context, op string, fn txn.Func) error {
	ctx = txn.WithOperation(ctx, op)
	attempts := 0
	var last txn.Outcome

	attempt := func() error {
		if attempts > 0 {
			e.log.Info("repeating transaction",
				zap.String("operation", op),
				zap.Int("repeat", attempts))
		}
		attempts++
		e.metrics.attempt(op)

		last = e.runner.Run(ctx, fn)
		switch last.Kind {
		case txn.Succeeded:
			return nil
		case txn.Conflicted:
			e.metrics.conflict(op)
			return last.Err
		default:
			return backoff.Permanent(last.Err)
		}
	}

	err := backoff.Retry(attempt, backoff.WithMaxRetries(&backoff.ZeroBackOff{}, uint64(e.limit)))
	if err == nil {
		return nil
	}
	if last.Kind == txn.Conflicted {
		e.metrics.exhausted(op)
		e.log.Warn("transaction retries exhausted",
			zap.String("operation", op),
			zap.Int("attempts", attempts),
			zap.Error(last.Err))
		return &ExhaustedError{Operation: op, Attempts: attempts, Last: last.Err}
	}
	return err
}

// Call is Do for callbacks that produce a value. The value of the
// successful attempt is returned.
func Call[T any](ctx context.Context, e *Executor, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := e.Do(ctx, op, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
