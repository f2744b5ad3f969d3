// Package retry runs operations with a bounded number of attempts, exponential
// backoff between them and an optional deadline per attempt.
package retry

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// Config configures retry behavior.
type Config struct {
	// MaxAttempts is the maximum number of attempts (including the first).
	MaxAttempts int
	// InitialDelay is the delay after the first failure.
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between attempts.
	MaxDelay time.Duration
	// Factor is the multiplier for exponential backoff.
	Factor float64
	// Jitter enables randomization of delays.
	Jitter bool
	// AttemptTimeout bounds a single attempt. Zero means the attempt only
	// inherits the caller's deadline.
	AttemptTimeout time.Duration
}

// DefaultConfig returns a default retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:    3,
		InitialDelay:   200 * time.Millisecond,
		MaxDelay:       5 * time.Second,
		Factor:         2.0,
		Jitter:         true,
		AttemptTimeout: 10 * time.Second,
	}
}

func (c Config) normalized() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 1
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 100 * time.Millisecond
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = 10 * time.Second
	}
	if c.Factor <= 0 {
		c.Factor = 2.0
	}
	return c
}

// Attempt records a single try.
type Attempt struct {
	Number   int
	Err      error
	Duration time.Duration
}

// Result contains the outcome of a retry operation.
type Result struct {
	// Attempts is the number of attempts made.
	Attempts int
	// Err is the last error (nil if successful).
	Err error
	// Duration is the total time spent retrying.
	Duration time.Duration
	// History holds every attempt in order.
	History []Attempt
}

// Op is a retryable operation. ctx carries the per-attempt deadline.
type Op func(ctx context.Context, attempt int) error

// Do executes op until it succeeds, returns a permanent error, the attempts
// run out, or ctx is done.
func Do(ctx context.Context, config Config, op Op) Result {
	config = config.normalized()
	start := time.Now()
	result := Result{}
	delay := config.InitialDelay

	for attempt := 1; attempt <= config.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			result.Err = err
			result.Duration = time.Since(start)
			return result
		}

		result.Attempts = attempt
		attemptStart := time.Now()
		err := runAttempt(ctx, config.AttemptTimeout, attempt, op)
		result.History = append(result.History, Attempt{
			Number:   attempt,
			Err:      err,
			Duration: time.Since(attemptStart),
		})
		result.Err = err
		if err == nil {
			result.Duration = time.Since(start)
			return result
		}
		if IsPermanent(err) {
			result.Duration = time.Since(start)
			return result
		}
		if attempt >= config.MaxAttempts {
			break
		}

		sleep := delay
		if config.Jitter {
			// delay * [0.5, 1.5]
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64())) // #nosec G404 -- jitter does not require cryptographic randomness
		}
		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			result.Err = ctx.Err()
			result.Duration = time.Since(start)
			return result
		case <-timer.C:
		}

		delay = time.Duration(float64(delay) * config.Factor)
		if delay > config.MaxDelay {
			delay = config.MaxDelay
		}
	}

	result.Duration = time.Since(start)
	return result
}

func runAttempt(ctx context.Context, timeout time.Duration, attempt int, op Op) error {
	if timeout <= 0 {
		return op(ctx, attempt)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := op(attemptCtx, attempt)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return &TimeoutError{Timeout: timeout, Err: err}
	}
	return err
}

// TimeoutError reports an attempt that ran past its own deadline while the
// caller's context was still live. It is retryable.
type TimeoutError struct {
	Timeout time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return "attempt timed out after " + e.Timeout.String() + ": " + e.Err.Error()
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}

// PermanentError is an error that should not be retried.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// Permanent wraps an error to indicate it should not be retried.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent checks if an error is permanent (shouldn't retry).
func IsPermanent(err error) bool {
	var permanent *PermanentError
	return errors.As(err, &permanent)
}

// Backoff calculates the backoff duration for a given attempt.
func Backoff(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	if max <= 0 {
		max = 10 * time.Second
	}
	if factor <= 0 {
		factor = 2.0
	}

	delay := float64(initial) * math.Pow(factor, float64(attempt-1))
	if delay > float64(max) {
		delay = float64(max)
	}
	return time.Duration(delay)
}

// BackoffWithJitter calculates the backoff with random jitter.
func BackoffWithJitter(attempt int, initial, max time.Duration, factor float64) time.Duration {
	base := Backoff(attempt, initial, max, factor)
	jitterFactor := 0.5 + rand.Float64() // #nosec G404 -- jitter does not require cryptographic randomness
	return time.Duration(float64(base) * jitterFactor)
}
