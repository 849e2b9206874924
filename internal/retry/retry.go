// Package retry runs an operation under a bounded, classifier-driven retry
// budget with exponential backoff.
package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/fpang/hand-extractor/internal/failure"
)

// Defaults match the backoff used for every pipeline phase.
const (
	DefaultMaxAttempts = 3
	DefaultBase        = 2.0
	DefaultMinDelay    = 5 * time.Second
	DefaultMaxDelay    = 60 * time.Second
)

// Policy is the retry budget for one phase. Each call to Do starts a fresh
// budget, so a policy value can be shared across segments.
type Policy struct {
	// Name labels log lines and errors, e.g. "acquire" or "extract".
	Name        string
	MaxAttempts int
	// Delay before attempt n+1 is Base^n seconds clamped to [MinDelay, MaxDelay].
	Base      float64
	MinDelay  time.Duration
	MaxDelay  time.Duration
	Randomize bool

	// Classify decides whether an error is worth another attempt. Defaults
	// to failure.Classify.
	Classify func(error) failure.Class
	// Sleep waits between attempts. Defaults to a context-aware timer.
	Sleep func(ctx context.Context, d time.Duration) error
	// OnRetry, if set, is called before each wait.
	OnRetry func(attempt int, delay time.Duration, err error)
}

// DefaultPolicy returns the standard policy with the given name.
func DefaultPolicy(name string) Policy {
	return Policy{
		Name:        name,
		MaxAttempts: DefaultMaxAttempts,
		Base:        DefaultBase,
		MinDelay:    DefaultMinDelay,
		MaxDelay:    DefaultMaxDelay,
		Randomize:   true,
	}
}

// ExhaustedError is returned when every attempt failed with a retryable error.
type ExhaustedError struct {
	Policy   string
	Attempts int
	Last     error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("%s: gave up after %d attempts: %v", e.Policy, e.Attempts, e.Last)
}

func (e *ExhaustedError) Unwrap() error { return e.Last }

// Delay returns the wait after the given failed attempt (1-based), before
// jitter.
func (p Policy) Delay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = DefaultBase
	}
	d := time.Duration(math.Pow(base, float64(attempt)) * float64(time.Second))
	if d < p.MinDelay {
		d = p.MinDelay
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// Do calls op until it succeeds, returns a non-retryable error, or the
// attempt budget runs out. A non-retryable error is returned unchanged after
// a single call. Exhaustion yields *ExhaustedError wrapping the last error.
// Cancellation of ctx stops the loop immediately and returns ctx's error.
func Do[T any](ctx context.Context, p Policy, op func(ctx context.Context, attempt int) (T, error)) (T, error) {
	var zero T
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	classify := p.Classify
	if classify == nil {
		classify = failure.Classify
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		v, err := op(ctx, attempt)
		if err == nil {
			if attempt > 1 {
				log.Info().Str("policy", p.Name).Int("attempt", attempt).Msg("Succeeded after retry")
			}
			return v, nil
		}
		lastErr = err

		// The caller's deadline ending mid-call is not the operation's fault.
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, ctxErr
		}

		class := classify(err)
		if !class.Retryable() {
			log.Warn().Err(err).Str("policy", p.Name).Int("attempt", attempt).Str("class", class.String()).
				Msg("Non-retryable error, giving up")
			return zero, err
		}
		if attempt == attempts {
			break
		}

		delay := p.Delay(attempt)
		if p.Randomize {
			delay = time.Duration(float64(delay) * (1 + rand.Float64()))
		}
		log.Warn().Err(err).
			Str("policy", p.Name).
			Int("attempt", attempt).
			Int("maxAttempts", attempts).
			Dur("delay", delay).
			Str("class", class.String()).
			Msg("Retryable error, will retry")
		if p.OnRetry != nil {
			p.OnRetry(attempt, delay, err)
		}
		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &ExhaustedError{Policy: p.Name, Attempts: attempts, Last: lastErr}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
