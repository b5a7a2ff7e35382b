// Package resilience wraps external calls with bounded retries, exponential
// backoff with jitter, per-attempt deadlines, and per-service health
// tracking. Every LLM gateway, repository, and crawler bridge call in the
// pipeline goes through an Executor.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand"
	"time"

	"github.com/foresight-labs/foresight/pkg/config"
)

// ErrNonRetriable marks domain errors that must not be retried. Wrap with
// fmt.Errorf("...: %w", resilience.ErrNonRetriable) or use Permanent().
var ErrNonRetriable = errors.New("non-retriable error")

// Permanent wraps err so the executor fails fast instead of retrying.
// The original error remains reachable via errors.Unwrap chains.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }
func (e *permanentError) Is(target error) bool {
	return target == ErrNonRetriable
}

// Executor runs operations against named external services with retry and
// health accounting.
type Executor struct {
	defaults *config.RetryConfig
	health   *HealthTracker

	// sleep is swappable for tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewExecutor creates an executor with the given default retry config.
func NewExecutor(defaults *config.RetryConfig, health *HealthTracker) *Executor {
	if defaults == nil {
		defaults = config.DefaultRetryConfig()
	}
	if health == nil {
		panic("NewExecutor: health must not be nil")
	}
	return &Executor{
		defaults: defaults,
		health:   health,
		sleep:    sleepCtx,
	}
}

// Health returns the executor's health tracker.
func (e *Executor) Health() *HealthTracker { return e.health }

// Execute runs fn with retries for operations that produce no value.
func (e *Executor) Execute(ctx context.Context, service, op string, cfg *config.RetryConfig, fn func(ctx context.Context) error) error {
	_, err := Do(ctx, e, service, op, cfg, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn against the named service with bounded retries. Each attempt is
// wrapped in an independent deadline; a timed-out attempt counts as a
// failure. When retries are exhausted the last underlying error is surfaced
// unchanged. Non-retriable errors propagate immediately but still count
// toward the service's failure tallies.
func Do[T any](ctx context.Context, e *Executor, service, op string, cfg *config.RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if cfg == nil {
		cfg = e.defaults
	}

	var lastErr error
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout())
		result, err := fn(attemptCtx)
		cancel()

		if err == nil {
			e.health.RecordSuccess(service)
			return result, nil
		}

		lastErr = err
		e.health.RecordFailure(service)

		if errors.Is(err, ErrNonRetriable) {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, lastErr
		}
		if attempt == cfg.MaxRetries {
			break
		}

		delay := computeDelay(cfg, attempt)
		slog.Debug("Retrying after failure",
			"service", service,
			"operation", op,
			"attempt", attempt+1,
			"delay", delay,
			"error", err)
		if serr := e.sleep(ctx, delay); serr != nil {
			return zero, lastErr
		}
	}

	slog.Warn("Retries exhausted",
		"service", service,
		"operation", op,
		"max_retries", cfg.MaxRetries,
		"error", lastErr)
	return zero, lastErr
}

// computeDelay returns the backoff delay for the given zero-based attempt:
// min(initial × multiplier^attempt + uniform(0, 0.2 × that), maxDelay).
// Jitter prevents synchronized retries across workers.
func computeDelay(cfg *config.RetryConfig, attempt int) time.Duration {
	base := float64(cfg.InitialDelay()) * math.Pow(cfg.BackoffMultiplier, float64(attempt))
	jittered := base + rand.Float64()*0.2*base
	if maxd := float64(cfg.MaxDelay()); jittered > maxd {
		jittered = maxd
	}
	return time.Duration(jittered)
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
