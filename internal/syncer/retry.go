package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nebula-protocol/nebula/internal/types"
)

// RetryConfig holds retry configuration for aggregator calls
type RetryConfig struct {
	MaxAttempts       int           // Attempts per batch before deferring to the next round (default: 5)
	InitialBackoff    time.Duration // Initial backoff duration (default: 1s)
	MaxBackoff        time.Duration // Maximum backoff duration (default: 60s)
	BackoffMultiplier float64       // Backoff multiplier (default: 2.0)
	Timeout           time.Duration // Per-attempt timeout (default: 30s)

	// Circuit breaker settings
	CircuitBreakerEnabled bool          // Enable circuit breaker (default: true)
	FailureThreshold      int           // Failures before opening circuit (default: 5)
	SuccessThreshold      int           // Successes in half-open before closing (default: 1)
	OpenTimeout           time.Duration // How long to keep circuit open (default: 2m)
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:           5,
		InitialBackoff:        1 * time.Second,
		MaxBackoff:            60 * time.Second,
		BackoffMultiplier:     2.0,
		Timeout:               30 * time.Second,
		CircuitBreakerEnabled: true,
		FailureThreshold:      5,
		SuccessThreshold:      1,
		OpenTimeout:           2 * time.Minute,
	}
}

// Validate checks if the configuration has valid values
func (c RetryConfig) Validate() error {
	if c.MaxAttempts < 1 || c.MaxAttempts > 20 {
		return fmt.Errorf("max_attempts must be between 1 and 20 (got %d)", c.MaxAttempts)
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive (got %v)", c.InitialBackoff)
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff (%v) must be >= initial_backoff (%v)", c.MaxBackoff, c.InitialBackoff)
	}
	if c.BackoffMultiplier < 1 {
		return fmt.Errorf("backoff_multiplier must be >= 1 (got %.2f)", c.BackoffMultiplier)
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive (got %v)", c.Timeout)
	}
	if c.CircuitBreakerEnabled && (c.FailureThreshold < 1 || c.SuccessThreshold < 1 || c.OpenTimeout <= 0) {
		return fmt.Errorf("circuit breaker thresholds and open_timeout must be positive")
	}
	return nil
}

// Backoff returns the delay before retry number attempt (1-based)
func (c RetryConfig) Backoff(attempt int) time.Duration {
	d := c.InitialBackoff
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * c.BackoffMultiplier)
		if d >= c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return d
}

// CircuitState represents the state of a circuit breaker
type CircuitState int

const (
	CircuitClosed   CircuitState = iota // Normal operation, requests pass through
	CircuitOpen                         // Aggregator considered down, fail fast
	CircuitHalfOpen                     // Testing recovery, allow a probe
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned when the circuit breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker stops the engine from hammering an aggregator that keeps failing
type CircuitBreaker struct {
	mu sync.Mutex

	state            CircuitState
	failureCount     int
	successCount     int
	lastFailureTime  time.Time
	failureThreshold int
	successThreshold int
	openTimeout      time.Duration
	now              func() time.Time
	logger           *slog.Logger
	onChange         func(CircuitState)
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(failureThreshold, successThreshold int, openTimeout time.Duration, logger *slog.Logger) *CircuitBreaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &CircuitBreaker{
		state:            CircuitClosed,
		failureThreshold: failureThreshold,
		successThreshold: successThreshold,
		openTimeout:      openTimeout,
		now:              time.Now,
		logger:           logger,
	}
}

// Allow checks if a request should be allowed through the circuit breaker
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed, CircuitHalfOpen:
		return nil
	case CircuitOpen:
		if cb.now().Sub(cb.lastFailureTime) > cb.openTimeout {
			cb.transition(CircuitHalfOpen)
			return nil
		}
		return ErrCircuitOpen
	default:
		return ErrCircuitOpen
	}
}

// RecordSuccess records a successful request
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount = 0
	case CircuitHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.transition(CircuitClosed)
		}
	}
}

// RecordFailure records a failed request
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = cb.now()

	switch cb.state {
	case CircuitClosed:
		cb.failureCount++
		if cb.failureCount >= cb.failureThreshold {
			cb.transition(CircuitOpen)
		}
	case CircuitHalfOpen:
		// Any failure while probing reopens immediately
		cb.transition(CircuitOpen)
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Metrics returns the state and counters
func (cb *CircuitBreaker) Metrics() (state CircuitState, failures, successes int) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state, cb.failureCount, cb.successCount
}

// transition must be called with the lock held
func (cb *CircuitBreaker) transition(to CircuitState) {
	from := cb.state
	cb.state = to
	cb.successCount = 0
	if to == CircuitClosed {
		cb.failureCount = 0
	}
	cb.logger.Info("circuit breaker state transition",
		"from", from.String(), "to", to.String(), "failures", cb.failureCount, "open_timeout", cb.openTimeout)
	if cb.onChange != nil {
		cb.onChange(to)
	}
}

// retrier runs aggregator calls with exponential backoff behind a breaker
type retrier struct {
	cfg     RetryConfig
	breaker *CircuitBreaker
	logger  *slog.Logger
	sleep   func(ctx context.Context, d time.Duration) error
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// do executes fn until it succeeds, fails permanently, or runs out of
// attempts. It returns the number of attempts made.
func (r *retrier) do(ctx context.Context, operation string, fn func(context.Context) error) (int, error) {
	var lastErr error
	for attempt := 1; attempt <= r.cfg.MaxAttempts; attempt++ {
		if r.breaker != nil {
			if err := r.breaker.Allow(); err != nil {
				state, failures, _ := r.breaker.Metrics()
				r.logger.Debug("aggregator call blocked by circuit breaker",
					"op", operation, "state", state.String(), "failures", failures)
				return attempt - 1, fmt.Errorf("%s: %w: %w", operation, types.ErrTransientNetwork, err)
			}
		}

		attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
		err := fn(attemptCtx)
		cancel()

		if err == nil {
			if r.breaker != nil {
				r.breaker.RecordSuccess()
			}
			if attempt > 1 {
				r.logger.Info("aggregator call succeeded after retries", "op", operation, "attempts", attempt)
			}
			return attempt, nil
		}
		lastErr = err

		if !isRetriable(err) {
			r.logger.Warn("aggregator call failed with non-retriable error", "op", operation, "error", err)
			return attempt, err
		}
		if r.breaker != nil {
			r.breaker.RecordFailure()
		}
		if attempt == r.cfg.MaxAttempts {
			break
		}
		if ctx.Err() != nil {
			return attempt, fmt.Errorf("%s failed: context canceled: %w", operation, ctx.Err())
		}

		backoff := r.cfg.Backoff(attempt)
		r.logger.Debug("aggregator call failed, retrying",
			"op", operation, "attempt", attempt, "max_attempts", r.cfg.MaxAttempts, "backoff", backoff, "error", err)
		if err := r.sleep(ctx, backoff); err != nil {
			return attempt, fmt.Errorf("%s failed: context canceled during backoff: %w", operation, err)
		}
	}
	return r.cfg.MaxAttempts, fmt.Errorf("%s failed after %d attempts: %w", operation, r.cfg.MaxAttempts, lastErr)
}

// isRetriable reports whether an aggregator failure is transient
func isRetriable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return types.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}
