// Package resilience guards provider calls made by the processing backend.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open). After
// MaxFailures consecutive provider failures it rejects calls with
// [ErrCircuitOpen] for ResetTimeout, so a dead transcription or completion
// backend fails requests fast instead of holding each upload open until its
// own timeout. Cancellations by the caller are not counted as failures.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when the breaker rejects a call. Errors returned
// by [CircuitBreaker.Execute] wrap it together with the breaker name.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls until the reset timeout elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. One failed
	// probe re-opens the breaker; HalfOpenMax successful probes close it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name identifies the guarded dependency (e.g. "stt", "llm") in logs,
	// errors and readiness output.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of probe calls allowed in the half-open
	// state. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, is called after every transition with the
	// breaker mutex released.
	OnStateChange func(name string, from, to State)

	// Logger receives transition logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	onStateChange func(name string, from, to State)
	log           *slog.Logger

	// now is replaceable in tests.
	now func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		onStateChange: cfg.OnStateChange,
		log:           cfg.Logger.With("breaker", cfg.Name),
		now:           time.Now,
		state:         StateClosed,
	}
}

// Name returns the configured breaker name.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. A rejected call returns an error
// wrapping [ErrCircuitOpen] without calling fn. An error from fn is returned
// unchanged; it counts as a failure unless ctx was cancelled or its deadline
// passed, since those say nothing about the dependency's health.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	probe, err := cb.admit()
	if err != nil {
		return err
	}

	err = fn(ctx)

	var from, to State
	cb.mu.Lock()
	from = cb.state
	switch {
	case err == nil:
		cb.recordSuccess(probe)
	case ctx.Err() != nil:
		// Release the probe slot without judging the dependency.
		if probe && cb.state == StateHalfOpen && cb.probes > 0 {
			cb.probes--
		}
	default:
		cb.recordFailure(probe, err)
	}
	to = cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
	return err
}

// admit decides whether a call may proceed and reports whether it is a
// half-open probe.
func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	from := cb.state
	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return false, fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
		}
		cb.state = StateHalfOpen
		cb.probes = 0
		cb.probeSuccesses = 0
	case StateHalfOpen:
	default:
		cb.mu.Unlock()
		return false, nil
	}

	if cb.probes >= cb.halfOpenMax {
		cb.mu.Unlock()
		return false, fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}
	cb.probes++
	to := cb.state
	cb.mu.Unlock()

	cb.transitioned(from, to)
	return true, nil
}

// recordFailure must be called with cb.mu held.
func (cb *CircuitBreaker) recordFailure(probe bool, err error) {
	if probe {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.consecutiveFail = cb.maxFailures
		cb.log.Warn("probe failed, circuit breaker re-opened", "err", err)
		return
	}

	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = cb.now()
		cb.log.Warn("circuit breaker opened",
			"consecutive_failures", cb.consecutiveFail,
			"reset_after", cb.resetTimeout,
			"err", err,
		)
	}
}

// recordSuccess must be called with cb.mu held.
func (cb *CircuitBreaker) recordSuccess(probe bool) {
	if !probe {
		cb.consecutiveFail = 0
		return
	}
	if cb.state != StateHalfOpen {
		return
	}
	cb.probeSuccesses++
	if cb.probeSuccesses >= cb.halfOpenMax {
		cb.state = StateClosed
		cb.consecutiveFail = 0
		cb.probes = 0
		cb.probeSuccesses = 0
		cb.log.Info("circuit breaker closed after successful probes")
	}
}

func (cb *CircuitBreaker) transitioned(from, to State) {
	if from == to {
		return
	}
	cb.log.Debug("circuit breaker state change", "from", from, "to", to)
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, from, to)
	}
}

// State returns the current [State] of the breaker. If the breaker is open and
// the reset timeout has elapsed, the returned state is [StateHalfOpen] (the
// actual transition happens on the next [CircuitBreaker.Execute] call).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed], clearing all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.state = StateClosed
	cb.consecutiveFail = 0
	cb.probes = 0
	cb.probeSuccesses = 0
	cb.mu.Unlock()

	cb.log.Info("circuit breaker manually reset")
	cb.transitioned(from, StateClosed)
}

// Check reports an error while the breaker is open. It fits
// health.Checker.Check so readiness reflects a tripped dependency.
func (cb *CircuitBreaker) Check(context.Context) error {
	if s := cb.State(); s == StateOpen {
		return fmt.Errorf("%s: %w", cb.name, ErrCircuitOpen)
	}
	return nil
}

// Call runs fn through cb and returns its value. It is the typed counterpart
// of [CircuitBreaker.Execute] for provider calls that return a result.
func Call[T any](ctx context.Context, cb *CircuitBreaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := cb.Execute(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	})
	return out, err
}
