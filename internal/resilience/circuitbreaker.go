// Package resilience keeps dictation running when a speech or language
// provider misbehaves. Every provider sits behind a [CircuitBreaker]; a
// [FallbackGroup] tries providers in configured order and skips those whose
// breaker is open. [STTFallback] and [LLMFallback] adapt groups to the
// provider interfaces.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen matches every [*OpenError].
var ErrCircuitOpen = errors.New("resilience: circuit open")

// OpenError rejects a call to a provider whose breaker is open.
type OpenError struct {
	Name string
	// RetryIn is the time until the breaker admits a probe. Zero when the
	// breaker is half-open and all probe slots are taken.
	RetryIn time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryIn > 0 {
		return fmt.Sprintf("resilience: %s circuit open, retry in %s", e.Name, e.RetryIn.Round(time.Millisecond))
	}
	return fmt.Sprintf("resilience: %s circuit open, probes in flight", e.Name)
}

// Is makes errors.Is(err, ErrCircuitOpen) hold.
func (e *OpenError) Is(target error) bool { return target == ErrCircuitOpen }

// State is the operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota
	// StateOpen rejects calls until the reset timeout has elapsed.
	StateOpen
	// StateHalfOpen admits a few probe calls that decide between closing and
	// re-opening.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// CircuitBreakerConfig tunes a [CircuitBreaker]. Zero values take defaults.
type CircuitBreakerConfig struct {
	// Name identifies the provider in logs and errors.
	Name string

	// MaxFailures consecutive failures open the breaker. Default: 5.
	MaxFailures int

	// ResetTimeout is how long an open breaker waits before probing.
	// Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is both the number of concurrent probes admitted and the
	// number of probe successes needed to close. Default: 3.
	HalfOpenMax int

	// OnStateChange, if set, observes every transition. It runs outside the
	// breaker's lock.
	OnStateChange func(name string, from, to State)

	now func() time.Time
}

// CircuitBreaker is a three-state breaker guarding one provider. It is safe
// for concurrent use.
type CircuitBreaker struct {
	cfg CircuitBreakerConfig

	mu        sync.Mutex
	state     State
	failures  int
	openedAt  time.Time
	probes    int // in flight while half-open
	successes int // while half-open
}

// NewCircuitBreaker returns a closed breaker.
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
	if cfg.now == nil {
		cfg.now = time.Now
	}
	return &CircuitBreaker{cfg: cfg}
}

// Name returns the configured name.
func (cb *CircuitBreaker) Name() string { return cb.cfg.Name }

// Execute calls fn unless the breaker rejects it with an [*OpenError].
// A call that fails after ctx is done, or with [context.Canceled], counts
// neither as a failure nor as a success.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	probe, err := cb.admit()
	if err != nil {
		return err
	}
	err = fn(ctx)
	cb.settle(probe, err, err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)))
	return err
}

func (cb *CircuitBreaker) admit() (probe bool, err error) {
	cb.mu.Lock()
	var notify func()
	defer func() {
		cb.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()

	switch cb.state {
	case StateOpen:
		wait := cb.cfg.ResetTimeout - cb.cfg.now().Sub(cb.openedAt)
		if wait > 0 {
			return false, &OpenError{Name: cb.cfg.Name, RetryIn: wait}
		}
		notify = cb.setLocked(StateHalfOpen)
		fallthrough
	case StateHalfOpen:
		if cb.probes >= cb.cfg.HalfOpenMax {
			return false, &OpenError{Name: cb.cfg.Name}
		}
		cb.probes++
		return true, nil
	}
	return false, nil
}

func (cb *CircuitBreaker) settle(probe bool, err error, abandoned bool) {
	cb.mu.Lock()
	var notify func()
	defer func() {
		cb.mu.Unlock()
		if notify != nil {
			notify()
		}
	}()

	if probe {
		// Another probe may already have moved the breaker on.
		if cb.state != StateHalfOpen {
			return
		}
		cb.probes--
	}
	switch {
	case abandoned:
	case err != nil && probe:
		notify = cb.setLocked(StateOpen)
	case err != nil:
		cb.failures++
		if cb.failures >= cb.cfg.MaxFailures {
			notify = cb.setLocked(StateOpen)
		}
	case probe:
		cb.successes++
		if cb.successes >= cb.cfg.HalfOpenMax {
			notify = cb.setLocked(StateClosed)
		}
	default:
		cb.failures = 0
	}
}

// setLocked moves to s, resets the per-state counters and returns the
// notification to run once the lock is released.
func (cb *CircuitBreaker) setLocked(s State) func() {
	from := cb.state
	cb.state = s
	cb.failures, cb.successes = 0, 0
	if s == StateOpen {
		cb.openedAt = cb.cfg.now()
	}
	if s != StateHalfOpen {
		cb.probes = 0
	}

	name, hook := cb.cfg.Name, cb.cfg.OnStateChange
	return func() {
		level := slog.LevelInfo
		if s == StateOpen {
			level = slog.LevelWarn
		}
		slog.Log(context.Background(), level, "resilience: circuit state changed",
			"provider", name, "from", from, "to", s)
		if hook != nil {
			hook(name, from, s)
		}
	}
}

// State reports the current state. An open breaker whose timeout elapsed
// reports [StateHalfOpen]; the transition itself happens on the next call.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.cfg.now().Sub(cb.openedAt) >= cb.cfg.ResetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	if cb.state == StateClosed {
		cb.failures = 0
		cb.mu.Unlock()
		return
	}
	notify := cb.setLocked(StateClosed)
	cb.mu.Unlock()
	notify()
}
