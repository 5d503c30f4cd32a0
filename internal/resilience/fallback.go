package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/MrWong99/dictoxa/internal/observe"
)

// ErrAllFailed is returned when no provider in a [FallbackGroup] produced a
// result. The returned error also wraps every individual provider error.
var ErrAllFailed = errors.New("resilience: all providers failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for every member's breaker; Name is
	// replaced by the member name.
	CircuitBreaker CircuitBreakerConfig

	// Kind labels provider metrics, for example "stt" or "llm".
	Kind string

	// Metrics receives provider request and error counts. Default:
	// [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

type member[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup holds providers of one kind in preference order, each behind
// its own breaker. Members must be added before the group is shared between
// goroutines.
type FallbackGroup[T any] struct {
	cfg     FallbackConfig
	members []member[T]
}

// NewFallbackGroup returns a group whose first member is primary.
func NewFallbackGroup[T any](primary T, name string, cfg FallbackConfig) *FallbackGroup[T] {
	if cfg.Metrics == nil {
		cfg.Metrics = observe.DefaultMetrics()
	}
	g := &FallbackGroup[T]{cfg: cfg}
	g.AddFallback(name, primary)
	return g
}

// AddFallback appends a provider tried after all current members.
func (g *FallbackGroup[T]) AddFallback(name string, p T) {
	bc := g.cfg.CircuitBreaker
	bc.Name = name
	g.members = append(g.members, member[T]{name: name, value: p, breaker: NewCircuitBreaker(bc)})
}

// Call runs fn against each member in order and returns the first success.
// Members with an open breaker are skipped. Once ctx is done no further
// member is tried and the context error is returned.
func Call[T, R any](ctx context.Context, g *FallbackGroup[T], fn func(context.Context, T) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for i := range g.members {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		m := &g.members[i]
		var out R
		err := m.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx, m.value)
			return err
		})
		g.record(ctx, m.name, err)
		if err == nil {
			if i > 0 {
				slog.Info("resilience: served by fallback", "kind", g.cfg.Kind, "provider", m.name, "skipped", i)
			}
			return out, nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			return zero, err
		}
		if !errors.Is(err, ErrCircuitOpen) {
			slog.Warn("resilience: provider failed", "kind", g.cfg.Kind, "provider", m.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", m.name, err))
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}

func (g *FallbackGroup[T]) record(ctx context.Context, name string, err error) {
	status := "ok"
	switch {
	case errors.Is(err, ErrCircuitOpen):
		status = "skipped"
	case err != nil && (ctx.Err() != nil || errors.Is(err, context.Canceled)):
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	g.cfg.Metrics.RecordProviderRequest(ctx, name, g.cfg.Kind, status)
	if status == "error" {
		g.cfg.Metrics.RecordProviderError(ctx, name, g.cfg.Kind)
	}
}

// MemberStatus is a snapshot of one member's breaker.
type MemberStatus struct {
	Name  string
	State State
}

// Status returns the breaker state of every member in try order.
func (g *FallbackGroup[T]) Status() []MemberStatus {
	out := make([]MemberStatus, len(g.members))
	for i, m := range g.members {
		out[i] = MemberStatus{Name: m.name, State: m.breaker.State()}
	}
	return out
}

// Healthy reports whether any member would currently accept a call.
func (g *FallbackGroup[T]) Healthy() bool {
	for _, m := range g.members {
		if m.breaker.State() != StateOpen {
			return true
		}
	}
	return false
}

// Len returns the number of members.
func (g *FallbackGroup[T]) Len() int { return len(g.members) }
