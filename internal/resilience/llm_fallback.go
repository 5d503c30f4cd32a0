package resilience

import (
	"context"

	"github.com/MrWong99/dictoxa/pkg/provider/llm"
)

// LLMFallback is an [llm.Provider] that fails over between LLM backends
// used for transcript cleanup and voice commands.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback returns a fallback chain with primary first. cfg.Kind
// defaults to "llm".
func NewLLMFallback(primary llm.Provider, name string, cfg FallbackConfig) *LLMFallback {
	if cfg.Kind == "" {
		cfg.Kind = "llm"
	}
	return &LLMFallback{group: NewFallbackGroup(primary, name, cfg)}
}

// AddFallback appends p to the chain.
func (f *LLMFallback) AddFallback(name string, p llm.Provider) {
	f.group.AddFallback(name, p)
}

// Complete returns the first successful completion in chain order.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return Call(ctx, f.group, func(ctx context.Context, p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// Healthy reports whether some backend accepts calls.
func (f *LLMFallback) Healthy() bool { return f.group.Healthy() }

// Status returns the breaker state of each backend.
func (f *LLMFallback) Status() []MemberStatus { return f.group.Status() }
