package resilience

import (
	"context"

	"github.com/dialflow-ai/dialflow/pkg/provider/llm"
	"github.com/dialflow-ai/dialflow/pkg/types"
)

// LLMFallback is an [llm.Provider] that fails over across several LLM
// backends. A dead primary degrades the conversation to the next configured
// vendor instead of leaving the prospect in silence.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend, tried after the ones already
// registered.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the failover chain in try order.
func (f *LLMFallback) Backends() []string {
	return f.group.Backends()
}

// Complete requests a completion from the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a streaming completion against the first healthy
// backend. Failover covers the initial connection only; once a stream is
// established, mid-stream errors are the caller's to handle.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's tokenizer.
func (f *LLMFallback) CountTokens(messages []types.Message) (int, error) {
	return ExecuteWithResult(f.group, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities. Static metadata does not
// participate in failover: prompt budgets are sized for the preferred model.
func (f *LLMFallback) Capabilities() types.ModelCapabilities {
	return f.group.Primary().Capabilities()
}
