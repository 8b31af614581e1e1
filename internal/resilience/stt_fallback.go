package resilience

import (
	"context"

	"github.com/dialflow-ai/dialflow/pkg/provider/stt"
)

// STTFallback is an [stt.Provider] that fails over across several speech
// recognizers. When the primary cannot open a recognition stream the call
// falls back to the next vendor instead of going one-way.
type STTFallback struct {
	group *FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred
// backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend, tried after the ones already
// registered.
func (f *STTFallback) AddFallback(name string, provider stt.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the failover chain in try order.
func (f *STTFallback) Backends() []string {
	return f.group.Backends()
}

// StartStream opens a streaming recognition session on the first healthy
// backend. Failover covers stream setup only; a session that dies mid-call
// is the engine's reconnect logic to handle.
func (f *STTFallback) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	return ExecuteWithResult(f.group, func(p stt.Provider) (stt.SessionHandle, error) {
		return p.StartStream(ctx, cfg)
	})
}
