package resilience

import (
	"context"

	"github.com/dialflow-ai/dialflow/pkg/provider/tts"
)

// TTSFallback is a [tts.Provider] that fails over across several speech
// synthesizers, so a dead voice vendor mutes one utterance rather than the
// rest of the campaign.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred
// backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers an additional backend, tried after the ones already
// registered.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Backends returns the failover chain in try order.
func (f *TTSFallback) Backends() []string {
	return f.group.Backends()
}

// SynthesizeStream opens a synthesis stream on the first healthy backend.
// Failover covers stream setup only; mid-stream errors are the caller's to
// handle. Note the fallback voice is the same VoiceProfile ID, which a
// different vendor may render differently.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text <-chan string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (<-chan []byte, error) {
		return p.SynthesizeStream(ctx, text, voice)
	})
}

// ListVoices returns the voices of the first healthy backend.
func (f *TTSFallback) ListVoices(ctx context.Context) ([]tts.VoiceProfile, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) ([]tts.VoiceProfile, error) {
		return p.ListVoices(ctx)
	})
}
