// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (e.g., ElevenLabs) and
// presents a uniform streaming interface. The primary entry point is
// SynthesizeStream, which accepts a channel of text fragments and returns a
// channel of raw PCM audio bytes as they become available — enabling
// low-latency pipelining between response generation and the telephony
// sender.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
//
// Implementations must be safe for concurrent use. Multiple synthesis
// requests may run in parallel (one per active call).
type Provider interface {
	// SynthesizeStream consumes text fragments from the text channel and
	// returns a channel that emits raw PCM audio byte slices as they are
	// synthesised. Callers with a single complete response send it and
	// close the channel.
	//
	// The returned audio channel is closed by the implementation when all
	// text has been synthesised or when ctx is cancelled. The caller must
	// drain the audio channel to avoid blocking the provider's internal
	// goroutines.
	//
	// voice specifies the voice profile to use. Providers should return an
	// error if the requested voice is not available.
	//
	// Returns a non-nil error only if the stream cannot be started. Errors
	// during synthesis are signalled by closing the audio channel early;
	// callers should check ctx.Err() to distinguish cancellation from
	// provider errors.
	SynthesizeStream(ctx context.Context, text <-chan string, voice VoiceProfile) (<-chan []byte, error)

	// ListVoices returns all voice profiles available from this provider.
	// The list reflects the provider's current catalogue and may change
	// between calls.
	ListVoices(ctx context.Context) ([]VoiceProfile, error)
}
