// Package stt defines the Provider interface for streaming speech-to-text
// backends.
//
// An STT provider wraps a real-time transcription service and exposes a
// uniform streaming interface. The central abstraction is SessionHandle:
// once opened, a session accepts raw audio chunks in the configured wire
// encoding and emits three event streams — low-latency partials for
// responsiveness, authoritative finals carrying end-of-turn metadata, and
// utterance-end boundaries after sustained silence.
//
// Implementations must be safe for concurrent use. Audio input and
// transcript output channels are goroutine-safe by construction.
package stt

import (
	"context"

	"github.com/dialflow-ai/dialflow/pkg/types"
)

// StreamConfig describes the audio format and recognition hints for a new
// STT session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. Telephony audio is 8000.
	SampleRate int

	// Encoding names the wire encoding ("mulaw" for telephony, "linear16"
	// for PCM). An empty string means linear16.
	Encoding string

	// Language is the BCP-47 language tag for recognition (e.g., "en").
	Language string

	// Keywords are vocabulary hints boosted in recognition, such as the
	// prospect's first name.
	Keywords []string
}

// SessionHandle represents an open STT streaming session. It is an
// interface so that test code can provide mock implementations without a
// live provider connection.
//
// Callers must call Close when the session is no longer needed. Failing to
// do so may leak goroutines and network connections inside the provider
// implementation. All methods must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers a chunk of raw audio bytes to the provider for
	// transcription. The chunk must match the encoding and sample rate
	// agreed in StreamConfig. Calling SendAudio after Close returns an
	// error.
	SendAudio(chunk []byte) error

	// Partials returns a read-only channel that emits low-latency interim
	// Transcript values. These drive observer indicators but must not be
	// written to the conversation history. The channel is closed when the
	// session ends.
	Partials() <-chan types.Transcript

	// Finals returns a read-only channel that emits authoritative
	// Transcript values, each carrying confidence, detected language when
	// available, and the local end-of-turn classification. The channel is
	// closed when the session ends.
	Finals() <-chan types.Transcript

	// UtteranceEnds returns a read-only channel that signals once per
	// silence boundary the provider detects after the last final. The
	// channel is closed when the session ends.
	UtteranceEnds() <-chan struct{}

	// Close terminates the session, flushes any pending audio, and
	// releases all associated resources. After Close returns, the event
	// channels will be closed. Calling Close more than once is safe and
	// returns nil.
	Close() error
}

// Provider is the abstraction over any streaming STT backend.
//
// Implementations must be safe for concurrent use; one session is opened
// per call and many calls run concurrently.
type Provider interface {
	// StartStream opens a new streaming transcription session with the
	// given audio format and recognition configuration. The returned
	// SessionHandle is ready to accept audio immediately.
	//
	// Returns an error if the provider cannot establish the session. The
	// caller owns the SessionHandle and must call Close when done.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
