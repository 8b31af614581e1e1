package orchestrator

import (
	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/pkg/types"
)

// Events drained by the engine loop. Everything that can touch session state
// arrives here, so the loop is the single writer for its session.

// evMediaAttached delivers the accepted media channel to the loop.
type evMediaAttached struct {
	media MediaStream
}

// evMediaStart is the carrier's start event. Duplicate starts are possible
// and are made idempotent by the opening-sent guard.
type evMediaStart struct {
	streamSID string
}

// evMediaFrame carries one 20 ms µ-law frame of prospect audio.
type evMediaFrame struct {
	frame []byte
}

// evMediaStop signals that the carrier closed the media stream.
type evMediaStop struct{}

// evASRReady delivers the result of an ASR connect attempt.
type evASRReady struct {
	handle    sttHandle
	err       error
	reconnect bool
}

// evASRClosed signals that the ASR event channels closed.
type evASRClosed struct{}

// evInterim is a low-latency partial transcript.
type evInterim struct {
	text string
}

// evFinal is an authoritative transcript fragment with turn metadata.
type evFinal struct {
	transcript types.Transcript
}

// evUtteranceEnd is the provider's silence boundary.
type evUtteranceEnd struct{}

// evTurnTimeout fires when the semantic end-of-turn timer expires. Stale
// generations (a newer final re-armed the timer) are ignored.
type evTurnTimeout struct {
	gen int
}

// evOpeningDue fires 800 ms after media start.
type evOpeningDue struct{}

// evCooldownTimeout clears the opening cooldown. source is "estimate",
// "no_audio", or "safety".
type evCooldownTimeout struct {
	source string
}

// evAssistantText delivers the generated response text ahead of its audio.
type evAssistantText struct {
	kind genKind
	text string
}

// evGenFailed reports a failed generation pipeline.
type evGenFailed struct {
	kind genKind
	err  error
}

// evAudioReady delivers synthesized wire frames for a generated response.
// frames is nil when synthesis failed or returned nothing; the text has
// already been appended and broadcast.
type evAudioReady struct {
	kind   genKind
	frames [][]byte
	err    error
}

// evSpeechDone signals that a speaker goroutine finished or was cancelled.
type evSpeechDone struct {
	gen int
}

// evClosingDue fires after the meeting-booked grace period.
type evClosingDue struct{}

// evAMD is the carrier's answering-machine-detection verdict.
type evAMD struct {
	answeredBy string
}

// evStatus is a carrier status-callback update.
type evStatus struct {
	status   session.Status
	duration int
}

// evHangup asks the carrier to end the call. The terminal status callback
// completes the shutdown.
type evHangup struct {
	reason string
}
