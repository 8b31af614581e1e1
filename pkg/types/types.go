// Package types defines the shared types used across all Dialflow packages.
//
// These types form the lingua franca between providers, detectors, and the
// orchestrator. They are intentionally minimal — each package defines its own
// domain types, but cross-cutting data structures live here to avoid circular
// imports.
package types

import "time"

// TurnStatus classifies how complete an ASR final fragment looks as a
// conversational turn. It drives the orchestrator's semantic end-of-turn
// timers: a clearly complete fragment dispatches quickly, a mid-thought
// fragment is given room to continue.
type TurnStatus string

const (
	// TurnComplete means the fragment reads like a finished turn
	// (sentence punctuation, a short closer, or a very short utterance).
	TurnComplete TurnStatus = "complete"

	// TurnMidThought means the fragment ends on a conjunction, comma,
	// hedge, or other cliffhanger — the speaker is very likely to continue.
	TurnMidThought TurnStatus = "mid_thought"

	// TurnAmbiguous means neither signal applies.
	TurnAmbiguous TurnStatus = "ambiguous"
)

// Transcript represents a speech-to-text result from an ASR provider.
// Both partial (interim) and final transcripts use this type.
type Transcript struct {
	// Text is the transcribed speech content.
	Text string

	// IsFinal indicates whether this is a final (authoritative) or partial
	// (interim) transcript.
	IsFinal bool

	// Confidence is the overall confidence score (0.0–1.0). May be zero if
	// the provider does not report confidence.
	Confidence float64

	// Language is the BCP-47 language code the provider detected for this
	// result when language detection is active. Empty otherwise.
	Language string

	// Turn is the local end-of-turn classification. Only meaningful on
	// final transcripts.
	Turn TurnStatus
}

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name.
	Name string
}

// ModelCapabilities describes what an LLM model supports.
type ModelCapabilities struct {
	// ContextWindow is the maximum token count for input + output.
	ContextWindow int

	// MaxOutputTokens is the maximum tokens the model can generate in one
	// completion.
	MaxOutputTokens int

	// SupportsStreaming indicates the model supports streaming completions.
	SupportsStreaming bool
}

// TranscriptLine is a single display-transcript entry for a call. The display
// transcript mirrors the conversation history and adds non-LLM entries such
// as the voicemail message.
type TranscriptLine struct {
	// Speaker is the display label ("Michael", "Prospect", "Voicemail").
	Speaker string `json:"speaker"`

	// Text is the utterance text.
	Text string `json:"text"`

	// Timestamp records when the line was appended.
	Timestamp time.Time `json:"timestamp"`
}

// SentimentPoint records the running sentiment after one prospect turn.
type SentimentPoint struct {
	// Turn is the prospect-turn index at which the update occurred.
	Turn int `json:"turn"`

	// Score is the clamped running score in [-10, +10].
	Score float64 `json:"score"`

	// Label is the categorical label derived from Score.
	Label string `json:"label"`
}
