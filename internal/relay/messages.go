package relay

import (
	"time"

	"github.com/dialflow-ai/dialflow/internal/session"
	"github.com/dialflow-ai/dialflow/pkg/types"
)

// Observer wire messages. Every message carries a "type" discriminator; the
// remaining fields follow the dashboard's expected shapes.

// SessionState is the snapshot sent to an observer immediately on connect.
type SessionState struct {
	Type         string                 `json:"type"`
	Status       session.Status         `json:"status"`
	Transcript   []types.TranscriptLine `json:"transcript"`
	MessageCount int                    `json:"messageCount"`
}

// NewSessionState builds the connect snapshot from a session snapshot.
func NewSessionState(snap session.Snapshot) SessionState {
	return SessionState{
		Type:         "session_state",
		Status:       snap.Status,
		Transcript:   snap.Transcript,
		MessageCount: snap.MessageCount,
	}
}

// Status reports a coarse engine activity change.
type Status struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// NewStatus builds a status message. value is one of "connected",
// "thinking", "speaking", "listening".
func NewStatus(value string) Status {
	return Status{Type: "status", Value: value}
}

// Speech carries one line of recognized or generated speech.
type Speech struct {
	Type  string `json:"type"`
	Text  string `json:"text"`
	Final bool   `json:"final,omitempty"`
}

// NewUserSpeechInterim builds an in-progress recognition message.
func NewUserSpeechInterim(text string) Speech {
	return Speech{Type: "user_speech_interim", Text: text}
}

// NewUserSpeech builds a finalized prospect utterance message.
func NewUserSpeech(text string) Speech {
	return Speech{Type: "user_speech", Text: text, Final: true}
}

// NewMichaelSpeech builds an assistant utterance message.
func NewMichaelSpeech(text string) Speech {
	return Speech{Type: "michael_speech", Text: text, Final: true}
}

// SentimentUpdate reports the running sentiment after a prospect turn.
type SentimentUpdate struct {
	Type  string  `json:"type"`
	Score float64 `json:"score"`
	Label string  `json:"label"`
}

// NewSentimentUpdate builds a sentiment message.
func NewSentimentUpdate(score float64, label string) SentimentUpdate {
	return SentimentUpdate{Type: "sentiment_update", Score: score, Label: label}
}

// BargeIn reports that the prospect interrupted the assistant.
type BargeIn struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// NewBargeIn builds a barge-in message with the running count.
func NewBargeIn(count int) BargeIn {
	return BargeIn{Type: "barge_in", Count: count}
}

// Signal is a bare event with no payload beyond its type.
type Signal struct {
	Type string `json:"type"`
}

// NewGatekeeperDetected signals that a gatekeeper answered the call.
func NewGatekeeperDetected() Signal { return Signal{Type: "gatekeeper_detected"} }

// NewGatekeeperNavigated signals that the target prospect is now on the line.
func NewGatekeeperNavigated() Signal { return Signal{Type: "gatekeeper_navigated"} }

// NewCallbackRequested signals that the prospect asked to be called back.
func NewCallbackRequested() Signal { return Signal{Type: "callback_requested"} }

// NewOptOutDetected signals that the prospect opted out.
func NewOptOutDetected() Signal { return Signal{Type: "opt_out_detected"} }

// VoicemailDetected reports answering-machine detection.
type VoicemailDetected struct {
	Type       string `json:"type"`
	AnsweredBy string `json:"answeredBy"`
}

// NewVoicemailDetected builds a voicemail message with the carrier's verdict.
func NewVoicemailDetected(answeredBy string) VoicemailDetected {
	return VoicemailDetected{Type: "voicemail_detected", AnsweredBy: answeredBy}
}

// LanguageDetected reports a non-English language on the line.
type LanguageDetected struct {
	Type     string `json:"type"`
	Language string `json:"language"`
}

// NewLanguageDetected builds a language message.
func NewLanguageDetected(language string) LanguageDetected {
	return LanguageDetected{Type: "language_detected", Language: language}
}

// MeetingBooked reports a confirmed meeting.
type MeetingBooked struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewMeetingBooked builds a meeting-booked message.
func NewMeetingBooked(message string) MeetingBooked {
	return MeetingBooked{Type: "meeting_booked", Message: message}
}

// CallEnded is the terminal message for a session.
type CallEnded struct {
	Type       string                 `json:"type"`
	Reason     string                 `json:"reason"`
	Transcript []types.TranscriptLine `json:"transcript"`
	Duration   float64                `json:"duration"`
	Scoring    session.Analytics      `json:"scoring"`
}

// NewCallEnded builds the terminal message from the session's final state.
func NewCallEnded(reason string, transcript []types.TranscriptLine, duration time.Duration, scoring session.Analytics) CallEnded {
	return CallEnded{
		Type:       "call_ended",
		Reason:     reason,
		Transcript: transcript,
		Duration:   duration.Seconds(),
		Scoring:    scoring,
	}
}

// Error reports a non-fatal engine error to observers.
type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// NewError builds an error message.
func NewError(message string) Error {
	return Error{Type: "error", Message: message}
}
