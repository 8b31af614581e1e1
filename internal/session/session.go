// Package session holds the per-call state object and the process-global
// session store.
//
// A Session is mutated only from its orchestrator's event loop; the internal
// mutex exists so that HTTP introspection and observer snapshots can read a
// consistent view while the call is live.
package session

import (
	"strings"
	"sync"
	"time"

	"github.com/dialflow-ai/dialflow/internal/detect"
	"github.com/dialflow-ai/dialflow/pkg/types"
)

// Status is the call lifecycle status, tracking the carrier's view of the
// call plus our own pre-placement states.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInitiating Status = "initiating"
	StatusRinging    Status = "ringing"
	StatusConnected  Status = "connected"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
	StatusFailed     Status = "failed"
)

// Terminal reports whether the status ends the call.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusBusy, StatusNoAnswer, StatusCanceled, StatusFailed:
		return true
	}
	return false
}

// Display labels for transcript lines.
const (
	SpeakerAgent     = "Michael"
	SpeakerProspect  = "Prospect"
	SpeakerVoicemail = "Voicemail"
)

// Inputs are the immutable operator-supplied inputs for one call.
type Inputs struct {
	FirstName         string `json:"firstName"`
	LastName          string `json:"lastName,omitempty"`
	Phone             string `json:"phone"`
	Company           string `json:"company"`
	Selling           string `json:"selling"`
	Tone              string `json:"tone,omitempty"`
	Industry          string `json:"industry,omitempty"`
	TargetRole        string `json:"targetRole,omitempty"`
	ValueProps        string `json:"valueProps,omitempty"`
	CommonObjections  string `json:"commonObjections,omitempty"`
	AdditionalContext string `json:"additionalContext,omitempty"`
	Email             string `json:"email,omitempty"`
}

// Flags is the session's boolean state set. A copy is returned to readers;
// mutation goes through the dedicated Session methods.
type Flags struct {
	Speaking            bool
	OpeningSent         bool
	OpeningCooldown     bool
	Gatekeeper          bool
	GatekeeperNavigated bool
	Voicemail           bool
	VoicemailHandled    bool
	NonEnglish          bool
	CallbackRequested   bool
	MeetingBooked       bool
	OptOut              bool
}

// Session is all state for a single call.
type Session struct {
	ID        string
	Inputs    Inputs
	CreatedAt time.Time

	mu              sync.RWMutex
	callSID         string
	streamSID       string
	status          Status
	terminalAt      time.Time
	history         []types.Message
	transcript      []types.TranscriptLine
	flags           Flags
	cooldownCleared bool

	agentWords    int
	prospectWords int
	bargeIns      int
	objections    int
	bant          detect.BANT

	sentimentScore   float64
	sentimentHistory []types.SentimentPoint
	prospectTurns    int

	durationSeconds int
	endReason       string
	callbackTime    string
	language        string
}

// New creates a session in the pending state.
func New(id string, in Inputs) *Session {
	return &Session{
		ID:        id,
		Inputs:    in,
		CreatedAt: time.Now(),
		status:    StatusPending,
	}
}

// ── identity ──

// SetCallSID records the call handle returned by the carrier.
func (s *Session) SetCallSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.callSID = sid
}

// CallSID returns the carrier call handle, empty before placement succeeds.
func (s *Session) CallSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.callSID
}

// SetStreamSID records the media-stream id from the carrier's start event.
func (s *Session) SetStreamSID(sid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamSID = sid
}

// StreamSID returns the media-stream id, empty before the stream starts.
func (s *Session) StreamSID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.streamSID
}

// ── status ──

// Status returns the current lifecycle status.
func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// SetStatus updates the lifecycle status. The first transition into a
// terminal status records the terminal timestamp; later terminal statuses do
// not move it.
func (s *Session) SetStatus(st Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = st
	if st.Terminal() && s.terminalAt.IsZero() {
		s.terminalAt = time.Now()
	}
}

// Terminal reports whether the session has reached a terminal status.
func (s *Session) Terminal() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status.Terminal()
}

// TerminalAt returns when the session first became terminal (zero if it has
// not).
func (s *Session) TerminalAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.terminalAt
}

// SetDuration records the call duration reported by the carrier.
func (s *Session) SetDuration(seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.durationSeconds = seconds
}

// Duration returns the recorded call duration in seconds.
func (s *Session) Duration() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.durationSeconds
}

// SetEndReason records why the call ended ("completed", "opt_out",
// "meeting_booked", "voicemail", ...).
func (s *Session) SetEndReason(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.endReason == "" {
		s.endReason = reason
	}
}

// EndReason returns the recorded end reason.
func (s *Session) EndReason() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.endReason
}

// ── history and transcript ──

// AppendAssistant appends an assistant turn to history and the display
// transcript, updating the agent word count.
func (s *Session) AppendAssistant(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, types.Message{Role: "assistant", Content: text})
	s.transcript = append(s.transcript, types.TranscriptLine{
		Speaker:   SpeakerAgent,
		Text:      text,
		Timestamp: time.Now(),
	})
	s.agentWords += len(strings.Fields(text))
}

// AppendUser appends a prospect turn to history and the display transcript,
// updating the prospect word count and turn counter.
func (s *Session) AppendUser(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, types.Message{Role: "user", Content: text})
	s.transcript = append(s.transcript, types.TranscriptLine{
		Speaker:   SpeakerProspect,
		Text:      text,
		Timestamp: time.Now(),
	})
	s.prospectWords += len(strings.Fields(text))
	s.prospectTurns++
}

// AppendVoicemail appends the voicemail message: an assistant history entry,
// tagged in the display transcript as the voicemail line.
func (s *Session) AppendVoicemail(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, types.Message{Role: "assistant", Content: text})
	s.transcript = append(s.transcript, types.TranscriptLine{
		Speaker:   SpeakerVoicemail,
		Text:      text,
		Timestamp: time.Now(),
	})
	s.agentWords += len(strings.Fields(text))
}

// History returns a copy of the conversation history.
func (s *Session) History() []types.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.Message, len(s.history))
	copy(out, s.history)
	return out
}

// Transcript returns a copy of the display transcript.
func (s *Session) Transcript() []types.TranscriptLine {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]types.TranscriptLine, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// LastExchange returns the most recent (assistant, user) pair where the user
// turn follows the assistant turn, for meeting-booked evaluation. ok is
// false when no such pair exists yet.
func (s *Session) LastExchange() (assistant, user string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.history) - 1; i > 0; i-- {
		if s.history[i].Role == "user" && s.history[i-1].Role == "assistant" {
			return s.history[i-1].Content, s.history[i].Content, true
		}
	}
	return "", "", false
}

// ── flags ──

// Flags returns a copy of the flag set.
func (s *Session) Flags() Flags {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags
}

// MarkOpeningSent latches the opening-sent guard. It returns false when the
// opening was already sent, which is how duplicate start events are made
// idempotent.
func (s *Session) MarkOpeningSent() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.OpeningSent {
		return false
	}
	s.flags.OpeningSent = true
	return true
}

// SetOpeningCooldown raises the opening-cooldown flag.
func (s *Session) SetOpeningCooldown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.OpeningCooldown = true
}

// ClearOpeningCooldown lowers the cooldown flag. It returns true only on the
// first call, so the duration estimate and the safety timer cannot both act.
func (s *Session) ClearOpeningCooldown() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cooldownCleared {
		return false
	}
	s.cooldownCleared = true
	s.flags.OpeningCooldown = false
	return true
}

// SetSpeaking sets or clears the speaking flag.
func (s *Session) SetSpeaking(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flags.Speaking = v
}

// Speaking reports whether assistant audio is currently being enqueued.
func (s *Session) Speaking() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.flags.Speaking
}

// MarkGatekeeper latches the gatekeeper flag. Returns false if already set.
func (s *Session) MarkGatekeeper() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.Gatekeeper {
		return false
	}
	s.flags.Gatekeeper = true
	return true
}

// MarkGatekeeperNavigated latches the navigated flag. Returns false if
// already set or if no gatekeeper was detected first.
func (s *Session) MarkGatekeeperNavigated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.flags.Gatekeeper || s.flags.GatekeeperNavigated {
		return false
	}
	s.flags.GatekeeperNavigated = true
	return true
}

// MarkVoicemail latches the voicemail flag. Returns false if already set.
func (s *Session) MarkVoicemail() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.Voicemail {
		return false
	}
	s.flags.Voicemail = true
	return true
}

// MarkVoicemailHandled latches the voicemail-handled guard so the message
// plays exactly once. Returns false if already handled.
func (s *Session) MarkVoicemailHandled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.VoicemailHandled {
		return false
	}
	s.flags.VoicemailHandled = true
	return true
}

// MarkNonEnglish latches the non-english flag. Returns false if already set.
func (s *Session) MarkNonEnglish(language string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.NonEnglish {
		return false
	}
	s.flags.NonEnglish = true
	s.language = language
	return true
}

// MarkCallbackRequested latches the callback flag and records the free-form
// time anchor, if any. Returns false if already set.
func (s *Session) MarkCallbackRequested(timeAnchor string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.CallbackRequested {
		return false
	}
	s.flags.CallbackRequested = true
	s.callbackTime = timeAnchor
	return true
}

// MarkMeetingBooked latches the meeting-booked flag. Returns false if
// already set.
func (s *Session) MarkMeetingBooked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.MeetingBooked {
		return false
	}
	s.flags.MeetingBooked = true
	return true
}

// MarkOptOut latches the opt-out flag. Returns false if already set.
func (s *Session) MarkOptOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.flags.OptOut {
		return false
	}
	s.flags.OptOut = true
	return true
}

// ── counters, qualification, sentiment ──

// RecordBargeIn increments the barge-in counter and returns the new count.
func (s *Session) RecordBargeIn() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bargeIns++
	return s.bargeIns
}

// BargeIns returns the barge-in count.
func (s *Session) BargeIns() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.bargeIns
}

// RecordObjection increments the objection counter.
func (s *Session) RecordObjection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objections++
}

// MergeBANT folds one utterance's qualification channels into the running
// checklist.
func (s *Session) MergeBANT(b detect.BANT) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bant.Merge(b)
}

// UpdateSentiment folds one prospect utterance into the running sentiment
// score and returns the new score and label. A point is appended to the
// sentiment history keyed by the prospect-turn index.
func (s *Session) UpdateSentiment(utterance string) (score float64, label string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentimentScore = detect.UpdateScore(s.sentimentScore, utterance)
	label = detect.Label(s.sentimentScore)
	s.sentimentHistory = append(s.sentimentHistory, types.SentimentPoint{
		Turn:  s.prospectTurns,
		Score: s.sentimentScore,
		Label: label,
	})
	return s.sentimentScore, label
}

// Sentiment returns the current score and label.
func (s *Session) Sentiment() (score float64, label string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sentimentScore, detect.Label(s.sentimentScore)
}

// ── snapshots ──

// Analytics is the scoring payload attached to call-ended broadcasts and
// introspection responses.
type Analytics struct {
	MichaelWordCount    int                    `json:"michaelWordCount"`
	ProspectWordCount   int                    `json:"prospectWordCount"`
	BargeIns            int                    `json:"bargeIns"`
	Objections          int                    `json:"objections"`
	BANT                detect.BANT            `json:"bant"`
	BANTDepth           int                    `json:"bantDepth"`
	SentimentScore      float64                `json:"sentimentScore"`
	SentimentLabel      string                 `json:"sentimentLabel"`
	SentimentHistory    []types.SentimentPoint `json:"sentimentHistory"`
	Gatekeeper          bool                   `json:"gatekeeper"`
	GatekeeperNavigated bool                   `json:"gatekeeperNavigated"`
	CallbackRequested   bool                   `json:"callbackRequested"`
	CallbackTime        string                 `json:"callbackTime,omitempty"`
	MeetingBooked       bool                   `json:"meetingBooked"`
	OptOut              bool                   `json:"optOut"`
	Voicemail           bool                   `json:"voicemail"`
	Language            string                 `json:"language,omitempty"`
}

// Analytics builds the current scoring payload.
func (s *Session) Analytics() Analytics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hist := make([]types.SentimentPoint, len(s.sentimentHistory))
	copy(hist, s.sentimentHistory)
	return Analytics{
		MichaelWordCount:    s.agentWords,
		ProspectWordCount:   s.prospectWords,
		BargeIns:            s.bargeIns,
		Objections:          s.objections,
		BANT:                s.bant,
		BANTDepth:           s.bant.Depth(),
		SentimentScore:      s.sentimentScore,
		SentimentLabel:      detect.Label(s.sentimentScore),
		SentimentHistory:    hist,
		Gatekeeper:          s.flags.Gatekeeper,
		GatekeeperNavigated: s.flags.GatekeeperNavigated,
		CallbackRequested:   s.flags.CallbackRequested,
		CallbackTime:        s.callbackTime,
		MeetingBooked:       s.flags.MeetingBooked,
		OptOut:              s.flags.OptOut,
		Voicemail:           s.flags.Voicemail,
		Language:            s.language,
	}
}

// Snapshot is the introspection view served over HTTP and sent to observers
// on connect.
type Snapshot struct {
	SessionID    string                 `json:"sessionId"`
	Status       Status                 `json:"status"`
	Transcript   []types.TranscriptLine `json:"transcript"`
	MessageCount int                    `json:"messageCount"`
	Duration     int                    `json:"duration"`
	Analytics    Analytics              `json:"analytics"`
}

// Snapshot builds the current introspection view.
func (s *Session) Snapshot() Snapshot {
	analytics := s.Analytics()
	s.mu.RLock()
	defer s.mu.RUnlock()
	tr := make([]types.TranscriptLine, len(s.transcript))
	copy(tr, s.transcript)
	return Snapshot{
		SessionID:    s.ID,
		Status:       s.status,
		Transcript:   tr,
		MessageCount: len(s.history),
		Duration:     s.durationSeconds,
		Analytics:    analytics,
	}
}
