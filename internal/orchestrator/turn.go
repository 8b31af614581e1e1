package orchestrator

import (
	"strings"
	"time"

	"github.com/dialflow-ai/dialflow/pkg/types"
)

// Timers collects every delay the engine schedules. The zero value of any
// field is replaced by its default, so tests can shrink only the delays they
// exercise.
type Timers struct {
	// OpeningDelay is how long after media start the opening is requested.
	OpeningDelay time.Duration

	// OpeningSafety force-clears the opening cooldown if nothing else did.
	OpeningSafety time.Duration

	// NoAudioCooldown clears the cooldown when the opening produced no audio.
	NoAudioCooldown time.Duration

	// CooldownPadding is added to the opening playback estimate.
	CooldownPadding time.Duration

	// CompleteWait, AmbiguousWait and MidThoughtWait are the semantic
	// end-of-turn waits armed per final transcript.
	CompleteWait   time.Duration
	AmbiguousWait  time.Duration
	MidThoughtWait time.Duration

	// OptOutHangupDelay is the hangup delay after the opt-out
	// acknowledgement starts playing.
	OptOutHangupDelay time.Duration

	// MeetingGrace is the pause between a confirmed booking and the closing
	// line, leaving the prospect room to speak naturally.
	MeetingGrace time.Duration

	// MeetingHangupDelay is the hangup delay after the closing line is
	// delivered.
	MeetingHangupDelay time.Duration

	// VoicemailPadding is added to the voicemail playback estimate before
	// hanging up. Also pads the language-apology hangup.
	VoicemailPadding time.Duration
}

// DefaultTimers returns the production delays.
func DefaultTimers() Timers {
	return Timers{
		OpeningDelay:       800 * time.Millisecond,
		OpeningSafety:      15 * time.Second,
		NoAudioCooldown:    6 * time.Second,
		CooldownPadding:    1500 * time.Millisecond,
		CompleteWait:       300 * time.Millisecond,
		AmbiguousWait:      600 * time.Millisecond,
		MidThoughtWait:     1500 * time.Millisecond,
		OptOutHangupDelay:  4 * time.Second,
		MeetingGrace:       2 * time.Second,
		MeetingHangupDelay: 17 * time.Second,
		VoicemailPadding:   2 * time.Second,
	}
}

// withDefaults replaces zero fields with the production values.
func (t Timers) withDefaults() Timers {
	d := DefaultTimers()
	if t.OpeningDelay == 0 {
		t.OpeningDelay = d.OpeningDelay
	}
	if t.OpeningSafety == 0 {
		t.OpeningSafety = d.OpeningSafety
	}
	if t.NoAudioCooldown == 0 {
		t.NoAudioCooldown = d.NoAudioCooldown
	}
	if t.CooldownPadding == 0 {
		t.CooldownPadding = d.CooldownPadding
	}
	if t.CompleteWait == 0 {
		t.CompleteWait = d.CompleteWait
	}
	if t.AmbiguousWait == 0 {
		t.AmbiguousWait = d.AmbiguousWait
	}
	if t.MidThoughtWait == 0 {
		t.MidThoughtWait = d.MidThoughtWait
	}
	if t.OptOutHangupDelay == 0 {
		t.OptOutHangupDelay = d.OptOutHangupDelay
	}
	if t.MeetingGrace == 0 {
		t.MeetingGrace = d.MeetingGrace
	}
	if t.MeetingHangupDelay == 0 {
		t.MeetingHangupDelay = d.MeetingHangupDelay
	}
	if t.VoicemailPadding == 0 {
		t.VoicemailPadding = d.VoicemailPadding
	}
	return t
}

// turnWait maps a final's turn classification to its dispatch wait.
func (t Timers) turnWait(status types.TurnStatus) time.Duration {
	switch status {
	case types.TurnComplete:
		return t.CompleteWait
	case types.TurnMidThought:
		return t.MidThoughtWait
	default:
		return t.AmbiguousWait
	}
}

// turnBuffer accumulates final fragments into one in-flight user turn.
// Fragments join with single spaces on flush.
type turnBuffer struct {
	parts []string
}

// add appends a fragment. Whitespace-only fragments are dropped.
func (b *turnBuffer) add(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}
	b.parts = append(b.parts, text)
	return true
}

// empty reports whether any fragment is buffered.
func (b *turnBuffer) empty() bool {
	return len(b.parts) == 0
}

// flush joins and clears the buffered fragments.
func (b *turnBuffer) flush() string {
	text := strings.Join(b.parts, " ")
	b.parts = nil
	return text
}
