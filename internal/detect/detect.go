// Package detect implements the deterministic sentiment and intent
// classifiers applied to prospect utterances: running sentiment with decay,
// opt-out, gatekeeper, callback-request, objection, BANT qualification, and
// meeting-booked detection.
//
// Every detector is a pure function of its inputs (plus, for sentiment, the
// prior score). None of them read session state or make external calls —
// this keeps them trivially property-testable and safe to run from any
// goroutine.
package detect

import (
	"regexp"
	"strings"
)

// Time and day anchors are shared by the callback detector (capturing a
// requested callback time) and the meeting-booked detector (requiring a
// specific slot).
var (
	// clockTimeRe matches a specific clock time: "14:30", "2 pm", "2:30pm".
	clockTimeRe = regexp.MustCompile(`\b\d{1,2}:\d{2}\b|\b\d{1,2}\s?[ap]\.?m\.?\b`)

	// specificDayRe matches a specific calendar day: a weekday, "tomorrow",
	// "next <weekday>", or "<month> <day>".
	specificDayRe = regexp.MustCompile(`\b(monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow)\b|` +
		`\bnext\s+(monday|tuesday|wednesday|thursday|friday|saturday|sunday|week)\b|` +
		`\b(january|february|march|april|may|june|july|august|september|october|november|december)\s+\d{1,2}\b`)

	// vagueTimeRe matches looser time-of-day references, accepted only for
	// callback capture, never for meeting booking.
	vagueTimeRe = regexp.MustCompile(`\b(morning|afternoon|evening|tonight|later today|end of (the )?day|end of (the )?week)\b`)
)

// normalize lowercases and trims an utterance for pattern matching.
func normalize(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// wordCount counts whitespace-separated tokens.
func wordCount(text string) int {
	return len(strings.Fields(text))
}

// HasSpecificTime reports whether text contains a concrete clock time.
func HasSpecificTime(text string) bool {
	return clockTimeRe.MatchString(normalize(text))
}

// HasSpecificDay reports whether text contains a concrete calendar day.
func HasSpecificDay(text string) bool {
	return specificDayRe.MatchString(normalize(text))
}
