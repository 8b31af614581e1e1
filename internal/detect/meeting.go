package detect

import "regexp"

// A meeting is only considered booked when three independent gates all pass
// on the most recent (assistant, user) exchange:
//
//  1. The combined text names a specific time AND a specific day.
//  2. The user side contains a confirmation phrase.
//  3. The assistant side contains scheduling language.
//
// A vague "sometime next week" or a confirmation without a concrete slot
// must not fire.

var confirmationPhraseRe = regexp.MustCompile(`\bsounds (good|great|perfect)\b|\bthat works\b|\bworks for me\b|` +
	`\bsee you then\b|\blet'?s do it\b|\bbook it\b|\bconfirmed\b|\bi'?ll be there\b|\blooking forward\b`)

// Simple affirmations only confirm when adjacent to a scheduling-flavored
// word, so a bare "yeah" mid-conversation does not book a meeting.
var affirmationNearScheduleRe = regexp.MustCompile(`\b(yes|yeah|yep|sure|okay|ok|perfect|great|sounds)\b.{0,40}\b(work|book|perfect|great|good|deal)\b|` +
	`\b(work|book|perfect|great)\w*\b.{0,40}\b(yes|yeah|yep|sure|okay|ok)\b`)

var schedulingPhraseRe = regexp.MustCompile(`\bcalendar invite\b|\bi'?ve got you down\b|\bi have you down\b|` +
	`\bpencil you in\b|\bdoes that work\b|\bput you down for\b|\bbooked? you\b|\bscheduled? you\b|` +
	`\block(ed)? (that|you) in\b|\bon (the|your|my) calendar\b|\bsend (you |over )?an? invite\b|\bhold that (time|slot)\b`)

// MeetingBooked evaluates the strict three-gate conjunction over the most
// recent assistant/user pair.
func MeetingBooked(assistantText, userText string) bool {
	assistant := normalize(assistantText)
	user := normalize(userText)
	combined := assistant + " " + user

	if !clockTimeRe.MatchString(combined) || !specificDayRe.MatchString(combined) {
		return false
	}
	if !userConfirms(user) {
		return false
	}
	return schedulingPhraseRe.MatchString(assistant)
}

// userConfirms reports whether the (already normalized) user side contains a
// confirmation.
func userConfirms(user string) bool {
	return confirmationPhraseRe.MatchString(user) || affirmationNearScheduleRe.MatchString(user)
}
