package detect

import "regexp"

var optOutRe = regexp.MustCompile(`\bstop calling\b|\btake me off\b|\bdon'?t call\b|\bdo not call\b|` +
	`\bremove me\b|\bno more calls\b|\bunsubscribe\b|(^|\s)stop[\s.!?]*$`)

// IsOptOut reports whether the utterance is a do-not-call request. A
// standalone "stop" only counts at the end of the utterance, so "stop by our
// office" does not fire.
func IsOptOut(utterance string) bool {
	return optOutRe.MatchString(normalize(utterance))
}

var gatekeeperRe = regexp.MustCompile(`\bwho'?s calling\b|\bwho is calling\b|\bwhat'?s this (regarding|about)\b|` +
	`\bwhat is this (regarding|about)\b|\bmay i ask (who|what)\b|\bwho should i say\b|` +
	`\b(she|he)'?s (in a meeting|not available|busy|out|unavailable)\b|` +
	`\b(she|he) is (in a meeting|not available|busy|out|unavailable)\b|` +
	`\blet me (transfer|connect|put you through)\b|\bfront desk\b|\breception\b|` +
	`\bcan i take a message\b|\btake a message\b|\b(his|her) (office|assistant)\b`)

// IsGatekeeper reports whether the utterance sounds like a receptionist or
// assistant screening the call rather than the prospect themselves.
func IsGatekeeper(utterance string) bool {
	return gatekeeperRe.MatchString(normalize(utterance))
}

var recognitionCueRe = regexp.MustCompile(`\bspeaking\b|\bthis is\b|\bhi\b|\bhello\b|\byou'?ve got\b|\byou got\b`)

var callbackRe = regexp.MustCompile(`\bcall (me )?back\b|\bbad time\b|\b(i'?m|im) (busy|driving|in a meeting)\b|` +
	`\bin the middle of\b|\btry (me )?(again )?later\b|\bcall me (later|tomorrow)\b|` +
	`\banother time\b|\bnot a good time\b|\bcatch me (later|another)\b|\breach me\b`)

// CallbackRequest reports whether the utterance asks to be called back, and
// captures any time anchor it contains ("tomorrow at 2 pm", "Friday
// morning"). The anchor is the raw matched text, kept free-form for the
// debrief.
func CallbackRequest(utterance string) (requested bool, timeAnchor string) {
	text := normalize(utterance)
	if !callbackRe.MatchString(text) {
		return false, ""
	}
	for _, re := range []*regexp.Regexp{clockTimeRe, specificDayRe, vagueTimeRe} {
		if m := re.FindString(text); m != "" {
			if timeAnchor != "" {
				timeAnchor += " "
			}
			timeAnchor += m
		}
	}
	return true, timeAnchor
}

var objectionRe = regexp.MustCompile(`\bnot interested\b|\btoo expensive\b|\bno budget\b|\bcan'?t afford\b|` +
	`\bsend (me )?(an )?email\b|\bsend (me )?(some )?(information|info)\b|\bhow did you get\b|` +
	`\balready (have|using|work with)\b|\bwe'?re (all set|good|covered)\b|\bdon'?t need\b|` +
	`\bno thanks?\b|\bnot looking\b|\bhappy with (our|my|what)\b|\bnot the right time\b`)

// IsObjection reports whether the utterance is a recognizable sales
// pushback. Each detection increments the session's objection counter.
func IsObjection(utterance string) bool {
	return objectionRe.MatchString(normalize(utterance))
}

// BANT holds the four qualification channels. Each channel latches on its
// own pattern family; Depth is the number of channels touched so far.
type BANT struct {
	Budget    bool `json:"budget"`
	Authority bool `json:"authority"`
	Need      bool `json:"need"`
	Timeline  bool `json:"timeline"`
}

var (
	budgetRe    = regexp.MustCompile(`\bbudget\b|\bcost\b|\bprice\b|\bpricing\b|\bhow much\b|\bexpensive\b|\bafford\b|\broi\b|\binvestment\b`)
	authorityRe = regexp.MustCompile(`\b(i'?m|i am) the\b|\bdecision maker\b|\bi (decide|handle|run|own)\b|\bmy (call|decision)\b|` +
		`\bin charge\b|\b(owner|founder|ceo|director|manager|vp)\b|\b(talk|check) (to|with) my (boss|team|partner)\b`)
	needRe = regexp.MustCompile(`\bwe need\b|\blooking for\b|\bproblem\b|\bchallenge\b|\bstruggl\w*\b|` +
		`\bpain point\b|\bissue\b|\bsolution\b|\bimprove\b|\bfix\b|\bhelp (us|me) with\b`)
	timelineRe = regexp.MustCompile(`\b(next|this) (week|month|quarter|year)\b|\bsoon\b|\btimeline\b|` +
		`\bby (the )?end of\b|\basap\b|\bright away\b|\bimmediately\b|\bq[1-4]\b`)
)

// DetectBANT classifies one utterance across the four channels. The result
// is OR-ed into the session's running checklist by the caller.
func DetectBANT(utterance string) BANT {
	text := normalize(utterance)
	return BANT{
		Budget:    budgetRe.MatchString(text),
		Authority: authorityRe.MatchString(text),
		Need:      needRe.MatchString(text),
		Timeline:  timelineRe.MatchString(text),
	}
}

// Merge ORs another detection result into the checklist.
func (b *BANT) Merge(o BANT) {
	b.Budget = b.Budget || o.Budget
	b.Authority = b.Authority || o.Authority
	b.Need = b.Need || o.Need
	b.Timeline = b.Timeline || o.Timeline
}

// Depth returns the number of qualified channels.
func (b BANT) Depth() int {
	n := 0
	for _, v := range []bool{b.Budget, b.Authority, b.Need, b.Timeline} {
		if v {
			n++
		}
	}
	return n
}
