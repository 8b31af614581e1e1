package stt

import (
	"strings"

	"github.com/dialflow-ai/dialflow/pkg/types"
)

// Short affirmatives and closers that read as a finished turn even without
// sentence punctuation.
var closers = []string{
	"yeah", "yep", "yes", "no", "nope", "sure", "okay", "ok",
	"bye", "goodbye", "thanks", "thank you", "right", "exactly",
	"sounds good", "go ahead", "what do you think",
}

// Trailing words that signal the speaker is mid-sentence.
var trailingConjunctions = map[string]struct{}{
	"and": {}, "but": {}, "or": {}, "so": {}, "because": {}, "if": {},
	"when": {}, "while": {}, "although": {}, "since": {}, "unless": {},
	"that": {}, "with": {}, "to": {}, "the": {}, "a": {}, "an": {},
	"for": {}, "at": {}, "in": {}, "of": {}, "my": {}, "your": {},
}

// Trailing hedges and cliffhangers: the speaker paused but is very likely
// to continue.
var trailingHedges = []string{
	"i think", "you know", "like", "i mean", "i guess", "sort of",
	"kind of", "honestly", "basically", "actually", "well", "um", "uh",
	"such as", "for example",
}

// ClassifyTurn applies the local end-of-turn heuristic to a final
// transcript fragment.
//
// Complete: ends with sentence punctuation, ends with a short closer, or is
// at most three words. Mid-thought: ends with a conjunction, a comma, an
// ellipsis, or a hedge. Everything else is ambiguous.
func ClassifyTurn(text string) types.TurnStatus {
	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return types.TurnAmbiguous
	}

	if strings.HasSuffix(t, "...") {
		return types.TurnMidThought
	}
	if strings.HasSuffix(t, ".") || strings.HasSuffix(t, "!") || strings.HasSuffix(t, "?") {
		return types.TurnComplete
	}
	if strings.HasSuffix(t, ",") {
		return types.TurnMidThought
	}

	stripped := strings.TrimRight(t, ".,!?;:'\" ")
	for _, c := range closers {
		if stripped == c || strings.HasSuffix(stripped, " "+c) {
			return types.TurnComplete
		}
	}
	words := strings.Fields(stripped)
	if len(words) <= 3 {
		return types.TurnComplete
	}

	if _, ok := trailingConjunctions[words[len(words)-1]]; ok {
		return types.TurnMidThought
	}
	for _, h := range trailingHedges {
		if stripped == h || strings.HasSuffix(stripped, " "+h) {
			return types.TurnMidThought
		}
	}

	return types.TurnAmbiguous
}
