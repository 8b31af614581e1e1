package detect

import (
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

// NameMatcherOption is a functional option for configuring a [NameMatcher].
type NameMatcherOption func(*NameMatcher)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched token to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) NameMatcherOption {
	return func(m *NameMatcher) {
		m.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the matcher falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) NameMatcherOption {
	return func(m *NameMatcher) {
		m.fuzzyThreshold = threshold
	}
}

// NameMatcher recognizes the prospect's first name in ASR output despite
// misrecognition ("this is Maikel speaking" for "Michael"). It combines
// Double Metaphone phonetic candidate filtering with Jaro-Winkler ranking:
// a token phonetically aligned with the name is accepted at a lenient
// threshold, while a purely string-similar token needs a stricter one.
//
// All methods are safe for concurrent use — the matcher is read-only after
// construction.
type NameMatcher struct {
	phoneticThreshold float64
	fuzzyThreshold    float64
}

// NewNameMatcher returns a matcher with the supplied options applied.
func NewNameMatcher(opts ...NameMatcherOption) *NameMatcher {
	m := &NameMatcher{
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// ContainsName reports whether any token of the utterance plausibly is the
// given first name.
func (m *NameMatcher) ContainsName(utterance, firstName string) bool {
	name := strings.ToLower(strings.TrimSpace(firstName))
	if name == "" {
		return false
	}
	namePrimary, nameSecondary := matchr.DoubleMetaphone(name)

	for _, token := range strings.Fields(normalize(utterance)) {
		token = strings.Trim(token, ".,!?'\"")
		if token == "" {
			continue
		}
		if token == name {
			return true
		}

		score := matchr.JaroWinkler(token, name, false)
		tp, ts := matchr.DoubleMetaphone(token)
		phonetic := codeOverlap(tp, ts, namePrimary, nameSecondary)

		if phonetic && score >= m.phoneticThreshold {
			return true
		}
		if !phonetic && score >= m.fuzzyThreshold {
			return true
		}
	}
	return false
}

// GatekeeperNavigated reports whether the utterance indicates the prospect
// themselves has come on the line: it must contain both the prospect's
// first name and a recognition cue ("speaking", "this is", "hi").
func (m *NameMatcher) GatekeeperNavigated(utterance, firstName string) bool {
	if !recognitionCueRe.MatchString(normalize(utterance)) {
		return false
	}
	return m.ContainsName(utterance, firstName)
}

// codeOverlap reports whether the two Double Metaphone code pairs share any
// non-empty code.
func codeOverlap(a1, a2, b1, b2 string) bool {
	for _, a := range []string{a1, a2} {
		if a == "" {
			continue
		}
		if a == b1 || (b2 != "" && a == b2) {
			return true
		}
	}
	return false
}
