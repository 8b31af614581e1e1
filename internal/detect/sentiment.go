package detect

import "regexp"

// Sentiment label thresholds on the running score.
const (
	ScoreMin = -10.0
	ScoreMax = 10.0

	// decay is applied to the prior score before adding the new delta, so
	// old turns fade rather than pinning the score forever.
	decay = 0.85
)

// Sentiment labels.
const (
	LabelHostile      = "hostile"
	LabelNegative     = "negative"
	LabelNeutral      = "neutral"
	LabelPositive     = "positive"
	LabelEnthusiastic = "enthusiastic"
)

// weightedPattern is one sentiment signal with its contribution to the delta.
type weightedPattern struct {
	re     *regexp.Regexp
	weight float64
}

var positivePatterns = []weightedPattern{
	{regexp.MustCompile(`\b(love|awesome|fantastic|excellent)\b`), 2.0},
	{regexp.MustCompile(`\bsounds (good|great|interesting)\b`), 1.5},
	{regexp.MustCompile(`\b(tell me more|go ahead|go on)\b`), 1.5},
	{regexp.MustCompile(`\b(i'?m|im|very|really|definitely) interested\b|\bintriguing\b`), 1.5},
	{regexp.MustCompile(`\bthat works\b`), 1.5},
	{regexp.MustCompile(`\b(perfect|great|wonderful)\b`), 1.0},
	{regexp.MustCompile(`\b(absolutely|definitely|for sure)\b`), 1.0},
	{regexp.MustCompile(`\bmakes sense\b`), 1.0},
	{regexp.MustCompile(`\b(good|fair) point\b`), 1.0},
	{regexp.MustCompile(`\b(sure|yeah|yes)\b`), 0.5},
	{regexp.MustCompile(`\b(thanks|thank you|appreciate)\b`), 0.5},
}

var negativePatterns = []weightedPattern{
	{regexp.MustCompile(`\b(scam|scammer|fraud)\b`), -3.0},
	{regexp.MustCompile(`\b(stop calling|never call|leave me alone)\b`), -3.0},
	{regexp.MustCompile(`\b(hate|terrible|awful|garbage)\b`), -2.5},
	{regexp.MustCompile(`\bwast(e|ing) (of |my )?time\b`), -2.0},
	{regexp.MustCompile(`\b(annoying|ridiculous|harassing)\b`), -2.0},
	{regexp.MustCompile(`\bnot interested\b`), -1.5},
	{regexp.MustCompile(`\bdon'?t (care|want|need)\b`), -1.5},
	{regexp.MustCompile(`\b(too expensive|no budget|can'?t afford)\b`), -1.0},
	{regexp.MustCompile(`\bno thanks?\b`), -1.0},
	{regexp.MustCompile(`\b(busy|bad time|not a good time)\b`), -0.5},
}

// ScoreDelta computes the sentiment contribution of a single utterance.
// Pattern weights accumulate; when no pattern fires, a short (≤2 word)
// utterance contributes −0.5 (terse, disengaged) and a long (>20 word)
// utterance contributes +1 (engaged enough to elaborate).
func ScoreDelta(utterance string) float64 {
	text := normalize(utterance)
	var delta float64
	matched := false
	for _, p := range positivePatterns {
		if p.re.MatchString(text) {
			delta += p.weight
			matched = true
		}
	}
	negative := false
	for _, p := range negativePatterns {
		if p.re.MatchString(text) {
			delta += p.weight
			matched = true
			negative = true
		}
	}
	words := wordCount(text)
	if words > 0 && words <= 2 && !matched {
		return -0.5
	}
	if words > 20 && !negative {
		delta += 1.0
	}
	return delta
}

// UpdateScore folds one utterance into the running sentiment score:
// score ← clamp(score·0.85 + delta, −10, +10).
func UpdateScore(prev float64, utterance string) float64 {
	score := prev*decay + ScoreDelta(utterance)
	if score > ScoreMax {
		score = ScoreMax
	}
	if score < ScoreMin {
		score = ScoreMin
	}
	return score
}

// Label derives the categorical sentiment label from a score.
func Label(score float64) string {
	switch {
	case score <= -6:
		return LabelHostile
	case score <= -2:
		return LabelNegative
	case score <= 2:
		return LabelNeutral
	case score <= 6:
		return LabelPositive
	default:
		return LabelEnthusiastic
	}
}
