package sentiment

// Sentiment labels, the deterministic buckets of a score.
const (
	LabelVeryBullish = "very_bullish"
	LabelBullish     = "bullish"
	LabelNeutral     = "neutral"
	LabelBearish     = "bearish"
	LabelVeryBearish = "very_bearish"
)

// Classification thresholds.
const (
	veryBullishThreshold = 0.7
	bullishThreshold     = 0.3
	bearishThreshold     = -0.3
	veryBearishThreshold = -0.7
)

// Classify buckets a score into its label. Scores outside [-1, +1] are
// clamped first, so the function is total over all floats.
func Classify(score float64) string {
	score = Clamp(score)
	switch {
	case score >= veryBullishThreshold:
		return LabelVeryBullish
	case score >= bullishThreshold:
		return LabelBullish
	case score <= veryBearishThreshold:
		return LabelVeryBearish
	case score <= bearishThreshold:
		return LabelBearish
	default:
		return LabelNeutral
	}
}
