package sentiment

import (
	"context"
	"regexp"

	"github.com/voidcat/cryptoboy/internal/schema"
)

// Fixed polarity vocabularies for the fallback scorer. Matched on word
// boundaries so "gain" does not fire inside "against".
var (
	bullishVocabulary = []string{
		"surge", "surges", "rally", "rallies", "bull", "bullish", "gain", "gains",
		"rise", "rises", "soar", "soars", "adoption", "approval", "approves",
		"breakthrough", "record", "high", "highs", "growth", "institutional",
		"upgrade", "partnership", "milestone", "breakout",
	}
	bearishVocabulary = []string{
		"crash", "crashes", "plunge", "plunges", "bear", "bearish", "drop", "drops",
		"fall", "falls", "dump", "dumps", "ban", "bans", "hack", "hacked", "fraud",
		"selloff", "sell-off", "decline", "declines", "lawsuit", "scam", "low",
		"lows", "fear", "liquidation", "exploit",
	}
)

// KeywordOracle is the deterministic secondary oracle: it scores text as
// (bullish - bearish) / (bullish + bearish + 1) over fixed vocabularies.
// It never errs on ordinary text and needs no network.
type KeywordOracle struct {
	bullish []*regexp.Regexp
	bearish []*regexp.Regexp
}

// NewKeywordOracle compiles the vocabulary matchers.
func NewKeywordOracle() *KeywordOracle {
	return &KeywordOracle{
		bullish: compileVocabulary(bullishVocabulary),
		bearish: compileVocabulary(bearishVocabulary),
	}
}

func compileVocabulary(words []string) []*regexp.Regexp {
	patterns := make([]*regexp.Regexp, 0, len(words))
	for _, w := range words {
		patterns = append(patterns, regexp.MustCompile(`(?i)\b`+regexp.QuoteMeta(w)+`\b`))
	}
	return patterns
}

// Name reports the whitelisted fallback model identifier.
func (o *KeywordOracle) Name() string { return schema.ModelFallbackKeywords }

// Score counts polarity matches and maps them to [-1, +1].
func (o *KeywordOracle) Score(_ context.Context, text string) (float64, error) {
	var bullish, bearish float64
	for _, p := range o.bullish {
		bullish += float64(len(p.FindAllStringIndex(text, -1)))
	}
	for _, p := range o.bearish {
		bearish += float64(len(p.FindAllStringIndex(text, -1)))
	}
	return Clamp((bullish - bearish) / (bullish + bearish + 1)), nil
}
