package strategy

import (
	"context"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/cache"
)

// DefaultStaleAfter is how old a cached signal may be, relative to the
// candle it joins, before it counts as neutral.
const DefaultStaleAfter = 4 * time.Hour

// Sentiment is one cached signal as the strategy sees it.
type Sentiment struct {
	Score     float64
	Label     string
	Timestamp time.Time
	Headline  string
	ArticleID string
}

// SentimentReader reads the latest cached signal per pair and applies the
// staleness rule.
type SentimentReader struct {
	store      *cache.Client
	staleAfter time.Duration
}

// NewSentimentReader builds a reader. staleAfter 0 selects the default.
func NewSentimentReader(store *cache.Client, staleAfter time.Duration) *SentimentReader {
	if staleAfter <= 0 {
		staleAfter = DefaultStaleAfter
	}
	return &SentimentReader{store: store, staleAfter: staleAfter}
}

// Neutral is the sentiment used when no usable signal exists.
func Neutral() Sentiment {
	return Sentiment{Score: 0, Label: "neutral"}
}

// Read returns the sentiment for a pair as of asOf. Missing keys, malformed
// fields and stale signals all degrade to neutral rather than erroring: a
// cache problem must never halt candle processing.
func (r *SentimentReader) Read(ctx context.Context, pair string, asOf time.Time) Sentiment {
	fields, err := r.store.HGetAll(ctx, cache.SignalKey(pair))
	if err != nil {
		log.Warn().Err(err).Str("pair", pair).Msg("sentiment read failed, using neutral")
		return Neutral()
	}
	if len(fields) == 0 {
		return Neutral()
	}

	score, err := strconv.ParseFloat(fields["score"], 64)
	if err != nil {
		log.Warn().Str("pair", pair).Str("score", fields["score"]).
			Msg("malformed cached score, using neutral")
		return Neutral()
	}
	ts, err := time.Parse(time.RFC3339, fields["timestamp"])
	if err != nil {
		log.Warn().Str("pair", pair).Str("timestamp", fields["timestamp"]).
			Msg("malformed cached timestamp, using neutral")
		return Neutral()
	}

	// Exactly at the threshold is still fresh.
	if age := asOf.Sub(ts); age > r.staleAfter {
		log.Debug().Str("pair", pair).Dur("age", age).Msg("cached signal stale, using neutral")
		return Neutral()
	}

	return Sentiment{
		Score:     score,
		Label:     fields["label"],
		Timestamp: ts,
		Headline:  fields["headline"],
		ArticleID: fields["article_id"],
	}
}
