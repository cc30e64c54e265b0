// Package cacher materializes sentiment signals into the cache so the
// trading strategy can read the latest sentiment per pair in constant time.
package cacher

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/broker"
	"github.com/voidcat/cryptoboy/internal/cache"
	"github.com/voidcat/cryptoboy/internal/metrics"
	"github.com/voidcat/cryptoboy/internal/schema"
)

// maxCachedHeadline bounds the headline stored in the latest-signal hash;
// history entries keep an even shorter one.
const (
	maxCachedHeadline  = 100
	maxHistoryHeadline = 50
)

// statsEvery is the signal interval for progress logging.
const statsEvery = 50

// Archiver persists signals to long-term storage. Optional: a nil archiver
// disables archiving.
type Archiver interface {
	Insert(ctx context.Context, signal *schema.SentimentSignalMessage) error
}

// historyRecord is the compact per-signal entry kept in the history list.
// Timestamp is the analysis time, matching the latest-signal hash.
type historyRecord struct {
	Score     float64 `json:"score"`
	Label     string  `json:"label"`
	Timestamp string  `json:"timestamp"`
	Headline  string  `json:"headline"`
}

// Cacher consumes sentiment_signals_queue and writes each signal twice:
// the latest-signal hash at sentiment:{pair}, overwritten on every update,
// and the bounded history list at sentiment_history:{pair}.
type Cacher struct {
	store   *cache.Client
	archive Archiver
	ttl     time.Duration

	mu     sync.Mutex
	cached int
}

// New builds a cacher. ttl 0 keeps signals until overwritten; staleness is
// then the strategy's decision, not the cache's.
func New(store *cache.Client, archive Archiver, ttl time.Duration) *Cacher {
	return &Cacher{store: store, archive: archive, ttl: ttl}
}

// Handler returns the queue handler for sentiment_signals_queue.
func (c *Cacher) Handler() broker.MsgHandler {
	return broker.Safe(schema.QueueSentimentSignals,
		func() *schema.SentimentSignalMessage { return &schema.SentimentSignalMessage{} },
		c.cacheSignal)
}

func (c *Cacher) cacheSignal(ctx context.Context, signal *schema.SentimentSignalMessage) error {
	key := cache.SignalKey(signal.Pair)
	// timestamp is the analysis time, not the article publish time; the
	// strategy's staleness check keys off this field.
	fields := map[string]any{
		"score":      signal.Score,
		"label":      signal.Label,
		"timestamp":  signal.AnalyzedAt.UTC().Format(time.RFC3339),
		"headline":   truncate(signal.Headline, maxCachedHeadline),
		"source":     signal.Source,
		"article_id": signal.ArticleID,
		"model":      signal.Model,
	}
	if err := c.store.HSetJSON(ctx, key, fields); err != nil {
		return fmt.Errorf("%w: cache signal %s: %v", broker.ErrTransient, signal.Pair, err)
	}
	if err := c.store.Expire(ctx, key, c.ttl); err != nil {
		return fmt.Errorf("%w: expire %s: %v", broker.ErrTransient, key, err)
	}
	metrics.CacheUpdates.WithLabelValues("latest").Inc()

	entry, err := json.Marshal(historyRecord{
		Score:     signal.Score,
		Label:     signal.Label,
		Timestamp: signal.AnalyzedAt.UTC().Format(time.RFC3339),
		Headline:  truncate(signal.Headline, maxHistoryHeadline),
	})
	if err != nil {
		return fmt.Errorf("cacher: marshal history entry: %w", err)
	}
	historyKey := cache.HistoryKey(signal.Pair)
	if err := c.store.LPushTrim(ctx, historyKey, string(entry), cache.HistoryLimit); err != nil {
		return fmt.Errorf("%w: history %s: %v", broker.ErrTransient, historyKey, err)
	}
	metrics.CacheUpdates.WithLabelValues("history").Inc()

	if c.archive != nil {
		// Archive failures are logged, not requeued: the cache write is the
		// load-bearing one and already succeeded.
		if err := c.archive.Insert(ctx, signal); err != nil {
			log.Warn().Err(err).Str("pair", signal.Pair).Msg("signal archive insert failed")
			metrics.Errors.WithLabelValues("signal-cacher").Inc()
		}
	}

	c.mu.Lock()
	c.cached++
	if c.cached%statsEvery == 0 {
		log.Info().Int("cached", c.cached).Msg("signal cacher progress")
	}
	c.mu.Unlock()

	log.Debug().Str("pair", signal.Pair).Float64("score", signal.Score).
		Str("label", signal.Label).Msg("signal cached")
	return nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
