package sentiment

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/broker"
	"github.com/voidcat/cryptoboy/internal/metrics"
	"github.com/voidcat/cryptoboy/internal/schema"
)

// maxAnalysisContent caps how much article body is fed to the oracles. Titles
// carry most of the sentiment; long bodies only slow inference down.
const maxAnalysisContent = 500

// statsEvery is the article interval for progress logging.
const statsEvery = 20

// Publisher is the broker surface the processor needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Processor consumes raw news, scores each article through the oracle
// cascade, classifies the score and fans one signal out per matched pair.
type Processor struct {
	bus     Publisher
	primary Oracle
	keyword *KeywordOracle
	matcher *PairMatcher

	mu       sync.Mutex
	analyzed int
	fellBack int
}

// NewProcessor wires the cascade. primary may be nil, in which case every
// article goes straight to the keyword scorer.
func NewProcessor(bus Publisher, primary Oracle, matcher *PairMatcher) *Processor {
	return &Processor{
		bus:     bus,
		primary: primary,
		keyword: NewKeywordOracle(),
		matcher: matcher,
	}
}

// Handler returns the queue handler for raw_news_data.
func (p *Processor) Handler() broker.MsgHandler {
	return broker.Safe(schema.QueueRawNews,
		func() *schema.RawNewsMessage { return &schema.RawNewsMessage{} },
		p.process)
}

func (p *Processor) process(ctx context.Context, article *schema.RawNewsMessage) error {
	score, model := p.score(ctx, analysisText(article))
	label := Classify(score)

	pairs := p.matcher.Match(article.Title, article.Content)
	if len(pairs) == 0 {
		log.Debug().Str("article_id", article.ArticleID).Str("title", article.Title).
			Msg("article matched no pairs, dropping")
		p.note(model)
		return nil
	}

	now := time.Now().UTC()
	fallback := p.primary == nil || model != p.primary.Name()
	for _, pair := range pairs {
		signal := &schema.SentimentSignalMessage{
			Timestamp:    article.Timestamp,
			ArticleID:    article.ArticleID,
			Pair:         pair,
			Score:        score,
			Label:        label,
			Headline:     article.Title,
			Source:       article.Source,
			Model:        model,
			FallbackUsed: fallback,
			AnalyzedAt:   now,
		}
		if err := signal.Validate(); err != nil {
			return fmt.Errorf("built invalid signal for %s: %w", pair, err)
		}
		if err := p.bus.Publish(ctx, schema.QueueSentimentSignals, signal); err != nil {
			return fmt.Errorf("%w: publish signal for %s: %v", broker.ErrTransient, pair, err)
		}
		metrics.SignalsPublished.WithLabelValues(pair, model).Inc()
	}

	log.Debug().Str("article_id", article.ArticleID).Float64("score", score).
		Str("label", label).Str("model", model).Int("pairs", len(pairs)).
		Msg("article analyzed")
	p.note(model)
	return nil
}

// score walks the cascade: primary oracle, keyword scorer, neutral default.
// It always produces a usable score.
func (p *Processor) score(ctx context.Context, text string) (float64, string) {
	if p.primary != nil {
		score, err := p.primary.Score(ctx, text)
		if err == nil {
			return score, p.primary.Name()
		}
		log.Warn().Err(err).Msg("primary oracle failed, falling back to keywords")
		metrics.OracleFallbacks.WithLabelValues("keywords").Inc()
	}

	score, err := p.keyword.Score(ctx, text)
	if err == nil {
		return score, p.keyword.Name()
	}
	log.Error().Err(err).Msg("keyword scorer failed, defaulting to neutral")
	metrics.OracleFallbacks.WithLabelValues("neutral").Inc()
	return 0, schema.ModelNeutralDefault
}

func (p *Processor) note(model string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.analyzed++
	if p.primary == nil || model != p.primary.Name() {
		p.fellBack++
	}
	if p.analyzed%statsEvery == 0 {
		log.Info().Int("analyzed", p.analyzed).Int("fallback", p.fellBack).
			Msg("sentiment processor progress")
	}
}

// analysisText builds the oracle input: the headline plus a bounded slice of
// the body.
func analysisText(article *schema.RawNewsMessage) string {
	content := article.Content
	if len(content) > maxAnalysisContent {
		content = content[:maxAnalysisContent]
	}
	text := strings.TrimSpace(article.Title)
	if content != "" {
		text += ". " + content
	}
	return text
}
