// Package schema defines the typed payloads carried on the pipeline queues
// and the validation applied at every consume site.
package schema

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"
)

// Queue names are wire-level and shared by every service.
const (
	QueueRawNews          = "raw_news_data"
	QueueRawMarketData    = "raw_market_data"
	QueueSentimentSignals = "sentiment_signals_queue"
)

// Price sanity bounds protect downstream consumers from exchange data errors.
const (
	MinCryptoPrice = 0.000001
	MaxCryptoPrice = 1_000_000.0
)

// PairPattern matches trading pair identifiers such as BTC/USDT.
var PairPattern = regexp.MustCompile(`^[A-Z]{3,5}/[A-Z]{3,5}$`)

// AllowedNewsDomains maps each whitelisted source to the domains its article
// URLs may point at. A source with no entry rejects every URL.
var AllowedNewsDomains = map[string][]string{
	"coindesk":         {"coindesk.com", "www.coindesk.com"},
	"cointelegraph":    {"cointelegraph.com", "www.cointelegraph.com"},
	"decrypt":          {"decrypt.co", "www.decrypt.co"},
	"bitcoin_magazine": {"bitcoinmagazine.com", "www.bitcoinmagazine.com"},
	"cryptoslate":      {"cryptoslate.com", "www.cryptoslate.com"},
	"theblock":         {"theblock.co", "www.theblock.co"},
}

// AllowedModels whitelists the oracle names a sentiment signal may carry.
var AllowedModels = map[string]bool{
	"finbert":                 true,
	"distilroberta-financial": true,
	"ollama":                  true,
	"lmstudio":                true,
	ModelFallbackKeywords:     true,
	ModelNeutralDefault:       true,
}

// Reserved model names used by the oracle cascade.
const (
	ModelFallbackKeywords = "fallback_keywords"
	ModelNeutralDefault   = "neutral_default"
)

// ValidationError reports why a message failed schema validation. Messages
// carrying one are quarantined (acked without requeue), never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("schema: field %q %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// Validator is implemented by every queue payload.
type Validator interface {
	Validate() error
}

// RawNewsMessage is the payload of raw_news_data.
// Sent by the news poller, consumed by the sentiment processor.
type RawNewsMessage struct {
	Timestamp time.Time `json:"timestamp"`
	ArticleID string    `json:"article_id"`
	Source    string    `json:"source"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Summary   string    `json:"summary,omitempty"`
	Content   string    `json:"content"`
	FetchedAt time.Time `json:"fetched_at"`
}

// Validate enforces the source whitelist, URL↔source agreement and field
// length bounds.
func (m *RawNewsMessage) Validate() error {
	if m.Timestamp.IsZero() {
		return invalid("timestamp", "is required")
	}
	source := strings.ToLower(strings.TrimSpace(m.Source))
	if source == "" {
		return invalid("source", "is required")
	}
	domains, ok := AllowedNewsDomains[source]
	if !ok {
		return invalid("source", fmt.Sprintf("%q is not a whitelisted source", m.Source))
	}
	if l := len(m.Title); l < 1 || l > 500 {
		return invalid("title", "must be 1-500 characters")
	}
	if l := len(m.Content); l < 10 || l > 50_000 {
		return invalid("content", "must be 10-50000 characters")
	}
	if !strings.HasPrefix(m.URL, "http://") && !strings.HasPrefix(m.URL, "https://") {
		return invalid("url", "must use http or https")
	}
	u, err := url.Parse(m.URL)
	if err != nil {
		return invalid("url", "is not a valid URL")
	}
	host := strings.ToLower(u.Hostname())
	for _, d := range domains {
		if host == d {
			m.Source = source
			return nil
		}
	}
	return invalid("url", fmt.Sprintf("domain %q does not belong to source %q", host, source))
}

// RawMarketDataMessage is the payload of raw_market_data.
// Sent by the market streamer, consumed by the strategy.
type RawMarketDataMessage struct {
	Timestamp   time.Time `json:"timestamp"`
	TimestampMS int64     `json:"timestamp_ms"`
	Pair        string    `json:"pair"`
	Timeframe   string    `json:"timeframe"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	Volume      float64   `json:"volume"`
}

// Validate enforces the pair pattern, price sanity bounds and the OHLC
// relationships high ≥ max(open, close, low) and low ≤ min(open, close, high).
func (m *RawMarketDataMessage) Validate() error {
	if m.Timestamp.IsZero() {
		return invalid("timestamp", "is required")
	}
	if !PairPattern.MatchString(m.Pair) {
		return invalid("pair", fmt.Sprintf("%q does not match BASE/QUOTE pattern", m.Pair))
	}
	prices := map[string]float64{"open": m.Open, "high": m.High, "low": m.Low, "close": m.Close}
	for field, p := range prices {
		if p <= MinCryptoPrice || p >= MaxCryptoPrice {
			return invalid(field, fmt.Sprintf("price %v outside sanity bounds", p))
		}
	}
	if m.Volume < 0 {
		return invalid("volume", "must be >= 0")
	}
	if m.High < m.Low || m.High < m.Open || m.High < m.Close {
		return invalid("high", "must be >= open, low and close")
	}
	if m.Low > m.Open || m.Low > m.Close {
		return invalid("low", "must be <= open and close")
	}
	return nil
}

// SentimentSignalMessage is the payload of sentiment_signals_queue.
// Sent by the sentiment processor, consumed by the signal cacher.
type SentimentSignalMessage struct {
	Timestamp    time.Time `json:"timestamp"`
	ArticleID    string    `json:"article_id"`
	Pair         string    `json:"pair"`
	Score        float64   `json:"score"`
	Label        string    `json:"label"`
	Headline     string    `json:"headline"`
	Source       string    `json:"source"`
	Confidence   *float64  `json:"confidence,omitempty"`
	Model        string    `json:"model"`
	FallbackUsed bool      `json:"fallback_used"`
	AnalyzedAt   time.Time `json:"analyzed_at"`
}

// Validate enforces the score range, pair pattern and the model whitelist.
func (m *SentimentSignalMessage) Validate() error {
	if m.Timestamp.IsZero() {
		return invalid("timestamp", "is required")
	}
	if !PairPattern.MatchString(m.Pair) {
		return invalid("pair", fmt.Sprintf("%q does not match BASE/QUOTE pattern", m.Pair))
	}
	if m.Score < -1.0 || m.Score > 1.0 {
		return invalid("score", fmt.Sprintf("%v outside [-1, +1]", m.Score))
	}
	if l := len(m.Headline); l < 1 || l > 500 {
		return invalid("headline", "must be 1-500 characters")
	}
	if strings.TrimSpace(m.Source) == "" {
		return invalid("source", "is required")
	}
	if m.Confidence != nil && (*m.Confidence < 0 || *m.Confidence > 1) {
		return invalid("confidence", "must be within [0, 1]")
	}
	if !AllowedModels[strings.ToLower(m.Model)] {
		return invalid("model", fmt.Sprintf("%q is not a whitelisted model", m.Model))
	}
	m.Model = strings.ToLower(m.Model)
	return nil
}

// Decode unmarshals and validates a queue payload in one step. Both failure
// modes are quarantine-worthy: the message can never become valid on retry.
func Decode[T Validator](data []byte, into T) error {
	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("schema: decode: %w", err)
	}
	return into.Validate()
}
