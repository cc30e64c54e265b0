// Package news polls RSS feeds from whitelisted crypto outlets, filters for
// relevant articles and publishes them onto raw_news_data exactly once each.
package news

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/voidcat/cryptoboy/internal/metrics"
	"github.com/voidcat/cryptoboy/internal/schema"
)

const (
	maxSummaryLen = 500
	maxContentLen = 2000

	// seenHighWater / seenLowWater bound the dedup set. When it grows past
	// the high water mark the oldest entries are pruned down to the low one.
	seenHighWater = 10000
	seenLowWater  = 8000
)

// relevanceKeywords gate which feed items enter the pipeline at all. Feeds
// from crypto outlets still carry off-topic items (company news, ads).
var relevanceKeywords = []string{
	"bitcoin", "btc", "ethereum", "eth", "crypto", "cryptocurrency",
	"blockchain", "defi", "altcoin", "solana", "ripple", "xrp", "cardano",
	"binance", "stablecoin", "token", "web3", "nft",
}

var htmlTagPattern = regexp.MustCompile(`<[^>]*>`)

// Publisher is the broker surface the poller needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Poller fetches the configured feeds on an interval and publishes new,
// relevant articles. Articles are deduplicated by a hash of title and link,
// and only marked seen once their publish succeeded, so a broker outage
// cannot silently drop them.
type Poller struct {
	bus      Publisher
	feeds    map[string]string
	interval time.Duration
	parser   *gofeed.Parser
	limiter  *rate.Limiter

	seen      map[string]struct{}
	seenOrder []string

	published int
}

// NewPoller builds a poller over the given source name to feed URL map.
func NewPoller(bus Publisher, feeds map[string]string, interval time.Duration) *Poller {
	return &Poller{
		bus:      bus,
		feeds:    feeds,
		interval: interval,
		parser:   gofeed.NewParser(),
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		seen:     make(map[string]struct{}),
	}
}

// Run polls until the context is cancelled. The first cycle starts
// immediately.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Int("feeds", len(p.feeds)).Dur("interval", p.interval).Msg("news poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		p.cycle(ctx)
		select {
		case <-ctx.Done():
			log.Info().Int("published_total", p.published).Msg("news poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// cycle polls every feed once. A failing feed is logged and skipped; the
// remaining feeds still run.
func (p *Poller) cycle(ctx context.Context) {
	var published int
	for source, url := range p.feeds {
		if err := p.limiter.Wait(ctx); err != nil {
			return
		}
		n, err := p.pollFeed(ctx, source, url)
		if err != nil {
			log.Warn().Err(err).Str("source", source).Msg("feed poll failed")
			metrics.Errors.WithLabelValues("news-poller").Inc()
			continue
		}
		published += n
	}
	log.Info().Int("published", published).Int("seen", len(p.seen)).Msg("poll cycle complete")
}

func (p *Poller) pollFeed(ctx context.Context, source, url string) (int, error) {
	feed, err := p.parser.ParseURLWithContext(url, ctx)
	if err != nil {
		return 0, fmt.Errorf("news: parse %s: %w", url, err)
	}

	var published int
	for _, item := range feed.Items {
		id := ArticleID(item.Title, item.Link)
		if _, dup := p.seen[id]; dup {
			continue
		}

		msg := buildMessage(source, id, item)
		if msg == nil {
			// Irrelevant or malformed items are marked seen so they are
			// not re-examined every cycle.
			p.markSeen(id)
			continue
		}

		if err := p.bus.Publish(ctx, schema.QueueRawNews, msg); err != nil {
			// Not marked seen: the next cycle retries it.
			return published, fmt.Errorf("news: publish %s: %w", id, err)
		}
		p.markSeen(id)
		published++
		p.published++
		metrics.ArticlesPublished.WithLabelValues(source).Inc()
	}
	return published, nil
}

// buildMessage converts a feed item to a queue payload, or nil when the item
// is off-topic or fails schema validation.
func buildMessage(source, id string, item *gofeed.Item) *schema.RawNewsMessage {
	title := strings.TrimSpace(item.Title)
	content := StripHTML(firstNonEmpty(item.Content, item.Description))
	if !Relevant(title + " " + content) {
		return nil
	}

	published := time.Now().UTC()
	if item.PublishedParsed != nil {
		published = item.PublishedParsed.UTC()
	}

	msg := &schema.RawNewsMessage{
		Timestamp: published,
		ArticleID: id,
		Source:    source,
		Title:     title,
		URL:       item.Link,
		Summary:   Truncate(StripHTML(item.Description), maxSummaryLen),
		Content:   Truncate(content, maxContentLen),
		FetchedAt: time.Now().UTC(),
	}
	if err := msg.Validate(); err != nil {
		log.Debug().Err(err).Str("title", title).Msg("skipping invalid feed item")
		return nil
	}
	return msg
}

func (p *Poller) markSeen(id string) {
	if _, ok := p.seen[id]; ok {
		return
	}
	p.seen[id] = struct{}{}
	p.seenOrder = append(p.seenOrder, id)
	if len(p.seen) > seenHighWater {
		drop := len(p.seenOrder) - seenLowWater
		for _, old := range p.seenOrder[:drop] {
			delete(p.seen, old)
		}
		p.seenOrder = append([]string(nil), p.seenOrder[drop:]...)
	}
}

// ArticleID derives the stable dedup key for a feed item.
func ArticleID(title, link string) string {
	sum := md5.Sum([]byte(title + "_" + link))
	return hex.EncodeToString(sum[:])
}

// Relevant reports whether text mentions any crypto keyword.
func Relevant(text string) bool {
	lower := strings.ToLower(text)
	for _, kw := range relevanceKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// StripHTML removes markup and collapses whitespace.
func StripHTML(s string) string {
	return strings.Join(strings.Fields(htmlTagPattern.ReplaceAllString(s, " ")), " ")
}

// Truncate bounds s to max bytes.
func Truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
