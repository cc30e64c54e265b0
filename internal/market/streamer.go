package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/metrics"
	"github.com/voidcat/cryptoboy/internal/schema"
)

// reconnectDelay is the pause before redialing a failed stream.
const reconnectDelay = 5 * time.Second

// Publisher is the broker surface the streamer needs.
type Publisher interface {
	Publish(ctx context.Context, queue string, v any) error
}

// Streamer runs one candle stream per configured pair and publishes each
// closed candle onto raw_market_data. Candles are deduplicated per pair by
// open time: a candle publishes only when its open time is strictly newer
// than the last published one, so reconnect replays never duplicate.
type Streamer struct {
	bus       Publisher
	exchange  Exchange
	pairs     []string
	timeframe string

	mu            sync.Mutex
	lastPublished map[string]time.Time
}

// NewStreamer builds a streamer for the given pairs and candle timeframe.
func NewStreamer(bus Publisher, exchange Exchange, pairs []string, timeframe string) *Streamer {
	return &Streamer{
		bus:           bus,
		exchange:      exchange,
		pairs:         pairs,
		timeframe:     timeframe,
		lastPublished: make(map[string]time.Time),
	}
}

// Run streams all pairs until the context is cancelled.
func (s *Streamer) Run(ctx context.Context) error {
	log.Info().Strs("pairs", s.pairs).Str("timeframe", s.timeframe).Msg("market streamer started")

	var wg sync.WaitGroup
	for _, pair := range s.pairs {
		wg.Add(1)
		go func(pair string) {
			defer wg.Done()
			s.streamPair(ctx, pair)
		}(pair)
	}
	wg.Wait()
	log.Info().Msg("market streamer stopped")
	return ctx.Err()
}

// streamPair dials, consumes and redials one pair's stream until the context
// is cancelled. Stream errors cost a reconnect delay, never the process.
func (s *Streamer) streamPair(ctx context.Context, pair string) {
	for ctx.Err() == nil {
		if err := s.consumeStream(ctx, pair); err != nil && ctx.Err() == nil {
			log.Warn().Err(err).Str("pair", pair).Msg("candle stream failed, reconnecting")
			metrics.Errors.WithLabelValues("market-streamer").Inc()
			select {
			case <-ctx.Done():
			case <-time.After(reconnectDelay):
			}
		}
	}
}

func (s *Streamer) consumeStream(ctx context.Context, pair string) error {
	stream, err := s.exchange.Stream(ctx, pair, s.timeframe)
	if err != nil {
		return err
	}
	defer stream.Close()

	// Unblock the pending read when the service shuts down.
	stop := context.AfterFunc(ctx, func() { stream.Close() })
	defer stop()

	for {
		candle, err := stream.Next(ctx)
		if err != nil {
			return err
		}
		if !candle.Closed {
			continue
		}
		if err := s.publish(ctx, candle); err != nil {
			return err
		}
	}
}

func (s *Streamer) publish(ctx context.Context, candle *Candle) error {
	s.mu.Lock()
	last, ok := s.lastPublished[candle.Pair]
	if ok && !candle.OpenTime.After(last) {
		s.mu.Unlock()
		log.Debug().Str("pair", candle.Pair).Time("open_time", candle.OpenTime).
			Msg("skipping replayed candle")
		return nil
	}
	s.mu.Unlock()

	msg := candle.Message()
	if err := msg.Validate(); err != nil {
		log.Warn().Err(err).Str("pair", candle.Pair).Msg("dropping invalid candle")
		return nil
	}
	if err := s.bus.Publish(ctx, schema.QueueRawMarketData, msg); err != nil {
		return fmt.Errorf("market: publish %s: %w", candle.Pair, err)
	}

	s.mu.Lock()
	s.lastPublished[candle.Pair] = candle.OpenTime
	s.mu.Unlock()
	metrics.CandlesPublished.WithLabelValues(candle.Pair).Inc()
	return nil
}
