package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/broker"
	"github.com/voidcat/cryptoboy/internal/cache"
	"github.com/voidcat/cryptoboy/internal/config"
	"github.com/voidcat/cryptoboy/internal/metrics"
	"github.com/voidcat/cryptoboy/internal/schema"
)

// windowCap bounds the per-pair candle window. Indicators only need the
// recent past; older candles are dropped from the front.
const windowCap = 200

// Stake fractions by sentiment strength.
const (
	defaultStake    = 0.5
	strongStake     = 0.75
	maxStake        = 1.0
	strongScore     = 0.7
	veryStrongScore = 0.8
)

// Action is a strategy decision for one candle.
type Action string

const (
	ActionHold  Action = "hold"
	ActionEnter Action = "enter"
	ActionExit  Action = "exit"
)

// Decision is the strategy's output for one pair and candle.
type Decision struct {
	Pair       string
	Timestamp  time.Time
	Action     Action
	Reason     string
	Score      float64
	Stake      float64
	Close      float64
	RSI        float64
	InPosition bool
}

// position tracks an open long per pair.
type position struct {
	entryPrice float64
	enteredAt  time.Time
}

// SentimentSource yields the sentiment for a pair as of a point in time.
type SentimentSource interface {
	Read(ctx context.Context, pair string, asOf time.Time) Sentiment
}

// Strategy consumes market candles, joins each against the cached sentiment
// and evaluates the entry/exit rules. It holds one bounded candle window and
// at most one open position per pair.
type Strategy struct {
	store     *cache.Client
	sentiment SentimentSource
	cfg       config.StrategyConfig

	mu        sync.Mutex
	windows   map[string][]Candle
	positions map[string]*position
}

// New builds a strategy over the cache and tunables.
func New(store *cache.Client, staleAfter time.Duration, cfg config.StrategyConfig) *Strategy {
	return &Strategy{
		store:     store,
		sentiment: NewSentimentReader(store, staleAfter),
		cfg:       cfg,
		windows:   make(map[string][]Candle),
		positions: make(map[string]*position),
	}
}

// Handler returns the queue handler for raw_market_data.
func (s *Strategy) Handler() broker.MsgHandler {
	return broker.Safe(schema.QueueRawMarketData,
		func() *schema.RawMarketDataMessage { return &schema.RawMarketDataMessage{} },
		s.onCandle)
}

func (s *Strategy) onCandle(ctx context.Context, msg *schema.RawMarketDataMessage) error {
	candle := Candle{
		Timestamp: msg.Timestamp,
		Open:      msg.Open,
		High:      msg.High,
		Low:       msg.Low,
		Close:     msg.Close,
		Volume:    msg.Volume,
	}

	decision := s.Evaluate(ctx, msg.Pair, candle)
	s.publishState(ctx, decision)

	switch decision.Action {
	case ActionEnter:
		log.Info().Str("pair", decision.Pair).Float64("score", decision.Score).
			Float64("stake", decision.Stake).Float64("close", decision.Close).
			Msg("entry signal")
	case ActionExit:
		log.Info().Str("pair", decision.Pair).Str("reason", decision.Reason).
			Float64("close", decision.Close).Msg("exit signal")
	}
	return nil
}

// Evaluate appends the candle to the pair's window and runs the rules. The
// returned decision is hold until the warmup window has filled.
func (s *Strategy) Evaluate(ctx context.Context, pair string, candle Candle) Decision {
	s.mu.Lock()
	window := append(s.windows[pair], candle)
	if len(window) > windowCap {
		window = append([]Candle(nil), window[len(window)-windowCap:]...)
	}
	s.windows[pair] = window
	pos := s.positions[pair]
	s.mu.Unlock()

	decision := Decision{
		Pair:       pair,
		Timestamp:  candle.Timestamp,
		Action:     ActionHold,
		Close:      candle.Close,
		InPosition: pos != nil,
	}

	warmup := s.cfg.WarmupCandles
	if warmup < minCandles {
		warmup = minCandles
	}
	if len(window) < warmup {
		decision.Reason = "warming_up"
		return decision
	}

	frame, err := ComputeFrame(window)
	if err != nil {
		log.Warn().Err(err).Str("pair", pair).Msg("indicator computation failed")
		decision.Reason = "indicator_error"
		return decision
	}
	row := frame.Last()
	sent := s.sentiment.Read(ctx, pair, candle.Timestamp)
	decision.Score = sent.Score
	decision.RSI = row.RSI

	if pos != nil {
		if reason, exit := s.shouldExit(row, sent, candle, pos); exit {
			decision.Action = ActionExit
			decision.Reason = reason
			s.mu.Lock()
			delete(s.positions, pair)
			s.mu.Unlock()
			decision.InPosition = false
		}
		return decision
	}

	if !s.entryRule(row, sent) {
		return decision
	}

	// Final guard: re-read the live cached score just before acting. The
	// window evaluation may be seconds old by now.
	confirm := s.sentiment.Read(ctx, pair, time.Now().UTC())
	if confirm.Score <= s.cfg.SentimentBuyThreshold {
		log.Info().Str("pair", pair).Float64("confirm_score", confirm.Score).
			Msg("entry rejected by confirmation guard")
		decision.Reason = "confirmation_failed"
		return decision
	}

	decision.Action = ActionEnter
	decision.Reason = "entry_rule"
	decision.Stake = StakeFraction(confirm.Score)
	decision.InPosition = true
	s.mu.Lock()
	s.positions[pair] = &position{entryPrice: candle.Close, enteredAt: candle.Timestamp}
	s.mu.Unlock()
	return decision
}

// entryRule is the long entry condition: bullish sentiment with momentum,
// healthy RSI, MACD confirmation, above-average volume and room below the
// upper band.
func (s *Strategy) entryRule(row Row, sent Sentiment) bool {
	return sent.Score > s.cfg.SentimentBuyThreshold &&
		row.EMAShort > row.EMALong &&
		row.RSI > s.cfg.RSILow && row.RSI < s.cfg.RSIHigh &&
		row.MACD > row.MACDSignal &&
		row.Volume > row.VolumeMean &&
		row.Close < row.BBUpper
}

// shouldExit evaluates the exit conditions for an open position.
func (s *Strategy) shouldExit(row Row, sent Sentiment, candle Candle, pos *position) (string, bool) {
	if sent.Score < s.cfg.SentimentSellThreshold {
		return "bearish_sentiment", true
	}
	if row.EMAShort < row.EMALong && row.RSI > s.cfg.RSIHigh {
		return "trend_reversal", true
	}
	if row.MACD < row.MACDSignal {
		return "macd_cross", true
	}
	// Take profit early when sentiment turns against a winning position.
	if sent.Score < -0.3 && candle.Close > pos.entryPrice {
		return "sentiment_reversal_in_profit", true
	}
	return "", false
}

// StakeFraction sizes a position by sentiment strength.
func StakeFraction(score float64) float64 {
	switch {
	case score > veryStrongScore:
		return maxStake
	case score > strongScore:
		return strongStake
	default:
		return defaultStake
	}
}

// publishState snapshots the latest decision into strategy_state:{pair} so
// operators can inspect the strategy without attaching to the process.
func (s *Strategy) publishState(ctx context.Context, d Decision) {
	fields := map[string]any{
		"action":      string(d.Action),
		"reason":      d.Reason,
		"score":       d.Score,
		"stake":       d.Stake,
		"close":       d.Close,
		"rsi":         d.RSI,
		"in_position": d.InPosition,
		"timestamp":   d.Timestamp.UTC().Format(time.RFC3339),
	}
	if err := s.store.HSetJSON(ctx, cache.StateKey(d.Pair), fields); err != nil {
		log.Warn().Err(err).Str("pair", d.Pair).Msg("strategy state write failed")
		metrics.Errors.WithLabelValues("strategy").Inc()
		return
	}
	metrics.CacheUpdates.WithLabelValues("state").Inc()
}
