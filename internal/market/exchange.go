// Package market streams live OHLCV candles from the exchange and publishes
// each closed candle onto raw_market_data exactly once.
package market

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/voidcat/cryptoboy/internal/schema"
)

// Candle is one closed OHLCV bar as received from the exchange.
type Candle struct {
	Pair      string
	Timeframe string
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	Closed    bool
}

// CandleStream delivers closed candles for one pair.
type CandleStream interface {
	// Next blocks until the next candle arrives or the stream fails.
	Next(ctx context.Context) (*Candle, error)
	Close() error
}

// Exchange opens candle streams.
type Exchange interface {
	Stream(ctx context.Context, pair, timeframe string) (CandleStream, error)
}

const binanceWSBase = "wss://stream.binance.com:9443/ws"

// BinanceExchange streams klines over the public Binance websocket. No
// credentials are needed for market data; the API key pair is only required
// for live order placement.
type BinanceExchange struct {
	baseURL string
	dialer  *websocket.Dialer
}

// NewBinanceExchange builds an exchange. An empty baseURL selects the
// public endpoint.
func NewBinanceExchange(baseURL string) *BinanceExchange {
	if baseURL == "" {
		baseURL = binanceWSBase
	}
	return &BinanceExchange{
		baseURL: baseURL,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// streamSymbol converts "BTC/USDT" to the stream form "btcusdt".
func streamSymbol(pair string) string {
	return strings.ToLower(strings.ReplaceAll(pair, "/", ""))
}

// Stream subscribes to the kline stream for one pair and timeframe.
func (e *BinanceExchange) Stream(ctx context.Context, pair, timeframe string) (CandleStream, error) {
	url := fmt.Sprintf("%s/%s@kline_%s", e.baseURL, streamSymbol(pair), timeframe)
	conn, _, err := e.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("market: dial %s: %w", url, err)
	}
	log.Info().Str("pair", pair).Str("timeframe", timeframe).Msg("kline stream connected")
	return &binanceStream{conn: conn, pair: pair, timeframe: timeframe}, nil
}

type binanceStream struct {
	conn      *websocket.Conn
	pair      string
	timeframe string
}

// klineEvent is the wire format of a Binance kline push.
type klineEvent struct {
	EventType string `json:"e"`
	Kline     struct {
		StartTime int64  `json:"t"`
		Interval  string `json:"i"`
		Open      string `json:"o"`
		High      string `json:"h"`
		Low       string `json:"l"`
		Close     string `json:"c"`
		Volume    string `json:"v"`
		Closed    bool   `json:"x"`
	} `json:"k"`
}

func (s *binanceStream) Next(ctx context.Context) (*Candle, error) {
	for {
		if deadline, ok := ctx.Deadline(); ok {
			_ = s.conn.SetReadDeadline(deadline)
		}
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			return nil, fmt.Errorf("market: read %s: %w", s.pair, err)
		}

		var event klineEvent
		if err := json.Unmarshal(data, &event); err != nil {
			log.Debug().Err(err).Str("pair", s.pair).Msg("skipping undecodable frame")
			continue
		}
		if event.EventType != "kline" {
			continue
		}

		candle, err := s.toCandle(&event)
		if err != nil {
			log.Warn().Err(err).Str("pair", s.pair).Msg("skipping malformed kline")
			continue
		}
		return candle, nil
	}
}

func (s *binanceStream) toCandle(event *klineEvent) (*Candle, error) {
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("low %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("volume %q: %w", k.Volume, err)
	}
	return &Candle{
		Pair:      s.pair,
		Timeframe: k.Interval,
		OpenTime:  time.UnixMilli(k.StartTime).UTC(),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Closed:    k.Closed,
	}, nil
}

func (s *binanceStream) Close() error {
	return s.conn.Close()
}

// Message converts a candle into its queue payload.
func (c *Candle) Message() *schema.RawMarketDataMessage {
	return &schema.RawMarketDataMessage{
		Timestamp:   c.OpenTime,
		TimestampMS: c.OpenTime.UnixMilli(),
		Pair:        c.Pair,
		Timeframe:   c.Timeframe,
		Open:        c.Open,
		High:        c.High,
		Low:         c.Low,
		Close:       c.Close,
		Volume:      c.Volume,
	}
}
