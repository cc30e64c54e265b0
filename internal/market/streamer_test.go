package market

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/voidcat/cryptoboy/internal/schema"
)

type candleBus struct {
	published []*schema.RawMarketDataMessage
	err       error
}

func (b *candleBus) Publish(_ context.Context, queue string, v any) error {
	if b.err != nil {
		return b.err
	}
	if queue != schema.QueueRawMarketData {
		panic("unexpected queue " + queue)
	}
	b.published = append(b.published, v.(*schema.RawMarketDataMessage))
	return nil
}

type scriptedStream struct {
	candles []*Candle
	idx     int
}

func (s *scriptedStream) Next(context.Context) (*Candle, error) {
	if s.idx >= len(s.candles) {
		return nil, io.EOF
	}
	c := s.candles[s.idx]
	s.idx++
	return c, nil
}

func (s *scriptedStream) Close() error { return nil }

type scriptedExchange struct {
	streams map[string][]*Candle
	dials   int
}

func (e *scriptedExchange) Stream(_ context.Context, pair, _ string) (CandleStream, error) {
	e.dials++
	candles, ok := e.streams[pair]
	if !ok {
		return nil, fmt.Errorf("no script for %s", pair)
	}
	return &scriptedStream{candles: candles}, nil
}

func closedCandle(pair string, openTime time.Time, close float64) *Candle {
	return &Candle{
		Pair:      pair,
		Timeframe: "1h",
		OpenTime:  openTime,
		Open:      close - 10,
		High:      close + 20,
		Low:       close - 20,
		Close:     close,
		Volume:    123.4,
		Closed:    true,
	}
}

func TestStreamer_PublishesClosedCandlesOnce(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 8, 0, 0, 0, time.UTC)
	bus := &candleBus{}
	exchange := &scriptedExchange{streams: map[string][]*Candle{
		"BTC/USDT": {
			closedCandle("BTC/USDT", t0, 50000),
			// In-progress candles never publish.
			{Pair: "BTC/USDT", Timeframe: "1h", OpenTime: t0.Add(time.Hour),
				Open: 50000, High: 50100, Low: 49900, Close: 50050, Volume: 1, Closed: false},
			// Replay of the first candle after a reconnect.
			closedCandle("BTC/USDT", t0, 50000),
			closedCandle("BTC/USDT", t0.Add(time.Hour), 50100),
		},
	}}
	s := NewStreamer(bus, exchange, []string{"BTC/USDT"}, "1h")

	err := s.consumeStream(context.Background(), "BTC/USDT")
	assert.ErrorIs(t, err, io.EOF)

	require.Len(t, bus.published, 2)
	assert.Equal(t, t0, bus.published[0].Timestamp)
	assert.Equal(t, t0.Add(time.Hour), bus.published[1].Timestamp)
	assert.Equal(t, t0.UnixMilli(), bus.published[0].TimestampMS)
}

func TestStreamer_DropsOutOfRangeCandles(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 8, 0, 0, 0, time.UTC)
	bus := &candleBus{}
	s := NewStreamer(bus, nil, []string{"BTC/USDT"}, "1h")

	bad := closedCandle("BTC/USDT", t0, 5_000_000)
	require.NoError(t, s.publish(context.Background(), bad))
	assert.Empty(t, bus.published)

	// The bad candle must not advance the dedup watermark.
	good := closedCandle("BTC/USDT", t0, 50000)
	require.NoError(t, s.publish(context.Background(), good))
	assert.Len(t, bus.published, 1)
}

func TestStreamer_DedupIsPerPair(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 8, 0, 0, 0, time.UTC)
	bus := &candleBus{}
	s := NewStreamer(bus, nil, []string{"BTC/USDT", "ETH/USDT"}, "1h")

	require.NoError(t, s.publish(context.Background(), closedCandle("BTC/USDT", t0, 50000)))
	require.NoError(t, s.publish(context.Background(), closedCandle("ETH/USDT", t0, 3000)))
	require.NoError(t, s.publish(context.Background(), closedCandle("BTC/USDT", t0, 50000)))

	assert.Len(t, bus.published, 2)
}

func TestKlineDecoding(t *testing.T) {
	raw := `{
		"e": "kline",
		"k": {
			"t": 1763625600000,
			"i": "1h",
			"o": "50000.10",
			"h": "50500.00",
			"l": "49800.00",
			"c": "50400.50",
			"v": "812.33",
			"x": true
		}
	}`
	var event klineEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &event))

	s := &binanceStream{pair: "BTC/USDT", timeframe: "1h"}
	candle, err := s.toCandle(&event)
	require.NoError(t, err)
	assert.Equal(t, "BTC/USDT", candle.Pair)
	assert.Equal(t, "1h", candle.Timeframe)
	assert.Equal(t, 50000.10, candle.Open)
	assert.Equal(t, 50400.50, candle.Close)
	assert.True(t, candle.Closed)
	assert.Equal(t, int64(1763625600000), candle.OpenTime.UnixMilli())

	msg := candle.Message()
	assert.NoError(t, msg.Validate())
}

func TestKlineDecoding_RejectsMalformedNumbers(t *testing.T) {
	var event klineEvent
	event.EventType = "kline"
	event.Kline.Open = "not-a-number"
	event.Kline.High = "1"
	event.Kline.Low = "1"
	event.Kline.Close = "1"
	event.Kline.Volume = "1"

	s := &binanceStream{pair: "BTC/USDT"}
	_, err := s.toCandle(&event)
	assert.Error(t, err)
}

func TestStreamSymbol(t *testing.T) {
	assert.Equal(t, "btcusdt", streamSymbol("BTC/USDT"))
	assert.Equal(t, "ethusdt", streamSymbol("ETH/USDT"))
}
