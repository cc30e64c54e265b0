package strategy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourly(t0 time.Time, closes ...float64) []Candle {
	candles := make([]Candle, len(closes))
	for i, close := range closes {
		candles[i] = Candle{
			Timestamp: t0.Add(time.Duration(i) * time.Hour),
			Open:      close,
			High:      close + 1,
			Low:       close - 1,
			Close:     close,
			Volume:    100,
		}
	}
	return candles
}

func TestMergeBackward_PicksLatestPastSignal(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	candles := hourly(t0, 100, 101, 102, 103)
	signals := []SignalPoint{
		{Timestamp: t0.Add(-30 * time.Minute), Score: 0.2},
		{Timestamp: t0.Add(90 * time.Minute), Score: 0.6},
	}

	rows := MergeBackward(candles, signals, 6*time.Hour)
	require.Len(t, rows, 4)

	assert.Equal(t, 0.2, rows[0].Score)
	assert.Equal(t, 0.2, rows[1].Score)
	assert.Equal(t, 0.6, rows[2].Score)
	assert.Equal(t, 0.6, rows[3].Score)
	for _, row := range rows {
		assert.True(t, row.Matched)
	}
}

func TestMergeBackward_NeverReadsTheFuture(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	candles := hourly(t0, 100, 101)
	signals := []SignalPoint{
		// One second after the first candle: visible only to the second.
		{Timestamp: t0.Add(time.Second), Score: 0.9},
	}

	rows := MergeBackward(candles, signals, 6*time.Hour)
	require.Len(t, rows, 2)
	assert.False(t, rows[0].Matched)
	assert.Zero(t, rows[0].Score)
	assert.True(t, rows[1].Matched)
	assert.Equal(t, 0.9, rows[1].Score)
}

func TestMergeBackward_SignalAtCandleTimestampMatches(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	candles := hourly(t0, 100)
	signals := []SignalPoint{{Timestamp: t0, Score: 0.4}}

	rows := MergeBackward(candles, signals, 6*time.Hour)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Matched)
	assert.Equal(t, 0.4, rows[0].Score)
}

func TestMergeBackward_ToleranceBoundsTheMatch(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 12, 0, 0, 0, time.UTC)
	candles := hourly(t0, 100)
	signals := []SignalPoint{{Timestamp: t0.Add(-7 * time.Hour), Score: 0.8}}

	rows := MergeBackward(candles, signals, 6*time.Hour)
	require.Len(t, rows, 1)
	assert.False(t, rows[0].Matched)
	assert.Zero(t, rows[0].Score)

	// Exactly at the tolerance still matches.
	signals[0].Timestamp = t0.Add(-6 * time.Hour)
	rows = MergeBackward(candles, signals, 6*time.Hour)
	assert.True(t, rows[0].Matched)
}

func TestMergeBackward_MomentumIsScoreDiff(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	candles := hourly(t0, 100, 101, 102)
	signals := []SignalPoint{
		{Timestamp: t0, Score: 0.2},
		{Timestamp: t0.Add(time.Hour), Score: 0.7},
		{Timestamp: t0.Add(2 * time.Hour), Score: 0.4},
	}

	rows := MergeBackward(candles, signals, 6*time.Hour)
	require.Len(t, rows, 3)
	assert.InDelta(t, 0.2, rows[0].Momentum, 1e-9)
	assert.InDelta(t, 0.5, rows[1].Momentum, 1e-9)
	assert.InDelta(t, -0.3, rows[2].Momentum, 1e-9)
}

func TestMergeBackward_EmptySignals(t *testing.T) {
	t0 := time.Date(2025, 11, 20, 0, 0, 0, 0, time.UTC)
	rows := MergeBackward(hourly(t0, 100, 101), nil, 6*time.Hour)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.False(t, row.Matched)
		assert.Zero(t, row.Score)
	}
}
