package strategy

import (
	"time"
)

// SignalPoint is one sentiment observation in a time series.
type SignalPoint struct {
	Timestamp time.Time
	Score     float64
}

// JoinedRow pairs a candle with the sentiment that was knowable at its time.
type JoinedRow struct {
	Candle Candle

	// Score is the joined sentiment, 0 when no signal was within tolerance.
	Score float64
	// Matched reports whether a signal actually joined.
	Matched bool
	// Momentum is the difference between this row's joined score and the
	// previous row's, the direction sentiment is moving in.
	Momentum float64
}

// MergeBackward performs a backward-only temporal join: for each candle it
// picks the latest signal whose timestamp is at or before the candle's and
// within tolerance. Signals from the future never match, so joining
// historical candles cannot leak look-ahead information.
//
// Both inputs must be sorted ascending by timestamp. The join walks each
// input once with a moving pointer.
func MergeBackward(candles []Candle, signals []SignalPoint, tolerance time.Duration) []JoinedRow {
	rows := make([]JoinedRow, 0, len(candles))

	ptr := -1
	var prevScore float64
	for _, candle := range candles {
		for ptr+1 < len(signals) && !signals[ptr+1].Timestamp.After(candle.Timestamp) {
			ptr++
		}

		row := JoinedRow{Candle: candle}
		if ptr >= 0 {
			age := candle.Timestamp.Sub(signals[ptr].Timestamp)
			if age <= tolerance {
				row.Score = signals[ptr].Score
				row.Matched = true
			}
		}
		row.Momentum = row.Score - prevScore
		prevScore = row.Score
		rows = append(rows, row)
	}
	return rows
}
