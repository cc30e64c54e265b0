// Package strategy merges cached sentiment with technical indicators and
// emits entry/exit decisions per candle under a strict no-look-ahead rule.
package strategy

import (
	"fmt"
	"time"

	"github.com/markcheno/go-talib"
)

// Indicator periods. These mirror the usual intraday momentum setup.
const (
	emaShortPeriod = 12
	emaLongPeriod  = 26

	rsiPeriod = 14

	macdFast   = 12
	macdSlow   = 26
	macdSignal = 9

	bbandsPeriod = 20
	bbandsDev    = 2.0

	volumeSMAPeriod = 20
	atrPeriod       = 14
)

// Candle is one OHLCV bar in the strategy's per-pair window.
type Candle struct {
	Timestamp time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Frame holds the indicator columns computed over a candle window. All
// columns are aligned with the input candles; values inside an indicator's
// warmup prefix are zero and must not be traded on.
type Frame struct {
	Candles []Candle

	EMAShort   []float64
	EMALong    []float64
	RSI        []float64
	MACD       []float64
	MACDSignal []float64
	BBUpper    []float64
	BBMiddle   []float64
	BBLower    []float64
	VolumeMean []float64
	ATR        []float64
}

// minCandles is the window length needed before every indicator column has a
// meaningful tail value.
const minCandles = macdSlow + macdSignal

// ComputeFrame derives all indicator columns from a candle window. Each
// column uses only candles up to and including its own row, so reading the
// last row never looks ahead.
func ComputeFrame(candles []Candle) (*Frame, error) {
	if len(candles) < minCandles {
		return nil, fmt.Errorf("strategy: need at least %d candles, have %d", minCandles, len(candles))
	}

	closes := make([]float64, len(candles))
	highs := make([]float64, len(candles))
	lows := make([]float64, len(candles))
	volumes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
		highs[i] = c.High
		lows[i] = c.Low
		volumes[i] = c.Volume
	}

	macd, signal, _ := talib.Macd(closes, macdFast, macdSlow, macdSignal)
	upper, middle, lower := talib.BBands(closes, bbandsPeriod, bbandsDev, bbandsDev, talib.SMA)

	return &Frame{
		Candles:    candles,
		EMAShort:   talib.Ema(closes, emaShortPeriod),
		EMALong:    talib.Ema(closes, emaLongPeriod),
		RSI:        talib.Rsi(closes, rsiPeriod),
		MACD:       macd,
		MACDSignal: signal,
		BBUpper:    upper,
		BBMiddle:   middle,
		BBLower:    lower,
		VolumeMean: talib.Sma(volumes, volumeSMAPeriod),
		ATR:        talib.Atr(highs, lows, closes, atrPeriod),
	}, nil
}

// Row is the last fully-populated indicator row of a frame, the only one the
// live strategy evaluates.
type Row struct {
	Timestamp  time.Time
	Close      float64
	Volume     float64
	EMAShort   float64
	EMALong    float64
	RSI        float64
	MACD       float64
	MACDSignal float64
	BBUpper    float64
	VolumeMean float64
	ATR        float64
}

// Last returns the frame's final row.
func (f *Frame) Last() Row {
	i := len(f.Candles) - 1
	return Row{
		Timestamp:  f.Candles[i].Timestamp,
		Close:      f.Candles[i].Close,
		Volume:     f.Candles[i].Volume,
		EMAShort:   f.EMAShort[i],
		EMALong:    f.EMALong[i],
		RSI:        f.RSI[i],
		MACD:       f.MACD[i],
		MACDSignal: f.MACDSignal[i],
		BBUpper:    f.BBUpper[i],
		VolumeMean: f.VolumeMean[i],
		ATR:        f.ATR[i],
	}
}
