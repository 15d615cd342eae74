package market

import "time"

// Interval identifies a venue-native candle interval.
type Interval string

// Supported candle intervals, mapped 1:1 to venue interval strings.
const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
	Interval1w  Interval = "1w"
)

var intervalDurations = map[Interval]time.Duration{
	Interval1m:  time.Minute,
	Interval5m:  5 * time.Minute,
	Interval15m: 15 * time.Minute,
	Interval30m: 30 * time.Minute,
	Interval1h:  time.Hour,
	Interval4h:  4 * time.Hour,
	Interval1d:  24 * time.Hour,
	Interval1w:  7 * 24 * time.Hour,
}

// Valid reports whether the interval maps to a venue interval string.
func (i Interval) Valid() bool {
	_, ok := intervalDurations[i]
	return ok
}

// Duration returns the wall-clock span of one candle, or zero for an
// unknown interval.
func (i Interval) Duration() time.Duration {
	return intervalDurations[i]
}

// Candle is one OHLCV bar. Immutable once fetched.
type Candle struct {
	OpenTime  time.Time
	CloseTime time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
}

// Series is an ordered candle sequence, oldest first.
type Series []Candle

// Closes extracts the close column.
func (s Series) Closes() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Close
	}
	return out
}

// Highs extracts the high column.
func (s Series) Highs() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.High
	}
	return out
}

// Lows extracts the low column.
func (s Series) Lows() []float64 {
	out := make([]float64, len(s))
	for i, c := range s {
		out[i] = c.Low
	}
	return out
}

// Last returns the newest candle; ok is false for an empty series.
func (s Series) Last() (Candle, bool) {
	if len(s) == 0 {
		return Candle{}, false
	}
	return s[len(s)-1], true
}

// Ticker24h is one symbol's slice of the 24h ticker snapshot.
type Ticker24h struct {
	Symbol         string
	LastPrice      float64
	QuoteVolume    float64
	PriceChangePct float64
	HighPrice      float64
	LowPrice       float64
}

// TickerSnapshot maps symbol to its 24h ticker stats. Refreshed each scan,
// never persisted.
type TickerSnapshot map[string]Ticker24h
