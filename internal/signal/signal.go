// Package signal detects actionable crossovers and applies the multi-factor
// admission filter.
package signal

import (
	"github.com/shopspring/decimal"
)

// Side is the direction of a trade signal.
type Side string

const (
	// SideLong enters on a golden cross.
	SideLong Side = "LONG"
	// SideShort enters on a death cross, when shorting is enabled.
	SideShort Side = "SHORT"
)

// CrossType classifies a fast/slow moving average crossover.
type CrossType string

const (
	// CrossGolden is the fast average crossing above the slow average.
	CrossGolden CrossType = "GOLDEN"
	// CrossDeath is the fast average crossing below the slow average.
	CrossDeath CrossType = "DEATH"
)

// Reason identifies why a candidate was rejected. Reasons are distinct and
// ordered by pipeline stage so a summary pass can rank which filter
// eliminates the most candidates.
type Reason string

const (
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonNaNSMA           Reason = "nan_sma"
	ReasonATRPctLow        Reason = "atr_pct_low"
	ReasonNoCross          Reason = "no_cross"
	ReasonRSIOutOfBand     Reason = "rsi_out_of_band"
	ReasonSpreadLow        Reason = "spread_low"
	ReasonSlopeLow         Reason = "slope_low"
	ReasonShortsDisabled   Reason = "shorts_disabled_or_no_side"
	ReasonHTFTrend         Reason = "htf_trend_reject"
	ReasonMomentum         Reason = "momentum_reject"
)

// Signal is an admitted trade candidate. Exit levels are filled in by the
// exit sizer before the signal reaches the ledger.
type Signal struct {
	ScanID string
	Symbol string
	Side   Side
	Cross  CrossType

	Entry      float64
	TP         decimal.Decimal
	SL         decimal.Decimal
	OCOTrigger decimal.Decimal
	OCOLimit   decimal.Decimal

	RSI       float64
	ATRPct    float64
	ATR       float64
	SpreadBps float64
	SlopeBps  float64
	Score     float64
}

// Rejection is a write-once diagnostic record for a filtered-out candidate.
type Rejection struct {
	ScanID  string
	Symbol  string
	Reason  Reason
	Details map[string]float64
}

// Outcome is the result of evaluating one symbol: exactly one of Signal or
// Rejection is set.
type Outcome struct {
	Signal    *Signal
	Rejection *Rejection
}
