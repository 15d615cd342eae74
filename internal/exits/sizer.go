// Package exits converts an admitted signal into take-profit, stop-loss,
// and OCO stop-limit levels.
package exits

import (
	"github.com/shopspring/decimal"

	"crosswatch/internal/signal"
)

// Mode selects how exit distances are derived.
type Mode string

const (
	// ModePct uses fixed percentage floors only.
	ModePct Mode = "pct"
	// ModeATR scales each leg to max(pct floor, atr * multiplier).
	ModeATR Mode = "atr"
)

// Config holds the sizing parameters.
type Config struct {
	Mode Mode
	// TPPct and SLPct are percentage floors for the two legs.
	TPPct float64
	SLPct float64
	// TPATRMult and SLATRMult scale the legs by ATR in ModeATR.
	TPATRMult float64
	SLATRMult float64
	// OCOBufferPct nudges the stop-limit price past the trigger so the
	// limit order stays fillable. Direction inverts by side.
	OCOBufferPct float64
}

// Levels are the computed exit prices.
type Levels struct {
	TP         decimal.Decimal
	SL         decimal.Decimal
	OCOTrigger decimal.Decimal
	OCOLimit   decimal.Decimal
}

var hundred = decimal.NewFromInt(100)

// Size computes exit levels for an entry. LONG places SL below and TP above
// the entry; SHORT inverts both legs and the OCO buffer direction.
func Size(entry float64, side signal.Side, atr float64, cfg Config) Levels {
	price := decimal.NewFromFloat(entry)
	atrDec := decimal.NewFromFloat(atr)

	tpDist := price.Mul(decimal.NewFromFloat(cfg.TPPct)).Div(hundred)
	slDist := price.Mul(decimal.NewFromFloat(cfg.SLPct)).Div(hundred)
	if cfg.Mode == ModeATR {
		tpDist = decimal.Max(tpDist, atrDec.Mul(decimal.NewFromFloat(cfg.TPATRMult)))
		slDist = decimal.Max(slDist, atrDec.Mul(decimal.NewFromFloat(cfg.SLATRMult)))
	}

	buffer := decimal.NewFromFloat(cfg.OCOBufferPct).Div(hundred)

	if side == signal.SideShort {
		sl := price.Add(slDist)
		return Levels{
			TP:         price.Sub(tpDist),
			SL:         sl,
			OCOTrigger: sl,
			OCOLimit:   sl.Mul(decimal.NewFromInt(1).Add(buffer)),
		}
	}

	sl := price.Sub(slDist)
	return Levels{
		TP:         price.Add(tpDist),
		SL:         sl,
		OCOTrigger: sl,
		OCOLimit:   sl.Mul(decimal.NewFromInt(1).Sub(buffer)),
	}
}

// Apply fills a signal's exit fields in place.
func Apply(sig *signal.Signal, cfg Config) {
	levels := Size(sig.Entry, sig.Side, sig.ATR, cfg)
	sig.TP = levels.TP
	sig.SL = levels.SL
	sig.OCOTrigger = levels.OCOTrigger
	sig.OCOLimit = levels.OCOLimit
}
