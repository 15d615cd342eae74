package signal

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"crosswatch/internal/indicator"
	"crosswatch/internal/market"
)

// Config holds the detector thresholds. All values are explicit; the
// detector reads no ambient state.
type Config struct {
	FastWindow    int
	SlowWindow    int
	CrossLookback int
	RSIPeriod     int
	ATRPeriod     int

	MinATRPct    float64
	RSIMin       float64
	RSIMax       float64
	MinSpreadBps float64
	MinSlopeBps  float64
	AllowShorts  bool

	// ConfirmHTFTrend requires fast SMA > slow SMA (or < for shorts) on an
	// hourly series before admitting.
	ConfirmHTFTrend bool
	// ConfirmMomentum requires the close above (below for shorts) its EMA
	// for the last MomentumBars one-minute bars.
	ConfirmMomentum bool
	MomentumBars    int
	MomentumEMASpan int
}

// ConfirmationSource supplies the extra series the optional confirmations
// need. Implementations fetch lazily so that symbols rejected earlier in
// the pipeline cost no extra calls.
type ConfirmationSource interface {
	HourlySeries(ctx context.Context, symbol string) (market.Series, bool)
	MinuteSeries(ctx context.Context, symbol string) (market.Series, bool)
}

// Detector runs the per-symbol admission state machine:
// NoCross -> (GOLDEN | DEATH) -> Admitted | Rejected.
type Detector struct {
	cfg     Config
	confirm ConfirmationSource
	logger  zerolog.Logger
}

// NewDetector constructs a detector. confirm may be nil when both
// confirmations are disabled.
func NewDetector(cfg Config, confirm ConfirmationSource, logger zerolog.Logger) *Detector {
	if cfg.RSIPeriod <= 0 {
		cfg.RSIPeriod = 14
	}
	if cfg.ATRPeriod <= 0 {
		cfg.ATRPeriod = 14
	}
	if cfg.CrossLookback <= 0 {
		cfg.CrossLookback = 3
	}
	return &Detector{
		cfg:     cfg,
		confirm: confirm,
		logger:  logger.With().Str("component", "detector").Logger(),
	}
}

// Evaluate classifies one symbol's candle series into a signal or a
// rejection.
func (d *Detector) Evaluate(ctx context.Context, scanID, symbol string, candles market.Series) Outcome {
	needed := d.minCandles()
	if len(candles) < needed {
		return reject(scanID, symbol, ReasonInsufficientData, map[string]float64{
			"candles": float64(len(candles)),
			"needed":  float64(needed),
		})
	}

	closes := candles.Closes()
	last := len(closes) - 1
	fast := indicator.SMA(closes, d.cfg.FastWindow)
	slow := indicator.SMA(closes, d.cfg.SlowWindow)
	if math.IsNaN(fast[last]) || math.IsNaN(slow[last]) {
		return reject(scanID, symbol, ReasonNaNSMA, nil)
	}

	closePrice := closes[last]
	atrSeries := indicator.ATR(candles.Highs(), candles.Lows(), closes, d.cfg.ATRPeriod)
	atr := atrSeries[last]
	if math.IsNaN(atr) {
		// Cannot size exits without a defined ATR.
		return reject(scanID, symbol, ReasonInsufficientData, map[string]float64{
			"candles": float64(len(candles)),
			"needed":  float64(needed),
		})
	}
	atrPct := 0.0
	if closePrice > 0 {
		atrPct = atr / closePrice * 100.0
	}

	rsiSeries := indicator.RSI(closes, d.cfg.RSIPeriod)
	rsi := rsiSeries[last]

	spreadBps := 10000.0 * (fast[last] - slow[last]) / slow[last]
	slopeBps := 0.0
	if last >= 3 && !math.IsNaN(fast[last-3]) && closePrice > 0 {
		slopeBps = 10000.0 * ((fast[last] - fast[last-3]) / 3.0) / closePrice
	}
	metrics := map[string]float64{
		"rsi":        rsi,
		"atr_pct":    atrPct,
		"spread_bps": spreadBps,
		"slope_bps":  slopeBps,
	}

	if atrPct < d.cfg.MinATRPct {
		return reject(scanID, symbol, ReasonATRPctLow, metrics)
	}

	cross, ok := DetectCross(fast, slow, d.cfg.CrossLookback)
	if !ok {
		return reject(scanID, symbol, ReasonNoCross, metrics)
	}

	side, out := d.selectSide(scanID, symbol, cross, rsi, spreadBps, slopeBps, metrics)
	if out != nil {
		return *out
	}

	if out := d.runConfirmations(ctx, scanID, symbol, side, metrics); out != nil {
		return *out
	}

	sig := &Signal{
		ScanID:    scanID,
		Symbol:    symbol,
		Side:      side,
		Cross:     cross,
		Entry:     closePrice,
		RSI:       rsi,
		ATRPct:    atrPct,
		ATR:       atr,
		SpreadBps: spreadBps,
		SlopeBps:  slopeBps,
		Score:     math.Abs(spreadBps),
	}
	return Outcome{Signal: sig}
}

// minCandles is the series length at which every indicator at the last bar
// is defined: the slow SMA needs SlowWindow values, ATR needs ATRPeriod true
// ranges, and Wilder RSI needs RSIPeriod+1 closes.
func (d *Detector) minCandles() int {
	needed := d.cfg.SlowWindow
	if d.cfg.ATRPeriod > needed {
		needed = d.cfg.ATRPeriod
	}
	if d.cfg.RSIPeriod+1 > needed {
		needed = d.cfg.RSIPeriod + 1
	}
	return needed
}

// selectSide applies the per-side admission thresholds. Each failed
// condition maps to its own reason so the recorder can rank filters.
func (d *Detector) selectSide(scanID, symbol string, cross CrossType, rsi, spreadBps, slopeBps float64, metrics map[string]float64) (Side, *Outcome) {
	if cross == CrossGolden {
		if rsi < d.cfg.RSIMin || rsi > d.cfg.RSIMax {
			out := reject(scanID, symbol, ReasonRSIOutOfBand, metrics)
			return "", &out
		}
		if spreadBps < d.cfg.MinSpreadBps {
			out := reject(scanID, symbol, ReasonSpreadLow, metrics)
			return "", &out
		}
		if slopeBps < d.cfg.MinSlopeBps {
			out := reject(scanID, symbol, ReasonSlopeLow, metrics)
			return "", &out
		}
		return SideLong, nil
	}

	if !d.cfg.AllowShorts {
		out := reject(scanID, symbol, ReasonShortsDisabled, metrics)
		return "", &out
	}
	if rsi < 100.0-d.cfg.RSIMax || rsi > 100.0-d.cfg.RSIMin {
		out := reject(scanID, symbol, ReasonRSIOutOfBand, metrics)
		return "", &out
	}
	if -spreadBps < d.cfg.MinSpreadBps {
		out := reject(scanID, symbol, ReasonSpreadLow, metrics)
		return "", &out
	}
	if -slopeBps < d.cfg.MinSlopeBps {
		out := reject(scanID, symbol, ReasonSlopeLow, metrics)
		return "", &out
	}
	return SideShort, nil
}

// runConfirmations applies the optional higher-timeframe trend guard and the
// short-timeframe momentum confirmation. A failed or unavailable
// confirmation rejects without altering the earlier classification.
func (d *Detector) runConfirmations(ctx context.Context, scanID, symbol string, side Side, metrics map[string]float64) *Outcome {
	if d.cfg.ConfirmHTFTrend {
		out := d.confirmHTF(ctx, scanID, symbol, side, metrics)
		if out != nil {
			return out
		}
	}
	if d.cfg.ConfirmMomentum {
		out := d.confirmMomentum(ctx, scanID, symbol, side, metrics)
		if out != nil {
			return out
		}
	}
	return nil
}

func (d *Detector) confirmHTF(ctx context.Context, scanID, symbol string, side Side, metrics map[string]float64) *Outcome {
	if d.confirm == nil {
		out := reject(scanID, symbol, ReasonHTFTrend, metrics)
		return &out
	}
	series, ok := d.confirm.HourlySeries(ctx, symbol)
	if !ok || len(series) < d.cfg.SlowWindow {
		out := reject(scanID, symbol, ReasonHTFTrend, metrics)
		return &out
	}

	closes := series.Closes()
	last := len(closes) - 1
	fast := indicator.SMA(closes, d.cfg.FastWindow)
	slow := indicator.SMA(closes, d.cfg.SlowWindow)
	if math.IsNaN(fast[last]) || math.IsNaN(slow[last]) {
		out := reject(scanID, symbol, ReasonHTFTrend, metrics)
		return &out
	}

	aligned := fast[last] > slow[last]
	if side == SideShort {
		aligned = fast[last] < slow[last]
	}
	if !aligned {
		out := reject(scanID, symbol, ReasonHTFTrend, metrics)
		return &out
	}
	return nil
}

func (d *Detector) confirmMomentum(ctx context.Context, scanID, symbol string, side Side, metrics map[string]float64) *Outcome {
	bars := d.cfg.MomentumBars
	if bars <= 0 {
		bars = 3
	}
	span := d.cfg.MomentumEMASpan
	if span <= 0 {
		span = 9
	}

	if d.confirm == nil {
		out := reject(scanID, symbol, ReasonMomentum, metrics)
		return &out
	}
	series, ok := d.confirm.MinuteSeries(ctx, symbol)
	if !ok || len(series) < bars {
		out := reject(scanID, symbol, ReasonMomentum, metrics)
		return &out
	}

	closes := series.Closes()
	ema := indicator.EMA(closes, span)
	for i := len(closes) - bars; i < len(closes); i++ {
		above := closes[i] > ema[i]
		if side == SideShort {
			above = closes[i] < ema[i]
		}
		if !above {
			out := reject(scanID, symbol, ReasonMomentum, metrics)
			return &out
		}
	}
	return nil
}

// DetectCross scans the last lookback bars for a sign change of fast>slow
// and returns the most recent flip: false->true is GOLDEN, true->false is
// DEATH.
func DetectCross(fast, slow []float64, lookback int) (CrossType, bool) {
	n := len(fast)
	if n != len(slow) || n < 2 {
		return "", false
	}
	start := n - lookback
	if start < 1 {
		start = 1
	}

	var cross CrossType
	found := false
	for i := start; i < n; i++ {
		if math.IsNaN(fast[i-1]) || math.IsNaN(slow[i-1]) || math.IsNaN(fast[i]) || math.IsNaN(slow[i]) {
			continue
		}
		prevAbove := fast[i-1] > slow[i-1]
		nowAbove := fast[i] > slow[i]
		if prevAbove == nowAbove {
			continue
		}
		if nowAbove {
			cross = CrossGolden
		} else {
			cross = CrossDeath
		}
		found = true
	}
	return cross, found
}

func reject(scanID, symbol string, reason Reason, details map[string]float64) Outcome {
	return Outcome{Rejection: &Rejection{
		ScanID:  scanID,
		Symbol:  symbol,
		Reason:  reason,
		Details: details,
	}}
}
