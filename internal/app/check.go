package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"crosswatch/internal/exchange"
	"crosswatch/internal/exits"
	"crosswatch/internal/market"
	"crosswatch/internal/signal"
)

// Check runs the detector once for a single symbol and prints the outcome.
// It needs no database; useful for tuning thresholds against live data.
func (a *App) Check(ctx context.Context, symbol string) error {
	gateway := a.newGateway()

	interval := marketInterval(a.Config.Strategy.Interval)
	result := gateway.FetchCandles(ctx, symbol, interval, a.Config.Strategy.CandleLimit)
	switch result.Status {
	case exchange.CandleOK:
	case exchange.CandleNoData:
		fmt.Fprintf(os.Stdout, "%s: no candle data (unlisted or delisted?)\n", symbol)
		return nil
	case exchange.CandleRegionBlocked:
		return fmt.Errorf("candle endpoint blocked for this region: %w", result.Err)
	default:
		return fmt.Errorf("candle fetch failed: %w", result.Err)
	}

	detector := signal.NewDetector(signal.Config{
		FastWindow:      a.Config.Strategy.FastWindow,
		SlowWindow:      a.Config.Strategy.SlowWindow,
		CrossLookback:   a.Config.Strategy.CrossLookback,
		RSIPeriod:       a.Config.Strategy.RSIPeriod,
		ATRPeriod:       a.Config.Strategy.ATRPeriod,
		MinATRPct:       a.Config.Strategy.MinATRPct,
		RSIMin:          a.Config.Strategy.RSIMin,
		RSIMax:          a.Config.Strategy.RSIMax,
		MinSpreadBps:    a.Config.Strategy.MinSpreadBps,
		MinSlopeBps:     a.Config.Strategy.MinSlopeBps,
		AllowShorts:     a.Config.Strategy.AllowShorts,
		ConfirmHTFTrend: a.Config.Strategy.ConfirmHTFTrend,
		ConfirmMomentum: a.Config.Strategy.ConfirmMomentum,
		MomentumBars:    a.Config.Strategy.MomentumBars,
		MomentumEMASpan: a.Config.Strategy.MomentumEMASpan,
	}, &checkConfirmations{gateway: gateway, slowWindow: a.Config.Strategy.SlowWindow}, a.Logger)

	scanID := time.Now().UTC().Format("20060102T150405Z")
	outcome := detector.Evaluate(ctx, scanID, symbol, result.Series)

	if outcome.Rejection != nil {
		rej := outcome.Rejection
		fmt.Fprintf(os.Stdout, "%s: rejected (%s)\n", symbol, rej.Reason)
		for k, v := range rej.Details {
			fmt.Fprintf(os.Stdout, "  %s = %.4f\n", k, v)
		}
		return nil
	}
	if outcome.Signal == nil {
		return errors.New("detector returned neither signal nor rejection")
	}

	sig := outcome.Signal
	exits.Apply(sig, exitConfigFrom(a))
	fmt.Fprintf(os.Stdout, "%s: %s signal (%s cross)\n", symbol, sig.Side, sig.Cross)
	fmt.Fprintf(os.Stdout, "  entry      = %.8f\n", sig.Entry)
	fmt.Fprintf(os.Stdout, "  tp         = %s\n", sig.TP.String())
	fmt.Fprintf(os.Stdout, "  sl         = %s\n", sig.SL.String())
	fmt.Fprintf(os.Stdout, "  oco        = %s / %s\n", sig.OCOTrigger.String(), sig.OCOLimit.String())
	fmt.Fprintf(os.Stdout, "  rsi        = %.2f\n", sig.RSI)
	fmt.Fprintf(os.Stdout, "  atr_pct    = %.3f\n", sig.ATRPct)
	fmt.Fprintf(os.Stdout, "  spread_bps = %.2f\n", sig.SpreadBps)
	fmt.Fprintf(os.Stdout, "  slope_bps  = %.2f\n", sig.SlopeBps)
	fmt.Fprintf(os.Stdout, "  score      = %.2f\n", sig.Score)
	return nil
}

func exitConfigFrom(a *App) exits.Config {
	return exits.Config{
		Mode:         exits.Mode(a.Config.Exits.Mode),
		TPPct:        a.Config.Exits.TPPct,
		SLPct:        a.Config.Exits.SLPct,
		TPATRMult:    a.Config.Exits.TPATRMult,
		SLATRMult:    a.Config.Exits.SLATRMult,
		OCOBufferPct: a.Config.Exits.OCOBufferPct,
	}
}

type checkConfirmations struct {
	gateway    *exchange.Client
	slowWindow int
}

func (c *checkConfirmations) HourlySeries(ctx context.Context, symbol string) (market.Series, bool) {
	result := c.gateway.FetchCandles(ctx, symbol, market.Interval1h, c.slowWindow+5)
	if result.Status != exchange.CandleOK {
		return nil, false
	}
	return result.Series, true
}

func (c *checkConfirmations) MinuteSeries(ctx context.Context, symbol string) (market.Series, bool) {
	result := c.gateway.FetchCandles(ctx, symbol, market.Interval1m, 30)
	if result.Status != exchange.CandleOK {
		return nil, false
	}
	return result.Series, true
}
