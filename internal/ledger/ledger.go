// Package ledger owns the paper trade lifecycle: open, settle, stats.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosswatch/internal/exchange"
	"crosswatch/internal/market"
	"crosswatch/internal/signal"
	"crosswatch/internal/storage"
)

// TieBreak decides the outcome when one candle touches both exit legs.
type TieBreak string

const (
	// TieBreakSLFirst assumes the adverse move is realised first when
	// intra-candle ordering is unknown. Conservative default.
	TieBreakSLFirst TieBreak = "sl_first"
	// TieBreakTPFirst assumes the favorable move is realised first.
	TieBreakTPFirst TieBreak = "tp_first"
)

// RangeFetcher replays elapsed candles for settlement.
type RangeFetcher interface {
	FetchCandlesRange(ctx context.Context, symbol string, interval market.Interval, start, end time.Time, limit int) exchange.CandleResult
}

// Config tunes the ledger.
type Config struct {
	// SettleInterval is the candle interval used to replay elapsed time.
	SettleInterval market.Interval
	// MaxHold closes a trade as EXPIRED once this much time elapses with
	// neither leg hit.
	MaxHold time.Duration
	// TieBreak is the same-candle resolution policy.
	TieBreak TieBreak
	// RangeLimit caps candles per settlement fetch.
	RangeLimit int
}

// Ledger opens, tracks, and settles simulated positions. It is the sole
// owner of the PaperTrade lifecycle; idempotency rests on the uid insert,
// not on external locking.
type Ledger struct {
	store   storage.TradeStore
	gateway RangeFetcher
	cfg     Config
	logger  zerolog.Logger
}

// New constructs a Ledger.
func New(cfg Config, store storage.TradeStore, gateway RangeFetcher, logger zerolog.Logger) *Ledger {
	if cfg.SettleInterval == "" {
		cfg.SettleInterval = market.Interval5m
	}
	if cfg.MaxHold <= 0 {
		cfg.MaxHold = 48 * time.Hour
	}
	if cfg.TieBreak == "" {
		cfg.TieBreak = TieBreakSLFirst
	}
	if cfg.RangeLimit <= 0 {
		cfg.RangeLimit = 1000
	}
	return &Ledger{
		store:   store,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With().Str("component", "ledger").Logger(),
	}
}

// TradeUID derives the deterministic dedup key from trade identity and open
// minute: re-running a scan within the same minute cannot duplicate a
// position.
func TradeUID(symbol string, side signal.Side, entry float64, openedAt time.Time) string {
	minute := openedAt.UTC().Truncate(time.Minute).Unix()
	payload := fmt.Sprintf("%s|%s|%.8f|%d", symbol, side, entry, minute)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])[:16]
}

// Open inserts a trade for an admitted signal. A duplicate uid is a silent
// no-op; the returned bool reports whether a new position was opened.
func (l *Ledger) Open(ctx context.Context, sig *signal.Signal, openedAt time.Time) (bool, error) {
	openedAt = openedAt.UTC()
	trade := storage.PaperTrade{
		UID:        TradeUID(sig.Symbol, sig.Side, sig.Entry, openedAt),
		ScanID:     sig.ScanID,
		Symbol:     sig.Symbol,
		Side:       string(sig.Side),
		Status:     storage.StatusOpen,
		OpenedAt:   openedAt,
		Entry:      decimal.NewFromFloat(sig.Entry),
		TP:         sig.TP,
		SL:         sig.SL,
		OCOTrigger: sig.OCOTrigger,
		OCOLimit:   sig.OCOLimit,
		Notes: fmt.Sprintf("%s cross, rsi=%.1f atr_pct=%.2f spread_bps=%.1f slope_bps=%.1f",
			sig.Cross, sig.RSI, sig.ATRPct, sig.SpreadBps, sig.SlopeBps),
	}

	inserted, err := l.store.InsertPaperTrade(ctx, trade)
	if err != nil {
		return false, fmt.Errorf("open trade %s: %w", trade.UID, err)
	}
	if !inserted {
		l.logger.Debug().Str("uid", trade.UID).Str("symbol", sig.Symbol).Msg("duplicate trade uid, skipping")
	}
	return inserted, nil
}

// Settlement summarises one settle pass.
type Settlement struct {
	Evaluated int
	Closed    []storage.PaperTrade
}

// Settle evaluates every open trade against the candles elapsed since it
// opened. A single trade's fetch failure leaves it open for the next pass
// and never aborts the rest.
func (l *Ledger) Settle(ctx context.Context, now time.Time) (Settlement, error) {
	trades, err := l.store.ListOpenTrades(ctx)
	if err != nil {
		return Settlement{}, fmt.Errorf("list open trades: %w", err)
	}

	settlement := Settlement{Evaluated: len(trades)}
	for _, trade := range trades {
		closed, err := l.settleOne(ctx, trade, now)
		if err != nil {
			l.logger.Warn().Str("uid", trade.UID).Str("symbol", trade.Symbol).Err(err).Msg("settle pass skipped trade")
			continue
		}
		if closed != nil {
			settlement.Closed = append(settlement.Closed, *closed)
		}
	}
	return settlement, nil
}

func (l *Ledger) settleOne(ctx context.Context, trade storage.PaperTrade, now time.Time) (*storage.PaperTrade, error) {
	result := l.gateway.FetchCandlesRange(ctx, trade.Symbol, l.cfg.SettleInterval, trade.OpenedAt, now, l.cfg.RangeLimit)
	switch result.Status {
	case exchange.CandleOK:
	case exchange.CandleNoData:
		// Delisted mid-trade; leave open until expiry handles it.
		return l.maybeExpire(ctx, trade, now, decimal.Zero, decimal.Zero)
	default:
		return nil, result.Err
	}

	entry, _ := trade.Entry.Float64()
	tp, _ := trade.TP.Float64()
	sl, _ := trade.SL.Float64()
	side := signal.Side(trade.Side)

	favorable, adverse := Excursions(side, entry, result.Series)

	for _, candle := range result.Series {
		reason, hit := ResolveCandle(side, candle.High, candle.Low, tp, sl, l.cfg.TieBreak)
		if !hit {
			continue
		}
		if err := l.store.ClosePaperTrade(ctx, trade.UID, reason, candle.CloseTime, favorable, adverse); err != nil {
			return nil, err
		}
		l.logger.Info().Str("uid", trade.UID).Str("symbol", trade.Symbol).
			Str("reason", reason).Time("closed_at", candle.CloseTime).Msg("trade settled")
		return closedCopy(trade, reason, candle.CloseTime, favorable, adverse), nil
	}

	return l.maybeExpire(ctx, trade, now, favorable, adverse)
}

// maybeExpire closes the trade as EXPIRED when max-hold has elapsed;
// otherwise it ratchets the excursion columns and leaves it open.
func (l *Ledger) maybeExpire(ctx context.Context, trade storage.PaperTrade, now time.Time, favorable, adverse decimal.Decimal) (*storage.PaperTrade, error) {
	if now.Sub(trade.OpenedAt) >= l.cfg.MaxHold {
		if err := l.store.ClosePaperTrade(ctx, trade.UID, storage.CloseExpired, now, favorable, adverse); err != nil {
			return nil, err
		}
		l.logger.Info().Str("uid", trade.UID).Str("symbol", trade.Symbol).Msg("trade expired")
		return closedCopy(trade, storage.CloseExpired, now, favorable, adverse), nil
	}
	if err := l.store.UpdateExcursions(ctx, trade.UID, favorable, adverse); err != nil {
		return nil, err
	}
	return nil, nil
}

func closedCopy(trade storage.PaperTrade, reason string, closedAt time.Time, favorable, adverse decimal.Decimal) *storage.PaperTrade {
	trade.Status = storage.StatusClosed
	trade.CloseReason = &reason
	trade.ClosedAt = &closedAt
	trade.MaxFavorablePct = favorable
	trade.MaxAdversePct = adverse
	return &trade
}

// ResolveCandle evaluates one candle against the exit legs. When both legs
// are touched within the same candle, the policy decides; otherwise the
// touched leg wins.
func ResolveCandle(side signal.Side, high, low, tp, sl float64, policy TieBreak) (string, bool) {
	var tpHit, slHit bool
	if side == signal.SideShort {
		tpHit = low <= tp
		slHit = high >= sl
	} else {
		tpHit = high >= tp
		slHit = low <= sl
	}

	switch {
	case tpHit && slHit:
		if policy == TieBreakTPFirst {
			return storage.CloseTP, true
		}
		return storage.CloseSL, true
	case tpHit:
		return storage.CloseTP, true
	case slHit:
		return storage.CloseSL, true
	default:
		return "", false
	}
}

// Excursions computes the max favorable and max adverse excursion over the
// series, both as positive percentages of entry.
func Excursions(side signal.Side, entry float64, series market.Series) (favorable, adverse decimal.Decimal) {
	if entry <= 0 || len(series) == 0 {
		return decimal.Zero, decimal.Zero
	}

	bestF, bestA := 0.0, 0.0
	for _, candle := range series {
		var f, a float64
		if side == signal.SideShort {
			f = (entry - candle.Low) / entry * 100.0
			a = (candle.High - entry) / entry * 100.0
		} else {
			f = (candle.High - entry) / entry * 100.0
			a = (entry - candle.Low) / entry * 100.0
		}
		if f > bestF {
			bestF = f
		}
		if a > bestA {
			bestA = a
		}
	}
	return decimal.NewFromFloat(bestF).Round(4), decimal.NewFromFloat(bestA).Round(4)
}
