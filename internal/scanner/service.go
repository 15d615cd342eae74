// Package scanner orchestrates one scan: settle open trades, select the
// universe, evaluate symbols across a worker pool, size exits, open trades.
package scanner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"crosswatch/internal/alerting"
	"crosswatch/internal/config"
	"crosswatch/internal/exchange"
	"crosswatch/internal/exits"
	"crosswatch/internal/ledger"
	"crosswatch/internal/market"
	"crosswatch/internal/signal"
	"crosswatch/internal/storage"
	"crosswatch/internal/universe"
)

// MarketData is the gateway surface the scanner needs.
type MarketData interface {
	FetchTickerSnapshot(ctx context.Context) (market.TickerSnapshot, error)
	FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int) exchange.CandleResult
}

// TradeLedger is the ledger surface the scanner needs.
type TradeLedger interface {
	Open(ctx context.Context, sig *signal.Signal, openedAt time.Time) (bool, error)
	Settle(ctx context.Context, now time.Time) (ledger.Settlement, error)
}

// Service runs scans. Construct with New and drive RunScan from the
// scheduler or a one-shot command.
type Service struct {
	cfg       *config.Config
	gateway   MarketData
	detector  *signal.Detector
	ledger    TradeLedger
	rejStore  storage.RejectionStore
	notifier  alerting.Notifier
	locker    storage.AdvisoryLocker
	lockKey   int64
	logger    zerolog.Logger
	interval  market.Interval
	universes universe.Config
}

// New wires the scan service. rejStore, notifier, and locker may be nil.
func New(cfg *config.Config, gateway MarketData, tradeLedger TradeLedger, rejStore storage.RejectionStore, notifier alerting.Notifier, locker storage.AdvisoryLocker, logger zerolog.Logger) *Service {
	detector := signal.NewDetector(signal.Config{
		FastWindow:      cfg.Strategy.FastWindow,
		SlowWindow:      cfg.Strategy.SlowWindow,
		CrossLookback:   cfg.Strategy.CrossLookback,
		RSIPeriod:       cfg.Strategy.RSIPeriod,
		ATRPeriod:       cfg.Strategy.ATRPeriod,
		MinATRPct:       cfg.Strategy.MinATRPct,
		RSIMin:          cfg.Strategy.RSIMin,
		RSIMax:          cfg.Strategy.RSIMax,
		MinSpreadBps:    cfg.Strategy.MinSpreadBps,
		MinSlopeBps:     cfg.Strategy.MinSlopeBps,
		AllowShorts:     cfg.Strategy.AllowShorts,
		ConfirmHTFTrend: cfg.Strategy.ConfirmHTFTrend,
		ConfirmMomentum: cfg.Strategy.ConfirmMomentum,
		MomentumBars:    cfg.Strategy.MomentumBars,
		MomentumEMASpan: cfg.Strategy.MomentumEMASpan,
	}, &confirmationSource{gateway: gateway, cfg: cfg}, logger)

	return &Service{
		cfg:      cfg,
		gateway:  gateway,
		detector: detector,
		ledger:   tradeLedger,
		rejStore: rejStore,
		notifier: notifier,
		locker:   locker,
		lockKey:  cfg.Scheduler.AdvisoryLockKey,
		logger:   logger.With().Str("component", "scanner").Logger(),
		interval: market.Interval(cfg.Strategy.Interval),
		universes: universe.Config{
			QuoteWhitelist:  cfg.Universe.QuoteWhitelist,
			QuoteSuffix:     cfg.Universe.QuoteSuffix,
			MinQuoteVolume:  cfg.Universe.MinQuoteVolume,
			MinAbsChangePct: cfg.Universe.MinAbsChangePct,
			MaxSymbols:      cfg.Universe.MaxSymbols,
			Fallback:        cfg.Universe.Fallback,
		},
	}
}

// RunScan executes one full scan for the given bucket time. Settlement
// completes and commits before any new signal is admitted, so an expiring
// trade cannot be double-counted the cycle it closes. A single symbol's
// failure never aborts the scan.
func (s *Service) RunScan(ctx context.Context, scanTime time.Time) error {
	unlock, proceed, err := s.acquireLock(ctx)
	if err != nil {
		return err
	}
	if !proceed {
		s.logger.Debug().Time("scan", scanTime).Msg("skip scan, advisory lock held elsewhere")
		return nil
	}
	if unlock != nil {
		defer unlock()
	}

	scanID := scanTime.UTC().Format("20060102T150405Z")
	logger := s.logger.With().Str("scan_id", scanID).Logger()

	settlement, err := s.ledger.Settle(ctx, scanTime)
	if err != nil {
		return fmt.Errorf("settle: %w", err)
	}
	logger.Info().Int("evaluated", settlement.Evaluated).Int("closed", len(settlement.Closed)).Msg("settlement pass complete")
	s.notifyClosed(ctx, settlement.Closed)

	snapshot, err := s.gateway.FetchTickerSnapshot(ctx)
	if err != nil {
		if errors.Is(err, exchange.ErrRegionBlocked) {
			logger.Error().Err(err).Msg("ticker endpoint blocked for this region; switch base_url, enable a proxy, or configure alternate_urls")
		}
		return fmt.Errorf("fetch ticker snapshot: %w", err)
	}

	symbols := universe.Select(snapshot, s.universes)
	logger.Info().Int("snapshot", len(snapshot)).Int("universe", len(symbols)).Msg("universe selected")

	recorder := signal.NewRecorder(scanID, s.cfg.Scan.VerboseRejections, logger)
	signals := s.evaluateUniverse(ctx, scanID, symbols, recorder)

	opened := 0
	for _, sig := range signals {
		exits.Apply(sig, exitConfig(s.cfg.Exits))
		isNew, err := s.ledger.Open(ctx, sig, scanTime)
		if err != nil {
			logger.Error().Str("symbol", sig.Symbol).Err(err).Msg("failed to open trade")
			continue
		}
		if isNew {
			opened++
			s.notifyOpened(ctx, sig, scanTime)
		}
	}

	s.persistRejections(ctx, recorder.Rejections())
	recorder.Summary()
	logger.Info().Int("signals", len(signals)).Int("opened", opened).Msg("scan complete")
	return nil
}

// evaluateUniverse fans symbols out over a bounded worker pool. Workers
// share the gateway, whose limiter stays the single serialization point for
// outbound calls.
func (s *Service) evaluateUniverse(ctx context.Context, scanID string, symbols []string, recorder *signal.Recorder) []*signal.Signal {
	workers := s.cfg.Scan.Workers
	if workers <= 0 {
		workers = 1
	}

	jobs := make(chan string)
	var mu sync.Mutex
	var signals []*signal.Signal
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for symbol := range jobs {
				outcome, ok := s.evaluateSymbol(ctx, scanID, symbol)
				if !ok {
					continue
				}
				recorder.Record(outcome)
				if outcome.Signal != nil {
					mu.Lock()
					signals = append(signals, outcome.Signal)
					mu.Unlock()
				}
			}
		}()
	}

	for _, symbol := range symbols {
		select {
		case <-ctx.Done():
			close(jobs)
			wg.Wait()
			return signals
		case jobs <- symbol:
		}
	}
	close(jobs)
	wg.Wait()
	return signals
}

func (s *Service) evaluateSymbol(ctx context.Context, scanID, symbol string) (signal.Outcome, bool) {
	result := s.gateway.FetchCandles(ctx, symbol, s.interval, s.cfg.Strategy.CandleLimit)
	switch result.Status {
	case exchange.CandleOK:
		return s.detector.Evaluate(ctx, scanID, symbol, result.Series), true
	case exchange.CandleNoData:
		s.logger.Debug().Str("symbol", symbol).Msg("no candle data, skipping symbol this scan")
	case exchange.CandleRegionBlocked:
		s.logger.Error().Str("symbol", symbol).Err(result.Err).Msg("candle endpoint blocked for this region")
	default:
		s.logger.Warn().Str("symbol", symbol).Err(result.Err).Msg("candle fetch failed, skipping symbol this scan")
	}
	return signal.Outcome{}, false
}

func (s *Service) persistRejections(ctx context.Context, rejections []signal.Rejection) {
	if s.rejStore == nil || len(rejections) == 0 {
		return
	}
	rows := make([]storage.RejectionRow, 0, len(rejections))
	for _, rej := range rejections {
		details, err := json.Marshal(rej.Details)
		if err != nil {
			details = []byte("{}")
		}
		rows = append(rows, storage.RejectionRow{
			ScanID:  rej.ScanID,
			Symbol:  rej.Symbol,
			Reason:  string(rej.Reason),
			Details: details,
		})
	}
	if err := s.rejStore.InsertRejections(ctx, rows); err != nil {
		s.logger.Error().Err(err).Msg("failed to persist rejection records")
	}
}

func (s *Service) notifyOpened(ctx context.Context, sig *signal.Signal, openedAt time.Time) {
	if s.notifier == nil || !s.cfg.Alerting.Enabled {
		return
	}
	trade := storage.PaperTrade{
		UID:      ledger.TradeUID(sig.Symbol, sig.Side, sig.Entry, openedAt),
		Symbol:   sig.Symbol,
		Side:     string(sig.Side),
		Status:   storage.StatusOpen,
		OpenedAt: openedAt.UTC(),
		Entry:    decimal.NewFromFloat(sig.Entry),
		TP:       sig.TP,
		SL:       sig.SL,
	}
	if err := s.notifier.Notify(ctx, alerting.Notification{Event: alerting.EventOpened, Trade: trade}); err != nil {
		s.logger.Error().Str("symbol", sig.Symbol).Err(err).Msg("failed to dispatch open alert")
	}
}

func (s *Service) notifyClosed(ctx context.Context, closed []storage.PaperTrade) {
	if s.notifier == nil || !s.cfg.Alerting.Enabled {
		return
	}
	for _, trade := range closed {
		if err := s.notifier.Notify(ctx, alerting.Notification{Event: alerting.EventClosed, Trade: trade}); err != nil {
			s.logger.Error().Str("symbol", trade.Symbol).Err(err).Msg("failed to dispatch close alert")
		}
	}
}

func (s *Service) acquireLock(ctx context.Context) (func(), bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return nil, true, nil
	}
	unlock, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return nil, false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return nil, false, nil
	}
	return unlock, true, nil
}

func exitConfig(cfg config.ExitsConfig) exits.Config {
	return exits.Config{
		Mode:         exits.Mode(cfg.Mode),
		TPPct:        cfg.TPPct,
		SLPct:        cfg.SLPct,
		TPATRMult:    cfg.TPATRMult,
		SLATRMult:    cfg.SLATRMult,
		OCOBufferPct: cfg.OCOBufferPct,
	}
}

// confirmationSource fetches confirmation series on demand; the gateway's
// cache keeps repeated candidates from burning extra budget.
type confirmationSource struct {
	gateway MarketData
	cfg     *config.Config
}

func (c *confirmationSource) HourlySeries(ctx context.Context, symbol string) (market.Series, bool) {
	limit := c.cfg.Strategy.SlowWindow + 5
	result := c.gateway.FetchCandles(ctx, symbol, market.Interval1h, limit)
	if result.Status != exchange.CandleOK {
		return nil, false
	}
	return result.Series, true
}

func (c *confirmationSource) MinuteSeries(ctx context.Context, symbol string) (market.Series, bool) {
	limit := c.cfg.Strategy.MomentumEMASpan + c.cfg.Strategy.MomentumBars + 10
	result := c.gateway.FetchCandles(ctx, symbol, market.Interval1m, limit)
	if result.Status != exchange.CandleOK {
		return nil, false
	}
	return result.Series, true
}
