package app

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"crosswatch/internal/alerting"
	"crosswatch/internal/config"
	"crosswatch/internal/exchange"
	"crosswatch/internal/ledger"
	"crosswatch/internal/market"
	"crosswatch/internal/ratelimit"
	"crosswatch/internal/scanner"
	"crosswatch/internal/scheduler"
	"crosswatch/internal/storage"
)

// App aggregates configuration and shared dependencies for the CLI commands.
type App struct {
	Config *config.Config
	Logger zerolog.Logger
}

// NewApp constructs a new application handle.
func NewApp(cfg *config.Config, logger zerolog.Logger) *App {
	return &App{Config: cfg, Logger: logger.With().Str("component", "app").Logger()}
}

// newGateway wires the limiter, cache, and REST client. One limiter instance
// serialises every outbound call regardless of how many workers fetch.
func (a *App) newGateway() *exchange.Client {
	limiter := ratelimit.NewLimiter(ratelimit.Options{
		MinInterval: a.Config.RateLimit.MinInterval,
		Window:      a.Config.RateLimit.Window,
		Budget:      a.Config.RateLimit.Budget,
	})
	cache := ratelimit.NewCache()

	return exchange.NewClient(exchange.Options{
		BaseURL:          a.Config.Exchange.BaseURL,
		AlternateURLs:    a.Config.Exchange.AlternateURLs,
		PreferAlternates: a.Config.Exchange.PreferAlternates,
		ProxyURL:         a.Config.Exchange.ProxyURL,
		Timeout:          a.Config.Exchange.RequestTimeout,
		UserAgent:        a.Config.Exchange.UserAgent,
		TickerTTL:        a.Config.Exchange.TickerTTL,
		CandleTTL:        a.Config.Exchange.CandleTTL,
	}, limiter, cache, a.Logger)
}

func (a *App) newNotifier() alerting.Notifier {
	if a.Config.Alerting.Telegram.Enabled {
		cfg := a.Config.Alerting.Telegram
		return alerting.NewTelegramNotifier(cfg.BotToken, cfg.ChatID, cfg.APIBase, 10*time.Second, a.Logger)
	}
	return nil
}

func (a *App) openStore(ctx context.Context) (*storage.Store, func(), error) {
	if a.Config.Database.DSN == "" {
		return nil, nil, nil
	}

	pool, err := storage.NewPool(ctx, a.Config.Database)
	if err != nil {
		return nil, nil, err
	}

	if path := a.Config.Database.MigrationsPath; path != "" {
		if err := storage.Migrate(ctx, pool, path); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}

	store := storage.NewStore(pool)
	closer := func() {
		store.Close()
	}
	return store, closer, nil
}

func (a *App) newLedger(store storage.TradeStore, gateway ledger.RangeFetcher) *ledger.Ledger {
	return ledger.New(ledger.Config{
		SettleInterval: marketInterval(a.Config.Ledger.SettleInterval),
		MaxHold:        a.Config.Ledger.MaxHold,
		TieBreak:       ledger.TieBreak(a.Config.Ledger.TieBreak),
		RangeLimit:     a.Config.Ledger.RangeLimit,
	}, store, gateway, a.Logger)
}

// newScanService assembles a full scan pipeline over an open store.
func (a *App) newScanService(store *storage.Store) *scanner.Service {
	gateway := a.newGateway()
	tradeLedger := a.newLedger(store, gateway)
	return scanner.New(a.Config, gateway, tradeLedger, store, a.newNotifier(), store, a.Logger)
}

// Run executes the long-running scan service.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run the scanner")
	}
	defer closeStore()

	sched := scheduler.New(scheduler.Options{
		Interval:     a.Config.Scheduler.Interval,
		AlignToStart: a.Config.Scheduler.AlignToBucket,
		StartupDelay: a.Config.Scheduler.StartupDelay,
	}, a.Logger)

	svc := a.newScanService(store)

	a.Logger.Info().Msg("starting scan service")
	err = sched.Run(ctx, svc.RunScan)
	if err != nil && !errors.Is(err, context.Canceled) {
		a.Logger.Error().Err(err).Msg("scan service terminated with error")
		return err
	}

	a.Logger.Info().Msg("scan service stopped")
	return nil
}

// Scan executes a single scan pass immediately.
func (a *App) Scan(ctx context.Context) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database.dsn is required to run a scan")
	}
	defer closeStore()

	svc := a.newScanService(store)
	bucket := time.Now().UTC().Truncate(a.Config.Scheduler.Interval)
	return svc.RunScan(ctx, bucket)
}

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// StatsOptions bound the stats window.
type StatsOptions struct {
	From *time.Time
	To   *time.Time
}

// ExportOptions hold parameters for exporting closed trades.
type ExportOptions struct {
	From      *time.Time
	To        *time.Time
	PNGPath   string
	CSVPath   string
	MaxPoints int
}

func marketInterval(s string) market.Interval {
	interval := market.Interval(s)
	if !interval.Valid() {
		return market.Interval5m
	}
	return interval
}
