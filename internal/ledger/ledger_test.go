package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosswatch/internal/exchange"
	"crosswatch/internal/market"
	"crosswatch/internal/signal"
	"crosswatch/internal/storage"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

type closeRecord struct {
	reason    string
	closedAt  time.Time
	favorable decimal.Decimal
	adverse   decimal.Decimal
}

type fakeStore struct {
	open       []storage.PaperTrade
	inserted   map[string]storage.PaperTrade
	closes     map[string]closeRecord
	excursions map[string][2]decimal.Decimal
	reasons    map[string]int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		inserted:   make(map[string]storage.PaperTrade),
		closes:     make(map[string]closeRecord),
		excursions: make(map[string][2]decimal.Decimal),
	}
}

func (f *fakeStore) InsertPaperTrade(ctx context.Context, trade storage.PaperTrade) (bool, error) {
	if _, ok := f.inserted[trade.UID]; ok {
		return false, nil
	}
	f.inserted[trade.UID] = trade
	return true, nil
}

func (f *fakeStore) ListOpenTrades(ctx context.Context) ([]storage.PaperTrade, error) {
	return f.open, nil
}

func (f *fakeStore) ListRecentTrades(ctx context.Context, limit int) ([]storage.PaperTrade, error) {
	return nil, nil
}

func (f *fakeStore) ListClosedTradesBetween(ctx context.Context, from, to time.Time) ([]storage.PaperTrade, error) {
	return nil, nil
}

func (f *fakeStore) ClosePaperTrade(ctx context.Context, uid, reason string, closedAt time.Time, favorable, adverse decimal.Decimal) error {
	f.closes[uid] = closeRecord{reason: reason, closedAt: closedAt, favorable: favorable, adverse: adverse}
	return nil
}

func (f *fakeStore) UpdateExcursions(ctx context.Context, uid string, favorable, adverse decimal.Decimal) error {
	f.excursions[uid] = [2]decimal.Decimal{favorable, adverse}
	return nil
}

func (f *fakeStore) CountCloseReasons(ctx context.Context, from, to time.Time) (map[string]int64, error) {
	return f.reasons, nil
}

type fakeFetcher struct {
	result exchange.CandleResult
}

func (f *fakeFetcher) FetchCandlesRange(ctx context.Context, symbol string, interval market.Interval, start, end time.Time, limit int) exchange.CandleResult {
	return f.result
}

func candle(high, low float64, closeTime time.Time) market.Candle {
	return market.Candle{
		OpenTime:  closeTime.Add(-5 * time.Minute),
		CloseTime: closeTime,
		Open:      (high + low) / 2,
		High:      high,
		Low:       low,
		Close:     (high + low) / 2,
		Volume:    100,
	}
}

func openTrade(uid string, side signal.Side, openedAt time.Time) storage.PaperTrade {
	return storage.PaperTrade{
		UID:      uid,
		Symbol:   "BTCUSDT",
		Side:     string(side),
		Status:   storage.StatusOpen,
		OpenedAt: openedAt,
		Entry:    decimal.NewFromInt(100),
		TP:       decimal.NewFromInt(102),
		SL:       decimal.NewFromInt(99),
	}
}

func TestTradeUIDDeterministicWithinMinute(t *testing.T) {
	base := time.Date(2026, 3, 1, 12, 5, 10, 0, time.UTC)

	a := TradeUID("BTCUSDT", signal.SideLong, 50000.12345678, base)
	b := TradeUID("BTCUSDT", signal.SideLong, 50000.12345678, base.Add(40*time.Second))
	c := TradeUID("BTCUSDT", signal.SideLong, 50000.12345678, base.Add(time.Minute))

	assert.Equal(t, a, b, "same minute must dedup")
	assert.NotEqual(t, a, c, "different minute must produce a new uid")
	assert.Len(t, a, 16)

	d := TradeUID("BTCUSDT", signal.SideShort, 50000.12345678, base)
	assert.NotEqual(t, a, d, "side is part of trade identity")
}

func TestOpenIsIdempotent(t *testing.T) {
	store := newFakeStore()
	l := New(Config{}, store, &fakeFetcher{}, noopLogger())

	sig := &signal.Signal{
		ScanID: "scan1",
		Symbol: "BTCUSDT",
		Side:   signal.SideLong,
		Cross:  signal.CrossGolden,
		Entry:  50000,
		TP:     decimal.NewFromInt(51000),
		SL:     decimal.NewFromInt(49500),
	}
	openedAt := time.Date(2026, 3, 1, 12, 5, 0, 0, time.UTC)

	inserted, err := l.Open(context.Background(), sig, openedAt)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = l.Open(context.Background(), sig, openedAt.Add(30*time.Second))
	require.NoError(t, err)
	assert.False(t, inserted, "re-open within the same minute must be a no-op")

	require.Len(t, store.inserted, 1)
	for _, trade := range store.inserted {
		assert.Equal(t, storage.StatusOpen, trade.Status)
		assert.Contains(t, trade.Notes, "GOLDEN cross")
	}
}

func TestSettleClosesOnTakeProfit(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	hitAt := openedAt.Add(15 * time.Minute)

	store := newFakeStore()
	store.open = []storage.PaperTrade{openTrade("uid1", signal.SideLong, openedAt)}
	fetcher := &fakeFetcher{result: exchange.CandleResult{
		Status: exchange.CandleOK,
		Series: market.Series{
			candle(101, 99.5, openedAt.Add(5*time.Minute)),
			candle(102.5, 100, hitAt),
		},
	}}

	l := New(Config{}, store, fetcher, noopLogger())
	settlement, err := l.Settle(context.Background(), openedAt.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 1, settlement.Evaluated)
	require.Len(t, settlement.Closed, 1)
	assert.Equal(t, storage.CloseTP, *settlement.Closed[0].CloseReason)

	rec, ok := store.closes["uid1"]
	require.True(t, ok)
	assert.Equal(t, storage.CloseTP, rec.reason)
	assert.True(t, rec.closedAt.Equal(hitAt), "close at the hitting candle's close time")
}

func TestSettleTieBreakDefaultsToStopLoss(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.open = []storage.PaperTrade{openTrade("uid1", signal.SideLong, openedAt)}
	// One candle spans both legs.
	fetcher := &fakeFetcher{result: exchange.CandleResult{
		Status: exchange.CandleOK,
		Series: market.Series{candle(103, 98, openedAt.Add(5*time.Minute))},
	}}

	l := New(Config{}, store, fetcher, noopLogger())
	_, err := l.Settle(context.Background(), openedAt.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, storage.CloseSL, store.closes["uid1"].reason)
}

func TestSettleTieBreakTPFirst(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.open = []storage.PaperTrade{openTrade("uid1", signal.SideLong, openedAt)}
	fetcher := &fakeFetcher{result: exchange.CandleResult{
		Status: exchange.CandleOK,
		Series: market.Series{candle(103, 98, openedAt.Add(5*time.Minute))},
	}}

	l := New(Config{TieBreak: TieBreakTPFirst}, store, fetcher, noopLogger())
	_, err := l.Settle(context.Background(), openedAt.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, storage.CloseTP, store.closes["uid1"].reason)
}

func TestSettleExpiresAfterMaxHold(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.open = []storage.PaperTrade{openTrade("uid1", signal.SideLong, openedAt)}
	// Candles never touch either leg.
	fetcher := &fakeFetcher{result: exchange.CandleResult{
		Status: exchange.CandleOK,
		Series: market.Series{candle(101, 99.5, openedAt.Add(5*time.Minute))},
	}}

	l := New(Config{MaxHold: 48 * time.Hour}, store, fetcher, noopLogger())
	settlement, err := l.Settle(context.Background(), openedAt.Add(49*time.Hour))
	require.NoError(t, err)

	require.Len(t, settlement.Closed, 1)
	assert.Equal(t, storage.CloseExpired, store.closes["uid1"].reason)
}

func TestSettleRatchetsExcursionsWhileOpen(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.open = []storage.PaperTrade{openTrade("uid1", signal.SideLong, openedAt)}
	fetcher := &fakeFetcher{result: exchange.CandleResult{
		Status: exchange.CandleOK,
		Series: market.Series{candle(101.5, 99.5, openedAt.Add(5*time.Minute))},
	}}

	l := New(Config{}, store, fetcher, noopLogger())
	settlement, err := l.Settle(context.Background(), openedAt.Add(time.Hour))
	require.NoError(t, err)

	assert.Empty(t, settlement.Closed)
	exc, ok := store.excursions["uid1"]
	require.True(t, ok, "open trade must get its excursions ratcheted")
	assert.True(t, exc[0].Equal(decimal.RequireFromString("1.5")), "favorable = %s", exc[0])
	assert.True(t, exc[1].Equal(decimal.RequireFromString("0.5")), "adverse = %s", exc[1])
}

func TestSettleNoDataLeavesTradeOpenUntilExpiry(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.open = []storage.PaperTrade{openTrade("uid1", signal.SideLong, openedAt)}
	fetcher := &fakeFetcher{result: exchange.CandleResult{Status: exchange.CandleNoData}}

	l := New(Config{MaxHold: 48 * time.Hour}, store, fetcher, noopLogger())

	settlement, err := l.Settle(context.Background(), openedAt.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, settlement.Closed)
	assert.Empty(t, store.closes)

	settlement, err = l.Settle(context.Background(), openedAt.Add(50*time.Hour))
	require.NoError(t, err)
	require.Len(t, settlement.Closed, 1)
	assert.Equal(t, storage.CloseExpired, store.closes["uid1"].reason)
}

func TestSettleSkipsTradeOnFetchFailure(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	store := newFakeStore()
	store.open = []storage.PaperTrade{openTrade("uid1", signal.SideLong, openedAt)}
	fetcher := &fakeFetcher{result: exchange.CandleResult{
		Status: exchange.CandleTransient,
		Err:    errors.New("connection reset"),
	}}

	l := New(Config{}, store, fetcher, noopLogger())
	settlement, err := l.Settle(context.Background(), openedAt.Add(time.Hour))

	require.NoError(t, err, "one trade's failure must not abort the pass")
	assert.Equal(t, 1, settlement.Evaluated)
	assert.Empty(t, settlement.Closed)
	assert.Empty(t, store.closes)
}

func TestSettleShortSide(t *testing.T) {
	openedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// Short: entry 100, TP 98 below, SL 101 above.
	trade := openTrade("uid1", signal.SideShort, openedAt)
	trade.TP = decimal.NewFromInt(98)
	trade.SL = decimal.NewFromInt(101)

	store := newFakeStore()
	store.open = []storage.PaperTrade{trade}
	fetcher := &fakeFetcher{result: exchange.CandleResult{
		Status: exchange.CandleOK,
		Series: market.Series{candle(100.5, 97.5, openedAt.Add(5*time.Minute))},
	}}

	l := New(Config{}, store, fetcher, noopLogger())
	_, err := l.Settle(context.Background(), openedAt.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, storage.CloseTP, store.closes["uid1"].reason)
}

func TestResolveCandle(t *testing.T) {
	cases := []struct {
		name     string
		side     signal.Side
		high     float64
		low      float64
		policy   TieBreak
		want     string
		wantHit  bool
	}{
		{"long no touch", signal.SideLong, 101, 99.5, TieBreakSLFirst, "", false},
		{"long tp only", signal.SideLong, 102.5, 100, TieBreakSLFirst, storage.CloseTP, true},
		{"long sl only", signal.SideLong, 101, 98.5, TieBreakSLFirst, storage.CloseSL, true},
		{"long both sl first", signal.SideLong, 103, 98, TieBreakSLFirst, storage.CloseSL, true},
		{"long both tp first", signal.SideLong, 103, 98, TieBreakTPFirst, storage.CloseTP, true},
		{"long exact touch counts", signal.SideLong, 102, 100, TieBreakSLFirst, storage.CloseTP, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reason, hit := ResolveCandle(tc.side, tc.high, tc.low, 102, 99, tc.policy)
			assert.Equal(t, tc.wantHit, hit)
			assert.Equal(t, tc.want, reason)
		})
	}
}

func TestExcursionsShortSide(t *testing.T) {
	series := market.Series{
		candle(103, 98, time.Now()),
		candle(101, 99, time.Now()),
	}

	favorable, adverse := Excursions(signal.SideShort, 100, series)
	assert.True(t, favorable.Equal(decimal.NewFromInt(2)), "favorable = %s", favorable)
	assert.True(t, adverse.Equal(decimal.NewFromInt(3)), "adverse = %s", adverse)
}

func TestExcursionsEmptyOrBadEntry(t *testing.T) {
	f, a := Excursions(signal.SideLong, 0, market.Series{candle(103, 98, time.Now())})
	assert.True(t, f.IsZero())
	assert.True(t, a.IsZero())

	f, a = Excursions(signal.SideLong, 100, nil)
	assert.True(t, f.IsZero())
	assert.True(t, a.IsZero())
}

func TestStatsWinrate(t *testing.T) {
	store := newFakeStore()
	store.reasons = map[string]int64{
		storage.CloseTP:      6,
		storage.CloseSL:      3,
		storage.CloseExpired: 1,
	}

	l := New(Config{}, store, &fakeFetcher{}, noopLogger())
	stats, err := l.Stats(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, int64(10), stats.Total)
	assert.Equal(t, int64(6), stats.Wins)
	assert.Equal(t, int64(3), stats.Losses)
	assert.Equal(t, int64(1), stats.Expired)
	assert.InDelta(t, 66.6667, stats.WinratePct, 0.001)
}

func TestStatsNoDecidedTrades(t *testing.T) {
	store := newFakeStore()
	store.reasons = map[string]int64{storage.CloseExpired: 4}

	l := New(Config{}, store, &fakeFetcher{}, noopLogger())
	stats, err := l.Stats(context.Background(), time.Time{}, time.Time{})
	require.NoError(t, err)

	assert.Equal(t, int64(4), stats.Total)
	assert.Zero(t, stats.WinratePct)
}
