package exchange

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"crosswatch/internal/ratelimit"
)

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

func newTestClient(opts Options) *Client {
	limiter := ratelimit.NewLimiter(ratelimit.Options{
		MinInterval: time.Millisecond,
		Window:      time.Minute,
		Budget:      1000,
	})
	return NewClient(opts, limiter, ratelimit.NewCache(), noopLogger())
}

const tickerBody = `[
  {"symbol":"BTCUSDT","lastPrice":"50000.5","quoteVolume":"9000000","priceChangePercent":"2.5","highPrice":"51000","lowPrice":"49000"},
  {"symbol":"ETHUSDT","lastPrice":"3000","quoteVolume":"4000000","priceChangePercent":"-1.2","highPrice":"3100","lowPrice":"2900"},
  {"symbol":"BADUSDT","lastPrice":"not-a-number","quoteVolume":"1","priceChangePercent":"0","highPrice":"1","lowPrice":"1"}
]`

func TestFetchTickerSnapshotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != ticker24hPath {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(tickerBody))
	}))
	defer srv.Close()

	c := newTestClient(Options{BaseURL: srv.URL})
	snap, err := c.FetchTickerSnapshot(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected 2 parsable tickers, got %d", len(snap))
	}
	btc := snap["BTCUSDT"]
	if btc.LastPrice != 50000.5 || btc.QuoteVolume != 9000000 || btc.PriceChangePct != 2.5 {
		t.Fatalf("ticker fields mismatch: %+v", btc)
	}
}

func TestFetchTickerSnapshotUsesCache(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(tickerBody))
	}))
	defer srv.Close()

	c := newTestClient(Options{BaseURL: srv.URL, TickerTTL: time.Minute})
	ctx := context.Background()
	if _, err := c.FetchTickerSnapshot(ctx); err != nil {
		t.Fatalf("first fetch: %v", err)
	}
	if _, err := c.FetchTickerSnapshot(ctx); err != nil {
		t.Fatalf("second fetch: %v", err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls.Load())
	}
}

func TestFetchTickerSnapshotStaleFallback(t *testing.T) {
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(tickerBody))
	}))
	defer srv.Close()

	c := newTestClient(Options{BaseURL: srv.URL, TickerTTL: 5 * time.Millisecond})
	ctx := context.Background()
	if _, err := c.FetchTickerSnapshot(ctx); err != nil {
		t.Fatalf("warmup fetch: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	fail.Store(true)

	snap, err := c.FetchTickerSnapshot(ctx)
	if err != nil {
		t.Fatalf("stale fallback should not error: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("expected stale snapshot, got %d entries", len(snap))
	}
}

func TestFetchTickerSnapshotRegionBlocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
	}))
	defer srv.Close()

	c := newTestClient(Options{BaseURL: srv.URL})
	_, err := c.FetchTickerSnapshot(context.Background())
	if !errors.Is(err, ErrRegionBlocked) {
		t.Fatalf("expected ErrRegionBlocked, got %v", err)
	}
}

func TestRegionBlockedByBodyText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"msg":"Service unavailable from a restricted location"}`))
	}))
	defer srv.Close()

	c := newTestClient(Options{BaseURL: srv.URL})
	_, err := c.FetchTickerSnapshot(context.Background())
	if !errors.Is(err, ErrRegionBlocked) {
		t.Fatalf("expected ErrRegionBlocked from body text, got %v", err)
	}
}

func TestGetJSONFallsBackToAlternate(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tickerBody))
	}))
	defer good.Close()

	c := newTestClient(Options{BaseURL: bad.URL, AlternateURLs: []string{good.URL}})
	snap, err := c.FetchTickerSnapshot(context.Background())
	if err != nil {
		t.Fatalf("alternate should have served the request: %v", err)
	}
	if len(snap) != 2 {
		t.Fatalf("unexpected snapshot size %d", len(snap))
	}
}

func TestPreferAlternatesOrdersCascade(t *testing.T) {
	var primaryCalls atomic.Int32
	primary := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		primaryCalls.Add(1)
		_, _ = w.Write([]byte(tickerBody))
	}))
	defer primary.Close()
	alt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(tickerBody))
	}))
	defer alt.Close()

	c := newTestClient(Options{
		BaseURL:          primary.URL,
		AlternateURLs:    []string{alt.URL},
		PreferAlternates: true,
	})
	if _, err := c.FetchTickerSnapshot(context.Background()); err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if primaryCalls.Load() != 0 {
		t.Fatalf("primary should not be hit when alternates are preferred")
	}
}

func TestRegionBlockAbortsCascade(t *testing.T) {
	var altCalls atomic.Int32
	blocked := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnavailableForLegalReasons)
	}))
	defer blocked.Close()
	alt := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		altCalls.Add(1)
		_, _ = w.Write([]byte(tickerBody))
	}))
	defer alt.Close()

	c := newTestClient(Options{BaseURL: blocked.URL, AlternateURLs: []string{alt.URL}})
	_, err := c.FetchTickerSnapshot(context.Background())
	if !errors.Is(err, ErrRegionBlocked) {
		t.Fatalf("expected ErrRegionBlocked, got %v", err)
	}
	if altCalls.Load() != 0 {
		t.Fatalf("region block must abort the cascade, alternate was hit")
	}
}
