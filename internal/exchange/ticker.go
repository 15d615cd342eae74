package exchange

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"crosswatch/internal/market"
	"crosswatch/internal/ratelimit"
)

type ticker24hPayload struct {
	Symbol             string `json:"symbol"`
	LastPrice          string `json:"lastPrice"`
	QuoteVolume        string `json:"quoteVolume"`
	PriceChangePercent string `json:"priceChangePercent"`
	HighPrice          string `json:"highPrice"`
	LowPrice           string `json:"lowPrice"`
}

// FetchTickerSnapshot retrieves the full 24h ticker listing. A fresh cache
// hit short-circuits the network; on a transient failure the most recent
// stale snapshot is served instead. Region blocks surface as
// ErrRegionBlocked with no fallback.
func (c *Client) FetchTickerSnapshot(ctx context.Context) (market.TickerSnapshot, error) {
	key := ratelimit.Key("ticker24h")
	if cached, ok := c.cache.Get(key); ok {
		return cached.(market.TickerSnapshot), nil
	}

	body, err := c.getJSON(ctx, ticker24hPath, nil)
	if err != nil {
		if isTransient(err) {
			if stale, ok := c.cache.GetStale(key); ok {
				c.logger.Warn().Err(err).Msg("serving stale ticker snapshot after network failure")
				return stale.(market.TickerSnapshot), nil
			}
		}
		return nil, err
	}

	var payload []ticker24hPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, errTransient{err: fmt.Errorf("decode ticker snapshot: %w", err)}
	}

	snapshot := make(market.TickerSnapshot, len(payload))
	for _, entry := range payload {
		ticker, err := entry.toTicker()
		if err != nil {
			c.logger.Debug().Str("symbol", entry.Symbol).Err(err).Msg("skipping unparsable ticker row")
			continue
		}
		snapshot[ticker.Symbol] = ticker
	}

	c.cache.Put(key, snapshot, c.opts.TickerTTL)
	return snapshot, nil
}

func (p ticker24hPayload) toTicker() (market.Ticker24h, error) {
	last, err := strconv.ParseFloat(p.LastPrice, 64)
	if err != nil {
		return market.Ticker24h{}, fmt.Errorf("parse lastPrice: %w", err)
	}
	volume, err := strconv.ParseFloat(p.QuoteVolume, 64)
	if err != nil {
		return market.Ticker24h{}, fmt.Errorf("parse quoteVolume: %w", err)
	}
	change, err := strconv.ParseFloat(p.PriceChangePercent, 64)
	if err != nil {
		return market.Ticker24h{}, fmt.Errorf("parse priceChangePercent: %w", err)
	}
	high, _ := strconv.ParseFloat(p.HighPrice, 64)
	low, _ := strconv.ParseFloat(p.LowPrice, 64)

	return market.Ticker24h{
		Symbol:         p.Symbol,
		LastPrice:      last,
		QuoteVolume:    volume,
		PriceChangePct: change,
		HighPrice:      high,
		LowPrice:       low,
	}, nil
}
