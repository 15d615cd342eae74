package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"crosswatch/internal/market"
	"crosswatch/internal/ratelimit"
)

// CandleStatus tags the outcome of a candle fetch.
type CandleStatus int

const (
	// CandleOK means Series holds data.
	CandleOK CandleStatus = iota
	// CandleNoData means the venue returned an empty result, typically an
	// unlisted or delisted symbol. Not an error.
	CandleNoData
	// CandleTransient means the call failed in a retriable way and no
	// stale data was available.
	CandleTransient
	// CandleRegionBlocked means the endpoint refused service for this
	// region.
	CandleRegionBlocked
)

// CandleResult is the tagged outcome of FetchCandles / FetchCandlesRange.
type CandleResult struct {
	Status CandleStatus
	Series market.Series
	// Stale marks an OK result served from the stale cache after a
	// confirmed network failure.
	Stale bool
	// Err carries detail for CandleTransient and CandleRegionBlocked.
	Err error
}

// FetchCandles fetches the most recent limit candles for symbol at interval.
func (c *Client) FetchCandles(ctx context.Context, symbol string, interval market.Interval, limit int) CandleResult {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", string(interval))
	query.Set("limit", strconv.Itoa(limit))

	key := ratelimit.Key("klines", symbol, string(interval), strconv.Itoa(limit))
	return c.fetchCandles(ctx, key, query)
}

// FetchCandlesRange fetches candles within [start, end). Used by settlement
// to replay elapsed time since a trade opened.
func (c *Client) FetchCandlesRange(ctx context.Context, symbol string, interval market.Interval, start, end time.Time, limit int) CandleResult {
	query := url.Values{}
	query.Set("symbol", symbol)
	query.Set("interval", string(interval))
	query.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
	query.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
	query.Set("limit", strconv.Itoa(limit))

	key := ratelimit.Key("klines_range", symbol, string(interval),
		strconv.FormatInt(start.UnixMilli(), 10), strconv.FormatInt(end.UnixMilli(), 10))
	return c.fetchCandles(ctx, key, query)
}

func (c *Client) fetchCandles(ctx context.Context, key string, query url.Values) CandleResult {
	if cached, ok := c.cache.Get(key); ok {
		return CandleResult{Status: CandleOK, Series: cached.(market.Series)}
	}

	body, err := c.getJSON(ctx, klinesPath, query)
	if err == nil {
		var series market.Series
		series, err = parseKlines(body)
		if err == nil {
			if len(series) == 0 {
				return CandleResult{Status: CandleNoData}
			}
			c.cache.Put(key, series, c.opts.CandleTTL)
			return CandleResult{Status: CandleOK, Series: series}
		}
	}

	if isTransient(err) {
		if stale, ok := c.cache.GetStale(key); ok {
			c.logger.Warn().Str("query", key).Err(err).Msg("serving stale candles after network failure")
			return CandleResult{Status: CandleOK, Series: stale.(market.Series), Stale: true}
		}
		return CandleResult{Status: CandleTransient, Err: err}
	}
	if isRegionBlocked(err) {
		return CandleResult{Status: CandleRegionBlocked, Err: err}
	}
	return CandleResult{Status: CandleTransient, Err: err}
}

// parseKlines decodes the venue's kline tuples:
// [openTime, open, high, low, close, volume, closeTime, ...].
// Numeric fields arrive as strings; timestamps as millisecond numbers.
func parseKlines(body []byte) (market.Series, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, errTransient{err: fmt.Errorf("decode klines: %w", err)}
	}

	series := make(market.Series, 0, len(rows))
	for _, row := range rows {
		if len(row) < 7 {
			continue
		}
		candle, err := parseKlineRow(row)
		if err != nil {
			continue
		}
		series = append(series, candle)
	}
	return series, nil
}

func parseKlineRow(row []json.RawMessage) (market.Candle, error) {
	var openMs, closeMs int64
	if err := json.Unmarshal(row[0], &openMs); err != nil {
		return market.Candle{}, err
	}
	if err := json.Unmarshal(row[6], &closeMs); err != nil {
		return market.Candle{}, err
	}

	values := make([]float64, 5)
	for i := 1; i <= 5; i++ {
		var raw string
		if err := json.Unmarshal(row[i], &raw); err != nil {
			return market.Candle{}, err
		}
		parsed, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return market.Candle{}, err
		}
		values[i-1] = parsed
	}

	return market.Candle{
		OpenTime:  time.UnixMilli(openMs).UTC(),
		CloseTime: time.UnixMilli(closeMs).UTC(),
		Open:      values[0],
		High:      values[1],
		Low:       values[2],
		Close:     values[3],
		Volume:    values[4],
	}, nil
}

func isRegionBlocked(err error) bool {
	return errors.Is(err, ErrRegionBlocked)
}
