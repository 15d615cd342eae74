// Package universe filters the ticker snapshot into a bounded candidate
// symbol list for one scan.
package universe

import (
	"math"
	"sort"
	"strings"

	"crosswatch/internal/market"
)

// Config holds the universe filters.
type Config struct {
	// QuoteWhitelist keeps only symbols ending in one of these quote
	// assets. Empty means fall back to QuoteSuffix alone.
	QuoteWhitelist []string
	// QuoteSuffix is the default quote asset when no whitelist is set.
	QuoteSuffix string
	// MinQuoteVolume drops symbols below this 24h quote volume.
	MinQuoteVolume float64
	// MinAbsChangePct optionally drops symbols whose |24h change| is below
	// this. Zero disables the filter.
	MinAbsChangePct float64
	// MaxSymbols caps the selected universe.
	MaxSymbols int
	// Fallback is returned when filtering selects nothing, so downstream
	// stages never see an empty universe.
	Fallback []string
}

// Select filters and orders the snapshot: quote-asset whitelist, minimum
// volume, optional minimum change, volume-descending sort, top-N cap.
func Select(snapshot market.TickerSnapshot, cfg Config) []string {
	suffixes := cfg.QuoteWhitelist
	if len(suffixes) == 0 && cfg.QuoteSuffix != "" {
		suffixes = []string{cfg.QuoteSuffix}
	}

	selected := make([]market.Ticker24h, 0, len(snapshot))
	for _, ticker := range snapshot {
		if !hasQuoteSuffix(ticker.Symbol, suffixes) {
			continue
		}
		if ticker.QuoteVolume < cfg.MinQuoteVolume {
			continue
		}
		if cfg.MinAbsChangePct > 0 && math.Abs(ticker.PriceChangePct) < cfg.MinAbsChangePct {
			continue
		}
		selected = append(selected, ticker)
	}

	sort.Slice(selected, func(i, j int) bool {
		if selected[i].QuoteVolume == selected[j].QuoteVolume {
			return selected[i].Symbol < selected[j].Symbol
		}
		return selected[i].QuoteVolume > selected[j].QuoteVolume
	})

	if cfg.MaxSymbols > 0 && len(selected) > cfg.MaxSymbols {
		selected = selected[:cfg.MaxSymbols]
	}

	if len(selected) == 0 {
		return append([]string(nil), cfg.Fallback...)
	}

	symbols := make([]string, len(selected))
	for i, ticker := range selected {
		symbols[i] = ticker.Symbol
	}
	return symbols
}

func hasQuoteSuffix(symbol string, suffixes []string) bool {
	if len(suffixes) == 0 {
		return true
	}
	for _, suffix := range suffixes {
		if suffix != "" && strings.HasSuffix(symbol, suffix) {
			return true
		}
	}
	return false
}
