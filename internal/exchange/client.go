// Package exchange implements the market data gateway against a
// Binance-compatible REST API.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"crosswatch/internal/ratelimit"
)

const (
	ticker24hPath = "/api/v3/ticker/24hr"
	klinesPath    = "/api/v3/klines"
)

// ErrRegionBlocked marks an endpoint refusing service for the caller's
// region or IP. Operators should switch base endpoint or enable a proxy;
// retrying blindly does not help.
var ErrRegionBlocked = errors.New("exchange: access blocked for this region")

// errTransient wraps timeouts, connection errors, and decode failures that
// are eligible for the stale-cache fallback.
type errTransient struct{ err error }

func (e errTransient) Error() string { return "exchange: transient failure: " + e.err.Error() }
func (e errTransient) Unwrap() error { return e.err }

// Options parameterise the gateway.
type Options struct {
	BaseURL   string
	Timeout   time.Duration
	UserAgent string
	ProxyURL  string

	// AlternateURLs are additional base endpoints. With PreferAlternates
	// they are tried in order before BaseURL; otherwise they serve as
	// fallbacks after a transient failure on BaseURL.
	AlternateURLs    []string
	PreferAlternates bool

	// Cache TTLs. The venue-wide ticker snapshot tolerates a longer TTL
	// than per-symbol candle series.
	TickerTTL time.Duration
	CandleTTL time.Duration
}

// Client fetches ticker snapshots and candle series. Every network call
// passes through the injected limiter first and is recorded afterward
// regardless of outcome.
type Client struct {
	opts    Options
	limiter *ratelimit.Limiter
	cache   *ratelimit.Cache
	breaker *gobreaker.CircuitBreaker
	client  *http.Client
	logger  zerolog.Logger
}

// NewClient constructs the gateway.
func NewClient(opts Options, limiter *ratelimit.Limiter, cache *ratelimit.Cache, logger zerolog.Logger) *Client {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.binance.com"
	}
	if opts.TickerTTL <= 0 {
		opts.TickerTTL = 2 * time.Minute
	}
	if opts.CandleTTL <= 0 {
		opts.CandleTTL = 30 * time.Second
	}

	transport := http.DefaultTransport
	if opts.ProxyURL != "" {
		if proxyURL, err := url.Parse(opts.ProxyURL); err == nil {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		} else {
			logger.Warn().Str("proxy", opts.ProxyURL).Err(err).Msg("invalid proxy url, using direct transport")
		}
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "exchange",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})

	return &Client{
		opts:    opts,
		limiter: limiter,
		cache:   cache,
		breaker: breaker,
		client:  &http.Client{Timeout: timeout, Transport: transport},
		logger:  logger.With().Str("component", "exchange").Logger(),
	}
}

// baseURLs returns the endpoint cascade in configured order.
func (c *Client) baseURLs() []string {
	if c.opts.PreferAlternates && len(c.opts.AlternateURLs) > 0 {
		out := make([]string, 0, len(c.opts.AlternateURLs)+1)
		out = append(out, c.opts.AlternateURLs...)
		return append(out, c.opts.BaseURL)
	}
	out := []string{c.opts.BaseURL}
	return append(out, c.opts.AlternateURLs...)
}

// getJSON walks the endpoint cascade for one logical query. Transient
// failures move on to the next base; a region block aborts the cascade and
// surfaces distinctly.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values) ([]byte, error) {
	var lastErr error
	for _, base := range c.baseURLs() {
		base = strings.TrimRight(base, "/")
		if base == "" {
			continue
		}

		if err := c.limiter.WaitIfNeeded(ctx); err != nil {
			return nil, err
		}
		body, err := c.doOnce(ctx, base+path, query)
		c.limiter.RecordRequest()

		if err == nil {
			return body, nil
		}
		if errors.Is(err, ErrRegionBlocked) {
			return nil, err
		}
		lastErr = err
		c.logger.Debug().Str("base", base).Str("path", path).Err(err).Msg("endpoint attempt failed")
	}
	if lastErr == nil {
		lastErr = errTransient{err: errors.New("no endpoints configured")}
	}
	return nil, lastErr
}

func (c *Client) doOnce(ctx context.Context, endpoint string, query url.Values) ([]byte, error) {
	result, err := c.breaker.Execute(func() (any, error) {
		full := endpoint
		if len(query) > 0 {
			full += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, full, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		if ua := strings.TrimSpace(c.opts.UserAgent); ua != "" {
			req.Header.Set("User-Agent", ua)
		} else {
			req.Header.Set("User-Agent", "crosswatch/1.0")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			return nil, errTransient{err: err}
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, errTransient{err: err}
		}

		if blockedResponse(resp.StatusCode, body) {
			return nil, fmt.Errorf("%w (status %d)", ErrRegionBlocked, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return nil, errTransient{err: fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))}
		}
		return body, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, errTransient{err: err}
		}
		return nil, err
	}
	return result.([]byte), nil
}

// blockedResponse recognises jurisdiction blocks: HTTP 451, or the venue's
// textual restricted-location refusal on other status codes.
func blockedResponse(status int, body []byte) bool {
	if status == http.StatusUnavailableForLegalReasons {
		return true
	}
	lower := strings.ToLower(string(body))
	return strings.Contains(lower, "restricted location") ||
		strings.Contains(lower, "service unavailable from your region")
}

// isTransient reports whether the error is eligible for the stale-cache
// fallback.
func isTransient(err error) bool {
	var t errTransient
	return errors.As(err, &t)
}
