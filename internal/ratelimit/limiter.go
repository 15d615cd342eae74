// Package ratelimit throttles outbound venue calls and caches responses.
//
// A single Limiter instance is the serialization point for every network
// call the scanner makes: the per-minute budget is global, not per-caller.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Options tune the limiter.
type Options struct {
	// MinInterval is the minimum spacing between consecutive calls.
	MinInterval time.Duration
	// Window is the rolling budget window, typically one minute.
	Window time.Duration
	// Budget is the maximum number of calls per Window.
	Budget int
}

// Limiter enforces a minimum inter-call interval and a rolling per-window
// call budget. Safe for concurrent use.
type Limiter struct {
	pace   *rate.Limiter
	window time.Duration
	budget int

	mu          sync.Mutex
	windowStart time.Time
	calls       int
	// inFlight counts budget slots reserved by WaitIfNeeded but not yet
	// stamped by RecordRequest, so concurrent callers cannot all pass the
	// gate on the same remaining slot.
	inFlight int
}

// NewLimiter constructs a limiter from options, applying conservative
// defaults for unset fields.
func NewLimiter(opts Options) *Limiter {
	if opts.MinInterval <= 0 {
		opts.MinInterval = 100 * time.Millisecond
	}
	if opts.Window <= 0 {
		opts.Window = time.Minute
	}
	if opts.Budget <= 0 {
		opts.Budget = 600
	}
	return &Limiter{
		pace:   rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		window: opts.Window,
		budget: opts.Budget,
	}
}

// WaitIfNeeded blocks until the next call is allowed under both the pacing
// interval and the rolling budget, and reserves one budget slot for the
// caller. The reservation is released by the matching RecordRequest, or
// here when the pacing wait is cancelled.
func (l *Limiter) WaitIfNeeded(ctx context.Context) error {
	for {
		l.mu.Lock()
		now := time.Now()
		l.rollWindow(now)
		if l.calls+l.inFlight < l.budget {
			l.inFlight++
			l.mu.Unlock()
			break
		}
		wakeAt := l.windowStart.Add(l.window)
		l.mu.Unlock()

		timer := time.NewTimer(time.Until(wakeAt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if err := l.pace.Wait(ctx); err != nil {
		l.mu.Lock()
		l.inFlight--
		l.mu.Unlock()
		return err
	}
	return nil
}

// RecordRequest converts the caller's reservation into a recorded call
// against the rolling window. Callers record every call, successful or not.
func (l *Limiter) RecordRequest() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollWindow(time.Now())
	if l.inFlight > 0 {
		l.inFlight--
	}
	l.calls++
}

// Remaining reports how many calls are left in the current window. Reserved
// but unrecorded slots count as spent.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rollWindow(time.Now())
	return l.budget - l.calls - l.inFlight
}

// rollWindow resets the counter once the window duration has elapsed.
// Caller holds l.mu.
func (l *Limiter) rollWindow(now time.Time) {
	if l.windowStart.IsZero() || now.Sub(l.windowStart) >= l.window {
		l.windowStart = now
		l.calls = 0
	}
}
