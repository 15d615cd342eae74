package ratelimit

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiterPacesCalls(t *testing.T) {
	l := NewLimiter(Options{
		MinInterval: 20 * time.Millisecond,
		Window:      time.Minute,
		Budget:      100,
	})

	ctx := context.Background()
	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, l.WaitIfNeeded(ctx))
		l.RecordRequest()
	}
	elapsed := time.Since(start)

	// First call passes immediately, the next two wait one interval each.
	assert.GreaterOrEqual(t, elapsed, 40*time.Millisecond)
	assert.Equal(t, 97, l.Remaining())
}

func TestLimiterBudgetBlocks(t *testing.T) {
	l := NewLimiter(Options{
		MinInterval: time.Millisecond,
		Window:      50 * time.Millisecond,
		Budget:      2,
	})

	ctx := context.Background()
	require.NoError(t, l.WaitIfNeeded(ctx))
	l.RecordRequest()
	require.NoError(t, l.WaitIfNeeded(ctx))
	l.RecordRequest()
	assert.Equal(t, 0, l.Remaining())

	// Third call must wait for the window to roll.
	start := time.Now()
	require.NoError(t, l.WaitIfNeeded(ctx))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestLimiterBudgetHoldsUnderConcurrentCallers(t *testing.T) {
	l := NewLimiter(Options{
		MinInterval: time.Millisecond,
		Window:      time.Hour,
		Budget:      2,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	var admitted int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := l.WaitIfNeeded(ctx); err != nil {
				return
			}
			atomic.AddInt32(&admitted, 1)
			l.RecordRequest()
		}()
	}
	wg.Wait()

	// Admission reserves the slot, so racing callers cannot all observe the
	// same free budget and pass together.
	assert.EqualValues(t, 2, admitted)
	assert.Equal(t, 0, l.Remaining())
}

func TestLimiterReleasesReservationOnCancelledPaceWait(t *testing.T) {
	l := NewLimiter(Options{
		MinInterval: 200 * time.Millisecond,
		Window:      time.Hour,
		Budget:      2,
	})

	ctx := context.Background()
	require.NoError(t, l.WaitIfNeeded(ctx))
	l.RecordRequest()

	// The pacing wait cannot finish before the deadline; the budget slot
	// reserved on admission must come back.
	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.WaitIfNeeded(cancelCtx)
	assert.Error(t, err)
	assert.Equal(t, 1, l.Remaining())
}

func TestLimiterBudgetWaitHonorsContext(t *testing.T) {
	l := NewLimiter(Options{
		MinInterval: time.Millisecond,
		Window:      time.Hour,
		Budget:      1,
	})

	ctx := context.Background()
	require.NoError(t, l.WaitIfNeeded(ctx))
	l.RecordRequest()

	cancelCtx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := l.WaitIfNeeded(cancelCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCacheTTL(t *testing.T) {
	c := NewCache()
	c.Put("k", 42, 30*time.Millisecond)

	v, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, 42, v)

	time.Sleep(50 * time.Millisecond)

	_, ok = c.Get("k")
	assert.False(t, ok, "expired entry must miss on Get")

	v, ok = c.GetStale("k")
	require.True(t, ok, "expired entry must stay reachable via GetStale")
	assert.Equal(t, 42, v)
}

func TestCacheMissingKey(t *testing.T) {
	c := NewCache()
	_, ok := c.Get("absent")
	assert.False(t, ok)
	_, ok = c.GetStale("absent")
	assert.False(t, ok)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "ticker24h", Key("ticker24h"))
	assert.Equal(t, "klines:BTCUSDT:5m:300", Key("klines", "BTCUSDT", "5m", "300"))
}
