package exits

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crosswatch/internal/signal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestSizePctLong(t *testing.T) {
	levels := Size(100, signal.SideLong, 0, Config{
		Mode:         ModePct,
		TPPct:        2,
		SLPct:        1,
		OCOBufferPct: 0.1,
	})

	assert.True(t, levels.TP.Equal(dec("102")), "tp = %s", levels.TP)
	assert.True(t, levels.SL.Equal(dec("99")), "sl = %s", levels.SL)
	assert.True(t, levels.OCOTrigger.Equal(levels.SL))
	// Limit sits below the trigger so a long's stop sell can fill.
	assert.True(t, levels.OCOLimit.LessThan(levels.OCOTrigger))
	assert.True(t, levels.OCOLimit.Equal(dec("99").Mul(dec("0.999"))))
}

func TestSizePctShortMirrorsLong(t *testing.T) {
	cfg := Config{Mode: ModePct, TPPct: 2, SLPct: 1, OCOBufferPct: 0.1}

	long := Size(100, signal.SideLong, 0, cfg)
	short := Size(100, signal.SideShort, 0, cfg)

	entry := dec("100")
	assert.True(t, entry.Sub(long.SL).Equal(short.SL.Sub(entry)), "sl distances differ")
	assert.True(t, long.TP.Sub(entry).Equal(entry.Sub(short.TP)), "tp distances differ")
	// Short stop buy needs its limit above the trigger.
	assert.True(t, short.OCOLimit.GreaterThan(short.OCOTrigger))
}

func TestSizeATRModeTakesWiderLeg(t *testing.T) {
	cfg := Config{
		Mode:      ModeATR,
		TPPct:     1,
		SLPct:     1,
		TPATRMult: 2,
		SLATRMult: 1.5,
	}

	// ATR distance (2*3=6, 1.5*3=4.5) dominates the 1% floor (1).
	levels := Size(100, signal.SideLong, 3, cfg)
	assert.True(t, levels.TP.Equal(dec("106")), "tp = %s", levels.TP)
	assert.True(t, levels.SL.Equal(dec("95.5")), "sl = %s", levels.SL)

	// A tiny ATR falls back to the percentage floor.
	levels = Size(100, signal.SideLong, 0.01, cfg)
	assert.True(t, levels.TP.Equal(dec("101")), "tp = %s", levels.TP)
	assert.True(t, levels.SL.Equal(dec("99")), "sl = %s", levels.SL)
}

func TestApplyFillsSignal(t *testing.T) {
	sig := &signal.Signal{
		Symbol: "BTCUSDT",
		Side:   signal.SideLong,
		Entry:  50000,
		ATR:    250,
	}

	Apply(sig, Config{Mode: ModePct, TPPct: 2, SLPct: 1, OCOBufferPct: 0.1})

	require.False(t, sig.TP.IsZero())
	assert.True(t, sig.TP.Equal(dec("51000")))
	assert.True(t, sig.SL.Equal(dec("49500")))
	assert.True(t, sig.OCOTrigger.Equal(sig.SL))
	assert.True(t, sig.OCOLimit.LessThan(sig.SL))
}
