package indicator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMA(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := SMA(values, 3)

	require.Len(t, out, 5)
	assert.True(t, math.IsNaN(out[0]))
	assert.True(t, math.IsNaN(out[1]))
	assert.InDelta(t, 2.0, out[2], 1e-9)
	assert.InDelta(t, 3.0, out[3], 1e-9)
	assert.InDelta(t, 4.0, out[4], 1e-9)
}

func TestSMAShortSeries(t *testing.T) {
	out := SMA([]float64{1, 2}, 3)
	require.Len(t, out, 2)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestEMASeededAtFirstValue(t *testing.T) {
	values := []float64{10, 10, 10, 10}
	out := EMA(values, 3)

	require.Len(t, out, 4)
	for i, v := range out {
		assert.InDelta(t, 10.0, v, 1e-9, "position %d", i)
	}
}

func TestEMAConverges(t *testing.T) {
	// A constant step up should pull the EMA toward the new level.
	values := []float64{1, 2, 2, 2, 2, 2, 2, 2, 2, 2}
	out := EMA(values, 2)

	assert.InDelta(t, 1.0, out[0], 1e-9)
	assert.Greater(t, out[5], out[1])
	assert.InDelta(t, 2.0, out[len(out)-1], 0.01)
}

func TestRSIAllGainsNearHundred(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(i + 1)
	}
	out := RSI(closes, 14)

	for i := 0; i < 14; i++ {
		assert.True(t, math.IsNaN(out[i]), "position %d should be NaN", i)
	}
	assert.Greater(t, out[len(out)-1], 99.0)
}

func TestRSIAllLossesNearZero(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = float64(100 - i)
	}
	out := RSI(closes, 14)
	assert.Less(t, out[len(out)-1], 1.0)
}

func TestRSIFlatSeriesStaysBounded(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 50
	}
	out := RSI(closes, 14)

	v := out[len(out)-1]
	require.False(t, math.IsNaN(v))
	assert.GreaterOrEqual(t, v, 0.0)
	assert.LessOrEqual(t, v, 100.0)
}

func TestRSIInsufficientData(t *testing.T) {
	out := RSI([]float64{1, 2, 3}, 14)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}

func TestATRUsesPrevCloseGaps(t *testing.T) {
	// Second candle gaps well above the first close; true range must span
	// the gap, not just the candle's own high-low.
	highs := []float64{10, 20, 21}
	lows := []float64{9, 19, 20}
	closes := []float64{9.5, 19.5, 20.5}

	out := ATR(highs, lows, closes, 2)

	require.Len(t, out, 3)
	assert.True(t, math.IsNaN(out[0]))
	// tr[0]=1, tr[1]=max(1, |20-9.5|, |19-9.5|)=10.5, tr[2]=max(1, 1.5, 0.5)=1.5
	assert.InDelta(t, (1.0+10.5)/2, out[1], 1e-9)
	assert.InDelta(t, (10.5+1.5)/2, out[2], 1e-9)
}

func TestATRMismatchedLengths(t *testing.T) {
	out := ATR([]float64{1, 2}, []float64{1}, []float64{1, 2}, 2)
	for _, v := range out {
		assert.True(t, math.IsNaN(v))
	}
}
