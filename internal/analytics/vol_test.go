package analytics

import (
	"math"
	"testing"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func flatCandles(n int, level float64) []models.Candle {
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{Open: level, High: level, Low: level, Close: level}
	}
	return out
}

func TestComputeVolRequiresHistory(t *testing.T) {
	short := flatCandles(MinHistoryDays-1, 24000)
	full := flatCandles(MinHistoryDays, 14)

	_, err := ComputeVol(short, full, 24000, 14)
	assert.ErrorIs(t, err, ErrInsufficientHistory)

	_, err = ComputeVol(flatCandles(MinHistoryDays, 24000), short, 24000, 14)
	assert.ErrorIs(t, err, ErrInsufficientHistory)
}

func TestComputeVolFallbackToLastClose(t *testing.T) {
	nifty := flatCandles(MinHistoryDays, 24000)
	vix := flatCandles(MinHistoryDays, 14)

	m, err := ComputeVol(nifty, vix, 0, 14)
	require.NoError(t, err)
	assert.True(t, m.Fallback)
	assert.Equal(t, 24000.0, m.Spot)

	m, err = ComputeVol(nifty, vix, 24100, 14.2)
	require.NoError(t, err)
	assert.False(t, m.Fallback)
	assert.Equal(t, 24100.0, m.Spot)
	assert.Equal(t, 14.2, m.VIX)
}

func TestRealizedVolConstantSeriesIsZero(t *testing.T) {
	returns := logReturns([]float64{100, 100, 100, 100, 100, 100, 100, 100})
	assert.Zero(t, realizedVol(returns, 7))
}

func TestRealizedVolAlternatingSeries(t *testing.T) {
	// Alternating ±1% daily moves: stdev of returns ≈ the move size.
	closes := []float64{100}
	for i := 0; i < 30; i++ {
		if i%2 == 0 {
			closes = append(closes, closes[len(closes)-1]*1.01)
		} else {
			closes = append(closes, closes[len(closes)-1]*0.99)
		}
	}
	rv := realizedVol(logReturns(closes), 28)
	assert.Greater(t, rv, 10.0)
	assert.Less(t, rv, 20.0)
}

func TestParkinsonVol(t *testing.T) {
	var candles []models.Candle
	for i := 0; i < 10; i++ {
		candles = append(candles, models.Candle{High: 101, Low: 100, Close: 100.5})
	}
	// log(101/100) ≈ 0.00995 daily range.
	expected := math.Sqrt(math.Pow(math.Log(101.0/100.0), 2)/(4*math.Ln2)) *
		math.Sqrt(252) * 100
	assert.InDelta(t, expected, parkinsonVol(candles, 7), 1e-9)

	assert.Zero(t, parkinsonVol([]models.Candle{{High: 0, Low: 0}}, 7))
}

func TestPercentileRank(t *testing.T) {
	history := []float64{10, 11, 12, 13, 14, 15, 16, 17, 18, 19}

	assert.Equal(t, 100.0, percentileRank(history, 20, 10))
	assert.Equal(t, 0.0, percentileRank(history, 10, 10))
	assert.Equal(t, 50.0, percentileRank(history, 15, 10))
	// Equal values do not count as below.
	assert.Equal(t, 50.0, percentileRank(history, 15.0, 10))
	// Window trims to the most recent samples.
	assert.Equal(t, 0.0, percentileRank(history, 15, 5))
}

func TestATR(t *testing.T) {
	candles := []models.Candle{
		{High: 105, Low: 95, Close: 100},
		{High: 104, Low: 96, Close: 101},
		{High: 106, Low: 98, Close: 103},
	}
	// TR2 = max(8, |104-100|, |96-100|) = 8; TR3 = max(8, 5, 3) = 8.
	assert.InDelta(t, 8.0, atr(candles, 14), 1e-9)
	assert.Zero(t, atr(candles[:1], 14))
}

func TestVIXChange(t *testing.T) {
	vix := []float64{12, 12.5, 13, 13.5, 14, 14.5, 15}
	assert.InDelta(t, 3.0, vixChange(vix, 15.5, 5), 1e-9)
	assert.Zero(t, vixChange(vix[:3], 15.5, 5))
}

func TestClassifyVolRegime(t *testing.T) {
	assert.Equal(t, models.VolRegimeLow, classifyVolRegime(10))
	assert.Equal(t, models.VolRegimeNormal, classifyVolRegime(13))
	assert.Equal(t, models.VolRegimeElevated, classifyVolRegime(18))
	assert.Equal(t, models.VolRegimeExplosive, classifyVolRegime(25))
}

func TestClassifyVIXMomentum(t *testing.T) {
	assert.Equal(t, models.VIXExplosiveUp, classifyVIXMomentum(4.5))
	assert.Equal(t, models.VIXRising, classifyVIXMomentum(2))
	assert.Equal(t, models.VIXStable, classifyVIXMomentum(0.5))
	assert.Equal(t, models.VIXFalling, classifyVIXMomentum(-2))
	assert.Equal(t, models.VIXCollapsing, classifyVIXMomentum(-5))
}
