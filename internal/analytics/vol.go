// Package analytics computes volatility, chain-structure and edge metrics
// from price history and the live option chain. Everything here is pure
// computation; callers supply the data.
package analytics

import (
	"errors"
	"fmt"
	"math"

	"github.com/shritish20/Volguard/internal/models"
)

// MinHistoryDays is the minimum daily history required; anything less is a
// hard failure, not a degraded result.
const MinHistoryDays = 252

const annualization = 252

// ErrInsufficientHistory is returned when fewer than MinHistoryDays candles
// are supplied.
var ErrInsufficientHistory = errors.New("analytics: insufficient history")

// ComputeVol derives VolMetrics from index and VIX history plus live values.
// A non-positive live value is substituted by the last close and flagged via
// Fallback.
func ComputeVol(historyNifty, historyVIX []models.Candle, liveSpot, liveVIX float64) (models.VolMetrics, error) {
	if len(historyNifty) < MinHistoryDays {
		return models.VolMetrics{}, fmt.Errorf("%w: %d nifty candles, need %d",
			ErrInsufficientHistory, len(historyNifty), MinHistoryDays)
	}
	if len(historyVIX) < MinHistoryDays {
		return models.VolMetrics{}, fmt.Errorf("%w: %d vix candles, need %d",
			ErrInsufficientHistory, len(historyVIX), MinHistoryDays)
	}

	var m models.VolMetrics

	if liveSpot <= 0 {
		liveSpot = historyNifty[len(historyNifty)-1].Close
		m.Fallback = true
	}
	if liveVIX <= 0 {
		liveVIX = historyVIX[len(historyVIX)-1].Close
		m.Fallback = true
	}
	m.Spot = liveSpot
	m.VIX = liveVIX

	closes := closePrices(historyNifty)
	returns := logReturns(closes)

	m.RV7 = realizedVol(returns, 7)
	m.RV28 = realizedVol(returns, 28)
	m.RV90 = realizedVol(returns, 90)
	m.Parkinson7 = parkinsonVol(historyNifty, 7)
	m.Parkinson28 = parkinsonVol(historyNifty, 28)

	m.Garch7, m.Garch28 = garchForecasts(returns)

	vixCloses := closePrices(historyVIX)
	m.VIX5DChange = vixChange(vixCloses, liveVIX, 5)
	m.VoV, m.VoVZ = vovZScore(vixCloses)
	m.IVP30 = percentileRank(vixCloses, liveVIX, 30)
	m.IVP90 = percentileRank(vixCloses, liveVIX, 90)
	m.IVP1Yr = percentileRank(vixCloses, liveVIX, 252)

	m.MA20 = mean(tail(closes, 20))
	m.ATR14 = atr(historyNifty, 14)

	m.VolRegime = classifyVolRegime(liveVIX)
	m.VIXMomentum = classifyVIXMomentum(m.VIX5DChange)
	return m, nil
}

func closePrices(candles []models.Candle) []float64 {
	out := make([]float64, len(candles))
	for i, c := range candles {
		out[i] = c.Close
	}
	return out
}

func logReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	out := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] <= 0 || closes[i] <= 0 {
			continue
		}
		out = append(out, math.Log(closes[i]/closes[i-1]))
	}
	return out
}

// realizedVol is the close-to-close estimator: stdev of the last n log
// returns, annualized, in percent.
func realizedVol(returns []float64, n int) float64 {
	window := tail(returns, n)
	if len(window) < 2 {
		return 0
	}
	return stdev(window) * math.Sqrt(annualization) * 100
}

// parkinsonVol is the high-low range estimator over the last n candles,
// annualized, in percent.
func parkinsonVol(candles []models.Candle, n int) float64 {
	window := candles[max(0, len(candles)-n):]
	var sum float64
	count := 0
	for _, c := range window {
		if c.High <= 0 || c.Low <= 0 || c.High < c.Low {
			continue
		}
		r := math.Log(c.High / c.Low)
		sum += r * r
		count++
	}
	if count == 0 {
		return 0
	}
	return math.Sqrt(sum/(4*math.Ln2)/float64(count)) * math.Sqrt(annualization) * 100
}

func vixChange(vixCloses []float64, liveVIX float64, days int) float64 {
	if len(vixCloses) < days+1 {
		return 0
	}
	return liveVIX - vixCloses[len(vixCloses)-1-days]
}

// vovZScore computes vol-of-vol as the 20-day stdev of VIX log changes and
// its z-score against the rolling 60-window baseline of that series.
func vovZScore(vixCloses []float64) (vov, z float64) {
	changes := logReturns(vixCloses)
	const window = 20
	if len(changes) < window {
		return 0, 0
	}

	series := make([]float64, 0, len(changes)-window+1)
	for i := window; i <= len(changes); i++ {
		series = append(series, stdev(changes[i-window:i]))
	}
	vov = series[len(series)-1]

	baseline := tail(series, 60)
	if len(baseline) < 2 {
		return vov, 0
	}
	mu := mean(baseline)
	sd := stdev(baseline)
	if sd == 0 {
		return vov, 0
	}
	return vov, (vov - mu) / sd
}

// percentileRank is the fraction of the trailing window strictly below the
// current level, scaled to 0..100.
func percentileRank(history []float64, current float64, window int) float64 {
	w := tail(history, window)
	if len(w) == 0 {
		return 0
	}
	below := 0
	for _, v := range w {
		if v < current {
			below++
		}
	}
	return float64(below) / float64(len(w)) * 100
}

func atr(candles []models.Candle, n int) float64 {
	if len(candles) < 2 {
		return 0
	}
	var trs []float64
	for i := 1; i < len(candles); i++ {
		h, l, prevClose := candles[i].High, candles[i].Low, candles[i-1].Close
		tr := math.Max(h-l, math.Max(math.Abs(h-prevClose), math.Abs(l-prevClose)))
		trs = append(trs, tr)
	}
	return mean(tail(trs, n))
}

func classifyVolRegime(vix float64) models.VolRegime {
	switch {
	case vix < 12:
		return models.VolRegimeLow
	case vix < 16:
		return models.VolRegimeNormal
	case vix < 22:
		return models.VolRegimeElevated
	default:
		return models.VolRegimeExplosive
	}
}

func classifyVIXMomentum(change5d float64) models.VIXMomentum {
	switch {
	case change5d > 4:
		return models.VIXExplosiveUp
	case change5d > 1.5:
		return models.VIXRising
	case change5d < -4:
		return models.VIXCollapsing
	case change5d < -1.5:
		return models.VIXFalling
	default:
		return models.VIXStable
	}
}

func tail(s []float64, n int) []float64 {
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}

func mean(s []float64) float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

func stdev(s []float64) float64 {
	if len(s) < 2 {
		return 0
	}
	mu := mean(s)
	var sum float64
	for _, v := range s {
		d := v - mu
		sum += d * d
	}
	return math.Sqrt(sum / float64(len(s)-1))
}
