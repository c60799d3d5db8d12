// Package regime turns the analytics metrics into a scored market regime and
// a trading mandate: which structure to deploy, at what allocation, or
// whether to stand aside.
package regime

import (
	"fmt"
	"math"

	"github.com/shritish20/Volguard/internal/models"
)

// Inputs is the full metric context for one expiry bucket.
type Inputs struct {
	Vol      models.VolMetrics
	Struct   models.StructMetrics
	Edge     models.EdgeMetrics
	External models.ExternalMetrics
	DTE      int
}

// alternateWeightSets are the fixed weightings used to measure how sensitive
// the composite is to the weighting choice.
var alternateWeightSets = []models.Weights{
	{Vol: 0.30, Struct: 0.35, Edge: 0.25, Risk: 0.10},
	{Vol: 0.50, Struct: 0.25, Edge: 0.15, Risk: 0.10},
	{Vol: 0.35, Struct: 0.30, Edge: 0.25, Risk: 0.10},
}

// ComputeScore scores the regime on a 0-10 scale per sub-component and
// composites them under the dynamic weights.
func ComputeScore(in Inputs) models.Score {
	s := models.Score{
		Vol:     scoreVol(in.Vol),
		Struct:  scoreStruct(in.Struct, in.Vol.Spot),
		Edge:    scoreEdge(in.Edge),
		Risk:    scoreRisk(in.External),
		Weights: computeWeights(in),
	}
	s.Composite = composite(s, s.Weights)
	s.Stability = stability(s)
	s.Confidence = confidence(s.Composite, s.Stability)
	s.Drivers = drivers(in, s)
	return s
}

func composite(s models.Score, w models.Weights) float64 {
	return s.Vol*w.Vol + s.Struct*w.Struct + s.Edge*w.Edge + s.Risk*w.Risk
}

// stability is 1 − stdev/mean of the composite across the alternate weight
// sets, clamped to [0,1].
func stability(s models.Score) float64 {
	vals := make([]float64, len(alternateWeightSets))
	var sum float64
	for i, w := range alternateWeightSets {
		vals[i] = composite(s, w)
		sum += vals[i]
	}
	mean := sum / float64(len(vals))
	if mean == 0 {
		return 0
	}
	var sq float64
	for _, v := range vals {
		sq += (v - mean) * (v - mean)
	}
	sd := math.Sqrt(sq / float64(len(vals)-1))
	return clamp(1-sd/mean, 0, 1)
}

func confidence(composite, stability float64) models.Confidence {
	switch {
	case composite >= 8 && stability > 0.85:
		return models.ConfidenceVeryHigh
	case composite >= 6.5 && stability > 0.75:
		return models.ConfidenceHigh
	case composite >= 4:
		return models.ConfidenceModerate
	default:
		return models.ConfidenceLow
	}
}

func scoreVol(v models.VolMetrics) float64 {
	score := 5.0

	switch {
	case v.VoVZ > 2.5:
		return 0
	case v.VoVZ > 2.0:
		score -= 3
	case v.VoVZ < 1.5:
		score += 1.5
	}

	falling := v.VIXMomentum == models.VIXFalling || v.VIXMomentum == models.VIXCollapsing
	rising := v.VIXMomentum == models.VIXRising || v.VIXMomentum == models.VIXExplosiveUp
	switch {
	case v.IVP1Yr >= 75 && falling:
		score += 1.5
	case v.IVP1Yr >= 75 && rising:
		score -= 1
	case v.IVP1Yr >= 75:
		score += 0.5
	case v.IVP1Yr <= 25:
		score -= 2.5
	default:
		score += 1
	}

	switch v.VIXMomentum {
	case models.VIXExplosiveUp:
		score -= 2
	case models.VIXCollapsing:
		score += 1
	}

	if v.Garch28 > v.RV28*1.2 {
		score += 0.5
	}
	return clamp(score, 0, 10)
}

func scoreStruct(s models.StructMetrics, spot float64) float64 {
	score := 5.0

	switch s.GexRegime {
	case models.GexSticky:
		score += 2.5
	case models.GexSlippery:
		score -= 1
	}

	switch {
	case s.PCRATM > 0.9 && s.PCRATM < 1.1:
		score += 1.5
	case s.PCRATM > 1.3:
		score += 0.5
	case s.PCRATM < 0.7:
		score -= 0.5
	}

	switch s.SkewRegime {
	case models.SkewCrashFear:
		score -= 1
	case models.SkewMeltUp:
		score -= 0.5
	case models.SkewBalanced:
		score += 0.5
	}

	if spot > 0 && s.MaxPainStrike > 0 &&
		math.Abs(s.MaxPainStrike-spot)/spot < 0.01 {
		score += 1
	}
	return clamp(score, 0, 10)
}

func scoreEdge(e models.EdgeMetrics) float64 {
	score := 5.0

	switch {
	case e.WeightedVRPMonthly > 5:
		score += 3
	case e.WeightedVRPMonthly > 2:
		score += 1.5
	case e.WeightedVRPMonthly < -2:
		score -= 2
	default:
		score += 0.5
	}

	switch {
	case e.TermEdge < -2:
		score -= 1
	case e.TermEdge > 2:
		score += 0.5
	}
	return clamp(score, 0, 10)
}

func scoreRisk(x models.ExternalMetrics) float64 {
	score := 5.0

	fii := x.FIINetContracts
	switch {
	case fii > 50000:
		score += 1
	case fii < -50000:
		score -= 1
	case fii > 20000:
		score += 0.5
	case fii < -20000:
		score -= 0.5
	}

	penalty := 0.5 * float64(x.HighImpactEvents)
	if penalty > 2 {
		penalty = 2
	}
	score -= penalty
	return clamp(score, 0, 10)
}

func drivers(in Inputs, s models.Score) []string {
	var d []string
	if in.Vol.VoVZ > 2.0 {
		d = append(d, fmt.Sprintf("elevated vol-of-vol (z=%.1f)", in.Vol.VoVZ))
	}
	if in.Vol.IVP1Yr >= 75 {
		d = append(d, fmt.Sprintf("rich IV percentile (%.0f)", in.Vol.IVP1Yr))
	}
	if in.Vol.IVP1Yr <= 25 {
		d = append(d, fmt.Sprintf("cheap IV percentile (%.0f)", in.Vol.IVP1Yr))
	}
	if in.Struct.GexRegime == models.GexSticky {
		d = append(d, "sticky dealer gamma")
	}
	if in.Struct.SkewRegime == models.SkewCrashFear {
		d = append(d, fmt.Sprintf("crash-fear skew (%.1f)", in.Struct.Skew25Delta))
	}
	if in.Edge.WeightedVRPMonthly > 2 {
		d = append(d, fmt.Sprintf("positive variance risk premium (%.1f)", in.Edge.WeightedVRPMonthly))
	}
	if in.External.HighImpactEvents > 0 {
		d = append(d, fmt.Sprintf("%d high-impact events ahead", in.External.HighImpactEvents))
	}
	if len(d) == 0 {
		d = append(d, fmt.Sprintf("composite %.1f under %s confidence", s.Composite, s.Confidence))
	}
	return d
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
