package regime

import (
	"testing"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/stretchr/testify/assert"
)

// favourableInputs describes a calm, premium-rich market: elevated but
// falling IV, pinned dealer gamma, balanced skew, strong VRP.
func favourableInputs() Inputs {
	return Inputs{
		Vol: models.VolMetrics{
			Spot:        24000,
			VIX:         16,
			RV28:        10,
			Garch28:     13,
			VoVZ:        0.5,
			IVP1Yr:      80,
			VIXMomentum: models.VIXFalling,
		},
		Struct: models.StructMetrics{
			GexRegime:     models.GexSticky,
			PCRATM:        1.0,
			SkewRegime:    models.SkewBalanced,
			MaxPainStrike: 24050,
		},
		Edge: models.EdgeMetrics{
			WeightedVRPMonthly: 6,
			TermEdge:           0,
		},
		External: models.ExternalMetrics{FIIAvailable: true, FIINetContracts: 60000},
		DTE:      5,
	}
}

func TestScoreRangesAndBounds(t *testing.T) {
	s := ComputeScore(favourableInputs())
	for name, v := range map[string]float64{
		"vol": s.Vol, "struct": s.Struct, "edge": s.Edge, "risk": s.Risk,
	} {
		assert.GreaterOrEqual(t, v, 0.0, name)
		assert.LessOrEqual(t, v, 10.0, name)
	}
	assert.GreaterOrEqual(t, s.Composite, 0.0)
	assert.LessOrEqual(t, s.Composite, 10.0)
	assert.GreaterOrEqual(t, s.Stability, 0.0)
	assert.LessOrEqual(t, s.Stability, 1.0)
	assert.NotEmpty(t, s.Drivers)
}

func TestFavourableRegimeScoresHigh(t *testing.T) {
	s := ComputeScore(favourableInputs())

	// Vol: 5 +1.5 (low vov) +1.5 (rich and falling) +0.5 (garch premium) = 8.5.
	assert.InDelta(t, 8.5, s.Vol, 1e-9)
	// Struct: 5 +2.5 (sticky) +1.5 (balanced PCR) +0.5 (skew) +1 (pin) = 10 cap.
	assert.InDelta(t, 10.0, s.Struct, 1e-9)
	// Edge: 5 +3 (VRP > 5) = 8.
	assert.InDelta(t, 8.0, s.Edge, 1e-9)
	// Risk: 5 +1 (strong FII longs) = 6.
	assert.InDelta(t, 6.0, s.Risk, 1e-9)

	assert.GreaterOrEqual(t, s.Composite, 7.5)
	assert.Contains(t, []models.Confidence{models.ConfidenceHigh, models.ConfidenceVeryHigh}, s.Confidence)
}

func TestVolSpikeZeroesVolScore(t *testing.T) {
	in := favourableInputs()
	in.Vol.VoVZ = 3.0

	s := ComputeScore(in)
	assert.Zero(t, s.Vol, "extreme vol-of-vol is an absolute veto on the vol score")
}

func TestIVPBoundaryBranches(t *testing.T) {
	in := favourableInputs()
	in.Vol.VIXMomentum = models.VIXStable
	in.Vol.Garch28 = in.Vol.RV28

	in.Vol.IVP1Yr = 75
	rich := scoreVol(in.Vol)
	// 5 +1.5 (low vov) +0.5 (rich, no momentum) = 7.
	assert.InDelta(t, 7.0, rich, 1e-9)

	in.Vol.IVP1Yr = 25
	cheap := scoreVol(in.Vol)
	// 5 +1.5 −2.5 (cheap vol) = 4.
	assert.InDelta(t, 4.0, cheap, 1e-9)

	in.Vol.IVP1Yr = 50
	mid := scoreVol(in.Vol)
	// 5 +1.5 +1 (mid band) = 7.5.
	assert.InDelta(t, 7.5, mid, 1e-9)
}

func TestGarchPremiumBonus(t *testing.T) {
	v := models.VolMetrics{VoVZ: 1.8, IVP1Yr: 50, RV28: 10, Garch28: 13}
	with := scoreVol(v)
	v.Garch28 = 10
	without := scoreVol(v)
	assert.InDelta(t, 0.5, with-without, 1e-9)
}

func TestMaxPainPinBonusRequiresSpot(t *testing.T) {
	st := models.StructMetrics{MaxPainStrike: 24050}
	near := scoreStruct(st, 24000)
	far := scoreStruct(models.StructMetrics{MaxPainStrike: 25000}, 24000)
	zero := scoreStruct(st, 0)

	assert.InDelta(t, 1.0, near-far, 1e-9)
	assert.InDelta(t, far, zero, 1e-9)
}

func TestRiskEventPenaltyCapped(t *testing.T) {
	x := models.ExternalMetrics{HighImpactEvents: 10}
	// 5 − min(0.5·10, 2) = 3.
	assert.InDelta(t, 3.0, scoreRisk(x), 1e-9)
}

func TestStabilityFallsWithDivergentSubScores(t *testing.T) {
	uniform := models.Score{Vol: 7, Struct: 7, Edge: 7, Risk: 7}
	divergent := models.Score{Vol: 10, Struct: 1, Edge: 9, Risk: 2}

	assert.InDelta(t, 1.0, stability(uniform), 1e-9,
		"identical sub-scores are invariant to the weighting")
	assert.Less(t, stability(divergent), stability(uniform))
}

func TestConfidenceLadder(t *testing.T) {
	tests := []struct {
		composite float64
		stability float64
		want      models.Confidence
	}{
		{8.2, 0.90, models.ConfidenceVeryHigh},
		{8.2, 0.80, models.ConfidenceHigh},
		{7.0, 0.80, models.ConfidenceHigh},
		{7.0, 0.70, models.ConfidenceModerate},
		{5.0, 0.95, models.ConfidenceModerate},
		{3.0, 0.95, models.ConfidenceLow},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, confidence(tt.composite, tt.stability),
			"composite %.1f stability %.2f", tt.composite, tt.stability)
	}
}
