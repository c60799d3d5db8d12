package regime

import (
	"testing"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/stretchr/testify/assert"
)

func weightSum(w models.Weights) float64 {
	return w.Vol + w.Struct + w.Edge + w.Risk
}

func TestWeightsAlwaysSumToOne(t *testing.T) {
	cases := map[string]Inputs{
		"base":         {},
		"extreme vov":  {Vol: models.VolMetrics{VoVZ: 3.1}},
		"elevated vov": {Vol: models.VolMetrics{VoVZ: 2.2}},
		"rich iv":      {Vol: models.VolMetrics{IVP1Yr: 88}},
		"cheap iv":     {Vol: models.VolMetrics{IVP1Yr: 12}},
		"explosive up": {Vol: models.VolMetrics{VIXMomentum: models.VIXExplosiveUp}},
		"collapsing":   {Vol: models.VolMetrics{VIXMomentum: models.VIXCollapsing}},
		"sticky gamma": {Struct: models.StructMetrics{GexRegime: models.GexSticky}},
		"slippery":     {Struct: models.StructMetrics{GexRegime: models.GexSlippery}},
		"zero dte":     {DTE: 0},
		"fii long":     {External: models.ExternalMetrics{FIIAvailable: true, FIINetContracts: 80000}},
		"fii short":    {External: models.ExternalMetrics{FIIAvailable: true, FIINetContracts: -80000}},
		"everything stacked": {
			Vol:      models.VolMetrics{VoVZ: 2.2, VIXMomentum: models.VIXExplosiveUp},
			Struct:   models.StructMetrics{GexRegime: models.GexSlippery},
			External: models.ExternalMetrics{FIIAvailable: true, FIINetContracts: -90000},
			DTE:      1,
		},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			w := computeWeights(in)
			assert.InDelta(t, 1.0, weightSum(w), 1e-9)
		})
	}
}

func TestVolStateOverridesAreExclusive(t *testing.T) {
	// VoVZ dominates the IV percentile override.
	w := computeWeights(Inputs{Vol: models.VolMetrics{VoVZ: 2.6, IVP1Yr: 90}, DTE: 5})
	assert.InDelta(t, 0.50, w.Vol, 1e-9)
	assert.InDelta(t, 0.25, w.Struct, 1e-9)

	w = computeWeights(Inputs{Vol: models.VolMetrics{VoVZ: 2.1, IVP1Yr: 90}, DTE: 5})
	assert.InDelta(t, 0.45, w.Vol, 1e-9)
}

func TestIVPercentileBoundaries(t *testing.T) {
	// Exactly 75 selects the rich-vol weighting.
	w := computeWeights(Inputs{Vol: models.VolMetrics{IVP1Yr: 75}, DTE: 5})
	assert.InDelta(t, 0.35, w.Vol, 1e-9)
	assert.InDelta(t, 0.35, w.Struct, 1e-9)

	// Exactly 25 selects the cheap-vol weighting.
	w = computeWeights(Inputs{Vol: models.VolMetrics{IVP1Yr: 25}, DTE: 5})
	assert.InDelta(t, 0.30, w.Vol, 1e-9)
	assert.InDelta(t, 0.30, w.Edge, 1e-9)

	// Between the bounds the base weighting holds.
	w = computeWeights(Inputs{Vol: models.VolMetrics{IVP1Yr: 50}, DTE: 5})
	assert.InDelta(t, 0.40, w.Vol, 1e-9)
}

func TestShiftsStack(t *testing.T) {
	in := Inputs{
		Vol:    models.VolMetrics{IVP1Yr: 50, VIXMomentum: models.VIXExplosiveUp},
		Struct: models.StructMetrics{GexRegime: models.GexSticky},
		DTE:    5,
	}
	w := computeWeights(in)
	// 0.40 +0.05(momentum) −0.05(sticky) = 0.40 vol; struct 0.30+0.05; edge 0.20−0.05.
	assert.InDelta(t, 0.40, w.Vol, 1e-9)
	assert.InDelta(t, 0.35, w.Struct, 1e-9)
	assert.InDelta(t, 0.15, w.Edge, 1e-9)
	assert.InDelta(t, 0.10, w.Risk, 1e-9)
}

func TestFIIShiftRequiresAvailability(t *testing.T) {
	withFlag := computeWeights(Inputs{External: models.ExternalMetrics{
		FIIAvailable: true, FIINetContracts: 60000}, DTE: 5})
	withoutFlag := computeWeights(Inputs{External: models.ExternalMetrics{
		FIIAvailable: false, FIINetContracts: 60000}, DTE: 5})

	assert.InDelta(t, 0.15, withFlag.Risk, 1e-9)
	assert.InDelta(t, 0.10, withoutFlag.Risk, 1e-9)
}

func TestZeroDTEShift(t *testing.T) {
	// IVP pinned mid-range so the cheap-vol weighting does not mask the shift.
	w := computeWeights(Inputs{Vol: models.VolMetrics{IVP1Yr: 50}, DTE: 0})
	assert.InDelta(t, 0.40, w.Struct, 1e-9)
	assert.InDelta(t, 0.15, w.Edge, 1e-9)
	assert.InDelta(t, 0.05, w.Risk, 1e-9)
}
