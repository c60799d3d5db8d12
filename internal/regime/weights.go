package regime

import "github.com/shritish20/Volguard/internal/models"

// baseWeights is the starting weighting over the four sub-scores.
var baseWeights = models.Weights{Vol: 0.40, Struct: 0.30, Edge: 0.20, Risk: 0.10}

// fiiShiftThreshold is the absolute FII net position beyond which weight
// shifts toward the risk sub-score.
const fiiShiftThreshold = 50000

// computeWeights derives dynamic weights from the metric context. The
// volatility-state rules are mutually exclusive; the momentum, gamma, DTE and
// flow shifts stack on top; the result is renormalized to sum to 1.
func computeWeights(in Inputs) models.Weights {
	w := baseWeights
	switch {
	case in.Vol.VoVZ > 2.5:
		w = models.Weights{Vol: 0.50, Struct: 0.25, Edge: 0.15, Risk: 0.10}
	case in.Vol.VoVZ > 2.0:
		w = models.Weights{Vol: 0.45, Struct: 0.28, Edge: 0.17, Risk: 0.10}
	case in.Vol.IVP1Yr >= 75:
		w = models.Weights{Vol: 0.35, Struct: 0.35, Edge: 0.20, Risk: 0.10}
	case in.Vol.IVP1Yr <= 25:
		w = models.Weights{Vol: 0.30, Struct: 0.30, Edge: 0.30, Risk: 0.10}
	}

	switch in.Vol.VIXMomentum {
	case models.VIXExplosiveUp:
		w.Vol += 0.05
		w.Edge -= 0.05
	case models.VIXCollapsing:
		w.Vol -= 0.05
		w.Edge += 0.05
	}

	switch in.Struct.GexRegime {
	case models.GexSticky:
		w.Struct += 0.05
		w.Vol -= 0.05
	case models.GexSlippery:
		w.Struct -= 0.05
		w.Vol += 0.05
	}

	if in.DTE <= 1 {
		w.Struct += 0.10
		w.Edge -= 0.05
		w.Risk -= 0.05
	}

	if in.External.FIIAvailable &&
		(in.External.FIINetContracts > fiiShiftThreshold || in.External.FIINetContracts < -fiiShiftThreshold) {
		w.Risk += 0.05
		w.Edge -= 0.05
	}

	return normalize(w)
}

func normalize(w models.Weights) models.Weights {
	sum := w.Vol + w.Struct + w.Edge + w.Risk
	if sum <= 0 {
		return baseWeights
	}
	return models.Weights{
		Vol:    w.Vol / sum,
		Struct: w.Struct / sum,
		Edge:   w.Edge / sum,
		Risk:   w.Risk / sum,
	}
}
