package regime

import (
	"fmt"
	"math"

	"github.com/shritish20/Volguard/internal/models"
)

// Sizing holds the capital parameters that turn an allocation percentage into
// a deployable amount and lot count.
type Sizing struct {
	BaseCapital        float64
	MaxCapitalPerTrade float64
	MarginSellBase     float64
}

// BuildMandate selects a structure for the scored regime and sizes it. A
// mandate with Structure NoTrade carries the veto reasons that stopped it.
func BuildMandate(in Inputs, score models.Score, expiry models.ExpiryType, expiryDate string, sizing Sizing) models.TradingMandate {
	m := models.TradingMandate{
		ExpiryType: expiry,
		ExpiryDate: expiryDate,
		DTE:        in.DTE,
		RegimeName: regimeName(score),
		Score:      score,
	}

	highPlus := score.Confidence == models.ConfidenceHigh || score.Confidence == models.ConfidenceVeryHigh
	switch {
	case score.Composite >= 7.5 && highPlus && in.DTE > 2:
		m.Structure = models.StructureIronCondor
		m.AllocationPct = 0.60
	case score.Composite >= 7.5 && highPlus:
		m.Structure = models.StructureIronFly
		m.AllocationPct = 0.50
		m.Warnings = append(m.Warnings, "short-dated iron fly carries elevated gamma risk")
	case score.Composite >= 6.0 && highPlus && in.DTE > 1:
		m.Structure = models.StructureIronCondor
		m.AllocationPct = 0.40
	case score.Composite >= 6.0 && highPlus:
		m.Structure = models.StructureIronFly
		m.AllocationPct = 0.35
	case score.Composite >= 4.0:
		m.AllocationPct = 0.20
		switch {
		case in.Struct.PCRATM > 1.3:
			m.Structure = models.StructureBullPutSpread
			m.Bias = models.BiasBullish
		case in.Struct.PCRATM < 0.7:
			m.Structure = models.StructureBearCallSpread
			m.Bias = models.BiasBearish
		default:
			m.Structure = models.StructureCreditSpread
			m.Bias = models.BiasNeutral
		}
	default:
		m.Structure = models.StructureNoTrade
		m.AllocationPct = 0
		m.VetoReasons = append(m.VetoReasons, "Low composite score")
	}

	if m.Structure != models.StructureNoTrade {
		m.AllocationPct *= sizeMultiplier(in, score, &m)
		m.Deployment = math.Min(sizing.BaseCapital*m.AllocationPct, sizing.MaxCapitalPerTrade)
		if sizing.MarginSellBase > 0 {
			m.MaxLots = int(m.Deployment / sizing.MarginSellBase)
		}
		if m.MaxLots < 1 {
			m.Structure = models.StructureNoTrade
			m.AllocationPct = 0
			m.Deployment = 0
			m.VetoReasons = append(m.VetoReasons, "sized deployment below one lot of sell margin")
		}
	}

	m.Rationale = rationale(m, score)
	return m
}

// sizeMultiplier stacks the defensive haircuts and records a warning for
// each one applied.
func sizeMultiplier(in Inputs, score models.Score, m *models.TradingMandate) float64 {
	mult := 1.0
	if in.Vol.VoVZ > 2.0 {
		mult *= 0.7
		m.Warnings = append(m.Warnings, fmt.Sprintf("high vol-of-vol (z=%.1f), size reduced", in.Vol.VoVZ))
	}
	if in.Vol.VIXMomentum == models.VIXExplosiveUp {
		mult *= 0.6
		m.Warnings = append(m.Warnings, "VIX exploding upward, size reduced")
	}
	if score.Stability < 0.75 {
		mult *= 0.8
		m.Warnings = append(m.Warnings, fmt.Sprintf("unstable score (stability=%.2f), size reduced", score.Stability))
	}
	if in.External.HighImpactEvents > 0 {
		mult *= 0.85
		m.Warnings = append(m.Warnings, fmt.Sprintf("%d high-impact events ahead, size reduced", in.External.HighImpactEvents))
	}
	return mult
}

func regimeName(s models.Score) string {
	switch {
	case s.Composite >= 7.5:
		return "PRIME_PREMIUM_SELLING"
	case s.Composite >= 6.0:
		return "FAVOURABLE_PREMIUM_SELLING"
	case s.Composite >= 4.0:
		return "SELECTIVE_DIRECTIONAL"
	default:
		return "HOSTILE_STAND_ASIDE"
	}
}

func rationale(m models.TradingMandate, s models.Score) []string {
	if m.Structure == models.StructureNoTrade {
		return []string{fmt.Sprintf("composite %.2f (%s confidence) below tradable threshold", s.Composite, s.Confidence)}
	}
	lines := []string{
		fmt.Sprintf("%s at %.0f%% allocation on composite %.2f", m.Structure, m.AllocationPct*100, s.Composite),
		fmt.Sprintf("sub-scores vol %.1f, struct %.1f, edge %.1f, risk %.1f; stability %.2f", s.Vol, s.Struct, s.Edge, s.Risk, s.Stability),
	}
	return append(lines, s.Drivers...)
}
