package analytics

import "github.com/shritish20/Volguard/internal/models"

// DTEWeight returns the VRP discount for short-dated expiries. The
// multiplier is monotonically non-decreasing in DTE.
func DTEWeight(dte int) float64 {
	switch {
	case dte <= 1:
		return 0.3
	case dte <= 2:
		return 0.5
	case dte <= 7:
		return 0.8
	default:
		return 1.0
	}
}

// ComputeEdge derives premium-selling edge metrics from the vol metrics and
// the DTE of each expiry bucket.
func ComputeEdge(vol models.VolMetrics, dteWeekly, dteMonthly, dteNextWeekly int) models.EdgeMetrics {
	vrp := vol.VIX - vol.RV28
	m := models.EdgeMetrics{
		VRP:                 vrp,
		WeightedVRPWeekly:   vrp * DTEWeight(dteWeekly),
		WeightedVRPMonthly:  vrp * DTEWeight(dteMonthly),
		WeightedVRPNextWeek: vrp * DTEWeight(dteNextWeekly),
		TermEdge:            vol.Garch7 - vol.Garch28,
	}
	m.SmartExpiry = models.ExpiryWeekly
	best := m.WeightedVRPWeekly
	if m.WeightedVRPNextWeek > best {
		best = m.WeightedVRPNextWeek
		m.SmartExpiry = models.ExpiryNextWeekly
	}
	if m.WeightedVRPMonthly > best {
		m.SmartExpiry = models.ExpiryMonthly
	}
	return m
}
