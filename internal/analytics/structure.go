package analytics

import (
	"math"

	"github.com/shritish20/Volguard/internal/models"
)

// Skew classification thresholds (25-delta put IV minus call IV, in vol
// points).
const (
	SkewCrashFearThreshold = 3.0
	SkewMeltUpThreshold    = -1.0
)

// StickyGEXRatio separates pinned (sticky) from accelerating (slippery)
// dealer-gamma regimes.
const StickyGEXRatio = 0.03

// ATM band for the banded put/call ratio: strikes within 2% of spot.
const atmBandPct = 0.02

// ComputeStruct derives chain-structure metrics for one expiry. Open interest
// is quoted in lots, so GEX is scaled by lotSize to get contract notional;
// the ratio normalizes it back out, keeping the regime cut lot-size-invariant.
func ComputeStruct(chain []models.ChainRow, spot float64, lotSize int) models.StructMetrics {
	var m models.StructMetrics
	if len(chain) == 0 || spot <= 0 {
		return m
	}
	if lotSize <= 0 {
		lotSize = 1
	}

	m.NetGEX, m.MaxGEXStrike = netGEX(chain, spot)
	m.NetGEX *= float64(lotSize)
	m.GEXRatio = math.Abs(m.NetGEX) / (spot * spot * float64(lotSize))
	if m.GEXRatio > StickyGEXRatio {
		m.GexRegime = models.GexSticky
	} else {
		m.GexRegime = models.GexSlippery
	}

	m.PCRTotal, m.PCRATM = putCallRatios(chain, spot)
	m.Skew25Delta = skew25(chain)
	switch {
	case m.Skew25Delta >= SkewCrashFearThreshold:
		m.SkewRegime = models.SkewCrashFear
	case m.Skew25Delta <= SkewMeltUpThreshold:
		m.SkewRegime = models.SkewMeltUp
	default:
		m.SkewRegime = models.SkewBalanced
	}

	m.MaxPainStrike = maxPain(chain)
	m.ATMIV = atmIV(chain, spot)
	return m
}

// netGEX is Σ(callOI·γ·spot²·0.01) − Σ(putOI·γ·spot²·0.01), with the
// per-strike extreme reported alongside.
func netGEX(chain []models.ChainRow, spot float64) (net, maxStrike float64) {
	spotSq := spot * spot
	var maxAbs float64
	for _, row := range chain {
		callGEX := row.CallOI * row.CallGamma * spotSq * 0.01
		putGEX := row.PutOI * row.PutGamma * spotSq * 0.01
		strikeGEX := callGEX - putGEX
		net += strikeGEX
		if math.Abs(strikeGEX) > maxAbs {
			maxAbs = math.Abs(strikeGEX)
			maxStrike = row.Strike
		}
	}
	return net, maxStrike
}

func putCallRatios(chain []models.ChainRow, spot float64) (total, atm float64) {
	var callOI, putOI, callATM, putATM float64
	for _, row := range chain {
		callOI += row.CallOI
		putOI += row.PutOI
		if math.Abs(row.Strike-spot)/spot <= atmBandPct {
			callATM += row.CallOI
			putATM += row.PutOI
		}
	}
	if callOI > 0 {
		total = putOI / callOI
	}
	if callATM > 0 {
		atm = putATM / callATM
	}
	return total, atm
}

// skew25 is the IV of the OTM put with |delta| in (0.20,0.30) closest to
// 0.25, minus the same for the call. Zero when either side lacks a liquid
// candidate.
func skew25(chain []models.ChainRow) float64 {
	const minOI = 1000

	bestPut, bestCall := -1.0, -1.0
	putDist, callDist := math.Inf(1), math.Inf(1)
	for _, row := range chain {
		pd := math.Abs(row.PutDelta)
		if pd > 0.20 && pd < 0.30 && row.PutOI >= minOI && row.PutIV > 0 {
			if d := math.Abs(pd - 0.25); d < putDist {
				putDist = d
				bestPut = row.PutIV
			}
		}
		cd := math.Abs(row.CallDelta)
		if cd > 0.20 && cd < 0.30 && row.CallOI >= minOI && row.CallIV > 0 {
			if d := math.Abs(cd - 0.25); d < callDist {
				callDist = d
				bestCall = row.CallIV
			}
		}
	}
	if bestPut < 0 || bestCall < 0 {
		return 0
	}
	return bestPut - bestCall
}

// maxPain is the strike minimizing total option-writer cash outflow at
// expiry.
func maxPain(chain []models.ChainRow) float64 {
	var best float64
	minPain := math.Inf(1)
	for _, candidate := range chain {
		k := candidate.Strike
		var pain float64
		for _, row := range chain {
			if k > row.Strike {
				pain += row.CallOI * (k - row.Strike)
			}
			if row.Strike > k {
				pain += row.PutOI * (row.Strike - k)
			}
		}
		if pain < minPain {
			minPain = pain
			best = k
		}
	}
	return best
}

func atmIV(chain []models.ChainRow, spot float64) float64 {
	bestDist := math.Inf(1)
	var iv float64
	for _, row := range chain {
		if d := math.Abs(row.Strike - spot); d < bestDist {
			bestDist = d
			n, sum := 0, 0.0
			if row.CallIV > 0 {
				sum += row.CallIV
				n++
			}
			if row.PutIV > 0 {
				sum += row.PutIV
				n++
			}
			if n > 0 {
				iv = sum / float64(n)
			}
		}
	}
	return iv
}
