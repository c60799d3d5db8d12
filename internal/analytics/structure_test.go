package analytics

import (
	"testing"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestComputeStructEmpty(t *testing.T) {
	m := ComputeStruct(nil, 24000, 75)
	assert.Zero(t, m.NetGEX)

	m = ComputeStruct([]models.ChainRow{{Strike: 24000}}, 0, 75)
	assert.Zero(t, m.NetGEX)
}

func TestGEXLotSizeScaling(t *testing.T) {
	chain := []models.ChainRow{
		{Strike: 24000, CallOI: 1000, CallGamma: 0.0002, PutOI: 500, PutGamma: 0.0002, LotSize: 75},
	}
	small := ComputeStruct(chain, 24000, 1)
	big := ComputeStruct(chain, 24000, 75)

	// Notional scales with the lot size, the normalized ratio does not, so
	// the regime cut is identical either way.
	assert.InDelta(t, small.NetGEX*75, big.NetGEX, 1e-6)
	assert.InDelta(t, small.GEXRatio, big.GEXRatio, 1e-12)
	assert.Equal(t, small.GexRegime, big.GexRegime)

	// A non-positive lot size falls back to raw OI units.
	raw := ComputeStruct(chain, 24000, 0)
	assert.InDelta(t, small.NetGEX, raw.NetGEX, 1e-9)
}

func TestNetGEXSign(t *testing.T) {
	chain := []models.ChainRow{
		{Strike: 24000, CallOI: 1000, CallGamma: 0.0002, PutOI: 500, PutGamma: 0.0002},
	}
	net, maxStrike := netGEX(chain, 24000)
	assert.Greater(t, net, 0.0, "call-heavy gamma is net positive")
	assert.Equal(t, 24000.0, maxStrike)

	chain[0].PutOI = 5000
	net, _ = netGEX(chain, 24000)
	assert.Less(t, net, 0.0)
}

func TestPutCallRatios(t *testing.T) {
	chain := []models.ChainRow{
		{Strike: 23000, CallOI: 100, PutOI: 300}, // outside 2% ATM band
		{Strike: 23900, CallOI: 200, PutOI: 300},
		{Strike: 24100, CallOI: 200, PutOI: 100},
	}
	total, atm := putCallRatios(chain, 24000)
	assert.InDelta(t, 700.0/500.0, total, 1e-9)
	assert.InDelta(t, 400.0/400.0, atm, 1e-9)
}

func TestSkew25LiquidityGate(t *testing.T) {
	chain := []models.ChainRow{
		{Strike: 23500, PutDelta: -0.24, PutOI: 5000, PutIV: 18.0,
			CallDelta: 0.05, CallOI: 5000, CallIV: 12.0},
		{Strike: 24500, PutDelta: -0.05, PutOI: 5000, PutIV: 13.0,
			CallDelta: 0.26, CallOI: 5000, CallIV: 14.5},
	}
	assert.InDelta(t, 3.5, skew25(chain), 1e-9)

	// Illiquid call side: no skew reading rather than a bad one.
	chain[1].CallOI = 10
	assert.Zero(t, skew25(chain))
}

func TestSkewRegimeThresholds(t *testing.T) {
	build := func(skew float64) []models.ChainRow {
		return []models.ChainRow{
			{Strike: 23500, PutDelta: -0.25, PutOI: 5000, PutIV: 14 + skew,
				CallDelta: 0.25, CallOI: 5000, CallIV: 14,
				CallGamma: 0.0001, PutGamma: 0.0001},
		}
	}
	m := ComputeStruct(build(3.0), 24000, 75)
	assert.Equal(t, models.SkewCrashFear, m.SkewRegime, "boundary value trips crash fear")

	m = ComputeStruct(build(-1.0), 24000, 75)
	assert.Equal(t, models.SkewMeltUp, m.SkewRegime, "boundary value trips melt up")

	m = ComputeStruct(build(1.0), 24000, 75)
	assert.Equal(t, models.SkewBalanced, m.SkewRegime)
}

func TestMaxPain(t *testing.T) {
	// Heavy call OI below, heavy put OI above pin the pain in the middle.
	chain := []models.ChainRow{
		{Strike: 23800, CallOI: 1000, PutOI: 100},
		{Strike: 24000, CallOI: 500, PutOI: 500},
		{Strike: 24200, CallOI: 100, PutOI: 1000},
	}
	assert.Equal(t, 24000.0, maxPain(chain))
}

func TestATMIV(t *testing.T) {
	chain := []models.ChainRow{
		{Strike: 23900, CallIV: 13, PutIV: 15},
		{Strike: 24050, CallIV: 14, PutIV: 14.5},
	}
	assert.InDelta(t, 14.25, atmIV(chain, 24000), 1e-9)

	// One-sided IV still yields a reading.
	chain[1].PutIV = 0
	assert.InDelta(t, 14.0, atmIV(chain, 24000), 1e-9)
}
