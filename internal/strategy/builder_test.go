package strategy

import (
	"fmt"
	"math"
	"testing"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return l
}

// syntheticChain builds a liquid Nifty-like chain around spot 24000:
// 100-point strikes, deltas stepping 0.05 per strike, premiums decaying
// linearly away from the money.
func syntheticChain() []models.ChainRow {
	var chain []models.ChainRow
	for k := 22500.0; k <= 25500; k += 100 {
		d := (k - 24000) / 100

		callDelta := 0.5 - 0.05*d
		putDelta := -(0.5 + 0.05*d)
		callDelta = math.Min(math.Max(callDelta, 0.01), 0.99)
		putDelta = math.Max(math.Min(putDelta, -0.01), -0.99)

		callLTP := math.Max(0.8, 120-15*d)
		putLTP := math.Max(0.8, 115+15*d)

		chain = append(chain, models.ChainRow{
			Strike:  k,
			Expiry:  "2026-08-27",
			LotSize: 75,

			CallKey:   keyFor(k, "CE"),
			CallLTP:   callLTP,
			CallBid:   callLTP * 0.99,
			CallAsk:   callLTP * 1.01,
			CallOI:    5000,
			CallDelta: callDelta,

			PutKey:   keyFor(k, "PE"),
			PutLTP:   putLTP,
			PutBid:   putLTP * 0.99,
			PutAsk:   putLTP * 1.01,
			PutOI:    5000,
			PutDelta: putDelta,
		})
	}
	return chain
}

func keyFor(strike float64, suffix string) string {
	return fmt.Sprintf("NSE_FO|%d%s", int(strike), suffix)
}

func mandateFor(s models.Structure, lots int) *models.TradingMandate {
	return &models.TradingMandate{
		Structure:     s,
		ExpiryType:    models.ExpiryWeekly,
		ExpiryDate:    "2026-08-27",
		AllocationPct: 0.4,
		MaxLots:       lots,
		Deployment:    240_000,
	}
}

func TestBuildRejectsBadInputs(t *testing.T) {
	b := NewBuilder(50_000, testLogger())
	chain := syntheticChain()

	_, err := b.Build(mandateFor(models.StructureNoTrade, 1), chain, 24000, 50)
	assert.Error(t, err)

	_, err = b.Build(mandateFor(models.StructureIronFly, 1), nil, 24000, 50)
	assert.Error(t, err)

	_, err = b.Build(mandateFor(models.StructureIronFly, 1), chain, 0, 50)
	assert.Error(t, err)
}

func TestIronFlyShape(t *testing.T) {
	b := NewBuilder(50_000, testLogger())
	legs, err := b.Build(mandateFor(models.StructureIronFly, 2), syntheticChain(), 24000, 50)
	require.NoError(t, err)
	require.Len(t, legs, 4)

	// Hedges precede cores so the executor buys protection first.
	assert.Equal(t, models.RoleHedge, legs[0].Role)
	assert.Equal(t, models.RoleHedge, legs[1].Role)
	assert.Equal(t, models.RoleCore, legs[2].Role)
	assert.Equal(t, models.RoleCore, legs[3].Role)

	// Straddle cost 235 rounds to a 200-point wing on the 100-point grid.
	assert.Equal(t, 24200.0, legs[0].Strike)
	assert.Equal(t, models.SideBuy, legs[0].Side)
	assert.Equal(t, 23800.0, legs[1].Strike)
	assert.Equal(t, 24000.0, legs[2].Strike)
	assert.Equal(t, models.SideSell, legs[2].Side)
	assert.Equal(t, 24000.0, legs[3].Strike)

	for _, l := range legs {
		assert.Equal(t, 150, l.Quantity, "2 lots of 75")
	}
}

func TestIronCondorDeltaSelection(t *testing.T) {
	b := NewBuilder(100_000, testLogger())
	legs, err := b.Build(mandateFor(models.StructureIronCondor, 1), syntheticChain(), 24000, 50)
	require.NoError(t, err)
	require.Len(t, legs, 4)

	byRole := map[models.LegRole][]models.OptionLeg{}
	for _, l := range legs {
		byRole[l.Role] = append(byRole[l.Role], l)
	}
	require.Len(t, byRole[models.RoleCore], 2)

	for _, core := range byRole[models.RoleCore] {
		if core.Type == models.OptionCall {
			assert.Equal(t, 24600.0, core.Strike, "0.20-delta call")
		} else {
			assert.Equal(t, 23400.0, core.Strike, "0.20-delta put")
		}
	}
	for _, hedge := range byRole[models.RoleHedge] {
		if hedge.Type == models.OptionCall {
			assert.Equal(t, 24900.0, hedge.Strike, "0.05-delta call wing")
		} else {
			assert.Equal(t, 23100.0, hedge.Strike, "0.05-delta put wing")
		}
	}
}

func TestIronCondorMonthlyUsesLowerDelta(t *testing.T) {
	b := NewBuilder(100_000, testLogger())
	m := mandateFor(models.StructureIronCondor, 1)
	m.ExpiryType = models.ExpiryMonthly

	legs, err := b.Build(m, syntheticChain(), 24000, 50)
	require.NoError(t, err)
	for _, l := range legs {
		if l.Role == models.RoleCore && l.Type == models.OptionCall {
			// 0.16 target lands between the 0.15 and 0.20 strikes; nearest is 0.15.
			assert.Equal(t, 24700.0, l.Strike)
		}
	}
}

func TestVerticalSpreads(t *testing.T) {
	b := NewBuilder(100_000, testLogger())

	legs, err := b.Build(mandateFor(models.StructureBullPutSpread, 1), syntheticChain(), 24000, 50)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, models.OptionPut, legs[0].Type)
	assert.Equal(t, 23200.0, legs[0].Strike, "0.10-delta hedge")
	assert.Equal(t, 23600.0, legs[1].Strike, "0.30-delta short")
	assert.Equal(t, models.SideSell, legs[1].Side)

	legs, err = b.Build(mandateFor(models.StructureBearCallSpread, 1), syntheticChain(), 24000, 50)
	require.NoError(t, err)
	require.Len(t, legs, 2)
	assert.Equal(t, models.OptionCall, legs[1].Type)
	assert.Equal(t, 24400.0, legs[1].Strike)
	assert.Equal(t, 24800.0, legs[0].Strike)
}

func TestCreditSpreadPicksRicherSide(t *testing.T) {
	b := NewBuilder(100_000, testLogger())
	legs, err := b.Build(mandateFor(models.StructureCreditSpread, 1), syntheticChain(), 24000, 50)
	require.NoError(t, err)
	require.Len(t, legs, 2)

	// The call short at 24400 carries more premium than the put short at
	// 23600 on this chain.
	assert.Equal(t, models.OptionCall, legs[1].Type)
}

func TestMaxLossBoundRejection(t *testing.T) {
	b := NewBuilder(1_000, testLogger())
	_, err := b.Build(mandateFor(models.StructureIronFly, 2), syntheticChain(), 24000, 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max loss")
}

func TestRiskBound(t *testing.T) {
	legs := []models.OptionLeg{
		{Type: models.OptionCall, Side: models.SideBuy, Strike: 24200, Quantity: 75, RefPrice: 50},
		{Type: models.OptionPut, Side: models.SideBuy, Strike: 23800, Quantity: 75, RefPrice: 45},
		{Type: models.OptionCall, Side: models.SideSell, Strike: 24000, Quantity: 75, RefPrice: 120},
		{Type: models.OptionPut, Side: models.SideSell, Strike: 24000, Quantity: 75, RefPrice: 115},
	}
	maxLoss, credit := RiskBound(legs)
	assert.InDelta(t, 140*75, credit, 1e-9)
	assert.InDelta(t, 200*75-140*75, maxLoss, 1e-9)
}

func TestStrikeInterval(t *testing.T) {
	assert.Equal(t, 100.0, StrikeInterval(syntheticChain()))
	assert.Zero(t, StrikeInterval(nil))

	// Mixed grids resolve to the most common difference.
	chain := []models.ChainRow{
		{Strike: 24000}, {Strike: 24050}, {Strike: 24100},
		{Strike: 24200}, {Strike: 24250}, {Strike: 24300},
	}
	assert.Equal(t, 50.0, StrikeInterval(chain))
}

func TestWingWidth(t *testing.T) {
	assert.Equal(t, 300.0, wingWidth(235, 85, 100), "rich IV widens the wings")
	assert.Equal(t, 200.0, wingWidth(235, 50, 100))
	assert.Equal(t, 200.0, wingWidth(90, 50, 100), "floor of two intervals")
}
