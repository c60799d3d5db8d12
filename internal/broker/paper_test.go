package broker

import (
	"context"
	"testing"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paperLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func paperLeg(side models.Side, qty int) models.OptionLeg {
	return models.OptionLeg{
		InstrumentKey: "NSE_FO|24000CE",
		Type:          models.OptionCall,
		Strike:        24000,
		Side:          side,
		Quantity:      qty,
		Role:          models.RoleCore,
		RefPrice:      100,
		LotSize:       75,
		Expiry:        "2026-08-27",
	}
}

// deterministicPaper disables the stochastic paths so fills are exact.
func deterministicPaper(t *testing.T) *PaperBroker {
	t.Helper()
	p := NewPaperBroker(nil, 1_000_000, 1, paperLogger())
	p.FillProbability = 1
	p.SlippageStdDev = 0
	p.PartialFillProb = 0
	return p
}

func TestPaperFillAndSettlement(t *testing.T) {
	p := deterministicPaper(t)
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, paperLeg(models.SideSell, 75), 99.5)
	require.NoError(t, err)

	st, err := p.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderComplete, st.State)
	assert.Equal(t, 75, st.FilledQty)
	assert.Equal(t, 99.5, st.AvgPrice)

	// A sell credits the premium.
	funds, err := p.AvailableFunds(ctx)
	require.NoError(t, err)
	assert.InDelta(t, 1_000_000+75*99.5, funds, 1e-9)

	id, err = p.PlaceOrder(ctx, paperLeg(models.SideBuy, 75), 20)
	require.NoError(t, err)
	_, err = p.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	funds, _ = p.AvailableFunds(ctx)
	assert.InDelta(t, 1_000_000+75*99.5-75*20, funds, 1e-9)
}

func TestPaperRejection(t *testing.T) {
	p := deterministicPaper(t)
	p.FillProbability = 0
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, paperLeg(models.SideSell, 75), 99.5)
	require.NoError(t, err)
	st, err := p.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderRejected, st.State)
}

func TestPaperMarketOrdersAlwaysFill(t *testing.T) {
	p := deterministicPaper(t)
	p.FillProbability = 0
	ctx := context.Background()

	id, err := p.PlaceMarketOrder(ctx, paperLeg(models.SideBuy, 75))
	require.NoError(t, err)
	st, err := p.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderComplete, st.State)
	assert.Equal(t, 100.0, st.AvgPrice, "market fills at the reference price")
}

func TestPaperPartialFillStaysBelowThreshold(t *testing.T) {
	p := deterministicPaper(t)
	p.FillProbability = 0
	p.PartialFillProb = 1
	ctx := context.Background()

	leg := paperLeg(models.SideSell, 150) // 2 lots
	id, err := p.PlaceOrder(ctx, leg, 99.5)
	require.NoError(t, err)
	st, err := p.GetOrderStatus(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, OrderComplete, st.State)
	assert.Equal(t, 75, st.FilledQty, "one of two lots")
	ratio := float64(st.FilledQty) / float64(leg.Quantity)
	assert.Less(t, ratio, leg.FillThreshold())
}

func TestPaperCancel(t *testing.T) {
	p := deterministicPaper(t)
	ctx := context.Background()

	id, err := p.PlaceOrder(ctx, paperLeg(models.SideSell, 75), 99.5)
	require.NoError(t, err)
	require.NoError(t, p.CancelOrder(ctx, id))

	st, err := p.GetOrderStatus(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, OrderCancelled, st.State)

	// Cancelling an already-resolved order does not rewrite the fill.
	id2, err := p.PlaceOrder(ctx, paperLeg(models.SideSell, 75), 99.5)
	require.NoError(t, err)
	_, err = p.GetOrderStatus(ctx, id2)
	require.NoError(t, err)
	require.NoError(t, p.CancelOrder(ctx, id2))
	st, err = p.GetOrderStatus(ctx, id2)
	require.NoError(t, err)
	assert.Equal(t, OrderComplete, st.State)

	err = p.CancelOrder(ctx, "paper-missing")
	assert.True(t, IsNotFound(err))
}

func TestPaperValidatesLegs(t *testing.T) {
	p := deterministicPaper(t)
	bad := paperLeg(models.SideSell, 75)
	bad.InstrumentKey = ""

	_, err := p.PlaceOrder(context.Background(), bad, 99.5)
	require.Error(t, err)
	assert.True(t, IsRejected(err))
}

func TestPaperRequiredMargin(t *testing.T) {
	p := deterministicPaper(t)
	legs := []models.OptionLeg{
		paperLeg(models.SideSell, 150),
		paperLeg(models.SideBuy, 75),
	}
	legs[1].RefPrice = 20

	margin, err := p.RequiredMargin(context.Background(), legs)
	require.NoError(t, err)
	// Two short lots at 120k each plus the long premium.
	assert.InDelta(t, 2*120_000+75*20, margin, 1e-9)
}
