package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func sampleTrade(id string, status models.TradeStatus) *models.Trade {
	return &models.Trade{
		ID:         id,
		Strategy:   models.StructureIronCondor,
		ExpiryType: models.ExpiryWeekly,
		ExpiryDate: "2026-08-27",
		Status:     status,
		EntryTime:  time.Now().UTC(),
		Legs: []models.OptionLeg{
			{InstrumentKey: "NSE_FO|1", Type: models.OptionPut, Strike: 23800,
				Side: models.SideBuy, Quantity: 75, Role: models.RoleHedge,
				RefPrice: 22.5, LotSize: 75, Expiry: "2026-08-27", FilledQty: 75, AvgPrice: 22.6},
			{InstrumentKey: "NSE_FO|2", Type: models.OptionPut, Strike: 24100,
				Side: models.SideSell, Quantity: 75, Role: models.RoleCore,
				RefPrice: 98.1, LotSize: 75, Expiry: "2026-08-27", FilledQty: 75, AvgPrice: 97.9},
		},
		EntryCredit: 5655,
		MaxLoss:     16845,
		Deployment:  180000,
	}
}

func TestTradeRoundTrip(t *testing.T) {
	s := openTestStore(t)

	in := sampleTrade("t-1", models.StatusOpen)
	require.NoError(t, s.SaveTrade(in))

	out, err := s.GetTrade("t-1")
	require.NoError(t, err)
	assert.Equal(t, in.ID, out.ID)
	assert.Equal(t, in.Strategy, out.Strategy)
	assert.Equal(t, in.Status, out.Status)
	assert.Equal(t, in.EntryCredit, out.EntryCredit)
	require.Len(t, out.Legs, 2)
	assert.Equal(t, models.RoleHedge, out.Legs[0].Role, "leg order must survive persistence")
	assert.Equal(t, 97.9, out.Legs[1].AvgPrice)
	assert.Empty(t, out.ExitLegs)
}

func TestGetTradeNotFound(t *testing.T) {
	s := openTestStore(t)
	_, err := s.GetTrade("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateTradeRewritesLegs(t *testing.T) {
	s := openTestStore(t)
	tr := sampleTrade("t-2", models.StatusOpen)
	require.NoError(t, s.SaveTrade(tr))

	tr.Status = models.StatusClosed
	tr.ExitTime = time.Now().UTC()
	tr.RealizedPnL = 2400
	tr.ExitReason = "profit target reached"
	tr.ExitLegs = []models.OptionLeg{tr.Legs[1].Reversed()}
	require.NoError(t, s.UpdateTrade(tr))

	out, err := s.GetTrade("t-2")
	require.NoError(t, err)
	assert.Equal(t, models.StatusClosed, out.Status)
	assert.Equal(t, 2400.0, out.RealizedPnL)
	assert.Len(t, out.ExitLegs, 1)
	assert.Equal(t, models.SideBuy, out.ExitLegs[0].Side)

	missing := sampleTrade("ghost", models.StatusOpen)
	assert.ErrorIs(t, s.UpdateTrade(missing), ErrNotFound)
}

func TestActiveTradesFiltersTerminal(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTrade(sampleTrade("open-1", models.StatusOpen)))
	require.NoError(t, s.SaveTrade(sampleTrade("closing-1", models.StatusClosing)))
	closed := sampleTrade("closed-1", models.StatusClosed)
	closed.ExitTime = time.Now().UTC()
	require.NoError(t, s.SaveTrade(closed))
	require.NoError(t, s.SaveTrade(sampleTrade("failed-1", models.StatusFailed)))

	active, err := s.ActiveTrades()
	require.NoError(t, err)
	require.Len(t, active, 2)
	for _, tr := range active {
		assert.True(t, tr.IsActive())
	}
}

func TestDailyAggregates(t *testing.T) {
	s := openTestStore(t)
	today := time.Now().UTC().Format("2006-01-02")

	win := sampleTrade("w", models.StatusClosed)
	win.ExitTime = time.Now().UTC()
	win.RealizedPnL = 3000
	require.NoError(t, s.SaveTrade(win))

	loss := sampleTrade("l", models.StatusClosed)
	loss.ExitTime = time.Now().UTC()
	loss.RealizedPnL = -1200
	require.NoError(t, s.SaveTrade(loss))

	failed := sampleTrade("f", models.StatusFailed)
	require.NoError(t, s.SaveTrade(failed))

	count, err := s.DailyTradeCount(today)
	require.NoError(t, err)
	assert.Equal(t, 2, count, "failed trades do not consume the daily budget")

	pnl, err := s.DailyRealizedPnL(today)
	require.NoError(t, err)
	assert.InDelta(t, 1800, pnl, 1e-9)
}

func TestDeployedCapital(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTrade(sampleTrade("a", models.StatusOpen)))
	require.NoError(t, s.SaveTrade(sampleTrade("b", models.StatusClosing)))
	closed := sampleTrade("c", models.StatusClosed)
	closed.ExitTime = time.Now().UTC()
	require.NoError(t, s.SaveTrade(closed))

	v, err := s.DeployedCapital()
	require.NoError(t, err)
	assert.InDelta(t, 360000, v, 1e-9)
}

func TestManualExitFlag(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.SaveTrade(sampleTrade("m", models.StatusOpen)))

	require.NoError(t, s.SetManualExit("m"))
	out, err := s.GetTrade("m")
	require.NoError(t, err)
	assert.True(t, out.ManualExit)

	assert.ErrorIs(t, s.SetManualExit("nope"), ErrNotFound)
}

func TestStateRoundTrip(t *testing.T) {
	s := openTestStore(t)

	_, err := s.GetState("absent")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.SetState("circuit_breaker_active", "true"))
	require.NoError(t, s.SetState("circuit_breaker_active", "false"))
	v, err := s.GetState("circuit_breaker_active")
	require.NoError(t, err)
	assert.Equal(t, "false", v, "SetState must upsert")
}

func TestAnalysisLatest(t *testing.T) {
	s := openTestStore(t)

	_, err := s.LatestAnalysis()
	assert.ErrorIs(t, err, ErrNotFound)

	first := &AnalysisRecord{Timestamp: time.Now().UTC().Add(-time.Hour),
		RegimeName: "SELECTIVE_DIRECTIONAL", WeeklyMandate: []byte(`{}`)}
	second := &AnalysisRecord{Timestamp: time.Now().UTC(),
		RegimeName: "PRIME_PREMIUM_SELLING", WeeklyMandate: []byte(`{"score":8.1}`)}
	require.NoError(t, s.SaveAnalysis(first))
	require.NoError(t, s.SaveAnalysis(second))

	latest, err := s.LatestAnalysis()
	require.NoError(t, err)
	assert.Equal(t, "PRIME_PREMIUM_SELLING", latest.RegimeName)
	assert.Equal(t, []byte(`{"score":8.1}`), latest.WeeklyMandate)
}

func TestOrderRecords(t *testing.T) {
	s := openTestStore(t)
	rec := OrderRecord{
		OrderID:       "ord-1",
		TradeID:       "t-1",
		InstrumentKey: "NSE_FO|1",
		Side:          models.SideSell,
		Quantity:      75,
		Price:         98.05,
		Status:        "open",
		PlacedAt:      time.Now().UTC(),
	}
	require.NoError(t, s.SaveOrder(rec))

	rec.Status = "complete"
	rec.FilledQty = 75
	rec.AvgPrice = 97.95
	rec.FilledAt = time.Now().UTC()
	require.NoError(t, s.UpdateOrder(rec))
}

func TestUpsertDailyMetrics(t *testing.T) {
	s := openTestStore(t)
	dm := DailyMetrics{Date: "2026-08-24", TradesCount: 1, Realized: 1500, TotalPnL: 1500, CapitalDeployed: 180000}
	require.NoError(t, s.UpsertDailyMetrics(dm))
	dm.TradesCount = 2
	dm.Realized = 900
	require.NoError(t, s.UpsertDailyMetrics(dm))
}
