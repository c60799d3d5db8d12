package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/calendar"
	"github.com/shritish20/Volguard/internal/marketdata"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/risk"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOrch struct {
	exitErr    error
	lastReason string
}

func (f *fakeOrch) ExecuteStrategy(ctx context.Context, mandate *models.TradingMandate, legs []models.OptionLeg) (*models.Trade, error) {
	return &models.Trade{ID: "exec-1", Status: models.StatusOpen}, nil
}

func (f *fakeOrch) ExitStrategy(ctx context.Context, tradeID, reason string) (*models.Trade, error) {
	f.lastReason = reason
	if f.exitErr != nil {
		return nil, f.exitErr
	}
	return &models.Trade{ID: tradeID, Status: models.StatusClosed, RealizedPnL: 1200}, nil
}

type fakeSession struct{ valid bool }

func (f *fakeSession) Valid() bool { return f.valid }

type apiFixture struct {
	server *Server
	store  *storage.MockStorage
	orch   *fakeOrch
	cb     *risk.CircuitBreaker
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.PanicLevel)

	store := storage.NewMockStorage()
	cb, err := risk.NewCircuitBreaker(risk.BreakerConfig{
		BaseCapital:      1_000_000,
		DailyLossPct:     0.03,
		MaxDrawdownPct:   0.15,
		MaxLossStreak:    3,
		MaxSlippageDaily: 5,
		Cooldown:         24 * time.Hour,
	}, store, logger, time.UTC)
	require.NoError(t, err)

	session, err := calendar.NewSession(time.UTC, "00:01", "23:59", "23:00")
	require.NoError(t, err)
	paper := broker.NewPaperBroker(nil, 1_000_000, 1, logger)
	riskMgr := risk.NewManager(risk.Limits{
		BaseCapital:        1_000_000,
		MaxAllocationPct:   0.80,
		MarginUtilCap:      0.90,
		MaxContracts:       1800,
		MaxTradesPerDay:    3,
		MaxDrawdownPct:     0.15,
		MaxCapitalPerTrade: 300_000,
		VetoWindow:         48 * time.Hour,
	}, cb, store, paper, marketdata.NewCache(), session, broker.NiftyKey, time.UTC, logger)

	orch := &fakeOrch{}
	server := NewServer(nil, store, paper, orch, nil, riskMgr, &fakeSession{valid: true}, NewHub(logger), 1_000_000, logger)
	return &apiFixture{server: server, store: store, orch: orch, cb: cb}
}

func (f *apiFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestHealth(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, true, body["database"])
	assert.Equal(t, true, body["session_valid"])
}

func TestErrorEnvelope(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/orders/exit-trade", `{"trade_id":"missing"}`)

	require.Equal(t, http.StatusNotFound, rec.Code)
	body := decode(t, rec)
	detail, ok := body["detail"].(string)
	require.True(t, ok, "errors use the detail envelope")
	assert.Contains(t, detail, "missing")
}

func TestExitTradeRequiresID(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodPost, "/api/orders/exit-trade", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/orders/exit-trade", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExitClosedTradeIsNoOp(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveTrade(&models.Trade{
		ID: "t1", Status: models.StatusClosed, EntryTime: time.Now(), ExitTime: time.Now(),
	}))

	rec := f.do(t, http.MethodPost, "/api/orders/exit-trade", `{"trade_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Empty(t, f.orch.lastReason, "the orchestrator is never invoked")
}

func TestExitOpenTradeDefaultsReason(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveTrade(&models.Trade{
		ID: "t1", Status: models.StatusOpen, EntryTime: time.Now(),
	}))

	rec := f.do(t, http.MethodPost, "/api/orders/exit-trade", `{"trade_id":"t1"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "manual exit via api", f.orch.lastReason)
}

func TestPositionsEmptyIsList(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodGet, "/api/positions", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "[]", strings.TrimSpace(rec.Body.String()))
}

func TestPositionByID(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveTrade(&models.Trade{
		ID: "t1", Status: models.StatusOpen, EntryTime: time.Now(),
	}))

	rec := f.do(t, http.MethodGet, "/api/positions/t1", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/positions/absent", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestManualExitFlagsLiveTrade(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveTrade(&models.Trade{
		ID: "t1", Status: models.StatusOpen, EntryTime: time.Now(),
	}))

	rec := f.do(t, http.MethodPost, "/api/positions/t1/manual-exit", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["manual_exit"])
	assert.Equal(t, "t1", body["trade_id"])

	stored, err := f.store.GetTrade("t1")
	require.NoError(t, err)
	assert.True(t, stored.ManualExit, "the monitor picks the flag up next cycle")
	assert.Empty(t, f.orch.lastReason, "flagging does not exit inline")
}

func TestManualExitRejectsInactiveTrade(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.SaveTrade(&models.Trade{
		ID: "t1", Status: models.StatusClosed, EntryTime: time.Now(), ExitTime: time.Now(),
	}))

	rec := f.do(t, http.MethodPost, "/api/positions/t1/manual-exit", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/positions/absent/manual-exit", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHistoryAggregates(t *testing.T) {
	f := newAPIFixture(t)
	now := time.Now()
	for _, tr := range []*models.Trade{
		{ID: "w1", Status: models.StatusClosed, EntryTime: now, ExitTime: now, RealizedPnL: 2000},
		{ID: "w2", Status: models.StatusClosed, EntryTime: now, ExitTime: now, RealizedPnL: 500},
		{ID: "l1", Status: models.StatusClosed, EntryTime: now, ExitTime: now, RealizedPnL: -800},
	} {
		require.NoError(t, f.store.SaveTrade(tr))
	}

	rec := f.do(t, http.MethodGet, "/api/trades/history?status=closed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(2), body["wins"])
	assert.Equal(t, float64(1), body["losses"])
	assert.Equal(t, float64(1700), body["total_pnl"])
}

func TestHistoryRejectsBadDays(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/trades/history?days=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodGet, "/api/trades/history?days=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRiskStatusReflectsBreaker(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(t, http.MethodGet, "/api/orders/risk-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["circuit_breaker_active"])

	require.NoError(t, f.cb.Trip(risk.ReasonDailyLoss, "test"))
	rec = f.do(t, http.MethodGet, "/api/orders/risk-status", "")
	body := decode(t, rec)
	assert.Equal(t, true, body["circuit_breaker_active"])
	assert.Equal(t, risk.ReasonDailyLoss, body["circuit_breaker_reason"])
}

func TestExecuteStrategyRejectsBadBody(t *testing.T) {
	f := newAPIFixture(t)
	rec := f.do(t, http.MethodPost, "/api/orders/execute-strategy", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
