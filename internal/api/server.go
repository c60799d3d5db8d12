// Package api exposes the control surface: a JSON REST API for analysis,
// execution and positions, and a websocket pushing live portfolio updates.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/controller"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/risk"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/shritish20/Volguard/internal/strategy"
	"github.com/sirupsen/logrus"
)

// Orchestrator is the execution surface the API needs.
type Orchestrator interface {
	ExecuteStrategy(ctx context.Context, mandate *models.TradingMandate, legs []models.OptionLeg) (*models.Trade, error)
	ExitStrategy(ctx context.Context, tradeID, reason string) (*models.Trade, error)
}

// SessionChecker reports broker-session validity for health checks.
type SessionChecker interface {
	Valid() bool
}

// Server is the HTTP/WebSocket front end.
type Server struct {
	ctrl    *controller.Controller
	store   storage.Interface
	broker  broker.Broker
	orch    Orchestrator
	builder *strategy.Builder
	riskMgr *risk.Manager
	session SessionChecker
	hub     *Hub
	logger  *logrus.Logger

	baseCapital float64
}

func NewServer(ctrl *controller.Controller, store storage.Interface, b broker.Broker, orch Orchestrator, builder *strategy.Builder, riskMgr *risk.Manager, session SessionChecker, hub *Hub, baseCapital float64, logger *logrus.Logger) *Server {
	return &Server{
		ctrl:        ctrl,
		store:       store,
		broker:      b,
		orch:        orch,
		builder:     builder,
		riskMgr:     riskMgr,
		session:     session,
		hub:         hub,
		baseCapital: baseCapital,
		logger:      logger,
	}
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(120 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/ws", s.hub.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Post("/analysis/run", s.handleAnalysisRun)
		r.Get("/analysis/latest", s.handleAnalysisLatest)

		r.Post("/orders/execute-strategy", s.handleExecuteStrategy)
		r.Post("/orders/exit-trade", s.handleExitTrade)
		r.Post("/orders/build-strategy", s.handleBuildStrategy)
		r.Get("/orders/risk-status", s.handleRiskStatus)

		r.Get("/positions", s.handlePositions)
		r.Get("/positions/{trade_id}", s.handlePosition)
		r.Post("/positions/{trade_id}/manual-exit", s.handleManualExit)
		r.Post("/positions/exit-all", s.handleExitAll)

		r.Get("/trades/history", s.handleHistory)
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if _, err := s.store.GetState("health_probe"); err != nil && !errors.Is(err, storage.ErrNotFound) {
		dbOK = false
	}
	status := http.StatusOK
	if !dbOK {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"status":        map[bool]string{true: "ok", false: "degraded"}[dbOK],
		"database":      dbOK,
		"session_valid": s.session.Valid(),
		"timestamp":     time.Now(),
	})
}

func (s *Server) handleAnalysisRun(w http.ResponseWriter, r *http.Request) {
	result, err := s.ctrl.RunCycle(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleAnalysisLatest(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.LatestAnalysis()
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("no analysis recorded yet"))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, analysisView(rec))
}

// analysisView re-inflates the stored JSON columns so clients get structured
// objects, not quoted strings.
func analysisView(rec *storage.AnalysisRecord) map[string]any {
	out := map[string]any{
		"id":          rec.ID,
		"timestamp":   rec.Timestamp,
		"regime_name": rec.RegimeName,
	}
	for name, raw := range map[string][]byte{
		"weekly_mandate":      rec.WeeklyMandate,
		"monthly_mandate":     rec.MonthlyMandate,
		"next_weekly_mandate": rec.NextWeeklyMandate,
		"vol_metrics":         rec.VolMetrics,
		"struct_metrics":      rec.StructMetrics,
		"edge_metrics":        rec.EdgeMetrics,
		"external_metrics":    rec.ExternalMetrics,
		"veto_events":         rec.VetoEvents,
	} {
		if len(raw) == 0 {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err == nil {
			out[name] = v
		}
	}
	return out
}

type executeRequest struct {
	Mandate      models.TradingMandate `json:"mandate"`
	ValidateOnly bool                  `json:"validate_only"`
}

func (s *Server) handleExecuteStrategy(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}

	legs, err := s.buildLegs(r.Context(), &req.Mandate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}

	verdict := s.riskMgr.ValidateEntry(r.Context(), legs, req.Mandate.Deployment, s.currentCapital(), s.ctrl.Events())
	if req.ValidateOnly || !verdict.Approved {
		writeJSON(w, http.StatusOK, map[string]any{
			"executed": false,
			"verdict":  verdict,
			"legs":     legs,
		})
		return
	}

	trade, err := s.orch.ExecuteStrategy(r.Context(), &req.Mandate, legs)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"executed": true,
		"verdict":  verdict,
		"trade":    trade,
	})
}

func (s *Server) handleBuildStrategy(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	legs, err := s.buildLegs(r.Context(), &req.Mandate)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	maxLoss, credit := strategy.RiskBound(legs)
	writeJSON(w, http.StatusOK, map[string]any{
		"legs":       legs,
		"max_loss":   maxLoss,
		"net_credit": credit,
	})
}

// buildLegs fetches the chain and spot and runs the builder for a mandate.
// The IV percentile comes from the latest persisted analysis, defaulting to
// mid-range when none exists.
func (s *Server) buildLegs(ctx context.Context, mandate *models.TradingMandate) ([]models.OptionLeg, error) {
	chain, err := s.broker.GetOptionChain(ctx, mandate.ExpiryDate)
	if err != nil {
		return nil, fmt.Errorf("option chain: %w", err)
	}
	spot, err := s.broker.GetLTP(ctx, broker.NiftyKey)
	if err != nil {
		return nil, fmt.Errorf("spot: %w", err)
	}
	ivp := 50.0
	if rec, lerr := s.store.LatestAnalysis(); lerr == nil {
		var vol models.VolMetrics
		if json.Unmarshal(rec.VolMetrics, &vol) == nil {
			ivp = vol.IVP1Yr
		}
	}
	return s.builder.Build(mandate, chain, spot, ivp)
}

type exitRequest struct {
	TradeID string `json:"trade_id"`
	Reason  string `json:"reason"`
}

func (s *Server) handleExitTrade(w http.ResponseWriter, r *http.Request) {
	var req exitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid body: %w", err))
		return
	}
	if req.TradeID == "" {
		writeError(w, http.StatusBadRequest, fmt.Errorf("trade_id is required"))
		return
	}
	if req.Reason == "" {
		req.Reason = "manual exit via api"
	}

	trade, err := s.store.GetTrade(req.TradeID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("trade %s not found", req.TradeID))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	// Exiting an already-closed trade is a no-op, reported as such.
	if trade.Status == models.StatusClosed || trade.Status == models.StatusFailed {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "trade": trade})
		return
	}

	closed, err := s.orch.ExitStrategy(r.Context(), req.TradeID, req.Reason)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "trade": closed})
}

func (s *Server) handleRiskStatus(w http.ResponseWriter, r *http.Request) {
	active, reason := s.riskMgr.Breaker().Active()
	deployed, _ := s.store.DeployedCapital()
	today := time.Now().Format("2006-01-02")
	count, _ := s.store.DailyTradeCount(today)
	realized, _ := s.store.DailyRealizedPnL(today)
	writeJSON(w, http.StatusOK, map[string]any{
		"circuit_breaker_active": active,
		"circuit_breaker_reason": reason,
		"deployed_capital":       deployed,
		"daily_trade_count":      count,
		"daily_realized_pnl":     realized,
	})
}

func (s *Server) handlePositions(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ActiveTrades()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "trade_id")
	trade, err := s.store.GetTrade(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("trade %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, trade)
}

// handleManualExit flags a live trade so the monitor exits it on its next
// cycle at market prices, rather than exiting inline.
func (s *Server) handleManualExit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "trade_id")
	trade, err := s.store.GetTrade(id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, fmt.Errorf("trade %s not found", id))
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if !trade.IsActive() {
		writeError(w, http.StatusConflict, fmt.Errorf("trade %s is %s, nothing to exit", id, trade.Status))
		return
	}
	if err := s.store.SetManualExit(id); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"trade_id": id, "manual_exit": true})
}

func (s *Server) handleExitAll(w http.ResponseWriter, r *http.Request) {
	trades, err := s.store.ActiveTrades()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	results := make([]map[string]any, 0, len(trades))
	for _, t := range trades {
		if t.Status != models.StatusOpen {
			continue
		}
		closed, exitErr := s.orch.ExitStrategy(r.Context(), t.ID, "emergency exit all")
		entry := map[string]any{"trade_id": t.ID, "success": exitErr == nil}
		if exitErr != nil {
			entry["error"] = exitErr.Error()
		} else {
			entry["realized_pnl"] = closed.RealizedPnL
		}
		results = append(results, entry)
	}
	writeJSON(w, http.StatusOK, map[string]any{"exited": results})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	days := 30
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid days %q", v))
			return
		}
		days = n
	}

	trades, err := s.store.TradeHistory(status, days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	var wins, losses int
	var totalPnL float64
	for _, t := range trades {
		if t.Status != models.StatusClosed {
			continue
		}
		totalPnL += t.RealizedPnL
		if t.RealizedPnL >= 0 {
			wins++
		} else {
			losses++
		}
	}
	if trades == nil {
		trades = []models.Trade{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"trades":    trades,
		"wins":      wins,
		"losses":    losses,
		"total_pnl": totalPnL,
	})
}

func (s *Server) currentCapital() float64 {
	today := time.Now().Format("2006-01-02")
	realized, err := s.store.DailyRealizedPnL(today)
	if err != nil {
		return s.baseCapital
	}
	return s.baseCapital + realized
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError emits the {"detail": ...} envelope used by every error
// response.
func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"detail": err.Error()})
}
