// Package controller owns the top-level analysis and trading cycle: fetch
// context, compute metrics, score the regime, and hand an approved mandate
// down the execution pipeline.
package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/shritish20/Volguard/internal/analytics"
	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/calendar"
	"github.com/shritish20/Volguard/internal/marketdata"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/orders"
	"github.com/shritish20/Volguard/internal/participant"
	"github.com/shritish20/Volguard/internal/regime"
	"github.com/shritish20/Volguard/internal/risk"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/shritish20/Volguard/internal/strategy"
	"github.com/sirupsen/logrus"
)

// maxConsecutiveFailures is the failed-cycle count that trips the circuit
// breaker.
const maxConsecutiveFailures = 3

// historyDays is the candle history requested per cycle; padded above the
// analytics minimum to absorb holidays.
const historyDays = 400

// AnalysisResult is one full cycle's output.
type AnalysisResult struct {
	Timestamp  time.Time              `json:"timestamp"`
	Vol        models.VolMetrics      `json:"vol_metrics"`
	Struct     models.StructMetrics   `json:"struct_metrics"`
	Edge       models.EdgeMetrics     `json:"edge_metrics"`
	External   models.ExternalMetrics `json:"external_metrics"`
	Weekly     models.TradingMandate  `json:"weekly_mandate"`
	Monthly    models.TradingMandate  `json:"monthly_mandate"`
	NextWeekly models.TradingMandate  `json:"next_weekly_mandate"`
	VetoEvents []calendar.Event       `json:"veto_events"`
	Executed   *models.Trade          `json:"executed_trade,omitempty"`
}

// Controller drives the periodic cycle and exposes the same pipeline to the
// API for on-demand runs.
type Controller struct {
	broker      broker.Broker
	store       storage.Interface
	cache       *marketdata.Cache
	stream      *marketdata.Stream
	calendar    *calendar.Engine
	participant *participant.Fetcher
	riskMgr     *risk.Manager
	builder     *strategy.Builder
	orch        *orders.Orchestrator
	session     *calendar.Session
	sizing      regime.Sizing
	interval    time.Duration
	vetoWindow  time.Duration
	autoTrade   bool
	loc         *time.Location
	logger      *logrus.Logger

	mu       sync.Mutex
	running  bool
	failures int
	events   []calendar.Event
}

// Deps bundles the controller's collaborators.
type Deps struct {
	Broker      broker.Broker
	Store       storage.Interface
	Cache       *marketdata.Cache
	Stream      *marketdata.Stream
	Calendar    *calendar.Engine
	Participant *participant.Fetcher
	RiskManager *risk.Manager
	Builder     *strategy.Builder
	Orch        *orders.Orchestrator
	Session     *calendar.Session
	Sizing      regime.Sizing
	Interval    time.Duration
	VetoWindow  time.Duration
	AutoTrade   bool
	Location    *time.Location
	Logger      *logrus.Logger
}

func New(d Deps) *Controller {
	return &Controller{
		broker:      d.Broker,
		store:       d.Store,
		cache:       d.Cache,
		stream:      d.Stream,
		calendar:    d.Calendar,
		participant: d.Participant,
		riskMgr:     d.RiskManager,
		builder:     d.Builder,
		orch:        d.Orch,
		session:     d.Session,
		sizing:      d.Sizing,
		interval:    d.Interval,
		vetoWindow:  d.VetoWindow,
		autoTrade:   d.AutoTrade,
		loc:         d.Location,
		logger:      d.Logger,
	}
}

// Events returns the latest calendar snapshot for the monitor.
func (c *Controller) Events() []calendar.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]calendar.Event, len(c.events))
	copy(out, c.events)
	return out
}

// Run executes cycles on the configured interval during market hours until
// the context ends. The cycle in flight finishes before Run returns.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.logger.WithField("interval", c.interval).Info("controller started")
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("controller stopped")
			return
		case <-ticker.C:
			if !c.session.IsOpen(time.Now()) {
				continue
			}
			if _, err := c.RunCycle(ctx); err != nil {
				c.noteFailure(err)
			} else {
				c.clearFailures()
			}
		}
	}
}

// RunCycle performs one full analysis (and, when enabled and approved, one
// trade). Overlapping invocations are refused.
func (c *Controller) RunCycle(ctx context.Context) (*AnalysisResult, error) {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil, fmt.Errorf("analysis cycle already in progress")
	}
	c.running = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.running = false
		c.mu.Unlock()
	}()

	started := time.Now()
	result, err := c.analyze(ctx)
	if err != nil {
		return nil, err
	}

	if c.autoTrade {
		if trade := c.tryTrade(ctx, result); trade != nil {
			result.Executed = trade
		}
	}

	if err := c.persist(result); err != nil {
		c.logger.WithError(err).Error("analysis persist failed")
	}
	c.logger.WithFields(logrus.Fields{
		"took":      time.Since(started).Round(time.Millisecond),
		"composite": result.Weekly.Score.Composite,
		"structure": result.Weekly.Structure,
	}).Info("analysis cycle complete")
	return result, nil
}

// analyze gathers all context and scores the three expiry buckets.
func (c *Controller) analyze(ctx context.Context) (*AnalysisResult, error) {
	events, err := c.calendar.Fetch(ctx, 7)
	if err != nil {
		c.logger.WithError(err).Warn("calendar unavailable, proceeding without events")
		events = nil
	}
	c.mu.Lock()
	c.events = events
	c.mu.Unlock()

	flows := c.participant.Fetch(ctx)

	niftyHist, err := c.broker.GetHistoricalCandles(ctx, broker.NiftyKey, "day", historyDays)
	if err != nil {
		return nil, fmt.Errorf("nifty history: %w", err)
	}
	vixHist, err := c.broker.GetHistoricalCandles(ctx, broker.VIXKey, "day", historyDays)
	if err != nil {
		return nil, fmt.Errorf("vix history: %w", err)
	}

	liveSpot := c.liveClose(broker.NiftyKey)
	liveVIX := c.liveClose(broker.VIXKey)

	vol, err := analytics.ComputeVol(niftyHist, vixHist, liveSpot, liveVIX)
	if err != nil {
		return nil, fmt.Errorf("vol metrics: %w", err)
	}

	expiries, err := c.broker.GetExpiries(ctx)
	if err != nil {
		return nil, fmt.Errorf("expiries: %w", err)
	}
	now := time.Now()
	set, err := pickExpiries(expiries, now, c.loc)
	if err != nil {
		return nil, err
	}

	chain, err := c.broker.GetOptionChain(ctx, set.Weekly)
	if err != nil {
		return nil, fmt.Errorf("option chain %s: %w", set.Weekly, err)
	}
	lotSize := 0
	if len(chain) > 0 {
		lotSize = chain[0].LotSize
	}
	structM := analytics.ComputeStruct(chain, vol.Spot, lotSize)

	dteW := dte(set.Weekly, now, c.loc)
	dteM := dte(set.Monthly, now, c.loc)
	dteN := dte(set.NextWeekly, now, c.loc)
	edge := analytics.ComputeEdge(vol, dteW, dteM, dteN)

	vetoEvents := filterVeto(events)
	external := models.ExternalMetrics{
		FIINetContracts:  flows.FIINet,
		FIIAvailable:     flows.Available,
		HighImpactEvents: calendar.CountHighImpact(events),
		VetoEvents:       len(vetoEvents),
	}

	result := &AnalysisResult{
		Timestamp:  now,
		Vol:        vol,
		Struct:     structM,
		Edge:       edge,
		External:   external,
		VetoEvents: vetoEvents,
	}

	mandateFor := func(expiry string, kind models.ExpiryType, d int) models.TradingMandate {
		in := regime.Inputs{Vol: vol, Struct: structM, Edge: edge, External: external, DTE: d}
		score := regime.ComputeScore(in)
		m := regime.BuildMandate(in, score, kind, expiry, c.sizing)
		if _, found := calendar.VetoWithin(events, c.vetoWindow); found {
			m.VetoReasons = append(m.VetoReasons, "veto event inside window")
		}
		return m
	}
	result.Weekly = mandateFor(set.Weekly, models.ExpiryWeekly, dteW)
	result.Monthly = mandateFor(set.Monthly, models.ExpiryMonthly, dteM)
	result.NextWeekly = mandateFor(set.NextWeekly, models.ExpiryNextWeekly, dteN)
	return result, nil
}

// tryTrade runs the selected mandate through build, risk gate and execution.
// Any refusal is logged, never raised.
func (c *Controller) tryTrade(ctx context.Context, result *AnalysisResult) *models.Trade {
	mandate := c.selectMandate(result)
	if !mandate.Tradeable() {
		c.logger.WithFields(logrus.Fields{
			"structure": mandate.Structure,
			"vetoes":    mandate.VetoReasons,
		}).Info("no trade this cycle")
		return nil
	}

	chain, err := c.broker.GetOptionChain(ctx, mandate.ExpiryDate)
	if err != nil {
		c.logger.WithError(err).Error("chain fetch for build failed")
		return nil
	}
	legs, err := c.builder.Build(mandate, chain, result.Vol.Spot, result.Vol.IVP1Yr)
	if err != nil {
		c.logger.WithError(err).Warn("strategy build refused")
		return nil
	}

	currentCapital := c.currentCapital()
	verdict := c.riskMgr.ValidateEntry(ctx, legs, mandate.Deployment, currentCapital, c.Events())
	if !verdict.Approved {
		c.logger.WithField("violations", verdict.Violations).Warn("risk gate refused entry")
		return nil
	}

	trade, err := c.orch.ExecuteStrategy(ctx, mandate, legs)
	if err != nil {
		c.logger.WithError(err).Error("execution failed")
		return nil
	}
	c.subscribeTradeLegs(trade)
	return trade
}

// selectMandate trades the bucket the edge metrics favour, falling back to
// weekly.
func (c *Controller) selectMandate(result *AnalysisResult) *models.TradingMandate {
	switch result.Edge.SmartExpiry {
	case models.ExpiryMonthly:
		return &result.Monthly
	case models.ExpiryNextWeekly:
		return &result.NextWeekly
	default:
		return &result.Weekly
	}
}

// subscribeTradeLegs adds the new trade's instruments to the feed so the
// monitor can mark them.
func (c *Controller) subscribeTradeLegs(trade *models.Trade) {
	if c.stream == nil {
		return
	}
	keys := make([]string, 0, len(trade.Legs))
	for _, l := range trade.Legs {
		keys = append(keys, l.InstrumentKey)
	}
	c.stream.Add(keys)
}

func (c *Controller) currentCapital() float64 {
	today := time.Now().In(c.loc).Format("2006-01-02")
	realized, err := c.store.DailyRealizedPnL(today)
	if err != nil {
		c.logger.WithError(err).Warn("daily realized pnl unavailable")
	}
	return c.sizing.BaseCapital + realized
}

func (c *Controller) liveClose(key string) float64 {
	if q, err := c.cache.Fresh(key); err == nil {
		return q.LTP
	}
	return 0
}

func (c *Controller) persist(result *AnalysisResult) error {
	rec := &storage.AnalysisRecord{
		Timestamp:  result.Timestamp,
		RegimeName: result.Weekly.RegimeName,
	}
	var err error
	if rec.WeeklyMandate, err = json.Marshal(result.Weekly); err != nil {
		return fmt.Errorf("marshal weekly mandate: %w", err)
	}
	if rec.MonthlyMandate, err = json.Marshal(result.Monthly); err != nil {
		return fmt.Errorf("marshal monthly mandate: %w", err)
	}
	if rec.NextWeeklyMandate, err = json.Marshal(result.NextWeekly); err != nil {
		return fmt.Errorf("marshal next weekly mandate: %w", err)
	}
	if rec.VolMetrics, err = json.Marshal(result.Vol); err != nil {
		return fmt.Errorf("marshal vol metrics: %w", err)
	}
	if rec.StructMetrics, err = json.Marshal(result.Struct); err != nil {
		return fmt.Errorf("marshal struct metrics: %w", err)
	}
	if rec.EdgeMetrics, err = json.Marshal(result.Edge); err != nil {
		return fmt.Errorf("marshal edge metrics: %w", err)
	}
	if rec.ExternalMetrics, err = json.Marshal(result.External); err != nil {
		return fmt.Errorf("marshal external metrics: %w", err)
	}
	if rec.VetoEvents, err = json.Marshal(result.VetoEvents); err != nil {
		return fmt.Errorf("marshal veto events: %w", err)
	}
	return c.store.SaveAnalysis(rec)
}

func (c *Controller) noteFailure(err error) {
	c.mu.Lock()
	c.failures++
	n := c.failures
	c.mu.Unlock()

	c.logger.WithError(err).WithField("consecutive", n).Error("analysis cycle failed")
	if n >= maxConsecutiveFailures {
		if terr := c.riskMgr.Breaker().Trip(risk.ReasonAnalysisFailure,
			fmt.Sprintf("%d consecutive failed cycles: %v", n, err)); terr != nil {
			c.logger.WithError(terr).Error("breaker trip after cycle failures failed")
		}
	}
}

func (c *Controller) clearFailures() {
	c.mu.Lock()
	c.failures = 0
	c.mu.Unlock()
}

func filterVeto(events []calendar.Event) []calendar.Event {
	var out []calendar.Event
	for _, ev := range events {
		if ev.IsVeto {
			out = append(out, ev)
		}
	}
	return out
}
