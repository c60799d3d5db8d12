// Package monitor watches open trades against live quotes: it keeps P&L and
// portfolio Greeks current and dispatches exits when a rule fires. It never
// raises out of its loop; a cycle that cannot price a trade is skipped.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/shritish20/Volguard/internal/calendar"
	"github.com/shritish20/Volguard/internal/marketdata"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/sirupsen/logrus"
)

// Exiter dispatches a position unwind.
type Exiter interface {
	ExitStrategy(ctx context.Context, tradeID, reason string) (*models.Trade, error)
}

// Rules carries the exit thresholds.
type Rules struct {
	TargetProfitPct   float64
	StopLossPct       float64
	ExitDTE           int
	MaxPortfolioDelta float64
	MinThetaVega      float64
	VetoWindow        time.Duration
}

// Monitor is the single background evaluation loop.
type Monitor struct {
	store    storage.Interface
	cache    *marketdata.Cache
	exiter   Exiter
	session  *calendar.Session
	rules    Rules
	interval time.Duration
	loc      *time.Location
	logger   *logrus.Logger

	// events is refreshed by the controller after each calendar fetch.
	events func() []calendar.Event
}

func New(store storage.Interface, cache *marketdata.Cache, exiter Exiter, session *calendar.Session, rules Rules, interval time.Duration, loc *time.Location, events func() []calendar.Event, logger *logrus.Logger) *Monitor {
	return &Monitor{
		store:    store,
		cache:    cache,
		exiter:   exiter,
		session:  session,
		rules:    rules,
		interval: interval,
		loc:      loc,
		events:   events,
		logger:   logger,
	}
}

// Run evaluates all open trades on the configured cadence until the context
// ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.WithField("interval", m.interval).Info("position monitor started")
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("position monitor stopped")
			return
		case <-ticker.C:
			m.evaluateAll(ctx)
		}
	}
}

func (m *Monitor) evaluateAll(ctx context.Context) {
	trades, err := m.store.ActiveTrades()
	if err != nil {
		m.logger.WithError(err).Error("active trades load failed")
		return
	}
	for i := range trades {
		trade := &trades[i]
		if trade.Status != models.StatusOpen {
			continue
		}
		if err := m.evaluate(ctx, trade); err != nil {
			m.logger.WithError(err).WithField("trade", trade.ID).Warn("monitor cycle skipped for trade")
		}
	}
}

// evaluate refreshes the trade's marks and fires the first matching exit
// rule. Later rules are suppressed once one fires.
func (m *Monitor) evaluate(ctx context.Context, trade *models.Trade) error {
	if err := m.refreshMarks(trade); err != nil {
		return err
	}
	if err := m.store.UpdateTrade(trade); err != nil {
		m.logger.WithError(err).WithField("trade", trade.ID).Error("trade mark persist failed")
	}

	reason, fire := m.exitReason(trade)
	if !fire {
		return nil
	}

	m.logger.WithFields(logrus.Fields{
		"trade":  trade.ID,
		"reason": reason,
		"pnl":    trade.CurrentPnL,
	}).Info("exit rule fired")
	if _, err := m.exiter.ExitStrategy(ctx, trade.ID, reason); err != nil {
		return fmt.Errorf("dispatch exit: %w", err)
	}
	return nil
}

// refreshMarks recomputes current P&L and portfolio Greeks from fresh
// quotes. Any stale leg aborts the refresh.
func (m *Monitor) refreshMarks(trade *models.Trade) error {
	var pnl, delta, theta, gamma, vega float64
	for _, leg := range trade.Legs {
		if !leg.Filled() {
			continue
		}
		q, err := m.cache.Fresh(leg.InstrumentKey)
		if err != nil {
			return fmt.Errorf("mark %s: %w", leg.InstrumentKey, err)
		}
		qty := float64(leg.FilledQty)
		sign := 1.0
		if leg.Side == models.SideSell {
			sign = -1.0
			pnl += (leg.AvgPrice - q.LTP) * qty
		} else {
			pnl += (q.LTP - leg.AvgPrice) * qty
		}
		delta += sign * q.Delta * qty
		theta += sign * q.Theta * qty
		gamma += sign * q.Gamma * qty
		vega += sign * q.Vega * qty
	}
	trade.CurrentPnL = pnl
	trade.NetDelta = delta
	trade.NetTheta = theta
	trade.NetGamma = gamma
	trade.NetVega = vega
	return nil
}

// exitReason evaluates the rules in fixed precedence and returns the first
// hit.
func (m *Monitor) exitReason(trade *models.Trade) (string, bool) {
	now := time.Now()

	// 1. Manual exit request.
	if trade.ManualExit {
		return "manual exit requested", true
	}

	// 2. Profit target against entry credit.
	total := trade.RealizedPnL + trade.CurrentPnL
	if trade.EntryCredit > 0 && total >= m.rules.TargetProfitPct*trade.EntryCredit {
		return fmt.Sprintf("profit target reached (%.0f of %.0f credit)", total, trade.EntryCredit), true
	}

	// 3. Stop loss against entry credit.
	if trade.EntryCredit > 0 && total <= -m.rules.StopLossPct*trade.EntryCredit {
		return fmt.Sprintf("stop loss hit (%.0f against %.0f credit)", total, trade.EntryCredit), true
	}

	// 4. Expiry-day square-off.
	dte, err := trade.DTE(now, m.loc)
	if err != nil {
		m.logger.WithError(err).WithField("trade", trade.ID).Warn("dte unavailable")
		dte = -1
	}
	if dte >= 0 && dte <= m.rules.ExitDTE && m.session.PastSquareOff(now) {
		return fmt.Sprintf("square-off with %d DTE", dte), true
	}

	// 5. Portfolio delta bound.
	if abs(trade.NetDelta) > m.rules.MaxPortfolioDelta {
		return fmt.Sprintf("portfolio delta %.0f beyond bound %.0f", trade.NetDelta, m.rules.MaxPortfolioDelta), true
	}

	// 6. Theta/vega decay quality near expiry.
	if dte >= 0 && dte <= 2 && trade.NetVega != 0 {
		ratio := abs(trade.NetTheta) / (abs(trade.NetVega) / 1000)
		if ratio < m.rules.MinThetaVega {
			return fmt.Sprintf("theta/vega ratio %.2f below %.2f near expiry", ratio, m.rules.MinThetaVega), true
		}
	}

	// 7. Imminent veto event.
	if m.events != nil {
		if ev, found := calendar.VetoWithin(m.events(), m.rules.VetoWindow); found {
			return fmt.Sprintf("veto event %q in %.0fh", ev.Title, ev.HoursAway), true
		}
	}

	return "", false
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
