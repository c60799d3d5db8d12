package risk

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/calendar"
	"github.com/shritish20/Volguard/internal/marketdata"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/sirupsen/logrus"
)

// Limits carries the entry-gate thresholds.
type Limits struct {
	BaseCapital        float64
	MaxAllocationPct   float64
	MarginUtilCap      float64
	MaxContracts       int
	MaxTradesPerDay    int
	MaxDrawdownPct     float64
	MaxCapitalPerTrade float64
	VetoWindow         time.Duration
}

// Verdict is the outcome of a full gate run. Approved is true only when no
// check failed; Violations always lists every failed check.
type Verdict struct {
	Approved   bool     `json:"approved"`
	Violations []string `json:"violations"`
	Margin     float64  `json:"required_margin"`
	Funds      float64  `json:"available_funds"`
	Drawdown   float64  `json:"drawdown_pct"`
}

// Manager runs the ordered entry checks. Every check runs even after a
// failure so the caller sees the complete violation list.
type Manager struct {
	limits  Limits
	breaker *CircuitBreaker
	store   storage.Interface
	broker  broker.Broker
	cache   *marketdata.Cache
	session *calendar.Session
	spotKey string
	loc     *time.Location
	logger  *logrus.Logger
}

func NewManager(limits Limits, cb *CircuitBreaker, store storage.Interface, b broker.Broker, cache *marketdata.Cache, session *calendar.Session, spotKey string, loc *time.Location, logger *logrus.Logger) *Manager {
	return &Manager{
		limits:  limits,
		breaker: cb,
		store:   store,
		broker:  b,
		cache:   cache,
		session: session,
		spotKey: spotKey,
		loc:     loc,
		logger:  logger,
	}
}

// Breaker exposes the circuit breaker for the executor and controller.
func (m *Manager) Breaker() *CircuitBreaker { return m.breaker }

// ValidateEntry runs all entry checks against the proposed legs and
// deployment. events is the latest calendar snapshot; currentCapital is base
// capital plus realized P&L to date.
func (m *Manager) ValidateEntry(ctx context.Context, legs []models.OptionLeg, deployment, currentCapital float64, events []calendar.Event) Verdict {
	v := Verdict{}
	fail := func(format string, args ...any) {
		v.Violations = append(v.Violations, fmt.Sprintf(format, args...))
	}

	// 1. Circuit breaker.
	if active, reason := m.breaker.Active(); active {
		fail("circuit breaker active: %s", reason)
	}

	// 2. Capital allocation across open trades.
	deployed, err := m.store.DeployedCapital()
	if err != nil {
		fail("deployed capital unavailable: %v", err)
	} else if limit := m.limits.BaseCapital * m.limits.MaxAllocationPct; deployed+deployment > limit {
		fail("allocation %.0f + %.0f exceeds %.0f%% of base capital (%.0f)",
			deployed, deployment, m.limits.MaxAllocationPct*100, limit)
	}

	// 3. Margin headroom.
	margin, merr := m.broker.RequiredMargin(ctx, legs)
	funds, ferr := m.broker.AvailableFunds(ctx)
	v.Margin, v.Funds = margin, funds
	switch {
	case merr != nil:
		fail("required margin unavailable: %v", merr)
	case ferr != nil:
		fail("available funds unavailable: %v", ferr)
	case math.IsInf(margin, 1):
		fail("margin query failed, refusing entry")
	case margin > funds*m.limits.MarginUtilCap:
		fail("margin %.0f exceeds %.0f%% of available funds %.0f", margin, m.limits.MarginUtilCap*100, funds)
	}

	// 4. Instrument concentration.
	contracts := 0
	for _, l := range legs {
		contracts += l.Quantity
	}
	if open, err := m.store.ActiveTrades(); err == nil {
		for _, t := range open {
			contracts += t.TotalContracts()
		}
	}
	if contracts > m.limits.MaxContracts {
		fail("total contracts %d exceeds instrument limit %d", contracts, m.limits.MaxContracts)
	}

	// 5. Daily trade count.
	today := time.Now().In(m.loc).Format("2006-01-02")
	if count, err := m.store.DailyTradeCount(today); err != nil {
		fail("daily trade count unavailable: %v", err)
	} else if count >= m.limits.MaxTradesPerDay {
		fail("daily trade limit reached (%d/%d)", count, m.limits.MaxTradesPerDay)
	}

	// 6. Drawdown against peak capital. Breaching it also trips the breaker.
	dd, err := m.breaker.UpdatePeakCapital(currentCapital)
	if err != nil {
		fail("drawdown check unavailable: %v", err)
	} else {
		v.Drawdown = dd
		if dd > m.limits.MaxDrawdownPct {
			fail("drawdown %.1f%% exceeds limit %.1f%%", dd*100, m.limits.MaxDrawdownPct*100)
			if terr := m.breaker.Trip(ReasonDrawdown, fmt.Sprintf("drawdown %.1f%%", dd*100)); terr != nil {
				m.logger.WithError(terr).Error("drawdown breaker trip failed")
			}
		}
	}

	// 7. Market open with a fresh spot.
	if !m.session.IsOpen(time.Now()) {
		fail("market is closed")
	}
	if _, err := m.cache.Fresh(m.spotKey); err != nil {
		fail("spot price unusable: %v", err)
	}

	// 8. No veto event inside the window.
	if ev, found := calendar.VetoWithin(events, m.limits.VetoWindow); found {
		fail("veto event %q in %.0fh", ev.Title, ev.HoursAway)
	}

	// 9. Per-trade deployment cap.
	if deployment > m.limits.MaxCapitalPerTrade {
		fail("deployment %.0f exceeds per-trade cap %.0f", deployment, m.limits.MaxCapitalPerTrade)
	}

	v.Approved = len(v.Violations) == 0
	if !v.Approved {
		m.logger.WithField("violations", v.Violations).Warn("entry rejected by risk gate")
	}
	return v
}
