// Package risk gates entries and halts trading when loss bounds are
// breached. The circuit breaker is durable: every trip and counter change is
// persisted before it is acknowledged, so a crash never loses risk memory.
package risk

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/shritish20/Volguard/internal/storage"
	"github.com/sirupsen/logrus"
)

// Trip reasons.
const (
	ReasonDailyLoss       = "DAILY_LOSS_LIMIT"
	ReasonDrawdown        = "MAX_DRAWDOWN"
	ReasonLossStreak      = "CONSECUTIVE_LOSSES"
	ReasonSlippage        = "SLIPPAGE_EVENTS"
	ReasonKillSwitch      = "KILL_SWITCH"
	ReasonAnalysisFailure = "ANALYSIS_FAILURE"
)

// Persistent state keys.
const (
	keyBreakerActive     = "circuit_breaker_active"
	keyBreakerReason     = "circuit_breaker_reason"
	keyBreakerUntil      = "circuit_breaker_until"
	keyConsecutiveLosses = "consecutive_losses"
	keyPeakCapital       = "peak_capital"
	keySlippagePrefix    = "slippage_events_" // + yyyy-mm-dd
)

// BreakerConfig carries the trip thresholds.
type BreakerConfig struct {
	BaseCapital      float64
	DailyLossPct     float64
	MaxDrawdownPct   float64
	MaxLossStreak    int
	MaxSlippageDaily int
	Cooldown         time.Duration
	KillSwitchFile   string
}

// CircuitBreaker is the persistent trading halt.
type CircuitBreaker struct {
	cfg    BreakerConfig
	store  storage.Interface
	logger *logrus.Logger
	loc    *time.Location

	mu     sync.Mutex
	active bool
	reason string
	until  time.Time
	losses int
}

// NewCircuitBreaker restores breaker state from storage.
func NewCircuitBreaker(cfg BreakerConfig, store storage.Interface, logger *logrus.Logger, loc *time.Location) (*CircuitBreaker, error) {
	cb := &CircuitBreaker{cfg: cfg, store: store, logger: logger, loc: loc}
	if err := cb.restore(); err != nil {
		return nil, fmt.Errorf("restore circuit breaker: %w", err)
	}
	return cb, nil
}

func (cb *CircuitBreaker) restore() error {
	if v, err := cb.store.GetState(keyBreakerActive); err == nil && v == "1" {
		cb.active = true
	}
	cb.reason, _ = cb.store.GetState(keyBreakerReason)
	if v, err := cb.store.GetState(keyBreakerUntil); err == nil && v != "" {
		if t, perr := time.Parse(time.RFC3339, v); perr == nil {
			cb.until = t
		}
	}
	if v, err := cb.store.GetState(keyConsecutiveLosses); err == nil && v != "" {
		cb.losses, _ = strconv.Atoi(v)
	}
	if cb.active {
		cb.logger.WithFields(logrus.Fields{
			"reason": cb.reason,
			"until":  cb.until,
		}).Warn("circuit breaker restored in tripped state")
	}
	return nil
}

// Active reports whether entries are currently blocked. The kill-switch file
// is checked live; an expired trip auto-resets.
func (cb *CircuitBreaker) Active() (bool, string) {
	if cb.killSwitchPresent() {
		return true, ReasonKillSwitch
	}

	cb.mu.Lock()
	defer cb.mu.Unlock()
	if !cb.active {
		return false, ""
	}
	if !cb.until.IsZero() && time.Now().After(cb.until) {
		cb.resetLocked()
		return false, ""
	}
	return true, cb.reason
}

// Trip halts entries for the cooldown period. State is persisted before the
// call returns.
func (cb *CircuitBreaker) Trip(reason, detail string) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.active {
		return nil
	}

	until := time.Now().Add(cb.cfg.Cooldown)
	if err := cb.store.SetState(keyBreakerActive, "1"); err != nil {
		return fmt.Errorf("persist breaker trip: %w", err)
	}
	if err := cb.store.SetState(keyBreakerReason, reason); err != nil {
		return fmt.Errorf("persist breaker reason: %w", err)
	}
	if err := cb.store.SetState(keyBreakerUntil, until.Format(time.RFC3339)); err != nil {
		return fmt.Errorf("persist breaker until: %w", err)
	}

	cb.active = true
	cb.reason = reason
	cb.until = until

	detailJSON, _ := json.Marshal(map[string]string{"detail": detail})
	if err := cb.store.RecordRiskEvent(storage.RiskEvent{
		Timestamp:   time.Now(),
		EventType:   "CIRCUIT_BREAKER_TRIP",
		Severity:    "CRITICAL",
		Description: fmt.Sprintf("circuit breaker tripped: %s", reason),
		Metrics:     detailJSON,
		ActionTaken: "all entries blocked",
	}); err != nil {
		cb.logger.WithError(err).Error("record breaker trip event failed")
	}

	cb.logger.WithFields(logrus.Fields{
		"reason": reason,
		"detail": detail,
		"until":  until,
	}).Error("circuit breaker tripped")
	return nil
}

// Reset clears the trip manually.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.resetLocked()
}

func (cb *CircuitBreaker) resetLocked() {
	cb.active = false
	cb.reason = ""
	cb.until = time.Time{}
	if err := cb.store.SetState(keyBreakerActive, "0"); err != nil {
		cb.logger.WithError(err).Error("persist breaker reset failed")
	}
	_ = cb.store.SetState(keyBreakerReason, "")
	_ = cb.store.SetState(keyBreakerUntil, "")
	cb.logger.Info("circuit breaker reset")
}

// RecordTradeResult updates the loss streak and trips on the configured
// streak. A winning trade clears the streak.
func (cb *CircuitBreaker) RecordTradeResult(realizedPnL float64) error {
	cb.mu.Lock()
	if realizedPnL >= 0 {
		cb.losses = 0
	} else {
		cb.losses++
	}
	losses := cb.losses
	cb.mu.Unlock()

	if err := cb.store.SetState(keyConsecutiveLosses, strconv.Itoa(losses)); err != nil {
		return fmt.Errorf("persist loss streak: %w", err)
	}
	if losses >= cb.cfg.MaxLossStreak {
		return cb.Trip(ReasonLossStreak, fmt.Sprintf("%d consecutive losing trades", losses))
	}
	return nil
}

// RecordSlippageEvent counts one bad fill for the day and trips past the
// daily threshold.
func (cb *CircuitBreaker) RecordSlippageEvent(instrument string, slippagePct float64) error {
	key := keySlippagePrefix + time.Now().In(cb.loc).Format("2006-01-02")
	count := 0
	if v, err := cb.store.GetState(key); err == nil && v != "" {
		count, _ = strconv.Atoi(v)
	}
	count++
	if err := cb.store.SetState(key, strconv.Itoa(count)); err != nil {
		return fmt.Errorf("persist slippage count: %w", err)
	}

	cb.logger.WithFields(logrus.Fields{
		"instrument":   instrument,
		"slippage_pct": slippagePct,
		"count_today":  count,
	}).Warn("slippage event recorded")

	if count >= cb.cfg.MaxSlippageDaily {
		return cb.Trip(ReasonSlippage, fmt.Sprintf("%d slippage events today", count))
	}
	return nil
}

// CheckDailyLoss trips when the day's realized loss breaches the limit.
func (cb *CircuitBreaker) CheckDailyLoss(realizedToday float64) error {
	limit := cb.cfg.BaseCapital * cb.cfg.DailyLossPct
	if realizedToday <= -limit {
		return cb.Trip(ReasonDailyLoss, fmt.Sprintf("daily loss %.0f breaches limit %.0f", realizedToday, limit))
	}
	return nil
}

// UpdatePeakCapital ratchets the persisted peak and returns the drawdown
// fraction against it.
func (cb *CircuitBreaker) UpdatePeakCapital(current float64) (float64, error) {
	peak := cb.cfg.BaseCapital
	if v, err := cb.store.GetState(keyPeakCapital); err == nil && v != "" {
		if p, perr := strconv.ParseFloat(v, 64); perr == nil && p > 0 {
			peak = p
		}
	}
	if current > peak {
		peak = current
		if err := cb.store.SetState(keyPeakCapital, strconv.FormatFloat(peak, 'f', 2, 64)); err != nil {
			return 0, fmt.Errorf("persist peak capital: %w", err)
		}
	}
	if peak <= 0 {
		return 0, nil
	}
	return (peak - current) / peak, nil
}

func (cb *CircuitBreaker) killSwitchPresent() bool {
	if cb.cfg.KillSwitchFile == "" {
		return false
	}
	_, err := os.Stat(cb.cfg.KillSwitchFile)
	return err == nil
}
