package models

import (
	"fmt"
	"time"
)

// ExpiryType selects which expiry bucket a mandate or trade targets.
type ExpiryType string

const (
	ExpiryWeekly     ExpiryType = "weekly"
	ExpiryMonthly    ExpiryType = "monthly"
	ExpiryNextWeekly ExpiryType = "next_weekly"
)

// TradeStatus is the lifecycle state of a trade. Transitions are monotone;
// see StateMachine.
type TradeStatus string

const (
	StatusPending TradeStatus = "pending"
	StatusOpen    TradeStatus = "open"
	StatusClosing TradeStatus = "closing"
	StatusClosed  TradeStatus = "closed"
	StatusFailed  TradeStatus = "failed"
)

// Trade is one strategy instance. It exclusively owns its legs; exit legs are
// appended when the position is unwound.
type Trade struct {
	ID         string      `json:"trade_id"`
	Strategy   Structure   `json:"strategy"`
	ExpiryType ExpiryType  `json:"expiry_type"`
	ExpiryDate string      `json:"expiry_date"`
	Status     TradeStatus `json:"status"`
	EntryTime  time.Time   `json:"entry_time"`
	ExitTime   time.Time   `json:"exit_time,omitempty"`

	Legs     []OptionLeg `json:"legs"`
	ExitLegs []OptionLeg `json:"exit_legs,omitempty"`

	EntryCredit float64 `json:"entry_credit"`
	MaxLoss     float64 `json:"max_loss"`
	Deployment  float64 `json:"deployment_amount"`
	CurrentPnL  float64 `json:"current_pnl"`
	RealizedPnL float64 `json:"realized_pnl"`
	ExitReason  string  `json:"exit_reason,omitempty"`
	ManualExit  bool    `json:"manual_exit_flag"`

	NetDelta float64 `json:"net_delta"`
	NetTheta float64 `json:"net_theta"`
	NetGamma float64 `json:"net_gamma"`
	NetVega  float64 `json:"net_vega"`
}

// NetShortContracts returns Σ qty(Sell) − Σ qty(Buy) over entry legs.
func (t *Trade) NetShortContracts() int {
	n := 0
	for _, l := range t.Legs {
		if l.Side == SideSell {
			n += l.Quantity
		} else {
			n -= l.Quantity
		}
	}
	return n
}

// TotalContracts returns the gross contract count across entry legs.
func (t *Trade) TotalContracts() int {
	n := 0
	for _, l := range t.Legs {
		n += l.Quantity
	}
	return n
}

// IsActive reports whether the trade still holds market exposure.
func (t *Trade) IsActive() bool {
	return t.Status == StatusOpen || t.Status == StatusClosing
}

// DTE returns whole days until expiry, measured in the given location.
func (t *Trade) DTE(now time.Time, loc *time.Location) (int, error) {
	exp, err := time.ParseInLocation("2006-01-02", t.ExpiryDate, loc)
	if err != nil {
		return 0, fmt.Errorf("parse expiry %q: %w", t.ExpiryDate, err)
	}
	days := int(exp.Sub(now.In(loc).Truncate(24*time.Hour)).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return days, nil
}
