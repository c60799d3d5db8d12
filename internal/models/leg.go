// Package models provides the data structures shared across the trading pipeline.
package models

import (
	"fmt"
	"time"
)

// OptionType identifies the option contract kind.
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// Side is the order direction for a leg.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// LegRole distinguishes protective bought legs from sold premium legs.
// Hedge legs are placed first and carry a stricter fill threshold.
type LegRole string

const (
	RoleCore  LegRole = "core"
	RoleHedge LegRole = "hedge"
)

// Fill thresholds by role, as a fraction of requested quantity.
const (
	HedgeFillThreshold = 0.98
	CoreFillThreshold  = 0.95
)

// OptionLeg is one leg of a multi-leg strategy. Quantity is in contracts
// (lots × lot size). RefPrice is the premium observed at build time and is
// the basis for limit pricing and slippage accounting.
type OptionLeg struct {
	InstrumentKey string     `json:"instrument_key"`
	Type          OptionType `json:"option_type"`
	Strike        float64    `json:"strike"`
	Side          Side       `json:"side"`
	Quantity      int        `json:"quantity"`
	Role          LegRole    `json:"role"`
	RefPrice      float64    `json:"ref_price"`
	LotSize       int        `json:"lot_size"`
	Expiry        string     `json:"expiry"`

	// Fill results, populated by the executor.
	OrderID     string    `json:"order_id,omitempty"`
	FilledQty   int       `json:"filled_qty"`
	AvgPrice    float64   `json:"avg_price"`
	SlippagePct float64   `json:"slippage_pct"`
	FillTime    time.Time `json:"fill_time,omitempty"`
}

// FillThreshold returns the minimum acceptable fill ratio for this leg.
func (l *OptionLeg) FillThreshold() float64 {
	if l.Role == RoleHedge {
		return HedgeFillThreshold
	}
	return CoreFillThreshold
}

// Filled reports whether the leg holds any executed quantity.
func (l *OptionLeg) Filled() bool {
	return l.FilledQty > 0
}

// Reversed returns a leg that closes this leg's filled quantity:
// opposite side, same instrument, quantity = filled quantity.
func (l *OptionLeg) Reversed() OptionLeg {
	out := OptionLeg{
		InstrumentKey: l.InstrumentKey,
		Type:          l.Type,
		Strike:        l.Strike,
		Quantity:      l.FilledQty,
		Role:          l.Role,
		LotSize:       l.LotSize,
		Expiry:        l.Expiry,
	}
	if l.Side == SideBuy {
		out.Side = SideSell
	} else {
		out.Side = SideBuy
	}
	return out
}

// Validate checks structural invariants before the leg is handed to the broker.
func (l *OptionLeg) Validate() error {
	if l.InstrumentKey == "" {
		return fmt.Errorf("leg missing instrument key")
	}
	if l.Quantity <= 0 {
		return fmt.Errorf("leg %s: quantity must be positive, got %d", l.InstrumentKey, l.Quantity)
	}
	if l.LotSize <= 0 {
		return fmt.Errorf("leg %s: lot size must be positive, got %d", l.InstrumentKey, l.LotSize)
	}
	if l.Quantity%l.LotSize != 0 {
		return fmt.Errorf("leg %s: quantity %d is not a multiple of lot size %d",
			l.InstrumentKey, l.Quantity, l.LotSize)
	}
	if l.Side != SideBuy && l.Side != SideSell {
		return fmt.Errorf("leg %s: invalid side %q", l.InstrumentKey, l.Side)
	}
	if l.Type != OptionCall && l.Type != OptionPut {
		return fmt.Errorf("leg %s: invalid option type %q", l.InstrumentKey, l.Type)
	}
	return nil
}

// SplitByRole partitions legs into hedges and cores, preserving order.
func SplitByRole(legs []OptionLeg) (hedges, cores []OptionLeg) {
	for _, l := range legs {
		if l.Role == RoleHedge {
			hedges = append(hedges, l)
		} else {
			cores = append(cores, l)
		}
	}
	return hedges, cores
}
