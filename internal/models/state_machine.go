package models

import "fmt"

// StateTransition defines one valid trade status transition.
type StateTransition struct {
	From      TradeStatus
	To        TradeStatus
	Condition string
}

// ValidTransitions is the complete transition table. Statuses are monotone:
// no status is ever revisited.
var ValidTransitions = []StateTransition{
	{StatusPending, StatusOpen, "entry_filled"},
	{StatusPending, StatusFailed, "entry_failed"},
	{StatusOpen, StatusClosing, "exit_dispatched"},
	{StatusClosing, StatusClosed, "exit_filled"},
}

// CanTransition reports whether from→to with the given condition is defined.
func CanTransition(from, to TradeStatus, condition string) bool {
	for _, tr := range ValidTransitions {
		if tr.From != from || tr.To != to {
			continue
		}
		if tr.Condition == "" || tr.Condition == condition {
			return true
		}
	}
	return false
}

// Transition moves the trade to a new status, rejecting anything outside the
// transition table.
func (t *Trade) Transition(to TradeStatus, condition string) error {
	if !CanTransition(t.Status, to, condition) {
		return fmt.Errorf("invalid trade transition %s -> %s (condition %q)", t.Status, to, condition)
	}
	t.Status = to
	return nil
}

// ValidateState checks per-status invariants, used after loading a trade from
// the store.
func (t *Trade) ValidateState() error {
	switch t.Status {
	case StatusPending:
		if len(t.Legs) == 0 {
			return fmt.Errorf("trade %s: pending with no legs", t.ID)
		}
	case StatusOpen, StatusClosing:
		if len(t.Legs) == 0 {
			return fmt.Errorf("trade %s: %s with no legs", t.ID, t.Status)
		}
		for _, l := range t.Legs {
			if l.FilledQty <= 0 {
				return fmt.Errorf("trade %s: %s but leg %s has no fill", t.ID, t.Status, l.InstrumentKey)
			}
			if l.FilledQty > l.Quantity {
				return fmt.Errorf("trade %s: leg %s filled %d above requested %d",
					t.ID, l.InstrumentKey, l.FilledQty, l.Quantity)
			}
		}
	case StatusClosed:
		if t.ExitTime.IsZero() {
			return fmt.Errorf("trade %s: closed without exit time", t.ID)
		}
	case StatusFailed:
		// No invariant: a failed trade may carry partially filled legs that
		// were flattened.
	default:
		return fmt.Errorf("trade %s: unknown status %q", t.ID, t.Status)
	}
	return nil
}
