package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// GetState reads one system_state key. Returns ErrNotFound when unset.
func (s *Store) GetState(key string) (string, error) {
	var v string
	err := s.sql.QueryRow("SELECT value FROM system_state WHERE key=?", key).Scan(&v)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("get state %s: %w", key, err)
	}
	return v, nil
}

// SetState upserts one system_state key. The write is committed before the
// call returns.
func (s *Store) SetState(key, value string) error {
	_, err := s.sql.Exec(`
		INSERT INTO system_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("set state %s: %w", key, err)
	}
	return nil
}

// RecordRiskEvent appends one entry to the risk journal.
func (s *Store) RecordRiskEvent(ev RiskEvent) error {
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := s.sql.Exec(`
		INSERT INTO risk_events (timestamp, event_type, severity, description, metrics, action_taken)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(timeLayout), ev.EventType, ev.Severity, ev.Description,
		string(ev.Metrics), ev.ActionTaken)
	if err != nil {
		return fmt.Errorf("record risk event: %w", err)
	}
	return nil
}

// UpsertDailyMetrics writes the per-day aggregate row.
func (s *Store) UpsertDailyMetrics(dm DailyMetrics) error {
	_, err := s.sql.Exec(`
		INSERT INTO daily_metrics (date, trades_count, winning, losing, total_pnl,
			realized, unrealized, capital_deployed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			trades_count=excluded.trades_count, winning=excluded.winning,
			losing=excluded.losing, total_pnl=excluded.total_pnl,
			realized=excluded.realized, unrealized=excluded.unrealized,
			capital_deployed=excluded.capital_deployed`,
		dm.Date, dm.TradesCount, dm.Winning, dm.Losing, dm.TotalPnL,
		dm.Realized, dm.Unrealized, dm.CapitalDeployed)
	if err != nil {
		return fmt.Errorf("upsert daily metrics %s: %w", dm.Date, err)
	}
	return nil
}
