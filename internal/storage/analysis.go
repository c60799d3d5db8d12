package storage

import (
	"database/sql"
	"fmt"
	"time"
)

// SaveAnalysis persists one controller cycle's mandates and metrics.
func (s *Store) SaveAnalysis(rec *AnalysisRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	res, err := s.sql.Exec(`
		INSERT INTO analysis_history (timestamp, weekly_mandate, monthly_mandate,
			next_weekly_mandate, vol_metrics, struct_metrics, edge_metrics,
			external_metrics, veto_events, regime_name)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.UTC().Format(timeLayout), string(rec.WeeklyMandate), string(rec.MonthlyMandate),
		string(rec.NextWeeklyMandate), string(rec.VolMetrics), string(rec.StructMetrics),
		string(rec.EdgeMetrics), string(rec.ExternalMetrics), string(rec.VetoEvents),
		rec.RegimeName)
	if err != nil {
		return fmt.Errorf("insert analysis: %w", err)
	}
	rec.ID, _ = res.LastInsertId()
	rec.Timestamp = ts
	return nil
}

// LatestAnalysis returns the most recent persisted analysis.
func (s *Store) LatestAnalysis() (*AnalysisRecord, error) {
	row := s.sql.QueryRow(`
		SELECT id, timestamp, weekly_mandate, monthly_mandate, next_weekly_mandate,
			vol_metrics, struct_metrics, edge_metrics, external_metrics,
			veto_events, regime_name
		FROM analysis_history ORDER BY id DESC LIMIT 1`)

	var rec AnalysisRecord
	var ts string
	var weekly, monthly, nextWeekly, vol, str, edge, ext, veto, regime sql.NullString
	err := row.Scan(&rec.ID, &ts, &weekly, &monthly, &nextWeekly, &vol, &str,
		&edge, &ext, &veto, &regime)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan analysis: %w", err)
	}
	rec.Timestamp, _ = time.Parse(timeLayout, ts)
	rec.WeeklyMandate = []byte(weekly.String)
	rec.MonthlyMandate = []byte(monthly.String)
	rec.NextWeeklyMandate = []byte(nextWeekly.String)
	rec.VolMetrics = []byte(vol.String)
	rec.StructMetrics = []byte(str.String)
	rec.EdgeMetrics = []byte(edge.String)
	rec.ExternalMetrics = []byte(ext.String)
	rec.VetoEvents = []byte(veto.String)
	rec.RegimeName = regime.String
	return &rec, nil
}
