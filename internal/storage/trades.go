package storage

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/shritish20/Volguard/internal/models"
)

const timeLayout = time.RFC3339Nano

func fmtTime(t time.Time) interface{} {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeLayout, s.String)
	return t
}

// SaveTrade inserts a trade and its legs in one transaction.
func (s *Store) SaveTrade(t *models.Trade) error {
	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO trades (trade_id, strategy, expiry_type, expiry_date, status,
			entry_time, exit_time, entry_credit, current_pnl, realized_pnl, max_loss,
			deployment_amount, exit_reason, manual_exit_flag,
			net_delta, net_theta, net_gamma, net_vega)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, string(t.Strategy), string(t.ExpiryType), t.ExpiryDate, string(t.Status),
		fmtTime(t.EntryTime), fmtTime(t.ExitTime), t.EntryCredit, t.CurrentPnL,
		t.RealizedPnL, t.MaxLoss, t.Deployment, t.ExitReason, boolInt(t.ManualExit),
		t.NetDelta, t.NetTheta, t.NetGamma, t.NetVega)
	if err != nil {
		return fmt.Errorf("insert trade %s: %w", t.ID, err)
	}

	if err := insertLegs(tx, t.ID, t.Legs, false); err != nil {
		return err
	}
	if err := insertLegs(tx, t.ID, t.ExitLegs, true); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateTrade rewrites the trade row and its legs.
func (s *Store) UpdateTrade(t *models.Trade) error {
	tx, err := s.sql.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		UPDATE trades SET strategy=?, expiry_type=?, expiry_date=?, status=?,
			entry_time=?, exit_time=?, entry_credit=?, current_pnl=?, realized_pnl=?,
			max_loss=?, deployment_amount=?, exit_reason=?, manual_exit_flag=?,
			net_delta=?, net_theta=?, net_gamma=?, net_vega=?
		WHERE trade_id=?`,
		string(t.Strategy), string(t.ExpiryType), t.ExpiryDate, string(t.Status),
		fmtTime(t.EntryTime), fmtTime(t.ExitTime), t.EntryCredit, t.CurrentPnL,
		t.RealizedPnL, t.MaxLoss, t.Deployment, t.ExitReason, boolInt(t.ManualExit),
		t.NetDelta, t.NetTheta, t.NetGamma, t.NetVega, t.ID)
	if err != nil {
		return fmt.Errorf("update trade %s: %w", t.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	if _, err := tx.Exec("DELETE FROM trade_legs WHERE trade_id=?", t.ID); err != nil {
		return fmt.Errorf("clear legs for %s: %w", t.ID, err)
	}
	if err := insertLegs(tx, t.ID, t.Legs, false); err != nil {
		return err
	}
	if err := insertLegs(tx, t.ID, t.ExitLegs, true); err != nil {
		return err
	}
	return tx.Commit()
}

func insertLegs(tx *sql.Tx, tradeID string, legs []models.OptionLeg, isExit bool) error {
	for i, l := range legs {
		_, err := tx.Exec(`
			INSERT INTO trade_legs (leg_id, trade_id, order_id, instrument_key, side,
				option_type, strike, quantity, filled_qty, entry_price, expected_price,
				slippage_pct, fill_time, role, lot_size, expiry, is_exit, seq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			uuid.NewString(), tradeID, l.OrderID, l.InstrumentKey, string(l.Side),
			string(l.Type), l.Strike, l.Quantity, l.FilledQty, l.AvgPrice, l.RefPrice,
			l.SlippagePct, fmtTime(l.FillTime), string(l.Role), l.LotSize, l.Expiry,
			boolInt(isExit), i)
		if err != nil {
			return fmt.Errorf("insert leg %s/%s: %w", tradeID, l.InstrumentKey, err)
		}
	}
	return nil
}

// GetTrade loads a trade and its legs.
func (s *Store) GetTrade(id string) (*models.Trade, error) {
	row := s.sql.QueryRow(`
		SELECT trade_id, strategy, expiry_type, expiry_date, status, entry_time,
			exit_time, entry_credit, current_pnl, realized_pnl, max_loss,
			deployment_amount, exit_reason, manual_exit_flag,
			net_delta, net_theta, net_gamma, net_vega
		FROM trades WHERE trade_id=?`, id)
	t, err := scanTrade(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadLegs(t); err != nil {
		return nil, err
	}
	return t, nil
}

// ActiveTrades returns trades with status open or closing, legs loaded.
func (s *Store) ActiveTrades() ([]models.Trade, error) {
	return s.queryTrades(`
		SELECT trade_id, strategy, expiry_type, expiry_date, status, entry_time,
			exit_time, entry_credit, current_pnl, realized_pnl, max_loss,
			deployment_amount, exit_reason, manual_exit_flag,
			net_delta, net_theta, net_gamma, net_vega
		FROM trades WHERE status IN ('open','closing') ORDER BY entry_time`)
}

// TradeHistory returns trades filtered by status (empty = any) within the
// last N days (0 = all).
func (s *Store) TradeHistory(status string, days int) ([]models.Trade, error) {
	q := `
		SELECT trade_id, strategy, expiry_type, expiry_date, status, entry_time,
			exit_time, entry_credit, current_pnl, realized_pnl, max_loss,
			deployment_amount, exit_reason, manual_exit_flag,
			net_delta, net_theta, net_gamma, net_vega
		FROM trades WHERE 1=1`
	var args []interface{}
	if status != "" {
		q += " AND status=?"
		args = append(args, status)
	}
	if days > 0 {
		q += " AND entry_time >= ?"
		args = append(args, time.Now().UTC().AddDate(0, 0, -days).Format(timeLayout))
	}
	q += " ORDER BY entry_time DESC"
	return s.queryTrades(q, args...)
}

func (s *Store) queryTrades(q string, args ...interface{}) ([]models.Trade, error) {
	rows, err := s.sql.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var out []models.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range out {
		if err := s.loadLegs(&out[i]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(r rowScanner) (*models.Trade, error) {
	var t models.Trade
	var strategy, expiryType, status string
	var entryTime, exitTime, exitReason sql.NullString
	var manual int
	err := r.Scan(&t.ID, &strategy, &expiryType, &t.ExpiryDate, &status, &entryTime,
		&exitTime, &t.EntryCredit, &t.CurrentPnL, &t.RealizedPnL, &t.MaxLoss,
		&t.Deployment, &exitReason, &manual,
		&t.NetDelta, &t.NetTheta, &t.NetGamma, &t.NetVega)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan trade: %w", err)
	}
	t.Strategy = models.Structure(strategy)
	t.ExpiryType = models.ExpiryType(expiryType)
	t.Status = models.TradeStatus(status)
	t.EntryTime = parseTime(entryTime)
	t.ExitTime = parseTime(exitTime)
	t.ExitReason = exitReason.String
	t.ManualExit = manual != 0
	return &t, nil
}

func (s *Store) loadLegs(t *models.Trade) error {
	rows, err := s.sql.Query(`
		SELECT order_id, instrument_key, side, option_type, strike, quantity,
			filled_qty, entry_price, expected_price, slippage_pct, fill_time,
			role, lot_size, expiry, is_exit
		FROM trade_legs WHERE trade_id=? ORDER BY is_exit, seq`, t.ID)
	if err != nil {
		return fmt.Errorf("query legs for %s: %w", t.ID, err)
	}
	defer rows.Close()

	t.Legs = nil
	t.ExitLegs = nil
	for rows.Next() {
		var l models.OptionLeg
		var side, otype, role string
		var orderID sql.NullString
		var fillTime sql.NullString
		var isExit int
		err := rows.Scan(&orderID, &l.InstrumentKey, &side, &otype, &l.Strike,
			&l.Quantity, &l.FilledQty, &l.AvgPrice, &l.RefPrice, &l.SlippagePct,
			&fillTime, &role, &l.LotSize, &l.Expiry, &isExit)
		if err != nil {
			return fmt.Errorf("scan leg: %w", err)
		}
		l.OrderID = orderID.String
		l.Side = models.Side(side)
		l.Type = models.OptionType(otype)
		l.Role = models.LegRole(role)
		l.FillTime = parseTime(fillTime)
		if isExit != 0 {
			t.ExitLegs = append(t.ExitLegs, l)
		} else {
			t.Legs = append(t.Legs, l)
		}
	}
	return rows.Err()
}

// SetManualExit flags a trade for manual exit at the next monitor cycle.
func (s *Store) SetManualExit(id string) error {
	res, err := s.sql.Exec("UPDATE trades SET manual_exit_flag=1 WHERE trade_id=?", id)
	if err != nil {
		return fmt.Errorf("set manual exit %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DailyTradeCount counts trades entered on the given UTC date (YYYY-MM-DD).
func (s *Store) DailyTradeCount(date string) (int, error) {
	var n int
	err := s.sql.QueryRow(
		"SELECT COUNT(*) FROM trades WHERE substr(entry_time,1,10)=? AND status != 'failed'",
		date).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("daily trade count: %w", err)
	}
	return n, nil
}

// DailyRealizedPnL sums realized P&L of trades closed on the given date.
func (s *Store) DailyRealizedPnL(date string) (float64, error) {
	var pnl sql.NullFloat64
	err := s.sql.QueryRow(
		"SELECT SUM(realized_pnl) FROM trades WHERE substr(exit_time,1,10)=? AND status='closed'",
		date).Scan(&pnl)
	if err != nil {
		return 0, fmt.Errorf("daily realized pnl: %w", err)
	}
	return pnl.Float64, nil
}

// DeployedCapital sums deployment across active trades.
func (s *Store) DeployedCapital() (float64, error) {
	var v sql.NullFloat64
	err := s.sql.QueryRow(
		"SELECT SUM(deployment_amount) FROM trades WHERE status IN ('open','closing')").Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("deployed capital: %w", err)
	}
	return v.Float64, nil
}

// SaveOrder inserts an order record.
func (s *Store) SaveOrder(o OrderRecord) error {
	_, err := s.sql.Exec(`
		INSERT INTO orders (order_id, trade_id, instrument_key, side, quantity,
			price, status, filled_quantity, average_price, placed_at, filled_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.OrderID, o.TradeID, o.InstrumentKey, string(o.Side), o.Quantity,
		o.Price, o.Status, o.FilledQty, o.AvgPrice, fmtTime(o.PlacedAt), fmtTime(o.FilledAt))
	if err != nil {
		return fmt.Errorf("insert order %s: %w", o.OrderID, err)
	}
	return nil
}

// UpdateOrder updates the mutable fields of an order record.
func (s *Store) UpdateOrder(o OrderRecord) error {
	_, err := s.sql.Exec(`
		UPDATE orders SET status=?, filled_quantity=?, average_price=?, filled_at=?
		WHERE order_id=?`,
		o.Status, o.FilledQty, o.AvgPrice, fmtTime(o.FilledAt), o.OrderID)
	if err != nil {
		return fmt.Errorf("update order %s: %w", o.OrderID, err)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
