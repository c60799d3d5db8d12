package storage

import (
	"database/sql"
	"fmt"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// Store is the SQLite-backed implementation of Interface. A single *sql.DB
// serializes writers; WAL journaling keeps readers off the writer's back.
type Store struct {
	sql    *sql.DB
	logger *logrus.Logger
}

var _ Interface = (*Store)(nil)

// Open opens (or creates) the database at path and runs migrations.
func Open(path string, logger *logrus.Logger) (*Store, error) {
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping db: %w", err)
	}
	s := &Store{sql: sqlDB, logger: logger}
	if err := s.migrate(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("migrate db: %w", err)
	}
	logger.WithField("path", path).Info("database opened")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.sql.Close()
}

func (s *Store) migrate() error {
	version := 0
	s.sql.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)

	if version < 1 {
		_, err := s.sql.Exec(`
			CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY);

			CREATE TABLE IF NOT EXISTS trades (
				trade_id          TEXT PRIMARY KEY,
				strategy          TEXT NOT NULL,
				expiry_type       TEXT NOT NULL,
				expiry_date       TEXT NOT NULL,
				status            TEXT NOT NULL,
				entry_time        TEXT NOT NULL,
				exit_time         TEXT,
				entry_credit      REAL NOT NULL DEFAULT 0,
				current_pnl       REAL NOT NULL DEFAULT 0,
				realized_pnl      REAL NOT NULL DEFAULT 0,
				max_loss          REAL NOT NULL DEFAULT 0,
				deployment_amount REAL NOT NULL DEFAULT 0,
				exit_reason       TEXT,
				manual_exit_flag  INTEGER NOT NULL DEFAULT 0,
				net_delta         REAL NOT NULL DEFAULT 0,
				net_theta         REAL NOT NULL DEFAULT 0,
				net_gamma         REAL NOT NULL DEFAULT 0,
				net_vega          REAL NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_trades_status ON trades(status);
			CREATE INDEX IF NOT EXISTS idx_trades_entry ON trades(entry_time);

			CREATE TABLE IF NOT EXISTS trade_legs (
				leg_id         TEXT PRIMARY KEY,
				trade_id       TEXT NOT NULL REFERENCES trades(trade_id),
				order_id       TEXT,
				instrument_key TEXT NOT NULL,
				side           TEXT NOT NULL,
				option_type    TEXT NOT NULL,
				strike         REAL NOT NULL,
				quantity       INTEGER NOT NULL,
				filled_qty     INTEGER NOT NULL DEFAULT 0,
				entry_price    REAL NOT NULL DEFAULT 0,
				expected_price REAL NOT NULL DEFAULT 0,
				slippage_pct   REAL NOT NULL DEFAULT 0,
				fill_time      TEXT,
				role           TEXT NOT NULL,
				lot_size       INTEGER NOT NULL,
				expiry         TEXT NOT NULL,
				is_exit        INTEGER NOT NULL DEFAULT 0,
				seq            INTEGER NOT NULL DEFAULT 0
			);
			CREATE INDEX IF NOT EXISTS idx_legs_trade ON trade_legs(trade_id);

			CREATE TABLE IF NOT EXISTS orders (
				order_id         TEXT PRIMARY KEY,
				trade_id         TEXT,
				instrument_key   TEXT NOT NULL,
				side             TEXT NOT NULL,
				quantity         INTEGER NOT NULL,
				price            REAL NOT NULL DEFAULT 0,
				status           TEXT NOT NULL,
				filled_quantity  INTEGER NOT NULL DEFAULT 0,
				average_price    REAL NOT NULL DEFAULT 0,
				placed_at        TEXT NOT NULL,
				filled_at        TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_orders_trade ON orders(trade_id);

			CREATE TABLE IF NOT EXISTS analysis_history (
				id                  INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp           TEXT NOT NULL,
				weekly_mandate      TEXT,
				monthly_mandate     TEXT,
				next_weekly_mandate TEXT,
				vol_metrics         TEXT,
				struct_metrics      TEXT,
				edge_metrics        TEXT,
				external_metrics    TEXT,
				veto_events         TEXT,
				regime_name         TEXT
			);
			CREATE INDEX IF NOT EXISTS idx_analysis_ts ON analysis_history(timestamp);

			CREATE TABLE IF NOT EXISTS system_state (
				key        TEXT PRIMARY KEY,
				value      TEXT NOT NULL,
				updated_at TEXT NOT NULL
			);

			CREATE TABLE IF NOT EXISTS risk_events (
				event_id     INTEGER PRIMARY KEY AUTOINCREMENT,
				timestamp    TEXT NOT NULL,
				event_type   TEXT NOT NULL,
				severity     TEXT NOT NULL,
				description  TEXT,
				metrics      TEXT,
				action_taken TEXT
			);

			CREATE TABLE IF NOT EXISTS daily_metrics (
				date             TEXT PRIMARY KEY,
				trades_count     INTEGER NOT NULL DEFAULT 0,
				winning          INTEGER NOT NULL DEFAULT 0,
				losing           INTEGER NOT NULL DEFAULT 0,
				total_pnl        REAL NOT NULL DEFAULT 0,
				realized         REAL NOT NULL DEFAULT 0,
				unrealized       REAL NOT NULL DEFAULT 0,
				capital_deployed REAL NOT NULL DEFAULT 0
			);

			INSERT OR IGNORE INTO schema_version (version) VALUES (1);
		`)
		if err != nil {
			return fmt.Errorf("migration v1: %w", err)
		}
		s.logger.Info("applied schema migration v1")
	}

	return nil
}
