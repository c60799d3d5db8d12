// Package storage persists trades, analysis snapshots and risk state in
// SQLite. It is the only authority consulted on restart.
package storage

import (
	"time"

	"github.com/shritish20/Volguard/internal/models"
)

// OrderRecord is one broker order as placed and filled.
type OrderRecord struct {
	OrderID       string
	TradeID       string
	InstrumentKey string
	Side          models.Side
	Quantity      int
	Price         float64
	Status        string
	FilledQty     int
	AvgPrice      float64
	PlacedAt      time.Time
	FilledAt      time.Time
}

// AnalysisRecord is one persisted controller cycle.
type AnalysisRecord struct {
	ID                int64     `json:"id"`
	Timestamp         time.Time `json:"timestamp"`
	WeeklyMandate     []byte    `json:"weekly_mandate"`
	MonthlyMandate    []byte    `json:"monthly_mandate"`
	NextWeeklyMandate []byte    `json:"next_weekly_mandate"`
	VolMetrics        []byte    `json:"vol_metrics"`
	StructMetrics     []byte    `json:"struct_metrics"`
	EdgeMetrics       []byte    `json:"edge_metrics"`
	ExternalMetrics   []byte    `json:"external_metrics"`
	VetoEvents        []byte    `json:"veto_events"`
	RegimeName        string    `json:"regime_name"`
}

// RiskEvent is one entry in the risk journal.
type RiskEvent struct {
	Timestamp   time.Time
	EventType   string
	Severity    string
	Description string
	Metrics     []byte
	ActionTaken string
}

// DailyMetrics is the per-day aggregate row.
type DailyMetrics struct {
	Date            string
	TradesCount     int
	Winning         int
	Losing          int
	TotalPnL        float64
	Realized        float64
	Unrealized      float64
	CapitalDeployed float64
}

// Interface is the persistence contract. All implementations must be safe
// for concurrent use.
type Interface interface {
	// Trades
	SaveTrade(t *models.Trade) error
	UpdateTrade(t *models.Trade) error
	GetTrade(id string) (*models.Trade, error)
	ActiveTrades() ([]models.Trade, error)
	TradeHistory(status string, days int) ([]models.Trade, error)
	SetManualExit(id string) error
	DailyTradeCount(date string) (int, error)
	DailyRealizedPnL(date string) (float64, error)
	DeployedCapital() (float64, error)

	// Orders
	SaveOrder(o OrderRecord) error
	UpdateOrder(o OrderRecord) error

	// Analysis
	SaveAnalysis(rec *AnalysisRecord) error
	LatestAnalysis() (*AnalysisRecord, error)

	// System state (kv)
	GetState(key string) (string, error)
	SetState(key, value string) error

	// Risk journal and daily aggregates
	RecordRiskEvent(ev RiskEvent) error
	UpsertDailyMetrics(dm DailyMetrics) error

	Close() error
}
