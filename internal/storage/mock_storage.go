package storage

import (
	"sync"
	"time"

	"github.com/shritish20/Volguard/internal/models"
)

// MockStorage is an in-memory Interface implementation for tests.
type MockStorage struct {
	mu sync.Mutex

	Trades     map[string]*models.Trade
	Orders     map[string]OrderRecord
	State      map[string]string
	Analyses   []*AnalysisRecord
	RiskEvents []RiskEvent
	Daily      map[string]DailyMetrics

	// Optional error injection.
	SaveTradeErr error
	SetStateErr  error
}

var _ Interface = (*MockStorage)(nil)

// NewMockStorage returns an empty mock store.
func NewMockStorage() *MockStorage {
	return &MockStorage{
		Trades: make(map[string]*models.Trade),
		Orders: make(map[string]OrderRecord),
		State:  make(map[string]string),
		Daily:  make(map[string]DailyMetrics),
	}
}

func (m *MockStorage) SaveTrade(t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SaveTradeErr != nil {
		return m.SaveTradeErr
	}
	cp := *t
	m.Trades[t.ID] = &cp
	return nil
}

func (m *MockStorage) UpdateTrade(t *models.Trade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.Trades[t.ID]; !ok {
		return ErrNotFound
	}
	cp := *t
	m.Trades[t.ID] = &cp
	return nil
}

func (m *MockStorage) GetTrade(id string) (*models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Trades[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MockStorage) ActiveTrades() ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Trade
	for _, t := range m.Trades {
		if t.IsActive() {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *MockStorage) TradeHistory(status string, days int) ([]models.Trade, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Time{}
	if days > 0 {
		cutoff = time.Now().UTC().AddDate(0, 0, -days)
	}
	var out []models.Trade
	for _, t := range m.Trades {
		if status != "" && string(t.Status) != status {
			continue
		}
		if !cutoff.IsZero() && t.EntryTime.Before(cutoff) {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

func (m *MockStorage) SetManualExit(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Trades[id]
	if !ok {
		return ErrNotFound
	}
	t.ManualExit = true
	return nil
}

func (m *MockStorage) DailyTradeCount(date string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.Trades {
		if t.Status != models.StatusFailed && t.EntryTime.UTC().Format("2006-01-02") == date {
			n++
		}
	}
	return n, nil
}

func (m *MockStorage) DailyRealizedPnL(date string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var pnl float64
	for _, t := range m.Trades {
		if t.Status == models.StatusClosed && t.ExitTime.UTC().Format("2006-01-02") == date {
			pnl += t.RealizedPnL
		}
	}
	return pnl, nil
}

func (m *MockStorage) DeployedCapital() (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var v float64
	for _, t := range m.Trades {
		if t.IsActive() {
			v += t.Deployment
		}
	}
	return v, nil
}

func (m *MockStorage) SaveOrder(o OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders[o.OrderID] = o
	return nil
}

func (m *MockStorage) UpdateOrder(o OrderRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Orders[o.OrderID] = o
	return nil
}

func (m *MockStorage) SaveAnalysis(rec *AnalysisRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec.ID = int64(len(m.Analyses) + 1)
	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	m.Analyses = append(m.Analyses, rec)
	return nil
}

func (m *MockStorage) LatestAnalysis() (*AnalysisRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Analyses) == 0 {
		return nil, ErrNotFound
	}
	return m.Analyses[len(m.Analyses)-1], nil
}

func (m *MockStorage) GetState(key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.State[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *MockStorage) SetState(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.SetStateErr != nil {
		return m.SetStateErr
	}
	m.State[key] = value
	return nil
}

func (m *MockStorage) RecordRiskEvent(ev RiskEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RiskEvents = append(m.RiskEvents, ev)
	return nil
}

func (m *MockStorage) UpsertDailyMetrics(dm DailyMetrics) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Daily[dm.Date] = dm
	return nil
}

func (m *MockStorage) Close() error { return nil }
