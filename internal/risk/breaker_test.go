package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shritish20/Volguard/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		BaseCapital:      1_000_000,
		DailyLossPct:     0.03,
		MaxDrawdownPct:   0.15,
		MaxLossStreak:    3,
		MaxSlippageDaily: 5,
		Cooldown:         24 * time.Hour,
	}
}

func newTestBreaker(t *testing.T, cfg BreakerConfig, store storage.Interface) *CircuitBreaker {
	t.Helper()
	cb, err := NewCircuitBreaker(cfg, store, quietLogger(), time.UTC)
	require.NoError(t, err)
	return cb
}

func TestTripPersistsBeforeAcknowledgment(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)

	require.NoError(t, cb.Trip(ReasonDailyLoss, "daily loss -31000"))

	active, reason := cb.Active()
	assert.True(t, active)
	assert.Equal(t, ReasonDailyLoss, reason)

	assert.Equal(t, "1", store.State["circuit_breaker_active"])
	assert.Equal(t, ReasonDailyLoss, store.State["circuit_breaker_reason"])
	assert.NotEmpty(t, store.State["circuit_breaker_until"])

	require.Len(t, store.RiskEvents, 1)
	assert.Equal(t, "CIRCUIT_BREAKER_TRIP", store.RiskEvents[0].EventType)
	assert.Equal(t, "CRITICAL", store.RiskEvents[0].Severity)
}

func TestTripStateSurvivesRestart(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)
	require.NoError(t, cb.Trip(ReasonLossStreak, "3 losses"))

	restored := newTestBreaker(t, testBreakerConfig(), store)
	active, reason := restored.Active()
	assert.True(t, active)
	assert.Equal(t, ReasonLossStreak, reason)
}

func TestExpiredTripAutoResets(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.Cooldown = time.Millisecond
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, cfg, store)

	require.NoError(t, cb.Trip(ReasonSlippage, "5 events"))
	time.Sleep(5 * time.Millisecond)

	active, _ := cb.Active()
	assert.False(t, active)
	assert.Equal(t, "0", store.State["circuit_breaker_active"])
}

func TestManualReset(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)
	require.NoError(t, cb.Trip(ReasonDrawdown, "16%"))

	cb.Reset()
	active, _ := cb.Active()
	assert.False(t, active)
}

func TestKillSwitchFile(t *testing.T) {
	cfg := testBreakerConfig()
	cfg.KillSwitchFile = filepath.Join(t.TempDir(), "killswitch")
	cb := newTestBreaker(t, cfg, storage.NewMockStorage())

	active, _ := cb.Active()
	assert.False(t, active)

	require.NoError(t, os.WriteFile(cfg.KillSwitchFile, nil, 0o644))
	active, reason := cb.Active()
	assert.True(t, active)
	assert.Equal(t, ReasonKillSwitch, reason)

	require.NoError(t, os.Remove(cfg.KillSwitchFile))
	active, _ = cb.Active()
	assert.False(t, active, "removing the file restores trading with no reset call")
}

func TestLossStreakTrips(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)

	require.NoError(t, cb.RecordTradeResult(-1000))
	require.NoError(t, cb.RecordTradeResult(-500))
	active, _ := cb.Active()
	assert.False(t, active)

	require.NoError(t, cb.RecordTradeResult(-2000))
	active, reason := cb.Active()
	assert.True(t, active)
	assert.Equal(t, ReasonLossStreak, reason)
}

func TestWinClearsLossStreak(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)

	require.NoError(t, cb.RecordTradeResult(-1000))
	require.NoError(t, cb.RecordTradeResult(-500))
	require.NoError(t, cb.RecordTradeResult(2500))
	require.NoError(t, cb.RecordTradeResult(-100))
	require.NoError(t, cb.RecordTradeResult(-100))

	active, _ := cb.Active()
	assert.False(t, active)
	assert.Equal(t, "2", store.State["consecutive_losses"])
}

func TestLossStreakSurvivesRestart(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)
	require.NoError(t, cb.RecordTradeResult(-1000))
	require.NoError(t, cb.RecordTradeResult(-1000))

	restored := newTestBreaker(t, testBreakerConfig(), store)
	require.NoError(t, restored.RecordTradeResult(-1000))
	active, reason := restored.Active()
	assert.True(t, active)
	assert.Equal(t, ReasonLossStreak, reason)
}

func TestSlippageEventsTrip(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)

	for i := 0; i < 4; i++ {
		require.NoError(t, cb.RecordSlippageEvent("NSE_FO|1", 0.03))
	}
	active, _ := cb.Active()
	assert.False(t, active)

	require.NoError(t, cb.RecordSlippageEvent("NSE_FO|1", 0.04))
	active, reason := cb.Active()
	assert.True(t, active)
	assert.Equal(t, ReasonSlippage, reason)
}

func TestDailyLossBoundary(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)

	require.NoError(t, cb.CheckDailyLoss(-29_999))
	active, _ := cb.Active()
	assert.False(t, active)

	require.NoError(t, cb.CheckDailyLoss(-30_000))
	active, reason := cb.Active()
	assert.True(t, active)
	assert.Equal(t, ReasonDailyLoss, reason)
}

func TestPeakCapitalRatchet(t *testing.T) {
	store := storage.NewMockStorage()
	cb := newTestBreaker(t, testBreakerConfig(), store)

	dd, err := cb.UpdatePeakCapital(1_100_000)
	require.NoError(t, err)
	assert.Zero(t, dd)

	dd, err = cb.UpdatePeakCapital(990_000)
	require.NoError(t, err)
	assert.InDelta(t, 0.10, dd, 1e-9)

	// The peak never ratchets down.
	dd, err = cb.UpdatePeakCapital(1_000_000)
	require.NoError(t, err)
	assert.InDelta(t, 100_000.0/1_100_000.0, dd, 1e-9)
}
