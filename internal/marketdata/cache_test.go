package marketdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCacheMiss(t *testing.T) {
	c := NewCache()

	_, _, ok := c.Get("NSE_INDEX|Nifty 50")
	assert.False(t, ok)

	_, err := c.Fresh("NSE_INDEX|Nifty 50")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestCacheFresh(t *testing.T) {
	c := NewCache()
	c.Update("NSE_FO|1", Quote{LTP: 98.4, Delta: -0.21})

	q, err := c.Fresh("NSE_FO|1")
	require.NoError(t, err)
	assert.Equal(t, 98.4, q.LTP)
	assert.Equal(t, -0.21, q.Delta)
}

func TestCacheStale(t *testing.T) {
	c := NewCache()
	c.Update("NSE_FO|1", Quote{LTP: 98.4, UpdatedAt: time.Now().Add(-2 * StaleAfter)})

	_, err := c.Fresh("NSE_FO|1")
	assert.ErrorIs(t, err, ErrStale)

	// Get still serves the stale value with its age.
	q, age, ok := c.Get("NSE_FO|1")
	require.True(t, ok)
	assert.Equal(t, 98.4, q.LTP)
	assert.Greater(t, age, StaleAfter)
}

func TestCacheUpdateStampsTime(t *testing.T) {
	c := NewCache()
	c.Update("k", Quote{LTP: 1})
	q, _, ok := c.Get("k")
	require.True(t, ok)
	assert.WithinDuration(t, time.Now(), q.UpdatedAt, time.Second)
}

func TestCacheSnapshotIsCopy(t *testing.T) {
	c := NewCache()
	c.Update("a", Quote{LTP: 1})
	snap := c.Snapshot()
	snap["a"] = Quote{LTP: 999}

	q, err := c.Fresh("a")
	require.NoError(t, err)
	assert.Equal(t, 1.0, q.LTP)
}
