// Package marketdata holds live quotes and option Greeks fed by the
// streaming reader, with staleness tracking for every read.
package marketdata

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// StaleAfter is the age beyond which a cached quote must not be used for
// price-dependent decisions.
const StaleAfter = 60 * time.Second

// ErrStale is returned when the cached value is older than StaleAfter.
var ErrStale = errors.New("marketdata: quote is stale")

// ErrMiss is returned when no value has been cached for the key.
var ErrMiss = errors.New("marketdata: no quote cached")

// Quote is one cached market snapshot for an instrument.
type Quote struct {
	LTP       float64   `json:"ltp"`
	Bid       float64   `json:"bid"`
	Ask       float64   `json:"ask"`
	IV        float64   `json:"iv"`
	Delta     float64   `json:"delta"`
	Gamma     float64   `json:"gamma"`
	Theta     float64   `json:"theta"`
	Vega      float64   `json:"vega"`
	OI        float64   `json:"oi"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Cache is a multi-reader single-writer quote store. The streaming reader is
// the only writer; readers never block it.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]Quote
}

// NewCache returns an empty cache.
func NewCache() *Cache {
	return &Cache{entries: make(map[string]Quote)}
}

// Update stores a quote, stamping it if the writer did not.
func (c *Cache) Update(key string, q Quote) {
	if q.UpdatedAt.IsZero() {
		q.UpdatedAt = time.Now()
	}
	c.mu.Lock()
	c.entries[key] = q
	c.mu.Unlock()
}

// Get returns the cached quote and its age. ok is false on a miss.
func (c *Cache) Get(key string) (q Quote, age time.Duration, ok bool) {
	c.mu.RLock()
	q, ok = c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return Quote{}, 0, false
	}
	return q, time.Since(q.UpdatedAt), true
}

// Fresh returns the cached quote only if it is younger than StaleAfter.
// Callers making price-dependent decisions must use this, not Get.
func (c *Cache) Fresh(key string) (Quote, error) {
	q, age, ok := c.Get(key)
	if !ok {
		return Quote{}, fmt.Errorf("%w: %s", ErrMiss, key)
	}
	if age > StaleAfter {
		return Quote{}, fmt.Errorf("%w: %s is %s old", ErrStale, key, age.Round(time.Second))
	}
	return q, nil
}

// Snapshot copies the current cache contents.
func (c *Cache) Snapshot() map[string]Quote {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Quote, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Keys returns the currently cached instrument keys.
func (c *Cache) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	return keys
}
