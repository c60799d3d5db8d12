package marketdata

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// Authorizer mints an authorized websocket endpoint for the market-data feed.
type Authorizer interface {
	StreamAuthorizeURL(ctx context.Context) (string, error)
}

// Stream is the single writer task feeding the Cache. The subscription set
// is mutated atomically on position open/close; a change forces a
// re-subscribe on the live connection.
type Stream struct {
	auth   Authorizer
	cache  *Cache
	logger *logrus.Logger

	mu    sync.Mutex
	keys  map[string]bool
	dirty bool
}

// NewStream builds a stream reader for the given cache.
func NewStream(auth Authorizer, cache *Cache, logger *logrus.Logger) *Stream {
	return &Stream{
		auth:   auth,
		cache:  cache,
		logger: logger,
		keys:   make(map[string]bool),
	}
}

// Subscribe replaces the subscription set. Safe to call from any task.
func (s *Stream) Subscribe(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := make(map[string]bool, len(keys))
	for _, k := range keys {
		next[k] = true
	}
	if !sameKeys(s.keys, next) {
		s.keys = next
		s.dirty = true
	}
}

// Add extends the subscription set with more keys.
func (s *Stream) Add(keys []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range keys {
		if !s.keys[k] {
			s.keys[k] = true
			s.dirty = true
		}
	}
}

func sameKeys(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func (s *Stream) subscriptionList() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dirty = false
	keys := make([]string, 0, len(s.keys))
	for k := range s.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (s *Stream) needsResubscribe() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dirty
}

// Run keeps a feed connection alive until ctx is cancelled, reconnecting
// with backoff on any failure.
func (s *Stream) Run(ctx context.Context) {
	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.connectAndRead(ctx); err != nil && ctx.Err() == nil {
			s.logger.WithError(err).Warn("market-data stream disconnected, reconnecting")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

type feedUpdate struct {
	InstrumentKey string  `json:"instrument_key"`
	LTP           float64 `json:"ltp"`
	Bid           float64 `json:"bid"`
	Ask           float64 `json:"ask"`
	IV            float64 `json:"iv"`
	Delta         float64 `json:"delta"`
	Gamma         float64 `json:"gamma"`
	Theta         float64 `json:"theta"`
	Vega          float64 `json:"vega"`
	OI            float64 `json:"oi"`
}

func (s *Stream) connectAndRead(ctx context.Context) error {
	url, err := s.auth.StreamAuthorizeURL(ctx)
	if err != nil {
		return err
	}

	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, url, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close()
	s.logger.Info("market-data stream connected")

	if err := s.sendSubscription(conn); err != nil {
		return err
	}

	// Close the connection when ctx ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		if s.needsResubscribe() {
			if err := s.sendSubscription(conn); err != nil {
				return err
			}
		}
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		s.handleMessage(msg)
	}
}

func (s *Stream) sendSubscription(conn *websocket.Conn) error {
	keys := s.subscriptionList()
	if len(keys) == 0 {
		return nil
	}
	req := map[string]interface{}{
		"guid":   "volguard-feed",
		"method": "sub",
		"data": map[string]interface{}{
			"mode":           "option_greeks",
			"instrumentKeys": keys,
		},
	}
	s.logger.WithField("instruments", len(keys)).Debug("feed subscription sent")
	return conn.WriteJSON(req)
}

func (s *Stream) handleMessage(msg []byte) {
	// The feed batches updates; single objects also occur.
	var batch []feedUpdate
	if err := json.Unmarshal(msg, &batch); err != nil {
		var one feedUpdate
		if err := json.Unmarshal(msg, &one); err != nil || one.InstrumentKey == "" {
			return
		}
		batch = []feedUpdate{one}
	}
	now := time.Now()
	for _, u := range batch {
		if u.InstrumentKey == "" {
			continue
		}
		s.cache.Update(u.InstrumentKey, Quote{
			LTP: u.LTP, Bid: u.Bid, Ask: u.Ask,
			IV: u.IV, Delta: u.Delta, Gamma: u.Gamma, Theta: u.Theta, Vega: u.Vega,
			OI: u.OI, UpdatedAt: now,
		})
	}
}
