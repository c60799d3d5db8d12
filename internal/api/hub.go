package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 16
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans live updates out to websocket clients.
type Hub struct {
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	clients    map[*client]bool
	logger     *logrus.Logger
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logrus.Logger) *Hub {
	return &Hub{
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan []byte, 8),
		clients:    make(map[*client]bool),
		logger:     logger,
	}
}

// Run owns the client set until the context ends.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			return
		case c := <-h.register:
			h.clients[c] = true
			h.logger.WithField("clients", len(h.clients)).Debug("ws client connected")
		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer: drop it rather than stall the hub.
					delete(h.clients, c)
					close(c.send)
				}
			}
		}
	}
}

// Broadcast queues a payload for all clients, dropping it when the hub is
// saturated.
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
	}
}

// ServeWS upgrades the request and attaches the client to the hub.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("ws upgrade failed")
		return
	}
	c := &client{hub: h, conn: conn, send: make(chan []byte, clientBuffer)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// liveUpdate is the broadcast payload shape.
type liveUpdate struct {
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Portfolio portfolioStats `json:"portfolio"`
	Positions []models.Trade `json:"positions"`
}

type portfolioStats struct {
	TotalPnL        float64 `json:"total_pnl"`
	NetDelta        float64 `json:"net_delta"`
	NetTheta        float64 `json:"net_theta"`
	NetGamma        float64 `json:"net_gamma"`
	NetVega         float64 `json:"net_vega"`
	OpenTradesCount int     `json:"open_trades_count"`
}

// Broadcaster pushes the portfolio snapshot at a fixed cadence. Cycles that
// cannot read state are skipped rather than sending stale data.
type Broadcaster struct {
	hub      *Hub
	store    storage.Interface
	interval time.Duration
	logger   *logrus.Logger
}

func NewBroadcaster(hub *Hub, store storage.Interface, interval time.Duration, logger *logrus.Logger) *Broadcaster {
	return &Broadcaster{hub: hub, store: store, interval: interval, logger: logger}
}

func (b *Broadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.push()
		}
	}
}

func (b *Broadcaster) push() {
	trades, err := b.store.ActiveTrades()
	if err != nil {
		b.logger.WithError(err).Debug("broadcast skipped")
		return
	}

	var stats portfolioStats
	for _, t := range trades {
		stats.TotalPnL += t.CurrentPnL
		stats.NetDelta += t.NetDelta
		stats.NetTheta += t.NetTheta
		stats.NetGamma += t.NetGamma
		stats.NetVega += t.NetVega
		if t.Status == models.StatusOpen {
			stats.OpenTradesCount++
		}
	}
	if trades == nil {
		trades = []models.Trade{}
	}

	payload, err := json.Marshal(liveUpdate{
		Type:      "live_update",
		Timestamp: time.Now(),
		Portfolio: stats,
		Positions: trades,
	})
	if err != nil {
		b.logger.WithError(err).Error("broadcast marshal failed")
		return
	}
	b.hub.Broadcast(payload)
}
