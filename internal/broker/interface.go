// Package broker wraps the Upstox REST API behind a typed gateway with
// retries, session-token lifecycle and a circuit breaker.
package broker

import (
	"context"

	"github.com/shritish20/Volguard/internal/models"
)

// OrderState is the broker-side lifecycle state of an order.
type OrderState string

const (
	OrderOpen      OrderState = "open"
	OrderPending   OrderState = "pending"
	OrderComplete  OrderState = "complete"
	OrderRejected  OrderState = "rejected"
	OrderCancelled OrderState = "cancelled"
)

// Terminal reports whether the state can no longer change.
func (s OrderState) Terminal() bool {
	return s == OrderComplete || s == OrderRejected || s == OrderCancelled
}

// OrderStatus is a point-in-time order snapshot.
type OrderStatus struct {
	OrderID   string
	State     OrderState
	FilledQty int
	AvgPrice  float64
}

// Broker is the gateway contract. Implementations retry transient failures
// internally; every other error class surfaces typed. Once an order id is
// assigned the caller owns idempotency.
type Broker interface {
	PlaceOrder(ctx context.Context, leg models.OptionLeg, limitPrice float64) (string, error)
	// PlaceMarketOrder places an immediate-execution order for flattening.
	PlaceMarketOrder(ctx context.Context, leg models.OptionLeg) (string, error)
	GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error)
	CancelOrder(ctx context.Context, orderID string) error

	GetLTP(ctx context.Context, instrumentKey string) (float64, error)
	GetOptionChain(ctx context.Context, expiry string) ([]models.ChainRow, error)
	GetExpiries(ctx context.Context) ([]string, error)
	GetHistoricalCandles(ctx context.Context, instrumentKey, interval string, days int) ([]models.Candle, error)

	RequiredMargin(ctx context.Context, legs []models.OptionLeg) (float64, error)
	AvailableFunds(ctx context.Context) (float64, error)
	ExitAllPositions(ctx context.Context) error

	// StreamAuthorizeURL returns an authorized websocket endpoint for the
	// market-data feed.
	StreamAuthorizeURL(ctx context.Context) (string, error)
}
