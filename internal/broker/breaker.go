package broker

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/shritish20/Volguard/internal/models"
)

// BreakerBroker wraps a Broker with a gobreaker circuit breaker so a
// misbehaving broker API fails fast instead of stalling every caller.
type BreakerBroker struct {
	inner Broker
	cb    *gobreaker.CircuitBreaker
}

var _ Broker = (*BreakerBroker)(nil)

// NewBreakerBroker wraps inner with the default breaker settings: the
// breaker opens when more than 60% of at least 5 requests fail, and probes
// again after 30 seconds.
func NewBreakerBroker(inner Broker) *BreakerBroker {
	settings := gobreaker.Settings{
		Name:        "broker-api",
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 5 && failureRatio >= 0.6
		},
	}
	return &BreakerBroker{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker(settings),
	}
}

// execBreaker funnels a call through the circuit breaker preserving its
// typed result.
func execBreaker[T any](cb *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	res, err := cb.Execute(func() (interface{}, error) {
		return fn()
	})
	if err != nil {
		var zero T
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return zero, NewError(KindTransient, 0, err.Error())
		}
		return zero, err
	}
	return res.(T), nil
}

func (b *BreakerBroker) PlaceOrder(ctx context.Context, leg models.OptionLeg, limitPrice float64) (string, error) {
	return execBreaker(b.cb, func() (string, error) { return b.inner.PlaceOrder(ctx, leg, limitPrice) })
}

func (b *BreakerBroker) PlaceMarketOrder(ctx context.Context, leg models.OptionLeg) (string, error) {
	return execBreaker(b.cb, func() (string, error) { return b.inner.PlaceMarketOrder(ctx, leg) })
}

func (b *BreakerBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	return execBreaker(b.cb, func() (*OrderStatus, error) { return b.inner.GetOrderStatus(ctx, orderID) })
}

func (b *BreakerBroker) CancelOrder(ctx context.Context, orderID string) error {
	_, err := execBreaker(b.cb, func() (struct{}, error) { return struct{}{}, b.inner.CancelOrder(ctx, orderID) })
	return err
}

func (b *BreakerBroker) GetLTP(ctx context.Context, instrumentKey string) (float64, error) {
	return execBreaker(b.cb, func() (float64, error) { return b.inner.GetLTP(ctx, instrumentKey) })
}

func (b *BreakerBroker) GetOptionChain(ctx context.Context, expiry string) ([]models.ChainRow, error) {
	return execBreaker(b.cb, func() ([]models.ChainRow, error) { return b.inner.GetOptionChain(ctx, expiry) })
}

func (b *BreakerBroker) GetExpiries(ctx context.Context) ([]string, error) {
	return execBreaker(b.cb, func() ([]string, error) { return b.inner.GetExpiries(ctx) })
}

func (b *BreakerBroker) GetHistoricalCandles(ctx context.Context, instrumentKey, interval string, days int) ([]models.Candle, error) {
	return execBreaker(b.cb, func() ([]models.Candle, error) {
		return b.inner.GetHistoricalCandles(ctx, instrumentKey, interval, days)
	})
}

func (b *BreakerBroker) RequiredMargin(ctx context.Context, legs []models.OptionLeg) (float64, error) {
	return execBreaker(b.cb, func() (float64, error) { return b.inner.RequiredMargin(ctx, legs) })
}

func (b *BreakerBroker) AvailableFunds(ctx context.Context) (float64, error) {
	return execBreaker(b.cb, func() (float64, error) { return b.inner.AvailableFunds(ctx) })
}

func (b *BreakerBroker) ExitAllPositions(ctx context.Context) error {
	_, err := execBreaker(b.cb, func() (struct{}, error) { return struct{}{}, b.inner.ExitAllPositions(ctx) })
	return err
}

func (b *BreakerBroker) StreamAuthorizeURL(ctx context.Context) (string, error) {
	return execBreaker(b.cb, func() (string, error) { return b.inner.StreamAuthorizeURL(ctx) })
}
