// Package orders is the transactional heart of the pipeline: it places
// multi-leg structures atomically (hedges first, cores second), flattens
// everything on partial failure, and unwinds positions through the same leg
// primitive.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/shritish20/Volguard/internal/util"
	"github.com/sirupsen/logrus"
)

// Limit price factors relative to the reference LTP. Hedges shade below to
// fill fast; cores give up a little edge in the favourable direction.
const (
	hedgePriceFactor    = 0.998
	coreBuyPriceFactor  = 1.002
	coreSellPriceFactor = 0.998
)

// slippageReportPct is the per-leg slippage beyond which the circuit breaker
// is told about the fill.
const slippageReportPct = 0.02

// errLegFailed marks a leg that did not reach its fill threshold.
var errLegFailed = errors.New("orders: leg failed")

// SlippageSink receives bad-fill reports.
type SlippageSink interface {
	RecordSlippageEvent(instrument string, slippagePct float64) error
}

// executor drives a single leg from placement to a terminal outcome.
type executor struct {
	broker       broker.Broker
	store        storage.Interface
	slippage     SlippageSink
	logger       *logrus.Logger
	tickSize     float64
	pollInterval time.Duration
	orderTimeout time.Duration
}

// limitPrice applies the role-based shading and rounds to the tick grid.
func (e *executor) limitPrice(leg *models.OptionLeg) float64 {
	factor := coreSellPriceFactor
	switch {
	case leg.Role == models.RoleHedge:
		factor = hedgePriceFactor
	case leg.Side == models.SideBuy:
		factor = coreBuyPriceFactor
	}
	return util.RoundToTick(leg.RefPrice*factor, e.tickSize)
}

// executeLeg places a limit order for the leg and polls until it fills,
// fails, or times out. On success the leg's fill fields are populated. A
// timed-out order is cancelled; if the post-cancel status shows it completed
// anyway, the fill is accepted.
func (e *executor) executeLeg(ctx context.Context, tradeID string, leg *models.OptionLeg) error {
	price := e.limitPrice(leg)
	log := e.logger.WithFields(logrus.Fields{
		"trade":      tradeID,
		"instrument": leg.InstrumentKey,
		"side":       leg.Side,
		"role":       leg.Role,
		"qty":        leg.Quantity,
		"limit":      price,
	})

	orderID, err := e.broker.PlaceOrder(ctx, *leg, price)
	if err != nil {
		log.WithError(err).Error("order placement failed")
		return fmt.Errorf("%w: place %s: %v", errLegFailed, leg.InstrumentKey, err)
	}
	leg.OrderID = orderID
	e.recordOrder(tradeID, leg, price, "open")
	log = log.WithField("order_id", orderID)

	status, err := e.pollUntilTerminal(ctx, orderID)
	if err != nil {
		// Timeout or context end: cancel, then recheck in case the fill
		// raced the cancel.
		if cerr := e.broker.CancelOrder(ctx, orderID); cerr != nil {
			log.WithError(cerr).Warn("cancel after timeout failed")
		}
		status, err = e.broker.GetOrderStatus(ctx, orderID)
		if err != nil || status.State != broker.OrderComplete {
			log.Warn("leg timed out and was cancelled")
			e.recordOrder(tradeID, leg, price, "cancelled")
			return fmt.Errorf("%w: %s timed out", errLegFailed, leg.InstrumentKey)
		}
		log.Info("leg completed during cancel, accepting fill")
	}

	switch status.State {
	case broker.OrderComplete:
		// fall through to the fill-threshold check below
	case broker.OrderRejected, broker.OrderCancelled:
		log.WithField("state", status.State).Warn("leg not filled")
		e.recordOrder(tradeID, leg, price, string(status.State))
		return fmt.Errorf("%w: %s %s", errLegFailed, leg.InstrumentKey, status.State)
	default:
		e.recordOrder(tradeID, leg, price, string(status.State))
		return fmt.Errorf("%w: %s in unexpected state %s", errLegFailed, leg.InstrumentKey, status.State)
	}

	fillRatio := float64(status.FilledQty) / float64(leg.Quantity)
	if fillRatio < leg.FillThreshold() {
		if cerr := e.broker.CancelOrder(ctx, orderID); cerr != nil {
			log.WithError(cerr).Warn("cancel of under-filled order failed")
		}
		log.WithField("fill_ratio", fillRatio).Warn("fill below threshold")
		e.recordOrder(tradeID, leg, price, "under_filled")
		return fmt.Errorf("%w: %s filled %.1f%% of requested", errLegFailed, leg.InstrumentKey, fillRatio*100)
	}

	leg.FilledQty = status.FilledQty
	leg.AvgPrice = status.AvgPrice
	leg.FillTime = time.Now()
	if leg.RefPrice > 0 {
		leg.SlippagePct = abs(status.AvgPrice-leg.RefPrice) / leg.RefPrice
	}
	e.recordOrder(tradeID, leg, price, "complete")

	if leg.SlippagePct > slippageReportPct && e.slippage != nil {
		if serr := e.slippage.RecordSlippageEvent(leg.InstrumentKey, leg.SlippagePct); serr != nil {
			log.WithError(serr).Error("slippage report failed")
		}
	}

	log.WithFields(logrus.Fields{
		"filled":   leg.FilledQty,
		"avg":      leg.AvgPrice,
		"slippage": leg.SlippagePct,
	}).Info("leg filled")
	return nil
}

// pollUntilTerminal polls order status on the poll interval until the order
// reaches a terminal state or the order timeout elapses.
func (e *executor) pollUntilTerminal(ctx context.Context, orderID string) (*broker.OrderStatus, error) {
	pollCtx, cancel := context.WithTimeout(ctx, e.orderTimeout)
	defer cancel()

	ticker := time.NewTicker(e.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-pollCtx.Done():
			return nil, pollCtx.Err()
		case <-ticker.C:
			status, err := e.broker.GetOrderStatus(pollCtx, orderID)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
					return nil, err
				}
				continue
			}
			if status.State.Terminal() {
				return status, nil
			}
		}
	}
}

func (e *executor) recordOrder(tradeID string, leg *models.OptionLeg, price float64, status string) {
	rec := storage.OrderRecord{
		OrderID:       leg.OrderID,
		TradeID:       tradeID,
		InstrumentKey: leg.InstrumentKey,
		Side:          leg.Side,
		Quantity:      leg.Quantity,
		Price:         price,
		Status:        status,
		FilledQty:     leg.FilledQty,
		AvgPrice:      leg.AvgPrice,
		PlacedAt:      time.Now(),
		FilledAt:      leg.FillTime,
	}
	var err error
	if status == "open" {
		err = e.store.SaveOrder(rec)
	} else {
		err = e.store.UpdateOrder(rec)
	}
	if err != nil {
		e.logger.WithError(err).WithField("order_id", leg.OrderID).Error("order record persist failed")
	}
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
