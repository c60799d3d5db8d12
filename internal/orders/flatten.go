package orders

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/shritish20/Volguard/internal/util"
	"github.com/sirupsen/logrus"
)

const (
	flattenMarketAttempts = 2
	flattenLimitAttempts  = 3
	// Aggressive limit band around the live LTP for the fallback attempts.
	flattenLimitBandPct = 0.10
)

// flatten unwinds every already-filled leg with reversing orders. It never
// blocks on an unfillable leg: after market and aggressive-limit attempts are
// exhausted it raises a critical alert and journals a risk event for manual
// intervention. Reversing legs that filled come back in flattened, with their
// fill fields populated, so callers can fold them into exit accounting; legs
// that remain open come back in failed.
func (o *Orchestrator) flatten(ctx context.Context, tradeID string, filled []models.OptionLeg) (flattened, failed []models.OptionLeg) {
	for i := range filled {
		leg := &filled[i]
		if !leg.Filled() {
			continue
		}
		rev := leg.Reversed()
		log := o.logger.WithFields(logrus.Fields{
			"trade":      tradeID,
			"instrument": rev.InstrumentKey,
			"side":       rev.Side,
			"qty":        rev.Quantity,
		})
		log.Warn("flattening leg")

		if o.flattenMarket(ctx, &rev, log) || o.flattenAggressiveLimit(ctx, &rev, log) {
			flattened = append(flattened, rev)
			continue
		}

		failed = append(failed, *leg)
		log.Error("leg could not be flattened, manual intervention required")
		o.notifier.Critical(fmt.Sprintf(
			"MANUAL INTERVENTION: could not flatten %s %s x%d for trade %s",
			rev.Side, rev.InstrumentKey, rev.Quantity, tradeID))
		metrics, _ := json.Marshal(map[string]any{
			"instrument": rev.InstrumentKey,
			"side":       rev.Side,
			"quantity":   rev.Quantity,
		})
		if err := o.store.RecordRiskEvent(storage.RiskEvent{
			Timestamp:   time.Now(),
			EventType:   "FLATTEN_FAILURE",
			Severity:    "CRITICAL",
			Description: fmt.Sprintf("unflattened leg %s on trade %s", rev.InstrumentKey, tradeID),
			Metrics:     metrics,
			ActionTaken: "manual intervention alert sent",
		}); err != nil {
			log.WithError(err).Error("risk event persist failed")
		}
	}
	return flattened, failed
}

func (o *Orchestrator) flattenMarket(ctx context.Context, rev *models.OptionLeg, log *logrus.Entry) bool {
	for attempt := 1; attempt <= flattenMarketAttempts; attempt++ {
		orderID, err := o.broker.PlaceMarketOrder(ctx, *rev)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("flatten market order failed")
			continue
		}
		if o.confirmFlattenFill(ctx, orderID, rev, log) {
			return true
		}
	}
	return false
}

// flattenAggressiveLimit crosses the spread by the band: buy at 110% of the
// live LTP rounded up, sell at 90% rounded down, so the tick grid never pulls
// the price back inside the spread.
func (o *Orchestrator) flattenAggressiveLimit(ctx context.Context, rev *models.OptionLeg, log *logrus.Entry) bool {
	for attempt := 1; attempt <= flattenLimitAttempts; attempt++ {
		ltp, err := o.broker.GetLTP(ctx, rev.InstrumentKey)
		if err != nil || ltp <= 0 {
			log.WithError(err).WithField("attempt", attempt).Warn("flatten LTP fetch failed")
			continue
		}
		var price float64
		if rev.Side == models.SideSell {
			price = util.FloorToTick(ltp*(1-flattenLimitBandPct), o.tickSize)
		} else {
			price = util.CeilToTick(ltp*(1+flattenLimitBandPct), o.tickSize)
		}

		orderID, err := o.broker.PlaceOrder(ctx, *rev, price)
		if err != nil {
			log.WithError(err).WithField("attempt", attempt).Warn("flatten limit order failed")
			continue
		}
		if o.confirmFlattenFill(ctx, orderID, rev, log) {
			return true
		}
	}
	return false
}

// confirmFlattenFill waits for the order to go terminal. A confirmation that
// times out cancels the order and rechecks, so a late fill is never doubled
// by the next attempt.
func (o *Orchestrator) confirmFlattenFill(ctx context.Context, orderID string, rev *models.OptionLeg, log *logrus.Entry) bool {
	status, err := o.newExecutor().pollUntilTerminal(ctx, orderID)
	if err != nil {
		if cerr := o.broker.CancelOrder(ctx, orderID); cerr != nil {
			log.WithError(cerr).Warn("flatten cancel failed")
		}
		status, err = o.broker.GetOrderStatus(ctx, orderID)
		if err != nil {
			return false
		}
	}
	if status.State != broker.OrderComplete {
		return false
	}
	rev.OrderID = orderID
	rev.FilledQty = status.FilledQty
	rev.AvgPrice = status.AvgPrice
	rev.FillTime = time.Now()
	log.WithFields(logrus.Fields{
		"order_id": orderID,
		"avg":      status.AvgPrice,
	}).Info("leg flattened")
	return true
}
