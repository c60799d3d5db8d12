package broker

import (
	"context"
	"math"
	"math/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/shritish20/Volguard/internal/models"
)

// PaperBroker simulates execution for dry runs while delegating market data
// to a real (or stub) broker. Fills are probabilistic with Gaussian slippage
// so the executor's partial-fill and flatten paths get exercised.
type PaperBroker struct {
	Broker // market data passthrough

	logger *logrus.Logger

	mu     sync.Mutex
	rng    *rand.Rand
	orders map[string]*paperOrder
	funds  float64

	// FillProbability and SlippageStdDev are overridable for tests.
	FillProbability float64
	SlippageStdDev  float64
	PartialFillProb float64
}

type paperOrder struct {
	leg      models.OptionLeg
	price    float64
	market   bool
	resolved bool
	status   OrderStatus
}

var _ Broker = (*PaperBroker)(nil)

// NewPaperBroker wraps data with a simulated execution venue.
func NewPaperBroker(data Broker, startingFunds float64, seed int64, logger *logrus.Logger) *PaperBroker {
	return &PaperBroker{
		Broker:          data,
		logger:          logger,
		rng:             rand.New(rand.NewSource(seed)),
		orders:          make(map[string]*paperOrder),
		funds:           startingFunds,
		FillProbability: 0.95,
		SlippageStdDev:  0.002,
		PartialFillProb: 0.03,
	}
}

func (p *PaperBroker) PlaceOrder(ctx context.Context, leg models.OptionLeg, limitPrice float64) (string, error) {
	if err := leg.Validate(); err != nil {
		return "", NewError(KindRejected, 0, err.Error())
	}
	return p.admit(leg, limitPrice, false), nil
}

func (p *PaperBroker) PlaceMarketOrder(ctx context.Context, leg models.OptionLeg) (string, error) {
	if err := leg.Validate(); err != nil {
		return "", NewError(KindRejected, 0, err.Error())
	}
	return p.admit(leg, leg.RefPrice, true), nil
}

func (p *PaperBroker) admit(leg models.OptionLeg, price float64, market bool) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := "paper-" + uuid.NewString()
	p.orders[id] = &paperOrder{
		leg:    leg,
		price:  price,
		market: market,
		status: OrderStatus{OrderID: id, State: OrderOpen},
	}
	p.logger.WithFields(logrus.Fields{
		"order_id":   id,
		"instrument": leg.InstrumentKey,
		"side":       leg.Side,
	}).Debug("paper order admitted")
	return id
}

// GetOrderStatus resolves the simulated fill on first poll.
func (p *PaperBroker) GetOrderStatus(ctx context.Context, orderID string) (*OrderStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return nil, NewError(KindNotFound, 0, "unknown paper order "+orderID)
	}
	if !o.resolved {
		p.resolveLocked(o)
	}
	st := o.status
	return &st, nil
}

func (p *PaperBroker) resolveLocked(o *paperOrder) {
	o.resolved = true
	roll := p.rng.Float64()

	switch {
	case o.market || roll < p.FillProbability:
		fillPrice := o.price * (1 + p.rng.NormFloat64()*p.SlippageStdDev)
		fillPrice = math.Max(0.05, fillPrice)
		o.status.State = OrderComplete
		o.status.FilledQty = o.leg.Quantity
		o.status.AvgPrice = fillPrice
		p.settleLocked(o.leg, o.status.FilledQty, fillPrice)
	case roll < p.FillProbability+p.PartialFillProb:
		// Partial fill in whole lots, below any role threshold.
		lots := o.leg.Quantity / o.leg.LotSize
		filledLots := int(float64(lots) * 0.8)
		if filledLots >= lots {
			filledLots = lots - 1
		}
		if filledLots < 0 {
			filledLots = 0
		}
		o.status.State = OrderComplete
		o.status.FilledQty = filledLots * o.leg.LotSize
		o.status.AvgPrice = o.price
		p.settleLocked(o.leg, o.status.FilledQty, o.price)
	default:
		o.status.State = OrderRejected
	}
}

func (p *PaperBroker) settleLocked(leg models.OptionLeg, qty int, price float64) {
	notional := float64(qty) * price
	if leg.Side == models.SideBuy {
		p.funds -= notional
	} else {
		p.funds += notional
	}
}

func (p *PaperBroker) CancelOrder(ctx context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	o, ok := p.orders[orderID]
	if !ok {
		return NewError(KindNotFound, 0, "unknown paper order "+orderID)
	}
	if !o.resolved {
		o.resolved = true
		o.status.State = OrderCancelled
	}
	return nil
}

func (p *PaperBroker) RequiredMargin(ctx context.Context, legs []models.OptionLeg) (float64, error) {
	// Rough SPAN stand-in: short legs carry the margin, long legs are premium.
	var margin float64
	for _, l := range legs {
		if l.Side == models.SideSell {
			margin += float64(l.Quantity) / float64(l.LotSize) * 120_000
		} else {
			margin += float64(l.Quantity) * l.RefPrice
		}
	}
	return margin, nil
}

func (p *PaperBroker) AvailableFunds(ctx context.Context) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.funds, nil
}

func (p *PaperBroker) ExitAllPositions(ctx context.Context) error {
	p.logger.Warn("paper broker: exit all positions requested")
	return nil
}
