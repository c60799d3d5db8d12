// Package strategy turns a trading mandate and a live option chain into
// concrete defined-risk leg sets. Every build enforces the per-trade max-loss
// bound; a structure that cannot be bounded is rejected with no legs.
package strategy

import (
	"fmt"
	"math"
	"sort"

	"github.com/shritish20/Volguard/internal/models"
	"github.com/sirupsen/logrus"
)

// Liquidity floors for strike selection.
const (
	minOpenInterest = 1000
	minFlyLTP       = 0.1
	minCondorLTP    = 0.5
	maxSpreadPct    = 0.05
)

// Delta targets by structure and expiry bucket.
const (
	condorShortDeltaWeekly  = 0.20
	condorShortDeltaMonthly = 0.16
	condorWingDelta         = 0.05
	spreadShortDelta        = 0.30
	spreadHedgeDelta        = 0.10
)

// Builder constructs leg sets.
type Builder struct {
	maxLossPerTrade float64
	logger          *logrus.Logger
}

func NewBuilder(maxLossPerTrade float64, logger *logrus.Logger) *Builder {
	return &Builder{maxLossPerTrade: maxLossPerTrade, logger: logger}
}

// Build dispatches on the mandate structure. Returned legs are sized to the
// mandate's max lots and carry reference prices from the chain.
func (b *Builder) Build(m *models.TradingMandate, chain []models.ChainRow, spot, ivp float64) ([]models.OptionLeg, error) {
	if !m.Tradeable() {
		return nil, fmt.Errorf("mandate is not tradeable: %s", m.Structure)
	}
	if len(chain) == 0 {
		return nil, fmt.Errorf("empty option chain")
	}
	if spot <= 0 {
		return nil, fmt.Errorf("invalid spot %f", spot)
	}

	var legs []models.OptionLeg
	var err error
	switch m.Structure {
	case models.StructureIronFly:
		legs, err = b.buildIronFly(m, chain, spot, ivp)
	case models.StructureIronCondor:
		legs, err = b.buildIronCondor(m, chain)
	case models.StructureBullPutSpread:
		legs, err = b.buildVerticalSpread(m, chain, models.OptionPut)
	case models.StructureBearCallSpread:
		legs, err = b.buildVerticalSpread(m, chain, models.OptionCall)
	case models.StructureCreditSpread:
		legs, err = b.buildCreditSpread(m, chain, spot)
	default:
		return nil, fmt.Errorf("unsupported structure %s", m.Structure)
	}
	if err != nil {
		return nil, err
	}

	for i := range legs {
		if err := legs[i].Validate(); err != nil {
			return nil, fmt.Errorf("built invalid leg: %w", err)
		}
	}

	maxLoss, credit := RiskBound(legs)
	if maxLoss > b.maxLossPerTrade {
		b.logger.WithFields(logrus.Fields{
			"structure": m.Structure,
			"max_loss":  maxLoss,
			"limit":     b.maxLossPerTrade,
		}).Warn("structure rejected on max loss bound")
		return nil, fmt.Errorf("max loss %.0f exceeds per-trade limit %.0f", maxLoss, b.maxLossPerTrade)
	}

	b.logger.WithFields(logrus.Fields{
		"structure":  m.Structure,
		"legs":       len(legs),
		"lots":       m.MaxLots,
		"net_credit": credit,
		"max_loss":   maxLoss,
	}).Info("strategy built")
	return legs, nil
}

// buildIronFly sells the professional ATM straddle and buys wings at a
// straddle-cost-scaled width.
func (b *Builder) buildIronFly(m *models.TradingMandate, chain []models.ChainRow, spot, ivp float64) ([]models.OptionLeg, error) {
	interval := StrikeInterval(chain)
	if interval <= 0 {
		return nil, fmt.Errorf("could not determine strike interval")
	}

	atm, ok := professionalATM(chain, spot, interval)
	if !ok {
		return nil, fmt.Errorf("no liquid straddle near spot %.0f", spot)
	}

	straddle := atm.CallLTP + atm.PutLTP
	wing := wingWidth(straddle, ivp, interval)

	upper := findStrike(chain, atm.Strike+wing)
	lower := findStrike(chain, atm.Strike-wing)
	if upper == nil || lower == nil {
		return nil, fmt.Errorf("wing strikes %.0f/%.0f not in chain", atm.Strike-wing, atm.Strike+wing)
	}

	qty := m.MaxLots * atm.LotSize
	return []models.OptionLeg{
		leg(upper.CallKey, models.OptionCall, upper.Strike, models.SideBuy, qty, models.RoleHedge, upper.CallLTP, upper.LotSize, upper.Expiry),
		leg(lower.PutKey, models.OptionPut, lower.Strike, models.SideBuy, qty, models.RoleHedge, lower.PutLTP, lower.LotSize, lower.Expiry),
		leg(atm.CallKey, models.OptionCall, atm.Strike, models.SideSell, qty, models.RoleCore, atm.CallLTP, atm.LotSize, atm.Expiry),
		leg(atm.PutKey, models.OptionPut, atm.Strike, models.SideSell, qty, models.RoleCore, atm.PutLTP, atm.LotSize, atm.Expiry),
	}, nil
}

func (b *Builder) buildIronCondor(m *models.TradingMandate, chain []models.ChainRow) ([]models.OptionLeg, error) {
	target := condorShortDeltaWeekly
	if m.ExpiryType == models.ExpiryMonthly {
		target = condorShortDeltaMonthly
	}

	shortCall, ok := selectByDelta(chain, models.OptionCall, target, condorFilter)
	if !ok {
		return nil, fmt.Errorf("no liquid call near delta %.2f", target)
	}
	shortPut, ok := selectByDelta(chain, models.OptionPut, target, condorFilter)
	if !ok {
		return nil, fmt.Errorf("no liquid put near delta %.2f", target)
	}
	wingCall, ok := selectByDelta(chain, models.OptionCall, condorWingDelta, wingFilter)
	if !ok {
		return nil, fmt.Errorf("no call wing near delta %.2f", condorWingDelta)
	}
	wingPut, ok := selectByDelta(chain, models.OptionPut, condorWingDelta, wingFilter)
	if !ok {
		return nil, fmt.Errorf("no put wing near delta %.2f", condorWingDelta)
	}
	if wingCall.Strike <= shortCall.Strike || wingPut.Strike >= shortPut.Strike {
		return nil, fmt.Errorf("wing strikes do not bracket the short strikes")
	}

	qty := m.MaxLots * shortCall.LotSize
	return []models.OptionLeg{
		leg(wingCall.CallKey, models.OptionCall, wingCall.Strike, models.SideBuy, qty, models.RoleHedge, wingCall.CallLTP, wingCall.LotSize, wingCall.Expiry),
		leg(wingPut.PutKey, models.OptionPut, wingPut.Strike, models.SideBuy, qty, models.RoleHedge, wingPut.PutLTP, wingPut.LotSize, wingPut.Expiry),
		leg(shortCall.CallKey, models.OptionCall, shortCall.Strike, models.SideSell, qty, models.RoleCore, shortCall.CallLTP, shortCall.LotSize, shortCall.Expiry),
		leg(shortPut.PutKey, models.OptionPut, shortPut.Strike, models.SideSell, qty, models.RoleCore, shortPut.PutLTP, shortPut.LotSize, shortPut.Expiry),
	}, nil
}

// buildVerticalSpread sells a 0.30-delta strike hedged at 0.10 delta on the
// given side.
func (b *Builder) buildVerticalSpread(m *models.TradingMandate, chain []models.ChainRow, side models.OptionType) ([]models.OptionLeg, error) {
	short, ok := selectByDelta(chain, side, spreadShortDelta, condorFilter)
	if !ok {
		return nil, fmt.Errorf("no liquid %s near delta %.2f", side, spreadShortDelta)
	}
	hedge, ok := selectByDelta(chain, side, spreadHedgeDelta, wingFilter)
	if !ok {
		return nil, fmt.Errorf("no %s hedge near delta %.2f", side, spreadHedgeDelta)
	}

	qty := m.MaxLots * short.LotSize
	if side == models.OptionPut {
		if hedge.Strike >= short.Strike {
			return nil, fmt.Errorf("put hedge %.0f not below short %.0f", hedge.Strike, short.Strike)
		}
		return []models.OptionLeg{
			leg(hedge.PutKey, models.OptionPut, hedge.Strike, models.SideBuy, qty, models.RoleHedge, hedge.PutLTP, hedge.LotSize, hedge.Expiry),
			leg(short.PutKey, models.OptionPut, short.Strike, models.SideSell, qty, models.RoleCore, short.PutLTP, short.LotSize, short.Expiry),
		}, nil
	}
	if hedge.Strike <= short.Strike {
		return nil, fmt.Errorf("call hedge %.0f not above short %.0f", hedge.Strike, short.Strike)
	}
	return []models.OptionLeg{
		leg(hedge.CallKey, models.OptionCall, hedge.Strike, models.SideBuy, qty, models.RoleHedge, hedge.CallLTP, hedge.LotSize, hedge.Expiry),
		leg(short.CallKey, models.OptionCall, short.Strike, models.SideSell, qty, models.RoleCore, short.CallLTP, short.LotSize, short.Expiry),
	}, nil
}

// buildCreditSpread picks the side with the richer short premium when the
// mandate carries no directional bias.
func (b *Builder) buildCreditSpread(m *models.TradingMandate, chain []models.ChainRow, spot float64) ([]models.OptionLeg, error) {
	put, putErr := b.buildVerticalSpread(m, chain, models.OptionPut)
	call, callErr := b.buildVerticalSpread(m, chain, models.OptionCall)
	switch {
	case putErr != nil && callErr != nil:
		return nil, fmt.Errorf("no viable credit spread: %v; %v", putErr, callErr)
	case putErr != nil:
		return call, nil
	case callErr != nil:
		return put, nil
	}
	if netCredit(put) >= netCredit(call) {
		return put, nil
	}
	return call, nil
}

// RiskBound returns the worst-case loss and net credit in rupees for a
// defined-risk leg set. Loss = max(spread widths) × contracts − net credit.
func RiskBound(legs []models.OptionLeg) (maxLoss, credit float64) {
	var shortCall, longCall, shortPut, longPut float64
	var qty int
	for _, l := range legs {
		if l.Quantity > qty {
			qty = l.Quantity
		}
		switch {
		case l.Type == models.OptionCall && l.Side == models.SideSell:
			shortCall = l.Strike
		case l.Type == models.OptionCall && l.Side == models.SideBuy:
			longCall = l.Strike
		case l.Type == models.OptionPut && l.Side == models.SideSell:
			shortPut = l.Strike
		case l.Type == models.OptionPut && l.Side == models.SideBuy:
			longPut = l.Strike
		}
	}

	var callWidth, putWidth float64
	if shortCall > 0 && longCall > 0 {
		callWidth = longCall - shortCall
	}
	if shortPut > 0 && longPut > 0 {
		putWidth = shortPut - longPut
	}
	width := math.Max(callWidth, putWidth)
	credit = netCredit(legs)
	maxLoss = width*float64(qty) - credit
	if maxLoss < 0 {
		maxLoss = 0
	}
	return maxLoss, credit
}

func netCredit(legs []models.OptionLeg) float64 {
	var credit float64
	for _, l := range legs {
		if l.Side == models.SideSell {
			credit += l.RefPrice * float64(l.Quantity)
		} else {
			credit -= l.RefPrice * float64(l.Quantity)
		}
	}
	return credit
}

// StrikeInterval is the mode of successive strike differences.
func StrikeInterval(chain []models.ChainRow) float64 {
	if len(chain) < 2 {
		return 0
	}
	strikes := make([]float64, len(chain))
	for i, r := range chain {
		strikes[i] = r.Strike
	}
	sort.Float64s(strikes)

	counts := make(map[float64]int)
	for i := 1; i < len(strikes); i++ {
		if d := strikes[i] - strikes[i-1]; d > 0 {
			counts[d]++
		}
	}
	var mode float64
	best := 0
	for d, n := range counts {
		if n > best || (n == best && d < mode) {
			best = n
			mode = d
		}
	}
	return mode
}

// professionalATM picks, among the geometric ATM and its immediate
// neighbours, the liquid strike whose straddle is most balanced.
func professionalATM(chain []models.ChainRow, spot, interval float64) (models.ChainRow, bool) {
	geomATM := math.Round(spot/interval) * interval

	var best models.ChainRow
	bestDiff := math.Inf(1)
	found := false
	for _, offset := range []float64{0, -interval, interval} {
		row := findStrike(chain, geomATM+offset)
		if row == nil {
			continue
		}
		if row.CallOI < minOpenInterest || row.PutOI < minOpenInterest {
			continue
		}
		if row.CallLTP <= minFlyLTP || row.PutLTP <= minFlyLTP {
			continue
		}
		if d := math.Abs(row.CallLTP - row.PutLTP); d < bestDiff {
			bestDiff = d
			best = *row
			found = true
		}
	}
	return best, found
}

// wingWidth scales the straddle cost by the IV-percentile factor and rounds
// to the strike grid, at least two intervals wide.
func wingWidth(straddle, ivp, interval float64) float64 {
	factor := 1.0
	switch {
	case ivp > 80:
		factor = 1.4
	case ivp > 50:
		factor = 1.1
	case ivp < 20:
		factor = 0.8
	}
	wing := math.Round(straddle*factor/interval) * interval
	if min := 2 * interval; wing < min {
		wing = min
	}
	return wing
}

func findStrike(chain []models.ChainRow, strike float64) *models.ChainRow {
	for i := range chain {
		if chain[i].Strike == strike {
			return &chain[i]
		}
	}
	return nil
}

// condorFilter is the liquidity gate for short strikes: open interest,
// tight spread and non-dust premium.
func condorFilter(row models.ChainRow, t models.OptionType) bool {
	ltp, bid, ask, oi := sideQuote(row, t)
	if oi < minOpenInterest || ltp <= minCondorLTP {
		return false
	}
	if bid <= 0 || ask <= 0 {
		return false
	}
	return (ask - bid) <= maxSpreadPct*ltp
}

// wingFilter only requires a live quote; far wings are naturally thin.
func wingFilter(row models.ChainRow, t models.OptionType) bool {
	ltp, _, _, _ := sideQuote(row, t)
	return ltp > 0
}

func sideQuote(row models.ChainRow, t models.OptionType) (ltp, bid, ask, oi float64) {
	if t == models.OptionCall {
		return row.CallLTP, row.CallBid, row.CallAsk, row.CallOI
	}
	return row.PutLTP, row.PutBid, row.PutAsk, row.PutOI
}

// selectByDelta returns the most liquid of the three rows nearest the target
// absolute delta that pass the filter.
func selectByDelta(chain []models.ChainRow, t models.OptionType, target float64, filter func(models.ChainRow, models.OptionType) bool) (models.ChainRow, bool) {
	type candidate struct {
		row  models.ChainRow
		dist float64
	}
	var cands []candidate
	for _, row := range chain {
		var delta float64
		if t == models.OptionCall {
			delta = row.CallDelta
		} else {
			delta = row.PutDelta
		}
		if delta == 0 || !filter(row, t) {
			continue
		}
		cands = append(cands, candidate{row: row, dist: math.Abs(math.Abs(delta) - target)})
	}
	if len(cands) == 0 {
		return models.ChainRow{}, false
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].dist < cands[j].dist })
	if len(cands) > 3 {
		cands = cands[:3]
	}

	best := cands[0]
	for _, c := range cands[1:] {
		if oiOf(c.row, t) > oiOf(best.row, t) {
			best = c
		}
	}
	return best.row, true
}

func oiOf(row models.ChainRow, t models.OptionType) float64 {
	if t == models.OptionCall {
		return row.CallOI
	}
	return row.PutOI
}

func leg(key string, t models.OptionType, strike float64, side models.Side, qty int, role models.LegRole, ref float64, lotSize int, expiry string) models.OptionLeg {
	return models.OptionLeg{
		InstrumentKey: key,
		Type:          t,
		Strike:        strike,
		Side:          side,
		Quantity:      qty,
		Role:          role,
		RefPrice:      ref,
		LotSize:       lotSize,
		Expiry:        expiry,
	}
}
