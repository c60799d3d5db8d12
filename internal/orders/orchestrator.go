package orders

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/models"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/shritish20/Volguard/internal/strategy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Notifier delivers trade alerts. Implementations are best-effort and must
// never block order flow.
type Notifier interface {
	Info(msg string)
	Critical(msg string)
}

// ResultSink receives closed-trade outcomes for loss-streak and daily-loss
// accounting.
type ResultSink interface {
	RecordTradeResult(realizedPnL float64) error
	CheckDailyLoss(realizedToday float64) error
}

// Config carries the execution parameters.
type Config struct {
	TickSize          float64
	PollInterval      time.Duration
	OrderTimeout      time.Duration
	MaxLossPerTrade   float64
	MaxContracts      int
	BrokeragePerOrder float64
}

// Orchestrator executes and unwinds strategies with all-or-nothing
// semantics.
type Orchestrator struct {
	broker   broker.Broker
	store    storage.Interface
	slippage SlippageSink
	results  ResultSink
	notifier Notifier
	logger   *logrus.Logger
	loc      *time.Location
	cfg      Config

	tickSize float64
}

func NewOrchestrator(b broker.Broker, store storage.Interface, slippage SlippageSink, results ResultSink, notifier Notifier, logger *logrus.Logger, loc *time.Location, cfg Config) *Orchestrator {
	return &Orchestrator{
		broker:   b,
		store:    store,
		slippage: slippage,
		results:  results,
		notifier: notifier,
		logger:   logger,
		loc:      loc,
		cfg:      cfg,
		tickSize: cfg.TickSize,
	}
}

func (o *Orchestrator) newExecutor() *executor {
	return &executor{
		broker:       o.broker,
		store:        o.store,
		slippage:     o.slippage,
		logger:       o.logger,
		tickSize:     o.cfg.TickSize,
		pollInterval: o.cfg.PollInterval,
		orderTimeout: o.cfg.OrderTimeout,
	}
}

// ExecuteStrategy places the legs transactionally. Hedges go first,
// concurrently; cores follow only when every hedge filled. Any leg failure
// flattens everything filled so far and returns an error with no trade.
func (o *Orchestrator) ExecuteStrategy(ctx context.Context, mandate *models.TradingMandate, legs []models.OptionLeg) (*models.Trade, error) {
	if err := o.preflight(legs); err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}
	if err := o.checkMargin(ctx, legs); err != nil {
		return nil, fmt.Errorf("preflight: %w", err)
	}

	trade := &models.Trade{
		ID:         uuid.NewString(),
		Strategy:   mandate.Structure,
		ExpiryType: mandate.ExpiryType,
		ExpiryDate: mandate.ExpiryDate,
		Status:     models.StatusPending,
		EntryTime:  time.Now(),
		Legs:       legs,
		Deployment: mandate.Deployment,
	}
	if err := o.store.SaveTrade(trade); err != nil {
		return nil, fmt.Errorf("persist pending trade: %w", err)
	}

	hedgeIdx, coreIdx := splitIndexes(trade.Legs)

	// Phase A: hedges, one worker per leg.
	if err := o.executePhase(ctx, trade, hedgeIdx); err != nil {
		o.abort(ctx, trade, fmt.Sprintf("hedge phase failed: %v", err))
		return nil, fmt.Errorf("hedge phase: %w", err)
	}

	// Phase B: cores.
	if err := o.executePhase(ctx, trade, coreIdx); err != nil {
		o.abort(ctx, trade, fmt.Sprintf("core phase failed: %v", err))
		return nil, fmt.Errorf("core phase: %w", err)
	}

	trade.EntryCredit = entryCredit(trade.Legs)
	maxLoss, _ := strategy.RiskBound(trade.Legs)
	trade.MaxLoss = maxLoss
	if err := trade.Transition(models.StatusOpen, "entry_filled"); err != nil {
		return nil, fmt.Errorf("trade transition: %w", err)
	}
	if err := o.store.UpdateTrade(trade); err != nil {
		return nil, fmt.Errorf("persist open trade: %w", err)
	}
	o.bumpDailyCount(trade)

	o.notifier.Info(fmt.Sprintf("Opened %s %s, credit %.0f, max loss %.0f",
		trade.Strategy, trade.ExpiryDate, trade.EntryCredit, trade.MaxLoss))
	o.logger.WithFields(logrus.Fields{
		"trade":    trade.ID,
		"strategy": trade.Strategy,
		"credit":   trade.EntryCredit,
		"max_loss": trade.MaxLoss,
	}).Info("strategy executed")
	return trade, nil
}

// executePhase runs the legs at the given indexes concurrently and waits for
// all of them. The phase budget is 1.5x the single-order timeout so a
// cancelled-then-rechecked order still has room.
func (o *Orchestrator) executePhase(ctx context.Context, trade *models.Trade, idx []int) error {
	if len(idx) == 0 {
		return nil
	}
	phaseCtx, cancel := context.WithTimeout(ctx, o.cfg.OrderTimeout*3/2)
	defer cancel()

	g, gctx := errgroup.WithContext(phaseCtx)
	for _, i := range idx {
		leg := &trade.Legs[i]
		g.Go(func() error {
			return o.newExecutor().executeLeg(gctx, trade.ID, leg)
		})
	}
	return g.Wait()
}

// abort flattens whatever filled and marks the trade failed.
func (o *Orchestrator) abort(ctx context.Context, trade *models.Trade, reason string) {
	o.flatten(ctx, trade.ID, trade.Legs)
	if err := trade.Transition(models.StatusFailed, "entry_failed"); err != nil {
		o.logger.WithError(err).Error("failed-trade transition rejected")
	}
	trade.ExitReason = reason
	if err := o.store.UpdateTrade(trade); err != nil {
		o.logger.WithError(err).Error("persist failed trade")
	}
	o.notifier.Critical(fmt.Sprintf("Entry aborted for %s: %s", trade.Strategy, reason))
}

// preflight validates the leg set before anything touches the broker.
func (o *Orchestrator) preflight(legs []models.OptionLeg) error {
	if len(legs) == 0 {
		return fmt.Errorf("no legs to execute")
	}
	total := 0
	for i := range legs {
		if err := legs[i].Validate(); err != nil {
			return err
		}
		total += legs[i].Quantity
	}
	if total > o.cfg.MaxContracts {
		return fmt.Errorf("total quantity %d exceeds contract limit %d", total, o.cfg.MaxContracts)
	}

	maxLoss, credit := strategy.RiskBound(legs)
	if maxLoss > o.cfg.MaxLossPerTrade {
		return fmt.Errorf("max loss %.0f exceeds per-trade limit %.0f", maxLoss, o.cfg.MaxLossPerTrade)
	}

	// An entry whose costs eat the premium is not worth placing.
	brokerage := o.cfg.BrokeragePerOrder * float64(len(legs))
	if credit > 0 && brokerage > 0.95*credit {
		return fmt.Errorf("brokerage %.0f exceeds 95%% of projected premium %.0f", brokerage, credit)
	}
	return nil
}

// checkMargin confirms the broker will fund the position before any leg is
// placed. The risk manager applies the utilization cap upstream; this is the
// last gate for strategies dispatched straight through the API.
func (o *Orchestrator) checkMargin(ctx context.Context, legs []models.OptionLeg) error {
	margin, err := o.broker.RequiredMargin(ctx, legs)
	if err != nil {
		return fmt.Errorf("margin query: %w", err)
	}
	funds, err := o.broker.AvailableFunds(ctx)
	if err != nil {
		return fmt.Errorf("funds query: %w", err)
	}
	if margin > funds {
		return fmt.Errorf("required margin %.0f exceeds available funds %.0f", margin, funds)
	}
	return nil
}

// ExitStrategy unwinds an open trade by reversing its filled legs through
// the same execution primitive, reference-priced at live LTPs.
func (o *Orchestrator) ExitStrategy(ctx context.Context, tradeID, reason string) (*models.Trade, error) {
	trade, err := o.store.GetTrade(tradeID)
	if err != nil {
		return nil, fmt.Errorf("load trade: %w", err)
	}
	if trade.Status != models.StatusOpen {
		return nil, fmt.Errorf("trade %s is %s, not open", tradeID, trade.Status)
	}

	var exits []models.OptionLeg
	for i := range trade.Legs {
		if !trade.Legs[i].Filled() {
			continue
		}
		rev := trade.Legs[i].Reversed()
		ltp, lerr := o.broker.GetLTP(ctx, rev.InstrumentKey)
		if lerr != nil {
			return nil, fmt.Errorf("exit LTP for %s: %w", rev.InstrumentKey, lerr)
		}
		rev.RefPrice = ltp
		exits = append(exits, rev)
	}
	if len(exits) == 0 {
		return nil, fmt.Errorf("trade %s has no filled legs", tradeID)
	}

	if err := trade.Transition(models.StatusClosing, "exit_dispatched"); err != nil {
		return nil, fmt.Errorf("trade transition: %w", err)
	}
	trade.ExitReason = reason
	if err := o.store.UpdateTrade(trade); err != nil {
		return nil, fmt.Errorf("persist closing trade: %w", err)
	}

	exitCtx, cancel := context.WithTimeout(ctx, o.cfg.OrderTimeout*3/2)
	defer cancel()
	g, gctx := errgroup.WithContext(exitCtx)
	for i := range exits {
		leg := &exits[i]
		g.Go(func() error {
			return o.newExecutor().executeLeg(gctx, trade.ID, leg)
		})
	}
	if err := g.Wait(); err != nil {
		// Filled exit legs stay filled; force the residual flat and fold the
		// flatten fills back into the exit accounting.
		flattened, unflattened := o.flatten(ctx, trade.ID, residualLegs(trade.Legs, exits))
		exits = mergeExitFills(exits, flattened)
		if len(unflattened) > 0 {
			// The trade still has live exposure. Persist what did fill and
			// leave the status at closing for the manual follow-up.
			trade.ExitLegs = exits
			trade.RealizedPnL = realizedPnL(trade.Legs, exits)
			if uerr := o.store.UpdateTrade(trade); uerr != nil {
				o.logger.WithError(uerr).Error("persist closing trade")
			}
			return nil, fmt.Errorf("exit incomplete: %d legs still open on trade %s", len(unflattened), trade.ID)
		}
	}

	trade.ExitLegs = exits
	trade.RealizedPnL = realizedPnL(trade.Legs, exits)
	trade.ExitTime = time.Now()
	if err := trade.Transition(models.StatusClosed, "exit_filled"); err != nil {
		return nil, fmt.Errorf("trade transition: %w", err)
	}
	if err := o.store.UpdateTrade(trade); err != nil {
		return nil, fmt.Errorf("persist closed trade: %w", err)
	}

	if o.results != nil {
		if rerr := o.results.RecordTradeResult(trade.RealizedPnL); rerr != nil {
			o.logger.WithError(rerr).Error("trade result accounting failed")
		}
		today := time.Now().In(o.loc).Format("2006-01-02")
		if realized, derr := o.store.DailyRealizedPnL(today); derr == nil {
			if cerr := o.results.CheckDailyLoss(realized); cerr != nil {
				o.logger.WithError(cerr).Error("daily loss check failed")
			}
		}
	}

	o.notifier.Info(fmt.Sprintf("Closed %s (%s), realized P&L %.0f",
		trade.Strategy, reason, trade.RealizedPnL))
	o.logger.WithFields(logrus.Fields{
		"trade":    trade.ID,
		"reason":   reason,
		"realized": trade.RealizedPnL,
	}).Info("trade exited")
	return trade, nil
}

// realizedPnL is Σ (entry − exit)·qty over short legs and Σ (exit − entry)·qty
// over long legs, matching exits to entries by instrument.
func realizedPnL(entries, exits []models.OptionLeg) float64 {
	exitByKey := make(map[string]models.OptionLeg, len(exits))
	for _, e := range exits {
		exitByKey[e.InstrumentKey] = e
	}
	var pnl float64
	for _, entry := range entries {
		if !entry.Filled() {
			continue
		}
		exit, ok := exitByKey[entry.InstrumentKey]
		if !ok || !exit.Filled() {
			continue
		}
		qty := float64(exit.FilledQty)
		if entry.Side == models.SideSell {
			pnl += (entry.AvgPrice - exit.AvgPrice) * qty
		} else {
			pnl += (exit.AvgPrice - entry.AvgPrice) * qty
		}
	}
	return pnl
}

// mergeExitFills replaces exit legs that never filled with the flatten fills
// for the same instrument.
func mergeExitFills(exits, flattened []models.OptionLeg) []models.OptionLeg {
	byKey := make(map[string]models.OptionLeg, len(flattened))
	for _, f := range flattened {
		byKey[f.InstrumentKey] = f
	}
	for i := range exits {
		if exits[i].Filled() {
			continue
		}
		if f, ok := byKey[exits[i].InstrumentKey]; ok {
			exits[i] = f
		}
	}
	return exits
}

// residualLegs returns the entry legs whose exits did not fill, so flatten
// can target just the remaining exposure.
func residualLegs(entries, exits []models.OptionLeg) []models.OptionLeg {
	filledExit := make(map[string]bool, len(exits))
	for _, e := range exits {
		if e.Filled() {
			filledExit[e.InstrumentKey] = true
		}
	}
	var out []models.OptionLeg
	for _, entry := range entries {
		if entry.Filled() && !filledExit[entry.InstrumentKey] {
			out = append(out, entry)
		}
	}
	return out
}

func entryCredit(legs []models.OptionLeg) float64 {
	var credit float64
	for _, l := range legs {
		if !l.Filled() {
			continue
		}
		amt := l.AvgPrice * float64(l.FilledQty)
		if l.Side == models.SideSell {
			credit += amt
		} else {
			credit -= amt
		}
	}
	return credit
}

func splitIndexes(legs []models.OptionLeg) (hedges, cores []int) {
	for i := range legs {
		if legs[i].Role == models.RoleHedge {
			hedges = append(hedges, i)
		} else {
			cores = append(cores, i)
		}
	}
	return hedges, cores
}

// bumpDailyCount refreshes today's aggregate row from the trades table.
func (o *Orchestrator) bumpDailyCount(trade *models.Trade) {
	today := time.Now().In(o.loc).Format("2006-01-02")
	count, err := o.store.DailyTradeCount(today)
	if err != nil {
		o.logger.WithError(err).Error("daily trade count read failed")
		return
	}
	realized, err := o.store.DailyRealizedPnL(today)
	if err != nil {
		o.logger.WithError(err).Error("daily realized pnl read failed")
	}
	deployed, err := o.store.DeployedCapital()
	if err != nil {
		o.logger.WithError(err).Error("deployed capital read failed")
		deployed = trade.Deployment
	}
	if err := o.store.UpsertDailyMetrics(storage.DailyMetrics{
		Date:            today,
		TradesCount:     count,
		Realized:        realized,
		TotalPnL:        realized,
		CapitalDeployed: deployed,
	}); err != nil {
		o.logger.WithError(err).Error("daily metrics upsert failed")
	}
}
