package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shritish20/Volguard/internal/api"
	"github.com/shritish20/Volguard/internal/broker"
	"github.com/shritish20/Volguard/internal/calendar"
	"github.com/shritish20/Volguard/internal/config"
	"github.com/shritish20/Volguard/internal/controller"
	"github.com/shritish20/Volguard/internal/marketdata"
	"github.com/shritish20/Volguard/internal/monitor"
	"github.com/shritish20/Volguard/internal/notify"
	"github.com/shritish20/Volguard/internal/orders"
	"github.com/shritish20/Volguard/internal/participant"
	"github.com/shritish20/Volguard/internal/regime"
	"github.com/shritish20/Volguard/internal/risk"
	"github.com/shritish20/Volguard/internal/storage"
	"github.com/shritish20/Volguard/internal/strategy"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Veto-event windows: entries are blocked well ahead of a binary event,
// open positions are unwound only when the event is imminent.
const (
	entryVetoWindow = 48 * time.Hour
	exitVetoWindow  = 2 * time.Hour
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Optional; credentials usually arrive through the environment.
	_ = godotenv.Load()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "volguard: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.Logging)
	logger.WithFields(logrus.Fields{
		"environment": cfg.Environment,
		"dry_run":     cfg.DryRun,
	}).Info("starting volguard")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("volguard exited")
	}
	logger.Info("volguard stopped")
}

func newLogger(lc config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(lc.Level); err == nil {
		logger.SetLevel(level)
	}
	if lc.Dir != "" {
		if err := os.MkdirAll(lc.Dir, 0o755); err == nil {
			path := filepath.Join(lc.Dir, "volguard.log")
			if f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644); err == nil {
				logger.SetOutput(io.MultiWriter(os.Stdout, f))
			}
		}
	}
	return logger
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	loc := cfg.Location()

	store, err := storage.Open(cfg.Storage.DBPath, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	session := broker.NewSession(cfg.Broker.BaseURL, cfg.Broker.AccessToken,
		cfg.Broker.RefreshToken, cfg.Broker.ClientID, cfg.Broker.ClientSecret,
		store, logger)
	upstox := broker.NewUpstoxAPI(cfg.Broker.BaseURL, cfg.BrokerTimeout(),
		cfg.Broker.MaxRetries, session, logger)

	var b broker.Broker = broker.NewBreakerBroker(upstox)
	if cfg.DryRun {
		logger.Warn("dry run: orders are simulated, market data is live")
		b = broker.NewPaperBroker(b, cfg.Capital.BaseCapital, time.Now().UnixNano(), logger)
	}

	cache := marketdata.NewCache()
	stream := marketdata.NewStream(upstox, cache, logger)

	marketSession, err := calendar.NewSession(loc, cfg.Schedule.MarketOpen,
		cfg.Schedule.MarketClose, cfg.Schedule.SquareOffTime)
	if err != nil {
		return fmt.Errorf("market session: %w", err)
	}

	breaker, err := risk.NewCircuitBreaker(risk.BreakerConfig{
		BaseCapital:      cfg.Capital.BaseCapital,
		DailyLossPct:     cfg.Risk.MaxDailyLossPct,
		MaxDrawdownPct:   cfg.Risk.MaxDrawdownPct,
		MaxLossStreak:    cfg.Risk.MaxConsecutiveLosses,
		MaxSlippageDaily: cfg.Risk.MaxSlippageEvents,
		Cooldown:         cfg.BreakerCooldown(),
		KillSwitchFile:   cfg.Risk.KillSwitchFile,
	}, store, logger, loc)
	if err != nil {
		return err
	}

	riskMgr := risk.NewManager(risk.Limits{
		BaseCapital:        cfg.Capital.BaseCapital,
		MaxAllocationPct:   cfg.Capital.MaxAllocationPct,
		MarginUtilCap:      cfg.Capital.MarginUtilizationCap,
		MaxContracts:       cfg.Capital.MaxContractsPerInstr,
		MaxTradesPerDay:    cfg.Capital.MaxTradesPerDay,
		MaxDrawdownPct:     cfg.Risk.MaxDrawdownPct,
		MaxCapitalPerTrade: cfg.Capital.MaxCapitalPerTrade,
		VetoWindow:         entryVetoWindow,
	}, breaker, store, b, cache, marketSession, broker.NiftyKey, loc, logger)

	telegram, err := notify.NewTelegram(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID, logger)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}

	builder := strategy.NewBuilder(cfg.Capital.MaxLossPerTrade, logger)
	orch := orders.NewOrchestrator(b, store, breaker, breaker, telegram, logger, loc, orders.Config{
		TickSize:          cfg.Orders.TickSize,
		PollInterval:      cfg.PollInterval(),
		OrderTimeout:      cfg.OrderTimeout(),
		MaxLossPerTrade:   cfg.Capital.MaxLossPerTrade,
		MaxContracts:      cfg.Capital.MaxContractsPerInstr,
		BrokeragePerOrder: cfg.Capital.BrokeragePerOrder,
	})

	ctrl := controller.New(controller.Deps{
		Broker:      b,
		Store:       store,
		Cache:       cache,
		Stream:      stream,
		Calendar:    calendar.NewEngine(logger, loc),
		Participant: participant.NewFetcher(logger),
		RiskManager: riskMgr,
		Builder:     builder,
		Orch:        orch,
		Session:     marketSession,
		Sizing: regime.Sizing{
			BaseCapital:        cfg.Capital.BaseCapital,
			MaxCapitalPerTrade: cfg.Capital.MaxCapitalPerTrade,
			MarginSellBase:     cfg.Capital.MarginSellBase,
		},
		Interval:   cfg.AnalysisInterval(),
		VetoWindow: entryVetoWindow,
		AutoTrade:  cfg.Environment == "PRODUCTION" || cfg.DryRun,
		Location:   loc,
		Logger:     logger,
	})

	mon := monitor.New(store, cache, orch, marketSession, monitor.Rules{
		TargetProfitPct:   cfg.Monitor.TargetProfitPct,
		StopLossPct:       cfg.Monitor.StopLossPct,
		ExitDTE:           cfg.Monitor.ExitDTE,
		MaxPortfolioDelta: cfg.Monitor.MaxPortfolioDelta,
		MinThetaVega:      cfg.Monitor.MinThetaVega,
		VetoWindow:        exitVetoWindow,
	}, cfg.ExitCheckInterval(), loc, ctrl.Events, logger)

	hub := api.NewHub(logger)
	broadcaster := api.NewBroadcaster(hub, store, cfg.BroadcastInterval(), logger)
	server := api.NewServer(ctrl, store, b, orch, builder, riskMgr, session, hub,
		cfg.Capital.BaseCapital, logger)
	httpServer := &http.Server{
		Addr:    cfg.API.ListenAddr,
		Handler: server.Router(),
	}

	stream.Subscribe(initialSubscriptions(store, logger))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		stream.Run(ctx)
		return nil
	})
	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})
	g.Go(func() error {
		broadcaster.Run(ctx)
		return nil
	})
	g.Go(func() error {
		mon.Run(ctx)
		return nil
	})
	g.Go(func() error {
		ctrl.Run(ctx)
		return nil
	})
	g.Go(func() error {
		logger.WithField("addr", cfg.API.ListenAddr).Info("api listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// initialSubscriptions restores the market-data feed after a restart: the
// index and VIX always, plus every filled leg of trades still on the book.
func initialSubscriptions(store storage.Interface, logger *logrus.Logger) []string {
	keys := []string{broker.NiftyKey, broker.VIXKey}
	trades, err := store.ActiveTrades()
	if err != nil {
		logger.WithError(err).Warn("active trade restore failed, subscribing index only")
		return keys
	}
	for _, t := range trades {
		for _, leg := range t.Legs {
			if leg.Filled() {
				keys = append(keys, leg.InstrumentKey)
			}
		}
	}
	if len(trades) > 0 {
		logger.WithField("trades", len(trades)).Info("resuming open positions")
	}
	return keys
}
