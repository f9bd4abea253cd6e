package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"execution-core/internal/api"
	"execution-core/internal/events"
	"execution-core/internal/market"
	"execution-core/internal/monitor"
	"execution-core/internal/order"
	"execution-core/internal/portfolio"
	"execution-core/internal/reconciliation"
	"execution-core/internal/risk"
	"execution-core/internal/schedule"
	"execution-core/pkg/config"
	"execution-core/pkg/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}
	log.Printf("starting execution core on port %s, db %s", cfg.Port, cfg.DBPath)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("db init failed: %v", err)
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		log.Fatalf("db migrations failed: %v", err)
	}

	ledger := portfolio.NewLedger(database)
	if err := seedPortfolio(ctx, ledger, cfg); err != nil {
		log.Fatalf("seed portfolio failed: %v", err)
	}

	cal, err := schedule.LoadCalendar(cfg.CalendarPath)
	if err != nil {
		log.Fatalf("calendar load failed: %v", err)
	}

	// Market data: synthetic feed fronted by the cached rate-limited gateway
	feed := &market.MockFeed{
		Bus:        bus,
		Symbols:    cfg.Symbols,
		StartPrice: cfg.FeedStartPrice,
		StepPct:    cfg.FeedStepPct,
		Interval:   time.Duration(cfg.FeedIntervalMs) * time.Millisecond,
	}
	feed.Start(ctx)
	log.Printf("mock feed started for %v", cfg.Symbols)

	gateway := market.NewCachedGateway(
		feed,
		time.Duration(cfg.QuoteTTLMs)*time.Millisecond,
		cfg.QuoteRateLimit,
		cfg.QuoteBurst,
		time.Duration(cfg.QuoteTimeoutMs)*time.Millisecond,
	)

	sysMetrics := monitor.NewSystemMetrics()

	// Ticks warm the quote cache and feed the tick counter.
	tickStream, unsubTicks := bus.Subscribe(events.EventPriceTick, 100)
	defer unsubTicks()
	go func() {
		for msg := range tickStream {
			tick, ok := msg.(events.Tick)
			if !ok {
				continue
			}
			gateway.Observe(tick)
			sysMetrics.IncrementTicks()
		}
	}()

	validator := risk.New()

	sweeper := &monitor.Sweeper{
		DB:         database,
		Ledger:     ledger,
		Gateway:    gateway,
		Bus:        bus,
		Metrics:    sysMetrics,
		Interval:   time.Duration(cfg.SweepIntervalMs) * time.Millisecond,
		Commission: cfg.CommissionRate,
		Reference:  cfg.ReferencePrice,
		Exits: monitor.ExitPolicy{
			StopPct:    cfg.DefaultStopPct,
			RewardRisk: cfg.RewardRiskRatio,
		},
	}
	sweeper.Start(ctx)
	log.Printf("sweeper started, interval %dms, reference %q", cfg.SweepIntervalMs, cfg.ReferencePrice)

	reporter := &reconciliation.Reporter{DB: database, Ledger: ledger, Bus: bus}

	scheduler := &schedule.Scheduler{
		DB:            database,
		Ledger:        ledger,
		Validator:     validator,
		Gateway:       gateway,
		Bus:           bus,
		Calendar:      cal,
		Reporter:      reporter,
		RetentionDays: cfg.RetentionDays,
		Symbols:       cfg.Symbols,
	}
	if cfg.RunScheduler {
		scheduler.Start(ctx, time.Duration(cfg.HourlyIntervalMs)*time.Millisecond)
		log.Println("lifecycle scheduler started")
	}

	alerts := &monitor.Watcher{Bus: bus, Sink: monitor.LogSink{}}
	alerts.Start(ctx)

	version := os.Getenv("APP_VERSION")
	if version == "" {
		version = "v1.0-dev"
	}

	server := api.NewServer(
		bus,
		database,
		ledger,
		validator,
		gateway,
		scheduler,
		cal,
		sysMetrics,
		api.SystemMeta{
			Symbols:          cfg.Symbols,
			DefaultPortfolio: cfg.SeedPortfolioID,
			Version:          version,
		},
	)
	go func() {
		if err := server.Start(":" + cfg.Port); err != nil {
			log.Fatalf("api server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan
	log.Println("shutting down")
}

// seedPortfolio makes sure a fresh database has a portfolio to trade with.
func seedPortfolio(ctx context.Context, ledger *portfolio.Ledger, cfg *config.Config) error {
	_, err := ledger.Snapshot(ctx, cfg.SeedPortfolioID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, order.ErrValidation) {
		return err
	}

	now := time.Now().UTC()
	p := db.Portfolio{
		ID:                cfg.SeedPortfolioID,
		Cash:              cfg.SeedInitialCash,
		TotalValue:        cfg.SeedInitialCash,
		DayTradingEnabled: cfg.SeedDayTrading,
		RiskTolerance:     cfg.SeedRiskTol,
		MaxPositionPct:    cfg.SeedMaxPosPct,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := ledger.Create(ctx, p); err != nil {
		return err
	}
	log.Printf("seeded portfolio %s with %.2f cash", p.ID, p.Cash)
	return nil
}
