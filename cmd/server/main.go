package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/njordpay/njord/internal"
	"github.com/njordpay/njord/internal/alert"
	"github.com/njordpay/njord/internal/gateway"
	"github.com/njordpay/njord/internal/handler/api"
	"github.com/njordpay/njord/internal/handler/webhook"
	"github.com/njordpay/njord/internal/ledger"
	"github.com/njordpay/njord/internal/middleware"
	"github.com/njordpay/njord/internal/pricing"
	"github.com/njordpay/njord/internal/routes"
	"github.com/njordpay/njord/internal/service"
	"github.com/njordpay/njord/internal/telemetry"
	"github.com/njordpay/njord/internal/worker"
)

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := internal.NewConfig()
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger := internal.NewLogger(os.Stdout, cfg.Env, cfg.LogLevel)

	// Ledger backend.
	var ldgr ledger.Ledger
	if cfg.LedgerBackend == "postgres" {
		logger.Info().Msg("connecting to database")
		sqlDB, err := sql.Open("pgx", cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		defer sqlDB.Close()

		if err := sqlDB.Ping(); err != nil {
			return fmt.Errorf("database ping failed: %w", err)
		}

		logger.Info().Msg("running database migrations")
		if err := internal.RunMigrations(sqlDB); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}

		pool, err := pgxpool.New(ctx, cfg.DatabaseUrl)
		if err != nil {
			return fmt.Errorf("failed to create connection pool: %w", err)
		}
		defer pool.Close()

		ldgr = ledger.NewPostgresLedger(pool)
	} else {
		logger.Warn().Msg("using in-memory ledger, grants will not survive a restart")
		ldgr = ledger.NewMemoryLedger()
	}

	// Payment gateway.
	var gw gateway.Provider
	if cfg.Gateway == "stripe" {
		stripeGw, err := gateway.NewStripeProvider(cfg.Stripe)
		if err != nil {
			return fmt.Errorf("failed to initialize stripe gateway: %w", err)
		}
		if cfg.Stripe.IsTestMode() {
			logger.Warn().Msg("stripe gateway running in test mode")
		}
		gw = stripeGw
	} else {
		logger.Warn().Msg("using mock payment gateway")
		gw = &gateway.MockProvider{}
	}

	// Ops alerts.
	var alerts alert.Publisher = alert.NoopPublisher{}
	if cfg.NatsUrl != "" {
		nc, err := nats.Connect(cfg.NatsUrl,
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return fmt.Errorf("failed to connect to nats: %w", err)
		}
		defer nc.Drain()
		alerts = alert.NewNATSPublisher(nc, logger)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := telemetry.NewBusinessMetrics(registry)

	tiers := pricing.DefaultTiers()
	resolver := pricing.NewResolver(
		pricing.StaticRateSource{Rate: cfg.Pricing.ExchangeRate},
		tiers,
		pricing.FeePolicy{Percent: cfg.Pricing.FeePercent, Minimum: cfg.Pricing.FeeMinimum},
	)

	checkout := service.NewCheckoutService(service.CheckoutConfig{
		Pricing:           resolver,
		Gateway:           gw,
		Ledger:            ldgr,
		Alerts:            alerts,
		Metrics:           metrics,
		Logger:            logger,
		SessionTTL:        cfg.Checkout.SessionTTL,
		MaxActionAttempts: cfg.Checkout.MaxActionAttempts,
	})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))
	e.Use(echomw.Recover())

	routes.Register(e, routes.Deps{
		Checkout: api.NewCheckoutHandler(checkout, ldgr, tiers, logger),
		Webhook: webhook.NewStripeHandler(webhook.StripeHandlerConfig{
			Gateway:       gw,
			WebhookSecret: cfg.Stripe.WebhookSecret,
			Ledger:        ldgr,
			Alerts:        alerts,
			Metrics:       metrics,
			Logger:        logger,
		}),
		Registry: registry,
	})

	settlementWorker := worker.New(checkout, worker.Config{
		PollInterval:  cfg.Worker.PollInterval,
		SweepInterval: cfg.Worker.SweepInterval,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Uint16("port", cfg.Port).Str("env", cfg.Env).Msg("server listening")
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		err := settlementWorker.Run(gctx)
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
