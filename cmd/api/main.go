package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/littleweaver/brambling/api/routes"
	cartsvc "github.com/littleweaver/brambling/internal/cart"
	discountsvc "github.com/littleweaver/brambling/internal/discounts"
	"github.com/littleweaver/brambling/internal/events"
	"github.com/littleweaver/brambling/internal/ledger"
	ordersvc "github.com/littleweaver/brambling/internal/orders"
	paymentsvc "github.com/littleweaver/brambling/internal/payments"
	refundsvc "github.com/littleweaver/brambling/internal/refunds"
	transfersvc "github.com/littleweaver/brambling/internal/transfers"
	dwollawebhook "github.com/littleweaver/brambling/internal/webhooks/dwolla"
	stripewebhook "github.com/littleweaver/brambling/internal/webhooks/stripe"
	"github.com/littleweaver/brambling/pkg/config"
	"github.com/littleweaver/brambling/pkg/db"
	"github.com/littleweaver/brambling/pkg/dwolla"
	"github.com/littleweaver/brambling/pkg/logger"
	"github.com/littleweaver/brambling/pkg/metrics"
	"github.com/littleweaver/brambling/pkg/migrate"
	"github.com/littleweaver/brambling/pkg/outbox"
	"github.com/littleweaver/brambling/pkg/redis"
)

const stripeGuardTTL = 24 * time.Hour

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	dbClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}
	if err := migrate.MaybeSeedDemo(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to seed demo data", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	ledgerMetrics := metrics.NewLedgerMetrics(prometheus.DefaultRegisterer)

	var dwollaClient *dwolla.Client
	if cfg.Dwolla.AppKey != "" {
		dwollaClient, err = dwolla.NewClient(cfg.Dwolla.AppKey, cfg.Dwolla.AppSecret, dwolla.WithBaseURL(cfg.Dwolla.BaseURL))
		if err != nil {
			logg.Error(context.Background(), "failed to create dwolla client", err)
			os.Exit(1)
		}
	}

	gormDB := dbClient.DB()
	eventsRepo := events.NewRepository(gormDB)
	ordersRepo := ordersvc.NewRepository(gormDB)
	discountsRepo := discountsvc.NewRepository(gormDB)
	ledgerRepo := ledger.NewRepository(gormDB)
	outboxService := outbox.NewService(outbox.NewRepository(gormDB), logg)

	ordersService, err := ordersvc.NewService(dbClient, ordersRepo)
	exitOnError(logg, "orders service", err)

	cartService, err := cartsvc.NewService(dbClient, discountsRepo, outboxService, ledgerMetrics)
	exitOnError(logg, "cart service", err)

	discountsService, err := discountsvc.NewService(dbClient, discountsRepo)
	exitOnError(logg, "discounts service", err)

	var paymentsDwolla paymentsvc.DwollaGateway
	var refundsDwolla refundsvc.DwollaGateway
	if dwollaClient != nil {
		paymentsDwolla = dwollaClient
		refundsDwolla = dwollaClient
	}

	paymentsService, err := paymentsvc.NewService(dbClient, outboxService, nil, paymentsDwolla)
	exitOnError(logg, "payments service", err)

	refundsService, err := refundsvc.NewService(dbClient, outboxService, nil, refundsDwolla, ledgerMetrics)
	exitOnError(logg, "refunds service", err)

	transfersService, err := transfersvc.NewService(dbClient, outboxService)
	exitOnError(logg, "transfers service", err)

	stripeWebhookService, err := stripewebhook.NewService(stripewebhook.ServiceParams{
		TransactionRunner: dbClient,
		Outbox:            outboxService,
		Logger:            logg,
		Metrics:           ledgerMetrics,
	})
	exitOnError(logg, "stripe webhook service", err)

	stripeGuard, err := stripewebhook.NewIdempotencyGuard(redisClient, stripeGuardTTL, "stripe-webhook")
	exitOnError(logg, "stripe webhook guard", err)

	var dwollaWebhookService *dwollawebhook.Service
	if dwollaClient != nil {
		dwollaWebhookService, err = dwollawebhook.NewService(dwollawebhook.ServiceParams{
			TransactionRunner: dbClient,
			Verifier:          dwollaClient,
			Logger:            logg,
			Metrics:           ledgerMetrics,
		})
		exitOnError(logg, "dwolla webhook service", err)
	}

	handler := routes.NewRouter(cfg, logg, routes.Deps{
		DB:             dbClient,
		Redis:          redisClient,
		EventsRepo:     eventsRepo,
		OrdersRepo:     ordersRepo,
		LedgerRepo:     ledgerRepo,
		Orders:         ordersService,
		Cart:           cartService,
		Discounts:      discountsService,
		Payments:       paymentsService,
		Refunds:        refundsService,
		Transfers:      transfersService,
		StripeWebhooks: stripeWebhookService,
		StripeGuard:    stripeGuard,
		DwollaWebhooks: dwollaWebhookService,
	})

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr:    addr,
		Handler: handler,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func exitOnError(logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+what, err)
	os.Exit(1)
}
