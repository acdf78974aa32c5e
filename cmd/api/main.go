package main

import (
	"context"
	"log"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stampd/internal/config"
	"stampd/internal/database"
	"stampd/internal/database/migration"
	"stampd/internal/gateway"
	handlers "stampd/internal/http/handler"
	"stampd/internal/http/middleware"
	"stampd/internal/otel"
	"stampd/internal/repository/postgres"
	"stampd/internal/service"
	"stampd/internal/storage"
	"stampd/internal/tsa"
)

func main() {
	// Load configuration from environment variables (.env auto-loaded if present)
	cfg := config.Load()

	loc := time.UTC
	ctx := context.Background()

	shutdownTracing, err := otel.Init(ctx, loc)
	if err != nil {
		log.Fatalf("failed to initialize tracing: %v", err)
	}
	defer shutdownTracing(ctx)

	// Initialize PostgreSQL connection (with pooling via database/sql)
	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer db.Close()

	if err := migration.EnsureMigrated(ctx, db, loc, cfg.Database.Host); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	// Initialize reusable S3-compatible object storage client (MinIO-supported)
	objStore, err := storage.NewMinIO(cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to initialize object storage: %v", err)
	}

	gw, err := gateway.NewHTTPClient(cfg.Gateway)
	if err != nil {
		log.Fatalf("failed to initialize gateway client: %v", err)
	}

	authorities := tsa.FromConfig(cfg.TSA)

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Initialize repositories and services
	ledgerRepo := postgres.NewLedgerPostgres(db)
	regRepo := postgres.NewRegistrationPostgres(db)
	anchorRepo := postgres.NewAnchorPostgres(db)
	eventRepo := postgres.NewWebhookEventPostgres(db)
	paymentRepo := postgres.NewPaymentPostgres(db)
	subRepo := postgres.NewSubscriptionPostgres(db)

	ledgerSvc := service.NewLedgerService(ledgerRepo)
	webhookSvc, err := service.NewWebhookService(cfg.Webhook.Token, ledgerSvc, eventRepo, paymentRepo, subRepo, gw, registry)
	if err != nil {
		log.Fatalf("failed to initialize webhook service: %v", err)
	}
	pipelineSvc, err := service.NewPipelineService(regRepo, anchorRepo, ledgerSvc, objStore, authorities, cfg.Pipeline.MaxAttempts, registry)
	if err != nil {
		log.Fatalf("failed to initialize pipeline service: %v", err)
	}
	reconcilerSvc := service.NewReconcilerService(ledgerRepo)
	verifySvc := service.NewVerificationService(regRepo, anchorRepo)

	app := fiber.New(fiber.Config{
		ErrorHandler: handlers.ErrorHandler(),
	})

	// Register global middleware
	// RequestID middleware adds/propagates X-Request-ID and stores it in context
	app.Use(middleware.RequestID())
	// JSON Logger middleware for structured request logs
	app.Use(middleware.Logger())

	promMW, err := middleware.NewPrometheusMiddleware(registry)
	if err != nil {
		log.Fatalf("failed to initialize prometheus middleware: %v", err)
	}
	app.Use(promMW.Handler())

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// Register HTTP routes with injected services
	handlers.RegisterRoutes(app, db, handlers.Services{
		Ledger:     ledgerSvc,
		Webhook:    webhookSvc,
		Pipeline:   pipelineSvc,
		Reconciler: reconcilerSvc,
		Verify:     verifySvc,
	})

	addr := ":" + cfg.Port

	if err := app.Listen(addr); err != nil {
		log.Fatalf("failed to start server: %v", err)
	}
}
