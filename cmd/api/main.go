package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/montrack/montrack-api/internal/config"
	"github.com/montrack/montrack-api/internal/handlers"
	"github.com/montrack/montrack-api/internal/logger"
	"github.com/montrack/montrack-api/internal/middleware"
	"github.com/montrack/montrack-api/internal/services"
	"github.com/montrack/montrack-api/internal/store"
	"github.com/montrack/montrack-api/internal/utils"
	"github.com/rs/zerolog"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		fmt.Println("Warning: .env file not found, using system environment variables")
	}

	cfg, err := config.LoadFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Pretty console output in development, plain JSON in production.
	log := logger.New()
	if cfg.Environment == "production" {
		log = logger.NewWithWriter(os.Stdout)
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		log = log.Level(level)
	}

	connectCtx, cancelConnect := context.WithTimeout(context.Background(), cfg.DBConnectionTimeout)
	defer cancelConnect()

	st, err := store.NewPostgresStore(connectCtx, cfg.DatabaseURL, cfg.DBMaxConnections)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer st.Close()
	log.Info().Msg("connected to database")

	// Core services
	bus := services.NewEventBus(cfg.EventBusBuffer)
	defer bus.Close()

	converter := services.NewConverter()
	ledger := services.NewLedger(st, converter, bus, log)
	linker := services.NewLinker(st, ledger, log,
		services.WithDateWindowDays(cfg.AutolinkDateWindowDays))

	// Handlers
	transactionHandler := handlers.NewTransactionHandler(ledger, log)
	refundHandler := handlers.NewRefundHandler(ledger, log)
	syncHandler := handlers.NewSyncHandler(ledger, linker, log)

	app := fiber.New(fiber.Config{
		AppName:      "montrack API v1.0",
		ErrorHandler: utils.ErrorHandler,
	})

	// Global middleware
	app.Use(middleware.CORS())
	app.Use(middleware.RequestLogger(log))

	// Health check endpoint (public)
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "montrack-api",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API v1 routes
	v1 := app.Group("/v1")

	// Internal routes, called by the bank-sync components
	internal := v1.Group("/internal")
	internal.Post("/sync/transactions", syncHandler.IngestTransaction)
	internal.Post("/sync/autolink", syncHandler.TriggerAutolink)

	// Protected routes
	protected := v1.Group("", middleware.UserAuth())

	protected.Post("/transactions", transactionHandler.CreateTransaction)
	protected.Put("/transactions/:id", transactionHandler.UpdateTransaction)
	protected.Delete("/transactions/:id", transactionHandler.DeleteTransaction)
	protected.Post("/transactions/link", transactionHandler.LinkTransactions)
	protected.Get("/transactions/:id/splits", transactionHandler.GetSplits)

	protected.Post("/refunds", refundHandler.LinkRefund)
	protected.Delete("/refunds/:refundTxId", refundHandler.UnlinkRefund)

	// Graceful shutdown on SIGINT/SIGTERM
	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("shutdown failed")
		}
	}()

	addr := fmt.Sprintf(":%d", cfg.Port)
	log.Info().Str("addr", addr).Msg("montrack API listening")
	if err := app.Listen(addr); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
