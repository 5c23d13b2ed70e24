package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"billing/internal/amqp"
	"billing/internal/cli"
	"billing/internal/currency"
	apphttp "billing/internal/http"
	applog "billing/internal/log"
	"billing/internal/middleware/ratelimit"
	"billing/internal/services"
)

func main() {
	cfg, logger := cli.MustBootstrap()

	backendRes, err := cli.OpenStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize data backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	var publisher services.Publisher
	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			// Invoices stay in the outbox and are exported by the worker's sweep.
			logger.Warn("AMQP unavailable, running without publisher", applog.FieldError, err)
		} else {
			publisher = amqpClient
		}
	}

	formatter, err := currency.NewFormatter(cfg.Locale)
	if err != nil {
		logger.Error("Invalid locale", applog.FieldError, err, "locale", cfg.Locale)
		os.Exit(1)
	}

	billing := services.NewBillingService(backendRes.Store, publisher, services.BillingConfig{
		DefaultTaxRate:   cfg.DefaultTaxRate,
		PaymentTermsDays: cfg.PaymentTermsDays,
	}, logger)

	srv, err := apphttp.NewServer(":"+cfg.Port, billing, apphttp.Options{
		Formatter: formatter,
		Ready:     backendRes.Store,
		RateLimit: ratelimit.Config{
			Requests: cfg.RateLimitRequests,
			Window:   cfg.RateLimitWindow,
		},
		TrustedProxies:  cfg.TrustedProxies,
		InvoiceCacheTTL: 5 * time.Minute,
		Logger:          logger,
	})
	if err != nil {
		logger.Error("Failed to build HTTP server", applog.FieldError, err)
		os.Exit(1)
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", applog.FieldError, err)
		}
		if amqpClient != nil {
			if err := amqpClient.Close(); err != nil {
				logger.Error("Failed to close AMQP client", applog.FieldError, err)
			}
		}
		if err := backendRes.Cleanup(); err != nil {
			logger.Error("Failed to close data backend", applog.FieldError, err)
		}
	})

	logger.Info("Starting billing server", "port", cfg.Port, "backend", cfg.DataBackend, "publisher", publisher != nil)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", applog.FieldError, err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
