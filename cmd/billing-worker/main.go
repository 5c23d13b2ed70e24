package main

import (
	"context"
	"errors"
	"os"
	"time"

	"billing/internal/amqp"
	"billing/internal/cli"
	applog "billing/internal/log"
	"billing/internal/services"
	gsheet "billing/internal/sheets/google"
	"billing/internal/worker"
)

func main() {
	cfg, logger := cli.MustBootstrap()
	logger.Info("Starting billing-worker")

	if !cfg.ExportEnabled() {
		logger.Error("Google Sheets export is not configured; set GOOGLE_SPREADSHEET_ID and credentials")
		os.Exit(1)
	}

	backendRes, err := cli.OpenStore(context.Background(), cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize data backend", applog.FieldError, err, "backend", cfg.DataBackend)
		os.Exit(1)
	}

	sheetsClient, err := gsheet.New(context.Background(), gsheet.Config{
		SpreadsheetID:   cfg.GoogleSpreadsheetID,
		SheetName:       cfg.GoogleSheetName,
		CredentialsFile: cfg.GoogleCredentialsFile,
		CredentialsJSON: cfg.GoogleCredentialsJSON,
		OAuthTokenFile:  cfg.GoogleOAuthTokenFile,
		OAuthClientFile: cfg.GoogleOAuthClientFile,
		OAuthClientJSON: cfg.GoogleOAuthClientJSON,
	}, logger)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", applog.FieldError, err)
		os.Exit(1)
	}
	logger.Info("Google Sheets client initialized", "spreadsheet_id", cfg.GoogleSpreadsheetID)

	processor := services.NewExportProcessor(backendRes.Store, sheetsClient, services.ExportProcessorConfig{
		PollInterval: cfg.ExportInterval,
		BatchSize:    cfg.ExportBatchSize,
		MaxAttempts:  cfg.ExportMaxAttempts,
	}, logger)
	exportWorker := worker.NewExportWorker(processor, logger)

	var amqpClient *amqp.Client
	if cfg.AMQPURL != "" {
		amqpClient, err = amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", applog.FieldError, err)
			os.Exit(1)
		}
	} else {
		logger.Info("No AMQP_URL configured, relying on the outbox sweep only")
	}

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := processor.Stop(shutdownCtx); err != nil {
			logger.Error("Failed to stop export processor", applog.FieldError, err)
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

	logger.Info("Performing startup export check...")
	exportWorker.StartupSyncCheck(ctx)

	if err := processor.Start(ctx); err != nil {
		logger.Error("Failed to start export processor", applog.FieldError, err)
		os.Exit(1)
	}

	if amqpClient != nil {
		go func() {
			err := amqpClient.ConsumeInvoiceCreated(ctx, exportWorker.HandleInvoiceCreated)
			if err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("Message consumption failed", applog.FieldError, err)
			}
		}()
	}

	logger.Info("Worker started",
		"interval", cfg.ExportInterval,
		applog.FieldBatchSize, cfg.ExportBatchSize,
		"amqp", amqpClient != nil)

	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}
