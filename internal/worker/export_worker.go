package worker

import (
	"context"
	"fmt"

	"billing/internal/amqp"
	applog "billing/internal/log"
)

// InvoiceExporter exports a single invoice by id, or sweeps the pending ones.
type InvoiceExporter interface {
	ExportInvoice(ctx context.Context, invoiceID string) error
	ProcessBatch(ctx context.Context) int
}

// ExportWorker handles invoice.created messages from AMQP by exporting the
// invoice they name.
type ExportWorker struct {
	exporter InvoiceExporter
	logger   *applog.Logger
}

func NewExportWorker(exporter InvoiceExporter, logger *applog.Logger) *ExportWorker {
	if logger == nil {
		logger = applog.Discard()
	}
	return &ExportWorker{
		exporter: exporter,
		logger:   logger.WithComponent(applog.ComponentWorker),
	}
}

// HandleInvoiceCreated processes a single invoice.created message. A returned
// error requeues the message.
func (w *ExportWorker) HandleInvoiceCreated(ctx context.Context, msg *amqp.InvoiceCreatedMessage) error {
	w.logger.InfoContext(ctx, "Processing invoice created message",
		applog.FieldInvoiceID, msg.InvoiceID,
		applog.FieldInvoiceNo, msg.Number)

	if err := w.exporter.ExportInvoice(ctx, msg.InvoiceID); err != nil {
		return fmt.Errorf("export invoice %s: %w", msg.InvoiceID, err)
	}
	return nil
}

// StartupSyncCheck drains the outbox once before consuming, to recover from
// messages lost while the worker was down.
func (w *ExportWorker) StartupSyncCheck(ctx context.Context) {
	total := 0
	for ctx.Err() == nil {
		n := w.exporter.ProcessBatch(ctx)
		if n == 0 {
			break
		}
		total += n
	}
	if total == 0 {
		w.logger.InfoContext(ctx, "No pending invoice exports found on startup")
		return
	}
	w.logger.InfoContext(ctx, "Startup export check completed", "exported", total)
}
