package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"billing/internal/core"
	applog "billing/internal/log"
	"billing/internal/ports"
)

// errExportAbandoned marks a failure that exhausted the attempts. Nothing
// should retry it.
var errExportAbandoned = errors.New("export abandoned")

// ExportProcessorConfig holds configuration for the export processor
type ExportProcessorConfig struct {
	// PollInterval is how often the outbox is swept (default: 30s)
	PollInterval time.Duration

	// BatchSize is the max number of invoices exported per sweep (default: 10)
	BatchSize int

	// MaxAttempts is how many failed exports mark an invoice as failed (default: 5)
	MaxAttempts int
}

func DefaultExportProcessorConfig() ExportProcessorConfig {
	return ExportProcessorConfig{
		PollInterval: 30 * time.Second,
		BatchSize:    10,
		MaxAttempts:  5,
	}
}

// ExportProcessor drains the invoice export outbox into an InvoiceExporter.
type ExportProcessor struct {
	queue    ports.ExportQueue
	exporter ports.InvoiceExporter
	config   ExportProcessorConfig
	logger   *applog.Logger

	// collapses a sweep and a message handler racing on the same invoice
	inflight singleflight.Group

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

func NewExportProcessor(queue ports.ExportQueue, exporter ports.InvoiceExporter, config ExportProcessorConfig, logger *applog.Logger) *ExportProcessor {
	if logger == nil {
		logger = applog.Discard()
	}
	defaults := DefaultExportProcessorConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	return &ExportProcessor{
		queue:    queue,
		exporter: exporter,
		config:   config,
		logger:   logger.WithComponent(applog.ComponentExport),
	}
}

// Start begins the sweep loop. Returns an error if already running.
func (p *ExportProcessor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("export processor is already running")
	}
	p.running = true
	p.stopCh = make(chan struct{})
	p.doneCh = make(chan struct{})
	p.mu.Unlock()

	go p.runLoop(ctx, p.stopCh, p.doneCh)

	p.logger.InfoContext(ctx, "Export processor started",
		"poll_interval", p.config.PollInterval,
		applog.FieldBatchSize, p.config.BatchSize)
	return nil
}

// Stop signals the loop and waits for the current sweep to finish.
func (p *ExportProcessor) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	// a Stop that timed out already closed stopCh; later calls only wait
	if p.stopCh != nil {
		close(p.stopCh)
		p.stopCh = nil
	}
	done := p.doneCh
	p.mu.Unlock()

	select {
	case <-done:
		p.logger.InfoContext(ctx, "Export processor stopped gracefully")
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "Export processor stop timed out")
		return ctx.Err()
	}

	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
	return nil
}

func (p *ExportProcessor) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *ExportProcessor) runLoop(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	p.ProcessBatch(ctx)

	for {
		select {
		case <-stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.ProcessBatch(ctx)
		}
	}
}

// ProcessBatch exports one batch of pending invoices and returns how many
// were exported.
func (p *ExportProcessor) ProcessBatch(ctx context.Context) int {
	jobs, err := p.queue.PendingExports(ctx, p.config.BatchSize)
	if err != nil {
		p.logger.ErrorContext(ctx, "Failed to load pending exports", applog.FieldError, err)
		return 0
	}
	if len(jobs) == 0 {
		return 0
	}
	p.logger.DebugContext(ctx, "Processing export batch", "count", len(jobs))

	exported := 0
	for _, job := range jobs {
		if ctx.Err() != nil || p.stopping() {
			break
		}
		if err := p.export(ctx, job); err == nil {
			exported++
		}
	}
	return exported
}

// ExportInvoice exports one invoice by id. Unknown invoices and those already
// exported or given up on are left alone. An error means the attempt failed and may be
// retried.
func (p *ExportProcessor) ExportInvoice(ctx context.Context, invoiceID string) error {
	job, err := p.queue.GetExportJob(ctx, invoiceID)
	if errors.Is(err, core.ErrNotFound) {
		p.logger.WarnContext(ctx, "Invoice to export does not exist, dropping",
			applog.FieldInvoiceID, invoiceID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load export job: %w", err)
	}
	switch job.Status {
	case ports.ExportDone:
		p.logger.DebugContext(ctx, "Invoice already exported",
			applog.FieldInvoiceID, invoiceID,
			applog.FieldExportRef, job.Ref)
		return nil
	case ports.ExportFailed:
		p.logger.WarnContext(ctx, "Invoice export was abandoned, skipping",
			applog.FieldInvoiceID, invoiceID,
			applog.FieldAttempts, job.Attempts)
		return nil
	}
	if err := p.export(ctx, job); err != nil && !errors.Is(err, errExportAbandoned) {
		return err
	}
	return nil
}

func (p *ExportProcessor) export(ctx context.Context, job ports.ExportJob) error {
	_, err, _ := p.inflight.Do(job.Invoice.ID, func() (any, error) {
		return nil, p.exportOnce(ctx, job)
	})
	return err
}

func (p *ExportProcessor) exportOnce(ctx context.Context, job ports.ExportJob) error {
	inv := job.Invoice
	ref, exportErr := p.exporter.ExportInvoice(ctx, inv)
	if exportErr == nil {
		if err := p.queue.MarkExported(ctx, inv.ID, ref); err != nil {
			// the export landed; a retry would duplicate it
			p.logger.ErrorContext(ctx, "Failed to mark invoice exported",
				applog.FieldInvoiceID, inv.ID,
				applog.FieldExportRef, ref,
				applog.FieldError, err)
		}
		p.logger.InfoContext(ctx, "Exported invoice",
			applog.FieldInvoiceID, inv.ID,
			applog.FieldInvoiceNo, inv.Number,
			applog.FieldExportRef, ref)
		return nil
	}

	attempts := job.Attempts + 1
	terminal := attempts >= p.config.MaxAttempts
	if err := p.queue.MarkExportFailed(ctx, inv.ID, exportErr.Error(), terminal); err != nil {
		p.logger.ErrorContext(ctx, "Failed to record export failure",
			applog.FieldInvoiceID, inv.ID,
			applog.FieldError, err)
	}

	if terminal {
		p.logger.ErrorContext(ctx, "Invoice export failed permanently after max attempts",
			applog.FieldInvoiceID, inv.ID,
			applog.FieldAttempts, attempts,
			applog.FieldError, exportErr)
		return fmt.Errorf("export invoice %s: %w", inv.ID, errExportAbandoned)
	}
	p.logger.WarnContext(ctx, "Invoice export failed",
		applog.FieldInvoiceID, inv.ID,
		applog.FieldAttempts, attempts,
		applog.FieldError, exportErr)
	return fmt.Errorf("export invoice %s: %w", inv.ID, exportErr)
}

func (p *ExportProcessor) stopping() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	// Stop clears stopCh once it has been closed
	return p.running && p.stopCh == nil
}
