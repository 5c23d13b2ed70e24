package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"billing/internal/core"
	applog "billing/internal/log"
	"billing/internal/ports"
)

// Publisher announces persisted invoices to downstream consumers.
type Publisher interface {
	PublishInvoiceCreated(ctx context.Context, inv core.Invoice) error
}

// BillingStore is the part of a store the billing service reads and writes.
type BillingStore interface {
	ports.BillingSource
	ports.InvoiceReader
	ports.InvoiceWriter
}

type BillingConfig struct {
	DefaultTaxRate   decimal.Decimal
	PaymentTermsDays int
	// Now is the clock used for invoice dates. Defaults to time.Now.
	Now func() time.Time
}

// BillingService fetches a client's data from the store, runs the pure
// billing core over it and persists the results.
type BillingService struct {
	store     BillingStore
	publisher Publisher
	config    BillingConfig
	logger    *applog.Logger
}

// NewBillingService wires the service. publisher may be nil, in which case
// invoices are only picked up by the export sweep.
func NewBillingService(store BillingStore, publisher Publisher, config BillingConfig, logger *applog.Logger) *BillingService {
	if logger == nil {
		logger = applog.Discard()
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	return &BillingService{
		store:     store,
		publisher: publisher,
		config:    config,
		logger:    logger.WithComponent(applog.ComponentBilling),
	}
}

// Preview aggregates the client's billable work for period. The client,
// work entries and both directories are fetched concurrently.
func (s *BillingService) Preview(ctx context.Context, clientID string, period core.Period) (core.ClientProjectData, error) {
	if err := period.Validate(); err != nil {
		return core.ClientProjectData{}, err
	}

	var (
		client    core.Client
		entries   []core.WorkEntry
		projects  []core.Project
		employees []core.Employee
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		client, err = s.store.GetClient(gctx, clientID)
		return err
	})
	g.Go(func() error {
		var err error
		entries, err = s.store.ListWorkEntries(gctx, clientID, period)
		if err != nil {
			return fmt.Errorf("list work entries: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		projects, err = s.store.ListProjects(gctx, clientID)
		if err != nil {
			return fmt.Errorf("list projects: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		employees, err = s.store.ListEmployees(gctx)
		if err != nil {
			return fmt.Errorf("list employees: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return core.ClientProjectData{}, err
	}

	data, err := core.AggregateBillableWork(client, period, entries,
		core.NewProjectDirectory(projects), core.NewEmployeeDirectory(employees))
	if err != nil {
		return core.ClientProjectData{}, err
	}

	fields := applog.NewFields().
		WithOperation(applog.OpAggregate).
		WithPeriod(clientID, period.Start.String(), period.End.String())
	if data.Skipped > 0 {
		s.logger.WarnContext(ctx, "Skipped work entries with missing or invalid references",
			append(fields.ToSlice(), applog.FieldSkipped, data.Skipped)...)
	} else {
		s.logger.DebugContext(ctx, "Aggregated billable work", fields.ToSlice()...)
	}
	return data, nil
}

// LineItemDraft is the outcome of turning a selection into invoice lines.
type LineItemDraft struct {
	Data   core.ClientProjectData
	Lines  []core.LineItem
	Totals core.InvoiceTotals
}

// DraftLineItems aggregates the period and converts the selected pairs into
// line items. A nil selection takes every pair; a nil tax rate uses the
// configured default.
func (s *BillingService) DraftLineItems(ctx context.Context, clientID string, period core.Period, selection core.Selection, taxRate *decimal.Decimal) (LineItemDraft, error) {
	data, err := s.Preview(ctx, clientID, period)
	if err != nil {
		return LineItemDraft{}, err
	}
	if selection == nil {
		selection = core.SelectAll(data)
	}
	rate := s.config.DefaultTaxRate
	if taxRate != nil {
		rate = *taxRate
	}

	lines, err := core.ToLineItems(selection, data, core.WithTaxRate(rate))
	if err != nil {
		return LineItemDraft{}, err
	}
	return LineItemDraft{Data: data, Lines: lines, Totals: core.SumLineItems(lines)}, nil
}

// LineItemInput is a manually entered line.
type LineItemInput struct {
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	TaxRate     decimal.Decimal
}

// ItemError reports why one input of a batch was rejected.
type ItemError struct {
	Index   int
	Code    string
	Path    string
	Message string
}

// LineItemBatch holds the computed valid items, one error per invalid item
// and the totals of the valid items.
type LineItemBatch struct {
	Valid  bool
	Items  []core.LineItem
	Errors []ItemError
	Totals core.InvoiceTotals
}

// ComputeLineItems runs the calculator over every input. Invalid inputs do
// not stop the batch.
func (s *BillingService) ComputeLineItems(inputs []LineItemInput) LineItemBatch {
	batch := LineItemBatch{Items: make([]core.LineItem, 0, len(inputs))}
	for i, in := range inputs {
		item, err := core.NewLineItem(in.Description, in.Quantity, in.UnitPrice, in.TaxRate)
		if err != nil {
			batch.Errors = append(batch.Errors, itemError(i, err))
			continue
		}
		batch.Items = append(batch.Items, item)
	}
	batch.Valid = len(batch.Errors) == 0
	batch.Totals = core.SumLineItems(batch.Items)
	return batch
}

func itemError(i int, err error) ItemError {
	ie := ItemError{Index: i, Code: core.CodeInvalidFormat, Path: fmt.Sprintf("items[%d]", i), Message: err.Error()}
	var ve *core.ValidationError
	if errors.As(err, &ve) {
		ie.Code = ve.Code
		ie.Path = fmt.Sprintf("items[%d].%s", i, ve.Field)
	}
	return ie
}

type CreateInvoiceRequest struct {
	ClientID string
	Period   core.Period
	// Selection picks the pairs to bill. Nil bills every pair with billable
	// hours.
	Selection  core.Selection
	TaxRate    *decimal.Decimal
	ExtraLines []LineItemInput
	IssueDate  core.Date
	DueDate    core.Date
	Notes      string
}

// CreateInvoice drafts, persists and announces an invoice. A failed
// announcement is logged and does not fail the call: the export sweep finds
// the invoice in the outbox.
func (s *BillingService) CreateInvoice(ctx context.Context, req CreateInvoiceRequest) (core.Invoice, error) {
	draft, err := s.DraftLineItems(ctx, req.ClientID, req.Period, req.Selection, req.TaxRate)
	if err != nil {
		return core.Invoice{}, err
	}

	lines := make([]core.LineItem, 0, len(draft.Lines)+len(req.ExtraLines))
	for _, l := range draft.Lines {
		if req.Selection == nil && l.Quantity.IsZero() {
			continue
		}
		lines = append(lines, l)
	}
	for i, in := range req.ExtraLines {
		l, err := core.NewLineItem(in.Description, in.Quantity, in.UnitPrice, in.TaxRate)
		if err != nil {
			return core.Invoice{}, fmt.Errorf("extra line %d: %w", i, err)
		}
		lines = append(lines, l)
	}

	inv, err := core.NewInvoice(core.InvoiceParams{
		ClientID:         req.ClientID,
		Period:           req.Period,
		IssueDate:        req.IssueDate,
		DueDate:          req.DueDate,
		PaymentTermsDays: s.config.PaymentTermsDays,
		Currency:         draft.Data.Currency,
		Notes:            req.Notes,
		Lines:            lines,
		Now:              s.config.Now,
	})
	if err != nil {
		return core.Invoice{}, err
	}

	saved, err := s.store.CreateInvoice(ctx, inv)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("save invoice: %w", err)
	}

	fields := applog.NewFields().
		WithOperation(applog.OpCreate).
		WithInvoice(saved.ID, saved.Number, saved.Totals.Total.String(), saved.Currency)
	s.logger.InfoContext(ctx, "Invoice created", fields.ToSlice()...)

	if err := s.publish(ctx, saved); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish invoice created message",
			fields.WithError(err).ToSlice()...)
	}
	return saved, nil
}

func (s *BillingService) publish(ctx context.Context, inv core.Invoice) error {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "No publisher configured, leaving invoice to the export sweep",
			applog.FieldInvoiceID, inv.ID)
		return nil
	}
	return s.publisher.PublishInvoiceCreated(ctx, inv)
}

func (s *BillingService) GetInvoice(ctx context.Context, invoiceID string) (core.Invoice, error) {
	return s.store.GetInvoice(ctx, invoiceID)
}

// ListInvoices returns the client's invoices, newest first. Unknown clients
// are reported as not found.
func (s *BillingService) ListInvoices(ctx context.Context, clientID string) ([]core.Invoice, error) {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return nil, err
	}
	return s.store.ListInvoices(ctx, clientID)
}
