// Package ports declares the collaborators the billing services depend on.
package ports

import (
	"context"
	"fmt"
	"strings"

	"billing/internal/core"
)

// Read side of the persistence collaborator.
type (
	ClientReader interface {
		GetClient(ctx context.Context, clientID string) (core.Client, error)
	}

	// WorkEntryReader returns entries dated within period for the client's
	// projects. Entries whose project is unknown to the store are included
	// so the aggregator can report them.
	WorkEntryReader interface {
		ListWorkEntries(ctx context.Context, clientID string, period core.Period) ([]core.WorkEntry, error)
	}

	ProjectDirectoryReader interface {
		ListProjects(ctx context.Context, clientID string) ([]core.Project, error)
	}

	EmployeeDirectoryReader interface {
		ListEmployees(ctx context.Context) ([]core.Employee, error)
	}

	InvoiceReader interface {
		GetInvoice(ctx context.Context, invoiceID string) (core.Invoice, error)
		ListInvoices(ctx context.Context, clientID string) ([]core.Invoice, error)
	}
)

// InvoiceWriter persists a drafted invoice and assigns its number.
type InvoiceWriter interface {
	CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error)
}

type ExportStatus string

const (
	ExportPending ExportStatus = "pending"
	ExportDone    ExportStatus = "exported"
	ExportFailed  ExportStatus = "failed"
)

// ExportJob is an invoice together with its outbox state.
type ExportJob struct {
	Invoice   core.Invoice
	Status    ExportStatus
	Attempts  int
	Ref       string
	LastError string
}

// ExportQueue is the invoice export outbox.
type ExportQueue interface {
	PendingExports(ctx context.Context, limit int) ([]ExportJob, error)
	GetExportJob(ctx context.Context, invoiceID string) (ExportJob, error)
	MarkExported(ctx context.Context, invoiceID, ref string) error
	// MarkExportFailed records an attempt. A terminal failure removes the
	// invoice from PendingExports.
	MarkExportFailed(ctx context.Context, invoiceID, reason string, terminal bool) error
}

// InvoiceExporter pushes an invoice to an external system and returns a
// reference to where it landed.
type InvoiceExporter interface {
	ExportInvoice(ctx context.Context, inv core.Invoice) (ref string, err error)
}

// BillingSource is everything needed to aggregate a client's period.
type BillingSource interface {
	ClientReader
	WorkEntryReader
	ProjectDirectoryReader
	EmployeeDirectoryReader
}

// Snapshot is a point-in-time copy of the records a billing source serves.
type Snapshot struct {
	Clients     []core.Client
	Projects    []core.Project
	Employees   []core.Employee
	WorkEntries []core.WorkEntry
}

// Validate checks every record a store would reject on write. Work entries
// may reference projects and employees that are not in the snapshot.
func (s Snapshot) Validate() error {
	for _, c := range s.Clients {
		if strings.TrimSpace(c.ID) == "" {
			return fmt.Errorf("client %q: %w", c.Name, core.NewRequired("id"))
		}
	}
	for _, p := range s.Projects {
		if strings.TrimSpace(p.ID) == "" {
			return fmt.Errorf("project %q: %w", p.Name, core.NewRequired("id"))
		}
		if strings.TrimSpace(p.ClientID) == "" {
			return fmt.Errorf("project %s: %w", p.ID, core.NewRequired("client_id"))
		}
	}
	for _, e := range s.Employees {
		if strings.TrimSpace(e.ID) == "" {
			return fmt.Errorf("employee %q: %w", e.FullName, core.NewRequired("id"))
		}
		if err := e.Validate(); err != nil {
			return fmt.Errorf("employee %s: %w", e.ID, err)
		}
	}
	for _, w := range s.WorkEntries {
		if strings.TrimSpace(w.ID) == "" {
			return fmt.Errorf("work entry: %w", core.NewRequired("id"))
		}
		if err := w.Validate(); err != nil {
			return fmt.Errorf("work entry %s: %w", w.ID, err)
		}
	}
	return nil
}

// Importer upserts snapshot records into a store.
type Importer interface {
	Import(ctx context.Context, snap Snapshot) error
}

// Store is implemented by every persistence backend.
type Store interface {
	BillingSource
	InvoiceReader
	InvoiceWriter
	ExportQueue
	Importer
	Ping(ctx context.Context) error
	Close() error
}
