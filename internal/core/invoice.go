package core

import (
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

type InvoiceStatus string

const (
	InvoiceDraft     InvoiceStatus = "draft"
	InvoiceSent      InvoiceStatus = "sent"
	InvoicePaid      InvoiceStatus = "paid"
	InvoiceOverdue   InvoiceStatus = "overdue"
	InvoiceCancelled InvoiceStatus = "cancelled"
)

func (s InvoiceStatus) IsValid() bool {
	switch s {
	case InvoiceDraft, InvoiceSent, InvoicePaid, InvoiceOverdue, InvoiceCancelled:
		return true
	default:
		return false
	}
}

// Invoice is the persisted form of a set of line items. Number is empty until
// the persistence collaborator assigns one.
type Invoice struct {
	ID        string
	Number    string
	ClientID  string
	Period    Period
	IssueDate Date
	DueDate   Date
	Currency  string
	Status    InvoiceStatus
	Notes     string
	Lines     []LineItem
	Totals    InvoiceTotals
	CreatedAt time.Time
}

type InvoiceParams struct {
	ClientID  string
	Period    Period
	IssueDate Date
	// DueDate defaults to IssueDate + PaymentTermsDays when zero.
	DueDate          Date
	PaymentTermsDays int
	Currency         string
	Notes            string
	Lines            []LineItem
	Now              func() time.Time
}

// NewInvoice builds a draft invoice. Line amounts supplied by the caller are
// recomputed from quantity, price and rate.
func NewInvoice(p InvoiceParams) (Invoice, error) {
	if strings.TrimSpace(p.ClientID) == "" {
		return Invoice{}, NewRequired("client_id")
	}
	if err := p.Period.Validate(); err != nil {
		return Invoice{}, err
	}
	currency := strings.ToUpper(strings.TrimSpace(p.Currency))
	if !isCurrencyCode(currency) {
		return Invoice{}, NewInvalidFormat("currency", ErrInvalidInvoice, &p.Currency)
	}
	if len(p.Lines) == 0 {
		return Invoice{}, &ValidationError{Field: "lines", Code: CodeRequired, cause: ErrInvalidInvoice}
	}

	now := time.Now
	if p.Now != nil {
		now = p.Now
	}
	createdAt := now().UTC()

	issue := p.IssueDate
	if issue.IsZero() {
		issue = DateOf(createdAt)
	}
	due := p.DueDate
	if due.IsZero() {
		due = issue.AddDays(p.PaymentTermsDays)
	}
	if due.Before(issue) {
		v := due.String()
		return Invoice{}, &ValidationError{Field: "due_date", Code: CodeOutOfRange, RejectedValue: &v, cause: ErrInvalidInvoice}
	}

	lines := make([]LineItem, 0, len(p.Lines))
	for i, line := range p.Lines {
		computed, err := line.Recompute()
		if err != nil {
			return Invoice{}, fmt.Errorf("line %d: %w", i, err)
		}
		lines = append(lines, computed)
	}

	return Invoice{
		ID:        uuid.NewString(),
		ClientID:  p.ClientID,
		Period:    p.Period,
		IssueDate: issue,
		DueDate:   due,
		Currency:  currency,
		Status:    InvoiceDraft,
		Notes:     strings.TrimSpace(p.Notes),
		Lines:     lines,
		Totals:    SumLineItems(lines),
		CreatedAt: createdAt,
	}, nil
}

// FormatInvoiceNumber renders INV-YYYY-NNNN. The sequence restarts each year.
func FormatInvoiceNumber(issueDate Date, seq int) string {
	return fmt.Sprintf("INV-%04d-%04d", issueDate.Year(), seq)
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if !unicode.IsUpper(r) || r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
