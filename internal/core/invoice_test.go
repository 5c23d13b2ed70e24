package core

import (
	"errors"
	"testing"
	"time"
)

func validParams(t *testing.T) InvoiceParams {
	t.Helper()
	line, err := NewLineItem("Consulting", dec("10"), dec("50"), dec("22"))
	if err != nil {
		t.Fatal(err)
	}
	return InvoiceParams{
		ClientID:         "c1",
		Period:           Period{Start: NewDate(2025, 1, 1), End: NewDate(2025, 1, 31)},
		IssueDate:        NewDate(2025, 2, 1),
		PaymentTermsDays: 30,
		Currency:         "eur",
		Lines:            []LineItem{line},
		Now:              func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) },
	}
}

func TestNewInvoice(t *testing.T) {
	inv, err := NewInvoice(validParams(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if inv.ID == "" || inv.Number != "" {
		t.Fatalf("expected generated id and unassigned number, got %q/%q", inv.ID, inv.Number)
	}
	if inv.Currency != "EUR" || inv.Status != InvoiceDraft {
		t.Fatalf("currency/status = %s/%s", inv.Currency, inv.Status)
	}
	if inv.DueDate != NewDate(2025, 3, 3) {
		t.Fatalf("due date = %s, want 2025-03-03", inv.DueDate)
	}
	if !inv.Totals.Subtotal.Equal(dec("500")) || !inv.Totals.TaxTotal.Equal(dec("110")) || !inv.Totals.Total.Equal(dec("610")) {
		t.Fatalf("unexpected totals: %+v", inv.Totals)
	}
}

func TestNewInvoiceRecomputesLines(t *testing.T) {
	p := validParams(t)
	p.Lines[0].TotalAmount = dec("1")
	inv, err := NewInvoice(p)
	if err != nil {
		t.Fatal(err)
	}
	if !inv.Lines[0].TotalAmount.Equal(dec("610")) {
		t.Fatalf("line total = %s, want 610", inv.Lines[0].TotalAmount)
	}
}

func TestNewInvoiceValidation(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*InvoiceParams)
		field  string
	}{
		{"no client", func(p *InvoiceParams) { p.ClientID = " " }, "client_id"},
		{"bad currency", func(p *InvoiceParams) { p.Currency = "EURO" }, "currency"},
		{"no lines", func(p *InvoiceParams) { p.Lines = nil }, "lines"},
		{"due before issue", func(p *InvoiceParams) { p.DueDate = NewDate(2025, 1, 15) }, "due_date"},
		{"negative line", func(p *InvoiceParams) { p.Lines[0].Quantity = dec("-1") }, "quantity"},
		{"reversed period", func(p *InvoiceParams) { p.Period.Start = NewDate(2025, 3, 1) }, "start_date"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := validParams(t)
			tc.mutate(&p)
			_, err := NewInvoice(p)
			var ve *ValidationError
			if !errors.As(err, &ve) || ve.Field != tc.field {
				t.Fatalf("expected validation error on %s, got %v", tc.field, err)
			}
			if !IsValidation(err) {
				t.Fatalf("IsValidation(%v) = false", err)
			}
		})
	}
}

func TestFormatInvoiceNumber(t *testing.T) {
	if got := FormatInvoiceNumber(NewDate(2025, 6, 1), 7); got != "INV-2025-0007" {
		t.Fatalf("got %s", got)
	}
	if got := FormatInvoiceNumber(NewDate(2026, 1, 1), 12345); got != "INV-2026-12345" {
		t.Fatalf("got %s", got)
	}
}
