package worker

import (
	"context"
	"errors"
	"testing"

	"billing/internal/amqp"
)

type fakeExporter struct {
	exported []string
	err      error
	batches  []int
}

func (f *fakeExporter) ExportInvoice(_ context.Context, id string) error {
	if f.err != nil {
		return f.err
	}
	f.exported = append(f.exported, id)
	return nil
}

func (f *fakeExporter) ProcessBatch(context.Context) int {
	if len(f.batches) == 0 {
		return 0
	}
	n := f.batches[0]
	f.batches = f.batches[1:]
	return n
}

func TestHandleInvoiceCreated(t *testing.T) {
	exporter := &fakeExporter{}
	w := NewExportWorker(exporter, nil)

	msg := &amqp.InvoiceCreatedMessage{InvoiceID: "inv-1", Number: "INV-2025-0001"}
	if err := w.HandleInvoiceCreated(context.Background(), msg); err != nil {
		t.Fatalf("HandleInvoiceCreated: %v", err)
	}
	if len(exporter.exported) != 1 || exporter.exported[0] != "inv-1" {
		t.Fatalf("exported = %v", exporter.exported)
	}
}

func TestHandleInvoiceCreated_Error(t *testing.T) {
	boom := errors.New("sheets unavailable")
	w := NewExportWorker(&fakeExporter{err: boom}, nil)

	err := w.HandleInvoiceCreated(context.Background(), &amqp.InvoiceCreatedMessage{InvoiceID: "inv-1"})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped export error, got %v", err)
	}
}

func TestStartupSyncCheck_DrainsUntilEmpty(t *testing.T) {
	exporter := &fakeExporter{batches: []int{10, 10, 3}}
	w := NewExportWorker(exporter, nil)

	w.StartupSyncCheck(context.Background())
	if len(exporter.batches) != 0 {
		t.Fatalf("batches left = %v", exporter.batches)
	}
}
