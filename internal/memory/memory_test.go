package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/shopspring/decimal"

	"billing/internal/core"
	"billing/internal/ports"
)

const yamlSnapshot = `
clients:
  - id: c1
    name: Acme
    currency: eur
  - id: c2
    name: Globex
    currency: USD
projects:
  - id: p1
    client_id: c1
    name: Website
  - id: p2
    client_id: c2
    name: Billing
    status: on_hold
employees:
  - id: e1
    full_name: Ada Lovelace
    role: Engineer
    department: R&D
    cost_rate: 50.25
work_entries:
  - id: w1
    employee_id: e1
    project_id: p1
    date: 2025-01-05
    hours: 4
  - id: w2
    employee_id: e1
    project_id: p2
    date: "2025-01-06"
    hours: 2.5
    billable: false
  - id: w3
    employee_id: e1
    project_id: ghost
    date: 2025-01-07
    hours: 1
  - id: w4
    employee_id: e1
    project_id: p1
    date: 2025-02-01
    hours: 8
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadYAMLSnapshot(t *testing.T) {
	snap, err := LoadSnapshot(writeFile(t, "seed.yaml", yamlSnapshot))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(snap.Clients) != 2 || snap.Clients[0].Currency != "EUR" {
		t.Fatalf("unexpected clients: %+v", snap.Clients)
	}
	if snap.Projects[0].Status != core.ProjectActive || snap.Projects[1].Status != core.ProjectOnHold {
		t.Fatalf("unexpected statuses: %+v", snap.Projects)
	}
	if !snap.Employees[0].CostRate.Equal(decimal.RequireFromString("50.25")) {
		t.Fatalf("cost rate = %s", snap.Employees[0].CostRate)
	}
	if !snap.WorkEntries[0].Billable || snap.WorkEntries[1].Billable {
		t.Fatal("billable flag not decoded")
	}
	if !snap.WorkEntries[1].Hours.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("hours = %s", snap.WorkEntries[1].Hours)
	}
}

func TestLoadJSONSnapshot(t *testing.T) {
	path := writeFile(t, "seed.json", `{
		"clients": [{"id": "c1", "name": "Acme", "currency": "EUR"}],
		"employees": [{"id": "e1", "full_name": "Ada", "cost_rate": "80.10"}],
		"work_entries": [{"employee_id": "e1", "project_id": "p1", "date": "2025-01-05", "hours": 1.5}]
	}`)
	snap, err := LoadSnapshot(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if snap.WorkEntries[0].ID != "we-1" {
		t.Fatalf("expected generated id, got %q", snap.WorkEntries[0].ID)
	}
	if !snap.Employees[0].CostRate.Equal(decimal.RequireFromString("80.1")) {
		t.Fatalf("cost rate = %s", snap.Employees[0].CostRate)
	}
}

func TestLoadSnapshotRejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"bad.yaml":    "clients:\n  - id: c1\n    nickname: x\n",
		"date.yaml":   "work_entries:\n  - employee_id: e1\n    project_id: p1\n    date: 05/01/2025\n    hours: 1\n",
		"status.json": `{"projects": [{"id": "p1", "client_id": "c1", "name": "x", "status": "paused"}]}`,
		"seed.txt":    "",
	}
	for name, content := range cases {
		if _, err := LoadSnapshot(writeFile(t, name, content)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestStoreReads(t *testing.T) {
	s, err := NewFromFile(writeFile(t, "seed.yml", yamlSnapshot))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if _, err := s.GetClient(ctx, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	period := core.Period{Start: core.NewDate(2025, 1, 1), End: core.NewDate(2025, 1, 31)}
	entries, err := s.ListWorkEntries(ctx, "c1", period)
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, e := range entries {
		ids[e.ID] = true
	}
	// w2 belongs to another client, w4 is out of range, w3 has an unknown project.
	if len(entries) != 2 || !ids["w1"] || !ids["w3"] {
		t.Fatalf("unexpected entries: %+v", entries)
	}

	projects, _ := s.ListProjects(ctx, "c1")
	if len(projects) != 1 || projects[0].ID != "p1" {
		t.Fatalf("unexpected projects: %+v", projects)
	}
}

func TestImportRejectsNegativeHours(t *testing.T) {
	s := New()
	err := s.Import(context.Background(), ports.Snapshot{WorkEntries: []core.WorkEntry{{
		ID: "w1", EmployeeID: "e1", ProjectID: "p1", Date: core.NewDate(2025, 1, 1), Hours: decimal.NewFromInt(-1),
	}}})
	if !errors.Is(err, core.ErrInvalidQuantityOrPrice) {
		t.Fatalf("expected ErrInvalidQuantityOrPrice, got %v", err)
	}
}

func TestImportUpsertsByID(t *testing.T) {
	s := New()
	ctx := context.Background()
	emp := core.Employee{ID: "e1", FullName: "Ada", CostRate: decimal.NewFromInt(50)}
	if err := s.Import(ctx, ports.Snapshot{Employees: []core.Employee{emp}}); err != nil {
		t.Fatal(err)
	}
	emp.CostRate = decimal.NewFromInt(60)
	if err := s.Import(ctx, ports.Snapshot{Employees: []core.Employee{emp}}); err != nil {
		t.Fatal(err)
	}
	got, _ := s.ListEmployees(ctx)
	if len(got) != 1 || !got[0].CostRate.Equal(decimal.NewFromInt(60)) {
		t.Fatalf("expected a single updated employee, got %+v", got)
	}
}

func TestInvoiceLifecycle(t *testing.T) {
	s := New()
	ctx := context.Background()

	mk := func(id string, issue core.Date) core.Invoice {
		return core.Invoice{ID: id, ClientID: "c1", IssueDate: issue, Lines: []core.LineItem{{Description: "x"}}}
	}
	first, err := s.CreateInvoice(ctx, mk("a", core.NewDate(2025, 1, 10)))
	if err != nil {
		t.Fatal(err)
	}
	second, _ := s.CreateInvoice(ctx, mk("b", core.NewDate(2025, 2, 10)))
	third, _ := s.CreateInvoice(ctx, mk("c", core.NewDate(2026, 1, 2)))
	if first.Number != "INV-2025-0001" || second.Number != "INV-2025-0002" || third.Number != "INV-2026-0001" {
		t.Fatalf("unexpected numbers: %s %s %s", first.Number, second.Number, third.Number)
	}
	if _, err := s.CreateInvoice(ctx, mk("a", core.NewDate(2025, 3, 1))); err == nil {
		t.Fatal("expected duplicate id error")
	}

	list, _ := s.ListInvoices(ctx, "c1")
	if len(list) != 3 || list[0].ID != "c" || list[2].ID != "a" {
		t.Fatalf("expected newest first, got %+v", list)
	}

	pending, _ := s.PendingExports(ctx, 2)
	if len(pending) != 2 || pending[0].Invoice.ID != "a" {
		t.Fatalf("unexpected pending batch: %+v", pending)
	}

	if err := s.MarkExported(ctx, "a", "Sheet1!A1"); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkExportFailed(ctx, "b", "boom", false); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkExportFailed(ctx, "c", "boom", true); err != nil {
		t.Fatal(err)
	}

	pending, _ = s.PendingExports(ctx, 0)
	if len(pending) != 1 || pending[0].Invoice.ID != "b" || pending[0].Attempts != 1 {
		t.Fatalf("unexpected pending after marks: %+v", pending)
	}
	job, _ := s.GetExportJob(ctx, "a")
	if job.Status != ports.ExportDone || job.Ref != "Sheet1!A1" {
		t.Fatalf("unexpected job: %+v", job)
	}
	if err := s.MarkExported(ctx, "zzz", ""); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
