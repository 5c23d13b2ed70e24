package core

import (
	"errors"
	"reflect"
	"testing"

	"github.com/shopspring/decimal"
)

type fixture struct {
	client    Client
	period    Period
	entries   []WorkEntry
	projects  ProjectDirectory
	employees EmployeeDirectory
}

func newFixture() fixture {
	return fixture{
		client: Client{ID: "c1", Name: "Acme", Currency: "EUR"},
		period: Period{Start: NewDate(2025, 1, 1), End: NewDate(2025, 1, 31)},
		projects: NewProjectDirectory([]Project{
			{ID: "p1", ClientID: "c1", Name: "Website", Status: ProjectActive},
			{ID: "p2", ClientID: "c1", Name: "api", Status: ProjectOnHold},
			{ID: "p3", ClientID: "c2", Name: "Other client", Status: ProjectActive},
		}),
		employees: NewEmployeeDirectory([]Employee{
			{ID: "e1", FullName: "Ada Lovelace", Role: "Engineer", Department: "R&D", CostRate: dec("50")},
			{ID: "e2", FullName: "alan Turing", Role: "Architect", Department: "R&D", CostRate: dec("80.5")},
		}),
	}
}

func entry(id, emp, proj string, d Date, hours string, billable bool) WorkEntry {
	return WorkEntry{ID: id, EmployeeID: emp, ProjectID: proj, Date: d, Hours: dec(hours), Billable: billable}
}

func TestAggregateBillableWorkScenario(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 5), "4", true),
		entry("w2", "e1", "p1", NewDate(2025, 1, 20), "6", true),
		entry("w3", "e1", "p1", NewDate(2025, 2, 3), "2", false),
	}

	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.ClientID != "c1" || data.ClientName != "Acme" || data.Currency != "EUR" {
		t.Fatalf("unexpected client fields: %+v", data)
	}
	_, agg, ok := data.Find(PairKey{ProjectID: "p1", EmployeeID: "e1"})
	if !ok {
		t.Fatal("expected aggregate for (p1, e1)")
	}
	if !agg.TotalHours.Equal(dec("10")) {
		t.Fatalf("total hours = %s, want 10", agg.TotalHours)
	}
	if !agg.TotalBillableAmount.Equal(dec("500")) {
		t.Fatalf("billable amount = %s, want 500", agg.TotalBillableAmount)
	}
	if !agg.NonBillableHours.IsZero() {
		t.Fatalf("out of range entry leaked into non-billable hours: %s", agg.NonBillableHours)
	}
	if data.Skipped != 0 {
		t.Fatalf("skipped = %d, want 0", data.Skipped)
	}
}

func TestAggregateSeparatesNonBillableHours(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 5), "3", true),
		entry("w2", "e1", "p1", NewDate(2025, 1, 6), "1.5", false),
		entry("w3", "e2", "p2", NewDate(2025, 1, 7), "2", false),
	}

	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatal(err)
	}
	_, e1, _ := data.Find(PairKey{ProjectID: "p1", EmployeeID: "e1"})
	if !e1.TotalHours.Equal(dec("3")) || !e1.NonBillableHours.Equal(dec("1.5")) {
		t.Fatalf("e1 hours = %s billable, %s non-billable", e1.TotalHours, e1.NonBillableHours)
	}
	if !e1.TotalBillableAmount.Equal(dec("150")) {
		t.Fatalf("e1 amount = %s, want 150", e1.TotalBillableAmount)
	}

	_, e2, ok := data.Find(PairKey{ProjectID: "p2", EmployeeID: "e2"})
	if !ok {
		t.Fatal("pair with only non-billable hours should still be reported")
	}
	if !e2.TotalHours.IsZero() || !e2.TotalBillableAmount.IsZero() {
		t.Fatalf("non-billable hours counted as billable: %+v", e2)
	}
}

func TestAggregateSkipsMissingDirectoryEntries(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 5), "4", true),
		entry("w2", "ghost", "p1", NewDate(2025, 1, 5), "8", true),
		entry("w3", "e1", "missing", NewDate(2025, 1, 5), "8", true),
	}

	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatalf("missing directory entries must not raise: %v", err)
	}
	if data.Skipped != 2 {
		t.Fatalf("skipped = %d, want 2", data.Skipped)
	}
	want := []Diagnostic{
		{EntryID: "w2", Kind: DiagMissingEmployee, ReferenceID: "ghost"},
		{EntryID: "w3", Kind: DiagMissingProject, ReferenceID: "missing"},
	}
	if !reflect.DeepEqual(data.Diagnostics, want) {
		t.Fatalf("diagnostics = %+v, want %+v", data.Diagnostics, want)
	}
	hours, _ := data.BillableTotals()
	if !hours.Equal(dec("4")) {
		t.Fatalf("billable hours = %s, want 4", hours)
	}
}

func TestAggregateSkipsInvalidValues(t *testing.T) {
	f := newFixture()
	f.employees["e3"] = Employee{ID: "e3", FullName: "Bad Rate", CostRate: dec("-1")}
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 5), "-2", true),
		entry("w2", "e3", "p1", NewDate(2025, 1, 5), "2", true),
	}

	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatal(err)
	}
	if data.Skipped != 2 || len(data.Projects) != 0 {
		t.Fatalf("expected both entries skipped, got %+v", data)
	}
	if data.Diagnostics[0].Kind != DiagInvalidHours || data.Diagnostics[1].Kind != DiagInvalidCostRate {
		t.Fatalf("unexpected diagnostics: %+v", data.Diagnostics)
	}
}

func TestAggregateExcludesOtherClients(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p3", NewDate(2025, 1, 5), "4", true),
	}

	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatal(err)
	}
	if len(data.Projects) != 0 || data.Skipped != 0 {
		t.Fatalf("other client's work must be excluded silently: %+v", data)
	}
}

func TestAggregateRejectsReversedPeriod(t *testing.T) {
	f := newFixture()
	reversed := Period{Start: f.period.End, End: f.period.Start}
	_, err := AggregateBillableWork(f.client, reversed, nil, f.projects, f.employees)
	if !errors.Is(err, ErrEmptyDateRange) {
		t.Fatalf("expected ErrEmptyDateRange, got %v", err)
	}
}

func TestAggregateOrderingAndIdempotence(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 2), "1", true),
		entry("w2", "e2", "p1", NewDate(2025, 1, 3), "2", true),
		entry("w3", "e2", "p2", NewDate(2025, 1, 4), "3", true),
		entry("w4", "e1", "p2", NewDate(2025, 1, 5), "4", true),
	}

	first, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 20; i++ {
		again, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs from first run", i)
		}
	}

	if first.Projects[0].ProjectID != "p2" || first.Projects[1].ProjectID != "p1" {
		t.Fatalf("projects not ordered case-insensitively by name: %s, %s",
			first.Projects[0].ProjectName, first.Projects[1].ProjectName)
	}
	for _, p := range first.Projects {
		if p.Employees[0].EmployeeID != "e1" || p.Employees[1].EmployeeID != "e2" {
			t.Fatalf("employees not ordered case-insensitively by name in %s", p.ProjectID)
		}
	}
}

func TestAggregateTiesBrokenByID(t *testing.T) {
	f := newFixture()
	f.employees["e0"] = Employee{ID: "e0", FullName: "ADA LOVELACE", CostRate: dec("1")}
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 2), "1", true),
		entry("w2", "e0", "p1", NewDate(2025, 1, 2), "1", true),
	}
	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatal(err)
	}
	if got := data.Projects[0].Employees[0].EmployeeID; got != "e0" {
		t.Fatalf("expected e0 first on a name tie, got %s", got)
	}
}

func TestAggregateDoesNotMutateInputs(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 2), "1", true),
		entry("w2", "ghost", "p1", NewDate(2025, 1, 2), "1", true),
	}
	entriesBefore := append([]WorkEntry(nil), f.entries...)
	employeesBefore := len(f.employees)

	if _, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees); err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(entriesBefore, f.entries) || len(f.employees) != employeesBefore {
		t.Fatal("inputs were mutated")
	}
}

func TestToLineItemsSinglePair(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 2), "7.5", true),
		entry("w2", "e2", "p1", NewDate(2025, 1, 2), "2", true),
	}
	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatal(err)
	}

	items, err := ToLineItems(NewSelection(PairKey{ProjectID: "p1", EmployeeID: "e1"}), data)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	item := items[0]
	if !item.Quantity.Equal(dec("7.5")) || !item.UnitPrice.Equal(dec("50")) {
		t.Fatalf("quantity/price = %s/%s", item.Quantity, item.UnitPrice)
	}
	if !item.TaxRate.IsZero() || !item.TotalAmount.Equal(dec("375")) {
		t.Fatalf("unexpected amounts: %+v", item)
	}
	if want := "Ada Lovelace (Engineer) - Website - 7.5 hours"; item.Description != want {
		t.Fatalf("description = %q, want %q", item.Description, want)
	}
	if item.ProjectID != "p1" || item.EmployeeID != "e1" {
		t.Fatalf("pair not recorded on the line: %+v", item)
	}
}

func TestToLineItemsSelectAllWithTaxRate(t *testing.T) {
	f := newFixture()
	f.entries = []WorkEntry{
		entry("w1", "e1", "p1", NewDate(2025, 1, 2), "2", true),
		entry("w2", "e2", "p2", NewDate(2025, 1, 2), "2", true),
	}
	data, err := AggregateBillableWork(f.client, f.period, f.entries, f.projects, f.employees)
	if err != nil {
		t.Fatal(err)
	}

	sel := SelectAll(data)
	sel[PairKey{ProjectID: "nope", EmployeeID: "e1"}] = struct{}{}

	items, err := ToLineItems(sel, data, WithTaxRate(decimal.NewFromInt(22)))
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	// data order: "api" (p2) before "Website" (p1)
	if items[0].ProjectID != "p2" || items[1].ProjectID != "p1" {
		t.Fatalf("items not in data order: %s, %s", items[0].ProjectID, items[1].ProjectID)
	}
	for _, item := range items {
		if !item.TaxRate.Equal(dec("22")) {
			t.Fatalf("tax rate = %s", item.TaxRate)
		}
	}

	if _, err := ToLineItems(sel, data, WithTaxRate(dec("150"))); !errors.Is(err, ErrInvalidTaxRate) {
		t.Fatalf("expected ErrInvalidTaxRate, got %v", err)
	}
}
