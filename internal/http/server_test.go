package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"billing/internal/core"
	"billing/internal/currency"
	"billing/internal/memory"
	"billing/internal/middleware/ratelimit"
	"billing/internal/ports"
	"billing/internal/services"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func newTestServer(t *testing.T, opts Options) *Server {
	t.Helper()
	store, err := memory.NewFromSnapshot(ports.Snapshot{
		Clients:  []core.Client{{ID: "c1", Name: "Acme", Currency: "EUR"}},
		Projects: []core.Project{{ID: "p1", ClientID: "c1", Name: "Website", Status: core.ProjectActive}},
		Employees: []core.Employee{
			{ID: "e1", FullName: "Ada Lovelace", Role: "Engineer", CostRate: dec("50")},
		},
		WorkEntries: []core.WorkEntry{
			{ID: "w1", EmployeeID: "e1", ProjectID: "p1", Date: core.NewDate(2025, 1, 10), Hours: dec("4"), Billable: true},
			{ID: "w2", EmployeeID: "e1", ProjectID: "p1", Date: core.NewDate(2025, 1, 11), Hours: dec("6"), Billable: true},
			{ID: "w3", EmployeeID: "e1", ProjectID: "ghost", Date: core.NewDate(2025, 1, 12), Hours: dec("1"), Billable: true},
		},
	})
	if err != nil {
		t.Fatalf("seed store: %v", err)
	}
	svc := services.NewBillingService(store, nil, services.BillingConfig{
		DefaultTaxRate:   dec("10"),
		PaymentTermsDays: 30,
		Now:              func() time.Time { return time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC) },
	}, nil)

	if opts.Formatter == nil {
		f, err := currency.NewFormatter("en")
		if err != nil {
			t.Fatal(err)
		}
		opts.Formatter = f
	}
	if opts.Ready == nil {
		opts.Ready = store
	}
	srv, err := NewServer(":0", svc, opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rr := httptest.NewRecorder()
	srv.Handler.ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rr.Body).Decode(&v); err != nil {
		t.Fatalf("decode %T: %v", v, err)
	}
	return v
}

type failingPinger struct{}

func (failingPinger) Ping(context.Context) error { return errors.New("db down") }

func TestHealthAndReady(t *testing.T) {
	srv := newTestServer(t, Options{})
	for _, path := range []string{"/healthz", "/readyz"} {
		if rr := do(t, srv, http.MethodGet, path, ""); rr.Code != http.StatusOK {
			t.Fatalf("%s status=%d", path, rr.Code)
		}
	}

	down := newTestServer(t, Options{Ready: failingPinger{}})
	if rr := do(t, down, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz with failing dependency status=%d", rr.Code)
	}
}

func TestResponsesCarrySecurityAndTraceHeaders(t *testing.T) {
	srv := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodGet, "/healthz", "")
	if rr.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Errorf("missing nosniff header: %v", rr.Header())
	}
	if rr.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}
}

func TestComputeLineItems(t *testing.T) {
	srv := newTestServer(t, Options{})
	body := `{"currency":"EUR","items":[
		{"description":"Design","quantity":2,"unit_price":"100","tax_rate":20},
		{"description":"Refund","quantity":-1,"unit_price":"10","tax_rate":0},
		{"description":"Hosting","quantity":"3","unit_price":20,"tax_rate":"0"}
	]}`
	rr := do(t, srv, http.MethodPost, "/api/line-items/compute", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	resp := decode[computeResponse](t, rr)
	if resp.Valid {
		t.Error("batch with a negative quantity reported valid")
	}
	if len(resp.Items) != 2 || len(resp.Errors) != 1 {
		t.Fatalf("items=%d errors=%d", len(resp.Items), len(resp.Errors))
	}
	if e := resp.Errors[0]; e.Index != 1 || e.Path != "items[1].quantity" || e.Code != core.CodeOutOfRange {
		t.Errorf("error = %+v", e)
	}
	if !resp.Items[0].TotalAmount.Equal(dec("240")) {
		t.Errorf("first item total = %s", resp.Items[0].TotalAmount)
	}
	if !resp.Totals.Subtotal.Equal(dec("260")) || !resp.Totals.TaxTotal.Equal(dec("40")) || !resp.Totals.Total.Equal(dec("300")) {
		t.Errorf("totals = %+v", resp.Totals)
	}
	if resp.Totals.Formatted == nil || !strings.Contains(resp.Totals.Formatted.Total, "300.00") {
		t.Errorf("formatted totals = %+v", resp.Totals.Formatted)
	}
}

func TestComputeLineItems_BadRequests(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"malformed json", `{"items":[`, http.StatusBadRequest},
		{"non numeric quantity", `{"items":[{"quantity":"two"}]}`, http.StatusBadRequest},
		{"missing items", `{}`, http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/line-items/compute", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d, want %d (body=%s)", rr.Code, tt.status, rr.Body)
			}
		})
	}

	rr := do(t, srv, http.MethodPost, "/api/line-items/compute", `{"items":[]}`)
	resp := decode[computeResponse](t, rr)
	if !resp.Valid || len(resp.Items) != 0 || !resp.Totals.Total.IsZero() {
		t.Errorf("empty batch = %+v", resp)
	}
}

func TestBilling(t *testing.T) {
	srv := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodGet, "/api/clients/c1/billing?start=2025-01-01&end=2025-01-31", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	resp := decode[billingResponse](t, rr)
	if resp.ClientName != "Acme" || resp.Currency != "EUR" {
		t.Errorf("client = %q %q", resp.ClientName, resp.Currency)
	}
	if resp.Period.Start != "2025-01-01" || resp.Period.End != "2025-01-31" {
		t.Errorf("period = %+v", resp.Period)
	}
	if !resp.TotalHours.Equal(dec("10")) || !resp.TotalAmount.Equal(dec("500")) {
		t.Errorf("totals = %s h, %s", resp.TotalHours, resp.TotalAmount)
	}
	if !strings.Contains(resp.AmountLabel, "500.00") {
		t.Errorf("amount label = %q", resp.AmountLabel)
	}
	if resp.Skipped != 1 || len(resp.Diagnostics) != 1 || resp.Diagnostics[0].Kind != core.DiagMissingProject {
		t.Errorf("skipped=%d diagnostics=%+v", resp.Skipped, resp.Diagnostics)
	}
	if len(resp.Projects) != 1 || len(resp.Projects[0].Employees) != 1 {
		t.Fatalf("projects = %+v", resp.Projects)
	}
	if e := resp.Projects[0].Employees[0]; e.FullName != "Ada Lovelace" || !e.TotalBillableAmount.Equal(dec("500")) {
		t.Errorf("employee = %+v", e)
	}
}

func TestBilling_LocaleOverride(t *testing.T) {
	srv := newTestServer(t, Options{})
	rr := do(t, srv, http.MethodGet, "/api/clients/c1/billing?start=2025-01-01&end=2025-01-31&locale=de", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	if resp := decode[billingResponse](t, rr); !strings.Contains(resp.AmountLabel, "500,00") {
		t.Errorf("amount label = %q", resp.AmountLabel)
	}

	rr = do(t, srv, http.MethodGet, "/api/clients/c1/billing?start=2025-01-01&end=2025-01-31&locale=not%20a%20locale%21", "")
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status=%d", rr.Code)
	}
	if e := decode[errorResponse](t, rr); e.Field != "locale" || e.Code != core.CodeInvalidFormat {
		t.Errorf("error = %+v", e)
	}
}

func TestBilling_Errors(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name   string
		query  string
		status int
		code   string
		field  string
	}{
		{"missing start", "?end=2025-01-31", http.StatusUnprocessableEntity, core.CodeRequired, "start"},
		{"malformed end", "?start=2025-01-01&end=31/01/2025", http.StatusUnprocessableEntity, core.CodeInvalidFormat, "end"},
		{"reversed range", "?start=2025-02-01&end=2025-01-01", http.StatusUnprocessableEntity, core.CodeOutOfRange, "start_date"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodGet, "/api/clients/c1/billing"+tt.query, "")
			if rr.Code != tt.status {
				t.Fatalf("status=%d, want %d", rr.Code, tt.status)
			}
			resp := decode[errorResponse](t, rr)
			if resp.Code != tt.code || resp.Field != tt.field {
				t.Errorf("error = %+v", resp)
			}
		})
	}

	rr := do(t, srv, http.MethodGet, "/api/clients/nobody/billing?start=2025-01-01&end=2025-01-31", "")
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown client status=%d", rr.Code)
	}
}

func TestDraftLineItems(t *testing.T) {
	srv := newTestServer(t, Options{})
	body := `{"start":"2025-01-01","end":"2025-01-31","selection":[{"project_id":"p1","employee_id":"e1"}],"tax_rate":"22"}`
	rr := do(t, srv, http.MethodPost, "/api/clients/c1/line-items", body)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	resp := decode[draftResponse](t, rr)
	if len(resp.Lines) != 1 {
		t.Fatalf("lines = %+v", resp.Lines)
	}
	line := resp.Lines[0]
	if line.Description != "Ada Lovelace (Engineer) - Website - 10 hours" {
		t.Errorf("description = %q", line.Description)
	}
	if !line.Amount.Equal(dec("500")) || !line.TaxAmount.Equal(dec("110")) || !line.TotalAmount.Equal(dec("610")) {
		t.Errorf("line = %+v", line)
	}
	if !resp.Totals.Total.Equal(dec("610")) {
		t.Errorf("totals = %+v", resp.Totals)
	}
}

func TestCreateAndFetchInvoice(t *testing.T) {
	srv := newTestServer(t, Options{InvoiceCacheTTL: time.Minute})
	body := `{"start":"2025-01-01","end":"2025-01-31","tax_rate":10,
		"extra_lines":[{"description":"Hosting","quantity":1,"unit_price":"20","tax_rate":0}],
		"notes":"Thanks"}`
	rr := do(t, srv, http.MethodPost, "/api/clients/c1/invoices", body)
	if rr.Code != http.StatusCreated {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body)
	}
	created := decode[invoiceResponse](t, rr)
	if created.Number != "INV-2025-0001" || created.IssueDate != "2025-02-01" || created.DueDate != "2025-03-03" {
		t.Errorf("invoice head = %+v", created)
	}
	if len(created.Lines) != 2 || !created.Totals.Total.Equal(dec("570")) {
		t.Errorf("lines=%d total=%s", len(created.Lines), created.Totals.Total)
	}
	if loc := rr.Header().Get("Location"); loc != "/api/invoices/"+created.ID {
		t.Errorf("Location = %q", loc)
	}

	rr = do(t, srv, http.MethodGet, "/api/invoices/"+created.ID, "")
	if rr.Code != http.StatusOK {
		t.Fatalf("get status=%d", rr.Code)
	}
	if got := decode[invoiceResponse](t, rr); got.Number != created.Number || got.Notes != "Thanks" {
		t.Errorf("fetched = %+v", got)
	}

	rr = do(t, srv, http.MethodGet, "/api/clients/c1/invoices", "")
	if list := decode[[]invoiceResponse](t, rr); len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	if rr := do(t, srv, http.MethodGet, "/api/invoices/missing", ""); rr.Code != http.StatusNotFound {
		t.Errorf("missing invoice status=%d", rr.Code)
	}
	if rr := do(t, srv, http.MethodGet, "/api/clients/nobody/invoices", ""); rr.Code != http.StatusNotFound {
		t.Errorf("unknown client list status=%d", rr.Code)
	}

	metrics := do(t, srv, http.MethodGet, "/metrics", "").Body.String()
	for _, want := range []string{
		"invoices_created_total 1\n",
		"invoice_cache_hits_total 1\n",
		"invoice_cache_misses_total 1\n",
		"invoice_cache_entries 1\n",
		"# TYPE http_requests_total counter",
	} {
		if !strings.Contains(metrics, want) {
			t.Errorf("metrics missing %q:\n%s", want, metrics)
		}
	}
}

func TestCreateInvoice_Rejections(t *testing.T) {
	srv := newTestServer(t, Options{})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"bad issue date", `{"start":"2025-01-01","end":"2025-01-31","issue_date":"tomorrow"}`, http.StatusUnprocessableEntity},
		{"period without work", `{"start":"2025-03-01","end":"2025-03-31"}`, http.StatusUnprocessableEntity},
		{"tax rate over 100", `{"start":"2025-01-01","end":"2025-01-31","tax_rate":101}`, http.StatusUnprocessableEntity},
		{"empty body", ``, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := do(t, srv, http.MethodPost, "/api/clients/c1/invoices", tt.body)
			if rr.Code != tt.status {
				t.Fatalf("status=%d, want %d (body=%s)", rr.Code, tt.status, rr.Body)
			}
		})
	}
}

func TestRateLimitedRequestsGetJSON429(t *testing.T) {
	srv := newTestServer(t, Options{RateLimit: ratelimit.Config{Requests: 1, Window: time.Minute}})

	if rr := do(t, srv, http.MethodGet, "/api/clients/c1/invoices", ""); rr.Code != http.StatusOK {
		t.Fatalf("first request status=%d", rr.Code)
	}
	rr := do(t, srv, http.MethodGet, "/api/clients/c1/invoices", "")
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status=%d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}
	if resp := decode[errorResponse](t, rr); resp.Error == "" {
		t.Error("expected a JSON error body")
	}

	// Health checks sit outside the limiter.
	if rr := do(t, srv, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Errorf("healthz status=%d", rr.Code)
	}
}
