package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"billing/internal/core"
	"billing/internal/services"
)

// Request payloads. Decimals accept JSON numbers or strings.

type lineItemInput struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
}

func (in lineItemInput) toService() services.LineItemInput {
	return services.LineItemInput{
		Description: in.Description,
		Quantity:    in.Quantity,
		UnitPrice:   in.UnitPrice,
		TaxRate:     in.TaxRate,
	}
}

func toServiceInputs(in []lineItemInput) []services.LineItemInput {
	out := make([]services.LineItemInput, 0, len(in))
	for _, i := range in {
		out = append(out, i.toService())
	}
	return out
}

type computeRequest struct {
	Items []lineItemInput `json:"items"`
	// Currency is optional; when set, totals are also returned formatted.
	Currency string `json:"currency,omitempty"`
}

func (c *computeRequest) Bind(*http.Request) error {
	if c.Items == nil {
		return core.NewRequired("items")
	}
	return nil
}

type pairSelection struct {
	ProjectID  string `json:"project_id"`
	EmployeeID string `json:"employee_id"`
}

type draftRequest struct {
	Start     string           `json:"start"`
	End       string           `json:"end"`
	Selection []pairSelection  `json:"selection,omitempty"`
	TaxRate   *decimal.Decimal `json:"tax_rate,omitempty"`

	period core.Period
}

func (d *draftRequest) Bind(*http.Request) error {
	period, err := parsePeriod(d.Start, d.End)
	if err != nil {
		return err
	}
	d.period = period
	return nil
}

// selection returns nil when the caller did not pick pairs.
func (d *draftRequest) selection() core.Selection {
	if d.Selection == nil {
		return nil
	}
	keys := make([]core.PairKey, 0, len(d.Selection))
	for _, s := range d.Selection {
		keys = append(keys, core.PairKey{ProjectID: s.ProjectID, EmployeeID: s.EmployeeID})
	}
	return core.NewSelection(keys...)
}

type createInvoiceRequest struct {
	draftRequest
	ExtraLines []lineItemInput `json:"extra_lines,omitempty"`
	IssueDate  string          `json:"issue_date,omitempty"`
	DueDate    string          `json:"due_date,omitempty"`
	Notes      string          `json:"notes,omitempty"`

	issue core.Date
	due   core.Date
}

func (c *createInvoiceRequest) Bind(r *http.Request) error {
	if err := c.draftRequest.Bind(r); err != nil {
		return err
	}
	var err error
	if c.issue, err = parseOptionalDate("issue_date", c.IssueDate); err != nil {
		return err
	}
	if c.due, err = parseOptionalDate("due_date", c.DueDate); err != nil {
		return err
	}
	return nil
}

func parsePeriod(start, end string) (core.Period, error) {
	s, err := parseDate("start", start)
	if err != nil {
		return core.Period{}, err
	}
	e, err := parseDate("end", end)
	if err != nil {
		return core.Period{}, err
	}
	return core.NewPeriod(s, e)
}

func parseDate(field, raw string) (core.Date, error) {
	if raw == "" {
		return core.Date{}, core.NewRequired(field)
	}
	d, err := core.ParseDate(raw)
	if err != nil {
		var ve *core.ValidationError
		if errors.As(err, &ve) {
			ve.Field = field
		}
		return core.Date{}, err
	}
	return d, nil
}

func parseOptionalDate(field, raw string) (core.Date, error) {
	if raw == "" {
		return core.Date{}, nil
	}
	return parseDate(field, raw)
}

// Response payloads. Exact decimals are sent as strings; *_formatted fields
// are rounded for display.

type periodResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

func newPeriodResponse(p core.Period) periodResponse {
	return periodResponse{Start: p.Start.String(), End: p.End.String()}
}

type lineItemResponse struct {
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	TaxRate     decimal.Decimal `json:"tax_rate"`
	Amount      decimal.Decimal `json:"amount"`
	TaxAmount   decimal.Decimal `json:"tax_amount"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	ProjectID   string          `json:"project_id,omitempty"`
	EmployeeID  string          `json:"employee_id,omitempty"`
}

func newLineItemResponses(lines []core.LineItem) []lineItemResponse {
	out := make([]lineItemResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineItemResponse{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   l.UnitPrice,
			TaxRate:     l.TaxRate,
			Amount:      l.Amount,
			TaxAmount:   l.TaxAmount,
			TotalAmount: l.TotalAmount,
			ProjectID:   l.ProjectID,
			EmployeeID:  l.EmployeeID,
		})
	}
	return out
}

type totalsResponse struct {
	Subtotal  decimal.Decimal  `json:"subtotal"`
	TaxTotal  decimal.Decimal  `json:"tax_total"`
	Total     decimal.Decimal  `json:"total"`
	Formatted *formattedTotals `json:"formatted,omitempty"`
}

type formattedTotals struct {
	Subtotal string `json:"subtotal"`
	TaxTotal string `json:"tax_total"`
	Total    string `json:"total"`
}

// moneyFormat renders an amount in a currency. A nil moneyFormat leaves
// amounts unformatted.
type moneyFormat func(amount decimal.Decimal, code string) (string, error)

// newTotalsResponse formats the totals when code is a known currency.
func newTotalsResponse(t core.InvoiceTotals, money moneyFormat, code string) totalsResponse {
	resp := totalsResponse{Subtotal: t.Subtotal, TaxTotal: t.TaxTotal, Total: t.Total}
	if money == nil || code == "" {
		return resp
	}
	sub, err1 := money(t.Subtotal, code)
	tax, err2 := money(t.TaxTotal, code)
	total, err3 := money(t.Total, code)
	if err1 == nil && err2 == nil && err3 == nil {
		resp.Formatted = &formattedTotals{Subtotal: sub, TaxTotal: tax, Total: total}
	}
	return resp
}

type itemErrorResponse struct {
	Index   int    `json:"index"`
	Code    string `json:"code"`
	Path    string `json:"path"`
	Message string `json:"message"`
}

type computeResponse struct {
	Valid  bool                `json:"valid"`
	Items  []lineItemResponse  `json:"items"`
	Errors []itemErrorResponse `json:"errors"`
	Totals totalsResponse      `json:"totals"`
}

func newComputeResponse(b services.LineItemBatch, money moneyFormat, code string) computeResponse {
	errs := make([]itemErrorResponse, 0, len(b.Errors))
	for _, e := range b.Errors {
		errs = append(errs, itemErrorResponse{Index: e.Index, Code: e.Code, Path: e.Path, Message: e.Message})
	}
	return computeResponse{
		Valid:  b.Valid,
		Items:  newLineItemResponses(b.Items),
		Errors: errs,
		Totals: newTotalsResponse(b.Totals, money, code),
	}
}

type employeeResponse struct {
	EmployeeID               string          `json:"employee_id"`
	FullName                 string          `json:"full_name"`
	Role                     string          `json:"role"`
	Department               string          `json:"department,omitempty"`
	TotalHours               decimal.Decimal `json:"total_hours"`
	NonBillableHours         decimal.Decimal `json:"non_billable_hours"`
	CostRate                 decimal.Decimal `json:"cost_rate"`
	TotalBillableAmount      decimal.Decimal `json:"total_billable_amount"`
	TotalBillableAmountLabel string          `json:"total_billable_amount_formatted,omitempty"`
}

type projectResponse struct {
	ProjectID   string             `json:"project_id"`
	ProjectName string             `json:"project_name"`
	Status      string             `json:"status"`
	Employees   []employeeResponse `json:"employees"`
}

type diagnosticResponse struct {
	EntryID     string `json:"entry_id"`
	Kind        string `json:"kind"`
	ReferenceID string `json:"reference_id"`
}

type billingResponse struct {
	ClientID    string               `json:"client_id"`
	ClientName  string               `json:"client_name"`
	Currency    string               `json:"currency"`
	Period      periodResponse       `json:"period"`
	Projects    []projectResponse    `json:"projects"`
	TotalHours  decimal.Decimal      `json:"total_hours"`
	TotalAmount decimal.Decimal      `json:"total_amount"`
	AmountLabel string               `json:"total_amount_formatted,omitempty"`
	Skipped     int                  `json:"skipped"`
	Diagnostics []diagnosticResponse `json:"diagnostics"`
}

func newBillingResponse(d core.ClientProjectData, money moneyFormat) billingResponse {
	format := func(v decimal.Decimal) string {
		if money == nil {
			return ""
		}
		s, err := money(v, d.Currency)
		if err != nil {
			return ""
		}
		return s
	}

	projects := make([]projectResponse, 0, len(d.Projects))
	for _, p := range d.Projects {
		employees := make([]employeeResponse, 0, len(p.Employees))
		for _, e := range p.Employees {
			employees = append(employees, employeeResponse{
				EmployeeID:               e.EmployeeID,
				FullName:                 e.FullName,
				Role:                     e.Role,
				Department:               e.Department,
				TotalHours:               e.TotalHours,
				NonBillableHours:         e.NonBillableHours,
				CostRate:                 e.CostRate,
				TotalBillableAmount:      e.TotalBillableAmount,
				TotalBillableAmountLabel: format(e.TotalBillableAmount),
			})
		}
		projects = append(projects, projectResponse{
			ProjectID:   p.ProjectID,
			ProjectName: p.ProjectName,
			Status:      string(p.Status),
			Employees:   employees,
		})
	}

	diags := make([]diagnosticResponse, 0, len(d.Diagnostics))
	for _, diag := range d.Diagnostics {
		diags = append(diags, diagnosticResponse{EntryID: diag.EntryID, Kind: diag.Kind, ReferenceID: diag.ReferenceID})
	}

	hours, amount := d.BillableTotals()
	return billingResponse{
		ClientID:    d.ClientID,
		ClientName:  d.ClientName,
		Currency:    d.Currency,
		Period:      newPeriodResponse(d.Period),
		Projects:    projects,
		TotalHours:  hours,
		TotalAmount: amount,
		AmountLabel: format(amount),
		Skipped:     d.Skipped,
		Diagnostics: diags,
	}
}

type draftResponse struct {
	ClientID string             `json:"client_id"`
	Currency string             `json:"currency"`
	Period   periodResponse     `json:"period"`
	Lines    []lineItemResponse `json:"lines"`
	Totals   totalsResponse     `json:"totals"`
}

type invoiceResponse struct {
	ID        string             `json:"id"`
	Number    string             `json:"number"`
	ClientID  string             `json:"client_id"`
	Period    periodResponse     `json:"period"`
	IssueDate string             `json:"issue_date"`
	DueDate   string             `json:"due_date"`
	Currency  string             `json:"currency"`
	Status    string             `json:"status"`
	Notes     string             `json:"notes,omitempty"`
	Lines     []lineItemResponse `json:"lines"`
	Totals    totalsResponse     `json:"totals"`
	CreatedAt time.Time          `json:"created_at"`
}

func newInvoiceResponse(inv core.Invoice, money moneyFormat) invoiceResponse {
	return invoiceResponse{
		ID:        inv.ID,
		Number:    inv.Number,
		ClientID:  inv.ClientID,
		Period:    newPeriodResponse(inv.Period),
		IssueDate: inv.IssueDate.String(),
		DueDate:   inv.DueDate.String(),
		Currency:  inv.Currency,
		Status:    string(inv.Status),
		Notes:     inv.Notes,
		Lines:     newLineItemResponses(inv.Lines),
		Totals:    newTotalsResponse(inv.Totals, money, inv.Currency),
		CreatedAt: inv.CreatedAt,
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
	Field string `json:"field,omitempty"`
}
