// Package export writes aggregates and line items as CSV or JSON.
package export

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"billing/internal/core"
	"billing/internal/currency"
)

type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatCSV:
		return f, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want table, json or csv)", s)
	}
}

var lineItemHeader = []string{
	"Description", "Project ID", "Employee ID", "Quantity", "Unit Price",
	"Tax Rate", "Amount", "Tax", "Total", "Currency",
}

// LineItemsCSV writes one record per line followed by a TOTAL record.
// Amounts are rounded to the currency's minor unit when code is known.
func LineItemsCSV(w io.Writer, lines []core.LineItem, totals core.InvoiceTotals, code string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(lineItemHeader); err != nil {
		return err
	}
	for _, l := range lines {
		if err := cw.Write([]string{
			l.Description,
			l.ProjectID,
			l.EmployeeID,
			l.Quantity.String(),
			money(l.UnitPrice, code),
			l.TaxRate.String(),
			money(l.Amount, code),
			money(l.TaxAmount, code),
			money(l.TotalAmount, code),
			code,
		}); err != nil {
			return err
		}
	}
	if err := cw.Write([]string{
		"TOTAL", "", "", "", "", "",
		money(totals.Subtotal, code),
		money(totals.TaxTotal, code),
		money(totals.Total, code),
		code,
	}); err != nil {
		return err
	}
	cw.Flush()
	return cw.Error()
}

var aggregateHeader = []string{
	"Project ID", "Project", "Status", "Employee ID", "Employee", "Role",
	"Billable Hours", "Non-billable Hours", "Cost Rate", "Billable Amount", "Currency",
}

// AggregateCSV writes one record per project/employee pair.
func AggregateCSV(w io.Writer, data core.ClientProjectData) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(aggregateHeader); err != nil {
		return err
	}
	for _, p := range data.Projects {
		for _, e := range p.Employees {
			if err := cw.Write([]string{
				p.ProjectID,
				p.ProjectName,
				string(p.Status),
				e.EmployeeID,
				e.FullName,
				e.Role,
				e.TotalHours.String(),
				e.NonBillableHours.String(),
				e.CostRate.String(),
				money(e.TotalBillableAmount, data.Currency),
				data.Currency,
			}); err != nil {
				return err
			}
		}
	}
	cw.Flush()
	return cw.Error()
}

// JSON writes v indented.
func JSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ToFile creates dir/base-<timestamp>.ext, hands it to write and returns the
// absolute path.
func ToFile(dir, base string, format Format, write func(io.Writer) error) (string, error) {
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	name := fmt.Sprintf("%s-%s.%s", base, time.Now().Format("20060102-150405"), format)
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return filepath.Abs(path)
}

func money(v decimal.Decimal, code string) string {
	rounded, err := currency.Round(v, code)
	if err != nil {
		return v.String()
	}
	scale, _ := currency.Scale(code)
	return rounded.StringFixed(int32(scale))
}
