// Package console renders billing data for terminals.
package console

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/pterm/pterm"
	"github.com/shopspring/decimal"

	"billing/internal/core"
	"billing/internal/currency"
	"billing/internal/services"
)

var (
	boldCyan   = color.New(color.FgCyan, color.Bold).SprintFunc()
	boldYellow = color.New(color.FgYellow, color.Bold).SprintFunc()
	red        = color.New(color.FgRed).SprintFunc()
	green      = color.New(color.FgGreen).SprintFunc()
)

type Console struct {
	out       io.Writer
	formatter *currency.Formatter
}

// New returns a console writing to out. formatter may be nil, in which case
// amounts are printed exactly.
func New(out io.Writer, formatter *currency.Formatter) *Console {
	return &Console{out: out, formatter: formatter}
}

func (c *Console) Info(format string, a ...any) {
	pterm.Info.WithWriter(c.out).Printfln(format, a...)
}

func (c *Console) Warning(format string, a ...any) {
	pterm.Warning.WithWriter(c.out).Printfln(format, a...)
}

func (c *Console) Success(format string, a ...any) {
	pterm.Success.WithWriter(c.out).Printfln(format, a...)
}

// Aggregate prints the per-pair table, the grand totals and any skipped
// entries.
func (c *Console) Aggregate(data core.ClientProjectData) error {
	fmt.Fprintln(c.out, boldCyan(fmt.Sprintf("%s (%s)  %s to %s",
		data.ClientName, data.ClientID, data.Period.Start, data.Period.End)))

	rows := pterm.TableData{{"Project", "Status", "Employee", "Role", "Hours", "Non-billable", "Rate", "Amount"}}
	for _, p := range data.Projects {
		for _, e := range p.Employees {
			rows = append(rows, []string{
				p.ProjectName,
				string(p.Status),
				e.FullName,
				e.Role,
				c.hours(e.TotalHours),
				c.hours(e.NonBillableHours),
				c.money(e.CostRate, data.Currency),
				c.money(e.TotalBillableAmount, data.Currency),
			})
		}
	}
	if err := c.table(rows); err != nil {
		return err
	}

	hours, amount := data.BillableTotals()
	fmt.Fprintf(c.out, "Billable hours: %s  Total: %s\n", c.hours(hours), green(c.money(amount, data.Currency)))

	if data.Skipped > 0 {
		c.Warning("%d work entries skipped", data.Skipped)
		for _, d := range data.Diagnostics {
			fmt.Fprintf(c.out, "  %s %s -> %s\n", boldYellow(d.Kind), d.EntryID, d.ReferenceID)
		}
	}
	return nil
}

// LineItems prints lines with a totals footer.
func (c *Console) LineItems(lines []core.LineItem, totals core.InvoiceTotals, code string) error {
	rows := pterm.TableData{{"Description", "Qty", "Unit Price", "Tax %", "Amount", "Tax", "Total"}}
	for _, l := range lines {
		rows = append(rows, []string{
			l.Description,
			l.Quantity.String(),
			c.money(l.UnitPrice, code),
			l.TaxRate.String(),
			c.money(l.Amount, code),
			c.money(l.TaxAmount, code),
			c.money(l.TotalAmount, code),
		})
	}
	if err := c.table(rows); err != nil {
		return err
	}
	c.totals(totals, code)
	return nil
}

// Batch prints a calculator batch: valid items, then one line per error.
func (c *Console) Batch(batch services.LineItemBatch, code string) error {
	if err := c.LineItems(batch.Items, batch.Totals, code); err != nil {
		return err
	}
	for _, e := range batch.Errors {
		fmt.Fprintf(c.out, "%s %s: %s\n", red(e.Code), e.Path, e.Message)
	}
	if !batch.Valid {
		c.Warning("%d of %d items rejected", len(batch.Errors), len(batch.Errors)+len(batch.Items))
	}
	return nil
}

func (c *Console) totals(t core.InvoiceTotals, code string) {
	fmt.Fprintf(c.out, "Subtotal: %s  Tax: %s  Total: %s\n",
		c.money(t.Subtotal, code), c.money(t.TaxTotal, code), green(c.money(t.Total, code)))
}

func (c *Console) table(rows pterm.TableData) error {
	out, err := pterm.DefaultTable.
		WithHasHeader().
		WithBoxed().
		WithHeaderStyle(pterm.NewStyle(pterm.FgLightCyan)).
		WithData(rows).
		Srender()
	if err != nil {
		return err
	}
	fmt.Fprintln(c.out, out)
	return nil
}

func (c *Console) hours(v decimal.Decimal) string {
	if c.formatter == nil {
		return v.String()
	}
	return c.formatter.FormatHours(v)
}

func (c *Console) money(v decimal.Decimal, code string) string {
	if c.formatter == nil || code == "" {
		return v.String()
	}
	s, err := c.formatter.Format(v, code)
	if err != nil {
		return v.String()
	}
	return s
}
