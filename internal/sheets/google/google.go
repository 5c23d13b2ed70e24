// Package google exports invoices to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"google.golang.org/api/googleapi"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"billing/internal/core"
	"billing/internal/currency"
	applog "billing/internal/log"
	"billing/internal/ports"
)

// header is written to an empty sheet before the first invoice.
var header = []any{
	"Invoice No", "Issue Date", "Due Date", "Client", "Period Start", "Period End",
	"Description", "Quantity", "Unit Price", "Tax Rate", "Amount", "Tax", "Total", "Currency",
}

const totalsLabel = "TOTAL"

type Config struct {
	SpreadsheetID string
	// SheetName is the base tab name; the invoice's issue year is prefixed.
	SheetName       string
	CredentialsFile string
	CredentialsJSON string
	// OAuthTokenFile switches to user credentials; the client comes from
	// OAuthClientJSON or OAuthClientFile.
	OAuthTokenFile  string
	OAuthClientFile string
	OAuthClientJSON string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetBase     string
	logger        *applog.Logger
}

var _ ports.InvoiceExporter = (*Client)(nil)

// New creates a Sheets client authenticated with a service account, or with
// a stored OAuth user token when cfg.OAuthTokenFile is set.
func New(ctx context.Context, cfg Config, logger *applog.Logger) (*Client, error) {
	if strings.TrimSpace(cfg.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	opts, err := clientOptions(ctx, cfg)
	if err != nil {
		return nil, err
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return NewWithService(svc, cfg.SpreadsheetID, cfg.SheetName, logger), nil
}

// NewWithService wraps an existing Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string, logger *applog.Logger) *Client {
	if logger == nil {
		logger = applog.Discard()
	}
	if strings.TrimSpace(sheetName) == "" {
		sheetName = "Invoices"
	}
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetBase:     sheetName,
		logger:        logger.WithComponent(applog.ComponentSheets),
	}
}

func clientOptions(ctx context.Context, cfg Config) ([]goption.ClientOption, error) {
	if strings.TrimSpace(cfg.OAuthTokenFile) != "" {
		oauthCfg, err := OAuthConfig(cfg.OAuthClientJSON, cfg.OAuthClientFile)
		if err != nil {
			return nil, err
		}
		tok, err := LoadToken(cfg.OAuthTokenFile)
		if err != nil {
			return nil, err
		}
		return []goption.ClientOption{goption.WithTokenSource(oauthCfg.TokenSource(ctx, tok))}, nil
	}
	credentialsJSON, err := loadCredentials(cfg)
	if err != nil {
		return nil, err
	}
	return []goption.ClientOption{
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope),
	}, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case strings.TrimSpace(cfg.CredentialsJSON) != "":
		return []byte(cfg.CredentialsJSON), nil
	case strings.TrimSpace(cfg.CredentialsFile) != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_CREDENTIALS_JSON or GOOGLE_CREDENTIALS_FILE)")
	}
}

// ExportInvoice appends one row per line plus a totals row and returns the
// updated range. An invoice whose number is already in the sheet is not
// written again.
func (c *Client) ExportInvoice(ctx context.Context, inv core.Invoice) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if inv.Number == "" {
		return "", fmt.Errorf("invoice %s has no number", inv.ID)
	}
	sheet := yearPrefixedName(c.sheetBase, inv.IssueDate.Year())

	numbers, err := c.readCol(ctx, sheet, "A:A")
	if isMissingSheet(err) {
		if err := c.addSheet(ctx, sheet); err != nil {
			return "", err
		}
		numbers, err = nil, nil
	}
	if err != nil {
		return "", err
	}
	if row := indexOf(numbers, inv.Number); row >= 0 {
		ref := fmt.Sprintf("%s!A%d", sheet, row+1)
		c.logger.InfoContext(ctx, "Invoice already in sheet, skipping append",
			applog.FieldInvoiceNo, inv.Number,
			applog.FieldExportRef, ref)
		return ref, nil
	}

	rows := invoiceRows(inv)
	if len(numbers) == 0 {
		rows = append([][]any{header}, rows...)
	}

	rng := fmt.Sprintf("%s!A:N", sheet)
	resp, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, rng, &gsheet.ValueRange{Values: rows}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append to sheet %s: %w", sheet, err)
	}

	ref := rng
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		ref = resp.Updates.UpdatedRange
	}
	c.logger.DebugContext(ctx, "Appended invoice rows",
		applog.FieldInvoiceNo, inv.Number,
		applog.FieldExportRef, ref,
		"rows", len(rows))
	return ref, nil
}

// readCol returns the cells of one column, "" for empty ones.
func (c *Client) readCol(ctx context.Context, sheetName, col string) ([]string, error) {
	rng := fmt.Sprintf("%s!%s", sheetName, col)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rng, err)
	}
	out := make([]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		if len(row) == 0 {
			out = append(out, "")
			continue
		}
		out = append(out, strings.TrimSpace(fmt.Sprint(row[0])))
	}
	return out, nil
}

func (c *Client) addSheet(ctx context.Context, title string) error {
	req := &gsheet.BatchUpdateSpreadsheetRequest{Requests: []*gsheet.Request{{
		AddSheet: &gsheet.AddSheetRequest{Properties: &gsheet.SheetProperties{Title: title}},
	}}}
	if _, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("add sheet %s: %w", title, err)
	}
	c.logger.InfoContext(ctx, "Created sheet", "sheet", title)
	return nil
}

// isMissingSheet reports the error Sheets returns for a range on a tab that
// does not exist.
func isMissingSheet(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusBadRequest &&
		strings.Contains(gerr.Message, "Unable to parse range")
}

// invoiceRows renders the line rows and the totals row. Amounts are rounded
// to the currency's minor unit; an unknown currency keeps exact values.
func invoiceRows(inv core.Invoice) [][]any {
	head := []any{
		inv.Number,
		inv.IssueDate.String(),
		inv.DueDate.String(),
		inv.ClientID,
		inv.Period.Start.String(),
		inv.Period.End.String(),
	}
	rows := make([][]any, 0, len(inv.Lines)+1)
	for _, l := range inv.Lines {
		row := append(append([]any{}, head...),
			l.Description,
			l.Quantity.String(),
			amount(l.UnitPrice, inv.Currency),
			l.TaxRate.String(),
			amount(l.Amount, inv.Currency),
			amount(l.TaxAmount, inv.Currency),
			amount(l.TotalAmount, inv.Currency),
			inv.Currency,
		)
		rows = append(rows, row)
	}
	totals := append(append([]any{}, head...),
		totalsLabel, "", "", "",
		amount(inv.Totals.Subtotal, inv.Currency),
		amount(inv.Totals.TaxTotal, inv.Currency),
		amount(inv.Totals.Total, inv.Currency),
		inv.Currency,
	)
	return append(rows, totals)
}

func amount(v decimal.Decimal, code string) string {
	rounded, err := currency.Round(v, code)
	if err != nil {
		return v.String()
	}
	scale, _ := currency.Scale(code)
	return rounded.StringFixed(int32(scale))
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}

func indexOf(arr []string, target string) int {
	for i, v := range arr {
		if strings.EqualFold(strings.TrimSpace(v), strings.TrimSpace(target)) {
			return i
		}
	}
	return -1
}
