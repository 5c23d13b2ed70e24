// Package storage is the SQLite billing store. Decimal values are kept as
// TEXT so they round-trip exactly.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"billing/internal/core"
	"billing/internal/ports"

	_ "modernc.org/sqlite"
)

const dateLayout = "2006-01-02"

type SQLiteRepository struct {
	db *sql.DB
}

var _ ports.Store = (*SQLiteRepository)(nil)

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}
	dsn := dbPath + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	version, err := RunMigrations(dsn)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("SQLite schema ready", "db_path", dbPath, "version", version)

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Import upserts every snapshot record in one transaction.
func (r *SQLiteRepository) Import(ctx context.Context, snap ports.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	for _, c := range snap.Clients {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO clients (id, name, currency) VALUES (?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET name = excluded.name, currency = excluded.currency`,
			c.ID, c.Name, c.Currency); err != nil {
			return fmt.Errorf("import client %s: %w", c.ID, err)
		}
	}
	for _, p := range snap.Projects {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO projects (id, client_id, name, status) VALUES (?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET client_id = excluded.client_id, name = excluded.name, status = excluded.status`,
			p.ID, p.ClientID, p.Name, string(p.Status)); err != nil {
			return fmt.Errorf("import project %s: %w", p.ID, err)
		}
	}
	for _, e := range snap.Employees {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO employees (id, full_name, role, department, cost_rate) VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET full_name = excluded.full_name, role = excluded.role,
				department = excluded.department, cost_rate = excluded.cost_rate`,
			e.ID, e.FullName, e.Role, e.Department, e.CostRate.String()); err != nil {
			return fmt.Errorf("import employee %s: %w", e.ID, err)
		}
	}
	for _, w := range snap.WorkEntries {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO work_entries (id, employee_id, project_id, work_date, hours, billable) VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET employee_id = excluded.employee_id, project_id = excluded.project_id,
				work_date = excluded.work_date, hours = excluded.hours, billable = excluded.billable`,
			w.ID, w.EmployeeID, w.ProjectID, w.Date.String(), w.Hours.String(), w.Billable); err != nil {
			return fmt.Errorf("import work entry %s: %w", w.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	slog.InfoContext(ctx, "Snapshot imported into SQLite",
		"clients", len(snap.Clients),
		"projects", len(snap.Projects),
		"employees", len(snap.Employees),
		"work_entries", len(snap.WorkEntries))
	return nil
}

func (r *SQLiteRepository) GetClient(ctx context.Context, clientID string) (core.Client, error) {
	var c core.Client
	err := r.db.QueryRowContext(ctx, `SELECT id, name, currency FROM clients WHERE id = ?`, clientID).
		Scan(&c.ID, &c.Name, &c.Currency)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Client{}, fmt.Errorf("client %q: %w", clientID, core.ErrNotFound)
	}
	if err != nil {
		return core.Client{}, fmt.Errorf("get client: %w", err)
	}
	return c, nil
}

func (r *SQLiteRepository) ListWorkEntries(ctx context.Context, clientID string, period core.Period) ([]core.WorkEntry, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, employee_id, project_id, work_date, hours, billable
		FROM work_entries
		WHERE work_date BETWEEN ? AND ?
		  AND (project_id IN (SELECT id FROM projects WHERE client_id = ?)
		       OR project_id NOT IN (SELECT id FROM projects))
		ORDER BY work_date, id`,
		period.Start.String(), period.End.String(), clientID)
	if err != nil {
		return nil, fmt.Errorf("list work entries: %w", err)
	}
	defer rows.Close()

	var out []core.WorkEntry
	for rows.Next() {
		var (
			w    core.WorkEntry
			date string
		)
		if err := rows.Scan(&w.ID, &w.EmployeeID, &w.ProjectID, &date, &w.Hours, &w.Billable); err != nil {
			return nil, fmt.Errorf("scan work entry: %w", err)
		}
		if w.Date, err = core.ParseDate(date); err != nil {
			return nil, fmt.Errorf("work entry %s: %w", w.ID, err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListProjects(ctx context.Context, clientID string) ([]core.Project, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, client_id, name, status FROM projects WHERE client_id = ? ORDER BY name, id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		var (
			p      core.Project
			status string
		)
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Name, &status); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		p.Status = core.ProjectStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, full_name, role, department, cost_rate FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list employees: %w", err)
	}
	defer rows.Close()

	var out []core.Employee
	for rows.Next() {
		var e core.Employee
		if err := rows.Scan(&e.ID, &e.FullName, &e.Role, &e.Department, &e.CostRate); err != nil {
			return nil, fmt.Errorf("scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateInvoice stores inv with its lines and assigns the next number for
// the issue year, all in one transaction.
func (r *SQLiteRepository) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return core.Invoice{}, fmt.Errorf("begin create invoice: %w", err)
	}
	defer tx.Rollback()

	var seq int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO invoice_sequences (year, last_seq) VALUES (?, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = last_seq + 1
		RETURNING last_seq`, inv.IssueDate.Year()).Scan(&seq); err != nil {
		return core.Invoice{}, fmt.Errorf("next invoice sequence: %w", err)
	}
	inv.Number = core.FormatInvoiceNumber(inv.IssueDate, seq)
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO invoices (id, number, client_id, period_start, period_end, issue_date, due_date,
			currency, status, notes, subtotal, tax_total, total, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inv.ID, inv.Number, inv.ClientID, inv.Period.Start.String(), inv.Period.End.String(),
		inv.IssueDate.String(), inv.DueDate.String(), inv.Currency, string(inv.Status), inv.Notes,
		inv.Totals.Subtotal.String(), inv.Totals.TaxTotal.String(), inv.Totals.Total.String(),
		inv.CreatedAt.Format(time.RFC3339Nano)); err != nil {
		return core.Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}

	for i, l := range inv.Lines {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO invoice_lines (invoice_id, position, description, quantity, unit_price, tax_rate,
				amount, tax_amount, total_amount, project_id, employee_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inv.ID, i, l.Description, l.Quantity.String(), l.UnitPrice.String(), l.TaxRate.String(),
			l.Amount.String(), l.TaxAmount.String(), l.TotalAmount.String(), l.ProjectID, l.EmployeeID); err != nil {
			return core.Invoice{}, fmt.Errorf("insert invoice line %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return core.Invoice{}, fmt.Errorf("commit invoice: %w", err)
	}

	slog.InfoContext(ctx, "Invoice saved to SQLite",
		"invoice_id", inv.ID,
		"invoice_number", inv.Number,
		"client_id", inv.ClientID,
		"lines", len(inv.Lines))
	return inv, nil
}

const invoiceColumns = `id, number, client_id, period_start, period_end, issue_date, due_date, currency,
	status, notes, subtotal, tax_total, total, created_at,
	export_status, export_attempts, export_ref, export_error`

func (r *SQLiteRepository) GetInvoice(ctx context.Context, invoiceID string) (core.Invoice, error) {
	job, err := r.GetExportJob(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, err
	}
	return job.Invoice, nil
}

// ListInvoices returns the client's invoices, newest first.
func (r *SQLiteRepository) ListInvoices(ctx context.Context, clientID string) ([]core.Invoice, error) {
	jobs, err := r.queryJobs(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE client_id = ? ORDER BY issue_date DESC, number DESC`, clientID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Invoice, len(jobs))
	for i, j := range jobs {
		out[i] = j.Invoice
	}
	return out, nil
}

func (r *SQLiteRepository) PendingExports(ctx context.Context, limit int) ([]ports.ExportJob, error) {
	if limit <= 0 {
		limit = -1
	}
	return r.queryJobs(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE export_status = 'pending' ORDER BY created_at, id LIMIT ?`, limit)
}

func (r *SQLiteRepository) GetExportJob(ctx context.Context, invoiceID string) (ports.ExportJob, error) {
	jobs, err := r.queryJobs(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, invoiceID)
	if err != nil {
		return ports.ExportJob{}, err
	}
	if len(jobs) == 0 {
		return ports.ExportJob{}, fmt.Errorf("invoice %q: %w", invoiceID, core.ErrNotFound)
	}
	return jobs[0], nil
}

func (r *SQLiteRepository) MarkExported(ctx context.Context, invoiceID, ref string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices SET export_status = 'exported', export_ref = ?, export_error = ''
		WHERE id = ?`, ref, invoiceID)
	if err != nil {
		return fmt.Errorf("mark invoice exported: %w", err)
	}
	return expectOneRow(res, invoiceID)
}

func (r *SQLiteRepository) MarkExportFailed(ctx context.Context, invoiceID, reason string, terminal bool) error {
	status := string(ports.ExportPending)
	if terminal {
		status = string(ports.ExportFailed)
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE invoices SET export_attempts = export_attempts + 1, export_error = ?, export_status = ?
		WHERE id = ?`, reason, status, invoiceID)
	if err != nil {
		return fmt.Errorf("mark invoice export failed: %w", err)
	}
	return expectOneRow(res, invoiceID)
}

func (r *SQLiteRepository) queryJobs(ctx context.Context, query string, args ...any) ([]ports.ExportJob, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query invoices: %w", err)
	}
	defer rows.Close()

	var jobs []ports.ExportJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	rows.Close()

	for i := range jobs {
		lines, err := r.lines(ctx, jobs[i].Invoice.ID)
		if err != nil {
			return nil, err
		}
		jobs[i].Invoice.Lines = lines
	}
	return jobs, nil
}

func (r *SQLiteRepository) lines(ctx context.Context, invoiceID string) ([]core.LineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT description, quantity, unit_price, tax_rate, amount, tax_amount, total_amount, project_id, employee_id
		FROM invoice_lines WHERE invoice_id = ? ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list invoice lines: %w", err)
	}
	defer rows.Close()

	var out []core.LineItem
	for rows.Next() {
		var l core.LineItem
		if err := rows.Scan(&l.Description, &l.Quantity, &l.UnitPrice, &l.TaxRate,
			&l.Amount, &l.TaxAmount, &l.TotalAmount, &l.ProjectID, &l.EmployeeID); err != nil {
			return nil, fmt.Errorf("scan invoice line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(s scanner) (ports.ExportJob, error) {
	var (
		job                                     ports.ExportJob
		inv                                     core.Invoice
		start, end, issue, due, status, created string
		exportStatus                            string
		subtotal, taxTotal, total               decimal.Decimal
	)
	if err := s.Scan(&inv.ID, &inv.Number, &inv.ClientID, &start, &end, &issue, &due, &inv.Currency,
		&status, &inv.Notes, &subtotal, &taxTotal, &total, &created,
		&exportStatus, &job.Attempts, &job.Ref, &job.LastError); err != nil {
		return ports.ExportJob{}, fmt.Errorf("scan invoice: %w", err)
	}

	dates := []struct {
		raw string
		dst *core.Date
	}{
		{start, &inv.Period.Start},
		{end, &inv.Period.End},
		{issue, &inv.IssueDate},
		{due, &inv.DueDate},
	}
	for _, d := range dates {
		parsed, err := time.Parse(dateLayout, d.raw)
		if err != nil {
			return ports.ExportJob{}, fmt.Errorf("invoice %s: bad date %q: %w", inv.ID, d.raw, err)
		}
		*d.dst = core.DateOf(parsed)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, created)
	if err != nil {
		return ports.ExportJob{}, fmt.Errorf("invoice %s: bad created_at: %w", inv.ID, err)
	}

	inv.CreatedAt = createdAt
	inv.Status = core.InvoiceStatus(status)
	inv.Totals = core.InvoiceTotals{Subtotal: subtotal, TaxTotal: taxTotal, Total: total}
	job.Invoice = inv
	job.Status = ports.ExportStatus(strings.TrimSpace(exportStatus))
	return job, nil
}

func expectOneRow(res sql.Result, invoiceID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("invoice %q: %w", invoiceID, core.ErrNotFound)
	}
	return nil
}
