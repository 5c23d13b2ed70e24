// Package postgres is the hosted relational billing store, built on pgxpool.
// NUMERIC columns are read back as text so decimals survive unchanged.
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"billing/internal/core"
	"billing/internal/ports"
)

//go:embed schema.sql
var schema string

type Repository struct {
	db *pgxpool.Pool
}

var _ ports.Store = (*Repository)(nil)

// New connects to dsn, waits for a successful ping and applies the schema.
func New(ctx context.Context, dsn string) (*Repository, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	repo := NewWithPool(pool)
	if err := repo.ApplySchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	slog.InfoContext(ctx, "Postgres schema ready")
	return repo, nil
}

func NewWithPool(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool}
}

// ApplySchema creates any missing tables. It is safe to run repeatedly.
func (r *Repository) ApplySchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (r *Repository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *Repository) Close() error {
	r.db.Close()
	return nil
}

func (r *Repository) Import(ctx context.Context, snap ports.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, c := range snap.Clients {
		batch.Queue(`
			INSERT INTO clients (id, name, currency) VALUES ($1, $2, $3)
			ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, currency = EXCLUDED.currency`,
			c.ID, c.Name, c.Currency)
	}
	for _, p := range snap.Projects {
		batch.Queue(`
			INSERT INTO projects (id, client_id, name, status) VALUES ($1, $2, $3, $4)
			ON CONFLICT (id) DO UPDATE SET client_id = EXCLUDED.client_id, name = EXCLUDED.name, status = EXCLUDED.status`,
			p.ID, p.ClientID, p.Name, string(p.Status))
	}
	for _, e := range snap.Employees {
		batch.Queue(`
			INSERT INTO employees (id, full_name, role, department, cost_rate) VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (id) DO UPDATE SET full_name = EXCLUDED.full_name, role = EXCLUDED.role,
				department = EXCLUDED.department, cost_rate = EXCLUDED.cost_rate`,
			e.ID, e.FullName, e.Role, e.Department, e.CostRate.String())
	}
	for _, w := range snap.WorkEntries {
		batch.Queue(`
			INSERT INTO work_entries (id, employee_id, project_id, work_date, hours, billable) VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET employee_id = EXCLUDED.employee_id, project_id = EXCLUDED.project_id,
				work_date = EXCLUDED.work_date, hours = EXCLUDED.hours, billable = EXCLUDED.billable`,
			w.ID, w.EmployeeID, w.ProjectID, w.Date.Time, w.Hours.String(), w.Billable)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	slog.InfoContext(ctx, "Snapshot imported into Postgres",
		"clients", len(snap.Clients),
		"projects", len(snap.Projects),
		"employees", len(snap.Employees),
		"work_entries", len(snap.WorkEntries))
	return nil
}

func (r *Repository) GetClient(ctx context.Context, clientID string) (core.Client, error) {
	var c core.Client
	err := r.db.QueryRow(ctx, `SELECT id, name, currency FROM clients WHERE id = $1`, clientID).
		Scan(&c.ID, &c.Name, &c.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return core.Client{}, fmt.Errorf("client %q: %w", clientID, core.ErrNotFound)
	}
	if err != nil {
		return core.Client{}, fmt.Errorf("failed to get client: %w", err)
	}
	return c, nil
}

func (r *Repository) ListWorkEntries(ctx context.Context, clientID string, period core.Period) ([]core.WorkEntry, error) {
	rows, err := r.db.Query(ctx, `
		SELECT w.id, w.employee_id, w.project_id, w.work_date, w.hours::text, w.billable
		FROM work_entries w
		LEFT JOIN projects p ON p.id = w.project_id
		WHERE w.work_date BETWEEN $1 AND $2
		  AND (p.client_id = $3 OR p.id IS NULL)
		ORDER BY w.work_date, w.id`,
		period.Start.Time, period.End.Time, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query work entries: %w", err)
	}
	defer rows.Close()

	var out []core.WorkEntry
	for rows.Next() {
		var (
			w    core.WorkEntry
			date time.Time
		)
		if err := rows.Scan(&w.ID, &w.EmployeeID, &w.ProjectID, &date, &w.Hours, &w.Billable); err != nil {
			return nil, fmt.Errorf("failed to scan work entry: %w", err)
		}
		w.Date = core.DateOf(date)
		out = append(out, w)
	}
	return out, rows.Err()
}

func (r *Repository) ListProjects(ctx context.Context, clientID string) ([]core.Project, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, client_id, name, status FROM projects WHERE client_id = $1 ORDER BY name, id`, clientID)
	if err != nil {
		return nil, fmt.Errorf("failed to query projects: %w", err)
	}
	defer rows.Close()

	var out []core.Project
	for rows.Next() {
		var (
			p      core.Project
			status string
		)
		if err := rows.Scan(&p.ID, &p.ClientID, &p.Name, &status); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.Status = core.ProjectStatus(status)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) ListEmployees(ctx context.Context) ([]core.Employee, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, full_name, role, department, cost_rate::text FROM employees ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query employees: %w", err)
	}
	defer rows.Close()

	var out []core.Employee
	for rows.Next() {
		var e core.Employee
		if err := rows.Scan(&e.ID, &e.FullName, &e.Role, &e.Department, &e.CostRate); err != nil {
			return nil, fmt.Errorf("failed to scan employee: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// CreateInvoice stores inv and its lines and assigns the next number for the
// issue year. The sequence row is locked by the upsert until commit.
func (r *Repository) CreateInvoice(ctx context.Context, inv core.Invoice) (core.Invoice, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return core.Invoice{}, fmt.Errorf("begin create invoice: %w", err)
	}
	defer tx.Rollback(ctx)

	var seq int
	if err := tx.QueryRow(ctx, `
		INSERT INTO invoice_sequences (year, last_seq) VALUES ($1, 1)
		ON CONFLICT (year) DO UPDATE SET last_seq = invoice_sequences.last_seq + 1
		RETURNING last_seq`, inv.IssueDate.Year()).Scan(&seq); err != nil {
		return core.Invoice{}, fmt.Errorf("next invoice sequence: %w", err)
	}
	inv.Number = core.FormatInvoiceNumber(inv.IssueDate, seq)
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO invoices (id, number, client_id, period_start, period_end, issue_date, due_date,
			currency, status, notes, subtotal, tax_total, total, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		inv.ID, inv.Number, inv.ClientID, inv.Period.Start.Time, inv.Period.End.Time,
		inv.IssueDate.Time, inv.DueDate.Time, inv.Currency, string(inv.Status), inv.Notes,
		inv.Totals.Subtotal.String(), inv.Totals.TaxTotal.String(), inv.Totals.Total.String(),
		inv.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return core.Invoice{}, fmt.Errorf("invoice %s already exists", inv.ID)
		}
		return core.Invoice{}, fmt.Errorf("insert invoice: %w", err)
	}

	batch := &pgx.Batch{}
	for i, l := range inv.Lines {
		batch.Queue(`
			INSERT INTO invoice_lines (invoice_id, position, description, quantity, unit_price, tax_rate,
				amount, tax_amount, total_amount, project_id, employee_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			inv.ID, i, l.Description, l.Quantity.String(), l.UnitPrice.String(), l.TaxRate.String(),
			l.Amount.String(), l.TaxAmount.String(), l.TotalAmount.String(), l.ProjectID, l.EmployeeID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return core.Invoice{}, fmt.Errorf("insert invoice lines: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return core.Invoice{}, fmt.Errorf("commit invoice: %w", err)
	}
	slog.InfoContext(ctx, "Invoice saved to Postgres",
		"invoice_id", inv.ID,
		"invoice_number", inv.Number,
		"client_id", inv.ClientID,
		"lines", len(inv.Lines))
	return inv, nil
}

const invoiceColumns = `id, number, client_id, period_start, period_end, issue_date, due_date, currency,
	status, notes, subtotal::text, tax_total::text, total::text, created_at,
	export_status, export_attempts, export_ref, export_error`

func (r *Repository) GetInvoice(ctx context.Context, invoiceID string) (core.Invoice, error) {
	job, err := r.GetExportJob(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, err
	}
	return job.Invoice, nil
}

// ListInvoices returns the client's invoices, newest first.
func (r *Repository) ListInvoices(ctx context.Context, clientID string) ([]core.Invoice, error) {
	jobs, err := r.queryJobs(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE client_id = $1 ORDER BY issue_date DESC, number DESC`, clientID)
	if err != nil {
		return nil, err
	}
	out := make([]core.Invoice, len(jobs))
	for i, j := range jobs {
		out[i] = j.Invoice
	}
	return out, nil
}

func (r *Repository) PendingExports(ctx context.Context, limit int) ([]ports.ExportJob, error) {
	// LIMIT NULL means no limit.
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	return r.queryJobs(ctx,
		`SELECT `+invoiceColumns+` FROM invoices WHERE export_status = 'pending' ORDER BY created_at, id LIMIT $1`, lim)
}

func (r *Repository) GetExportJob(ctx context.Context, invoiceID string) (ports.ExportJob, error) {
	jobs, err := r.queryJobs(ctx, `SELECT `+invoiceColumns+` FROM invoices WHERE id = $1`, invoiceID)
	if err != nil {
		return ports.ExportJob{}, err
	}
	if len(jobs) == 0 {
		return ports.ExportJob{}, fmt.Errorf("invoice %q: %w", invoiceID, core.ErrNotFound)
	}
	return jobs[0], nil
}

func (r *Repository) MarkExported(ctx context.Context, invoiceID, ref string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET export_status = 'exported', export_ref = $1, export_error = ''
		WHERE id = $2`, ref, invoiceID)
	if err != nil {
		return fmt.Errorf("mark invoice exported: %w", err)
	}
	return expectOneRow(tag, invoiceID)
}

func (r *Repository) MarkExportFailed(ctx context.Context, invoiceID, reason string, terminal bool) error {
	status := ports.ExportPending
	if terminal {
		status = ports.ExportFailed
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE invoices SET export_attempts = export_attempts + 1, export_error = $1, export_status = $2
		WHERE id = $3`, reason, string(status), invoiceID)
	if err != nil {
		return fmt.Errorf("mark invoice export failed: %w", err)
	}
	return expectOneRow(tag, invoiceID)
}

func (r *Repository) queryJobs(ctx context.Context, query string, args ...any) ([]ports.ExportJob, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoices: %w", err)
	}
	jobs, err := pgx.CollectRows(rows, scanJob)
	if err != nil {
		return nil, fmt.Errorf("failed to scan invoices: %w", err)
	}

	for i := range jobs {
		lines, err := r.lines(ctx, jobs[i].Invoice.ID)
		if err != nil {
			return nil, err
		}
		jobs[i].Invoice.Lines = lines
	}
	return jobs, nil
}

func (r *Repository) lines(ctx context.Context, invoiceID string) ([]core.LineItem, error) {
	rows, err := r.db.Query(ctx, `
		SELECT description, quantity::text, unit_price::text, tax_rate::text, amount::text,
			tax_amount::text, total_amount::text, project_id, employee_id
		FROM invoice_lines WHERE invoice_id = $1 ORDER BY position`, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("failed to query invoice lines: %w", err)
	}
	defer rows.Close()

	var out []core.LineItem
	for rows.Next() {
		var l core.LineItem
		if err := rows.Scan(&l.Description, &l.Quantity, &l.UnitPrice, &l.TaxRate,
			&l.Amount, &l.TaxAmount, &l.TotalAmount, &l.ProjectID, &l.EmployeeID); err != nil {
			return nil, fmt.Errorf("failed to scan invoice line: %w", err)
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

func scanJob(row pgx.CollectableRow) (ports.ExportJob, error) {
	var (
		job                    ports.ExportJob
		inv                    core.Invoice
		start, end, issue, due time.Time
		status, exportStatus   string
	)
	if err := row.Scan(&inv.ID, &inv.Number, &inv.ClientID, &start, &end, &issue, &due, &inv.Currency,
		&status, &inv.Notes, &inv.Totals.Subtotal, &inv.Totals.TaxTotal, &inv.Totals.Total, &inv.CreatedAt,
		&exportStatus, &job.Attempts, &job.Ref, &job.LastError); err != nil {
		return ports.ExportJob{}, err
	}
	inv.Period = core.Period{Start: core.DateOf(start), End: core.DateOf(end)}
	inv.IssueDate = core.DateOf(issue)
	inv.DueDate = core.DateOf(due)
	inv.Status = core.InvoiceStatus(status)
	inv.CreatedAt = inv.CreatedAt.UTC()
	job.Invoice = inv
	job.Status = ports.ExportStatus(exportStatus)
	return job, nil
}

func expectOneRow(tag pgconn.CommandTag, invoiceID string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %q: %w", invoiceID, core.ErrNotFound)
	}
	return nil
}
