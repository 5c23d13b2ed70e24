// Package memory is an in-process billing store, seeded from a snapshot.
// It backs the CLI and local development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"billing/internal/core"
	"billing/internal/ports"
)

type Store struct {
	mu        sync.RWMutex
	clients   map[string]core.Client
	projects  []core.Project
	employees []core.Employee
	entries   []core.WorkEntry
	invoices  []*ports.ExportJob
	seq       map[int]int
}

var _ ports.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		clients: make(map[string]core.Client),
		seq:     make(map[int]int),
	}
}

// NewFromSnapshot creates a store holding the snapshot's records.
func NewFromSnapshot(snap ports.Snapshot) (*Store, error) {
	s := New()
	if err := s.Import(context.Background(), snap); err != nil {
		return nil, err
	}
	return s, nil
}

// NewFromFile loads a snapshot file. An empty path yields an empty store.
func NewFromFile(path string) (*Store, error) {
	if path == "" {
		return New(), nil
	}
	snap, err := LoadSnapshot(path)
	if err != nil {
		return nil, err
	}
	return NewFromSnapshot(snap)
}

// Import upserts records by id. It validates everything before storing
// anything.
func (s *Store) Import(_ context.Context, snap ports.Snapshot) error {
	if err := snap.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range snap.Clients {
		s.clients[c.ID] = c
	}
	s.projects = upsert(s.projects, snap.Projects, func(p core.Project) string { return p.ID })
	s.employees = upsert(s.employees, snap.Employees, func(e core.Employee) string { return e.ID })
	s.entries = upsert(s.entries, snap.WorkEntries, func(w core.WorkEntry) string { return w.ID })
	return nil
}

// upsert replaces items with a matching id in place and appends the rest.
func upsert[T any](dst, src []T, id func(T) string) []T {
	index := make(map[string]int, len(dst))
	for i, v := range dst {
		index[id(v)] = i
	}
	for _, v := range src {
		if i, ok := index[id(v)]; ok {
			dst[i] = v
			continue
		}
		index[id(v)] = len(dst)
		dst = append(dst, v)
	}
	return dst
}

func (s *Store) GetClient(_ context.Context, clientID string) (core.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.clients[clientID]
	if !ok {
		return core.Client{}, fmt.Errorf("client %q: %w", clientID, core.ErrNotFound)
	}
	return c, nil
}

func (s *Store) ListWorkEntries(_ context.Context, clientID string, period core.Period) ([]core.WorkEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owner := make(map[string]string, len(s.projects))
	for _, p := range s.projects {
		owner[p.ID] = p.ClientID
	}
	var out []core.WorkEntry
	for _, w := range s.entries {
		if !period.Contains(w.Date) {
			continue
		}
		if c, known := owner[w.ProjectID]; known && c != clientID {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (s *Store) ListProjects(_ context.Context, clientID string) ([]core.Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Project
	for _, p := range s.projects {
		if p.ClientID == clientID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *Store) ListEmployees(_ context.Context) ([]core.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Employee(nil), s.employees...), nil
}

// CreateInvoice stores inv and assigns the next number for its issue year.
func (s *Store) CreateInvoice(_ context.Context, inv core.Invoice) (core.Invoice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, j := range s.invoices {
		if j.Invoice.ID == inv.ID {
			return core.Invoice{}, fmt.Errorf("invoice %s already exists", inv.ID)
		}
	}
	year := inv.IssueDate.Year()
	s.seq[year]++
	inv.Number = core.FormatInvoiceNumber(inv.IssueDate, s.seq[year])
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now().UTC()
	}
	inv.Lines = append([]core.LineItem(nil), inv.Lines...)

	s.invoices = append(s.invoices, &ports.ExportJob{Invoice: inv, Status: ports.ExportPending})
	return inv, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceID string) (core.Invoice, error) {
	job, err := s.GetExportJob(ctx, invoiceID)
	if err != nil {
		return core.Invoice{}, err
	}
	return job.Invoice, nil
}

// ListInvoices returns the client's invoices, newest first.
func (s *Store) ListInvoices(_ context.Context, clientID string) ([]core.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []core.Invoice
	for i := len(s.invoices) - 1; i >= 0; i-- {
		if inv := s.invoices[i].Invoice; inv.ClientID == clientID {
			out = append(out, copyInvoice(inv))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].IssueDate.After(out[j].IssueDate)
	})
	return out, nil
}

func (s *Store) PendingExports(_ context.Context, limit int) ([]ports.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []ports.ExportJob
	for _, j := range s.invoices {
		if j.Status != ports.ExportPending {
			continue
		}
		if limit > 0 && len(out) >= limit {
			break
		}
		job := *j
		job.Invoice = copyInvoice(j.Invoice)
		out = append(out, job)
	}
	return out, nil
}

func (s *Store) GetExportJob(_ context.Context, invoiceID string) (ports.ExportJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.find(invoiceID)
	if !ok {
		return ports.ExportJob{}, fmt.Errorf("invoice %q: %w", invoiceID, core.ErrNotFound)
	}
	job := *j
	job.Invoice = copyInvoice(j.Invoice)
	return job, nil
}

func (s *Store) MarkExported(_ context.Context, invoiceID, ref string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.find(invoiceID)
	if !ok {
		return fmt.Errorf("invoice %q: %w", invoiceID, core.ErrNotFound)
	}
	j.Status = ports.ExportDone
	j.Ref = ref
	j.LastError = ""
	return nil
}

func (s *Store) MarkExportFailed(_ context.Context, invoiceID, reason string, terminal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.find(invoiceID)
	if !ok {
		return fmt.Errorf("invoice %q: %w", invoiceID, core.ErrNotFound)
	}
	j.Attempts++
	j.LastError = reason
	if terminal {
		j.Status = ports.ExportFailed
	}
	return nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) find(invoiceID string) (*ports.ExportJob, bool) {
	for _, j := range s.invoices {
		if j.Invoice.ID == invoiceID {
			return j, true
		}
	}
	return nil, false
}

func copyInvoice(inv core.Invoice) core.Invoice {
	inv.Lines = append([]core.LineItem(nil), inv.Lines...)
	return inv
}
