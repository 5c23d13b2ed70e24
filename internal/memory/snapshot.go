package memory

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"billing/internal/core"
	"billing/internal/ports"
)

type snapshotFile struct {
	Clients []struct {
		ID       string `yaml:"id" json:"id"`
		Name     string `yaml:"name" json:"name"`
		Currency string `yaml:"currency" json:"currency"`
	} `yaml:"clients" json:"clients"`
	Projects []struct {
		ID       string `yaml:"id" json:"id"`
		ClientID string `yaml:"client_id" json:"client_id"`
		Name     string `yaml:"name" json:"name"`
		Status   string `yaml:"status" json:"status"`
	} `yaml:"projects" json:"projects"`
	Employees []struct {
		ID         string          `yaml:"id" json:"id"`
		FullName   string          `yaml:"full_name" json:"full_name"`
		Role       string          `yaml:"role" json:"role"`
		Department string          `yaml:"department" json:"department"`
		CostRate   decimal.Decimal `yaml:"cost_rate" json:"cost_rate"`
	} `yaml:"employees" json:"employees"`
	WorkEntries []struct {
		ID         string          `yaml:"id" json:"id"`
		EmployeeID string          `yaml:"employee_id" json:"employee_id"`
		ProjectID  string          `yaml:"project_id" json:"project_id"`
		Date       string          `yaml:"date" json:"date"`
		Hours      decimal.Decimal `yaml:"hours" json:"hours"`
		Billable   *bool           `yaml:"billable" json:"billable"`
	} `yaml:"work_entries" json:"work_entries"`
}

// LoadSnapshot reads a YAML (.yaml, .yml) or JSON (.json) snapshot file.
func LoadSnapshot(path string) (ports.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return ports.Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var file snapshotFile
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&file); err != nil {
			return ports.Snapshot{}, fmt.Errorf("decode yaml snapshot %s: %w", path, err)
		}
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&file); err != nil {
			return ports.Snapshot{}, fmt.Errorf("decode json snapshot %s: %w", path, err)
		}
	default:
		return ports.Snapshot{}, fmt.Errorf("unsupported snapshot format %q", ext)
	}
	return file.toSnapshot()
}

func (f snapshotFile) toSnapshot() (ports.Snapshot, error) {
	var snap ports.Snapshot
	for _, c := range f.Clients {
		snap.Clients = append(snap.Clients, core.Client{ID: c.ID, Name: c.Name, Currency: strings.ToUpper(c.Currency)})
	}
	for _, p := range f.Projects {
		status := core.ProjectStatus(p.Status)
		if status == "" {
			status = core.ProjectActive
		}
		if !status.IsValid() {
			return ports.Snapshot{}, fmt.Errorf("project %s: unknown status %q", p.ID, p.Status)
		}
		snap.Projects = append(snap.Projects, core.Project{ID: p.ID, ClientID: p.ClientID, Name: p.Name, Status: status})
	}
	for _, e := range f.Employees {
		snap.Employees = append(snap.Employees, core.Employee{
			ID:         e.ID,
			FullName:   e.FullName,
			Role:       e.Role,
			Department: e.Department,
			CostRate:   e.CostRate,
		})
	}
	for i, w := range f.WorkEntries {
		d, err := core.ParseDate(w.Date)
		if err != nil {
			return ports.Snapshot{}, fmt.Errorf("work entry %d: %w", i, err)
		}
		billable := true
		if w.Billable != nil {
			billable = *w.Billable
		}
		id := w.ID
		if id == "" {
			id = fmt.Sprintf("we-%d", i+1)
		}
		snap.WorkEntries = append(snap.WorkEntries, core.WorkEntry{
			ID:         id,
			EmployeeID: w.EmployeeID,
			ProjectID:  w.ProjectID,
			Date:       d,
			Hours:      w.Hours,
			Billable:   billable,
		})
	}
	return snap, nil
}
