package core

import "github.com/shopspring/decimal"

// Diagnostic kinds recorded when an entry cannot be aggregated.
const (
	DiagMissingProject  = "missing_project"
	DiagMissingEmployee = "missing_employee"
	DiagInvalidHours    = "invalid_hours"
	DiagInvalidCostRate = "invalid_cost_rate"
)

// EmployeeAggregate sums one employee's hours on one project.
type EmployeeAggregate struct {
	EmployeeID string
	FullName   string
	Role       string
	Department string

	// TotalHours counts billable entries only.
	TotalHours       decimal.Decimal
	NonBillableHours decimal.Decimal

	CostRate            decimal.Decimal
	TotalBillableAmount decimal.Decimal
}

type ProjectGroup struct {
	ProjectID   string
	ProjectName string
	Status      ProjectStatus
	Employees   []EmployeeAggregate
}

// Diagnostic explains why a work entry was left out of the aggregate.
type Diagnostic struct {
	EntryID     string
	Kind        string
	ReferenceID string
}

// ClientProjectData is the per-client billing aggregate for a period. It is
// recomputed on every request and never persisted.
type ClientProjectData struct {
	ClientID   string
	ClientName string
	Currency   string
	Period     Period
	Projects   []ProjectGroup

	// Skipped counts entries dropped because of inconsistent directories.
	Skipped     int
	Diagnostics []Diagnostic
}

// BillableTotals sums hours and amounts across every project.
func (d ClientProjectData) BillableTotals() (hours, amount decimal.Decimal) {
	hours, amount = decimal.Zero, decimal.Zero
	for _, p := range d.Projects {
		for _, e := range p.Employees {
			hours = hours.Add(e.TotalHours)
			amount = amount.Add(e.TotalBillableAmount)
		}
	}
	return hours, amount
}

// Find returns the aggregate for a project/employee pair.
func (d ClientProjectData) Find(key PairKey) (ProjectGroup, EmployeeAggregate, bool) {
	for _, p := range d.Projects {
		if p.ProjectID != key.ProjectID {
			continue
		}
		for _, e := range p.Employees {
			if e.EmployeeID == key.EmployeeID {
				return p, e, true
			}
		}
	}
	return ProjectGroup{}, EmployeeAggregate{}, false
}
