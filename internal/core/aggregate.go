package core

import (
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

// PairKey identifies one employee's work on one project.
type PairKey struct {
	ProjectID  string
	EmployeeID string
}

// Selection is the set of pairs a caller wants turned into line items.
type Selection map[PairKey]struct{}

func NewSelection(keys ...PairKey) Selection {
	s := make(Selection, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// SelectAll selects every pair present in data.
func SelectAll(data ClientProjectData) Selection {
	s := make(Selection)
	for _, p := range data.Projects {
		for _, e := range p.Employees {
			s[PairKey{ProjectID: p.ProjectID, EmployeeID: e.EmployeeID}] = struct{}{}
		}
	}
	return s
}

func (s Selection) Has(k PairKey) bool {
	_, ok := s[k]
	return ok
}

// AggregateBillableWork groups a client's work entries for a period by
// project and then by employee.
//
// Entries referencing a project or employee missing from the directories are
// skipped and reported in Skipped and Diagnostics. The only error returned is
// for an invalid period. Inputs are never mutated.
func AggregateBillableWork(
	client Client,
	period Period,
	entries []WorkEntry,
	projects ProjectDirectory,
	employees EmployeeDirectory,
) (ClientProjectData, error) {
	if err := period.Validate(); err != nil {
		return ClientProjectData{}, err
	}

	data := ClientProjectData{
		ClientID:   client.ID,
		ClientName: client.Name,
		Currency:   client.Currency,
		Period:     period,
	}

	type acc struct {
		agg   EmployeeAggregate
		order int
	}
	groups := make(map[string]map[string]*acc)

	skip := func(entry WorkEntry, kind, ref string) {
		data.Skipped++
		data.Diagnostics = append(data.Diagnostics, Diagnostic{EntryID: entry.ID, Kind: kind, ReferenceID: ref})
	}

	for _, entry := range entries {
		if !period.Contains(entry.Date) {
			continue
		}

		project, ok := projects[entry.ProjectID]
		if !ok {
			skip(entry, DiagMissingProject, entry.ProjectID)
			continue
		}
		if project.ClientID != client.ID {
			continue
		}

		if entry.Hours.IsNegative() {
			skip(entry, DiagInvalidHours, entry.ID)
			continue
		}

		employee, ok := employees[entry.EmployeeID]
		if !ok {
			skip(entry, DiagMissingEmployee, entry.EmployeeID)
			continue
		}
		if employee.CostRate.IsNegative() {
			skip(entry, DiagInvalidCostRate, employee.ID)
			continue
		}

		byEmployee, ok := groups[project.ID]
		if !ok {
			byEmployee = make(map[string]*acc)
			groups[project.ID] = byEmployee
		}
		a, ok := byEmployee[employee.ID]
		if !ok {
			a = &acc{agg: EmployeeAggregate{
				EmployeeID:       employee.ID,
				FullName:         employee.FullName,
				Role:             employee.Role,
				Department:       employee.Department,
				TotalHours:       decimal.Zero,
				NonBillableHours: decimal.Zero,
				CostRate:         employee.CostRate,
			}}
			byEmployee[employee.ID] = a
		}
		if entry.Billable {
			a.agg.TotalHours = a.agg.TotalHours.Add(entry.Hours)
		} else {
			a.agg.NonBillableHours = a.agg.NonBillableHours.Add(entry.Hours)
		}
	}

	for projectID, byEmployee := range groups {
		project := projects[projectID]
		group := ProjectGroup{
			ProjectID:   project.ID,
			ProjectName: project.Name,
			Status:      project.Status,
			Employees:   make([]EmployeeAggregate, 0, len(byEmployee)),
		}
		for _, a := range byEmployee {
			a.agg.TotalBillableAmount = a.agg.TotalHours.Mul(a.agg.CostRate)
			group.Employees = append(group.Employees, a.agg)
		}
		sort.Slice(group.Employees, func(i, j int) bool {
			return lessByName(group.Employees[i].FullName, group.Employees[i].EmployeeID,
				group.Employees[j].FullName, group.Employees[j].EmployeeID)
		})
		data.Projects = append(data.Projects, group)
	}
	sort.Slice(data.Projects, func(i, j int) bool {
		return lessByName(data.Projects[i].ProjectName, data.Projects[i].ProjectID,
			data.Projects[j].ProjectName, data.Projects[j].ProjectID)
	})

	return data, nil
}

// lessByName orders case-insensitively by name, then by id.
func lessByName(nameA, idA, nameB, idB string) bool {
	a, b := strings.ToLower(nameA), strings.ToLower(nameB)
	if a != b {
		return a < b
	}
	return idA < idB
}

type lineItemOptions struct {
	taxRate decimal.Decimal
}

type LineItemOption func(*lineItemOptions)

// WithTaxRate overrides the default zero tax rate for generated lines.
func WithTaxRate(rate decimal.Decimal) LineItemOption {
	return func(o *lineItemOptions) {
		o.taxRate = rate
	}
}

// ToLineItems emits one line item per selected pair found in data, in the
// order data lists them. Selected pairs absent from data are ignored.
func ToLineItems(selection Selection, data ClientProjectData, opts ...LineItemOption) ([]LineItem, error) {
	o := lineItemOptions{taxRate: decimal.Zero}
	for _, opt := range opts {
		opt(&o)
	}

	var items []LineItem
	for _, p := range data.Projects {
		for _, e := range p.Employees {
			key := PairKey{ProjectID: p.ProjectID, EmployeeID: e.EmployeeID}
			if !selection.Has(key) {
				continue
			}
			item, err := NewLineItem(describe(p, e), e.TotalHours, e.CostRate, o.taxRate)
			if err != nil {
				return nil, fmt.Errorf("line item for %s/%s: %w", p.ProjectID, e.EmployeeID, err)
			}
			item.ProjectID = p.ProjectID
			item.EmployeeID = e.EmployeeID
			items = append(items, item)
		}
	}
	return items, nil
}

func describe(p ProjectGroup, e EmployeeAggregate) string {
	return fmt.Sprintf("%s (%s) - %s - %s hours", e.FullName, e.Role, p.ProjectName, e.TotalHours.String())
}
