package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const dateLayout = "2006-01-02"

const (
	ProjectActive    ProjectStatus = "active"
	ProjectOnHold    ProjectStatus = "on_hold"
	ProjectCompleted ProjectStatus = "completed"
	ProjectCancelled ProjectStatus = "cancelled"
)

type (
	ProjectStatus string

	// Date is a calendar day, normalized to midnight UTC.
	Date struct {
		time.Time
	}

	// Period is an inclusive billing window.
	Period struct {
		Start Date
		End   Date
	}

	Client struct {
		ID       string
		Name     string
		Currency string // ISO 4217
	}

	Project struct {
		ID       string
		ClientID string
		Name     string
		Status   ProjectStatus
	}

	Employee struct {
		ID         string
		FullName   string
		Role       string
		Department string
		CostRate   decimal.Decimal // currency units per hour
	}

	// WorkEntry is a recorded block of work. It carries no rate: the
	// employee's current cost rate is applied at aggregation time.
	WorkEntry struct {
		ID         string
		EmployeeID string
		ProjectID  string
		Date       Date
		Hours      decimal.Decimal
		Billable   bool
	}

	ProjectDirectory  map[string]Project
	EmployeeDirectory map[string]Employee
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf truncates t to its calendar day in t's own location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return NewDate(y, int(m), d)
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, NewInvalidFormat("date", err, &s)
	}
	return DateOf(t), nil
}

// String renders the date as YYYY-MM-DD.
func (d Date) String() string {
	if d.IsZero() {
		return ""
	}
	return d.Format(dateLayout)
}

// Before reports whether d is an earlier calendar day than other.
func (d Date) Before(other Date) bool {
	return d.Time.Before(other.Time)
}

// After reports whether d is a later calendar day than other.
func (d Date) After(other Date) bool {
	return d.Time.After(other.Time)
}

// AddDays returns the date n days later.
func (d Date) AddDays(n int) Date {
	return Date{Time: d.Time.AddDate(0, 0, n)}
}

func NewPeriod(start, end Date) (Period, error) {
	p := Period{Start: start, End: end}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// Validate rejects zero bounds and reversed ranges. Bounds are never swapped.
func (p Period) Validate() error {
	if p.Start.IsZero() {
		return NewRequired("start_date")
	}
	if p.End.IsZero() {
		return NewRequired("end_date")
	}
	if p.Start.After(p.End) {
		return &ValidationError{Field: "start_date", Code: CodeOutOfRange, cause: ErrEmptyDateRange}
	}
	return nil
}

// Contains reports whether d falls within the period, bounds included.
func (p Period) Contains(d Date) bool {
	return !d.Before(p.Start) && !d.After(p.End)
}

func (s ProjectStatus) IsValid() bool {
	switch s {
	case ProjectActive, ProjectOnHold, ProjectCompleted, ProjectCancelled:
		return true
	default:
		return false
	}
}

func NewProjectDirectory(projects []Project) ProjectDirectory {
	dir := make(ProjectDirectory, len(projects))
	for _, p := range projects {
		dir[p.ID] = p
	}
	return dir
}

func NewEmployeeDirectory(employees []Employee) EmployeeDirectory {
	dir := make(EmployeeDirectory, len(employees))
	for _, e := range employees {
		dir[e.ID] = e
	}
	return dir
}

// Validate checks the entry fields a persistence layer should reject on write.
func (e WorkEntry) Validate() error {
	if strings.TrimSpace(e.EmployeeID) == "" {
		return NewRequired("employee_id")
	}
	if strings.TrimSpace(e.ProjectID) == "" {
		return NewRequired("project_id")
	}
	if e.Date.IsZero() {
		return NewRequired("date")
	}
	if e.Hours.IsNegative() {
		v := e.Hours.String()
		return &ValidationError{Field: "hours", Code: CodeOutOfRange, RejectedValue: &v, cause: ErrInvalidQuantityOrPrice}
	}
	return nil
}

func (e Employee) Validate() error {
	if strings.TrimSpace(e.FullName) == "" {
		return NewRequired("full_name")
	}
	if e.CostRate.IsNegative() {
		v := e.CostRate.String()
		return &ValidationError{Field: "cost_rate", Code: CodeOutOfRange, RejectedValue: &v, cause: ErrInvalidQuantityOrPrice}
	}
	return nil
}
