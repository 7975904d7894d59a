package types

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Period is an accounting month. Each period owns exactly one ledger.
type Period struct {
	Year  int
	Month int
}

// NewPeriod validates and builds a Period.
func NewPeriod(year, month int) (Period, error) {
	p := Period{Year: year, Month: month}
	if err := p.Validate(); err != nil {
		return Period{}, err
	}
	return p, nil
}

// PeriodOf returns the period containing t.
func PeriodOf(t time.Time) Period {
	return Period{Year: t.Year(), Month: int(t.Month())}
}

// ParsePeriod accepts "YYYY_MM", "YYYY-MM" and "YYYYMM".
func ParsePeriod(s string) (Period, error) {
	s = strings.TrimSpace(s)
	var ys, ms string
	switch {
	case len(s) == 7 && (s[4] == '_' || s[4] == '-'):
		ys, ms = s[:4], s[5:]
	case len(s) == 6:
		ys, ms = s[:4], s[4:]
	default:
		return Period{}, fmt.Errorf("invalid period %q", s)
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period year %q: %w", s, err)
	}
	m, err := strconv.Atoi(ms)
	if err != nil {
		return Period{}, fmt.Errorf("invalid period month %q: %w", s, err)
	}
	return NewPeriod(y, m)
}

// Validate checks year and month ranges.
func (p Period) Validate() error {
	if p.Year < 1900 || p.Year > 9999 {
		return fmt.Errorf("invalid period year %d", p.Year)
	}
	if p.Month < 1 || p.Month > 12 {
		return fmt.Errorf("invalid period month %d", p.Month)
	}
	return nil
}

// IsZero reports whether the period is unset.
func (p Period) IsZero() bool { return p.Year == 0 && p.Month == 0 }

// Key is the folder name of the period, e.g. "2025_03".
func (p Period) Key() string { return fmt.Sprintf("%04d_%02d", p.Year, p.Month) }

// String renders "2025-03".
func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, p.Month) }

// Compare returns -1, 0 or 1.
func (p Period) Compare(o Period) int {
	a, b := p.Year*12+p.Month, o.Year*12+o.Month
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Before reports whether p is strictly earlier than o.
func (p Period) Before(o Period) bool { return p.Compare(o) < 0 }

// Start returns the first instant of the period in loc.
func (p Period) Start(loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	return time.Date(p.Year, time.Month(p.Month), 1, 0, 0, 0, 0, loc)
}

// End returns the last day of the period at midnight.
func (p Period) End(loc *time.Location) time.Time {
	return p.Start(loc).AddDate(0, 1, -1)
}
