// Package voucher handles uploaded voucher spreadsheets: column
// normalisation, business-rule validation and the financial summary that
// becomes a ledger entry.
package voucher

import (
	"strings"
	"time"

	"prodlog/internal/core/types"
)

// Sheet is the tabular content of an uploaded spreadsheet. Cells hold raw
// values: numbers as plain decimals, dates as Excel serials or text.
type Sheet struct {
	Header []string
	Rows   [][]string

	index map[string]int
}

// NewSheet builds a sheet and indexes its normalised header.
func NewSheet(header []string, rows [][]string) *Sheet {
	s := &Sheet{Header: header, Rows: rows}
	s.reindex()
	return s
}

func (s *Sheet) reindex() {
	s.index = make(map[string]int, len(s.Header))
	for i, h := range s.Header {
		n := NormalizeColumn(h)
		if _, dup := s.index[n]; !dup {
			s.index[n] = i
		}
	}
}

// NormalizeColumn trims, lower-cases and collapses inner whitespace.
func NormalizeColumn(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Len returns the number of data rows.
func (s *Sheet) Len() int { return len(s.Rows) }

// Has reports whether the sheet has column col (normalised match).
func (s *Sheet) Has(col string) bool {
	if s.index == nil {
		s.reindex()
	}
	_, ok := s.index[NormalizeColumn(col)]
	return ok
}

// Value returns the trimmed cell of row in column col, or "".
func (s *Sheet) Value(row int, col string) string {
	if s.index == nil {
		s.reindex()
	}
	i, ok := s.index[NormalizeColumn(col)]
	if !ok || row < 0 || row >= len(s.Rows) || i >= len(s.Rows[row]) {
		return ""
	}
	return strings.TrimSpace(s.Rows[row][i])
}

// Money parses a cell as a decimal amount.
func (s *Sheet) Money(row int, col string) (types.Money, error) {
	return types.ParseMoney(s.Value(row, col))
}

// Sum adds up column col over all rows.
func (s *Sheet) Sum(col string) (types.Money, error) {
	total := types.Zero()
	for r := range s.Rows {
		v, err := s.Money(r, col)
		if err != nil {
			return types.Zero(), err
		}
		total = total.Add(v)
	}
	return total, nil
}

var excelEpoch = time.Date(1899, 12, 30, 0, 0, 0, 0, time.UTC)

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"01-02-06",
}

// ParseDate accepts Excel serial dates and common text layouts.
func ParseDate(v string) (time.Time, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, false
	}
	if serial, err := types.NewMoneyFromString(v); err == nil {
		if serial.LessThanOrEqual(types.Zero()) {
			return time.Time{}, false
		}
		days := serial.IntPart()
		frac := serial.Sub(types.NewMoney(float64(days)))
		secs := frac.Mul(types.NewMoney(86400)).Round(0).IntPart()
		return excelEpoch.AddDate(0, 0, int(days)).Add(time.Duration(secs) * time.Second), true
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
