package xlsx

import (
	"bytes"
	"fmt"

	"github.com/xuri/excelize/v2"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
	"prodlog/internal/domain/voucher"
)

// ReversedColumns are the upload columns negated in a reversing data file.
var ReversedColumns = []string{
	"reins premium",
	"reins em premium",
	"reins er premium",
	"reins oth. premium",
	"reins total premium",
	"reins comm",
	"reins em comm",
	"reins er comm",
	"reins oth. comm",
	"reins profit share",
	"reins overriding",
	"reins broker fee",
	"reins total comm",
	"reins tabarru",
	"reins ujrah",
	"reins nett premium",
}

// ReadSheet parses an uploaded data file. Rows are padded to the header
// width and fully blank rows are dropped.
func ReadSheet(data []byte) (*voucher.Sheet, error) {
	rows, err := readRows(data)
	if err != nil {
		return nil, apperror.NewValidation("Uploaded file is not a readable xlsx workbook").WithCause(err)
	}
	if len(rows) == 0 {
		return voucher.NewSheet(nil, nil), nil
	}

	header := rows[0]
	body := make([][]string, 0, len(rows)-1)
	for _, r := range rows[1:] {
		if blank(r) {
			continue
		}
		if len(r) < len(header) {
			r = append(r, make([]string, len(header)-len(r))...)
		}
		body = append(body, r)
	}
	return voucher.NewSheet(header, body), nil
}

// EncodeSheet writes s as a single-sheet workbook. Cells that parse as
// numbers are stored as numbers.
func EncodeSheet(s *voucher.Sheet) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	for r, row := range append([][]string{s.Header}, s.Rows...) {
		for c, v := range row {
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			var value any = v
			if r > 0 {
				if d, err := types.NewMoneyFromString(v); err == nil {
					value = d.InexactFloat64()
				}
			}
			if err := f.SetCellValue(SheetName, cell, value); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// NegateColumns multiplies every numeric cell of the named columns by -1 in
// the first sheet of data. Column names match after normalisation; absent
// columns and blank cells are left alone. Other cells and formatting are
// preserved.
func NegateColumns(data []byte, cols []string) ([]byte, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, apperror.NewValidation("Data file is not a readable xlsx workbook").WithCause(err)
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("read data file: %w", err)
	}
	if len(rows) == 0 {
		return data, nil
	}

	wanted := make(map[string]struct{}, len(cols))
	for _, c := range cols {
		wanted[voucher.NormalizeColumn(c)] = struct{}{}
	}
	var targets []int
	for i, h := range rows[0] {
		if _, ok := wanted[voucher.NormalizeColumn(h)]; ok {
			targets = append(targets, i)
		}
	}

	for r := 1; r < len(rows); r++ {
		for _, c := range targets {
			if c >= len(rows[r]) || rows[r][c] == "" {
				continue
			}
			v, err := types.NewMoneyFromString(rows[r][c])
			if err != nil {
				return nil, apperror.NewValidation(
					fmt.Sprintf("Column %s row %d is not numeric", rows[0][c], r+1))
			}
			cell, err := excelize.CoordinatesToCellName(c+1, r+1)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellValue(sheet, cell, v.Neg().InexactFloat64()); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write data file: %w", err)
	}
	return buf.Bytes(), nil
}

// Reverser produces reversing data files for cross-period cancellations.
type Reverser struct {
	Columns []string
}

var _ ledger.DataFileReverser = Reverser{}

// NewReverser negates the standard reinsurance amount columns.
func NewReverser() Reverser {
	return Reverser{Columns: ReversedColumns}
}

// Reverse implements ledger.DataFileReverser.
func (r Reverser) Reverse(data []byte) ([]byte, error) {
	return NegateColumns(data, r.Columns)
}
