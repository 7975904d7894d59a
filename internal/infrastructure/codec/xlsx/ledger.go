// Package xlsx reads and writes the spreadsheet formats of the production
// log: the period ledger file and uploaded voucher data files.
package xlsx

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
)

// SheetName is the sheet written for new ledgers. Reads use the first sheet
// whatever its name.
const SheetName = "Sheet1"

const (
	timestampLayout = "2006-01-02 15:04:05"
	dateLayout      = "2006-01-02"
)

var readLayouts = []string{timestampLayout, dateLayout, time.RFC3339, "2006-01-02T15:04:05"}

// Headers written by earlier versions of the ledger.
var columnAliases = map[string]string{
	"VIN No": ledger.ColVoucherNo,
}

var statusAliases = map[string]ledger.Status{
	"CANCELLED": ledger.StatusCanceled,
}

// EncodeLedger writes l as a workbook with a header row in ledger column order.
func EncodeLedger(l *ledger.Ledger) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	header := make([]any, len(ledger.Columns))
	for i, c := range ledger.Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}

	for i := range l.Entries {
		row := entryRow(&l.Entries[i])
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return nil, err
		}
		numbers := make(map[int]string)
		for j, v := range row {
			if m, ok := v.(types.Money); ok {
				numbers[j] = m.String()
				row[j] = nil
			}
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return nil, fmt.Errorf("write row %d: %w", i+2, err)
		}
		// Amounts go in as raw numeric text so no digits are lost to float64.
		for j, v := range numbers {
			c, err := excelize.CoordinatesToCellName(j+1, i+2)
			if err != nil {
				return nil, err
			}
			if err := f.SetCellDefault(SheetName, c, v); err != nil {
				return nil, fmt.Errorf("write cell %s: %w", c, err)
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func entryRow(e *ledger.Entry) []any {
	row := make([]any, len(ledger.Columns))
	for i, col := range ledger.Columns {
		switch col {
		case ledger.ColSeqNo:
			row[i] = e.SeqNo
		case ledger.ColRateExchange:
			row[i] = e.RateExchange
		case ledger.ColStatus:
			row[i] = string(e.Status)
		case ledger.ColDueDate:
			row[i] = formatTime(e.DueDate, dateLayout)
		case ledger.ColCreatedAt:
			row[i] = formatTime(e.CreatedAt, timestampLayout)
		case ledger.ColCancelledAt:
			row[i] = formatTime(e.CancelledAt, timestampLayout)
		default:
			if m := e.Amounts.Ref(col); m != nil {
				row[i] = *m
			} else if s := e.TextRef(col); s != nil {
				row[i] = *s
			}
		}
	}
	return row
}

func formatTime(t time.Time, layout string) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(layout)
}

// DecodeLedger parses a ledger workbook for period. Unknown columns are
// ignored and missing optional columns read as empty. A file without the
// sequence, voucher or status column is a DATA_INTEGRITY error.
func DecodeLedger(period types.Period, data []byte) (*ledger.Ledger, error) {
	rows, err := readRows(data)
	if err != nil {
		return nil, apperror.NewDataIntegrity(fmt.Sprintf("ledger %s is not a readable workbook", period.Key())).WithCause(err)
	}

	l := ledger.New(period)
	if len(rows) == 0 {
		return l, nil
	}

	index := make(map[string]int, len(rows[0]))
	for i, h := range rows[0] {
		h = strings.TrimSpace(h)
		if alias, ok := columnAliases[h]; ok {
			h = alias
		}
		if _, dup := index[h]; !dup {
			index[h] = i
		}
	}
	for _, col := range ledger.RequiredColumns {
		if _, ok := index[col]; !ok {
			return nil, apperror.NewDataIntegrity(
				fmt.Sprintf("ledger %s is missing column %q", period.Key(), col)).
				WithDetail("period", period.Key())
		}
	}

	for r, raw := range rows[1:] {
		if blank(raw) {
			continue
		}
		e, err := decodeRow(index, raw)
		if err != nil {
			return nil, apperror.NewDataIntegrity(
				fmt.Sprintf("ledger %s row %d: %v", period.Key(), r+2, err)).
				WithDetail("period", period.Key())
		}
		l.Entries = append(l.Entries, e)
	}
	return l, nil
}

func decodeRow(index map[string]int, raw []string) (ledger.Entry, error) {
	cell := func(col string) string {
		i, ok := index[col]
		if !ok || i >= len(raw) {
			return ""
		}
		return strings.TrimSpace(raw[i])
	}

	var e ledger.Entry
	seq, err := parseSeq(cell(ledger.ColSeqNo))
	if err != nil {
		return e, err
	}
	e.SeqNo = seq

	for _, col := range ledger.Columns {
		if s := e.TextRef(col); s != nil {
			*s = cell(col)
		}
	}
	for _, col := range ledger.AmountColumns {
		v, err := types.ParseMoney(cell(col))
		if err != nil {
			return e, fmt.Errorf("column %s: %w", col, err)
		}
		*e.Amounts.Ref(col) = v
	}
	if e.RateExchange, err = types.ParseMoney(cell(ledger.ColRateExchange)); err != nil {
		return e, fmt.Errorf("column %s: %w", ledger.ColRateExchange, err)
	}

	status := strings.ToUpper(cell(ledger.ColStatus))
	if alias, ok := statusAliases[status]; ok {
		e.Status = alias
	} else {
		e.Status = ledger.Status(status)
	}

	for col, dst := range map[string]*time.Time{
		ledger.ColDueDate:     &e.DueDate,
		ledger.ColCreatedAt:   &e.CreatedAt,
		ledger.ColCancelledAt: &e.CancelledAt,
	} {
		if *dst, err = parseTime(cell(col)); err != nil {
			return e, fmt.Errorf("column %s: %w", col, err)
		}
	}
	return e, nil
}

// parseSeq accepts integers written as "7" or "7.0".
func parseSeq(v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("empty %s", ledger.ColSeqNo)
	}
	if n, err := strconv.ParseInt(v, 10, 64); err == nil {
		return n, nil
	}
	d, err := types.NewMoneyFromString(v)
	if err != nil || !d.IsInteger() {
		return 0, fmt.Errorf("invalid %s %q", ledger.ColSeqNo, v)
	}
	return d.IntPart(), nil
}

func parseTime(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	for _, layout := range readLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t.UTC(), nil
		}
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil {
		return excelize.ExcelDateToTime(f, false)
	}
	return time.Time{}, fmt.Errorf("invalid date %q", v)
}

// readRows returns the raw cell values of the first sheet.
func readRows(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheet := f.GetSheetName(0)
	if sheet == "" {
		return nil, fmt.Errorf("workbook has no sheets")
	}
	return f.GetRows(sheet, excelize.Options{RawCellValue: true})
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
