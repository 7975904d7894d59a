package xlsx

import (
	"bytes"
	"fmt"
	"slices"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
	"prodlog/internal/domain/voucher"
)

var mar2025 = types.Period{Year: 2025, Month: 3}

func sampleEntry(seq int64) ledger.Entry {
	e := ledger.Entry{
		SeqNo:         seq,
		Department:    "Life",
		BizType:       "Kontribusi",
		VoucherNo:     fmt.Sprintf("VIN202503LST%04d", seq),
		AccountWith:   "PT Reasuransi",
		CedantCompany: "Cedant A",
		Product:       "Term Life",
		CBY:           "2025",
		CBM:           "3",
		Curr:          "USD",
		RateExchange:  types.MustMoney("15500.25"),
		DueDate:       time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC),
		Remarks:       "March production",
		Status:        ledger.StatusPosted,
		CreatedAt:     time.Date(2025, 3, 10, 8, 30, 15, 0, time.UTC),
		CreatedBy:     "ani",
	}
	for _, col := range ledger.AmountColumns {
		*e.Amounts.Ref(col) = types.Zero()
	}
	e.TotalContribution = types.MustMoney("1000.5")
	e.TotalCommission = types.MustMoney("100")
	e.GrossPremiumIncome = types.MustMoney("900.5")
	e.Balance = types.MustMoney("900.5")
	return e
}

func TestLedger_RoundTrip(t *testing.T) {
	l := ledger.New(mar2025)
	for i := int64(1); i <= 5; i++ {
		require.NoError(t, l.Append(sampleEntry(i)))
	}
	cancelled := &l.Entries[1]
	cancelled.Status = ledger.StatusCanceled
	cancelled.CancelledAt = time.Date(2025, 3, 12, 9, 0, 0, 0, time.UTC)
	cancelled.CancelledBy = "budi"
	cancelled.CancelReason = "wrong cedant"
	cancelled.CanceledByVIN = "VIN202503LST0006"

	data, err := EncodeLedger(l)
	require.NoError(t, err)

	got, err := DecodeLedger(mar2025, data)
	require.NoError(t, err)
	require.Equal(t, l.Len(), got.Len())

	for i := range l.Entries {
		want, have := l.Entries[i], got.Entries[i]
		assert.Equal(t, want.SeqNo, have.SeqNo)
		assert.Equal(t, want.VoucherNo, have.VoucherNo)
		assert.Equal(t, want.Status, have.Status)
		assert.Equal(t, want.CedantCompany, have.CedantCompany)
		assert.True(t, want.Amounts.Equal(have.Amounts), "row %d amounts", i)
		assert.True(t, want.RateExchange.Equal(have.RateExchange))
		assert.True(t, want.DueDate.Equal(have.DueDate))
		assert.True(t, want.CreatedAt.Equal(have.CreatedAt))
		assert.True(t, want.CancelledAt.Equal(have.CancelledAt))
		assert.Equal(t, want.CanceledByVIN, have.CanceledByVIN)
		assert.Equal(t, want.CancelReason, have.CancelReason)
	}
	assert.Empty(t, got.Verify())
}

func TestLedger_RoundTripKeepsEveryDigit(t *testing.T) {
	e := sampleEntry(1)
	e.RateExchange = types.MustMoney("15678.1234")
	e.KontribusiIDR = types.MustMoney("1234567.891").Mul(e.RateExchange)
	e.Balance = types.MustMoney("-0.0000001")
	l := ledger.New(mar2025)
	require.NoError(t, l.Append(e))

	data, err := EncodeLedger(l)
	require.NoError(t, err)
	got, err := DecodeLedger(mar2025, data)
	require.NoError(t, err)
	require.Equal(t, 1, got.Len())

	have := got.Entries[0]
	assert.Equal(t, "19355707740.7757494", have.KontribusiIDR.String())
	assert.Equal(t, "15678.1234", have.RateExchange.String())
	assert.Equal(t, "-0.0000001", have.Balance.String())

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()
	col := slices.Index(ledger.Columns, ledger.ColKontribusiIDR)
	cell, err := excelize.CoordinatesToCellName(col+1, 2)
	require.NoError(t, err)
	typ, err := f.GetCellType(SheetName, cell)
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeInlineString, typ)
	assert.NotEqual(t, excelize.CellTypeSharedString, typ)
}

func TestLedger_EmptyRoundTrip(t *testing.T) {
	data, err := EncodeLedger(ledger.New(mar2025))
	require.NoError(t, err)

	got, err := DecodeLedger(mar2025, data)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Len())
	assert.Equal(t, mar2025, got.Period)
}

func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()
	for i, r := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}
	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeLedger_LegacyHeadersAndStatus(t *testing.T) {
	data := workbook(t,
		[]any{"Seq No", "VIN No", "STATUS", "Total Contribution", "Extra"},
		[]any{1, "VIN202503001", "CANCELLED", 1000, "x"},
		[]any{nil, nil, nil, nil, nil},
		[]any{2.0, "VIN202503002", "posted", "", "y"},
	)

	l, err := DecodeLedger(mar2025, data)
	require.NoError(t, err)
	require.Equal(t, 2, l.Len())
	assert.Equal(t, "VIN202503001", l.Entries[0].VoucherNo)
	assert.Equal(t, ledger.StatusCanceled, l.Entries[0].Status)
	assert.True(t, l.Entries[0].TotalContribution.Equal(types.MustMoney("1000")))
	assert.Equal(t, int64(2), l.Entries[1].SeqNo)
	assert.Equal(t, ledger.StatusPosted, l.Entries[1].Status)
	assert.True(t, l.Entries[1].TotalContribution.IsZero())
}

func TestDecodeLedger_Integrity(t *testing.T) {
	t.Run("missing column", func(t *testing.T) {
		data := workbook(t, []any{"Seq No", "Voucher No"}, []any{1, "VIN202503LST0001"})
		_, err := DecodeLedger(mar2025, data)
		assert.True(t, apperror.IsDataIntegrity(err))
	})
	t.Run("bad sequence", func(t *testing.T) {
		data := workbook(t, []any{"Seq No", "Voucher No", "STATUS"}, []any{"one", "VIN202503LST0001", "POSTED"})
		_, err := DecodeLedger(mar2025, data)
		assert.True(t, apperror.IsDataIntegrity(err))
	})
	t.Run("not a workbook", func(t *testing.T) {
		_, err := DecodeLedger(mar2025, []byte("plain text"))
		assert.True(t, apperror.IsDataIntegrity(err))
	})
}

func TestReadSheet(t *testing.T) {
	data := workbook(t,
		[]any{"Certificate No", "Reins Total Premium", "Note"},
		[]any{"C-1", 100.25},
		[]any{nil, nil, nil},
		[]any{"C-2", -5, "late"},
	)
	s, err := ReadSheet(data)
	require.NoError(t, err)
	require.Equal(t, 2, s.Len())
	assert.Equal(t, "100.25", s.Value(0, "reins total premium"))
	assert.Equal(t, "", s.Value(0, "note"))
	assert.Equal(t, "late", s.Value(1, "note"))

	_, err = ReadSheet([]byte("nope"))
	assert.True(t, apperror.IsValidation(err))
}

func TestNegateColumns(t *testing.T) {
	src := voucher.NewSheet(
		[]string{"Certificate No", "Reins Total Premium", "REINS  Total Comm", "Sum Insured"},
		[][]string{{"C-1", "100", "10", "5000"}, {"C-2", "-20.5", "", "7000"}},
	)
	data, err := EncodeSheet(src)
	require.NoError(t, err)

	out, err := NewReverser().Reverse(data)
	require.NoError(t, err)

	s, err := ReadSheet(out)
	require.NoError(t, err)
	assert.Equal(t, "C-1", s.Value(0, "certificate no"))
	assert.Equal(t, "-100", s.Value(0, "reins total premium"))
	assert.Equal(t, "-10", s.Value(0, "reins total comm"))
	assert.Equal(t, "20.5", s.Value(1, "reins total premium"))
	assert.Equal(t, "", s.Value(1, "reins total comm"))
	assert.Equal(t, "5000", s.Value(0, "sum insured"), "non-reinsurance columns are untouched")
}
