package refdata

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodlog/internal/core/types"
)

const sample = `
default_due_days: 30
counterparties:
  - name: PT Reasuransi Maju
    currency: usd
    exchange_rate: "15,500.25"
    due_days: 45
  - name: Asuransi   Lokal
    currency: IDR
`

func TestParseAndLookup(t *testing.T) {
	tbl, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, 2, tbl.Len())

	c, ok := tbl.Lookup("  pt reasuransi MAJU ")
	require.True(t, ok)
	assert.Equal(t, "USD", c.Currency)
	assert.True(t, c.ExchangeRate.Equal(types.MustMoney("15500.25")))

	_, ok = tbl.Lookup("asuransi lokal")
	assert.True(t, ok)
}

func TestRate(t *testing.T) {
	tbl, err := Parse([]byte(sample))
	require.NoError(t, err)

	r, err := tbl.Rate("PT Reasuransi Maju", "USD")
	require.NoError(t, err)
	assert.True(t, r.Equal(types.MustMoney("15500.25")))

	r, err = tbl.Rate("anyone", "IDR")
	require.NoError(t, err)
	assert.True(t, r.Equal(types.MustMoney("1")))

	_, err = tbl.Rate("unknown", "USD")
	assert.Error(t, err)

	_, err = tbl.Rate("PT Reasuransi Maju", "EUR")
	assert.Error(t, err)
}

func TestDueDate(t *testing.T) {
	tbl, err := Parse([]byte(sample))
	require.NoError(t, err)
	mar := types.Period{Year: 2025, Month: 3}

	assert.Equal(t, time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC), tbl.DueDate("PT Reasuransi Maju", mar))
	assert.Equal(t, time.Date(2025, 4, 30, 0, 0, 0, 0, time.UTC), tbl.DueDate("Asuransi Lokal", mar))
}

func TestParse_Rejects(t *testing.T) {
	_, err := Parse([]byte("counterparties:\n  - currency: USD\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("counterparties:\n  - name: A\n  - name: a\n"))
	assert.Error(t, err)

	_, err = Parse([]byte("counterparties:\n  - name: A\n    exchange_rate: \"-1\"\n"))
	assert.Error(t, err)
}
