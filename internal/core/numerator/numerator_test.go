package numerator

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prodlog/internal/core/types"
)

func TestFormat(t *testing.T) {
	mar := types.Period{Year: 2025, Month: 3}

	assert.Equal(t, "VIN202503LST0007", Format(DefaultConfig(), mar, 7))
	assert.Equal(t, "VIN202503LST12345", Format(DefaultConfig(), mar, 12345))
	assert.Equal(t, "VIN202503007", Format(LegacyConfig(), mar, 7))
	assert.Equal(t, "VIN202503LST0001", Format(Config{Prefix: "VIN", Marker: "LST"}, mar, 1))
}

func TestParse(t *testing.T) {
	tests := []struct {
		in     string
		period types.Period
		seq    int64
		legacy bool
	}{
		{"VIN202503LST0007", types.Period{Year: 2025, Month: 3}, 7, false},
		{"VIN202412LST10000", types.Period{Year: 2024, Month: 12}, 10000, false},
		{"VIN202503007", types.Period{Year: 2025, Month: 3}, 7, true},
		{" VIN202501LST0001 ", types.Period{Year: 2025, Month: 1}, 1, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			n, err := Parse(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.period, n.Period)
			assert.Equal(t, tt.seq, n.Seq)
			assert.Equal(t, tt.legacy, n.Legacy)
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	for _, in := range []string{"", "INV202503LST0001", "VIN2025", "VIN202513LST0001", "VIN202503LST", "VIN202503LSTabcd", "VIN202503LST0000"} {
		_, err := Parse(in)
		assert.Error(t, err, in)
	}
}

func TestFormatParseRoundTrip(t *testing.T) {
	p := types.Period{Year: 2026, Month: 10}
	for _, seq := range []int64{1, 9, 10, 999, 1000, 9999} {
		n, err := Parse(Format(DefaultConfig(), p, seq))
		require.NoError(t, err)
		assert.Equal(t, p, n.Period)
		assert.Equal(t, seq, n.Seq)
	}
}
