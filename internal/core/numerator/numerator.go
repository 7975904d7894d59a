package numerator

import (
	"fmt"
	"strconv"
	"strings"

	"prodlog/internal/core/types"
)

// Number is a parsed document number.
type Number struct {
	Period types.Period
	Seq    int64
	Legacy bool
}

// Format builds the document number for a period and sequence.
// Sequences wider than PadWidth are rendered in full.
func Format(cfg Config, period types.Period, seq int64) string {
	return fmt.Sprintf("%s%04d%02d%s%0*d", cfg.Prefix, period.Year, period.Month, cfg.Marker, cfg.padWidth(), seq)
}

// ParseWith parses s strictly against one configuration.
func ParseWith(cfg Config, s string) (Number, error) {
	s = strings.TrimSpace(s)
	rest, ok := strings.CutPrefix(s, cfg.Prefix)
	if !ok {
		return Number{}, fmt.Errorf("document number %q: missing prefix %q", s, cfg.Prefix)
	}
	if len(rest) < 6 {
		return Number{}, fmt.Errorf("document number %q: too short", s)
	}

	period, err := types.ParsePeriod(rest[:6])
	if err != nil {
		return Number{}, fmt.Errorf("document number %q: %w", s, err)
	}
	rest = rest[6:]

	if cfg.Marker != "" {
		if rest, ok = strings.CutPrefix(rest, cfg.Marker); !ok {
			return Number{}, fmt.Errorf("document number %q: missing marker %q", s, cfg.Marker)
		}
	}
	if len(rest) < cfg.padWidth() || !isDigits(rest) {
		return Number{}, fmt.Errorf("document number %q: invalid sequence %q", s, rest)
	}

	seq, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || seq <= 0 {
		return Number{}, fmt.Errorf("document number %q: invalid sequence %q", s, rest)
	}
	return Number{Period: period, Seq: seq}, nil
}

// Parse recognises the current and the legacy format.
func Parse(s string) (Number, error) {
	n, err := ParseWith(DefaultConfig(), s)
	if err == nil {
		return n, nil
	}
	n, legacyErr := ParseWith(LegacyConfig(), s)
	if legacyErr != nil {
		return Number{}, err
	}
	n.Legacy = true
	return n, nil
}

// PeriodOf extracts the period encoded in a document number.
func PeriodOf(s string) (types.Period, error) {
	n, err := Parse(s)
	if err != nil {
		return types.Period{}, err
	}
	return n.Period, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
