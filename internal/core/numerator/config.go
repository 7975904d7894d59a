// Package numerator formats and parses ledger document numbers.
//
// A document number is PREFIX + YYYY + MM + MARKER + zero-padded sequence,
// e.g. VIN202503LST0007. Numbering is a pure function of the configuration,
// the period and the sequence; allocation of the sequence itself happens
// against a locked ledger snapshot.
package numerator

// Config holds numbering configuration.
type Config struct {
	// Prefix added to all numbers (e.g., "VIN")
	Prefix string

	// Marker separates the period from the sequence ("LST"). Empty in the legacy format.
	Marker string

	// PadWidth is the minimum sequence width
	PadWidth int
}

const (
	DefaultPrefix   = "VIN"
	DefaultMarker   = "LST"
	DefaultPadWidth = 4

	legacyPadWidth = 3
)

// DefaultConfig returns the current numbering format: VIN{YYYY}{MM}LST{NNNN}.
func DefaultConfig() Config {
	return Config{
		Prefix:   DefaultPrefix,
		Marker:   DefaultMarker,
		PadWidth: DefaultPadWidth,
	}
}

// LegacyConfig returns the format used by older ledgers: VIN{YYYY}{MM}{NNN}.
func LegacyConfig() Config {
	return Config{
		Prefix:   DefaultPrefix,
		PadWidth: legacyPadWidth,
	}
}

func (c Config) padWidth() int {
	if c.PadWidth <= 0 {
		return DefaultPadWidth
	}
	return c.PadWidth
}
