// Package refdata holds read-only reference tables keyed by counterparty:
// settlement currency, exchange rate to IDR and payment term.
package refdata

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"prodlog/internal/core/types"
)

// Counterparty is one row of the reference table.
type Counterparty struct {
	Name         string
	Currency     string
	ExchangeRate types.Money
	DueDays      int
}

type counterpartyYAML struct {
	Name         string `yaml:"name"`
	Currency     string `yaml:"currency"`
	ExchangeRate string `yaml:"exchange_rate"`
	DueDays      int    `yaml:"due_days"`
}

type fileYAML struct {
	DefaultDueDays int                `yaml:"default_due_days"`
	Counterparties []counterpartyYAML `yaml:"counterparties"`
}

// Tables is an immutable lookup over counterparties.
type Tables struct {
	byName         map[string]Counterparty
	defaultDueDays int
}

// Load reads tables from a YAML file.
func Load(path string) (*Tables, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read reference data: %w", err)
	}
	return Parse(b)
}

// Parse decodes YAML reference data.
func Parse(b []byte) (*Tables, error) {
	var f fileYAML
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse reference data: %w", err)
	}

	t := &Tables{byName: make(map[string]Counterparty, len(f.Counterparties)), defaultDueDays: f.DefaultDueDays}
	for i, c := range f.Counterparties {
		if strings.TrimSpace(c.Name) == "" {
			return nil, fmt.Errorf("reference data: counterparty %d has no name", i+1)
		}
		rate := types.MustMoney("1")
		if c.ExchangeRate != "" {
			r, err := types.ParseMoney(c.ExchangeRate)
			if err != nil {
				return nil, fmt.Errorf("reference data: %s: %w", c.Name, err)
			}
			if !r.IsPositive() {
				return nil, fmt.Errorf("reference data: %s: exchange rate must be positive", c.Name)
			}
			rate = r
		}
		key := normalize(c.Name)
		if _, dup := t.byName[key]; dup {
			return nil, fmt.Errorf("reference data: duplicate counterparty %q", c.Name)
		}
		t.byName[key] = Counterparty{
			Name:         strings.TrimSpace(c.Name),
			Currency:     strings.ToUpper(strings.TrimSpace(c.Currency)),
			ExchangeRate: rate,
			DueDays:      c.DueDays,
		}
	}
	return t, nil
}

// Empty returns tables with no counterparties.
func Empty() *Tables {
	return &Tables{byName: map[string]Counterparty{}}
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// Lookup finds a counterparty by name, ignoring case and spacing.
func (t *Tables) Lookup(name string) (Counterparty, bool) {
	c, ok := t.byName[normalize(name)]
	return c, ok
}

// Rate returns the IDR exchange rate for amounts in currency booked with
// counterparty. IDR is always 1.
func (t *Tables) Rate(counterparty, currency string) (types.Money, error) {
	if strings.EqualFold(currency, "IDR") {
		return types.MustMoney("1"), nil
	}
	c, ok := t.Lookup(counterparty)
	if !ok {
		return types.Zero(), fmt.Errorf("no exchange rate for counterparty %q", counterparty)
	}
	if c.Currency != "" && !strings.EqualFold(c.Currency, currency) {
		return types.Zero(), fmt.Errorf("counterparty %q settles in %s, not %s", counterparty, c.Currency, currency)
	}
	return c.ExchangeRate, nil
}

// DueDate is the end of period plus the counterparty's payment term.
func (t *Tables) DueDate(counterparty string, period types.Period) time.Time {
	days := t.defaultDueDays
	if c, ok := t.Lookup(counterparty); ok && c.DueDays > 0 {
		days = c.DueDays
	}
	return period.End(time.UTC).AddDate(0, 0, days)
}

// Len returns the number of counterparties.
func (t *Tables) Len() int { return len(t.byName) }
