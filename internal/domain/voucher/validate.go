package voucher

import (
	"fmt"
	"regexp"
	"slices"
	"strings"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
)

// Business types accepted on upload.
const (
	BizKontribusi = "Kontribusi"
	BizClaim      = "Claim"
	BizRefund     = "Refund"
	BizAlteration = "Alteration"
	BizRetur      = "Retur"
	BizRevise     = "Revise"
	BizBatal      = "Batal"
)

// BizTypes lists every accepted business type.
var BizTypes = []string{BizKontribusi, BizClaim, BizRefund, BizAlteration, BizRetur, BizRevise, BizBatal}

// IsClaim reports whether bizType uses the claim layout.
func IsClaim(bizType string) bool { return bizType == BizClaim }

// ValidBizType reports whether bizType is accepted.
func ValidBizType(bizType string) bool { return slices.Contains(BizTypes, bizType) }

// Column layouts.
var (
	adminRequired = []string{
		"certificate no", "insured full name", "gender", "pol holder no",
		"policy holder", "birth date", "age at", "issue date", "term year",
		"term month", "expired date", "medical", "ced product code",
		"ced coverage code", "ccy code", "sum insured", "sum at risk",
		"reins sum insured", "reins sum at risk", "pay period type",
		"reins total premium", "reins total comm", "reins tabarru",
		"reins ujrah", "reins nett premium", "valuation date",
	}
	claimRequired = []string{
		"bookyear", "bookmonth", "cedbookyear", "cedbookmonth", "company name",
		"policy holder no", "policy holder", "certificate no", "insured name",
		"birth date", "age", "gender", "sum insured idr", "sum reinsured idr",
		"medicalcategory", "product", "coverage code", "classofbusiness",
		"payperiodtype", "issue date", "term year", "term month",
		"end date policy", "claim date", "claim register date", "payment date",
		"currency", "exchangerate", "amount of claim idr", "reins claim idr",
		"marein share idr", "cause of claim",
	}

	adminDates = []string{"birth date", "issue date", "expired date", "valuation date"}
	claimDates = []string{"birth date", "issue date", "end date policy", "claim date"}

	adminNumeric = []string{
		"sum insured", "sum at risk", "reins sum insured", "reins sum at risk",
		"reins total premium", "reins total comm", "reins tabarru",
		"reins ujrah", "reins nett premium",
	}
	claimNumeric = []string{
		"sum insured idr", "sum reinsured idr", "amount of claim idr",
		"reins claim idr", "marein share idr",
	}

	// Premium columns that must be negative on refund-like uploads.
	negativePremium = []string{
		"reins total premium", "reins total comm", "reins tabarru",
		"reins ujrah", "reins nett premium",
	}

	adminIntegers = []string{"age at", "term year", "term month"}
	claimIntegers = []string{"term year", "term month", "bookyear", "bookmonth", "cedbookyear", "cedbookmonth", "age"}
)

var currencyPattern = regexp.MustCompile(`^[A-Z]{3}$`)

var tolerance = types.MustMoney("0.01")

// Result is the outcome of validating one upload.
type Result struct {
	Errors []string `json:"errors"`
}

// OK reports whether the upload passed.
func (r Result) OK() bool { return len(r.Errors) == 0 }

// Err converts a failed result into a VALIDATION_ERROR carrying every message.
func (r Result) Err() error {
	if r.OK() {
		return nil
	}
	return apperror.NewValidation("Voucher validation failed: " + strings.Join(r.Errors, "; ")).
		WithDetail("errors", r.Errors)
}

func (r *Result) addf(format string, args ...any) {
	r.Errors = append(r.Errors, fmt.Sprintf(format, args...))
}

// Validator checks an upload before it is posted.
type Validator interface {
	Validate(s *Sheet, bizType string) Result
}

// RuleValidator applies the reinsurance upload rules.
type RuleValidator struct{}

var _ Validator = RuleValidator{}

// Validate runs every rule and collects all messages. A wrong business type
// or missing columns stop validation early since nothing else can be checked.
func (RuleValidator) Validate(s *Sheet, bizType string) Result {
	var res Result
	bizType = strings.TrimSpace(bizType)
	if !ValidBizType(bizType) {
		res.addf("Invalid business type %q", bizType)
		return res
	}
	claim := IsClaim(bizType)

	required := adminRequired
	if claim {
		required = claimRequired
	}
	var missing []string
	for _, col := range required {
		if !s.Has(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		res.addf("Missing columns: %s", strings.Join(missing, ", "))
		return res
	}
	if s.Len() == 0 {
		res.addf("File has no data rows")
		return res
	}

	if claim {
		validateDates(s, claimDates, &res)
		validateNumeric(s, claimNumeric, bizType, &res)
		validateIntegers(s, claimIntegers, &res)
		validateTerm(s, &res)
		validateEnum(s, "gender", []string{"M", "F", "U"}, &res)
		validateEnum(s, "medicalcategory", []string{"M", "N"}, &res)
		validateCurrency(s, "currency", &res)
		validateAfter(s, "end date policy", "issue date", &res)
		// Claim amount limits against reins/marein share are not enforced
		// until the intended direction of the comparison is confirmed.
		return res
	}

	validateDates(s, adminDates, &res)
	validateNumeric(s, adminNumeric, bizType, &res)
	validateIntegers(s, adminIntegers, &res)
	validateTerm(s, &res)
	validateEnum(s, "gender", []string{"M", "F", "U"}, &res)
	validateEnum(s, "medical", []string{"M", "N"}, &res)
	validateCurrency(s, "ccy code", &res)
	validateAfter(s, "expired date", "issue date", &res)
	validateNotAbove(s, "reins sum insured", "sum insured", &res)
	validateNotAbove(s, "reins sum at risk", "sum at risk", &res)
	validateConsistency(s, &res)
	return res
}

func validateDates(s *Sheet, cols []string, res *Result) {
	for _, col := range cols {
		for r := range s.Rows {
			if _, ok := ParseDate(s.Value(r, col)); !ok {
				res.addf("Column %s must be a date (row %d)", col, r+2)
				break
			}
		}
	}
}

func validateNumeric(s *Sheet, cols []string, bizType string, res *Result) {
	for _, col := range cols {
		var negative, positive, invalid bool
		for r := range s.Rows {
			raw := s.Value(r, col)
			if raw == "" {
				invalid = true
				break
			}
			v, err := s.Money(r, col)
			if err != nil {
				invalid = true
				break
			}
			negative = negative || v.IsNegative()
			positive = positive || v.IsPositive()
		}
		if invalid {
			res.addf("Column %s must be numeric", col)
			continue
		}

		switch bizType {
		case BizKontribusi, BizClaim:
			if negative {
				res.addf("Column %s must not be negative (%s)", col, bizType)
			}
		case BizRefund, BizRetur, BizBatal:
			if positive && slices.Contains(negativePremium, col) {
				res.addf("Column %s must be negative (%s)", col, bizType)
			}
		}
	}
}

func validateIntegers(s *Sheet, cols []string, res *Result) {
	for _, col := range cols {
		for r := range s.Rows {
			v, err := types.NewMoneyFromString(s.Value(r, col))
			if err != nil {
				res.addf("Column %s must be an integer >= 0", col)
				break
			}
			if !v.IsInteger() {
				res.addf("Column %s must not contain decimals", col)
				break
			}
			if v.IsNegative() {
				res.addf("Column %s must be >= 0", col)
				break
			}
		}
	}
}

func validateTerm(s *Sheet, res *Result) {
	for r := range s.Rows {
		y, errY := types.ParseMoney(s.Value(r, "term year"))
		m, errM := types.ParseMoney(s.Value(r, "term month"))
		if errY == nil && errM == nil && y.IsZero() && m.IsZero() {
			res.addf("term year and term month must not both be 0")
			return
		}
	}
}

func validateEnum(s *Sheet, col string, allowed []string, res *Result) {
	for r := range s.Rows {
		if !slices.Contains(allowed, strings.ToUpper(s.Value(r, col))) {
			res.addf("Column %s only allows %s", col, strings.Join(allowed, ", "))
			return
		}
	}
}

func validateCurrency(s *Sheet, col string, res *Result) {
	for r := range s.Rows {
		if !currencyPattern.MatchString(s.Value(r, col)) {
			res.addf("Column %s must be 3 upper-case letters (e.g. IDR, USD)", col)
			return
		}
	}
}

func validateAfter(s *Sheet, later, earlier string, res *Result) {
	for r := range s.Rows {
		l, okL := ParseDate(s.Value(r, later))
		e, okE := ParseDate(s.Value(r, earlier))
		if !okL || !okE {
			continue // already reported by validateDates
		}
		if !l.After(e) {
			res.addf("%s must be after %s", later, earlier)
			return
		}
	}
}

func validateNotAbove(s *Sheet, col, limit string, res *Result) {
	for r := range s.Rows {
		v, errV := s.Money(r, col)
		l, errL := s.Money(r, limit)
		if errV != nil || errL != nil {
			continue
		}
		if v.GreaterThan(l) {
			res.addf("%s must not exceed %s", col, limit)
			return
		}
	}
}

func validateConsistency(s *Sheet, res *Result) {
	var nettBad, tabBad bool
	for r := range s.Rows {
		premium, e1 := s.Money(r, "reins total premium")
		comm, e2 := s.Money(r, "reins total comm")
		nett, e3 := s.Money(r, "reins nett premium")
		tabarru, e4 := s.Money(r, "reins tabarru")
		ujrah, e5 := s.Money(r, "reins ujrah")
		if e1 != nil || e2 != nil || e3 != nil || e4 != nil || e5 != nil {
			continue
		}
		if !nettBad && !types.WithinTolerance(premium.Sub(comm), nett, tolerance) {
			nettBad = true
		}
		if !tabBad && !types.WithinTolerance(tabarru.Add(ujrah), nett, tolerance) {
			tabBad = true
		}
	}
	if nettBad {
		res.addf("reins nett premium must equal reins total premium - reins total comm")
	}
	if tabBad {
		res.addf("reins tabarru + reins ujrah must equal reins nett premium")
	}
}
