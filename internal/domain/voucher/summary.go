package voucher

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
	"prodlog/internal/domain/ledger"
)

// Rates supplies counterparty reference data. Implemented by refdata.Tables.
type Rates interface {
	Rate(counterparty, currency string) (types.Money, error)
	DueDate(counterparty string, period types.Period) time.Time
}

// Summary is the monetary part of a ledger entry derived from an upload.
type Summary struct {
	ledger.Amounts
	RateExchange types.Money
	Currency     string
	DueDate      time.Time
	Rows         int
}

// Summarize totals an upload. Amounts are in the upload currency and
// converted to IDR with the counterparty's exchange rate. Claims are booked
// in IDR at rate 1.
func Summarize(s *Sheet, bizType, counterparty string, period types.Period, rates Rates) (Summary, error) {
	sum := Summary{Rows: s.Len(), Amounts: zeroAmounts()}

	total := func(col string) (types.Money, error) {
		if !s.Has(col) {
			return types.Zero(), nil
		}
		v, err := s.Sum(col)
		if err != nil {
			return types.Zero(), apperror.NewValidation(fmt.Sprintf("Column %s must be numeric", col)).WithCause(err)
		}
		return v, nil
	}

	var err error
	if IsClaim(bizType) {
		sum.Currency = "IDR"
		if sum.Claim, err = total("reins claim idr"); err != nil {
			return Summary{}, err
		}
	} else {
		sum.Currency = strings.ToUpper(s.Value(0, "ccy code"))
		for col, dst := range map[string]*types.Money{
			"reins total premium": &sum.TotalContribution,
			"reins comm":          &sum.Commission,
			"reins overriding":    &sum.Overiding,
			"reins total comm":    &sum.TotalCommission,
			"reins tabarru":       &sum.Tabarru,
			"reins ujrah":         &sum.Ujrah,
		} {
			if *dst, err = total(col); err != nil {
				return Summary{}, err
			}
		}
	}
	if sum.Currency == "" {
		return Summary{}, apperror.NewValidation("Upload has no currency")
	}

	sum.GrossPremiumIncome = sum.TotalContribution.Sub(sum.TotalCommission)
	sum.Balance = sum.GrossPremiumIncome.Sub(sum.Claim)

	rate, err := rates.Rate(counterparty, sum.Currency)
	if err != nil {
		return Summary{}, apperror.NewValidation(err.Error()).WithDetail("account_with", counterparty)
	}
	sum.RateExchange = rate
	sum.KontribusiIDR = sum.TotalContribution.Mul(rate)
	sum.CommissionIDR = sum.Commission.Mul(rate)
	sum.OveridingIDR = sum.Overiding.Mul(rate)
	sum.TotalCommissionIDR = sum.TotalCommission.Mul(rate)
	sum.GrossPremiumIncomeIDR = sum.GrossPremiumIncome.Mul(rate)
	sum.TabarruIDR = sum.Tabarru.Mul(rate)
	sum.UjrahIDR = sum.Ujrah.Mul(rate)
	sum.ClaimIDR = sum.Claim.Mul(rate)

	sum.DueDate = rates.DueDate(counterparty, period)
	return sum, nil
}

func zeroAmounts() ledger.Amounts {
	var a ledger.Amounts
	for _, col := range ledger.AmountColumns {
		*a.Ref(col) = types.Zero()
	}
	return a
}

// Header carries the classification fields the user enters with an upload.
type Header struct {
	Department    string `form:"department" json:"department"`
	BizType       string `form:"biz_type" json:"biz_type"`
	AccountWith   string `form:"account_with" json:"account_with"`
	CedantCompany string `form:"cedant_company" json:"cedant_company"`
	PIC           string `form:"pic" json:"pic"`
	Product       string `form:"product" json:"product"`
	CBY           string `form:"cby" json:"cby"`
	CBM           string `form:"cbm" json:"cbm"`
	OBY           string `form:"oby" json:"oby"`
	OBM           string `form:"obm" json:"obm"`
	KOB           string `form:"kob" json:"kob"`
	COB           string `form:"cob" json:"cob"`
	MOP           string `form:"mop" json:"mop"`
	Remarks       string `form:"remarks" json:"remarks"`
}

// Validate checks the mandatory header fields.
func (h Header) Validate() error {
	var missing []string
	for name, v := range map[string]string{
		"biz_type":       h.BizType,
		"cedant_company": h.CedantCompany,
		"product":        h.Product,
		"remarks":        h.Remarks,
	} {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		slices.Sort(missing)
		return apperror.NewValidation("Missing required fields").WithDetail("fields", missing)
	}
	if !ValidBizType(strings.TrimSpace(h.BizType)) {
		return apperror.NewValidation(fmt.Sprintf("Invalid business type %q", h.BizType))
	}
	return nil
}

// BuildEntry returns a builder that stamps the allocation onto an entry made
// from h and sum.
func BuildEntry(h Header, sum Summary) ledger.BuildFunc {
	return func(a ledger.Allocation) (ledger.Entry, error) {
		return ledger.Entry{
			SeqNo:         a.SeqNo,
			VoucherNo:     a.VoucherNo,
			Department:    strings.TrimSpace(h.Department),
			BizType:       strings.TrimSpace(h.BizType),
			AccountWith:   strings.TrimSpace(h.AccountWith),
			CedantCompany: strings.TrimSpace(h.CedantCompany),
			PIC:           strings.TrimSpace(h.PIC),
			Product:       strings.TrimSpace(h.Product),
			CBY:           h.CBY,
			CBM:           h.CBM,
			OBY:           h.OBY,
			OBM:           h.OBM,
			KOB:           h.KOB,
			COB:           h.COB,
			MOP:           h.MOP,
			Curr:          sum.Currency,
			Amounts:       sum.Amounts,
			RateExchange:  sum.RateExchange,
			DueDate:       sum.DueDate,
			Remarks:       strings.TrimSpace(h.Remarks),
			Status:        ledger.StatusPosted,
		}, nil
	}
}
