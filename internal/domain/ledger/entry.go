// Package ledger implements the production log: an append-only, per-period
// ledger of reinsurance vouchers with sequence allocation and cancellation.
package ledger

import (
	"time"

	"prodlog/internal/core/types"
)

// Status of a ledger entry.
type Status string

const (
	StatusPosted   Status = "POSTED"
	StatusCanceled Status = "CANCELED"
)

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	return s == StatusPosted || s == StatusCanceled
}

// BizTypeCancel is the business type of reversing entries.
const BizTypeCancel = "Cancel"

// Column headers, in ledger order.
const (
	ColSeqNo         = "Seq No"
	ColDepartment    = "Department"
	ColBizType       = "Biz Type"
	ColVoucherNo     = "Voucher No"
	ColAccountWith   = "Account With"
	ColCedantCompany = "Cedant Company"
	ColPIC           = "PIC"
	ColProduct       = "Product"
	ColCBY           = "CBY"
	ColCBM           = "CBM"
	ColOBY           = "OBY"
	ColOBM           = "OBM"
	ColKOB           = "KOB"
	ColCOB           = "COB"
	ColMOP           = "MOP"
	ColCurr          = "Curr"

	ColTotalContribution     = "Total Contribution"
	ColCommission            = "Commission"
	ColOveriding             = "Overiding"
	ColTotalCommission       = "Total Commission"
	ColGrossPremiumIncome    = "Gross Premium Income"
	ColTabarru               = "Tabarru"
	ColUjrah                 = "Ujrah"
	ColClaim                 = "Claim"
	ColBalance               = "Balance"
	ColRateExchange          = "Rate Exchange"
	ColKontribusiIDR         = "Kontribusi (IDR)"
	ColCommissionIDR         = "Commission (IDR)"
	ColOveridingIDR          = "Overiding (IDR)"
	ColTotalCommissionIDR    = "Total Commission (IDR)"
	ColGrossPremiumIncomeIDR = "Gross Premium Income (IDR)"
	ColTabarruIDR            = "Tabarru (IDR)"
	ColUjrahIDR              = "Ujrah (IDR)"
	ColClaimIDR              = "Claim (IDR)"

	ColDueDate       = "DUE DATE"
	ColRemarks       = "REMARKS"
	ColStatus        = "STATUS"
	ColCreatedAt     = "CREATED_AT"
	ColCreatedBy     = "CREATED_BY"
	ColCancelledAt   = "CANCELLED_AT"
	ColCancelledBy   = "CANCELLED_BY"
	ColCancelReason  = "CANCEL_REASON"
	ColCancelOfVIN   = "CANCEL_OF_VIN"
	ColCanceledByVIN = "CANCELED_BY_VIN"
)

// Columns is the fixed column order of the ledger file.
var Columns = []string{
	ColSeqNo, ColDepartment, ColBizType, ColVoucherNo, ColAccountWith,
	ColCedantCompany, ColPIC, ColProduct, ColCBY, ColCBM, ColOBY, ColOBM,
	ColKOB, ColCOB, ColMOP, ColCurr,
	ColTotalContribution, ColCommission, ColOveriding, ColTotalCommission,
	ColGrossPremiumIncome, ColTabarru, ColUjrah, ColClaim, ColBalance,
	ColRateExchange,
	ColKontribusiIDR, ColCommissionIDR, ColOveridingIDR, ColTotalCommissionIDR,
	ColGrossPremiumIncomeIDR, ColTabarruIDR, ColUjrahIDR, ColClaimIDR,
	ColDueDate, ColRemarks, ColStatus, ColCreatedAt, ColCreatedBy,
	ColCancelledAt, ColCancelledBy, ColCancelReason, ColCancelOfVIN, ColCanceledByVIN,
}

// RequiredColumns must be present in any ledger file we load.
var RequiredColumns = []string{ColSeqNo, ColVoucherNo, ColStatus}

// AmountColumns are the monetary columns negated by a reversal.
// Rate Exchange is a rate, not an amount, and is copied as is.
var AmountColumns = []string{
	ColTotalContribution, ColCommission, ColOveriding, ColTotalCommission,
	ColGrossPremiumIncome, ColTabarru, ColUjrah, ColClaim, ColBalance,
	ColKontribusiIDR, ColCommissionIDR, ColOveridingIDR, ColTotalCommissionIDR,
	ColGrossPremiumIncomeIDR, ColTabarruIDR, ColUjrahIDR, ColClaimIDR,
}

// Amounts holds the monetary fields of an entry.
type Amounts struct {
	TotalContribution  types.Money `json:"total_contribution"`
	Commission         types.Money `json:"commission"`
	Overiding          types.Money `json:"overiding"`
	TotalCommission    types.Money `json:"total_commission"`
	GrossPremiumIncome types.Money `json:"gross_premium_income"`
	Tabarru            types.Money `json:"tabarru"`
	Ujrah              types.Money `json:"ujrah"`
	Claim              types.Money `json:"claim"`
	Balance            types.Money `json:"balance"`

	KontribusiIDR         types.Money `json:"kontribusi_idr"`
	CommissionIDR         types.Money `json:"commission_idr"`
	OveridingIDR          types.Money `json:"overiding_idr"`
	TotalCommissionIDR    types.Money `json:"total_commission_idr"`
	GrossPremiumIncomeIDR types.Money `json:"gross_premium_income_idr"`
	TabarruIDR            types.Money `json:"tabarru_idr"`
	UjrahIDR              types.Money `json:"ujrah_idr"`
	ClaimIDR              types.Money `json:"claim_idr"`
}

// Ref returns a pointer to the field backing column col, or nil.
func (a *Amounts) Ref(col string) *types.Money {
	switch col {
	case ColTotalContribution:
		return &a.TotalContribution
	case ColCommission:
		return &a.Commission
	case ColOveriding:
		return &a.Overiding
	case ColTotalCommission:
		return &a.TotalCommission
	case ColGrossPremiumIncome:
		return &a.GrossPremiumIncome
	case ColTabarru:
		return &a.Tabarru
	case ColUjrah:
		return &a.Ujrah
	case ColClaim:
		return &a.Claim
	case ColBalance:
		return &a.Balance
	case ColKontribusiIDR:
		return &a.KontribusiIDR
	case ColCommissionIDR:
		return &a.CommissionIDR
	case ColOveridingIDR:
		return &a.OveridingIDR
	case ColTotalCommissionIDR:
		return &a.TotalCommissionIDR
	case ColGrossPremiumIncomeIDR:
		return &a.GrossPremiumIncomeIDR
	case ColTabarruIDR:
		return &a.TabarruIDR
	case ColUjrahIDR:
		return &a.UjrahIDR
	case ColClaimIDR:
		return &a.ClaimIDR
	}
	return nil
}

// Negated returns a copy with every amount multiplied by -1.
func (a Amounts) Negated() Amounts {
	out := a
	for _, col := range AmountColumns {
		p := out.Ref(col)
		*p = p.Neg()
	}
	return out
}

// Equal compares all amounts numerically.
func (a Amounts) Equal(b Amounts) bool {
	for _, col := range AmountColumns {
		if !a.Ref(col).Equal(*b.Ref(col)) {
			return false
		}
	}
	return true
}

// Entry is one row of the production log.
type Entry struct {
	SeqNo         int64  `json:"seq_no"`
	Department    string `json:"department"`
	BizType       string `json:"biz_type"`
	VoucherNo     string `json:"voucher_no"`
	AccountWith   string `json:"account_with"`
	CedantCompany string `json:"cedant_company"`
	PIC           string `json:"pic"`
	Product       string `json:"product"`
	CBY           string `json:"cby"`
	CBM           string `json:"cbm"`
	OBY           string `json:"oby"`
	OBM           string `json:"obm"`
	KOB           string `json:"kob"`
	COB           string `json:"cob"`
	MOP           string `json:"mop"`
	Curr          string `json:"curr"`

	Amounts
	RateExchange types.Money `json:"rate_exchange"`

	DueDate       time.Time `json:"due_date,omitzero"`
	Remarks       string    `json:"remarks"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	CreatedBy     string    `json:"created_by"`
	CancelledAt   time.Time `json:"cancelled_at,omitzero"`
	CancelledBy   string    `json:"cancelled_by,omitempty"`
	CancelReason  string    `json:"cancel_reason,omitempty"`
	CancelOfVIN   string    `json:"cancel_of_vin,omitempty"`
	CanceledByVIN string    `json:"canceled_by_vin,omitempty"`
}

// TextRef returns a pointer to the string field backing column col, or nil.
func (e *Entry) TextRef(col string) *string {
	switch col {
	case ColDepartment:
		return &e.Department
	case ColBizType:
		return &e.BizType
	case ColVoucherNo:
		return &e.VoucherNo
	case ColAccountWith:
		return &e.AccountWith
	case ColCedantCompany:
		return &e.CedantCompany
	case ColPIC:
		return &e.PIC
	case ColProduct:
		return &e.Product
	case ColCBY:
		return &e.CBY
	case ColCBM:
		return &e.CBM
	case ColOBY:
		return &e.OBY
	case ColOBM:
		return &e.OBM
	case ColKOB:
		return &e.KOB
	case ColCOB:
		return &e.COB
	case ColMOP:
		return &e.MOP
	case ColCurr:
		return &e.Curr
	case ColRemarks:
		return &e.Remarks
	case ColCreatedBy:
		return &e.CreatedBy
	case ColCancelledBy:
		return &e.CancelledBy
	case ColCancelReason:
		return &e.CancelReason
	case ColCancelOfVIN:
		return &e.CancelOfVIN
	case ColCanceledByVIN:
		return &e.CanceledByVIN
	}
	return nil
}

// IsReversal reports whether the entry offsets another one.
func (e *Entry) IsReversal() bool {
	return e.CancelOfVIN != ""
}

// IsCancellable reports whether the entry can still be cancelled.
func (e *Entry) IsCancellable() bool {
	return e.Status == StatusPosted && !e.IsReversal()
}
