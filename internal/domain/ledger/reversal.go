package ledger

import (
	"fmt"
	"strings"
	"time"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/numerator"
)

// Cancellation describes who cancels a voucher and why.
type Cancellation struct {
	VoucherNo string
	Reason    string
	User      string
	At        time.Time
}

func (c Cancellation) validate() error {
	if strings.TrimSpace(c.VoucherNo) == "" {
		return apperror.NewValidation("Voucher number is required")
	}
	if strings.TrimSpace(c.Reason) == "" {
		return apperror.NewValidation("Cancellation reason is required")
	}
	return nil
}

// MarkCanceled flips the posted entry c.VoucherNo to CANCELED in place and
// records who cancelled it. reversalNo is the voucher of the offsetting row,
// which may live in a later period. Returns a copy of the updated entry.
func MarkCanceled(l *Ledger, c Cancellation, reversalNo string) (Entry, error) {
	if err := c.validate(); err != nil {
		return Entry{}, err
	}
	i, err := l.FindPosted(c.VoucherNo)
	if err != nil {
		return Entry{}, err
	}

	e := &l.Entries[i]
	e.Status = StatusCanceled
	e.CancelledAt = c.At
	e.CancelledBy = c.User
	e.CancelReason = c.Reason
	e.CanceledByVIN = reversalNo
	return *e, nil
}

// BuildReversal derives the offsetting entry for original. Classification
// fields are copied, every amount is negated and the row points back at the
// original voucher.
func BuildReversal(original Entry, alloc Allocation, c Cancellation) Entry {
	r := original
	r.SeqNo = alloc.SeqNo
	r.VoucherNo = alloc.VoucherNo
	r.BizType = BizTypeCancel
	r.Amounts = original.Amounts.Negated()
	r.Status = StatusCanceled
	r.Remarks = fmt.Sprintf("Cancel voucher %s", original.VoucherNo)
	r.CreatedAt = c.At
	r.CreatedBy = c.User
	r.CancelledAt = time.Time{}
	r.CancelledBy = ""
	r.CancelReason = c.Reason
	r.CancelOfVIN = original.VoucherNo
	r.CanceledByVIN = ""
	return r
}

// Cancel reverses c.VoucherNo within a single ledger: the original becomes
// CANCELED and a reversing row is appended with the next free sequence.
// Cancelling an entry twice fails with NOT_FOUND.
func Cancel(l *Ledger, c Cancellation, cfg numerator.Config) (Entry, error) {
	if err := c.validate(); err != nil {
		return Entry{}, err
	}
	if _, err := l.FindPosted(c.VoucherNo); err != nil {
		return Entry{}, err
	}

	// Allocation happens against the ledger as it stands after the status
	// flip; the flip does not touch sequences so the result is the same.
	alloc, err := Allocate(l, cfg)
	if err != nil {
		return Entry{}, err
	}

	original, err := MarkCanceled(l, c, alloc.VoucherNo)
	if err != nil {
		return Entry{}, err
	}

	reversal := BuildReversal(original, alloc, c)
	if err := l.Append(reversal); err != nil {
		return Entry{}, err
	}
	return reversal, nil
}
