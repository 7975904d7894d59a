package ledger

import (
	"fmt"
	"slices"

	"prodlog/internal/core/apperror"
	"prodlog/internal/core/types"
)

// Ledger is the ordered list of entries of one period.
type Ledger struct {
	Period  types.Period
	Entries []Entry
}

// New returns an empty ledger for period.
func New(period types.Period) *Ledger {
	return &Ledger{Period: period}
}

// Len returns the number of entries.
func (l *Ledger) Len() int { return len(l.Entries) }

// MaxSeq returns the highest sequence number, or 0 for an empty ledger.
func (l *Ledger) MaxSeq() int64 {
	var m int64
	for i := range l.Entries {
		if l.Entries[i].SeqNo > m {
			m = l.Entries[i].SeqNo
		}
	}
	return m
}

// Append adds e at the end. Its sequence must exceed every existing one.
func (l *Ledger) Append(e Entry) error {
	if e.SeqNo <= 0 {
		return apperror.NewDataIntegrity(fmt.Sprintf("entry %s has non-positive sequence %d", e.VoucherNo, e.SeqNo))
	}
	if hw := l.MaxSeq(); e.SeqNo <= hw {
		return apperror.NewDataIntegrity(
			fmt.Sprintf("sequence %d does not follow high-water mark %d", e.SeqNo, hw)).
			WithDetail("period", l.Period.Key())
	}
	if !e.Status.IsValid() {
		return apperror.NewDataIntegrity(fmt.Sprintf("entry %s has invalid status %q", e.VoucherNo, e.Status))
	}
	l.Entries = append(l.Entries, e)
	return nil
}

// Find returns the index of the entry with voucherNo, or -1.
func (l *Ledger) Find(voucherNo string) int {
	return slices.IndexFunc(l.Entries, func(e Entry) bool { return e.VoucherNo == voucherNo })
}

// FindPosted returns the index of the cancellable entry with voucherNo,
// or a NOT_FOUND error if it is absent or already cancelled.
func (l *Ledger) FindPosted(voucherNo string) (int, error) {
	i := l.Find(voucherNo)
	if i < 0 || !l.Entries[i].IsCancellable() {
		return -1, apperror.NewNotFound("posted voucher", voucherNo).
			WithDetail("period", l.Period.Key())
	}
	return i, nil
}

// Filter returns the entries with the given status. An empty status returns all.
func (l *Ledger) Filter(status Status) []Entry {
	if status == "" {
		return slices.Clone(l.Entries)
	}
	out := make([]Entry, 0, len(l.Entries))
	for _, e := range l.Entries {
		if e.Status == status {
			out = append(out, e)
		}
	}
	return out
}

// Clone returns a deep copy safe to mutate.
func (l *Ledger) Clone() *Ledger {
	return &Ledger{Period: l.Period, Entries: slices.Clone(l.Entries)}
}

// checkSequences rejects snapshots the allocator cannot reason about.
func (l *Ledger) checkSequences() error {
	seen := make(map[int64]struct{}, len(l.Entries))
	for i, e := range l.Entries {
		if e.SeqNo <= 0 {
			return apperror.NewDataIntegrity(
				fmt.Sprintf("ledger %s row %d has non-positive sequence %d", l.Period.Key(), i+2, e.SeqNo))
		}
		if _, dup := seen[e.SeqNo]; dup {
			return apperror.NewDataIntegrity(
				fmt.Sprintf("ledger %s has duplicate sequence %d", l.Period.Key(), e.SeqNo))
		}
		seen[e.SeqNo] = struct{}{}
	}
	return nil
}

// Problem is one finding of Verify.
type Problem struct {
	Row       int    `json:"row"`
	VoucherNo string `json:"voucher_no"`
	Message   string `json:"message"`
}

// Verify checks the ledger invariants and returns every violation found.
// Row numbers are 1-based spreadsheet rows (the header is row 1).
func (l *Ledger) Verify() []Problem {
	var problems []Problem
	add := func(i int, e Entry, format string, args ...any) {
		problems = append(problems, Problem{Row: i + 2, VoucherNo: e.VoucherNo, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[int64]int, len(l.Entries))
	vouchers := make(map[string]int, len(l.Entries))
	var prev int64
	for i, e := range l.Entries {
		if e.SeqNo <= 0 {
			add(i, e, "non-positive sequence %d", e.SeqNo)
		} else if j, dup := seen[e.SeqNo]; dup {
			add(i, e, "sequence %d already used at row %d", e.SeqNo, j+2)
		} else if e.SeqNo <= prev {
			add(i, e, "sequence %d is not increasing (previous %d)", e.SeqNo, prev)
		}
		seen[e.SeqNo] = i
		if e.SeqNo > prev {
			prev = e.SeqNo
		}

		if e.VoucherNo == "" {
			add(i, e, "missing voucher number")
		} else if j, dup := vouchers[e.VoucherNo]; dup {
			add(i, e, "voucher number already used at row %d", j+2)
		}
		vouchers[e.VoucherNo] = i

		if !e.Status.IsValid() {
			add(i, e, "invalid status %q", e.Status)
		}
		if e.IsReversal() && e.Status != StatusCanceled {
			add(i, e, "reversal of %s must have status %s", e.CancelOfVIN, StatusCanceled)
		}
	}

	// Back-references that stay within this period.
	for i, e := range l.Entries {
		if !e.IsReversal() {
			continue
		}
		if j, ok := vouchers[e.CancelOfVIN]; ok && l.Entries[j].Status != StatusCanceled {
			add(i, e, "reverses %s which is still %s", e.CancelOfVIN, l.Entries[j].Status)
		}
	}
	for i, e := range l.Entries {
		if e.CanceledByVIN == "" {
			continue
		}
		if e.Status != StatusCanceled {
			add(i, e, "has reversal %s but status %s", e.CanceledByVIN, e.Status)
		}
	}
	return problems
}
