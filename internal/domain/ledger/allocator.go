package ledger

import (
	"prodlog/internal/core/numerator"
	"prodlog/internal/core/types"
)

// Allocation is the identity assigned to a new entry.
type Allocation struct {
	Period    types.Period `json:"-"`
	SeqNo     int64        `json:"seq_no"`
	VoucherNo string       `json:"voucher_no"`
}

// Allocate returns the next sequence and document number for l.
//
// The next sequence is max(seq)+1, or 1 for an empty ledger. Gaps left by
// failed posts are tolerated; reuse is impossible while the caller holds the
// period lock and allocates against a freshly reloaded snapshot.
func Allocate(l *Ledger, cfg numerator.Config) (Allocation, error) {
	if err := l.checkSequences(); err != nil {
		return Allocation{}, err
	}
	seq := l.MaxSeq() + 1
	return Allocation{
		Period:    l.Period,
		SeqNo:     seq,
		VoucherNo: numerator.Format(cfg, l.Period, seq),
	}, nil
}
